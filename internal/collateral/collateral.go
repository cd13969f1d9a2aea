// Package collateral computes collateral requirements for loans.
//
// The required percentage starts from the token's base collateralization
// and is scaled by the borrower's chronotype and risk score, then clamped
// to the protocol band. All arithmetic is integer basis points over
// 6-decimal amounts.
package collateral

import (
	"fmt"
	"math/big"

	"github.com/chronofi/chronolend/internal/chronotype"
	"github.com/chronofi/chronolend/internal/fixedpoint"
	"github.com/chronofi/chronolend/internal/profile"
	"github.com/chronofi/chronolend/internal/tokens"
)

// Chronotype collateral multipliers, in basis points of the base
// requirement. Early risers historically repay earliest, so they post
// less; late types post more.
const (
	earlyCollateralBps        = 9500
	intermediateCollateralBps = 10000
	lateCollateralBps         = 11000
)

// Risk score collateral multipliers.
const (
	lowRiskCollateralBps  = 9800
	highRiskCollateralBps = 11500

	lowRiskThreshold  = 300
	highRiskThreshold = 700
)

// Requirement is the collateral calculation for one prospective loan,
// with the factor breakdown retained for terms previews.
type Requirement struct {
	TokenType     tokens.Type `json:"tokenType"`
	BorrowValue   *big.Int    `json:"borrowValue"`
	Collateral    *big.Int    `json:"collateral"`
	PctBps        uint64      `json:"pctBps"`
	TokenBps      uint64      `json:"tokenBps"`
	ChronotypeBps uint64      `json:"chronotypeBps"`
	RiskBps       uint64      `json:"riskBps"`
}

// Engine computes collateral requirements against a token registry and
// the protocol's clamp band.
type Engine struct {
	registry         *tokens.Registry
	minPctBps        uint64
	maxPctBps        uint64
	minSessionsForML int
}

// NewEngine creates a collateral engine. minPctBps and maxPctBps bound
// the final requirement; minSessionsForML gates chronotype influence.
func NewEngine(registry *tokens.Registry, minPctBps, maxPctBps uint64, minSessionsForML int) *Engine {
	return &Engine{
		registry:         registry,
		minPctBps:        minPctBps,
		maxPctBps:        maxPctBps,
		minSessionsForML: minSessionsForML,
	}
}

// Required computes the collateral a borrower must post to borrow the
// given token amount. amount is in 6-decimal token units; the returned
// collateral is in 6-decimal value units.
func (e *Engine) Required(p *profile.Profile, tokenType tokens.Type, amount *big.Int) (*Requirement, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("borrow amount must be positive")
	}

	class, err := e.registry.Get(tokenType)
	if err != nil {
		return nil, err
	}

	chronoBps := ChronotypeBps(p.EffectiveChronotype(e.minSessionsForML))
	riskBps := RiskBps(p.RiskScore)

	pct := fixedpoint.CombineBps(class.RiskMultiplierBps, chronoBps, riskBps)
	pct = fixedpoint.ClampBps(pct, e.minPctBps, e.maxPctBps)

	value, err := e.registry.Value(tokenType, amount)
	if err != nil {
		return nil, err
	}

	return &Requirement{
		TokenType:     tokenType,
		BorrowValue:   value,
		Collateral:    fixedpoint.ApplyBps(value, pct),
		PctBps:        pct,
		TokenBps:      class.RiskMultiplierBps,
		ChronotypeBps: chronoBps,
		RiskBps:       riskBps,
	}, nil
}

// ChronotypeBps returns the collateral multiplier for a chronotype.
func ChronotypeBps(ct chronotype.Chronotype) uint64 {
	switch ct {
	case chronotype.Early:
		return earlyCollateralBps
	case chronotype.Late:
		return lateCollateralBps
	default:
		return intermediateCollateralBps
	}
}

// RiskBps returns the collateral multiplier for a behavioral risk score.
func RiskBps(score uint64) uint64 {
	switch {
	case score < lowRiskThreshold:
		return lowRiskCollateralBps
	case score > highRiskThreshold:
		return highRiskCollateralBps
	default:
		return 10000
	}
}
