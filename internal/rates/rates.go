// Package rates computes interest rates and accrual.
//
// Two rate models coexist: the legacy model prices only the token and
// the hour of day, while the ML model further discounts (or surcharges)
// by the borrower's chronotype and behavioral consistency. Rates are
// annual, in basis points, and accrual is simple interest over seconds.
package rates

import (
	"fmt"
	"math/big"
	"time"

	"github.com/chronofi/chronolend/internal/chronotype"
	"github.com/chronofi/chronolend/internal/fixedpoint"
	"github.com/chronofi/chronolend/internal/profile"
	"github.com/chronofi/chronolend/internal/tokens"
)

// Chronotype rate multipliers, in basis points of the base rate.
const (
	earlyRateBps        = 9500
	intermediateRateBps = 10000
	lateRateBps         = 10500
)

// Consistency rate multipliers. Highly regular borrowers are cheaper to
// price and get the deepest discount.
const (
	highConsistencyBps      = 9500
	moderateConsistencyBps  = 9800
	highConsistencyCutoff   = 800
	moderateConsistencyCutoff = 500
)

const secondsPerYear = 31_536_000

// optimalHourCount is how many cheapest hours a borrower is shown.
const optimalHourCount = 5

// hourlyBps is the time-of-day rate curve, indexed by hour [0,24).
// Overnight and early-morning demand is thin so borrowing is cheap;
// business hours carry a surcharge.
var hourlyBps = [24]uint64{
	9000,  // 00
	9000,  // 01
	8500,  // 02
	8500,  // 03
	8500,  // 04
	8500,  // 05
	8500,  // 06
	10000, // 07
	10000, // 08
	11000, // 09
	11000, // 10
	11000, // 11
	11000, // 12
	11000, // 13
	11000, // 14
	11000, // 15
	11000, // 16
	11000, // 17
	10000, // 18
	10000, // 19
	10000, // 20
	10000, // 21
	9000,  // 22
	9000,  // 23
}

// HourlyBps returns the time-of-day multiplier for an hour in [0,24).
func HourlyBps(hour int) (uint64, error) {
	if hour < 0 || hour > 23 {
		return 0, fmt.Errorf("hour %d out of range", hour)
	}
	return hourlyBps[hour], nil
}

// Quote is a fully resolved rate with its factor breakdown.
type Quote struct {
	TokenType      tokens.Type `json:"tokenType"`
	Hour           int         `json:"hour"`
	RateBps        uint64      `json:"rateBps"`
	BaseRateBps    uint64      `json:"baseRateBps"`
	HourBps        uint64      `json:"hourBps"`
	ChronotypeBps  uint64      `json:"chronotypeBps"`
	ConsistencyBps uint64      `json:"consistencyBps"`
}

// Comparison contrasts the legacy and ML rate for the same loan.
type Comparison struct {
	Traditional uint64 `json:"traditionalBps"`
	MLEnhanced  uint64 `json:"mlEnhancedBps"`
	SavingsBps  int64  `json:"savingsBps"`
	Beneficial  bool   `json:"beneficial"`
}

// HourRate pairs an hour of day with the rate a borrower would pay then.
type HourRate struct {
	Hour    int    `json:"hour"`
	RateBps uint64 `json:"rateBps"`
}

// Engine computes rates against a token registry.
type Engine struct {
	registry         *tokens.Registry
	minSessionsForML int
}

// NewEngine creates a rate engine. minSessionsForML gates chronotype and
// consistency influence, matching the collateral engine's gate.
func NewEngine(registry *tokens.Registry, minSessionsForML int) *Engine {
	return &Engine{registry: registry, minSessionsForML: minSessionsForML}
}

// Legacy returns the profile-blind rate: base rate scaled by the hour
// multiplier only.
func (e *Engine) Legacy(tokenType tokens.Type, hour int) (uint64, error) {
	class, err := e.registry.Get(tokenType)
	if err != nil {
		return 0, err
	}
	hourBps, err := HourlyBps(hour)
	if err != nil {
		return 0, err
	}
	return fixedpoint.CombineBps(class.BaseRateBps, hourBps), nil
}

// ML returns the behavioral rate quote for a borrower. Borrowers below
// the ML gate get neutral chronotype and consistency factors, which
// collapses the quote to the legacy rate.
func (e *Engine) ML(p *profile.Profile, tokenType tokens.Type, hour int) (*Quote, error) {
	class, err := e.registry.Get(tokenType)
	if err != nil {
		return nil, err
	}
	hourBps, err := HourlyBps(hour)
	if err != nil {
		return nil, err
	}

	chronoBps := ChronotypeRateBps(p.EffectiveChronotype(e.minSessionsForML))
	consistencyBps := uint64(10000)
	if p.MLEligible(e.minSessionsForML) {
		consistencyBps = ConsistencyRateBps(p.ConsistencyScore)
	}

	return &Quote{
		TokenType:      tokenType,
		Hour:           hour,
		RateBps:        fixedpoint.CombineBps(class.BaseRateBps, hourBps, chronoBps, consistencyBps),
		BaseRateBps:    class.BaseRateBps,
		HourBps:        hourBps,
		ChronotypeBps:  chronoBps,
		ConsistencyBps: consistencyBps,
	}, nil
}

// Compare contrasts what a borrower pays under each model at the given
// hour. Beneficial means the ML rate is strictly cheaper.
func (e *Engine) Compare(p *profile.Profile, tokenType tokens.Type, hour int) (*Comparison, error) {
	legacy, err := e.Legacy(tokenType, hour)
	if err != nil {
		return nil, err
	}
	quote, err := e.ML(p, tokenType, hour)
	if err != nil {
		return nil, err
	}
	return &Comparison{
		Traditional: legacy,
		MLEnhanced:  quote.RateBps,
		SavingsBps:  int64(legacy) - int64(quote.RateBps),
		Beneficial:  quote.RateBps < legacy,
	}, nil
}

// OptimalHours returns the borrower's cheapest borrowing hours for a
// token, cheapest first. Ties break toward the earlier hour.
func (e *Engine) OptimalHours(p *profile.Profile, tokenType tokens.Type) ([]HourRate, error) {
	all := make([]HourRate, 0, 24)
	for hour := 0; hour < 24; hour++ {
		quote, err := e.ML(p, tokenType, hour)
		if err != nil {
			return nil, err
		}
		all = append(all, HourRate{Hour: hour, RateBps: quote.RateBps})
	}

	// Stable selection keeps ties in hour order.
	out := make([]HourRate, 0, optimalHourCount)
	used := make([]bool, 24)
	for len(out) < optimalHourCount {
		bestIdx := -1
		for i, hr := range all {
			if used[i] {
				continue
			}
			if bestIdx < 0 || hr.RateBps < all[bestIdx].RateBps {
				bestIdx = i
			}
		}
		used[bestIdx] = true
		out = append(out, all[bestIdx])
	}
	return out, nil
}

// Accrued computes simple interest on a principal over elapsed time:
// principal * rateBps * seconds / (10000 * secondsPerYear), floored.
// Negative elapsed time accrues nothing.
func Accrued(principal *big.Int, rateBps uint64, elapsed time.Duration) *big.Int {
	if principal == nil || principal.Sign() <= 0 || elapsed <= 0 {
		return big.NewInt(0)
	}
	seconds := int64(elapsed / time.Second)
	if seconds <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(principal, new(big.Int).SetUint64(rateBps))
	out.Mul(out, big.NewInt(seconds))
	out.Quo(out, big.NewInt(fixedpoint.OneBps))
	return out.Quo(out, big.NewInt(secondsPerYear))
}

// ChronotypeRateBps returns the rate multiplier for a chronotype.
func ChronotypeRateBps(ct chronotype.Chronotype) uint64 {
	switch ct {
	case chronotype.Early:
		return earlyRateBps
	case chronotype.Late:
		return lateRateBps
	default:
		return intermediateRateBps
	}
}

// ConsistencyRateBps returns the rate multiplier for a consistency score.
func ConsistencyRateBps(score uint64) uint64 {
	switch {
	case score >= highConsistencyCutoff:
		return highConsistencyBps
	case score >= moderateConsistencyCutoff:
		return moderateConsistencyBps
	default:
		return 10000
	}
}
