// Package tokens defines the closed set of borrowable asset classes.
//
// The token set is fixed and small, so dispatch is an exhaustive switch
// over the Type enum rather than an open registry. Classes are immutable
// after construction.
package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/chronofi/chronolend/internal/fixedpoint"
)

// ErrUnknownToken is returned when parsing an unrecognized token symbol.
var ErrUnknownToken = errors.New("unknown token type")

// Type identifies a borrowable asset class.
type Type int

const (
	ETH Type = iota
	USDC
	DAI
	WBTC
)

// All lists every registered token type in ascending risk order.
var All = []Type{ETH, USDC, DAI, WBTC}

func (t Type) String() string {
	switch t {
	case ETH:
		return "ETH"
	case USDC:
		return "USDC"
	case DAI:
		return "DAI"
	case WBTC:
		return "WBTC"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// MarshalJSON renders the token as its symbol.
func (t Type) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses a token symbol.
func (t *Type) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// ParseType converts a token symbol to its Type.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ETH":
		return ETH, nil
	case "USDC":
		return USDC, nil
	case "DAI":
		return DAI, nil
	case "WBTC":
		return WBTC, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownToken, s)
}

// Class describes the lending parameters of one asset class.
//
// RiskMultiplierBps is the asset's neutral collateralization percentage:
// the required-collateral percentage for a borrower whose chronotype and
// risk multipliers are both neutral. ETH is the protocol's reference
// asset and carries the floor value.
type Class struct {
	Type              Type
	BaseValue         *big.Int // unit-currency value of one whole token, 6-decimal units
	BaseRateBps       uint64   // annual base interest rate in basis points
	RiskMultiplierBps uint64   // collateral risk weighting in basis points
}

// Registry is the immutable table of asset classes.
type Registry struct {
	classes map[Type]Class
}

// NewRegistry builds a registry from explicit classes. Used by tests and
// by configurations that override defaults.
func NewRegistry(classes ...Class) *Registry {
	m := make(map[Type]Class, len(classes))
	for _, c := range classes {
		cp := c
		cp.BaseValue = new(big.Int).Set(c.BaseValue)
		m[c.Type] = cp
	}
	return &Registry{classes: m}
}

// DefaultRegistry returns the observed production asset table.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Class{Type: ETH, BaseValue: mustAmount("0.50"), BaseRateBps: 800, RiskMultiplierBps: 13_500},
		Class{Type: USDC, BaseValue: mustAmount("1.00"), BaseRateBps: 400, RiskMultiplierBps: 14_000},
		Class{Type: DAI, BaseValue: mustAmount("1.00"), BaseRateBps: 500, RiskMultiplierBps: 14_500},
		Class{Type: WBTC, BaseValue: mustAmount("8.00"), BaseRateBps: 900, RiskMultiplierBps: 16_000},
	)
}

// Get returns the class for a token type.
func (r *Registry) Get(t Type) (Class, error) {
	c, ok := r.classes[t]
	if !ok {
		return Class{}, fmt.Errorf("%w: %s", ErrUnknownToken, t)
	}
	out := c
	out.BaseValue = new(big.Int).Set(c.BaseValue)
	return out, nil
}

// Value converts a token amount (6-decimal units) to its unit-currency
// value: amount * baseValue / 10^6, floored.
func (r *Registry) Value(t Type, amount *big.Int) (*big.Int, error) {
	c, ok := r.classes[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, t)
	}
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	v := new(big.Int).Mul(amount, c.BaseValue)
	return v.Quo(v, big.NewInt(1_000_000)), nil
}

func mustAmount(s string) *big.Int {
	v, ok := fixedpoint.Parse(s)
	if !ok {
		panic("tokens: invalid amount literal " + s)
	}
	return v
}
