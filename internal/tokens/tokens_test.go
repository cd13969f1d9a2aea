package tokens

import (
	"errors"
	"math/big"
	"testing"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input string
		want  Type
	}{
		{"ETH", ETH},
		{"eth", ETH},
		{" usdc ", USDC},
		{"Dai", DAI},
		{"WBTC", WBTC},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.input)
		if err != nil {
			t.Fatalf("ParseType(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseType(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}

	if _, err := ParseType("DOGE"); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("ParseType(DOGE) error = %v, want ErrUnknownToken", err)
	}
}

func TestDefaultRegistry_RiskOrdering(t *testing.T) {
	r := DefaultRegistry()

	var prev uint64
	for i, typ := range All {
		c, err := r.Get(typ)
		if err != nil {
			t.Fatalf("Get(%v): %v", typ, err)
		}
		if i > 0 && c.RiskMultiplierBps <= prev {
			t.Errorf("risk multiplier for %v (%d) not above previous (%d)", typ, c.RiskMultiplierBps, prev)
		}
		prev = c.RiskMultiplierBps
	}
}

func TestGet_CopiesBaseValue(t *testing.T) {
	r := DefaultRegistry()
	c, err := r.Get(ETH)
	if err != nil {
		t.Fatal(err)
	}
	c.BaseValue.SetInt64(0)

	again, _ := r.Get(ETH)
	if again.BaseValue.Sign() == 0 {
		t.Error("mutating a returned class leaked into the registry")
	}
}

func TestValue(t *testing.T) {
	r := DefaultRegistry()

	// 0.2 ETH at base value 0.50 => 0.10 unit currency.
	amount := big.NewInt(200_000)
	v, err := r.Value(ETH, amount)
	if err != nil {
		t.Fatal(err)
	}
	if v.Int64() != 100_000 {
		t.Errorf("Value(ETH, 0.2) = %d, want 100000", v.Int64())
	}

	// 3 USDC at base value 1.00 => 3.00.
	v, err = r.Value(USDC, big.NewInt(3_000_000))
	if err != nil {
		t.Fatal(err)
	}
	if v.Int64() != 3_000_000 {
		t.Errorf("Value(USDC, 3) = %d, want 3000000", v.Int64())
	}

	v, err = r.Value(DAI, nil)
	if err != nil || v.Sign() != 0 {
		t.Errorf("Value(nil amount) = %v, %v", v, err)
	}
}
