package fixedpoint

import (
	"math/big"
	"testing"
)

func TestParse_ValidAmounts(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int64
	}{
		{"one", "1.00", 1_000_000},
		{"half", "0.50", 500_000},
		{"hundred", "100", 100_000_000},
		{"smallest unit", "0.000001", 1},
		{"short frac", "1.5", 1_500_000},
		{"six decimals", "1.123456", 1_123_456},
		{"truncates extra decimals", "1.1234569", 1_123_456},
		{"large", "999999.999999", 999_999_999_999},
		{"empty is zero", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			if !ok {
				t.Fatalf("Parse(%q) returned ok=false", tt.input)
			}
			if got.Int64() != tt.expected {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got.Int64(), tt.expected)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, input := range []string{"-1", "-0.5", "1.2.3", "abc", "1,5"} {
		if _, ok := Parse(input); ok {
			t.Errorf("Parse(%q) accepted invalid input", input)
		}
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0.000000"},
		{1, "0.000001"},
		{1_500_000, "1.500000"},
		{135_000, "0.135000"},
		{-2_000_000, "-2.000000"},
	}
	for _, tt := range tests {
		if got := Format(big.NewInt(tt.in)); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if got := Format(nil); got != "0.000000" {
		t.Errorf("Format(nil) = %q", got)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"0.000000", "1.500000", "0.135000", "42.000001"} {
		amt, ok := Parse(s)
		if !ok {
			t.Fatalf("Parse(%q) failed", s)
		}
		if got := Format(amt); got != s {
			t.Errorf("round trip %q = %q", s, got)
		}
	}
}

func TestApplyBps(t *testing.T) {
	tests := []struct {
		name   string
		amount int64
		bps    uint64
		want   int64
	}{
		{"full", 1_000_000, 10_000, 1_000_000},
		{"five percent", 300_000, 500, 15_000},
		{"fifteen percent", 300_000, 1_500, 45_000},
		{"135 percent", 100_000, 13_500, 135_000},
		{"floors", 3, 5_000, 1},
		{"zero bps", 1_000_000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyBps(big.NewInt(tt.amount), tt.bps)
			if got.Int64() != tt.want {
				t.Errorf("ApplyBps(%d, %d) = %d, want %d", tt.amount, tt.bps, got.Int64(), tt.want)
			}
		})
	}

	if got := ApplyBps(nil, 500); got.Sign() != 0 {
		t.Errorf("ApplyBps(nil) = %v, want 0", got)
	}
	if got := ApplyBps(big.NewInt(-100), 500); got.Sign() != 0 {
		t.Errorf("ApplyBps(negative) = %v, want 0", got)
	}
}

func TestCombineBps(t *testing.T) {
	tests := []struct {
		name    string
		factors []uint64
		want    uint64
	}{
		{"identity", []uint64{10_000}, 10_000},
		{"neutral chain", []uint64{10_000, 10_000, 10_000}, 10_000},
		{"single discount", []uint64{10_000, 9_500}, 9_500},
		{"discount and premium", []uint64{10_000, 9_500, 11_000}, 10_450},
		{"spec collateral chain", []uint64{10_000, 12_000, 9_500, 10_000}, 11_400},
		{"empty", nil, 10_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CombineBps(tt.factors...); got != tt.want {
				t.Errorf("CombineBps(%v) = %d, want %d", tt.factors, got, tt.want)
			}
		})
	}
}

func TestClampBps(t *testing.T) {
	if got := ClampBps(12_000, 13_500, 20_000); got != 13_500 {
		t.Errorf("clamp below = %d", got)
	}
	if got := ClampBps(25_000, 13_500, 20_000); got != 20_000 {
		t.Errorf("clamp above = %d", got)
	}
	if got := ClampBps(15_000, 13_500, 20_000); got != 15_000 {
		t.Errorf("clamp inside = %d", got)
	}
}

func TestClampScore(t *testing.T) {
	if ClampScore(-5) != 0 || ClampScore(1500) != 1000 || ClampScore(500) != 500 {
		t.Error("ClampScore bounds incorrect")
	}
}
