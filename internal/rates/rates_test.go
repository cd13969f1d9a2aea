package rates

import (
	"math/big"
	"testing"
	"time"

	"github.com/chronofi/chronolend/internal/chronotype"
	"github.com/chronofi/chronolend/internal/fixedpoint"
	"github.com/chronofi/chronolend/internal/profile"
	"github.com/chronofi/chronolend/internal/tokens"
)

func testEngine() *Engine {
	return NewEngine(tokens.DefaultRegistry(), 5)
}

func eligibleProfile(ct chronotype.Chronotype, consistency uint64) *profile.Profile {
	p := profile.Neutral("0xabc")
	p.TotalBorrowSessions = 10
	p.ConfidenceBps = 900
	p.Chronotype = ct
	p.ConsistencyScore = consistency
	return p
}

func TestHourlyBpsCurve(t *testing.T) {
	tests := []struct {
		hour int
		want uint64
	}{
		{0, 9000},
		{1, 9000},
		{2, 8500},
		{6, 8500},
		{7, 10000},
		{8, 10000},
		{9, 11000},
		{17, 11000},
		{18, 10000},
		{21, 10000},
		{22, 9000},
		{23, 9000},
	}
	for _, tt := range tests {
		got, err := HourlyBps(tt.hour)
		if err != nil {
			t.Fatalf("HourlyBps(%d) error = %v", tt.hour, err)
		}
		if got != tt.want {
			t.Errorf("HourlyBps(%d) = %d, want %d", tt.hour, got, tt.want)
		}
	}

	if _, err := HourlyBps(24); err == nil {
		t.Error("HourlyBps(24) expected error")
	}
	if _, err := HourlyBps(-1); err == nil {
		t.Error("HourlyBps(-1) expected error")
	}
}

func TestLegacyRate(t *testing.T) {
	e := testEngine()

	got, err := e.Legacy(tokens.ETH, 3)
	if err != nil {
		t.Fatalf("Legacy() error = %v", err)
	}
	if got != 680 {
		t.Errorf("Legacy(ETH, 3am) = %d, want 680", got)
	}

	got, err = e.Legacy(tokens.ETH, 12)
	if err != nil {
		t.Fatalf("Legacy() error = %v", err)
	}
	if got != 880 {
		t.Errorf("Legacy(ETH, noon) = %d, want 880", got)
	}
}

func TestMLRateMatchesLegacyForNeutralBorrower(t *testing.T) {
	e := testEngine()
	p := profile.Neutral("0xabc")

	for hour := 0; hour < 24; hour++ {
		legacy, err := e.Legacy(tokens.DAI, hour)
		if err != nil {
			t.Fatalf("Legacy() error = %v", err)
		}
		quote, err := e.ML(p, tokens.DAI, hour)
		if err != nil {
			t.Fatalf("ML() error = %v", err)
		}
		if quote.RateBps != legacy {
			t.Errorf("hour %d: ML %d != legacy %d for neutral borrower", hour, quote.RateBps, legacy)
		}
	}
}

func TestMLRateDiscountsAndSurcharges(t *testing.T) {
	e := testEngine()

	// Early, highly consistent: 800 * 8500 * 9500 * 9500 / 10000^3 = 613
	quote, err := e.ML(eligibleProfile(chronotype.Early, 850), tokens.ETH, 3)
	if err != nil {
		t.Fatalf("ML() error = %v", err)
	}
	if quote.RateBps != 613 {
		t.Errorf("early consistent rate = %d, want 613", quote.RateBps)
	}

	// Late, erratic: 800 * 11000 * 10500 * 10000 / 10000^3 = 924
	quote, err = e.ML(eligibleProfile(chronotype.Late, 200), tokens.ETH, 12)
	if err != nil {
		t.Fatalf("ML() error = %v", err)
	}
	if quote.RateBps != 924 {
		t.Errorf("late erratic rate = %d, want 924", quote.RateBps)
	}
}

func TestMLRateIgnoresConsistencyBelowGate(t *testing.T) {
	e := testEngine()
	p := eligibleProfile(chronotype.Early, 900)
	p.TotalBorrowSessions = 2 // below gate

	quote, err := e.ML(p, tokens.ETH, 3)
	if err != nil {
		t.Fatalf("ML() error = %v", err)
	}
	if quote.ChronotypeBps != 10000 || quote.ConsistencyBps != 10000 {
		t.Errorf("ungated borrower got factors chrono=%d consistency=%d, want neutral",
			quote.ChronotypeBps, quote.ConsistencyBps)
	}
}

func TestCompare(t *testing.T) {
	e := testEngine()

	cmp, err := e.Compare(eligibleProfile(chronotype.Early, 850), tokens.ETH, 3)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if cmp.Traditional != 680 || cmp.MLEnhanced != 613 {
		t.Errorf("Compare = %+v, want traditional 680 / ml 613", cmp)
	}
	if cmp.SavingsBps != 67 || !cmp.Beneficial {
		t.Errorf("savings = %d beneficial = %v, want 67 / true", cmp.SavingsBps, cmp.Beneficial)
	}

	cmp, err = e.Compare(eligibleProfile(chronotype.Late, 200), tokens.ETH, 12)
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if cmp.SavingsBps != -44 || cmp.Beneficial {
		t.Errorf("late borrower savings = %d beneficial = %v, want -44 / false", cmp.SavingsBps, cmp.Beneficial)
	}
}

func TestOptimalHoursAreOvernight(t *testing.T) {
	e := testEngine()

	hours, err := e.OptimalHours(profile.Neutral("0xabc"), tokens.ETH)
	if err != nil {
		t.Fatalf("OptimalHours() error = %v", err)
	}
	if len(hours) != 5 {
		t.Fatalf("got %d hours, want 5", len(hours))
	}

	want := []int{2, 3, 4, 5, 6}
	for i, hr := range hours {
		if hr.Hour != want[i] {
			t.Errorf("optimal[%d] = hour %d, want %d", i, hr.Hour, want[i])
		}
		if hr.RateBps != 680 {
			t.Errorf("optimal[%d] rate = %d, want 680", i, hr.RateBps)
		}
	}
}

func TestAccrued(t *testing.T) {
	principal, _ := fixedpoint.Parse("1.00")

	got := Accrued(principal, 680, 365*24*time.Hour)
	if fixedpoint.Format(got) != "0.068000" {
		t.Errorf("one year at 6.80%% = %s, want 0.068000", fixedpoint.Format(got))
	}

	got = Accrued(principal, 680, 365*12*time.Hour)
	if fixedpoint.Format(got) != "0.034000" {
		t.Errorf("half year at 6.80%% = %s, want 0.034000", fixedpoint.Format(got))
	}

	if got := Accrued(principal, 680, 0); got.Sign() != 0 {
		t.Errorf("zero elapsed accrued %s, want 0", got)
	}
	if got := Accrued(principal, 680, -time.Hour); got.Sign() != 0 {
		t.Errorf("negative elapsed accrued %s, want 0", got)
	}
	if got := Accrued(nil, 680, time.Hour); got.Sign() != 0 {
		t.Errorf("nil principal accrued %s, want 0", got)
	}
	if got := Accrued(big.NewInt(-100), 680, time.Hour); got.Sign() != 0 {
		t.Errorf("negative principal accrued %s, want 0", got)
	}
}
