package penalty

import (
	"testing"

	"github.com/chronofi/chronolend/internal/fixedpoint"
)

func TestNewScheduleValidation(t *testing.T) {
	if _, err := NewSchedule(7, 10, 14); err != nil {
		t.Errorf("valid schedule rejected: %v", err)
	}
	if _, err := NewSchedule(-1, 10, 14); err == nil {
		t.Error("negative grace accepted")
	}
	if _, err := NewSchedule(7, 7, 14); err == nil {
		t.Error("minor == grace accepted")
	}
	if _, err := NewSchedule(7, 10, 10); err == nil {
		t.Error("major == minor accepted")
	}
}

func TestBpsTiers(t *testing.T) {
	s := DefaultSchedule()

	tests := []struct {
		days int
		want uint64
	}{
		{0, 0},
		{1, 0},
		{7, 0},
		{8, 500},
		{10, 500},
		{11, 1500},
		{14, 1500},
		{15, 10_000},
		{30, 10_000},
	}
	for _, tt := range tests {
		if got := s.Bps(tt.days); got != tt.want {
			t.Errorf("Bps(%d days) = %d, want %d", tt.days, got, tt.want)
		}
	}
}

func TestAmount(t *testing.T) {
	s := DefaultSchedule()
	collateral, _ := fixedpoint.Parse("0.30")

	tests := []struct {
		days int
		want string
	}{
		{5, "0.000000"},
		{9, "0.015000"},
		{13, "0.045000"},
		{16, "0.300000"},
	}
	for _, tt := range tests {
		got := fixedpoint.Format(s.Amount(collateral, tt.days))
		if got != tt.want {
			t.Errorf("Amount(0.30, %d days) = %s, want %s", tt.days, got, tt.want)
		}
	}
}

func TestForfeitEligible(t *testing.T) {
	s := DefaultSchedule()

	if s.ForfeitEligible(14) {
		t.Error("day 14 should not be forfeit-eligible")
	}
	if !s.ForfeitEligible(15) {
		t.Error("day 15 should be forfeit-eligible")
	}
}
