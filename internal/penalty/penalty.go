// Package penalty maps repayment lateness to collateral deductions.
package penalty

import (
	"fmt"
	"math/big"

	"github.com/chronofi/chronolend/internal/fixedpoint"
)

// Penalty percentages per lateness tier, in basis points of the posted
// collateral. Past the major tier the full collateral is forfeited.
const (
	minorPenaltyBps   = 500
	majorPenaltyBps   = 1500
	forfeitPenaltyBps = 10_000
)

// Schedule is a validated lateness tier schedule. Days overdue within
// the grace window carry no penalty; past MajorDays the loan is eligible
// for forfeiture.
type Schedule struct {
	GraceDays int
	MinorDays int
	MajorDays int
}

// NewSchedule builds a schedule, requiring strictly ascending tiers.
func NewSchedule(graceDays, minorDays, majorDays int) (*Schedule, error) {
	if graceDays < 0 {
		return nil, fmt.Errorf("grace days must be non-negative, got %d", graceDays)
	}
	if minorDays <= graceDays {
		return nil, fmt.Errorf("minor tier (%d) must exceed grace tier (%d)", minorDays, graceDays)
	}
	if majorDays <= minorDays {
		return nil, fmt.Errorf("major tier (%d) must exceed minor tier (%d)", majorDays, minorDays)
	}
	return &Schedule{GraceDays: graceDays, MinorDays: minorDays, MajorDays: majorDays}, nil
}

// DefaultSchedule returns the production tier schedule: 7 grace days,
// minor through day 10, major through day 14.
func DefaultSchedule() *Schedule {
	return &Schedule{GraceDays: 7, MinorDays: 10, MajorDays: 14}
}

// Bps returns the penalty percentage for the given days overdue.
func (s *Schedule) Bps(daysOverdue int) uint64 {
	switch {
	case daysOverdue <= s.GraceDays:
		return 0
	case daysOverdue <= s.MinorDays:
		return minorPenaltyBps
	case daysOverdue <= s.MajorDays:
		return majorPenaltyBps
	default:
		return forfeitPenaltyBps
	}
}

// Amount returns the collateral deduction for the given lateness.
func (s *Schedule) Amount(collateral *big.Int, daysOverdue int) *big.Int {
	return fixedpoint.ApplyBps(collateral, s.Bps(daysOverdue))
}

// ForfeitEligible reports whether the lateness has crossed into full
// collateral forfeiture.
func (s *Schedule) ForfeitEligible(daysOverdue int) bool {
	return daysOverdue > s.MajorDays
}
