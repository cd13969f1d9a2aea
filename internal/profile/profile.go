// Package profile maintains per-borrower behavioral circadian profiles.
//
// A profile is created lazily on a borrower's first borrow session and is
// never deleted. The ledger is the only writer: every issue and repay
// event lands here, and the chronotype classifier is consulted once the
// session/confidence thresholds are met. Readers always see a usable
// profile — absent borrowers get the neutral default, never an error.
package profile

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/chronofi/chronolend/internal/chronotype"
)

// ErrProfileNotFound is returned by stores for unknown borrowers.
// Service-level reads convert it to the neutral default.
var ErrProfileNotFound = errors.New("circadian profile not found")

// NeutralRiskScore is the starting risk score for a new borrower:
// midpoint of the [0,1000] range.
const NeutralRiskScore = 500

// Profile is a borrower's behavioral record. All scores are bounded to
// [0,1000]. ConfidenceBps == 0 means no classifier verdict has ever been
// stored, so the chronotype field must be treated as a default.
type Profile struct {
	Borrower               string    `json:"borrower"`
	TotalBorrowSessions    int       `json:"totalBorrowSessions"`
	TotalRepaymentSessions int       `json:"totalRepaymentSessions"`
	HourHistogram          [24]int   `json:"hourHistogram"`
	ConsistencyScore       uint64    `json:"consistencyScore"`
	RiskScore              uint64    `json:"riskScore"`
	CurrentAlignment       uint64    `json:"currentAlignment"`
	Chronotype             chronotype.Chronotype `json:"chronotype"`
	ConfidenceBps          uint64    `json:"confidenceBps"`
	LastMLUpdate           time.Time `json:"lastMLUpdate,omitempty"`
	CreatedAt              time.Time `json:"createdAt"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// Neutral returns the default profile used for borrowers with no history.
func Neutral(borrower string) *Profile {
	return &Profile{
		Borrower:   borrower,
		RiskScore:  NeutralRiskScore,
		Chronotype: chronotype.Intermediate,
	}
}

// MLEligible reports whether the stored chronotype may be consulted:
// the borrower must have enough recorded sessions and a non-default
// classifier confidence.
func (p *Profile) MLEligible(minSessions int) bool {
	return p != nil && p.TotalBorrowSessions >= minSessions && p.ConfidenceBps > 0
}

// EffectiveChronotype returns the chronotype rate/collateral engines may
// act on: the stored class when ML-eligible, Intermediate otherwise.
func (p *Profile) EffectiveChronotype(minSessions int) chronotype.Chronotype {
	if p.MLEligible(minSessions) {
		return p.Chronotype
	}
	return chronotype.Intermediate
}

// TopHours returns the borrower's n most active hours, most active first.
// Hours with zero sessions are excluded; ties break toward earlier hours.
func (p *Profile) TopHours(n int) []int {
	type hourCount struct {
		hour  int
		count int
	}
	var counts []hourCount
	for h, c := range p.HourHistogram {
		if c > 0 {
			counts = append(counts, hourCount{h, c})
		}
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].hour < counts[j].hour
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	hours := make([]int, 0, len(counts))
	for _, hc := range counts {
		hours = append(hours, hc.hour)
	}
	return hours
}

// Store persists circadian profiles.
type Store interface {
	Get(ctx context.Context, borrower string) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
}
