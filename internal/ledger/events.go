package ledger

import (
	"context"
	"math/big"
	"time"

	"github.com/chronofi/chronolend/internal/fixedpoint"
)

// Event kinds appended on every ledger mutation.
const (
	EventLoanIssued    = "loan_issued"
	EventLoanRepaid    = "loan_repaid"
	EventLoanForfeited = "loan_forfeited"
	EventDeposit       = "deposit"
)

// Event represents an immutable ledger event.
type Event struct {
	ID         int64     `json:"id"`
	Kind       string    `json:"kind"`
	LoanID     int64     `json:"loanId,omitempty"`
	Borrower   string    `json:"borrower"`
	Token      string    `json:"token,omitempty"`
	Amount     string    `json:"amount"`
	Collateral string    `json:"collateral,omitempty"`
	Interest   string    `json:"interest,omitempty"`
	Penalty    string    `json:"penalty,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// EventStore persists and queries immutable ledger events.
type EventStore interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, borrower string, since time.Time) ([]*Event, error)
	ListRecent(ctx context.Context, limit int) ([]*Event, error)
	GetAllBorrowers(ctx context.Context) ([]string, error)
}

// Totals is a per-borrower aggregate reconstructed from the event log.
type Totals struct {
	Borrower            string `json:"borrower"`
	LoansIssued         int    `json:"loansIssued"`
	LoansRepaid         int    `json:"loansRepaid"`
	LoansForfeited      int    `json:"loansForfeited"`
	Borrowed            string `json:"borrowed"`
	InterestPaid        string `json:"interestPaid"`
	PenaltiesPaid       string `json:"penaltiesPaid"`
	CollateralForfeited string `json:"collateralForfeited"`
	CollateralLocked    string `json:"collateralLocked"`
}

// RebuildTotals replays a borrower's events to reconstruct lifetime
// aggregates. CollateralLocked nets out releases, so it reflects the
// collateral still escrowed after the final event.
func RebuildTotals(borrower string, events []*Event) *Totals {
	borrowed := big.NewInt(0)
	interest := big.NewInt(0)
	penalties := big.NewInt(0)
	forfeited := big.NewInt(0)
	locked := big.NewInt(0)

	t := &Totals{Borrower: borrower}
	for _, e := range events {
		amt, _ := fixedpoint.Parse(e.Amount)
		coll, _ := fixedpoint.Parse(e.Collateral)
		intr, _ := fixedpoint.Parse(e.Interest)
		pen, _ := fixedpoint.Parse(e.Penalty)

		switch e.Kind {
		case EventLoanIssued:
			t.LoansIssued++
			if amt != nil {
				borrowed.Add(borrowed, amt)
			}
			if coll != nil {
				locked.Add(locked, coll)
			}
		case EventLoanRepaid:
			t.LoansRepaid++
			if intr != nil {
				interest.Add(interest, intr)
			}
			if pen != nil {
				penalties.Add(penalties, pen)
			}
			if coll != nil {
				locked.Sub(locked, coll)
			}
		case EventLoanForfeited:
			t.LoansForfeited++
			if coll != nil {
				forfeited.Add(forfeited, coll)
				locked.Sub(locked, coll)
			}
		}
	}

	t.Borrowed = fixedpoint.Format(borrowed)
	t.InterestPaid = fixedpoint.Format(interest)
	t.PenaltiesPaid = fixedpoint.Format(penalties)
	t.CollateralForfeited = fixedpoint.Format(forfeited)
	t.CollateralLocked = fixedpoint.Format(locked)
	return t
}

// TotalsFor replays the full event history for one borrower.
func TotalsFor(ctx context.Context, es EventStore, borrower string) (*Totals, error) {
	events, err := es.GetEvents(ctx, borrower, time.Time{})
	if err != nil {
		return nil, err
	}
	return RebuildTotals(borrower, events), nil
}
