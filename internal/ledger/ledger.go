// Package ledger is the authoritative record of loans.
//
// Flow:
//  1. Borrower posts collateral and receives tokens (Issue)
//  2. Borrower repays principal + accrued interest (Repay)
//  3. Late repayment forfeits a tiered slice of collateral
//  4. Far-overdue loans forfeit the full collateral (Forfeit / sweep)
//
// A loan is Active until exactly one terminal transition, Repaid or
// Forfeited, and is never reopened.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chronofi/chronolend/internal/fixedpoint"
	"github.com/chronofi/chronolend/internal/tokens"
)

var (
	ErrLoanNotFound           = errors.New("loan not found")
	ErrLoanNotActive          = errors.New("loan is not active")
	ErrInsufficientCollateral = errors.New("insufficient collateral")
	ErrForfeitureNotEligible  = errors.New("loan is not eligible for forfeiture")
	ErrUnauthorized           = errors.New("not authorized for this loan operation")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientFunds      = errors.New("insufficient vault funds")
	ErrInvalidCursor          = errors.New("invalid pagination cursor")
)

// InsufficientBalanceError reports a repayment attempt that the
// borrower's token balance cannot cover.
type InsufficientBalanceError struct {
	TokenType tokens.Type
	Required  *big.Int
	Available *big.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient %s balance: need %s, have %s (short %s)",
		e.TokenType, fixedpoint.Format(e.Required), fixedpoint.Format(e.Available),
		fixedpoint.Format(e.Shortage()))
}

// Shortage returns the missing amount.
func (e *InsufficientBalanceError) Shortage() *big.Int {
	return new(big.Int).Sub(e.Required, e.Available)
}

// Status represents the state of a loan.
type Status string

const (
	StatusActive    Status = "active"
	StatusRepaid    Status = "repaid"
	StatusForfeited Status = "forfeited"
)

// Loan is one collateralized lending position. Amounts are 6-decimal
// strings; TokenAmount and InterestAccrued are token-denominated,
// CollateralAmount and PenaltyAmount are unit-currency.
type Loan struct {
	ID               int64       `json:"id"`
	Borrower         string      `json:"borrower"`
	TokenType        tokens.Type `json:"tokenType"`
	TokenAmount      string      `json:"tokenAmount"`
	CollateralAmount string      `json:"collateralAmount"`
	RateBps          uint64      `json:"rateBps"`
	IssuedAt         time.Time   `json:"issuedAt"`
	Deadline         time.Time   `json:"deadline"`
	InterestAccrued  string      `json:"interestAccrued,omitempty"`
	PenaltyAmount    string      `json:"penaltyAmount,omitempty"`
	Status           Status      `json:"status"`
	ResolvedAt       *time.Time  `json:"resolvedAt,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// IsTerminal returns true if the loan is in a final state.
func (l *Loan) IsTerminal() bool {
	return l.Status == StatusRepaid || l.Status == StatusForfeited
}

// DaysOverdue returns whole days elapsed past the deadline at t, zero
// when t is on or before the deadline.
func (l *Loan) DaysOverdue(t time.Time) int {
	if !t.After(l.Deadline) {
		return 0
	}
	return int(t.Sub(l.Deadline).Hours() / 24)
}

// Store persists loan records. Create assigns a monotonically
// increasing ID.
type Store interface {
	Create(ctx context.Context, loan *Loan) error
	Get(ctx context.Context, id int64) (*Loan, error)
	Update(ctx context.Context, loan *Loan) error
	ListByBorrower(ctx context.Context, borrower string, beforeID int64, limit int) ([]*Loan, error)
	ListActive(ctx context.Context, limit int) ([]*Loan, error)
	ListOverdue(ctx context.Context, before time.Time, limit int) ([]*Loan, error)
}

// Vault holds account balances per asset: token symbols for borrowable
// tokens, CashAsset for the unit currency collateral is posted in. The
// execution substrate boundary: the ledger never touches balances except
// through it.
type Vault interface {
	Balance(ctx context.Context, account, asset string) (*big.Int, error)
	Credit(ctx context.Context, account, asset string, amount *big.Int) error
	Transfer(ctx context.Context, from, to, asset string, amount *big.Int) error
}

// CashAsset is the vault asset collateral is denominated in.
const CashAsset = "USD"

// Reserved vault accounts.
const (
	ProtocolAccount = "protocol"
	EscrowAccount   = "collateral_escrow"
)
