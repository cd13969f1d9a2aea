package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/chronofi/chronolend/internal/tokens"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed loan store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the loans table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS loans (
			id                BIGSERIAL PRIMARY KEY,
			borrower          VARCHAR(42) NOT NULL,
			token_type        VARCHAR(10) NOT NULL,
			token_amount      NUMERIC(20,6) NOT NULL,
			collateral_amount NUMERIC(20,6) NOT NULL,
			rate_bps          BIGINT NOT NULL,
			issued_at         TIMESTAMPTZ NOT NULL,
			deadline          TIMESTAMPTZ NOT NULL,
			interest_accrued  NUMERIC(20,6) NOT NULL DEFAULT 0,
			penalty_amount    NUMERIC(20,6) NOT NULL DEFAULT 0,
			status            VARCHAR(20) NOT NULL DEFAULT 'active',
			resolved_at       TIMESTAMPTZ,
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans(borrower);
		CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status);
		CREATE INDEX IF NOT EXISTS idx_loans_deadline ON loans(deadline) WHERE status = 'active';
	`)
	return err
}

// Create inserts a loan and assigns its sequence ID.
func (p *PostgresStore) Create(ctx context.Context, loan *Loan) error {
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO loans (
			borrower, token_type, token_amount, collateral_amount, rate_bps,
			issued_at, deadline, interest_accrued, penalty_amount, status,
			resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3::NUMERIC(20,6), $4::NUMERIC(20,6), $5,
			$6, $7, $8::NUMERIC(20,6), $9::NUMERIC(20,6), $10,
			$11, $12, $13)
		RETURNING id
	`,
		loan.Borrower, loan.TokenType.String(), loan.TokenAmount, loan.CollateralAmount, loan.RateBps,
		loan.IssuedAt, loan.Deadline, orZero(loan.InterestAccrued), orZero(loan.PenaltyAmount), string(loan.Status),
		loan.ResolvedAt, loan.CreatedAt, loan.UpdatedAt,
	).Scan(&loan.ID)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

// Get retrieves a loan by ID.
func (p *PostgresStore) Get(ctx context.Context, id int64) (*Loan, error) {
	row := p.db.QueryRowContext(ctx, loanSelect+` WHERE id = $1`, id)

	loan, err := scanLoan(row)
	if err == sql.ErrNoRows {
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get loan: %w", err)
	}
	return loan, nil
}

// Update modifies a loan's mutable fields.
func (p *PostgresStore) Update(ctx context.Context, loan *Loan) error {
	loan.UpdatedAt = time.Now()

	result, err := p.db.ExecContext(ctx, `
		UPDATE loans SET
			interest_accrued = $2::NUMERIC(20,6),
			penalty_amount   = $3::NUMERIC(20,6),
			status           = $4,
			resolved_at      = $5,
			updated_at       = $6
		WHERE id = $1
	`,
		loan.ID, orZero(loan.InterestAccrued), orZero(loan.PenaltyAmount),
		string(loan.Status), loan.ResolvedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update loan: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrLoanNotFound
	}
	return nil
}

// ListByBorrower returns a borrower's loans, newest first. A non-zero
// beforeID restricts results to loans with smaller IDs for cursor paging.
func (p *PostgresStore) ListByBorrower(ctx context.Context, borrower string, beforeID int64, limit int) ([]*Loan, error) {
	rows, err := p.db.QueryContext(ctx, loanSelect+`
		WHERE borrower = $1 AND ($2::BIGINT = 0 OR id < $2) ORDER BY id DESC LIMIT $3
	`, borrower, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("list by borrower: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanLoans(rows)
}

// ListActive returns active loans, newest first.
func (p *PostgresStore) ListActive(ctx context.Context, limit int) ([]*Loan, error) {
	rows, err := p.db.QueryContext(ctx, loanSelect+`
		WHERE status = 'active' ORDER BY id DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanLoans(rows)
}

// ListOverdue returns active loans whose deadline passed before the cutoff.
func (p *PostgresStore) ListOverdue(ctx context.Context, before time.Time, limit int) ([]*Loan, error) {
	rows, err := p.db.QueryContext(ctx, loanSelect+`
		WHERE status = 'active' AND deadline < $1 ORDER BY id DESC LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanLoans(rows)
}

const loanSelect = `
	SELECT id, borrower, token_type, token_amount, collateral_amount, rate_bps,
		issued_at, deadline, interest_accrued, penalty_amount, status,
		resolved_at, created_at, updated_at
	FROM loans`

// scannable abstracts *sql.Row and *sql.Rows for shared scanning logic.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanLoan(row scannable) (*Loan, error) {
	var loan Loan
	var tokenType, status string
	var resolvedAt sql.NullTime
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&loan.ID, &loan.Borrower, &tokenType, &loan.TokenAmount, &loan.CollateralAmount, &loan.RateBps,
		&loan.IssuedAt, &loan.Deadline, &loan.InterestAccrued, &loan.PenaltyAmount, &status,
		&resolvedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	tt, err := tokens.ParseType(tokenType)
	if err != nil {
		return nil, fmt.Errorf("loan %d: %w", loan.ID, err)
	}
	loan.TokenType = tt
	loan.Status = Status(status)
	if resolvedAt.Valid {
		t := resolvedAt.Time
		loan.ResolvedAt = &t
	}
	if createdAt.Valid {
		loan.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		loan.UpdatedAt = updatedAt.Time
	}
	return &loan, nil
}

func scanLoans(rows *sql.Rows) ([]*Loan, error) {
	var result []*Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, loan)
	}
	return result, rows.Err()
}
