package ledger

import (
	"context"
	"database/sql"
	"time"
)

// PostgresEventStore implements EventStore using PostgreSQL.
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// Migrate creates the ledger_events table if it doesn't exist.
func (s *PostgresEventStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_events (
			id BIGSERIAL PRIMARY KEY,
			kind VARCHAR(32) NOT NULL,
			loan_id BIGINT NOT NULL DEFAULT 0,
			borrower VARCHAR(42) NOT NULL,
			token VARCHAR(16),
			amount NUMERIC(20,6) NOT NULL DEFAULT 0,
			collateral NUMERIC(20,6) NOT NULL DEFAULT 0,
			interest NUMERIC(20,6) NOT NULL DEFAULT 0,
			penalty NUMERIC(20,6) NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_events_borrower ON ledger_events(borrower, created_at);
	`)
	return err
}

func (s *PostgresEventStore) AppendEvent(ctx context.Context, event *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ledger_events (kind, loan_id, borrower, token, amount, collateral, interest, penalty, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC(20,6), $6::NUMERIC(20,6), $7::NUMERIC(20,6), $8::NUMERIC(20,6), NOW())
	`, event.Kind, event.LoanID, event.Borrower, event.Token,
		orZero(event.Amount), orZero(event.Collateral), orZero(event.Interest), orZero(event.Penalty))
	return err
}

func (s *PostgresEventStore) GetEvents(ctx context.Context, borrower string, since time.Time) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, loan_id, borrower, COALESCE(token, ''), amount, collateral, interest, penalty, created_at
		FROM ledger_events
		WHERE borrower = $1 AND created_at >= $2
		ORDER BY id ASC
	`, borrower, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func (s *PostgresEventStore) ListRecent(ctx context.Context, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, loan_id, borrower, COALESCE(token, ''), amount, collateral, interest, penalty, created_at
		FROM (
			SELECT * FROM ledger_events ORDER BY id DESC LIMIT $1
		) recent ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func (s *PostgresEventStore) GetAllBorrowers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT borrower FROM ledger_events ORDER BY borrower
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var borrowers []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		borrowers = append(borrowers, addr)
	}
	return borrowers, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.Kind, &e.LoanID, &e.Borrower, &e.Token,
			&e.Amount, &e.Collateral, &e.Interest, &e.Penalty, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// orZero defaults empty amount strings so NUMERIC casts don't fail.
func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
