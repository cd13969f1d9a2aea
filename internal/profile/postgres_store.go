package profile

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/chronofi/chronolend/internal/chronotype"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed profile store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the user_profiles table if it doesn't exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS user_profiles (
			borrower                 VARCHAR(42) PRIMARY KEY,
			total_borrow_sessions    INTEGER NOT NULL DEFAULT 0,
			total_repayment_sessions INTEGER NOT NULL DEFAULT 0,
			hour_histogram           INTEGER[] NOT NULL,
			consistency_score        INTEGER NOT NULL DEFAULT 0,
			risk_score               INTEGER NOT NULL DEFAULT 500,
			current_alignment        INTEGER NOT NULL DEFAULT 0,
			chronotype               VARCHAR(16) NOT NULL DEFAULT 'intermediate',
			confidence_bps           INTEGER NOT NULL DEFAULT 0,
			last_ml_update           TIMESTAMPTZ,
			created_at               TIMESTAMPTZ DEFAULT NOW(),
			updated_at               TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// Get retrieves a profile by borrower address.
func (p *PostgresStore) Get(ctx context.Context, borrower string) (*Profile, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT borrower, total_borrow_sessions, total_repayment_sessions,
			hour_histogram, consistency_score, risk_score, current_alignment,
			chronotype, confidence_bps, last_ml_update, created_at, updated_at
		FROM user_profiles WHERE borrower = $1
	`, strings.ToLower(borrower))

	var prof Profile
	var hist pq.Int64Array
	var chrono string
	var lastML, createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&prof.Borrower, &prof.TotalBorrowSessions, &prof.TotalRepaymentSessions,
		&hist, &prof.ConsistencyScore, &prof.RiskScore, &prof.CurrentAlignment,
		&chrono, &prof.ConfidenceBps, &lastML, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	for i := 0; i < len(prof.HourHistogram) && i < len(hist); i++ {
		prof.HourHistogram[i] = int(hist[i])
	}
	if ct, err := chronotype.Parse(chrono); err == nil {
		prof.Chronotype = ct
	}
	if lastML.Valid {
		prof.LastMLUpdate = lastML.Time
	}
	if createdAt.Valid {
		prof.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		prof.UpdatedAt = updatedAt.Time
	}
	return &prof, nil
}

// Upsert inserts or replaces a profile keyed by borrower address.
func (p *PostgresStore) Upsert(ctx context.Context, prof *Profile) error {
	prof.UpdatedAt = time.Now()

	hist := make(pq.Int64Array, len(prof.HourHistogram))
	for i, c := range prof.HourHistogram {
		hist[i] = int64(c)
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_profiles (
			borrower, total_borrow_sessions, total_repayment_sessions,
			hour_histogram, consistency_score, risk_score, current_alignment,
			chronotype, confidence_bps, last_ml_update, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (borrower) DO UPDATE SET
			total_borrow_sessions    = EXCLUDED.total_borrow_sessions,
			total_repayment_sessions = EXCLUDED.total_repayment_sessions,
			hour_histogram           = EXCLUDED.hour_histogram,
			consistency_score        = EXCLUDED.consistency_score,
			risk_score               = EXCLUDED.risk_score,
			current_alignment        = EXCLUDED.current_alignment,
			chronotype               = EXCLUDED.chronotype,
			confidence_bps           = EXCLUDED.confidence_bps,
			last_ml_update           = EXCLUDED.last_ml_update,
			updated_at               = EXCLUDED.updated_at
	`,
		strings.ToLower(prof.Borrower), prof.TotalBorrowSessions, prof.TotalRepaymentSessions,
		hist, prof.ConsistencyScore, prof.RiskScore, prof.CurrentAlignment,
		prof.Chronotype.String(), prof.ConfidenceBps,
		nullTimeOrValue(prof.LastMLUpdate), prof.CreatedAt, prof.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// nullTimeOrValue returns a sql.NullTime: valid if t is non-zero, null otherwise.
func nullTimeOrValue(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
