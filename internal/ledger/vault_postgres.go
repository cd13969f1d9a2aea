package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"

	"github.com/chronofi/chronolend/internal/fixedpoint"
)

// Compile-time check that PostgresVault implements Vault.
var _ Vault = (*PostgresVault)(nil)

// PostgresVault implements Vault backed by PostgreSQL.
type PostgresVault struct {
	db *sql.DB
}

// NewPostgresVault creates a new PostgreSQL-backed vault.
func NewPostgresVault(db *sql.DB) *PostgresVault {
	return &PostgresVault{db: db}
}

// Migrate creates the vault_accounts table if it doesn't exist.
func (v *PostgresVault) Migrate(ctx context.Context) error {
	_, err := v.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS vault_accounts (
			account    VARCHAR(64) NOT NULL,
			asset      VARCHAR(10) NOT NULL,
			balance    NUMERIC(20,6) NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (account, asset)
		);
	`)
	return err
}

func (v *PostgresVault) Balance(ctx context.Context, account, asset string) (*big.Int, error) {
	var balance string
	err := v.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM vault_accounts WHERE account = $1 AND asset = $2
	`, account, asset).Scan(&balance)
	if err == sql.ErrNoRows {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}

	amt, ok := fixedpoint.Parse(balance)
	if !ok {
		return nil, fmt.Errorf("malformed balance %q for %s/%s", balance, account, asset)
	}
	return amt, nil
}

func (v *PostgresVault) Credit(ctx context.Context, account, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO vault_accounts (account, asset, balance, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), NOW())
		ON CONFLICT (account, asset) DO UPDATE SET
			balance    = vault_accounts.balance + EXCLUDED.balance,
			updated_at = NOW()
	`, account, asset, fixedpoint.Format(amount))
	if err != nil {
		return fmt.Errorf("credit %s/%s: %w", account, asset, err)
	}
	return nil
}

func (v *PostgresVault) Transfer(ctx context.Context, from, to, asset string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}

	tx, err := v.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	formatted := fixedpoint.Format(amount)

	result, err := tx.ExecContext(ctx, `
		UPDATE vault_accounts
		SET balance = balance - $3::NUMERIC(20,6), updated_at = NOW()
		WHERE account = $1 AND asset = $2 AND balance >= $3::NUMERIC(20,6)
	`, from, asset, formatted)
	if err != nil {
		return fmt.Errorf("debit %s/%s: %w", from, asset, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s holds insufficient %s", ErrInsufficientFunds, from, asset)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO vault_accounts (account, asset, balance, updated_at)
		VALUES ($1, $2, $3::NUMERIC(20,6), NOW())
		ON CONFLICT (account, asset) DO UPDATE SET
			balance    = vault_accounts.balance + EXCLUDED.balance,
			updated_at = NOW()
	`, to, asset, formatted)
	if err != nil {
		return fmt.Errorf("credit %s/%s: %w", to, asset, err)
	}

	return tx.Commit()
}
