package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sbilibin2017/gw-deposit-settler/internal/models"
	"github.com/shopspring/decimal"
)

const (
	createAccountsTable = `
		CREATE TABLE IF NOT EXISTS accounts (
			email TEXT PRIMARY KEY,
			amount NUMERIC(20,2) NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`
	createDepositsTable = `
		CREATE TABLE IF NOT EXISTS deposits (
			deposit_key TEXT PRIMARY KEY,
			email TEXT NOT NULL,
			amount NUMERIC(20,2) NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`
)

// BalancePostgresRepository keeps account balances in Postgres.
type BalancePostgresRepository struct {
	db *sqlx.DB
}

func NewBalancePostgresRepository(db *sqlx.DB) *BalancePostgresRepository {
	return &BalancePostgresRepository{db: db}
}

// EnsureSchema creates the accounts and deposits tables if they are missing.
func (r *BalancePostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range []string{createAccountsTable, createDepositsTable} {
		_, err := r.db.ExecContext(ctx, stmt)
		logQuery(stmt, nil, nil, err)
		if err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Get returns the balance of an account. found is false when the account is absent.
func (r *BalancePostgresRepository) Get(ctx context.Context, email string) (decimal.Decimal, bool, error) {
	const query = `
		SELECT email, amount, created_at, updated_at
		FROM accounts
		WHERE email = $1
	`

	var account models.AccountDB
	err := r.db.GetContext(ctx, &account, query, email)
	logQuery(query, []any{email}, account.Balance, err)

	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return account.Balance, true, nil
}

// Put inserts a new account.
func (r *BalancePostgresRepository) Put(ctx context.Context, email string, balance decimal.Decimal) error {
	const query = `
		INSERT INTO accounts (email, amount, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (email) DO NOTHING
	`

	res, err := r.db.ExecContext(ctx, query, email, balance)
	logQuery(query, []any{email, balance}, nil, err)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountExists
	}
	return nil
}

// Update overwrites the balance of an existing account.
func (r *BalancePostgresRepository) Update(ctx context.Context, email string, balance decimal.Decimal) error {
	const query = `
		UPDATE accounts
		SET amount = $2, updated_at = NOW()
		WHERE email = $1
	`

	res, err := r.db.ExecContext(ctx, query, email, balance)
	logQuery(query, []any{email, balance}, nil, err)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Credit adds amount to the account balance once per depositKey.
// The deposit record and the increment commit together. A key that was
// already recorded leaves the balance untouched and reports applied=false.
func (r *BalancePostgresRepository) Credit(ctx context.Context, depositKey, email string, amount decimal.Decimal) (decimal.Decimal, bool, error) {
	const insertDeposit = `
		INSERT INTO deposits (deposit_key, email, amount, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (deposit_key) DO NOTHING
	`
	const upsertAccount = `
		INSERT INTO accounts (email, amount, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (email)
		DO UPDATE SET amount = accounts.amount + EXCLUDED.amount, updated_at = NOW()
		RETURNING amount
	`
	const selectBalance = `
		SELECT amount
		FROM accounts
		WHERE email = $1
	`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("begin credit: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, insertDeposit, depositKey, email, amount)
	logQuery(insertDeposit, []any{depositKey, email, amount}, nil, err)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("record deposit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("record deposit: %w", err)
	}

	var balance decimal.Decimal
	applied := n > 0
	if applied {
		err = tx.GetContext(ctx, &balance, upsertAccount, email, amount)
		logQuery(upsertAccount, []any{email, amount}, balance, err)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("credit account: %w", err)
		}
	} else {
		err = tx.GetContext(ctx, &balance, selectBalance, email)
		logQuery(selectBalance, []any{email}, balance, err)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, false, fmt.Errorf("read balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, false, fmt.Errorf("commit credit: %w", err)
	}
	return balance, applied, nil
}
