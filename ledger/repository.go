// Package ledger is the fund custody layer. Every purchase lock, payout,
// refund, stake and slash is a Transfer between two accounts plus an
// append-only ledger entry, executed inside the caller's transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrInsufficientFunds signals a debit larger than the account balance.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrInvalidAmount signals a zero or negative transfer amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
	// ErrAccountNotFound signals the account row does not exist.
	ErrAccountNotFound = errors.New("ledger: account not found")
)

// AccountExternal is the counter-account for deposits flowing in from the
// excluded payments layer.
const AccountExternal = "external"

// Repository moves funds between accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EnsureAccount creates a user account row if absent.
func (r *Repository) EnsureAccount(ctx context.Context, tx pgx.Tx, ownerID string) error {
	if ownerID == "" {
		return fmt.Errorf("ledger: empty account owner")
	}
	if _, err := tx.Exec(ctx, `INSERT INTO accounts (owner_id) VALUES ($1) ON CONFLICT (owner_id) DO NOTHING`, ownerID); err != nil {
		return fmt.Errorf("ledger: ensure account %s: %w", ownerID, err)
	}
	return nil
}

// Transfer moves amount from one account to another and records the entry.
// Both account rows are locked in lexicographic order so concurrent
// transfers touching the same pair cannot deadlock. A user account may not
// go below zero; system accounts may (jury_treasury runs a deficit when
// slash income does not cover juror rewards).
func (r *Repository) Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64, kind, ref string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if from == "" || to == "" || from == to {
		return fmt.Errorf("ledger: invalid transfer %q -> %q", from, to)
	}

	first, second := from, to
	if second < first {
		first, second = second, first
	}
	for _, owner := range []string{first, second} {
		var balance int64
		var isSystem bool
		err := tx.QueryRow(ctx, `SELECT balance, is_system FROM accounts WHERE owner_id = $1 FOR UPDATE`, owner).
			Scan(&balance, &isSystem)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("ledger: account %s: %w", owner, ErrAccountNotFound)
			}
			return fmt.Errorf("ledger: lock account %s: %w", owner, err)
		}
		if owner == from && !isSystem && balance < amount {
			return ErrInsufficientFunds
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance - $1, updated_at = now() WHERE owner_id = $2`, amount, from); err != nil {
		return fmt.Errorf("ledger: debit %s: %w", from, err)
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET balance = balance + $1, updated_at = now() WHERE owner_id = $2`, amount, to); err != nil {
		return fmt.Errorf("ledger: credit %s: %w", to, err)
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO ledger_entries (from_account, to_account, amount, kind, ref)
        VALUES ($1, $2, $3, $4, $5)
    `, from, to, amount, kind, ref); err != nil {
		return fmt.Errorf("ledger: append entry: %w", err)
	}

	return nil
}

// Deposit credits a user account from the external counter-account, creating
// the account on first use.
func (r *Repository) Deposit(ctx context.Context, ownerID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger: begin deposit: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := r.EnsureAccount(ctx, tx, ownerID); err != nil {
		return err
	}
	if err := r.Transfer(ctx, tx, AccountExternal, ownerID, amount, KindDeposit, ""); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ledger: commit deposit: %w", err)
	}
	return nil
}

// GetAccount returns the full account row, system flag included.
func (r *Repository) GetAccount(ctx context.Context, ownerID string) (Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, `
        SELECT owner_id, balance, is_system, created_at, updated_at
        FROM accounts
        WHERE owner_id = $1
    `, ownerID).Scan(&a.OwnerID, &a.Balance, &a.IsSystem, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("ledger: get account %s: %w", ownerID, err)
	}
	return a, nil
}

// Balance returns the current balance of an account.
func (r *Repository) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := r.pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE owner_id = $1`, ownerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: query balance %s: %w", ownerID, err)
	}
	return balance, nil
}

// Entries lists fund movements for a reference (e.g. a purchase id), oldest
// first.
func (r *Repository) Entries(ctx context.Context, ref string) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, from_account, to_account, amount, kind, ref, created_at
        FROM ledger_entries
        WHERE ref = $1
        ORDER BY id ASC
    `, ref)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 8)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.FromAccount, &e.ToAccount, &e.Amount, &e.Kind, &e.Ref, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return out, nil
}
