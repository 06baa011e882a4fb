package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminService applies owner-only marketplace configuration. The owner is
// fixed at wiring time, the on-chain onlyOwner analog.
type AdminService struct {
	pool    *pgxpool.Pool
	repo    *Repository
	ownerID string
}

// NewAdminService wires the admin surface.
func NewAdminService(pool *pgxpool.Pool, repo *Repository, ownerID string) *AdminService {
	return &AdminService{pool: pool, repo: repo, ownerID: ownerID}
}

// SetPlatformFee updates the fee taken off every distribution. Capped at
// MaxPlatformFeeBps.
func (a *AdminService) SetPlatformFee(ctx context.Context, callerID string, bps int) error {
	if callerID != a.ownerID {
		return ErrUnauthorized
	}
	if bps < 0 || bps > MaxPlatformFeeBps {
		return ErrInvalidAmount
	}

	_, err := a.pool.Exec(ctx, `
        UPDATE marketplace_settings SET platform_fee_bps = $1, updated_at = now() WHERE singleton
    `, bps)
	if err != nil {
		return fmt.Errorf("marketplace: set platform fee: %w", err)
	}
	return nil
}

// SetFeeRecipient points platform fees at an existing user. An empty or
// unknown id is rejected.
func (a *AdminService) SetFeeRecipient(ctx context.Context, callerID, recipientID string) error {
	if callerID != a.ownerID {
		return ErrUnauthorized
	}
	if recipientID == "" {
		return fmt.Errorf("marketplace: empty fee recipient: %w", ErrNotFound)
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("marketplace: begin set fee recipient: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, recipientID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("marketplace: check fee recipient: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx, `
        UPDATE marketplace_settings SET fee_recipient_id = $1, updated_at = now() WHERE singleton
    `, recipientID); err != nil {
		return fmt.Errorf("marketplace: set fee recipient: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("marketplace: commit set fee recipient: %w", err)
	}
	return nil
}

// Settings returns the current configuration.
func (a *AdminService) Settings(ctx context.Context) (Settings, error) {
	return a.repo.ReadSettings(ctx)
}
