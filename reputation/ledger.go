// Package reputation maintains per-user buyer/seller/creator scores with
// saturating updates and return-abuse counters. Score mutations are only
// accepted from the marketplace, identified by a token agreed at wiring
// time rather than by caller-asserted identity.
package reputation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duckrwx/jurisland/events"
)

var (
	// ErrUserNotRegistered signals a score update for a user without a record.
	ErrUserNotRegistered = errors.New("reputation: user not registered")
	// ErrUnauthorized signals a caller token mismatch.
	ErrUnauthorized = errors.New("reputation: unauthorized caller")
	// ErrInvalidRole signals an unknown reputation role.
	ErrInvalidRole = errors.New("reputation: invalid role")
)

// Ledger owns the reputations table.
type Ledger struct {
	pool   *pgxpool.Pool
	outbox events.Writer
	caller string
}

// NewLedger wires the reputation ledger. callerToken is the secret the
// authorized marketplace instance must present on every mutation.
func NewLedger(pool *pgxpool.Pool, outbox events.Writer, callerToken string) *Ledger {
	return &Ledger{pool: pool, outbox: outbox, caller: callerToken}
}

// RegisterPersona creates the user's record with all scores at InitialScore,
// or updates only the persona hash if the record exists. Idempotent.
func (l *Ledger) RegisterPersona(ctx context.Context, userID, personaHash string) (Record, error) {
	if userID == "" {
		return Record{}, fmt.Errorf("reputation: empty user id")
	}

	const upsertSQL = `
        INSERT INTO reputations (user_id, buyer_score, seller_score, creator_score, persona_hash)
        VALUES ($1, $2, $2, $2, $3)
        ON CONFLICT (user_id) DO UPDATE SET persona_hash = $3, updated_at = now()
        RETURNING user_id, buyer_score, seller_score, creator_score,
                  buyer_return_count, seller_return_count, persona_hash, created_at, updated_at
    `

	rec, err := scanRecord(l.pool.QueryRow(ctx, upsertSQL, userID, InitialScore, personaHash))
	if err != nil {
		return Record{}, fmt.Errorf("reputation: register persona: %w", err)
	}
	return rec, nil
}

// Update applies points to one of the user's scores with saturating
// arithmetic inside the caller's transaction. Negative points floor at zero,
// positive points cap at MaxScore; clamping is silent.
func (l *Ledger) Update(ctx context.Context, tx pgx.Tx, callerToken, userID string, role Role, points int64) error {
	if callerToken != l.caller {
		return ErrUnauthorized
	}
	column, err := scoreColumn(role)
	if err != nil {
		return err
	}

	updateSQL := fmt.Sprintf(`
        UPDATE reputations
        SET %s = GREATEST(0, LEAST($1, %s + $2)), updated_at = now()
        WHERE user_id = $3
        RETURNING %s
    `, column, column, column)

	var after int64
	if err := tx.QueryRow(ctx, updateSQL, int64(MaxScore), points, userID).Scan(&after); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotRegistered
		}
		return fmt.Errorf("reputation: update %s: %w", column, err)
	}

	return l.outbox.Emit(ctx, tx, events.TopicReputationUpdated, map[string]any{
		"user_id": userID,
		"role":    string(role),
		"points":  points,
		"score":   after,
	})
}

// RecordReturn increments both parties' return counters. Unregistered
// parties are skipped rather than failing: this is a side-channel signal,
// not a critical transition. Every BuyerPenaltyThreshold-th buyer return and
// SellerPenaltyThreshold-th seller return applies the automatic penalty
// through the same clamping path.
func (l *Ledger) RecordReturn(ctx context.Context, tx pgx.Tx, callerToken, buyerID, sellerID string) error {
	if callerToken != l.caller {
		return ErrUnauthorized
	}

	if err := l.bumpReturnCounter(ctx, tx, buyerID, RoleBuyer); err != nil {
		return err
	}
	return l.bumpReturnCounter(ctx, tx, sellerID, RoleSeller)
}

func (l *Ledger) bumpReturnCounter(ctx context.Context, tx pgx.Tx, userID string, role Role) error {
	counter := "buyer_return_count"
	threshold := int64(BuyerPenaltyThreshold)
	penalty := int64(BuyerReturnPenalty)
	if role == RoleSeller {
		counter = "seller_return_count"
		threshold = SellerPenaltyThreshold
		penalty = SellerReturnPenalty
	}

	bumpSQL := fmt.Sprintf(`
        UPDATE reputations
        SET %s = %s + 1, updated_at = now()
        WHERE user_id = $1
        RETURNING %s
    `, counter, counter, counter)

	var count int64
	if err := tx.QueryRow(ctx, bumpSQL, userID).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("reputation: bump %s: %w", counter, err)
	}

	if count%threshold == 0 {
		return l.Update(ctx, tx, l.caller, userID, role, -penalty)
	}
	return nil
}

// Get returns the user's reputation record.
func (l *Ledger) Get(ctx context.Context, userID string) (Record, error) {
	const selectSQL = `
        SELECT user_id, buyer_score, seller_score, creator_score,
               buyer_return_count, seller_return_count, persona_hash, created_at, updated_at
        FROM reputations
        WHERE user_id = $1
    `

	rec, err := scanRecord(l.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrUserNotRegistered
		}
		return Record{}, fmt.Errorf("reputation: get record: %w", err)
	}
	return rec, nil
}

func scoreColumn(role Role) (string, error) {
	switch role {
	case RoleBuyer:
		return "buyer_score", nil
	case RoleSeller:
		return "seller_score", nil
	case RoleCreator:
		return "creator_score", nil
	default:
		return "", ErrInvalidRole
	}
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.UserID,
		&rec.BuyerScore,
		&rec.SellerScore,
		&rec.CreatorScore,
		&rec.BuyerReturnCount,
		&rec.SellerReturnCount,
		&rec.PersonaHash,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
