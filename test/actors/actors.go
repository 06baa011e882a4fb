package actors

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duckrwx/jurisland/jury"
	"github.com/duckrwx/jurisland/ledger"
	"github.com/duckrwx/jurisland/marketplace"
)

// expected reports whether err is a sentinel the services raise under normal
// contention: lost races on state transitions, closed windows, exhausted
// funds. Anything else is a real failure and aborts the run.
func expected(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, marketplace.ErrInvalidState),
		errors.Is(err, marketplace.ErrNotFound),
		errors.Is(err, marketplace.ErrUnauthorized),
		errors.Is(err, marketplace.ErrWindowOpen),
		errors.Is(err, marketplace.ErrWindowClosed),
		errors.Is(err, marketplace.ErrInvalidAmount):
		return true
	case errors.Is(err, jury.ErrInvalidState),
		errors.Is(err, jury.ErrNotFound),
		errors.Is(err, jury.ErrAlreadyVoted),
		errors.Is(err, jury.ErrNotSelected),
		errors.Is(err, jury.ErrStakeLocked),
		errors.Is(err, jury.ErrWindowOpen),
		errors.Is(err, jury.ErrInvalidAmount),
		errors.Is(err, jury.ErrInsufficientJurors):
		return true
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return true
	}
	return transient(err)
}

// transient reports whether err looks like fallout from the chaos worker
// killing a backend rather than a logic bug. Class 40 is serialization and
// deadlock, 57 is operator intervention, 08 is connection exceptions.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "40", "57", "08":
			return true
		}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "conn closed") || strings.Contains(msg, "broken pipe")
}

// Shopper buys random active products at list price.
func Shopper(ctx context.Context, escrow *marketplace.Escrow, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		page, err := escrow.ListActiveProducts(ctx, 0, 50)
		if err != nil && !transient(err) {
			return err
		}
		if len(page.Items) > 0 {
			prod := page.Items[rand.Intn(len(page.Items))]
			if _, err := escrow.PurchaseProduct(ctx, buyerID, prod.ID, prod.Price); !expected(err) {
				return err
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Courier confirms delivery on its pending purchases.
func Courier(ctx context.Context, pool *pgxpool.Pool, escrow *marketplace.Escrow, delivererID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var purchaseID int64
		err := pool.QueryRow(ctx, `
            SELECT id FROM purchases WHERE deliverer_id = $1 AND status = 'pending'
            ORDER BY id LIMIT 1
        `, delivererID).Scan(&purchaseID)
		if err == nil {
			if err := escrow.ConfirmDelivery(ctx, delivererID, purchaseID); !expected(err) {
				return err
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && !transient(err) {
			return err
		}
		time.Sleep(time.Duration(15+rand.Intn(30)) * time.Millisecond)
	}
}

// Settler plays the buyer after delivery: mostly finalizes, sometimes
// requests a return, occasionally opens a dispute.
func Settler(ctx context.Context, pool *pgxpool.Pool, escrow *marketplace.Escrow, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var purchaseID int64
		err := pool.QueryRow(ctx, `
            SELECT id FROM purchases WHERE buyer_id = $1 AND status = 'delivery_confirmed'
            ORDER BY id LIMIT 1
        `, buyerID).Scan(&purchaseID)
		if err == nil {
			var opErr error
			switch roll := rand.Intn(10); {
			case roll < 7:
				opErr = escrow.FinalizePurchase(ctx, buyerID, purchaseID)
			case roll < 9:
				opErr = escrow.RequestReturn(ctx, buyerID, purchaseID)
			default:
				opErr = escrow.OpenDispute(ctx, buyerID, purchaseID)
			}
			if !expected(opErr) {
				return opErr
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && !transient(err) {
			return err
		}
		time.Sleep(time.Duration(15+rand.Intn(40)) * time.Millisecond)
	}
}

// ReturnsDesk plays the seller side of returns: acknowledges receipt, then
// either approves the refund or escalates to a dispute.
func ReturnsDesk(ctx context.Context, pool *pgxpool.Pool, escrow *marketplace.Escrow, sellerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var (
			purchaseID int64
			status     string
		)
		err := pool.QueryRow(ctx, `
            SELECT id, status::text FROM purchases
            WHERE seller_id = $1 AND status IN ('return_requested','return_received')
            ORDER BY id LIMIT 1
        `, sellerID).Scan(&purchaseID, &status)
		if err == nil {
			var opErr error
			switch {
			case status == "return_requested":
				opErr = escrow.ConfirmReturnReceipt(ctx, sellerID, purchaseID)
			case rand.Intn(10) < 8:
				opErr = escrow.ApproveReturn(ctx, sellerID, purchaseID)
			default:
				opErr = escrow.OpenDispute(ctx, sellerID, purchaseID)
			}
			if !expected(opErr) {
				return opErr
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && !transient(err) {
			return err
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Juror votes on disputes it is seated on and occasionally tries to pull
// stake, which must fail with ErrStakeLocked while a panel is live.
func Juror(ctx context.Context, pool *pgxpool.Pool, jp *jury.Pool, jurorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var purchaseID int64
		err := pool.QueryRow(ctx, `
            SELECT dj.purchase_id FROM dispute_jurors dj
            JOIN disputes d ON d.purchase_id = dj.purchase_id
            WHERE dj.juror_id = $1 AND NOT dj.has_voted AND d.status = 'voting_active'
            ORDER BY dj.purchase_id LIMIT 1
        `, jurorID).Scan(&purchaseID)
		if err == nil {
			if err := jp.CastVote(ctx, jurorID, purchaseID, rand.Intn(2) == 0); !expected(err) {
				return err
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && !transient(err) {
			return err
		}
		if rand.Intn(20) == 0 {
			if err := jp.Unstake(ctx, jurorID, 1); !expected(err) {
				return err
			}
			if err := jp.Stake(ctx, jurorID, 1); !expected(err) {
				return err
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Resolver pokes voting_active disputes; before the deadline this must be
// rejected with ErrWindowOpen, which doubles as a guard check.
func Resolver(ctx context.Context, pool *pgxpool.Pool, jp *jury.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		var purchaseID int64
		err := pool.QueryRow(ctx, `
            SELECT purchase_id FROM disputes WHERE status = 'voting_active'
            ORDER BY purchase_id LIMIT 1
        `).Scan(&purchaseID)
		if err == nil {
			if err := jp.ResolveDispute(ctx, purchaseID); !expected(err) {
				return err
			}
		} else if !errors.Is(err, pgx.ErrNoRows) && !transient(err) {
			return err
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// OutboxWorker consumes pending outbox messages with SKIP LOCKED and marks
// them processed, simulating occasional delivery failures.
func OutboxWorker(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		rows, err := tx.Query(ctx, `SELECT id FROM outbox WHERE status='pending' ORDER BY created_at FOR UPDATE SKIP LOCKED LIMIT 10`)
		if err != nil {
			_ = tx.Rollback(ctx)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		ids := make([]string, 0, 10)
		for rows.Next() {
			var id string
			_ = rows.Scan(&id)
			ids = append(ids, id)
		}
		rows.Close()
		for _, id := range ids {
			if rand.Intn(10) == 0 {
				_, _ = tx.Exec(ctx, `UPDATE outbox SET attempts=attempts+1 WHERE id=$1`, id)
				continue
			}
			_, _ = tx.Exec(ctx, `UPDATE outbox SET status='processed' WHERE id=$1`, id)
		}
		_ = tx.Commit(ctx)
		time.Sleep(100 * time.Millisecond)
	}
}
