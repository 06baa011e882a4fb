// Package marketplace owns products, escrowed purchases and the settlement
// state machine. Every transition runs in one transaction that locks the
// purchase row first, so mutations of a purchase are strictly serialized and
// all-or-nothing. Status is always written before funds move.
package marketplace

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duckrwx/jurisland/events"
	"github.com/duckrwx/jurisland/ledger"
	"github.com/duckrwx/jurisland/reputation"
)

// ReputationLedger is the slice of the reputation component the escrow
// needs. Calls carry the configuration-time token the reputation ledger was
// wired with.
type ReputationLedger interface {
	Update(ctx context.Context, tx pgx.Tx, callerToken, userID string, role reputation.Role, points int64) error
	RecordReturn(ctx context.Context, tx pgx.Tx, callerToken, buyerID, sellerID string) error
}

// FundMover is the slice of the ledger the escrow needs.
type FundMover interface {
	EnsureAccount(ctx context.Context, tx pgx.Tx, ownerID string) error
	Transfer(ctx context.Context, tx pgx.Tx, from, to string, amount int64, kind, ref string) error
}

// JuryPort is how the escrow hands a purchase over to dispute resolution.
// The jury pool calls back through ExecuteVerdict/RevertDispute; neither
// package imports the other.
type JuryPort interface {
	InitiateDispute(ctx context.Context, tx pgx.Tx, purchaseID, value int64, plaintiffID, defendantID, priorStatus string) error
}

// Escrow is the marketplace escrow service.
type Escrow struct {
	pool      *pgxpool.Pool
	repo      *Repository
	funds     FundMover
	rep       ReputationLedger
	outbox    events.Writer
	jurors    JuryPort
	repToken  string
	juryToken string
	now       func() time.Time
}

// NewEscrow wires the escrow service. repToken authorizes calls into the
// reputation ledger; juryToken is the secret the jury pool must present on
// verdict callbacks. The jury port is bound separately (BindJury) because
// the two services reference each other.
func NewEscrow(pool *pgxpool.Pool, repo *Repository, funds FundMover, rep ReputationLedger, outbox events.Writer, repToken, juryToken string) *Escrow {
	return &Escrow{
		pool:      pool,
		repo:      repo,
		funds:     funds,
		rep:       rep,
		outbox:    outbox,
		repToken:  repToken,
		juryToken: juryToken,
		now:       time.Now,
	}
}

// BindJury attaches the jury pool after both services exist.
func (e *Escrow) BindJury(jurors JuryPort) *Escrow {
	e.jurors = jurors
	return e
}

// WithClock overrides the time source for tests.
func (e *Escrow) WithClock(now func() time.Time) *Escrow {
	e.now = now
	return e
}

// ListProduct validates and creates a listing.
func (e *Escrow) ListProduct(ctx context.Context, params ListProductParams) (Product, error) {
	if params.SellerID == "" || params.DelivererID == "" {
		return Product{}, fmt.Errorf("marketplace: seller and deliverer required: %w", ErrUnauthorized)
	}
	if params.CreatorID != nil && *params.CreatorID == "" {
		return Product{}, fmt.Errorf("marketplace: empty creator id: %w", ErrUnauthorized)
	}
	if params.Price <= 0 {
		return Product{}, ErrInvalidAmount
	}
	if params.CommissionBps < 0 || params.CommissionBps > MaxCommissionBps {
		return Product{}, ErrInvalidAmount
	}
	if params.MetadataRef == "" {
		return Product{}, fmt.Errorf("marketplace: metadata reference required")
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Product{}, fmt.Errorf("marketplace: begin list: %w", err)
	}
	defer tx.Rollback(ctx)

	product, err := e.repo.InsertProduct(ctx, tx, params)
	if err != nil {
		return Product{}, err
	}

	if err := e.outbox.Emit(ctx, tx, events.TopicProductListed, map[string]any{
		"product_id": product.ID,
		"seller_id":  product.SellerID,
		"price":      product.Price,
	}); err != nil {
		return Product{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Product{}, fmt.Errorf("marketplace: commit list: %w", err)
	}
	return product, nil
}

// DeactivateProduct delists a product. Seller only; existing purchases are
// unaffected.
func (e *Escrow) DeactivateProduct(ctx context.Context, sellerID string, productID int64) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("marketplace: begin deactivate: %w", err)
	}
	defer tx.Rollback(ctx)

	product, err := e.repo.GetProductForUpdate(ctx, tx, productID)
	if err != nil {
		return err
	}
	if product.SellerID != sellerID {
		return ErrUnauthorized
	}
	if !product.Active {
		return ErrInvalidState
	}

	if err := e.repo.DeactivateProduct(ctx, tx, productID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("marketplace: commit deactivate: %w", err)
	}
	return nil
}

// PurchaseProduct locks payment in escrow and creates a pending purchase.
// The payment must equal the current price exactly; the price and commission
// are snapshotted onto the purchase.
func (e *Escrow) PurchaseProduct(ctx context.Context, buyerID string, productID, payment int64) (Purchase, error) {
	if buyerID == "" {
		return Purchase{}, ErrUnauthorized
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Purchase{}, fmt.Errorf("marketplace: begin purchase: %w", err)
	}
	defer tx.Rollback(ctx)

	product, err := e.repo.GetProductForUpdate(ctx, tx, productID)
	if err != nil {
		return Purchase{}, err
	}
	if !product.Active {
		return Purchase{}, ErrInvalidState
	}
	if product.SellerID == buyerID {
		return Purchase{}, ErrUnauthorized
	}
	if payment != product.Price {
		return Purchase{}, ErrInvalidAmount
	}

	purchase, err := e.repo.InsertPurchase(ctx, tx, product, buyerID)
	if err != nil {
		return Purchase{}, err
	}

	if err := e.funds.Transfer(ctx, tx, buyerID, ledger.AccountEscrow, payment, ledger.KindEscrowLock, purchaseRef(purchase.ID)); err != nil {
		return Purchase{}, err
	}

	if err := e.outbox.Emit(ctx, tx, events.TopicPurchaseInitiated, map[string]any{
		"purchase_id": purchase.ID,
		"product_id":  product.ID,
		"buyer_id":    buyerID,
		"price":       purchase.Price,
	}); err != nil {
		return Purchase{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Purchase{}, fmt.Errorf("marketplace: commit purchase: %w", err)
	}
	return purchase, nil
}

// ConfirmDelivery moves a pending purchase to delivery_confirmed and starts
// the release window.
func (e *Escrow) ConfirmDelivery(ctx context.Context, delivererID string, purchaseID int64) error {
	return e.transition(ctx, purchaseID, func(ctx context.Context, tx pgx.Tx, p Purchase) error {
		if p.Status != StatusPending {
			return ErrInvalidState
		}
		if p.DelivererID != delivererID {
			return ErrUnauthorized
		}

		releaseAt := e.now().Add(ReleaseWindow)
		if err := e.repo.SetPurchaseStatus(ctx, tx, p.ID, StatusDeliveryConfirmed, &releaseAt, nil); err != nil {
			return err
		}
		return e.outbox.Emit(ctx, tx, events.TopicDeliveryConfirmed, map[string]any{
			"purchase_id": p.ID,
			"release_at":  releaseAt.UTC(),
		})
	})
}

// FinalizePurchase completes a delivered purchase: the buyer may finalize
// early, anyone may finalize once the release window has lapsed. Funds are
// distributed and completion reputation applied.
func (e *Escrow) FinalizePurchase(ctx context.Context, callerID string, purchaseID int64) error {
	return e.transition(ctx, purchaseID, func(ctx context.Context, tx pgx.Tx, p Purchase) error {
		if p.Status != StatusDeliveryConfirmed {
			return ErrInvalidState
		}
		if callerID != p.BuyerID {
			if p.ReleaseAt == nil || e.now().Before(*p.ReleaseAt) {
				return ErrWindowOpen
			}
		}

		if err := e.repo.SetPurchaseStatus(ctx, tx, p.ID, StatusCompleted, nil, nil); err != nil {
			return err
		}
		if err := e.distribute(ctx, tx, p); err != nil {
			return err
		}

		if err := e.rep.Update(ctx, tx, e.repToken, p.SellerID, reputation.RoleSeller, SellerCompletionPoints); err != nil {
			return err
		}
		if err := e.rep.Update(ctx, tx, e.repToken, p.BuyerID, reputation.RoleBuyer, BuyerCompletionPoints); err != nil {
			return err
		}
		if p.CreatorID != nil {
			if err := e.rep.Update(ctx, tx, e.repToken, *p.CreatorID, reputation.RoleCreator, CreatorCompletionPoints); err != nil {
				return err
			}
		}

		return e.outbox.Emit(ctx, tx, events.TopicPurchaseCompleted, map[string]any{
			"purchase_id": p.ID,
			"price":       p.Price,
		})
	})
}

// RequestReturn lets the buyer ask for a return while the release window is
// still open.
func (e *Escrow) RequestReturn(ctx context.Context, buyerID string, purchaseID int64) error {
	return e.transition(ctx, purchaseID, func(ctx context.Context, tx pgx.Tx, p Purchase) error {
		if p.Status != StatusDeliveryConfirmed {
			return ErrInvalidState
		}
		if p.BuyerID != buyerID {
			return ErrUnauthorized
		}
		if p.ReleaseAt == nil || !e.now().Before(*p.ReleaseAt) {
			return ErrWindowClosed
		}
		return e.repo.SetPurchaseStatus(ctx, tx, p.ID, StatusReturnRequested, nil, nil)
	})
}

// ConfirmReturnReceipt acknowledges the returned goods and starts the
// inspection window.
func (e *Escrow) ConfirmReturnReceipt(ctx context.Context, sellerID string, purchaseID int64) error {
	return e.transition(ctx, purchaseID, func(ctx context.Context, tx pgx.Tx, p Purchase) error {
		if p.Status != StatusReturnRequested {
			return ErrInvalidState
		}
		if p.SellerID != sellerID {
			return ErrUnauthorized
		}
		inspectionAt := e.now().Add(InspectionWindow)
		return e.repo.SetPurchaseStatus(ctx, tx, p.ID, StatusReturnReceived, nil, &inspectionAt)
	})
}

// ApproveReturn refunds the buyer in full. The seller may approve during
// inspection; anyone may once the inspection window has lapsed.
func (e *Escrow) ApproveReturn(ctx context.Context, callerID string, purchaseID int64) error {
	return e.transition(ctx, purchaseID, func(ctx context.Context, tx pgx.Tx, p Purchase) error {
		if p.Status != StatusReturnReceived {
			return ErrInvalidState
		}
		if callerID != p.SellerID {
			if p.InspectionAt == nil || e.now().Before(*p.InspectionAt) {
				return ErrWindowOpen
			}
		}

		if err := e.repo.SetPurchaseStatus(ctx, tx, p.ID, StatusRefunded, nil, nil); err != nil {
			return err
		}
		if err := e.funds.Transfer(ctx, tx, ledger.AccountEscrow, p.BuyerID, p.Price, ledger.KindRefund, purchaseRef(p.ID)); err != nil {
			return err
		}
		if err := e.rep.RecordReturn(ctx, tx, e.repToken, p.BuyerID, p.SellerID); err != nil {
			return err
		}
		return e.outbox.Emit(ctx, tx, events.TopicPurchaseRefunded, map[string]any{
			"purchase_id": p.ID,
			"refund":      p.Price,
		})
	})
}

// OpenDispute hands the purchase to the jury pool. Role/state policy: the
// buyer disputes a delivery, the seller disputes a received return.
func (e *Escrow) OpenDispute(ctx context.Context, callerID string, purchaseID int64) error {
	if e.jurors == nil {
		return fmt.Errorf("marketplace: jury pool not configured")
	}
	return e.transition(ctx, purchaseID, func(ctx context.Context, tx pgx.Tx, p Purchase) error {
		var defendantID string
		switch callerID {
		case p.BuyerID:
			if p.Status != StatusDeliveryConfirmed {
				return ErrInvalidState
			}
			defendantID = p.SellerID
		case p.SellerID:
			if p.Status != StatusReturnReceived {
				return ErrInvalidState
			}
			defendantID = p.BuyerID
		default:
			return ErrUnauthorized
		}

		priorStatus := p.Status
		if err := e.repo.SetPurchaseStatus(ctx, tx, p.ID, StatusDisputeOpen, nil, nil); err != nil {
			return err
		}
		if err := e.jurors.InitiateDispute(ctx, tx, p.ID, p.Price, callerID, defendantID, string(priorStatus)); err != nil {
			return err
		}
		return e.outbox.Emit(ctx, tx, events.TopicDisputeOpened, map[string]any{
			"purchase_id":  p.ID,
			"plaintiff_id": callerID,
			"defendant_id": defendantID,
			"value":        p.Price,
		})
	})
}

// ExecuteVerdict is the jury pool's one-shot callback. It runs inside the
// jury's transaction so the tally, fund movement and penalty commit
// together. A replay for the same purchase fails ErrInvalidState because the
// status has already left dispute_open.
func (e *Escrow) ExecuteVerdict(ctx context.Context, tx pgx.Tx, purchaseID int64, winnerID, callerToken string) error {
	if callerToken != e.juryToken {
		return ErrUnauthorized
	}

	p, err := e.repo.GetPurchaseForUpdate(ctx, tx, purchaseID)
	if err != nil {
		return err
	}
	if p.Status != StatusDisputeOpen {
		return ErrInvalidState
	}

	switch winnerID {
	case p.BuyerID:
		if err := e.repo.SetPurchaseStatus(ctx, tx, p.ID, StatusRefunded, nil, nil); err != nil {
			return err
		}
		if err := e.funds.Transfer(ctx, tx, ledger.AccountEscrow, p.BuyerID, p.Price, ledger.KindRefund, purchaseRef(p.ID)); err != nil {
			return err
		}
		if err := e.rep.Update(ctx, tx, e.repToken, p.SellerID, reputation.RoleSeller, -SellerDisputeLossPenalty); err != nil {
			return err
		}
		return e.outbox.Emit(ctx, tx, events.TopicPurchaseRefunded, map[string]any{
			"purchase_id": p.ID,
			"refund":      p.Price,
			"verdict":     "buyer",
		})
	case p.SellerID:
		if err := e.repo.SetPurchaseStatus(ctx, tx, p.ID, StatusCompleted, nil, nil); err != nil {
			return err
		}
		if err := e.distribute(ctx, tx, p); err != nil {
			return err
		}
		if err := e.rep.Update(ctx, tx, e.repToken, p.BuyerID, reputation.RoleBuyer, -BuyerDisputeLossPenalty); err != nil {
			return err
		}
		return e.outbox.Emit(ctx, tx, events.TopicPurchaseCompleted, map[string]any{
			"purchase_id": p.ID,
			"price":       p.Price,
			"verdict":     "seller",
		})
	default:
		return fmt.Errorf("marketplace: verdict winner %s is not a party to purchase %d", winnerID, purchaseID)
	}
}

// RevertDispute restores a purchase to its pre-dispute status when the jury
// pool cancels a dispute before any vote was cast.
func (e *Escrow) RevertDispute(ctx context.Context, tx pgx.Tx, purchaseID int64, priorStatus, callerToken string) error {
	if callerToken != e.juryToken {
		return ErrUnauthorized
	}

	p, err := e.repo.GetPurchaseForUpdate(ctx, tx, purchaseID)
	if err != nil {
		return err
	}
	if p.Status != StatusDisputeOpen {
		return ErrInvalidState
	}

	prior := Status(priorStatus)
	if prior != StatusDeliveryConfirmed && prior != StatusReturnReceived {
		return ErrInvalidState
	}
	return e.repo.SetPurchaseStatus(ctx, tx, p.ID, prior, nil, nil)
}

// distribute splits the escrowed price: platform fee first, then creator
// commission computed off the original price, remainder to the seller.
// Integer arithmetic throughout; the three parts always sum to the price.
func (e *Escrow) distribute(ctx context.Context, tx pgx.Tx, p Purchase) error {
	settings, err := e.repo.GetSettings(ctx, tx)
	if err != nil {
		return err
	}

	ref := purchaseRef(p.ID)
	split := computeDistribution(p.Price, settings.PlatformFeeBps, p.CommissionBps, settings.FeeRecipientID != nil, p.CreatorID != nil)

	if split.Fee > 0 {
		if err := e.funds.EnsureAccount(ctx, tx, *settings.FeeRecipientID); err != nil {
			return err
		}
		if err := e.funds.Transfer(ctx, tx, ledger.AccountEscrow, *settings.FeeRecipientID, split.Fee, ledger.KindPlatformFee, ref); err != nil {
			return err
		}
	}
	if split.Commission > 0 {
		if err := e.funds.EnsureAccount(ctx, tx, *p.CreatorID); err != nil {
			return err
		}
		if err := e.funds.Transfer(ctx, tx, ledger.AccountEscrow, *p.CreatorID, split.Commission, ledger.KindCreatorPayout, ref); err != nil {
			return err
		}
	}
	if split.SellerShare > 0 {
		if err := e.funds.EnsureAccount(ctx, tx, p.SellerID); err != nil {
			return err
		}
		if err := e.funds.Transfer(ctx, tx, ledger.AccountEscrow, p.SellerID, split.SellerShare, ledger.KindSellerPayout, ref); err != nil {
			return err
		}
	}
	return nil
}

// transition runs fn against the locked purchase row in a fresh transaction.
func (e *Escrow) transition(ctx context.Context, purchaseID int64, fn func(context.Context, pgx.Tx, Purchase) error) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("marketplace: begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	purchase, err := e.repo.GetPurchaseForUpdate(ctx, tx, purchaseID)
	if err != nil {
		return err
	}
	if err := fn(ctx, tx, purchase); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("marketplace: commit transition: %w", err)
	}
	return nil
}

// GetProduct returns a product by id.
func (e *Escrow) GetProduct(ctx context.Context, id int64) (Product, error) {
	return e.repo.GetProduct(ctx, id)
}

// GetPurchase returns a purchase by id.
func (e *Escrow) GetPurchase(ctx context.Context, id int64) (Purchase, error) {
	return e.repo.GetPurchase(ctx, id)
}

// ListActiveProducts pages through active listings.
func (e *Escrow) ListActiveProducts(ctx context.Context, offset, limit int) (ProductPage, error) {
	return e.repo.ListActiveProducts(ctx, offset, limit)
}

func purchaseRef(id int64) string {
	return "purchase:" + strconv.FormatInt(id, 10)
}
