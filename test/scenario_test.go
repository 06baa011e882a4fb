package test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duckrwx/jurisland/events"
	"github.com/duckrwx/jurisland/jury"
	"github.com/duckrwx/jurisland/ledger"
	"github.com/duckrwx/jurisland/marketplace"
	"github.com/duckrwx/jurisland/reputation"
	"github.com/duckrwx/jurisland/test/infra"
)

type warpClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *warpClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *warpClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixedEntropy struct{ b [32]byte }

func (f fixedEntropy) Entropy() ([32]byte, error) { return f.b, nil }

type harness struct {
	pool   *pgxpool.Pool
	funds  *ledger.Repository
	rep    *reputation.Ledger
	escrow *marketplace.Escrow
	jury   *jury.Pool
	admin  *marketplace.AdminService
	clock  *warpClock
	owner  string
}

func newHarness(t *testing.T, ctx context.Context) *harness {
	t.Helper()

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("JURISLAND_TEST_PG_DSN") != "":
		dsn = os.Getenv("JURISLAND_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	t.Cleanup(func() { _ = pgC.Terminate(context.Background()) })

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	t.Cleanup(func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
		pool.Close()
	})

	clock := &warpClock{now: time.Now().Truncate(time.Second)}
	outbox := events.NewOutboxWriter()
	funds := ledger.NewRepository(pool)
	repLedger := reputation.NewLedger(pool, outbox, repToken)

	h := &harness{
		pool:  pool,
		funds: funds,
		rep:   repLedger,
		clock: clock,
	}
	h.owner = h.newUser(t, ctx, "owner")

	h.escrow = marketplace.NewEscrow(pool, marketplace.NewRepository(pool), funds, repLedger, outbox, repToken, juryToken).
		WithClock(clock.Now)
	h.jury = jury.NewPool(pool, funds, outbox, juryToken, h.owner).
		WithClock(clock.Now).
		WithEntropy(fixedEntropy{b: [32]byte{1, 2, 3}})
	h.jury.BindExecutor(h.escrow)
	h.escrow.BindJury(h.jury)
	h.admin = marketplace.NewAdminService(pool, marketplace.NewRepository(pool), h.owner)

	return h
}

func (h *harness) newUser(t *testing.T, ctx context.Context, label string) string {
	t.Helper()
	var id string
	email := fmt.Sprintf("%s-%d@example.com", label, rand.Int63())
	if err := h.pool.QueryRow(ctx, `
        INSERT INTO users (email, full_name) VALUES ($1, $2) RETURNING id
    `, email, "Scenario "+label).Scan(&id); err != nil {
		t.Fatalf("seed user %s: %v", label, err)
	}
	if _, err := h.rep.RegisterPersona(ctx, id, "persona-"+label); err != nil {
		t.Fatalf("register persona %s: %v", label, err)
	}
	if err := h.funds.Deposit(ctx, id, 100_000); err != nil {
		t.Fatalf("fund %s: %v", label, err)
	}
	return id
}

func (h *harness) balance(t *testing.T, ctx context.Context, owner string) int64 {
	t.Helper()
	bal, err := h.funds.Balance(ctx, owner)
	if err != nil {
		t.Fatalf("balance %s: %v", owner, err)
	}
	return bal
}

func (h *harness) record(t *testing.T, ctx context.Context, userID string) reputation.Record {
	t.Helper()
	rec, err := h.rep.Get(ctx, userID)
	if err != nil {
		t.Fatalf("reputation get: %v", err)
	}
	return rec
}

// listAndBuy seeds a product and walks it to delivery_confirmed.
func (h *harness) listAndBuy(t *testing.T, ctx context.Context, seller, deliverer, buyer string, creator *string, price int64, commissionBps int) marketplace.Purchase {
	t.Helper()
	prod, err := h.escrow.ListProduct(ctx, marketplace.ListProductParams{
		SellerID:      seller,
		DelivererID:   deliverer,
		CreatorID:     creator,
		Price:         price,
		CommissionBps: commissionBps,
		MetadataRef:   fmt.Sprintf("ipfs://scenario/%d", rand.Int63()),
	})
	if err != nil {
		t.Fatalf("list product: %v", err)
	}
	purchase, err := h.escrow.PurchaseProduct(ctx, buyer, prod.ID, price)
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if err := h.escrow.ConfirmDelivery(ctx, deliverer, purchase.ID); err != nil {
		t.Fatalf("confirm delivery: %v", err)
	}
	return purchase
}

func (h *harness) seatedJurors(t *testing.T, ctx context.Context, purchaseID int64) []string {
	t.Helper()
	rows, err := h.pool.Query(ctx, `
        SELECT juror_id::text FROM dispute_jurors WHERE purchase_id = $1 ORDER BY slot
    `, purchaseID)
	if err != nil {
		t.Fatalf("query seated jurors: %v", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan seated juror: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

func (h *harness) purchaseStatus(t *testing.T, ctx context.Context, purchaseID int64) marketplace.Status {
	t.Helper()
	p, err := h.escrow.GetPurchase(ctx, purchaseID)
	if err != nil {
		t.Fatalf("get purchase: %v", err)
	}
	return p.Status
}

func TestEscrowLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	h := newHarness(t, ctx)

	platform := h.newUser(t, ctx, "platform")
	if err := h.admin.SetPlatformFee(ctx, h.owner, 250); err != nil {
		t.Fatalf("set platform fee: %v", err)
	}
	if err := h.admin.SetFeeRecipient(ctx, h.owner, platform); err != nil {
		t.Fatalf("set fee recipient: %v", err)
	}

	t.Run("completed purchase splits funds and rewards reputation", func(t *testing.T) {
		seller := h.newUser(t, ctx, "seller")
		buyer := h.newUser(t, ctx, "buyer")
		deliverer := h.newUser(t, ctx, "deliverer")
		creator := h.newUser(t, ctx, "creator")

		sellerBefore := h.balance(t, ctx, seller)
		creatorBefore := h.balance(t, ctx, creator)
		platformBefore := h.balance(t, ctx, platform)
		buyerBefore := h.balance(t, ctx, buyer)

		purchase := h.listAndBuy(t, ctx, seller, deliverer, buyer, &creator, 1000, 500)

		if got := h.balance(t, ctx, buyer); got != buyerBefore-1000 {
			t.Fatalf("buyer balance after purchase: got %d, want %d", got, buyerBefore-1000)
		}

		if err := h.escrow.FinalizePurchase(ctx, buyer, purchase.ID); err != nil {
			t.Fatalf("finalize: %v", err)
		}

		if got := h.balance(t, ctx, seller); got != sellerBefore+925 {
			t.Fatalf("seller payout: got %+d, want +925", got-sellerBefore)
		}
		if got := h.balance(t, ctx, creator); got != creatorBefore+50 {
			t.Fatalf("creator commission: got %+d, want +50", got-creatorBefore)
		}
		if got := h.balance(t, ctx, platform); got != platformBefore+25 {
			t.Fatalf("platform fee: got %+d, want +25", got-platformBefore)
		}

		if rec := h.record(t, ctx, seller); rec.SellerScore != reputation.InitialScore+marketplace.SellerCompletionPoints {
			t.Fatalf("seller score: got %d", rec.SellerScore)
		}
		if rec := h.record(t, ctx, buyer); rec.BuyerScore != reputation.InitialScore+marketplace.BuyerCompletionPoints {
			t.Fatalf("buyer score: got %d", rec.BuyerScore)
		}
		if rec := h.record(t, ctx, creator); rec.CreatorScore != reputation.InitialScore+marketplace.CreatorCompletionPoints {
			t.Fatalf("creator score: got %d", rec.CreatorScore)
		}

		var completions int
		if err := h.pool.QueryRow(ctx, `
            SELECT COUNT(*) FROM outbox
            WHERE topic = 'purchase.completed' AND (payload->>'purchase_id')::bigint = $1
        `, purchase.ID).Scan(&completions); err != nil {
			t.Fatalf("count completion events: %v", err)
		}
		if completions != 1 {
			t.Fatalf("completion events: got %d, want 1", completions)
		}
	})

	t.Run("seller finalize waits for the release window", func(t *testing.T) {
		seller := h.newUser(t, ctx, "seller")
		buyer := h.newUser(t, ctx, "buyer")
		deliverer := h.newUser(t, ctx, "deliverer")

		purchase := h.listAndBuy(t, ctx, seller, deliverer, buyer, nil, 500, 0)

		if err := h.escrow.FinalizePurchase(ctx, seller, purchase.ID); !errors.Is(err, marketplace.ErrWindowOpen) {
			t.Fatalf("early seller finalize: got %v, want ErrWindowOpen", err)
		}

		h.clock.Advance(marketplace.ReleaseWindow + time.Minute)
		if err := h.escrow.FinalizePurchase(ctx, seller, purchase.ID); err != nil {
			t.Fatalf("finalize after window: %v", err)
		}
		if got := h.purchaseStatus(t, ctx, purchase.ID); got != marketplace.StatusCompleted {
			t.Fatalf("status after finalize: %s", got)
		}
	})

	t.Run("approved return refunds in full and bumps counters", func(t *testing.T) {
		seller := h.newUser(t, ctx, "seller")
		buyer := h.newUser(t, ctx, "buyer")
		deliverer := h.newUser(t, ctx, "deliverer")

		buyerBefore := h.balance(t, ctx, buyer)
		purchase := h.listAndBuy(t, ctx, seller, deliverer, buyer, nil, 800, 0)

		if err := h.escrow.RequestReturn(ctx, buyer, purchase.ID); err != nil {
			t.Fatalf("request return: %v", err)
		}
		if err := h.escrow.ConfirmReturnReceipt(ctx, seller, purchase.ID); err != nil {
			t.Fatalf("confirm return receipt: %v", err)
		}
		if err := h.escrow.ApproveReturn(ctx, seller, purchase.ID); err != nil {
			t.Fatalf("approve return: %v", err)
		}

		if got := h.balance(t, ctx, buyer); got != buyerBefore {
			t.Fatalf("buyer not made whole: got %d, want %d", got, buyerBefore)
		}
		if rec := h.record(t, ctx, buyer); rec.BuyerReturnCount != 1 {
			t.Fatalf("buyer return count: got %d", rec.BuyerReturnCount)
		}
		if rec := h.record(t, ctx, seller); rec.SellerReturnCount != 1 {
			t.Fatalf("seller return count: got %d", rec.SellerReturnCount)
		}
		if got := h.purchaseStatus(t, ctx, purchase.ID); got != marketplace.StatusRefunded {
			t.Fatalf("status after return: %s", got)
		}
	})

	t.Run("deactivation blocks new purchases but not in-flight ones", func(t *testing.T) {
		seller := h.newUser(t, ctx, "seller")
		buyer := h.newUser(t, ctx, "buyer")
		latecomer := h.newUser(t, ctx, "latecomer")
		deliverer := h.newUser(t, ctx, "deliverer")

		prod, err := h.escrow.ListProduct(ctx, marketplace.ListProductParams{
			SellerID:    seller,
			DelivererID: deliverer,
			Price:       700,
			MetadataRef: "ipfs://scenario/delist",
		})
		if err != nil {
			t.Fatalf("list product: %v", err)
		}
		purchase, err := h.escrow.PurchaseProduct(ctx, buyer, prod.ID, 700)
		if err != nil {
			t.Fatalf("purchase before delist: %v", err)
		}

		if err := h.escrow.DeactivateProduct(ctx, buyer, prod.ID); !errors.Is(err, marketplace.ErrUnauthorized) {
			t.Fatalf("non-seller deactivate: got %v, want ErrUnauthorized", err)
		}
		if err := h.escrow.DeactivateProduct(ctx, seller, prod.ID); err != nil {
			t.Fatalf("deactivate: %v", err)
		}
		if err := h.escrow.DeactivateProduct(ctx, seller, prod.ID); !errors.Is(err, marketplace.ErrInvalidState) {
			t.Fatalf("double deactivate: got %v, want ErrInvalidState", err)
		}

		for i := 0; i < 3; i++ {
			if _, err := h.escrow.PurchaseProduct(ctx, latecomer, prod.ID, 700); !errors.Is(err, marketplace.ErrInvalidState) {
				t.Fatalf("purchase of delisted product attempt %d: got %v, want ErrInvalidState", i, err)
			}
		}

		// the in-flight purchase is untouched and settles normally
		if err := h.escrow.ConfirmDelivery(ctx, deliverer, purchase.ID); err != nil {
			t.Fatalf("confirm delivery: %v", err)
		}
		if err := h.escrow.FinalizePurchase(ctx, buyer, purchase.ID); err != nil {
			t.Fatalf("finalize: %v", err)
		}
		if got := h.purchaseStatus(t, ctx, purchase.ID); got != marketplace.StatusCompleted {
			t.Fatalf("status after finalize: %s", got)
		}

		escrowAcct, err := h.funds.GetAccount(ctx, ledger.AccountEscrow)
		if err != nil {
			t.Fatalf("get escrow account: %v", err)
		}
		if !escrowAcct.IsSystem {
			t.Fatal("escrow account must be flagged system")
		}
		buyerAcct, err := h.funds.GetAccount(ctx, buyer)
		if err != nil {
			t.Fatalf("get buyer account: %v", err)
		}
		if buyerAcct.IsSystem || buyerAcct.Balance < 0 {
			t.Fatalf("buyer account: %+v", buyerAcct)
		}
	})

	t.Run("return abuse thresholds penalize and scores saturate", func(t *testing.T) {
		buyer := h.newUser(t, ctx, "buyer")
		seller := h.newUser(t, ctx, "seller")
		climber := h.newUser(t, ctx, "climber")

		tx, err := h.pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback(ctx)

		if err := h.rep.Update(ctx, tx, "wrong-token", climber, reputation.RoleSeller, 5); !errors.Is(err, reputation.ErrUnauthorized) {
			t.Fatalf("bad caller token: got %v, want ErrUnauthorized", err)
		}

		// an oversized gain saturates at the cap and further gains stay there
		if err := h.rep.Update(ctx, tx, repToken, climber, reputation.RoleSeller, reputation.MaxScore*2); err != nil {
			t.Fatalf("saturating update: %v", err)
		}
		if err := h.rep.Update(ctx, tx, repToken, climber, reputation.RoleSeller, 25); err != nil {
			t.Fatalf("update at cap: %v", err)
		}

		for i := 0; i < reputation.BuyerPenaltyThreshold; i++ {
			if err := h.rep.RecordReturn(ctx, tx, repToken, buyer, seller); err != nil {
				t.Fatalf("record return %d: %v", i, err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}

		if rec := h.record(t, ctx, climber); rec.SellerScore != reputation.MaxScore {
			t.Fatalf("saturated score: got %d, want %d", rec.SellerScore, reputation.MaxScore)
		}

		// ten returns: the buyer eats one -10 penalty at count 10, the
		// seller eats -15 at counts 5 and 10, clamped at zero
		if rec := h.record(t, ctx, buyer); rec.BuyerReturnCount != 10 || rec.BuyerScore != 0 {
			t.Fatalf("buyer after returns: count=%d score=%d", rec.BuyerReturnCount, rec.BuyerScore)
		}
		if rec := h.record(t, ctx, seller); rec.SellerReturnCount != 10 || rec.SellerScore != 0 {
			t.Fatalf("seller after returns: count=%d score=%d", rec.SellerReturnCount, rec.SellerScore)
		}

		// parties without a reputation record are skipped, not an error
		var stranger string
		if err := h.pool.QueryRow(ctx, `
            INSERT INTO users (email, full_name) VALUES ($1, $2) RETURNING id
        `, fmt.Sprintf("stranger-%d@example.com", rand.Int63()), "No Persona").Scan(&stranger); err != nil {
			t.Fatalf("seed stranger: %v", err)
		}
		tx2, err := h.pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx2.Rollback(ctx)
		if err := h.rep.RecordReturn(ctx, tx2, repToken, stranger, stranger); err != nil {
			t.Fatalf("record return for unregistered parties: %v", err)
		}
		if err := tx2.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		if _, err := h.rep.Get(ctx, stranger); !errors.Is(err, reputation.ErrUserNotRegistered) {
			t.Fatalf("stranger record: got %v, want ErrUserNotRegistered", err)
		}
	})

	t.Run("stake below the minimum is rejected", func(t *testing.T) {
		juror := h.newUser(t, ctx, "juror")
		if err := h.jury.Stake(ctx, juror, jury.DefaultMinimumStake-1); !errors.Is(err, jury.ErrInvalidAmount) {
			t.Fatalf("understake: got %v, want ErrInvalidAmount", err)
		}
		if err := h.jury.Stake(ctx, juror, jury.DefaultMinimumStake); err != nil {
			t.Fatalf("stake at minimum: %v", err)
		}
		j, err := h.jury.GetJuror(ctx, juror)
		if err != nil {
			t.Fatalf("get juror: %v", err)
		}
		if j.Staked != jury.DefaultMinimumStake {
			t.Fatalf("staked: got %d", j.Staked)
		}
	})

	t.Run("buyer dispute 4-3 refunds and penalizes the seller", func(t *testing.T) {
		seller := h.newUser(t, ctx, "seller")
		buyer := h.newUser(t, ctx, "buyer")
		deliverer := h.newUser(t, ctx, "deliverer")
		outsider := h.newUser(t, ctx, "outsider")

		var jurors []string
		for i := 0; i < 8; i++ {
			id := h.newUser(t, ctx, fmt.Sprintf("panelist%d", i))
			if err := h.jury.Stake(ctx, id, 1000); err != nil {
				t.Fatalf("stake panelist: %v", err)
			}
			jurors = append(jurors, id)
		}

		buyerBefore := h.balance(t, ctx, buyer)
		purchase := h.listAndBuy(t, ctx, seller, deliverer, buyer, nil, 1000, 0)

		if err := h.escrow.OpenDispute(ctx, buyer, purchase.ID); err != nil {
			t.Fatalf("open dispute: %v", err)
		}
		if got := h.purchaseStatus(t, ctx, purchase.ID); got != marketplace.StatusDisputeOpen {
			t.Fatalf("status after open: %s", got)
		}

		seated := h.seatedJurors(t, ctx, purchase.ID)
		if len(seated) != jury.DefaultJurySize {
			t.Fatalf("seated: got %d, want %d", len(seated), jury.DefaultJurySize)
		}

		if err := h.jury.CastVote(ctx, outsider, purchase.ID, true); !errors.Is(err, jury.ErrNotSelected) {
			t.Fatalf("outsider vote: got %v, want ErrNotSelected", err)
		}
		if err := h.jury.Unstake(ctx, seated[0], 1); !errors.Is(err, jury.ErrStakeLocked) {
			t.Fatalf("unstake while seated: got %v, want ErrStakeLocked", err)
		}
		if err := h.jury.ResolveDispute(ctx, purchase.ID); !errors.Is(err, jury.ErrWindowOpen) {
			t.Fatalf("early resolve: got %v, want ErrWindowOpen", err)
		}

		majorityBefore := make(map[string]int64, 4)
		for _, id := range seated[:4] {
			majorityBefore[id] = h.balance(t, ctx, id)
		}
		stakesBefore := make(map[string]int64, len(seated))
		for _, id := range seated {
			j, err := h.jury.GetJuror(ctx, id)
			if err != nil {
				t.Fatalf("get juror: %v", err)
			}
			stakesBefore[id] = j.Staked
		}
		if err := h.jury.CastVote(ctx, seated[0], purchase.ID, true); err != nil {
			t.Fatalf("vote 0: %v", err)
		}
		if err := h.jury.CastVote(ctx, seated[0], purchase.ID, true); !errors.Is(err, jury.ErrAlreadyVoted) {
			t.Fatalf("revote: got %v, want ErrAlreadyVoted", err)
		}
		for i, id := range seated[1:] {
			if err := h.jury.CastVote(ctx, id, purchase.ID, i+1 < 4); err != nil {
				t.Fatalf("vote %d: %v", i+1, err)
			}
		}

		d, _, err := h.jury.GetDispute(ctx, purchase.ID)
		if err != nil {
			t.Fatalf("get dispute: %v", err)
		}
		if d.Status != jury.DisputeResolved {
			t.Fatalf("dispute status: %s", d.Status)
		}
		if d.WinnerID == nil || *d.WinnerID != buyer {
			t.Fatalf("winner: %v, want buyer", d.WinnerID)
		}

		if got := h.purchaseStatus(t, ctx, purchase.ID); got != marketplace.StatusRefunded {
			t.Fatalf("purchase after verdict: %s", got)
		}
		if got := h.balance(t, ctx, buyer); got != buyerBefore {
			t.Fatalf("buyer refund: got %d, want %d", got, buyerBefore)
		}

		// dispute loss drags the fresh seller score 10 below zero; it clamps
		if rec := h.record(t, ctx, seller); rec.SellerScore != 0 {
			t.Fatalf("seller score after loss: got %d, want 0", rec.SellerScore)
		}

		// reward pool 1000 * 50bps = 5, four majority voters get 1 each
		for _, id := range seated[:4] {
			if got := h.balance(t, ctx, id); got != majorityBefore[id]+1 {
				t.Fatalf("majority juror reward: got %+d, want +1", got-majorityBefore[id])
			}
			j, err := h.jury.GetJuror(ctx, id)
			if err != nil {
				t.Fatalf("get juror: %v", err)
			}
			if j.CorrectVotes != 1 || j.RewardsEarned != 1 {
				t.Fatalf("juror stats: correct=%d rewards=%d", j.CorrectVotes, j.RewardsEarned)
			}
		}

		// everyone voted, so nobody is slashed
		for _, id := range seated {
			j, err := h.jury.GetJuror(ctx, id)
			if err != nil {
				t.Fatalf("get juror: %v", err)
			}
			if j.Staked != stakesBefore[id] {
				t.Fatalf("stake changed: got %d, want %d", j.Staked, stakesBefore[id])
			}
		}

		// verdicts are one-shot
		tx, err := h.pool.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		defer tx.Rollback(ctx)
		if err := h.escrow.ExecuteVerdict(ctx, tx, purchase.ID, buyer, juryToken); !errors.Is(err, marketplace.ErrInvalidState) {
			t.Fatalf("verdict replay: got %v, want ErrInvalidState", err)
		}
	})

	t.Run("absent jurors are slashed when the deadline forces resolution", func(t *testing.T) {
		seller := h.newUser(t, ctx, "seller")
		buyer := h.newUser(t, ctx, "buyer")
		deliverer := h.newUser(t, ctx, "deliverer")

		purchase := h.listAndBuy(t, ctx, seller, deliverer, buyer, nil, 600, 0)
		if err := h.escrow.OpenDispute(ctx, buyer, purchase.ID); err != nil {
			t.Fatalf("open dispute: %v", err)
		}

		seated := h.seatedJurors(t, ctx, purchase.ID)
		stakesBefore := make(map[string]int64, len(seated))
		for _, id := range seated {
			j, err := h.jury.GetJuror(ctx, id)
			if err != nil {
				t.Fatalf("get juror: %v", err)
			}
			stakesBefore[id] = j.Staked
		}

		// only one juror shows up, voting for the seller
		if err := h.jury.CastVote(ctx, seated[0], purchase.ID, false); err != nil {
			t.Fatalf("lone vote: %v", err)
		}

		h.clock.Advance(jury.DefaultVotingPeriod + time.Minute)
		if err := h.jury.ResolveDispute(ctx, purchase.ID); err != nil {
			t.Fatalf("resolve after deadline: %v", err)
		}

		d, _, err := h.jury.GetDispute(ctx, purchase.ID)
		if err != nil {
			t.Fatalf("get dispute: %v", err)
		}
		if d.Status != jury.DisputeResolved {
			t.Fatalf("dispute status: %s", d.Status)
		}
		// one vote for the defendant out of seven seated is a defendant win
		if d.WinnerID == nil || *d.WinnerID != seller {
			t.Fatalf("winner: %v, want seller", d.WinnerID)
		}
		if got := h.purchaseStatus(t, ctx, purchase.ID); got != marketplace.StatusCompleted {
			t.Fatalf("purchase after seller win: %s", got)
		}
		// buyer lost the dispute on top of paying for the purchase
		if rec := h.record(t, ctx, buyer); rec.BuyerScore != 0 {
			t.Fatalf("buyer score after loss: got %d, want 0", rec.BuyerScore)
		}

		voter, err := h.jury.GetJuror(ctx, seated[0])
		if err != nil {
			t.Fatalf("get voter: %v", err)
		}
		if voter.Staked != stakesBefore[seated[0]] {
			t.Fatalf("voter stake: got %d, want untouched %d", voter.Staked, stakesBefore[seated[0]])
		}
		for _, id := range seated[1:] {
			j, err := h.jury.GetJuror(ctx, id)
			if err != nil {
				t.Fatalf("get absent juror: %v", err)
			}
			before := stakesBefore[id]
			want := before - before*jury.SlashPercent/100
			if j.Staked != want {
				t.Fatalf("absent juror stake: got %d, want %d after slash", j.Staked, want)
			}
		}
	})

	t.Run("owner cancels a voteless dispute and the purchase reverts", func(t *testing.T) {
		seller := h.newUser(t, ctx, "seller")
		buyer := h.newUser(t, ctx, "buyer")
		deliverer := h.newUser(t, ctx, "deliverer")

		purchase := h.listAndBuy(t, ctx, seller, deliverer, buyer, nil, 400, 0)
		if err := h.escrow.OpenDispute(ctx, buyer, purchase.ID); err != nil {
			t.Fatalf("open dispute: %v", err)
		}

		if err := h.jury.CancelDispute(ctx, buyer, purchase.ID); !errors.Is(err, jury.ErrUnauthorized) {
			t.Fatalf("non-owner cancel: got %v, want ErrUnauthorized", err)
		}
		if err := h.jury.CancelDispute(ctx, h.owner, purchase.ID); err != nil {
			t.Fatalf("owner cancel: %v", err)
		}

		d, _, err := h.jury.GetDispute(ctx, purchase.ID)
		if err != nil {
			t.Fatalf("get dispute: %v", err)
		}
		if d.Status != jury.DisputeCancelled {
			t.Fatalf("dispute status: %s", d.Status)
		}
		if got := h.purchaseStatus(t, ctx, purchase.ID); got != marketplace.StatusDeliveryConfirmed {
			t.Fatalf("purchase after cancel: %s", got)
		}

		// the purchase is live again and can still complete normally
		if err := h.escrow.FinalizePurchase(ctx, buyer, purchase.ID); err != nil {
			t.Fatalf("finalize after cancel: %v", err)
		}
	})
}
