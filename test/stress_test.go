package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/duckrwx/jurisland/events"
	"github.com/duckrwx/jurisland/jury"
	"github.com/duckrwx/jurisland/ledger"
	"github.com/duckrwx/jurisland/marketplace"
	"github.com/duckrwx/jurisland/reputation"
	"github.com/duckrwx/jurisland/test/actors"
	"github.com/duckrwx/jurisland/test/chaos"
	"github.com/duckrwx/jurisland/test/infra"
	"github.com/duckrwx/jurisland/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 6, "number of buyer/seller pairs")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

const (
	repToken  = "stress-rep-token"
	juryToken = "stress-jury-token"
)

func TestMarketplaceConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rng := rand.New(rand.NewSource(seed))
	t.Logf("stress seed=%d", seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

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
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	outbox := events.NewOutboxWriter()
	funds := ledger.NewRepository(pool)
	repLedger := reputation.NewLedger(pool, outbox, repToken)
	escrow := marketplace.NewEscrow(pool, marketplace.NewRepository(pool), funds, repLedger, outbox, repToken, juryToken)
	juryPool := jury.NewPool(pool, funds, outbox, juryToken, "")
	juryPool.BindExecutor(escrow)
	escrow.BindJury(juryPool)

	world := mustSeed(t, ctx, pool, rng, funds, repLedger, escrow, juryPool)

	admin := marketplace.NewAdminService(pool, marketplace.NewRepository(pool), world.ownerID)
	ownedJury := jury.NewPool(pool, funds, outbox, juryToken, world.ownerID)
	if err := admin.SetFeeRecipient(ctx, world.ownerID, world.ownerID); err != nil {
		t.Fatalf("set fee recipient: %v", err)
	}

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	for i := 0; i < *flConcurrency; i++ {
		buyerID := world.buyers[i%len(world.buyers)]
		sellerID := world.sellers[i%len(world.sellers)]
		delivererID := world.deliverers[i%len(world.deliverers)]
		g.Go(func() error { return actors.Shopper(ctx2, escrow, buyerID, stop) })
		g.Go(func() error { return actors.Settler(ctx2, pool, escrow, buyerID, stop) })
		g.Go(func() error { return actors.Courier(ctx2, pool, escrow, delivererID, stop) })
		g.Go(func() error { return actors.ReturnsDesk(ctx2, pool, escrow, sellerID, stop) })
	}
	for _, jurorID := range world.jurors {
		g.Go(func() error { return actors.Juror(ctx2, pool, juryPool, jurorID, stop) })
	}
	g.Go(func() error { return actors.Resolver(ctx2, pool, juryPool, stop) })
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })

	go chaos.TerminateRandomBackend(ctx2, pool, stop)
	go chaos.TinkerSettings(ctx2, admin, ownedJury, world.ownerID, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	ownerID    string
	buyers     []string
	sellers    []string
	deliverers []string
	jurors     []string
}

func mustSeed(
	t *testing.T,
	ctx context.Context,
	pool *pgxpool.Pool,
	rng *rand.Rand,
	funds *ledger.Repository,
	repLedger *reputation.Ledger,
	escrow *marketplace.Escrow,
	juryPool *jury.Pool,
) seedIDs {
	t.Helper()
	var s seedIDs

	newUser := func(label string) string {
		var id string
		email := fmt.Sprintf("%s-%d@example.com", label, rng.Int63())
		if err := pool.QueryRow(ctx, `
            INSERT INTO users (email, full_name) VALUES ($1, $2) RETURNING id
        `, email, "Stress "+label).Scan(&id); err != nil {
			t.Fatalf("seed user %s: %v", label, err)
		}
		if _, err := repLedger.RegisterPersona(ctx, id, fmt.Sprintf("persona-%s", label)); err != nil {
			t.Fatalf("register persona %s: %v", label, err)
		}
		if err := funds.Deposit(ctx, id, 1_000_000); err != nil {
			t.Fatalf("fund %s: %v", label, err)
		}
		return id
	}

	s.ownerID = newUser("owner")
	for i := 0; i < 3; i++ {
		s.buyers = append(s.buyers, newUser(fmt.Sprintf("buyer%d", i)))
		s.sellers = append(s.sellers, newUser(fmt.Sprintf("seller%d", i)))
		s.deliverers = append(s.deliverers, newUser(fmt.Sprintf("courier%d", i)))
	}

	// ten jurors so a full size-15 panel is never drawable but the default
	// size 7 always is
	for i := 0; i < 10; i++ {
		id := newUser(fmt.Sprintf("juror%d", i))
		if err := juryPool.Stake(ctx, id, 500); err != nil {
			t.Fatalf("stake juror %d: %v", i, err)
		}
		s.jurors = append(s.jurors, id)
	}

	for i, sellerID := range s.sellers {
		creator := s.sellers[(i+1)%len(s.sellers)]
		for k := 0; k < 4; k++ {
			params := marketplace.ListProductParams{
				SellerID:      sellerID,
				DelivererID:   s.deliverers[i%len(s.deliverers)],
				Price:         int64(200 + rng.Intn(2000)),
				CommissionBps: rng.Intn(1000),
				MetadataRef:   fmt.Sprintf("ipfs://stress/%d/%d", i, k),
			}
			if k%2 == 0 {
				params.CreatorID = &creator
			}
			if _, err := escrow.ListProduct(ctx, params); err != nil {
				t.Fatalf("seed product: %v", err)
			}
		}
	}

	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"purchases", `SELECT id, product_id, status, price, release_at FROM purchases ORDER BY id DESC LIMIT 50`},
		{"disputes", `SELECT purchase_id, status, dispute_value, winner_id, voting_deadline FROM disputes ORDER BY purchase_id DESC LIMIT 50`},
		{"ledger_entries", `SELECT id, from_account, to_account, amount, kind, ref FROM ledger_entries ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%v", buf)
		}
		rows.Close()
	}
}
