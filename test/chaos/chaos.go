package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duckrwx/jurisland/jury"
	"github.com/duckrwx/jurisland/marketplace"
)

// Randomly terminates a backend connection belonging to our test application.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if rand.Intn(5) == 0 {
				// terminate some backend of this DB (heuristic: random active backend not our own PID)
				_, _ = pool.Exec(ctx, `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = current_database() AND pid <> pg_backend_pid() ORDER BY random() LIMIT 1`)
			}
		}
	}
}

// TinkerSettings jitters the governed knobs mid-run. Every write stays inside
// the documented bounds, so in-flight operations must absorb the change.
func TinkerSettings(ctx context.Context, admin *marketplace.AdminService, jp *jury.Pool, ownerID string, stop <-chan struct{}) {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			switch rand.Intn(3) {
			case 0:
				_ = admin.SetPlatformFee(ctx, ownerID, rand.Intn(1001))
			case 1:
				_ = jp.SetJurySize(ctx, ownerID, 3+rand.Intn(13))
			case 2:
				_ = jp.SetMinimumStake(ctx, ownerID, int64(50+rand.Intn(200)))
			}
		}
	}
}
