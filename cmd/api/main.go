package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/duckrwx/jurisland/auth"
	"github.com/duckrwx/jurisland/db"
	"github.com/duckrwx/jurisland/events"
	"github.com/duckrwx/jurisland/jury"
	"github.com/duckrwx/jurisland/ledger"
	"github.com/duckrwx/jurisland/marketplace"
	"github.com/duckrwx/jurisland/reputation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		logger.Error("bootstrap database pool", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	// Shared secrets authorizing the cross-component calls. In a deployment
	// these come from the environment, never from callers.
	repToken := os.Getenv("REPUTATION_CALLER_TOKEN")
	juryToken := os.Getenv("JURY_CALLER_TOKEN")
	ownerID := os.Getenv("PLATFORM_OWNER_ID")

	outbox := events.NewOutboxWriter()
	funds := ledger.NewRepository(pool)
	repLedger := reputation.NewLedger(pool, outbox, repToken)

	marketRepo := marketplace.NewRepository(pool)
	escrow := marketplace.NewEscrow(pool, marketRepo, funds, repLedger, outbox, repToken, juryToken)
	juryPool := jury.NewPool(pool, funds, outbox, juryToken, ownerID).BindExecutor(escrow)
	escrow.BindJury(juryPool)

	server := &Server{
		authService:       auth.NewService(auth.NewRepository(pool), jwtSecret),
		escrowService:     escrow,
		juryService:       juryPool,
		adminService:      marketplace.NewAdminService(pool, marketRepo, ownerID),
		reputationService: repLedger,
		logger:            logger,
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	logger.Info("jurisland api listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("http server", "err", err)
		os.Exit(1)
	}
}
