// Command escrowd runs the escrow settlement core daemon: it wires the
// store, ledger client, audit logger, wallet policy engine, and
// verification orchestrator, then serves health endpoints until
// signalled to stop.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver (cgo-free)

	"github.com/clearhold-labs/clearhold/core/pkg/audit"
	"github.com/clearhold-labs/clearhold/core/pkg/config"
	"github.com/clearhold-labs/clearhold/core/pkg/ledgerclient"
	"github.com/clearhold-labs/clearhold/core/pkg/observability"
	"github.com/clearhold-labs/clearhold/core/pkg/orchestrator"
	"github.com/clearhold-labs/clearhold/core/pkg/store"
	"github.com/clearhold-labs/clearhold/core/pkg/walletsec"
)

func main() {
	if err := run(); err != nil {
		slog.Error("escrowd exited with error", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)
	log := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "clearhold-escrowd",
		ServiceVersion: "1.0.0",
		Environment:    envOr("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutCtx)
	}()

	st, closeStore, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	signer, err := buildSigner(cfg)
	if err != nil {
		return err
	}

	ledgerCfg := ledgerclient.DefaultConfig(cfg.LedgerRPCURL)
	ledgerCfg.Timeout = cfg.LedgerTimeout
	ledgerCfg.MaxRetries = cfg.LedgerMaxRetries
	ledger := ledgerclient.New(ledgerCfg, signer, log.With("component", "ledgerclient"))

	auditor := audit.NewLogger(ledger, audit.NewMirrorStore(), cfg.AuditQueueSize, log.With("component", "audit"))
	auditor.Start(ctx)
	defer auditor.Close()

	engine := walletsec.NewEngine(st, auditor, nil, log.With("component", "walletsec"))

	// Profiles are resolved per wallet through PUT /wallets/{id}/policy;
	// loading them all up front surfaces a bad profiles directory at boot.
	if profiles, err := config.LoadAllProfiles(cfg.ProfilesDir); err == nil {
		log.Info("wallet policy profiles loaded", "count", len(profiles), "dir", cfg.ProfilesDir)
	} else {
		log.Warn("wallet policy profiles unavailable", "dir", cfg.ProfilesDir, "err", err)
	}

	// Agent executors are registered by the deployment: a verification
	// worker process dials in over the API and claims tasks.
	orch := orchestrator.New(st, nil, engine, nil, auditor, orchestrator.DefaultConfig(), log.With("component", "orchestrator"))

	mux := http.NewServeMux()
	registerHandlers(mux, orch, auditor, engine, cfg.ProfilesDir)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]any{
			"status":         "ok",
			"audit_queue":    auditor.QueueDepth(),
			"ledger_breaker": ledger.Breaker().State(),
		}
		if err := ledger.HealthCheck(r.Context()); err != nil {
			status["ledger"] = "unreachable"
		} else {
			status["ledger"] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("escrowd listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	// auditor.Close (deferred) drains the async queue before exit.
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// openStore opens the configured backing store. DATABASE_URL=memory
// selects the in-memory store for local development.
func openStore(cfg *config.Config, log *slog.Logger) (store.Store, func(), error) {
	if cfg.DatabaseURL == "memory" {
		log.Info("using in-memory store")
		return store.NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	st, err := store.NewSQLStore(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("init store: %w", err)
	}
	log.Info("using sql store", "driver", cfg.DatabaseDriver)
	return st, func() { _ = db.Close() }, nil
}

// buildSigner selects the ledger payload signer. An Ed25519 seed in
// LEDGER_SIGNER_KEY enables real signatures; otherwise submissions are
// integrity-hashed with the API key as key id.
func buildSigner(cfg *config.Config) (ledgerclient.Signer, error) {
	if cfg.LedgerSignerKey != "" {
		signer, err := ledgerclient.NewEd25519SignerFromSeed(cfg.LedgerSignerKey)
		if err != nil {
			return nil, fmt.Errorf("ledger signer: %w", err)
		}
		return signer, nil
	}
	keyID := cfg.LedgerAPIKey
	if keyID == "" {
		keyID = "escrowd-dev"
	}
	return ledgerclient.NewHashSigner(keyID), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
