package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oryntel/docindex/internal/bootstrap"
	"github.com/oryntel/docindex/internal/config"
	"github.com/oryntel/docindex/internal/observability/logging"
)

// One-shot schema management: ensure the engine schema and persist the
// provisioning record, then exit. Deployed as a migration-style job so the
// api and worker find a compatible schema on startup.
func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("schema", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	settings, err := bootstrap.EnsureSearchSchema(ctx, cfg)
	if err != nil {
		log.Fatalf("schema management error: %v", err)
	}

	slog.Info("schema_ready",
		"backend", string(settings.Backend),
		"index", settings.IndexName,
		"dimensions", settings.Dimensions,
		"multi_tenant", settings.MultiTenant,
		"knowledge_graph", settings.KnowledgeGraph,
	)
}
