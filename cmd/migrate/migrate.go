package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"rag-knowledge-platform/internal/app"
	"rag-knowledge-platform/internal/config"
	"rag-knowledge-platform/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  init               - Create indexes, seed the provider config and create the vector collection")
		fmt.Println("  seed-providers     - Create the provider config from env / PROVIDERS_FILE if absent")
		fmt.Println("  ensure-collection  - Probe the embedding provider and create the vector collection")
		fmt.Println("  verify-audit       - Recompute the audit hash chain")
		os.Exit(1)
	}

	command := os.Args[1]

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.InitLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// ConnectMongoDB creates the indexes as part of opening the store.
	a, err := app.New(ctx, cfg, logger.L(), app.Options{})
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		os.Exit(1)
	}
	defer a.Close(context.Background())

	switch command {
	case "init":
		err = seedProviders(ctx, a)
		if err == nil {
			err = ensureCollection(ctx, a)
		}
	case "seed-providers":
		err = seedProviders(ctx, a)
	case "ensure-collection":
		err = ensureCollection(ctx, a)
	case "verify-audit":
		err = verifyAudit(ctx, a)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}

	if err != nil {
		logger.Error("Migration failed", "command", command, "error", err)
		a.Close(context.Background())
		os.Exit(1)
	}
	fmt.Printf("%s completed successfully\n", command)
}

func seedProviders(ctx context.Context, a *app.App) error {
	cfg, err := a.Providers.Get(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("provider config: chat=%s embed=%s allow_remote=%t allow_remote_context=%t\n",
		cfg.DefaultChatProvider, cfg.DefaultEmbedProvider, cfg.AllowRemote, cfg.AllowRemoteContext)
	return nil
}

// ensureCollection sizes the collection from a real embedding so it matches
// the configured embedding model.
func ensureCollection(ctx context.Context, a *app.App) error {
	cfg, err := a.Providers.Get(ctx)
	if err != nil {
		return err
	}
	res, err := a.Gateway.Embed(ctx, "dimension probe", cfg.DefaultEmbedProvider)
	if err != nil {
		return fmt.Errorf("probe embedding: %w", err)
	}
	if err := a.Vectors.EnsureCollection(ctx, len(res.Vector)); err != nil {
		return err
	}
	fmt.Printf("collection %s ready (dim=%d, provider=%s, model=%s)\n",
		a.Config.QdrantCollection, len(res.Vector), res.Provider, res.Model)
	return nil
}

func verifyAudit(ctx context.Context, a *app.App) error {
	checked, brokenAt, err := a.Audit.VerifyChain(ctx)
	if err != nil {
		return err
	}
	if brokenAt != 0 {
		return fmt.Errorf("audit chain broken at sequence %d after %d valid events", brokenAt, checked)
	}
	fmt.Printf("audit chain intact (%d events)\n", checked)
	return nil
}
