// scribe-import seeds the transcript repository from a directory of .txt and .md
// files. Subdirectories become folders.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MikeSquared-Agency/scribe/internal/config"
	"github.com/MikeSquared-Agency/scribe/internal/importer"
	"github.com/MikeSquared-Agency/scribe/internal/store"
)

func main() {
	var (
		dir        = flag.String("dir", "", "Directory to import")
		integrated = flag.Bool("integrated", false, "Import straight into folders as Integrated, skipping conflict detection")
		dryRun     = flag.Bool("dry-run", false, "Report what would be imported without writing")
		statePath  = flag.String("state", ".scribe-import-state.json", "State file for resumable runs (empty disables)")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintf(os.Stderr, "Error: -dir is required\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(*dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	im := importer.New(importer.Config{
		Dir:        *dir,
		Integrated: *integrated,
		DryRun:     *dryRun,
		StatePath:  *statePath,
	}, db, logger)

	sum, err := im.Run(ctx)
	if err != nil {
		logger.Error("import failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("imported %d, folders created %d, skipped %d, duplicates %d, errors %d\n",
		sum.Imported, sum.FoldersCreated, sum.Skipped, sum.Duplicates, sum.Errors)
}
