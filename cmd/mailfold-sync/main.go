package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joshsymonds/mailfold/internal/config"
	"github.com/joshsymonds/mailfold/internal/ingest"
	"github.com/joshsymonds/mailfold/internal/rate"
	"github.com/joshsymonds/mailfold/internal/runtime"
	"github.com/joshsymonds/mailfold/internal/store"
)

type syncConfig struct {
	cfgPath   string
	dbPath    string
	authDir   string
	start     int64
	end       int64
	window    time.Duration
	workers   int
	pageSize  int
	rps       int
	forceAuth bool
}

func main() {
	cfg := parseSyncFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailfold-sync failed", "error", err)
		os.Exit(1)
	}
}

func parseSyncFlags() syncConfig {
	cfgPath := flag.String("config", "mailfold.toml", "configuration file")
	dbPath := flag.String("db", "", "message database path (overrides config)")
	authDir := flag.String("auth-dir", "", "gmailctl auth directory (overrides config)")
	start := flag.Int64("start", 0, "window start, epoch seconds")
	end := flag.Int64("end", 0, "window end (exclusive), epoch seconds")
	window := flag.Duration("window", 24*time.Hour, "window length when -start/-end are unset")
	workers := flag.Int("workers", 0, "concurrent metadata fetches (overrides config)")
	pageSize := flag.Int("page-size", 0, "Gmail list page size (overrides config)")
	rps := flag.Int("rps", 0, "max requests per second (overrides config)")
	forceAuth := flag.Bool("force-auth", false, "discard the cached token and authenticate fresh")
	flag.Parse()

	return syncConfig{
		cfgPath:   *cfgPath,
		dbPath:    *dbPath,
		authDir:   *authDir,
		start:     *start,
		end:       *end,
		window:    *window,
		workers:   *workers,
		pageSize:  *pageSize,
		rps:       *rps,
		forceAuth: *forceAuth,
	}
}

func run(cfg syncConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fileCfg, err := config.Load(cfg.cfgPath)
	if err != nil {
		return err
	}
	applyOverrides(&fileCfg, cfg)

	start, end := cfg.start, cfg.end
	if end == 0 {
		end = time.Now().Unix()
	}
	if start == 0 {
		start = end - int64(cfg.window.Seconds())
	}
	if start >= end {
		return fmt.Errorf("window start %d must precede end %d", start, end)
	}

	db, err := store.Open(fileCfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", fileCfg.Store.Path, err)
	}
	defer func() { _ = db.Close() }()

	client, err := runtime.NewGmailClient(ctx, fileCfg.Gmail.AuthDir, runtime.ScopeReadonly, cfg.forceAuth)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	var limiter rate.Limiter
	if fileCfg.Gmail.RPS > 0 {
		bucket := rate.NewTokenBucket(fileCfg.Gmail.RPS)
		limiter = bucket
		defer bucket.Stop()
	}

	svc := ingest.NewService(client, db, limiter, runtime.DefaultLogger())
	rep, err := svc.Run(ctx, ingest.Spec{
		Start:    start,
		End:      end,
		Workers:  fileCfg.Sync.Workers,
		PageSize: fileCfg.Gmail.PageSize,
	})
	if err != nil {
		return fmt.Errorf("run sync: %w", err)
	}

	fmt.Printf("synced window [%d,%d): listed %d, fetched %d, failed %d, stored %d\n",
		start, end, rep.Listed, rep.Fetched, rep.Failed, rep.Stored)
	return nil
}

func applyOverrides(fileCfg *config.Config, cfg syncConfig) {
	if cfg.dbPath != "" {
		fileCfg.Store.Path = cfg.dbPath
	}
	if cfg.authDir != "" {
		fileCfg.Gmail.AuthDir = cfg.authDir
	}
	if cfg.workers > 0 {
		fileCfg.Sync.Workers = cfg.workers
	}
	if cfg.pageSize > 0 {
		fileCfg.Gmail.PageSize = cfg.pageSize
	}
	if cfg.rps > 0 {
		fileCfg.Gmail.RPS = cfg.rps
	}
}
