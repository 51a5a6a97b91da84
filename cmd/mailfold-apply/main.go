package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshsymonds/mailfold/internal/apply"
	"github.com/joshsymonds/mailfold/internal/config"
	"github.com/joshsymonds/mailfold/internal/rate"
	"github.com/joshsymonds/mailfold/internal/rules"
	"github.com/joshsymonds/mailfold/internal/runtime"
	"github.com/joshsymonds/mailfold/internal/store"
)

type applyConfig struct {
	cfgPath   string
	rulesPath string
	dbPath    string
	authDir   string
	workers   int
	rps       int
	dryRun    bool
	forceAuth bool
}

func main() {
	cfg := parseApplyFlags()
	if err := run(cfg); err != nil {
		runtime.DefaultLogger().Error("mailfold-apply failed", "error", err)
		os.Exit(1)
	}
}

func parseApplyFlags() applyConfig {
	cfgPath := flag.String("config", "mailfold.toml", "configuration file")
	rulesPath := flag.String("rules", "", "rules JSON file (overrides config)")
	dbPath := flag.String("db", "", "message database path (overrides config)")
	authDir := flag.String("auth-dir", "", "gmailctl auth directory (overrides config)")
	workers := flag.Int("workers", 0, "concurrent per-record actions (overrides config)")
	rps := flag.Int("rps", 0, "max requests per second (overrides config)")
	dryRun := flag.Bool("dry-run", false, "evaluate rules without mutating anything")
	forceAuth := flag.Bool("force-auth", false, "discard the cached token and authenticate fresh")
	flag.Parse()

	return applyConfig{
		cfgPath:   *cfgPath,
		rulesPath: *rulesPath,
		dbPath:    *dbPath,
		authDir:   *authDir,
		workers:   *workers,
		rps:       *rps,
		dryRun:    *dryRun,
		forceAuth: *forceAuth,
	}
}

func run(cfg applyConfig) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	fileCfg, err := config.Load(cfg.cfgPath)
	if err != nil {
		return err
	}
	if cfg.rulesPath != "" {
		fileCfg.Apply.Rules = cfg.rulesPath
	}
	if cfg.dbPath != "" {
		fileCfg.Store.Path = cfg.dbPath
	}
	if cfg.authDir != "" {
		fileCfg.Gmail.AuthDir = cfg.authDir
	}
	if cfg.workers > 0 {
		fileCfg.Apply.Workers = cfg.workers
	}
	if cfg.rps > 0 {
		fileCfg.Gmail.RPS = cfg.rps
	}

	defs, err := rules.Load(fileCfg.Apply.Rules)
	if err != nil {
		return err
	}
	ruleSet, err := rules.Compile(defs)
	if err != nil {
		return fmt.Errorf("compile rules: %w", err)
	}

	db, err := store.Open(fileCfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store %s: %w", fileCfg.Store.Path, err)
	}
	defer func() { _ = db.Close() }()

	client, err := runtime.NewGmailClient(ctx, fileCfg.Gmail.AuthDir, runtime.ScopeModify, cfg.forceAuth)
	if err != nil {
		return fmt.Errorf("create gmail client: %w", err)
	}

	var limiter rate.Limiter
	if fileCfg.Gmail.RPS > 0 {
		bucket := rate.NewTokenBucket(fileCfg.Gmail.RPS)
		limiter = bucket
		defer bucket.Stop()
	}

	logger := runtime.DefaultLogger()
	executor := &apply.Executor{
		Client:   client,
		Store:    db,
		Registry: apply.NewRegistry(client),
		Limiter:  limiter,
		Logger:   logger,
		Workers:  fileCfg.Apply.Workers,
		DryRun:   cfg.dryRun,
	}
	runner := apply.NewRunner(db, executor, logger)

	outcomes, err := runner.Run(ctx, ruleSet)
	if err != nil {
		return fmt.Errorf("apply rules: %w", err)
	}

	for _, out := range outcomes {
		fmt.Printf("rule %q: matched %d, attempted %d, succeeded %d, failed %d, skipped %d\n",
			out.Rule, out.Matched, out.Attempted, out.Succeeded, out.Failed, out.Skipped)
	}
	return nil
}
