package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"batchgen/internal/adapter/repo"
	"batchgen/internal/batch"
	"batchgen/internal/credentials"
	"batchgen/internal/infra"
	"batchgen/internal/providers/dashscope"
	"batchgen/internal/settings"
	"batchgen/internal/storage"
)

// runtime is everything a command needs once configuration is resolved.
type runtime struct {
	cfg          *infra.Config
	logger       zerolog.Logger
	settings     *settings.Settings
	settingsPath string

	db      *pgxpool.Pool
	jobs    *repo.JobStore
	library *credentials.LibrarySource

	creds  *credentials.Pool
	engine *batch.Engine
}

func (rt *runtime) Close() {
	if rt.engine != nil {
		rt.engine.Close()
	}
	if rt.creds != nil {
		rt.creds.Wait()
	}
	if rt.db != nil {
		rt.db.Close()
	}
}

// loadBase resolves config, logger, settings and the optional database.
func loadBase(ctx context.Context, settingsFlag string) (*runtime, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	path := cfg.SettingsPath
	if v := strings.TrimSpace(settingsFlag); v != "" {
		path = v
	}
	st, err := settings.Load(path)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger, settings: st, settingsPath: path}
	if cfg.HasDatabase() {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		runner := infra.NewSQLRunner(pool, logger)
		rt.db = pool
		rt.jobs = repo.NewJobStore(runner)
		rt.library = credentials.NewLibrarySource(runner, cfg.CredentialPlatform)
	}
	return rt, nil
}

// bootstrap builds the full engine on top of loadBase and restores persisted
// jobs when a database is configured.
func bootstrap(ctx context.Context, settingsFlag string) (*runtime, error) {
	rt, err := loadBase(ctx, settingsFlag)
	if err != nil {
		return nil, err
	}
	cfg, logger := rt.cfg, rt.logger

	sources := []credentials.Source{
		credentials.EnvSource{Platform: cfg.CredentialPlatform},
		rt.settings.CredentialSource(),
	}
	opts := credentials.PoolOptions{
		Filter: credentials.PlatformIs(cfg.CredentialPlatform),
		Logger: &logger,
	}
	if rt.library != nil {
		sources = append(sources, rt.library)
		opts.Recorder = rt.library
	}
	opts.Sources = sources
	rt.creds = credentials.NewPool(opts)
	if err := rt.creds.Init(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	logger.Info().Int("credentials", rt.creds.Size()).Msg("credential pool ready")

	client := dashscope.NewClient(dashscope.Options{
		BaseURL:        cfg.DashScopeBaseURL,
		Model:          cfg.DashScopeModel,
		Logger:         &logger,
		RequestTimeout: cfg.ProviderTimeout,
	})

	root := cfg.StoragePath
	if v := strings.TrimSpace(rt.settings.StorageRoot); v != "" {
		root = v
	}
	files, err := storage.NewFileStore(root)
	if err != nil {
		rt.Close()
		return nil, err
	}

	engineOpts := batch.Options{
		Provider:     client,
		Fetcher:      client,
		Credentials:  rt.creds,
		Store:        files,
		Concurrency:  cfg.Batch.Concurrency,
		MaxAttempts:  cfg.Batch.MaxAttempts,
		BatchDelay:   cfg.Batch.BatchDelay,
		PollInterval: cfg.Batch.PollInterval,
		PollTimeout:  cfg.Batch.PollTimeout,
		Backoff: batch.Backoff{
			Base:       cfg.Batch.RetryBaseDelay,
			Max:        cfg.Batch.RetryMaxDelay,
			Multiplier: cfg.Batch.RetryMultiplier,
			Jitter:     cfg.Batch.RetryJitter,
			Cooldown:   cfg.Batch.RateLimitCooldown,
		},
		OnDelay: func(jobID string, code batch.ErrorCode, d time.Duration) {
			logger.Info().Str("job_id", jobID).Str("code", string(code)).Dur("delay", d).Msg("retry scheduled")
		},
		Logger: &logger,
	}
	if rt.jobs != nil {
		engineOpts.Listener = rt.jobs
	}
	rt.engine, err = batch.NewEngine(engineOpts)
	if err != nil {
		rt.Close()
		return nil, err
	}

	if rt.jobs != nil {
		records, err := rt.jobs.LoadAll(ctx)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("restore jobs: %w", err)
		}
		n := rt.engine.Restore(records)
		logger.Info().Int("jobs", n).Msg("jobs restored")
	}
	return rt, nil
}
