package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/Resinat/Relayd/internal/api"
	"github.com/Resinat/Relayd/internal/availability"
	"github.com/Resinat/Relayd/internal/buildinfo"
	"github.com/Resinat/Relayd/internal/config"
	"github.com/Resinat/Relayd/internal/metrics"
	"github.com/Resinat/Relayd/internal/netutil"
	"github.com/Resinat/Relayd/internal/profile"
	"github.com/Resinat/Relayd/internal/relaylist"
	"github.com/Resinat/Relayd/internal/selector"
	"github.com/Resinat/Relayd/internal/service"
	"github.com/Resinat/Relayd/internal/updater"
)

const shutdownTimeout = 5 * time.Second

type relaydApp struct {
	envCfg        *config.EnvConfig
	log           *zap.Logger
	metrics       *metrics.Collector
	store         *relaylist.Store
	updater       *updater.Updater
	updaterHandle *updater.Handle
	apiSrv        *api.Server
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(envCfg.LogLevel, envCfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	app, err := newRelaydApp(envCfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.run(ctx)
}

func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func newRelaydApp(envCfg *config.EnvConfig, logger *zap.Logger) (*relaydApp, error) {
	switch {
	case envCfg.AdminToken == "":
		logger.Warn("RELAYD_ADMIN_TOKEN is empty, API authentication is disabled")
	case config.IsWeakToken(envCfg.AdminToken):
		logger.Warn("RELAYD_ADMIN_TOKEN is weak", zap.Int("score", config.TokenScore(envCfg.AdminToken)))
	}

	boot, err := config.LoadBootstrapFile(envCfg.BootstrapFile)
	if err != nil {
		return nil, err
	}

	app := &relaydApp{
		envCfg:  envCfg,
		log:     logger,
		metrics: metrics.NewCollector(),
	}

	app.store = openStore(envCfg, boot, logger, app.metrics)

	profiles := profile.NewManager()
	if err := applyBootstrapProfiles(profiles, boot.Profiles); err != nil {
		return nil, err
	}

	gate := availability.NewGate(boot.Availability, logger)
	sel := selector.New(selector.Config{
		Source:             app.store,
		CandidateCacheSize: envCfg.SelectorCandidateCacheSize,
		Logger:             logger,
		Metrics:            app.metrics,
	})

	downloader := netutil.NewDirectDownloader(
		func() time.Duration { return envCfg.RelayListFetchTimeout },
		func() string { return envCfg.UserAgent },
	)
	app.updater, app.updaterHandle, err = updater.New(updater.Config{
		Store:          app.store,
		Fetcher:        &updater.HTTPFetcher{Downloader: downloader, URL: envCfg.RelayListURL},
		Gate:           gate,
		CachePath:      filepath.Join(envCfg.CacheDir, relaylist.CacheFileName),
		UpdateInterval: envCfg.RelayListUpdateInterval,
		CheckSchedule:  envCfg.RelayListCheckSchedule,
		Backoff: netutil.Backoff{
			Base:       envCfg.FetchRetryBaseDelay,
			Max:        envCfg.FetchRetryMaxDelay,
			Multiplier: envCfg.FetchRetryMultiplier,
			Jitter:     envCfg.FetchRetryJitter,
		},
		RetryWindow: envCfg.FetchRetryWindow,
		Logger:      logger,
		Metrics:     app.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("updater: %w", err)
	}

	cp := &service.ControlPlaneService{
		Store:    app.store,
		Selector: sel,
		Profiles: profiles,
		Gate:     gate,
		Updater:  app.updaterHandle,
		EnvCfg:   envCfg,
		Info: service.SystemInfo{
			Version:   buildinfo.Version,
			GitCommit: buildinfo.GitCommit,
			BuildTime: buildinfo.BuildTime,
			StartedAt: time.Now().UTC(),
		},
		Logger: logger.Named("service"),
	}
	app.apiSrv = api.NewServer(
		envCfg.ListenAddress,
		envCfg.Port,
		envCfg.AdminToken,
		cp,
		app.metrics.Handler(),
		int64(envCfg.APIMaxBodyBytes),
	)
	return app, nil
}

// openStore loads the newest of the cached and bundled relay lists. When
// neither can be read the store starts empty and stale, so the updater
// fetches right away.
func openStore(envCfg *config.EnvConfig, boot *config.Bootstrap, logger *zap.Logger, m *metrics.Collector) *relaylist.Store {
	storeCfg := relaylist.StoreConfig{
		Logger: logger,
		OnChange: func(p *relaylist.ParsedRelays) {
			m.ObserveSnapshot(p.Len(), p.LastUpdated(), p.Generation())
		},
	}
	store, err := relaylist.FromFile(
		filepath.Join(envCfg.CacheDir, relaylist.CacheFileName),
		filepath.Join(envCfg.ResourceDir, relaylist.CacheFileName),
		boot.Overrides,
		storeCfg,
	)
	if err != nil {
		logger.Warn("no relay list on disk, starting empty", zap.Error(err))
		return relaylist.NewStore(storeCfg, nil, boot.Overrides, time.Time{})
	}
	return store
}

// applyBootstrapProfiles registers the profiles from the bootstrap file. A
// profile named Default replaces the built-in Default profile.
func applyBootstrapProfiles(profiles *profile.Manager, specs []profile.Spec) error {
	for _, spec := range specs {
		var err error
		if spec.Name == profile.DefaultName {
			_, err = profiles.Put(profile.DefaultID, spec)
		} else {
			_, err = profiles.Create(spec)
		}
		if err != nil {
			return fmt.Errorf("bootstrap profile %q: %w", spec.Name, err)
		}
	}
	return nil
}

// run serves the API and keeps the relay list fresh until ctx is done or
// one of them fails.
func (a *relaydApp) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.updater.Run(gctx)
	})
	g.Go(func() error {
		a.log.Info("API server starting",
			zap.String("address", a.envCfg.ListenAddress),
			zap.Int("port", a.envCfg.Port))
		if err := a.apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		a.updaterHandle.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.apiSrv.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("API server shutdown error", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	a.log.Info("stopped")
	return err
}
