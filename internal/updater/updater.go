// Package updater keeps the relay list fresh: a single background loop
// that checks staleness on a schedule, downloads the list with ETag-based
// conditional requests, retries with backoff and pushes new lists into the
// store.
package updater

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Resinat/Relayd/internal/metrics"
	"github.com/Resinat/Relayd/internal/netutil"
	"github.com/Resinat/Relayd/internal/relay"
	"github.com/Resinat/Relayd/internal/relaylist"
)

const (
	DefaultCheckSchedule  = "@every 15m"
	DefaultUpdateInterval = time.Hour
)

// Fetcher downloads the relay list. A nil list with a nil error means the
// list identified by etag is still current.
type Fetcher interface {
	FetchRelayList(ctx context.Context, etag string) (*relay.RelayList, error)
}

// Gate blocks until background network requests are allowed.
type Gate interface {
	WaitBackground(ctx context.Context) error
}

// Store is the part of relaylist.Store the updater writes to.
type Store interface {
	ETag() string
	ShouldUpdate(interval time.Duration) bool
	Update(list *relay.RelayList)
	Touch()
}

// Config configures an Updater.
type Config struct {
	Store   Store
	Fetcher Fetcher
	Gate    Gate // nil means always allowed

	// CachePath is where new lists are written. Empty disables the cache.
	CachePath string

	UpdateInterval time.Duration // default DefaultUpdateInterval
	CheckSchedule  string        // cron expression, default DefaultCheckSchedule
	Backoff        netutil.Backoff
	RetryWindow    time.Duration

	Clock   clock.Clock
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Updater owns the fetch slot. At most one fetch is in flight at a time.
type Updater struct {
	store     Store
	fetcher   Fetcher
	gate      Gate
	cachePath string
	interval  time.Duration
	schedule  cron.Schedule
	retrier   *netutil.Retrier
	clock     clock.Clock
	log       *zap.Logger
	metrics   *metrics.Collector
	handle    *Handle
}

// Handle triggers and stops a running Updater.
type Handle struct {
	cmds      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Update requests an immediate refresh. It never blocks: a request made
// while one is already pending or a fetch is running is dropped.
func (h *Handle) Update() {
	select {
	case h.cmds <- struct{}{}:
	default:
	}
}

// Close stops the background loop. A fetch in flight is abandoned and its
// result discarded.
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

type fetchResult struct {
	list *relay.RelayList
	err  error
}

// New validates cfg and creates an Updater together with its Handle.
func New(cfg Config) (*Updater, *Handle, error) {
	if cfg.Store == nil || cfg.Fetcher == nil {
		return nil, nil, errors.New("updater: store and fetcher are required")
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.CheckSchedule == "" {
		cfg.CheckSchedule = DefaultCheckSchedule
	}
	schedule, err := cron.ParseStandard(cfg.CheckSchedule)
	if err != nil {
		return nil, nil, fmt.Errorf("updater: invalid check schedule %q: %w", cfg.CheckSchedule, err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	h := &Handle{
		cmds: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	u := &Updater{
		store:     cfg.Store,
		fetcher:   cfg.Fetcher,
		gate:      cfg.Gate,
		cachePath: cfg.CachePath,
		interval:  cfg.UpdateInterval,
		schedule:  schedule,
		clock:     cfg.Clock,
		log:       cfg.Logger.Named("updater"),
		metrics:   cfg.Metrics,
		handle:    h,
	}
	u.retrier = &netutil.Retrier{
		Backoff: cfg.Backoff,
		Window:  cfg.RetryWindow,
		Clock:   cfg.Clock,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			u.metrics.ObserveFetch(metrics.FetchRetried)
			u.log.Warn("relay list fetch failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Error(err))
		},
	}
	return u, h, nil
}

// Run drives the updater until ctx is done or the handle is closed. It
// checks staleness once at startup and then on every scheduled check.
func (u *Updater) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan fetchResult, 1)
	fetching := false
	start := func(reason string) {
		fetching = true
		etag := u.store.ETag()
		u.log.Info("fetching relay list", zap.String("reason", reason), zap.String("etag", etag))
		go func() {
			results <- u.fetch(ctx, etag)
		}()
	}

	if u.store.ShouldUpdate(u.interval) {
		start("stale at startup")
	}

	check := u.clock.Timer(u.untilNextCheck())
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			u.log.Info("relay list updater stopped", zap.Error(ctx.Err()))
			return nil
		case <-u.handle.done:
			u.log.Info("relay list updater closed")
			return nil
		case <-check.C:
			if !fetching && u.store.ShouldUpdate(u.interval) {
				start("stale")
			}
			check.Reset(u.untilNextCheck())
		case <-u.handle.cmds:
			if fetching {
				u.log.Debug("update requested while fetching, ignored")
				continue
			}
			start("requested")
		case res := <-results:
			fetching = false
			u.apply(res)
		}
	}
}

func (u *Updater) untilNextCheck() time.Duration {
	now := u.clock.Now()
	d := u.schedule.Next(now).Sub(now)
	if d <= 0 {
		d = time.Second
	}
	return d
}

// fetch waits for the gate before every attempt.
func (u *Updater) fetch(ctx context.Context, etag string) fetchResult {
	var list *relay.RelayList
	err := u.retrier.Do(ctx, func(ctx context.Context) error {
		if u.gate != nil {
			if err := u.gate.WaitBackground(ctx); err != nil {
				return err
			}
		}
		l, err := u.fetcher.FetchRelayList(ctx, etag)
		if err != nil {
			return err
		}
		list = l
		return nil
	})
	return fetchResult{list: list, err: err}
}

func (u *Updater) apply(res fetchResult) {
	switch {
	case res.err != nil:
		u.metrics.ObserveFetch(metrics.FetchFailed)
		u.log.Error("relay list update failed, waiting for next check", zap.Error(res.err))
	case res.list == nil:
		u.metrics.ObserveFetch(metrics.FetchNotModified)
		u.store.Touch()
		u.log.Info("relay list not modified")
	default:
		u.metrics.ObserveFetch(metrics.FetchUpdated)
		u.store.Update(res.list)
		if u.cachePath == "" {
			return
		}
		if err := relaylist.WriteCacheFile(u.cachePath, res.list); err != nil {
			u.log.Warn("failed to write relay list cache", zap.String("path", u.cachePath), zap.Error(err))
		}
	}
}
