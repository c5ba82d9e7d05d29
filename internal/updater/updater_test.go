package updater

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Resinat/Relayd/internal/availability"
	"github.com/Resinat/Relayd/internal/metrics"
	"github.com/Resinat/Relayd/internal/netutil"
	"github.com/Resinat/Relayd/internal/relay"
	"github.com/Resinat/Relayd/internal/relaylist"
)

const listV2 = `{
  "etag": "\"v2\"",
  "countries": [
    {"name": "Sweden", "code": "se", "cities": [
      {"name": "Gothenburg", "code": "got", "latitude": 57.7, "longitude": 11.97, "relays": [
        {"hostname": "se-got-wg-001", "ipv4_addr_in": "185.213.154.68",
         "include_in_country": true, "active": true, "owned": true, "provider": "31173", "weight": 100,
         "endpoint_data": {"wireguard": {"public_key": "pk-got-1"}}},
        {"hostname": "se-got-wg-002", "ipv4_addr_in": "185.213.154.69",
         "include_in_country": true, "active": true, "owned": true, "provider": "31173", "weight": 100,
         "endpoint_data": {"wireguard": {"public_key": "pk-got-2"}}}
      ]}
    ]}
  ],
  "wireguard": {"port_ranges": [[53, 53], [4000, 33433]], "ipv4_gateway": "10.64.0.1"},
  "openvpn": {"ports": []},
  "bridge": {"shadowsocks": []}
}`

func parseList(t *testing.T, doc string) *relay.RelayList {
	t.Helper()
	list, err := relay.ParseRelayList([]byte(doc))
	require.NoError(t, err)
	return list
}

type fakeFetcher struct {
	calls atomic.Int32
	fn    func(ctx context.Context, etag string) (*relay.RelayList, error)
}

func (f *fakeFetcher) FetchRelayList(ctx context.Context, etag string) (*relay.RelayList, error) {
	f.calls.Add(1)
	return f.fn(ctx, etag)
}

type harness struct {
	store   *relaylist.Store
	handle  *Handle
	metrics *metrics.Collector
	done    chan error
}

func startUpdater(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = zaptest.NewLogger(t)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewCollector()
	}
	u, h, err := New(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- u.Run(context.Background()) }()
	t.Cleanup(func() {
		h.Close()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("updater did not stop")
		}
	})
	store, _ := cfg.Store.(*relaylist.Store)
	return &harness{store: store, handle: h, metrics: cfg.Metrics, done: done}
}

func TestNew_RejectsInvalidSchedule(t *testing.T) {
	store := relaylist.NewStore(relaylist.StoreConfig{}, nil, nil, time.Time{})
	_, _, err := New(Config{Store: store, Fetcher: &fakeFetcher{}, CheckSchedule: "every now and then"})
	require.Error(t, err)

	_, _, err = New(Config{Fetcher: &fakeFetcher{}})
	require.Error(t, err)
}

func TestUpdater_FetchesStaleListAtStartup(t *testing.T) {
	clk := clock.NewMock()
	store := relaylist.NewStore(relaylist.StoreConfig{Clock: clk}, nil, nil, time.Time{})
	fetcher := &fakeFetcher{fn: func(_ context.Context, etag string) (*relay.RelayList, error) {
		assert.Empty(t, etag)
		return parseList(t, listV2), nil
	}}
	cache := filepath.Join(t.TempDir(), "cache", relaylist.CacheFileName)

	h := startUpdater(t, Config{Store: store, Fetcher: fetcher, CachePath: cache, Clock: clk})

	require.Eventually(t, func() bool { return store.Snapshot().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, `"v2"`, store.ETag())
	assert.Equal(t, clk.Now(), store.LastUpdated())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Fetches(metrics.FetchUpdated)))

	require.Eventually(t, func() bool {
		cached, err := relaylist.ReadCacheFile(cache)
		return err == nil && cached.ETag == `"v2"`
	}, 2*time.Second, 5*time.Millisecond)
}

func TestUpdater_CacheWriteFailureKeepsNewList(t *testing.T) {
	clk := clock.NewMock()
	store := relaylist.NewStore(relaylist.StoreConfig{Clock: clk}, nil, nil, time.Time{})
	fetcher := &fakeFetcher{fn: func(context.Context, string) (*relay.RelayList, error) {
		return parseList(t, listV2), nil
	}}
	notADir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.WriteFile(notADir, []byte("x"), 0o644))
	core, logs := observer.New(zap.WarnLevel)

	h := startUpdater(t, Config{
		Store:     store,
		Fetcher:   fetcher,
		CachePath: filepath.Join(notADir, relaylist.CacheFileName),
		Clock:     clk,
		Logger:    zap.New(core),
	})

	require.Eventually(t, func() bool {
		return logs.FilterMessage("failed to write relay list cache").Len() == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, store.Snapshot().Len())
	assert.Equal(t, `"v2"`, store.ETag())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Fetches(metrics.FetchUpdated)))
	assert.Zero(t, testutil.ToFloat64(h.metrics.Fetches(metrics.FetchFailed)))
}

func TestUpdater_NotModifiedTouchesStore(t *testing.T) {
	clk := clock.NewMock()
	clk.Add(24 * time.Hour)
	original := parseList(t, listV2)
	store := relaylist.NewStore(relaylist.StoreConfig{Clock: clk}, original, nil, clk.Now().Add(-2*time.Hour))
	before := store.Snapshot()

	fetcher := &fakeFetcher{fn: func(_ context.Context, etag string) (*relay.RelayList, error) {
		assert.Equal(t, `"v2"`, etag)
		return nil, nil
	}}
	h := startUpdater(t, Config{Store: store, Fetcher: fetcher, Clock: clk})

	require.Eventually(t, func() bool { return store.LastUpdated().Equal(clk.Now()) }, 2*time.Second, 5*time.Millisecond)
	after := store.Snapshot()
	assert.Same(t, before.Original(), after.Original())
	assert.Equal(t, before.Generation(), after.Generation())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Fetches(metrics.FetchNotModified)))
}

func TestUpdater_FreshListIsNotFetched(t *testing.T) {
	clk := clock.NewMock()
	store := relaylist.NewStore(relaylist.StoreConfig{Clock: clk}, parseList(t, listV2), nil, clk.Now())
	fetcher := &fakeFetcher{fn: func(context.Context, string) (*relay.RelayList, error) { return nil, nil }}

	startUpdater(t, Config{Store: store, Fetcher: fetcher, Clock: clk})
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fetcher.calls.Load())
}

func TestUpdater_ScheduledCheckFetchesOnceStale(t *testing.T) {
	clk := clock.NewMock()
	store := relaylist.NewStore(relaylist.StoreConfig{Clock: clk}, nil, nil, clk.Now())
	fetcher := &fakeFetcher{fn: func(context.Context, string) (*relay.RelayList, error) {
		return parseList(t, listV2), nil
	}}
	startUpdater(t, Config{
		Store:          store,
		Fetcher:        fetcher,
		Clock:          clk,
		UpdateInterval: time.Hour,
		CheckSchedule:  "@every 15m",
	})

	// Checks before the interval elapses leave the list alone.
	time.Sleep(20 * time.Millisecond)
	clk.Add(15 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fetcher.calls.Load())

	require.Eventually(t, func() bool {
		clk.Add(15 * time.Minute)
		return store.Snapshot().Len() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpdater_RequestsCoalesceWhileFetching(t *testing.T) {
	clk := clock.NewMock()
	store := relaylist.NewStore(relaylist.StoreConfig{Clock: clk}, nil, nil, clk.Now())
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(ctx context.Context, _ string) (*relay.RelayList, error) {
		select {
		case <-release:
			return parseList(t, listV2), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	h := startUpdater(t, Config{Store: store, Fetcher: fetcher, Clock: clk})

	h.handle.Update()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	for range 5 {
		h.handle.Update()
	}
	require.Eventually(t, func() bool { return len(h.handle.cmds) == 0 }, 2*time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return store.Snapshot().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, fetcher.calls.Load())

	// A new request after the fetch completed starts another one.
	h.handle.Update()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestUpdater_WaitsForAvailability(t *testing.T) {
	clk := clock.NewMock()
	store := relaylist.NewStore(relaylist.StoreConfig{Clock: clk}, nil, nil, time.Time{})
	gate := availability.NewGate(availability.State{Offline: true}, zaptest.NewLogger(t))
	fetcher := &fakeFetcher{fn: func(context.Context, string) (*relay.RelayList, error) {
		return parseList(t, listV2), nil
	}}
	startUpdater(t, Config{Store: store, Fetcher: fetcher, Gate: gate, Clock: clk})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, fetcher.calls.Load())

	off := false
	gate.Apply(availability.Patch{Offline: &off})
	require.Eventually(t, func() bool { return store.Snapshot().Len() == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestUpdater_GivesUpAfterRetryWindow(t *testing.T) {
	clk := clock.New()
	store := relaylist.NewStore(relaylist.StoreConfig{Clock: clk}, nil, nil, clk.Now())
	fetcher := &fakeFetcher{fn: func(context.Context, string) (*relay.RelayList, error) {
		return nil, errors.New("connection refused")
	}}
	h := startUpdater(t, Config{
		Store:       store,
		Fetcher:     fetcher,
		Clock:       clk,
		Backoff:     netutil.Backoff{Base: 5 * time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 1},
		RetryWindow: 15 * time.Millisecond,
	})

	h.handle.Update()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Fetches(metrics.FetchFailed)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 4, fetcher.calls.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Fetches(metrics.FetchRetried)))
	assert.Zero(t, store.Snapshot().Len())

	// The loop is idle again and accepts a new request.
	h.handle.Update()
	require.Eventually(t, func() bool { return fetcher.calls.Load() > 4 }, 2*time.Second, 5*time.Millisecond)
}

func TestUpdater_CloseAbandonsFetch(t *testing.T) {
	store := relaylist.NewStore(relaylist.StoreConfig{}, nil, nil, time.Time{})
	fetcher := &fakeFetcher{fn: func(ctx context.Context, _ string) (*relay.RelayList, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	u, h, err := New(Config{Store: store, Fetcher: fetcher, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- u.Run(context.Background()) }()
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.Close()
	h.Close()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Zero(t, store.Snapshot().Len())
}

func TestHTTPFetcher(t *testing.T) {
	var lastIfNoneMatch atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastIfNoneMatch.Store(r.Header.Get("If-None-Match"))
		if r.Header.Get("If-None-Match") == `"v2"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v2"`)
		_, _ = w.Write([]byte(listV2))
	}))
	defer srv.Close()

	f := &HTTPFetcher{Downloader: netutil.NewDirectDownloader(
		func() time.Duration { return 5 * time.Second },
		func() string { return "relayd-test" },
	), URL: srv.URL}

	list, err := f.FetchRelayList(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, list)
	assert.Equal(t, `"v2"`, list.ETag)
	assert.Equal(t, 2, list.RelayCount())

	list, err = f.FetchRelayList(context.Background(), `"v2"`)
	require.NoError(t, err)
	assert.Nil(t, list)
	assert.Equal(t, `"v2"`, lastIfNoneMatch.Load())
}
