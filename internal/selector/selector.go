package selector

import (
	"encoding/json"
	"errors"
	"math/rand/v2"

	"github.com/maypok86/otter"
	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/Resinat/Relayd/internal/constraint"
	"github.com/Resinat/Relayd/internal/matcher"
	"github.com/Resinat/Relayd/internal/metrics"
	"github.com/Resinat/Relayd/internal/relay"
	"github.com/Resinat/Relayd/internal/relaylist"
)

// SnapshotSource provides the current relay inventory.
type SnapshotSource interface {
	Snapshot() *relaylist.ParsedRelays
}

// Config configures a Selector.
type Config struct {
	Source     SnapshotSource
	RetryOrder []constraint.RelayQuery // default DefaultRetryOrder

	// CandidateCacheSize bounds the number of cached filter results.
	// Zero disables the cache.
	CandidateCacheSize int

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Selector serves relay selections against the current snapshot. It never
// blocks on I/O: every call works on an immutable snapshot.
type Selector struct {
	source  SnapshotSource
	order   []constraint.RelayQuery
	cache   *otter.Cache[candidateKey, []*relay.Relay]
	log     *zap.Logger
	metrics *metrics.Collector
}

type candidateKey struct {
	generation  uint64
	fingerprint xxh3.Uint128
}

// New creates a Selector.
func New(cfg Config) *Selector {
	if cfg.RetryOrder == nil {
		cfg.RetryOrder = DefaultRetryOrder
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Selector{
		source:  cfg.Source,
		order:   cfg.RetryOrder,
		log:     cfg.Logger.Named("selector"),
		metrics: cfg.Metrics,
	}
	if cfg.CandidateCacheSize > 0 {
		cache, err := otter.MustBuilder[candidateKey, []*relay.Relay](cfg.CandidateCacheSize).
			Cost(func(_ candidateKey, _ []*relay.Relay) uint32 { return 1 }).
			Build()
		if err != nil {
			panic("selector: failed to create candidate cache: " + err.Error())
		}
		s.cache = &cache
	}
	return s
}

// SelectRelay combines query with the retry order and picks a relay for
// the given attempt number.
func (s *Selector) SelectRelay(query constraint.RelayQuery, retryAttempt uint32) (*SelectedRelay, error) {
	snap := s.source.Snapshot()
	if snap.Len() == 0 {
		s.metrics.ObserveSelection(metrics.SelectionEmptyRelayList)
		return nil, ErrEmptyRelayList
	}

	rng := rngPool.Get().(*rand.Rand)
	defer rngPool.Put(rng)

	sel, err := selectRetry(&query, retryAttempt, snap.List(), s.order, s.candidates(snap), rng)
	switch {
	case err == nil:
		s.metrics.ObserveSelection(metrics.SelectionOK)
		s.log.Debug("relay selected",
			zap.String("exit", sel.Exit.Hostname),
			zap.Stringer("endpoint", sel.Endpoint.Address),
			zap.Uint32("attempt", retryAttempt))
	case errors.Is(err, ErrNoRelaysMatch):
		s.metrics.ObserveSelection(metrics.SelectionNoRelaysMatch)
	}
	return sel, err
}

// Candidates returns the relays matching query in the current snapshot,
// without applying the retry order.
func (s *Selector) Candidates(query constraint.RelayQuery) []*relay.Relay {
	return s.candidates(s.source.Snapshot())(&query)
}

func (s *Selector) candidates(snap *relaylist.ParsedRelays) candidateFunc {
	list := snap.List()
	if s.cache == nil {
		return func(q *constraint.RelayQuery) []*relay.Relay {
			return matcher.Filter(q, list)
		}
	}
	return func(q *constraint.RelayQuery) []*relay.Relay {
		fp, ok := fingerprint(q)
		if !ok {
			return matcher.Filter(q, list)
		}
		key := candidateKey{generation: snap.Generation(), fingerprint: fp}
		if cached, ok := s.cache.Get(key); ok {
			s.metrics.ObserveCandidateCache(true)
			return cached
		}
		s.metrics.ObserveCandidateCache(false)
		out := matcher.Filter(q, list)
		s.cache.Set(key, out)
		return out
	}
}

// fingerprint hashes the canonical JSON form of a query.
func fingerprint(q *constraint.RelayQuery) (xxh3.Uint128, bool) {
	b, err := json.Marshal(q)
	if err != nil {
		return xxh3.Uint128{}, false
	}
	return xxh3.Hash128(b), true
}
