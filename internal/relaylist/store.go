package relaylist

import (
	"iter"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Resinat/Relayd/internal/relay"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	Clock  clock.Clock // default clock.New()
	Logger *zap.Logger // default no-op

	// OnChange, if set, is called with every new snapshot, in the order the
	// snapshots were installed. It must not write to the store.
	OnChange func(*ParsedRelays)
}

// Store is the shared relay inventory. One writer (the updater or the
// control plane) replaces snapshots; any number of readers take the
// current snapshot and work on it without holding the lock.
type Store struct {
	// writeMu serializes writers through their OnChange call; mu only
	// guards the snapshot pointer.
	writeMu sync.Mutex
	mu      sync.RWMutex
	snap    *ParsedRelays

	clock    clock.Clock
	log      *zap.Logger
	onChange func(*ParsedRelays)
}

// NewStore creates a store holding list (nil means empty) with the given
// overrides, stamped as updated at lastUpdated.
func NewStore(cfg StoreConfig, list *relay.RelayList, overrides []relay.Override, lastUpdated time.Time) *Store {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Store{
		snap:     parse(list, overrides, lastUpdated, 1),
		clock:    cfg.Clock,
		log:      cfg.Logger.Named("relaylist"),
		onChange: cfg.OnChange,
	}
	s.notify(s.snap)
	return s
}

// Snapshot returns the current immutable snapshot.
func (s *Store) Snapshot() *ParsedRelays {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Relays iterates over the relays of the snapshot current at call time.
func (s *Store) Relays() iter.Seq[*relay.Relay] {
	return s.Snapshot().Relays()
}

// Update replaces the inventory wholesale and reapplies the current
// overrides to it.
func (s *Store) Update(list *relay.RelayList) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.clock.Now()
	s.mu.Lock()
	next := parse(list, s.snap.overrides, now, s.snap.generation+1)
	s.snap = next
	s.mu.Unlock()

	s.log.Info("relay list updated",
		zap.Int("relays", next.Len()),
		zap.String("etag", next.ETag()),
		zap.Uint64("generation", next.generation))
	s.notify(next)
}

// SetOverrides recomputes the derived list from the current original list.
// LastUpdated is left unchanged.
func (s *Store) SetOverrides(overrides []relay.Override) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	cur := s.snap
	next := parse(cur.original, overrides, cur.lastUpdated, cur.generation+1)
	s.snap = next
	s.mu.Unlock()

	s.log.Info("relay overrides applied", zap.Int("overrides", len(overrides)))
	s.notify(next)
}

// Touch marks the current list as fresh without changing its content.
func (s *Store) Touch() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.clock.Now()
	s.mu.Lock()
	next := s.snap.withLastUpdated(now)
	s.snap = next
	s.mu.Unlock()
	s.notify(next)
}

func (s *Store) LastUpdated() time.Time {
	return s.Snapshot().lastUpdated
}

// ETag returns the freshness tag of the current original list.
func (s *Store) ETag() string {
	return s.Snapshot().ETag()
}

// ShouldUpdate reports whether the list is at least interval old.
func (s *Store) ShouldUpdate(interval time.Duration) bool {
	return s.clock.Since(s.LastUpdated()) >= interval
}

func (s *Store) notify(p *ParsedRelays) {
	if s.onChange != nil {
		s.onChange(p)
	}
}
