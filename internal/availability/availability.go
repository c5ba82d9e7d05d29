// Package availability tracks whether background network requests are
// currently allowed.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrInterrupted is returned by WaitBackground when the wait is abandoned.
var ErrInterrupted = errors.New("availability: wait interrupted")

// State is a point-in-time view of the gate.
type State struct {
	Suspended bool `json:"suspended"`
	Offline   bool `json:"offline"`
	Inactive  bool `json:"inactive"`
}

// BackgroundAllowed reports whether none of the blocking flags is set.
func (s State) BackgroundAllowed() bool {
	return !s.Suspended && !s.Offline && !s.Inactive
}

// Patch updates a subset of the flags.
type Patch struct {
	Suspended *bool `json:"suspended,omitempty"`
	Offline   *bool `json:"offline,omitempty"`
	Inactive  *bool `json:"inactive,omitempty"`
}

// Gate holds the flags and wakes waiters when background requests become
// allowed.
type Gate struct {
	mu    sync.Mutex
	state State
	// ready is closed while background requests are allowed and replaced
	// with an open channel when they stop being allowed.
	ready chan struct{}
	log   *zap.Logger
}

// NewGate creates a gate in the given initial state.
func NewGate(initial State, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{state: initial, ready: make(chan struct{}), log: log.Named("availability")}
	if initial.BackgroundAllowed() {
		close(g.ready)
	}
	return g
}

// State returns the current flags.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Apply updates the flags and returns the resulting state.
func (g *Gate) Apply(p Patch) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	was := g.state.BackgroundAllowed()
	if p.Suspended != nil {
		g.state.Suspended = *p.Suspended
	}
	if p.Offline != nil {
		g.state.Offline = *p.Offline
	}
	if p.Inactive != nil {
		g.state.Inactive = *p.Inactive
	}
	now := g.state.BackgroundAllowed()

	switch {
	case !was && now:
		close(g.ready)
		g.log.Info("background requests allowed")
	case was && !now:
		g.ready = make(chan struct{})
		g.log.Info("background requests paused",
			zap.Bool("suspended", g.state.Suspended),
			zap.Bool("offline", g.state.Offline),
			zap.Bool("inactive", g.state.Inactive))
	}
	return g.state
}

// WaitBackground blocks until background requests are allowed or ctx is
// done, in which case the returned error wraps both ErrInterrupted and the
// context error.
func (g *Gate) WaitBackground(ctx context.Context) error {
	for {
		g.mu.Lock()
		ready := g.ready
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		case <-ready:
		}

		// The gate may have closed again between the wakeup and now.
		g.mu.Lock()
		allowed := g.state.BackgroundAllowed()
		g.mu.Unlock()
		if allowed {
			return nil
		}
	}
}
