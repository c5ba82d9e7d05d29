package profile

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/Resinat/Relayd/internal/constraint"
)

// DefaultID is the well-known UUID of the built-in Default profile.
const DefaultID = "00000000-0000-0000-0000-000000000000"

// DefaultName is the built-in profile name.
const DefaultName = "Default"

var (
	ErrNotFound = errors.New("profile not found")
	ErrConflict = errors.New("profile name already exists")
	ErrReserved = errors.New("the Default profile cannot be renamed or deleted")
)

// Profile is a validated, immutable profile. Updates replace the pointer.
type Profile struct {
	ID        string
	Spec      Spec
	Query     constraint.RelayQuery
	UpdatedAt time.Time
}

func (p *Profile) Name() string { return p.Spec.Name }

// Manager is the concurrent profile registry. Reads are lock-free; writes
// are serialized so that names stay unique.
type Manager struct {
	profiles *xsync.Map[string, *Profile]
	writeMu  sync.Mutex
	now      func() time.Time
}

// NewManager creates a registry holding only the Default profile, which
// matches any relay.
func NewManager() *Manager {
	m := &Manager{
		profiles: xsync.NewMap[string, *Profile](),
		now:      time.Now,
	}
	m.profiles.Store(DefaultID, &Profile{
		ID:        DefaultID,
		Spec:      Spec{Name: DefaultName},
		UpdatedAt: m.now(),
	})
	return m
}

func (m *Manager) Get(id string) (*Profile, bool) {
	return m.profiles.Load(id)
}

// Default returns the built-in profile.
func (m *Manager) Default() *Profile {
	p, _ := m.profiles.Load(DefaultID)
	return p
}

// List returns all profiles, Default first and the rest sorted by name.
func (m *Manager) List() []*Profile {
	out := make([]*Profile, 0, m.profiles.Size())
	m.profiles.Range(func(_ string, p *Profile) bool {
		out = append(out, p)
		return true
	})
	slices.SortFunc(out, func(a, b *Profile) int {
		switch {
		case a.ID == DefaultID:
			return -1
		case b.ID == DefaultID:
			return 1
		}
		return strings.Compare(a.Name(), b.Name())
	})
	return out
}

type putMode int

const (
	putCreate  putMode = iota // fails if the ID exists
	putUpsert                 // creates or replaces
	putReplace                // fails if the ID is missing
)

// Create validates spec and registers it under a new ID.
func (m *Manager) Create(spec Spec) (*Profile, error) {
	return m.put(uuid.New().String(), spec, putCreate)
}

// Put creates or replaces the profile with the given ID. The Default
// profile may be replaced but keeps its name.
func (m *Manager) Put(id string, spec Spec) (*Profile, error) {
	return m.put(id, spec, putUpsert)
}

// Update replaces an existing profile. A profile deleted concurrently is
// not recreated.
func (m *Manager) Update(id string, spec Spec) (*Profile, error) {
	return m.put(id, spec, putReplace)
}

func (m *Manager) put(id string, spec Spec, mode putMode) (*Profile, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	q, err := spec.Query()
	if err != nil {
		return nil, err
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if id == DefaultID && spec.Name != DefaultName {
		return nil, ErrReserved
	}
	if id != DefaultID && spec.Name == DefaultName {
		return nil, ErrConflict
	}
	_, exists := m.profiles.Load(id)
	switch {
	case mode == putCreate && exists:
		return nil, ErrConflict
	case mode == putReplace && !exists:
		return nil, ErrNotFound
	}
	var clash bool
	m.profiles.Range(func(otherID string, p *Profile) bool {
		clash = otherID != id && p.Name() == spec.Name
		return !clash
	})
	if clash {
		return nil, ErrConflict
	}

	p := &Profile{ID: id, Spec: spec, Query: q, UpdatedAt: m.now()}
	m.profiles.Store(id, p)
	return p, nil
}

// Delete removes a profile. The Default profile cannot be deleted.
func (m *Manager) Delete(id string) error {
	if id == DefaultID {
		return ErrReserved
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if _, ok := m.profiles.LoadAndDelete(id); !ok {
		return ErrNotFound
	}
	return nil
}
