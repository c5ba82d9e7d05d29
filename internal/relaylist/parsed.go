// Package relaylist owns the in-memory relay inventory: immutable parsed
// snapshots, the shared Store and the on-disk cache file.
package relaylist

import (
	"iter"
	"slices"
	"time"

	"github.com/Resinat/Relayd/internal/relay"
)

// ParsedRelays is an immutable snapshot of the relay inventory. The parsed
// list is derived purely from the original list and the override set.
// Relays handed out by a snapshot must not be mutated.
type ParsedRelays struct {
	original    *relay.RelayList
	parsed      *relay.RelayList
	relays      []*relay.Relay
	byHostname  map[string]*relay.Relay
	overrides   []relay.Override
	lastUpdated time.Time
	generation  uint64
}

// Parse derives a snapshot from original and overrides. original is not
// modified and is retained as is.
func Parse(original *relay.RelayList, overrides []relay.Override, lastUpdated time.Time) *ParsedRelays {
	return parse(original, overrides, lastUpdated, 0)
}

func parse(original *relay.RelayList, overrides []relay.Override, lastUpdated time.Time, generation uint64) *ParsedRelays {
	if original == nil {
		original = &relay.RelayList{}
	}
	parsed := original.Clone()

	byOverride := make(map[string][]relay.Override, len(overrides))
	for _, o := range overrides {
		byOverride[o.Hostname] = append(byOverride[o.Hostname], o)
	}
	ssRanges := parsed.WireGuard.ShadowsocksPortRanges

	p := &ParsedRelays{
		original:    original,
		parsed:      parsed,
		byHostname:  make(map[string]*relay.Relay),
		overrides:   slices.Clone(overrides),
		lastUpdated: lastUpdated,
		generation:  generation,
	}
	parsed.RangeRelays(func(country *relay.Country, city *relay.City, r *relay.Relay) bool {
		r.Location = &relay.Location{
			Country:     country.Name,
			CountryCode: country.Code,
			City:        city.Name,
			CityCode:    city.Code,
			Latitude:    city.Latitude,
			Longitude:   city.Longitude,
		}
		for _, o := range byOverride[r.Hostname] {
			o.Apply(r)
		}
		if r.Endpoint.WireGuard != nil {
			r.Endpoint.WireGuard.ShadowsocksPortRanges = slices.Clone(ssRanges)
		}
		p.relays = append(p.relays, r)
		p.byHostname[r.Hostname] = r
		return true
	})
	return p
}

// withLastUpdated returns a copy sharing all derived data.
func (p *ParsedRelays) withLastUpdated(t time.Time) *ParsedRelays {
	c := *p
	c.lastUpdated = t
	return &c
}

// Original returns the list as downloaded.
func (p *ParsedRelays) Original() *relay.RelayList { return p.original }

// List returns the derived list with locations and overrides applied.
func (p *ParsedRelays) List() *relay.RelayList { return p.parsed }

// Relays iterates over every relay of the derived list. The sequence can be
// ranged over any number of times.
func (p *ParsedRelays) Relays() iter.Seq[*relay.Relay] {
	return func(yield func(*relay.Relay) bool) {
		for _, r := range p.relays {
			if !yield(r) {
				return
			}
		}
	}
}

// Len returns the number of relays.
func (p *ParsedRelays) Len() int { return len(p.relays) }

// Lookup finds a relay by hostname.
func (p *ParsedRelays) Lookup(hostname string) (*relay.Relay, bool) {
	r, ok := p.byHostname[hostname]
	return r, ok
}

// Overrides returns a copy of the applied override set.
func (p *ParsedRelays) Overrides() []relay.Override { return slices.Clone(p.overrides) }

func (p *ParsedRelays) LastUpdated() time.Time { return p.lastUpdated }

// Generation changes whenever the relay content of the store changes.
func (p *ParsedRelays) Generation() uint64 { return p.generation }

// ETag is the freshness tag of the original list.
func (p *ParsedRelays) ETag() string { return p.original.ETag }
