package service

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Resinat/Relayd/internal/config"
	"github.com/Resinat/Relayd/internal/matcher"
	"github.com/Resinat/Relayd/internal/profile"
	"github.com/Resinat/Relayd/internal/relay"
	"github.com/Resinat/Relayd/internal/relaylist"
)

// ------------------------------------------------------------------
// Relay list status
// ------------------------------------------------------------------

// RelayListStatus describes the snapshot currently held by the store.
type RelayListStatus struct {
	LastUpdated    time.Time       `json:"last_updated"`
	ETag           string          `json:"etag"`
	Generation     uint64          `json:"generation"`
	Relays         int             `json:"relays"`
	ActiveRelays   int             `json:"active_relays"`
	WireGuard      int             `json:"wireguard"`
	OpenVPN        int             `json:"openvpn"`
	Bridges        int             `json:"bridges"`
	Overrides      int             `json:"overrides"`
	Stale          bool            `json:"stale"`
	UpdateInterval config.Duration `json:"update_interval"`
}

func (s *ControlPlaneService) updateInterval() time.Duration {
	if s.EnvCfg != nil && s.EnvCfg.RelayListUpdateInterval > 0 {
		return s.EnvCfg.RelayListUpdateInterval
	}
	return time.Hour
}

func (s *ControlPlaneService) GetRelayListStatus() RelayListStatus {
	snap := s.Store.Snapshot()
	interval := s.updateInterval()
	st := RelayListStatus{
		LastUpdated:    snap.LastUpdated(),
		ETag:           snap.ETag(),
		Generation:     snap.Generation(),
		Relays:         snap.Len(),
		Overrides:      len(snap.Overrides()),
		Stale:          s.Store.ShouldUpdate(interval),
		UpdateInterval: config.Duration(interval),
	}
	for r := range snap.Relays() {
		if r.Active {
			st.ActiveRelays++
		}
		switch r.Endpoint.Kind {
		case relay.EndpointWireGuard:
			st.WireGuard++
		case relay.EndpointOpenVPN:
			st.OpenVPN++
		case relay.EndpointBridge:
			st.Bridges++
		}
	}
	return st
}

// TriggerUpdate asks the updater for an out-of-schedule refresh. The
// request is coalesced with any fetch already in flight.
func (s *ControlPlaneService) TriggerUpdate() error {
	if s.Updater == nil {
		return internal("relay list updater is not running", nil)
	}
	s.Updater.Update()
	s.log().Info("relay list update requested")
	return nil
}

// ------------------------------------------------------------------
// Relays
// ------------------------------------------------------------------

// RelaySummary is the API view of a single relay.
type RelaySummary struct {
	Hostname         string     `json:"hostname"`
	Kind             string     `json:"kind"`
	CountryCode      string     `json:"country_code"`
	Country          string     `json:"country"`
	CityCode         string     `json:"city_code"`
	City             string     `json:"city"`
	IPv4AddrIn       netip.Addr `json:"ipv4_addr_in"`
	IPv6AddrIn       netip.Addr `json:"ipv6_addr_in,omitzero"`
	Active           bool       `json:"active"`
	Owned            bool       `json:"owned"`
	Provider         string     `json:"provider"`
	Weight           uint64     `json:"weight"`
	IncludeInCountry bool       `json:"include_in_country"`
	PublicKey        string     `json:"public_key,omitempty"`
	Overridden       bool       `json:"overridden"`
}

func relayToSummary(r *relay.Relay, overridden bool) RelaySummary {
	out := RelaySummary{
		Hostname:         r.Hostname,
		Kind:             string(r.Endpoint.Kind),
		IPv4AddrIn:       r.IPv4AddrIn,
		IPv6AddrIn:       r.IPv6AddrIn,
		Active:           r.Active,
		Owned:            r.Owned,
		Provider:         r.Provider,
		Weight:           r.Weight,
		IncludeInCountry: r.IncludeInCountry,
		Overridden:       overridden,
	}
	if loc := r.Location; loc != nil {
		out.CountryCode = loc.CountryCode
		out.Country = loc.Country
		out.CityCode = loc.CityCode
		out.City = loc.City
	}
	if r.Endpoint.WireGuard != nil {
		out.PublicKey = r.Endpoint.WireGuard.PublicKey
	}
	return out
}

func overriddenHosts(snap *relaylist.ParsedRelays) map[string]struct{} {
	hosts := make(map[string]struct{})
	for _, o := range snap.Overrides() {
		hosts[o.Hostname] = struct{}{}
	}
	return hosts
}

func summarize(rs []*relay.Relay, overridden map[string]struct{}) []RelaySummary {
	out := make([]RelaySummary, 0, len(rs))
	for _, r := range rs {
		_, ov := overridden[r.Hostname]
		out = append(out, relayToSummary(r, ov))
	}
	return out
}

// RelayFilter narrows ListRelays. Zero-valued fields do not filter.
type RelayFilter struct {
	Country string
	City    string
	Kind    string
	Active  *bool
}

var validRelayKinds = map[string]bool{
	string(relay.EndpointWireGuard): true,
	string(relay.EndpointOpenVPN):   true,
	string(relay.EndpointBridge):    true,
}

// ListRelays returns the relays of the current snapshot in list order.
func (s *ControlPlaneService) ListRelays(filter RelayFilter) ([]RelaySummary, error) {
	filter.Country = strings.ToLower(strings.TrimSpace(filter.Country))
	filter.City = strings.ToLower(strings.TrimSpace(filter.City))
	filter.Kind = strings.ToLower(strings.TrimSpace(filter.Kind))
	if filter.City != "" && filter.Country == "" {
		return nil, invalidArg("city: requires country")
	}
	if filter.Kind != "" && !validRelayKinds[filter.Kind] {
		return nil, invalidArg(fmt.Sprintf("kind: must be one of wireguard, openvpn, bridge, got %q", filter.Kind))
	}

	snap := s.Store.Snapshot()
	overridden := overriddenHosts(snap)
	out := make([]RelaySummary, 0, snap.Len())
	for r := range snap.Relays() {
		if filter.Active != nil && r.Active != *filter.Active {
			continue
		}
		if filter.Kind != "" && string(r.Endpoint.Kind) != filter.Kind {
			continue
		}
		if filter.Country != "" && (r.Location == nil || r.Location.CountryCode != filter.Country) {
			continue
		}
		if filter.City != "" && r.Location.CityCode != filter.City {
			continue
		}
		_, ov := overridden[r.Hostname]
		out = append(out, relayToSummary(r, ov))
	}
	return out, nil
}

// GetRelay looks a relay up by hostname.
func (s *ControlPlaneService) GetRelay(hostname string) (*RelaySummary, error) {
	snap := s.Store.Snapshot()
	r, ok := snap.Lookup(hostname)
	if !ok {
		return nil, notFound("relay not found")
	}
	_, ov := overriddenHosts(snap)[hostname]
	out := relayToSummary(r, ov)
	return &out, nil
}

// ------------------------------------------------------------------
// Preview filter
// ------------------------------------------------------------------

// PreviewFilterRequest evaluates either a stored profile or an inline spec.
type PreviewFilterRequest struct {
	ProfileID   *string       `json:"profile_id"`
	ProfileSpec *profile.Spec `json:"profile_spec"`
}

// PreviewFilterResponse lists the relays a profile admits. Entries is only
// set for multihop WireGuard profiles.
type PreviewFilterResponse struct {
	Exits   []RelaySummary `json:"exits"`
	Entries []RelaySummary `json:"entries,omitempty"`
}

// PreviewFilter runs the matcher over the current snapshot without
// applying the retry order.
func (s *ControlPlaneService) PreviewFilter(req PreviewFilterRequest) (*PreviewFilterResponse, error) {
	if (req.ProfileID == nil) == (req.ProfileSpec == nil) {
		return nil, invalidArg("exactly one of profile_id or profile_spec is required")
	}

	var spec profile.Spec
	if req.ProfileID != nil {
		p, ok := s.Profiles.Get(*req.ProfileID)
		if !ok {
			return nil, notFound("profile not found")
		}
		spec = p.Spec
	} else {
		spec = *req.ProfileSpec
	}
	q, err := spec.Query()
	if err != nil {
		return nil, invalidArg(err.Error())
	}

	snap := s.Store.Snapshot()
	overridden := overriddenHosts(snap)
	resp := &PreviewFilterResponse{Exits: summarize(matcher.Filter(&q, snap.List()), overridden)}
	if q.WireGuard.Multihop() {
		resp.Entries = summarize(matcher.FilterEntry(&q, snap.List(), ""), overridden)
	}
	return resp, nil
}

// ------------------------------------------------------------------
// Overrides
// ------------------------------------------------------------------

func (s *ControlPlaneService) GetOverrides() []relay.Override {
	out := s.Store.Snapshot().Overrides()
	if out == nil {
		out = []relay.Override{}
	}
	return out
}

// SetOverrides replaces the whole override set. Hostnames that are not in
// the current list are kept; they apply once the relay appears.
func (s *ControlPlaneService) SetOverrides(overrides []relay.Override) ([]relay.Override, error) {
	seen := make(map[string]struct{}, len(overrides))
	var errs error
	for i := range overrides {
		overrides[i].Hostname = strings.TrimSpace(overrides[i].Hostname)
		o := overrides[i]
		if err := o.Validate(); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, dup := seen[o.Hostname]; dup {
			errs = multierr.Append(errs, fmt.Errorf("override %s: duplicate hostname", o.Hostname))
		}
		seen[o.Hostname] = struct{}{}
	}
	if errs != nil {
		return nil, invalidArg(errs.Error())
	}

	s.Store.SetOverrides(overrides)
	s.log().Info("relay overrides replaced", zap.Int("count", len(overrides)))
	return s.GetOverrides(), nil
}
