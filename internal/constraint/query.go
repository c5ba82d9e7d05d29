package constraint

import (
	"fmt"

	"github.com/Resinat/Relayd/internal/relay"
)

// WireGuardQuery holds the WireGuard-specific constraints.
type WireGuardQuery struct {
	Port          Constraint[uint16]             `json:"port"`
	IPVersion     Constraint[IPVersion]          `json:"ip_version"`
	UseMultihop   Constraint[bool]               `json:"use_multihop"`
	EntryLocation Constraint[GeographicLocation] `json:"entry_location"`
	Obfuscation   Constraint[ObfuscationMode]    `json:"obfuscation"`
}

// Intersection combines two WireGuard queries field by field.
func (q WireGuardQuery) Intersection(other WireGuardQuery) (WireGuardQuery, bool) {
	var (
		out WireGuardQuery
		ok  bool
	)
	if out.Port, ok = IntersectEq(q.Port, other.Port); !ok {
		return WireGuardQuery{}, false
	}
	if out.IPVersion, ok = IntersectEq(q.IPVersion, other.IPVersion); !ok {
		return WireGuardQuery{}, false
	}
	if out.UseMultihop, ok = IntersectEq(q.UseMultihop, other.UseMultihop); !ok {
		return WireGuardQuery{}, false
	}
	if out.EntryLocation, ok = Intersect(q.EntryLocation, other.EntryLocation); !ok {
		return WireGuardQuery{}, false
	}
	if out.Obfuscation, ok = IntersectEq(q.Obfuscation, other.Obfuscation); !ok {
		return WireGuardQuery{}, false
	}
	return out, true
}

// Multihop reports whether the query asks for an entry/exit pair.
func (q WireGuardQuery) Multihop() bool {
	v, ok := q.UseMultihop.Value()
	return ok && v
}

// OpenVPNQuery holds the OpenVPN-specific constraints.
type OpenVPNQuery struct {
	Port           Constraint[TransportPort]      `json:"port"`
	UseBridge      Constraint[bool]               `json:"use_bridge"`
	BridgeLocation Constraint[GeographicLocation] `json:"bridge_location"`
}

// Intersection combines two OpenVPN queries field by field.
func (q OpenVPNQuery) Intersection(other OpenVPNQuery) (OpenVPNQuery, bool) {
	var (
		out OpenVPNQuery
		ok  bool
	)
	if out.Port, ok = Intersect(q.Port, other.Port); !ok {
		return OpenVPNQuery{}, false
	}
	if out.UseBridge, ok = IntersectEq(q.UseBridge, other.UseBridge); !ok {
		return OpenVPNQuery{}, false
	}
	if out.BridgeLocation, ok = Intersect(q.BridgeLocation, other.BridgeLocation); !ok {
		return OpenVPNQuery{}, false
	}
	return out, true
}

// Bridged reports whether the query asks for a bridge in front of the relay.
func (q OpenVPNQuery) Bridged() bool {
	v, ok := q.UseBridge.Value()
	return ok && v
}

// RelayQuery is the full set of relay constraints. The zero value matches
// any active relay.
type RelayQuery struct {
	Location       Constraint[GeographicLocation] `json:"location"`
	Providers      Constraint[Providers]          `json:"providers"`
	Ownership      Constraint[Ownership]          `json:"ownership"`
	TunnelProtocol Constraint[relay.TunnelType]   `json:"tunnel_protocol"`
	WireGuard      WireGuardQuery                 `json:"wireguard"`
	OpenVPN        OpenVPNQuery                   `json:"openvpn"`
}

// Intersection returns the strictest query satisfying both q and other, or
// false as soon as one field has no overlap.
func (q RelayQuery) Intersection(other RelayQuery) (RelayQuery, bool) {
	var (
		out RelayQuery
		ok  bool
	)
	if out.Location, ok = Intersect(q.Location, other.Location); !ok {
		return RelayQuery{}, false
	}
	if out.Providers, ok = Intersect(q.Providers, other.Providers); !ok {
		return RelayQuery{}, false
	}
	if out.Ownership, ok = IntersectEq(q.Ownership, other.Ownership); !ok {
		return RelayQuery{}, false
	}
	if out.TunnelProtocol, ok = IntersectEq(q.TunnelProtocol, other.TunnelProtocol); !ok {
		return RelayQuery{}, false
	}
	if out.WireGuard, ok = q.WireGuard.Intersection(other.WireGuard); !ok {
		return RelayQuery{}, false
	}
	if out.OpenVPN, ok = q.OpenVPN.Intersection(other.OpenVPN); !ok {
		return RelayQuery{}, false
	}
	return out, true
}

// Validate checks pinned values for well-formedness.
func (q RelayQuery) Validate() error {
	if loc, ok := q.Location.Value(); ok {
		if err := loc.Validate(); err != nil {
			return err
		}
	}
	if loc, ok := q.WireGuard.EntryLocation.Value(); ok {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("entry %w", err)
		}
	}
	if loc, ok := q.OpenVPN.BridgeLocation.Value(); ok {
		if err := loc.Validate(); err != nil {
			return fmt.Errorf("bridge %w", err)
		}
	}
	if p, ok := q.Providers.Value(); ok && len(p) == 0 {
		return fmt.Errorf("providers: at least one provider is required")
	}
	if o, ok := q.Ownership.Value(); ok && !o.IsValid() {
		return fmt.Errorf("ownership: invalid value %q", o)
	}
	if t, ok := q.TunnelProtocol.Value(); ok && !t.IsValid() {
		return fmt.Errorf("tunnel_protocol: invalid value %q", t)
	}
	if v, ok := q.WireGuard.IPVersion.Value(); ok && !v.IsValid() {
		return fmt.Errorf("ip_version: invalid value %q", v)
	}
	if m, ok := q.WireGuard.Obfuscation.Value(); ok && !m.IsValid() {
		return fmt.Errorf("obfuscation: invalid value %q", m)
	}
	if tp, ok := q.OpenVPN.Port.Value(); ok && !tp.Protocol.IsValid() {
		return fmt.Errorf("openvpn port: invalid protocol %q", tp.Protocol)
	}
	return nil
}
