// Package matcher filters a relay list down to the relays compatible with a
// RelayQuery. It is pure: no locks, no I/O, no randomness.
package matcher

import (
	"github.com/Resinat/Relayd/internal/constraint"
	"github.com/Resinat/Relayd/internal/relay"
)

// Filter returns the relays of list that satisfy q. list must be a parsed
// list (every relay has a Location). The result is unordered and may be
// empty.
func Filter(q *constraint.RelayQuery, list *relay.RelayList) []*relay.Relay {
	var out []*relay.Relay
	list.RangeRelays(func(_ *relay.Country, _ *relay.City, r *relay.Relay) bool {
		if Matches(q, list, r) {
			out = append(out, r)
		}
		return true
	})
	return out
}

// FilterEntry returns the candidates for the entry hop of a multihop
// connection: relays matching q with EntryLocation in place of Location,
// excluding the relay named exclude.
func FilterEntry(q *constraint.RelayQuery, list *relay.RelayList, exclude string) []*relay.Relay {
	entry := *q
	entry.Location = q.WireGuard.EntryLocation
	var out []*relay.Relay
	for _, r := range Filter(&entry, list) {
		if r.Hostname != exclude {
			out = append(out, r)
		}
	}
	return out
}

// FilterBridges returns the active bridge relays inside loc.
func FilterBridges(loc constraint.Constraint[constraint.GeographicLocation], list *relay.RelayList) []*relay.Relay {
	var out []*relay.Relay
	list.RangeRelays(func(_ *relay.Country, _ *relay.City, r *relay.Relay) bool {
		if r.Active && r.IsBridge() && matchLocation(loc, r) {
			out = append(out, r)
		}
		return true
	})
	return out
}

// Matches checks every filter condition for one relay. Protocol-specific
// conditions are evaluated against the list-level endpoint sections.
func Matches(q *constraint.RelayQuery, list *relay.RelayList, r *relay.Relay) bool {
	// 1. Active.
	if !r.Active {
		return false
	}

	// 2. Tunnel type. Bridges never serve as a tunnel endpoint.
	tunnel, ok := r.TunnelType()
	if !ok {
		return false
	}
	if !q.TunnelProtocol.Matches(func(t relay.TunnelType) bool { return t == tunnel }) {
		return false
	}
	if q.WireGuard.Multihop() && tunnel != relay.TunnelTypeWireGuard {
		return false
	}

	// 3. Location.
	if !matchLocation(q.Location, r) {
		return false
	}

	// 4. Providers and ownership.
	if !q.Providers.Matches(func(p constraint.Providers) bool { return p.Contains(r.Provider) }) {
		return false
	}
	if !q.Ownership.Matches(func(o constraint.Ownership) bool { return o.MatchesRelay(r) }) {
		return false
	}

	// 5. Protocol-specific constraints.
	switch tunnel {
	case relay.TunnelTypeWireGuard:
		return matchWireGuard(&q.WireGuard, &list.WireGuard, r)
	case relay.TunnelTypeOpenVPN:
		return matchOpenVPN(&q.OpenVPN, &list.OpenVPN)
	default:
		return false
	}
}

func matchLocation(c constraint.Constraint[constraint.GeographicLocation], r *relay.Relay) bool {
	return c.Matches(func(loc constraint.GeographicLocation) bool { return loc.MatchesRelay(r) })
}

func matchWireGuard(q *constraint.WireGuardQuery, section *relay.WireGuardSection, r *relay.Relay) bool {
	if port, ok := q.Port.Value(); ok && !PortInRanges(port, section.PortRanges) {
		return false
	}
	if v, ok := q.IPVersion.Value(); ok {
		switch v {
		case constraint.IPv4:
			if !r.IPv4AddrIn.IsValid() {
				return false
			}
		case constraint.IPv6:
			if !r.IPv6AddrIn.IsValid() {
				return false
			}
		}
	}
	if mode, ok := q.Obfuscation.Value(); ok {
		switch mode {
		case constraint.ObfuscationUdp2Tcp:
			if len(section.Udp2TcpPorts) == 0 {
				return false
			}
		case constraint.ObfuscationShadowsocks:
			if TotalPorts(section.ShadowsocksPortRanges) == 0 {
				return false
			}
		}
	}
	return true
}

func matchOpenVPN(q *constraint.OpenVPNQuery, section *relay.OpenVPNSection) bool {
	return len(OpenVPNEndpoints(q, section)) > 0
}

// OpenVPNEndpoints returns the published OpenVPN endpoints compatible with
// q. A bridged query only admits TCP endpoints.
func OpenVPNEndpoints(q *constraint.OpenVPNQuery, section *relay.OpenVPNSection) []relay.OpenVPNEndpoint {
	var out []relay.OpenVPNEndpoint
	for _, ep := range section.Ports {
		if q.Bridged() && ep.Protocol != relay.TransportTCP {
			continue
		}
		if tp, ok := q.Port.Value(); ok {
			if ep.Protocol != tp.Protocol {
				continue
			}
			if port, pinned := tp.Port.Value(); pinned && port != ep.Port {
				continue
			}
		}
		out = append(out, ep)
	}
	return out
}

// PortInRanges reports whether port lies in any of ranges.
func PortInRanges(port uint16, ranges []relay.PortRange) bool {
	for _, r := range ranges {
		if r.Contains(port) {
			return true
		}
	}
	return false
}

// TotalPorts counts the ports covered by ranges. Overlaps are counted twice.
func TotalPorts(ranges []relay.PortRange) uint32 {
	var n uint32
	for _, r := range ranges {
		n += r.Len()
	}
	return n
}
