// Package selector picks a relay, or an entry/exit pair, for a query and
// resolves it into a concrete endpoint.
package selector

import (
	"errors"
	"math/rand/v2"
	"net/netip"

	"github.com/Resinat/Relayd/internal/constraint"
	"github.com/Resinat/Relayd/internal/matcher"
	"github.com/Resinat/Relayd/internal/relay"
	"github.com/Resinat/Relayd/internal/relaylist"
)

var (
	ErrNoRelaysMatch  = errors.New("no relays match the current constraints")
	ErrEmptyRelayList = errors.New("relay list is empty")
)

// bridgeCandidates is how many of the bridges closest to the exit relay
// are considered when no bridge location is pinned.
const bridgeCandidates = 5

// TunnelEndpoint is the address the tunnel is established against.
type TunnelEndpoint struct {
	Tunnel        relay.TunnelType        `json:"tunnel"`
	Address       netip.AddrPort          `json:"address"`
	Protocol      relay.TransportProtocol `json:"protocol"`
	PeerPublicKey string                  `json:"peer_public_key,omitempty"`
	ExitPublicKey string                  `json:"exit_public_key,omitempty"`
	IPv4Gateway   netip.Addr              `json:"ipv4_gateway,omitzero"`
	IPv6Gateway   netip.Addr              `json:"ipv6_gateway,omitzero"`
}

// ObfuscatorEndpoint wraps WireGuard traffic.
type ObfuscatorEndpoint struct {
	Mode     constraint.ObfuscationMode `json:"mode"`
	Address  netip.AddrPort             `json:"address"`
	Protocol relay.TransportProtocol    `json:"protocol"`
}

// BridgeEndpoint is the Shadowsocks bridge in front of an OpenVPN relay.
type BridgeEndpoint struct {
	Hostname string                  `json:"hostname"`
	Address  netip.AddrPort          `json:"address"`
	Protocol relay.TransportProtocol `json:"protocol"`
	Cipher   string                  `json:"cipher"`
	Password string                  `json:"password"`
}

// SelectedRelay is the outcome of a selection.
type SelectedRelay struct {
	Exit       *relay.Relay          `json:"exit"`
	Entry      *relay.Relay          `json:"entry,omitempty"`
	Endpoint   TunnelEndpoint        `json:"endpoint"`
	Obfuscator *ObfuscatorEndpoint   `json:"obfuscator,omitempty"`
	Bridge     *BridgeEndpoint       `json:"bridge,omitempty"`
	Query      constraint.RelayQuery `json:"query"`
}

// candidateFunc returns the relays matching q within one snapshot. The
// returned slice must not be modified.
type candidateFunc func(q *constraint.RelayQuery) []*relay.Relay

// Select picks a relay for a single effective query.
func Select(q *constraint.RelayQuery, relays *relaylist.ParsedRelays, rng *rand.Rand) (*SelectedRelay, error) {
	if relays.Len() == 0 {
		return nil, ErrEmptyRelayList
	}
	list := relays.List()
	return selectWith(q, list, func(q *constraint.RelayQuery) []*relay.Relay {
		return matcher.Filter(q, list)
	}, rng)
}

// SelectWithRetryOrder combines user with every template of order and
// returns the selection of the attempt-th viable template, wrapping around
// when attempt exceeds the number of viable templates. An empty order
// means the user query alone.
func SelectWithRetryOrder(
	user *constraint.RelayQuery,
	attempt uint32,
	relays *relaylist.ParsedRelays,
	order []constraint.RelayQuery,
	rng *rand.Rand,
) (*SelectedRelay, error) {
	if relays.Len() == 0 {
		return nil, ErrEmptyRelayList
	}
	list := relays.List()
	return selectRetry(user, attempt, list, order, func(q *constraint.RelayQuery) []*relay.Relay {
		return matcher.Filter(q, list)
	}, rng)
}

// selectRetry walks order and returns the selection of the attempt-th
// viable template. Whether selectWith succeeds for a query depends only on
// the query and the list, never on rng, so the template an attempt maps to
// is stable.
func selectRetry(
	user *constraint.RelayQuery,
	attempt uint32,
	list *relay.RelayList,
	order []constraint.RelayQuery,
	candidates candidateFunc,
	rng *rand.Rand,
) (*SelectedRelay, error) {
	if len(order) == 0 {
		order = []constraint.RelayQuery{{}}
	}
	var viable []*SelectedRelay
	for i := range order {
		q, ok := user.Intersection(order[i])
		if !ok {
			continue
		}
		sel, err := selectWith(&q, list, candidates, rng)
		if err != nil {
			continue
		}
		viable = append(viable, sel)
		if uint32(len(viable)) == attempt+1 {
			return sel, nil
		}
	}
	if len(viable) == 0 {
		return nil, ErrNoRelaysMatch
	}
	return viable[attempt%uint32(len(viable))], nil
}

func selectWith(q *constraint.RelayQuery, list *relay.RelayList, candidates candidateFunc, rng *rand.Rand) (*SelectedRelay, error) {
	exits := keep(candidates(q), func(r *relay.Relay) bool { return connectable(q, r) })

	var sel *SelectedRelay
	if q.WireGuard.Multihop() {
		eq := entryQuery(q)
		entries := keep(candidates(&eq), func(r *relay.Relay) bool {
			_, ok := entryAddress(r, q.WireGuard.IPVersion)
			return r.Weight > 0 && ok
		})
		exit, entry, ok := pickPair(exits, entries, rng)
		if !ok {
			return nil, ErrNoRelaysMatch
		}
		sel = &SelectedRelay{Exit: exit, Entry: entry, Query: *q}
	} else {
		exit, ok := pickWeighted(exits, rng)
		if !ok {
			return nil, ErrNoRelaysMatch
		}
		sel = &SelectedRelay{Exit: exit, Query: *q}
	}

	tunnel, _ := sel.Exit.TunnelType()
	switch tunnel {
	case relay.TunnelTypeWireGuard:
		peer := sel.Exit
		if sel.Entry != nil {
			peer = sel.Entry
		}
		if err := resolveWireGuard(sel, q, &list.WireGuard, peer, rng); err != nil {
			return nil, err
		}
	case relay.TunnelTypeOpenVPN:
		if err := resolveOpenVPN(sel, q, list, rng); err != nil {
			return nil, err
		}
	default:
		return nil, ErrNoRelaysMatch
	}
	return sel, nil
}

// connectable reports whether r can be drawn as the exit of q: it has
// weight, and unless it sits behind a multihop entry it has an address the
// tunnel can use.
func connectable(q *constraint.RelayQuery, r *relay.Relay) bool {
	if r.Weight == 0 {
		return false
	}
	tunnel, _ := r.TunnelType()
	switch tunnel {
	case relay.TunnelTypeWireGuard:
		if q.WireGuard.Multihop() {
			return true
		}
		_, ok := entryAddress(r, q.WireGuard.IPVersion)
		return ok
	case relay.TunnelTypeOpenVPN:
		return r.IPv4AddrIn.IsValid()
	default:
		return false
	}
}

// pickPair draws an exit and a distinct entry. It fails only when no
// disjoint pair exists. When the drawn exit is the sole entry candidate,
// the entry is drawn first and excluded from the exits instead.
func pickPair(exits, entries []*relay.Relay, rng *rand.Rand) (exit, entry *relay.Relay, ok bool) {
	exit, ok = pickWeighted(exits, rng)
	if !ok {
		return nil, nil, false
	}
	if entry, ok = pickWeighted(without(entries, exit.Hostname), rng); ok {
		return exit, entry, true
	}
	if entry, ok = pickWeighted(entries, rng); !ok {
		return nil, nil, false
	}
	if exit, ok = pickWeighted(without(exits, entry.Hostname), rng); !ok {
		return nil, nil, false
	}
	return exit, entry, true
}

func entryQuery(q *constraint.RelayQuery) constraint.RelayQuery {
	entry := *q
	entry.Location = q.WireGuard.EntryLocation
	return entry
}

// keep returns the relays for which fn holds, in a new slice.
func keep(relays []*relay.Relay, fn func(*relay.Relay) bool) []*relay.Relay {
	out := make([]*relay.Relay, 0, len(relays))
	for _, r := range relays {
		if fn(r) {
			out = append(out, r)
		}
	}
	return out
}

func without(relays []*relay.Relay, hostname string) []*relay.Relay {
	return keep(relays, func(r *relay.Relay) bool { return r.Hostname != hostname })
}

func entryAddress(r *relay.Relay, v constraint.Constraint[constraint.IPVersion]) (netip.Addr, bool) {
	if version, ok := v.Value(); ok && version == constraint.IPv6 {
		return r.IPv6AddrIn, r.IPv6AddrIn.IsValid()
	}
	if r.IPv4AddrIn.IsValid() {
		return r.IPv4AddrIn, true
	}
	if v.IsAny() && r.IPv6AddrIn.IsValid() {
		return r.IPv6AddrIn, true
	}
	return netip.Addr{}, false
}

func resolveWireGuard(sel *SelectedRelay, q *constraint.RelayQuery, section *relay.WireGuardSection, peer *relay.Relay, rng *rand.Rand) error {
	addr, ok := entryAddress(peer, q.WireGuard.IPVersion)
	if !ok {
		return ErrNoRelaysMatch
	}
	port, pinned := q.WireGuard.Port.Value()
	if !pinned {
		if port, ok = pickPort(section.PortRanges, rng); !ok {
			return ErrNoRelaysMatch
		}
	}

	sel.Endpoint = TunnelEndpoint{
		Tunnel:      relay.TunnelTypeWireGuard,
		Address:     netip.AddrPortFrom(addr, port),
		Protocol:    relay.TransportUDP,
		IPv4Gateway: section.IPv4Gateway,
		IPv6Gateway: section.IPv6Gateway,
	}
	if peer.Endpoint.WireGuard != nil {
		sel.Endpoint.PeerPublicKey = peer.Endpoint.WireGuard.PublicKey
	}
	if sel.Entry != nil && sel.Exit.Endpoint.WireGuard != nil {
		sel.Endpoint.ExitPublicKey = sel.Exit.Endpoint.WireGuard.PublicKey
	}

	mode, _ := q.WireGuard.Obfuscation.Value()
	switch mode {
	case constraint.ObfuscationUdp2Tcp:
		obfsPort, ok := pickOne(section.Udp2TcpPorts, rng)
		if !ok {
			return ErrNoRelaysMatch
		}
		sel.Obfuscator = &ObfuscatorEndpoint{
			Mode:     mode,
			Address:  netip.AddrPortFrom(addr, obfsPort),
			Protocol: relay.TransportTCP,
		}
	case constraint.ObfuscationShadowsocks:
		ranges := section.ShadowsocksPortRanges
		addrs := []netip.Addr{addr}
		if wg := peer.Endpoint.WireGuard; wg != nil {
			if len(wg.ShadowsocksPortRanges) > 0 {
				ranges = wg.ShadowsocksPortRanges
			}
			for _, extra := range wg.ShadowsocksExtraAddrIn {
				if extra.Is4() == addr.Is4() {
					addrs = append(addrs, extra)
				}
			}
		}
		obfsPort, ok := pickPort(ranges, rng)
		if !ok {
			return ErrNoRelaysMatch
		}
		obfsAddr, _ := pickOne(addrs, rng)
		sel.Obfuscator = &ObfuscatorEndpoint{
			Mode:     mode,
			Address:  netip.AddrPortFrom(obfsAddr, obfsPort),
			Protocol: relay.TransportUDP,
		}
	}
	return nil
}

func resolveOpenVPN(sel *SelectedRelay, q *constraint.RelayQuery, list *relay.RelayList, rng *rand.Rand) error {
	ep, ok := pickOne(matcher.OpenVPNEndpoints(&q.OpenVPN, &list.OpenVPN), rng)
	if !ok {
		return ErrNoRelaysMatch
	}
	sel.Endpoint = TunnelEndpoint{
		Tunnel:   relay.TunnelTypeOpenVPN,
		Address:  netip.AddrPortFrom(sel.Exit.IPv4AddrIn, ep.Port),
		Protocol: ep.Protocol,
	}
	if !q.OpenVPN.Bridged() {
		return nil
	}

	bridges := keep(matcher.FilterBridges(q.OpenVPN.BridgeLocation, list), func(r *relay.Relay) bool {
		return r.Weight > 0 && r.IPv4AddrIn.IsValid()
	})
	if q.OpenVPN.BridgeLocation.IsAny() {
		bridges = closestTo(sel.Exit, bridges, bridgeCandidates)
	}
	bridge, ok := pickWeighted(bridges, rng)
	if !ok {
		return ErrNoRelaysMatch
	}
	ss, ok := pickOne(list.Bridge.Shadowsocks, rng)
	if !ok {
		return ErrNoRelaysMatch
	}
	sel.Bridge = &BridgeEndpoint{
		Hostname: bridge.Hostname,
		Address:  netip.AddrPortFrom(bridge.IPv4AddrIn, ss.Port),
		Protocol: ss.Protocol,
		Cipher:   ss.Cipher,
		Password: ss.Password,
	}
	return nil
}
