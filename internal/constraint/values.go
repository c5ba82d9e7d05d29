package constraint

import (
	"fmt"
	"slices"

	"github.com/Resinat/Relayd/internal/relay"
)

// Providers is a non-empty set of hosting provider names, kept sorted.
type Providers []string

// NewProviders builds a normalized provider set.
func NewProviders(names ...string) (Providers, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("providers: at least one provider is required")
	}
	p := slices.Clone(names)
	for _, name := range p {
		if name == "" {
			return nil, fmt.Errorf("providers: empty provider name")
		}
	}
	slices.Sort(p)
	return slices.Compact(p), nil
}

// Contains reports set membership.
func (p Providers) Contains(name string) bool {
	return slices.Contains(p, name)
}

// Intersection is the set intersection; an empty result is no overlap.
func (p Providers) Intersection(other Providers) (Providers, bool) {
	var out Providers
	for _, name := range p {
		if other.Contains(name) && !out.Contains(name) {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, false
	}
	slices.Sort(out)
	return out, true
}

// Ownership selects relays by whether they are owned or rented.
type Ownership string

const (
	OwnershipOwned  Ownership = "owned"
	OwnershipRented Ownership = "rented"
)

func (o Ownership) IsValid() bool {
	return o == OwnershipOwned || o == OwnershipRented
}

// MatchesRelay compares o against relay.Owned.
func (o Ownership) MatchesRelay(r *relay.Relay) bool {
	return r.Owned == (o == OwnershipOwned)
}

// IPVersion picks which entry address of a relay to use.
type IPVersion string

const (
	IPv4 IPVersion = "v4"
	IPv6 IPVersion = "v6"
)

func (v IPVersion) IsValid() bool {
	return v == IPv4 || v == IPv6
}

// ObfuscationMode is the WireGuard obfuscation transport.
type ObfuscationMode string

const (
	ObfuscationOff         ObfuscationMode = "off"
	ObfuscationUdp2Tcp     ObfuscationMode = "udp2tcp"
	ObfuscationShadowsocks ObfuscationMode = "shadowsocks"
)

func (m ObfuscationMode) IsValid() bool {
	switch m {
	case ObfuscationOff, ObfuscationUdp2Tcp, ObfuscationShadowsocks:
		return true
	default:
		return false
	}
}

// TransportPort is an OpenVPN protocol with an optional pinned port.
type TransportPort struct {
	Protocol relay.TransportProtocol `json:"protocol"`
	Port     Constraint[uint16]      `json:"port"`
}

// Intersection requires equal protocols and compatible ports.
func (t TransportPort) Intersection(other TransportPort) (TransportPort, bool) {
	if t.Protocol != other.Protocol {
		return TransportPort{}, false
	}
	port, ok := IntersectEq(t.Port, other.Port)
	if !ok {
		return TransportPort{}, false
	}
	return TransportPort{Protocol: t.Protocol, Port: port}, true
}
