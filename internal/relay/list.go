package relay

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
)

// RelayList is the full relay list document as served by the relay API.
type RelayList struct {
	ETag      string           `json:"etag,omitempty"`
	Countries []Country        `json:"countries"`
	WireGuard WireGuardSection `json:"wireguard"`
	OpenVPN   OpenVPNSection   `json:"openvpn"`
	Bridge    BridgeSection    `json:"bridge"`
}

// Country is the first level of the relay list hierarchy.
type Country struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	Cities []City `json:"cities"`
}

// City is the second level of the relay list hierarchy.
type City struct {
	Name      string  `json:"name"`
	Code      string  `json:"code"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Relays    []Relay `json:"relays"`
}

// PortRange is an inclusive [first, last] port range, encoded as a two-element array.
type PortRange [2]uint16

// Contains reports whether port lies within the range.
func (r PortRange) Contains(port uint16) bool {
	return r[0] <= port && port <= r[1]
}

// Len returns the number of ports in the range; zero for inverted ranges.
func (r PortRange) Len() uint32 {
	if r[1] < r[0] {
		return 0
	}
	return uint32(r[1]-r[0]) + 1
}

// WireGuardSection holds list-level WireGuard data shared by all WireGuard relays.
type WireGuardSection struct {
	PortRanges            []PortRange `json:"port_ranges"`
	IPv4Gateway           netip.Addr  `json:"ipv4_gateway,omitzero"`
	IPv6Gateway           netip.Addr  `json:"ipv6_gateway,omitzero"`
	Udp2TcpPorts          []uint16    `json:"udp2tcp_ports,omitempty"`
	ShadowsocksPortRanges []PortRange `json:"shadowsocks_port_ranges,omitempty"`
}

// OpenVPNEndpoint is a published OpenVPN port/protocol pair.
type OpenVPNEndpoint struct {
	Port     uint16            `json:"port"`
	Protocol TransportProtocol `json:"protocol"`
}

// OpenVPNSection holds list-level OpenVPN data.
type OpenVPNSection struct {
	Ports []OpenVPNEndpoint `json:"ports"`
}

// ShadowsocksBridgeEndpoint is a published bridge endpoint configuration.
type ShadowsocksBridgeEndpoint struct {
	Port     uint16            `json:"port"`
	Cipher   string            `json:"cipher"`
	Password string            `json:"password"`
	Protocol TransportProtocol `json:"protocol"`
}

// BridgeSection holds list-level bridge data.
type BridgeSection struct {
	Shadowsocks []ShadowsocksBridgeEndpoint `json:"shadowsocks"`
}

// ParseRelayList decodes a relay list document.
func ParseRelayList(data []byte) (*RelayList, error) {
	var list RelayList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("relay: parse relay list: %w", err)
	}
	if err := list.Validate(); err != nil {
		return nil, err
	}
	return &list, nil
}

// Validate checks structural invariants that the rest of the system relies on.
func (l *RelayList) Validate() error {
	seen := make(map[string]struct{})
	for ci := range l.Countries {
		country := &l.Countries[ci]
		if country.Code == "" {
			return fmt.Errorf("relay: country %q has empty code", country.Name)
		}
		for ti := range country.Cities {
			city := &country.Cities[ti]
			if city.Code == "" {
				return fmt.Errorf("relay: city %q in %s has empty code", city.Name, country.Code)
			}
			for ri := range city.Relays {
				r := &city.Relays[ri]
				if r.Hostname == "" {
					return fmt.Errorf("relay: relay in %s-%s has empty hostname", country.Code, city.Code)
				}
				if _, dup := seen[r.Hostname]; dup {
					return fmt.Errorf("relay: duplicate hostname %q", r.Hostname)
				}
				seen[r.Hostname] = struct{}{}
				if r.Endpoint.Kind == "" {
					return fmt.Errorf("relay: %s has no endpoint_data", r.Hostname)
				}
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the list.
func (l *RelayList) Clone() *RelayList {
	if l == nil {
		return nil
	}
	c := *l
	c.Countries = make([]Country, len(l.Countries))
	for ci, country := range l.Countries {
		cities := make([]City, len(country.Cities))
		for ti, city := range country.Cities {
			relays := make([]Relay, len(city.Relays))
			for ri := range city.Relays {
				relays[ri] = *city.Relays[ri].Clone()
			}
			city.Relays = relays
			cities[ti] = city
		}
		country.Cities = cities
		c.Countries[ci] = country
	}
	c.WireGuard.PortRanges = slices.Clone(l.WireGuard.PortRanges)
	c.WireGuard.Udp2TcpPorts = slices.Clone(l.WireGuard.Udp2TcpPorts)
	c.WireGuard.ShadowsocksPortRanges = slices.Clone(l.WireGuard.ShadowsocksPortRanges)
	c.OpenVPN.Ports = slices.Clone(l.OpenVPN.Ports)
	c.Bridge.Shadowsocks = slices.Clone(l.Bridge.Shadowsocks)
	return &c
}

// RangeRelays calls fn with a pointer to every relay along with its country
// and city. Returning false stops iteration. Relays may be mutated through the
// pointer.
func (l *RelayList) RangeRelays(fn func(country *Country, city *City, r *Relay) bool) {
	if l == nil {
		return
	}
	for ci := range l.Countries {
		country := &l.Countries[ci]
		for ti := range country.Cities {
			city := &country.Cities[ti]
			for ri := range city.Relays {
				if !fn(country, city, &city.Relays[ri]) {
					return
				}
			}
		}
	}
}

// RelayCount returns the total number of relays in the list.
func (l *RelayList) RelayCount() int {
	n := 0
	l.RangeRelays(func(*Country, *City, *Relay) bool {
		n++
		return true
	})
	return n
}
