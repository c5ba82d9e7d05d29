// Package relay defines the relay list document and its relays.
package relay

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"slices"
)

// Location is stamped onto every relay when a list is parsed. It is never
// part of the downloaded document.
type Location struct {
	Country     string  `json:"country"`
	CountryCode string  `json:"country_code"`
	City        string  `json:"city"`
	CityCode    string  `json:"city_code"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// Relay is a single VPN endpoint. Hostname is the unique key.
type Relay struct {
	Hostname         string       `json:"hostname"`
	IPv4AddrIn       netip.Addr   `json:"ipv4_addr_in"`
	IPv6AddrIn       netip.Addr   `json:"ipv6_addr_in,omitzero"`
	IncludeInCountry bool         `json:"include_in_country"`
	Active           bool         `json:"active"`
	Owned            bool         `json:"owned"`
	Provider         string       `json:"provider"`
	Weight           uint64       `json:"weight"`
	Endpoint         EndpointData `json:"endpoint_data"`
	Location         *Location    `json:"location,omitempty"`
}

// TunnelType returns the tunnel type served by the relay; ok is false for bridges.
func (r *Relay) TunnelType() (TunnelType, bool) {
	return r.Endpoint.Kind.TunnelType()
}

// IsBridge reports whether the relay is a bridge.
func (r *Relay) IsBridge() bool {
	return r.Endpoint.Kind == EndpointBridge
}

// Clone returns a deep copy.
func (r *Relay) Clone() *Relay {
	c := *r
	c.Endpoint = r.Endpoint.Clone()
	if r.Location != nil {
		loc := *r.Location
		c.Location = &loc
	}
	return &c
}

// WireGuardData is the per-relay WireGuard endpoint data.
type WireGuardData struct {
	PublicKey              string       `json:"public_key"`
	ShadowsocksExtraAddrIn []netip.Addr `json:"shadowsocks_extra_addr_in,omitempty"`

	// Stamped from the list-level section when the list is parsed.
	ShadowsocksPortRanges []PortRange `json:"shadowsocks_port_ranges,omitempty"`
}

// EndpointData is a variant over wireguard, openvpn and bridge. On the wire
// it is either the string "openvpn"/"bridge" or {"wireguard": {...}}.
type EndpointData struct {
	Kind      EndpointKind
	WireGuard *WireGuardData
}

// NewWireGuardEndpoint builds WireGuard endpoint data.
func NewWireGuardEndpoint(publicKey string) EndpointData {
	return EndpointData{Kind: EndpointWireGuard, WireGuard: &WireGuardData{PublicKey: publicKey}}
}

// Clone returns a deep copy.
func (e EndpointData) Clone() EndpointData {
	if e.WireGuard == nil {
		return e
	}
	wg := *e.WireGuard
	wg.ShadowsocksExtraAddrIn = slices.Clone(e.WireGuard.ShadowsocksExtraAddrIn)
	wg.ShadowsocksPortRanges = slices.Clone(e.WireGuard.ShadowsocksPortRanges)
	return EndpointData{Kind: e.Kind, WireGuard: &wg}
}

func (e EndpointData) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EndpointOpenVPN, EndpointBridge:
		return json.Marshal(string(e.Kind))
	case EndpointWireGuard:
		wg := e.WireGuard
		if wg == nil {
			wg = &WireGuardData{}
		}
		return json.Marshal(map[string]*WireGuardData{string(EndpointWireGuard): wg})
	default:
		return nil, fmt.Errorf("relay: unknown endpoint kind %q", e.Kind)
	}
}

func (e *EndpointData) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		switch EndpointKind(s) {
		case EndpointOpenVPN, EndpointBridge:
			*e = EndpointData{Kind: EndpointKind(s)}
			return nil
		default:
			return fmt.Errorf("relay: unknown endpoint kind %q", s)
		}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("relay: endpoint_data must be a string or object: %w", err)
	}
	raw, ok := obj[string(EndpointWireGuard)]
	if !ok || len(obj) != 1 {
		return fmt.Errorf("relay: endpoint_data object must have exactly one %q key", EndpointWireGuard)
	}
	var wg WireGuardData
	if err := json.Unmarshal(raw, &wg); err != nil {
		return fmt.Errorf("relay: wireguard endpoint data: %w", err)
	}
	*e = EndpointData{Kind: EndpointWireGuard, WireGuard: &wg}
	return nil
}
