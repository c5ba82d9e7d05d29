package relay

import (
	"fmt"
	"net/netip"
)

// Override replaces the entry addresses of the relay with the given hostname.
type Override struct {
	Hostname   string     `json:"hostname" yaml:"hostname"`
	IPv4AddrIn netip.Addr `json:"ipv4_addr_in,omitzero" yaml:"ipv4_addr_in"`
	IPv6AddrIn netip.Addr `json:"ipv6_addr_in,omitzero" yaml:"ipv6_addr_in"`
}

// Validate rejects overrides that could never apply.
func (o Override) Validate() error {
	if o.Hostname == "" {
		return fmt.Errorf("override: hostname is required")
	}
	if !o.IPv4AddrIn.IsValid() && !o.IPv6AddrIn.IsValid() {
		return fmt.Errorf("override %s: at least one of ipv4_addr_in, ipv6_addr_in is required", o.Hostname)
	}
	if o.IPv4AddrIn.IsValid() && !o.IPv4AddrIn.Is4() {
		return fmt.Errorf("override %s: ipv4_addr_in %s is not an IPv4 address", o.Hostname, o.IPv4AddrIn)
	}
	if o.IPv6AddrIn.IsValid() && (!o.IPv6AddrIn.Is6() || o.IPv6AddrIn.Is4In6()) {
		return fmt.Errorf("override %s: ipv6_addr_in %s is not an IPv6 address", o.Hostname, o.IPv6AddrIn)
	}
	return nil
}

// Apply writes the override's addresses onto r. Unset addresses are left alone.
func (o Override) Apply(r *Relay) {
	if o.IPv4AddrIn.IsValid() {
		r.IPv4AddrIn = o.IPv4AddrIn
	}
	if o.IPv6AddrIn.IsValid() {
		r.IPv6AddrIn = o.IPv6AddrIn
	}
}
