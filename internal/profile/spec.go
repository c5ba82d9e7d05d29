// Package profile holds named relay settings: the user-side query that is
// intersected with the retry order on every selection.
package profile

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/Resinat/Relayd/internal/constraint"
	"github.com/Resinat/Relayd/internal/relay"
)

// LocationSpec is the flat form of a geographic location. Empty fields are
// unset; a city requires a country and a hostname requires a city.
type LocationSpec struct {
	Country  string `json:"country" yaml:"country"`
	City     string `json:"city,omitempty" yaml:"city,omitempty"`
	Hostname string `json:"hostname,omitempty" yaml:"hostname,omitempty"`
}

// WireGuardSpec holds the WireGuard settings of a profile.
type WireGuardSpec struct {
	Port          *uint16       `json:"port,omitempty" yaml:"port,omitempty"`
	IPVersion     string        `json:"ip_version,omitempty" yaml:"ip_version,omitempty"`
	Multihop      *bool         `json:"multihop,omitempty" yaml:"multihop,omitempty"`
	EntryLocation *LocationSpec `json:"entry_location,omitempty" yaml:"entry_location,omitempty"`
	Obfuscation   string        `json:"obfuscation,omitempty" yaml:"obfuscation,omitempty"`
}

// OpenVPNSpec holds the OpenVPN settings of a profile.
type OpenVPNSpec struct {
	Protocol       string        `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Port           *uint16       `json:"port,omitempty" yaml:"port,omitempty"`
	UseBridge      *bool         `json:"use_bridge,omitempty" yaml:"use_bridge,omitempty"`
	BridgeLocation *LocationSpec `json:"bridge_location,omitempty" yaml:"bridge_location,omitempty"`
}

// Spec is the editable form of a profile, shared by the API and the
// bootstrap file. Empty strings, nil pointers and empty lists mean "any";
// the literal "any" is accepted as well.
type Spec struct {
	Name           string        `json:"name" yaml:"name"`
	Location       *LocationSpec `json:"location,omitempty" yaml:"location,omitempty"`
	Providers      []string      `json:"providers,omitempty" yaml:"providers,omitempty"`
	Ownership      string        `json:"ownership,omitempty" yaml:"ownership,omitempty"`
	TunnelProtocol string        `json:"tunnel_protocol,omitempty" yaml:"tunnel_protocol,omitempty"`
	WireGuard      WireGuardSpec `json:"wireguard" yaml:"wireguard"`
	OpenVPN        OpenVPNSpec   `json:"openvpn" yaml:"openvpn"`
}

func isAny(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.EqualFold(s, "any")
}

func (l *LocationSpec) constraint(field string) (constraint.Constraint[constraint.GeographicLocation], error) {
	if l == nil {
		return constraint.Any[constraint.GeographicLocation](), nil
	}
	loc := constraint.GeographicLocation{
		Country:  strings.ToLower(strings.TrimSpace(l.Country)),
		City:     strings.ToLower(strings.TrimSpace(l.City)),
		Hostname: strings.ToLower(strings.TrimSpace(l.Hostname)),
	}
	if err := loc.Validate(); err != nil {
		return constraint.Constraint[constraint.GeographicLocation]{}, fmt.Errorf("%s: %w", field, err)
	}
	return constraint.Only(loc), nil
}

func stringConstraint[T ~string](field, raw string, valid func(T) bool) (constraint.Constraint[T], error) {
	if isAny(raw) {
		return constraint.Any[T](), nil
	}
	v := T(strings.ToLower(strings.TrimSpace(raw)))
	if !valid(v) {
		return constraint.Constraint[T]{}, fmt.Errorf("%s: invalid value %q", field, raw)
	}
	return constraint.Only(v), nil
}

func ptrConstraint[T any](p *T) constraint.Constraint[T] {
	if p == nil {
		return constraint.Any[T]()
	}
	return constraint.Only(*p)
}

// Query converts the spec into a relay query. Every problem found is
// reported, joined into one error.
func (s Spec) Query() (constraint.RelayQuery, error) {
	var (
		q    constraint.RelayQuery
		errs []error
		err  error
	)

	if q.Location, err = s.Location.constraint("location"); err != nil {
		errs = append(errs, err)
	}
	if len(s.Providers) > 0 {
		providers, err := constraint.NewProviders(s.Providers...)
		if err != nil {
			errs = append(errs, err)
		} else {
			q.Providers = constraint.Only(providers)
		}
	}
	if q.Ownership, err = stringConstraint("ownership", s.Ownership, constraint.Ownership.IsValid); err != nil {
		errs = append(errs, err)
	}
	if q.TunnelProtocol, err = stringConstraint("tunnel_protocol", s.TunnelProtocol, relay.TunnelType.IsValid); err != nil {
		errs = append(errs, err)
	}

	wg := s.WireGuard
	q.WireGuard.Port = ptrConstraint(wg.Port)
	q.WireGuard.UseMultihop = ptrConstraint(wg.Multihop)
	if q.WireGuard.IPVersion, err = stringConstraint("wireguard.ip_version", wg.IPVersion, constraint.IPVersion.IsValid); err != nil {
		errs = append(errs, err)
	}
	if q.WireGuard.EntryLocation, err = wg.EntryLocation.constraint("wireguard.entry_location"); err != nil {
		errs = append(errs, err)
	}
	if q.WireGuard.Obfuscation, err = stringConstraint("wireguard.obfuscation", wg.Obfuscation, constraint.ObfuscationMode.IsValid); err != nil {
		errs = append(errs, err)
	}

	ovpn := s.OpenVPN
	q.OpenVPN.UseBridge = ptrConstraint(ovpn.UseBridge)
	if q.OpenVPN.BridgeLocation, err = ovpn.BridgeLocation.constraint("openvpn.bridge_location"); err != nil {
		errs = append(errs, err)
	}
	switch {
	case isAny(ovpn.Protocol) && ovpn.Port != nil:
		errs = append(errs, errors.New("openvpn.port: requires openvpn.protocol"))
	case !isAny(ovpn.Protocol):
		proto := relay.TransportProtocol(strings.ToLower(strings.TrimSpace(ovpn.Protocol)))
		if !proto.IsValid() {
			errs = append(errs, fmt.Errorf("openvpn.protocol: invalid value %q", ovpn.Protocol))
			break
		}
		q.OpenVPN.Port = constraint.Only(constraint.TransportPort{
			Protocol: proto,
			Port:     ptrConstraint(ovpn.Port),
		})
	}

	if len(errs) > 0 {
		return constraint.RelayQuery{}, multierr.Combine(errs...)
	}
	if err := q.Validate(); err != nil {
		return constraint.RelayQuery{}, err
	}
	return q, nil
}

// Validate checks the name and every setting.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("name is required")
	}
	_, err := s.Query()
	return err
}
