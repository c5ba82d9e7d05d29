package constraint

import (
	"fmt"
	"strings"

	"github.com/Resinat/Relayd/internal/relay"
)

// GeographicLocation pins a country, a city within a country, or a single
// relay by hostname within a city.
type GeographicLocation struct {
	Country  string `json:"country"`
	City     string `json:"city,omitempty"`
	Hostname string `json:"hostname,omitempty"`
}

// Country returns a country-level location.
func Country(code string) GeographicLocation {
	return GeographicLocation{Country: code}
}

// City returns a city-level location.
func City(country, city string) GeographicLocation {
	return GeographicLocation{Country: country, City: city}
}

// Hostname returns a relay-level location.
func Hostname(country, city, hostname string) GeographicLocation {
	return GeographicLocation{Country: country, City: city, Hostname: hostname}
}

// Validate rejects locations that skip a level of the hierarchy.
func (l GeographicLocation) Validate() error {
	if l.Country == "" {
		return fmt.Errorf("location: country is required")
	}
	if l.Hostname != "" && l.City == "" {
		return fmt.Errorf("location: hostname %q requires a city", l.Hostname)
	}
	return nil
}

// depth is 1 for country, 2 for city, 3 for hostname.
func (l GeographicLocation) depth() int {
	switch {
	case l.Hostname != "":
		return 3
	case l.City != "":
		return 2
	default:
		return 1
	}
}

// Covers reports whether l equals other or is one of its ancestors.
func (l GeographicLocation) Covers(other GeographicLocation) bool {
	if l.Country != other.Country {
		return false
	}
	if l.City != "" && l.City != other.City {
		return false
	}
	if l.Hostname != "" && l.Hostname != other.Hostname {
		return false
	}
	return true
}

// Intersection returns the more specific of two locations when one covers
// the other.
func (l GeographicLocation) Intersection(other GeographicLocation) (GeographicLocation, bool) {
	switch {
	case l.Covers(other):
		return other, true
	case other.Covers(l):
		return l, true
	default:
		return GeographicLocation{}, false
	}
}

// MatchesRelay reports whether r lies inside l. A country-level location
// only matches relays flagged include_in_country.
func (l GeographicLocation) MatchesRelay(r *relay.Relay) bool {
	if r.Location == nil || r.Location.CountryCode != l.Country {
		return false
	}
	switch l.depth() {
	case 1:
		return r.IncludeInCountry
	case 2:
		return r.Location.CityCode == l.City
	default:
		return r.Location.CityCode == l.City && r.Hostname == l.Hostname
	}
}

func (l GeographicLocation) String() string {
	parts := []string{l.Country}
	if l.City != "" {
		parts = append(parts, l.City)
	}
	if l.Hostname != "" {
		parts = append(parts, l.Hostname)
	}
	return strings.Join(parts, "/")
}
