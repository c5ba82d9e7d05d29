package selector

import (
	"cmp"
	"math"
	"slices"

	"github.com/Resinat/Relayd/internal/relay"
)

const earthRadiusKm = 6372.8

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

// closestTo returns up to n relays ordered by distance to target.
func closestTo(target *relay.Relay, relays []*relay.Relay, n int) []*relay.Relay {
	if target.Location == nil {
		return relays[:min(n, len(relays))]
	}
	type ranked struct {
		r    *relay.Relay
		dist float64
	}
	out := make([]ranked, 0, len(relays))
	for _, r := range relays {
		if r.Location == nil {
			continue
		}
		out = append(out, ranked{r, haversineKm(
			target.Location.Latitude, target.Location.Longitude,
			r.Location.Latitude, r.Location.Longitude,
		)})
	}
	slices.SortStableFunc(out, func(a, b ranked) int { return cmp.Compare(a.dist, b.dist) })

	res := make([]*relay.Relay, 0, min(n, len(out)))
	for _, rk := range out[:min(n, len(out))] {
		res = append(res, rk.r)
	}
	return res
}
