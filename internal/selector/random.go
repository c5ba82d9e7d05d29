package selector

import (
	"math/rand/v2"
	"sync"

	"github.com/Resinat/Relayd/internal/matcher"
	"github.com/Resinat/Relayd/internal/relay"
)

var rngPool = sync.Pool{
	New: func() any {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	},
}

// pickWeighted draws one relay with probability proportional to its weight.
// Zero-weight relays are never picked; if every candidate has zero weight
// the pick fails.
func pickWeighted(candidates []*relay.Relay, rng *rand.Rand) (*relay.Relay, bool) {
	var total uint64
	for _, r := range candidates {
		total += r.Weight
	}
	if total == 0 {
		return nil, false
	}

	draw := rng.Uint64N(total)
	for _, r := range candidates {
		if draw < r.Weight {
			return r, true
		}
		draw -= r.Weight
	}
	// Unreachable while the weights sum to total.
	return nil, false
}

// pickPort draws a port uniformly over all ports in ranges.
func pickPort(ranges []relay.PortRange, rng *rand.Rand) (uint16, bool) {
	total := matcher.TotalPorts(ranges)
	if total == 0 {
		return 0, false
	}
	n := rng.Uint32N(total)
	for _, r := range ranges {
		if n < r.Len() {
			return r[0] + uint16(n), true
		}
		n -= r.Len()
	}
	return 0, false
}

// pickOne draws a uniformly random element.
func pickOne[T any](items []T, rng *rand.Rand) (T, bool) {
	if len(items) == 0 {
		var zero T
		return zero, false
	}
	return items[rng.IntN(len(items))], true
}
