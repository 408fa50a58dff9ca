package groups

import (
	"math"
	"sort"
)

// maxBands caps the number of overlapping GS bands.
const maxBands = 5

// band is a contiguous gear-score range. Bands overlap: the step
// between band floors is tolerance · 0.9.
type band struct {
	lo, hi float64
}

func (b band) contains(gs int) bool {
	v := float64(gs)
	return v >= b.lo && v <= b.hi
}

// bandTolerance picks the tolerance for a registrant pool. Small pools
// get wide proportional bands; large pools tighten around the standard
// deviation.
func bandTolerance(gss []int) float64 {
	if len(gss) == 0 {
		return 200
	}
	lo, hi := gss[0], gss[0]
	for _, g := range gss {
		if g < lo {
			lo = g
		}
		if g > hi {
			hi = g
		}
	}
	spread := float64(hi - lo)
	switch {
	case len(gss) < 10:
		return math.Max(0.4*spread, 200)
	case len(gss) < 30:
		return math.Max(0.25*spread, 150)
	default:
		return math.Min(1.2*stddev(gss), 200)
	}
}

func stddev(gss []int) float64 {
	if len(gss) == 0 {
		return 0
	}
	var sum float64
	for _, g := range gss {
		sum += float64(g)
	}
	mean := sum / float64(len(gss))
	var variance float64
	for _, g := range gss {
		d := float64(g) - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(gss)))
}

// computeBands produces up to maxBands overlapping bands covering
// [min, max] of the pool's gear scores.
func computeBands(gss []int) []band {
	if len(gss) == 0 {
		return nil
	}
	sorted := append([]int(nil), gss...)
	sort.Ints(sorted)
	lo := float64(sorted[0])
	hi := float64(sorted[len(sorted)-1])

	tol := bandTolerance(gss)
	step := tol * 0.9

	var bands []band
	for floor := lo; len(bands) < maxBands; floor += step {
		bands = append(bands, band{lo: floor, hi: floor + tol})
		if floor+tol >= hi {
			break
		}
	}
	return bands
}

// bandIndex returns the highest band containing gs, -1 when none does.
func bandIndex(bands []band, gs int) int {
	for i := len(bands) - 1; i >= 0; i-- {
		if bands[i].contains(gs) {
			return i
		}
	}
	return -1
}
