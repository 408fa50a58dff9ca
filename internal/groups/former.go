// Package groups implements the balanced group-formation algorithm:
// static-group fixation, GS-banded class-balanced bucket filling,
// tentative placement and residue redistribution. Pure in-memory, no
// suspension points.
package groups

import (
	"sort"

	"github.com/samber/lo"

	"github.com/guildtools/herald/internal/types"
)

// Group size bounds. Partial groups below minGroupSize only appear as
// the final redistribution remainder.
const (
	minGroupSize = 4
	maxGroupSize = 6
)

// Member is one group-formation candidate.
type Member struct {
	ID        string
	Class     string
	GS        int
	Tentative bool
}

// Group is an ordered member list. Static anchors keep the static
// group's name.
type Group struct {
	Name    string
	Members []Member
}

func (g *Group) full() bool { return len(g.Members) >= maxGroupSize }

// AvgGS is the group's mean gear score.
func (g *Group) AvgGS() float64 {
	if len(g.Members) == 0 {
		return 0
	}
	sum := 0
	for _, m := range g.Members {
		sum += m.GS
	}
	return float64(sum) / float64(len(g.Members))
}

func (g *Group) hasClass(class string) bool {
	for _, m := range g.Members {
		if m.Class == class {
			return true
		}
	}
	return false
}

// Form runs the full pipeline over the registrant pool. Every input
// member lands in exactly one output group.
func Form(pool []Member, statics []*types.StaticGroup) []Group {
	remaining := append([]Member(nil), pool...)
	bands := computeBands(lo.Map(remaining, func(m Member, _ int) int { return m.GS }))

	var out []Group

	// Stage 2: static-group fixation.
	out, remaining = fixStatics(out, remaining, statics, bands)

	// Stage 3: optimized filling per band, high-GS-first. Firm
	// registrants only; tentatives wait for stage 4.
	var tentatives []Member
	var firm []Member
	for _, m := range remaining {
		if m.Tentative {
			tentatives = append(tentatives, m)
		} else {
			firm = append(firm, m)
		}
	}
	out, firm = fillBands(out, firm, bands)

	// Stage 4: tentative placement into the best existing group.
	tentatives = placeTentatives(out, tentatives)

	// Stage 5: residual grouping of whatever is left.
	residue := append(firm, tentatives...)
	for len(residue) >= minGroupSize {
		n := maxGroupSize
		if n > len(residue) {
			n = len(residue)
		}
		out = append(out, Group{Members: residue[:n:n]})
		residue = residue[n:]
	}

	// Stage 6: redistribution, then a final partial group.
	residue = redistribute(out, residue)
	if len(residue) > 0 {
		out = append(out, Group{Members: residue})
	}
	return out
}

// fixStatics emits each active static group whose present count equals
// its size or size−1, filling open slots from the pool.
func fixStatics(out []Group, pool []Member, statics []*types.StaticGroup, bands []band) ([]Group, []Member) {
	byID := make(map[string]int, len(pool))
	for i, m := range pool {
		byID[m.ID] = i
	}
	taken := make(map[string]bool)

	for _, sg := range statics {
		if sg == nil || !sg.Active || len(sg.Members) == 0 {
			continue
		}
		var present []Member
		for _, id := range sg.Members {
			if i, ok := byID[id]; ok && !taken[id] {
				present = append(present, pool[i])
			}
		}
		if len(present) < len(sg.Members)-1 || len(present) < 1 {
			continue
		}

		g := Group{Name: sg.Name, Members: present}
		for _, m := range present {
			taken[m.ID] = true
		}

		// Fill open slots, essential classes first, scored.
		for len(g.Members) < maxGroupSize && len(g.Members) < types.StaticGroupCapacity {
			best := pickFill(&g, pool, taken, bands)
			if best < 0 {
				break
			}
			g.Members = append(g.Members, pool[best])
			taken[pool[best].ID] = true
		}
		out = append(out, g)
	}

	rest := make([]Member, 0, len(pool))
	for _, m := range pool {
		if !taken[m.ID] {
			rest = append(rest, m)
		}
	}
	return out, rest
}

// pickFill scores the candidates for one open static slot. Preference
// order comes from the score: exact class match for a class missing
// from the anchor (Tank and Healer considered first), DPS-family
// match, band proximity, with a flat penalty for tentatives.
func pickFill(g *Group, pool []Member, taken map[string]bool, bands []band) int {
	wanted := missingClasses(g)
	if len(wanted) == 0 {
		return -1
	}
	groupBand := bandIndex(bands, int(g.AvgGS()))

	best, bestScore := -1, 0.0
	for i, m := range pool {
		if taken[m.ID] {
			continue
		}
		score := classScore(m.Class, wanted)
		switch b := bandIndex(bands, m.GS); {
		case b == groupBand:
			score += 0.2
		case b == groupBand-1 || b == groupBand+1:
			score += 0.1
		}
		if m.Tentative {
			score -= 0.05
		}
		// Ties: highest GS wins, then earliest pool order (stable).
		if best < 0 || score > bestScore ||
			(score == bestScore && m.GS > pool[best].GS) {
			best, bestScore = i, score
		}
	}
	return best
}

// missingClasses lists the classes absent from the group, essential
// classes first.
func missingClasses(g *Group) []string {
	var out []string
	for _, class := range []string{types.ClassTank, types.ClassHealer,
		types.ClassMeleeDPS, types.ClassRangedDPS, types.ClassFlanker} {
		if !g.hasClass(class) {
			out = append(out, class)
		}
	}
	return out
}

func isDPS(class string) bool {
	return class == types.ClassMeleeDPS || class == types.ClassRangedDPS || class == types.ClassFlanker
}

func classScore(class string, wanted []string) float64 {
	for _, w := range wanted {
		if class == w {
			return 0.7
		}
	}
	for _, w := range wanted {
		if isDPS(class) && isDPS(w) {
			return 0.5
		}
	}
	return 0.3
}

// classBuckets splits members by class, each bucket ordered by GS
// descending (ties keep insertion order).
type classBuckets map[string][]Member

func bucketize(members []Member) classBuckets {
	b := make(classBuckets)
	for _, m := range members {
		b[m.Class] = append(b[m.Class], m)
	}
	for class := range b {
		sort.SliceStable(b[class], func(i, j int) bool {
			return b[class][i].GS > b[class][j].GS
		})
	}
	return b
}

// take removes up to n members from the bucket's head.
func (b classBuckets) take(class string, n int) []Member {
	have := b[class]
	if n > len(have) {
		n = len(have)
	}
	taken := have[:n:n]
	b[class] = have[n:]
	return taken
}

// putBack returns rolled-back picks to their bucket heads.
func (b classBuckets) putBack(members []Member) {
	for _, m := range members {
		b[m.Class] = append([]Member{m}, b[m.Class]...)
	}
}

func (b classBuckets) drain() []Member {
	var out []Member
	for _, class := range []string{types.ClassTank, types.ClassHealer,
		types.ClassMeleeDPS, types.ClassRangedDPS, types.ClassFlanker} {
		out = append(out, b[class]...)
		delete(b, class)
	}
	// Unknown classes last, deterministic order.
	var rest []string
	for class := range b {
		rest = append(rest, class)
	}
	sort.Strings(rest)
	for _, class := range rest {
		out = append(out, b[class]...)
	}
	return out
}

// fillBands builds balanced groups inside each GS band, highest band
// first. Returns the members left over.
func fillBands(out []Group, firm []Member, bands []band) ([]Group, []Member) {
	// Assign each member to the highest band containing their GS.
	perBand := make([][]Member, len(bands))
	var unbanded []Member
	for _, m := range firm {
		if i := bandIndex(bands, m.GS); i >= 0 {
			perBand[i] = append(perBand[i], m)
		} else {
			unbanded = append(unbanded, m)
		}
	}

	var leftovers []Member
	for i := len(perBand) - 1; i >= 0; i-- {
		buckets := bucketize(perBand[i])

		// Flanker-only groups while the band holds at least 5.
		for len(buckets[types.ClassFlanker]) >= 5 {
			n := maxGroupSize
			if len(buckets[types.ClassFlanker]) < n {
				n = len(buckets[types.ClassFlanker])
			}
			out = append(out, Group{Members: buckets.take(types.ClassFlanker, n)})
		}

		// Tank/healer-seeded balanced groups.
		for len(buckets[types.ClassTank]) >= 1 && len(buckets[types.ClassHealer]) >= 1 {
			var picks []Member
			picks = append(picks, buckets.take(types.ClassTank, 2)...)
			picks = append(picks, buckets.take(types.ClassHealer, 2)...)
			for _, dps := range types.DPSClasses {
				if len(picks) >= maxGroupSize {
					break
				}
				picks = append(picks, buckets.take(dps, maxGroupSize-len(picks))...)
			}
			if len(picks) >= minGroupSize {
				out = append(out, Group{Members: picks})
				continue
			}
			buckets.putBack(picks)
			break
		}

		leftovers = append(leftovers, buckets.drain()...)
	}
	return out, append(leftovers, unbanded...)
}

// placeTentatives pushes each tentative into the group with a free
// slot whose average GS is closest. Returns the unplaced rest.
func placeTentatives(out []Group, tentatives []Member) []Member {
	var unplaced []Member
	for _, m := range tentatives {
		best := -1
		bestDelta := 0.0
		for i := range out {
			if out[i].full() {
				continue
			}
			delta := out[i].AvgGS() - float64(m.GS)
			if delta < 0 {
				delta = -delta
			}
			if best < 0 || delta < bestDelta {
				best, bestDelta = i, delta
			}
		}
		if best < 0 {
			unplaced = append(unplaced, m)
			continue
		}
		out[best].Members = append(out[best].Members, m)
	}
	return unplaced
}

// redistribute pushes residue members into any group with a free slot
// and returns the truly isolated remainder.
func redistribute(out []Group, residue []Member) []Member {
	var isolated []Member
	for _, m := range residue {
		placed := false
		for i := range out {
			if !out[i].full() {
				out[i].Members = append(out[i].Members, m)
				placed = true
				break
			}
		}
		if !placed {
			isolated = append(isolated, m)
		}
	}
	return isolated
}

// FromBook converts a frozen registration book and roster projection
// into the former's input pool.
func FromBook(book *types.RegistrationBook, roster map[string]*types.MemberProjection) []Member {
	var pool []Member
	add := func(ids []string, tentative bool) {
		for _, id := range ids {
			m := Member{ID: id, Class: types.ClassUnknown, Tentative: tentative}
			if p := roster[id]; p != nil {
				m.Class = p.Class
				m.GS = p.GS
			}
			pool = append(pool, m)
		}
	}
	add(book.Presence, false)
	add(book.Tentative, true)
	return pool
}
