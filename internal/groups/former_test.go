package groups

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guildtools/herald/internal/types"
)

func TestBandToleranceTiers(t *testing.T) {
	small := make([]int, 8)
	for i := range small {
		small[i] = 2000 + i*100 // spread 700
	}
	assert.InDelta(t, 280.0, bandTolerance(small), 1e-9) // 0.4 * 700

	tight := []int{2000, 2010, 2020, 2030, 2040}
	assert.InDelta(t, 200.0, bandTolerance(tight), 1e-9) // floor 200

	mid := make([]int, 20)
	for i := range mid {
		mid[i] = 2000 + i*50 // spread 950
	}
	assert.InDelta(t, 237.5, bandTolerance(mid), 1e-9) // 0.25 * 950

	large := make([]int, 40)
	for i := range large {
		large[i] = 2500
	}
	assert.InDelta(t, 0.0, bandTolerance(large), 1e-9) // 1.2 * stdev(0)
}

func TestComputeBandsCoverAndCap(t *testing.T) {
	gss := []int{2200, 2500, 2800, 3100, 3400, 3700, 4000}
	bands := computeBands(gss)
	require.NotEmpty(t, bands)
	assert.LessOrEqual(t, len(bands), maxBands)
	assert.InDelta(t, 2200.0, bands[0].lo, 1e-9)

	// Adjacent bands overlap: step is tolerance * 0.9.
	if len(bands) > 1 {
		assert.Less(t, bands[1].lo, bands[0].hi)
	}
}

// cluster appends a band-aligned squad: tank, healer, 2 melee and two
// extras of the given class.
func cluster(pool []Member, base int, extra string) []Member {
	n := len(pool)
	add := func(class string, gs int) {
		pool = append(pool, Member{
			ID:    fmt.Sprintf("m%d", n+len(pool)),
			Class: class,
			GS:    gs,
		})
	}
	add(types.ClassTank, base)
	add(types.ClassHealer, base+10)
	add(types.ClassMeleeDPS, base+20)
	add(types.ClassMeleeDPS, base+30)
	add(extra, base+40)
	add(extra, base+50)
	return pool
}

// S3: 24 firm registrants spanning Tank x4, Healer x4, Melee x8,
// Ranged x6, Flanker x2 over 2200-3100 form four groups of six, each
// with at least one tank and one healer.
func TestFormBalancedFourGroups(t *testing.T) {
	var pool []Member
	pool = cluster(pool, 2200, types.ClassRangedDPS)
	pool = cluster(pool, 2450, types.ClassRangedDPS)
	pool = cluster(pool, 2700, types.ClassRangedDPS)
	pool = cluster(pool, 3050, types.ClassFlanker)

	groups := Form(pool, nil)
	require.Len(t, groups, 4)
	for i, g := range groups {
		assert.Len(t, g.Members, 6, "group %d", i)
		assert.True(t, g.hasClass(types.ClassTank), "group %d needs a tank", i)
		assert.True(t, g.hasClass(types.ClassHealer), "group %d needs a healer", i)

		lo, hi := g.Members[0].GS, g.Members[0].GS
		for _, m := range g.Members {
			if m.GS < lo {
				lo = m.GS
			}
			if m.GS > hi {
				hi = m.GS
			}
		}
		assert.LessOrEqual(t, hi-lo, 250, "group %d GS spread", i)
	}
	assertPartition(t, pool, groups)
}

// Invariant 7: every input member appears in exactly one group; only
// the final group may be smaller than 4.
func assertPartition(t *testing.T, pool []Member, groups []Group) {
	t.Helper()
	seen := make(map[string]int)
	for _, g := range groups {
		assert.LessOrEqual(t, len(g.Members), maxGroupSize)
		for _, m := range g.Members {
			seen[m.ID]++
		}
	}
	for _, m := range pool {
		assert.Equal(t, 1, seen[m.ID], "member %s placement count", m.ID)
	}
	assert.Equal(t, len(pool), len(seen))
	for i, g := range groups {
		if len(g.Members) < minGroupSize {
			assert.Equal(t, len(groups)-1, i, "only the last group may be partial")
		}
	}
}

func TestFormPartitionWithAwkwardPool(t *testing.T) {
	var pool []Member
	classes := []string{types.ClassTank, types.ClassMeleeDPS, types.ClassMeleeDPS,
		types.ClassRangedDPS, types.ClassFlanker, types.ClassHealer,
		types.ClassMeleeDPS, types.ClassRangedDPS, types.ClassUnknown}
	for i, class := range classes {
		pool = append(pool, Member{
			ID:        fmt.Sprintf("m%d", i),
			Class:     class,
			GS:        2000 + i*137,
			Tentative: i%4 == 3,
		})
	}
	groups := Form(pool, nil)
	assertPartition(t, pool, groups)
}

func TestFormFlankerOnlyGroups(t *testing.T) {
	var pool []Member
	for i := 0; i < 7; i++ {
		pool = append(pool, Member{ID: fmt.Sprintf("f%d", i), Class: types.ClassFlanker, GS: 2500 + i})
	}
	groups := Form(pool, nil)
	require.NotEmpty(t, groups)
	// 7 flankers: one group of 6 emitted by the flanker rule, the
	// leftover lands in the final partial group.
	assert.Len(t, groups[0].Members, 6)
	for _, m := range groups[0].Members {
		assert.Equal(t, types.ClassFlanker, m.Class)
	}
	assertPartition(t, pool, groups)
}

// S4: a static group with 5 of 6 present is anchored and topped up
// from the pool, preferring the missing essential class.
func TestStaticFixation(t *testing.T) {
	var pool []Member
	for i := 0; i < 5; i++ {
		class := types.ClassMeleeDPS
		if i == 0 {
			class = types.ClassTank
		}
		pool = append(pool, Member{ID: fmt.Sprintf("s%d", i), Class: class, GS: 2600 + i*10})
	}
	// Candidates: a healer (missing essential) and a higher-GS melee.
	pool = append(pool,
		Member{ID: "healer", Class: types.ClassHealer, GS: 2500},
		Member{ID: "melee", Class: types.ClassMeleeDPS, GS: 2900},
	)

	alpha := &types.StaticGroup{
		GuildID: "G", Name: "Alpha", LeaderID: "s0", Active: true,
		Members: []string{"s0", "s1", "s2", "s3", "s4", "missing"},
	}

	groups := Form(pool, []*types.StaticGroup{alpha})
	require.NotEmpty(t, groups)
	g := groups[0]
	assert.Equal(t, "Alpha", g.Name)
	require.Len(t, g.Members, 6)

	ids := make(map[string]bool)
	for _, m := range g.Members {
		ids[m.ID] = true
	}
	assert.True(t, ids["healer"], "missing essential class wins the fill slot")
	assert.False(t, ids["missing"], "absent static member is not conjured")
	assertPartition(t, pool, groups)
}

func TestStaticSkippedWhenTooFewPresent(t *testing.T) {
	pool := []Member{
		{ID: "a", Class: types.ClassTank, GS: 2500},
		{ID: "b", Class: types.ClassHealer, GS: 2500},
	}
	sg := &types.StaticGroup{
		Name: "Ghost", Active: true,
		Members: []string{"a", "x", "y", "z", "w", "v"}, // 1 of 6 present
	}
	groups := Form(pool, []*types.StaticGroup{sg})
	for _, g := range groups {
		assert.NotEqual(t, "Ghost", g.Name)
	}
	assertPartition(t, pool, groups)
}

func TestTentativePlacementByAvgGS(t *testing.T) {
	// Two formable groups at distinct GS levels, then one tentative
	// close to the higher one.
	var pool []Member
	pool = cluster(pool, 2200, types.ClassRangedDPS)
	pool = cluster(pool, 3000, types.ClassRangedDPS)
	groups := Form(pool, nil)
	require.Len(t, groups, 2)

	pool = append(pool, Member{ID: "tent", Class: types.ClassMeleeDPS, GS: 3010, Tentative: true})
	groups = Form(pool, nil)

	var host *Group
	for i := range groups {
		for _, m := range groups[i].Members {
			if m.ID == "tent" {
				host = &groups[i]
			}
		}
	}
	require.NotNil(t, host, "tentative must be placed")
	assert.Greater(t, host.AvgGS(), 2800.0, "placed into the high-GS group")
	assertPartition(t, pool, groups)
}

func TestFromBook(t *testing.T) {
	book := types.NewRegistrationBook()
	book.Assign("1", types.MarkerPresence)
	book.Assign("2", types.MarkerTentative)
	book.Assign("3", types.MarkerAbsence)

	roster := map[string]*types.MemberProjection{
		"1": {MemberID: "1", Class: types.ClassTank, GS: 2700},
	}
	pool := FromBook(book, roster)
	require.Len(t, pool, 2, "absence never enters the pool")
	assert.Equal(t, types.ClassTank, pool[0].Class)
	assert.False(t, pool[0].Tentative)
	assert.True(t, pool[1].Tentative)
	assert.Equal(t, types.ClassUnknown, pool[1].Class, "unknown roster rows degrade to NULL class")
}

func TestDeterminism(t *testing.T) {
	var pool []Member
	pool = cluster(pool, 2300, types.ClassRangedDPS)
	pool = cluster(pool, 2600, types.ClassFlanker)

	a := Form(pool, nil)
	b := Form(pool, nil)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Members, b[i].Members)
	}
}
