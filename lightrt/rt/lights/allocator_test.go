package lights

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(s *SpotSet, ls ...*Light) {
	s.clearFrame()
	for _, l := range ls {
		s.push(l, l.ShaderInfo(mgl32.Ident4()))
	}
}

func TestReassignScenario(t *testing.T) {
	l1, l2, l3, l4 := NewSpotLight(), NewSpotLight(), NewSpotLight(), NewSpotLight()
	s := NewSpotSet()

	// Frame 1: three new lights.
	gather(s, l1, l2, l3)
	mask, reused := ReassignIndices(s)
	assert.Equal(t, uint32(0b111), mask)
	assert.Empty(t, reused)
	for i := 0; i < 3; i++ {
		s.Transforms[i] = mgl32.Translate3D(float32(i), 0, 0)
	}

	// Frame 2: unchanged.
	gather(s, l1, l2, l3)
	remap := s.IndexRemap
	mask, reused = ReassignIndices(s)
	assert.Equal(t, uint32(0), mask)
	assert.Equal(t, remap, s.IndexRemap)
	require.Len(t, reused, 3)
	assert.Equal(t, mgl32.Translate3D(1, 0, 0), reused[1].Transform)
	assert.True(t, reused[1].Valid)

	// Frame 3: l2 removed, l4 added.
	gather(s, l1, l3, l4)
	mask, reused = ReassignIndices(s)
	assert.Equal(t, uint32(0b100), mask)
	assert.Equal(t, uint8(0), s.IndexRemap[0], "l1 keeps its region")
	assert.Equal(t, uint8(2), s.IndexRemap[1], "l3 keeps its region")
	assert.Equal(t, mgl32.Translate3D(2, 0, 0), s.Transforms[1])
	assert.NotEqual(t, uint8(1), s.IndexRemap[2], "l2's region is not evicted while free slots exist")
	require.Len(t, reused, 2)
	assert.Same(t, l3, reused[1].Light)
	assert.Equal(t, uint8(2), reused[1].Atlas)
	assert.Equal(t, l4.Cookie(), s.Cookie[2])
	assert.Contains(t, s.Cookie, l2.Cookie(), "l2's slot stays valid")
}

func TestReassignIdempotent(t *testing.T) {
	var ls []*Light
	for i := 0; i < 10; i++ {
		ls = append(ls, NewSpotLight())
	}
	s := NewSpotSet()
	gather(s, ls...)
	ReassignIndices(s)

	// Reorder; every light finds its previous slot.
	shuffled := []*Light{ls[9], ls[3], ls[0], ls[5], ls[1], ls[2], ls[8], ls[4], ls[7], ls[6]}
	gather(s, shuffled...)
	ReassignIndices(s)
	regions := make(map[uint32]uint8)
	for i := 0; i < s.Count; i++ {
		regions[s.Cookie[i]] = s.IndexRemap[i]
	}

	gather(s, shuffled...)
	remap := s.IndexRemap
	mask, reused := ReassignIndices(s)
	assert.Zero(t, mask)
	assert.Len(t, reused, 10)
	assert.Equal(t, remap, s.IndexRemap)
	for i := 0; i < s.Count; i++ {
		assert.Equal(t, regions[s.Cookie[i]], s.IndexRemap[i])
	}
}

func TestReassignSlotStability(t *testing.T) {
	a, b, c := NewSpotLight(), NewSpotLight(), NewSpotLight()
	s := NewSpotSet()
	gather(s, a, b, c)
	ReassignIndices(s)
	regionOf := func(l *Light) uint8 {
		for i := 0; i < s.Count; i++ {
			if s.Handles[i] == l {
				return s.IndexRemap[i]
			}
		}
		t.Fatalf("light not gathered")
		return 0
	}
	ra, rc := regionOf(a), regionOf(c)

	// b leaves, c moves to the front.
	gather(s, c, a)
	mask, _ := ReassignIndices(s)
	assert.Zero(t, mask)
	assert.Equal(t, rc, regionOf(c))
	assert.Equal(t, ra, regionOf(a))
}

func TestReassignFullAtlasEvicts(t *testing.T) {
	s := NewSpotSet()
	var first []*Light
	for i := 0; i < MaxLights; i++ {
		first = append(first, NewSpotLight())
	}
	gather(s, first...)
	ReassignIndices(s)

	// No free slot left: a new light at index 0 takes slot 0 over.
	newcomer := NewSpotLight()
	gather(s, append([]*Light{newcomer}, first[1:]...)...)
	mask, _ := ReassignIndices(s)
	assert.Equal(t, uint32(1), mask)
	assert.Equal(t, uint8(0), s.IndexRemap[0])
}

func TestReassignDuplicateCookieFirstMatchWins(t *testing.T) {
	l := NewSpotLight()
	s := NewSpotSet()
	s.Cookie[3] = l.Cookie()
	s.Cookie[7] = l.Cookie()
	s.Transforms[3] = mgl32.Translate3D(3, 0, 0)
	s.Transforms[7] = mgl32.Translate3D(7, 0, 0)

	gather(s, l)
	mask, reused := ReassignIndices(s)
	assert.Zero(t, mask)
	require.Len(t, reused, 1)
	assert.Equal(t, uint8(3), reused[0].Atlas)
	assert.Equal(t, mgl32.Translate3D(3, 0, 0), reused[0].Transform)
	// The second copy aliases the same light and is left in place.
	assert.Equal(t, l.Cookie(), s.Cookie[7])
}

func TestResetSlots(t *testing.T) {
	s := NewSpotSet()
	l := NewSpotLight()
	gather(s, l)
	ReassignIndices(s)
	s.ResetSlots()

	gather(s, l)
	mask, reused := ReassignIndices(s)
	assert.Equal(t, uint32(1), mask)
	assert.Empty(t, reused)
}

func TestActiveMask(t *testing.T) {
	s := NewPointSet()
	assert.Zero(t, s.ActiveMask())
	s.Count = 3
	assert.Equal(t, uint32(0b111), s.ActiveMask())
	s.Count = MaxLights
	assert.Equal(t, AllSlots, s.ActiveMask())
}
