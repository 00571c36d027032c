package lights

// AllSlots is the partial mask of a full atlas update.
const AllSlots = ^uint32(0)

// ShadowInfo is the shadow state the scene should apply to a light.
// Valid is false when the light has no usable shadow this frame.
type ShadowInfo[T any] struct {
	Light     *Light
	Slot      int
	Atlas     uint8
	Transform T
	Valid     bool
}

// ReassignIndices keeps every gathered light in the atlas slot it had last
// frame when possible and returns the mask of slots whose contents must be
// re-rendered, plus the shadow info of lights whose slot was reused as is.
//
// Duplicate cookies are not detected: the first match in slot order wins.
func ReassignIndices[T any](s *Set[T]) (uint32, []ShadowInfo[T]) {
	var mask uint32
	var reused []ShadowInfo[T]

	for i := 0; i < s.Count; i++ {
		cookie := s.Handles[i].Cookie()

		if j := s.findCookie(cookie); j >= 0 && j != i {
			s.swapSlots(i, j)
		}

		// Slot i holds someone else's shadow; move to a never-used slot
		// rather than evicting it.
		if cookie != s.Cookie[i] && s.Cookie[i] != 0 {
			if j := s.findCookie(0); j >= 0 && j != i {
				s.swapSlots(i, j)
			}
		}

		if cookie != s.Cookie[i] {
			mask |= 1 << uint(i)
		} else {
			reused = append(reused, ShadowInfo[T]{
				Light:     s.Handles[i],
				Slot:      i,
				Atlas:     s.IndexRemap[i],
				Transform: s.Transforms[i],
				Valid:     true,
			})
		}

		s.Cookie[i] = cookie
	}

	return mask, reused
}

func (s *Set[T]) findCookie(cookie uint32) int {
	for j, c := range s.Cookie {
		if c == cookie {
			return j
		}
	}
	return -1
}
