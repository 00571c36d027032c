package clusterer

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FrameStats holds CPU timings and counters of the last Refresh/BuildClusters pair.
type FrameStats struct {
	Scopes     map[string]time.Duration
	StartTimes map[string]time.Time
	Counts     map[string]int
	Order      []string
}

func NewFrameStats() *FrameStats {
	return &FrameStats{
		Scopes:     make(map[string]time.Duration),
		StartTimes: make(map[string]time.Time),
		Counts:     make(map[string]int),
	}
}

func (s *FrameStats) BeginScope(name string) {
	s.StartTimes[name] = time.Now()
	for _, n := range s.Order {
		if n == name {
			return
		}
	}
	s.Order = append(s.Order, name)
}

func (s *FrameStats) EndScope(name string) {
	if start, ok := s.StartTimes[name]; ok {
		s.Scopes[name] = time.Since(start)
	}
}

func (s *FrameStats) SetCount(name string, count int) {
	s.Counts[name] = count
}

// Reset zeroes timings and counters; scope order is kept.
func (s *FrameStats) Reset() {
	for k := range s.Scopes {
		s.Scopes[k] = 0
	}
	for k := range s.Counts {
		s.Counts[k] = 0
	}
}

func (s *FrameStats) String() string {
	var sb strings.Builder

	sb.WriteString("Timings (CPU):\n")
	for _, name := range s.Order {
		ms := float64(s.Scopes[name].Microseconds()) / 1000.0
		fmt.Fprintf(&sb, "  %-12s: %.2f ms\n", name, ms)
	}

	sb.WriteString("\nStats:\n")
	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "  %-12s: %d\n", k, s.Counts[k])
	}
	return sb.String()
}
