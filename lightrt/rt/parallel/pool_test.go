package parallel

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupRunsEveryTask(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		tasks   int
	}{
		{"single worker", 1, 50},
		{"more tasks than queue", 2, 500},
		{"default workers", 0, 100},
		{"empty group", 4, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPool(tc.workers)
			defer p.Close()

			var n atomic.Int64
			g := p.NewGroup()
			for i := 0; i < tc.tasks; i++ {
				g.Enqueue(func() { n.Add(1) })
			}
			g.Flush()
			g.Wait()
			assert.Equal(t, int64(tc.tasks), n.Load())
		})
	}
}

func TestGroupNothingRunsBeforeFlush(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var ran atomic.Bool
	g := p.NewGroup()
	g.Enqueue(func() { ran.Store(true) })
	assert.False(t, ran.Load())
	g.Flush()
	g.Wait()
	assert.True(t, ran.Load())
}

func TestClosedPoolRunsOnCaller(t *testing.T) {
	p := NewPool(2)
	p.Close()
	p.Close()

	var mu sync.Mutex
	var order []int
	g := p.NewGroup()
	for i := 0; i < 3; i++ {
		g.Enqueue(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	g.Flush()
	g.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}
