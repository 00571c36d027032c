package cluster

import (
	"encoding/binary"
	"math/bits"
)

// Mask holds one bit per active light of each kind.
type Mask struct {
	Spots  uint32
	Points uint32
}

func (m Mask) Empty() bool {
	return m.Spots == 0 && m.Points == 0
}

// Count is the number of lights in the mask.
func (m Mask) Count() int {
	return bits.OnesCount32(m.Spots) + bits.OnesCount32(m.Points)
}

// Node is one grid cell. Dense cells hold (spots, points, 0, 0); compact cells
// hold (spot start, spot count, point start, point count) into Grid.List.
type Node [4]uint32

// Grid is the CPU-side cluster volume. Bands are stacked along z.
type Grid struct {
	Resolution [3]uint32
	Encoding   Encoding
	Cells      []Node
	List       []uint32
}

func newGrid(res [3]uint32, enc Encoding) *Grid {
	return &Grid{
		Resolution: res,
		Encoding:   enc,
		Cells:      make([]Node, int(res[0])*int(res[1])*int(res[2])*Bands),
	}
}

func (g *Grid) index(x, y, z, band uint32) int {
	rx, ry, rz := g.Resolution[0], g.Resolution[1], g.Resolution[2]
	return int(((band*rz+z)*ry+y)*rx + x)
}

// Node returns the raw cell.
func (g *Grid) Node(x, y, z, band uint32) Node {
	return g.Cells[g.index(x, y, z, band)]
}

// Mask decodes a cell regardless of encoding.
func (g *Grid) Mask(x, y, z, band uint32) Mask {
	n := g.Node(x, y, z, band)
	if g.Encoding == EncodingDense {
		return Mask{Spots: n[0], Points: n[1]}
	}
	var m Mask
	for _, i := range g.List[n[0] : n[0]+n[1]] {
		m.Spots |= 1 << i
	}
	for _, i := range g.List[n[2] : n[2]+n[3]] {
		m.Points |= 1 << i
	}
	return m
}

// Bytes lays the cells out as the uvec4 staging buffer.
func (g *Grid) Bytes() []byte {
	buf := make([]byte, len(g.Cells)*16)
	for i, n := range g.Cells {
		for c, v := range n {
			binary.LittleEndian.PutUint32(buf[i*16+c*4:], v)
		}
	}
	return buf
}

// ListBytes returns the compact light list; an empty list still yields one
// zero uvec4 so it can be bound.
func (g *Grid) ListBytes() []byte {
	if len(g.List) == 0 {
		return make([]byte, 16)
	}
	buf := make([]byte, len(g.List)*4)
	for i, v := range g.List {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}
