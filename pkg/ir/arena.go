package ir

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/rtlc/pkg/bits"
)

// Arena holds the interning tables of one compilation session. It is never
// shared between sessions; netlists built in the same session point at it.
type Arena struct {
	consts map[uint64][]*bits.Value
	shapes map[uint64]*Shape
	order  []uint64
}

// Shape is the structural metadata shared by every node with the same
// opcode, operand types and parameters.
type Shape struct {
	Hash  uint64
	Op    Op
	Types []bits.Type
	Param []int
	Uses  int
}

func NewArena() *Arena {
	return &Arena{consts: make(map[uint64][]*bits.Value), shapes: make(map[uint64]*Shape)}
}

func hashValue(v bits.Value) uint64 {
	h := xxhash.New()
	b, _ := v.MarshalText()
	h.Write(b)
	return h.Sum64()
}

// Const returns the canonical copy of v. Two calls with equal values return
// the same pointer.
func (a *Arena) Const(v bits.Value) *bits.Value {
	k := hashValue(v)
	for _, c := range a.consts[k] {
		if c.Equal(v) { return c }
	}
	c := new(bits.Value)
	*c = v
	a.consts[k] = append(a.consts[k], c)
	return c
}

// Shape interns the shape of a node and returns its hash. Operand types may
// be zero when not yet inferred.
func (a *Arena) Shape(op Op, types []bits.Type, params []int) uint64 {
	var buf [8]byte
	h := xxhash.New()
	put := func(x int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(x))
		h.Write(buf[:])
	}
	put(int(op))
	put(len(types))
	for _, t := range types {
		w := t.Width
		if t.Signed { w = -w }
		put(w)
	}
	put(len(params))
	for _, p := range params {
		put(p)
	}
	k := h.Sum64()
	if s, ok := a.shapes[k]; ok {
		s.Uses++
		return k
	}
	a.shapes[k] = &Shape{Hash: k, Op: op, Types: append([]bits.Type(nil), types...), Param: append([]int(nil), params...), Uses: 1}
	a.order = append(a.order, k)
	return k
}

func (a *Arena) LookupShape(k uint64) (*Shape, bool) {
	s, ok := a.shapes[k]
	return s, ok
}

// Shapes lists the interned shapes in first-seen order.
func (a *Arena) Shapes() []*Shape {
	out := make([]*Shape, len(a.order))
	for i, k := range a.order {
		out[i] = a.shapes[k]
	}
	return out
}

func (a *Arena) NumConsts() int {
	n := 0
	for _, cs := range a.consts {
		n += len(cs)
	}
	return n
}

func (a *Arena) NumShapes() int { return len(a.shapes) }

// Reshape recomputes the shape of every node from the current signal types.
func (nl *Netlist) Reshape() {
	if nl.Arena == nil { return }
	for _, n := range nl.Nodes {
		types := make([]bits.Type, len(n.Args))
		for i, a := range n.Args {
			types[i] = nl.Signals[a].Type
		}
		n.Shape = nl.Arena.Shape(n.Op, types, n.Params)
	}
}
