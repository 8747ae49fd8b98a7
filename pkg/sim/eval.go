package sim

import (
	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/ir"
)

// eval computes one node from the current values of its arguments. Unknown
// inputs make the result unknown, except that a multiplexer or case with a
// known selector only depends on the selected arm.
func (s *Session) eval(n *ir.Node) {
	nl := s.nl
	out := nl.Signals[n.Out].Type
	arg := func(i int) value { return s.vals[n.Args[i]] }

	switch n.Op {
	case ir.OpConst:
		s.vals[n.Out] = value{v: *n.Const, ok: true, src: n.Out}
		return
	case ir.OpMux:
		sel := arg(0)
		if !sel.ok {
			s.vals[n.Out] = value{v: bits.Zero(out), src: sel.src}
			return
		}
		if sel.v.Bool() {
			s.vals[n.Out] = arg(1)
		} else {
			s.vals[n.Out] = arg(2)
		}
		return
	case ir.OpCase:
		disc := arg(0)
		if !disc.ok {
			s.vals[n.Out] = value{v: bits.Zero(out), src: disc.src}
			return
		}
		s.vals[n.Out] = arg(ir.CaseArm(n, disc.v))
		return
	case ir.OpMemRead:
		a := arg(0)
		if !a.ok {
			s.vals[n.Out] = value{v: bits.Zero(out), src: a.src}
			return
		}
		m := nl.Memories[n.Mem]
		idx := a.v.Uint64()
		if a.v.ShiftAmount() >= uint64(m.Depth) {
			s.vals[n.Out] = value{v: bits.Zero(out), ok: true, src: n.Out}
			return
		}
		w := s.mems[n.Mem][idx]
		if !w.ok {
			s.vals[n.Out] = value{v: bits.Zero(out), src: w.src}
			return
		}
		s.vals[n.Out] = value{v: w.v, ok: true, src: n.Out}
		return
	}

	for _, a := range n.Args {
		if v := s.vals[a]; !v.ok {
			s.vals[n.Out] = value{v: bits.Zero(out), src: v.src}
			return
		}
	}
	v, _ := ir.Eval(n, out, s.args(n))
	s.vals[n.Out] = value{v: v, ok: true, src: n.Out}
}

func (s *Session) args(n *ir.Node) []bits.Value {
	vs := make([]bits.Value, len(n.Args))
	for i, a := range n.Args {
		vs[i] = s.vals[a].v
	}
	return vs
}
