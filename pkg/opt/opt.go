// Package opt simplifies a checked netlist: it folds constants, removes
// multiplexers whose choice is fixed, turns trivial operations into copies,
// forwards copies to their readers and drops logic nothing observes.
package opt

import (
	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/ir"
)

// Stats counts what one run changed.
type Stats struct {
	Folded     int
	Muxes      int
	Copies     int
	Forwarded  int
	Removed    int
	Iterations int
}

func (s Stats) Changed() bool { return s.Folded+s.Muxes+s.Copies+s.Forwarded+s.Removed > 0 }

type pass struct {
	nl    *ir.Netlist
	stats Stats
}

// Run returns the optimized netlist. The input is left untouched.
func Run(nl *ir.Netlist) (*ir.Netlist, Stats) {
	p := &pass{nl: nl.Clone()}
	for {
		p.stats.Iterations++
		before := p.stats
		p.fold()
		p.simplify()
		p.forward()
		if p.stats == withIter(before, p.stats.Iterations) { break }
	}
	live := p.live()
	for _, l := range live {
		if !l { p.stats.Removed++ }
	}
	out := p.nl.Prune(live)
	out.Reshape()
	return out, p.stats
}

func withIter(s Stats, n int) Stats {
	s.Iterations = n
	return s
}

func (p *pass) constOf(s ir.SignalID) (bits.Value, bool) {
	d := p.nl.DriverNode(s)
	if d == nil || d.Op != ir.OpConst { return bits.Value{}, false }
	return *d.Const, true
}

func (p *pass) makeConst(n *ir.Node, v bits.Value) {
	n.Op = ir.OpConst
	n.Const = p.nl.Arena.Const(v)
	n.Args, n.Params = nil, nil
}

func (p *pass) makeCopy(n *ir.Node, src ir.SignalID) {
	n.Op = ir.OpCopy
	n.Args = []ir.SignalID{src}
	n.Params = nil
}

// fold evaluates nodes whose arguments are all constant.
func (p *pass) fold() {
	nl := p.nl
	for _, n := range nl.Nodes {
		if n.Op == ir.OpConst || n.Op == ir.OpMemRead || n.Op == ir.OpSync || n.Op == ir.OpCopy || len(n.Args) == 0 { continue }
		args := make([]bits.Value, len(n.Args))
		ok := true
		for i, a := range n.Args {
			if args[i], ok = p.constOf(a); !ok { break }
		}
		if !ok { continue }
		v, pure := ir.Eval(n, nl.Signals[n.Out].Type, args)
		if !pure { continue }
		p.makeConst(n, v)
		p.stats.Folded++
	}
}

func (p *pass) sameType(a, b ir.SignalID) bool {
	return p.nl.Signals[a].Type.Equal(p.nl.Signals[b].Type)
}

// simplify rewrites multiplexers with a fixed choice and single-argument
// forms into copies.
func (p *pass) simplify() {
	nl := p.nl
	for _, n := range nl.Nodes {
		switch n.Op {
		case ir.OpMux:
			if sel, ok := p.constOf(n.Args[0]); ok {
				pick := n.Args[2]
				if sel.Bool() { pick = n.Args[1] }
				p.makeCopy(n, pick)
				p.stats.Muxes++
			} else if n.Args[1] == n.Args[2] {
				p.makeCopy(n, n.Args[1])
				p.stats.Muxes++
			}
		case ir.OpCase:
			if d, ok := p.constOf(n.Args[0]); ok {
				p.makeCopy(n, n.Args[ir.CaseArm(n, d)])
				p.stats.Muxes++
				continue
			}
			same := true
			for _, a := range n.Args[2:] {
				if a != n.Args[1] { same = false }
			}
			if same {
				p.makeCopy(n, n.Args[1])
				p.stats.Muxes++
			}
		case ir.OpConcat:
			if len(n.Args) == 1 && p.sameType(n.Args[0], n.Out) {
				p.makeCopy(n, n.Args[0])
				p.stats.Copies++
			}
		case ir.OpResize:
			if p.sameType(n.Args[0], n.Out) {
				p.makeCopy(n, n.Args[0])
				p.stats.Copies++
			}
		case ir.OpSlice:
			if n.Params[0] == 0 && p.sameType(n.Args[0], n.Out) {
				p.makeCopy(n, n.Args[0])
				p.stats.Copies++
			}
		}
	}
}

// source follows a chain of copies back to the first signal that is not a
// same-typed copy.
func (p *pass) source(s ir.SignalID) ir.SignalID {
	for {
		d := p.nl.DriverNode(s)
		if d == nil || d.Op != ir.OpCopy || !p.sameType(d.Args[0], s) { return s }
		s = d.Args[0]
	}
}

// forward makes readers of a copy read its source. Output ports keep their
// own driver.
func (p *pass) forward() {
	nl := p.nl
	fwd := func(s *ir.SignalID) {
		if src := p.source(*s); src != *s {
			*s = src
			p.stats.Forwarded++
		}
	}
	for _, n := range nl.Nodes {
		for i := range n.Args {
			fwd(&n.Args[i])
		}
	}
	for _, r := range nl.Registers {
		fwd(&r.D)
		if r.Reset != ir.None { fwd(&r.Reset) }
	}
	for _, m := range nl.Memories {
		for i := range m.Writes {
			w := &m.Writes[i]
			fwd(&w.Addr)
			fwd(&w.Data)
			fwd(&w.Enable)
		}
	}
}

// live marks the nodes reachable backwards from outputs and state inputs.
func (p *pass) live() []bool {
	nl := p.nl
	live := make([]bool, len(nl.Nodes))
	stack := nl.Sinks()
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		d := nl.DriverNode(s)
		if d == nil || live[d.ID] { continue }
		live[d.ID] = true
		stack = append(stack, d.Args...)
	}
	return live
}
