package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/irifrance/gini"
	"github.com/irifrance/gini/logic"
	"github.com/irifrance/gini/z"
	"github.com/pkg/errors"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/ir"
)

// Counterexample is an input and state assignment under which two netlists
// disagree.
type Counterexample struct {
	Inputs  map[string]bits.Value
	State   map[string]bits.Value
	Differs []string
}

func (c *Counterexample) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "differ on %s", strings.Join(c.Differs, ", "))
	for _, group := range []map[string]bits.Value{c.Inputs, c.State} {
		names := make([]string, 0, len(group))
		for n := range group {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(&sb, " %s=%s", n, group[n])
		}
	}
	return sb.String()
}

type word []z.Lit

// blaster turns one netlist into and-inverter logic over shared variables.
type blaster struct {
	c    *logic.C
	nl   *ir.Netlist
	vars map[string]word
	memo []word
}

// Equivalent proves that a and b compute the same outputs and the same
// next register states for every input and current state. Inputs and
// registers are matched by name. It returns nil when the netlists are
// equivalent and a counterexample otherwise. Netlists with memories are
// not supported.
func Equivalent(a, b *ir.Netlist) (*Counterexample, error) {
	if err := sameInterface(a, b); err != nil { return nil, err }
	c := logic.NewC()
	vars := make(map[string]word)
	for _, id := range a.Inputs {
		s := a.Signals[id]
		vars["in:"+s.Name] = fresh(c, s.Type.Width)
	}
	for _, r := range a.Registers {
		vars["reg:"+r.Name] = fresh(c, r.Type.Width)
	}
	ba := &blaster{c: c, nl: a, vars: vars, memo: make([]word, len(a.Signals))}
	bb := &blaster{c: c, nl: b, vars: vars, memo: make([]word, len(b.Signals))}

	type pair struct {
		name string
		x, y word
	}
	var pairs []pair
	for _, p := range a.Outputs {
		q, _ := b.Output(p.Name)
		x, err := ba.signal(p.Signal)
		if err != nil { return nil, err }
		y, err := bb.signal(q)
		if err != nil { return nil, err }
		pairs = append(pairs, pair{"output " + p.Name, x, y})
	}
	for _, r := range a.Registers {
		rb, _ := b.Register(r.Name)
		x, err := ba.next(r)
		if err != nil { return nil, err }
		y, err := bb.next(rb)
		if err != nil { return nil, err }
		pairs = append(pairs, pair{"register " + r.Name, x, y})
	}

	diffs := make([]z.Lit, len(pairs))
	miter := c.F
	for i, p := range pairs {
		d := c.F
		for k := range p.x {
			d = c.Or(d, xor(c, p.x[k], p.y[k]))
		}
		diffs[i] = d
		miter = c.Or(miter, d)
	}

	g := gini.New()
	c.ToCnf(g)
	g.Assume(miter)
	if g.Solve() != 1 { return nil, nil }

	cex := &Counterexample{Inputs: make(map[string]bits.Value), State: make(map[string]bits.Value)}
	for _, id := range a.Inputs {
		s := a.Signals[id]
		cex.Inputs[s.Name] = model(g, vars["in:"+s.Name], s.Type)
	}
	for _, r := range a.Registers {
		cex.State[r.Name] = model(g, vars["reg:"+r.Name], r.Type)
	}
	for i, p := range pairs {
		if g.Value(diffs[i]) { cex.Differs = append(cex.Differs, p.name) }
	}
	return cex, nil
}

func sameInterface(a, b *ir.Netlist) error {
	if len(a.Memories) > 0 || len(b.Memories) > 0 {
		return errors.New("equivalence checking does not support memories")
	}
	types := func(nl *ir.Netlist, ids []ir.SignalID) map[string]bits.Type {
		m := make(map[string]bits.Type)
		for _, id := range ids {
			m[nl.Signals[id].Name] = nl.Signals[id].Type
		}
		return m
	}
	check := func(what string, x, y map[string]bits.Type) error {
		if len(x) != len(y) { return errors.Errorf("%s differ: %d and %d", what, len(x), len(y)) }
		for n, t := range x {
			u, ok := y[n]
			if !ok { return errors.Errorf("%s %s is missing from the second netlist", what, n) }
			if !t.Equal(u) { return errors.Errorf("%s %s is %s and %s", what, n, t, u) }
		}
		return nil
	}
	if err := check("inputs", types(a, a.Inputs), types(b, b.Inputs)); err != nil { return err }
	outs := func(nl *ir.Netlist) map[string]bits.Type {
		m := make(map[string]bits.Type)
		for _, p := range nl.Outputs {
			m[p.Name] = nl.Signals[p.Signal].Type
		}
		return m
	}
	if err := check("outputs", outs(a), outs(b)); err != nil { return err }
	regs := func(nl *ir.Netlist) map[string]bits.Type {
		m := make(map[string]bits.Type)
		for _, r := range nl.Registers {
			m[r.Name] = r.Type
		}
		return m
	}
	return check("registers", regs(a), regs(b))
}

func fresh(c *logic.C, w int) word {
	x := make(word, w)
	for i := range x {
		x[i] = c.Lit()
	}
	return x
}

func model(g *gini.Gini, x word, t bits.Type) bits.Value {
	var sb strings.Builder
	sb.WriteString("0b")
	for i := len(x) - 1; i >= 0; i-- {
		if g.Value(x[i]) {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return bits.MustParse(bits.Unsigned(t.Width), sb.String()).As(t.Signed)
}

func xor(c *logic.C, a, b z.Lit) z.Lit {
	return c.Or(c.And(a, b.Not()), c.And(a.Not(), b))
}

func mux(c *logic.C, s, t, e z.Lit) z.Lit {
	return c.Or(c.And(s, t), c.And(s.Not(), e))
}

func (b *blaster) konst(v bits.Value) word {
	x := make(word, v.Type.Width)
	for i := range x {
		x[i] = b.c.F
		if v.Bit(i) { x[i] = b.c.T }
	}
	return x
}

// ext widens x to w bits, sign extending when signed, or truncates it.
func (b *blaster) ext(x word, signed bool, w int) word {
	out := make(word, w)
	for i := range out {
		switch {
		case i < len(x): out[i] = x[i]
		case signed && len(x) > 0: out[i] = x[len(x)-1]
		default: out[i] = b.c.F
		}
	}
	return out
}

func (b *blaster) add(x, y word, cin z.Lit) word {
	c := b.c
	out := make(word, len(x))
	carry := cin
	for i := range x {
		out[i] = xor(c, xor(c, x[i], y[i]), carry)
		carry = c.Or(c.And(x[i], y[i]), c.And(carry, xor(c, x[i], y[i])))
	}
	return out
}

func (b *blaster) not(x word) word {
	out := make(word, len(x))
	for i := range x {
		out[i] = x[i].Not()
	}
	return out
}

func (b *blaster) mul(x, y word) word {
	acc := b.konst(bits.Zero(bits.Unsigned(len(x))))
	for i := range y {
		part := make(word, len(x))
		for k := range part {
			part[k] = b.c.F
			if k >= i { part[k] = b.c.And(x[k-i], y[i]) }
		}
		acc = b.add(acc, part, b.c.F)
	}
	return acc
}

func (b *blaster) eq(x, y word) z.Lit {
	r := b.c.T
	for i := range x {
		r = b.c.And(r, xor(b.c, x[i], y[i]).Not())
	}
	return r
}

// lt compares x < y; signed compares flip the sign bits first.
func (b *blaster) lt(x, y word, signed bool) z.Lit {
	if signed {
		x, y = append(word(nil), x...), append(word(nil), y...)
		x[len(x)-1], y[len(y)-1] = x[len(x)-1].Not(), y[len(y)-1].Not()
	}
	// x < y iff x - y borrows: no carry out of x + ~y + 1.
	c := b.c
	carry := c.T
	ny := b.not(y)
	for i := range x {
		carry = c.Or(c.And(x[i], ny[i]), c.And(carry, xor(c, x[i], ny[i])))
	}
	return carry.Not()
}

// shift moves x by the unsigned amount; left when left is set, otherwise
// right filling with fill.
func (b *blaster) shift(x, amt word, left bool, fill z.Lit) word {
	c := b.c
	w := len(x)
	cur := append(word(nil), x...)
	over := c.F
	for k := range amt {
		dist := 1 << uint(k)
		if k >= 30 || dist >= w {
			over = c.Or(over, amt[k])
			continue
		}
		next := make(word, w)
		for i := range next {
			var moved z.Lit
			if left {
				moved = c.F
				if i-dist >= 0 { moved = cur[i-dist] }
			} else {
				moved = fill
				if i+dist < w { moved = cur[i+dist] }
			}
			next[i] = mux(c, amt[k], moved, cur[i])
		}
		cur = next
	}
	for i := range cur {
		f := fill
		if left { f = c.F }
		cur[i] = mux(c, over, f, cur[i])
	}
	return cur
}

func (b *blaster) typ(s ir.SignalID) bits.Type { return b.nl.Signals[s].Type }

func (b *blaster) next(r *ir.Register) (word, error) {
	d, err := b.signal(r.D)
	if err != nil { return nil, err }
	if r.Reset == ir.None { return d, nil }
	rst, err := b.signal(r.Reset)
	if err != nil { return nil, err }
	rv := bits.Zero(r.Type)
	if r.ResetValue != nil { rv = *r.ResetValue }
	k := b.konst(rv)
	out := make(word, len(d))
	for i := range d {
		out[i] = mux(b.c, rst[0], k[i], d[i])
	}
	return out, nil
}

func (b *blaster) signal(id ir.SignalID) (word, error) {
	if b.memo[id] != nil { return b.memo[id], nil }
	s := b.nl.Signals[id]
	var x word
	switch s.Kind {
	case ir.KindInput:
		x = b.vars["in:"+s.Name]
	case ir.KindRegOut:
		x = b.vars["reg:"+b.nl.Registers[s.Driver].Name]
	case ir.KindClock:
		return nil, errors.Errorf("clock %s is used as data", s.Name)
	default:
		n := b.nl.DriverNode(id)
		if n == nil { return nil, errors.Errorf("signal %s has no driver", s.Name) }
		var err error
		if x, err = b.node(n); err != nil { return nil, err }
	}
	b.memo[id] = x
	return x, nil
}

func (b *blaster) node(n *ir.Node) (word, error) {
	c := b.c
	out := b.typ(n.Out)
	args := make([]word, len(n.Args))
	for i, a := range n.Args {
		x, err := b.signal(a)
		if err != nil { return nil, err }
		args[i] = x
	}
	arg := func(i int) word { return b.ext(args[i], b.typ(n.Args[i]).Signed, out.Width) }
	switch n.Op {
	case ir.OpConst:
		return b.konst(*n.Const), nil
	case ir.OpCopy, ir.OpSync:
		return args[0], nil
	case ir.OpAdd:
		return b.add(arg(0), arg(1), c.F), nil
	case ir.OpSub:
		return b.add(arg(0), b.not(arg(1)), c.T), nil
	case ir.OpMul:
		return b.mul(arg(0), arg(1)), nil
	case ir.OpAnd, ir.OpOr, ir.OpXor:
		x, y := args[0], args[1]
		r := make(word, len(x))
		for i := range x {
			switch n.Op {
			case ir.OpAnd: r[i] = c.And(x[i], y[i])
			case ir.OpOr: r[i] = c.Or(x[i], y[i])
			default: r[i] = xor(c, x[i], y[i])
			}
		}
		return r, nil
	case ir.OpShl:
		return b.shift(args[0], args[1], true, c.F), nil
	case ir.OpShr:
		fill := c.F
		if out.Signed { fill = args[0][len(args[0])-1] }
		return b.shift(args[0], args[1], false, fill), nil
	case ir.OpEq:
		return word{b.eq(args[0], args[1])}, nil
	case ir.OpNe:
		return word{b.eq(args[0], args[1]).Not()}, nil
	case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		signed := b.typ(n.Args[0]).Signed
		x, y := args[0], args[1]
		switch n.Op {
		case ir.OpLt: return word{b.lt(x, y, signed)}, nil
		case ir.OpLe: return word{b.lt(y, x, signed).Not()}, nil
		case ir.OpGt: return word{b.lt(y, x, signed)}, nil
		}
		return word{b.lt(x, y, signed).Not()}, nil
	case ir.OpNot:
		return b.not(args[0]), nil
	case ir.OpNeg:
		return b.add(b.konst(bits.Zero(bits.Unsigned(len(args[0])))), b.not(args[0]), c.T), nil
	case ir.OpAll, ir.OpAny, ir.OpParity:
		r := c.T
		if n.Op != ir.OpAll { r = c.F }
		for _, l := range args[0] {
			switch n.Op {
			case ir.OpAll: r = c.And(r, l)
			case ir.OpAny: r = c.Or(r, l)
			default: r = xor(c, r, l)
			}
		}
		return word{r}, nil
	case ir.OpMux:
		r := make(word, out.Width)
		for i := range r {
			r[i] = mux(c, args[0][0], args[1][i], args[2][i])
		}
		return r, nil
	case ir.OpCase:
		disc := b.typ(n.Args[0])
		r := args[1]
		for i := len(n.Params) - 1; i >= 0; i-- {
			hit := b.eq(args[0], b.konst(bits.FromInt64(disc, int64(n.Params[i]))))
			nr := make(word, len(r))
			for k := range r {
				nr[k] = mux(c, hit, args[i+2][k], r[k])
			}
			r = nr
		}
		return r, nil
	case ir.OpSlice:
		return append(word(nil), args[0][n.Params[0]:n.Params[1]]...), nil
	case ir.OpDynSlice:
		return b.shift(args[0], args[1], false, c.F)[:n.Params[0]], nil
	case ir.OpConcat:
		var r word
		for i := len(args) - 1; i >= 0; i-- {
			r = append(r, args[i]...)
		}
		return r, nil
	case ir.OpSplice:
		r := append(word(nil), args[0]...)
		copy(r[n.Params[0]:], args[1])
		return r, nil
	case ir.OpResize:
		return b.ext(args[0], b.typ(n.Args[0]).Signed, out.Width), nil
	}
	return nil, errors.Errorf("no bit-level model for %s", b.nl.NodeName(n.ID))
}
