package typeChecker

import (
	"fmt"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
)

type TypeChecker struct {
	cfg      *config.Config
	nl       *ir.Netlist
	diags    diag.List
	warnings diag.List
	carry    bool
}

func NewTypeChecker(cfg *config.Config) *TypeChecker {
	if cfg == nil { cfg = config.NewConfig() }
	return &TypeChecker{cfg: cfg, carry: cfg.IsFeatureEnabled(config.FeatCarry)}
}

// Warnings returns the non-fatal findings of the last Check.
func (tc *TypeChecker) Warnings() diag.List { return tc.warnings }

// Check infers the type of every signal in one topological pass, annotating
// nl in place, and returns every width defect found.
func (tc *TypeChecker) Check(nl *ir.Netlist) diag.List {
	tc.nl, tc.diags, tc.warnings = nl, nil, nil

	for _, s := range nl.Signals {
		switch s.Kind {
		case ir.KindClock:
			s.Type = bits.Bool
		case ir.KindRegOut:
			s.Type = nl.Registers[s.Driver].Type
		case ir.KindWire:
			if s.Driver == ir.None && s.Declared != nil { s.Type = *s.Declared }
		}
	}

	order, looped := tc.order()
	// cyclic marks signals on or downstream of a combinational cycle; their
	// widths stay unknown without a width defect of their own.
	cyclic := make([]bool, len(nl.Signals))
	for _, id := range order {
		n := nl.Nodes[id]
		if looped[id] { cyclic[n.Out] = true }
		for _, a := range n.Args {
			if cyclic[a] { cyclic[n.Out] = true }
		}
		tc.checkNode(n)
	}
	for _, r := range nl.Registers {
		tc.checkRegister(r)
	}
	for _, m := range nl.Memories {
		tc.checkMemory(m)
	}
	if len(tc.diags) == 0 {
		for _, s := range nl.Signals {
			if s.Type.IsZero() && !cyclic[s.ID] {
				tc.diags.Add(diag.New(diag.KindWidthMismatch, "width could not be inferred").AtSignal(s.Name))
			}
		}
	}
	tc.checkUnused()
	if len(tc.diags) == 0 { nl.Reshape() }
	tc.diags.SetUnit(nl.Name)
	return tc.diags
}

// order lists nodes so that every node follows the drivers of its operands,
// except across the back edge of a combinational cycle. looped marks the
// nodes on such a cycle; the clock checker reports the cycle itself.
func (tc *TypeChecker) order() ([]ir.NodeID, []bool) {
	const (
		white = iota
		grey
		black
	)
	nl := tc.nl
	color := make([]int, len(nl.Nodes))
	looped := make([]bool, len(nl.Nodes))
	var out []ir.NodeID
	type frame struct {
		id  ir.NodeID
		arg int
	}
	for root := range nl.Nodes {
		if color[root] != white { continue }
		stack := []frame{{ir.NodeID(root), 0}}
		color[root] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			n := nl.Nodes[top.id]
			if top.arg < len(n.Args) {
				a := n.Args[top.arg]
				top.arg++
				d := nl.DriverNode(a)
				switch {
				case d == nil:
				case color[d.ID] == white:
					color[d.ID] = grey
					stack = append(stack, frame{d.ID, 0})
				case color[d.ID] == grey:
					for i := len(stack) - 1; i >= 0; i-- {
						looped[stack[i].id] = true
						if stack[i].id == d.ID { break }
					}
				}
				continue
			}
			color[top.id] = black
			out = append(out, top.id)
			stack = stack[:len(stack)-1]
		}
	}
	return out, looped
}

func (tc *TypeChecker) errorAt(n *ir.Node, format string, args ...interface{}) {
	tc.diags.Add(diag.New(diag.KindWidthMismatch, format, args...).AtNode(tc.nl.NodeName(n.ID)))
}

func (tc *TypeChecker) warnAt(wt config.Warning, n *ir.Node, format string, args ...interface{}) {
	if !tc.cfg.Warn(wt) { return }
	tc.warnings.Add(diag.New(diag.KindWidthMismatch, format, args...).AtNode(tc.nl.NodeName(n.ID)).WithFlag(tc.cfg.Warnings[wt].Name))
}

func (tc *TypeChecker) checkNode(n *ir.Node) {
	nl := tc.nl
	for _, a := range n.Args {
		// An untyped operand was already reported, or sits on a cycle.
		if nl.Signals[a].Type.IsZero() { return }
	}
	t, err := Infer(nl, n, tc.carry)
	if err != nil {
		tc.errorAt(n, "%v", err)
		return
	}
	out := nl.Signals[n.Out]
	if out.Declared != nil && !out.Declared.Equal(t) {
		tc.diags.Add(diag.WidthMismatchError(nl.NodeName(n.ID), out.Declared.String(), t.String()))
	}
	out.Type = t

	switch n.Op {
	case ir.OpAdd, ir.OpSub, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor:
		a, b := nl.Signals[n.Args[0]].Type, nl.Signals[n.Args[1]].Type
		if a.Signed != b.Signed {
			tc.warnAt(config.WarnSignMix, n, "%s mixes %s and %s operands", n.Op, a, b)
		}
	case ir.OpResize:
		if a := nl.Signals[n.Args[0]].Type; t.Width < a.Width {
			tc.warnAt(config.WarnTruncate, n, "resize from %s to %s drops bits", a, t)
		}
	case ir.OpMux:
		if d := nl.DriverNode(n.Args[0]); d != nil && d.Op == ir.OpConst {
			tc.warnAt(config.WarnConstSelect, n, "multiplexer selector is the constant %s", d.Const)
		}
	}
}

// Infer applies the width rule of n's opcode to the current operand types.
func Infer(nl *ir.Netlist, n *ir.Node, carry bool) (bits.Type, error) {
	ts := make([]bits.Type, len(n.Args))
	for i, a := range n.Args {
		ts[i] = nl.Signals[a].Type
	}
	if a := n.Op.Arity(); a >= 0 && a != len(ts) {
		return bits.Type{}, fmt.Errorf("%s takes %d operands, got %d", n.Op, a, len(ts))
	}
	t, err := rule(nl, n, ts, carry)
	if err != nil { return t, err }
	if !t.Valid() { return t, fmt.Errorf("%s result width %d is outside 1..%d", n.Op, t.Width, bits.MaxWidth) }
	return t, nil
}

func rule(nl *ir.Netlist, n *ir.Node, ts []bits.Type, carry bool) (bits.Type, error) {
	switch n.Op {
	case ir.OpConst:
		if n.Const == nil { return bits.Type{}, fmt.Errorf("constant without value") }
		return n.Const.Type, nil
	case ir.OpCopy, ir.OpSync, ir.OpNot, ir.OpNeg:
		return ts[0], nil
	case ir.OpAdd, ir.OpSub:
		return bits.AddResult(ts[0], ts[1], carry), nil
	case ir.OpMul:
		return bits.MulResult(ts[0], ts[1]), nil
	case ir.OpAnd, ir.OpOr, ir.OpXor:
		if ts[0].Width != ts[1].Width {
			return bits.Type{}, fmt.Errorf("%s needs equal widths, got %s and %s", n.Op, ts[0], ts[1])
		}
		return bits.Type{Width: ts[0].Width, Signed: ts[0].Signed || ts[1].Signed}, nil
	case ir.OpShl, ir.OpShr:
		if ts[1].Signed { return bits.Type{}, fmt.Errorf("shift amount must be unsigned, got %s", ts[1]) }
		return ts[0], nil
	case ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		if !ts[0].Equal(ts[1]) {
			return bits.Type{}, fmt.Errorf("%s compares %s with %s", n.Op, ts[0], ts[1])
		}
		return bits.Bool, nil
	case ir.OpAll, ir.OpAny, ir.OpParity:
		return bits.Bool, nil
	case ir.OpMux:
		if ts[0].Width != 1 { return bits.Type{}, fmt.Errorf("multiplexer selector must be 1 bit, got %s", ts[0]) }
		if !ts[1].Equal(ts[2]) {
			return bits.Type{}, fmt.Errorf("multiplexer arms differ: %s and %s", ts[1], ts[2])
		}
		return ts[1], nil
	case ir.OpCase:
		if len(ts) < 2 { return bits.Type{}, fmt.Errorf("case needs a discriminant and a default") }
		if len(n.Params) != len(ts)-2 {
			return bits.Type{}, fmt.Errorf("case has %d keys for %d arms", len(n.Params), len(ts)-2)
		}
		disc := ts[0]
		for i, k := range n.Params {
			if !keyFits(int64(k), disc) { return bits.Type{}, fmt.Errorf("case key %d does not fit %s", k, disc) }
			if !ts[i+2].Equal(ts[1]) {
				return bits.Type{}, fmt.Errorf("case arm %d is %s, default is %s", i, ts[i+2], ts[1])
			}
		}
		return ts[1], nil
	case ir.OpSlice:
		lo, hi := n.Params[0], n.Params[1]
		if lo < 0 || lo >= hi || hi > ts[0].Width {
			return bits.Type{}, fmt.Errorf("slice [%d, %d) out of range for %s", lo, hi, ts[0])
		}
		return bits.Unsigned(hi - lo), nil
	case ir.OpDynSlice:
		if n.Params[0] > ts[0].Width {
			return bits.Type{}, fmt.Errorf("dynamic slice of %d bits from %s", n.Params[0], ts[0])
		}
		if ts[1].Signed { return bits.Type{}, fmt.Errorf("slice offset must be unsigned, got %s", ts[1]) }
		return bits.Unsigned(n.Params[0]), nil
	case ir.OpConcat:
		w := 0
		for _, t := range ts {
			w += t.Width
		}
		return bits.Unsigned(w), nil
	case ir.OpSplice:
		lo := n.Params[0]
		if lo < 0 || lo+ts[1].Width > ts[0].Width {
			return bits.Type{}, fmt.Errorf("splice of %s at bit %d overflows %s", ts[1], lo, ts[0])
		}
		return ts[0], nil
	case ir.OpResize:
		return bits.Type{Width: n.Params[0], Signed: n.Params[1] != 0}, nil
	case ir.OpMemRead:
		if n.Mem < 0 || int(n.Mem) >= len(nl.Memories) { return bits.Type{}, fmt.Errorf("read of unknown memory %d", n.Mem) }
		m := nl.Memories[n.Mem]
		if want := bits.Unsigned(bits.AddrWidth(m.Depth)); !ts[0].Equal(want) {
			return bits.Type{}, fmt.Errorf("memory %s address is %s, want %s", m.Name, ts[0], want)
		}
		return m.Type, nil
	}
	return bits.Type{}, fmt.Errorf("unknown opcode %s", n.Op)
}

func keyFits(k int64, t bits.Type) bool {
	if t.Width >= 64 { return t.Signed || k >= 0 }
	if t.Signed {
		lim := int64(1) << (t.Width - 1)
		return k >= -lim && k < lim
	}
	return k >= 0 && k < int64(1)<<t.Width
}

func (tc *TypeChecker) mismatch(where, format string, args ...interface{}) {
	tc.diags.Add(diag.New(diag.KindWidthMismatch, format, args...).AtSignal(where))
}

func (tc *TypeChecker) checkRegister(r *ir.Register) {
	nl := tc.nl
	if d := nl.Signals[r.D].Type; !d.IsZero() && !d.Equal(r.Type) {
		tc.diags.Add(diag.WidthMismatchError(r.Name, r.Type.String(), d.String()).AtSignal(r.Name))
	}
	if r.ResetValue != nil && !r.ResetValue.Type.Equal(r.Type) {
		tc.mismatch(r.Name, "reset value %s does not match register type %s", r.ResetValue, r.Type)
	}
	if c := nl.Signals[r.Clock].Type; c.Width != 1 {
		tc.mismatch(r.Name, "clock %s is %s, want 1 bit", nl.SignalName(r.Clock), c)
	}
	if r.Reset != ir.None {
		if t := nl.Signals[r.Reset].Type; !t.IsZero() && t.Width != 1 {
			tc.mismatch(r.Name, "reset %s is %s, want 1 bit", nl.SignalName(r.Reset), t)
		}
	}
}

func (tc *TypeChecker) checkMemory(m *ir.Memory) {
	nl := tc.nl
	want := bits.Unsigned(bits.AddrWidth(m.Depth))
	for i, w := range m.Writes {
		where := fmt.Sprintf("%s.write[%d]", m.Name, i)
		if t := nl.Signals[w.Addr].Type; !t.IsZero() && !t.Equal(want) {
			tc.mismatch(where, "address is %s, want %s", t, want)
		}
		if t := nl.Signals[w.Data].Type; !t.IsZero() && !t.Equal(m.Type) {
			tc.diags.Add(diag.WidthMismatchError(where, m.Type.String(), t.String()).AtSignal(where))
		}
		if t := nl.Signals[w.Enable].Type; !t.IsZero() && t.Width != 1 {
			tc.mismatch(where, "write enable is %s, want 1 bit", t)
		}
	}
	for i, v := range m.Init {
		if !v.Type.Equal(m.Type) {
			tc.mismatch(m.Name, "initial word %d is %s, want %s", i, v.Type, m.Type)
		}
	}
}

func (tc *TypeChecker) checkUnused() {
	if !tc.cfg.Warn(config.WarnUnused) { return }
	nl := tc.nl
	readers := nl.Readers()
	used := make([]bool, len(nl.Signals))
	for _, s := range nl.Sinks() {
		used[s] = true
	}
	for _, s := range nl.Signals {
		if s.Kind != ir.KindWire && s.Kind != ir.KindInput { continue }
		if len(s.Name) > 1 && s.Name[0] == '_' { continue }
		if len(readers[s.ID]) == 0 && !used[s.ID] {
			tc.warnings.Add(diag.New(diag.KindWidthMismatch, "%s is never read", s.Name).AtSignal(s.Name).WithFlag(tc.cfg.Warnings[config.WarnUnused].Name))
		}
	}
}

// Rederive recomputes the type of the signal driven by n from its operand
// types, as Check would.
func (tc *TypeChecker) Rederive(nl *ir.Netlist, n *ir.Node) (bits.Type, error) {
	return Infer(nl, n, tc.carry)
}
