// Package lower builds a netlist from a design description. Control flow is
// flattened into multiplexer trees and every re-assignment creates a new
// signal version, so the result has no branching and no mutation.
package lower

import (
	"fmt"
	"strings"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
)

type regState struct {
	reg  *ir.Register
	next ir.SignalID
}

// guard is one enclosing condition, built only when a memory write needs it.
type guard struct {
	build func() ir.SignalID
	sig   ir.SignalID
}

func (g *guard) signal() ir.SignalID {
	if g.sig == ir.None { g.sig = g.build() }
	return g.sig
}

type Builder struct {
	cfg   *config.Config
	arena *ir.Arena
	nl    *ir.Netlist

	diags    diag.List
	warnings diag.List
	path     []string

	funcs    map[string]*desc.Func
	calls    []string
	inFunc   int
	consts   map[*bits.Value]ir.SignalID
	vars     map[string]ir.SignalID
	readonly map[string]bool
	outputs  map[string]bool
	regs     map[string]*regState
	regOrder []string
	mems     map[string]*ir.Memory
	clocks   map[string]ir.SignalID
	temps    map[ir.SignalID]bool
	guards   []*guard
}

func NewBuilder(cfg *config.Config, arena *ir.Arena) *Builder {
	if cfg == nil { cfg = config.NewConfig() }
	if arena == nil { arena = ir.NewArena() }
	return &Builder{cfg: cfg, arena: arena}
}

// Warnings returns the non-fatal findings of the last Lower call.
func (b *Builder) Warnings() diag.List { return b.warnings }

// Lower converts d into a netlist. Every lowering error of the design is
// returned together as a diag.List.
func (b *Builder) Lower(d *desc.Design) (*ir.Netlist, error) {
	b.nl = ir.New(d.Name, b.arena)
	b.diags, b.warnings, b.path = nil, nil, nil
	b.funcs = make(map[string]*desc.Func)
	b.consts = make(map[*bits.Value]ir.SignalID)
	b.vars = make(map[string]ir.SignalID)
	b.readonly = make(map[string]bool)
	b.outputs = make(map[string]bool)
	b.regs = make(map[string]*regState)
	b.regOrder = nil
	b.mems = make(map[string]*ir.Memory)
	b.clocks = make(map[string]ir.SignalID)
	b.temps = make(map[ir.SignalID]bool)
	b.calls, b.guards, b.inFunc = nil, nil, 0

	for _, f := range d.Funcs {
		if _, dup := b.funcs[f.Name]; dup {
			b.errorf("function %s is defined more than once", f.Name)
		}
		b.funcs[f.Name] = f
	}

	for i, c := range d.Clocks {
		b.push("clocks[%d]", i)
		if b.declared(c) {
			b.errorf("clock %s is declared more than once", c)
		} else {
			s := b.nl.AddSignal(c, ir.KindClock, bits.Bool)
			b.clocks[c] = s.ID
			b.nl.Clocks = append(b.nl.Clocks, s.ID)
		}
		b.pop()
	}
	for i, p := range d.Inputs {
		b.push("inputs[%d]", i)
		switch {
		case p.Type == nil:
			b.errorf("input %s has no type", p.Name)
		case b.declared(p.Name):
			b.errorf("input %s is declared more than once", p.Name)
		default:
			s := b.nl.AddSignal(p.Name, ir.KindInput, *p.Type)
			b.vars[p.Name] = s.ID
			b.readonly[p.Name] = true
			b.nl.Inputs = append(b.nl.Inputs, s.ID)
		}
		b.pop()
	}
	// Output ports own their names; the variables assigned to them are
	// versioned as name_1, name_2, ...
	outSigs := make([]*ir.Signal, len(d.Outputs))
	for i, p := range d.Outputs {
		b.push("outputs[%d]", i)
		if b.declared(p.Name) {
			b.errorf("output %s is declared more than once", p.Name)
		} else {
			if p.Type == nil && b.cfg.IsFeatureEnabled(config.FeatStrictDecl) {
				b.errorf("output %s has no declared type", p.Name)
			}
			s := b.nl.AddSignal(p.Name, ir.KindWire, bits.Type{})
			if p.Type != nil { t := *p.Type; s.Declared = &t }
			outSigs[i] = s
			b.vars[p.Name] = ir.None
			b.outputs[p.Name] = true
		}
		b.pop()
	}

	b.push("body")
	b.block(d.Body)
	b.pop()

	for i, p := range d.Outputs {
		s := outSigs[i]
		if s == nil { continue }
		v := b.vars[p.Name]
		if v == ir.None {
			if s.Declared == nil {
				b.errorf("output %s is never assigned and has no declared type", p.Name)
			} else {
				if b.cfg.Warn(config.WarnUndrivenOutput) {
					b.warnings.Add(diag.New(diag.KindLowering, "output is never assigned").AtSignal(p.Name).WithFlag("undriven-output"))
				}
			}
		} else {
			b.node(ir.OpCopy, s.ID, nil, v)
		}
		b.nl.Outputs = append(b.nl.Outputs, ir.Port{Name: p.Name, Signal: s.ID})
	}
	for _, name := range b.regOrder {
		rs := b.regs[name]
		if rs.next == ir.None {
			rs.reg.D = rs.reg.Q
		} else {
			rs.reg.D = rs.next
		}
	}

	if len(b.diags) > 0 {
		b.diags.SetUnit(d.Name)
		return nil, b.diags
	}
	return b.nl, nil
}

func (b *Builder) declared(name string) bool {
	if _, ok := b.vars[name]; ok { return true }
	if _, ok := b.regs[name]; ok { return true }
	if _, ok := b.clocks[name]; ok { return true }
	if _, ok := b.mems[name]; ok { return true }
	return false
}

func (b *Builder) push(format string, args ...interface{}) {
	b.path = append(b.path, fmt.Sprintf(format, args...))
}

func (b *Builder) pop() { b.path = b.path[:len(b.path)-1] }

// where renders the description path of the construct being lowered, e.g.
// body[2].then[0].value.args[1].
func (b *Builder) where() string {
	var sb strings.Builder
	for _, p := range b.path {
		if sb.Len() > 0 && !strings.HasPrefix(p, "[") { sb.WriteByte('.') }
		sb.WriteString(p)
	}
	return sb.String()
}

func (b *Builder) errorf(format string, args ...interface{}) {
	b.diags.Add(diag.LoweringError(b.where(), format, args...))
}

// placeholder stands in for a value that failed to lower so the builder can
// keep going and report further errors.
func (b *Builder) placeholder() ir.SignalID {
	return b.nl.AddSignal("", ir.KindWire, bits.Type{}).ID
}

func (b *Builder) temp() ir.SignalID {
	s := b.nl.AddSignal("", ir.KindWire, bits.Type{})
	b.temps[s.ID] = true
	return s.ID
}

// node adds a node with a fresh output when out is None.
func (b *Builder) node(op ir.Op, out ir.SignalID, params []int, args ...ir.SignalID) *ir.Node {
	if out == ir.None { out = b.temp() }
	n := b.nl.AddNode(op, out, args...)
	n.Params = params
	n.Path = b.where()
	types := make([]bits.Type, len(args))
	for i, a := range args {
		types[i] = b.nl.Signals[a].Type
	}
	n.Shape = b.arena.Shape(op, types, params)
	return n
}

func (b *Builder) op(op ir.Op, params []int, args ...ir.SignalID) ir.SignalID {
	return b.node(op, ir.None, params, args...).Out
}

// constant returns the netlist signal carrying v, one per distinct value.
func (b *Builder) constant(v bits.Value) ir.SignalID {
	c := b.arena.Const(v)
	if s, ok := b.consts[c]; ok { return s }
	s := b.nl.AddSignal("", ir.KindConst, v.Type)
	n := b.node(ir.OpConst, s.ID, nil)
	n.Const = c
	b.consts[c] = s.ID
	return s.ID
}

// bind gives v the name of a variable version, adding a copy when v already
// carries another name.
func (b *Builder) bind(name string, v ir.SignalID, declared *bits.Type) ir.SignalID {
	if b.temps[v] && b.nl.Signals[v].Declared == nil {
		delete(b.temps, v)
		s := b.nl.Signals[v]
		b.nl.Rename(s, name)
		if declared != nil { t := *declared; s.Declared = &t }
		return v
	}
	s := b.nl.AddSignal(name, ir.KindWire, bits.Type{})
	if declared != nil { t := *declared; s.Declared = &t }
	b.node(ir.OpCopy, s.ID, nil, v)
	return s.ID
}

func (b *Builder) block(stmts []*desc.Stmt) {
	// Bindings made by let are local to the block; assignments to outer
	// variables survive it.
	shadowed := make(map[string]ir.SignalID)
	fresh := make(map[string]bool)
	for i, s := range stmts {
		b.push("[%d]", i)
		if s.Kind == desc.StmtLet {
			if prev, ok := b.vars[s.Name]; ok {
				if _, seen := shadowed[s.Name]; !seen && !fresh[s.Name] { shadowed[s.Name] = prev }
			} else {
				fresh[s.Name] = true
			}
		}
		b.stmt(s)
		b.pop()
	}
	for name, prev := range shadowed {
		b.vars[name] = prev
	}
	for name := range fresh {
		delete(b.vars, name)
	}
}

func (b *Builder) stmt(s *desc.Stmt) {
	switch s.Kind {
	case desc.StmtLet:
		if b.readonly[s.Name] || b.outputs[s.Name] || b.regs[s.Name] != nil || b.isClock(s.Name) {
			b.errorf("%s shadows a port or register", s.Name)
			return
		}
		if s.Type == nil && b.cfg.IsFeatureEnabled(config.FeatStrictDecl) {
			b.errorf("binding %s has no declared type", s.Name)
		}
		b.vars[s.Name] = b.bind(s.Name, b.exprAt("value", s.Value), s.Type)
	case desc.StmtAssign:
		_, ok := b.vars[s.Name]
		switch {
		case !ok:
			b.errorf("assignment to undeclared %s", s.Name)
		case b.readonly[s.Name]:
			b.errorf("cannot assign to input %s", s.Name)
		default:
			b.vars[s.Name] = b.bind(s.Name, b.exprAt("value", s.Value), nil)
		}
	case desc.StmtIf:
		b.ifStmt(s)
	case desc.StmtMatch:
		b.matchStmt(s)
	case desc.StmtFor:
		b.forStmt(s)
	case desc.StmtReg:
		b.regStmt(s)
	case desc.StmtNext:
		rs, ok := b.regs[s.Name]
		if !ok {
			b.errorf("next on %s, which is not a register", s.Name)
			return
		}
		if b.inFunc > 0 {
			b.errorf("functions cannot update registers")
			return
		}
		v := b.exprAt("value", s.Value)
		rs.next = b.bind(rs.reg.Name+"_next", v, nil)
	case desc.StmtMem:
		b.memStmt(s)
	case desc.StmtMemWrite:
		b.memWriteStmt(s)
	default:
		b.errorf("statement %q has no netlist equivalent", s.Kind)
	}
}

func (b *Builder) isClock(name string) bool {
	_, ok := b.clocks[name]
	return ok
}

func (b *Builder) snapshot() (map[string]ir.SignalID, map[string]ir.SignalID) {
	vars := make(map[string]ir.SignalID, len(b.vars))
	for k, v := range b.vars {
		vars[k] = v
	}
	next := make(map[string]ir.SignalID, len(b.regs))
	for k, rs := range b.regs {
		next[k] = rs.next
	}
	return vars, next
}

func (b *Builder) restore(vars, next map[string]ir.SignalID) {
	b.vars = make(map[string]ir.SignalID, len(vars))
	for k, v := range vars {
		b.vars[k] = v
	}
	for k, rs := range b.regs {
		if n, ok := next[k]; ok {
			rs.next = n
		} else {
			rs.next = ir.None
		}
	}
}

// branch is the variable and register state at the end of one arm.
type branch struct {
	vars, next map[string]ir.SignalID
}

func (b *Builder) ifStmt(s *desc.Stmt) {
	cond := b.exprAt("cond", s.Cond)
	beforeVars, beforeNext := b.snapshot()

	g := &guard{sig: cond}
	b.guards = append(b.guards, g)
	b.push("then")
	b.block(s.Then)
	b.pop()
	thenVars, thenNext := b.snapshot()
	b.guards = b.guards[:len(b.guards)-1]

	b.restore(beforeVars, beforeNext)
	ng := &guard{sig: ir.None, build: func() ir.SignalID { return b.op(ir.OpNot, nil, cond) }}
	b.guards = append(b.guards, ng)
	b.push("else")
	b.block(s.Else)
	b.pop()
	elseVars, elseNext := b.snapshot()
	b.guards = b.guards[:len(b.guards)-1]

	b.restore(beforeVars, beforeNext)
	b.merge(beforeVars, []branch{{thenVars, thenNext}, {elseVars, elseNext}}, func(name string, vs []ir.SignalID) ir.SignalID {
		return b.op(ir.OpMux, nil, cond, vs[0], vs[1])
	})
}

// merge joins the arms of a conditional: every variable or register input
// that differs between arms becomes the output of a selector built by sel.
func (b *Builder) merge(before map[string]ir.SignalID, arms []branch, sel func(name string, vs []ir.SignalID) ir.SignalID) {
	names := sortedKeys(before)
	for _, name := range names {
		vs := make([]ir.SignalID, len(arms))
		same := true
		for i, a := range arms {
			vs[i] = a.vars[name]
			if vs[i] != vs[0] { same = false }
		}
		if same {
			b.vars[name] = vs[0]
			continue
		}
		if hasNone(vs) {
			b.errorf("%s is not assigned on every path", name)
			continue
		}
		b.vars[name] = b.bind(name, sel(name, vs), nil)
	}
	for _, name := range b.regOrder {
		rs := b.regs[name]
		vs := make([]ir.SignalID, len(arms))
		same := true
		for i, a := range arms {
			n, ok := a.next[name]
			if !ok || n == ir.None { n = rs.reg.Q }
			vs[i] = n
			if vs[i] != vs[0] { same = false }
		}
		if same {
			if vs[0] != rs.reg.Q { rs.next = vs[0] }
			continue
		}
		rs.next = b.bind(rs.reg.Name+"_next", sel(name, vs), nil)
	}
}

func hasNone(vs []ir.SignalID) bool {
	for _, v := range vs {
		if v == ir.None { return true }
	}
	return false
}

func (b *Builder) matchStmt(s *desc.Stmt) {
	disc := b.exprAt("value", s.Value)
	beforeVars, beforeNext := b.snapshot()
	var keys []int
	var armIdx []int
	var arms []branch
	for i, a := range s.Arms {
		b.push("arms[%d]", i)
		ks := b.caseKeys(a.Keys)
		keys = append(keys, ks...)
		for range ks {
			armIdx = append(armIdx, i)
		}
		g := &guard{sig: ir.None, build: b.keyGuard(disc, ks)}
		b.guards = append(b.guards, g)
		b.push("body")
		b.block(a.Body)
		b.pop()
		b.guards = b.guards[:len(b.guards)-1]
		v, n := b.snapshot()
		arms = append(arms, branch{v, n})
		b.restore(beforeVars, beforeNext)
		b.pop()
	}
	allKeys := keys
	g := &guard{sig: ir.None, build: func() ir.SignalID {
		return b.op(ir.OpNot, nil, b.keyGuard(disc, allKeys)())
	}}
	b.guards = append(b.guards, g)
	b.push("else")
	b.block(s.Else)
	b.pop()
	b.guards = b.guards[:len(b.guards)-1]
	dv, dn := b.snapshot()
	b.restore(beforeVars, beforeNext)

	all := append([]branch{{dv, dn}}, arms...)
	b.merge(beforeVars, all, func(name string, vs []ir.SignalID) ir.SignalID {
		args := []ir.SignalID{disc, vs[0]}
		for _, ai := range armIdx {
			args = append(args, vs[ai+1])
		}
		return b.op(ir.OpCase, append([]int(nil), keys...), args...)
	})
}

// keyGuard returns a builder for "disc equals one of keys".
func (b *Builder) keyGuard(disc ir.SignalID, keys []int) func() ir.SignalID {
	return func() ir.SignalID {
		dt := b.nl.Signals[disc].Type
		if dt.IsZero() {
			// Comparing needs the discriminant type; a case node selecting
			// between constant one and zero avoids it.
			one, zero := b.constant(bits.FromBool(true)), b.constant(bits.FromBool(false))
			args := []ir.SignalID{disc, zero}
			for range keys {
				args = append(args, one)
			}
			return b.op(ir.OpCase, append([]int(nil), keys...), args...)
		}
		var acc ir.SignalID = ir.None
		for _, k := range keys {
			eq := b.op(ir.OpEq, nil, disc, b.constant(bits.FromInt64(dt, int64(k))))
			if acc == ir.None {
				acc = eq
			} else {
				acc = b.op(ir.OpOr, nil, acc, eq)
			}
		}
		if acc == ir.None { return b.constant(bits.FromBool(false)) }
		return acc
	}
}

var keyType = bits.Signed(bits.MaxWidth)

func (b *Builder) caseKeys(lits []string) []int {
	var out []int
	for _, l := range lits {
		v, err := bits.Parse(keyType, l)
		if err != nil {
			b.errorf("invalid case key: %v", err)
			continue
		}
		if !v.Resize(bits.Signed(64)).Resize(keyType).Equal(v) {
			b.errorf("case key %s does not fit in 64 bits", l)
			continue
		}
		out = append(out, int(v.Int64()))
	}
	return out
}

func (b *Builder) forStmt(s *desc.Stmt) {
	from, ok1 := b.constEval("from", s.From)
	to, ok2 := b.constEval("to", s.To)
	if !ok1 || !ok2 {
		b.errorf("loop over %s needs constant bounds", s.Var)
		return
	}
	if to-from > int64(b.cfg.MaxUnroll) {
		b.errorf("loop over %s runs %d iterations, more than the unroll limit of %d", s.Var, to-from, b.cfg.MaxUnroll)
		return
	}
	t := bits.Unsigned(bits.AddrWidth(int(maxInt64(abs64(from), abs64(to)) + 1)))
	if from < 0 || to < 0 { t = bits.Signed(t.Width + 1) }
	if s.Type != nil { t = *s.Type }
	if b.declared(s.Var) && (b.readonly[s.Var] || b.outputs[s.Var] || b.regs[s.Var] != nil) {
		b.errorf("loop variable %s shadows a port or register", s.Var)
		return
	}
	prev, had := b.vars[s.Var]
	for i := from; i < to; i++ {
		b.push("body<%s=%d>", s.Var, i)
		b.vars[s.Var] = b.constant(bits.FromInt64(t, i))
		b.block(s.Body)
		b.pop()
	}
	if had {
		b.vars[s.Var] = prev
	} else {
		delete(b.vars, s.Var)
	}
}

// constEval folds a loop bound. Only literals, loop variables and +, -, *
// over them are accepted.
func (b *Builder) constEval(field string, e *desc.Expr) (int64, bool) {
	if e == nil { return 0, false }
	switch e.Kind {
	case desc.ExprConst:
		t := keyType
		if e.Type != nil { t = *e.Type }
		v, err := bits.Parse(t, e.Value)
		if err != nil { return 0, false }
		return v.Int64(), true
	case desc.ExprRef:
		id, ok := b.vars[e.Name]
		if !ok || id == ir.None { return 0, false }
		n := b.nl.DriverNode(id)
		if n == nil || n.Op != ir.OpConst { return 0, false }
		return n.Const.Int64(), true
	case desc.ExprAdd, desc.ExprSub, desc.ExprMul:
		if len(e.Args) != 2 { return 0, false }
		x, ok1 := b.constEval(field, e.Args[0])
		y, ok2 := b.constEval(field, e.Args[1])
		if !ok1 || !ok2 { return 0, false }
		switch e.Kind {
		case desc.ExprAdd: return x + y, true
		case desc.ExprSub: return x - y, true
		}
		return x * y, true
	}
	return 0, false
}

func abs64(x int64) int64 {
	if x < 0 { return -x }
	return x
}

func maxInt64(a, b int64) int64 {
	if a > b { return a }
	return b
}

func (b *Builder) regStmt(s *desc.Stmt) {
	if b.inFunc > 0 {
		b.errorf("functions cannot declare registers")
		return
	}
	if s.Type == nil {
		b.errorf("register %s has no type", s.Name)
		return
	}
	if b.declared(s.Name) {
		b.errorf("register %s is declared more than once", s.Name)
		return
	}
	clk, ok := b.clocks[s.Clock]
	if !ok {
		b.errorf("register %s: unknown clock %q", s.Name, s.Clock)
		return
	}
	edge, err := ir.ParseEdge(s.Edge)
	if err != nil {
		b.errorf("register %s: %v", s.Name, err)
		return
	}
	r := b.nl.AddRegister(s.Name, *s.Type, clk, edge)
	if s.Init != "" {
		v, err := literal(*s.Type, s.Init)
		if err != nil {
			b.errorf("register %s: reset value: %v", s.Name, err)
		} else {
			r.ResetValue = b.arena.Const(v)
		}
	}
	if s.Reset != "" {
		rst := b.lookup(s.Reset)
		if rst == ir.None {
			b.errorf("register %s: unknown reset signal %q", s.Name, s.Reset)
		} else {
			r.Reset = rst
			if r.ResetValue == nil { r.ResetValue = b.arena.Const(bits.Zero(*s.Type)) }
		}
	}
	if r.ResetValue == nil && b.cfg.Warn(config.WarnResetLess) {
		b.warnings.Add(diag.New(diag.KindLowering, "register has no reset value").AtSignal(r.Name).WithFlag("reset-less"))
	}
	b.regs[s.Name] = &regState{reg: r, next: ir.None}
	b.regOrder = append(b.regOrder, s.Name)
}

func (b *Builder) memStmt(s *desc.Stmt) {
	if b.inFunc > 0 {
		b.errorf("functions cannot declare memories")
		return
	}
	switch {
	case s.Type == nil:
		b.errorf("memory %s has no word type", s.Name)
		return
	case s.Depth <= 0:
		b.errorf("memory %s has depth %d", s.Name, s.Depth)
		return
	case len(s.Contents) > s.Depth:
		b.errorf("memory %s: %d initial words for depth %d", s.Name, len(s.Contents), s.Depth)
		return
	case b.declared(s.Name):
		b.errorf("memory %s is declared more than once", s.Name)
		return
	}
	m := b.nl.AddMemory(s.Name, *s.Type, s.Depth)
	for i, lit := range s.Contents {
		v, err := literal(*s.Type, lit)
		if err != nil {
			b.errorf("memory %s word %d: %v", s.Name, i, err)
			continue
		}
		m.Init = append(m.Init, v)
	}
	b.mems[s.Name] = m
}

func (b *Builder) memWriteStmt(s *desc.Stmt) {
	if b.inFunc > 0 {
		b.errorf("functions cannot write memories")
		return
	}
	m, ok := b.mems[s.Name]
	if !ok {
		b.errorf("write to unknown memory %q", s.Name)
		return
	}
	clk, ok := b.clocks[s.Clock]
	if !ok {
		b.errorf("memory %s: unknown clock %q", s.Name, s.Clock)
		return
	}
	edge, err := ir.ParseEdge(s.Edge)
	if err != nil {
		b.errorf("memory %s: %v", s.Name, err)
		return
	}
	addr := b.exprAt("addr", s.Addr)
	data := b.exprAt("value", s.Value)
	var en ir.SignalID = ir.None
	for _, g := range b.guards {
		c := g.signal()
		if en == ir.None {
			en = c
		} else {
			en = b.op(ir.OpAnd, nil, en, c)
		}
	}
	if en == ir.None { en = b.constant(bits.FromBool(true)) }
	m.Writes = append(m.Writes, ir.WritePort{Clock: clk, Edge: edge, Addr: addr, Data: data, Enable: en, Domain: ir.None})
}

// lookup resolves a name to the signal currently carrying it.
func (b *Builder) lookup(name string) ir.SignalID {
	if v, ok := b.vars[name]; ok {
		if v == ir.None {
			b.errorf("%s is read before it is assigned", name)
			return b.placeholder()
		}
		return v
	}
	if rs, ok := b.regs[name]; ok { return rs.reg.Q }
	if c, ok := b.clocks[name]; ok { return c }
	return ir.None
}
