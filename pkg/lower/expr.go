package lower

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/ir"
)

var binaryOps = map[desc.ExprKind]ir.Op{
	desc.ExprAdd: ir.OpAdd, desc.ExprSub: ir.OpSub, desc.ExprMul: ir.OpMul,
	desc.ExprAnd: ir.OpAnd, desc.ExprOr: ir.OpOr, desc.ExprXor: ir.OpXor,
	desc.ExprShl: ir.OpShl, desc.ExprShr: ir.OpShr,
	desc.ExprEq: ir.OpEq, desc.ExprNe: ir.OpNe, desc.ExprLt: ir.OpLt,
	desc.ExprLe: ir.OpLe, desc.ExprGt: ir.OpGt, desc.ExprGe: ir.OpGe,
}

var unaryOps = map[desc.ExprKind]ir.Op{
	desc.ExprNot: ir.OpNot, desc.ExprNeg: ir.OpNeg,
	desc.ExprAll: ir.OpAll, desc.ExprAny: ir.OpAny, desc.ExprParity: ir.OpParity,
}

func (b *Builder) exprAt(field string, e *desc.Expr) ir.SignalID {
	b.push("%s", field)
	defer b.pop()
	return b.expr(e)
}

// literal parses s as a value of type t, rejecting literals that t cannot
// hold instead of wrapping them.
func literal(t bits.Type, s string) (bits.Value, error) {
	if !t.Valid() { return bits.Parse(t, s) }
	wide := bits.Type{Width: bits.MaxWidth, Signed: t.Signed}
	w, err := bits.Parse(wide, s)
	if err != nil {
		return bits.Value{}, err
	}
	v := w.Resize(t)
	if !v.Resize(wide).Equal(w) {
		return bits.Value{}, fmt.Errorf("literal %s does not fit %s", strings.TrimSpace(s), t)
	}
	return v, nil
}

func (b *Builder) argAt(e *desc.Expr, i int) ir.SignalID {
	b.push("args[%d]", i)
	defer b.pop()
	return b.expr(e.Args[i])
}

func (b *Builder) wantArgs(e *desc.Expr, n int) bool {
	if len(e.Args) != n {
		b.errorf("%s takes %d operands, got %d", e.Kind, n, len(e.Args))
		return false
	}
	return true
}

func (b *Builder) expr(e *desc.Expr) ir.SignalID {
	if e == nil {
		b.errorf("missing expression")
		return b.placeholder()
	}
	if op, ok := binaryOps[e.Kind]; ok {
		if !b.wantArgs(e, 2) { return b.placeholder() }
		x, y := b.argAt(e, 0), b.argAt(e, 1)
		return b.op(op, nil, x, y)
	}
	if op, ok := unaryOps[e.Kind]; ok {
		if !b.wantArgs(e, 1) { return b.placeholder() }
		return b.op(op, nil, b.argAt(e, 0))
	}

	switch e.Kind {
	case desc.ExprConst:
		if e.Type == nil {
			b.errorf("constant %q has no type", e.Value)
			return b.placeholder()
		}
		v, err := literal(*e.Type, e.Value)
		if err != nil {
			b.errorf("%v", err)
			return b.placeholder()
		}
		return b.constant(v)

	case desc.ExprRef:
		s := b.lookup(e.Name)
		if s == ir.None {
			b.errorf("undefined name %s", e.Name)
			return b.placeholder()
		}
		return s

	case desc.ExprIf:
		if !b.wantArgs(e, 2) { return b.placeholder() }
		sel := b.exprAt("cond", e.Cond)
		x, y := b.argAt(e, 0), b.argAt(e, 1)
		return b.op(ir.OpMux, nil, sel, x, y)

	case desc.ExprMatch:
		if !b.wantArgs(e, 1) { return b.placeholder() }
		disc := b.argAt(e, 0)
		if e.Default == nil {
			b.errorf("match expression needs a default arm")
			return b.placeholder()
		}
		args := []ir.SignalID{disc, b.exprAt("default", e.Default)}
		var keys []int
		for i, a := range e.Arms {
			b.push("arms[%d]", i)
			ks := b.caseKeys(a.Keys)
			v := b.exprAt("value", a.Value)
			for _, k := range ks {
				keys = append(keys, k)
				args = append(args, v)
			}
			b.pop()
		}
		return b.op(ir.OpCase, keys, args...)

	case desc.ExprSlice:
		if !b.wantArgs(e, 1) { return b.placeholder() }
		if e.Lo < 0 || e.Hi <= e.Lo {
			b.errorf("empty slice [%d, %d)", e.Lo, e.Hi)
			return b.placeholder()
		}
		return b.op(ir.OpSlice, []int{e.Lo, e.Hi}, b.argAt(e, 0))

	case desc.ExprDynSlice:
		if !b.wantArgs(e, 2) { return b.placeholder() }
		if e.Len <= 0 {
			b.errorf("dynamic slice of length %d", e.Len)
			return b.placeholder()
		}
		x, off := b.argAt(e, 0), b.argAt(e, 1)
		return b.op(ir.OpDynSlice, []int{e.Len}, x, off)

	case desc.ExprConcat:
		if len(e.Args) == 0 {
			b.errorf("empty concatenation")
			return b.placeholder()
		}
		args := make([]ir.SignalID, len(e.Args))
		for i := range e.Args {
			args[i] = b.argAt(e, i)
		}
		if len(args) == 1 { return args[0] }
		return b.op(ir.OpConcat, nil, args...)

	case desc.ExprSplice:
		if !b.wantArgs(e, 2) { return b.placeholder() }
		orig, v := b.argAt(e, 0), b.argAt(e, 1)
		return b.op(ir.OpSplice, []int{e.Lo}, orig, v)

	case desc.ExprResize:
		if !b.wantArgs(e, 1) { return b.placeholder() }
		if e.Type == nil {
			b.errorf("resize has no target type")
			return b.placeholder()
		}
		signed := 0
		if e.Type.Signed { signed = 1 }
		return b.op(ir.OpResize, []int{e.Type.Width, signed}, b.argAt(e, 0))

	case desc.ExprMemRead:
		if !b.wantArgs(e, 1) { return b.placeholder() }
		m, ok := b.mems[e.Name]
		if !ok {
			b.errorf("read from unknown memory %q", e.Name)
			return b.placeholder()
		}
		n := b.node(ir.OpMemRead, ir.None, nil, b.argAt(e, 0))
		n.Mem = m.ID
		return n.Out

	case desc.ExprSync:
		if !b.wantArgs(e, 1) { return b.placeholder() }
		clk, ok := b.clocks[e.Clock]
		if !ok {
			b.errorf("sync into unknown clock %q", e.Clock)
			return b.placeholder()
		}
		edge, err := ir.ParseEdge(e.Edge)
		if err != nil {
			b.errorf("%v", err)
			return b.placeholder()
		}
		n := b.node(ir.OpSync, ir.None, nil, b.argAt(e, 0))
		n.Clock, n.Edge = clk, edge
		return n.Out

	case desc.ExprCall:
		return b.call(e)

	case desc.ExprVec:
		b.errorf("dynamically sized collection has no netlist equivalent")
		return b.placeholder()
	}

	b.errorf("expression %q has no netlist equivalent", e.Kind)
	return b.placeholder()
}

// call inlines a user function. Each call site gets its own copy of the
// function body.
func (b *Builder) call(e *desc.Expr) ir.SignalID {
	f, ok := b.funcs[e.Name]
	if !ok {
		b.errorf("call to undefined function %s", e.Name)
		return b.placeholder()
	}
	for _, c := range b.calls {
		if c == f.Name {
			b.errorf("unbounded recursion: %s calls itself", f.Name)
			return b.placeholder()
		}
	}
	if len(e.Args) != len(f.Params) {
		b.errorf("%s takes %d arguments, got %d", f.Name, len(f.Params), len(e.Args))
		return b.placeholder()
	}
	args := make([]ir.SignalID, len(e.Args))
	for i := range e.Args {
		args[i] = b.argAt(e, i)
	}

	saved := b.vars
	savedGuards := b.guards
	b.vars = make(map[string]ir.SignalID, len(f.Params))
	b.guards = nil
	b.calls = append(b.calls, f.Name)
	b.inFunc++
	b.push("%s()", f.Name)
	defer func() {
		b.pop()
		b.inFunc--
		b.calls = b.calls[:len(b.calls)-1]
		b.vars = saved
		b.guards = savedGuards
	}()

	for i, p := range f.Params {
		v := args[i]
		if p.Type != nil { v = b.bind(f.Name+"_"+p.Name, v, p.Type) }
		b.vars[p.Name] = v
	}
	b.push("body")
	b.block(f.Body)
	b.pop()
	if f.Result == nil {
		b.errorf("function %s has no result", f.Name)
		return b.placeholder()
	}
	return b.exprAt("result", f.Result)
}

func sortedKeys(m map[string]ir.SignalID) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
