package lower_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/lower"
)

var u4 = bits.Unsigned(4)

func lowerOK(t *testing.T, d *desc.Design) *ir.Netlist {
	t.Helper()
	nl, err := lower.NewBuilder(nil, nil).Lower(d)
	if err != nil {
		t.Fatalf("lower %s: %v", d.Name, err)
	}
	return nl
}

func lowerErr(t *testing.T, cfg *config.Config, d *desc.Design) diag.List {
	t.Helper()
	_, err := lower.NewBuilder(cfg, nil).Lower(d)
	if err == nil {
		t.Fatalf("lower %s succeeded", d.Name)
	}
	l := diag.Collect(err)
	if len(l) == 0 {
		t.Fatalf("error is not a diagnostic list: %v", err)
	}
	return l
}

func signal(t *testing.T, nl *ir.Netlist, name string) *ir.Signal {
	t.Helper()
	s, ok := nl.Lookup(name)
	if !ok {
		var names []string
		for _, s := range nl.Signals {
			names = append(names, s.Name)
		}
		t.Fatalf("no signal %s in %v", name, names)
	}
	return s
}

func driver(t *testing.T, nl *ir.Netlist, name string) *ir.Node {
	t.Helper()
	n := nl.DriverNode(signal(t, nl, name).ID)
	if n == nil {
		t.Fatalf("%s has no driving node", name)
	}
	return n
}

func TestVersioning(t *testing.T) {
	nl := lowerOK(t, &desc.Design{
		Name:    "v",
		Inputs:  []desc.Port{desc.In("a", u4), desc.In("b", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			desc.Let("t", desc.Ref("a")),
			desc.Assign("t", desc.Op(desc.ExprXor, desc.Ref("t"), desc.Ref("b"))),
			desc.Assign("y", desc.Ref("t")),
		},
	})

	if n := driver(t, nl, "t"); n.Op != ir.OpCopy || n.Args[0] != signal(t, nl, "a").ID {
		t.Errorf("t is driven by %s, want a copy of a", nl.NodeName(n.ID))
	}
	if n := driver(t, nl, "t_1"); n.Op != ir.OpXor || n.Args[0] != signal(t, nl, "t").ID {
		t.Errorf("t_1 is driven by %s, want t ^ b", nl.NodeName(n.ID))
	}
	if n := driver(t, nl, "y"); n.Op != ir.OpCopy || n.Args[0] != signal(t, nl, "y_1").ID {
		t.Errorf("port y is driven by %s, want a copy of y_1", nl.NodeName(n.ID))
	}
	if got := nl.Outputs; len(got) != 1 || got[0].Name != "y" || got[0].Signal != signal(t, nl, "y").ID {
		t.Errorf("outputs = %+v", got)
	}
}

func TestIfBecomesMux(t *testing.T) {
	nl := lowerOK(t, &desc.Design{
		Name:    "mux",
		Inputs:  []desc.Port{desc.In("c", bits.Bool), desc.In("a", u4), desc.In("b", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			desc.Let("v", desc.Ref("a")),
			desc.IfStmt(desc.Ref("c"), []*desc.Stmt{desc.Assign("v", desc.Ref("b"))}, nil),
			desc.Assign("y", desc.Ref("v")),
		},
	})
	n := driver(t, nl, "v_2")
	if n.Op != ir.OpMux {
		t.Fatalf("v_2 is driven by %s, want a mux", nl.NodeName(n.ID))
	}
	want := []ir.SignalID{signal(t, nl, "c").ID, signal(t, nl, "v_1").ID, signal(t, nl, "v").ID}
	if diff := cmp.Diff(want, n.Args); diff != "" {
		t.Errorf("mux operands (-want +got):\n%s", diff)
	}
}

func TestMatchBecomesCase(t *testing.T) {
	nl := lowerOK(t, &desc.Design{
		Name:    "sel",
		Inputs:  []desc.Port{desc.In("s", bits.Unsigned(2)), desc.In("a", u4), desc.In("b", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			desc.Let("v", desc.Ref("b")),
			{Kind: desc.StmtMatch, Value: desc.Ref("s"), Arms: []*desc.Arm{
				{Keys: []string{"0", "2"}, Body: []*desc.Stmt{desc.Assign("v", desc.Ref("a"))}},
			}},
			desc.Assign("y", desc.Ref("v")),
		},
	})
	n := driver(t, nl, "v_2")
	if n.Op != ir.OpCase {
		t.Fatalf("v_2 is driven by %s, want a case", nl.NodeName(n.ID))
	}
	if diff := cmp.Diff([]int{0, 2}, n.Params); diff != "" {
		t.Errorf("case keys (-want +got):\n%s", diff)
	}
	// discriminant, default, then one operand per key
	if len(n.Args) != 4 || n.Args[1] != signal(t, nl, "v").ID || n.Args[2] != n.Args[3] {
		t.Errorf("case operands = %v", n.Args)
	}
}

func TestNotAssignedOnEveryPath(t *testing.T) {
	l := lowerErr(t, nil, &desc.Design{
		Name:    "partial",
		Inputs:  []desc.Port{desc.In("c", bits.Bool), desc.In("a", u4)},
		Outputs: []desc.Port{{Name: "y", Type: &u4}},
		Body: []*desc.Stmt{
			desc.IfStmt(desc.Ref("c"), []*desc.Stmt{desc.Assign("y", desc.Ref("a"))}, nil),
		},
	})
	if len(l) != 1 || !strings.Contains(l[0].Message, "y is not assigned on every path") {
		t.Fatalf("got %v", l)
	}
	if l[0].Node != "body[0]" || l[0].Unit != "partial" {
		t.Errorf("located at %q in %q, want body[0] in partial", l[0].Node, l[0].Unit)
	}
}

func TestErrorsCarryPaths(t *testing.T) {
	l := lowerErr(t, nil, &desc.Design{
		Name:    "broken",
		Inputs:  []desc.Port{desc.In("a", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			desc.Assign("y", desc.Op(desc.ExprAdd, desc.Ref("a"), desc.Ref("nope"))),
			desc.Assign("a", desc.Ref("y")),
			desc.Next("a", desc.Ref("y")),
		},
	})
	var got []string
	for _, d := range l {
		if d.Kind != diag.KindLowering { t.Errorf("%v is not a lowering error", d) }
		got = append(got, d.Node+": "+d.Message)
	}
	want := []string{
		"body[0].value.args[1]: undefined name nope",
		"body[1]: cannot assign to input a",
		"body[2]: next on a, which is not a register",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diagnostics (-want +got):\n%s", diff)
	}
}

func TestLetIsBlockScoped(t *testing.T) {
	l := lowerErr(t, nil, &desc.Design{
		Name:    "scope",
		Inputs:  []desc.Port{desc.In("c", bits.Bool), desc.In("a", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			desc.IfStmt(desc.Ref("c"), []*desc.Stmt{desc.Let("tmp", desc.Ref("a"))}, nil),
			desc.Assign("y", desc.Ref("tmp")),
		},
	})
	if len(l) != 1 || l[0].Message != "undefined name tmp" {
		t.Errorf("got %v", l)
	}
}

func loop(from, to string, body ...*desc.Stmt) *desc.Stmt {
	return &desc.Stmt{Kind: desc.StmtFor, Var: "i", From: desc.Const(bits.U8, from), To: desc.Const(bits.U8, to), Body: body}
}

func TestLoopUnrolls(t *testing.T) {
	d := &desc.Design{
		Name:    "unroll",
		Inputs:  []desc.Port{desc.In("x", bits.Unsigned(2))},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			desc.Let("s", desc.Ref("x")),
			loop("0", "3", desc.Assign("s", desc.Op(desc.ExprXor, desc.Ref("s"), desc.Ref("i")))),
			desc.Assign("y", desc.Ref("s")),
		},
	}
	nl := lowerOK(t, d)
	var xors []int64
	for _, n := range nl.Nodes {
		if n.Op != ir.OpXor { continue }
		c := nl.DriverNode(n.Args[1])
		if c == nil || c.Op != ir.OpConst {
			t.Fatalf("%s does not read a constant loop index", nl.NodeName(n.ID))
		}
		xors = append(xors, c.Const.Int64())
	}
	if diff := cmp.Diff([]int64{0, 1, 2}, xors); diff != "" {
		t.Errorf("unrolled indices (-want +got):\n%s", diff)
	}
	if _, ok := nl.Lookup("i"); ok {
		t.Error("loop variable leaked into the netlist")
	}

	cfg := config.NewConfig()
	cfg.MaxUnroll = 2
	l := lowerErr(t, cfg, d)
	if len(l) != 1 || !strings.Contains(l[0].Message, "unroll limit of 2") {
		t.Errorf("got %v", l)
	}

	d.Body[1] = &desc.Stmt{Kind: desc.StmtFor, Var: "i", From: desc.Const(bits.U8, "0"), To: desc.Ref("x")}
	l = lowerErr(t, nil, d)
	if len(l) != 1 || !strings.Contains(l[0].Message, "needs constant bounds") {
		t.Errorf("got %v", l)
	}
}

func TestFunctionsInlinePerCall(t *testing.T) {
	inc := &desc.Func{
		Name:   "inc",
		Params: []desc.Port{{Name: "v"}},
		Result: desc.Op(desc.ExprAdd, desc.Ref("v"), desc.Const(u4, "1")),
	}
	nl := lowerOK(t, &desc.Design{
		Name:    "calls",
		Inputs:  []desc.Port{desc.In("a", u4), desc.In("b", u4)},
		Outputs: []desc.Port{desc.Out("x"), desc.Out("y")},
		Funcs:   []*desc.Func{inc},
		Body: []*desc.Stmt{
			desc.Assign("x", desc.Call("inc", desc.Ref("a"))),
			desc.Assign("y", desc.Call("inc", desc.Ref("b"))),
		},
	})
	adds := 0
	for _, n := range nl.Nodes {
		if n.Op == ir.OpAdd {
			adds++
			if !strings.Contains(n.Path, "inc()") { t.Errorf("inlined node has path %q", n.Path) }
		}
	}
	if adds != 2 {
		t.Errorf("got %d adders, want one per call", adds)
	}

	self := &desc.Func{Name: "f", Params: []desc.Port{{Name: "v"}}, Result: desc.Call("f", desc.Ref("v"))}
	l := lowerErr(t, nil, &desc.Design{
		Name:    "recursive",
		Inputs:  []desc.Port{desc.In("a", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Funcs:   []*desc.Func{self},
		Body:    []*desc.Stmt{desc.Assign("y", desc.Call("f", desc.Ref("a")))},
	})
	if len(l) != 1 || !strings.Contains(l[0].Message, "unbounded recursion") {
		t.Errorf("got %v", l)
	}
}

func TestRegisters(t *testing.T) {
	hold := desc.Reg("hold", u4, "clk")
	cnt := desc.Reg("cnt", u4, "clk")
	cnt.Reset = "rst"
	nl := lowerOK(t, &desc.Design{
		Name:    "regs",
		Clocks:  []string{"clk"},
		Inputs:  []desc.Port{desc.In("rst", bits.Bool)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			hold, cnt,
			desc.Next("cnt", desc.Resize(desc.Op(desc.ExprAdd, desc.Ref("cnt"), desc.Const(u4, "1")), u4)),
			desc.Assign("y", desc.Op(desc.ExprXor, desc.Ref("hold"), desc.Ref("cnt"))),
		},
	})
	h, _ := nl.Register("hold")
	if h.D != h.Q {
		t.Errorf("register without next: D=%s, want its own output", nl.SignalName(h.D))
	}
	if h.ResetValue != nil {
		t.Errorf("hold has reset value %s", h.ResetValue)
	}
	c, _ := nl.Register("cnt")
	if nl.SignalName(c.D) != "cnt_next" {
		t.Errorf("cnt.D = %s, want cnt_next", nl.SignalName(c.D))
	}
	if c.Reset != signal(t, nl, "rst").ID || c.ResetValue == nil || !c.ResetValue.IsZero() {
		t.Errorf("cnt reset = %s / %v, want rst / 0", nl.SignalName(c.Reset), c.ResetValue)
	}
	if nl.Signals[c.Q].Kind != ir.KindRegOut || nl.SignalName(c.Q) != "cnt" {
		t.Errorf("cnt output signal is %s (%s)", nl.SignalName(c.Q), nl.Signals[c.Q].Kind)
	}
}

func TestMemoryWriteEnable(t *testing.T) {
	mem := &desc.Stmt{Kind: desc.StmtMem, Name: "m", Type: &bits.U8, Depth: 4, Contents: []string{"1", "2"}}
	write := &desc.Stmt{Kind: desc.StmtMemWrite, Name: "m", Clock: "clk", Addr: desc.Ref("a"), Value: desc.Ref("d")}
	read := &desc.Expr{Kind: desc.ExprMemRead, Name: "m", Args: []*desc.Expr{desc.Ref("a")}}
	d := &desc.Design{
		Name:    "ram",
		Clocks:  []string{"clk"},
		Inputs:  []desc.Port{desc.In("we", bits.Bool), desc.In("a", bits.Unsigned(2)), desc.In("d", bits.U8)},
		Outputs: []desc.Port{desc.Out("q")},
		Body: []*desc.Stmt{
			mem,
			desc.IfStmt(desc.Ref("we"), []*desc.Stmt{write}, nil),
			desc.Assign("q", read),
		},
	}
	nl := lowerOK(t, d)
	m, _ := nl.Memory("m")
	if len(m.Init) != 2 || m.Init[1].Uint64() != 2 {
		t.Errorf("memory contents = %v", m.Init)
	}
	if len(m.Writes) != 1 || m.Writes[0].Enable != signal(t, nl, "we").ID {
		t.Fatalf("write ports = %+v, want one enabled by we", m.Writes)
	}

	d.Body[1] = write
	nl = lowerOK(t, d)
	m, _ = nl.Memory("m")
	en := nl.DriverNode(m.Writes[0].Enable)
	if en == nil || en.Op != ir.OpConst || !en.Const.Bool() {
		t.Errorf("unguarded write is not always enabled")
	}
}

func TestStrictDeclarations(t *testing.T) {
	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatStrictDecl, true)
	l := lowerErr(t, cfg, &desc.Design{
		Name:    "strict",
		Inputs:  []desc.Port{desc.In("a", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body:    []*desc.Stmt{desc.Let("t", desc.Ref("a")), desc.Assign("y", desc.Ref("t"))},
	})
	if len(l) != 2 {
		t.Errorf("got %v, want the untyped output and binding", l)
	}
}

func TestLiteralsMustFit(t *testing.T) {
	r := desc.Reg("r", u4, "clk")
	r.Init = "16"
	l := lowerErr(t, nil, &desc.Design{
		Name:    "wide",
		Clocks:  []string{"clk"},
		Outputs: []desc.Port{desc.Out("y"), desc.Out("z")},
		Body: []*desc.Stmt{
			r,
			{Kind: desc.StmtMem, Name: "m", Type: &u4, Depth: 2, Contents: []string{"15", "-1"}},
			desc.Assign("y", desc.Const(u4, "20")),
			desc.Assign("z", desc.Const(bits.Signed(4), "-8")),
		},
	})
	var got []string
	for _, d := range l {
		got = append(got, d.Node+": "+d.Message)
	}
	want := []string{
		"body[0]: register r: reset value: literal 16 does not fit u4",
		"body[1]: memory m word 1: literal -1 does not fit u4",
		"body[2].value: literal 20 does not fit u4",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("diagnostics (-want +got):\n%s", diff)
	}

	for _, tc := range []struct {
		t   bits.Type
		lit string
	}{
		{u4, "15"}, {u4, "0xf"}, {bits.Signed(4), "7"}, {bits.Signed(4), "-8"},
	} {
		nl := lowerOK(t, &desc.Design{
			Name:    "fits",
			Outputs: []desc.Port{desc.Out("y")},
			Body:    []*desc.Stmt{desc.Assign("y", desc.Const(tc.t, tc.lit))},
		})
		want, _ := bits.Parse(tc.t, tc.lit)
		found := false
		for _, n := range nl.Nodes {
			if n.Op == ir.OpConst && n.Const.Equal(want) { found = true }
		}
		if !found {
			t.Errorf("%s %s did not lower to a constant %s", tc.t, tc.lit, want)
		}
	}
}
