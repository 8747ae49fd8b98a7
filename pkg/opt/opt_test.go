package opt_test

import (
	"testing"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/compiler"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/opt"
	"github.com/xplshn/rtlc/pkg/verify"
)

var u4 = bits.Unsigned(4)

func checked(t *testing.T, d *desc.Design) *ir.Netlist {
	t.Helper()
	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatOpt, false)
	res, err := compiler.NewSession(cfg).Compile(d)
	if err != nil {
		t.Fatalf("compile %s: %v", d.Name, err)
	}
	return res.Checked
}

func count(nl *ir.Netlist, op ir.Op) int {
	n := 0
	for _, node := range nl.Nodes {
		if node.Op == op { n++ }
	}
	return n
}

func design(body ...*desc.Stmt) *desc.Design {
	return &desc.Design{
		Name:    "opt",
		Clocks:  []string{"clk"},
		Inputs:  []desc.Port{desc.In("a", u4), desc.In("b", u4), desc.In("c", bits.Bool)},
		Outputs: []desc.Port{desc.Out("y")},
		Body:    body,
	}
}

// equivalent runs the SAT check between the input and output of a pass.
func equivalent(t *testing.T, before, after *ir.Netlist) {
	t.Helper()
	cex, err := verify.Equivalent(before, after)
	if err != nil {
		t.Fatal(err)
	}
	if cex != nil {
		t.Errorf("optimized netlist is not equivalent: %s", cex)
	}
}

func TestFoldConstants(t *testing.T) {
	nl := checked(t, design(
		desc.Assign("y", desc.Op(desc.ExprXor, desc.Ref("a"),
			desc.Resize(desc.Op(desc.ExprAdd, desc.Const(u4, "2"), desc.Const(u4, "3")), u4))),
	))
	out, stats := opt.Run(nl)
	if stats.Folded == 0 {
		t.Errorf("nothing folded: %+v", stats)
	}
	if count(out, ir.OpAdd) != 0 {
		t.Error("constant sum survived")
	}
	var five bool
	for _, n := range out.Nodes {
		if n.Op == ir.OpConst && n.Const.Uint64() == 5 { five = true }
	}
	if !five {
		t.Error("folded constant 5 is missing")
	}
	if count(nl, ir.OpAdd) != 1 {
		t.Error("Run modified its input")
	}
	equivalent(t, nl, out)
}

func TestFixedMultiplexers(t *testing.T) {
	nl := checked(t, design(
		desc.Let("m", desc.If(desc.Const(bits.Bool, "1"), desc.Ref("a"), desc.Ref("b"))),
		desc.Assign("y", desc.If(desc.Ref("c"), desc.Ref("m"), desc.Ref("m"))),
	))
	out, stats := opt.Run(nl)
	if stats.Muxes != 2 {
		t.Errorf("simplified %d multiplexers, want 2", stats.Muxes)
	}
	if count(out, ir.OpMux) != 0 {
		t.Error("a multiplexer survived")
	}
	y, _ := out.Output("y")
	d := out.DriverNode(y)
	if d == nil || d.Op != ir.OpCopy || out.SignalName(d.Args[0]) != "a" {
		t.Errorf("y is not a copy of a after optimization")
	}
	equivalent(t, nl, out)
}

func TestDeadLogicIsRemoved(t *testing.T) {
	r := desc.Reg("r", u4, "clk")
	nl := checked(t, design(
		r,
		desc.Let("unused", desc.Op(desc.ExprNot, desc.Ref("b"))),
		desc.Next("r", desc.Op(desc.ExprAnd, desc.Ref("a"), desc.Ref("b"))),
		desc.Assign("y", desc.Ref("r")),
	))
	out, stats := opt.Run(nl)
	if stats.Removed == 0 || count(out, ir.OpNot) != 0 {
		t.Errorf("unread inverter kept: %+v", stats)
	}
	if count(out, ir.OpAnd) != 1 {
		t.Error("register input logic was removed")
	}
	if _, ok := out.Lookup("unused"); ok {
		t.Error("signal of removed logic survived")
	}
	equivalent(t, nl, out)
}

func TestNothingToDo(t *testing.T) {
	nl := checked(t, design(desc.Assign("y", desc.Op(desc.ExprXor, desc.Ref("a"), desc.Ref("b")))))
	out, stats := opt.Run(nl)
	// the xor result still reaches y through its versioned copy
	if stats.Folded+stats.Muxes+stats.Removed != 0 {
		t.Errorf("unexpected rewrites: %+v", stats)
	}
	if len(out.Nodes) != len(nl.Nodes) {
		t.Errorf("%d nodes became %d", len(nl.Nodes), len(out.Nodes))
	}
	equivalent(t, nl, out)
}
