package schedule_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/compiler"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/lower"
	"github.com/xplshn/rtlc/pkg/schedule"
)

var u4 = bits.Unsigned(4)

// pipeline has a register fed by a chain of logic and an output cone that
// no register reads.
func pipeline() *desc.Design {
	return &desc.Design{
		Name:    "pipe",
		Clocks:  []string{"clk"},
		Inputs:  []desc.Port{desc.In("a", u4), desc.In("b", u4), desc.In("rst", bits.Bool)},
		Outputs: []desc.Port{desc.Out("q"), desc.Out("n")},
		Body: []*desc.Stmt{
			{Kind: desc.StmtReg, Name: "r", Type: &u4, Clock: "clk", Reset: "rst"},
			desc.Let("s", desc.Op(desc.ExprXor, desc.Ref("a"), desc.Ref("b"))),
			desc.Next("r", desc.Op(desc.ExprAnd, desc.Ref("s"), desc.Ref("r"))),
			desc.Assign("q", desc.Ref("r")),
			desc.Assign("n", desc.Op(desc.ExprNot, desc.Ref("a"))),
		},
	}
}

func build(t *testing.T, d *desc.Design) *schedule.Schedule {
	t.Helper()
	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatOpt, false)
	res, err := compiler.NewSession(cfg).Compile(d)
	if err != nil {
		t.Fatalf("compile %s: %v", d.Name, err)
	}
	return res.Schedule
}

func TestOrderRespectsDependencies(t *testing.T) {
	s := build(t, pipeline())
	nl := s.Netlist
	if len(s.Order) != len(nl.Nodes) {
		t.Fatalf("order has %d of %d nodes", len(s.Order), len(nl.Nodes))
	}
	pos := make(map[ir.NodeID]int)
	for i, id := range s.Order {
		pos[id] = i
	}
	for _, id := range s.Order {
		for _, a := range nl.Nodes[id].Args {
			if d := nl.DriverNode(a); d != nil && pos[d.ID] >= pos[id] {
				t.Errorf("%s is scheduled before its operand %s", nl.NodeName(id), nl.NodeName(d.ID))
			}
		}
	}

	again := build(t, pipeline())
	if diff := cmp.Diff(s.Dump(), again.Dump()); diff != "" {
		t.Errorf("schedule differs between compilations (-first +second):\n%s", diff)
	}
}

func TestGroups(t *testing.T) {
	s := build(t, pipeline())
	nl := s.Netlist
	g, err := s.Group("clk_pos")
	if err != nil {
		t.Fatal(err)
	}
	if len(g.Registers) != 1 || nl.Registers[g.Registers[0]].Name != "r" {
		t.Errorf("group registers = %v", g.Registers)
	}
	var ops []string
	for _, id := range g.Cone {
		ops = append(ops, nl.Nodes[id].Op.String())
	}
	// s = a ^ b, r_next = s & r, plus the copies naming them
	for _, op := range ops {
		if op == "not" { t.Errorf("cone %v includes the output-only inverter", ops) }
	}
	if !strings.Contains(strings.Join(ops, " "), "xor") || !strings.Contains(strings.Join(ops, " "), "and") {
		t.Errorf("cone %v misses the register's input logic", ops)
	}

	if _, err := s.Group("clk_neg"); err == nil {
		t.Error("Group found a domain with no elements")
	}
}

func TestDump(t *testing.T) {
	out := build(t, pipeline()).Dump()
	for _, want := range []string{
		"schedule pipe\n",
		"domain clk_pos (pos clk)\n",
		"  reg r <= r_next\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump lacks %q:\n%s", want, out)
		}
	}
}

func TestUncheckedNetlistIsRejected(t *testing.T) {
	nl, err := lower.NewBuilder(nil, nil).Lower(pipeline())
	if err != nil {
		t.Fatal(err)
	}
	_, err = schedule.Build(nl)
	if !diag.Is(err, diag.KindScheduling) {
		t.Fatalf("got %v, want scheduling errors", err)
	}
	var regs int
	for _, d := range diag.Collect(err) {
		if d.Message == "register has no clock domain" { regs++ }
	}
	if regs != 1 {
		t.Errorf("got %v, want the unassigned register reported", err)
	}
}
