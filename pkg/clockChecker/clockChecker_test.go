package clockChecker_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/clockChecker"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/lower"
)

var u4 = bits.Unsigned(4)

func lowered(t *testing.T, d *desc.Design) *ir.Netlist {
	t.Helper()
	nl, err := lower.NewBuilder(nil, nil).Lower(d)
	if err != nil {
		t.Fatalf("lower %s: %v", d.Name, err)
	}
	return nl
}

func messages(l diag.List) []string {
	var out []string
	for _, d := range l {
		out = append(out, d.Error())
	}
	return out
}

func TestCombinationalLoop(t *testing.T) {
	nl := ir.New("loop", ir.NewArena())
	a := nl.AddSignal("a", ir.KindInput, bits.Bool)
	nl.Inputs = append(nl.Inputs, a.ID)
	x := nl.AddSignal("x", ir.KindWire, bits.Type{})
	y := nl.AddSignal("y", ir.KindWire, bits.Type{})
	nl.AddNode(ir.OpAnd, x.ID, a.ID, y.ID)
	nl.AddNode(ir.OpNot, y.ID, x.ID)
	nl.Outputs = append(nl.Outputs, ir.Port{Name: "y", Signal: y.ID})

	errs := clockChecker.NewChecker(nil).Check(nl)
	loops := errs.Of(diag.KindCombinationalLoop)
	if len(loops) != 1 {
		t.Fatalf("got %v, want one loop", errs)
	}
	if diff := cmp.Diff([]string{"n0 (and -> x)", "n1 (not -> y)"}, loops[0].Cycle); diff != "" {
		t.Errorf("cycle (-want +got):\n%s", diff)
	}
	if want := "combinational cycle n0 (and -> x) -> n1 (not -> y) -> n0 (and -> x)"; loops[0].Message != want {
		t.Errorf("message = %q, want %q", loops[0].Message, want)
	}
}

func TestLoopThroughRegisterIsFine(t *testing.T) {
	acc := desc.Reg("acc", u4, "clk")
	nl := lowered(t, &desc.Design{
		Name:    "acc",
		Clocks:  []string{"clk"},
		Inputs:  []desc.Port{desc.In("x", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			acc,
			desc.Next("acc", desc.Op(desc.ExprXor, desc.Ref("acc"), desc.Ref("x"))),
			desc.Assign("y", desc.Ref("acc")),
		},
	})
	if errs := clockChecker.NewChecker(nil).Check(nl); len(errs) != 0 {
		t.Errorf("unexpected diagnostics: %v", messages(errs))
	}
	if len(nl.Domains) != 1 || nl.Domains[0].Name != "clk_pos" {
		t.Errorf("domains = %+v", nl.Domains)
	}
	y, _ := nl.Lookup("y")
	if y.Domain != nl.Domains[0].ID {
		t.Errorf("y is colored %d, want the register's domain", y.Domain)
	}
}

func TestMultipleDrivers(t *testing.T) {
	nl := ir.New("md", ir.NewArena())
	a := nl.AddSignal("a", ir.KindInput, bits.Bool)
	b := nl.AddSignal("b", ir.KindInput, bits.Bool)
	w := nl.AddSignal("w", ir.KindWire, bits.Type{})
	nl.Inputs = append(nl.Inputs, a.ID, b.ID)
	nl.AddNode(ir.OpNot, w.ID, a.ID)
	nl.AddNode(ir.OpNot, w.ID, b.ID)
	nl.AddNode(ir.OpCopy, a.ID, b.ID)

	errs := clockChecker.NewChecker(nil).Check(nl).Of(diag.KindMultipleDriver)
	want := []string{
		"MultipleDriverError at a: signal is driven by 2 elements: port a, n2 (copy -> a)",
		"MultipleDriverError at w: signal is driven by 2 elements: n0 (not -> w), n1 (not -> w)",
	}
	if diff := cmp.Diff(want, messages(errs.Sorted())); diff != "" {
		t.Errorf("diagnostics (-want +got):\n%s", diff)
	}
}

// crossing moves ra from clka to rb on clkb, through a sync marker into
// clock/edge when clock is set.
func crossing(clock, edge string) *desc.Design {
	src := desc.Ref("ra")
	if clock != "" {
		src = desc.Sync(src, clock)
		src.Edge = edge
	}
	return &desc.Design{
		Name:    "cdc",
		Clocks:  []string{"clka", "clkb", "clkc"},
		Inputs:  []desc.Port{desc.In("d", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			desc.Reg("ra", u4, "clka"),
			desc.Reg("rb", u4, "clkb"),
			desc.Next("ra", desc.Ref("d")),
			desc.Next("rb", src),
			desc.Assign("y", desc.Ref("rb")),
		},
	}
}

func TestClockDomainCrossing(t *testing.T) {
	errs := clockChecker.NewChecker(nil).Check(lowered(t, crossing("", "")))
	want := []string{"ClockDomainError at rb: data input rb_next comes from clka_pos without synchronization into clkb_pos"}
	if diff := cmp.Diff(want, messages(errs)); diff != "" {
		t.Errorf("diagnostics (-want +got):\n%s", diff)
	}

	nl := lowered(t, crossing("clkb", ""))
	if errs := clockChecker.NewChecker(nil).Check(nl); len(errs) != 0 {
		t.Errorf("synchronized crossing rejected: %v", messages(errs))
	}
	for _, n := range nl.Nodes {
		if n.Op == ir.OpSync && nl.Domains[n.Domain].Name != "clkb_pos" {
			t.Errorf("sync targets %s", nl.Domains[n.Domain].Name)
		}
	}

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatAllowCDC, true)
	if errs := clockChecker.NewChecker(cfg).Check(lowered(t, crossing("", ""))); len(errs) != 0 {
		t.Errorf("-Fallow-cdc still rejects: %v", messages(errs))
	}

	// A marker into a domain nothing is clocked by does not hide the crossing.
	for _, tc := range []struct{ clock, edge, target string }{
		{"clkc", "", "clkc_pos"},
		{"clkb", "neg", "clkb_neg"},
	} {
		errs := clockChecker.NewChecker(nil).Check(lowered(t, crossing(tc.clock, tc.edge)))
		got := strings.Join(messages(errs), "\n")
		for _, want := range []string{
			"sync into " + tc.target + ", which has no sequential elements",
			"data input rb_next comes from clka_pos without synchronization into clkb_pos",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("sync into %s: diagnostics lack %q:\n%s", tc.target, want, got)
			}
		}
	}
}

func TestClockAsData(t *testing.T) {
	nl := lowered(t, &desc.Design{
		Name:    "leak",
		Clocks:  []string{"clk"},
		Outputs: []desc.Port{desc.Out("y")},
		Body:    []*desc.Stmt{desc.Assign("y", desc.Op(desc.ExprNot, desc.Ref("clk")))},
	})
	errs := clockChecker.NewChecker(nil).Check(nl)
	if len(errs) != 1 || !strings.Contains(errs[0].Message, "clock clk is used as data") {
		t.Errorf("got %v", messages(errs))
	}
}

func TestEdgesMakeSeparateDomains(t *testing.T) {
	fall := desc.Reg("fall", u4, "clk")
	fall.Edge = "neg"
	nl := lowered(t, &desc.Design{
		Name:    "edges",
		Clocks:  []string{"clk"},
		Inputs:  []desc.Port{desc.In("d", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			desc.Reg("rise", u4, "clk"), fall,
			desc.Next("rise", desc.Ref("d")),
			desc.Next("fall", desc.Ref("d")),
			desc.Assign("y", desc.Op(desc.ExprXor, desc.Ref("rise"), desc.Ref("fall"))),
		},
	})
	if errs := clockChecker.NewChecker(nil).Check(nl); len(errs) != 0 {
		t.Fatalf("unexpected diagnostics: %v", messages(errs))
	}
	var names []string
	for _, d := range nl.Domains {
		names = append(names, d.Name)
	}
	if diff := cmp.Diff([]string{"clk_pos", "clk_neg"}, names); diff != "" {
		t.Errorf("domains (-want +got):\n%s", diff)
	}
	if y, _ := nl.Lookup("y"); y.Domain != ir.None {
		t.Errorf("y mixes both edges but is colored %d", y.Domain)
	}
}
