package compiler_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/compiler"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
)

var u4 = bits.Unsigned(4)

const counterJSON = `{
	"name": "counter",
	"clocks": ["clk"],
	"inputs": [{"name": "en", "type": "bool"}],
	"outputs": [{"name": "count"}],
	"body": [
		{"kind": "reg", "name": "c", "type": "u4", "clock": "clk", "init": "0"},
		{"kind": "if", "cond": {"kind": "ref", "name": "en"}, "then": [
			{"kind": "next", "name": "c", "value": {"kind": "resize", "type": "u4", "args": [
				{"kind": "add", "args": [{"kind": "ref", "name": "c"}, {"kind": "const", "type": "u4", "value": "1"}]}
			]}}
		]},
		{"kind": "assign", "name": "count", "value": {"kind": "ref", "name": "c"}}
	]
}`

// unread has an input nobody reads, which the unused warning reports.
func unread(flags ...string) *desc.Design {
	return &desc.Design{
		Name:    "unread",
		Flags:   flags,
		Inputs:  []desc.Port{desc.In("a", u4), desc.In("b", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body:    []*desc.Stmt{desc.Assign("y", desc.Op(desc.ExprNot, desc.Ref("a")))},
	}
}

func neverRead(l diag.List) int {
	n := 0
	for _, d := range l {
		if d.Message == "b is never read" { n++ }
	}
	return n
}

func TestLoadCompilesDocument(t *testing.T) {
	s := compiler.NewSession(nil)
	res, err := s.Load(strings.NewReader(counterJSON))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Checked.Validated {
		t.Error("compiled netlist is not marked validated")
	}
	if res.Netlist.Arena != s.Arena {
		t.Error("netlist does not use the session arena")
	}
	if _, err := res.Schedule.Group("clk_pos"); err != nil {
		t.Error(err)
	}

	if _, err := s.Load(strings.NewReader(`{"name": "x", "body": [], "bogus": 1}`)); err == nil {
		t.Error("document with an unknown field accepted")
	}
}

func TestCompileErrors(t *testing.T) {
	_, err := compiler.NewSession(nil).Compile(&desc.Design{
		Name:    "bad",
		Outputs: []desc.Port{desc.Out("y")},
		Body:    []*desc.Stmt{desc.Assign("y", desc.Ref("missing"))},
	})
	if !diag.Is(err, diag.KindLowering) {
		t.Fatalf("got %v, want a lowering error", err)
	}
	for _, d := range diag.Collect(err) {
		if d.Unit != "bad" { t.Errorf("%s has unit %q", d, d.Unit) }
	}
}

func TestCheckRunsBothCheckers(t *testing.T) {
	nl := ir.New("both", ir.NewArena())
	a := nl.AddSignal("a", ir.KindInput, u4)
	c := nl.AddSignal("c", ir.KindInput, bits.Unsigned(2))
	w := nl.AddSignal("w", ir.KindWire, bits.Type{})
	x := nl.AddSignal("x", ir.KindWire, bits.Type{})
	nl.Inputs = append(nl.Inputs, a.ID, c.ID)
	nl.AddNode(ir.OpNot, w.ID, a.ID)
	nl.AddNode(ir.OpNot, w.ID, a.ID)
	nl.AddNode(ir.OpAnd, x.ID, a.ID, c.ID)
	nl.Outputs = append(nl.Outputs, ir.Port{Name: "w", Signal: w.ID}, ir.Port{Name: "x", Signal: x.ID})

	diags := compiler.NewSession(nil).Check(nl)
	if len(diags.Of(diag.KindWidthMismatch)) == 0 || len(diags.Of(diag.KindMultipleDriver)) == 0 {
		t.Errorf("want width and driver errors together, got:\n%v", diags)
	}
	if nl.Validated {
		t.Error("a netlist with errors was marked validated")
	}
}

func TestDirectiveFlagsStayWithTheirDesign(t *testing.T) {
	s := compiler.NewSession(nil)
	for i, tc := range []struct {
		d    *desc.Design
		want int
	}{
		{unread(), 1},
		{unread("-Wno-unused"), 1},
		{unread(), 2},
	} {
		if _, err := s.Compile(tc.d); err != nil {
			t.Fatal(err)
		}
		if got := neverRead(s.Warnings); got != tc.want {
			t.Errorf("after design %d: %d unused warnings, want %d", i, got, tc.want)
		}
	}
	if !s.Config.IsWarningEnabled(config.WarnUnused) {
		t.Error("session config was modified")
	}
}

func TestReload(t *testing.T) {
	s := compiler.NewSession(nil)
	res, err := s.Load(strings.NewReader(counterJSON))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := ir.Save(&buf, res.Netlist); err != nil {
		t.Fatal(err)
	}
	again, err := s.Reload(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(res.Schedule.Dump(), again.Schedule.Dump()); diff != "" {
		t.Errorf("reloaded schedule (-compiled +reloaded):\n%s", diff)
	}
	if _, err := s.Reload(strings.NewReader("not json")); err == nil || !strings.HasPrefix(err.Error(), "reload") {
		t.Errorf("garbage reload: got %v", err)
	}
}

func TestGenerateAndProgress(t *testing.T) {
	var progress bytes.Buffer
	s := compiler.NewSession(nil)
	s.Progress = &progress
	res, err := s.Load(strings.NewReader(counterJSON))
	if err != nil {
		t.Fatal(err)
	}
	out, err := s.Generate(res, "verilog")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "module counter") {
		t.Errorf("verilog output:\n%s", out)
	}
	if _, err := s.Generate(res, "vhdl"); err == nil {
		t.Error("unknown backend accepted")
	}
	want := []string{
		"Lowering counter...",
		"Type checking...",
		"Checking clock domains...",
		"Optimizing...",
		"Scheduling...",
		"Generating code with 'verilog' backend...",
	}
	if diff := cmp.Diff(want, strings.Split(strings.TrimSpace(progress.String()), "\n")); diff != "" {
		t.Errorf("progress (-want +got):\n%s", diff)
	}
}

func TestCycleIsReportedOnlyAsLoop(t *testing.T) {
	nl := ir.New("loop", ir.NewArena())
	a := nl.AddSignal("a", ir.KindInput, bits.Bool)
	x := nl.AddSignal("x", ir.KindWire, bits.Type{})
	y := nl.AddSignal("y", ir.KindWire, bits.Type{})
	z := nl.AddSignal("z", ir.KindWire, bits.Type{})
	nl.Inputs = append(nl.Inputs, a.ID)
	nl.AddNode(ir.OpAnd, x.ID, a.ID, y.ID)
	nl.AddNode(ir.OpNot, y.ID, x.ID)
	nl.AddNode(ir.OpNot, z.ID, x.ID)
	nl.Outputs = append(nl.Outputs, ir.Port{Name: "z", Signal: z.ID})

	var kinds []string
	for _, d := range compiler.NewSession(nil).Check(nl) {
		kinds = append(kinds, d.Kind.String())
	}
	if diff := cmp.Diff([]string{"CombinationalLoopError"}, kinds); diff != "" {
		t.Errorf("diagnostic kinds (-want +got):\n%s", diff)
	}
}
