package codegen_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/codegen"
	"github.com/xplshn/rtlc/pkg/compiler"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
)

func compile(t *testing.T, d *desc.Design, cfg *config.Config) *compiler.Result {
	t.Helper()
	res, err := compiler.NewSession(cfg).Compile(d)
	if err != nil {
		t.Fatalf("compile %s: %v", d.Name, err)
	}
	return res
}

func generate(t *testing.T, backend string, res *compiler.Result) string {
	t.Helper()
	b, err := codegen.New(backend)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := b.Generate(res.Schedule, res.Config)
	if err != nil {
		t.Fatalf("%s: %v", backend, err)
	}
	return buf.String()
}

func adder() *desc.Design {
	return &desc.Design{
		Name:    "adder",
		Inputs:  []desc.Port{desc.In("a", bits.Unsigned(2)), desc.In("b", bits.Unsigned(2))},
		Outputs: []desc.Port{desc.Out("y")},
		Body:    []*desc.Stmt{desc.Assign("y", desc.Op(desc.ExprAdd, desc.Ref("a"), desc.Ref("b")))},
	}
}

func accumulator() *desc.Design {
	u8 := bits.U8
	acc := desc.Reg("acc", u8, "clk")
	acc.Init, acc.Reset = "0", "clear"
	return &desc.Design{
		Name:    "accumulator",
		Clocks:  []string{"clk"},
		Inputs:  []desc.Port{desc.In("clear", bits.Bool), desc.In("x", u8), desc.In("en", bits.Bool)},
		Outputs: []desc.Port{desc.Out("sum")},
		Body: []*desc.Stmt{
			acc,
			desc.IfStmt(desc.Ref("en"), []*desc.Stmt{
				desc.Next("acc", desc.Resize(desc.Op(desc.ExprAdd, desc.Ref("acc"), desc.Ref("x")), u8)),
			}, nil),
			desc.Assign("sum", desc.Ref("acc")),
		},
	}
}

func TestVerilogPorts(t *testing.T) {
	v := generate(t, "verilog", compile(t, adder(), nil))
	for _, want := range []string{
		"module adder (",
		"input wire [1:0] a,",
		"input wire [1:0] b,",
		"output wire [2:0] y",
		"{1'd0, a} + {1'd0, b}",
		"endmodule\n",
	} {
		if !strings.Contains(v, want) {
			t.Errorf("verilog lacks %q:\n%s", want, v)
		}
	}
}

func TestVerilogClockedProcess(t *testing.T) {
	v := generate(t, "verilog", compile(t, accumulator(), nil))
	for _, want := range []string{
		"input wire [0:0] clk,",
		"reg [7:0] acc;",
		"// clock domain clk_pos",
		"always @(posedge clk) begin",
		"if (clear) acc <= 8'd0; else acc <= ",
	} {
		if !strings.Contains(v, want) {
			t.Errorf("verilog lacks %q:\n%s", want, v)
		}
	}
	if strings.Contains(v, "initial begin") {
		t.Error("initial block emitted without power-on reset")
	}

	cfg := config.NewConfig()
	cfg.SetFeature(config.FeatPowerOnReset, true)
	v = generate(t, "verilog", compile(t, accumulator(), cfg))
	if !strings.Contains(v, "initial begin\n        acc = 8'd0;") {
		t.Errorf("power-on reset did not initialize acc:\n%s", v)
	}
}

// Two separate compilations of one design render byte-identical text.
func TestDeterministicOutput(t *testing.T) {
	for _, backend := range []string{"verilog"} {
		a := generate(t, backend, compile(t, accumulator(), nil))
		b := generate(t, backend, compile(t, accumulator(), nil))
		if diff := cmp.Diff(a, b); diff != "" {
			t.Errorf("%s output differs between runs (-first +second):\n%s", backend, diff)
		}
	}
	res1, res2 := compile(t, accumulator(), nil), compile(t, accumulator(), nil)
	q1, err1 := codegen.GenerateQBE(res1.Schedule, res1.Config)
	q2, err2 := codegen.GenerateQBE(res2.Schedule, res2.Config)
	if err1 != nil || err2 != nil {
		t.Fatalf("GenerateQBE: %v, %v", err1, err2)
	}
	if diff := cmp.Diff(q1, q2); diff != "" {
		t.Errorf("QBE output differs between runs (-first +second):\n%s", diff)
	}
}

func TestQBEFunctions(t *testing.T) {
	res := compile(t, accumulator(), nil)
	ssa, err := codegen.GenerateQBE(res.Schedule, res.Config)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"export function $accumulator_eval(l %st)", "export function $accumulator_edge_clk_pos(l %st, l %arm)"} {
		if !strings.Contains(ssa, want) {
			t.Errorf("QBE lacks %q:\n%s", want, ssa)
		}
	}
}

func TestQBERejectsWideSignals(t *testing.T) {
	u100 := bits.Unsigned(100)
	d := &desc.Design{
		Name:    "wide",
		Inputs:  []desc.Port{desc.In("a", u100)},
		Outputs: []desc.Port{desc.Out("y")},
		Body:    []*desc.Stmt{desc.Assign("y", desc.Op(desc.ExprNot, desc.Ref("a")))},
	}
	res := compile(t, d, nil)
	if _, err := codegen.GenerateQBE(res.Schedule, res.Config); err == nil {
		t.Error("QBE accepted a 100-bit signal")
	}
	if _, err := generate2(res); err != nil {
		t.Errorf("verilog rejected a 100-bit signal: %v", err)
	}
}

func generate2(res *compiler.Result) (string, error) {
	b, _ := codegen.New("verilog")
	buf, err := b.Generate(res.Schedule, res.Config)
	if err != nil { return "", err }
	return buf.String(), nil
}

func TestUnknownBackend(t *testing.T) {
	if _, err := codegen.New("vhdl"); err == nil {
		t.Error("New accepted an unknown backend")
	}
}
