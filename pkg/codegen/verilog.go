package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/schedule"
)

type verilogBackend struct {
	out *bytes.Buffer
	nl  *ir.Netlist
	cfg *config.Config
}

func NewVerilogBackend() Backend { return &verilogBackend{} }

var verilogKeywords = map[string]bool{
	"always": true, "and": true, "assign": true, "begin": true, "buf": true, "case": true,
	"casex": true, "casez": true, "default": true, "defparam": true, "else": true, "end": true,
	"endcase": true, "endfunction": true, "endmodule": true, "for": true, "function": true,
	"if": true, "initial": true, "inout": true, "input": true, "integer": true, "module": true,
	"nand": true, "negedge": true, "nor": true, "not": true, "or": true, "output": true,
	"parameter": true, "posedge": true, "reg": true, "signed": true, "supply0": true,
	"supply1": true, "task": true, "time": true, "tri": true, "wire": true, "xnor": true,
	"xor": true, "localparam": true, "generate": true, "endgenerate": true, "genvar": true,
	"logic": true, "edge": true, "real": true, "wand": true, "wor": true,
}

// ident renders name as a Verilog identifier, escaping it when needed.
func ident(name string) string {
	ok := name != "" && !verilogKeywords[name]
	for i, r := range name {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case (r >= '0' && r <= '9') || r == '$':
			if i == 0 { ok = false }
		default:
			ok = false
		}
	}
	if ok { return name }
	return "\\" + name + " "
}

func (b *verilogBackend) name(s ir.SignalID) string { return ident(b.nl.Signals[s].Name) }

func (b *verilogBackend) typ(s ir.SignalID) bits.Type { return b.nl.Signals[s].Type }

func decl(t bits.Type) string {
	if t.Signed { return fmt.Sprintf("signed [%d:0]", t.Width-1) }
	return fmt.Sprintf("[%d:0]", t.Width-1)
}

func (b *verilogBackend) Generate(s *schedule.Schedule, cfg *config.Config) (*bytes.Buffer, error) {
	b.out = new(bytes.Buffer)
	b.nl = s.Netlist
	b.cfg = cfg
	if b.cfg == nil { b.cfg = config.NewConfig() }
	nl := b.nl

	isPort := make([]bool, len(nl.Signals))
	var ports []string
	for _, c := range nl.Clocks {
		isPort[c] = true
		ports = append(ports, fmt.Sprintf("input wire %s %s", decl(b.typ(c)), b.name(c)))
	}
	for _, in := range nl.Inputs {
		isPort[in] = true
		ports = append(ports, fmt.Sprintf("input wire %s %s", decl(b.typ(in)), b.name(in)))
	}
	for _, p := range nl.Outputs {
		isPort[p.Signal] = true
		ports = append(ports, fmt.Sprintf("output wire %s %s", decl(b.typ(p.Signal)), b.name(p.Signal)))
	}

	fmt.Fprintf(b.out, "// Generated by rtlc from design %s. Do not edit.\n", nl.Name)
	fmt.Fprintf(b.out, "module %s (\n", ident(nl.Name))
	for i, p := range ports {
		sep := ","
		if i == len(ports)-1 { sep = "" }
		fmt.Fprintf(b.out, "    %s%s\n", p, sep)
	}
	b.out.WriteString(");\n\n")

	for _, sig := range nl.Signals {
		if isPort[sig.ID] { continue }
		kw := "wire"
		if sig.Kind == ir.KindRegOut { kw = "reg" }
		fmt.Fprintf(b.out, "    %s %s %s;\n", kw, decl(sig.Type), b.name(sig.ID))
	}
	for _, m := range nl.Memories {
		fmt.Fprintf(b.out, "    reg %s %s [0:%d];\n", decl(m.Type), ident(m.Name), m.Depth-1)
	}
	b.out.WriteString("\n")

	for _, id := range s.Order {
		n := nl.Nodes[id]
		expr, err := b.expr(n)
		if err != nil { return nil, err }
		fmt.Fprintf(b.out, "    assign %s = %s;\n", b.name(n.Out), expr)
	}

	b.initial()
	for _, g := range s.Domains {
		b.always(&g)
	}
	b.out.WriteString("endmodule\n")
	return b.out, nil
}

// ext extends s to width w following its own signedness.
func (b *verilogBackend) ext(s ir.SignalID, w int) string {
	t := b.typ(s)
	n := b.name(s)
	if t.Width >= w { return n }
	k := w - t.Width
	if t.Signed { return fmt.Sprintf("{{%d{%s[%d]}}, %s}", k, n, t.Width-1, n) }
	return fmt.Sprintf("{%d'd0, %s}", k, n)
}

func literal(v bits.Value) string { return v.String() }

var binaryOps = map[ir.Op]string{
	ir.OpAdd: "+", ir.OpSub: "-", ir.OpMul: "*",
	ir.OpAnd: "&", ir.OpOr: "|", ir.OpXor: "^",
	ir.OpEq: "==", ir.OpNe: "!=", ir.OpLt: "<", ir.OpLe: "<=", ir.OpGt: ">", ir.OpGe: ">=",
}

func (b *verilogBackend) expr(n *ir.Node) (string, error) {
	nl := b.nl
	out := b.typ(n.Out)
	a := func(i int) string { return b.name(n.Args[i]) }
	switch n.Op {
	case ir.OpConst:
		return literal(*n.Const), nil
	case ir.OpCopy, ir.OpSync:
		return a(0), nil
	case ir.OpAdd, ir.OpSub, ir.OpMul:
		return fmt.Sprintf("%s %s %s", b.ext(n.Args[0], out.Width), binaryOps[n.Op], b.ext(n.Args[1], out.Width)), nil
	case ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpEq, ir.OpNe:
		return fmt.Sprintf("%s %s %s", a(0), binaryOps[n.Op], a(1)), nil
	case ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		if b.typ(n.Args[0]).Signed {
			return fmt.Sprintf("$signed(%s) %s $signed(%s)", a(0), binaryOps[n.Op], a(1)), nil
		}
		return fmt.Sprintf("%s %s %s", a(0), binaryOps[n.Op], a(1)), nil
	case ir.OpShl:
		return fmt.Sprintf("%s << %s", a(0), a(1)), nil
	case ir.OpShr:
		if out.Signed { return fmt.Sprintf("$signed(%s) >>> %s", a(0), a(1)), nil }
		return fmt.Sprintf("%s >> %s", a(0), a(1)), nil
	case ir.OpNot:
		return "~" + a(0), nil
	case ir.OpNeg:
		return "-" + a(0), nil
	case ir.OpAll:
		return "&" + a(0), nil
	case ir.OpAny:
		return "|" + a(0), nil
	case ir.OpParity:
		return "^" + a(0), nil
	case ir.OpMux:
		return fmt.Sprintf("%s ? %s : %s", a(0), a(1), a(2)), nil
	case ir.OpCase:
		dt := b.typ(n.Args[0])
		var sb strings.Builder
		for i, k := range n.Params {
			fmt.Fprintf(&sb, "(%s == %s) ? %s : ", a(0), literal(bits.FromInt64(dt, int64(k))), b.name(n.Args[i+2]))
		}
		sb.WriteString(a(1))
		return sb.String(), nil
	case ir.OpSlice:
		return fmt.Sprintf("%s[%d:%d]", a(0), n.Params[1]-1, n.Params[0]), nil
	case ir.OpDynSlice:
		return fmt.Sprintf("%s >> %s", a(0), a(1)), nil
	case ir.OpConcat:
		parts := make([]string, len(n.Args))
		for i := range n.Args {
			parts[i] = a(i)
		}
		return "{" + strings.Join(parts, ", ") + "}", nil
	case ir.OpSplice:
		ot, vt := b.typ(n.Args[0]), b.typ(n.Args[1])
		lo, hi := n.Params[0], n.Params[0]+vt.Width
		var parts []string
		if hi < ot.Width { parts = append(parts, fmt.Sprintf("%s[%d:%d]", a(0), ot.Width-1, hi)) }
		parts = append(parts, a(1))
		if lo > 0 { parts = append(parts, fmt.Sprintf("%s[%d:0]", a(0), lo-1)) }
		return "{" + strings.Join(parts, ", ") + "}", nil
	case ir.OpResize:
		if out.Width <= b.typ(n.Args[0]).Width { return fmt.Sprintf("%s[%d:0]", a(0), out.Width-1), nil }
		return b.ext(n.Args[0], out.Width), nil
	case ir.OpMemRead:
		m := nl.Memories[n.Mem]
		rd := fmt.Sprintf("%s[%s]", ident(m.Name), a(0))
		if m.Depth < 1<<uint(bits.AddrWidth(m.Depth)) {
			return fmt.Sprintf("(%s < %d) ? %s : %s", a(0), m.Depth, rd, literal(bits.Zero(m.Type))), nil
		}
		return rd, nil
	}
	return "", fmt.Errorf("verilog: no rendering for %s", nl.NodeName(n.ID))
}

func (b *verilogBackend) initial() {
	nl := b.nl
	por := b.cfg.IsFeatureEnabled(config.FeatPowerOnReset)
	var lines []string
	for _, m := range nl.Memories {
		for i, v := range m.Init {
			lines = append(lines, fmt.Sprintf("        %s[%d] = %s;", ident(m.Name), i, literal(v)))
		}
	}
	if por {
		for _, r := range nl.Registers {
			rv := bits.Zero(r.Type)
			if r.ResetValue != nil { rv = *r.ResetValue }
			lines = append(lines, fmt.Sprintf("        %s = %s;", b.name(r.Q), literal(rv)))
		}
	}
	if len(lines) == 0 { return }
	b.out.WriteString("\n    initial begin\n")
	b.out.WriteString(strings.Join(lines, "\n"))
	b.out.WriteString("\n    end\n")
}

func (b *verilogBackend) always(g *schedule.Group) {
	nl := b.nl
	edge := "posedge"
	if g.Domain.Edge == ir.Neg { edge = "negedge" }
	fmt.Fprintf(b.out, "\n    // clock domain %s\n", g.Domain.Name)
	fmt.Fprintf(b.out, "    always @(%s %s) begin\n", edge, b.name(g.Domain.Clock))
	for _, id := range g.Registers {
		r := nl.Registers[id]
		if r.Reset != ir.None {
			fmt.Fprintf(b.out, "        if (%s) %s <= %s; else %s <= %s;\n",
				b.name(r.Reset), b.name(r.Q), literal(*r.ResetValue), b.name(r.Q), b.name(r.D))
			continue
		}
		fmt.Fprintf(b.out, "        %s <= %s;\n", b.name(r.Q), b.name(r.D))
	}
	for _, w := range g.Writes {
		m := nl.Memories[w.Mem]
		p := m.Writes[w.Port]
		cond := b.name(p.Enable)
		if m.Depth < 1<<uint(bits.AddrWidth(m.Depth)) {
			cond = fmt.Sprintf("%s && %s < %d", cond, b.name(p.Addr), m.Depth)
		}
		fmt.Fprintf(b.out, "        if (%s) %s[%s] <= %s;\n", cond, ident(m.Name), b.name(p.Addr), b.name(p.Data))
	}
	b.out.WriteString("    end\n")
}
