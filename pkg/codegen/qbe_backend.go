package codegen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/schedule"
)

// qbeBackend emits a native evaluation kernel. The state is an array of
// 64-bit slots: slot i holds signal i, masked to its width; memories follow
// the signals, one slot per word.
type qbeBackend struct {
	out     *strings.Builder
	s       *schedule.Schedule
	nl      *ir.Netlist
	tmp     int
	label   int
	memBase []int
}

func NewQBEBackend() Backend { return &qbeBackend{} }

func qbeName(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// GenerateIR returns the kernel as QBE SSA text.
func (b *qbeBackend) GenerateIR(s *schedule.Schedule, cfg *config.Config) (string, error) {
	b.out = new(strings.Builder)
	b.s, b.nl, b.tmp, b.label = s, s.Netlist, 0, 0
	nl := b.nl

	for _, sig := range nl.Signals {
		if sig.Type.Width > 64 {
			return "", fmt.Errorf("qbe: signal %s is %s; the native kernel supports at most 64 bits", sig.Name, sig.Type)
		}
	}
	b.memBase = make([]int, len(nl.Memories))
	next := len(nl.Signals)
	for i, m := range nl.Memories {
		if m.Type.Width > 64 {
			return "", fmt.Errorf("qbe: memory %s has %s words; the native kernel supports at most 64 bits", m.Name, m.Type)
		}
		b.memBase[i] = next
		next += m.Depth
	}

	top := qbeName(nl.Name)
	fmt.Fprintf(b.out, "# rtlc kernel for %s: %d slots of 8 bytes\n", nl.Name, next)
	for _, sig := range nl.Signals {
		fmt.Fprintf(b.out, "# slot %d: %s %s\n", sig.ID, sig.Name, sig.Type)
	}
	for i, m := range nl.Memories {
		fmt.Fprintf(b.out, "# slots %d..%d: memory %s\n", b.memBase[i], b.memBase[i]+m.Depth-1, m.Name)
	}
	fmt.Fprintf(b.out, "\nexport data $%s_slots = { l %d }\n", top, next)

	fmt.Fprintf(b.out, "\nexport function $%s_eval(l %%st) {\n@start\n", top)
	for _, id := range s.Order {
		if err := b.node(nl.Nodes[id]); err != nil { return "", err }
	}
	b.out.WriteString("\tret\n}\n")

	for i := range s.Domains {
		b.edge(top, &s.Domains[i])
	}
	return b.out.String(), nil
}

func (b *qbeBackend) t() string {
	b.tmp++
	return "%t" + strconv.Itoa(b.tmp)
}

func (b *qbeBackend) emit(format string, args ...interface{}) {
	fmt.Fprintf(b.out, "\t"+format+"\n", args...)
}

func (b *qbeBackend) bin(op, x, y string) string {
	r := b.t()
	b.emit("%s =l %s %s, %s", r, op, x, y)
	return r
}

func imm(x uint64) string { return strconv.FormatInt(int64(x), 10) }

func maskOf(w int) uint64 {
	if w >= 64 { return ^uint64(0) }
	return uint64(1)<<uint(w) - 1
}

func (b *qbeBackend) addr(slot int) string {
	if slot == 0 { return "%st" }
	return b.bin("add", "%st", strconv.Itoa(8*slot))
}

func (b *qbeBackend) load(s ir.SignalID) string {
	r := b.t()
	b.emit("%s =l loadl %s", r, b.addr(int(s)))
	return r
}

func (b *qbeBackend) store(s ir.SignalID, v string) {
	b.emit("storel %s, %s", v, b.addr(int(s)))
}

func (b *qbeBackend) mask(v string, w int) string {
	if w >= 64 { return v }
	return b.bin("and", v, imm(maskOf(w)))
}

// sext sign-extends the w-bit value v to 64 bits.
func (b *qbeBackend) sext(v string, w int) string {
	if w >= 64 { return v }
	sh := strconv.Itoa(64 - w)
	return b.bin("sar", b.bin("shl", v, sh), sh)
}

// operand loads s extended to 64 bits following its signedness.
func (b *qbeBackend) operand(s ir.SignalID) string {
	v := b.load(s)
	if t := b.nl.Signals[s].Type; t.Signed { return b.sext(v, t.Width) }
	return v
}

// sel returns b ^ ((a ^ b) & -c) for a 0/1 condition c.
func (b *qbeBackend) sel(c, x, y string) string {
	m := b.bin("sub", "0", c)
	return b.bin("xor", y, b.bin("and", b.bin("xor", x, y), m))
}

var qbeArith = map[ir.Op]string{ir.OpAdd: "add", ir.OpSub: "sub", ir.OpMul: "mul", ir.OpAnd: "and", ir.OpOr: "or", ir.OpXor: "xor"}

var qbeCmp = map[ir.Op][2]string{
	ir.OpEq: {"ceql", "ceql"}, ir.OpNe: {"cnel", "cnel"},
	ir.OpLt: {"cultl", "csltl"}, ir.OpLe: {"culel", "cslel"},
	ir.OpGt: {"cugtl", "csgtl"}, ir.OpGe: {"cugel", "csgel"},
}

func (b *qbeBackend) node(n *ir.Node) error {
	nl := b.nl
	out := nl.Signals[n.Out].Type
	w := out.Width
	fmt.Fprintf(b.out, "# %s\n", nl.NodeName(n.ID))
	var r string
	switch n.Op {
	case ir.OpConst:
		r = imm(n.Const.Uint64())
	case ir.OpCopy, ir.OpSync:
		r = b.load(n.Args[0])
	case ir.OpAdd, ir.OpSub, ir.OpMul:
		r = b.mask(b.bin(qbeArith[n.Op], b.operand(n.Args[0]), b.operand(n.Args[1])), w)
	case ir.OpAnd, ir.OpOr, ir.OpXor:
		r = b.bin(qbeArith[n.Op], b.load(n.Args[0]), b.load(n.Args[1]))
	case ir.OpShl, ir.OpShr:
		x, amt := b.load(n.Args[0]), b.load(n.Args[1])
		in := b.bin("cultl", amt, strconv.Itoa(w))
		switch {
		case n.Op == ir.OpShl:
			r = b.mask(b.bin("and", b.bin("shl", x, amt), b.bin("sub", "0", in)), w)
		case out.Signed:
			clamped := b.sel(in, amt, strconv.Itoa(w-1))
			r = b.mask(b.bin("sar", b.sext(x, w), clamped), w)
		default:
			r = b.bin("and", b.bin("shr", x, amt), b.bin("sub", "0", in))
		}
	case ir.OpEq, ir.OpNe, ir.OpLt, ir.OpLe, ir.OpGt, ir.OpGe:
		cmp := qbeCmp[n.Op][0]
		if nl.Signals[n.Args[0]].Type.Signed { cmp = qbeCmp[n.Op][1] }
		r = b.bin(cmp, b.operand(n.Args[0]), b.operand(n.Args[1]))
	case ir.OpNot:
		r = b.bin("xor", b.load(n.Args[0]), imm(maskOf(w)))
	case ir.OpNeg:
		r = b.mask(b.bin("sub", "0", b.load(n.Args[0])), w)
	case ir.OpAll:
		r = b.bin("ceql", b.load(n.Args[0]), imm(maskOf(nl.Signals[n.Args[0]].Type.Width)))
	case ir.OpAny:
		r = b.bin("cnel", b.load(n.Args[0]), "0")
	case ir.OpParity:
		x := b.load(n.Args[0])
		for _, sh := range []string{"32", "16", "8", "4", "2", "1"} {
			x = b.bin("xor", x, b.bin("shr", x, sh))
		}
		r = b.bin("and", x, "1")
	case ir.OpMux:
		r = b.sel(b.load(n.Args[0]), b.load(n.Args[1]), b.load(n.Args[2]))
	case ir.OpCase:
		dt := nl.Signals[n.Args[0]].Type
		d := b.load(n.Args[0])
		r = b.load(n.Args[1])
		for i := len(n.Params) - 1; i >= 0; i-- {
			k := bits.FromInt64(dt, int64(n.Params[i])).Uint64()
			r = b.sel(b.bin("ceql", d, imm(k)), b.load(n.Args[i+2]), r)
		}
	case ir.OpSlice:
		r = b.mask(b.bin("shr", b.load(n.Args[0]), strconv.Itoa(n.Params[0])), w)
	case ir.OpDynSlice:
		x, off := b.load(n.Args[0]), b.load(n.Args[1])
		in := b.bin("cultl", off, strconv.Itoa(nl.Signals[n.Args[0]].Type.Width))
		r = b.mask(b.bin("and", b.bin("shr", x, off), b.bin("sub", "0", in)), w)
	case ir.OpConcat:
		r = "0"
		for _, a := range n.Args {
			aw := nl.Signals[a].Type.Width
			r = b.bin("or", b.bin("shl", r, strconv.Itoa(aw)), b.load(a))
		}
	case ir.OpSplice:
		lo, vw := n.Params[0], nl.Signals[n.Args[1]].Type.Width
		hole := ^(maskOf(vw) << uint(lo))
		r = b.bin("or", b.bin("and", b.load(n.Args[0]), imm(hole)), b.bin("shl", b.load(n.Args[1]), strconv.Itoa(lo)))
		r = b.mask(r, w)
	case ir.OpResize:
		r = b.mask(b.operand(n.Args[0]), w)
	case ir.OpMemRead:
		m := nl.Memories[n.Mem]
		a := b.load(n.Args[0])
		in := b.bin("cultl", a, strconv.Itoa(m.Depth))
		idx := b.bin("and", a, b.bin("sub", "0", in))
		p := b.bin("add", b.addr(b.memBase[m.ID]), b.bin("mul", idx, "8"))
		v := b.t()
		b.emit("%s =l loadl %s", v, p)
		r = b.bin("and", v, b.bin("sub", "0", in))
	default:
		return fmt.Errorf("qbe: no lowering for %s", nl.NodeName(n.ID))
	}
	b.store(n.Out, r)
	return nil
}

// edge emits the update of one clock domain. All next values are computed
// before any is stored. A non-zero %arm loads reset values, as an armed
// reset does in the simulator.
func (b *qbeBackend) edge(top string, g *schedule.Group) {
	nl := b.nl
	fmt.Fprintf(b.out, "\nexport function $%s_edge_%s(l %%st, l %%arm) {\n@start\n", top, qbeName(g.Domain.Name))
	next := make([]string, len(g.Registers))
	for i, id := range g.Registers {
		r := nl.Registers[id]
		v := b.load(r.D)
		if r.ResetValue != nil {
			rv := imm(r.ResetValue.Uint64())
			if r.Reset != ir.None { v = b.sel(b.load(r.Reset), rv, v) }
			v = b.sel(b.bin("cnel", "%arm", "0"), rv, v)
		}
		next[i] = v
	}
	type pending struct{ en, slot, data string }
	var writes []pending
	for _, wr := range g.Writes {
		m := nl.Memories[wr.Mem]
		p := m.Writes[wr.Port]
		a := b.load(p.Addr)
		en := b.bin("and", b.load(p.Enable), b.bin("cultl", a, strconv.Itoa(m.Depth)))
		slot := b.bin("add", b.addr(b.memBase[m.ID]), b.bin("mul", a, "8"))
		writes = append(writes, pending{en, slot, b.load(p.Data)})
	}
	for i, id := range g.Registers {
		b.store(nl.Registers[id].Q, next[i])
	}
	for _, w := range writes {
		b.label++
		l := strconv.Itoa(b.label)
		b.emit("jnz %s, @w%s, @s%s", w.en, l, l)
		fmt.Fprintf(b.out, "@w%s\n", l)
		b.emit("storel %s, %s", w.data, w.slot)
		fmt.Fprintf(b.out, "@s%s\n", l)
	}
	b.out.WriteString("\tret\n}\n")
}

// GenerateQBE returns the kernel SSA text without assembling it.
func GenerateQBE(s *schedule.Schedule, cfg *config.Config) (string, error) {
	return (&qbeBackend{}).GenerateIR(s, cfg)
}
