package ir

import (
	"fmt"
	"strconv"

	"github.com/xplshn/rtlc/pkg/bits"
)

type (
	SignalID int
	NodeID   int
	RegID    int
	MemID    int
	DomainID int
)

// None marks an absent id of any kind.
const None = -1

type Op int

const (
	OpConst Op = iota
	OpCopy
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpNot
	OpNeg
	OpAll
	OpAny
	OpParity
	OpMux      // sel, a (sel=1), b (sel=0)
	OpCase     // disc, default, arms...; Params holds one key per arm
	OpSlice    // x; Params lo, hi
	OpDynSlice // x, offset; Params len
	OpConcat   // parts, most significant first
	OpSplice   // orig, v; Params lo
	OpResize   // x; Params width, signed
	OpMemRead  // addr
	OpSync     // x
	opCount
)

var opNames = [opCount]string{
	OpConst: "const", OpCopy: "copy", OpAdd: "add", OpSub: "sub", OpMul: "mul",
	OpAnd: "and", OpOr: "or", OpXor: "xor", OpShl: "shl", OpShr: "shr",
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",
	OpNot: "not", OpNeg: "neg", OpAll: "all", OpAny: "any", OpParity: "parity",
	OpMux: "mux", OpCase: "case", OpSlice: "slice", OpDynSlice: "dyn_slice",
	OpConcat: "concat", OpSplice: "splice", OpResize: "resize",
	OpMemRead: "mem_read", OpSync: "sync",
}

// arity is the fixed operand count per opcode; -1 means variadic.
var arity = [opCount]int{
	OpConst: 0, OpCopy: 1, OpAdd: 2, OpSub: 2, OpMul: 2, OpAnd: 2, OpOr: 2,
	OpXor: 2, OpShl: 2, OpShr: 2, OpEq: 2, OpNe: 2, OpLt: 2, OpLe: 2, OpGt: 2,
	OpGe: 2, OpNot: 1, OpNeg: 1, OpAll: 1, OpAny: 1, OpParity: 1, OpMux: 3,
	OpCase: -1, OpSlice: 1, OpDynSlice: 2, OpConcat: -1, OpSplice: 2,
	OpResize: 1, OpMemRead: 1, OpSync: 1,
}

func (op Op) String() string {
	if op < 0 || op >= opCount { return "op(" + strconv.Itoa(int(op)) + ")" }
	return opNames[op]
}

func (op Op) Arity() int { return arity[op] }

func (op Op) IsCompare() bool { return op >= OpEq && op <= OpGe }

func (op Op) IsBitwise() bool { return op == OpAnd || op == OpOr || op == OpXor }

func (op Op) IsReduce() bool { return op == OpAll || op == OpAny || op == OpParity }

// ParseOp maps an opcode name back to its Op.
func ParseOp(s string) (Op, bool) {
	for i, n := range opNames {
		if n == s { return Op(i), true }
	}
	return 0, false
}

type SignalKind int

const (
	KindWire SignalKind = iota
	KindInput
	KindClock
	KindRegOut
	KindConst
)

var kindNames = [...]string{"wire", "input", "clock", "reg", "const"}

func (k SignalKind) String() string { return kindNames[k] }

func ParseSignalKind(s string) (SignalKind, bool) {
	for i, n := range kindNames {
		if n == s { return SignalKind(i), true }
	}
	return 0, false
}

type Edge int

const (
	Pos Edge = iota
	Neg
)

func (e Edge) String() string {
	if e == Neg { return "neg" }
	return "pos"
}

func ParseEdge(s string) (Edge, error) {
	switch s {
	case "", "pos", "posedge", "rising": return Pos, nil
	case "neg", "negedge", "falling": return Neg, nil
	}
	return Pos, fmt.Errorf("invalid clock edge %q", s)
}

type Signal struct {
	ID   SignalID
	Name string
	// Type is zero until inferred; the type checker's annotation is
	// authoritative.
	Type     bits.Type
	Declared *bits.Type
	Kind     SignalKind
	// Driver is the driving node for wires and constants, the register for
	// register outputs, None for inputs and clocks.
	Driver int
	Domain DomainID
}

type Node struct {
	ID     NodeID
	Op     Op
	Args   []SignalID
	Params []int
	Out    SignalID
	Const  *bits.Value
	Mem    MemID
	// Clock and Edge name the target domain of an OpSync; Domain is filled
	// in by the clock checker.
	Clock  SignalID
	Edge   Edge
	Domain DomainID
	Shape  uint64
	Path   string
}

type Register struct {
	ID         RegID
	Name       string
	Type       bits.Type
	Q, D       SignalID
	Clock      SignalID
	Edge       Edge
	Reset      SignalID
	ResetValue *bits.Value
	Domain     DomainID
}

type WritePort struct {
	Clock  SignalID
	Edge   Edge
	Addr   SignalID
	Data   SignalID
	Enable SignalID
	Domain DomainID
}

type Memory struct {
	ID     MemID
	Name   string
	Depth  int
	Type   bits.Type
	Init   []bits.Value
	Writes []WritePort
}

type ClockDomain struct {
	ID    DomainID
	Name  string
	Clock SignalID
	Edge  Edge
}

type Port struct {
	Name   string
	Signal SignalID
}

type Netlist struct {
	Name      string
	Inputs    []SignalID
	Clocks    []SignalID
	Outputs   []Port
	Signals   []*Signal
	Nodes     []*Node
	Registers []*Register
	Memories  []*Memory
	Domains   []*ClockDomain
	Arena     *Arena
	// Validated is set on netlists that passed both checkers or were
	// reloaded from their persisted form.
	Validated bool

	names map[string]SignalID
}

func New(name string, arena *Arena) *Netlist {
	return &Netlist{Name: name, Arena: arena, names: make(map[string]SignalID)}
}

// Lookup finds a signal by name.
func (nl *Netlist) Lookup(name string) (*Signal, bool) {
	if nl.names == nil { nl.reindex() }
	id, ok := nl.names[name]
	if !ok { return nil, false }
	return nl.Signals[id], true
}

func (nl *Netlist) reindex() {
	nl.names = make(map[string]SignalID, len(nl.Signals))
	for _, s := range nl.Signals {
		if s.Name != "" { nl.names[s.Name] = s.ID }
	}
}

// UniqueName returns base, or base_1, base_2, ... when base is taken. A
// suffix already in base is not continued: a taken x_2 becomes x_2_1.
func (nl *Netlist) UniqueName(base string) string {
	if nl.names == nil { nl.reindex() }
	if _, taken := nl.names[base]; !taken { return base }
	for i := 1; ; i++ {
		n := base + "_" + strconv.Itoa(i)
		if _, taken := nl.names[n]; !taken { return n }
	}
}

// AddSignal appends a signal. An empty name gets a generated one.
func (nl *Netlist) AddSignal(name string, kind SignalKind, t bits.Type) *Signal {
	id := SignalID(len(nl.Signals))
	if name == "" { name = "_t" + strconv.Itoa(int(id)) }
	s := &Signal{ID: id, Name: nl.UniqueName(name), Type: t, Kind: kind, Driver: None, Domain: None}
	nl.Signals = append(nl.Signals, s)
	nl.names[s.Name] = id
	return s
}

// Rename changes the name of s, keeping names unique.
func (nl *Netlist) Rename(s *Signal, name string) {
	if s.Name == name { return }
	delete(nl.names, s.Name)
	s.Name = nl.UniqueName(name)
	nl.names[s.Name] = s.ID
}

// AddNode creates a node driving out.
func (nl *Netlist) AddNode(op Op, out SignalID, args ...SignalID) *Node {
	n := &Node{ID: NodeID(len(nl.Nodes)), Op: op, Args: args, Out: out, Mem: None, Clock: None, Domain: None}
	nl.Nodes = append(nl.Nodes, n)
	if out >= 0 && nl.Signals[out].Driver == None {
		nl.Signals[out].Driver = int(n.ID)
	}
	return n
}

func (nl *Netlist) AddRegister(name string, t bits.Type, clock SignalID, edge Edge) *Register {
	q := nl.AddSignal(name, KindRegOut, t)
	r := &Register{ID: RegID(len(nl.Registers)), Name: q.Name, Type: t, Q: q.ID, D: None, Clock: clock, Edge: edge, Reset: None, Domain: None}
	q.Driver = int(r.ID)
	nl.Registers = append(nl.Registers, r)
	return r
}

func (nl *Netlist) AddMemory(name string, t bits.Type, depth int) *Memory {
	m := &Memory{ID: MemID(len(nl.Memories)), Name: name, Type: t, Depth: depth}
	nl.Memories = append(nl.Memories, m)
	return m
}

func (nl *Netlist) Output(name string) (SignalID, bool) {
	for _, p := range nl.Outputs {
		if p.Name == name { return p.Signal, true }
	}
	return None, false
}

func (nl *Netlist) Register(name string) (*Register, bool) {
	for _, r := range nl.Registers {
		if r.Name == name { return r, true }
	}
	return nil, false
}

func (nl *Netlist) Memory(name string) (*Memory, bool) {
	for _, m := range nl.Memories {
		if m.Name == name { return m, true }
	}
	return nil, false
}

func (nl *Netlist) Domain(name string) (*ClockDomain, bool) {
	for _, d := range nl.Domains {
		if d.Name == name { return d, true }
	}
	return nil, false
}

// DriverNode returns the node driving s, or nil for inputs, clocks and
// register outputs.
func (nl *Netlist) DriverNode(s SignalID) *Node {
	sig := nl.Signals[s]
	if sig.Kind == KindInput || sig.Kind == KindClock || sig.Kind == KindRegOut || sig.Driver == None {
		return nil
	}
	return nl.Nodes[sig.Driver]
}

// NodeName renders a node for diagnostics: "n12 (add -> sum)".
func (nl *Netlist) NodeName(id NodeID) string {
	n := nl.Nodes[id]
	out := "?"
	if n.Out >= 0 && int(n.Out) < len(nl.Signals) { out = nl.Signals[n.Out].Name }
	return fmt.Sprintf("n%d (%s -> %s)", id, n.Op, out)
}

func (nl *Netlist) SignalName(id SignalID) string {
	if id < 0 || int(id) >= len(nl.Signals) { return "<none>" }
	return nl.Signals[id].Name
}

// Readers returns, for every signal, the nodes that read it.
func (nl *Netlist) Readers() [][]NodeID {
	r := make([][]NodeID, len(nl.Signals))
	for _, n := range nl.Nodes {
		for _, a := range n.Args {
			r[a] = append(r[a], n.ID)
		}
	}
	return r
}

// Sinks lists the signals consumed by state elements and output ports: the
// roots of every live cone.
func (nl *Netlist) Sinks() []SignalID {
	var out []SignalID
	for _, p := range nl.Outputs {
		out = append(out, p.Signal)
	}
	for _, r := range nl.Registers {
		if r.D != None { out = append(out, r.D) }
		if r.Reset != None { out = append(out, r.Reset) }
	}
	for _, m := range nl.Memories {
		for _, w := range m.Writes {
			out = append(out, w.Addr, w.Data, w.Enable)
		}
	}
	return out
}

// Clone returns a deep copy sharing only the arena.
func (nl *Netlist) Clone() *Netlist {
	c := &Netlist{
		Name:      nl.Name,
		Inputs:    append([]SignalID(nil), nl.Inputs...),
		Clocks:    append([]SignalID(nil), nl.Clocks...),
		Outputs:   append([]Port(nil), nl.Outputs...),
		Arena:     nl.Arena,
		Validated: nl.Validated,
	}
	for _, s := range nl.Signals {
		cs := *s
		if s.Declared != nil { t := *s.Declared; cs.Declared = &t }
		c.Signals = append(c.Signals, &cs)
	}
	for _, n := range nl.Nodes {
		cn := *n
		cn.Args = append([]SignalID(nil), n.Args...)
		cn.Params = append([]int(nil), n.Params...)
		c.Nodes = append(c.Nodes, &cn)
	}
	for _, r := range nl.Registers {
		cr := *r
		c.Registers = append(c.Registers, &cr)
	}
	for _, m := range nl.Memories {
		cm := *m
		cm.Init = append([]bits.Value(nil), m.Init...)
		cm.Writes = append([]WritePort(nil), m.Writes...)
		c.Memories = append(c.Memories, &cm)
	}
	for _, d := range nl.Domains {
		cd := *d
		c.Domains = append(c.Domains, &cd)
	}
	c.reindex()
	return c
}
