package ir

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/xplshn/rtlc/pkg/bits"
)

// RecordVersion is bumped whenever the persisted layout changes.
const RecordVersion = 1

type record struct {
	Version   int            `json:"version"`
	Name      string         `json:"name"`
	Hash      string         `json:"hash"`
	Ports     portsRecord    `json:"ports"`
	Signals   []signalRecord `json:"signals"`
	Nodes     []nodeRecord   `json:"nodes"`
	Registers []regRecord    `json:"registers"`
	Memories  []memRecord    `json:"memories,omitempty"`
	Domains   []domainRecord `json:"domains"`
}

type portsRecord struct {
	Inputs  []SignalID `json:"inputs"`
	Clocks  []SignalID `json:"clocks"`
	Outputs []Port     `json:"outputs"`
}

type signalRecord struct {
	ID       SignalID   `json:"id"`
	Name     string     `json:"name"`
	Width    int        `json:"width"`
	Signed   bool       `json:"signed"`
	Kind     string     `json:"kind"`
	Driver   int        `json:"driver"`
	Declared *bits.Type `json:"declared,omitempty"`
	Domain   DomainID   `json:"domain"`
}

type nodeRecord struct {
	ID     NodeID      `json:"id"`
	Op     string      `json:"op"`
	Args   []SignalID  `json:"args"`
	Params []int       `json:"params,omitempty"`
	Out    SignalID    `json:"out"`
	Const  *bits.Value `json:"const,omitempty"`
	Mem    *MemID      `json:"mem,omitempty"`
	Clock  *SignalID   `json:"clock,omitempty"`
	Edge   string      `json:"edge,omitempty"`
	Domain *DomainID   `json:"domain,omitempty"`
}

type regRecord struct {
	ID         RegID       `json:"id"`
	Name       string      `json:"name"`
	Type       bits.Type   `json:"type"`
	Q          SignalID    `json:"q"`
	D          SignalID    `json:"d"`
	Clock      SignalID    `json:"clock"`
	Edge       string      `json:"edge"`
	Reset      *SignalID   `json:"reset,omitempty"`
	ResetValue *bits.Value `json:"reset_value,omitempty"`
	Domain     DomainID    `json:"domain"`
}

type memRecord struct {
	ID     MemID         `json:"id"`
	Name   string        `json:"name"`
	Depth  int           `json:"depth"`
	Type   bits.Type     `json:"type"`
	Init   []bits.Value  `json:"init,omitempty"`
	Writes []writeRecord `json:"writes,omitempty"`
}

type writeRecord struct {
	Clock  SignalID `json:"clock"`
	Edge   string   `json:"edge"`
	Addr   SignalID `json:"addr"`
	Data   SignalID `json:"data"`
	Enable SignalID `json:"enable"`
	Domain DomainID `json:"domain"`
}

type domainRecord struct {
	ID    DomainID `json:"id"`
	Name  string   `json:"name"`
	Clock SignalID `json:"clock"`
	Edge  string   `json:"edge"`
}

func toRecord(nl *Netlist) *record {
	rec := &record{
		Version: RecordVersion,
		Name:    nl.Name,
		Ports:   portsRecord{Inputs: nl.Inputs, Clocks: nl.Clocks, Outputs: nl.Outputs},
	}
	for _, s := range nl.Signals {
		rec.Signals = append(rec.Signals, signalRecord{
			ID: s.ID, Name: s.Name, Width: s.Type.Width, Signed: s.Type.Signed,
			Kind: s.Kind.String(), Driver: s.Driver, Declared: s.Declared, Domain: s.Domain,
		})
	}
	for _, n := range nl.Nodes {
		nr := nodeRecord{ID: n.ID, Op: n.Op.String(), Args: n.Args, Params: n.Params, Out: n.Out, Const: n.Const}
		if n.Args == nil { nr.Args = []SignalID{} }
		if n.Mem != None { m := n.Mem; nr.Mem = &m }
		if n.Op == OpSync {
			c, d := n.Clock, n.Domain
			nr.Clock, nr.Domain, nr.Edge = &c, &d, n.Edge.String()
		}
		rec.Nodes = append(rec.Nodes, nr)
	}
	for _, r := range nl.Registers {
		rr := regRecord{ID: r.ID, Name: r.Name, Type: r.Type, Q: r.Q, D: r.D, Clock: r.Clock, Edge: r.Edge.String(), ResetValue: r.ResetValue, Domain: r.Domain}
		if r.Reset != None { rs := r.Reset; rr.Reset = &rs }
		rec.Registers = append(rec.Registers, rr)
	}
	for _, m := range nl.Memories {
		mr := memRecord{ID: m.ID, Name: m.Name, Depth: m.Depth, Type: m.Type, Init: m.Init}
		for _, w := range m.Writes {
			mr.Writes = append(mr.Writes, writeRecord{Clock: w.Clock, Edge: w.Edge.String(), Addr: w.Addr, Data: w.Data, Enable: w.Enable, Domain: w.Domain})
		}
		rec.Memories = append(rec.Memories, mr)
	}
	for _, d := range nl.Domains {
		rec.Domains = append(rec.Domains, domainRecord{ID: d.ID, Name: d.Name, Clock: d.Clock, Edge: d.Edge.String()})
	}
	return rec
}

func (rec *record) digest() (string, error) {
	h := rec.Hash
	rec.Hash = ""
	body, err := json.Marshal(rec)
	rec.Hash = h
	if err != nil { return "", err }
	return strconv.FormatUint(xxhash.Sum64(body), 16), nil
}

// Save writes the persisted form of a validated netlist.
func Save(w io.Writer, nl *Netlist) error {
	if !nl.Validated { return errors.Errorf("netlist %s has not been validated", nl.Name) }
	rec := toRecord(nl)
	sum, err := rec.digest()
	if err != nil { return errors.Wrap(err, "encoding netlist") }
	rec.Hash = sum
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(rec), "writing netlist")
}

// Load reads a persisted netlist into a fresh arena. The result is marked
// validated and may go straight to the scheduler.
func Load(r io.Reader) (*Netlist, error) { return LoadInto(r, NewArena()) }

func LoadInto(r io.Reader, arena *Arena) (*Netlist, error) {
	var rec record
	if err := json.NewDecoder(r).Decode(&rec); err != nil {
		return nil, errors.Wrap(err, "decoding netlist")
	}
	if rec.Version != RecordVersion {
		return nil, errors.Errorf("netlist record version %d, want %d", rec.Version, RecordVersion)
	}
	sum, err := rec.digest()
	if err != nil { return nil, errors.Wrap(err, "hashing netlist") }
	if sum != rec.Hash {
		return nil, errors.Errorf("netlist %s: hash mismatch (recorded %s, computed %s)", rec.Name, rec.Hash, sum)
	}
	nl, err := fromRecord(&rec, arena)
	if err != nil { return nil, errors.Wrapf(err, "netlist %s", rec.Name) }
	return nl, nil
}

// paramCount is the number of Params an opcode carries, or -1 when it has
// none to check.
func paramCount(op Op, nargs int) int {
	switch op {
	case OpCase:
		return nargs - 2
	case OpSlice, OpResize:
		return 2
	case OpDynSlice, OpSplice:
		return 1
	}
	return -1
}

func fromRecord(rec *record, arena *Arena) (*Netlist, error) {
	nl := New(rec.Name, arena)
	nsig, nnode, nmem, ndom := len(rec.Signals), len(rec.Nodes), len(rec.Memories), len(rec.Domains)
	sigOK := func(id SignalID) bool { return id >= 0 && int(id) < nsig }
	domOK := func(id DomainID) bool { return id == None || (id >= 0 && int(id) < ndom) }
	for _, id := range append(append([]SignalID(nil), rec.Ports.Inputs...), rec.Ports.Clocks...) {
		if !sigOK(id) { return nil, fmt.Errorf("port signal %d out of range", id) }
	}
	for _, p := range rec.Ports.Outputs {
		if !sigOK(p.Signal) { return nil, fmt.Errorf("output %s: signal %d out of range", p.Name, p.Signal) }
	}
	nl.Inputs, nl.Clocks, nl.Outputs = rec.Ports.Inputs, rec.Ports.Clocks, rec.Ports.Outputs
	for i, sr := range rec.Signals {
		if int(sr.ID) != i { return nil, fmt.Errorf("signal %d out of order", sr.ID) }
		kind, ok := ParseSignalKind(sr.Kind)
		if !ok { return nil, fmt.Errorf("signal %s: unknown kind %q", sr.Name, sr.Kind) }
		drivers := nnode
		if kind == KindRegOut { drivers = len(rec.Registers) }
		if sr.Driver != None && (sr.Driver < 0 || sr.Driver >= drivers) {
			return nil, fmt.Errorf("signal %s: driver %d out of range", sr.Name, sr.Driver)
		}
		if !domOK(sr.Domain) { return nil, fmt.Errorf("signal %s: domain %d out of range", sr.Name, sr.Domain) }
		s := &Signal{ID: sr.ID, Name: sr.Name, Type: bits.Type{Width: sr.Width, Signed: sr.Signed}, Declared: sr.Declared, Kind: kind, Driver: sr.Driver, Domain: sr.Domain}
		nl.Signals = append(nl.Signals, s)
	}
	for i, nr := range rec.Nodes {
		if int(nr.ID) != i { return nil, fmt.Errorf("node %d out of order", nr.ID) }
		op, ok := ParseOp(nr.Op)
		if !ok { return nil, fmt.Errorf("node %d: unknown opcode %q", nr.ID, nr.Op) }
		if a := op.Arity(); a >= 0 && a != len(nr.Args) {
			return nil, fmt.Errorf("node %d: %s takes %d operands, got %d", nr.ID, op, a, len(nr.Args))
		}
		if op == OpCase && len(nr.Args) < 2 {
			return nil, fmt.Errorf("node %d: case needs a discriminant and a default", nr.ID)
		}
		if want := paramCount(op, len(nr.Args)); want >= 0 && len(nr.Params) != want {
			return nil, fmt.Errorf("node %d: %s takes %d parameters, got %d", nr.ID, op, want, len(nr.Params))
		}
		for _, a := range append(append([]SignalID(nil), nr.Args...), nr.Out) {
			if !sigOK(a) { return nil, fmt.Errorf("node %d: signal %d out of range", nr.ID, a) }
		}
		n := &Node{ID: nr.ID, Op: op, Args: nr.Args, Params: nr.Params, Out: nr.Out, Mem: None, Clock: None, Domain: None}
		if nr.Const != nil { n.Const = arena.Const(*nr.Const) }
		if nr.Mem != nil {
			if *nr.Mem < 0 || int(*nr.Mem) >= nmem { return nil, fmt.Errorf("node %d: memory %d out of range", nr.ID, *nr.Mem) }
			n.Mem = *nr.Mem
		}
		if nr.Clock != nil {
			if !sigOK(*nr.Clock) { return nil, fmt.Errorf("node %d: clock %d out of range", nr.ID, *nr.Clock) }
			n.Clock = *nr.Clock
		}
		if nr.Domain != nil {
			if !domOK(*nr.Domain) { return nil, fmt.Errorf("node %d: domain %d out of range", nr.ID, *nr.Domain) }
			n.Domain = *nr.Domain
		}
		if nr.Edge != "" {
			e, err := ParseEdge(nr.Edge)
			if err != nil { return nil, err }
			n.Edge = e
		}
		switch {
		case op == OpConst && n.Const == nil:
			return nil, fmt.Errorf("node %d: constant without value", nr.ID)
		case op == OpMemRead && n.Mem == None:
			return nil, fmt.Errorf("node %d: memory read without memory", nr.ID)
		case op == OpSync && n.Clock == None:
			return nil, fmt.Errorf("node %d: sync without clock", nr.ID)
		}
		nl.Nodes = append(nl.Nodes, n)
	}
	for i, rr := range rec.Registers {
		if int(rr.ID) != i { return nil, fmt.Errorf("register %d out of order", rr.ID) }
		e, err := ParseEdge(rr.Edge)
		if err != nil { return nil, err }
		if !sigOK(rr.Q) || !sigOK(rr.D) || !sigOK(rr.Clock) || (rr.Reset != nil && !sigOK(*rr.Reset)) {
			return nil, fmt.Errorf("register %s: signal out of range", rr.Name)
		}
		if !domOK(rr.Domain) { return nil, fmt.Errorf("register %s: domain %d out of range", rr.Name, rr.Domain) }
		r := &Register{ID: rr.ID, Name: rr.Name, Type: rr.Type, Q: rr.Q, D: rr.D, Clock: rr.Clock, Edge: e, Reset: None, Domain: rr.Domain}
		if rr.Reset != nil { r.Reset = *rr.Reset }
		if rr.ResetValue != nil { r.ResetValue = arena.Const(*rr.ResetValue) }
		nl.Registers = append(nl.Registers, r)
	}
	for i, mr := range rec.Memories {
		if int(mr.ID) != i { return nil, fmt.Errorf("memory %d out of order", mr.ID) }
		if mr.Depth <= 0 || len(mr.Init) > mr.Depth {
			return nil, fmt.Errorf("memory %s: %d initial words for depth %d", mr.Name, len(mr.Init), mr.Depth)
		}
		m := &Memory{ID: mr.ID, Name: mr.Name, Depth: mr.Depth, Type: mr.Type, Init: mr.Init}
		for j, wr := range mr.Writes {
			e, err := ParseEdge(wr.Edge)
			if err != nil { return nil, err }
			if !sigOK(wr.Clock) || !sigOK(wr.Addr) || !sigOK(wr.Data) || !sigOK(wr.Enable) {
				return nil, fmt.Errorf("memory %s: write port %d: signal out of range", mr.Name, j)
			}
			if !domOK(wr.Domain) { return nil, fmt.Errorf("memory %s: write port %d: domain %d out of range", mr.Name, j, wr.Domain) }
			m.Writes = append(m.Writes, WritePort{Clock: wr.Clock, Edge: e, Addr: wr.Addr, Data: wr.Data, Enable: wr.Enable, Domain: wr.Domain})
		}
		nl.Memories = append(nl.Memories, m)
	}
	for i, dr := range rec.Domains {
		if int(dr.ID) != i { return nil, fmt.Errorf("domain %d out of order", dr.ID) }
		e, err := ParseEdge(dr.Edge)
		if err != nil { return nil, err }
		if !sigOK(dr.Clock) { return nil, fmt.Errorf("domain %s: clock %d out of range", dr.Name, dr.Clock) }
		nl.Domains = append(nl.Domains, &ClockDomain{ID: dr.ID, Name: dr.Name, Clock: dr.Clock, Edge: e})
	}
	nl.reindex()
	nl.Reshape()
	nl.Validated = true
	return nl, nil
}
