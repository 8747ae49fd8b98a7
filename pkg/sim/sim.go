// Package sim executes a schedule cycle by cycle. Values carry validity:
// a signal that depends on an input never set, or on a register before its
// first edge, is unknown (X) and reading it is an UninitializedInputError.
package sim

import (
	"fmt"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/schedule"
	"github.com/xplshn/rtlc/pkg/trace"
)

// value is a signal's current contents. When ok is false, src names the
// undriven signal the X came from.
type value struct {
	v   bits.Value
	ok  bool
	src ir.SignalID
}

// Session is one simulation over a shared schedule. It is not safe for
// concurrent use; run one session per goroutine.
type Session struct {
	s      *schedule.Schedule
	nl     *ir.Netlist
	vals   []value
	mems   [][]value
	armed  []bool
	dirty  bool
	time   uint64
	period uint64
	edges  uint64
	por    bool
	sink   trace.Sink
	falls  []trace.Event
	closed bool
}

type Option func(*Session)

// WithSink attaches a trace sink. Each settle of the logic emits one batch
// with an event per signal: Eval, every clock edge, a Peek after inputs
// changed and the catch-up before an edge that follows an input change. A
// clock keeps its level in a batch while its fall is still pending.
func WithSink(sink trace.Sink) Option { return func(s *Session) { s.sink = sink } }

// WithPowerOnReset loads reset values (or zero) into every register and
// zero into uninitialized memory words when the session starts.
func WithPowerOnReset(on bool) Option { return func(s *Session) { s.por = on } }

// WithConfig takes power-on reset and the trace period from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Session) {
		if cfg == nil { return }
		s.por = cfg.IsFeatureEnabled(config.FeatPowerOnReset)
		if cfg.TracePeriod > 0 { s.period = cfg.TracePeriod }
	}
}

func NewSession(s *schedule.Schedule, opts ...Option) *Session {
	nl := s.Netlist
	ss := &Session{
		s:      s,
		nl:     nl,
		vals:   make([]value, len(nl.Signals)),
		mems:   make([][]value, len(nl.Memories)),
		armed:  make([]bool, len(s.Domains)),
		dirty:  true,
		period: 10,
	}
	for _, o := range opts {
		o(ss)
	}
	for i, sig := range nl.Signals {
		ss.vals[i] = value{v: bits.Zero(sig.Type), src: ir.SignalID(i)}
	}
	for _, c := range nl.Clocks {
		ss.vals[c] = value{v: bits.Zero(nl.Signals[c].Type), ok: true, src: c}
	}
	if ss.por {
		for _, r := range nl.Registers {
			rv := bits.Zero(r.Type)
			if r.ResetValue != nil { rv = *r.ResetValue }
			ss.vals[r.Q] = value{v: rv, ok: true, src: r.Q}
		}
	}
	for i, m := range nl.Memories {
		words := make([]value, m.Depth)
		for a := range words {
			switch {
			case a < len(m.Init): words[a] = value{v: m.Init[a], ok: true}
			case ss.por: words[a] = value{v: bits.Zero(m.Type), ok: true}
			default: words[a] = value{v: bits.Zero(m.Type), src: ir.None}
			}
		}
		ss.mems[i] = words
	}
	return ss
}

// Schedule returns the schedule the session runs.
func (s *Session) Schedule() *schedule.Schedule { return s.s }

// Time is the trace time of the latest edge.
func (s *Session) Time() uint64 { return s.time }

// Cycles counts the clock edges taken so far, over all domains.
func (s *Session) Cycles() uint64 { return s.edges }

func (s *Session) signal(name string) (*ir.Signal, error) {
	if id, ok := s.nl.Output(name); ok { return s.nl.Signals[id], nil }
	if sig, ok := s.nl.Lookup(name); ok { return sig, nil }
	if r, ok := s.nl.Register(name); ok { return s.nl.Signals[r.Q], nil }
	return nil, fmt.Errorf("no signal named %q in %s", name, s.nl.Name)
}

// Type returns the type of a named signal, port or register.
func (s *Session) Type(name string) (bits.Type, error) {
	sig, err := s.signal(name)
	if err != nil { return bits.Type{}, err }
	return sig.Type, nil
}

// SetInput drives an input port. The value must have the port's width; its
// signedness is taken from the port.
func (s *Session) SetInput(name string, v bits.Value) error {
	sig, err := s.signal(name)
	if err != nil { return err }
	if sig.Kind != ir.KindInput { return fmt.Errorf("%s is a %s, not an input", name, sig.Kind) }
	if v.Type.Width != sig.Type.Width {
		return fmt.Errorf("value %s does not fit input %s (%s)", v, name, sig.Type)
	}
	s.vals[sig.ID] = value{v: v.As(sig.Type.Signed), ok: true, src: sig.ID}
	s.dirty = true
	return nil
}

// Deposit overwrites a register's current value, as a testbench preload.
func (s *Session) Deposit(reg string, v bits.Value) error {
	r, ok := s.nl.Register(reg)
	if !ok { return fmt.Errorf("no register named %q in %s", reg, s.nl.Name) }
	if v.Type.Width != r.Type.Width {
		return fmt.Errorf("value %s does not fit register %s (%s)", v, reg, r.Type)
	}
	s.vals[r.Q] = value{v: v.As(r.Type.Signed), ok: true, src: r.Q}
	s.dirty = true
	return nil
}

// Peek returns the current value of a signal, output port or register.
func (s *Session) Peek(name string) (bits.Value, error) {
	sig, err := s.signal(name)
	if err != nil { return bits.Value{}, err }
	if s.dirty {
		s.settle()
		if err := s.emit(); err != nil { return bits.Value{}, err }
	}
	v := s.vals[sig.ID]
	if !v.ok { return bits.Value{}, s.uninitialized(name, v.src) }
	return v.v, nil
}

// PeekMem returns one memory word.
func (s *Session) PeekMem(name string, addr int) (bits.Value, error) {
	m, ok := s.nl.Memory(name)
	if !ok { return bits.Value{}, fmt.Errorf("no memory named %q in %s", name, s.nl.Name) }
	if addr < 0 || addr >= m.Depth { return bits.Value{}, fmt.Errorf("address %d out of range for %s[%d]", addr, name, m.Depth) }
	w := s.mems[m.ID][addr]
	if !w.ok { return bits.Value{}, diag.UninitializedInputError(fmt.Sprintf("%s[%d]", name, addr), fmt.Sprintf("%s[%d]", name, addr)) }
	return w.v, nil
}

func (s *Session) uninitialized(name string, src ir.SignalID) error {
	source := "an uninitialized memory word"
	if src != ir.None {
		source = s.nl.SignalName(src)
		if s.nl.Signals[src].Kind == ir.KindRegOut { source = "register " + source + " before its first clock edge" }
	}
	if src != ir.None && s.nl.SignalName(src) == name { source = name }
	d := diag.UninitializedInputError(name, source)
	d.Unit = s.nl.Name
	return d
}

// Eval recomputes every combinational node and emits one trace step.
func (s *Session) Eval() error {
	s.settle()
	return s.emit()
}

func (s *Session) settle() {
	for _, id := range s.s.Order {
		s.eval(s.nl.Nodes[id])
	}
	s.dirty = false
}

// domain resolves a domain name or, when unambiguous, a clock name.
func (s *Session) domain(name string) (int, error) {
	for i, g := range s.s.Domains {
		if g.Domain.Name == name { return i, nil }
	}
	found := -1
	for i, g := range s.s.Domains {
		if s.nl.SignalName(g.Domain.Clock) != name { continue }
		if found >= 0 { return 0, fmt.Errorf("clock %s drives several domains; name one of them", name) }
		found = i
	}
	if found < 0 { return 0, fmt.Errorf("unknown clock domain %q", name) }
	return found, nil
}

// Domains lists the domain names of the schedule.
func (s *Session) Domains() []string {
	out := make([]string, len(s.s.Domains))
	for i, g := range s.s.Domains {
		out[i] = g.Domain.Name
	}
	return out
}

// Reset arms domain so that its next edge loads reset values. Registers
// without a reset value capture data as usual.
func (s *Session) Reset(domain string) error {
	i, err := s.domain(domain)
	if err != nil { return err }
	s.armed[i] = true
	return nil
}

type memWrite struct {
	mem  ir.MemID
	addr int
	data value
}

// StepClockEdge takes one active edge of domain. Every register and memory
// write of the domain samples pre-edge values; all updates then commit
// together and the combinational logic settles again.
func (s *Session) StepClockEdge(domain string) error {
	i, err := s.domain(domain)
	if err != nil { return err }
	g := &s.s.Domains[i]
	nl := s.nl
	switch {
	case s.dirty && s.sink != nil:
		if err := s.Eval(); err != nil { return err }
	case s.dirty:
		for _, id := range g.Cone {
			s.eval(nl.Nodes[id])
		}
	}

	armed := s.armed[i]
	next := make([]value, len(g.Registers))
	for k, id := range g.Registers {
		r := nl.Registers[id]
		rv := bits.Zero(r.Type)
		if r.ResetValue != nil { rv = *r.ResetValue }
		d := s.vals[r.D]
		switch {
		case armed && r.ResetValue != nil:
			d = value{v: rv, ok: true, src: r.Q}
		case r.Reset != ir.None:
			rst := s.vals[r.Reset]
			if !rst.ok {
				d = value{v: bits.Zero(r.Type), src: rst.src}
			} else if rst.v.Bool() {
				d = value{v: rv, ok: true, src: r.Q}
			}
		}
		next[k] = d
	}
	var writes []memWrite
	for _, w := range g.Writes {
		m := nl.Memories[w.Mem]
		p := m.Writes[w.Port]
		en, addr, data := s.vals[p.Enable], s.vals[p.Addr], s.vals[p.Data]
		if en.ok && !en.v.Bool() { continue }
		if !addr.ok {
			// An unknown address may hit any word.
			for a := range s.mems[m.ID] {
				writes = append(writes, memWrite{m.ID, a, value{v: bits.Zero(m.Type), src: addr.src}})
			}
			continue
		}
		a := addr.v.Uint64()
		if a >= uint64(m.Depth) { continue }
		if !en.ok { data = value{v: bits.Zero(m.Type), src: en.src} }
		writes = append(writes, memWrite{m.ID, int(a), data})
	}

	for k, id := range g.Registers {
		q := nl.Registers[id].Q
		d := next[k]
		d.v = d.v.As(nl.Signals[q].Type.Signed)
		if d.ok { d.src = q }
		s.vals[q] = d
	}
	for _, w := range writes {
		s.mems[w.mem][w.addr] = w.data
	}
	s.armed[i] = false
	s.edges++
	s.time += s.period

	clk := g.Domain.Clock
	active := bits.FromBool(g.Domain.Edge == ir.Pos)
	s.vals[clk] = value{v: active, ok: true, src: clk}
	s.settle()
	if err := s.emit(); err != nil { return err }
	s.vals[clk] = value{v: bits.FromBool(g.Domain.Edge != ir.Pos), ok: true, src: clk}
	if s.sink != nil {
		s.falls = append(s.falls, s.event(clk, s.time+s.period/2))
	}
	return nil
}

func (s *Session) event(id ir.SignalID, t uint64) trace.Event {
	sig := s.nl.Signals[id]
	v := s.vals[id]
	return trace.Event{Time: t, Signal: sig.Name, Width: sig.Type.Width, Signed: sig.Type.Signed, Value: v.v, Valid: v.ok}
}

// emit hands one step to the sink. Clock falls from the previous edge go
// first so that the sink sees time move forward.
func (s *Session) emit() error {
	if s.sink == nil { return nil }
	var evs []trace.Event
	var later []trace.Event
	for _, f := range s.falls {
		if f.Time <= s.time {
			evs = append(evs, f)
		} else {
			later = append(later, f)
		}
	}
	s.falls = later
	pending := make(map[string]bool, len(later))
	for _, f := range later {
		pending[f.Signal] = true
	}
	for id, sig := range s.nl.Signals {
		if pending[sig.Name] { continue }
		evs = append(evs, s.event(ir.SignalID(id), s.time))
	}
	return s.sink.Emit(evs)
}

// Close flushes pending clock falls and closes the sink.
func (s *Session) Close() error {
	if s.closed || s.sink == nil { return nil }
	s.closed = true
	if len(s.falls) > 0 {
		if err := s.sink.Emit(s.falls); err != nil { return err }
		s.falls = nil
	}
	return s.sink.Close()
}
