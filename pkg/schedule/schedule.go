// Package schedule derives the evaluation plan shared by code generation and
// simulation: a topological order of the combinational nodes and, per clock
// domain, the registers and memory writes that update on its edge.
package schedule

import (
	"container/heap"
	"fmt"
	"strings"

	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
)

// WriteRef names one memory write port.
type WriteRef struct {
	Mem  ir.MemID
	Port int
}

// Group is the sequential update of one clock domain. Registers and Writes
// commit together at the edge; their relative order carries no meaning.
type Group struct {
	Domain    *ir.ClockDomain
	Registers []ir.RegID
	Writes    []WriteRef
	// Cone lists, in schedule order, the nodes that feed the group's next
	// state.
	Cone []ir.NodeID
}

// Schedule is immutable once built and may be shared by any number of
// simulation sessions and code generators.
type Schedule struct {
	Netlist *ir.Netlist
	Order   []ir.NodeID
	Domains []Group
}

type idHeap []ir.NodeID

func (h idHeap) Len() int            { return len(h) }
func (h idHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x interface{}) { *h = append(*h, x.(ir.NodeID)) }
func (h *idHeap) Pop() interface{} {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}

// Build schedules a validated netlist. Errors are SchedulingErrors and point
// at a checker defect, never at a user mistake.
func Build(nl *ir.Netlist) (*Schedule, error) {
	var diags diag.List
	for _, s := range nl.Signals {
		if !s.Type.Valid() {
			diags.Add(diag.SchedulingError("signal has no resolved width").AtSignal(s.Name))
		}
	}
	for _, r := range nl.Registers {
		if r.Domain == ir.None || int(r.Domain) >= len(nl.Domains) {
			diags.Add(diag.SchedulingError("register has no clock domain").AtSignal(r.Name))
		}
	}
	for _, m := range nl.Memories {
		for i, w := range m.Writes {
			if w.Domain == ir.None || int(w.Domain) >= len(nl.Domains) {
				diags.Add(diag.SchedulingError("write port %d has no clock domain", i).AtSignal(m.Name))
			}
		}
	}
	if len(diags) > 0 {
		diags.SetUnit(nl.Name)
		return nil, diags
	}

	order, err := topo(nl)
	if err != nil { return nil, err }
	s := &Schedule{Netlist: nl, Order: order}
	s.Domains = groups(nl, order)
	return s, nil
}

// topo is Kahn's algorithm with ties broken by node id, which is creation
// order.
func topo(nl *ir.Netlist) ([]ir.NodeID, error) {
	indeg := make([]int, len(nl.Nodes))
	users := make([][]ir.NodeID, len(nl.Nodes))
	for _, n := range nl.Nodes {
		for _, a := range n.Args {
			if d := nl.DriverNode(a); d != nil {
				indeg[n.ID]++
				users[d.ID] = append(users[d.ID], n.ID)
			}
		}
	}
	h := &idHeap{}
	for id, d := range indeg {
		if d == 0 { *h = append(*h, ir.NodeID(id)) }
	}
	heap.Init(h)
	order := make([]ir.NodeID, 0, len(nl.Nodes))
	for h.Len() > 0 {
		id := heap.Pop(h).(ir.NodeID)
		order = append(order, id)
		for _, u := range users[id] {
			indeg[u]--
			if indeg[u] == 0 { heap.Push(h, u) }
		}
	}
	if len(order) != len(nl.Nodes) {
		var stuck []string
		for id, d := range indeg {
			if d > 0 { stuck = append(stuck, nl.NodeName(ir.NodeID(id))) }
		}
		l := diag.List{diag.SchedulingError("combinational cycle survived checking through %s", strings.Join(stuck, ", "))}
		l.SetUnit(nl.Name)
		return nil, l
	}
	return order, nil
}

func groups(nl *ir.Netlist, order []ir.NodeID) []Group {
	gs := make([]Group, len(nl.Domains))
	roots := make([][]ir.SignalID, len(nl.Domains))
	for i, d := range nl.Domains {
		gs[i].Domain = d
	}
	for _, r := range nl.Registers {
		gs[r.Domain].Registers = append(gs[r.Domain].Registers, r.ID)
		roots[r.Domain] = append(roots[r.Domain], r.D)
		if r.Reset != ir.None { roots[r.Domain] = append(roots[r.Domain], r.Reset) }
	}
	for _, m := range nl.Memories {
		for i, w := range m.Writes {
			gs[w.Domain].Writes = append(gs[w.Domain].Writes, WriteRef{Mem: m.ID, Port: i})
			roots[w.Domain] = append(roots[w.Domain], w.Addr, w.Data, w.Enable)
		}
	}
	for i := range gs {
		in := cone(nl, roots[i])
		for _, id := range order {
			if in[id] { gs[i].Cone = append(gs[i].Cone, id) }
		}
	}
	return gs
}

// cone marks the nodes reachable backwards from roots through combinational
// edges.
func cone(nl *ir.Netlist, roots []ir.SignalID) []bool {
	in := make([]bool, len(nl.Nodes))
	stack := append([]ir.SignalID(nil), roots...)
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		d := nl.DriverNode(s)
		if d == nil || in[d.ID] { continue }
		in[d.ID] = true
		stack = append(stack, d.Args...)
	}
	return in
}

// Group returns the update group of the named domain.
func (s *Schedule) Group(domain string) (*Group, error) {
	for i := range s.Domains {
		if s.Domains[i].Domain.Name == domain { return &s.Domains[i], nil }
	}
	return nil, fmt.Errorf("unknown clock domain %q", domain)
}

// Dump renders the schedule for --dump-schedule.
func (s *Schedule) Dump() string {
	nl := s.Netlist
	var sb strings.Builder
	fmt.Fprintf(&sb, "schedule %s\n", nl.Name)
	for i, id := range s.Order {
		fmt.Fprintf(&sb, "  %4d  %s\n", i, nl.NodeName(id))
	}
	for _, g := range s.Domains {
		fmt.Fprintf(&sb, "domain %s (%s %s)\n", g.Domain.Name, g.Domain.Edge, nl.SignalName(g.Domain.Clock))
		for _, r := range g.Registers {
			reg := nl.Registers[r]
			fmt.Fprintf(&sb, "  reg %s <= %s\n", reg.Name, nl.SignalName(reg.D))
		}
		for _, w := range g.Writes {
			m := nl.Memories[w.Mem]
			p := m.Writes[w.Port]
			fmt.Fprintf(&sb, "  mem %s[%s] <= %s if %s\n", m.Name, nl.SignalName(p.Addr), nl.SignalName(p.Data), nl.SignalName(p.Enable))
		}
		fmt.Fprintf(&sb, "  cone %d nodes\n", len(g.Cone))
	}
	return sb.String()
}
