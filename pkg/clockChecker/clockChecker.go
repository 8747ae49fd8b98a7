// Package clockChecker partitions sequential elements into clock domains and
// rejects netlists with multiply-driven signals, combinational loops or
// unsynchronized clock-domain crossings.
package clockChecker

import (
	"fmt"

	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
)

// Colors of the clock coherence analysis. Values >= 0 are domain ids.
const (
	uncolored = -1
	multi     = -2
)

type Checker struct {
	cfg   *config.Config
	nl    *ir.Netlist
	diags diag.List
	color []int
}

func NewChecker(cfg *config.Config) *Checker {
	if cfg == nil { cfg = config.NewConfig() }
	return &Checker{cfg: cfg}
}

func (c *Checker) Check(nl *ir.Netlist) diag.List {
	c.nl, c.diags = nl, nil
	c.checkDrivers()
	order, looped := c.checkLoops()
	c.assignDomains()
	c.colorSignals(order, looped)
	c.checkCrossings()
	c.diags.SetUnit(nl.Name)
	return c.diags
}

func (c *Checker) checkDrivers() {
	nl := c.nl
	drivers := make([][]string, len(nl.Signals))
	for _, n := range nl.Nodes {
		drivers[n.Out] = append(drivers[n.Out], nl.NodeName(n.ID))
	}
	for _, r := range nl.Registers {
		drivers[r.Q] = append(drivers[r.Q], "register "+r.Name)
	}
	for id, ds := range drivers {
		s := nl.Signals[id]
		switch {
		case len(ds) > 1:
			c.diags.Add(diag.MultipleDriverError(s.Name, ds))
		case len(ds) == 1 && (s.Kind == ir.KindInput || s.Kind == ir.KindClock):
			c.diags.Add(diag.MultipleDriverError(s.Name, append([]string{"port " + s.Name}, ds...)))
		}
	}
}

// checkLoops runs a white/grey/black depth-first search over combinational
// edges. It returns the nodes in dependency order and marks the nodes that
// sit on a cycle.
func (c *Checker) checkLoops() ([]ir.NodeID, []bool) {
	const (
		white = iota
		grey
		black
	)
	nl := c.nl
	state := make([]int, len(nl.Nodes))
	looped := make([]bool, len(nl.Nodes))
	var order []ir.NodeID
	type frame struct {
		id  ir.NodeID
		arg int
	}
	for root := range nl.Nodes {
		if state[root] != white { continue }
		stack := []frame{{ir.NodeID(root), 0}}
		state[root] = grey
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			n := nl.Nodes[top.id]
			if top.arg == len(n.Args) {
				state[top.id] = black
				order = append(order, top.id)
				stack = stack[:len(stack)-1]
				continue
			}
			a := n.Args[top.arg]
			top.arg++
			d := c.driver(a)
			if d == nil { continue }
			switch state[d.ID] {
			case white:
				state[d.ID] = grey
				stack = append(stack, frame{d.ID, 0})
			case grey:
				// d is on the current path: the cycle runs from d to top.
				var cycle []string
				start := len(stack) - 1
				for stack[start].id != d.ID {
					start--
				}
				for _, f := range stack[start:] {
					looped[f.id] = true
					cycle = append(cycle, nl.NodeName(f.id))
				}
				c.diags.Add(diag.CombinationalLoopError(cycle))
			}
		}
	}
	return order, looped
}

// driver returns the node driving s, treating a signal with several drivers
// as driven by the first.
func (c *Checker) driver(s ir.SignalID) *ir.Node {
	sig := c.nl.Signals[s]
	if sig.Kind == ir.KindInput || sig.Kind == ir.KindClock || sig.Kind == ir.KindRegOut { return nil }
	if sig.Driver == ir.None || sig.Driver >= len(c.nl.Nodes) { return nil }
	return c.nl.Nodes[sig.Driver]
}

func (c *Checker) domainFor(clock ir.SignalID, edge ir.Edge) *ir.ClockDomain {
	for _, d := range c.nl.Domains {
		if d.Clock == clock && d.Edge == edge { return d }
	}
	d := &ir.ClockDomain{
		ID:    ir.DomainID(len(c.nl.Domains)),
		Name:  fmt.Sprintf("%s_%s", c.nl.SignalName(clock), edge),
		Clock: clock,
		Edge:  edge,
	}
	c.nl.Domains = append(c.nl.Domains, d)
	return d
}

func (c *Checker) assignDomains() {
	nl := c.nl
	nl.Domains = nil
	for _, r := range nl.Registers {
		if nl.Signals[r.Clock].Kind != ir.KindClock {
			c.diags.Add(diag.ClockDomainError(r.Name, "register is clocked by %s, which is not a clock input", nl.SignalName(r.Clock)))
		}
		r.Domain = c.domainFor(r.Clock, r.Edge).ID
	}
	for _, m := range nl.Memories {
		for i := range m.Writes {
			w := &m.Writes[i]
			if nl.Signals[w.Clock].Kind != ir.KindClock {
				c.diags.Add(diag.ClockDomainError(m.Name, "memory write is clocked by %s, which is not a clock input", nl.SignalName(w.Clock)))
			}
			w.Domain = c.domainFor(w.Clock, w.Edge).ID
		}
	}
}

func join(a, b int) int {
	switch {
	case a == uncolored: return b
	case b == uncolored: return a
	case a == b: return a
	}
	return multi
}

func (c *Checker) colorSignals(order []ir.NodeID, looped []bool) {
	nl := c.nl
	c.color = make([]int, len(nl.Signals))
	for i := range c.color {
		c.color[i] = uncolored
	}
	for _, r := range nl.Registers {
		c.color[r.Q] = int(r.Domain)
	}
	memColor := make([]int, len(nl.Memories))
	for i, m := range nl.Memories {
		memColor[i] = uncolored
		for _, w := range m.Writes {
			memColor[i] = join(memColor[i], int(w.Domain))
		}
	}
	for _, id := range order {
		n := nl.Nodes[id]
		if looped[id] { continue }
		col := uncolored
		for _, a := range n.Args {
			if nl.Signals[a].Kind == ir.KindClock {
				c.diags.Add(diag.ClockDomainError(nl.NodeName(id), "clock %s is used as data", nl.SignalName(a)))
			}
			col = join(col, c.color[a])
		}
		switch n.Op {
		case ir.OpSync:
			// A marker into a domain without sequential elements keeps the
			// source color, so the reader still sees the crossing.
			n.Domain = ir.None
			for _, d := range nl.Domains {
				if d.Clock == n.Clock && d.Edge == n.Edge {
					col = int(d.ID)
					n.Domain = d.ID
				}
			}
			if n.Domain == ir.None {
				c.diags.Add(diag.ClockDomainError(nl.NodeName(id), "sync into %s_%s, which has no sequential elements",
					nl.SignalName(n.Clock), n.Edge))
			}
		case ir.OpMemRead:
			col = join(col, memColor[n.Mem])
		}
		c.color[n.Out] = col
	}
	for _, s := range nl.Signals {
		s.Domain = ir.None
		if col := c.color[s.ID]; col >= 0 { s.Domain = ir.DomainID(col) }
	}
}

func (c *Checker) checkCrossings() {
	nl := c.nl
	allow := c.cfg.IsFeatureEnabled(config.FeatAllowCDC)
	check := func(who string, dom ir.DomainID, what string, s ir.SignalID) {
		if nl.Signals[s].Kind == ir.KindClock {
			c.diags.Add(diag.ClockDomainError(who, "%s is the clock %s", what, nl.SignalName(s)))
			return
		}
		col := c.color[s]
		if col == uncolored || col == int(dom) || allow { return }
		src := "several domains"
		if col >= 0 { src = nl.Domains[col].Name }
		c.diags.Add(diag.ClockDomainError(who, "%s %s comes from %s without synchronization into %s",
			what, nl.SignalName(s), src, nl.Domains[dom].Name))
	}
	for _, r := range nl.Registers {
		check(r.Name, r.Domain, "data input", r.D)
		if r.Reset != ir.None { check(r.Name, r.Domain, "reset", r.Reset) }
	}
	for _, m := range nl.Memories {
		for i, w := range m.Writes {
			who := fmt.Sprintf("%s.write[%d]", m.Name, i)
			check(who, w.Domain, "address", w.Addr)
			check(who, w.Domain, "data", w.Data)
			check(who, w.Domain, "enable", w.Enable)
		}
	}
}
