package ir

import "github.com/xplshn/rtlc/pkg/bits"

// Prune returns a copy of nl that keeps only the nodes marked in live,
// renumbering nodes and signals densely in their original order. Ports,
// register outputs and every signal a kept element refers to survive.
func (nl *Netlist) Prune(live []bool) *Netlist {
	keepSig := make([]bool, len(nl.Signals))
	for _, id := range nl.Inputs {
		keepSig[id] = true
	}
	for _, id := range nl.Clocks {
		keepSig[id] = true
	}
	for _, p := range nl.Outputs {
		keepSig[p.Signal] = true
	}
	for _, n := range nl.Nodes {
		if !live[n.ID] { continue }
		keepSig[n.Out] = true
		for _, a := range n.Args {
			keepSig[a] = true
		}
		if n.Op == OpSync { keepSig[n.Clock] = true }
	}
	for _, r := range nl.Registers {
		keepSig[r.Q], keepSig[r.D], keepSig[r.Clock] = true, true, true
		if r.Reset != None { keepSig[r.Reset] = true }
	}
	for _, m := range nl.Memories {
		for _, w := range m.Writes {
			keepSig[w.Clock], keepSig[w.Addr], keepSig[w.Data], keepSig[w.Enable] = true, true, true, true
		}
	}

	sigMap := make([]SignalID, len(nl.Signals))
	nodeMap := make([]NodeID, len(nl.Nodes))
	out := &Netlist{Name: nl.Name, Arena: nl.Arena, Validated: nl.Validated}
	for _, n := range nl.Nodes {
		nodeMap[n.ID] = None
		if live[n.ID] { nodeMap[n.ID] = NodeID(len(out.Nodes)); out.Nodes = append(out.Nodes, nil) }
	}
	for _, s := range nl.Signals {
		sigMap[s.ID] = None
		if !keepSig[s.ID] { continue }
		cs := *s
		if s.Declared != nil { t := *s.Declared; cs.Declared = &t }
		cs.ID = SignalID(len(out.Signals))
		sigMap[s.ID] = cs.ID
		out.Signals = append(out.Signals, &cs)
	}
	for _, s := range out.Signals {
		if s.Kind == KindRegOut || s.Driver == None { continue }
		if live[s.Driver] {
			s.Driver = int(nodeMap[s.Driver])
		} else {
			s.Driver = None
		}
	}
	for _, n := range nl.Nodes {
		if !live[n.ID] { continue }
		cn := *n
		cn.ID = nodeMap[n.ID]
		cn.Out = sigMap[n.Out]
		cn.Args = make([]SignalID, len(n.Args))
		for i, a := range n.Args {
			cn.Args[i] = sigMap[a]
		}
		cn.Params = append([]int(nil), n.Params...)
		if n.Op == OpSync { cn.Clock = sigMap[n.Clock] }
		out.Nodes[cn.ID] = &cn
	}
	remap := func(ids []SignalID) []SignalID {
		r := make([]SignalID, len(ids))
		for i, id := range ids {
			r[i] = sigMap[id]
		}
		return r
	}
	out.Inputs = remap(nl.Inputs)
	out.Clocks = remap(nl.Clocks)
	for _, p := range nl.Outputs {
		out.Outputs = append(out.Outputs, Port{Name: p.Name, Signal: sigMap[p.Signal]})
	}
	for _, r := range nl.Registers {
		cr := *r
		cr.Q, cr.D, cr.Clock = sigMap[r.Q], sigMap[r.D], sigMap[r.Clock]
		if r.Reset != None { cr.Reset = sigMap[r.Reset] }
		out.Registers = append(out.Registers, &cr)
	}
	for _, m := range nl.Memories {
		cm := *m
		cm.Init = append([]bits.Value(nil), m.Init...)
		cm.Writes = make([]WritePort, len(m.Writes))
		for i, w := range m.Writes {
			w.Clock, w.Addr, w.Data, w.Enable = sigMap[w.Clock], sigMap[w.Addr], sigMap[w.Data], sigMap[w.Enable]
			cm.Writes[i] = w
		}
		out.Memories = append(out.Memories, &cm)
	}
	for _, d := range nl.Domains {
		cd := *d
		cd.Clock = sigMap[d.Clock]
		out.Domains = append(out.Domains, &cd)
	}
	out.reindex()
	return out
}
