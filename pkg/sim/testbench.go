package sim

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/diag"
)

// Stimulus drives Input to Value at cycle Time, before that cycle's edge.
type Stimulus struct {
	Time  uint64
	Input string
	Value bits.Value
}

// Expect checks Signal against Value at cycle Time, after the stimuli of
// that cycle settle and before its edge.
type Expect struct {
	Time   uint64
	Signal string
	Value  bits.Value
}

type Mismatch struct {
	Time   uint64
	Signal string
	Want   bits.Value
	Got    bits.Value
	// Err is set when the signal could not be read, typically because it is
	// still unknown.
	Err error
}

func (m Mismatch) String() string {
	if m.Err != nil { return fmt.Sprintf("cycle %d: %s: want %s, %v", m.Time, m.Signal, m.Want, m.Err) }
	return fmt.Sprintf("cycle %d: %s: want %s, got %s", m.Time, m.Signal, m.Want, m.Got)
}

// Testbench runs clocked stimuli against one domain.
type Testbench struct {
	Domain string
	// ResetCycles edges are taken with the domain armed before cycle 0.
	ResetCycles int
	// MaxSteps bounds the edges the run may take; zero means no bound.
	MaxSteps int
	Stimuli  []Stimulus
	Expects  []Expect
}

func (tb *Testbench) last() uint64 {
	var t uint64
	for _, st := range tb.Stimuli {
		if st.Time > t { t = st.Time }
	}
	for _, e := range tb.Expects {
		if e.Time > t { t = e.Time }
	}
	return t
}

// Run drives s through the bench and returns every failed expectation.
// The error is reserved for benches that cannot run at all.
func (tb *Testbench) Run(s *Session) ([]Mismatch, error) {
	last := tb.last()
	steps := uint64(tb.ResetCycles) + last
	if tb.MaxSteps > 0 && steps > uint64(tb.MaxSteps) {
		return nil, errors.Errorf("testbench needs %d clock edges, the step budget is %d", steps, tb.MaxSteps)
	}
	domain := tb.Domain
	if domain == "" {
		names := s.Domains()
		if len(names) != 1 { return nil, errors.Errorf("testbench names no domain and the design has %d", len(names)) }
		domain = names[0]
	}

	stim := append([]Stimulus(nil), tb.Stimuli...)
	sort.SliceStable(stim, func(i, j int) bool { return stim[i].Time < stim[j].Time })
	exp := append([]Expect(nil), tb.Expects...)
	sort.SliceStable(exp, func(i, j int) bool { return exp[i].Time < exp[j].Time })

	for i := 0; i < tb.ResetCycles; i++ {
		if err := s.Reset(domain); err != nil { return nil, err }
		if err := s.StepClockEdge(domain); err != nil { return nil, errors.Wrap(err, "reset") }
	}

	var out []Mismatch
	for cycle := uint64(0); cycle <= last; cycle++ {
		for len(stim) > 0 && stim[0].Time == cycle {
			st := stim[0]
			stim = stim[1:]
			if err := s.SetInput(st.Input, st.Value); err != nil {
				return out, errors.Wrapf(err, "cycle %d", cycle)
			}
		}
		if err := s.Eval(); err != nil { return out, err }
		for len(exp) > 0 && exp[0].Time == cycle {
			e := exp[0]
			exp = exp[1:]
			got, err := s.Peek(e.Signal)
			switch {
			case err != nil && diag.Is(err, diag.KindUninitializedInput):
				out = append(out, Mismatch{Time: cycle, Signal: e.Signal, Want: e.Value, Err: err})
			case err != nil:
				return out, errors.Wrapf(err, "cycle %d", cycle)
			case got.Type.Width != e.Value.Type.Width || !bits.Eq(got, e.Value):
				out = append(out, Mismatch{Time: cycle, Signal: e.Signal, Want: e.Value, Got: got})
			}
		}
		if cycle < last {
			if err := s.StepClockEdge(domain); err != nil { return out, err }
		}
	}
	return out, nil
}
