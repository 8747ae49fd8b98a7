package sim_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/sim"
)

func TestTestbenchCounter(t *testing.T) {
	res := compile(t, counter())
	s := sim.NewSession(res.Schedule)
	tb, err := sim.ParseBench(strings.NewReader(`
# count from zero after one reset edge
domain clk
reset 1
0 expect count 0
1 expect count 1
5 expect count 0x5
`), s.Type)
	if err != nil {
		t.Fatal(err)
	}
	mismatches, err := tb.Run(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(mismatches) != 0 {
		t.Errorf("unexpected mismatches: %v", mismatches)
	}
	if s.Cycles() != 6 {
		t.Errorf("took %d edges, want 1 reset + 5", s.Cycles())
	}
}

func TestTestbenchReportsMismatches(t *testing.T) {
	res := compile(t, dreg())
	s := sim.NewSession(res.Schedule)
	tb := &sim.Testbench{
		Stimuli: []sim.Stimulus{
			{Time: 0, Input: "d", Value: bits.FromUint64(bits.U8, 3)},
			{Time: 1, Input: "d", Value: bits.FromUint64(bits.U8, 4)},
		},
		Expects: []sim.Expect{
			{Time: 2, Signal: "q", Value: bits.FromUint64(bits.U8, 4)},
			{Time: 1, Signal: "q", Value: bits.FromUint64(bits.U8, 9)},
			{Time: 0, Signal: "q", Value: bits.FromUint64(bits.U8, 0)},
		},
	}
	mismatches, err := tb.Run(s)
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, m := range mismatches {
		got = append(got, m.Signal)
		if m.Time == 0 && m.Err == nil {
			t.Errorf("cycle 0: register read before its first edge, want an error, got %s", m.Got)
		}
		if m.Time == 1 && m.Got.Uint64() != 3 {
			t.Errorf("cycle 1: got %s, want 3", m.Got)
		}
	}
	if diff := cmp.Diff([]string{"q", "q"}, got); diff != "" {
		t.Errorf("mismatched signals (-want +got):\n%s", diff)
	}
	if mismatches[0].Time != 0 || mismatches[1].Time != 1 {
		t.Errorf("mismatches out of cycle order: %v", mismatches)
	}
}

func TestTestbenchStepBudget(t *testing.T) {
	res := compile(t, counter())
	s := sim.NewSession(res.Schedule)
	tb := &sim.Testbench{
		ResetCycles: 2,
		MaxSteps:    10,
		Expects:     []sim.Expect{{Time: 9, Signal: "count", Value: bits.FromUint64(u4, 9)}},
	}
	if _, err := tb.Run(s); err == nil {
		t.Fatal("bench needing 11 edges ran under a budget of 10")
	}
	if s.Cycles() != 0 {
		t.Errorf("rejected bench still took %d edges", s.Cycles())
	}
}

func TestParseBenchErrors(t *testing.T) {
	res := compile(t, dreg())
	s := sim.NewSession(res.Schedule)
	for _, tc := range []struct {
		name, src string
	}{
		{"unknown signal", "0 set x 1"},
		{"bad directive", "0 poke d 1"},
		{"bad cycle", "later set d 1"},
		{"bad value", "0 set d 0xzz"},
		{"short line", "0 set d"},
		{"bad reset", "reset -1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := sim.ParseBench(strings.NewReader(tc.src), s.Type); err == nil {
				t.Errorf("ParseBench(%q) succeeded", tc.src)
			}
		})
	}
}
