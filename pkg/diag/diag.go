// Package diag holds the compiler's diagnostic taxonomy. Every checker
// collects Diagnostics into a List instead of failing on the first defect.
package diag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindLowering Kind = iota
	KindWidthMismatch
	KindClockDomain
	KindMultipleDriver
	KindCombinationalLoop
	KindScheduling
	KindUninitializedInput
	KindCount
)

var kindNames = [KindCount]string{
	KindLowering:           "LoweringError",
	KindWidthMismatch:      "WidthMismatchError",
	KindClockDomain:        "ClockDomainError",
	KindMultipleDriver:     "MultipleDriverError",
	KindCombinationalLoop:  "CombinationalLoopError",
	KindScheduling:         "SchedulingError",
	KindUninitializedInput: "UninitializedInputError",
}

func (k Kind) String() string {
	if k < 0 || k >= KindCount {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Diagnostic is one defect. Node and Signal name the offending IR element in
// a human readable form ("n12 (add)", "sum"); either may be empty.
type Diagnostic struct {
	Kind    Kind
	Unit    string
	Node    string
	Signal  string
	Message string
	// Flag names the -W option that enables a warning; empty for errors.
	Flag string
	// Cycle lists the nodes on a combinational loop, in traversal order.
	Cycle []string
}

func (d *Diagnostic) Error() string {
	var sb strings.Builder
	sb.WriteString(d.Kind.String())
	if d.Node != "" {
		fmt.Fprintf(&sb, " at %s", d.Node)
	} else if d.Signal != "" {
		fmt.Fprintf(&sb, " at %s", d.Signal)
	}
	sb.WriteString(": ")
	sb.WriteString(d.Message)
	return sb.String()
}

// Where returns the location part used by the diagnostic printer.
func (d *Diagnostic) Where() string {
	loc := d.Node
	if loc == "" {
		loc = d.Signal
	}
	if d.Unit != "" {
		if loc == "" {
			return d.Unit
		}
		return d.Unit + ":" + loc
	}
	return loc
}

func New(kind Kind, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (d *Diagnostic) AtNode(n string) *Diagnostic   { d.Node = n; return d }
func (d *Diagnostic) AtSignal(s string) *Diagnostic { d.Signal = s; return d }
func (d *Diagnostic) WithFlag(f string) *Diagnostic { d.Flag = f; return d }

func LoweringError(path, format string, args ...interface{}) *Diagnostic {
	d := New(KindLowering, format, args...)
	d.Node = path
	return d
}

func WidthMismatchError(node string, declared, inferred string) *Diagnostic {
	d := New(KindWidthMismatch, "declared %s but inferred %s", declared, inferred)
	d.Node = node
	return d
}

func ClockDomainError(node, format string, args ...interface{}) *Diagnostic {
	d := New(KindClockDomain, format, args...)
	d.Node = node
	return d
}

func MultipleDriverError(signal string, drivers []string) *Diagnostic {
	d := New(KindMultipleDriver, "signal is driven by %d elements: %s", len(drivers), strings.Join(drivers, ", "))
	d.Signal = signal
	return d
}

func CombinationalLoopError(cycle []string) *Diagnostic {
	d := New(KindCombinationalLoop, "combinational cycle %s", strings.Join(append(append([]string{}, cycle...), cycle[0]), " -> "))
	d.Node = cycle[0]
	d.Cycle = cycle
	return d
}

func SchedulingError(format string, args ...interface{}) *Diagnostic {
	return New(KindScheduling, format, args...)
}

func UninitializedInputError(signal, source string) *Diagnostic {
	d := New(KindUninitializedInput, "value depends on %s, which has no driver and no value set", source)
	if source == signal {
		d.Message = "signal has no driver and no value set"
	}
	d.Signal = signal
	return d
}

// List collects diagnostics of one stage. A nil or empty List means success.
type List []*Diagnostic

func (l *List) Add(d *Diagnostic) { *l = append(*l, d) }

func (l *List) Addf(kind Kind, node, format string, args ...interface{}) {
	l.Add(New(kind, format, args...).AtNode(node))
}

func (l *List) Merge(o List) { *l = append(*l, o...) }

func (l List) Len() int { return len(l) }

// Of returns the diagnostics of the given kind.
func (l List) Of(kind Kind) List {
	var out List
	for _, d := range l {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Sorted orders diagnostics by kind, then location, keeping insertion order
// for ties.
func (l List) Sorted() List {
	out := append(List(nil), l...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Where() < out[j].Where()
	})
	return out
}

func (l List) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d errors:", len(l))
	for _, d := range l {
		sb.WriteString("\n\t")
		sb.WriteString(d.Error())
	}
	return sb.String()
}

// Err returns nil for an empty list and the list itself otherwise.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// SetUnit stamps the design unit name on every diagnostic that lacks one.
func (l List) SetUnit(unit string) {
	for _, d := range l {
		if d.Unit == "" {
			d.Unit = unit
		}
	}
}

// Is reports whether err, or anything it wraps, is a diagnostic of kind.
func Is(err error, kind Kind) bool {
	return len(Collect(err).Of(kind)) > 0
}

// Collect flattens err into a List, looking through pkg/errors wrapping.
func Collect(err error) List {
	if err == nil {
		return nil
	}
	switch e := errors.Cause(err).(type) {
	case List:
		return e
	case *Diagnostic:
		return List{e}
	}
	return nil
}
