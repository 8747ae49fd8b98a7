package trace

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// VCDWriter renders events as an IEEE 1364 value change dump. Variables are
// declared from the first batch; later batches only write values that
// changed.
type VCDWriter struct {
	w         *bufio.Writer
	c         io.Closer
	module    string
	timescale string
	ids       map[string]string
	last      map[string]string
	order     []string
	started   bool
	time      uint64
	stamped   bool
}

// NewVCDWriter writes to w. If w is also an io.Closer, Close closes it.
func NewVCDWriter(w io.Writer, module, timescale string) *VCDWriter {
	if timescale == "" { timescale = "1ns" }
	v := &VCDWriter{
		w:         bufio.NewWriter(w),
		module:    module,
		timescale: timescale,
		ids:       make(map[string]string),
		last:      make(map[string]string),
	}
	if c, ok := w.(io.Closer); ok { v.c = c }
	return v
}

// vcdID encodes n with the printable characters '!' to '~'.
func vcdID(n int) string {
	var sb strings.Builder
	for {
		sb.WriteByte(byte('!' + n%94))
		n /= 94
		if n == 0 { break }
		n--
	}
	return sb.String()
}

func vcdValue(e Event) string {
	if e.Width == 1 {
		switch {
		case !e.Valid: return "x"
		case e.Value.Bool(): return "1"
		}
		return "0"
	}
	if !e.Valid { return "bx " }
	b := strings.TrimLeft(e.Value.Bin(), "0")
	if b == "" { b = "0" }
	return "b" + b + " "
}

func (v *VCDWriter) header(events []Event) {
	fmt.Fprintf(v.w, "$comment rtlc $end\n$timescale %s $end\n$scope module %s $end\n", v.timescale, v.module)
	for _, e := range events {
		if _, ok := v.ids[e.Signal]; ok { continue }
		id := vcdID(len(v.order))
		v.ids[e.Signal] = id
		v.order = append(v.order, e.Signal)
		name := strings.Map(func(r rune) rune {
			if r == ' ' { return '_' }
			return r
		}, e.Signal)
		fmt.Fprintf(v.w, "$var wire %d %s %s $end\n", e.Width, id, name)
	}
	v.w.WriteString("$upscope $end\n$enddefinitions $end\n")
}

func (v *VCDWriter) Emit(events []Event) error {
	if len(events) == 0 { return nil }
	if !v.started {
		v.header(events)
		v.started = true
		v.time = events[0].Time
		fmt.Fprintf(v.w, "#%d\n$dumpvars\n", v.time)
		v.stamped = true
		for _, e := range events {
			if e.Time != v.time { break }
			if err := v.change(e); err != nil { return err }
		}
		v.w.WriteString("$end\n")
		events = events[countAt(events, v.time):]
	}
	for _, e := range events {
		if e.Time < v.time {
			return errors.Errorf("vcd: event for %s at %d precedes time %d", e.Signal, e.Time, v.time)
		}
		if e.Time > v.time { v.time, v.stamped = e.Time, false }
		if err := v.change(e); err != nil { return err }
	}
	return nil
}

func countAt(events []Event, t uint64) int {
	n := 0
	for n < len(events) && events[n].Time == t {
		n++
	}
	return n
}

func (v *VCDWriter) change(e Event) error {
	id, ok := v.ids[e.Signal]
	if !ok {
		return errors.Errorf("vcd: signal %s was not declared in the first batch", e.Signal)
	}
	val := vcdValue(e)
	if v.last[e.Signal] == val { return nil }
	v.last[e.Signal] = val
	if !v.stamped {
		fmt.Fprintf(v.w, "#%d\n", v.time)
		v.stamped = true
	}
	_, err := fmt.Fprintf(v.w, "%s%s\n", val, id)
	return err
}

func (v *VCDWriter) Close() error {
	if err := v.w.Flush(); err != nil { return errors.Wrap(err, "vcd: flush") }
	if v.c != nil { return v.c.Close() }
	return nil
}
