package sim

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/xplshn/rtlc/pkg/bits"
)

// ParseBench reads a testbench in its line form:
//
//	# comment
//	domain clk
//	reset 2
//	max-steps 100
//	0 set a 1
//	3 expect y 0x0f
//
// Values are parsed with the type typeOf reports for the named signal, which
// is normally Session.Type.
func ParseBench(r io.Reader, typeOf func(name string) (bits.Type, error)) (*Testbench, error) {
	tb := &Testbench{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 { text = text[:i] }
		f := strings.Fields(text)
		if len(f) == 0 { continue }
		fail := func(format string, args ...interface{}) error {
			return errors.Errorf("bench:%d: "+format, append([]interface{}{line}, args...)...)
		}

		switch f[0] {
		case "domain":
			if len(f) != 2 { return nil, fail("want \"domain <name>\"") }
			tb.Domain = f[1]
			continue
		case "reset", "max-steps":
			if len(f) != 2 { return nil, fail("want \"%s <n>\"", f[0]) }
			n, err := strconv.Atoi(f[1])
			if err != nil || n < 0 { return nil, fail("bad count %q", f[1]) }
			if f[0] == "reset" {
				tb.ResetCycles = n
			} else {
				tb.MaxSteps = n
			}
			continue
		}

		if len(f) != 4 { return nil, fail("want \"<cycle> set|expect <signal> <value>\", got %q", strings.TrimSpace(text)) }
		cycle, err := strconv.ParseUint(f[0], 10, 64)
		if err != nil { return nil, fail("bad cycle %q", f[0]) }
		t, err := typeOf(f[2])
		if err != nil { return nil, errors.Wrapf(err, "bench:%d", line) }
		v, err := bits.Parse(t, f[3])
		if err != nil { return nil, errors.Wrapf(err, "bench:%d: %s", line, f[2]) }
		switch f[1] {
		case "set": tb.Stimuli = append(tb.Stimuli, Stimulus{Time: cycle, Input: f[2], Value: v})
		case "expect": tb.Expects = append(tb.Expects, Expect{Time: cycle, Signal: f[2], Value: v})
		default: return nil, fail("unknown directive %q", f[1])
		}
	}
	if err := sc.Err(); err != nil { return nil, errors.Wrap(err, "reading bench") }
	return tb, nil
}
