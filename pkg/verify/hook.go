// Package verify connects simulation results to outside checkers: an
// external gate-level simulator driven through text files, and a SAT-based
// equivalence check between two netlists.
package verify

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/sim"
)

// FormatStimuli writes one "time input value" line per stimulus, values in
// decimal.
func FormatStimuli(w io.Writer, stimuli []sim.Stimulus) error {
	bw := bufio.NewWriter(w)
	for _, s := range stimuli {
		if _, err := fmt.Fprintf(bw, "%d %s %s\n", s.Time, s.Input, s.Value.Dec()); err != nil { return err }
	}
	return bw.Flush()
}

// Sample is one value reported by an external tool, kept as text until it is
// compared against a typed expectation.
type Sample struct {
	Time   uint64
	Signal string
	Value  string
}

type Response struct {
	Pass    bool
	Message string
	Samples []Sample
}

// ParseResponse reads a verdict line, PASS or FAIL with an optional message,
// followed by "time signal value" lines. Blank lines and lines starting with
// '#' are ignored.
func ParseResponse(r io.Reader) (*Response, error) {
	sc := bufio.NewScanner(r)
	resp := &Response{}
	seen := false
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") { continue }
		if !seen {
			verdict, msg, _ := strings.Cut(text, " ")
			switch verdict {
			case "PASS": resp.Pass = true
			case "FAIL":
			default: return nil, errors.Errorf("line %d: want PASS or FAIL, got %q", line, verdict)
			}
			resp.Message = strings.TrimSpace(msg)
			seen = true
			continue
		}
		f := strings.Fields(text)
		if len(f) != 3 { return nil, errors.Errorf("line %d: want \"time signal value\", got %q", line, text) }
		t, err := strconv.ParseUint(f[0], 10, 64)
		if err != nil { return nil, errors.Wrapf(err, "line %d: time", line) }
		resp.Samples = append(resp.Samples, Sample{Time: t, Signal: f[1], Value: f[2]})
	}
	if err := sc.Err(); err != nil { return nil, errors.Wrap(err, "reading response") }
	if !seen { return nil, errors.New("empty response") }
	return resp, nil
}

// CompareOutputs checks external samples against the expected values and
// returns a go-cmp diff, empty when they agree. Sample values are parsed
// with the type of the matching expectation, so "0x0f" and "15" agree.
func CompareOutputs(want []sim.Expect, got []Sample) (string, error) {
	types := make(map[string]bits.Type)
	norm := func(s Sample) (Sample, error) {
		t, ok := types[s.Signal]
		if !ok { return s, nil }
		v, err := bits.Parse(t, s.Value)
		if err != nil { return s, errors.Wrapf(err, "sample %s at %d", s.Signal, s.Time) }
		s.Value = v.Dec()
		return s, nil
	}
	var w, g []Sample
	for _, e := range want {
		types[e.Signal] = e.Value.Type
		w = append(w, Sample{Time: e.Time, Signal: e.Signal, Value: e.Value.Dec()})
	}
	for _, s := range got {
		if _, ok := types[s.Signal]; !ok { continue }
		n, err := norm(s)
		if err != nil { return "", err }
		g = append(g, n)
	}
	less := func(a, b Sample) bool {
		if a.Time != b.Time { return a.Time < b.Time }
		return a.Signal < b.Signal
	}
	sort.Slice(w, func(i, j int) bool { return less(w[i], w[j]) })
	sort.Slice(g, func(i, j int) bool { return less(g[i], g[j]) })
	return cmp.Diff(w, g), nil
}

// External runs a gate-level simulator. The command receives the artifact
// and stimulus file paths as its last two arguments and must print a
// response on stdout.
type External struct {
	Command string
	Args    []string
	// ArtifactName is the file name the artifact is written under, e.g.
	// "design.v".
	ArtifactName string
	Timeout      time.Duration
}

func (e *External) Run(ctx context.Context, artifact []byte, stimuli []sim.Stimulus) (*Response, error) {
	if e.Command == "" { return nil, errors.New("no external simulator configured") }
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	dir, err := os.MkdirTemp("", "rtlc-verify-")
	if err != nil { return nil, errors.Wrap(err, "creating work directory") }
	defer os.RemoveAll(dir)

	name := e.ArtifactName
	if name == "" { name = "design.v" }
	artPath := filepath.Join(dir, name)
	if err := os.WriteFile(artPath, artifact, 0o644); err != nil { return nil, errors.Wrap(err, "writing artifact") }
	var sb bytes.Buffer
	if err := FormatStimuli(&sb, stimuli); err != nil { return nil, err }
	stimPath := filepath.Join(dir, "stimuli.txt")
	if err := os.WriteFile(stimPath, sb.Bytes(), 0o644); err != nil { return nil, errors.Wrap(err, "writing stimuli") }

	args := append(append([]string(nil), e.Args...), artPath, stimPath)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil { return nil, errors.Wrapf(ctx.Err(), "%s", e.Command) }
		return nil, errors.Wrapf(err, "%s: %s", e.Command, strings.TrimSpace(stderr.String()))
	}
	return ParseResponse(&stdout)
}
