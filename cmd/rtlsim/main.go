package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"golang.org/x/term"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/cli"
	"github.com/xplshn/rtlc/pkg/compiler"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/sim"
	"github.com/xplshn/rtlc/pkg/trace"
	"github.com/xplshn/rtlc/pkg/util"
)

const historyFile = ".rtlsim_history"

const helpText = `commands:
  set <input> <value>        drive an input port
  deposit <reg> <value>      overwrite a register
  step [domain] [n]          take n active edges of a domain (default 1)
  reset [domain]             arm a domain so its next edge loads reset values
  eval                       settle combinational logic and record a trace step
  peek <signal>              print a signal, port or register
  peek <mem>[<addr>]         print one memory word
  trace <signal>             print the recorded history of a signal
  signals                    list ports, registers and memories
  bench <file>               run a testbench file
  :help                      this text
  :quit                      leave
`

var (
	blue  = "\x1b[34m"
	red   = "\x1b[31m"
	green = "\x1b[32m"
	none  = "\x1b[0m"
)

func main() {
	app := cli.NewApp("rtlsim")
	app.Synopsis = "[options] <design.json>"
	app.Description = "Interactive cycle simulator for lowered hardware designs."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/rtlc>"
	app.Since = 2025

	var (
		profile string
		vcdFile string
		reload  bool
		script  string
	)
	fs := app.FlagSet
	fs.String(&profile, "profile", "", "sim", "Preset features and warnings (sim, synth, strict).", "profile")
	fs.String(&vcdFile, "vcd", "", "", "Also write the trace to a VCD file.", "file")
	fs.String(&script, "script", "s", "", "Run the commands of <file> instead of prompting.", "file")
	fs.Bool(&reload, "reload", "r", false, "The input is a persisted netlist, not a design description.")

	cfg := config.NewConfig()
	warningFlags, featureFlags := cfg.SetupFlagGroups(fs)

	app.Action = func(args []string) error {
		if len(args) != 1 { util.Error("expected exactly one design") }
		if err := cfg.ApplyProfile(profile); err != nil { util.Error("%v", err) }
		cfg.ApplyFlagGroups(warningFlags, featureFlags)
		if !term.IsTerminal(int(os.Stdout.Fd())) { blue, red, green, none = "", "", "", "" }

		sess := compiler.NewSession(cfg)
		res, err := load(sess, args[0], reload)
		util.Warnings(cfg, sess.Warnings)
		if err != nil {
			n := util.Errors(err)
			return fmt.Errorf("%d errors", n)
		}

		rec := trace.NewRecorder()
		sinks := trace.Tee{rec}
		if vcdFile != "" {
			f, err := os.Create(vcdFile)
			if err != nil { util.Error("%v", err) }
			sinks = append(sinks, trace.NewVCDWriter(f, res.Netlist.Name, "1ns"))
		}
		r := &repl{s: sim.NewSession(res.Schedule, sim.WithConfig(res.Config), sim.WithSink(sinks)), rec: rec, nl: res.Netlist, out: os.Stdout}
		defer func() {
			if err := r.s.Close(); err != nil { util.Error("%v", err) }
		}()

		if script != "" {
			data, err := os.ReadFile(script)
			if err != nil { util.Error("%v", err) }
			for _, line := range strings.Split(string(data), "\n") {
				if r.exec(line) { break }
			}
			return nil
		}
		r.interactive()
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func load(sess *compiler.Session, path string, reload bool) (*compiler.Result, error) {
	if reload {
		f, err := os.Open(path)
		if err != nil { return nil, err }
		defer f.Close()
		return sess.Reload(f)
	}
	d, err := desc.Load(path)
	if err != nil { return nil, err }
	return sess.Compile(d)
}

type repl struct {
	s   *sim.Session
	rec *trace.Recorder
	nl  *ir.Netlist
	out io.Writer
}

func (r *repl) interactive() {
	fmt.Fprintf(r.out, "rtlsim: %s, domains %s. Type :help for help.\n", r.nl.Name, strings.Join(r.s.Domains(), ", "))

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, historyFile)

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetCompleter(r.complete)

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}

	for {
		line, err := ln.Prompt(fmt.Sprintf("%s@%d> ", r.nl.Name, r.s.Cycles()))
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			break
		}
		if err != nil { continue }
		if strings.TrimSpace(line) == "" { continue }
		ln.AppendHistory(line)
		if r.exec(line) { break }
	}

	if f, err := os.Create(histPath); err == nil {
		_, _ = ln.WriteHistory(f)
		_ = f.Close()
	}
}

func (r *repl) complete(line string) []string {
	f := strings.Fields(line)
	var names []string
	if len(f) <= 1 && !strings.HasSuffix(line, " ") {
		names = []string{"set", "deposit", "step", "reset", "eval", "peek", "trace", "signals", "bench", ":help", ":quit"}
		var out []string
		for _, n := range names {
			if strings.HasPrefix(n, line) { out = append(out, n) }
		}
		return out
	}
	prefix := ""
	if !strings.HasSuffix(line, " ") { prefix = f[len(f)-1] }
	head := strings.TrimSuffix(line, prefix)
	for _, id := range r.nl.Inputs {
		names = append(names, r.nl.SignalName(id))
	}
	for _, p := range r.nl.Outputs {
		names = append(names, p.Name)
	}
	for _, reg := range r.nl.Registers {
		names = append(names, reg.Name)
	}
	names = append(names, r.s.Domains()...)
	var out []string
	for _, n := range names {
		if strings.HasPrefix(n, prefix) { out = append(out, head+n) }
	}
	return out
}

func (r *repl) fail(err error) { fmt.Fprintf(r.out, "%s%v%s\n", red, err, none) }

// exec runs one command line and reports whether the session should end.
func (r *repl) exec(line string) bool {
	if i := strings.IndexByte(line, '#'); i >= 0 { line = line[:i] }
	f := strings.Fields(line)
	if len(f) == 0 { return false }

	switch f[0] {
	case ":quit", ":exit", "quit":
		return true
	case ":help", "help":
		fmt.Fprint(r.out, helpText)
	case "set", "deposit":
		if len(f) != 3 {
			fmt.Fprintf(r.out, "usage: %s <name> <value>\n", f[0])
			return false
		}
		t, err := r.s.Type(f[1])
		if err != nil { r.fail(err); return false }
		v, err := bits.Parse(t, f[2])
		if err != nil { r.fail(err); return false }
		if f[0] == "set" {
			err = r.s.SetInput(f[1], v)
		} else {
			err = r.s.Deposit(f[1], v)
		}
		if err != nil { r.fail(err) }
	case "step":
		domain, n, err := r.stepArgs(f[1:])
		if err != nil { r.fail(err); return false }
		for i := 0; i < n; i++ {
			if err := r.s.StepClockEdge(domain); err != nil { r.fail(err); return false }
		}
		fmt.Fprintf(r.out, "%s: %d edges, t=%d\n", domain, r.s.Cycles(), r.s.Time())
	case "reset":
		domain, _, err := r.stepArgs(f[1:])
		if err != nil { r.fail(err); return false }
		if err := r.s.Reset(domain); err != nil { r.fail(err) }
	case "eval":
		if err := r.s.Eval(); err != nil { r.fail(err) }
	case "peek":
		if len(f) != 2 {
			fmt.Fprintln(r.out, "usage: peek <signal> | peek <mem>[<addr>]")
			return false
		}
		r.peek(f[1])
	case "trace":
		if len(f) != 2 {
			fmt.Fprintln(r.out, "usage: trace <signal>")
			return false
		}
		series := r.rec.Series(f[1])
		if len(series) == 0 { fmt.Fprintf(r.out, "no trace recorded for %s\n", f[1]) }
		for _, e := range series {
			v := "x"
			if e.Valid { v = e.Value.Dec() }
			fmt.Fprintf(r.out, "  %6d  %s\n", e.Time, v)
		}
	case "signals":
		r.signals()
	case "bench":
		if len(f) != 2 {
			fmt.Fprintln(r.out, "usage: bench <file>")
			return false
		}
		r.bench(f[1])
	default:
		fmt.Fprintf(r.out, "unknown command %q. Type :help for help.\n", f[0])
	}
	return false
}

// stepArgs reads "[domain] [n]"; the domain may be left out when the design
// has only one.
func (r *repl) stepArgs(args []string) (string, int, error) {
	domains := r.s.Domains()
	domain, n := "", 1
	for _, a := range args {
		if k, err := strconv.Atoi(a); err == nil {
			if k < 0 { return "", 0, fmt.Errorf("negative edge count %d", k) }
			n = k
			continue
		}
		domain = a
	}
	if domain == "" {
		if len(domains) != 1 { return "", 0, fmt.Errorf("name a domain: %s", strings.Join(domains, ", ")) }
		domain = domains[0]
	}
	return domain, n, nil
}

func (r *repl) peek(name string) {
	if open := strings.IndexByte(name, '['); open > 0 && strings.HasSuffix(name, "]") {
		addr, err := strconv.Atoi(name[open+1 : len(name)-1])
		if err != nil { r.fail(fmt.Errorf("bad address in %s", name)); return }
		v, err := r.s.PeekMem(name[:open], addr)
		if err != nil { r.fail(err); return }
		fmt.Fprintf(r.out, "%s = %s%s%s\n", name, blue, v, none)
		return
	}
	v, err := r.s.Peek(name)
	if err != nil { r.fail(err); return }
	fmt.Fprintf(r.out, "%s = %s%s%s (0b%s)\n", name, blue, v, none, v.Bin())
}

func (r *repl) signals() {
	for _, id := range r.nl.Inputs {
		fmt.Fprintf(r.out, "  in   %-16s %s\n", r.nl.SignalName(id), r.nl.Signals[id].Type)
	}
	for _, p := range r.nl.Outputs {
		fmt.Fprintf(r.out, "  out  %-16s %s\n", p.Name, r.nl.Signals[p.Signal].Type)
	}
	for _, reg := range r.nl.Registers {
		fmt.Fprintf(r.out, "  reg  %-16s %s @%s\n", reg.Name, reg.Type, r.nl.SignalName(reg.Clock))
	}
	for _, m := range r.nl.Memories {
		fmt.Fprintf(r.out, "  mem  %-16s %s[%d]\n", m.Name, m.Type, m.Depth)
	}
}

func (r *repl) bench(path string) {
	f, err := os.Open(path)
	if err != nil { r.fail(err); return }
	defer f.Close()
	tb, err := sim.ParseBench(f, r.s.Type)
	if err != nil { r.fail(err); return }
	mismatches, err := tb.Run(r.s)
	for _, m := range mismatches {
		fmt.Fprintf(r.out, "  %s%s%s\n", red, m, none)
	}
	if err != nil { r.fail(err); return }
	if len(mismatches) == 0 {
		fmt.Fprintf(r.out, "%sPASS%s %d expectations\n", green, none, len(tb.Expects))
		return
	}
	fmt.Fprintf(r.out, "%sFAIL%s %d of %d expectations\n", red, none, len(mismatches), len(tb.Expects))
}
