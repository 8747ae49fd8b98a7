package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/cli"
	"github.com/xplshn/rtlc/pkg/codegen"
	"github.com/xplshn/rtlc/pkg/compiler"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/sim"
	"github.com/xplshn/rtlc/pkg/trace"
	"github.com/xplshn/rtlc/pkg/util"
)

// defaultProfile keeps domain crossings fatal and leaves initial blocks out
// of the generated hardware.
const defaultProfile = "synth"

var extensions = map[string]string{"verilog": ".v", "qbe": ".ssa", "asm": ".s", "ir": ".rtl.json"}

func main() {
	if err := newApp().Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp("rtlc")
	app.Synopsis = "[options] <design.json> ..."
	app.Description = "Compiles lowered hardware designs into a checked netlist and emits Verilog, a native QBE evaluation kernel or a persisted netlist."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/rtlc>"
	app.Since = 2025

	var (
		outFile      string
		emit         string
		target       string
		profile      string
		top          string
		vcdFile      string
		simCycles    int
		maxUnroll    int
		pedantic     bool
		reload       bool
		dumpSchedule bool
		quiet        bool
		directives   []string
	)

	cfg := config.NewConfig()
	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "", "Place the output into <file>; '-' writes to stdout.", "file")
	fs.String(&emit, "emit", "e", "verilog", "Output kind: verilog, qbe, asm or ir.", "kind")
	fs.String(&target, "target", "t", "", "QBE target for the native kernel (amd64_sysv, arm64, rv64, ...).", "target")
	fs.String(&profile, "profile", "", defaultProfile, "Preset features and warnings (sim, synth, strict).", "profile")
	fs.String(&top, "top", "", "", "Rename the top-level design.", "name")
	fs.String(&vcdFile, "vcd", "", "", "Simulate every clock domain with zero inputs and write a VCD trace.", "file")
	fs.Int(&simCycles, "sim-cycles", "", 16, "Clock edges per domain for --vcd.", "n")
	fs.Int(&maxUnroll, "max-unroll", "", cfg.MaxUnroll, "Bound the iterations of one unrolled loop.", "n")
	fs.Bool(&reload, "reload", "r", false, "Inputs are persisted netlists (from --emit ir), not design descriptions.")
	fs.Bool(&dumpSchedule, "dump-schedule", "d", false, "Print the evaluation schedule and exit.")
	fs.Bool(&pedantic, "pedantic", "", false, "Issue every warning, including stylistic ones.")
	fs.Bool(&quiet, "quiet", "q", false, "Do not print progress.")
	fs.Special(&directives, "D", "Apply a flag as if the design carried it (e.g. -DFno-opt).", "flag")

	warningFlags, featureFlags := cfg.SetupFlagGroups(fs)

	app.Action = func(inputFiles []string) error {
		if len(inputFiles) == 0 { util.Error("no input files specified.") }
		if _, ok := extensions[emit]; !ok { util.Error("unknown output kind '%s'", emit) }
		if pedantic { cfg.SetWarning(config.WarnPedantic, true) }
		if err := cfg.ApplyProfile(profile); err != nil { util.Error("%v", err) }
		cfg.ApplyFlagGroups(warningFlags, featureFlags)
		if maxUnroll > 0 { cfg.MaxUnroll = maxUnroll }
		cfg.ProcessDirectiveFlags(directives...)
		if emit == "asm" || emit == "qbe" { cfg.SetTarget(runtime.GOOS, runtime.GOARCH, target) }
		if len(inputFiles) > 1 && outFile != "" && outFile != "-" {
			util.Error("-o names one file but %d inputs were given", len(inputFiles))
		}

		toStdout := outFile == "-"
		sess := compiler.NewSession(cfg)
		if !quiet && !toStdout { sess.Progress = os.Stdout }

		failed := 0
		for _, path := range inputFiles {
			if !quiet && !toStdout { fmt.Println("----------------------") }
			res, err := compile(sess, path, reload, top)
			util.Warnings(cfg, sess.Warnings)
			sess.Warnings = nil
			if err != nil {
				failed += util.Errors(err)
				continue
			}
			if dumpSchedule {
				fmt.Print(res.Schedule.Dump())
				continue
			}
			out, err := render(sess, res, emit)
			if err != nil {
				failed += util.Errors(err)
				continue
			}
			dest := outFile
			if dest == "" { dest = res.Netlist.Name + extensions[emit] }
			if err := write(dest, out); err != nil { util.Error("%v", err) }
			if vcdFile != "" {
				if err := traceRun(res, cfg, vcdFile, simCycles); err != nil { util.Error("%v", err) }
			}
			if !quiet && !toStdout { fmt.Printf("Wrote '%s'.\n", dest) }
		}
		if failed > 0 {
			fmt.Fprintf(os.Stderr, "rtlc: %s\n", util.Summary(failed, 0))
			return fmt.Errorf("%d errors", failed)
		}
		if !quiet && !toStdout {
			fmt.Println("----------------------")
			fmt.Println("Done!")
		}
		return nil
	}
	return app
}

func compile(sess *compiler.Session, path string, reload bool, top string) (*compiler.Result, error) {
	if reload {
		f, err := os.Open(path)
		if err != nil { return nil, err }
		defer f.Close()
		return sess.Reload(f)
	}
	d, err := desc.Load(path)
	if err != nil { return nil, err }
	if top != "" { d.Name = top }
	return sess.Compile(d)
}

func render(sess *compiler.Session, res *compiler.Result, emit string) ([]byte, error) {
	switch emit {
	case "ir":
		var buf bytes.Buffer
		if err := ir.Save(&buf, res.Netlist); err != nil { return nil, err }
		return buf.Bytes(), nil
	case "qbe":
		text, err := codegen.GenerateQBE(res.Schedule, res.Config)
		return []byte(text), err
	case "asm":
		buf, err := sess.Generate(res, "qbe")
		if err != nil { return nil, err }
		return buf.Bytes(), nil
	}
	buf, err := sess.Generate(res, "verilog")
	if err != nil { return nil, err }
	return buf.Bytes(), nil
}

func write(dest string, data []byte) error {
	if dest == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil { return err }
	}
	return os.WriteFile(dest, data, 0o644)
}

// traceRun clocks every domain in turn with all inputs held at zero.
func traceRun(res *compiler.Result, cfg *config.Config, path string, cycles int) error {
	f, err := os.Create(path)
	if err != nil { return err }
	var w io.WriteCloser = f
	s := sim.NewSession(res.Schedule, sim.WithConfig(cfg), sim.WithSink(trace.NewVCDWriter(w, res.Netlist.Name, "1ns")))
	nl := res.Netlist
	for _, id := range nl.Inputs {
		sig := nl.Signals[id]
		if err := s.SetInput(sig.Name, bits.Zero(sig.Type)); err != nil { return err }
	}
	if err := s.Eval(); err != nil { return err }
	for i := 0; i < cycles; i++ {
		for _, d := range s.Domains() {
			if err := s.StepClockEdge(d); err != nil { return err }
		}
	}
	if err := s.Close(); err != nil { return err }
	fmt.Printf("Traced %d cycles of %s into '%s'.\n", cycles, strings.Join(s.Domains(), ", "), path)
	return nil
}
