// Package compiler runs the stages from a design description to a schedule
// within one session. The session owns the interning arena, so netlists of
// one session share constant and shape tables and netlists of different
// sessions share nothing.
package compiler

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/xplshn/rtlc/pkg/clockChecker"
	"github.com/xplshn/rtlc/pkg/codegen"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/ir"
	"github.com/xplshn/rtlc/pkg/lower"
	"github.com/xplshn/rtlc/pkg/opt"
	"github.com/xplshn/rtlc/pkg/schedule"
	"github.com/xplshn/rtlc/pkg/typeChecker"
)

type Session struct {
	Config *config.Config
	Arena  *ir.Arena
	// Progress receives one line per stage; nil keeps the session quiet.
	Progress io.Writer
	// Warnings accumulates the warnings of every compiled design.
	Warnings diag.List
}

func NewSession(cfg *config.Config) *Session {
	if cfg == nil { cfg = config.NewConfig() }
	return &Session{Config: cfg, Arena: ir.NewArena()}
}

// Result is a compiled design. Checked is the netlist as the checkers saw
// it; Netlist is what was scheduled, after optimization when enabled.
type Result struct {
	Config   *config.Config
	Checked  *ir.Netlist
	Netlist  *ir.Netlist
	Schedule *schedule.Schedule
	Opt      opt.Stats
}

func (s *Session) progress(format string, args ...interface{}) {
	if s.Progress != nil { fmt.Fprintf(s.Progress, format+"\n", args...) }
}

// Compile lowers, checks, optionally optimizes and schedules d. Flags the
// design carries apply to this design only. On failure the error is a
// diag.List holding every defect of the failing stage.
func (s *Session) Compile(d *desc.Design) (*Result, error) {
	cfg := s.Config.Clone()
	cfg.ProcessDirectiveFlags(d.Flags...)

	s.progress("Lowering %s...", d.Name)
	b := lower.NewBuilder(cfg, s.Arena)
	nl, err := b.Lower(d)
	s.Warnings.Merge(b.Warnings())
	if err != nil { return nil, err }

	diags := s.check(cfg, nl)
	if len(diags) > 0 { return nil, diags }
	return s.finish(cfg, nl)
}

// Check runs both checkers on nl and returns their combined findings. Both
// always run so that all defects surface together.
func (s *Session) Check(nl *ir.Netlist) diag.List { return s.check(s.Config, nl) }

func (s *Session) check(cfg *config.Config, nl *ir.Netlist) diag.List {
	s.progress("Type checking...")
	tc := typeChecker.NewTypeChecker(cfg)
	diags := tc.Check(nl)
	s.Warnings.Merge(tc.Warnings())

	s.progress("Checking clock domains...")
	diags.Merge(clockChecker.NewChecker(cfg).Check(nl))
	if len(diags) == 0 { nl.Validated = true }
	return diags
}

func (s *Session) finish(cfg *config.Config, nl *ir.Netlist) (*Result, error) {
	res := &Result{Config: cfg, Checked: nl, Netlist: nl}
	if cfg.IsFeatureEnabled(config.FeatOpt) {
		s.progress("Optimizing...")
		res.Netlist, res.Opt = opt.Run(nl)
	}
	s.progress("Scheduling...")
	sched, err := schedule.Build(res.Netlist)
	if err != nil { return nil, err }
	res.Schedule = sched
	return res, nil
}

// Load compiles a design document.
func (s *Session) Load(r io.Reader) (*Result, error) {
	d, err := desc.Read(r)
	if err != nil { return nil, err }
	return s.Compile(d)
}

// Reload reads a persisted netlist into this session's arena and schedules
// it without checking again.
func (s *Session) Reload(r io.Reader) (*Result, error) {
	s.progress("Reloading netlist...")
	nl, err := ir.LoadInto(r, s.Arena)
	if err != nil { return nil, errors.Wrap(err, "reload") }
	sched, err := schedule.Build(nl)
	if err != nil { return nil, err }
	return &Result{Config: s.Config, Checked: nl, Netlist: nl, Schedule: sched}, nil
}

// Generate renders res with the named backend: "verilog" or "qbe".
func (s *Session) Generate(res *Result, backend string) (*bytes.Buffer, error) {
	b, err := codegen.New(backend)
	if err != nil { return nil, err }
	s.progress("Generating code with '%s' backend...", backend)
	return b.Generate(res.Schedule, res.Config)
}
