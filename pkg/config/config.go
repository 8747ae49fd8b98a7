package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"modernc.org/libqbe"
)

type Feature int

const (
	FeatCarry Feature = iota
	FeatPowerOnReset
	FeatOpt
	FeatTrace
	FeatAllowCDC
	FeatStrictDecl
	FeatCount
)

type Warning int

const (
	WarnSignMix Warning = iota
	WarnTruncate
	WarnUnused
	WarnUndrivenOutput
	WarnResetLess
	WarnConstSelect
	WarnExtra
	WarnPedantic
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

type Config struct {
	Features   map[Feature]Info
	Warnings   map[Warning]Info
	FeatureMap map[string]Feature
	WarningMap map[string]Warning
	Profile    string
	TargetArch string
	QbeTarget  string
	WordSize   int
	WordType   string

	// MaxUnroll bounds the iterations of one unrolled loop.
	MaxUnroll int
	// MaxSteps bounds the clock edges a testbench may take.
	MaxSteps int
	// TracePeriod is the number of trace time units per clock cycle.
	TracePeriod uint64
}

func NewConfig() *Config {
	cfg := &Config{
		Features:    make(map[Feature]Info),
		Warnings:    make(map[Warning]Info),
		FeatureMap:  make(map[string]Feature),
		WarningMap:  make(map[string]Warning),
		Profile:     "sim",
		MaxUnroll:   4096,
		MaxSteps:    1 << 20,
		TracePeriod: 10,
	}

	features := map[Feature]Info{
		FeatCarry:        {"carry", true, "Widen sums and differences by one carry bit."},
		FeatPowerOnReset: {"power-on-reset", false, "Load reset values (or zero) into registers when a simulation starts."},
		FeatOpt:          {"opt", true, "Fold constants and remove redundant multiplexers before scheduling."},
		FeatTrace:        {"trace", false, "Record a trace event per signal per evaluated step."},
		FeatAllowCDC:     {"allow-cdc", false, "Accept unsynchronized clock-domain crossings."},
		FeatStrictDecl:   {"strict-decl", false, "Require a declared type on every binding and output."},
	}

	warnings := map[Warning]Info{
		WarnSignMix:        {"sign-mix", true, "Warn when an operation mixes signed and unsigned operands."},
		WarnTruncate:       {"truncate", true, "Warn when a resize drops significant bits."},
		WarnUnused:         {"unused", true, "Warn about named signals nothing reads."},
		WarnUndrivenOutput: {"undriven-output", true, "Warn about output ports that are never assigned."},
		WarnResetLess:      {"reset-less", false, "Warn about registers without a reset value."},
		WarnConstSelect:    {"const-select", true, "Warn about multiplexers whose selector is constant."},
		WarnExtra:          {"extra", true, "Enable extra miscellaneous warnings."},
		WarnPedantic:       {"pedantic", false, "Issue every warning, including stylistic ones."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}

	return cfg
}

// SetTarget selects the QBE target used by the native kernel backend.
func (c *Config) SetTarget(goos, goarch, qbeTarget string) {
	if qbeTarget == "" {
		c.QbeTarget = libqbe.DefaultTarget(goos, goarch)
		fmt.Fprintf(os.Stderr, "rtlc: info: no target specified, defaulting to host target '%s'\n", c.QbeTarget)
	} else {
		c.QbeTarget = qbeTarget
		fmt.Fprintf(os.Stderr, "rtlc: info: using specified target '%s'\n", c.QbeTarget)
	}

	c.TargetArch = goarch

	switch c.QbeTarget {
	case "amd64_sysv", "amd64_apple", "arm64", "arm64_apple", "rv64":
		c.WordSize, c.WordType = 8, "l"
	default:
		fmt.Fprintf(os.Stderr, "rtlc: warning: unrecognized or unsupported QBE target '%s'.\n", c.QbeTarget)
		fmt.Fprintf(os.Stderr, "rtlc: warning: defaulting to 64-bit properties. Assembly may fail.\n")
		c.WordSize, c.WordType = 8, "l"
	}
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyProfile presets features and warnings for a use: "sim" for
// interactive simulation, "synth" for generating hardware text and "strict"
// for review builds.
func (c *Config) ApplyProfile(name string) error {
	isPedantic := c.IsWarningEnabled(WarnPedantic)

	type profileSettings struct {
		feature Feature
		sim     bool
		synth   bool
		strict  bool
	}

	settings := []profileSettings{
		{FeatCarry, true, true, true},
		{FeatPowerOnReset, true, false, false},
		{FeatOpt, false, true, true},
		{FeatAllowCDC, !isPedantic, false, false},
		{FeatStrictDecl, false, isPedantic, true},
	}

	switch name {
	case "sim":
		for _, s := range settings {
			c.SetFeature(s.feature, s.sim)
		}
		c.SetWarning(WarnResetLess, false)
		c.SetWarning(WarnUnused, false)
	case "synth":
		for _, s := range settings {
			c.SetFeature(s.feature, s.synth)
		}
		c.SetWarning(WarnResetLess, true)
		c.SetWarning(WarnUnused, true)
	case "strict":
		for _, s := range settings {
			c.SetFeature(s.feature, s.strict)
		}
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, true)
		}
	default:
		return fmt.Errorf("unsupported profile '%s'. Supported: 'sim', 'synth', 'strict'", name)
	}
	c.Profile = name
	return nil
}

func (c *Config) applyFlag(flag string) {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
		if isNo {
			name = strings.TrimPrefix(name, "no-")
		}
	case strings.HasPrefix(trimmed, "max-unroll="):
		if n, err := strconv.Atoi(strings.TrimPrefix(trimmed, "max-unroll=")); err == nil && n > 0 {
			c.MaxUnroll = n
		}
		return
	default:
		name = trimmed
		isWarning = true
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			if i != WarnPedantic {
				c.SetWarning(i, enable)
			}
		}
		return
	}

	if name == "pedantic" && isWarning {
		c.SetWarning(WarnPedantic, true)
		return
	}

	if isWarning {
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
		}
	} else {
		if f, ok := c.FeatureMap[name]; ok {
			c.SetFeature(f, enable)
		}
	}
}

func (c *Config) ProcessFlags(visitFlag func(fn func(name string))) {
	visitFlag(func(name string) {
		if name == "Wall" || name == "Wno-all" || name == "pedantic" {
			c.applyFlag("-" + name)
		}
	})
	visitFlag(func(name string) {
		if name != "Wall" && name != "Wno-all" && name != "pedantic" {
			c.applyFlag("-" + name)
		}
	})
}

// ProcessDirectiveFlags applies the flags a design document carries in its
// "flags" field.
func (c *Config) ProcessDirectiveFlags(flags ...string) {
	for _, f := range flags {
		for _, flag := range strings.Fields(f) {
			c.applyFlag(flag)
		}
	}
}

// Warn reports whether warning wt should be printed, honoring -Wpedantic.
func (c *Config) Warn(wt Warning) bool {
	return c.IsWarningEnabled(wt) || c.IsWarningEnabled(WarnPedantic)
}
