package main

import (
	"bytes"
	"strconv"
	"strings"
	"testing"

	"github.com/xplshn/rtlc/pkg/bits"
	"github.com/xplshn/rtlc/pkg/compiler"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/diag"
)

var u4 = bits.Unsigned(4)

func session(t *testing.T) *compiler.Session {
	t.Helper()
	cfg := config.NewConfig()
	if err := cfg.ApplyProfile(defaultProfile); err != nil {
		t.Fatal(err)
	}
	return compiler.NewSession(cfg)
}

func TestDefaultProfileRejectsCrossing(t *testing.T) {
	_, err := session(t).Compile(&desc.Design{
		Name:    "cdc",
		Clocks:  []string{"clka", "clkb"},
		Inputs:  []desc.Port{desc.In("d", u4)},
		Outputs: []desc.Port{desc.Out("y")},
		Body: []*desc.Stmt{
			desc.Reg("ra", u4, "clka"),
			desc.Reg("rb", u4, "clkb"),
			desc.Next("ra", desc.Ref("d")),
			desc.Next("rb", desc.Ref("ra")),
			desc.Assign("y", desc.Ref("rb")),
		},
	})
	if !diag.Is(err, diag.KindClockDomain) {
		t.Errorf("unsynchronized crossing compiled: %v", err)
	}
}

func TestDefaultProfileHasNoInitialBlock(t *testing.T) {
	acc := desc.Reg("acc", u4, "clk")
	acc.Init = "3"
	s := session(t)
	res, err := s.Compile(&desc.Design{
		Name:    "hold",
		Clocks:  []string{"clk"},
		Inputs:  []desc.Port{desc.In("d", u4)},
		Outputs: []desc.Port{desc.Out("q")},
		Body: []*desc.Stmt{
			acc,
			desc.Next("acc", desc.Ref("d")),
			desc.Assign("q", desc.Ref("acc")),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := s.Generate(res, "verilog")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out.String(), "initial") {
		t.Errorf("synthesis output has an initial block:\n%s", out)
	}
}

func TestHelpShowsEffectiveDefaults(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := newApp()
	app.Stdout, app.Stderr = &stdout, &stderr
	if err := app.Run([]string{"--help"}); err != nil {
		t.Fatal(err)
	}
	help := stdout.String()
	for _, want := range []string{"|" + strconv.Itoa(config.NewConfig().MaxUnroll) + "|", "|" + defaultProfile + "|"} {
		if !strings.Contains(help, want) {
			t.Errorf("help lacks default %q:\n%s", want, help)
		}
	}
}
