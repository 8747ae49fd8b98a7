package codegen

import (
	"bytes"
	"fmt"

	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/schedule"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes a schedule and a configuration, and produces the target
	// hardware description or native kernel as a byte buffer. Output is a
	// pure function of its inputs.
	Generate(s *schedule.Schedule, cfg *config.Config) (*bytes.Buffer, error)
}

// New returns the backend registered under name: "verilog" or "qbe".
func New(name string) (Backend, error) {
	switch name {
	case "verilog", "v":
		return NewVerilogBackend(), nil
	case "qbe", "asm":
		return NewQBEBackend(), nil
	}
	return nil, fmt.Errorf("unknown backend %q", name)
}
