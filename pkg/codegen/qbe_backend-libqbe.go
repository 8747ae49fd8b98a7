//go:build !windows

package codegen

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/schedule"
	"modernc.org/libqbe"
)

func (b *qbeBackend) Generate(s *schedule.Schedule, cfg *config.Config) (*bytes.Buffer, error) {
	qbeIR, err := b.GenerateIR(s, cfg)
	if err != nil {
		return nil, err
	}

	var asmBuf bytes.Buffer
	err = libqbe.Main(cfg.QbeTarget, s.Netlist.Name+".ssa", strings.NewReader(qbeIR), &asmBuf, nil)
	if err != nil {
		return nil, fmt.Errorf("\n--- QBE Compilation Failed ---\nGenerated IR:\n%s\n\nlibqbe error: %w", qbeIR, err)
	}
	return &asmBuf, nil
}
