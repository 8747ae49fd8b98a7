//go:build windows

package codegen

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/schedule"
)

func (b *qbeBackend) Generate(s *schedule.Schedule, cfg *config.Config) (*bytes.Buffer, error) {
	fmt.Println("Self-contained QBE backend is not supported on Windows. Falling back to the system's 'qbe'.")
	if _, err := exec.LookPath("qbe"); err != nil {
		return nil, fmt.Errorf("QBE not found in PATH: %s", err.Error())
	}

	qbeIR, err := b.GenerateIR(s, cfg)
	if err != nil {
		return nil, err
	}

	inputFile, err := os.CreateTemp("", "rtlc-qbe-*.temp.ssa")
	if err != nil {
		return nil, err
	}
	defer inputFile.Close()
	defer os.Remove(inputFile.Name())

	if _, err = inputFile.WriteString(qbeIR); err != nil {
		return nil, err
	}

	outputFileName := inputFile.Name() + ".asm"
	cmd := exec.Command("qbe", "-o", outputFileName, "-t", cfg.QbeTarget, inputFile.Name())
	if err = cmd.Run(); err != nil {
		return nil, fmt.Errorf("\n--- QBE Compilation Failed ---\nGenerated IR:\n%s\n\nError: %w", qbeIR, err)
	}

	outputFile, err := os.Open(outputFileName)
	if err != nil {
		return nil, err
	}
	defer outputFile.Close()
	defer os.Remove(outputFileName)

	var asmBuf bytes.Buffer
	if _, err = io.Copy(&asmBuf, outputFile); err != nil {
		return nil, err
	}
	return &asmBuf, nil
}
