package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/diag"
)

const (
	red    = "\033[31m"
	yellow = "\033[33m"
	green  = "\033[32m"
	reset  = "\033[0m"
)

// Stderr is where diagnostics go. Color is decided once from whether it is
// a terminal.
var (
	Stderr io.Writer = os.Stderr
	Color            = term.IsTerminal(int(os.Stderr.Fd()))
)

func paint(color, s string) string {
	if !Color { return s }
	return color + s + reset
}

// Error prints a driver-level error and exits the program.
func Error(format string, args ...interface{}) {
	fmt.Fprintf(Stderr, "rtlc: %s ", paint(red, "error:"))
	fmt.Fprintf(Stderr, format, args...)
	fmt.Fprintln(Stderr)
	os.Exit(1)
}

// Info prints a notice in the same shape as the config target messages.
func Info(format string, args ...interface{}) {
	fmt.Fprintf(Stderr, "rtlc: info: "+format+"\n", args...)
}

// PrintDiagnostic writes one diagnostic: "<unit>:<where>: error: <Kind>:
// <message>", followed by the nodes of a combinational loop, one per line.
func PrintDiagnostic(d *diag.Diagnostic) {
	where := d.Where()
	if where == "" { where = "rtlc" }
	fmt.Fprintf(Stderr, "%s: %s %s: %s\n", where, paint(red, "error:"), d.Kind, d.Message)
	for i, n := range d.Cycle {
		arrow := "  -> "
		if i == 0 { arrow = "     " }
		fmt.Fprintf(Stderr, "%s%s\n", paint(green, arrow), n)
	}
	if len(d.Cycle) > 0 { fmt.Fprintf(Stderr, "%s%s\n", paint(green, "  -> "), d.Cycle[0]) }
}

// Errors prints every diagnostic err carries, sorted, or err itself when it
// is not a diagnostic. It returns the number of errors printed.
func Errors(err error) int {
	l := diag.Collect(err)
	if len(l) == 0 {
		fmt.Fprintf(Stderr, "rtlc: %s %v\n", paint(red, "error:"), err)
		return 1
	}
	for _, d := range l.Sorted() {
		PrintDiagnostic(d)
	}
	return len(l)
}

// Warn prints a warning if its flag is enabled in cfg; warnings without a
// known flag are governed by -Wextra.
func Warn(cfg *config.Config, d *diag.Diagnostic) {
	wt, ok := cfg.WarningMap[d.Flag]
	if !ok { wt = config.WarnExtra }
	if !cfg.Warn(wt) { return }
	where := d.Where()
	if where == "" { where = "rtlc" }
	flag := d.Flag
	if flag == "" { flag = "extra" }
	fmt.Fprintf(Stderr, "%s: %s %s [-W%s]\n", where, paint(yellow, "warning:"), d.Message, flag)
}

// Warnings prints a warning list in order.
func Warnings(cfg *config.Config, l diag.List) {
	for _, d := range l {
		Warn(cfg, d)
	}
}

// Summary renders "<n> error(s)" for the end of a failed run.
func Summary(errors, warnings int) string {
	var parts []string
	plural := func(n int, word string) string {
		if n == 1 { return fmt.Sprintf("1 %s", word) }
		return fmt.Sprintf("%d %ss", n, word)
	}
	if errors > 0 { parts = append(parts, plural(errors, "error")) }
	if warnings > 0 { parts = append(parts, plural(warnings, "warning")) }
	if len(parts) == 0 { return "no diagnostics" }
	return strings.Join(parts, ", ")
}
