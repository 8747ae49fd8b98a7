package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type flags struct {
	out     string
	verbose bool
	libs    []string
	steps   int
	timeout time.Duration
	defs    []string
}

func newFlags() (*FlagSet, *flags) {
	fs := NewFlagSet("test")
	v := &flags{}
	fs.String(&v.out, "output", "o", "a.v", "Output file", "file")
	fs.Bool(&v.verbose, "verbose", "v", false, "Print progress")
	fs.List(&v.libs, "lib", "l", nil, "Library", "path")
	fs.Int(&v.steps, "steps", "", 100, "Step limit", "n")
	fs.Duration(&v.timeout, "timeout", "", time.Second, "Time limit")
	fs.Special(&v.defs, "D", "Define a parameter", "name=value")
	return fs, v
}

func TestParse(t *testing.T) {
	fs, v := newFlags()
	err := fs.Parse([]string{
		"--output=top.v", "-v", "-l", "a", "-lb", "--lib", "c",
		"--steps", "7", "-timeout=2s", "-DWIDTH=8", "design.json", "--", "-v",
	})
	if err != nil {
		t.Fatal(err)
	}
	got := flags{v.out, v.verbose, v.libs, v.steps, v.timeout, v.defs}
	want := flags{"top.v", true, []string{"a", "b", "c"}, 7, 2 * time.Second, []string{"WIDTH=8"}}
	if diff := cmp.Diff(want, got, cmp.AllowUnexported(flags{})); diff != "" {
		t.Errorf("parsed flags (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"design.json", "-v"}, fs.Args()); diff != "" {
		t.Errorf("positional args (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want string
	}{
		{[]string{"--nope"}, "unknown flag: --nope"},
		{[]string{"-q"}, "unknown shorthand flag: -q"},
		{[]string{"--output"}, "flag needs an argument: --output"},
		{[]string{"-o"}, "flag needs an argument: -o"},
		{[]string{"--steps=many"}, `invalid integer value "many"`},
		{[]string{"--verbose=perhaps"}, `invalid boolean value "perhaps"`},
	} {
		fs, _ := newFlags()
		err := fs.Parse(tc.args)
		if err == nil || err.Error() != tc.want {
			t.Errorf("Parse(%q) = %v, want %q", tc.args, err, tc.want)
		}
	}
}

func TestFlagGroup(t *testing.T) {
	fs := NewFlagSet("test")
	on, off := new(bool), new(bool)
	fs.AddFlagGroup("Warning Flags", "", "warning flag", "", []FlagGroupEntry{
		{Name: "unused", Prefix: "W", Usage: "Unused signals", Default: true, Enabled: on, Disabled: off},
	})
	if err := fs.Parse([]string{"-Wno-unused"}); err != nil {
		t.Fatal(err)
	}
	if *on || !*off {
		t.Errorf("-Wno-unused set enable=%v disable=%v", *on, *off)
	}
	var visited []string
	fs.Visit(func(name string) { visited = append(visited, name) })
	if diff := cmp.Diff([]string{"Wno-unused"}, visited); diff != "" {
		t.Errorf("visited (-want +got):\n%s", diff)
	}
}

func TestAppRun(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := NewApp("rtlc")
	app.Synopsis = "[options] <design.json>"
	app.Stdout, app.Stderr = &stdout, &stderr
	var got []string
	app.Action = func(args []string) error { got = args; return nil }
	var out string
	app.FlagSet.String(&out, "output", "o", "", "Output file", "file")

	if err := app.Run([]string{"-o", "x.v", "top.json"}); err != nil {
		t.Fatal(err)
	}
	if out != "x.v" || len(got) != 1 || got[0] != "top.json" {
		t.Errorf("output %q, action args %v", out, got)
	}
	if stdout.Len()+stderr.Len() != 0 {
		t.Error("a successful run printed something")
	}
}

func TestAppHelpAndUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	app := NewApp("rtlc")
	app.Synopsis = "[options] <design.json>"
	app.Authors = []string{"rtlc authors"}
	app.Stdout, app.Stderr = &stdout, &stderr
	app.Action = func([]string) error { t.Error("action ran"); return nil }
	if err := app.Run([]string{"--help"}); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Synopsis", "rtlc <options> <design.json>", "--help"} {
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("help lacks %q:\n%s", want, stdout.String())
		}
	}

	app = NewApp("rtlc")
	app.Synopsis = "[options] <design.json>"
	app.Stdout, app.Stderr = &stdout, &stderr
	stderr.Reset()
	if err := app.Run([]string{"--bogus"}); err == nil {
		t.Fatal("unknown flag accepted")
	}
	if !strings.HasPrefix(stderr.String(), "unknown flag: --bogus\nUsage: rtlc [options] <design.json>\n") {
		t.Errorf("usage after error:\n%s", stderr.String())
	}
}

func TestWrapText(t *testing.T) {
	got := wrapText("one two three four", 9)
	if diff := cmp.Diff([]string{"one two", "three", "four"}, got); diff != "" {
		t.Errorf("wrapped (-want +got):\n%s", diff)
	}
}
