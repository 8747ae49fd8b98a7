// Package cli is the small flag library behind rtlc, rtlsim and rtltest:
// GNU style long and short flags, -W/-F flag groups and help pages sized to
// the terminal.
package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
)

const indentUnit = 4

func indent(level int) string { return strings.Repeat(" ", indentUnit*level) }

type Value interface {
	String() string
	Set(string) error
	Get() any
}

type stringValue struct{ p *string }

func (v *stringValue) Set(s string) error { *v.p = s; return nil }
func (v *stringValue) String() string     { return *v.p }
func (v *stringValue) Get() any           { return *v.p }

type boolValue struct{ p *bool }

func (v *boolValue) Set(s string) error {
	if s == "" {
		*v.p = true
		return nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil { return fmt.Errorf("invalid boolean value %q", s) }
	*v.p = b
	return nil
}
func (v *boolValue) String() string { return strconv.FormatBool(*v.p) }
func (v *boolValue) Get() any       { return *v.p }

type listValue struct{ p *[]string }

func (v *listValue) Set(s string) error { *v.p = append(*v.p, s); return nil }
func (v *listValue) String() string     { return strings.Join(*v.p, ", ") }
func (v *listValue) Get() any           { return *v.p }

type intValue struct{ p *int }

func (v *intValue) Set(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil { return fmt.Errorf("invalid integer value %q", s) }
	*v.p = n
	return nil
}
func (v *intValue) String() string { return strconv.Itoa(*v.p) }
func (v *intValue) Get() any       { return *v.p }

type durationValue struct{ p *time.Duration }

func (v *durationValue) Set(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil { return fmt.Errorf("invalid duration %q", s) }
	*v.p = d
	return nil
}
func (v *durationValue) String() string { return v.p.String() }
func (v *durationValue) Get() any       { return *v.p }

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

func (f *Flag) isBool() bool {
	_, ok := f.Value.(*boolValue)
	return ok
}

type FlagGroup struct {
	Name                 string
	Description          string
	Flags                []FlagGroupEntry
	GroupType            string
	AvailableFlagsHeader string
}

// FlagGroupEntry is one -<Prefix><Name> / -<Prefix>no-<Name> pair. Default
// is the state shown on the help page.
type FlagGroupEntry struct {
	Name     string
	Prefix   string
	Usage    string
	Default  bool
	Enabled  *bool
	Disabled *bool
}

type FlagSet struct {
	name          string
	flags         map[string]*Flag
	shorthands    map[string]*Flag
	specialPrefix map[string]*Flag
	args          []string
	flagGroups    []FlagGroup
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:          name,
		flags:         make(map[string]*Flag),
		shorthands:    make(map[string]*Flag),
		specialPrefix: make(map[string]*Flag),
	}
}

func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) Lookup(name string) *Flag { return f.flags[name] }

func (f *FlagSet) String(p *string, name, shorthand, value, usage, expectedType string) {
	*p = value
	f.Var(&stringValue{p}, name, shorthand, usage, value, expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, value bool, usage string) {
	*p = value
	f.Var(&boolValue{p}, name, shorthand, usage, strconv.FormatBool(value), "")
}

func (f *FlagSet) List(p *[]string, name, shorthand string, value []string, usage, expectedType string) {
	*p = value
	f.Var(&listValue{p}, name, shorthand, usage, fmt.Sprintf("%v", value), expectedType)
}

func (f *FlagSet) Int(p *int, name, shorthand string, value int, usage, expectedType string) {
	*p = value
	f.Var(&intValue{p}, name, shorthand, usage, strconv.Itoa(value), expectedType)
}

func (f *FlagSet) Duration(p *time.Duration, name, shorthand string, value time.Duration, usage string) {
	*p = value
	f.Var(&durationValue{p}, name, shorthand, usage, value.String(), "duration")
}

// Special registers a prefix flag such as -D<name>=<value>: everything after
// the prefix is appended to p.
func (f *FlagSet) Special(p *[]string, prefix, usage, expectedType string) {
	*p = []string{}
	f.Var(&listValue{p}, prefix, "", usage, "", expectedType)
	f.specialPrefix[prefix] = f.flags[prefix]
}

func (f *FlagSet) AddFlagGroup(name, description, groupType, availableFlagsHeader string, entries []FlagGroupEntry) {
	for i := range entries {
		e := &entries[i]
		if e.Enabled != nil { f.Bool(e.Enabled, e.Prefix+e.Name, "", false, e.Usage) }
		if e.Disabled != nil { f.Bool(e.Disabled, e.Prefix+"no-"+e.Name, "", false, "Disable '"+e.Name+"'") }
	}
	f.flagGroups = append(f.flagGroups, FlagGroup{
		Name:                 name,
		Description:          description,
		Flags:                entries,
		GroupType:            groupType,
		AvailableFlagsHeader: availableFlagsHeader,
	})
}

func (f *FlagSet) Var(value Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" { panic("flag name cannot be empty") }
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: value, DefValue: defValue, ExpectedType: expectedType}
	if _, ok := f.flags[name]; ok { panic(fmt.Sprintf("flag redefined: %s", name)) }
	f.flags[name] = flag
	if shorthand != "" {
		if _, ok := f.shorthands[shorthand]; ok { panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand)) }
		f.shorthands[shorthand] = flag
	}
}

// Visit calls fn for every flag that was set to true by name, for the
// config flag processor.
func (f *FlagSet) Visit(fn func(name string)) {
	names := make([]string, 0, len(f.flags))
	for n := range f.flags {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if b, ok := f.flags[n].Value.(*boolValue); ok && *b.p { fn(n) }
	}
}

func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		switch {
		case len(arg) < 2 || arg[0] != '-':
			f.args = append(f.args, arg)
		case arg == "--":
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		case strings.HasPrefix(arg, "--"):
			if err := f.parseFlag("--", arg[2:], arguments, &i); err != nil { return err }
		default:
			name, _, _ := strings.Cut(arg[1:], "=")
			if _, ok := f.flags[name]; ok {
				if err := f.parseFlag("-", arg[1:], arguments, &i); err != nil { return err }
				continue
			}
			if err := f.parseShortFlag(arg, arguments, &i); err != nil { return err }
		}
	}
	return nil
}

// parseFlag handles "name", "name=value" and "name value" for a flag known
// by its full name.
func (f *FlagSet) parseFlag(dash, body string, arguments []string, i *int) error {
	name, value, hasValue := strings.Cut(body, "=")
	if name == "" { return fmt.Errorf("empty flag name") }
	flag, ok := f.flags[name]
	if !ok { return fmt.Errorf("unknown flag: %s%s", dash, name) }
	if hasValue { return flag.Value.Set(value) }
	if flag.isBool() { return flag.Value.Set("") }
	if *i+1 >= len(arguments) { return fmt.Errorf("flag needs an argument: %s%s", dash, name) }
	*i++
	return flag.Value.Set(arguments[*i])
}

func (f *FlagSet) parseShortFlag(arg string, arguments []string, i *int) error {
	for prefix, flag := range f.specialPrefix {
		if strings.HasPrefix(arg, "-"+prefix) && len(arg) > len(prefix)+1 {
			return flag.Value.Set(arg[len(prefix)+1:])
		}
	}
	shorthand := arg[1:2]
	flag, ok := f.shorthands[shorthand]
	if !ok { return fmt.Errorf("unknown shorthand flag: -%s", shorthand) }
	if flag.isBool() { return flag.Value.Set("") }
	value := strings.TrimPrefix(arg[2:], "=")
	if value == "" {
		if *i+1 >= len(arguments) { return fmt.Errorf("flag needs an argument: -%s", shorthand) }
		*i++
		value = arguments[*i]
	}
	return flag.Value.Set(value)
}

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	Since       int
	FlagSet     *FlagSet
	Action      func(args []string) error
	Stdout      io.Writer
	Stderr      io.Writer
}

func NewApp(name string) *App {
	return &App{Name: name, FlagSet: NewFlagSet(name), Stdout: os.Stdout, Stderr: os.Stderr}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintln(a.Stderr, err)
		a.Usage(a.Stderr)
		return err
	}
	if help {
		a.Help(a.Stdout)
		return nil
	}
	if a.Action != nil { return a.Action(a.FlagSet.Args()) }
	return nil
}

// Usage writes the short page shown after a flag error.
func (a *App) Usage(w io.Writer) {
	var sb strings.Builder
	termWidth := getTerminalWidth()
	fmt.Fprintf(&sb, "Usage: %s %s\n", a.Name, a.Synopsis)

	optionFlags := a.optionFlags()
	if len(optionFlags) > 0 {
		maxFlagWidth, maxUsageWidth := 0, 0
		for _, flag := range optionFlags {
			maxFlagWidth = maxInt(maxFlagWidth, len(flag.display()))
			maxUsageWidth = maxInt(maxUsageWidth, len(flag.Usage))
		}
		fmt.Fprintf(&sb, "\n%sOptions\n", indent(1))
		for _, flag := range optionFlags {
			a.flagLine(&sb, flag, termWidth, maxFlagWidth, maxUsageWidth)
		}
	}
	fmt.Fprintf(&sb, "\nRun '%s --help' for all available options and flags.\n", a.Name)
	fmt.Fprint(w, sb.String())
}

// Help writes the full page: synopsis, options and every flag group.
func (a *App) Help(w io.Writer) {
	var sb strings.Builder
	termWidth := getTerminalWidth()
	leftWidth := a.leftWidth()

	usageWidth := 0
	optionFlags := a.optionFlags()
	for _, flag := range optionFlags {
		usageWidth = maxInt(usageWidth, len(flag.Usage))
	}
	for _, group := range a.FlagSet.flagGroups {
		for _, entry := range group.Flags {
			usageWidth = maxInt(usageWidth, len(entry.Usage))
		}
	}

	sb.WriteString("\n")
	years := strconv.Itoa(time.Now().Year())
	if a.Since != 0 && a.Since < time.Now().Year() { years = fmt.Sprintf("%d-%s", a.Since, years) }
	fmt.Fprintf(&sb, "%sCopyright (c) %s: %s\n", indent(1), years, strings.Join(a.Authors, ", ")+" and contributors")
	if a.Repository != "" { fmt.Fprintf(&sb, "%sFor more details refer to %s\n", indent(1), a.Repository) }
	if a.Synopsis != "" {
		fmt.Fprintf(&sb, "\n%sSynopsis\n", indent(1))
		synopsis := strings.NewReplacer("[", "<", "]", ">").Replace(a.Synopsis)
		fmt.Fprintf(&sb, "%s%s %s\n", indent(2), a.Name, synopsis)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "\n%sDescription\n", indent(1))
		for _, line := range wrapText(a.Description, termWidth-len(indent(2))) {
			fmt.Fprintf(&sb, "%s%s\n", indent(2), line)
		}
	}
	if len(optionFlags) > 0 {
		fmt.Fprintf(&sb, "\n%sOptions\n", indent(1))
		for _, flag := range optionFlags {
			a.flagLine(&sb, flag, termWidth, leftWidth, usageWidth)
		}
	}
	groups := append([]FlagGroup(nil), a.FlagSet.flagGroups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, group := range groups {
		a.flagGroup(&sb, group, termWidth, leftWidth, usageWidth)
	}
	fmt.Fprint(w, sb.String())
}

// optionFlags returns the plain flags, sorted, without group and prefix
// flags.
func (a *App) optionFlags() []*Flag {
	var out []*Flag
	for _, flag := range a.FlagSet.flags {
		if _, special := a.FlagSet.specialPrefix[flag.Name]; special { continue }
		if a.isGroupFlag(flag.Name) { continue }
		out = append(out, flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a *App) isGroupFlag(name string) bool {
	for _, group := range a.FlagSet.flagGroups {
		for _, e := range group.Flags {
			if name == e.Prefix+e.Name || name == e.Prefix+"no-"+e.Name { return true }
		}
	}
	return false
}

func (a *App) leftWidth() int {
	w := 0
	for _, flag := range a.optionFlags() {
		w = maxInt(w, len(flag.display()))
	}
	for _, group := range a.FlagSet.flagGroups {
		if len(group.Flags) == 0 { continue }
		prefix := group.Flags[0].Prefix
		w = maxInt(w, len(fmt.Sprintf("-%sno-<%s>", prefix, group.GroupType)))
		for _, e := range group.Flags {
			w = maxInt(w, len(e.Name))
		}
	}
	return w
}

func (flag *Flag) display() string {
	var sb strings.Builder
	if flag.Shorthand != "" {
		fmt.Fprintf(&sb, "-%s", flag.Shorthand)
		if !flag.isBool() { fmt.Fprintf(&sb, " <%s>", flag.ExpectedType) }
		sb.WriteString(", ")
	}
	fmt.Fprintf(&sb, "--%s", flag.Name)
	if !flag.isBool() && flag.ExpectedType != "" {
		if flag.Shorthand != "" {
			fmt.Fprintf(&sb, " <%s>", flag.ExpectedType)
		} else {
			fmt.Fprintf(&sb, "=%s", flag.ExpectedType)
		}
	}
	return sb.String()
}

func (a *App) entry(sb *strings.Builder, termWidth int, left, usage, right string, leftWidth, usageWidth int) {
	pad := len(indent(2)) + leftWidth + 1
	first := termWidth - pad - 2 - len(right)
	if first < 10 { first = 10 }
	lines := wrapText(usage, first)
	line := ""
	if len(lines) > 0 { line = lines[0] }
	if usageWidth > first { usageWidth = first }

	if right != "" {
		fmt.Fprintf(sb, "%s%-*s %-*s  %s\n", indent(2), leftWidth, left, usageWidth, line, right)
	} else {
		fmt.Fprintf(sb, "%s%-*s %s\n", indent(2), leftWidth, left, line)
	}
	for _, l := range lines[minInt(1, len(lines)):] {
		fmt.Fprintf(sb, "%s%s\n", strings.Repeat(" ", pad), l)
	}
}

func (a *App) flagLine(sb *strings.Builder, flag *Flag, termWidth, leftWidth, usageWidth int) {
	right := ""
	if flag.DefValue != "" && flag.DefValue != "[]" && !flag.isBool() {
		right = fmt.Sprintf("|%s|", flag.DefValue)
	}
	a.entry(sb, termWidth, flag.display(), flag.Usage, right, leftWidth, usageWidth)
}

func (a *App) flagGroup(sb *strings.Builder, group FlagGroup, termWidth, leftWidth, usageWidth int) {
	if len(group.Flags) == 0 { return }
	fmt.Fprintf(sb, "\n%s%s\n", indent(1), group.Name)
	prefix := group.Flags[0].Prefix
	kind := group.GroupType
	if kind == "" { kind = "flag" }
	fmt.Fprintf(sb, "%s%-*s Enable a specific %s\n", indent(2), leftWidth, fmt.Sprintf("-%s<%s>", prefix, kind), kind)
	fmt.Fprintf(sb, "%s%-*s Disable a specific %s\n", indent(2), leftWidth, fmt.Sprintf("-%sno-<%s>", prefix, kind), kind)
	if group.AvailableFlagsHeader != "" { fmt.Fprintf(sb, "%s%s\n", indent(1), group.AvailableFlagsHeader) }

	entries := append([]FlagGroupEntry(nil), group.Flags...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, e := range entries {
		state := "|-|"
		if e.Default { state = "|x|" }
		a.entry(sb, termWidth, e.Name, e.Usage, state, leftWidth, usageWidth)
	}
}

func getTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil { return 80 }
	if width < 20 { return 20 }
	return width
}

func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 { return []string{text} }
	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() > 0 && cur.Len()+len(word)+1 > maxWidth {
			lines = append(lines, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 { cur.WriteByte(' ') }
		cur.WriteString(word)
	}
	if cur.Len() > 0 { lines = append(lines, cur.String()) }
	return lines
}

func maxInt(a, b int) int {
	if a > b { return a }
	return b
}

func minInt(a, b int) int {
	if a < b { return a }
	return b
}
