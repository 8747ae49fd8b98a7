// rtltest runs testbench archives against the compiler and the cycle
// simulator. Each archive is a txtar file holding a design and a bench:
//
//	-- design.json --   the design description
//	-- bench --         stimuli and expectations (see sim.ParseBench)
//	-- design.v --      optional golden Verilog
//	-- errors --        optional diagnostic kinds the design must fail with
//
// Archives run in parallel, one compiler session each, and the results are
// written to a JSON report that later runs use as a cache.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/txtar"

	"github.com/xplshn/rtlc/pkg/compiler"
	"github.com/xplshn/rtlc/pkg/config"
	"github.com/xplshn/rtlc/pkg/desc"
	"github.com/xplshn/rtlc/pkg/diag"
	"github.com/xplshn/rtlc/pkg/sim"
	"github.com/xplshn/rtlc/pkg/verify"
)

var (
	testFiles   = flag.String("test-files", "testdata/*.txtar", "Glob pattern(s) for testbench archives")
	skipFiles   = flag.String("skip", "", "Space-separated list of archives to skip")
	jobs        = flag.Int("j", 4, "Number of parallel test jobs")
	timeout     = flag.Duration("timeout", 10*time.Second, "Timeout for the external simulator")
	outputJSON  = flag.String("output", ".test_results.json", "Output file for the JSON test report")
	jsonDir     = flag.String("dir", "", "Directory for the JSON report")
	profile     = flag.String("profile", "", "Configuration profile to compile with")
	useCache    = flag.Bool("cached", false, "Skip archives that passed unchanged in the previous report")
	update      = flag.Bool("update", false, "Rewrite the design.v section of every passing archive")
	external    = flag.String("external", "", "External simulator command, given the Verilog and stimulus paths")
	noEquiv     = flag.Bool("no-equiv", false, "Do not prove optimized netlists equivalent to the checked ones")
	verbose     = flag.Bool("v", false, "Verbose output: print per-stage timings")
)

type Stage struct {
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

type FileTestResult struct {
	File        string   `json:"file"`
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Diff        string   `json:"diff,omitempty"`
	ArchiveHash string   `json:"archive_hash"`
	VerilogHash string   `json:"verilog_hash,omitempty"`
	Cycles      uint64   `json:"cycles,omitempty"`
	Mismatches  []string `json:"mismatches,omitempty"`
	Compile     Stage    `json:"compile"`
	Simulate    Stage    `json:"simulate"`
	Equivalence string   `json:"equivalence,omitempty"`
}

type TestSuiteResults map[string]*FileTestResult

const (
	cRed     = "\x1b[91m"
	cYellow  = "\x1b[93m"
	cGreen   = "\x1b[92m"
	cCyan    = "\x1b[96m"
	cMagenta = "\x1b[95m"
	cBold    = "\x1b[1m"
	cNone    = "\x1b[0m"
)

func main() {
	flag.Parse()
	log.SetFlags(0)
	if *jobs < 1 { *jobs = 1 }

	cfg := config.NewConfig()
	if *profile != "" {
		if err := cfg.ApplyProfile(*profile); err != nil {
			log.Fatalf("%s[ERROR]%s %v\n", cRed, cNone, err)
		}
	}
	setupInterruptHandler()
	handleRunTestSuite(cfg)
}

// setupInterruptHandler reports a cancelled run on CTRL+C
func setupInterruptHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		fmt.Printf("\n%s[INTERRUPT]%s Test run cancelled.\n", cYellow, cNone)
		os.Exit(1)
	}()
}

func hashBytes(b []byte) string { return fmt.Sprintf("%x", xxhash.Sum64(b)) }

func reportPath() string {
	if *jsonDir != "" { return filepath.Join(*jsonDir, *outputJSON) }
	return *outputJSON
}

func handleRunTestSuite(cfg *config.Config) {
	files, err := expandGlobPatterns(*testFiles)
	if err != nil {
		log.Fatalf("%s[ERROR]%s Invalid glob pattern(s): %v\n", cRed, cNone, err)
	}
	if len(files) == 0 {
		log.Println("No test archives found matching the pattern(s).")
		return
	}

	previousResults := make(TestSuiteResults)
	if prevData, err := os.ReadFile(reportPath()); err == nil {
		if json.Unmarshal(prevData, &previousResults) != nil {
			log.Printf("%s[WARN]%s Could not parse previous results file %s. Cache will not be used.\n", cYellow, cNone, reportPath())
			previousResults = make(TestSuiteResults)
		}
	}

	skipList := make(map[string]bool)
	for _, f := range strings.Fields(*skipFiles) {
		skipList[f] = true
	}

	type task struct {
		file string
		data []byte
	}
	tasks := make(chan task, len(files))
	resultsChan := make(chan *FileTestResult, len(files))
	var wg sync.WaitGroup

	for i := 0; i < *jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				resultsChan <- testArchive(cfg, t.file, t.data)
			}
		}()
	}

	// Feed the tasks channel, skipping archives with identical content
	seenHashes := make(map[string]string)
	for _, file := range files {
		if skipList[file] || skipList[filepath.Base(file)] {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", Message: "Explicitly skipped"}
			continue
		}
		data, err := os.ReadFile(file)
		if err != nil {
			resultsChan <- &FileTestResult{File: file, Status: "ERROR", Message: fmt.Sprintf("Failed to read archive: %v", err)}
			continue
		}
		h := hashBytes(data)
		if originalFile, seen := seenHashes[h]; seen {
			resultsChan <- &FileTestResult{File: file, Status: "SKIP", ArchiveHash: h, Message: fmt.Sprintf("Content is identical to %s", originalFile)}
			continue
		}
		seenHashes[h] = file
		if prev, ok := previousResults[file]; *useCache && ok && prev.Status == "PASS" && prev.ArchiveHash == h {
			cached := *prev
			cached.Status, cached.Message = "SKIP", "Unchanged since last passing run (cached)"
			resultsChan <- &cached
			continue
		}
		tasks <- task{file, data}
	}
	close(tasks)

	wg.Wait()
	close(resultsChan)

	var allResults []*FileTestResult
	for result := range resultsChan {
		allResults = append(allResults, result)
	}
	sort.Slice(allResults, func(i, j int) bool {
		return allResults[i].File < allResults[j].File
	})

	printSummary(allResults)
	resultsMap := writeJSONReport(allResults)
	if hasFailures(resultsMap) {
		os.Exit(1)
	}
}

func section(ar *txtar.Archive, name string) ([]byte, bool) {
	for _, f := range ar.Files {
		if f.Name == name { return f.Data, true }
	}
	return nil, false
}

func testArchive(base *config.Config, file string, data []byte) *FileTestResult {
	res := &FileTestResult{File: file, ArchiveHash: hashBytes(data)}
	done := func(status, format string, args ...interface{}) *FileTestResult {
		res.Status, res.Message = status, fmt.Sprintf(format, args...)
		return res
	}

	ar := txtar.Parse(data)
	design, ok := section(ar, "design.json")
	if !ok { return done("ERROR", "Archive has no design.json section") }
	d, err := desc.Parse(design)
	if err != nil { return done("ERROR", "Could not parse design: %v", err) }

	sess := compiler.NewSession(base.Clone())
	start := time.Now()
	compiled, err := sess.Compile(d)
	res.Compile.Duration = time.Since(start)

	wantErrors, expectFailure := section(ar, "errors")
	if expectFailure {
		if err == nil { return done("FAIL", "Design compiled, but the archive expects it to fail") }
		res.Compile.Error = err.Error()
		if diff := cmp.Diff(errorKinds(wantErrors), gotKinds(err)); diff != "" {
			res.Diff = diff
			return done("FAIL", "Compilation failed with unexpected diagnostics")
		}
		return done("PASS", "Compilation failed as expected")
	}
	if err != nil {
		res.Compile.Error = err.Error()
		res.Diff = err.Error()
		return done("FAIL", "Compilation failed")
	}

	verilog, err := sess.Generate(compiled, "verilog")
	if err != nil { return done("FAIL", "Verilog generation failed: %v", err) }
	res.VerilogHash = hashBytes(verilog.Bytes())

	if !*noEquiv && compiled.Opt.Changed() && len(compiled.Checked.Memories) == 0 {
		cex, err := verify.Equivalent(compiled.Checked, compiled.Netlist)
		switch {
		case err != nil: res.Equivalence = "not checked: " + err.Error()
		case cex != nil:
			res.Equivalence = cex.String()
			return done("FAIL", "Optimized netlist is not equivalent to the checked one")
		default: res.Equivalence = "proved"
		}
	}

	var tb *sim.Testbench
	s := sim.NewSession(compiled.Schedule, sim.WithConfig(compiled.Config))
	if bench, ok := section(ar, "bench"); ok {
		tb, err = sim.ParseBench(bytes.NewReader(bench), s.Type)
		if err != nil { return done("ERROR", "Could not parse bench: %v", err) }
		if tb.MaxSteps == 0 { tb.MaxSteps = compiled.Config.MaxSteps }
		start = time.Now()
		mismatches, err := tb.Run(s)
		res.Simulate.Duration = time.Since(start)
		res.Cycles = s.Cycles()
		if err != nil {
			res.Simulate.Error = err.Error()
			return done("FAIL", "Simulation aborted: %v", err)
		}
		for _, m := range mismatches {
			res.Mismatches = append(res.Mismatches, m.String())
		}
		if len(mismatches) > 0 {
			return done("FAIL", "%d expectation(s) failed", len(mismatches))
		}
	}

	if golden, ok := section(ar, "design.v"); ok && !*update {
		if diff := cmp.Diff(string(golden), verilog.String()); diff != "" {
			res.Diff = diff
			return done("FAIL", "Generated Verilog differs from design.v")
		}
	}

	if *external != "" && tb != nil {
		ctx := context.Background()
		ext := &verify.External{Command: *external, ArtifactName: "design.v", Timeout: *timeout}
		resp, err := ext.Run(ctx, verilog.Bytes(), tb.Stimuli)
		if err != nil { return done("ERROR", "External simulator failed: %v", err) }
		if !resp.Pass { return done("FAIL", "External simulator reported failure: %s", resp.Message) }
		diff, err := verify.CompareOutputs(tb.Expects, resp.Samples)
		if err != nil { return done("ERROR", "%v", err) }
		if diff != "" {
			res.Diff = diff
			return done("FAIL", "External simulator disagrees with the bench")
		}
	}

	if *update {
		if err := updateGolden(file, ar, verilog.Bytes()); err != nil { return done("ERROR", "Could not update archive: %v", err) }
		return done("PASS", "Golden Verilog updated")
	}
	return done("PASS", "All checks passed")
}

func updateGolden(file string, ar *txtar.Archive, verilog []byte) error {
	found := false
	for i := range ar.Files {
		if ar.Files[i].Name == "design.v" {
			ar.Files[i].Data, found = verilog, true
		}
	}
	if !found { ar.Files = append(ar.Files, txtar.File{Name: "design.v", Data: verilog}) }
	return os.WriteFile(file, txtar.Format(ar), 0644)
}

func errorKinds(section []byte) []string {
	var kinds []string
	for _, line := range strings.Split(string(section), "\n") {
		if line = strings.TrimSpace(line); line != "" { kinds = append(kinds, line) }
	}
	sort.Strings(kinds)
	return kinds
}

// gotKinds lists the distinct diagnostic kinds err carries.
func gotKinds(err error) []string {
	seen := make(map[string]bool)
	var kinds []string
	for _, d := range diag.Collect(err) {
		k := d.Kind.String()
		if !seen[k] {
			seen[k] = true
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%6dµs", d.Microseconds())
	}
	return fmt.Sprintf("%6dms", d.Milliseconds())
}

func printSummary(results []*FileTestResult) {
	var passed, failed, skipped, errored int
	var totalCompile, totalSimulate time.Duration
	var totalCycles uint64

	for _, result := range results {
		fmt.Println("----------------------------------------------------------------------")
		fmt.Printf("Testing %s%s%s...\n", cCyan, result.File, cNone)

		switch result.Status {
		case "PASS":
			passed++
			fmt.Printf("  [%sPASS%s] %s\n", cGreen, cNone, result.Message)
		case "FAIL":
			failed++
			fmt.Printf("  [%sFAIL%s] %s\n", cRed, cNone, result.Message)
			for _, m := range result.Mismatches {
				fmt.Printf("    %s\n", m)
			}
			if result.Equivalence != "" && result.Equivalence != "proved" {
				fmt.Printf("    counterexample: %s\n", result.Equivalence)
			}
			fmt.Println(formatDiff(result.Diff))
		case "SKIP":
			skipped++
			fmt.Printf("  [%sSKIP%s] %s\n", cYellow, cNone, result.Message)
		case "ERROR":
			errored++
			fmt.Printf("  [%sERROR%s] %s\n", cRed, cNone, result.Message)
		}

		totalCompile += result.Compile.Duration
		totalSimulate += result.Simulate.Duration
		totalCycles += result.Cycles
		if *verbose && (result.Status == "PASS" || result.Status == "FAIL") {
			fmt.Printf("  [compile: %s%s%s | simulate: %s%s%s | %d cycles]\n",
				cMagenta, formatDuration(result.Compile.Duration), cNone,
				cMagenta, formatDuration(result.Simulate.Duration), cNone, result.Cycles)
			if result.Equivalence == "proved" {
				fmt.Printf("  [optimized netlist %sproved equivalent%s]\n", cGreen, cNone)
			}
		}
	}

	fmt.Println("----------------------------------------------------------------------")
	fmt.Printf("%sTest Summary:%s %s%d Passed%s, %s%d Failed%s, %s%d Skipped%s, %s%d Errored%s, %d Total\n",
		cBold, cNone, cGreen, passed, cNone, cRed, failed, cNone, cYellow, skipped, cNone, cRed, errored, cNone, len(results))
	if totalSimulate > 0 && totalCycles > 0 {
		fmt.Println("---")
		fmt.Printf("Compiled in %s, simulated %d cycles in %s (%.0f cycles/s).\n",
			totalCompile, totalCycles, totalSimulate, float64(totalCycles)/totalSimulate.Seconds())
	}
}

func formatDiff(diff string) string {
	if diff == "" {
		return ""
	}
	var builder strings.Builder
	builder.WriteString("    --- Diff ---\n")
	for _, line := range strings.Split(diff, "\n") {
		trimmedLine := strings.TrimSpace(line)
		if strings.HasPrefix(trimmedLine, "-") {
			builder.WriteString(cRed)
		} else if strings.HasPrefix(trimmedLine, "+") {
			builder.WriteString(cGreen)
		}
		builder.WriteString("    " + line)
		builder.WriteString(cNone)
		builder.WriteString("\n")
	}
	return builder.String()
}

func writeJSONReport(results []*FileTestResult) TestSuiteResults {
	resultsMap := make(TestSuiteResults, len(results))
	for _, r := range results {
		resultsMap[r.File] = r
	}

	jsonData, err := json.MarshalIndent(resultsMap, "", "  ")
	if err != nil {
		log.Printf("%s[ERROR]%s Failed to marshal results to JSON: %v\n", cRed, cNone, err)
		return resultsMap
	}

	if *jsonDir != "" {
		if err := os.MkdirAll(*jsonDir, 0755); err != nil {
			log.Printf("%s[ERROR]%s Failed to create dir %s: %v\n", cRed, cNone, *jsonDir, err)
		}
	}
	outputFile := reportPath()
	if err := os.WriteFile(outputFile, jsonData, 0644); err != nil {
		log.Printf("%s[ERROR]%s Failed to write JSON report to %s: %v\n", cRed, cNone, outputFile, err)
	} else {
		fmt.Printf("Full test report saved to %s\n", outputFile)
	}
	return resultsMap
}

func hasFailures(results TestSuiteResults) bool {
	for _, result := range results {
		if result.Status == "FAIL" || result.Status == "ERROR" {
			return true
		}
	}
	return false
}

func expandGlobPatterns(patterns string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]bool)
	for _, pattern := range strings.Fields(patterns) {
		files, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %s: %w", pattern, err)
		}
		for _, file := range files {
			absFile, err := filepath.Abs(file)
			if err != nil {
				continue
			}
			if !seen[absFile] {
				if info, err := os.Stat(absFile); err == nil && info.Mode().IsRegular() {
					allFiles = append(allFiles, absFile)
					seen[absFile] = true
				}
			}
		}
	}
	return allFiles, nil
}
