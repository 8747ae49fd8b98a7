package trace

import (
	"bytes"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/tools/txtar"

	"github.com/xplshn/rtlc/pkg/bits"
)

func section(t *testing.T, ar *txtar.Archive, name string) string {
	t.Helper()
	for _, f := range ar.Files {
		if f.Name == name { return string(f.Data) }
	}
	t.Fatalf("archive has no %s section", name)
	return ""
}

// parseBatches reads "time signal width value" lines; blank lines end a
// batch.
func parseBatches(t *testing.T, src string) [][]Event {
	t.Helper()
	var batches [][]Event
	var cur []Event
	for _, line := range strings.Split(src, "\n") {
		f := strings.Fields(line)
		if len(f) == 0 {
			if cur != nil { batches = append(batches, cur) }
			cur = nil
			continue
		}
		tm, err := strconv.ParseUint(f[0], 10, 64)
		if err != nil { t.Fatal(err) }
		w, err := strconv.Atoi(f[2])
		if err != nil { t.Fatal(err) }
		e := Event{Time: tm, Signal: f[1], Width: w}
		if f[3] != "x" {
			e.Value, e.Valid = bits.MustParse(bits.Unsigned(w), f[3]), true
		}
		cur = append(cur, e)
	}
	if cur != nil { batches = append(batches, cur) }
	return batches
}

func TestVCDGolden(t *testing.T) {
	files, err := filepath.Glob("testdata/*.txtar")
	if err != nil { t.Fatal(err) }
	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".txtar")
		t.Run(name, func(t *testing.T) {
			ar, err := txtar.ParseFile(file)
			if err != nil { t.Fatal(err) }
			var buf bytes.Buffer
			w := NewVCDWriter(&buf, name, "1ns")
			for _, batch := range parseBatches(t, section(t, ar, "events")) {
				if err := w.Emit(batch); err != nil { t.Fatal(err) }
			}
			if err := w.Close(); err != nil { t.Fatal(err) }
			if diff := cmp.Diff(section(t, ar, "want.vcd"), buf.String()); diff != "" {
				t.Errorf("VCD mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVCDRejectsTimeTravel(t *testing.T) {
	var buf bytes.Buffer
	w := NewVCDWriter(&buf, "m", "")
	if err := w.Emit([]Event{{Time: 10, Signal: "a", Width: 1, Valid: true}}); err != nil {
		t.Fatal(err)
	}
	if err := w.Emit([]Event{{Time: 5, Signal: "a", Width: 1}}); err == nil {
		t.Error("event at 5 after time 10 was accepted")
	}
	if err := w.Emit([]Event{{Time: 20, Signal: "b", Width: 1}}); err == nil {
		t.Error("undeclared signal was accepted")
	}
}

func TestVCDIDs(t *testing.T) {
	seen := make(map[string]bool)
	for n := 0; n < 94*94+10; n++ {
		id := vcdID(n)
		if seen[id] { t.Fatalf("id %q repeats at %d", id, n) }
		seen[id] = true
		for _, c := range id {
			if c < '!' || c > '~' { t.Fatalf("id %q has non-printable %q", id, c) }
		}
	}
	if vcdID(0) != "!" || vcdID(93) != "~" || len(vcdID(94)) != 2 {
		t.Errorf("unexpected ids: %q %q %q", vcdID(0), vcdID(93), vcdID(94))
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	one := bits.FromBool(true)
	_ = r.Emit([]Event{{Time: 0, Signal: "b", Width: 1}, {Time: 0, Signal: "a", Width: 1, Value: one, Valid: true}})
	_ = r.Emit([]Event{{Time: 10, Signal: "b", Width: 1, Value: one, Valid: true}})

	if diff := cmp.Diff([]string{"b", "a"}, r.Signals()); diff != "" {
		t.Errorf("Signals (-want +got):\n%s", diff)
	}
	if got := len(r.Series("b")); got != 2 {
		t.Errorf("Series(b) has %d events, want 2", got)
	}
	if e, ok := r.At("b", 9); !ok || e.Valid {
		t.Errorf("At(b, 9) = %+v, %v; want the unknown value from time 0", e, ok)
	}
	if e, ok := r.At("b", 10); !ok || !e.Valid {
		t.Errorf("At(b, 10) = %+v, %v", e, ok)
	}
	if _, ok := r.At("c", 10); ok {
		t.Error("At found a signal that was never traced")
	}

	tee := Tee{r, NewRecorder()}
	if err := tee.Close(); err != nil || !r.Closed() {
		t.Errorf("Tee.Close: %v, closed=%v", err, r.Closed())
	}
}
