package scenario

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/tracegc/gc"
)

func runScenario(t *testing.T, s *Scenario) (*Result, *Runner) {
	t.Helper()
	h := gc.NewHeap(s.HeapOptions(gc.Options{Name: t.Name(), CheckThreadAffinity: true}))
	t.Cleanup(h.Close)
	r := NewRunner(h, s)
	res, err := r.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res, r
}

func parse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := Parse([]byte(src), t.Name())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return s
}

// ---------------------------------------------------------------------------
// Bundled scenarios
// ---------------------------------------------------------------------------

func TestTestdataScenarios(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no scenarios in testdata")
	}
	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			s, err := Load(file)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			res, _ := runScenario(t, s)
			for _, f := range res.Failures {
				t.Error(f)
			}
			if len(res.Cycles) == 0 {
				t.Error("scenario ran no collection")
			}
		})
	}
}

func TestWeakEdgeResult(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "weak_edge.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "weak edge" {
		t.Errorf("Name = %q", s.Name)
	}
	res, r := runScenario(t, s)
	if !res.Passed() {
		t.Fatalf("failures: %v", res.Failures)
	}
	if len(res.Cycles) != 1 || res.Cycles[0].SweptObjects != 2 {
		t.Errorf("cycles = %v, want one sweeping 2 objects", res.Cycles)
	}
	if a := r.Object("A"); a == nil || a.Weak.Get() != nil {
		t.Error("A should survive with its weak member cleared")
	}
	if r.Object("B") != nil {
		t.Error("B should be reclaimed")
	}
}

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

func TestFailedExpectation(t *testing.T) {
	s := parse(t, `
[[objects]]
name = "A"

[[steps]]
action = "collect"

[[steps]]
action = "expect"
alive = ["A"]
live = 1
`)
	res, _ := runScenario(t, s)
	if res.Passed() {
		t.Fatal("expected failures")
	}
	if len(res.Failures) != 2 {
		t.Fatalf("failures = %v, want 2", res.Failures)
	}
	if !strings.Contains(res.Failures[0], `"A" is dead`) {
		t.Errorf("failure = %q", res.Failures[0])
	}
}

func TestUseOfReclaimedObject(t *testing.T) {
	s := parse(t, `
[[objects]]
name = "A"

[[objects]]
name = "B"

[[roots]]
name = "a"
object = "A"

[[steps]]
action = "collect"

[[steps]]
action = "assign"
object = "A"
field = "next"
target = "B"
`)
	h := gc.NewHeap(gc.Options{Name: t.Name()})
	defer h.Close()
	_, err := NewRunner(h, s).Run()
	if err == nil || !strings.Contains(err.Error(), `object "B" was reclaimed`) {
		t.Fatalf("err = %v, want reclaimed B", err)
	}
	if !strings.HasPrefix(err.Error(), "step 2 (assign)") {
		t.Errorf("err = %v, want step prefix", err)
	}
}

func TestContainersAndClear(t *testing.T) {
	s := parse(t, `
[[objects]]
name = "H"
items = ["I1", "I2"]
set = ["S1", "S2"]

[[objects]]
name = "I1"
[[objects]]
name = "I2"
[[objects]]
name = "S1"
[[objects]]
name = "S2"

[[roots]]
name = "h"
object = "H"

[[roots]]
name = "s1"
object = "S1"

[[steps]]
action = "collect"

[[steps]]
action = "expect"
alive = ["H", "I1", "I2", "S1"]
dead = ["S2"]

[[steps]]
action = "clear"
object = "H"
field = "items"

[[steps]]
action = "clear"
object = "H"
field = "set"
target = "S1"

[[steps]]
action = "collect"

[[steps]]
action = "expect"
alive = ["H", "S1"]
dead = ["I1", "I2"]
finalized = ["S2", "I1", "I2"]
`)
	res, r := runScenario(t, s)
	if !res.Passed() {
		t.Fatalf("failures: %v", res.Failures)
	}
	h := r.Object("H")
	if h.Items.Len() != 0 || h.Set.Len() != 0 {
		t.Errorf("items=%d set=%d, want both empty", h.Items.Len(), h.Set.Len())
	}
}

func TestRootSteps(t *testing.T) {
	s := parse(t, `
[[objects]]
name = "A"

[[steps]]
action = "root"
root = "weak"
object = "A"
weak = true

[[steps]]
action = "collect"

[[steps]]
action = "expect"
dead = ["A"]
`)
	res, _ := runScenario(t, s)
	if !res.Passed() {
		t.Fatalf("failures: %v", res.Failures)
	}

	s = parse(t, `
[[steps]]
action = "unroot"
root = "missing"
`)
	h := gc.NewHeap(gc.Options{Name: t.Name()})
	defer h.Close()
	if _, err := NewRunner(h, s).Run(); err == nil {
		t.Error("unroot of an unknown root should fail")
	}
}

func TestReleaseBeforeNextScenario(t *testing.T) {
	s, err := Load(filepath.Join("testdata", "weak_edge.toml"))
	if err != nil {
		t.Fatal(err)
	}
	h := gc.NewHeap(gc.Options{Name: t.Name()})
	defer h.Close()

	first := NewRunner(h, s)
	if res, err := first.Run(); err != nil || !res.Passed() {
		t.Fatalf("first run: err=%v failures=%v", err, res.Failures)
	}
	stats := first.Release()
	if stats.SweptObjects != 2 || h.ObjectCount() != 0 {
		t.Errorf("release swept %d objects, %d left", stats.SweptObjects, h.ObjectCount())
	}
	if first.Object("R") != nil {
		t.Error("released root object still reachable through the runner")
	}

	res, err := NewRunner(h, s).Run()
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !res.Passed() {
		t.Errorf("second run on a released heap: %v", res.Failures)
	}
}

func TestRequestAndSafepoint(t *testing.T) {
	s := parse(t, `
[[objects]]
name = "A"

[[steps]]
action = "request"

[[steps]]
action = "safepoint"

[[steps]]
action = "expect"
dead = ["A"]
live = 0
`)
	res, _ := runScenario(t, s)
	if !res.Passed() {
		t.Fatalf("failures: %v", res.Failures)
	}
	if len(res.Cycles) != 1 || res.Cycles[0].Reason != "requested" {
		t.Errorf("cycles = %v, want one requested cycle", res.Cycles)
	}
}

// ---------------------------------------------------------------------------
// Parsing and validation
// ---------------------------------------------------------------------------

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown key", `colour = "red"`, "unknown key"},
		{"syntax", `[[objects]`, "parse error"},
		{"unnamed object", "[[objects]]\nnext = \"A\"", "object without a name"},
		{"duplicate object", "[[objects]]\nname = \"A\"\n[[objects]]\nname = \"A\"", "duplicate object"},
		{"unknown edge target", "[[objects]]\nname = \"A\"\nnext = \"B\"", `unknown object "B"`},
		{"unknown root object", "[[roots]]\nname = \"r\"\nobject = \"B\"", `unknown object "B"`},
		{"unknown action", "[[steps]]\naction = \"dance\"", "unknown action"},
		{"unknown field", "[[objects]]\nname = \"A\"\n[[steps]]\naction = \"assign\"\nobject = \"A\"\nfield = \"left\"\ntarget = \"A\"", "unknown field"},
		{"assign without target", "[[objects]]\nname = \"A\"\n[[steps]]\naction = \"assign\"\nobject = \"A\"\nfield = \"next\"", "needs target"},
		{"map without key", "[[objects]]\nname = \"A\"\n[[steps]]\naction = \"assign\"\nobject = \"A\"\nfield = \"map\"\ntarget = \"A\"", "needs key"},
		{"alloc of early object", "[[objects]]\nname = \"A\"\n[[steps]]\naction = \"alloc\"\nobject = \"A\"", "not late"},
		{"bad marking", "[[steps]]\naction = \"collect\"\nmarking = \"lazy\"", "unknown marking type"},
		{"bad heap", "[heap]\nmarking = \"lazy\"", "heap.marking"},
		{"negative live", "[[steps]]\naction = \"expect\"\nlive = -1", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "test.toml")
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestValidationErrorsWrapErrInvalid(t *testing.T) {
	_, err := Parse([]byte("[[steps]]\naction = \"dance\""), "test.toml")
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}
}

func TestHeapOptions(t *testing.T) {
	base := gc.Options{Name: "base", CheckThreadAffinity: true}

	s := parse(t, `name = "plain"`)
	if got := s.HeapOptions(base); got.Name != "base" || got.Generational {
		t.Errorf("HeapOptions without [heap] = %+v, want base", got)
	}

	s = parse(t, "[heap]\ngenerational = true\nmarking = \"concurrent\"")
	got := s.HeapOptions(base)
	if !got.Generational || got.Marking != gc.ConcurrentMarking {
		t.Errorf("HeapOptions = %+v, want generational concurrent", got)
	}
	if got.Name != "base" || !got.CheckThreadAffinity {
		t.Errorf("HeapOptions should keep name and affinity checks: %+v", got)
	}
}

func TestNameDefaultsToSource(t *testing.T) {
	s, err := Parse([]byte(""), "empty.toml")
	if err != nil {
		t.Fatal(err)
	}
	if s.Name != "empty.toml" {
		t.Errorf("Name = %q, want empty.toml", s.Name)
	}
}
