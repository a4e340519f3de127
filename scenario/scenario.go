// Package scenario loads TOML descriptions of object graphs and mutation
// sequences and runs them against a heap, checking which objects survive.
package scenario

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/chazu/tracegc/config"
	"github.com/chazu/tracegc/gc"
)

// Scenario is a parsed scenario file.
type Scenario struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`

	// Heap replaces the caller's heap options when present. Fields left
	// out take the gc package defaults.
	Heap *config.Heap `toml:"heap"`

	Objects []ObjectSpec `toml:"objects"`
	Roots   []RootSpec   `toml:"roots"`
	Steps   []Step       `toml:"steps"`
}

// ObjectSpec declares a Node and its initial edges.
type ObjectSpec struct {
	Name  string            `toml:"name"`
	Next  string            `toml:"next"`
	Weak  string            `toml:"weak"`
	Items []string          `toml:"items"`
	Set   []string          `toml:"set"`
	Map   map[string]string `toml:"map"` // ephemeron key -> value

	// Late objects are allocated by an "alloc" step instead of up front.
	Late bool `toml:"late"`
}

// RootSpec declares a persistent handle.
type RootSpec struct {
	Name   string `toml:"name"`
	Object string `toml:"object"`
	Weak   bool   `toml:"weak"`
}

// Step is one action of a scenario. Which fields apply depends on Action.
type Step struct {
	Action string `toml:"action"`

	// collect, start
	Collection string `toml:"collection"`
	Marking    string `toml:"marking"`
	Reason     string `toml:"reason"`

	// safepoint
	Count int `toml:"count"`

	// alloc, assign, clear
	Object string `toml:"object"`
	Field  string `toml:"field"`
	Target string `toml:"target"`
	Key    string `toml:"key"`

	// root, unroot
	Root string `toml:"root"`
	Weak bool   `toml:"weak"`

	// expect
	Alive     []string `toml:"alive"`
	Dead      []string `toml:"dead"`
	Cleared   []string `toml:"cleared"` // objects whose weak member is null
	Finalized []string `toml:"finalized"`
	Live      *int     `toml:"live"`
}

const (
	ActionCollect   = "collect"
	ActionStart     = "start"
	ActionSafepoint = "safepoint"
	ActionFinalize  = "finalize"
	ActionRequest   = "request"
	ActionAlloc     = "alloc"
	ActionAssign    = "assign"
	ActionClear     = "clear"
	ActionRoot      = "root"
	ActionUnroot    = "unroot"
	ActionExpect    = "expect"
)

const (
	FieldNext  = "next"
	FieldWeak  = "weak"
	FieldItems = "items"
	FieldSet   = "set"
	FieldMap   = "map"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid scenario")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Parse decodes and validates a scenario. name is used in error messages.
func Parse(data []byte, name string) (*Scenario, error) {
	var s Scenario
	md, err := toml.Decode(string(data), &s)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", name, undecoded[0].String())
	}
	if s.Name == "" {
		s.Name = name
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &s, nil
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Validate checks that every name refers to a declared object or root and
// that every action and field is known. Whether an object is still alive
// when a step uses it can only be checked while running.
func (s *Scenario) Validate() error {
	objects := make(map[string]bool, len(s.Objects))
	for _, o := range s.Objects {
		if o.Name == "" {
			return invalid("object without a name")
		}
		if objects[o.Name] {
			return invalid("duplicate object %q", o.Name)
		}
		objects[o.Name] = true
	}
	ref := func(what, name string) error {
		if name != "" && !objects[name] {
			return invalid("%s refers to unknown object %q", what, name)
		}
		return nil
	}

	for _, o := range s.Objects {
		names := append([]string{o.Next, o.Weak}, o.Items...)
		names = append(names, o.Set...)
		for k, v := range o.Map {
			names = append(names, k, v)
		}
		for _, n := range names {
			if err := ref("object "+o.Name, n); err != nil {
				return err
			}
		}
	}

	roots := make(map[string]bool)
	for _, r := range s.Roots {
		if r.Name == "" {
			return invalid("root without a name")
		}
		if roots[r.Name] {
			return invalid("duplicate root %q", r.Name)
		}
		roots[r.Name] = true
		if r.Object == "" {
			return invalid("root %q has no object", r.Name)
		}
		if err := ref("root "+r.Name, r.Object); err != nil {
			return err
		}
	}

	if s.Heap != nil {
		c := config.Default()
		c.Heap = *s.Heap
		if err := c.Validate(); err != nil {
			return invalid("%v", err)
		}
	}

	for i := range s.Steps {
		if err := s.validateStep(i, ref); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scenario) validateStep(i int, ref func(what, name string) error) error {
	st := &s.Steps[i]
	what := fmt.Sprintf("step %d (%s)", i+1, st.Action)
	need := func(field, value string) error {
		if value == "" {
			return invalid("%s needs %s", what, field)
		}
		return nil
	}

	switch st.Action {
	case ActionCollect, ActionStart:
		if _, err := st.config(); err != nil {
			return invalid("%s: %v", what, err)
		}
	case ActionSafepoint, ActionFinalize, ActionRequest:
	case ActionAlloc:
		if err := need("object", st.Object); err != nil {
			return err
		}
		for _, o := range s.Objects {
			if o.Name == st.Object && !o.Late {
				return invalid("%s allocates %q which is not late", what, st.Object)
			}
		}
	case ActionAssign, ActionClear:
		if err := need("object", st.Object); err != nil {
			return err
		}
		switch st.Field {
		case FieldNext, FieldWeak, FieldItems:
		case FieldSet:
			if st.Action == ActionClear && st.Target == "" {
				return invalid("%s needs target", what)
			}
		case FieldMap:
			if err := need("key", st.Key); err != nil {
				return err
			}
		default:
			return invalid("%s: unknown field %q", what, st.Field)
		}
		if st.Action == ActionAssign {
			if err := need("target", st.Target); err != nil {
				return err
			}
		}
	case ActionRoot:
		if err := need("root", st.Root); err != nil {
			return err
		}
		if err := need("object", st.Object); err != nil {
			return err
		}
	case ActionUnroot:
		if err := need("root", st.Root); err != nil {
			return err
		}
	case ActionExpect:
		if st.Live != nil && *st.Live < 0 {
			return invalid("%s: live must not be negative", what)
		}
	default:
		return invalid("%s: unknown action", what)
	}

	names := []string{st.Object, st.Target, st.Key}
	for _, list := range [][]string{st.Alive, st.Dead, st.Cleared, st.Finalized} {
		names = append(names, list...)
	}
	for _, n := range names {
		if err := ref(what, n); err != nil {
			return err
		}
	}
	return nil
}

// config returns the collection configuration of a collect or start step.
func (st *Step) config() (gc.CollectionConfig, error) {
	collection, err := gc.ParseCollectionType(st.Collection)
	if err != nil {
		return gc.CollectionConfig{}, err
	}
	marking, err := gc.ParseMarkingType(st.Marking)
	if err != nil {
		return gc.CollectionConfig{}, err
	}
	reason := st.Reason
	if reason == "" {
		reason = "scenario"
	}
	return gc.CollectionConfig{Collection: collection, Marking: marking, Reason: reason}, nil
}

// HeapOptions returns the options a heap for this scenario should use:
// base, or the scenario's own heap section when it has one.
func (s *Scenario) HeapOptions(base gc.Options) gc.Options {
	if s.Heap == nil {
		return base
	}
	c := config.Default()
	c.Heap = *s.Heap
	opts := c.HeapOptions()
	if opts.Name == "" {
		opts.Name = base.Name
	}
	opts.CheckThreadAffinity = opts.CheckThreadAffinity || base.CheckThreadAffinity
	return opts
}
