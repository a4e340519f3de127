// Package config handles tracegc.toml configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/tracegc/gc"
)

// FileName is the name of the configuration file.
const FileName = "tracegc.toml"

// Config represents a tracegc.toml file.
type Config struct {
	Heap      Heap      `toml:"heap"`
	Scheduler Scheduler `toml:"scheduler"`
	Server    Server    `toml:"server"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the file (set at load time).
	Dir string `toml:"-"`
}

// Heap configures the managed heap.
type Heap struct {
	Name                string `toml:"name"`
	Marking             string `toml:"marking"`
	ConcurrentMarkers   int    `toml:"concurrent-markers"`
	StepBudget          int    `toml:"step-budget"`
	Compaction          bool   `toml:"compaction"`
	Generational        bool   `toml:"generational"`
	AllocationLimit     uint64 `toml:"allocation-limit"`
	MaxPersistentNodes  int    `toml:"max-persistent-nodes"`
	CheckThreadAffinity bool   `toml:"check-thread-affinity"`
	TrackRootLocations  bool   `toml:"track-root-locations"`
}

// Scheduler configures periodic collection requests.
type Scheduler struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
}

// Server configures the inspector service.
type Server struct {
	Listen string `toml:"listen"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	Path      string `toml:"path"`
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	opts := gc.DefaultOptions()
	return &Config{
		Heap: Heap{
			Name:              opts.Name,
			Marking:           opts.Marking.String(),
			ConcurrentMarkers: opts.ConcurrentMarkers,
			StepBudget:        opts.StepBudget,
		},
		Scheduler: Scheduler{Interval: Duration(gc.DefaultGCInterval)},
		Server:    Server{Listen: "127.0.0.1:7420"},
		Log:       Log{Verbosity: 1},
	}
}

// Parse decodes a configuration on top of the defaults. name is used in
// error messages.
func Parse(data []byte, name string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %q", name, undecoded[0].String())
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

// Load parses tracegc.toml from the given directory.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	c.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return c, nil
}

// FindAndLoad walks up from startDir to find a tracegc.toml file and loads
// it. Returns the defaults if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return Load(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return Default(), nil
		}
		dir = parent
	}
}

// Validate checks values that cannot be expressed by the TOML types.
func (c *Config) Validate() error {
	if _, err := gc.ParseMarkingType(c.Heap.Marking); err != nil {
		return fmt.Errorf("heap.marking: %w", err)
	}
	if c.Heap.ConcurrentMarkers < 0 {
		return fmt.Errorf("heap.concurrent-markers must not be negative")
	}
	if c.Heap.StepBudget < 0 {
		return fmt.Errorf("heap.step-budget must not be negative")
	}
	if c.Heap.MaxPersistentNodes < 0 {
		return fmt.Errorf("heap.max-persistent-nodes must not be negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}
	return nil
}

// HeapOptions converts the heap section to gc.Options.
func (c *Config) HeapOptions() gc.Options {
	// Validate has already checked the marking type.
	marking, _ := gc.ParseMarkingType(c.Heap.Marking)
	return gc.Options{
		Name:                c.Heap.Name,
		Marking:             marking,
		ConcurrentMarkers:   c.Heap.ConcurrentMarkers,
		StepBudget:          c.Heap.StepBudget,
		Compaction:          c.Heap.Compaction,
		Generational:        c.Heap.Generational,
		AllocationLimit:     c.Heap.AllocationLimit,
		MaxPersistentNodes:  c.Heap.MaxPersistentNodes,
		CheckThreadAffinity: c.Heap.CheckThreadAffinity,
		TrackRootLocations:  c.Heap.TrackRootLocations,
	}
}

// SchedulerInterval returns the scheduler interval as a time.Duration.
func (c *Config) SchedulerInterval() time.Duration {
	return time.Duration(c.Scheduler.Interval)
}
