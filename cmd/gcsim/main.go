// gcsim runs heap scenarios against the tracegc collector and optionally
// serves the heap inspector.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/tracegc/config"
	"github.com/chazu/tracegc/gc"
	"github.com/chazu/tracegc/gc/snapshot"
	"github.com/chazu/tracegc/scenario"
	"github.com/chazu/tracegc/server"
)

// safepointInterval is how often a served heap polls for requested
// collections between inspector calls.
const safepointInterval = 10 * time.Millisecond

func main() {
	configDir := flag.String("config", ".", "Directory to search upward for "+config.FileName)
	verbosity := flag.Int("verbosity", -1, "Log verbosity (overrides the config file)")
	snapshotPath := flag.String("snapshot", "", "Write a CBOR heap snapshot after each scenario to this file")
	summary := flag.Bool("summary", false, "Print live objects by type after each scenario")
	serveMode := flag.Bool("serve", false, "Serve the inspector after running the scenarios")
	listen := flag.String("listen", "", "Inspector address (overrides the config file)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: gcsim [options] [scenario.toml...]\n\n")
		fmt.Fprintf(os.Stderr, "Builds the object graphs described by the scenarios, runs their steps and\n")
		fmt.Fprintf(os.Stderr, "checks their expectations.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  gcsim weak_edge.toml                        # Run one scenario\n")
		fmt.Fprintf(os.Stderr, "  gcsim -summary -snapshot heap.cbor a.toml   # Inspect the resulting heap\n")
		fmt.Fprintf(os.Stderr, "  gcsim -serve -listen :7420 a.toml           # Keep the heap and serve the inspector\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbosity >= 0 {
		cfg.Log.Verbosity = *verbosity
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	var logPath *string
	if cfg.Log.Path != "" {
		logPath = &cfg.Log.Path
	}
	commonlog.Configure(cfg.Log.Verbosity, logPath)

	scenarios := make([]*scenario.Scenario, 0, flag.NArg())
	for _, path := range flag.Args() {
		s, err := scenario.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		scenarios = append(scenarios, s)
	}

	if *serveMode {
		if err := serve(cfg, scenarios); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if len(scenarios) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	failed := false
	for i, s := range scenarios {
		out := *snapshotPath
		if out != "" && len(scenarios) > 1 {
			out = numberedPath(out, flag.Arg(i))
		}
		ok, err := runScenario(cfg, s, out, *summary)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", s.Name, err)
			os.Exit(1)
		}
		failed = failed || !ok
	}
	if failed {
		os.Exit(1)
	}
}

// runScenario runs s on a fresh heap and prints its cycles and result.
func runScenario(cfg *config.Config, s *scenario.Scenario, snapshotPath string, summary bool) (bool, error) {
	h := gc.NewHeap(s.HeapOptions(cfg.HeapOptions()))
	defer h.Close()

	res, err := scenario.NewRunner(h, s).Run()
	if err != nil {
		return false, err
	}
	printResult(res)

	if summary || snapshotPath != "" {
		snap := snapshot.Take(h)
		if summary {
			printSummary(snap)
		}
		if snapshotPath != "" {
			if err := writeSnapshot(snap, snapshotPath); err != nil {
				return false, err
			}
		}
	}
	return res.Passed(), nil
}

func printResult(res *scenario.Result) {
	status := "PASS"
	if !res.Passed() {
		status = "FAIL"
	}
	fmt.Printf("%s %s\n", status, res.Scenario)
	for _, c := range res.Cycles {
		fmt.Printf("  %s\n", c)
	}
	for _, f := range res.Failures {
		fmt.Printf("  %s\n", f)
	}
}

func printSummary(snap *snapshot.Snapshot) {
	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintf(w, "  TYPE\tCOUNT\tBYTES\n")
	for _, st := range snap.Summary() {
		fmt.Fprintf(w, "  %s\t%d\t%d\n", st.Type, st.Count, st.Bytes)
	}
	fmt.Fprintf(w, "  total\t%d\t%d\n", len(snap.Objects), snap.TotalBytes())
	w.Flush()
}

// numberedPath turns heap.cbor into heap-<scenario>.cbor so that several
// scenarios do not overwrite each other's snapshots.
func numberedPath(path, scenarioFile string) string {
	ext := filepath.Ext(path)
	name := strings.TrimSuffix(filepath.Base(scenarioFile), filepath.Ext(scenarioFile))
	return strings.TrimSuffix(path, ext) + "-" + name + ext
}

func writeSnapshot(snap *snapshot.Snapshot, path string) error {
	data, err := snapshot.Marshal(snap)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	fmt.Printf("  snapshot: %s (%d objects, %d bytes)\n", path, len(snap.Objects), len(data))
	return nil
}

// serve runs the scenarios on a heap owned by a HeapWorker and then serves
// the inspector for that heap until interrupted.
func serve(cfg *config.Config, scenarios []*scenario.Scenario) error {
	opts := cfg.HeapOptions()
	worker := server.NewHeapWorker(func() *gc.Heap { return gc.NewHeap(opts) }, safepointInterval)

	// Scenarios share the served heap. Each one releases its predecessor
	// so its expectations see only its own objects; the last one stays
	// for inspection.
	var prev *scenario.Runner
	for _, s := range scenarios {
		if s.Heap != nil {
			fmt.Fprintf(os.Stderr, "Warning: %s: heap section ignored when serving\n", s.Name)
		}
		v, err := worker.Do(func(h *gc.Heap) any {
			if prev != nil {
				prev.Release()
			}
			prev = scenario.NewRunner(h, s)
			res, err := prev.Run()
			if err != nil {
				panic(err)
			}
			return res
		})
		if err != nil {
			worker.Stop()
			return fmt.Errorf("%s: %w", s.Name, err)
		}
		printResult(v.(*scenario.Result))
	}

	if cfg.Scheduler.Enabled {
		v, err := worker.Do(func(h *gc.Heap) any { return h })
		if err != nil {
			worker.Stop()
			return err
		}
		sched := gc.NewScheduler(v.(*gc.Heap), cfg.SchedulerInterval())
		sched.Start()
		defer sched.Stop()
	}

	srv := server.New(worker, server.WithCallLogging())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})
	go func() {
		<-sigChan
		fmt.Fprintf(os.Stderr, "gcsim: shutting down on signal\n")
		srv.Stop()
		close(stopped)
	}()

	fmt.Printf("Inspector listening on %s\n", cfg.Server.Listen)
	fmt.Printf("  Connect: http://%s%s\n", cfg.Server.Listen, server.InspectorStatsProcedure)
	fmt.Printf("  gRPC:    grpc://%s (content subtype %q)\n", cfg.Server.Listen, server.CodecName)
	err := srv.ListenAndServe(cfg.Server.Listen)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	srv.Stop()
	return err
}
