package gc

import (
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Scheduler: periodic collection requests
// ---------------------------------------------------------------------------

// DefaultGCInterval is the default interval between requested collections.
const DefaultGCInterval = 30 * time.Second

// Scheduler periodically requests a collection on a heap. The heap is
// thread-affine, so the scheduler never collects itself: it raises the
// heap's request flag and the mutator collects at its next Safepoint.
type Scheduler struct {
	heap     *Heap
	interval time.Duration
	enabled  atomic.Bool
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle

	requests atomic.Uint64
}

// NewScheduler creates a scheduler for h. Use DefaultGCInterval for the
// default (30s).
func NewScheduler(h *Heap, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	s := &Scheduler{heap: h, interval: interval}
	s.enabled.Store(true)
	return s
}

// Start begins the request loop. Calling Start on a running scheduler does
// nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})

	// The loop gets its own copies; Stop nils the fields.
	stopCh := s.stop
	stoppedCh := s.stopped
	go s.loop(stopCh, stoppedCh)
}

// Stop halts the request loop and waits for it to exit. Safe to call more
// than once or on a scheduler that was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stopCh := s.stop
	stoppedCh := s.stopped
	s.stop = nil
	s.stopped = nil
	s.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
}

// SetEnabled enables or disables requests. A disabled scheduler keeps
// ticking but does not request collections.
func (s *Scheduler) SetEnabled(enabled bool) { s.enabled.Store(enabled) }

// IsEnabled reports whether requests are enabled.
func (s *Scheduler) IsEnabled() bool { return s.enabled.Load() }

// Interval returns the request interval.
func (s *Scheduler) Interval() time.Duration { return s.interval }

// Requests returns the number of collections requested so far.
func (s *Scheduler) Requests() uint64 { return s.requests.Load() }

func (s *Scheduler) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if s.enabled.Load() && !s.heap.GCRequested() {
				s.heap.RequestGC()
				s.requests.Add(1)
				log.Debugf("heap %s: collection requested", s.heap.opts.Name)
			}
		}
	}
}
