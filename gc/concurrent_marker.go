package gc

import (
	"sync"
	"sync/atomic"
	"time"
)

const concurrentIdleBackoff = 50 * time.Microsecond

// concurrentMarker runs marking workers on background goroutines. Workers
// steal published segments from the shared worklists and publish their
// own buffers when stopped.
type concurrentMarker struct {
	marker  *Marker
	stopCh  chan struct{}
	wg      sync.WaitGroup
	states  []*MarkingState
	tracing atomic.Int64
}

func startConcurrentMarker(m *Marker, workers int) *concurrentMarker {
	if workers <= 0 {
		workers = 1
	}
	c := &concurrentMarker{marker: m, stopCh: make(chan struct{})}
	for i := 0; i < workers; i++ {
		st := newMarkingState(m.worklists, false)
		c.states = append(c.states, st)
		c.wg.Add(1)
		go c.run(st, NewConcurrentMarkingVisitor(st))
	}
	return c
}

func (c *concurrentMarker) run(st *MarkingState, v *Visitor) {
	defer c.wg.Done()
	defer st.Publish()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		item, ok := st.marking.Pop()
		if !ok {
			select {
			case <-c.stopCh:
				return
			case <-time.After(concurrentIdleBackoff):
			}
			continue
		}
		item.cb(v, item.hdr.payload)
		c.tracing.Add(1)
	}
}

// stop halts the workers and folds their counters into the mutator state.
// All worker buffers are published when it returns.
func (c *concurrentMarker) stop() {
	close(c.stopCh)
	c.wg.Wait()
	mut := c.marker.mutator
	for _, st := range c.states {
		mut.markedObjects += st.markedObjects
		mut.markedBytes += st.markedBytes
		c.marker.stats.DeferredByWorkers += st.deferred
	}
}

func (c *concurrentMarker) traced() int { return int(c.tracing.Load()) }
