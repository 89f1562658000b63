// Package engine provides the single-goroutine task loop that the resolver
// driver runs all of its callbacks through. Every readiness notification,
// timer fire, and publication is posted here rather than invoked directly
// from whatever goroutine noticed it, so at most one callback belonging to
// a given owner is ever running at a time and deferred work never runs
// while the caller still holds its own lock.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/aresdns/aresdns/internal/log"
)

// _taskBufferSize is a small buffer so posting from the loop goroutine
// itself (e.g. a callback publishing its result via RunLater) rarely blocks.
const _taskBufferSize = 64

// Engine runs posted closures and timer callbacks one at a time on a single
// background goroutine. It satisfies the dnslib.Scheduler interface.
type Engine struct {
	taskCh chan func()

	wg       sync.WaitGroup
	cancelFn context.CancelFunc

	// activeTimers tracks outstanding RunAfter timers for diagnostics; it
	// is read by ActiveTimers and has no effect on scheduling.
	activeTimers atomic.Int64
}

// New creates an Engine. Call Run before posting any work.
func New() *Engine {
	return &Engine{taskCh: make(chan func(), _taskBufferSize)}
}

// Run starts the loop goroutine. The engine stops when ctx is cancelled or
// Close is called.
func (e *Engine) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancelFn = cancel

	e.wg.Add(1)
	go e.loop(runCtx)
	log.Debug("engine: started")
}

// Close stops the loop goroutine and waits for it to exit. Pending posted
// work is dropped; callers that need every posted closure to run must wait
// for their own completion signals before calling Close.
func (e *Engine) Close() {
	if e.cancelFn != nil {
		e.cancelFn()
	}
	e.wg.Wait()
	log.Debug("engine: stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case fn := <-e.taskCh:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// RunLater posts fn to run on the loop goroutine. It never blocks the
// caller: if the buffer is full (the loop goroutine is backed up), a
// throwaway goroutine absorbs the send instead of stalling the poster —
// this matters because RunLater is routinely called from inside a
// callback that is itself running on the loop goroutine, where a blocking
// send to its own queue would deadlock.
func (e *Engine) RunLater(fn func()) {
	select {
	case e.taskCh <- fn:
	default:
		go func() { e.taskCh <- fn }()
	}
}

// Handle identifies a timer armed with RunAfter.
type Handle struct {
	timer *time.Timer
}

// Valid reports whether h refers to an armed timer.
func (h Handle) Valid() bool { return h.timer != nil }

// RunAfter arms a one-shot timer. When it fires, fn is posted via RunLater
// — it never runs directly on the timer's own goroutine, so it is
// serialized with every other callback this Engine drives.
func (e *Engine) RunAfter(d time.Duration, fn func()) Handle {
	e.activeTimers.Inc()
	t := time.AfterFunc(d, func() {
		e.activeTimers.Dec()
		e.RunLater(fn)
	})
	return Handle{timer: t}
}

// Cancel stops h's timer. It returns true if the timer was stopped before
// firing — the same contract as time.Timer.Stop, which callers need to
// decide whether a dropped reference is still owed to the timer.
func (e *Engine) Cancel(h Handle) bool {
	if h.timer == nil {
		return false
	}
	stopped := h.timer.Stop()
	if stopped {
		e.activeTimers.Dec()
	}
	return stopped
}

// ActiveTimers returns the number of RunAfter timers armed but not yet
// fired or cancelled. Exposed for status/debug endpoints only.
func (e *Engine) ActiveTimers() int64 {
	return e.activeTimers.Load()
}
