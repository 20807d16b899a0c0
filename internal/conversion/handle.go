package conversion

import (
	"context"
	"sync"
	"time"
)

// Handle is a submitted job's handle: poll its status, read its progress,
// or block until it settles.
type Handle struct {
	job Job

	mu       sync.Mutex
	status   Status
	progress float32
	failErr  string
	pid      int

	settleOnce sync.Once
	done       chan struct{}
}

func newHandle(job Job) *Handle {
	return &Handle{job: job, status: StatusQueued, done: make(chan struct{})}
}

func (h *Handle) setPid(pid int) {
	h.mu.Lock()
	h.pid = pid
	h.mu.Unlock()
}

// Progress returns the job's last-reported completion fraction, in [0,1].
func (h *Handle) Progress() float32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress
}

// Poll returns the job's current status without blocking.
func (h *Handle) Poll() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err returns the failure message if Poll() == StatusFailed, else "".
func (h *Handle) Err() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failErr
}

// Wait blocks until the job reaches Done or Failed, the given timeout
// elapses, or ctx is cancelled. On timeout or cancellation before the job
// settled on its own, it kills the worker's process group (see
// killProcessGroup) so a stuck decoder never outlives its caller's
// patience, and returns StatusFailed.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) Status {
	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}
	select {
	case <-h.done:
		return h.Poll()
	case <-timeoutC:
	case <-ctx.Done():
	}

	h.mu.Lock()
	pid := h.pid
	alreadySettled := h.status == StatusDone || h.status == StatusFailed
	h.mu.Unlock()

	if alreadySettled {
		return h.Poll()
	}
	if pid != 0 {
		killProcessGroup(pid)
	}
	h.setFailed("conversion: job timed out, worker process group killed")
	return StatusFailed
}

func (h *Handle) setRunning() {
	h.mu.Lock()
	h.status = StatusRunning
	h.mu.Unlock()
}

func (h *Handle) setProgress(p float32) {
	h.mu.Lock()
	h.progress = p
	h.mu.Unlock()
}

func (h *Handle) setDone() {
	h.mu.Lock()
	h.status = StatusDone
	h.progress = 1
	h.mu.Unlock()
	h.settleOnce.Do(func() { close(h.done) })
}

func (h *Handle) setFailed(msg string) {
	h.mu.Lock()
	h.status = StatusFailed
	h.failErr = msg
	h.mu.Unlock()
	h.settleOnce.Do(func() { close(h.done) })
}
