package conversion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// WorkerFlag is the hidden CLI flag main.go checks for to dispatch into
// RunWorker instead of the normal program entrypoint, the re-exec pattern
// that gives each job its own fresh process rather than forking the
// running one.
const WorkerFlag = "--convert-worker"

// DefaultPoolSize is min(cpu_count, 4), the pool size spec §4.4 mandates
// when the caller doesn't override it.
func DefaultPoolSize() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// KillGrace is a grace period for a worker's process group. Runner does
// not wait on it: killProcessGroup sends SIGKILL straight away, with no
// SIGTERM first.
const KillGrace = 2 * time.Second

// Runner is a bounded pool of worker processes. Jobs queue on a channel;
// each of PoolSize goroutines in the parent process owns one live worker
// subprocess at a time, so "pool size" bounds concurrent processes, not
// concurrent goroutines.
type Runner struct {
	poolSize int
	jobs     chan *submittedJob
	execPath string

	closeOnce chan struct{}
}

type submittedJob struct {
	job    Job
	handle *Handle
}

// NewRunner starts a Runner with the given pool size (DefaultPoolSize()
// if <= 0), re-execing execPath (os.Executable() in production) as each
// worker process.
func NewRunner(poolSize int, execPath string) *Runner {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize()
	}
	r := &Runner{
		poolSize:  poolSize,
		jobs:      make(chan *submittedJob, 64),
		execPath:  execPath,
		closeOnce: make(chan struct{}),
	}
	for i := 0; i < poolSize; i++ {
		go r.workerLoop()
	}
	return r
}

// Submit enqueues job and returns a Handle to track it. It never blocks
// past the internal queue's capacity; a full queue backpressures the
// caller the same way an unbuffered channel would.
func (r *Runner) Submit(job Job) (*Handle, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	h := newHandle(job)
	r.jobs <- &submittedJob{job: job, handle: h}
	return h, nil
}

// Close stops accepting new jobs. In-flight jobs run to completion; their
// handles are still valid to poll and wait on.
func (r *Runner) Close() {
	close(r.jobs)
}

func (r *Runner) workerLoop() {
	for sj := range r.jobs {
		r.runOne(sj)
	}
}

func (r *Runner) runOne(sj *submittedJob) {
	sj.handle.setRunning()

	if err := os.RemoveAll(sj.job.Out); err != nil && !os.IsNotExist(err) {
		sj.handle.setFailed(fmt.Sprintf("conversion: clear stale output: %v", err))
		return
	}

	payload, err := json.Marshal(sj.job)
	if err != nil {
		sj.handle.setFailed(fmt.Sprintf("conversion: marshal job: %v", err))
		return
	}

	cmd := exec.Command(r.execPath, WorkerFlag)
	cmd.Stdin = nil
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		sj.handle.setFailed(fmt.Sprintf("conversion: stdin pipe: %v", err))
		return
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		sj.handle.setFailed(fmt.Sprintf("conversion: stdout pipe: %v", err))
		return
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		sj.handle.setFailed(fmt.Sprintf("conversion: start worker: %v", err))
		return
	}
	sj.handle.setPid(cmd.Process.Pid)

	if _, err := stdinPipe.Write(append(payload, '\n')); err != nil {
		killProcessGroup(cmd.Process.Pid)
		sj.handle.setFailed(fmt.Sprintf("conversion: write job: %v", err))
		return
	}
	stdinPipe.Close()

	scanner := bufio.NewScanner(stdoutPipe)
	var lastErr string
	finalStatus := StatusFailed
	for scanner.Scan() {
		var frame progressFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			continue
		}
		sj.handle.setProgress(frame.Progress)
		if frame.Status == StatusDone || frame.Status == StatusFailed {
			finalStatus = frame.Status
			lastErr = frame.Err
		}
	}

	waitErr := cmd.Wait()
	if waitErr != nil && finalStatus != StatusDone {
		if lastErr == "" {
			lastErr = waitErr.Error()
		}
	}

	if finalStatus == StatusDone && waitErr == nil {
		sj.handle.setDone()
		return
	}

	os.RemoveAll(sj.job.Out)
	if lastErr == "" {
		lastErr = "conversion: worker exited without reporting status"
	}
	sj.handle.setFailed(lastErr)
}

// killProcessGroup sends SIGKILL to the process group rooted at pid,
// cleaning up any subprocess the worker itself spawned (a rasterizer
// shelling out to a helper binary, say) rather than leaving orphans
// behind when a job is aborted mid-write.
func killProcessGroup(pid int) {
	unix.Kill(-pid, unix.SIGKILL)
}

// RunWithTimeout submits job and blocks until it settles or timeout
// elapses; on timeout it kills the worker's process group before
// returning StatusFailed.
func (r *Runner) RunWithTimeout(ctx context.Context, job Job, timeout time.Duration) (*Handle, Status) {
	h, err := r.Submit(job)
	if err != nil {
		h = newHandle(job)
		h.setFailed(err.Error())
		return h, StatusFailed
	}
	status := h.Wait(ctx, timeout)
	return h, status
}
