package conversion

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestMain lets this test binary double as the worker subprocess Runner
// execs, the same os/exec self-fork trick the standard library's own
// exec tests use (see os/exec/exec_test.go's TestHelperProcess):
// re-invoking the test binary with an env marker instead of building a
// separate fixture binary neither the harness nor the Go toolchain runs
// here.
func TestMain(m *testing.M) {
	if os.Getenv("CONVERSION_WANT_HELPER_PROCESS") == "1" {
		runHelperProcess()
		return
	}
	// Subprocesses Runner execs during the tests below inherit this from
	// here on; the check above already committed this process to running
	// as the normal test binary, not the helper process.
	os.Setenv("CONVERSION_WANT_HELPER_PROCESS", "1")
	os.Exit(m.Run())
}

// runHelperProcess stands in for RunWorker: it reads a Job line from
// stdin and emits canned progress frames, without touching imgconv/pdfcpu
// (those are covered by grounding, not by this process-plumbing test).
// Behavior is driven by the job's Out path suffix so each test case can
// steer it.
func runHelperProcess() {
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')

	var job Job
	_ = json.Unmarshal([]byte(line), &job)

	emit := func(f progressFrame) {
		data, _ := json.Marshal(f)
		fmt.Fprintf(os.Stdout, "%s\n", data)
	}

	emit(progressFrame{Status: StatusRunning, Progress: 0.1})

	switch filepath.Base(job.Out) {
	case "fail.png":
		emit(progressFrame{Status: StatusFailed, Err: "helper: simulated failure"})
		os.Exit(0)
	case "hang.png":
		time.Sleep(5 * time.Second)
		emit(progressFrame{Status: StatusDone, Progress: 1})
		os.Exit(0)
	default:
		if err := os.WriteFile(job.Out, []byte("converted"), 0o644); err != nil {
			emit(progressFrame{Status: StatusFailed, Err: err.Error()})
			os.Exit(0)
		}
		emit(progressFrame{Status: StatusDone, Progress: 1})
		os.Exit(0)
	}
}

func testExecPath(t *testing.T) string {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return exe
}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	r := NewRunner(2, testExecPath(t))
	return r
}

func TestJobValidate(t *testing.T) {
	cases := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"missing paths", Job{Kind: KindConvertImage}, false},
		{"bad rotation", Job{Kind: KindConvertImage, In: "a", Out: "b", Rotation: 45}, false},
		{"good image", Job{Kind: KindConvertImage, In: "a", Out: "b", Rotation: 90}, true},
		{"zero dpi document", Job{Kind: KindConvertDocument, In: "a", Out: "b", DPI: 0}, false},
		{"good document", Job{Kind: KindConvertDocument, In: "a", Out: "b", DPI: 150}, true},
		{"unknown kind", Job{Kind: "bogus", In: "a", Out: "b"}, false},
	}
	for _, c := range cases {
		err := c.job.Validate()
		if (err == nil) != c.ok {
			t.Errorf("%s: Validate() err = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestRunnerSubmitSucceeds(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t)
	defer r.Close()

	job := Job{Kind: KindConvertImage, In: "in.tif", Out: filepath.Join(dir, "ok.png"), Rotation: 0}
	h, status := r.RunWithTimeout(context.Background(), job, 10*time.Second)
	if status != StatusDone {
		t.Fatalf("status = %v, err = %q, want Done", status, h.Err())
	}
	if _, err := os.Stat(job.Out); err != nil {
		t.Fatalf("expected output file written: %v", err)
	}
}

func TestRunnerSubmitFailureRemovesOutput(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t)
	defer r.Close()

	out := filepath.Join(dir, "fail.png")
	// Pre-create the output so we can confirm the runner cleans it up on failure.
	_ = os.WriteFile(out, []byte("stale"), 0o644)

	job := Job{Kind: KindConvertImage, In: "in.tif", Out: out, Rotation: 0}
	h, status := r.RunWithTimeout(context.Background(), job, 10*time.Second)
	if status != StatusFailed {
		t.Fatalf("status = %v, want Failed", status)
	}
	if h.Err() == "" {
		t.Fatalf("expected non-empty error message on failure")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("expected failed job's output removed, stat err = %v", err)
	}
}

func TestRunnerRejectsInvalidJob(t *testing.T) {
	r := newTestRunner(t)
	defer r.Close()

	_, err := r.Submit(Job{Kind: KindConvertImage})
	if err == nil {
		t.Fatalf("expected Submit to reject an invalid job before queuing it")
	}
}

func TestRunnerProcessesJobsConcurrently(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t)
	defer r.Close()

	var handles []*Handle
	for i := 0; i < 4; i++ {
		job := Job{Kind: KindConvertImage, In: "in.tif", Out: filepath.Join(dir, fmt.Sprintf("ok%d.png", i)), Rotation: 0}
		h, err := r.Submit(job)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		handles = append(handles, h)
	}

	for _, h := range handles {
		status := h.Wait(context.Background(), 10*time.Second)
		if status != StatusDone {
			t.Fatalf("job status = %v, want Done", status)
		}
	}
}

func TestHandleWaitTimeoutKillsWorker(t *testing.T) {
	dir := t.TempDir()
	r := newTestRunner(t)
	defer r.Close()

	job := Job{Kind: KindConvertImage, In: "in.tif", Out: filepath.Join(dir, "hang.png"), Rotation: 0}
	h, err := r.Submit(job)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	status := h.Wait(context.Background(), 100*time.Millisecond)
	if status != StatusFailed {
		t.Fatalf("status = %v, want Failed on timeout", status)
	}
	if h.Err() == "" {
		t.Fatalf("expected timeout to record an error message")
	}
}
