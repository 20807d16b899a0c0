// Package conversion runs source-file-to-raster conversions in a bounded
// pool of isolated worker processes, one process per in-flight job rather
// than a goroutine, because decoder libraries (TIFF, PDF rasterization)
// tend to keep their own internal thread pools that misbehave when shared
// across unrelated jobs in one process. The Queued/Running/Done/Failed
// state machine and the JSON-task-file shape follow the teacher's
// internal/taskqueue (ExportTask/TaskStatus); the persistence-to-disk
// half of that package is dropped since a conversion job's only output is
// the converted file itself, not a resumable queue.
package conversion

import (
	"fmt"
)

// Status is a job's position in the Queued -> Running -> (Done | Failed)
// state machine. Once Done or Failed it never changes again.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Kind selects which worker operation a Job runs.
type Kind string

const (
	KindConvertImage    Kind = "convert_image"
	KindConvertDocument Kind = "convert_document"
)

// Job describes one conversion for the pool to run. Exactly the fields
// relevant to Kind need be set; the worker ignores the rest.
type Job struct {
	Kind Kind

	In  string
	Out string

	// ConvertImage fields.
	Rotation int // degrees, one of 0/90/180/270
	Invert   bool
	Mono     bool

	// ConvertDocument fields.
	DPI int
}

// Validate checks that a Job carries the fields its Kind requires.
func (j Job) Validate() error {
	if j.In == "" || j.Out == "" {
		return fmt.Errorf("conversion: job requires In and Out paths")
	}
	switch j.Kind {
	case KindConvertImage:
		switch j.Rotation {
		case 0, 90, 180, 270:
		default:
			return fmt.Errorf("conversion: invalid rotation %d", j.Rotation)
		}
	case KindConvertDocument:
		if j.DPI <= 0 {
			return fmt.Errorf("conversion: document DPI must be positive, got %d", j.DPI)
		}
	default:
		return fmt.Errorf("conversion: unknown job kind %q", j.Kind)
	}
	return nil
}

// progressFrame is one line of newline-delimited JSON a worker process
// writes to stdout while running a job.
type progressFrame struct {
	Progress float32 `json:"progress"`
	Status   Status  `json:"status"`
	Err      string  `json:"err,omitempty"`
}
