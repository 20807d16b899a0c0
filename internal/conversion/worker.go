package conversion

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sunshineplan/imgconv"
	"github.com/wailsapp/mimetype"
)

// RunWorker is the worker-process entrypoint: main.go calls this instead
// of its normal startup path when invoked with WorkerFlag. It reads one
// Job as a line of JSON from stdin, performs it, and writes progressFrame
// lines to stdout as it goes. It never returns a Go error to its caller;
// all failure is reported through the final frame, since the parent only
// reads the process's stdout and exit status.
func RunWorker(stdin io.Reader, stdout io.Writer) {
	emit := func(f progressFrame) {
		data, _ := json.Marshal(f)
		fmt.Fprintf(stdout, "%s\n", data)
	}

	reader := bufio.NewReader(stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		emit(progressFrame{Status: StatusFailed, Err: fmt.Sprintf("read job: %v", err)})
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(line), &job); err != nil {
		emit(progressFrame{Status: StatusFailed, Err: fmt.Sprintf("parse job: %v", err)})
		return
	}

	emit(progressFrame{Status: StatusRunning, Progress: 0})

	var runErr error
	switch job.Kind {
	case KindConvertImage:
		runErr = convertImage(job, func(p float32) { emit(progressFrame{Status: StatusRunning, Progress: p}) })
	case KindConvertDocument:
		runErr = convertDocument(job, func(p float32) { emit(progressFrame{Status: StatusRunning, Progress: p}) })
	default:
		runErr = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	if runErr != nil {
		os.Remove(job.Out)
		emit(progressFrame{Status: StatusFailed, Err: runErr.Error()})
		return
	}
	emit(progressFrame{Status: StatusDone, Progress: 1})
}

// convertImage normalizes an arbitrary source image (TIFF, WebP, or any
// format imgconv's stdlib-backed decoder already reaches, detected by
// sniffing content rather than trusting the extension) into the rotated,
// inverted, and/or mono raster the tiler consumes.
func convertImage(job Job, progress func(float32)) error {
	src, err := os.Open(job.In)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return fmt.Errorf("detect source format: %w", err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind source: %w", err)
	}

	img, err := decodeByMimeType(src, mtype.String())
	if err != nil {
		return err
	}
	progress(0.4)

	if job.Rotation != 0 {
		img = imgconv.Rotate(img, float64(job.Rotation), nil)
	}
	progress(0.6)
	if job.Invert {
		img = imgconv.Invert(img)
	}
	if job.Mono {
		img = imgconv.Grayscale(img)
	}
	progress(0.8)

	out, err := os.Create(job.Out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	if err := imgconv.Write(out, img, &imgconv.FormatOption{Format: imgconv.PNG}); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func decodeByMimeType(r io.Reader, mtype string) (image.Image, error) {
	switch mtype {
	case "image/tiff":
		return tiffDecode(r)
	case "image/webp":
		return webpDecode(r)
	default:
		img, err := imgconv.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", mtype, err)
		}
		return img, nil
	}
}

// convertDocument rasterizes the first page of a PDF to the normalized
// raster file the tiler consumes. pdfcpu's page count check gives a fast
// failure for a non-PDF or corrupt file before any rasterization work;
// the actual rasterization is shelled out to poppler's pdftoppm at the
// job's requested DPI, the same external-renderer-via-exec.Command shape
// the teacher uses for ffmpeg in internal/video/export.go.
func convertDocument(job Job, progress func(float32)) error {
	counts, err := api.PageCountFile(job.In)
	if err != nil {
		return fmt.Errorf("read page count: %w", err)
	}
	if counts == 0 {
		return fmt.Errorf("document has no pages")
	}
	progress(0.2)

	tmp, err := os.CreateTemp("", "tilepyramid-pdftoppm-")
	if err != nil {
		return fmt.Errorf("create temp output base: %w", err)
	}
	tmpBase := tmp.Name()
	tmp.Close()
	os.Remove(tmpBase)
	defer os.Remove(tmpBase + ".png")

	args := []string{"-png", "-r", strconv.Itoa(job.DPI), "-f", "1", "-l", "1", "-singlefile", job.In, tmpBase}
	log.Printf("[Conversion] Running pdftoppm: pdftoppm %v", args)

	cmd := exec.Command("pdftoppm", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rasterize page at %d dpi: %w (%s)", job.DPI, err, stderr.String())
	}
	progress(0.6)

	rendered, err := os.Open(tmpBase + ".png")
	if err != nil {
		return fmt.Errorf("open rasterized page: %w", err)
	}
	defer rendered.Close()

	img, err := imgconv.Decode(rendered)
	if err != nil {
		return fmt.Errorf("decode rasterized page: %w", err)
	}
	progress(0.8)

	out, err := os.Create(job.Out)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	if err := imgconv.Write(out, img, &imgconv.FormatOption{Format: imgconv.PNG}); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
