// Package recording stores decoder input as JSON lines: a header line
// followed by one object per cw.Sample. Recordings replay through the
// decoder exactly as they were captured.
package recording

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ColonelBlimp/morselink/internal/cw"
	jsoniter "github.com/json-iterator/go"
)

// Format identifies a sample recording in its header.
const Format = "morselink-samples"

// Version is the current recording version.
const Version = 1

var (
	// ErrNotRecording indicates the input has no recording header
	ErrNotRecording = errors.New("not a sample recording")
	// ErrUnsupportedVersion indicates a recording version other than Version
	ErrUnsupportedVersion = errors.New("unsupported recording version")
	// ErrWriterClosed indicates Write after Close
	ErrWriterClosed = errors.New("recording writer closed")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Header is the first line of a recording.
type Header struct {
	Format  string    `json:"format"`
	Version int       `json:"version"`
	Created time.Time `json:"created"`
	// Source describes where the samples came from, e.g. a device name.
	Source        string  `json:"source,omitempty"`
	ToneFrequency float64 `json:"tone_frequency,omitempty"`
}

type record struct {
	Timestamp time.Time `json:"ts"`
	Active    bool      `json:"on"`
	Intensity float64   `json:"i"`
}

// Writer appends samples to a recording. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *jsoniter.Encoder
	closer io.Closer
	count  int
	closed bool
}

// NewWriter writes the header to w. Format and Version are filled in.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	h.Format = Format
	h.Version = Version
	if h.Created.IsZero() {
		h.Created = time.Now()
	}

	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("write recording header: %w", err)
	}
	return &Writer{buf: buf, enc: enc}, nil
}

// Create starts a recording file at path.
func Create(path string, h Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	w, err := NewWriter(f, h)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Write appends one sample.
func (w *Writer) Write(s cw.Sample) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if err := w.enc.Encode(record{Timestamp: s.Timestamp, Active: s.Active, Intensity: s.Intensity}); err != nil {
		return fmt.Errorf("write sample: %w", err)
	}
	w.count++
	return nil
}

// Count returns the number of samples written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Flush writes buffered lines to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and, for files opened by Create, closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.buf.Flush()
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
	}
	return err
}

// maxLine bounds one JSON line.
const maxLine = 64 * 1024

// Reader reads samples back from a recording.
type Reader struct {
	scanner *bufio.Scanner
	header  Header
	line    int
}

// NewReader reads and checks the header.
func NewReader(r io.Reader) (*Reader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), maxLine)
	rd := &Reader{scanner: scanner}

	data, err := rd.nextLine()
	if err == io.EOF {
		return nil, ErrNotRecording
	}
	if err != nil {
		return nil, fmt.Errorf("read recording header: %w", err)
	}

	var h Header
	if err := json.Unmarshal(data, &h); err != nil || h.Format != Format {
		return nil, ErrNotRecording
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	rd.header = h
	return rd, nil
}

// nextLine returns the next non-blank line.
func (r *Reader) nextLine() ([]byte, error) {
	for r.scanner.Scan() {
		r.line++
		if line := bytes.TrimSpace(r.scanner.Bytes()); len(line) > 0 {
			return line, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Header returns the recording header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next sample, or io.EOF after the last one.
func (r *Reader) Next() (cw.Sample, error) {
	data, err := r.nextLine()
	if err != nil {
		return cw.Sample{}, err
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return cw.Sample{}, fmt.Errorf("read sample at line %d: %w", r.line, err)
	}
	return cw.Sample{Timestamp: rec.Timestamp, Active: rec.Active, Intensity: rec.Intensity}, nil
}

// Replay passes every sample to feed in order and returns how many were
// read. Errors from feed are collected, not fatal, so one rejected sample
// does not stop the replay.
func Replay(r *Reader, feed func(cw.Sample) error) (int, error) {
	var (
		n    int
		errs []error
	)
	for {
		s, err := r.Next()
		if err == io.EOF {
			return n, errors.Join(errs...)
		}
		if err != nil {
			return n, errors.Join(append(errs, err)...)
		}
		n++
		if ferr := feed(s); ferr != nil {
			errs = append(errs, ferr)
		}
	}
}

// Open opens a recording file. The caller closes the returned file.
func Open(path string) (*Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open recording: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return r, f, nil
}
