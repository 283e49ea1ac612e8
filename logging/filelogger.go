// Package logging writes the output of each test case's child processes to
// per-test log files.
package logging

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/acarl005/stripansi"

	"github.com/ethereum-optimism/infra/progtest/types"
)

const (
	RunDirectoryPrefix = "testrun-" // Standardized prefix for run directories
	LogFileSuffix      = ".log"
)

// FileSink creates one log file per test case under
// <baseDir>/testrun-<runID>/.
type FileSink struct {
	baseDir string
	stdout  io.Writer
	stderr  io.Writer
}

// NewFileSink creates a sink rooted at baseDir. Output is still mirrored to
// the process's stdout and stderr.
func NewFileSink(baseDir string) (*FileSink, error) {
	if baseDir == "" {
		return nil, errors.New("baseDir cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", baseDir, err)
	}
	return &FileSink{
		baseDir: baseDir,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}, nil
}

// RunDir returns the directory holding the logs of runID.
func (s *FileSink) RunDir(runID string) string {
	return filepath.Join(s.baseDir, RunDirectoryPrefix+runID)
}

// LogPath returns where the log of tc in runID is written.
func (s *FileSink) LogPath(runID string, tc types.TestCase) string {
	return filepath.Join(s.RunDir(runID), tc.Name+LogFileSuffix)
}

// Open creates the log file for tc. The caller must Close the returned log.
func (s *FileSink) Open(runID string, tc types.TestCase) (*TestLog, error) {
	if runID == "" {
		return nil, errors.New("runID cannot be empty")
	}
	dir := s.RunDir(runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	path := s.LogPath(runID, tc)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file %s: %w", path, err)
	}
	tl := &TestLog{file: file, path: path}
	out, errOut := &strippingWriter{log: tl}, &strippingWriter{log: tl}
	tl.writers = []*strippingWriter{out, errOut}
	tl.stdout = io.MultiWriter(s.stdout, out)
	tl.stderr = io.MultiWriter(s.stderr, errOut)
	return tl, nil
}

// TestLog is the log file of a single test case. Writers returned by Stdout
// and Stderr may be used from different goroutines.
type TestLog struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	stdout  io.Writer
	stderr  io.Writer
	writers []*strippingWriter
	closed  bool
}

func (tl *TestLog) Path() string      { return tl.path }
func (tl *TestLog) Stdout() io.Writer { return tl.stdout }
func (tl *TestLog) Stderr() io.Writer { return tl.stderr }

// Section writes a header line separating the output of two stages. Partial
// lines of the previous stage are flushed first.
func (tl *TestLog) Section(title string) error {
	for _, w := range tl.writers {
		w.flush()
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.closed {
		return errors.New("test log is closed")
	}
	_, err := fmt.Fprintf(tl.file, "=== %s ===\n", title)
	return err
}

func (tl *TestLog) writeLine(line []byte) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.closed {
		return nil
	}
	_, err := tl.file.WriteString(stripansi.Strip(string(line)))
	return err
}

// Close flushes partial lines and closes the file.
func (tl *TestLog) Close() error {
	for _, w := range tl.writers {
		w.flush()
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.closed {
		return nil
	}
	tl.closed = true
	return tl.file.Close()
}

// strippingWriter buffers until a newline so escape sequences split across
// writes are stripped as a whole.
type strippingWriter struct {
	log *TestLog
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *strippingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		idx := bytes.IndexByte(w.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := w.buf.Next(idx + 1)
		if err := w.log.writeLine(line); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func (w *strippingWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.buf.WriteByte('\n')
	_ = w.log.writeLine(w.buf.Bytes())
	w.buf.Reset()
}
