package audit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/semaphore"
)

var (
	ErrBodyRead     = errors.New("failed to read body")
	ErrBodyTooLarge = errors.New("body exceeds size limit")
	ErrLogWrite     = errors.New("failed to write audit log")
)

// Log is an append-only sink shared by all exchanges. A single writer holds
// the log at a time, and every entry is handed to the underlying file in one
// write, so entries from concurrent exchanges never interleave.
type Log struct {
	path string
	w    io.Writer
	sem  *semaphore.Weighted
}

// OpenLog opens (creating if needed) the file at path for appending.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return newLog(path, f), nil
}

func newLog(path string, w io.Writer) *Log {
	return &Log{
		path: path,
		w:    w,
		sem:  semaphore.NewWeighted(1),
	}
}

func (l *Log) Path() string {
	return l.path
}

// Append writes one entry. Waiting for the log is bounded by ctx.
func (l *Log) Append(ctx context.Context, entry []byte) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		auditFailures.WithLabelValues("acquire").Inc()
		return fmt.Errorf("%w: acquiring log: %w", ErrLogWrite, err)
	}
	defer l.sem.Release(1)

	n, err := l.w.Write(entry)
	auditBytes.Add(float64(n))
	if err != nil {
		auditFailures.WithLabelValues("write").Inc()
		return fmt.Errorf("%w: %w", ErrLogWrite, err)
	}
	return nil
}

func (l *Log) Close() error {
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
