package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	DefaultMaxBodyBytes = 10 << 20
	DefaultWriteTimeout = 10 * time.Second
)

type Config struct {
	// Skipper excludes requests from auditing entirely.
	Skipper middleware.Skipper

	// MaxBodyBytes caps how much of a request body is buffered. Larger
	// bodies are rejected with 413. Zero means DefaultMaxBodyBytes; a
	// negative value disables the cap.
	MaxBodyBytes int64

	// WriteTimeout bounds how long an exchange waits for the shared log.
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// Middleware records every exchange to log. The request is drained and
// written to the log before the handler runs, and handed on with an
// identical, unread body. The response is buffered in full, written to the
// log, and only then released to the client.
func Middleware(log *Log, config Config) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = middleware.DefaultSkipper
	}
	if config.MaxBodyBytes == 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "audit")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}

			req := c.Request()
			body, err := drain(req.Body, config.MaxBodyBytes)
			if errors.Is(err, ErrBodyTooLarge) {
				auditFailures.WithLabelValues("too_large").Inc()
				return c.String(http.StatusRequestEntityTooLarge, err.Error())
			} else if err != nil {
				auditFailures.WithLabelValues("read_request").Inc()
				return c.String(http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
			}

			if err := appendEntry(req.Context(), log, config.WriteTimeout, FormatRequest(req, body)); err != nil {
				logger.Error("failed to record request", "method", req.Method, "path", req.URL.Path, "err", err)
				return c.String(http.StatusInternalServerError, err.Error())
			}
			auditEntries.WithLabelValues("request").Inc()
			restoreBody(req, body)

			res := c.Response()
			original := res.Writer
			rec := newRecorder(original.Header())
			res.Writer = rec
			handled := func() {
				defer func() { res.Writer = original }()
				if err := next(c); err != nil {
					c.Error(err)
				}
			}
			handled()

			status := rec.statusCode()
			if bodyAllowed(req.Method, status) && rec.header.Get("Content-Length") == "" {
				rec.header.Set("Content-Length", strconv.Itoa(rec.body.Len()))
			}
			if err := appendEntry(req.Context(), log, config.WriteTimeout, FormatResponse(req.Proto, status, rec.header, rec.body.Bytes())); err != nil {
				logger.Error("failed to record response", "method", req.Method, "path", req.URL.Path, "err", err)
				res.Status = http.StatusInternalServerError
				clearHeader(original.Header())
				http.Error(original, err.Error(), http.StatusInternalServerError)
				return nil
			}
			auditEntries.WithLabelValues("response").Inc()

			rec.release(original)
			return nil
		}
	}
}

func appendEntry(ctx context.Context, log *Log, timeout time.Duration, entry []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return log.Append(ctx, entry)
}

func drain(body io.ReadCloser, limit int64) ([]byte, error) {
	if body == nil || body == http.NoBody {
		return []byte{}, nil
	}
	defer body.Close()

	r := io.Reader(body)
	if limit > 0 {
		r = io.LimitReader(body, limit+1)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBodyRead, err)
	}
	if limit > 0 && int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrBodyTooLarge, limit)
	}
	return b, nil
}

func restoreBody(req *http.Request, body []byte) {
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
}

func bodyAllowed(method string, status int) bool {
	if method == http.MethodHead {
		return false
	}
	switch {
	case status >= 100 && status <= 199:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func clearHeader(h http.Header) {
	for k := range h {
		delete(h, k)
	}
}

// recorder buffers a response so it can be logged before anything reaches
// the client.
type recorder struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newRecorder(initial http.Header) *recorder {
	return &recorder{header: initial.Clone()}
}

func (r *recorder) Header() http.Header {
	return r.header
}

func (r *recorder) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}

// Flush is a no-op: nothing is sent until the exchange has been logged.
func (r *recorder) Flush() {}

func (r *recorder) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *recorder) release(w http.ResponseWriter) {
	dst := w.Header()
	clearHeader(dst)
	for k, v := range r.header {
		dst[k] = v
	}
	w.WriteHeader(r.statusCode())
	w.Write(r.body.Bytes()) // nolint:errcheck
}
