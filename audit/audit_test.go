package audit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog(t *testing.T) *Log {
	l, err := OpenLog(filepath.Join(t.TempDir(), "interactions.log"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func readLog(t *testing.T, l *Log) string {
	b, err := os.ReadFile(l.Path())
	require.NoError(t, err)
	return string(b)
}

func echoHandler(c echo.Context) error {
	b, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}
	c.Response().Header().Set("X-Echo", "yes")
	return c.Blob(http.StatusCreated, "application/octet-stream", b)
}

func newEcho(l *Log, config Config) *echo.Echo {
	e := echo.New()
	e.Use(Middleware(l, config))
	e.POST("/echo", echoHandler)
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "short and stout")
	})
	e.GET("/empty", func(c echo.Context) error {
		return nil
	})
	e.GET("/panic", func(c echo.Context) error {
		panic("boom")
	})
	return e
}

func TestFormatRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook?x=1", nil)
	req.Host = "example.com"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add("X-Multi", "a")
	req.Header.Add("X-Multi", "b")

	out := FormatRequest(req, []byte(`{"a":1}`))
	expected := "> POST /webhook?x=1 HTTP/1.1\n" +
		"> Content-Type: application/json\n" +
		"> Host: example.com\n" +
		"> X-Multi: a\n" +
		"> X-Multi: b\n" +
		">\n" +
		">\n" +
		"{\"a\":1}\n" +
		"> --------------------------\n\n"
	assert.Equal(t, expected, string(out))
}

func TestFormatResponse(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/plain")
	out := FormatResponse("HTTP/1.1", http.StatusOK, h, []byte("processed"))
	expected := "< HTTP/1.1 200 OK\n" +
		"< Content-Type: text/plain\n" +
		"<\n" +
		"<\n" +
		"processed\n" +
		"< --------------------------\n\n"
	assert.Equal(t, expected, string(out))
}

func TestBodiesPreserved(t *testing.T) {
	assert := assert.New(t)
	l := testLog(t)
	e := newEcho(l, Config{})

	payload := []byte("binary\x00payload\nwith lines\r\n")
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(payload))
	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, req)

	assert.Equal(http.StatusCreated, resp.Code)
	assert.Equal(payload, resp.Body.Bytes())
	assert.Equal("yes", resp.Header().Get("X-Echo"))
	assert.Equal(fmt.Sprint(len(payload)), resp.Header().Get("Content-Length"))

	logged := readLog(t, l)
	reqIdx := strings.Index(logged, "> POST /echo HTTP/1.1\n")
	respIdx := strings.Index(logged, "< HTTP/1.1 201 Created\n")
	require.GreaterOrEqual(t, reqIdx, 0)
	require.Greater(t, respIdx, reqIdx)
	assert.Contains(logged[:respIdx], ">\n>\n"+string(payload)+"\n> --------------------------\n\n")
	assert.Contains(logged[respIdx:], "< X-Echo: yes\n")
	assert.Contains(logged[respIdx:], "<\n<\n"+string(payload)+"\n< --------------------------\n\n")
}

func TestEmptyBodies(t *testing.T) {
	assert := assert.New(t)
	l := testLog(t)
	e := newEcho(l, Config{})

	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/empty", nil))
	assert.Equal(http.StatusOK, resp.Code)
	assert.Empty(resp.Body.Bytes())

	logged := readLog(t, l)
	assert.Contains(logged, "> GET /empty HTTP/1.1\n")
	assert.Contains(logged, "< HTTP/1.1 200 OK\n")
}

func TestHandlerErrorRecorded(t *testing.T) {
	assert := assert.New(t)
	l := testLog(t)
	e := newEcho(l, Config{})

	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/fail", nil))
	assert.Equal(http.StatusTeapot, resp.Code)
	assert.Contains(resp.Body.String(), "short and stout")

	logged := readLog(t, l)
	assert.Contains(logged, "< HTTP/1.1 418 I'm a teapot\n")
	assert.Contains(logged, "short and stout")
}

func TestPanicRestoresWriter(t *testing.T) {
	l := testLog(t)
	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = c.String(http.StatusInternalServerError, "recovered")
				}
			}()
			return next(c)
		}
	})
	e.Use(Middleware(l, Config{}))
	e.GET("/panic", func(c echo.Context) error {
		panic("boom")
	})

	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "recovered", resp.Body.String())
}

func TestBodyTooLarge(t *testing.T) {
	assert := assert.New(t)
	l := testLog(t)
	e := newEcho(l, Config{MaxBodyBytes: 8})

	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("0123456789")))
	assert.Equal(http.StatusRequestEntityTooLarge, resp.Code)
	assert.Empty(readLog(t, l))

	resp = httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("01234567")))
	assert.Equal(http.StatusCreated, resp.Code)
	assert.Equal("01234567", resp.Body.String())
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestBodyReadFailure(t *testing.T) {
	assert := assert.New(t)
	l := testLog(t)
	e := newEcho(l, Config{})

	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/echo", brokenReader{}))
	assert.Equal(http.StatusBadRequest, resp.Code)
	assert.Contains(resp.Body.String(), "failed to read request body")
	assert.Contains(resp.Body.String(), "connection reset")
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestLogWriteFailure(t *testing.T) {
	assert := assert.New(t)
	l := newLog("broken", failingWriter{})
	e := newEcho(l, Config{})

	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("hello")))
	assert.Equal(http.StatusInternalServerError, resp.Code)
	assert.Contains(resp.Body.String(), "failed to write audit log")
	assert.Contains(resp.Body.String(), "disk full")
}

// fails only on the response entry
type flakyWriter struct {
	mu    sync.Mutex
	calls int
	buf   bytes.Buffer
}

func (w *flakyWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls > 1 {
		return 0, errors.New("disk full")
	}
	return w.buf.Write(b)
}

func TestResponseLogFailure(t *testing.T) {
	assert := assert.New(t)
	l := newLog("flaky", &flakyWriter{})
	e := newEcho(l, Config{})

	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("secret response")))
	assert.Equal(http.StatusInternalServerError, resp.Code)
	assert.NotContains(resp.Body.String(), "secret response")
	assert.Empty(resp.Header().Get("X-Echo"))

	// the process and the log stay usable
	l.w = &bytes.Buffer{}
	resp = httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("again")))
	assert.Equal(http.StatusCreated, resp.Code)
}

func TestAcquireTimeout(t *testing.T) {
	assert := assert.New(t)
	l := testLog(t)
	e := newEcho(l, Config{WriteTimeout: 20 * time.Millisecond})

	require.NoError(t, l.sem.Acquire(context.Background(), 1))
	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("x")))
	l.sem.Release(1)

	assert.Equal(http.StatusInternalServerError, resp.Code)
	assert.Contains(resp.Body.String(), "acquiring log")
}

func TestSkipper(t *testing.T) {
	l := testLog(t)
	e := newEcho(l, Config{
		Skipper: func(c echo.Context) bool { return c.Path() == "/empty" },
	})

	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/empty", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Empty(t, readLog(t, l))
}

func TestConcurrentEntriesNotInterleaved(t *testing.T) {
	assert := assert.New(t)
	l := testLog(t)
	e := newEcho(l, Config{})

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			marker := strings.Repeat(fmt.Sprintf("[marker-%02d]", i), 2000)
			resp := httptest.NewRecorder()
			e.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(marker)))
			assert.Equal(http.StatusCreated, resp.Code)
			assert.Equal(marker, resp.Body.String())
		}(i)
	}
	wg.Wait()

	logged := readLog(t, l)
	var entries []string
	for _, chunk := range strings.SplitAfter(logged, " --------------------------\n\n") {
		if chunk != "" {
			entries = append(entries, chunk)
		}
	}
	require.Len(t, entries, 2*n)

	seen := map[string]int{}
	for _, entry := range entries {
		var found []string
		for i := 0; i < n; i++ {
			m := fmt.Sprintf("[marker-%02d]", i)
			if strings.Contains(entry, m) {
				found = append(found, m)
			}
		}
		require.Len(t, found, 1, "entry should carry exactly one exchange's marker")
		assert.Contains(entry, strings.Repeat(found[0], 2000))
		seen[found[0]]++
	}
	for i := 0; i < n; i++ {
		assert.Equal(2, seen[fmt.Sprintf("[marker-%02d]", i)])
	}
}
