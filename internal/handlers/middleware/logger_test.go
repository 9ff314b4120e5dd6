package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type logRecord struct {
	level string
	msg   string
	args  []any
}

type fakeLogger struct {
	records []logRecord
}

func (f *fakeLogger) Info(msg string, v ...any) {
	f.records = append(f.records, logRecord{"info", msg, v})
}

func (f *fakeLogger) Error(msg string, v ...any) {
	f.records = append(f.records, logRecord{"error", msg, v})
}

func TestLoggerMiddleware(t *testing.T) {
	l := &fakeLogger{}

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, err := w.Write([]byte("hi"))
		require.NoError(t, err, "should write response")
	})

	srv := httptest.NewServer(LoggerMiddleware(l)(h))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/test", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err, "should make request to test server")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "should read response body")
	defer resp.Body.Close() // nolint:errcheck

	require.Equalf(t, http.StatusTeapot, resp.StatusCode, "should return status Teapot. Resp: %s", string(body))
	require.Equal(t, "hi", string(body), "should return 'hi' in response")
	require.Equal(t, "req-1", resp.Header.Get(RequestIDHeader), "request id should be echoed")

	require.Len(t, l.records, 1, "logger should be called once")
	rec := l.records[0]
	require.Equal(t, "info", rec.level)
	require.Equal(t, "got HTTP request", rec.msg)
	require.Len(t, rec.args, 12, "logger should log 12 fields")
	require.Equal(t, []any{"request_id", "req-1", "method", "GET", "uri", "/test"}, rec.args[:6])
	require.Equal(t, "duration", rec.args[6])
	require.NotEmpty(t, rec.args[7], "duration should not be empty")
	require.Equal(t, []any{"status", http.StatusTeapot, "size", 2}, rec.args[8:])
}

func TestLoggerMiddleware_ServerError(t *testing.T) {
	l := &fakeLogger{}
	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	rec := httptest.NewRecorder()
	LoggerMiddleware(l)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fail", nil))

	require.Len(t, l.records, 1)
	require.Equal(t, "error", l.records[0].level, "5xx should be logged as error")
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader), "request id should be generated")
}

func TestRecoverMiddleware(t *testing.T) {
	l := &fakeLogger{}
	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	RecoverMiddleware(l)(h).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/bills/pay", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.JSONEq(t, `{"success":false,"error":"Internal server error"}`, rec.Body.String())
	require.Len(t, l.records, 1)
	require.Equal(t, "Handler panicked", l.records[0].msg)
}
