package httpapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/nearby/internal/nearby"
	"github.com/example/nearby/internal/storage"
)

func newLoggedServer(t *testing.T) (*Server, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s := NewServer(nearby.NewService(storage.NewMemoryStore(), log, nearby.Options{}), log, Options{DefaultCoord: defaultCoord})
	return s, &buf
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(buf)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	return out
}

func findLog(lines []map[string]any, msg string) map[string]any {
	for _, l := range lines {
		if l["msg"] == msg {
			return l
		}
	}
	return nil
}

func TestPanicReturnsJSONError(t *testing.T) {
	s, buf := newLoggedServer(t)
	s.mux.HandleFunc("/boom", func(http.ResponseWriter, *http.Request) { panic("kaboom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"Internal server error"}`, rec.Body.String())

	lines := logLines(t, buf)
	p := findLog(lines, "panic recovered")
	require.NotNil(t, p)
	assert.Equal(t, "req-1", p["request_id"])
	assert.Equal(t, "kaboom", p["error"])
	assert.Contains(t, p["stack"], "goroutine")

	access := findLog(lines, "http_request")
	require.NotNil(t, access)
	assert.Equal(t, "ERROR", access["level"])
	assert.Equal(t, float64(http.StatusInternalServerError), access["status"])
}

func TestPanicAfterWriteKeepsResponse(t *testing.T) {
	s, _ := newLoggedServer(t)
	s.mux.HandleFunc("/half", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("partial"))
		panic("late")
	})

	rec := do(t, s, http.MethodGet, "/half", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "partial", rec.Body.String())
}

func TestAccessLogFields(t *testing.T) {
	s, buf := newLoggedServer(t)
	u := register(t, s, `{"name":"Ann","latitude":1,"longitude":2}`)
	buf.Reset()

	rec := do(t, s, http.MethodGet, "/users/"+u.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	access := findLog(logLines(t, buf), "http_request")
	require.NotNil(t, access)
	assert.Equal(t, "INFO", access["level"])
	assert.Equal(t, "/users/{id}", access["route"])
	assert.Equal(t, u.ID, access["user_id"])
	assert.Equal(t, float64(rec.Body.Len()), access["bytes"])
	assert.Equal(t, rec.Header().Get("X-Request-ID"), access["request_id"])

	buf.Reset()
	do(t, s, http.MethodGet, "/users/close/ghost?lat=1&lng=1", "")
	notFound := findLog(logLines(t, buf), "http_request")
	require.NotNil(t, notFound)
	assert.Equal(t, "WARN", notFound["level"])

	buf.Reset()
	do(t, s, http.MethodGet, "/healthz", "")
	probe := findLog(logLines(t, buf), "http_request")
	require.NotNil(t, probe)
	assert.Equal(t, "DEBUG", probe["level"])
}

func TestRequestIDRejectsUnsafeValues(t *testing.T) {
	s, _ := newLoggedServer(t)
	for _, bad := range []string{"has space", "line\r\nbreak", strings.Repeat("x", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set("X-Request-ID", bad)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		got := rec.Header().Get("X-Request-ID")
		assert.NotEqual(t, bad, got)
		assert.Len(t, got, 36, "replaced by a uuid")
	}
}

func TestServiceErrorLogCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	s := NewServer(nearby.NewService(brokenStore{storage.NewMemoryStore()}, log, nearby.Options{}), log, Options{})

	req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(`{"latitude":1,"longitude":2}`))
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	failed := findLog(logLines(t, &buf), "request failed")
	require.NotNil(t, failed)
	assert.Equal(t, "req-42", failed["request_id"])
	assert.Equal(t, "/users", failed["route"])
}
