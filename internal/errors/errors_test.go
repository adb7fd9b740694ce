package errors

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonPisek/PyBEP/internal/logging"
)

var errSentinel = New("degenerate curve").WithKind(KindDegenerateCurve)

func TestErrorString(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"message only", New("bad window"), "bad window"},
		{"with operation", New("bad window").WithOperation("score"), "bad window: operation=score"},
		{"with component", New("bad window").WithOperation("score").WithComponent("decomposition"),
			"bad window: operation=score, component=decomposition"},
		{"wrapped", Wrap(io.EOF, "read curve"), "read curve: EOF"},
		{"wrapped with context", Wrap(io.EOF, "read curve").WithComponent("dataset"),
			"read curve, component=dataset: EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestWrapKeepsSentinelAndKind(t *testing.T) {
	err := Wrapf(errSentinel, "curve %q", "nmc")
	assert.True(t, Is(err, errSentinel))
	assert.True(t, stderrors.Is(err, errSentinel))
	assert.Equal(t, KindDegenerateCurve, KindOf(err))
	assert.Same(t, errSentinel, Unwrap(err))

	outer := Wrap(err, "load").WithKind(KindInvalidInput)
	assert.Equal(t, KindInvalidInput, KindOf(outer))

	var target *Error
	require.True(t, As(outer, &target))
	assert.Same(t, outer, target)

	assert.Nil(t, Wrap(nil, "ignored"))
	assert.Nil(t, Wrapf(nil, "ignored %d", 1))
	assert.Equal(t, KindUnknown, KindOf(io.EOF))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestStackTrace(t *testing.T) {
	err := Errorf("window %d", 3)
	assert.Equal(t, "window 3", err.Error())
	require.NotEmpty(t, err.StackTrace())
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCode(errSentinel))
	assert.Equal(t, http.StatusBadRequest, StatusCode(New("x").WithKind(KindEmptyCandidateSet)))
	assert.Equal(t, http.StatusBadRequest, StatusCode(New("x").WithKind(KindInvalidInput)))
	assert.Equal(t, http.StatusNotFound, StatusCode(Wrap(New("x").WithKind(KindNotFound), "job")))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(io.EOF))
}

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusNotFound, New("missing").WithKind(KindNotFound))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error": "missing", "kind": "not_found"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	WriteJSON(rr, http.StatusInternalServerError, io.EOF)
	assert.JSONEq(t, `{"error": "EOF"}`, rr.Body.String())
}

func TestRecoveryMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("spline exploded")
	}))

	rr := httptest.NewRecorder()
	require.NotPanics(t, func() {
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/status/x?verbose=1", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "internal", body["kind"])

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "Recovered from panic", entry["message"])
	assert.Equal(t, "spline exploded", entry["panic"])
	assert.Equal(t, "/api/v1/status/x", entry["path"])
	assert.Equal(t, "verbose=1", entry["query"])
	assert.True(t, strings.Contains(entry["stack"].(string), "TestRecoveryMiddleware"))
}

func TestErrorHandlerLogsClientErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(logging.DebugLevel, &buf)

	status := http.StatusOK
	h := ErrorHandler(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Zero(t, buf.Len())

	status = http.StatusConflict
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/decomposition/x", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "Request error", entry["message"])
	assert.Equal(t, 409.0, entry["status"])
	assert.Equal(t, "DELETE", entry["method"])
}
