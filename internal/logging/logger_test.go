package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestLoggerLevelsAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf).WithField("service", "test")

	logger.Debug("hidden")
	logger.Info("pairs scheduled", map[string]interface{}{"pairs": 6})
	logger.WithError(errors.New("boom")).Warn("degraded")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	assert.Equal(t, "pairs scheduled", entries[0]["message"])
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "test", entries[0]["service"])
	assert.Equal(t, 6.0, entries[0]["pairs"])
	assert.Contains(t, entries[0]["caller"], "logging/logger_test.go")
	assert.Contains(t, entries[0], "timestamp")

	assert.Equal(t, "WARN", entries[1]["level"])
	assert.Equal(t, "boom", entries[1]["error"])
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := New(DebugLevel, &buf)
	_ = parent.WithField("child", true)

	parent.Info("parent")
	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0], "child")
}

func TestFatalCallsExit(t *testing.T) {
	var buf bytes.Buffer
	logger := New(InfoLevel, &buf)
	code := -1
	logger.exit = func(c int) { code = c }

	logger.Fatal("stop")
	assert.Equal(t, 1, code)
	assert.Equal(t, "FATAL", decodeLines(t, &buf)[0]["level"])
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		" INFO ":  InfoLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"fatal":   FatalLevel,
		"verbose": InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewLoggerOutputs(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.Equal(t, InfoLevel, logger.Level())

	path := filepath.Join(t.TempDir(), "run.log")
	logger, err = NewLogger(&Config{Level: "debug", Format: "text", Output: path})
	require.NoError(t, err)
	assert.Equal(t, TextFormat, logger.format)

	_, err = NewLogger(&Config{Output: filepath.Join(t.TempDir(), "missing", "run.log")})
	assert.Error(t, err)
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf)
	logger.format = TextFormat

	logger.Info("done", map[string]interface{}{"score": 0.5, "anode": "graphite"})
	line := buf.String()
	assert.Contains(t, line, "INFO  done")
	assert.Contains(t, line, "anode=graphite")
	assert.Contains(t, line, "score=0.5")
	assert.Less(t, strings.Index(line, "anode="), strings.Index(line, "score="))
}

func TestContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := &CtxLogger{New(InfoLevel, &buf)}
	ctx := logger.WithContext(context.Background())

	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestZapLoggerBridge(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(DebugLevel, &buf)).Named("evolution").With(zap.String("cathode", "nmc"))

	zl.Debug("pair finished",
		zap.Float64("score", 0.25),
		zap.Float64("worst", math.Inf(1)),
		zap.Int("generations", 12),
		zap.Bool("converged", true),
		zap.Duration("elapsed", 1500*time.Millisecond),
		zap.Error(errors.New("nope")),
		zap.Ints("window", []int{1, 2, 3, 4}),
	)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "pair finished", e["message"])
	assert.Equal(t, "DEBUG", e["level"])
	assert.Equal(t, "evolution", e["logger"])
	assert.Equal(t, "nmc", e["cathode"])
	assert.Equal(t, 0.25, e["score"])
	assert.Equal(t, "+Inf", e["worst"])
	assert.Equal(t, 12.0, e["generations"])
	assert.Equal(t, true, e["converged"])
	assert.Equal(t, "1.5s", e["elapsed"])
	assert.Equal(t, "nope", e["error"])
	assert.Equal(t, []interface{}{1.0, 2.0, 3.0, 4.0}, e["window"])
	assert.Contains(t, e["caller"], "logger_test.go")
}

func TestZapLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	zl := NewZapLogger(New(WarnLevel, &buf))
	zl.Info("quiet")
	zl.Warn("loud")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "loud", entries[0]["message"])

	assert.NotNil(t, NewZapLogger(nil))
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := New(DebugLevel, &buf)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Middleware(logger))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		FromContext(r.Context()).Info("handler")
		w.Write([]byte("fine"))
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, "Request started", entries[0]["message"])
	assert.Equal(t, "handler", entries[1]["message"])
	assert.Equal(t, "/ok", entries[1]["path"])
	assert.NotEmpty(t, entries[1]["request_id"])

	done := entries[2]
	assert.Equal(t, "Request completed", done["message"])
	assert.Equal(t, 200.0, done["status"])
	assert.Equal(t, 4.0, done["bytes"])
	assert.NotContains(t, done, "error")
}
