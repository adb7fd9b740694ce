package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonPisek/PyBEP/internal/config"
	"github.com/JonPisek/PyBEP/internal/curve"
	"github.com/JonPisek/PyBEP/internal/decomposition"
	"github.com/JonPisek/PyBEP/internal/logging"
)

// testConfig creates a test configuration with default values
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{
		"ENV":              "test",
		"DATA_RESULTS_DIR": t.TempDir(),
	})
	require.NoError(t, err)
	return cfg
}

// testLogger creates a test logger
func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return logging.New(logging.DebugLevel, io.Discard)
}

func newTestServer(t *testing.T, opts ...Option) (*Server, chi.Router) {
	t.Helper()
	srv := NewServer(testConfig(t), testLogger(t), opts...)
	t.Cleanup(func() { _ = srv.Close() })
	r := chi.NewRouter()
	srv.RegisterRoutes(r)
	return srv, r
}

func sample(f func(float64) float64, n int) (x, y []float64) {
	x = curve.Linspace(0, 1, n)
	y = make([]float64, n)
	for i, v := range x {
		y[i] = f(v)
	}
	return x, y
}

func cathodeOCP(x float64) float64 { return 4.2 - 0.5*x - 0.1*x*x }
func anodeOCP(x float64) float64   { return 0.1 + 0.5*math.Exp(-5*x) }

// inlineRequest is a small, fast search over one pair.
func inlineRequest() DecomposeRequest {
	cx, cy := sample(cathodeOCP, 20)
	ax, ay := sample(anodeOCP, 20)
	soc, ocv := sample(func(x float64) float64 { return cathodeOCP(x) - anodeOCP(x) }, 21)
	iterations, population, generations := 1, 5, 20
	polish := false
	seed := int64(1)
	return DecomposeRequest{
		Cathodes:       []CurveData{{ID: "nmc", X: cx, Y: cy}},
		Anodes:         []CurveData{{ID: "graphite", X: ax, Y: ay}},
		Battery:        &MeasuredData{SOC: soc, OCV: ocv},
		Iterations:     &iterations,
		PopulationSize: &population,
		MaxGenerations: &generations,
		Polish:         &polish,
		Seed:           &seed,
	}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]interface{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	}
	return rr, out
}

// blockingRun waits for cancellation after reporting progress once.
func blockingRun(started chan<- struct{}) RunFunc {
	return func(ctx context.Context, cathodes, anodes curve.CandidateSet, measured curve.Measured, opts decomposition.Options) (*decomposition.Result, error) {
		opts.Progress(1, 2)
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

func fixedRun(res *decomposition.Result) RunFunc {
	return func(ctx context.Context, cathodes, anodes curve.CandidateSet, measured curve.Measured, opts decomposition.Options) (*decomposition.Result, error) {
		res.Measured = measured
		return res, nil
	}
}

func waitForStatus(t *testing.T, h http.Handler, id string, want JobStatus) map[string]interface{} {
	t.Helper()
	var last map[string]interface{}
	require.Eventually(t, func() bool {
		_, last = doJSON(t, h, http.MethodGet, "/api/v1/status/"+id, nil)
		return last["status"] == string(want)
	}, 30*time.Second, 10*time.Millisecond, "job %s never reached %s", id, want)
	return last
}

func TestNewServer(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))
	assert.NotNil(t, srv, "Server should be created")
	assert.NotNil(t, srv.run)
}

func TestRegisterRoutes(t *testing.T) {
	_, r := newTestServer(t)

	tests := []struct {
		method      string
		path        string
		shouldExist bool
	}{
		{"POST", "/api/v1/decompose", true},
		{"GET", "/api/v1/status/123", true},
		{"GET", "/api/v1/result/123", true},
		{"DELETE", "/api/v1/decomposition/123", true},
		{"POST", "/rpc", true},
		{"GET", "/healthz", false}, // Registered by cmd/server
		{"POST", "/api/v1/optimize", false},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			// Unknown job ids answer 404 with a JSON body; unknown routes
			// answer chi's plain text 404.
			isJSON := strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json")
			exists := rr.Code != http.StatusNotFound || isJSON
			assert.Equal(t, tt.shouldExist, exists, "status %d", rr.Code)
		})
	}
}

func TestDecomposeLifecycle(t *testing.T) {
	_, r := newTestServer(t)

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/decompose", inlineRequest())
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	assert.Equal(t, "pending", body["status"])
	id, _ := body["decomposition_id"].(string)
	require.NotEmpty(t, id)

	status := waitForStatus(t, r, id, StatusCompleted)
	assert.Equal(t, 1.0, status["progress"])
	assert.Equal(t, 1.0, status["total"])
	assert.Contains(t, status, "end_time")
	best, ok := status["best"].(map[string]interface{})
	require.True(t, ok, "status should carry the best pair")
	assert.Equal(t, "nmc", best["cathode_id"])
	assert.Equal(t, "graphite", best["anode_id"])

	rr, rec := doJSON(t, r, http.MethodGet, "/api/v1/result/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "nmc", rec["Best Cathode Data ID"])
	assert.Equal(t, "graphite", rec["Best Anode Data ID"])
	assert.Len(t, rec["Best Parameters"], 4)
	assert.Len(t, rec["Battery SOC"], decomposition.DefaultGridPoints)
	assert.Len(t, rec["Anode SOC"], decomposition.DefaultGridPoints)
	assert.IsType(t, 0.0, rec["Lowest RMSD"])

	rr, _ = doJSON(t, r, http.MethodDelete, "/api/v1/decomposition/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestDecomposeRejectsBadInput(t *testing.T) {
	_, r := newTestServer(t)

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/decompose", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	tests := []struct {
		name   string
		mutate func(*DecomposeRequest)
		kind   string
	}{
		{"missing battery", func(req *DecomposeRequest) { req.Battery = nil }, "invalid_input"},
		{"missing id", func(req *DecomposeRequest) { req.Cathodes[0].ID = "" }, "invalid_input"},
		{"degenerate curve", func(req *DecomposeRequest) {
			req.Anodes[0].X = req.Anodes[0].X[:3]
			req.Anodes[0].Y = req.Anodes[0].Y[:3]
		}, "degenerate_curve"},
		{"duplicate ids", func(req *DecomposeRequest) { req.Cathodes = append(req.Cathodes, req.Cathodes[0]) }, "invalid_input"},
		{"zero iterations", func(req *DecomposeRequest) { n := 0; req.Iterations = &n }, "invalid_input"},
		{"negative weight", func(req *DecomposeRequest) { req.Weights = &decomposition.Weights{Battery: -1} }, "invalid_input"},
		{"inline with data dir", func(req *DecomposeRequest) { req.UseDataDir = true }, "invalid_input"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := inlineRequest()
			tt.mutate(&req)
			rr, body := doJSON(t, r, http.MethodPost, "/api/v1/decompose", req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Equal(t, tt.kind, body["kind"])
		})
	}
}

func TestUnknownDecomposition(t *testing.T) {
	_, r := newTestServer(t)

	for _, tt := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/status/nope"},
		{http.MethodGet, "/api/v1/result/nope"},
		{http.MethodDelete, "/api/v1/decomposition/nope"},
	} {
		rr, body := doJSON(t, r, tt.method, tt.path, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code, tt.path)
		assert.Equal(t, "not_found", body["kind"], tt.path)
	}
}

func TestCancelRunningDecomposition(t *testing.T) {
	started := make(chan struct{})
	_, r := newTestServer(t, WithRunFunc(blockingRun(started)))

	_, body := doJSON(t, r, http.MethodPost, "/api/v1/decompose", inlineRequest())
	id := body["decomposition_id"].(string)
	<-started

	status := waitForStatus(t, r, id, StatusRunning)
	assert.Equal(t, 0.5, status["progress"])

	rr, _ := doJSON(t, r, http.MethodGet, "/api/v1/result/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, body = doJSON(t, r, http.MethodDelete, "/api/v1/decomposition/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "cancellation requested", body["status"])

	status = waitForStatus(t, r, id, StatusCancelled)
	assert.Contains(t, status, "end_time")

	rr, _ = doJSON(t, r, http.MethodDelete, "/api/v1/decomposition/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestFailedDecomposition(t *testing.T) {
	failing := func(ctx context.Context, cathodes, anodes curve.CandidateSet, measured curve.Measured, opts decomposition.Options) (*decomposition.Result, error) {
		return nil, decomposition.ErrWindowTooSmall
	}
	_, r := newTestServer(t, WithRunFunc(failing))

	_, body := doJSON(t, r, http.MethodPost, "/api/v1/decompose", inlineRequest())
	id := body["decomposition_id"].(string)

	status := waitForStatus(t, r, id, StatusFailed)
	assert.Contains(t, status["error"], "window too small")

	rr, _ := doJSON(t, r, http.MethodGet, "/api/v1/result/"+id, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestEmptySearchReportsDiagnostic(t *testing.T) {
	_, r := newTestServer(t, WithRunFunc(fixedRun(&decomposition.Result{Diagnostic: decomposition.ErrEmptyCandidateSet})))

	req := inlineRequest()
	req.Anodes = nil
	_, body := doJSON(t, r, http.MethodPost, "/api/v1/decompose", req)
	id := body["decomposition_id"].(string)

	status := waitForStatus(t, r, id, StatusCompleted)
	assert.Equal(t, "empty candidate set", status["diagnostic"])
	assert.NotContains(t, status, "best")

	rr, body := doJSON(t, r, http.MethodGet, "/api/v1/result/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "empty_candidate_set", body["kind"])
}

func TestDecomposeFromDataDirSavesResult(t *testing.T) {
	cfg := testConfig(t)
	root := t.TempDir()
	cfg.Data.CathodeDir = filepath.Join(root, "cathode")
	cfg.Data.AnodeDir = filepath.Join(root, "anode")
	cfg.Data.BatteryFile = filepath.Join(root, "battery.txt")
	require.NoError(t, os.MkdirAll(cfg.Data.CathodeDir, 0o755))
	require.NoError(t, os.MkdirAll(cfg.Data.AnodeDir, 0o755))

	writeCurve := func(path string, f func(float64) float64, n int) {
		x, y := sample(f, n)
		var b strings.Builder
		for i := range x {
			b.WriteString(strings.Join([]string{ftoa(x[i]), ftoa(y[i])}, " "))
			b.WriteString("\n")
		}
		require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	}
	writeCurve(filepath.Join(cfg.Data.CathodeDir, "nmc.txt"), cathodeOCP, 20)
	writeCurve(filepath.Join(cfg.Data.AnodeDir, "graphite.txt"), anodeOCP, 20)
	writeCurve(cfg.Data.BatteryFile, func(x float64) float64 { return cathodeOCP(x) - anodeOCP(x) }, 21)

	best := &decomposition.PairResult{CathodeID: "nmc", AnodeID: "graphite", Score: 0.01}
	srv := NewServer(cfg, testLogger(t), WithRunFunc(fixedRun(&decomposition.Result{Best: best})))
	t.Cleanup(func() { _ = srv.Close() })
	r := chi.NewRouter()
	srv.RegisterRoutes(r)

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/decompose", map[string]interface{}{
		"use_data_dir": true,
		"save":         true,
	})
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	id := body["decomposition_id"].(string)

	status := waitForStatus(t, r, id, StatusCompleted)
	file, _ := status["result_file"].(string)
	require.NotEmpty(t, file)
	assert.Equal(t, cfg.Data.ResultsDir, filepath.Dir(file))
	assert.FileExists(t, file)
	assert.True(t, strings.HasSuffix(file, "decomposition_nmc_graphite.json"))
}

func TestDecomposeFromMissingDataDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.CathodeDir = filepath.Join(t.TempDir(), "missing")
	srv := NewServer(cfg, testLogger(t))
	r := chi.NewRouter()
	srv.RegisterRoutes(r)

	rr, body := doJSON(t, r, http.MethodPost, "/api/v1/decompose", map[string]interface{}{"use_data_dir": true})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_input", body["kind"])
}

func rpcCall(t *testing.T, h http.Handler, method string, params ...interface{}) map[string]interface{} {
	t.Helper()
	rr, body := doJSON(t, h, http.MethodPost, "/rpc", map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      7,
		"method":  method,
		"params":  params,
	})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 7.0, body["id"])
	return body
}

func TestJSONRPC(t *testing.T) {
	best := &decomposition.PairResult{
		CathodeID: "nmc",
		AnodeID:   "graphite",
		Window:    decomposition.Window{E: 1, F: 19, G: 0, H: 20},
		Score:     0.002,
	}
	_, r := newTestServer(t, WithRunFunc(fixedRun(&decomposition.Result{Best: best})))

	start := rpcCall(t, r, "decomposition.start", inlineRequest())
	result, ok := start["result"].(map[string]interface{})
	require.True(t, ok, "%v", start)
	id := result["decomposition_id"].(string)

	require.Eventually(t, func() bool {
		status := rpcCall(t, r, "decomposition.status", map[string]string{"decomposition_id": id})
		res, _ := status["result"].(map[string]interface{})
		return res["status"] == "completed"
	}, 10*time.Second, 10*time.Millisecond)

	got := rpcCall(t, r, "decomposition.result", map[string]string{"decomposition_id": id})
	rec, ok := got["result"].(map[string]interface{})
	require.True(t, ok, "%v", got)
	assert.Equal(t, []interface{}{1.0, 19.0, 0.0, 20.0}, rec["Best Parameters"])
	assert.Equal(t, 0.002, rec["Lowest RMSD"])

	cancel := rpcCall(t, r, "decomposition.cancel", map[string]string{"decomposition_id": id})
	errObj, ok := cancel["error"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(rpcInvalidParams), errObj["code"])
}

func TestJSONRPCCancel(t *testing.T) {
	started := make(chan struct{})
	_, r := newTestServer(t, WithRunFunc(blockingRun(started)))

	start := rpcCall(t, r, "decomposition.start", inlineRequest())
	id := start["result"].(map[string]interface{})["decomposition_id"].(string)
	<-started

	cancel := rpcCall(t, r, "decomposition.cancel", map[string]string{"decomposition_id": id})
	res, ok := cancel["result"].(map[string]interface{})
	require.True(t, ok, "%v", cancel)
	assert.Equal(t, "cancelled", res["status"])
}

func TestJSONRPCErrors(t *testing.T) {
	_, r := newTestServer(t)

	errorCode := func(body map[string]interface{}) float64 {
		errObj, ok := body["error"].(map[string]interface{})
		require.True(t, ok, "%v", body)
		return errObj["code"].(float64)
	}

	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("not json"))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(rpcParseError), errorCode(body))

	_, body = doJSON(t, r, http.MethodPost, "/rpc", map[string]interface{}{"jsonrpc": "1.0", "method": "x"})
	assert.Equal(t, float64(rpcInvalidRequest), errorCode(body))

	assert.Equal(t, float64(rpcMethodNotFound), errorCode(rpcCall(t, r, "optimization.start")))
	assert.Equal(t, float64(rpcInvalidParams), errorCode(rpcCall(t, r, "decomposition.status")))
	assert.Equal(t, float64(rpcInvalidParams), errorCode(rpcCall(t, r, "decomposition.status", map[string]string{})))
	assert.Equal(t, float64(rpcInvalidParams), errorCode(rpcCall(t, r, "decomposition.start", "not an object")))
	assert.Equal(t, float64(rpcNotFound), errorCode(rpcCall(t, r, "decomposition.result", map[string]string{"decomposition_id": "nope"})))
}

func TestClose(t *testing.T) {
	started := make(chan struct{})
	srv := NewServer(testConfig(t), testLogger(t), WithRunFunc(blockingRun(started)))
	r := chi.NewRouter()
	srv.RegisterRoutes(r)

	doJSON(t, r, http.MethodPost, "/api/v1/decompose", inlineRequest())
	<-started

	done := make(chan error)
	go func() { done <- srv.Close() }()
	select {
	case err := <-done:
		assert.NoError(t, err, "Close should not return an error")
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func TestRespondWithError(t *testing.T) {
	srv := NewServer(testConfig(t), testLogger(t))

	tests := []struct {
		name       string
		code       int
		message    string
		id         interface{}
		expectedID interface{}
	}{
		{"valid error response", rpcInvalidParams, "invalid input", "123", "123"},
		{"nil id", rpcServerError, "server error", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			srv.respondWithError(rr, tt.code, tt.message, tt.id)

			// Errors travel in the body with a 200 status.
			assert.Equal(t, http.StatusOK, rr.Code)

			var response map[string]interface{}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))

			errObj, ok := response["error"].(map[string]interface{})
			require.True(t, ok, "response should contain error object")
			assert.Equal(t, float64(tt.code), errObj["code"])
			assert.Equal(t, tt.message, errObj["message"])
			assert.Equal(t, tt.expectedID, response["id"])
			assert.Equal(t, "2.0", response["jsonrpc"])
		})
	}
}

func TestJobProgress(t *testing.T) {
	assert.Equal(t, 0.0, (&Job{Status: StatusRunning}).Progress())
	assert.Equal(t, 1.0, (&Job{Status: StatusCompleted}).Progress())
	assert.Equal(t, 0.25, (&Job{Done: 1, Total: 4}).Progress())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, StatusPending.Terminal())
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func TestPruneFinishedJobs(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"ENV":              "test",
		"DATA_RESULTS_DIR": t.TempDir(),
		"JOB_RETENTION":    "1h",
		"JOB_MAX_FINISHED": "2",
	})
	require.NoError(t, err)
	srv := NewServer(cfg, testLogger(t))

	now := time.Now()
	ended := func(ago time.Duration) *time.Time {
		at := now.Add(-ago)
		return &at
	}
	srv.jobs = map[string]*Job{
		"expired":   {ID: "expired", Status: StatusCompleted, EndTime: ended(2 * time.Hour)},
		"oldest":    {ID: "oldest", Status: StatusFailed, EndTime: ended(30 * time.Minute)},
		"older":     {ID: "older", Status: StatusCancelled, EndTime: ended(20 * time.Minute)},
		"recent":    {ID: "recent", Status: StatusCompleted, EndTime: ended(time.Minute)},
		"running":   {ID: "running", Status: StatusRunning},
		"ancient":   {ID: "ancient", Status: StatusPending},
		"unstamped": {ID: "unstamped", Status: StatusCompleted},
	}

	srv.pruneJobs(now)

	var ids []string
	for id := range srv.jobs {
		ids = append(ids, id)
	}
	assert.ElementsMatch(t, []string{"older", "recent", "running", "ancient", "unstamped"}, ids)

	_, err = srv.job("expired")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestPruneFinishedJobsDisabled(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"ENV":              "test",
		"JOB_RETENTION":    "0s",
		"JOB_MAX_FINISHED": "0",
	})
	require.NoError(t, err)
	srv := NewServer(cfg, testLogger(t))

	old := time.Now().Add(-24 * time.Hour)
	for _, id := range []string{"a", "b", "c"} {
		srv.jobs[id] = &Job{ID: id, Status: StatusCompleted, EndTime: &old}
	}
	srv.pruneJobs(time.Now())
	assert.Len(t, srv.jobs, 3)
}
