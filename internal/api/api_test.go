package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/parbench/internal/api"
	"github.com/psantana5/parbench/internal/orchestrator"
	"github.com/psantana5/parbench/internal/runner"
	"github.com/psantana5/parbench/internal/telemetry"
	"github.com/psantana5/parbench/internal/workspace"
	"github.com/psantana5/parbench/pkg/models"
	"github.com/psantana5/parbench/pkg/ratelimit"
	"github.com/psantana5/parbench/pkg/store"
)

type execFunc func(ctx context.Context, spec runner.Spec) *runner.Result

func (f execFunc) Run(ctx context.Context, spec runner.Spec) *runner.Result { return f(ctx, spec) }

// variantRun writes the artifact named by the last argument and reports a
// time that halves with every variant.
func variantRun(ctx context.Context, spec runner.Spec) *runner.Result {
	out := spec.Args[len(spec.Args)-1]
	content := "frames"
	if strings.HasSuffix(out, ".txt") {
		content = "Scene 1: frame 0\nScene 2: frame 42\n"
	}
	_ = os.WriteFile(out, []byte(content), 0644)

	secs := "4.000"
	switch {
	case strings.HasSuffix(spec.Name, "pthread"):
		secs = "2.000"
	case strings.HasSuffix(spec.Name, "openmp"):
		secs = "1.000"
	}
	return &runner.Result{
		Stdout: "Processing 100 frames\nExecution time: " + secs + "s\n",
		Reason: runner.ExitReasonSuccess,
	}
}

type copyConverter struct{}

func (copyConverter) NormalizeAll(ctx context.Context, srcs []string) []string {
	out := make([]string, len(srcs))
	for i, src := range srcs {
		dst := strings.TrimSuffix(src, filepath.Ext(src)) + ".mp4"
		data, err := os.ReadFile(src)
		if err == nil {
			err = os.WriteFile(dst, data, 0644)
		}
		if err != nil {
			out[i] = src
			continue
		}
		out[i] = dst
	}
	return out
}

type server struct {
	handler http.Handler
	orch    *orchestrator.Orchestrator
	ws      *workspace.Workspace
}

func newServer(t *testing.T, limiter *ratelimit.Limiter) *server {
	t.Helper()
	dir := t.TempDir()

	orch, err := orchestrator.New(orchestrator.Config{ProjectRoot: dir, BuildDir: "build"}, orchestrator.Deps{
		Store:     store.NewMemoryStore(),
		Executor:  execFunc(variantRun),
		Converter: copyConverter{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orch.Shutdown(context.Background()) })

	ws := workspace.New(filepath.Join(dir, "uploads"), filepath.Join(dir, "outputs"), "", nil, nil)
	h := api.New(api.Options{
		Orchestrator:   orch,
		Workspace:      ws,
		Metrics:        telemetry.New(),
		Limiter:        limiter,
		MaxUploadBytes: 1024,
		CORSOrigin:     "*",
	})
	return &server{handler: h.Router(), orch: orch, ws: ws}
}

func (s *server) do(t *testing.T, method, path string, body []byte, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *server) upload(t *testing.T, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("video", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return s.do(t, http.MethodPost, "/api/upload", buf.Bytes(), mw.FormDataContentType())
}

func (s *server) process(t *testing.T, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return s.do(t, http.MethodPost, "/api/process", data, "application/json")
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (s *server) waitFor(t *testing.T, id string, status models.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := s.orch.Get(id)
		return err == nil && job.Status == status
	}, 5*time.Second, 10*time.Millisecond)
}

func (s *server) uploaded(t *testing.T) string {
	t.Helper()
	w := s.upload(t, "clip.mp4", []byte("video-bytes"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)["job_id"].(string)
}

func TestHealthAndFeatures(t *testing.T) {
	s := newServer(t, nil)

	t.Run("Health", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/health", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, "Parallel Video Processing API is running", body["message"])
		assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Features", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/features", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Features []models.Feature `json:"features"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Features, len(models.Features))
		assert.Equal(t, "grayscale", body.Features[0].ID)
	})

	t.Run("Metrics", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/metrics", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "parbench_http_response_bytes_total")
	})
}

func TestUpload(t *testing.T) {
	s := newServer(t, nil)

	t.Run("Stored", func(t *testing.T) {
		w := s.upload(t, "My Clip.MOV", []byte("0123456789"))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		body := decode(t, w)
		id := body["job_id"].(string)
		assert.Equal(t, "My_Clip.MOV", body["filename"])
		assert.EqualValues(t, 10, body["size"])
		assert.Nil(t, body["video_info"])

		input, err := s.ws.FindInput(id)
		require.NoError(t, err)
		assert.Equal(t, "input.mov", filepath.Base(input))
	})

	t.Run("MissingField", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/upload", nil, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "No video file provided", decode(t, w)["error"])
	})

	t.Run("DisallowedExtension", func(t *testing.T) {
		w := s.upload(t, "notes.txt", []byte("x"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode(t, w)["error"], "not allowed")
	})

	t.Run("TooLarge", func(t *testing.T) {
		w := s.upload(t, "big.mp4", bytes.Repeat([]byte("x"), 4096))
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}

func TestProcessValidation(t *testing.T) {
	s := newServer(t, nil)
	id := s.uploaded(t)

	cases := []struct {
		name string
		body map[string]interface{}
		code int
		msg  string
	}{
		{"MissingJobID", map[string]interface{}{"feature": "grayscale", "openmp_threads": 4, "pthread_threads": 4}, 400, "Missing required field: job_id"},
		{"MissingFeature", map[string]interface{}{"job_id": id, "openmp_threads": 4, "pthread_threads": 4}, 400, "Missing required field: feature"},
		{"MissingOpenMP", map[string]interface{}{"job_id": id, "feature": "grayscale", "pthread_threads": 4}, 400, "Missing required field: openmp_threads"},
		{"MissingPthread", map[string]interface{}{"job_id": id, "feature": "grayscale", "openmp_threads": 4}, 400, "Missing required field: pthread_threads"},
		{"UnknownFeature", map[string]interface{}{"job_id": id, "feature": "sepia", "openmp_threads": 99, "pthread_threads": 4}, 400, "Invalid feature: sepia"},
		{"OpenMPRange", map[string]interface{}{"job_id": id, "feature": "grayscale", "openmp_threads": 17, "pthread_threads": 4}, 400, "OpenMP threads must be between 1 and 16"},
		{"PthreadRange", map[string]interface{}{"job_id": id, "feature": "grayscale", "openmp_threads": 4, "pthread_threads": 0}, 400, "Pthread threads must be between 1 and 16"},
		{"NoInput", map[string]interface{}{"job_id": "nope", "feature": "grayscale", "openmp_threads": 4, "pthread_threads": 4}, 404, "Input video not found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.process(t, tc.body)
			assert.Equal(t, tc.code, w.Code)
			assert.Equal(t, tc.msg, decode(t, w)["error"])
		})
	}

	t.Run("MalformedBody", func(t *testing.T) {
		w := s.do(t, http.MethodPost, "/api/process", []byte("{"), "application/json")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	_, err := s.orch.Get(id)
	assert.ErrorIs(t, err, store.ErrJobNotFound, "rejected submissions create no job")
}

func TestProcessToResults(t *testing.T) {
	s := newServer(t, nil)
	id := s.uploaded(t)

	w := s.process(t, map[string]interface{}{"job_id": id, "feature": "grayscale", "openmp_threads": "4", "pthread_threads": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]interface{}{
		"job_id":  id,
		"status":  "processing",
		"message": "Video processing started",
	}, decode(t, w))

	s.waitFor(t, id, models.JobStatusCompleted)

	t.Run("Duplicate", func(t *testing.T) {
		w := s.process(t, map[string]interface{}{"job_id": id, "feature": "grayscale", "openmp_threads": 4, "pthread_threads": 2})
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Status", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/status/"+id, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		var job models.Job
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
		assert.Equal(t, models.JobStatusCompleted, job.Status)
		assert.Equal(t, 100, job.Progress)
		assert.Equal(t, "Processing complete!", job.Message)
	})

	t.Run("Results", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/results/"+id, nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		var res models.JobResults
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

		assert.Equal(t, models.JobStatusCompleted, res.Status)
		assert.False(t, res.IsSceneDetection)
		assert.Nil(t, res.SceneResults)
		require.NotNil(t, res.Metrics.Pthread.Speedup)
		assert.InDelta(t, 2.0, *res.Metrics.Pthread.Speedup, 1e-9)
		assert.InDelta(t, 100.0, *res.Metrics.Pthread.Efficiency, 1e-9)
		assert.InDelta(t, 4.0, *res.Metrics.OpenMP.Speedup, 1e-9)
		assert.InDelta(t, 100.0, *res.Metrics.OpenMP.Efficiency, 1e-9)

		for _, v := range []string{"input", "sequential", "pthread", "openmp"} {
			require.NotNil(t, res.Videos[v], v)
			assert.Equal(t, "/api/video/"+id+"/"+v, *res.Videos[v])
		}
	})

	t.Run("Video", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/video/"+id+"/openmp", nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "video/mp4", w.Header().Get("Content-Type"))
		assert.Equal(t, "frames", w.Body.String())

		req := httptest.NewRequest(http.MethodGet, "/api/video/"+id+"/input", nil)
		req.Header.Set("Range", "bytes=0-4")
		rw := httptest.NewRecorder()
		s.handler.ServeHTTP(rw, req)
		assert.Equal(t, http.StatusPartialContent, rw.Code)
		assert.Equal(t, "video", rw.Body.String())
	})

	t.Run("VideoMissing", func(t *testing.T) {
		w := s.do(t, http.MethodGet, "/api/video/"+id+"/bogus", nil, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "Video not found", decode(t, w)["error"])
	})

	t.Run("VideoEmpty", func(t *testing.T) {
		empty := filepath.Join(s.ws.OutputDir(id), "grayscale_sequential.mp4")
		require.NoError(t, os.WriteFile(empty, nil, 0644))
		w := s.do(t, http.MethodGet, "/api/video/"+id+"/sequential", nil, "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "Video file is empty", decode(t, w)["error"])
	})

	t.Run("Cleanup", func(t *testing.T) {
		w := s.do(t, http.MethodDelete, "/api/cleanup/"+id, nil, "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Job files cleaned up successfully", decode(t, w)["message"])

		assert.NoDirExists(t, s.ws.UploadDir(id))
		assert.NoDirExists(t, s.ws.OutputDir(id))

		w = s.do(t, http.MethodGet, "/api/status/"+id, nil, "")
		assert.Equal(t, "not_found", decode(t, w)["status"])

		w = s.do(t, http.MethodDelete, "/api/cleanup/"+id, nil, "")
		assert.Equal(t, http.StatusOK, w.Code, "cleanup of unknown job still succeeds")
	})
}

func TestSceneDetectionResults(t *testing.T) {
	s := newServer(t, nil)
	id := s.uploaded(t)

	w := s.process(t, map[string]interface{}{"job_id": id, "feature": "Scene Detection", "openmp_threads": 2, "pthread_threads": 2})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	s.waitFor(t, id, models.JobStatusCompleted)

	w = s.do(t, http.MethodGet, "/api/results/"+id, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var res models.JobResults
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.IsSceneDetection)
	assert.NotNil(t, res.Videos["input"])
	for _, v := range []string{"sequential", "pthread", "openmp"} {
		assert.Nil(t, res.Videos[v], v)
		require.NotNil(t, res.SceneResults[v], v)
		assert.Equal(t, "/api/scene/"+id+"/"+v, *res.SceneResults[v])
	}

	w = s.do(t, http.MethodGet, "/api/scene/"+id+"/pthread", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "pthread", body["type"])
	assert.Contains(t, body["content"], "Scene 2: frame 42")

	w = s.do(t, http.MethodGet, "/api/scene/missing/pthread", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Scene detection results not found", decode(t, w)["error"])
}

func TestResultsBeforeCompletion(t *testing.T) {
	s := newServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/results/unknown", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Job not found", decode(t, w)["error"])

	w = s.do(t, http.MethodGet, "/api/status/unknown", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"status": "not_found", "message": "Job not found"}, decode(t, w))
}

func TestRateLimitedSubmission(t *testing.T) {
	s := newServer(t, ratelimit.NewLimiter(0.001, 1))

	first := s.do(t, http.MethodPost, "/api/process", []byte("{}"), "application/json")
	assert.Equal(t, http.StatusBadRequest, first.Code)

	second := s.do(t, http.MethodPost, "/api/process", []byte("{}"), "application/json")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	w := s.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code, "read endpoints are not limited")
}

func TestFailedJobResults(t *testing.T) {
	dir := t.TempDir()
	orch, err := orchestrator.New(orchestrator.Config{ProjectRoot: dir, BuildDir: "build"}, orchestrator.Deps{
		Store: store.NewMemoryStore(),
		Executor: execFunc(func(ctx context.Context, spec runner.Spec) *runner.Result {
			return &runner.Result{Stderr: "segfault", ExitCode: 139, Reason: runner.ExitReasonError}
		}),
	})
	require.NoError(t, err)
	defer orch.Shutdown(context.Background())

	ws := workspace.New(filepath.Join(dir, "uploads"), filepath.Join(dir, "outputs"), "", nil, nil)
	up, err := ws.SaveUpload("clip.mp4", strings.NewReader("video"))
	require.NoError(t, err)
	s := &server{handler: api.New(api.Options{Orchestrator: orch, Workspace: ws}).Router(), orch: orch, ws: ws}

	w := s.process(t, map[string]interface{}{"job_id": up.JobID, "feature": "grayscale", "openmp_threads": 4, "pthread_threads": 4})
	require.Equal(t, http.StatusOK, w.Code)
	s.waitFor(t, up.JobID, models.JobStatusFailed)

	w = s.do(t, http.MethodGet, "/api/results/"+up.JobID, nil, "")
	body := decode(t, w)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "Processing failed", body["message"])
	assert.Equal(t, "Sequential execution failed: segfault", body["error"])
}
