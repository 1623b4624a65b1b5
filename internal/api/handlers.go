package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/psantana5/parbench/internal/artifact"
	"github.com/psantana5/parbench/internal/orchestrator"
	"github.com/psantana5/parbench/internal/perf"
	"github.com/psantana5/parbench/internal/telemetry"
	"github.com/psantana5/parbench/internal/workspace"
	"github.com/psantana5/parbench/pkg/models"
	"github.com/psantana5/parbench/pkg/store"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports liveness and host capacity
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":         "ok",
		"message":        "Parallel Video Processing API is running",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"active_jobs":    h.orch.Active(),
		"host":           telemetry.Host(),
	}
	status := http.StatusOK
	if h.health != nil {
		if err := h.health(); err != nil {
			resp["status"] = "degraded"
			resp["store_error"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

// Features lists the feature catalogue
func (h *Handler) Features(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"features":          models.Features,
		"max_threads":       orchestrator.MaxThreads,
		"suggested_threads": telemetry.Host().SuggestedThreads(),
	})
}

// Upload stores the multipart "video" field under a fresh job id
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	file, header, err := r.FormFile("video")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "No video file provided")
		return
	}
	defer file.Close()

	up, err := h.ws.SaveUpload(header.Filename, file)
	if err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		case errors.Is(err, workspace.ErrNoFile), errors.Is(err, workspace.ErrExtensionNotAllowed):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("Upload failed", map[string]interface{}{"error": err.Error()})
			writeError(w, http.StatusInternalServerError, "Upload failed: "+err.Error())
		}
		return
	}

	h.logger.Info("Video uploaded", map[string]interface{}{"job_id": up.JobID, "filename": up.Filename, "size": up.Size})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":     up.JobID,
		"filename":   up.Filename,
		"size":       up.Size,
		"video_info": h.ws.Probe(r.Context(), up.Path),
	})
}

// Process validates a submission and starts its pipeline
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) {
	req, err := decodeProcess(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if msg := req.check(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	input, err := h.ws.FindInput(req.JobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Input video not found")
		return
	}

	_, err = h.orch.Start(r.Context(), orchestrator.Request{
		JobID:          req.JobID,
		Feature:        req.Feature,
		InputPath:      input,
		OutputDir:      h.ws.OutputDir(req.JobID),
		PthreadThreads: int(*req.PthreadThreads),
		OpenMPThreads:  int(*req.OpenMPThreads),
	})
	switch {
	case err == nil:
	case errors.Is(err, store.ErrJobExists):
		writeError(w, http.StatusConflict, "Job already submitted: "+req.JobID)
		return
	case errors.Is(err, orchestrator.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, orchestrator.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "Service is shutting down")
		return
	default:
		h.logger.Error("Failed to start job", map[string]interface{}{"job_id": req.JobID, "error": err.Error()})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"job_id":  req.JobID,
		"status":  "processing",
		"message": "Video processing started",
	})
}

// ListJobs returns every job, newest first
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.orch.List()
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "count": len(jobs)})
}

// Status returns the job record. Unknown ids answer 200 with not_found.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.orch.Get(id)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  string(models.JobStatusNotFound),
			"message": "Job not found",
		})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Results returns the performance summary and artifact URLs
func (h *Handler) Results(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.orch.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if job.Status != models.JobStatusCompleted {
		pending := map[string]interface{}{
			"status":   job.Status,
			"message":  job.Message,
			"progress": job.Progress,
		}
		if job.Error != "" {
			pending["error"] = job.Error
		}
		writeJSON(w, http.StatusOK, pending)
		return
	}

	scene := job.IsTextFeature()
	resp := models.JobResults{
		Status:           job.Status,
		Feature:          job.Feature,
		IsSceneDetection: scene,
		Metrics:          perf.AggregateJob(job),
		Videos:           map[string]*string{"input": nil},
		RawMetrics:       job.Metrics,
	}
	if _, err := h.ws.FindInput(id); err == nil {
		resp.Videos["input"] = models.String("/api/video/" + id + "/input")
	}
	if scene {
		resp.SceneResults = make(map[string]*string, len(models.Variants))
	}
	for _, v := range models.Variants {
		_, produced := job.Artifacts[v]
		if scene {
			resp.Videos[string(v)] = nil
			if produced {
				resp.SceneResults[string(v)] = models.String("/api/scene/" + id + "/" + string(v))
			} else {
				resp.SceneResults[string(v)] = nil
			}
			continue
		}
		if produced {
			resp.Videos[string(v)] = models.String("/api/video/" + id + "/" + string(v))
		} else {
			resp.Videos[string(v)] = nil
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Video streams an input or variant video with Range support
func (h *Handler) Video(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, kind := vars["id"], vars["type"]

	var (
		path string
		err  error
	)
	if kind == "input" {
		path, err = h.ws.FindInput(id)
	} else {
		path, err = h.resolver.ResolveVideo(id, kind)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, "Video not found")
		return
	}
	if _, err := artifact.Check(path); err != nil {
		if errors.Is(err, artifact.ErrEmpty) {
			writeError(w, http.StatusInternalServerError, "Video file is empty")
			return
		}
		writeError(w, http.StatusNotFound, "Video not found")
		return
	}

	if err := h.streamer.Serve(w, r, path); err != nil {
		h.logger.Error("Error serving video", map[string]interface{}{"job_id": id, "type": kind, "error": err.Error()})
	}
}

// Scene returns a variant's scene-detection text
func (h *Handler) Scene(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, kind := vars["id"], vars["type"]

	content, err := h.resolver.ReadScene(id, kind)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Scene detection results not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Error reading scene results: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content, "type": kind})
}

// Cleanup removes a job's files and record. It always succeeds.
func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.ws.Cleanup(id); err != nil {
		h.logger.Warn("Cleanup incomplete", map[string]interface{}{"job_id": id, "error": err.Error()})
	}
	if err := h.orch.Delete(id); err != nil {
		h.logger.Warn("Failed to forget job", map[string]interface{}{"job_id": id, "error": err.Error()})
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job files cleaned up successfully"})
}
