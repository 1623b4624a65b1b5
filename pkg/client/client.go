// Package client is a typed HTTP client for the parbench API.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/psantana5/parbench/pkg/models"
	"github.com/psantana5/parbench/pkg/tracing"
)

// ErrNotFound is returned for 404 responses
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

// Client talks to a parbench server
type Client struct {
	baseURL    string
	httpClient *http.Client
	tlsConfig  *tls.Config
}

// Option configures a Client
type Option func(*Client)

// WithTLSConfig sets the TLS configuration used for https and wss URLs
func WithTLSConfig(cfg *tls.Config) Option {
	return func(c *Client) {
		c.tlsConfig = cfg
		c.httpClient.Transport = &http.Transport{TLSClientConfig: cfg}
	}
}

// WithTimeout bounds every request except WatchProgress
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for baseURL, e.g. http://localhost:5000
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// VideoInfo is the probe summary returned by Upload
type VideoInfo struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Duration   float64 `json:"duration"`
}

// UploadResult describes a stored upload
type UploadResult struct {
	JobID     string     `json:"job_id"`
	Filename  string     `json:"filename"`
	Size      int64      `json:"size"`
	VideoInfo *VideoInfo `json:"video_info"`
}

// ProcessRequest submits an uploaded video for benchmarking
type ProcessRequest struct {
	JobID          string `json:"job_id"`
	Feature        string `json:"feature"`
	OpenMPThreads  int    `json:"openmp_threads"`
	PthreadThreads int    `json:"pthread_threads"`
}

// Health is the liveness report
type Health struct {
	Status        string                 `json:"status"`
	Message       string                 `json:"message"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	ActiveJobs    int                    `json:"active_jobs"`
	Host          map[string]interface{} `json:"host"`
}

// Pending is the results view of a job that has not completed
type Pending struct {
	Status   models.JobStatus `json:"status"`
	Message  string           `json:"message"`
	Progress int              `json:"progress"`
	Error    string           `json:"error,omitempty"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	tracing.InjectHTTPHeaders(req)
	return req, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// Health checks the server
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.getJSON(ctx, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Features lists the feature catalogue
func (c *Client) Features(ctx context.Context) ([]models.Feature, error) {
	var out struct {
		Features []models.Feature `json:"features"`
	}
	if err := c.getJSON(ctx, "/api/features", &out); err != nil {
		return nil, err
	}
	return out.Features, nil
}

// Upload sends a local video file
func (c *Client) Upload(ctx context.Context, path string) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open video: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("video", filepath.Base(path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/upload", pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out UploadResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Process starts the pipeline for an uploaded video
func (c *Client) Process(ctx context.Context, p ProcessRequest) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/process", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, nil)
}

// List returns every job known to the server, newest first
func (c *Client) List(ctx context.Context) ([]*models.Job, error) {
	var out struct {
		Jobs []*models.Job `json:"jobs"`
	}
	if err := c.getJSON(ctx, "/api/jobs", &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Status returns the job record. Unknown jobs yield ErrNotFound.
func (c *Client) Status(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := c.getJSON(ctx, "/api/status/"+url.PathEscape(jobID), &job); err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusNotFound {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return &job, nil
}

// Results returns the results of a completed job, or the pending view
// when the job has not completed yet. Exactly one of the two is non-nil.
func (c *Client) Results(ctx context.Context, jobID string) (*models.JobResults, *Pending, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/results/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, nil, err
	}
	var raw json.RawMessage
	if err := c.do(req, &raw); err != nil {
		return nil, nil, err
	}

	var pending Pending
	if err := json.Unmarshal(raw, &pending); err != nil {
		return nil, nil, fmt.Errorf("failed to decode results: %w", err)
	}
	if pending.Status != models.JobStatusCompleted {
		return nil, &pending, nil
	}
	var res models.JobResults
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return &res, nil, nil
}

// Scene returns the scene-detection text of a variant
func (c *Client) Scene(ctx context.Context, jobID, variant string) (string, error) {
	var out struct {
		Content string `json:"content"`
	}
	if err := c.getJSON(ctx, "/api/scene/"+url.PathEscape(jobID)+"/"+url.PathEscape(variant), &out); err != nil {
		return "", err
	}
	return out.Content, nil
}

// DownloadVideo copies a video artifact into w and returns the byte count
func (c *Client) DownloadVideo(ctx context.Context, jobID, kind string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/video/"+url.PathEscape(jobID)+"/"+url.PathEscape(kind), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, decodeError(resp)
	}
	return io.Copy(w, resp.Body)
}

// Cleanup removes the job's files and record on the server
func (c *Client) Cleanup(ctx context.Context, jobID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/cleanup/"+url.PathEscape(jobID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Wait polls the job until it reaches a terminal state
func (c *Client) Wait(ctx context.Context, jobID string, poll time.Duration, onUpdate func(*models.Job)) (*models.Job, error) {
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		job, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(job)
		}
		if models.IsTerminalState(job.Status) {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProgressEvent is one message from the progress websocket
type ProgressEvent struct {
	JobID    string `json:"job_id"`
	Message  string `json:"message"`
	Progress int    `json:"progress"`
}

// WatchProgress streams progress events for jobID (all jobs when empty)
// until ctx is done or the server closes the connection.
func (c *Client) WatchProgress(ctx context.Context, jobID string, fn func(ProgressEvent)) error {
	u, err := url.Parse(c.baseURL + "/ws/progress")
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if jobID != "" {
		u.RawQuery = url.Values{"job_id": {jobID}}.Encode()
	}

	dialer := *websocket.DefaultDialer
	dialer.TLSClientConfig = c.tlsConfig
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect progress stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg struct {
			Event string        `json:"event"`
			Data  ProgressEvent `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if msg.Event == "progress" {
			fn(msg.Data)
		}
	}
}
