// Package workspace manages the per-job upload and output directories.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/psantana5/parbench/internal/runner"
	"github.com/psantana5/parbench/pkg/logging"
)

var (
	ErrInputNotFound       = errors.New("Input video not found")
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	ErrNoFile              = errors.New("No file provided")
	ErrInvalidJobID        = errors.New("invalid job id")
)

// AllowedExtensions are the accepted upload container formats
var AllowedExtensions = []string{"mp4", "avi", "mov", "mkv", "wmv"}

// Upload describes a stored input video
type Upload struct {
	JobID    string `json:"job_id"`
	Filename string `json:"filename"`
	Path     string `json:"-"`
	Size     int64  `json:"size"`
}

// Workspace owns <uploadRoot>/<job>/ and <outputRoot>/<job>/
type Workspace struct {
	uploadRoot string
	outputRoot string
	ffprobe    string
	exec       runner.Executor
	logger     *logging.Logger
}

// New creates a workspace. exec runs ffprobe; a nil exec disables probing.
func New(uploadRoot, outputRoot, ffprobe string, exec runner.Executor, logger *logging.Logger) *Workspace {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Workspace{
		uploadRoot: uploadRoot,
		outputRoot: outputRoot,
		ffprobe:    ffprobe,
		exec:       exec,
		logger:     logger,
	}
}

// UploadRoot returns the directory holding every job's upload
func (w *Workspace) UploadRoot() string { return w.uploadRoot }

// OutputRoot returns the directory holding every job's outputs
func (w *Workspace) OutputRoot() string { return w.outputRoot }

// ValidJobID reports whether id is a single safe path segment
func ValidJobID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

// UploadDir returns the upload directory of a job
func (w *Workspace) UploadDir(jobID string) string {
	return filepath.Join(w.uploadRoot, jobID)
}

// OutputDir returns the output directory of a job
func (w *Workspace) OutputDir(jobID string) string {
	return filepath.Join(w.outputRoot, jobID)
}

// AllowedFile reports whether the filename's extension is on the allow-list
func AllowedFile(filename string) bool {
	_, ok := extension(filename)
	return ok
}

func extension(filename string) (string, bool) {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return "", false
	}
	ext := strings.ToLower(filename[i+1:])
	for _, allowed := range AllowedExtensions {
		if ext == allowed {
			return ext, true
		}
	}
	return "", false
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SanitizeFilename reduces a client-supplied name to a safe ASCII basename
func SanitizeFilename(name string) string {
	name = strings.NewReplacer("/", " ", `\`, " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.Trim(name, "._")
	return name
}

// SaveUpload stores r as input.<ext> under a fresh job id
func (w *Workspace) SaveUpload(filename string, r io.Reader) (*Upload, error) {
	if filename == "" {
		return nil, ErrNoFile
	}
	if !AllowedFile(filename) {
		return nil, fmt.Errorf("%w. Supported: %s", ErrExtensionNotAllowed, strings.Join(AllowedExtensions, ", "))
	}

	safe := SanitizeFilename(filename)
	ext, ok := extension(safe)
	if !ok {
		ext, _ = extension(filename)
		safe = "input." + ext
	}

	jobID := uuid.New().String()
	dir := w.UploadDir(jobID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	path := filepath.Join(dir, "input."+ext)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create input file: %w", err)
	}
	size, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("save upload: %w", err)
	}

	w.logger.Info("Upload stored", map[string]interface{}{"job_id": jobID, "filename": safe, "size": size})
	return &Upload{JobID: jobID, Filename: safe, Path: path, Size: size}, nil
}

// FindInput locates a job's input by its input.* stem
func (w *Workspace) FindInput(jobID string) (string, error) {
	if !ValidJobID(jobID) {
		return "", ErrInvalidJobID
	}
	matches, err := filepath.Glob(filepath.Join(w.UploadDir(jobID), "input.*"))
	if err != nil || len(matches) == 0 {
		return "", ErrInputNotFound
	}
	sort.Strings(matches)
	return matches[0], nil
}

// Cleanup removes both job directories. Every failure is logged and the
// rest of the cleanup still runs.
func (w *Workspace) Cleanup(jobID string) error {
	if !ValidJobID(jobID) {
		return ErrInvalidJobID
	}
	var errs []error
	for _, dir := range []string{w.UploadDir(jobID), w.OutputDir(jobID)} {
		if err := os.RemoveAll(dir); err != nil {
			w.logger.Error("Error cleaning up job directory", map[string]interface{}{"job_id": jobID, "dir": dir, "error": err})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
