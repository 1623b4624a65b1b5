package artifact

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/parbench/pkg/logging"
)

var mimeTypes = map[string]string{
	".mp4": "video/mp4",
	".avi": "video/x-msvideo",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
	".wmv": "video/x-ms-wmv",
}

// ContentType returns the MIME type for a video path, defaulting to video/mp4
func ContentType(path string) string {
	if ct, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "video/mp4"
}

// Streamer serves resolved files with range support
type Streamer struct {
	logger *logging.Logger

	// serveContent is swapped in tests to force the fallback path
	serveContent func(w http.ResponseWriter, r *http.Request, name string, modtime time.Time, content io.ReadSeeker) error
}

// NewStreamer creates a streamer
func NewStreamer(logger *logging.Logger) *Streamer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Streamer{logger: logger, serveContent: rangeServe}
}

// Check verifies path is a non-empty regular file
func Check(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, ErrNotFound
	}
	if info.Size() == 0 {
		return nil, ErrEmpty
	}
	return info, nil
}

// Serve writes the file at path. Range-aware delivery is tried first;
// if it faults before any byte is written the whole file is sent with
// Accept-Ranges: none. ErrNotFound and ErrEmpty are returned without
// writing so the caller can render its own error.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, path string) error {
	info, err := Check(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	w.Header().Set("Content-Type", ContentType(path))

	err = s.serveContent(w, r, filepath.Base(path), info.ModTime(), f)
	if err == nil {
		return nil
	}
	s.logger.Warn("range delivery failed, sending whole file", map[string]interface{}{"path": path, "error": err})

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind artifact: %w", err)
	}
	h := w.Header()
	h.Del("Content-Range")
	h.Set("Content-Type", ContentType(path))
	h.Set("Accept-Ranges", "none")
	h.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	_, err = io.Copy(w, f)
	return err
}

// rangeServe delegates to http.ServeContent and converts a panic inside it
// into an error. A fault after the first write cannot be retried.
func rangeServe(w http.ResponseWriter, r *http.Request, name string, modtime time.Time, content io.ReadSeeker) (err error) {
	tw := &trackingWriter{ResponseWriter: w}
	defer func() {
		if rec := recover(); rec != nil {
			if tw.wrote {
				panic(rec)
			}
			err = fmt.Errorf("serve content: %v", rec)
		}
	}()
	http.ServeContent(tw, r, name, modtime, content)
	return nil
}

type trackingWriter struct {
	http.ResponseWriter
	wrote bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wrote = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(b []byte) (int, error) {
	t.wrote = true
	return t.ResponseWriter.Write(b)
}
