package artifact

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func lookupOf(m map[string]string) FeatureLookup {
	return func(id string) (string, bool) {
		f, ok := m[id]
		return f, ok
	}
}

func TestResolveVideoWithKnownFeature(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "j1", "gaussian_blur_pthread.avi"), "avi")
	touch(t, filepath.Join(root, "j1", "gaussian_blur_openmp.avi"), "avi")
	touch(t, filepath.Join(root, "j1", "gaussian_blur_openmp.mp4"), "mp4")
	touch(t, filepath.Join(root, "j1", "other_sequential.mp4"), "mp4")

	r := NewResolver(root, lookupOf(map[string]string{"j1": "Gaussian Blur"}))

	got, err := r.ResolveVideo("j1", "openmp")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "j1", "gaussian_blur_openmp.mp4"), got)

	got, err = r.ResolveVideo("j1", "pthread")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "j1", "gaussian_blur_pthread.avi"), got)

	// known feature does not fall back to a glob
	_, err = r.ResolveVideo("j1", "sequential")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveVideoGlobFallback(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "j2", "b_sequential.avi"), "avi")
	touch(t, filepath.Join(root, "j2", "z_sequential.mp4"), "mp4")
	touch(t, filepath.Join(root, "j2", "a_pthread.avi"), "avi")
	touch(t, filepath.Join(root, "j2", "c_pthread.avi"), "avi")

	r := NewResolver(root, nil)

	got, err := r.ResolveVideo("j2", "sequential")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "j2", "z_sequential.mp4"), got, "mp4 preferred")

	got, err = r.ResolveVideo("j2", "pthread")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "j2", "a_pthread.avi"), got)

	_, err = r.ResolveVideo("j2", "openmp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveRejectsTraversal(t *testing.T) {
	r := NewResolver(t.TempDir(), nil)
	for _, id := range []string{"..", "../etc", "a/b", ""} {
		_, err := r.ResolveVideo(id, "sequential")
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
	_, err := r.ResolveScene("ok", "../x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveScene(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "s1", "scene_detection_sequential.txt"), "Scene 1: 0-10")
	touch(t, filepath.Join(root, "s2", "custom_scene_openmp.txt"), "Scene 1: 0-5")

	r := NewResolver(root, nil)

	content, err := r.ReadScene("s1", "sequential")
	require.NoError(t, err)
	assert.Equal(t, "Scene 1: 0-10", content)

	got, err := r.ResolveScene("s2", "openmp")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "s2", "custom_scene_openmp.txt"), got)

	_, err = r.ResolveScene("s2", "pthread")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"a.mp4":  "video/mp4",
		"a.AVI":  "video/x-msvideo",
		"a.mov":  "video/quicktime",
		"a.mkv":  "video/x-matroska",
		"a.wmv":  "video/x-ms-wmv",
		"a.webm": "video/mp4",
	}
	for path, want := range tests {
		assert.Equal(t, want, ContentType(path), path)
	}
}

func TestServeRangeRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x_openmp.mp4")
	touch(t, path, "0123456789")

	s := NewStreamer(nil)
	req := httptest.NewRequest(http.MethodGet, "/api/video/j/openmp", nil)
	req.Header.Set("Range", "bytes=2-5")
	rr := httptest.NewRecorder()

	require.NoError(t, s.Serve(rr, req, path))
	assert.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "2345", rr.Body.String())
	assert.Equal(t, "video/mp4", rr.Header().Get("Content-Type"))
	assert.Equal(t, "bytes", rr.Header().Get("Accept-Ranges"))
}

func TestServeFallsBackToWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x_sequential.avi")
	touch(t, path, "whole-file")

	s := NewStreamer(nil)
	s.serveContent = func(w http.ResponseWriter, r *http.Request, name string, modtime time.Time, content io.ReadSeeker) error {
		_, _ = io.CopyN(io.Discard, content, 3)
		return errors.New("range failure")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Range", "bytes=0-1")
	rr := httptest.NewRecorder()

	require.NoError(t, s.Serve(rr, req, path))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "whole-file", rr.Body.String())
	assert.Equal(t, "none", rr.Header().Get("Accept-Ranges"))
	assert.Equal(t, "video/x-msvideo", rr.Header().Get("Content-Type"))
	assert.Equal(t, "10", rr.Header().Get("Content-Length"))
}

func TestServeRejectsEmptyAndMissing(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "x_pthread.mp4")
	touch(t, empty, "")

	s := NewStreamer(nil)
	rr := httptest.NewRecorder()
	err := s.Serve(rr, httptest.NewRequest(http.MethodGet, "/", nil), empty)
	assert.ErrorIs(t, err, ErrEmpty)
	assert.Equal(t, 0, rr.Body.Len())

	err = s.Serve(rr, httptest.NewRequest(http.MethodGet, "/", nil), filepath.Join(dir, "missing.mp4"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRangeServeRecoversPanic(t *testing.T) {
	rr := httptest.NewRecorder()
	err := rangeServe(rr, httptest.NewRequest(http.MethodGet, "/", nil), "x.mp4", time.Time{}, panicReader{})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "serve content"))
}

type panicReader struct{}

func (panicReader) Read([]byte) (int, error) { panic("corrupt container") }
func (panicReader) Seek(int64, int) (int64, error) { panic("corrupt container") }
