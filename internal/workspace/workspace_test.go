package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/parbench/internal/runner"
)

func newWorkspace(t *testing.T, exec runner.Executor) *Workspace {
	t.Helper()
	root := t.TempDir()
	return New(filepath.Join(root, "uploads"), filepath.Join(root, "outputs"), "ffprobe", exec, nil)
}

func TestAllowedFile(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"clip.mp4", true},
		{"CLIP.AVI", true},
		{"a.b.mov", true},
		{"movie.mkv", true},
		{"old.wmv", true},
		{"notes.txt", false},
		{"noext", false},
		{"trailing.", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllowedFile(tt.name))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "my_clip.mp4", SanitizeFilename("my clip.mp4"))
	assert.Equal(t, "etc_passwd.avi", SanitizeFilename("../../etc/passwd.avi"))
	assert.Equal(t, "clp.mp4", SanitizeFilename("clïp.mp4"))
}

func TestSaveUpload(t *testing.T) {
	w := newWorkspace(t, nil)

	up, err := w.SaveUpload("My Clip.MP4", strings.NewReader("video-bytes"))
	require.NoError(t, err)

	_, err = uuid.Parse(up.JobID)
	assert.NoError(t, err)
	assert.Equal(t, "My_Clip.MP4", up.Filename)
	assert.Equal(t, int64(11), up.Size)
	assert.Equal(t, filepath.Join(w.UploadDir(up.JobID), "input.mp4"), up.Path)

	found, err := w.FindInput(up.JobID)
	require.NoError(t, err)
	assert.Equal(t, up.Path, found)
}

func TestSaveUploadRejects(t *testing.T) {
	w := newWorkspace(t, nil)

	_, err := w.SaveUpload("", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrNoFile)

	_, err = w.SaveUpload("evil.exe", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrExtensionNotAllowed)
	assert.Contains(t, err.Error(), "mp4, avi, mov, mkv, wmv")
}

func TestFindInputMissing(t *testing.T) {
	w := newWorkspace(t, nil)
	_, err := w.FindInput("nope")
	assert.ErrorIs(t, err, ErrInputNotFound)

	_, err = w.FindInput("../x")
	assert.ErrorIs(t, err, ErrInvalidJobID)
}

func TestCleanupIsBestEffort(t *testing.T) {
	w := newWorkspace(t, nil)
	up, err := w.SaveUpload("a.avi", strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(w.OutputDir(up.JobID), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(w.OutputDir(up.JobID), "a_sequential.avi"), []byte("x"), 0644))

	require.NoError(t, w.Cleanup(up.JobID))
	assert.NoDirExists(t, w.UploadDir(up.JobID))
	assert.NoDirExists(t, w.OutputDir(up.JobID))

	assert.NoError(t, w.Cleanup("never-existed"))
}

type stubExec struct {
	res  *runner.Result
	spec runner.Spec
}

func (s *stubExec) Run(ctx context.Context, spec runner.Spec) *runner.Result {
	s.spec = spec
	return s.res
}

func TestProbe(t *testing.T) {
	out := `{"streams":[{"width":1280,"height":720,"avg_frame_rate":"30000/1001","r_frame_rate":"30000/1001","nb_frames":"300"}],"format":{"duration":"10.010000"}}`
	exec := &stubExec{res: &runner.Result{Stdout: out}}
	w := newWorkspace(t, exec)

	info := w.Probe(context.Background(), "/tmp/input.mp4")
	require.NotNil(t, info)
	assert.Equal(t, 1280, info.Width)
	assert.Equal(t, 720, info.Height)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, 300, info.FrameCount)
	assert.InDelta(t, 10.01, info.Duration, 0.01)
	assert.Equal(t, "/tmp/input.mp4", exec.spec.Args[len(exec.spec.Args)-1])
}

func TestProbeFrameCountFromDuration(t *testing.T) {
	info, err := parseProbe([]byte(`{"streams":[{"width":640,"height":480,"avg_frame_rate":"0/0","r_frame_rate":"25/1"}],"format":{"duration":"4.0"}}`))
	require.NoError(t, err)
	assert.Equal(t, 25.0, info.FPS)
	assert.Equal(t, 100, info.FrameCount)
	assert.Equal(t, 4.0, info.Duration)
}

func TestProbeFailureReturnsNil(t *testing.T) {
	w := newWorkspace(t, &stubExec{res: &runner.Result{ExitCode: 1, Stderr: "Invalid data found"}})
	assert.Nil(t, w.Probe(context.Background(), "x.mp4"))

	w = newWorkspace(t, &stubExec{res: &runner.Result{Stdout: `{"streams":[]}`}})
	assert.Nil(t, w.Probe(context.Background(), "x.mp4"))

	assert.Nil(t, newWorkspace(t, nil).Probe(context.Background(), "x.mp4"))

	_, err := parseProbe([]byte("not json"))
	assert.True(t, err != nil && !errors.Is(err, errNoVideoStream))
}
