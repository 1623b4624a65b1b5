package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/parbench/internal/perf"
	"github.com/psantana5/parbench/internal/runner"
	"github.com/psantana5/parbench/pkg/models"
	"github.com/psantana5/parbench/pkg/store"
)

// writeVariant installs a shell program that mimics a variant executable:
// it writes its last argument and prints a timing report.
func writeVariant(t *testing.T, buildDir, name, seconds string) {
	t.Helper()
	script := "#!/bin/sh\n" +
		"for a; do last=$a; done\n" +
		"echo data > \"$last\"\n" +
		"echo \"Processing 120 frames\"\n" +
		"echo \"Execution time: " + seconds + "s\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(buildDir, name), []byte(script), 0755))
}

func TestPipelineWithRealPrograms(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	root := t.TempDir()
	buildDir := filepath.Join(root, "build")
	require.NoError(t, os.MkdirAll(buildDir, 0755))
	writeVariant(t, buildDir, "white_balance_sequential", "4.000")
	writeVariant(t, buildDir, "white_balance_pthread", "1.000")
	writeVariant(t, buildDir, "white_balance_openmp", "2.000")

	input := filepath.Join(root, "uploads", "j", "input.avi")
	require.NoError(t, os.MkdirAll(filepath.Dir(input), 0755))
	require.NoError(t, os.WriteFile(input, []byte("video"), 0644))

	st := store.NewMemoryStore()
	o, err := New(Config{ProjectRoot: root, BuildDir: "build", RunTimeout: 10 * time.Second}, Deps{
		Store:    st,
		Executor: runner.New(nil),
	})
	require.NoError(t, err)

	_, err = o.Start(context.Background(), Request{
		JobID:          "j",
		Feature:        "white_balance",
		InputPath:      input,
		OutputDir:      filepath.Join(root, "out", "j"),
		PthreadThreads: 4,
		OpenMPThreads:  4,
	})
	require.NoError(t, err)
	o.Wait()

	job, err := o.Get("j")
	require.NoError(t, err)
	require.Equal(t, models.JobStatusCompleted, job.Status, job.Error)

	summary := perf.AggregateJob(job)
	require.NotNil(t, summary.Pthread.Speedup)
	assert.Equal(t, 4.0, *summary.Pthread.Speedup)
	assert.Equal(t, 100.0, *summary.Pthread.Efficiency)
	assert.Equal(t, 2.0, *summary.OpenMP.Speedup)
	assert.Equal(t, 50.0, *summary.OpenMP.Efficiency)

	// no converter configured: original artifacts are kept
	assert.Equal(t, filepath.Join(root, "out", "j", "white_balance_sequential.avi"), job.Artifacts[models.VariantSequential])
}

func TestPipelineMissingExecutable(t *testing.T) {
	root := t.TempDir()
	input := filepath.Join(root, "input.mp4")
	require.NoError(t, os.WriteFile(input, []byte("video"), 0644))

	o, err := New(Config{ProjectRoot: root, BuildDir: "build", RunTimeout: time.Second}, Deps{
		Store:    store.NewMemoryStore(),
		Executor: runner.New(nil),
	})
	require.NoError(t, err)

	_, err = o.Start(context.Background(), Request{
		JobID: "m", Feature: "grayscale", InputPath: input, OutputDir: filepath.Join(root, "out"),
		PthreadThreads: 2, OpenMPThreads: 2,
	})
	require.NoError(t, err)
	o.Wait()

	job, err := o.Get("m")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "Sequential execution failed: failed to start")
}
