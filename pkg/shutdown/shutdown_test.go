package shutdown

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownRunsHooksLIFO(t *testing.T) {
	m := New(time.Second, nil)
	var order []string
	m.Register("store", func(context.Context) error { order = append(order, "store"); return nil })
	m.Register("http", func(context.Context) error { order = append(order, "http"); return nil })

	require.NoError(t, m.Shutdown())
	assert.Equal(t, []string{"http", "store"}, order)
}

func TestShutdownCollectsErrors(t *testing.T) {
	m := New(time.Second, nil)
	m.Register("bad", func(context.Context) error { return errors.New("boom") })
	m.Register("good", func(context.Context) error { return nil })

	err := m.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestWaitWithContextTrigger(t *testing.T) {
	m := New(time.Second, nil)
	var ran atomic.Bool
	m.Register("hook", func(context.Context) error { ran.Store(true); return nil })

	go m.Trigger()
	require.NoError(t, m.WaitWithContext(context.Background()))
	assert.True(t, ran.Load())

	select {
	case <-m.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestWaitForJobsTimesOut(t *testing.T) {
	fn := WaitForJobs(func() bool { return false }, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.Error(t, fn(ctx))

	assert.NoError(t, WaitForJobs(func() bool { return true }, time.Millisecond)(context.Background()))
}
