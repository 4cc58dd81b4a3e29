package plot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRunner tracks call order and the highest observed concurrency.
type recordingRunner struct {
	mu       sync.Mutex
	order    []int
	inFlight atomic.Int32
	peak     atomic.Int32
	err      error
	delay    time.Duration
}

func (r *recordingRunner) Run(ctx context.Context, readings []TelemetryReading) (*RunResult, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		peak := r.peak.Load()
		if n <= peak || r.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(r.delay)

	r.mu.Lock()
	r.order = append(r.order, len(readings))
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return &RunResult{Status: "ok", Count: len(readings)}, nil
}

func batch(n int) []TelemetryReading {
	return make([]TelemetryReading, n)
}

func TestRunQueue_SerializesRuns(t *testing.T) {
	runner := &recordingRunner{delay: 5 * time.Millisecond}
	q := NewRunQueue(runner, 16)
	q.Start()
	defer q.Close()

	var wg sync.WaitGroup
	for i := 1; i <= 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := q.Submit(context.Background(), "test", batch(n))
			assert.NoError(t, err)
			if assert.NotNil(t, result) {
				assert.Equal(t, n, result.Count)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), runner.peak.Load(), "runs never overlap")
	assert.Len(t, runner.order, 6)
}

func TestRunQueue_PreservesSubmissionOrder(t *testing.T) {
	runner := &recordingRunner{}
	q := NewRunQueue(runner, 16)
	q.Start()
	defer q.Close()

	for i := 1; i <= 4; i++ {
		_, err := q.Submit(context.Background(), "test", batch(i))
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, runner.order)
}

func TestRunQueue_PropagatesRunError(t *testing.T) {
	boom := errors.New("boom")
	q := NewRunQueue(&recordingRunner{err: boom}, 1)
	q.Start()
	defer q.Close()

	_, err := q.Submit(context.Background(), "test", batch(1))
	assert.ErrorIs(t, err, boom)
}

func TestRunQueue_OnResult(t *testing.T) {
	q := NewRunQueue(&recordingRunner{}, 1)

	var (
		mu      sync.Mutex
		sources []string
	)
	q.OnResult(func(source string, result *RunResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		sources = append(sources, source)
		assert.NoError(t, err)
		assert.NotNil(t, result)
	})
	q.Start()

	_, err := q.Submit(context.Background(), "mqtt", batch(2))
	require.NoError(t, err)
	_, err = q.Submit(context.Background(), "http", batch(1))
	require.NoError(t, err)
	q.Close()

	assert.Equal(t, []string{"mqtt", "http"}, sources)
}

func TestRunQueue_SubmitAfterClose(t *testing.T) {
	q := NewRunQueue(&recordingRunner{}, 1)
	q.Start()
	q.Close()
	q.Close()

	_, err := q.Submit(context.Background(), "test", batch(1))
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestRunQueue_CancelledContext(t *testing.T) {
	runner := &recordingRunner{}
	q := NewRunQueue(runner, 1)
	q.Start()
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Submit(ctx, "test", batch(1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunQueue_WithPipeline(t *testing.T) {
	store := seededStore(t)
	p := newTestPipeline(t, store)
	q := NewRunQueue(p, 4)
	q.Start()
	defer q.Close()

	result, err := q.Submit(context.Background(), "cli", []TelemetryReading{reading(-73, 4)})
	require.NoError(t, err)
	assert.Equal(t, 1, result.CropUnits)

	active, err := store.ActiveGeneration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.GenerationID, active.ID)
}
