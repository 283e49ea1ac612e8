package runner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/progtest/types"
)

// mockExecutor fails every case whose source contains "bad" at the execute
// stage and tracks how many cases run at once.
type mockExecutor struct {
	delay   func(tc types.TestCase) time.Duration
	active  atomic.Int32
	maxSeen atomic.Int32

	mu     sync.Mutex
	order  []string
	runIDs map[string]struct{}
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{runIDs: make(map[string]struct{})}
}

func (m *mockExecutor) Run(ctx context.Context, runID string, tc types.TestCase) *types.TestResult {
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		seen := m.maxSeen.Load()
		if n <= seen || m.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if m.delay != nil {
		select {
		case <-time.After(m.delay(tc)):
		case <-ctx.Done():
		}
	}

	m.mu.Lock()
	m.order = append(m.order, tc.Source)
	m.runIDs[runID] = struct{}{}
	m.mu.Unlock()

	result := &types.TestResult{Case: tc, Outcome: types.Pass(), Duration: time.Millisecond}
	if strings.Contains(tc.Source, "bad") {
		result.Outcome = types.FailedAt(types.StageExecute)
		result.Stages = []types.StageResult{
			{Stage: types.StageInterpret},
			{Stage: types.StageLink},
			{Stage: types.StageExecute, ExitCode: 1},
		}
	}
	return result
}

func cases(sources ...string) []types.TestCase {
	out := make([]types.TestCase, 0, len(sources))
	for _, s := range sources {
		out = append(out, types.TestCase{Source: s, Name: s})
	}
	return out
}

func newRunner(t *testing.T, exec Executor, concurrency int) TestRunner {
	t.Helper()
	r, err := NewTestRunner(Config{
		Log:         log.NewLogger(log.DiscardHandler()),
		Executor:    exec,
		Concurrency: concurrency,
	})
	require.NoError(t, err)
	return r
}

func TestNewTestRunnerValidation(t *testing.T) {
	_, err := NewTestRunner(Config{})
	assert.Error(t, err)
	_, err = NewTestRunner(Config{Executor: newMockExecutor(), Concurrency: -1})
	assert.Error(t, err)
}

func TestRunAllSerial(t *testing.T) {
	exec := newMockExecutor()
	r := newRunner(t, exec, 1)

	result, err := r.RunAll(context.Background(), cases("a.prog", "bad1.prog", "c.prog", "bad2.prog"))
	require.NoError(t, err)

	assert.Equal(t, []string{"a.prog", "bad1.prog", "c.prog", "bad2.prog"}, exec.order)
	assert.Equal(t, 4, result.Stats.Total)
	assert.Equal(t, 2, result.Stats.Passed)
	assert.Equal(t, 2, result.Stats.Failed)
	assert.Equal(t, types.TestStatusFail, result.Status)
	assert.False(t, result.IsParallel)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, exec.runIDs, 1)
	assert.Equal(t, int32(1), exec.maxSeen.Load())

	failed := result.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, "bad1.prog", failed[0].Source)
	assert.Equal(t, "bad2.prog", failed[1].Source)
}

func TestRunAllAllPass(t *testing.T) {
	r := newRunner(t, newMockExecutor(), 1)
	result, err := r.RunAll(context.Background(), cases("a.prog", "b.prog"))
	require.NoError(t, err)
	assert.Equal(t, types.TestStatusPass, result.Status)
	assert.Empty(t, result.Failed())
}

func TestRunAllEmpty(t *testing.T) {
	r := newRunner(t, newMockExecutor(), 4)
	result, err := r.RunAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Stats.Total)
	assert.Equal(t, types.TestStatusPass, result.Status)
	assert.Empty(t, result.Failed())
}

func TestRunAllParallelKeepsDiscoveryOrder(t *testing.T) {
	exec := newMockExecutor()
	// Earlier cases take longer so completion order is reversed.
	exec.delay = func(tc types.TestCase) time.Duration {
		var i int
		_, _ = fmt.Sscanf(tc.Source, "t%d", &i)
		return time.Duration(10-i) * 10 * time.Millisecond
	}
	r := newRunner(t, exec, 4)

	var sources []string
	for i := 0; i < 8; i++ {
		name := fmt.Sprintf("t%d.prog", i)
		if i%3 == 0 {
			name = fmt.Sprintf("t%d-bad.prog", i)
		}
		sources = append(sources, name)
	}

	result, err := r.RunAll(context.Background(), cases(sources...))
	require.NoError(t, err)
	assert.True(t, result.IsParallel)
	assert.Equal(t, 8, result.Stats.Total)
	assert.LessOrEqual(t, exec.maxSeen.Load(), int32(4))

	for i, res := range result.Results {
		require.NotNil(t, res)
		assert.Equal(t, sources[i], res.Case.Source)
	}
	var failed []string
	for _, tc := range result.Failed() {
		failed = append(failed, tc.Source)
	}
	assert.Equal(t, []string{"t0-bad.prog", "t3-bad.prog", "t6-bad.prog"}, failed)
}

func TestRunAllCancelled(t *testing.T) {
	for _, concurrency := range []int{1, 3} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			exec := newMockExecutor()
			exec.delay = func(types.TestCase) time.Duration { return 50 * time.Millisecond }
			r := newRunner(t, exec, concurrency)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := r.RunAll(ctx, cases("a.prog", "b.prog", "c.prog", "d.prog", "e.prog", "f.prog"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "interrupted")
		})
	}
}

func TestRunnerResultString(t *testing.T) {
	r := newRunner(t, newMockExecutor(), 1)
	result, err := r.RunAll(context.Background(), cases("ok.prog", "bad.prog"))
	require.NoError(t, err)

	s := result.String()
	assert.Contains(t, s, "Total: 2, Passed: 1, Failed: 1")
	assert.Contains(t, s, "bad.prog")
	assert.Contains(t, s, "failed at execute")
	assert.Contains(t, s, "exit code 1")
	assert.NotContains(t, s, "ok.prog")
}
