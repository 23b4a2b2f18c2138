package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/loomwork/internal/cache"
	"github.com/alexisbeaulieu97/loomwork/internal/config"
	"github.com/alexisbeaulieu97/loomwork/internal/events"
	"github.com/alexisbeaulieu97/loomwork/internal/model"
	"github.com/alexisbeaulieu97/loomwork/internal/pluginhost"
)

// fakeRunner stands in for a real plugin host in unit tests (SPEC_FULL.md §8 "a
// small in-process fake plugin host standing in for real .so files").
type fakeRunner struct {
	mu    sync.Mutex
	fns   map[string]func(input string) (string, error)
	calls map[string]int
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fns: make(map[string]func(string) (string, error)), calls: make(map[string]int)}
}

func (f *fakeRunner) register(name string, fn func(input string) (string, error)) {
	f.fns[name] = fn
}

func (f *fakeRunner) Get(name string) (pluginhost.Handle, bool) {
	if _, ok := f.fns[name]; !ok {
		return pluginhost.Handle{}, false
	}
	return pluginhost.NewHandle(name), true
}

func (f *fakeRunner) Run(ctx context.Context, h pluginhost.Handle, input string) (string, error) {
	f.mu.Lock()
	f.calls[h.Name()]++
	f.mu.Unlock()
	return f.fns[h.Name()](input)
}

func (f *fakeRunner) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func echoWorkflow() *config.Workflow {
	literal := "hi"
	return &config.Workflow{Steps: []config.Step{
		{ID: "s1", Plugin: "echo", Input: &literal},
	}}
}

func TestRunExecutesSingleStepSuccessfully(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.register("echo", func(input string) (string, error) { return input, nil })

	exec := NewExecutor(runner, nil, events.NewStream(nil), nil)
	summary, err := exec.Run(context.Background(), echoWorkflow(), RunOptions{})
	require.NoError(t, err)
	require.True(t, summary.Success())
	require.Equal(t, 1, summary.Counts[model.StateSuccess])
	require.Equal(t, "hi", summary.Steps[0].Output)
}

func TestRunForwardsOutputBetweenDependentSteps(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.register("upper", func(input string) (string, error) { return input + "!", nil })

	literal := "a"
	wf := &config.Workflow{Steps: []config.Step{
		{ID: "s1", Plugin: "upper", Input: &literal},
		{ID: "s2", Plugin: "upper", InputFrom: "s1"},
	}}

	exec := NewExecutor(runner, nil, events.NewStream(nil), nil)
	summary, err := exec.Run(context.Background(), wf, RunOptions{})
	require.NoError(t, err)
	require.True(t, summary.Success())

	byID := map[string]model.StepResult{}
	for _, r := range summary.Steps {
		byID[r.StepID] = r
	}
	require.Equal(t, "a!", byID["s1"].Output)
	require.Equal(t, "a!!", byID["s2"].Output)
}

func TestRunTreatsFailedUpstreamOutputAsEmptyStringDownstream(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.register("fail", func(input string) (string, error) { return "", fmt.Errorf("boom") })
	runner.register("echo", func(input string) (string, error) { return input, nil })

	wf := &config.Workflow{Steps: []config.Step{
		{ID: "s1", Plugin: "fail"},
		{ID: "s2", Plugin: "echo", InputFrom: "s1"},
	}}

	exec := NewExecutor(runner, nil, events.NewStream(nil), nil)
	summary, err := exec.Run(context.Background(), wf, RunOptions{})
	require.NoError(t, err)
	require.False(t, summary.Success())

	byID := map[string]model.StepResult{}
	for _, r := range summary.Steps {
		byID[r.StepID] = r
	}
	require.Equal(t, model.StateError, byID["s1"].State)
	require.Equal(t, model.StateSuccess, byID["s2"].State)
	require.Equal(t, "", byID["s2"].Output)
}

func TestRunRetriesUpToRetriesPlusOneAttempts(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	attempts := 0
	runner.register("flaky", func(input string) (string, error) {
		attempts++
		return "", fmt.Errorf("nope")
	})

	wf := &config.Workflow{Steps: []config.Step{
		{ID: "s1", Plugin: "flaky", Retries: 2},
	}}

	exec := NewExecutor(runner, nil, events.NewStream(nil), nil)
	summary, err := exec.Run(context.Background(), wf, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, model.StateError, summary.Steps[0].State)
	require.Equal(t, 3, summary.Steps[0].Attempts)
}

func TestRunStopsRetryingOnceASucceeds(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	calls := 0
	runner.register("eventually", func(input string) (string, error) {
		calls++
		if calls < 2 {
			return "", fmt.Errorf("not yet")
		}
		return "ok", nil
	})

	wf := &config.Workflow{Steps: []config.Step{
		{ID: "s1", Plugin: "eventually", Retries: 5},
	}}

	exec := NewExecutor(runner, nil, events.NewStream(nil), nil)
	summary, err := exec.Run(context.Background(), wf, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.Equal(t, model.StateSuccess, summary.Steps[0].State)
}

func TestRunUsesCacheOnSecondRunWithSameKeyAndInput(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.register("echo", func(input string) (string, error) { return input, nil })

	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)

	literal := "x"
	wf := &config.Workflow{Steps: []config.Step{
		{ID: "s1", Plugin: "echo", Input: &literal, CacheKey: "k"},
	}}

	exec := NewExecutor(runner, c, events.NewStream(nil), nil)
	_, err = exec.Run(context.Background(), wf, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, runner.callCount("echo"))

	summary, err := exec.Run(context.Background(), wf, RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, runner.callCount("echo"), "second run should hit cache, not invoke plugin again")
	require.Equal(t, model.StateCache, summary.Steps[0].State)
	require.Equal(t, "x", summary.Steps[0].Output)
}

func TestRunSkipsStepWhenConditionIsFalse(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.register("echo", func(input string) (string, error) { return input, nil })

	literal := "a"
	wf := &config.Workflow{Steps: []config.Step{
		{ID: "s1", Plugin: "echo", Input: &literal},
		{ID: "s2", Plugin: "echo", Condition: &config.Condition{
			Kind: config.ConditionOutputEquals, Field: "s1", Operator: config.OpEquals, Value: "nope",
		}},
	}}

	exec := NewExecutor(runner, nil, events.NewStream(nil), nil)
	summary, err := exec.Run(context.Background(), wf, RunOptions{})
	require.NoError(t, err)

	byID := map[string]model.StepResult{}
	for _, r := range summary.Steps {
		byID[r.StepID] = r
	}
	require.Equal(t, model.StateSkipped, byID["s2"].State)
	require.Equal(t, model.SkipReasonCondition, byID["s2"].SkipWhy)
	require.Equal(t, 1, runner.callCount("echo"), "only s1 should have invoked the plugin")
}

func TestRunParallelModeProducesSameTerminalStatesAsSequential(t *testing.T) {
	t.Parallel()

	build := func() *config.Workflow {
		a, b := "a", "b"
		return &config.Workflow{Steps: []config.Step{
			{ID: "s1", Plugin: "echo", Input: &a},
			{ID: "s2", Plugin: "echo", Input: &b},
			{ID: "s3", Plugin: "echo", InputFrom: "s1", DependsOn: []string{"s2"}},
		}}
	}

	runner := newFakeRunner()
	runner.register("echo", func(input string) (string, error) { return input, nil })

	seqExec := NewExecutor(runner, nil, events.NewStream(nil), nil)
	seq, err := seqExec.Run(context.Background(), build(), RunOptions{Parallel: false})
	require.NoError(t, err)

	parExec := NewExecutor(runner, nil, events.NewStream(nil), nil)
	par, err := parExec.Run(context.Background(), build(), RunOptions{Parallel: true, MaxParallelism: 4})
	require.NoError(t, err)

	require.Equal(t, seq.Counts, par.Counts)
}

func TestRunCancellationSkipsNotYetStartedSteps(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	ctx, cancel := context.WithCancel(context.Background())
	runner.register("slow", func(input string) (string, error) {
		cancel()
		return "done", nil
	})
	runner.register("echo", func(input string) (string, error) { return input, nil })

	wf := &config.Workflow{Steps: []config.Step{
		{ID: "s1", Plugin: "slow"},
		{ID: "s2", Plugin: "echo", DependsOn: []string{"s1"}},
	}}

	exec := NewExecutor(runner, nil, events.NewStream(nil), nil)
	summary, err := exec.Run(ctx, wf, RunOptions{})
	require.NoError(t, err)
	require.True(t, summary.Cancelled)

	byID := map[string]model.StepResult{}
	for _, r := range summary.Steps {
		byID[r.StepID] = r
	}
	require.Equal(t, model.StateSkipped, byID["s2"].State)
	require.Equal(t, model.SkipReasonCancelled, byID["s2"].SkipWhy)
}

func TestRunEmitsWorkflowDoneExactlyOnceAfterAllStepEvents(t *testing.T) {
	t.Parallel()

	runner := newFakeRunner()
	runner.register("echo", func(input string) (string, error) { return input, nil })

	stream := events.NewStream(nil)
	ch, unsubscribe := stream.Subscribe()
	defer unsubscribe()

	exec := NewExecutor(runner, nil, stream, nil)
	_, err := exec.Run(context.Background(), echoWorkflow(), RunOptions{})
	require.NoError(t, err)

	var seenDone bool
	var doneCount int
	for {
		select {
		case e := <-ch:
			if e.Kind == events.WorkflowDone {
				seenDone = true
				doneCount++
			} else {
				require.False(t, seenDone, "step event observed after workflow_done")
			}
		case <-time.After(100 * time.Millisecond):
			require.True(t, seenDone)
			require.Equal(t, 1, doneCount)
			return
		}
	}
}
