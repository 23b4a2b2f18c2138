package engine

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/alexisbeaulieu97/loomwork/internal/cache"
	"github.com/alexisbeaulieu97/loomwork/internal/config"
	"github.com/alexisbeaulieu97/loomwork/internal/events"
	"github.com/alexisbeaulieu97/loomwork/internal/logger"
	"github.com/alexisbeaulieu97/loomwork/internal/model"
	"github.com/alexisbeaulieu97/loomwork/internal/pluginhost"
)

// RunOptions are the per-run knobs spec.md §6's configuration surface
// exposes: parallel/sequential mode and the concurrency bound.
type RunOptions struct {
	Parallel       bool
	MaxParallelism int // 0 means runtime.NumCPU()
}

// Executor realizes a validated Workflow as a sequence of plugin calls,
// respecting dependencies, retries, caching, and conditions, and emitting
// events over a Stream (spec.md §4.3).
type Executor struct {
	runner pluginhost.Runner
	cache  *cache.Cache
	stream *events.Stream
	log    *logger.Logger
}

// NewExecutor builds an Executor. cache may be nil, in which case no step
// ever hits or populates the cache regardless of cache_key (useful for
// `loomwork validate`-adjacent tooling that never runs steps for real).
func NewExecutor(runner pluginhost.Runner, c *cache.Cache, stream *events.Stream, log *logger.Logger) *Executor {
	return &Executor{runner: runner, cache: c, stream: stream, log: log}
}

// run is the mutable per-run state the Executor threads through a single
// Run call: recorded terminal results, the insertion-order predecessor map
// PreviousStepStatus needs, and the cancellation flag spec.md §5 describes.
type run struct {
	mu         sync.Mutex
	results    map[string]*model.StepResult
	predecessor map[string]string
	cancelled  bool
}

func (r *run) record(res model.StepResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.StepID] = &res
}

func (r *run) get(id string) (*model.StepResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[id]
	return res, ok
}

func (r *run) snapshot() map[string]*model.StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]*model.StepResult, len(r.results))
	for k, v := range r.results {
		out[k] = v
	}
	return out
}

func (r *run) setCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

func (r *run) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

// Run executes wf to completion and returns the terminal Summary (spec.md
// §4.3's Termination). ctx cancellation is observed between layers and
// between steps of a layer: no step already dispatched is interrupted (no
// sandboxing, spec.md §5), but no new step transitions pending → running
// once cancellation is observed.
func (e *Executor) Run(ctx context.Context, wf *config.Workflow, opts RunOptions) (model.Summary, error) {
	start := time.Now()

	graph, err := BuildDAG(wf.Steps)
	if err != nil {
		return model.Summary{}, err
	}
	plan, err := GeneratePlan(graph)
	if err != nil {
		return model.Summary{}, err
	}

	steps := config.StepMap(wf.Steps)
	r := &run{results: make(map[string]*model.StepResult), predecessor: predecessorIndex(wf.Steps)}

	parallelism := opts.MaxParallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	var ordered []model.StepResult
	for _, level := range plan.Levels {
		if ctx.Err() != nil {
			r.setCancelled()
		}

		if r.isCancelled() {
			for _, id := range level.StepIDs {
				res := e.skipForCancellation(steps[id])
				r.record(res)
				ordered = append(ordered, res)
			}
			continue
		}

		levelResults := e.runLevel(ctx, r, steps, level.StepIDs, opts.Parallel, parallelism)
		ordered = append(ordered, levelResults...)

		if ctx.Err() != nil {
			r.setCancelled()
		}
	}

	summary := model.NewSummary(ordered, time.Since(start), r.isCancelled())
	e.stream.Publish(events.Event{Kind: events.WorkflowDone, Summary: &summary})
	return summary, nil
}

// runLevel dispatches every step in a layer, sequentially or bounded by a
// semaphore of size parallelism, and returns their terminal results in
// insertion order (spec.md §4.3 "within a layer, insertion order").
func (e *Executor) runLevel(ctx context.Context, r *run, steps map[string]config.Step, level []string, parallel bool, parallelism int) []model.StepResult {
	results := make([]model.StepResult, len(level))

	if !parallel {
		for i, id := range level {
			results[i] = e.runStep(ctx, r, steps[id])
		}
		return results
	}

	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	for i, id := range level {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.runStep(ctx, r, steps[id])
		}(i, id)
	}
	wg.Wait()
	return results
}

// runStep executes the full per-step procedure of spec.md §4.3: condition
// gate, input resolution, cache lookup, plugin invocation with retries, and
// event emission. It always returns a terminal StepResult. A step reached
// after cancellation has been observed is skipped with reason "cancelled"
// and never started.
func (e *Executor) runStep(ctx context.Context, r *run, step config.Step) model.StepResult {
	if ctx.Err() != nil {
		r.setCancelled()
	}
	if r.isCancelled() {
		res := e.skipForCancellation(step)
		r.record(res)
		return res
	}

	e.stream.Publish(events.Event{Kind: events.StepStarted, StepID: step.ID, Plugin: step.Plugin})
	start := time.Now()

	proceed, reason := EvaluateCondition(step.Condition, r.snapshot(), r.predecessor[step.ID])
	if !proceed {
		res := model.StepResult{
			StepID:    step.ID,
			State:     model.StateSkipped,
			SkipWhy:   model.SkipReasonCondition,
			Duration:  time.Since(start),
			Timestamp: time.Now(),
		}
		r.record(res)
		if reason != "" && e.log != nil {
			e.log.WithFields(map[string]any{"step_id": step.ID, "reason": reason}).Debug("condition gate skipped step")
		}
		e.stream.Publish(events.Event{Kind: events.StepSkipped, StepID: step.ID, Reason: string(model.SkipReasonCondition)})
		return res
	}

	input := e.resolveInput(r, step)

	if step.CacheKey != "" && e.cache != nil {
		digest := cache.Digest(step.CacheKey, input)
		if output, ok := e.cache.Get(step.CacheKey, digest); ok {
			res := model.StepResult{
				StepID:    step.ID,
				State:     model.StateCache,
				Output:    output,
				Duration:  time.Since(start),
				Timestamp: time.Now(),
			}
			r.record(res)
			e.stream.Publish(events.Event{Kind: events.StepCached, StepID: step.ID, Preview: events.Preview(output)})
			return res
		}
	}

	res := e.runWithRetries(ctx, r, step, input, start)
	r.record(res)
	return res
}

// runWithRetries attempts the plugin call up to retries+1 times (spec.md
// §4.3 step 6), sleeping retry_delay_ms between attempts via
// backoff.ConstantBackOff so a cancelled context can interrupt the wait.
func (e *Executor) runWithRetries(ctx context.Context, r *run, step config.Step, input string, start time.Time) model.StepResult {
	delay := backoff.NewConstantBackOff(time.Duration(step.RetryDelayMs) * time.Millisecond)
	maxAttempts := step.Retries + 1

	var lastErr string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		handle, ok := e.runner.Get(step.Plugin)
		if !ok {
			lastErr = "plugin not found: " + step.Plugin
		} else if output, err := e.runner.Run(ctx, handle, input); err != nil {
			lastErr = err.Error()
		} else {
			res := model.StepResult{
				StepID:    step.ID,
				State:     model.StateSuccess,
				Output:    output,
				Attempts:  attempt,
				Duration:  time.Since(start),
				Timestamp: time.Now(),
			}
			if step.CacheKey != "" && e.cache != nil {
				if err := e.cache.Put(step.CacheKey, cache.Digest(step.CacheKey, input), output); err != nil {
					e.log.Error(err, "cache write failed")
				}
			}
			e.stream.Publish(events.Event{Kind: events.StepSucceeded, StepID: step.ID, Preview: events.Preview(output)})
			return res
		}

		if attempt < maxAttempts {
			e.stream.Publish(events.Event{
				Kind: events.StepRetrying, StepID: step.ID, Attempt: attempt,
				MaxAttempts: maxAttempts, LastError: lastErr,
			})
			if !sleepOrCancel(ctx, delay.NextBackOff()) {
				break
			}
		}
	}

	res := model.StepResult{
		StepID:    step.ID,
		State:     model.StateError,
		Error:     lastErr,
		Attempts:  maxAttempts,
		Duration:  time.Since(start),
		Timestamp: time.Now(),
	}
	e.stream.Publish(events.Event{Kind: events.StepFailed, StepID: step.ID, Error: lastErr})
	return res
}

// sleepOrCancel waits for d or ctx cancellation, whichever comes first,
// reporting whether the wait completed normally.
func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// resolveInput implements spec.md §4.3 step 3: literal(v) → v, from(ref) →
// ref's recorded output ("" if ref errored, was skipped, or is absent),
// none → "".
func (e *Executor) resolveInput(r *run, step config.Step) string {
	if step.Input != nil {
		return *step.Input
	}
	if step.InputFrom != "" {
		if res, ok := r.get(step.InputFrom); ok {
			return res.Output
		}
		return ""
	}
	return ""
}

// skipForCancellation marks a not-yet-started step as skipped with reason
// "cancelled" (spec.md §5 "Pending and queued steps are marked skipped").
func (e *Executor) skipForCancellation(step config.Step) model.StepResult {
	res := model.StepResult{
		StepID:    step.ID,
		State:     model.StateSkipped,
		SkipWhy:   model.SkipReasonCancelled,
		Timestamp: time.Now(),
	}
	e.stream.Publish(events.Event{Kind: events.StepSkipped, StepID: step.ID, Reason: string(model.SkipReasonCancelled)})
	return res
}

// predecessorIndex maps each step id to the id immediately before it in
// document order, the reference PreviousStepStatus compares against
// (spec.md §4.4). The first step maps to "".
func predecessorIndex(steps []config.Step) map[string]string {
	out := make(map[string]string, len(steps))
	prev := ""
	for _, step := range steps {
		out[step.ID] = prev
		prev = step.ID
	}
	return out
}
