// Package events implements the ordered, single-producer multi-consumer
// event stream the Executor uses to report progress (spec.md §2, §6).
package events

import (
	"sync"

	"github.com/alexisbeaulieu97/loomwork/internal/logger"
	"github.com/alexisbeaulieu97/loomwork/internal/model"
)

// Kind identifies the shape of an Event (spec.md §6).
type Kind string

const (
	StepStarted   Kind = "step_started"
	StepRetrying  Kind = "step_retrying"
	StepSucceeded Kind = "step_succeeded"
	StepFailed    Kind = "step_failed"
	StepCached    Kind = "step_cached"
	StepSkipped   Kind = "step_skipped"
	WorkflowDone  Kind = "workflow_done"
)

// previewLimit bounds step_succeeded/step_cached output_preview (spec.md §6
// "preview bounded, e.g., first 1 KiB").
const previewLimit = 1024

// Event is the tagged record carried over the Stream (spec.md §6). Besides
// Kind and StepID, each kind populates only its own fields: StepStarted sets
// Plugin; StepRetrying sets Attempt, MaxAttempts and LastError; StepSucceeded
// and StepCached set Preview; StepFailed sets Error; StepSkipped sets Reason;
// WorkflowDone sets Summary and leaves StepID empty.
type Event struct {
	Kind        Kind
	StepID      string
	Plugin      string
	Attempt     int
	MaxAttempts int
	LastError   string
	Preview     string
	Error       string
	Reason      string
	Summary     *model.Summary
}

// Preview truncates s to the spec's bounded preview length.
func Preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit]
}

const subscriberBuffer = 64

// Stream is a single-producer, multi-consumer fan-out of Events. The
// Executor is the sole producer (spec.md §2); every subscriber gets its own
// buffered channel so a slow consumer cannot stall the run.
type Stream struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	log    *logger.Logger
}

// NewStream creates an empty Stream. log may be nil; every published event
// is also mirrored to it at debug level when present (spec.md §4.6,
// "ambient stack, carried regardless of the GUI non-goal").
func NewStream(log *logger.Logger) *Stream {
	return &Stream{subs: make(map[int]chan Event), log: log}
}

// Subscribe returns a receive-only channel of future events and an
// unsubscribe function. The channel is never closed by Publish; callers
// should stop reading once they observe a WorkflowDone event and then call
// the returned func to release the subscription.
func (s *Stream) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
	}
	return ch, unsubscribe
}

// Publish fans e out to every current subscriber and mirrors it to the
// logger. A subscriber whose buffer is full drops the event rather than
// blocking the Executor (spec.md §5 ordering guarantees bind the producer's
// emission order, not a slow consumer's delivery).
func (s *Stream) Publish(e Event) {
	if s == nil {
		return
	}
	s.mu.Lock()
	subs := make([]chan Event, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}

	s.logEvent(e)
}

func (s *Stream) logEvent(e Event) {
	if s.log == nil {
		return
	}
	fields := map[string]any{"kind": string(e.Kind), "step_id": e.StepID}
	if e.Plugin != "" {
		fields["plugin"] = e.Plugin
	}
	if e.Attempt > 0 {
		fields["attempt"] = e.Attempt
		fields["max_attempts"] = e.MaxAttempts
	}
	if e.Reason != "" {
		fields["reason"] = e.Reason
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	s.log.WithFields(fields).Debug("event")
}
