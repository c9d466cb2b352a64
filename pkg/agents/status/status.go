package status

import (
	"sync"

	"github.com/go-logr/logr"

	"ausfoperator/pkg/core"
	"ausfoperator/pkg/observability/metrics"
)

// Recorder receives status transitions for external surfacing (Kubernetes
// Events). May be nil.
type Recorder interface {
	EmitStatus(status core.UnitStatus)
}

// Tracker holds the unit status surfaced to the orchestration layer and
// records transitions exactly once.
type Tracker struct {
	mutex    sync.Mutex
	current  core.UnitStatus
	logger   logr.Logger
	recorder Recorder
}

// NewTracker starts in the waiting state, before the first pass has run.
func NewTracker(logger logr.Logger, recorder Recorder) *Tracker {
	return &Tracker{
		current:  core.UnitStatus{State: core.StateWaiting, Message: "Waiting for initial reconciliation"},
		logger:   logger,
		recorder: recorder,
	}
}

// Set transitions to the given status. Re-setting the current status is a
// no-op so retried passes do not spam the log or the event stream.
func (tracker *Tracker) Set(state core.UnitState, message string) {
	next := core.UnitStatus{State: state, Message: message}

	tracker.mutex.Lock()
	if tracker.current == next {
		tracker.mutex.Unlock()
		return
	}
	previous := tracker.current
	tracker.current = next
	tracker.mutex.Unlock()

	tracker.logger.Info("unit status changed",
		"from", string(previous.State),
		"to", string(next.State),
		"message", next.Message,
	)

	metrics.SetUnitState(next.State)

	if tracker.recorder != nil {
		tracker.recorder.EmitStatus(next)
	}
}

// Current returns the status as last set.
func (tracker *Tracker) Current() core.UnitStatus {
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()

	return tracker.current
}
