package adapters

import (
	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/tools/record"

	"ausfoperator/pkg/core"
)

// EventEmitter wraps a Kubernetes EventRecorder to provide high level
// helpers for operator state transitions.
type EventEmitter struct {
	recorder record.EventRecorder
	pod      *corev1.Pod
}

// NewEventEmitter constructs an EventEmitter attached to the operator pod.
func NewEventEmitter(recorder record.EventRecorder, pod *corev1.Pod) *EventEmitter {
	return &EventEmitter{recorder: recorder, pod: pod}
}

// EmitStatus records a unit status transition.
func (emitter *EventEmitter) EmitStatus(status core.UnitStatus) {
	if emitter == nil || emitter.recorder == nil || emitter.pod == nil {
		return
	}

	switch status.State {
	case core.StateActive:
		emitter.recorder.Event(emitter.pod, corev1.EventTypeNormal, "Active", "workload configured and running")
	case core.StateWaiting:
		emitter.recorder.Eventf(emitter.pod, corev1.EventTypeNormal, "Waiting", "waiting: %s", status.Message)
	case core.StateBlocked:
		emitter.recorder.Eventf(emitter.pod, corev1.EventTypeWarning, "Blocked", "blocked: %s", status.Message)
	}
}

// EmitRestart records a workload service restart.
func (emitter *EventEmitter) EmitRestart(service string) {
	if emitter == nil || emitter.recorder == nil || emitter.pod == nil {
		return
	}
	emitter.recorder.Eventf(emitter.pod, corev1.EventTypeNormal, "ServiceRestarted", "restarted service %s", service)
}

// EmitError records a reconciliation failure.
func (emitter *EventEmitter) EmitError(err error) {
	if emitter == nil || emitter.recorder == nil || emitter.pod == nil || err == nil {
		return
	}
	emitter.recorder.Eventf(emitter.pod, corev1.EventTypeWarning, "ReconcileError", "reconciliation failed: %v", err)
}
