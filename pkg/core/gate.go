package core

// GateDecision states whether a reconciliation pass may proceed.
type GateDecision string

const (
	// DecisionProceed allows the pass to continue.
	DecisionProceed GateDecision = "proceed"
	// DecisionDefer stops the pass; the triggering event must be redelivered.
	DecisionDefer GateDecision = "defer"
	// DecisionBlock stops the pass; only operator action can unblock it, so
	// the event must not be retried automatically.
	DecisionBlock GateDecision = "block"
)

// GateResult is the outcome of the ordered readiness checks.
type GateResult struct {
	Decision GateDecision
	Reason   string
}

// Proceed reports a passed gate.
func Proceed() GateResult {
	return GateResult{Decision: DecisionProceed}
}

// Defer reports a transient failure that future events will resolve.
func Defer(reason string) GateResult {
	return GateResult{Decision: DecisionDefer, Reason: reason}
}

// Block reports a failure that requires external operator action.
func Block(reason string) GateResult {
	return GateResult{Decision: DecisionBlock, Reason: reason}
}

// UnitState is the coarse state surfaced to the orchestration layer.
type UnitState string

const (
	StateActive  UnitState = "active"
	StateWaiting UnitState = "waiting"
	StateBlocked UnitState = "blocked"
)

// UnitStatus pairs a state with its human readable reason.
type UnitStatus struct {
	State   UnitState
	Message string
}
