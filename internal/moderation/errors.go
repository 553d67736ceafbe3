package moderation

import "fmt"

// ProtocolViolation marks a classifier response that breaks the contract,
// e.g. a cluster referencing a message id absent from the request. Violating
// clusters are dropped and logged; the pipeline keeps running.
type ProtocolViolation struct {
	CycleID string
	Detail  string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("classifier protocol violation (cycle %s): %s", e.CycleID, e.Detail)
}

// DispatchFailure wraps a platform-side send failure. Retried best-effort by
// the collaborator; never surfaced as a pipeline failure.
type DispatchFailure struct {
	ClusterKey string
	Err        error
}

func (e *DispatchFailure) Error() string {
	return fmt.Sprintf("dispatch cluster %s: %v", e.ClusterKey, e.Err)
}

func (e *DispatchFailure) Unwrap() error { return e.Err }
