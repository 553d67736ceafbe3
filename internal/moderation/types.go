// Package moderation implements the feedback-moderation decision pipeline:
// per-channel message buffering, hybrid count/time trigger scheduling,
// confidence-gated decisions, idempotent action dispatch, and the
// evaluation corpus feedback loop.
package moderation

import (
	"sort"
	"strings"
	"time"
)

// Message is a normalized chat message. Immutable once created; owned by a
// ChannelBuffer until consumed by an evaluation cycle.
type Message struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channel_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Text       string    `json:"text"`
	Waived     bool      `json:"waived,omitempty"`
	FromBot    bool      `json:"from_bot,omitempty"`
	ReplyTo    string    `json:"reply_to,omitempty"`
}

// ChannelMetadata describes the channel an evaluation request came from,
// so the classifier can disambiguate intent (critique channel vs general).
type ChannelMetadata struct {
	Name        string `json:"name,omitempty"`
	Topic       string `json:"topic,omitempty"`
	ForumParent string `json:"forum_parent,omitempty"`
}

// EvaluationRequest is the payload for one classification cycle.
// Constructed fresh per trigger firing; never persisted.
type EvaluationRequest struct {
	CycleID   string
	ChannelID string
	Meta      ChannelMetadata
	Context   []Message // read-only history preceding the pending block
	Pending   []Message // messages drained from the buffer
	DrainedAt time.Time
	Seq       uint64 // per-channel drain sequence, for FIFO assertions

	// WaivedPeople is the display-name list of opted-out authors, stamped
	// from the waiver snapshot just before classification.
	WaivedPeople []string
}

// AllIDs returns the union of context and pending message ids.
func (r *EvaluationRequest) AllIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(r.Context)+len(r.Pending))
	for _, m := range r.Context {
		ids[m.ID] = struct{}{}
	}
	for _, m := range r.Pending {
		ids[m.ID] = struct{}{}
	}
	return ids
}

// Cluster is a subset of messages judged together as one instance of
// unconstructive or unsolicited feedback.
type Cluster struct {
	MessageIDs []string `json:"message_ids"`
	Confidence float64  `json:"confidence"`
	Rationale  string   `json:"rationale,omitempty"`
}

// Key returns the cluster identity: the sorted message-id set joined with
// commas. Dispatch idempotency and stale-verdict suppression key on it.
func (c Cluster) Key() string {
	ids := make([]string, len(c.MessageIDs))
	copy(ids, c.MessageIDs)
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

// Verdict is the structured classifier output for one EvaluationRequest.
type Verdict struct {
	Clusters []Cluster `json:"clusters"`
}

// DecisionState is the terminal state of a proposed cluster.
type DecisionState string

const (
	StateAccepted      DecisionState = "accepted"
	StateRejectedLow   DecisionState = "rejected-low-confidence"
	StateRejectedWaive DecisionState = "rejected-waived"
)

// Decision is the policy outcome for one cluster. One Decision per cluster
// in a Verdict; a cluster is decided exactly once and never re-entered.
type Decision struct {
	Cluster   Cluster
	ChannelID string
	State     DecisionState
	Reason    string
}

// Accepted reports whether this decision should be dispatched.
func (d Decision) Accepted() bool { return d.State == StateAccepted }

// Evaluation corpus labels.
const (
	LabelFlagged = "flagged"
	LabelClean   = "clean"
)

// Evaluation corpus entry sources.
const (
	SourceAutoAccepted       = "auto-accepted"
	SourceModeratorConfirmed = "moderator-confirmed"
	SourceModeratorAddedMiss = "moderator-added-miss"
)

// EvaluationExample is one labeled entry of the evaluation corpus.
// Append-only; never mutated after creation.
type EvaluationExample struct {
	ID            string    `json:"id"`
	MessageIDs    []string  `json:"message_ids"`
	MessageTexts  []string  `json:"message_texts"`
	ContextWindow []string  `json:"context_window,omitempty"` // formatted transcript for replay
	WaivedPeople  []string  `json:"waived_people,omitempty"`
	RelativeID    int       `json:"relative_id"` // group index within ContextWindow, for replay
	Label         string    `json:"expected_label"`
	Source        string    `json:"source"`
	CreatedAt     time.Time `json:"created_at"`
}
