package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/critward/internal/bus"
)

// ExampleStore is the append-only evaluation corpus.
type ExampleStore interface {
	Record(ctx context.Context, ex EvaluationExample) error
}

// FlagRecord is the persisted trace of a dispatched cluster. It doubles as
// the dispatch idempotency record and the snapshot moderator feedback and
// corpus replay are built from.
type FlagRecord struct {
	ClusterKey   string    `json:"cluster_key"`
	ChannelID    string    `json:"channel_id"`
	MessageIDs   []string  `json:"message_ids"`
	AuthorIDs    []string  `json:"author_ids"`
	Texts        []string  `json:"texts"`
	Transcript   []string  `json:"transcript,omitempty"` // formatted context window
	WaivedPeople []string  `json:"waived_people,omitempty"`
	RelativeID   int       `json:"relative_id"`
	Confidence   float64   `json:"confidence"`
	Reason       string    `json:"reason,omitempty"`
	FlaggedAt    time.Time `json:"flagged_at"`
}

// ClusterLog persists dispatched clusters for idempotency and feedback.
type ClusterLog interface {
	IsDispatched(ctx context.Context, clusterKey string) (bool, error)
	AnyMessageFlagged(ctx context.Context, messageIDs []string) (bool, error)
	MarkDispatched(ctx context.Context, rec FlagRecord) error
	Lookup(ctx context.Context, messageID string) (*FlagRecord, error)
}

// Engine is the policy layer between classifier verdicts and actions. It
// applies the waiver filter and the confidence threshold, suppresses stale
// clusters, and feeds accepted decisions into the evaluation corpus.
type Engine struct {
	thresholdBits atomic.Uint64 // math.Float64bits of the confidence threshold
	examples      ExampleStore
	clusters      ClusterLog
}

// NewEngine creates a decision engine with the given confidence threshold.
func NewEngine(threshold float64, examples ExampleStore, clusters ClusterLog) *Engine {
	e := &Engine{examples: examples, clusters: clusters}
	e.SetThreshold(threshold)
	return e
}

// Threshold returns the current confidence threshold.
func (e *Engine) Threshold() float64 {
	return math.Float64frombits(e.thresholdBits.Load())
}

// SetThreshold adjusts the precision/recall knob at runtime.
func (e *Engine) SetThreshold(t float64) {
	e.thresholdBits.Store(math.Float64bits(t))
}

// Decide converts a verdict into one terminal Decision per cluster. Pure:
// the same verdict and waiver snapshot always yield the same decisions.
// Order of checks matters — fully waived clusters are invisible to
// moderation and are dropped before the confidence gate even looks at them.
// Clusters referencing ids outside the request are a protocol violation and
// produce no Decision at all.
func (e *Engine) Decide(verdict Verdict, req *EvaluationRequest, waivers WaiverSnapshot) []Decision {
	msgs := messagesByID(req)
	threshold := e.Threshold()

	decisions := make([]Decision, 0, len(verdict.Clusters))
	for _, cl := range verdict.Clusters {
		if id, ok := unknownID(cl.MessageIDs, msgs); !ok {
			slog.Warn("cluster references unknown message id, dropping",
				"cluster", cl.Key(), "id", id)
			continue
		}
		d := Decision{Cluster: cl, ChannelID: req.ChannelID}
		switch {
		case allWaived(cl.MessageIDs, msgs, waivers):
			d.State = StateRejectedWaive
			d.Reason = "every author in cluster holds the waiver role"
		case cl.Confidence < threshold:
			d.State = StateRejectedLow
			d.Reason = fmt.Sprintf("confidence %.2f below threshold %.2f", cl.Confidence, threshold)
		default:
			d.State = StateAccepted
		}
		decisions = append(decisions, d)
	}
	return decisions
}

func messagesByID(req *EvaluationRequest) map[string]Message {
	out := make(map[string]Message, len(req.Context)+len(req.Pending))
	for _, m := range req.Context {
		out[m.ID] = m
	}
	for _, m := range req.Pending {
		out[m.ID] = m
	}
	return out
}

// unknownID returns the first id absent from the request, and whether every
// id resolved.
func unknownID(ids []string, msgs map[string]Message) (string, bool) {
	for _, id := range ids {
		if _, ok := msgs[id]; !ok {
			return id, false
		}
	}
	return "", true
}

// allWaived reports whether every message in the cluster has a waived
// author. The per-message flag captured at ingest counts as waived even
// when the role snapshot has not seen the author yet — the snapshot only
// learns about authors from role-change events after startup.
func allWaived(ids []string, msgs map[string]Message, waivers WaiverSnapshot) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		m := msgs[id]
		if !m.Waived && !waivers.Contains(m.AuthorID) {
			return false
		}
	}
	return true
}

// FilterStale drops accepted decisions whose cluster, or any of whose
// messages, was already dispatched by an earlier cycle. This is what makes
// overlapping verdicts from concurrent drains safe.
func (e *Engine) FilterStale(ctx context.Context, decisions []Decision) []Decision {
	kept := decisions[:0]
	for _, d := range decisions {
		if !d.Accepted() {
			kept = append(kept, d)
			continue
		}
		if done, err := e.clusters.IsDispatched(ctx, d.Cluster.Key()); err == nil && done {
			slog.Debug("cluster already dispatched, dropping", "cluster", d.Cluster.Key())
			continue
		}
		if flagged, err := e.clusters.AnyMessageFlagged(ctx, d.Cluster.MessageIDs); err == nil && flagged {
			slog.Debug("cluster overlaps a previously flagged message, dropping stale verdict",
				"cluster", d.Cluster.Key())
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

// RecordAccepted appends an auto-accepted corpus entry for a dispatched
// decision. The transcript snapshot lets the eval command replay the case.
func (e *Engine) RecordAccepted(ctx context.Context, d Decision, req *EvaluationRequest, waivers WaiverSnapshot) error {
	tr := BuildTranscript(req)
	ex := EvaluationExample{
		ID:            uuid.NewString(),
		MessageIDs:    d.Cluster.MessageIDs,
		MessageTexts:  textsFor(d.Cluster.MessageIDs, req),
		ContextWindow: tr.Lines(),
		WaivedPeople:  waivers.Names(),
		RelativeID:    clusterRelativeID(d.Cluster, tr),
		Label:         LabelFlagged,
		Source:        SourceAutoAccepted,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.examples.Record(ctx, ex); err != nil {
		return fmt.Errorf("record evaluation example: %w", err)
	}
	return nil
}

// RecordModeratorFeedback appends a corpus entry for a manual moderator
// verdict. History is immutable: prior decisions and examples are untouched.
func (e *Engine) RecordModeratorFeedback(ctx context.Context, action bus.ModeratorAction) error {
	var label, source string
	switch action.Verdict {
	case bus.ModeratorConfirm:
		label, source = LabelFlagged, SourceModeratorConfirmed
	case bus.ModeratorOverride:
		label, source = LabelClean, SourceModeratorConfirmed
	case bus.ModeratorAddMiss:
		label, source = LabelFlagged, SourceModeratorAddedMiss
	default:
		return fmt.Errorf("unknown moderator verdict %q", action.Verdict)
	}

	ex := EvaluationExample{
		ID:         uuid.NewString(),
		MessageIDs: action.MessageIDs,
		RelativeID: -1,
		Label:      label,
		Source:     source,
		CreatedAt:  time.Now().UTC(),
	}

	// Best effort: pull the snapshot from the dispatched-cluster record so
	// the case can be replayed by the eval command.
	for _, id := range action.MessageIDs {
		rec, err := e.clusters.Lookup(ctx, id)
		if err != nil || rec == nil {
			continue
		}
		ex.MessageTexts = rec.Texts
		ex.ContextWindow = rec.Transcript
		ex.WaivedPeople = rec.WaivedPeople
		ex.RelativeID = rec.RelativeID
		break
	}

	if err := e.examples.Record(ctx, ex); err != nil {
		return fmt.Errorf("record moderator feedback: %w", err)
	}
	slog.Info("moderator feedback recorded",
		"verdict", action.Verdict, "label", label, "messages", len(action.MessageIDs))
	return nil
}

func textsFor(ids []string, req *EvaluationRequest) []string {
	byID := make(map[string]string, len(req.Context)+len(req.Pending))
	for _, m := range req.Context {
		byID[m.ID] = m.Text
	}
	for _, m := range req.Pending {
		byID[m.ID] = m.Text
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// clusterRelativeID returns the transcript group index holding the cluster's
// first message, or -1 when the cluster spans no known group.
func clusterRelativeID(cl Cluster, tr Transcript) int {
	if len(cl.MessageIDs) == 0 {
		return -1
	}
	for _, g := range tr.Groups {
		if containsID(g.Messages, cl.MessageIDs[0]) {
			return g.RelativeID
		}
	}
	return -1
}
