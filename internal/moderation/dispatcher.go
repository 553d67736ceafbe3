package moderation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Actions is the outbound platform boundary. All calls are fire-and-forget
// from the pipeline's perspective; the collaborator owns best-effort retry.
type Actions interface {
	PostLog(ctx context.Context, content string) error
	React(ctx context.Context, channelID, messageID, emoji string) error
	Reply(ctx context.Context, channelID, messageID, content string) error
	// MessageLink renders a moderator-clickable link to a message.
	MessageLink(channelID, messageID string) string
}

// FeedbackWriter generates the user-facing warning text for a flagged
// cluster. Implemented by the classifier gateway's feedback model.
type FeedbackWriter interface {
	WriteFeedback(ctx context.Context, transcript []string, indexes []int, guidelines string) (string, error)
}

// DispatcherConfig selects which side effects accepted decisions produce.
// Rendering and reaction-target policy live here, not in the engine, so they
// can be swapped without touching decision logic.
type DispatcherConfig struct {
	LogOnly         bool   // suppress public replies, log channel only
	ReactWhenSilent bool   // add ReactionEmoji to the newest flagged message in LogOnly mode
	ReactionEmoji   string
	Guidelines      string // community policy quoted in generated warnings
}

// Dispatcher turns accepted decisions into platform side effects, exactly
// once per cluster identity.
type Dispatcher struct {
	actions  Actions
	feedback FeedbackWriter // nil disables generated replies
	clusters ClusterLog
	cfg      DispatcherConfig
}

// NewDispatcher creates an action dispatcher.
func NewDispatcher(actions Actions, feedback FeedbackWriter, clusters ClusterLog, cfg DispatcherConfig) *Dispatcher {
	if cfg.ReactionEmoji == "" {
		cfg.ReactionEmoji = "👁️"
	}
	return &Dispatcher{actions: actions, feedback: feedback, clusters: clusters, cfg: cfg}
}

// Dispatch emits the side effects for one decision. Rejected decisions emit
// nothing. Idempotent per cluster key: a cluster already recorded as
// dispatched produces no second effect even if upstream retries the same
// verdict.
func (d *Dispatcher) Dispatch(ctx context.Context, dec Decision, req *EvaluationRequest, waivers WaiverSnapshot) error {
	if !dec.Accepted() {
		return nil
	}

	key := dec.Cluster.Key()
	if done, err := d.clusters.IsDispatched(ctx, key); err != nil {
		return fmt.Errorf("check dispatched: %w", err)
	} else if done {
		slog.Debug("dispatch skipped, cluster already handled", "cluster", key)
		return nil
	}

	tr := BuildTranscript(req)
	relID := clusterRelativeID(dec.Cluster, tr)
	texts := textsFor(dec.Cluster.MessageIDs, req)
	newestID := dec.Cluster.MessageIDs[len(dec.Cluster.MessageIDs)-1]

	var reason string
	if !d.cfg.LogOnly && d.feedback != nil {
		var err error
		reason, err = d.feedback.WriteFeedback(ctx, tr.Lines(), []int{relID}, d.cfg.Guidelines)
		if err != nil {
			slog.Warn("feedback generation failed, falling back to log-only",
				"cluster", key, "error", err)
		}
	}

	// The log entry is unconditional for accepted decisions.
	if err := d.actions.PostLog(ctx, d.renderLog(dec, req, texts)); err != nil {
		return &DispatchFailure{ClusterKey: key, Err: err}
	}

	rec := FlagRecord{
		ClusterKey:   key,
		ChannelID:    req.ChannelID,
		MessageIDs:   dec.Cluster.MessageIDs,
		AuthorIDs:    authorIDsFor(dec.Cluster.MessageIDs, req),
		Texts:        texts,
		Transcript:   tr.Lines(),
		WaivedPeople: waivers.Names(),
		RelativeID:   relID,
		Confidence:   dec.Cluster.Confidence,
		Reason:       reason,
		FlaggedAt:    time.Now().UTC(),
	}
	if err := d.clusters.MarkDispatched(ctx, rec); err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}

	// Public affordances are best effort; their failure never undoes the log.
	switch {
	case reason != "":
		if err := d.actions.Reply(ctx, req.ChannelID, newestID, reason); err != nil {
			slog.Warn("reply failed", "cluster", key, "error", err)
		}
	case d.cfg.LogOnly && d.cfg.ReactWhenSilent:
		if err := d.actions.React(ctx, req.ChannelID, newestID, d.cfg.ReactionEmoji); err != nil {
			slog.Warn("reaction failed", "cluster", key, "error", err)
		}
	}

	slog.Info("cluster dispatched",
		"channel_id", req.ChannelID,
		"cluster", key,
		"confidence", dec.Cluster.Confidence,
		"messages", len(dec.Cluster.MessageIDs),
	)
	return nil
}

func (d *Dispatcher) renderLog(dec Decision, req *EvaluationRequest, texts []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Flagged cluster (confidence %.2f)\n", dec.Cluster.Confidence)
	for i, id := range dec.Cluster.MessageIDs {
		text := ""
		if i < len(texts) {
			text = Truncate(texts[i], 200)
		}
		fmt.Fprintf(&sb, "%s\n```%s```\n", d.actions.MessageLink(req.ChannelID, id), text)
	}
	if dec.Cluster.Rationale != "" {
		fmt.Fprintf(&sb, "Rationale: %s", Truncate(dec.Cluster.Rationale, 500))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func authorIDsFor(ids []string, req *EvaluationRequest) []string {
	byID := messagesByID(req)
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id].AuthorID)
	}
	return out
}

// Truncate shortens s to max runes, appending an ellipsis when cut.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
