package moderation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// HistoryFetcher retrieves channel history older than a point in time from
// the platform collaborator. Implementations may fail freely: the assembler
// degrades to whatever context it already has.
type HistoryFetcher interface {
	History(ctx context.Context, channelID string, before time.Time, limit int) ([]Message, error)
}

// Assembler completes a drained buffer into a classifiable request: it tops
// up the context window from platform history when the local ring is short
// and stamps the cycle id. Pure apart from the optional history fetch.
type Assembler struct {
	fetcher      HistoryFetcher // nil disables remote top-up
	contextLimit int
}

// NewAssembler creates a context assembler.
func NewAssembler(fetcher HistoryFetcher, contextLimit int) *Assembler {
	return &Assembler{fetcher: fetcher, contextLimit: contextLimit}
}

// Assemble finalizes req for classification. A failed history fetch is logged
// and ignored — degraded context beats a blocked pipeline.
func (a *Assembler) Assemble(ctx context.Context, req EvaluationRequest) EvaluationRequest {
	req.CycleID = uuid.NewString()

	missing := a.contextLimit - len(req.Context)
	if a.fetcher == nil || missing <= 0 || len(req.Pending) == 0 {
		return req
	}

	before := req.Pending[0].Timestamp
	if len(req.Context) > 0 {
		before = req.Context[0].Timestamp
	}

	older, err := a.fetcher.History(ctx, req.ChannelID, before, missing)
	if err != nil {
		slog.Warn("history fetch failed, proceeding with local context",
			"channel_id", req.ChannelID, "cycle_id", req.CycleID, "error", err)
		return req
	}

	if len(older) > 0 {
		req.Context = append(older, req.Context...)
		if len(req.Context) > a.contextLimit {
			req.Context = req.Context[len(req.Context)-a.contextLimit:]
		}
	}
	return req
}
