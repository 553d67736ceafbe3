// Package classifier is the sole caller of the external completion API.
// It wraps timeouts, rate limiting, and retries around the flagging and
// feedback models and returns structured verdicts or typed failures.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/critward/internal/config"
	"github.com/nextlevelbuilder/critward/internal/moderation"
)

// Gateway talks to an OpenAI-compatible chat-completions endpoint.
type Gateway struct {
	client        *openai.Client
	model         string
	feedbackModel string
	temperature   float32
	timeout       time.Duration
	retry         RetryConfig
	limiter       *rate.Limiter
}

// NewGateway creates a classifier gateway from config.
func NewGateway(cfg config.ClassifierConfig) *Gateway {
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}

	retry := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries + 1
	}

	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	rpm := cfg.RateRPM
	if rpm <= 0 {
		rpm = 20
	}

	return &Gateway{
		client:        openai.NewClientWithConfig(cc),
		model:         cfg.Model,
		feedbackModel: cfg.FeedbackModel,
		temperature:   float32(cfg.Temperature),
		timeout:       timeout,
		retry:         retry,
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1),
	}
}

// Classify sends one evaluation request to the flagging model and returns a
// verdict whose cluster ids are guaranteed to reference request messages.
// Clusters naming unknown group indexes are protocol violations: they are
// dropped with a logged anomaly, never propagated.
func (g *Gateway) Classify(ctx context.Context, req *moderation.EvaluationRequest) (*moderation.Verdict, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Message: "rate limiter wait", Err: err}
	}

	tr := moderation.BuildTranscript(req)
	prompt := buildFlagPrompt(req, tr.Lines(), req.WaivedPeople)

	completion, err := g.complete(ctx, g.model, prompt, g.temperature)
	if err != nil {
		return nil, err
	}

	raw, err := parseResult(completion)
	if err != nil {
		return nil, err
	}

	verdict := &moderation.Verdict{}
	for _, rc := range raw {
		cluster := moderation.Cluster{Confidence: rc.Confidence, Rationale: rc.Rationale}
		valid := true
		for _, gid := range rc.Groups {
			grp := tr.Group(gid)
			if grp == nil {
				violation := &moderation.ProtocolViolation{
					CycleID: req.CycleID,
					Detail:  fmt.Sprintf("cluster references unknown group index %d", gid),
				}
				slog.Warn("dropping invalid cluster", "channel_id", req.ChannelID, "anomaly", violation)
				valid = false
				break
			}
			cluster.MessageIDs = append(cluster.MessageIDs, grp.IDs()...)
		}
		if valid && len(cluster.MessageIDs) > 0 {
			verdict.Clusters = append(verdict.Clusters, cluster)
		}
	}

	slog.Debug("classification complete",
		"channel_id", req.ChannelID,
		"cycle_id", req.CycleID,
		"groups", len(tr.Groups),
		"clusters", len(verdict.Clusters),
	)
	return verdict, nil
}

// ReplayResult is one flagged cluster over transcript group indexes, the
// shape corpus replay compares against stored labels.
type ReplayResult struct {
	Groups     []int
	Confidence float64
}

// Replay classifies a stored transcript snapshot. Used by corpus replay,
// where only group indexes matter and no live channel metadata exists.
func (g *Gateway) Replay(ctx context.Context, lines []string, waivedPeople []string) ([]ReplayResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTimeout, Message: "rate limiter wait", Err: err}
	}

	prompt := buildFlagPrompt(&moderation.EvaluationRequest{}, lines, waivedPeople)
	completion, err := g.complete(ctx, g.model, prompt, g.temperature)
	if err != nil {
		return nil, err
	}

	raw, err := parseResult(completion)
	if err != nil {
		return nil, err
	}

	out := make([]ReplayResult, 0, len(raw))
	for _, rc := range raw {
		out = append(out, ReplayResult{Groups: rc.Groups, Confidence: rc.Confidence})
	}
	return out, nil
}

// WriteFeedback generates the user-facing warning for a flagged cluster
// using the cheaper feedback model.
func (g *Gateway) WriteFeedback(ctx context.Context, transcript []string, indexes []int, guidelines string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", &Error{Kind: KindTimeout, Message: "rate limiter wait", Err: err}
	}

	prompt := buildFeedbackPrompt(transcript, indexes, guidelines)
	completion, err := g.complete(ctx, g.feedbackModel, prompt, 0.6)
	if err != nil {
		return "", err
	}
	return parseFeedback(completion)
}

// complete performs one chat completion with timeout and transient retries.
func (g *Gateway) complete(ctx context.Context, model, prompt string, temperature float32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	return RetryDo(ctx, g.retry, func() (string, error) {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Temperature: temperature,
		})
		if err != nil {
			return "", wrapAPIError(err)
		}
		if len(resp.Choices) == 0 {
			return "", &Error{Kind: KindMalformed, Message: "completion returned no choices"}
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// wrapAPIError maps transport and API failures onto the error taxonomy.
func wrapAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Message: "completion call deadline exceeded", Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return &Error{Kind: KindAuth, Message: "completion API rejected credentials", Err: err}
		case apiErr.HTTPStatusCode == 429:
			return &Error{Kind: KindRateLimited, Message: "completion API rate limit", Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &Error{Kind: KindTransient, Message: "completion API server error", Err: err}
		default:
			return &Error{Kind: KindMalformed, Message: fmt.Sprintf("completion API status %d", apiErr.HTTPStatusCode), Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Message: "network timeout", Err: err}
		}
		return &Error{Kind: KindTransient, Message: "network error", Err: err}
	}

	return &Error{Kind: KindTransient, Message: "completion call failed", Err: err}
}
