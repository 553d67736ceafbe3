// Package evaluation replays the stored corpus against the live classifier
// and reports per-example pass/fail, so prompt or model changes can be
// regression-checked from inside the chat.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/critward/internal/classifier"
	"github.com/nextlevelbuilder/critward/internal/moderation"
	"github.com/nextlevelbuilder/critward/internal/store"
)

// Replayer classifies a stored transcript snapshot.
type Replayer interface {
	Replay(ctx context.Context, lines []string, waivedPeople []string) ([]classifier.ReplayResult, error)
}

// CaseResult is the outcome of replaying one corpus example.
type CaseResult struct {
	ExampleID  string
	RelativeID int
	Expected   string // moderation.LabelFlagged or LabelClean
	Flagged    bool   // classifier flagged the example's group this run
	Passed     bool
	Err        error
}

// Report aggregates one full corpus replay.
type Report struct {
	Total   int
	Passed  int
	Skipped int // examples without a transcript snapshot
	Cases   []CaseResult
}

// PassRate returns the fraction of replayed cases that passed.
func (r *Report) PassRate() float64 {
	if n := r.Total - r.Skipped; n > 0 {
		return float64(r.Passed) / float64(n)
	}
	return 0
}

// Runner replays the evaluation corpus.
type Runner struct {
	replayer  Replayer
	examples  *store.EvalStore
	threshold func() float64
}

// NewRunner creates a corpus replay runner. threshold is read per run so a
// moderator adjusting the engine's knob affects the next replay, not just
// the next restart; pass the engine's Threshold method, or FixedThreshold
// when there is no live engine.
func NewRunner(replayer Replayer, examples *store.EvalStore, threshold func() float64) *Runner {
	return &Runner{replayer: replayer, examples: examples, threshold: threshold}
}

// FixedThreshold adapts a constant confidence threshold for NewRunner.
func FixedThreshold(v float64) func() float64 {
	return func() float64 { return v }
}

// Run replays every corpus example and returns the aggregated report. A
// classifier failure fails that case rather than aborting the run.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	examples, err := r.examples.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	report := &Report{Total: len(examples)}
	for _, ex := range examples {
		if len(ex.ContextWindow) == 0 {
			report.Skipped++
			continue
		}
		res := r.replayCase(ctx, ex)
		if res.Passed {
			report.Passed++
		}
		report.Cases = append(report.Cases, res)
		slog.Debug("replayed corpus example",
			"example_id", ex.ID, "passed", res.Passed, "error", res.Err)
	}
	return report, nil
}

func (r *Runner) replayCase(ctx context.Context, ex moderation.EvaluationExample) CaseResult {
	res := CaseResult{
		ExampleID:  ex.ID,
		RelativeID: ex.RelativeID,
		Expected:   ex.Label,
	}

	results, err := r.replayer.Replay(ctx, ex.ContextWindow, ex.WaivedPeople)
	if err != nil {
		res.Err = err
		return res
	}

	threshold := r.threshold()
	for _, rc := range results {
		if rc.Confidence < threshold {
			continue
		}
		for _, gid := range rc.Groups {
			if gid == ex.RelativeID {
				res.Flagged = true
			}
		}
	}

	res.Passed = res.Flagged == (ex.Label == moderation.LabelFlagged)
	return res
}

// Markdown renders the report in the format posted to the log channel.
func (r *Report) Markdown() string {
	var sb strings.Builder
	sb.WriteString("# Evaluation Results\n\n")
	fmt.Fprintf(&sb, "Total Cases: %d\n", r.Total)
	fmt.Fprintf(&sb, "Passed: %d\n", r.Passed)
	fmt.Fprintf(&sb, "Failed: %d\n", r.Total-r.Skipped-r.Passed)
	if r.Skipped > 0 {
		fmt.Fprintf(&sb, "Skipped (no transcript): %d\n", r.Skipped)
	}
	fmt.Fprintf(&sb, "Pass rate: %.2f%%\n\n", r.PassRate()*100)

	sb.WriteString("## Detailed Results\n\n")
	for _, c := range r.Cases {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&sb, "- `%s` [%s] expected=%s flagged=%t", c.ExampleID, status, c.Expected, c.Flagged)
		if c.Err != nil {
			fmt.Fprintf(&sb, " error=%v", c.Err)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
