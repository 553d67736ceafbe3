package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/critward/internal/moderation"
)

const evalLogKey = "eval_examples"

// EvalStore is the append-only evaluation corpus. Examples are never updated
// or deleted; moderator feedback appends new labeled entries instead.
type EvalStore struct {
	kv KV
}

var _ moderation.ExampleStore = (*EvalStore)(nil)

func NewEvalStore(kv KV) *EvalStore {
	return &EvalStore{kv: kv}
}

// Record appends an example to the corpus.
func (s *EvalStore) Record(ctx context.Context, ex moderation.EvaluationExample) error {
	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal example: %w", err)
	}
	if err := s.kv.Append(ctx, evalLogKey, data); err != nil {
		return fmt.Errorf("append example: %w", err)
	}
	return nil
}

// All returns the full corpus in append order. Entries that fail to decode
// are skipped rather than aborting the read; a corrupt row should not make
// the rest of the corpus unreachable.
func (s *EvalStore) All(ctx context.Context) ([]moderation.EvaluationExample, error) {
	rows, err := s.kv.ReadLog(ctx, evalLogKey)
	if err != nil {
		return nil, fmt.Errorf("read corpus: %w", err)
	}
	out := make([]moderation.EvaluationExample, 0, len(rows))
	for _, row := range rows {
		var ex moderation.EvaluationExample
		if err := json.Unmarshal(row, &ex); err != nil {
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}
