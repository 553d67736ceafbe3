package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nextlevelbuilder/critward/internal/moderation"
)

const (
	clusterKeyPrefix = "cluster/"
	flaggedMsgPrefix = "flagged_msg/"
)

// FlagStore persists dispatched clusters. One record per cluster key, plus a
// per-message index so later cycles can tell whether any message of a new
// cluster was already acted on.
type FlagStore struct {
	kv KV
}

var _ moderation.ClusterLog = (*FlagStore)(nil)

func NewFlagStore(kv KV) *FlagStore {
	return &FlagStore{kv: kv}
}

// IsDispatched reports whether a cluster with this exact id-set was already
// dispatched.
func (s *FlagStore) IsDispatched(ctx context.Context, clusterKey string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, clusterKeyPrefix+clusterKey)
	if err != nil {
		return false, fmt.Errorf("check cluster %q: %w", clusterKey, err)
	}
	return ok, nil
}

// AnyMessageFlagged reports whether any of the given messages belongs to a
// previously dispatched cluster.
func (s *FlagStore) AnyMessageFlagged(ctx context.Context, messageIDs []string) (bool, error) {
	for _, id := range messageIDs {
		_, ok, err := s.kv.Get(ctx, flaggedMsgPrefix+id)
		if err != nil {
			return false, fmt.Errorf("check message %q: %w", id, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// MarkDispatched records the cluster and indexes each of its messages.
func (s *FlagStore) MarkDispatched(ctx context.Context, rec moderation.FlagRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal flag record: %w", err)
	}
	if err := s.kv.Put(ctx, clusterKeyPrefix+rec.ClusterKey, data); err != nil {
		return fmt.Errorf("save cluster %q: %w", rec.ClusterKey, err)
	}
	for _, id := range rec.MessageIDs {
		if err := s.kv.Put(ctx, flaggedMsgPrefix+id, []byte(rec.ClusterKey)); err != nil {
			return fmt.Errorf("index message %q: %w", id, err)
		}
	}
	return nil
}

// Lookup returns the flag record containing messageID, or nil when the
// message was never part of a dispatched cluster.
func (s *FlagStore) Lookup(ctx context.Context, messageID string) (*moderation.FlagRecord, error) {
	key, ok, err := s.kv.Get(ctx, flaggedMsgPrefix+messageID)
	if err != nil {
		return nil, fmt.Errorf("resolve message %q: %w", messageID, err)
	}
	if !ok {
		return nil, nil
	}
	data, ok, err := s.kv.Get(ctx, clusterKeyPrefix+string(key))
	if err != nil {
		return nil, fmt.Errorf("load cluster %q: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	var rec moderation.FlagRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cluster %q: %w", key, err)
	}
	return &rec, nil
}
