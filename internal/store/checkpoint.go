package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/nextlevelbuilder/critward/internal/moderation"
)

const (
	bufferKeyPrefix = "buffer/"
	bufferIndexKey  = "buffer_index"
)

// CheckpointStore saves pending buffers across restarts so queued messages
// survive a crash before their evaluation fires. The KV has no range scan,
// so an explicit index key tracks which channels have checkpoints.
type CheckpointStore struct {
	mu sync.Mutex // serializes index read-modify-write
	kv KV
}

var _ moderation.CheckpointStore = (*CheckpointStore)(nil)

func NewCheckpointStore(kv KV) *CheckpointStore {
	return &CheckpointStore{kv: kv}
}

// SaveBuffer overwrites the checkpoint for channelID with the current
// pending sequence. An empty sequence still writes, so a drained buffer is
// not resurrected on restart.
func (s *CheckpointStore) SaveBuffer(ctx context.Context, channelID string, pending []moderation.Message) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("marshal buffer: %w", err)
	}
	if err := s.kv.Put(ctx, bufferKeyPrefix+channelID, data); err != nil {
		return fmt.Errorf("save buffer %q: %w", channelID, err)
	}
	return s.addToIndex(ctx, channelID)
}

// LoadBuffers returns every checkpointed pending sequence keyed by channel.
func (s *CheckpointStore) LoadBuffers(ctx context.Context) (map[string][]moderation.Message, error) {
	ids, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]moderation.Message, len(ids))
	for _, id := range ids {
		data, ok, err := s.kv.Get(ctx, bufferKeyPrefix+id)
		if err != nil {
			return nil, fmt.Errorf("load buffer %q: %w", id, err)
		}
		if !ok {
			continue
		}
		var pending []moderation.Message
		if err := json.Unmarshal(data, &pending); err != nil {
			continue
		}
		if len(pending) > 0 {
			out[id] = pending
		}
	}
	return out, nil
}

func (s *CheckpointStore) addToIndex(ctx context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.readIndex(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == channelID {
			return nil
		}
	}
	ids = append(ids, channelID)
	sort.Strings(ids)
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal buffer index: %w", err)
	}
	if err := s.kv.Put(ctx, bufferIndexKey, data); err != nil {
		return fmt.Errorf("save buffer index: %w", err)
	}
	return nil
}

func (s *CheckpointStore) readIndex(ctx context.Context) ([]string, error) {
	data, ok, err := s.kv.Get(ctx, bufferIndexKey)
	if err != nil {
		return nil, fmt.Errorf("load buffer index: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode buffer index: %w", err)
	}
	return ids, nil
}
