package moderation

import (
	"sync"
	"time"
)

// DefaultRingLimit bounds the per-channel context ring.
const DefaultRingLimit = 50

// ChannelBuffer holds the pending messages of one channel or thread awaiting
// evaluation, plus a bounded ring of recently seen messages used as context.
// One buffer per channel, created on first observed message.
//
// All mutation goes through the buffer's own mutex: Append (ingest side) and
// Drain (trigger side) are mutually exclusive, which is what keeps a message
// from appearing in two open evaluation requests at once.
type ChannelBuffer struct {
	mu sync.Mutex

	channelID string
	meta      ChannelMetadata

	pending []Message
	ring    []Message // recent messages including context-only ones (waived, bot)
	ringCap int

	lastEvalAt    time.Time
	lastEvalCount int
	seq           uint64 // drain counter
}

// NewChannelBuffer creates an empty buffer for a channel.
func NewChannelBuffer(channelID string, ringCap int) *ChannelBuffer {
	if ringCap <= 0 {
		ringCap = DefaultRingLimit
	}
	return &ChannelBuffer{channelID: channelID, ringCap: ringCap, lastEvalAt: time.Time{}}
}

// ChannelID returns the owning channel id.
func (b *ChannelBuffer) ChannelID() string { return b.channelID }

// SetMetadata records the latest known channel metadata.
func (b *ChannelBuffer) SetMetadata(meta ChannelMetadata) {
	b.mu.Lock()
	b.meta = meta
	b.mu.Unlock()
}

// Append adds a message to the pending sequence and the context ring.
// Context-only messages (waived authors, the bot itself) go to the ring but
// never occupy pending capacity or API budget.
func (b *ChannelBuffer) Append(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pushRing(msg)
	if msg.Waived || msg.FromBot {
		return
	}
	b.pending = append(b.pending, msg)
	if b.lastEvalAt.IsZero() {
		// Start the idle clock on the first pending message so a lone
		// suspicious message is eventually evaluated.
		b.lastEvalAt = msg.Timestamp
	}
}

// Seed records a historical message into the context ring only, without
// making it pending. Used for startup backfill and thread-parent context.
func (b *ChannelBuffer) Seed(msg Message) {
	b.mu.Lock()
	b.pushRing(msg)
	b.mu.Unlock()
}

func (b *ChannelBuffer) pushRing(msg Message) {
	b.ring = append(b.ring, msg)
	if len(b.ring) > b.ringCap {
		b.ring = b.ring[len(b.ring)-b.ringCap:]
	}
}

// Edit replaces a message in place (pending and ring) after a platform edit.
func (b *ChannelBuffer) Edit(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.pending {
		if b.pending[i].ID == msg.ID {
			b.pending[i] = msg
			break
		}
	}
	for i := range b.ring {
		if b.ring[i].ID == msg.ID {
			b.ring[i] = msg
			break
		}
	}
}

// Remove drops a deleted message from pending and ring.
func (b *ChannelBuffer) Remove(messageID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = removeByID(b.pending, messageID)
	b.ring = removeByID(b.ring, messageID)
}

func removeByID(msgs []Message, id string) []Message {
	for i := range msgs {
		if msgs[i].ID == id {
			return append(msgs[:i:i], msgs[i+1:]...)
		}
	}
	return msgs
}

// PendingCount returns the number of messages awaiting evaluation.
func (b *ChannelBuffer) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// PendingSnapshot copies the pending sequence (for checkpointing).
func (b *ChannelBuffer) PendingSnapshot() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.pending))
	copy(out, b.pending)
	return out
}

// MaybeFire reports whether an evaluation should fire now: the pending count
// reached countThreshold, or the buffer has been idle past timeThreshold with
// at least one pending message. The count bound caps end-to-end latency under
// volume; the time bound caps API spend when the channel is quiet.
func (b *ChannelBuffer) MaybeFire(now time.Time, countThreshold int, timeThreshold time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return false
	}
	if len(b.pending) >= countThreshold {
		return true
	}
	return !b.lastEvalAt.IsZero() && now.Sub(b.lastEvalAt) >= timeThreshold
}

// Drain atomically moves the pending sequence into a fresh EvaluationRequest
// and resets the buffer. Messages arriving concurrently land in the emptied
// pending slice and belong to the next cycle.
func (b *ChannelBuffer) Drain(now time.Time, contextLimit int) EvaluationRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := b.pending
	b.pending = nil
	b.lastEvalAt = now
	b.lastEvalCount = len(pending)
	b.seq++

	return EvaluationRequest{
		ChannelID: b.channelID,
		Meta:      b.meta,
		Context:   b.contextBeforeLocked(pending, contextLimit),
		Pending:   pending,
		DrainedAt: now,
		Seq:       b.seq,
	}
}

// contextBeforeLocked returns up to limit ring messages preceding the earliest
// pending message. Caller holds b.mu.
func (b *ChannelBuffer) contextBeforeLocked(pending []Message, limit int) []Message {
	if limit <= 0 || len(b.ring) == 0 {
		return nil
	}
	cutoff := time.Time{}
	pendingIDs := make(map[string]struct{}, len(pending))
	for _, m := range pending {
		pendingIDs[m.ID] = struct{}{}
		if cutoff.IsZero() || m.Timestamp.Before(cutoff) {
			cutoff = m.Timestamp
		}
	}

	var out []Message
	for _, m := range b.ring {
		if _, isPending := pendingIDs[m.ID]; isPending {
			continue
		}
		if !cutoff.IsZero() && !m.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, m)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Requeue puts messages from a failed evaluation cycle back at the front of
// pending, preserving order, so they are re-evaluated on the next trigger.
func (b *ChannelBuffer) Requeue(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	seen := make(map[string]struct{}, len(b.pending))
	for _, m := range b.pending {
		seen[m.ID] = struct{}{}
	}
	merged := make([]Message, 0, len(msgs)+len(b.pending))
	for _, m := range msgs {
		if _, dup := seen[m.ID]; !dup {
			merged = append(merged, m)
		}
	}
	b.pending = append(merged, b.pending...)
	if b.lastEvalAt.IsZero() && len(b.pending) > 0 {
		// Restored checkpoints land here before any drain; without an idle
		// clock the time trigger would never fire for them.
		b.lastEvalAt = b.pending[0].Timestamp
	}
}

// BotRepliedRecently reports whether one of the bot's own replies appears in
// the last n ring messages. A recent bot reply means the run was already
// addressed; re-moderating it would double-warn the same people.
func (b *ChannelBuffer) BotRepliedRecently(n int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	start := len(b.ring) - n
	if start < 0 {
		start = 0
	}
	for _, m := range b.ring[start:] {
		if m.FromBot && m.ReplyTo != "" {
			return true
		}
	}
	return false
}
