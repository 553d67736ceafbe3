package moderation

import (
	"fmt"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func msg(id, author string, ts time.Time) Message {
	return Message{ID: id, ChannelID: "ch1", AuthorID: author, AuthorName: author, Timestamp: ts, Text: "text " + id}
}

func TestBufferCountTrigger(t *testing.T) {
	b := NewChannelBuffer("ch1", 50)
	now := t0

	for i := 0; i < 4; i++ {
		b.Append(msg(fmt.Sprintf("m%d", i), "alice", now))
		now = now.Add(time.Second)
	}
	if b.MaybeFire(now, 5, time.Minute) {
		t.Fatal("fired below count threshold")
	}

	b.Append(msg("m4", "alice", now))
	if !b.MaybeFire(now, 5, time.Minute) {
		t.Fatal("did not fire at count threshold")
	}
}

func TestBufferTimeTrigger(t *testing.T) {
	b := NewChannelBuffer("ch1", 50)

	if b.MaybeFire(t0.Add(time.Hour), 10, time.Minute) {
		t.Fatal("empty buffer fired")
	}

	b.Append(msg("m1", "alice", t0))
	if b.MaybeFire(t0.Add(30*time.Second), 10, time.Minute) {
		t.Fatal("fired before idle threshold")
	}
	if !b.MaybeFire(t0.Add(time.Minute), 10, time.Minute) {
		t.Fatal("did not fire at idle threshold")
	}
}

func TestBufferContextOnlyMessages(t *testing.T) {
	b := NewChannelBuffer("ch1", 50)

	b.Append(Message{ID: "w1", AuthorID: "bob", Timestamp: t0, Waived: true})
	b.Append(Message{ID: "b1", AuthorID: "bot", Timestamp: t0.Add(time.Second), FromBot: true})
	if got := b.PendingCount(); got != 0 {
		t.Fatalf("context-only messages became pending: %d", got)
	}
	if b.MaybeFire(t0.Add(time.Hour), 1, time.Minute) {
		t.Fatal("context-only messages fired a trigger")
	}

	b.Append(msg("m1", "alice", t0.Add(2*time.Second)))
	req := b.Drain(t0.Add(3*time.Second), 25)
	if len(req.Pending) != 1 || req.Pending[0].ID != "m1" {
		t.Fatalf("pending = %v, want just m1", req.Pending)
	}
	if len(req.Context) != 2 {
		t.Fatalf("context = %d messages, want the waived and bot ones", len(req.Context))
	}
}

func TestBufferDrainAtomic(t *testing.T) {
	b := NewChannelBuffer("ch1", 50)
	b.Append(msg("m1", "alice", t0))
	b.Append(msg("m2", "bob", t0.Add(time.Second)))

	req := b.Drain(t0.Add(2*time.Second), 25)
	if len(req.Pending) != 2 {
		t.Fatalf("drained %d pending, want 2", len(req.Pending))
	}
	if req.Seq != 1 {
		t.Fatalf("seq = %d, want 1", req.Seq)
	}
	if b.PendingCount() != 0 {
		t.Fatal("drain left pending messages behind")
	}

	// Messages after the drain belong to the next cycle.
	b.Append(msg("m3", "carol", t0.Add(3*time.Second)))
	next := b.Drain(t0.Add(4*time.Second), 25)
	if len(next.Pending) != 1 || next.Pending[0].ID != "m3" {
		t.Fatalf("next cycle pending = %v, want just m3", next.Pending)
	}
	if next.Seq != 2 {
		t.Fatalf("next seq = %d, want 2", next.Seq)
	}
}

func TestBufferDrainContextWindow(t *testing.T) {
	b := NewChannelBuffer("ch1", 50)
	for i := 0; i < 10; i++ {
		b.Seed(msg(fmt.Sprintf("old%d", i), "dave", t0.Add(time.Duration(i)*time.Second)))
	}
	b.Append(msg("p1", "alice", t0.Add(time.Minute)))

	req := b.Drain(t0.Add(2*time.Minute), 3)
	if len(req.Context) != 3 {
		t.Fatalf("context = %d messages, want capped at 3", len(req.Context))
	}
	// The newest pre-pending messages win.
	if req.Context[2].ID != "old9" {
		t.Fatalf("context tail = %s, want old9", req.Context[2].ID)
	}
	for _, m := range req.Context {
		if m.ID == "p1" {
			t.Fatal("pending message leaked into context")
		}
	}
}

func TestBufferRequeue(t *testing.T) {
	b := NewChannelBuffer("ch1", 50)
	b.Append(msg("m1", "alice", t0))
	b.Append(msg("m2", "alice", t0.Add(time.Second)))
	req := b.Drain(t0.Add(2*time.Second), 25)

	// A message arrives while the failed cycle is in flight.
	b.Append(msg("m3", "bob", t0.Add(3*time.Second)))
	b.Requeue(req.Pending)

	got := b.PendingSnapshot()
	want := []string{"m1", "m2", "m3"}
	if len(got) != len(want) {
		t.Fatalf("pending = %d messages, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("pending[%d] = %s, want %s", i, got[i].ID, id)
		}
	}

	// Requeueing the same messages again must not duplicate them.
	b.Requeue(req.Pending)
	if n := b.PendingCount(); n != 3 {
		t.Fatalf("after duplicate requeue pending = %d, want 3", n)
	}
}

func TestBufferEditAndRemove(t *testing.T) {
	b := NewChannelBuffer("ch1", 50)
	b.Append(msg("m1", "alice", t0))
	b.Append(msg("m2", "bob", t0.Add(time.Second)))

	edited := msg("m1", "alice", t0)
	edited.Text = "edited"
	b.Edit(edited)

	b.Remove("m2")

	got := b.PendingSnapshot()
	if len(got) != 1 || got[0].Text != "edited" {
		t.Fatalf("pending after edit+remove = %+v", got)
	}
}

func TestBufferRingCap(t *testing.T) {
	b := NewChannelBuffer("ch1", 5)
	for i := 0; i < 8; i++ {
		b.Seed(msg(fmt.Sprintf("m%d", i), "alice", t0.Add(time.Duration(i)*time.Second)))
	}
	ring := b.contextSnapshot()
	if len(ring) != 5 {
		t.Fatalf("ring = %d messages, want capped at 5", len(ring))
	}
	if ring[0].ID != "m3" {
		t.Fatalf("ring head = %s, want m3 (oldest evicted)", ring[0].ID)
	}
}

func TestBotRepliedRecently(t *testing.T) {
	b := NewChannelBuffer("ch1", 50)
	b.Append(Message{ID: "b1", AuthorID: "bot", Timestamp: t0, FromBot: true, ReplyTo: "m0"})
	for i := 0; i < 3; i++ {
		b.Append(msg(fmt.Sprintf("m%d", i), "alice", t0.Add(time.Duration(i+1)*time.Second)))
	}

	if !b.BotRepliedRecently(4) {
		t.Fatal("bot reply in window not detected")
	}
	if b.BotRepliedRecently(3) {
		t.Fatal("bot reply outside window detected")
	}
}
