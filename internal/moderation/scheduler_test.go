package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/critward/internal/bus"
)

// fakeClassifier returns scripted verdicts or failures and captures the
// requests it sees.
type fakeClassifier struct {
	verdict *Verdict
	err     error
	seen    []EvaluationRequest
}

func (f *fakeClassifier) Classify(_ context.Context, req *EvaluationRequest) (*Verdict, error) {
	f.seen = append(f.seen, *req)
	if f.err != nil {
		return nil, f.err
	}
	if f.verdict != nil {
		return f.verdict, nil
	}
	return &Verdict{}, nil
}

func newTestScheduler(cls Classifier) (*Scheduler, *fakeActions, *memExamples) {
	actions := &fakeActions{}
	examples := &memExamples{}
	clusters := newMemClusters()
	engine := NewEngine(0.7, examples, clusters)
	dispatcher := NewDispatcher(actions, nil, clusters, DispatcherConfig{LogOnly: true})
	s := NewScheduler(SchedulerConfig{
		CountThreshold: 5,
		TimeThreshold:  time.Minute,
		ContextLimit:   25,
	}, NewAssembler(nil, 25), cls, engine, dispatcher, NewWaiverSet(), nil)
	s.now = func() time.Time { return t0 } // pin the clock to the fixture epoch
	return s, actions, examples
}

func event(id, author string, ts time.Time) bus.MessageEvent {
	return bus.MessageEvent{ID: id, ChannelID: "ch1", AuthorID: author, AuthorName: author, Timestamp: ts, Text: "text " + id}
}

func TestIngestFiresAtCountThreshold(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeClassifier{})
	now := t0
	for i := 0; i < 5; i++ {
		s.Ingest(event(string(rune('a'+i)), "alice", now))
		now = now.Add(time.Second)
	}

	st := s.lookup("ch1")
	if st == nil {
		t.Fatal("channel state not created")
	}
	if len(st.requests) != 1 {
		t.Fatalf("queued requests = %d, want 1 after count trigger", len(st.requests))
	}
	if st.buf.PendingCount() != 0 {
		t.Fatal("fire left pending messages in the buffer")
	}
}

func TestSweepFiresIdleBuffer(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeClassifier{})
	s.Ingest(event("m1", "alice", t0))

	s.Sweep(t0.Add(30 * time.Second))
	st := s.lookup("ch1")
	if len(st.requests) != 0 {
		t.Fatal("sweep fired before the idle threshold")
	}

	s.Sweep(t0.Add(time.Minute))
	if len(st.requests) != 1 {
		t.Fatalf("queued requests = %d, want 1 after idle trigger", len(st.requests))
	}
}

func TestEvaluateRequeuesOnClassifierFailure(t *testing.T) {
	cls := &fakeClassifier{err: &fakeTransientErr{}}
	s, _, _ := newTestScheduler(cls)
	for i := 0; i < 3; i++ {
		s.Ingest(event(string(rune('a'+i)), "alice", t0.Add(time.Duration(i)*time.Second)))
	}

	st := s.lookup("ch1")
	req := st.buf.Drain(t0.Add(time.Minute), 25)
	s.evaluate(context.Background(), st, req)

	if got := st.buf.PendingCount(); got != 3 {
		t.Fatalf("pending after failed cycle = %d, want all 3 re-queued", got)
	}
}

type fakeTransientErr struct{}

func (e *fakeTransientErr) Error() string { return "upstream unavailable" }

func TestEvaluateDispatchesAcceptedCluster(t *testing.T) {
	cls := &fakeClassifier{verdict: &Verdict{Clusters: []Cluster{
		{MessageIDs: []string{"a"}, Confidence: 0.9, Rationale: "negative only"},
	}}}
	s, actions, examples := newTestScheduler(cls)
	s.Ingest(event("a", "alice", t0))

	st := s.lookup("ch1")
	req := st.buf.Drain(t0.Add(time.Minute), 25)
	s.evaluate(context.Background(), st, req)

	if len(actions.logs) != 1 {
		t.Fatalf("log posts = %d, want 1", len(actions.logs))
	}
	if len(examples.recs) != 1 {
		t.Fatalf("corpus entries = %d, want 1 auto-accepted", len(examples.recs))
	}
}

func TestEvaluateStampsWaivedPeople(t *testing.T) {
	cls := &fakeClassifier{}
	s, _, _ := newTestScheduler(cls)
	s.Waivers().Apply("carol", "carol", true)
	s.Ingest(event("a", "alice", t0))

	st := s.lookup("ch1")
	req := st.buf.Drain(t0.Add(time.Minute), 25)
	s.evaluate(context.Background(), st, req)

	if len(cls.seen) != 1 {
		t.Fatalf("classifier calls = %d, want 1", len(cls.seen))
	}
	if got := cls.seen[0].WaivedPeople; len(got) != 1 || got[0] != "carol" {
		t.Fatalf("waived people = %v, want [carol]", got)
	}
}

func TestIngestWaivedAuthorContextOnly(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeClassifier{})
	s.Waivers().Apply("alice", "alice", true)

	// The gateway may not have seen the role change yet; the waiver set is
	// the source of truth at ingest time.
	ev := event("m1", "alice", t0)
	ev.Waived = false
	s.Ingest(ev)

	if got := s.lookup("ch1").buf.PendingCount(); got != 0 {
		t.Fatalf("waived author became pending: %d", got)
	}
}

func TestForceEvaluate(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeClassifier{})
	if s.ForceEvaluate("ch1") {
		t.Fatal("force-evaluate fired for an unknown channel")
	}

	s.Ingest(event("m1", "alice", t0))
	if !s.ForceEvaluate("ch1") {
		t.Fatal("force-evaluate did not fire with pending messages")
	}
	if len(s.lookup("ch1").requests) != 1 {
		t.Fatal("forced cycle not queued")
	}
}

func TestSeedThreadFromParent(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeClassifier{})
	s.Ingest(event("p1", "alice", t0))
	s.Ingest(event("p2", "bob", t0.Add(time.Hour)))

	s.SeedThreadFromParent("th1", "ch1", t0.Add(time.Minute))

	thread := s.lookup("th1")
	ring := thread.buf.contextSnapshot()
	if len(ring) != 1 || ring[0].ID != "p1" {
		t.Fatalf("thread ring = %v, want only messages before the cutoff", ring)
	}
	if thread.buf.PendingCount() != 0 {
		t.Fatal("seeded messages became pending")
	}
}

func TestEvictDropsChannel(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeClassifier{})
	s.Ingest(event("m1", "alice", t0))
	s.Evict("ch1")
	if s.lookup("ch1") != nil {
		t.Fatal("channel state survived eviction")
	}
}

func TestFireSkipsWhenBotRepliedRecently(t *testing.T) {
	s, _, _ := newTestScheduler(&fakeClassifier{})
	s.Ingest(event("m1", "alice", t0))

	bot := event("b1", "bot", t0.Add(time.Second))
	bot.FromBot = true
	bot.ReplyTo = "m1"
	s.Ingest(bot)

	st := s.lookup("ch1")
	s.fire(st)
	if len(st.requests) != 0 {
		t.Fatal("cycle fired despite a recent bot reply in the window")
	}
}

// checkpointRecorder is an in-memory CheckpointStore.
type checkpointRecorder struct {
	saved map[string][]Message
}

func (c *checkpointRecorder) SaveBuffer(_ context.Context, channelID string, pending []Message) error {
	if c.saved == nil {
		c.saved = map[string][]Message{}
	}
	c.saved[channelID] = pending
	return nil
}

func (c *checkpointRecorder) LoadBuffers(_ context.Context) (map[string][]Message, error) {
	return c.saved, nil
}

func TestCheckpointRoundTrip(t *testing.T) {
	ckpt := &checkpointRecorder{}
	engine := NewEngine(0.7, &memExamples{}, newMemClusters())
	dispatcher := NewDispatcher(&fakeActions{}, nil, newMemClusters(), DispatcherConfig{LogOnly: true})
	s := NewScheduler(SchedulerConfig{CountThreshold: 5}, NewAssembler(nil, 25), &fakeClassifier{}, engine, dispatcher, NewWaiverSet(), ckpt)
	s.now = func() time.Time { return t0 }

	s.Ingest(event("m1", "alice", t0))
	s.Ingest(event("m2", "bob", t0.Add(time.Second)))
	if got := len(ckpt.saved["ch1"]); got != 2 {
		t.Fatalf("checkpointed %d messages, want 2", got)
	}

	// Fresh scheduler restores the pending buffer.
	s2 := NewScheduler(SchedulerConfig{CountThreshold: 5}, NewAssembler(nil, 25), &fakeClassifier{}, engine, dispatcher, NewWaiverSet(), ckpt)
	s2.now = func() time.Time { return t0 }
	s2.restoreCheckpoints(context.Background())
	if got := s2.lookup("ch1").buf.PendingCount(); got != 2 {
		t.Fatalf("restored pending = %d, want 2", got)
	}
}

func TestRestoredCheckpointFiresTimeTrigger(t *testing.T) {
	ckpt := &checkpointRecorder{saved: map[string][]Message{
		"ch1": {{ID: "m1", ChannelID: "ch1", AuthorID: "alice", Timestamp: t0, Text: "lingering"}},
	}}
	s, _, _ := newTestScheduler(&fakeClassifier{})
	s.checkpoint = ckpt
	s.restoreCheckpoints(context.Background())

	// A restored message into a quiet channel must still hit the time
	// trigger, not wait for fresh traffic.
	s.Sweep(t0.Add(2 * time.Minute))
	st := s.lookup("ch1")
	if len(st.requests) != 1 {
		t.Fatalf("queued requests = %d, want 1 for restored pending", len(st.requests))
	}
	if st.buf.PendingCount() != 0 {
		t.Fatal("restored message still pending after sweep")
	}
}
