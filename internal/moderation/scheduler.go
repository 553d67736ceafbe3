package moderation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/critward/internal/bus"
)

// Classifier produces a verdict for an evaluation request, or a typed error.
type Classifier interface {
	Classify(ctx context.Context, req *EvaluationRequest) (*Verdict, error)
}

// CheckpointStore persists pending buffers for crash recovery.
type CheckpointStore interface {
	SaveBuffer(ctx context.Context, channelID string, pending []Message) error
	LoadBuffers(ctx context.Context) (map[string][]Message, error)
}

// SchedulerConfig holds the trigger and capacity knobs.
type SchedulerConfig struct {
	CountThreshold int           // pending messages that force a fire
	TimeThreshold  time.Duration // idle duration that forces a fire
	SweepInterval  time.Duration // how often idle buffers are re-checked
	ContextLimit   int           // history window per evaluation request
	RingLimit      int           // per-channel context ring capacity
	QueueDepth     int           // per-channel in-flight request queue
	CycleTimeout   time.Duration // deadline for one full evaluation cycle
}

func (c *SchedulerConfig) applyDefaults() {
	if c.CountThreshold <= 0 {
		c.CountThreshold = 10
	}
	if c.TimeThreshold <= 0 {
		c.TimeThreshold = 60 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Second
	}
	if c.ContextLimit <= 0 {
		c.ContextLimit = 25
	}
	if c.RingLimit <= 0 {
		c.RingLimit = DefaultRingLimit
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 90 * time.Second
	}
}

// channelState pairs a buffer with its FIFO evaluation queue. One worker per
// channel consumes the queue, so cycles within a channel are processed and
// dispatched in drain order; channels never wait on each other.
type channelState struct {
	buf      *ChannelBuffer
	requests chan EvaluationRequest
}

// Scheduler coordinates ingestion, trigger firing, and evaluation cycles
// across all monitored channels.
type Scheduler struct {
	cfg        SchedulerConfig
	assembler  *Assembler
	classifier Classifier
	engine     *Engine
	dispatcher *Dispatcher
	waivers    *WaiverSet
	checkpoint CheckpointStore // nil disables crash recovery

	mu       sync.RWMutex
	channels map[string]*channelState

	runCtx context.Context
	group  *errgroup.Group
	tracer trace.Tracer
	now    func() time.Time // injectable clock for tests
}

// NewScheduler wires the pipeline components together.
func NewScheduler(cfg SchedulerConfig, assembler *Assembler, cls Classifier, engine *Engine, dispatcher *Dispatcher, waivers *WaiverSet, checkpoint CheckpointStore) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:        cfg,
		assembler:  assembler,
		classifier: cls,
		engine:     engine,
		dispatcher: dispatcher,
		waivers:    waivers,
		checkpoint: checkpoint,
		channels:   make(map[string]*channelState),
		tracer:     otel.Tracer("critward/moderation"),
		now:        time.Now,
	}
}

// Waivers exposes the waiver set for gateway refresh events.
func (s *Scheduler) Waivers() *WaiverSet { return s.waivers }

// Engine exposes the decision engine (threshold tuning, moderator feedback).
func (s *Scheduler) Engine() *Engine { return s.engine }

// Run starts the sweep loop and blocks until ctx is canceled. Per-channel
// workers are spawned lazily as channels appear.
func (s *Scheduler) Run(ctx context.Context) error {
	g, runCtx := errgroup.WithContext(ctx)
	s.mu.Lock()
	s.runCtx = runCtx
	s.group = g
	// Workers for channels restored before Run was called.
	for _, st := range s.channels {
		s.startWorker(st)
	}
	s.mu.Unlock()

	if s.checkpoint != nil {
		s.restoreCheckpoints(runCtx)
	}

	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		slog.Info("trigger scheduler started",
			"count_threshold", s.cfg.CountThreshold,
			"time_threshold", s.cfg.TimeThreshold,
			"sweep_interval", s.cfg.SweepInterval,
		)
		for {
			select {
			case <-runCtx.Done():
				return runCtx.Err()
			case <-ticker.C:
				s.Sweep(s.now())
			}
		}
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		return nil // orderly shutdown
	}
	return err
}

// Ingest normalizes and routes one message event. Waived-author and bot
// messages feed the context ring only; everything else becomes pending and
// may fire the count trigger immediately.
func (s *Scheduler) Ingest(ev bus.MessageEvent) {
	msg := messageFromEvent(ev)
	if !msg.Waived && s.waivers.Snapshot().Contains(msg.AuthorID) {
		msg.Waived = true // role event may have landed after the gateway built ev
	}

	st := s.ensureChannel(msg.ChannelID)
	st.buf.SetMetadata(ChannelMetadata{Name: ev.ChannelName, Topic: ev.Topic})
	st.buf.Append(msg)
	s.saveCheckpoint(st)

	if st.buf.MaybeFire(s.now(), s.cfg.CountThreshold, s.cfg.TimeThreshold) {
		s.fire(st)
	}
}

// HandleEdit updates an edited message wherever it still lives.
func (s *Scheduler) HandleEdit(ev bus.MessageEvent) {
	if st := s.lookup(ev.ChannelID); st != nil {
		st.buf.Edit(messageFromEvent(ev))
		s.saveCheckpoint(st)
	}
}

// HandleDelete removes a deleted message from its buffer.
func (s *Scheduler) HandleDelete(channelID, messageID string) {
	if st := s.lookup(channelID); st != nil {
		st.buf.Remove(messageID)
		s.saveCheckpoint(st)
	}
}

// HandleRoleChange folds a waiver role event into the snapshot.
func (s *Scheduler) HandleRoleChange(ev bus.RoleChangeEvent, displayName string) {
	s.waivers.Apply(ev.AuthorID, displayName, ev.Waived)
	slog.Debug("waiver set updated", "author_id", ev.AuthorID, "waived", ev.Waived)
}

// Seed records historical messages into a channel's context ring without
// making them pending (startup backfill, thread-parent context).
func (s *Scheduler) Seed(channelID string, events []bus.MessageEvent) {
	st := s.ensureChannel(channelID)
	for _, ev := range events {
		st.buf.Seed(messageFromEvent(ev))
	}
}

// SeedThreadFromParent creates a thread buffer pre-populated with the parent
// channel's context ring up to the thread creation time.
func (s *Scheduler) SeedThreadFromParent(threadID, parentID string, cutoff time.Time) {
	parent := s.lookup(parentID)
	st := s.ensureChannel(threadID)
	if parent == nil {
		return
	}
	for _, m := range parent.buf.contextSnapshot() {
		if m.Timestamp.Before(cutoff) {
			st.buf.Seed(m)
		}
	}
}

// Evict drops a channel's buffer (archived thread, deleted channel).
// In-flight evaluations for it still complete.
func (s *Scheduler) Evict(channelID string) {
	s.mu.Lock()
	_, ok := s.channels[channelID]
	if ok {
		delete(s.channels, channelID)
	}
	s.mu.Unlock()
	if ok {
		// The worker stays parked on its queue until shutdown; closing the
		// queue here could race a concurrent fire.
		slog.Debug("channel buffer evicted", "channel_id", channelID)
	}
}

// ForceEvaluate drains and evaluates a channel regardless of thresholds.
// Returns false when there is nothing pending.
func (s *Scheduler) ForceEvaluate(channelID string) bool {
	st := s.lookup(channelID)
	if st == nil || st.buf.PendingCount() == 0 {
		return false
	}
	s.fire(st)
	return true
}

// Sweep fires the time trigger for every idle non-empty buffer. Called by
// the periodic loop; exported for tests.
func (s *Scheduler) Sweep(now time.Time) {
	s.mu.RLock()
	states := make([]*channelState, 0, len(s.channels))
	for _, st := range s.channels {
		states = append(states, st)
	}
	s.mu.RUnlock()

	for _, st := range states {
		if st.buf.MaybeFire(now, s.cfg.CountThreshold, s.cfg.TimeThreshold) {
			s.fire(st)
		}
	}
}

// fire drains the buffer and hands the request to the channel's worker.
// When the queue is saturated the drain is rolled back so nothing is lost.
func (s *Scheduler) fire(st *channelState) {
	req := st.buf.Drain(s.now(), s.cfg.ContextLimit)
	if len(req.Pending) == 0 {
		return
	}

	if st.buf.BotRepliedRecently(len(req.Pending) + 1) {
		// The run was already addressed by one of our replies; evaluating it
		// again would warn the same people twice.
		slog.Debug("skipping cycle, bot reply in evaluable window",
			"channel_id", req.ChannelID, "pending", len(req.Pending))
		s.saveCheckpoint(st)
		return
	}

	select {
	case st.requests <- req:
		s.saveCheckpoint(st)
		slog.Debug("evaluation fired",
			"channel_id", req.ChannelID, "seq", req.Seq, "pending", len(req.Pending))
	default:
		st.buf.Requeue(req.Pending)
		slog.Warn("evaluation queue full, re-queued pending messages",
			"channel_id", req.ChannelID, "pending", len(req.Pending))
	}
}

// worker serializes evaluation cycles for one channel (FIFO per channel).
func (s *Scheduler) worker(st *channelState) error {
	for {
		select {
		case <-s.runCtx.Done():
			return s.runCtx.Err()
		case req, ok := <-st.requests:
			if !ok {
				return nil
			}
			s.evaluate(s.runCtx, st, req)
		}
	}
}

// evaluate runs one full cycle: assemble, classify, decide, dispatch.
// A failed classification re-queues the pending messages into the channel's
// next buffer; failures never leak into other channels.
func (s *Scheduler) evaluate(ctx context.Context, st *channelState, req EvaluationRequest) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	req = s.assembler.Assemble(ctx, req)

	ctx, span := s.tracer.Start(ctx, "moderation.evaluate",
		trace.WithAttributes(
			attribute.String("channel.id", req.ChannelID),
			attribute.String("cycle.id", req.CycleID),
			attribute.Int("pending.count", len(req.Pending)),
			attribute.Int("context.count", len(req.Context)),
		))
	defer span.End()

	waivers := s.waivers.Snapshot()
	req.WaivedPeople = waivers.Names()

	verdict, err := s.classifier.Classify(ctx, &req)
	if err != nil {
		span.RecordError(err)
		st.buf.Requeue(req.Pending)
		s.saveCheckpoint(st)
		slog.Warn("classification failed, pending re-queued",
			"channel_id", req.ChannelID, "cycle_id", req.CycleID,
			"pending", len(req.Pending), "error", err)
		return
	}

	decisions := s.engine.Decide(*verdict, &req, waivers)
	decisions = s.engine.FilterStale(ctx, decisions)
	span.SetAttributes(attribute.Int("decisions.count", len(decisions)))

	for _, dec := range decisions {
		if !dec.Accepted() {
			slog.Debug("cluster rejected",
				"channel_id", req.ChannelID, "cycle_id", req.CycleID,
				"state", string(dec.State), "reason", dec.Reason)
			continue
		}
		if err := s.dispatcher.Dispatch(ctx, dec, &req, waivers); err != nil {
			span.RecordError(err)
			slog.Error("dispatch failed",
				"channel_id", req.ChannelID, "cluster", dec.Cluster.Key(), "error", err)
			continue
		}
		if err := s.engine.RecordAccepted(ctx, dec, &req, waivers); err != nil {
			slog.Error("corpus record failed", "cluster", dec.Cluster.Key(), "error", err)
		}
	}
}

func (s *Scheduler) ensureChannel(channelID string) *channelState {
	s.mu.RLock()
	st, ok := s.channels[channelID]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.channels[channelID]; ok {
		return st
	}
	st = &channelState{
		buf:      NewChannelBuffer(channelID, s.cfg.RingLimit),
		requests: make(chan EvaluationRequest, s.cfg.QueueDepth),
	}
	s.channels[channelID] = st
	if s.group != nil {
		s.startWorker(st)
	}
	slog.Debug("channel buffer created", "channel_id", channelID)
	return st
}

// startWorker launches the channel's FIFO worker. Caller holds s.mu.
func (s *Scheduler) startWorker(st *channelState) {
	s.group.Go(func() error {
		err := s.worker(st)
		if err != nil && s.runCtx.Err() != nil {
			return nil
		}
		return err
	})
}

func (s *Scheduler) lookup(channelID string) *channelState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.channels[channelID]
}

func (s *Scheduler) saveCheckpoint(st *channelState) {
	if s.checkpoint == nil {
		return
	}
	ctx := s.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.checkpoint.SaveBuffer(ctx, st.buf.ChannelID(), st.buf.PendingSnapshot()); err != nil {
		slog.Warn("buffer checkpoint failed", "channel_id", st.buf.ChannelID(), "error", err)
	}
}

func (s *Scheduler) restoreCheckpoints(ctx context.Context) {
	buffers, err := s.checkpoint.LoadBuffers(ctx)
	if err != nil {
		slog.Warn("checkpoint restore failed", "error", err)
		return
	}
	restored := 0
	for channelID, pending := range buffers {
		if len(pending) == 0 {
			continue
		}
		st := s.ensureChannel(channelID)
		st.buf.Requeue(pending)
		restored += len(pending)
	}
	if restored > 0 {
		slog.Info("restored pending messages from checkpoint", "messages", restored)
	}
}

func messageFromEvent(ev bus.MessageEvent) Message {
	return Message{
		ID:         ev.ID,
		ChannelID:  ev.ChannelID,
		AuthorID:   ev.AuthorID,
		AuthorName: ev.AuthorName,
		Timestamp:  ev.Timestamp,
		Text:       ev.Text,
		Waived:     ev.Waived,
		FromBot:    ev.FromBot,
		ReplyTo:    ev.ReplyTo,
	}
}

// contextSnapshot copies the ring for thread seeding.
func (b *ChannelBuffer) contextSnapshot() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.ring))
	copy(out, b.ring)
	return out
}
