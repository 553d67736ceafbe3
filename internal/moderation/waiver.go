package moderation

import "sync"

// WaiverSnapshot is an immutable view of the waiver set, read by value at
// decision time. Never mutated after creation.
type WaiverSnapshot struct {
	version uint64
	ids     map[string]struct{}
	names   map[string]string // authorID → display name, for model prompts
}

// Contains reports whether the author holds the waiver role in this snapshot.
func (s WaiverSnapshot) Contains(authorID string) bool {
	_, ok := s.ids[authorID]
	return ok
}

// Version identifies the refresh generation this snapshot came from.
func (s WaiverSnapshot) Version() uint64 { return s.version }

// Names returns the display names of all waived authors, for the classifier
// prompt's opt-out list.
func (s WaiverSnapshot) Names() []string {
	out := make([]string, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, n)
	}
	return out
}

// WaiverSet tracks authors holding the opt-out role. Refreshed by external
// role-change events; the core only reads it. Copy-on-write so readers never
// block on refresh — stale for a bounded time is acceptable.
type WaiverSet struct {
	mu   sync.RWMutex
	snap WaiverSnapshot
}

// NewWaiverSet creates an empty waiver set.
func NewWaiverSet() *WaiverSet {
	return &WaiverSet{snap: WaiverSnapshot{ids: map[string]struct{}{}, names: map[string]string{}}}
}

// Snapshot returns the current immutable view.
func (w *WaiverSet) Snapshot() WaiverSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snap
}

// Apply records a single role change, producing a new snapshot generation.
func (w *WaiverSet) Apply(authorID, displayName string, waived bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make(map[string]struct{}, len(w.snap.ids)+1)
	names := make(map[string]string, len(w.snap.names)+1)
	for id := range w.snap.ids {
		ids[id] = struct{}{}
	}
	for id, n := range w.snap.names {
		names[id] = n
	}
	if waived {
		ids[authorID] = struct{}{}
		if displayName != "" {
			names[authorID] = displayName
		}
	} else {
		delete(ids, authorID)
		delete(names, authorID)
	}
	w.snap = WaiverSnapshot{version: w.snap.version + 1, ids: ids, names: names}
}

// Replace swaps in a full refresh from the platform (e.g. on reconnect).
func (w *WaiverSet) Replace(members map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make(map[string]struct{}, len(members))
	names := make(map[string]string, len(members))
	for id, n := range members {
		ids[id] = struct{}{}
		names[id] = n
	}
	w.snap = WaiverSnapshot{version: w.snap.version + 1, ids: ids, names: names}
}
