package moderation

import (
	"strings"
	"testing"
	"time"
)

func TestGroupMessagesConsecutiveAuthors(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "1", AuthorID: "a", AuthorName: "alice", Timestamp: base, Text: "one"},
		{ID: "2", AuthorID: "a", AuthorName: "alice", Timestamp: base.Add(time.Second), Text: "two"},
		{ID: "3", AuthorID: "b", AuthorName: "bob", Timestamp: base.Add(2 * time.Second), Text: "three"},
		{ID: "4", AuthorID: "a", AuthorName: "alice", Timestamp: base.Add(3 * time.Second), Text: "four"},
	}

	groups := GroupMessages(msgs)
	if len(groups) != 3 {
		t.Fatalf("groups = %d, want 3", len(groups))
	}
	if len(groups[0].Messages) != 2 {
		t.Fatalf("first group has %d messages, want 2", len(groups[0].Messages))
	}
	for i, g := range groups {
		if g.RelativeID != i {
			t.Fatalf("group %d has relative id %d", i, g.RelativeID)
		}
	}
}

func TestGroupMessagesReplyResolution(t *testing.T) {
	msgs := []Message{
		{ID: "1", AuthorID: "a", AuthorName: "alice", Text: "work in progress"},
		{ID: "2", AuthorID: "b", AuthorName: "bob", Text: "needs polish", ReplyTo: "1"},
		{ID: "3", AuthorID: "c", AuthorName: "carol", Text: "unrelated", ReplyTo: "missing"},
	}

	groups := GroupMessages(msgs)
	if got := groups[1].ReplyGroupID; got != 0 {
		t.Fatalf("reply group = %d, want 0", got)
	}
	if got := groups[2].ReplyGroupID; got != -1 {
		t.Fatalf("unresolvable reply group = %d, want -1", got)
	}
}

func TestGroupFormat(t *testing.T) {
	g := &Group{
		RelativeID:   2,
		AuthorName:   "bob",
		ReplyGroupID: 1,
		Messages: []Message{
			{ID: "1", Text: "this is bad"},
			{ID: "2", Text: "just delete it"},
		},
	}
	want := "(2) [reply to 1] bob: ❝this is bad\njust delete it❞"
	if got := g.Format(); got != want {
		t.Fatalf("Format() = %q, want %q", got, want)
	}
}

func TestBuildTranscriptPendingStart(t *testing.T) {
	req := &EvaluationRequest{
		ChannelID: "ch1",
		Context: []Message{
			{ID: "c1", AuthorID: "a", AuthorName: "alice", Text: "hello"},
		},
		Pending: []Message{
			{ID: "p1", AuthorID: "b", AuthorName: "bob", Text: "this sucks"},
		},
	}

	tr := BuildTranscript(req)
	if len(tr.Groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(tr.Groups))
	}
	if tr.PendingStart != 1 {
		t.Fatalf("pending start = %d, want 1", tr.PendingStart)
	}

	lines := tr.Lines()
	if !strings.Contains(lines[1], "bob") || !strings.Contains(lines[1], "this sucks") {
		t.Fatalf("pending line = %q", lines[1])
	}
}

func TestTranscriptGroupLookup(t *testing.T) {
	tr := BuildTranscript(&EvaluationRequest{
		Pending: []Message{{ID: "p1", AuthorID: "a", AuthorName: "alice", Text: "x"}},
	})
	if tr.Group(0) == nil {
		t.Fatal("valid index returned nil")
	}
	if tr.Group(-1) != nil || tr.Group(1) != nil {
		t.Fatal("out-of-range index returned a group")
	}
}
