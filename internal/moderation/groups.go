package moderation

import (
	"fmt"
	"strings"
)

// Group is a run of consecutive messages from the same author, the unit the
// classifier reasons about. RelativeID is the group's index in its transcript;
// ReplyGroupID points at the group a reply references, or -1.
type Group struct {
	RelativeID   int
	AuthorID     string
	AuthorName   string
	Messages     []Message
	ReplyTo      string // referenced message ID from the first replying message
	ReplyGroupID int
}

// IDs returns the message ids of this group.
func (g *Group) IDs() []string {
	out := make([]string, len(g.Messages))
	for i, m := range g.Messages {
		out[i] = m.ID
	}
	return out
}

// Format renders the group as one transcript line:
//
//	(3) [reply to 1] alice: ❝first line
//	second line❞
func (g *Group) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(%d) ", g.RelativeID)
	if g.ReplyGroupID >= 0 {
		fmt.Fprintf(&sb, "[reply to %d] ", g.ReplyGroupID)
	}
	parts := make([]string, len(g.Messages))
	for i, m := range g.Messages {
		parts[i] = m.Text
	}
	fmt.Fprintf(&sb, "%s: ❝%s❞", g.AuthorName, strings.Join(parts, "\n"))
	return sb.String()
}

// GroupMessages splits an ordered message sequence into consecutive
// same-author groups and resolves reply references to group indexes.
func GroupMessages(msgs []Message) []*Group {
	var groups []*Group
	for _, m := range msgs {
		last := len(groups) - 1
		if last >= 0 && groups[last].AuthorID == m.AuthorID {
			g := groups[last]
			g.Messages = append(g.Messages, m)
			if g.ReplyTo == "" {
				g.ReplyTo = m.ReplyTo
			}
			continue
		}
		groups = append(groups, &Group{
			RelativeID:   len(groups),
			AuthorID:     m.AuthorID,
			AuthorName:   m.AuthorName,
			Messages:     []Message{m},
			ReplyTo:      m.ReplyTo,
			ReplyGroupID: -1,
		})
	}

	// Resolve reply targets to earlier groups.
	for i, g := range groups {
		if g.ReplyTo == "" {
			continue
		}
		for j := i - 1; j >= 0; j-- {
			if containsID(groups[j].Messages, g.ReplyTo) {
				g.ReplyGroupID = j
				break
			}
		}
	}
	return groups
}

func containsID(msgs []Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Transcript is the grouped rendering of an evaluation request that the
// classifier sees. PendingStart marks the first group containing a pending
// message; earlier groups are context only.
type Transcript struct {
	Groups       []*Group
	PendingStart int
}

// BuildTranscript groups context+pending into one ordered transcript.
func BuildTranscript(req *EvaluationRequest) Transcript {
	all := make([]Message, 0, len(req.Context)+len(req.Pending))
	all = append(all, req.Context...)
	all = append(all, req.Pending...)
	groups := GroupMessages(all)

	pendingIDs := make(map[string]struct{}, len(req.Pending))
	for _, m := range req.Pending {
		pendingIDs[m.ID] = struct{}{}
	}
	start := len(groups)
	for i, g := range groups {
		for _, m := range g.Messages {
			if _, ok := pendingIDs[m.ID]; ok {
				if i < start {
					start = i
				}
				break
			}
		}
	}
	return Transcript{Groups: groups, PendingStart: start}
}

// Lines renders each group as one transcript entry.
func (t Transcript) Lines() []string {
	out := make([]string, len(t.Groups))
	for i, g := range t.Groups {
		out[i] = g.Format()
	}
	return out
}

// Group returns the group with the given relative id, or nil.
func (t Transcript) Group(relID int) *Group {
	if relID < 0 || relID >= len(t.Groups) {
		return nil
	}
	return t.Groups[relID]
}
