package bus

import "time"

// MessageEvent is a normalized message-created (or edited) event from the
// platform gateway. The core pipeline never sees platform-specific types.
type MessageEvent struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	Topic       string    `json:"topic,omitempty"`       // channel topic or forum-parent name
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name,omitempty"` // display name, used in model transcripts
	Timestamp   time.Time `json:"timestamp"`
	Text        string    `json:"text"`
	Waived      bool      `json:"waived,omitempty"`   // author holds the waiver role
	FromBot     bool      `json:"from_bot,omitempty"` // authored by this bot (context only, never evaluated)
	ReplyTo     string    `json:"reply_to,omitempty"` // referenced message ID, if any
}

// RoleChangeEvent signals that an author gained or lost the waiver role.
type RoleChangeEvent struct {
	AuthorID string `json:"author_id"`
	Waived   bool   `json:"waived"`
}

// Moderator verdict kinds for manual feedback.
const (
	ModeratorConfirm  = "confirm"  // auto-decision was correct
	ModeratorOverride = "override" // auto-decision was a false positive
	ModeratorAddMiss  = "add-miss" // pipeline missed a genuine violation
)

// ModeratorAction is a manual feedback event routed into the evaluation store.
type ModeratorAction struct {
	MessageIDs  []string `json:"message_ids"`
	Verdict     string   `json:"verdict"` // Moderator* constants
	ModeratorID string   `json:"moderator_id,omitempty"`
}
