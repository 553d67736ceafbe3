package discord

import (
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/critward/internal/bus"
)

// handleMessageCreate normalizes an inbound message and routes it into the
// scheduler. Bot-authored messages (ours included) enter the context ring
// only; they are never evaluated.
func (c *Channel) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	if !c.monitored(m.ChannelID) {
		return
	}

	if m.Author.Bot || m.Author.ID == c.botUserID {
		c.sched.Ingest(c.eventFromMessage(m.Message, true))
		return
	}

	if c.isPing(m.Message) {
		c.replyPing(m.Message)
		return
	}

	if cmd, ok := strings.CutPrefix(m.Content, commandPrefix); ok {
		c.handleCommand(m, strings.TrimSpace(cmd))
		return
	}

	ev := c.eventFromMessage(m.Message, false)
	ev.Waived = c.isWaived(m.GuildID, m.Member)
	c.sched.Ingest(ev)
}

// handleMessageUpdate replaces the buffered text of an edited message, so
// an evaluation that has not fired yet judges the current content.
func (c *Channel) handleMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID {
		return
	}
	if !c.monitored(m.ChannelID) {
		return
	}
	ev := c.eventFromMessage(m.Message, false)
	ev.Waived = c.isWaived(m.GuildID, m.Member)
	c.sched.HandleEdit(ev)
}

func (c *Channel) handleMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if !c.monitored(m.ChannelID) {
		return
	}
	c.sched.HandleDelete(m.ChannelID, m.ID)
}

// handleMemberUpdate tracks the waiver role, keeping the opt-out snapshot
// current between messages.
func (c *Channel) handleMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.User == nil {
		return
	}
	waived := c.memberHasRole(m.GuildID, m.Roles, c.config.WaiverRole)
	c.sched.HandleRoleChange(
		bus.RoleChangeEvent{AuthorID: m.User.ID, Waived: waived},
		resolveDisplayName(m.User, m.Member),
	)
}

// handleThreadCreate registers threads under monitored channels and seeds
// their context from the parent's ring.
func (c *Channel) handleThreadCreate(_ *discordgo.Session, t *discordgo.ThreadCreate) {
	if !c.allow.Contains(t.ParentID) {
		return
	}
	c.threadParent.Store(t.ID, t.ParentID)

	cutoff, err := discordgo.SnowflakeTimestamp(t.ID)
	if err != nil {
		slog.Warn("unparseable thread id", "thread_id", t.ID, "error", err)
		return
	}
	c.sched.SeedThreadFromParent(t.ID, t.ParentID, cutoff)
	slog.Debug("thread registered", "thread_id", t.ID, "parent_id", t.ParentID)
}

// handleThreadUpdate evicts threads on archive; an archived thread never
// sees another message, so its buffer is dead weight.
func (c *Channel) handleThreadUpdate(_ *discordgo.Session, t *discordgo.ThreadUpdate) {
	if t.ThreadMetadata == nil || !t.ThreadMetadata.Archived {
		return
	}
	if _, ok := c.threadParent.LoadAndDelete(t.ID); ok {
		c.sched.Evict(t.ID)
		slog.Debug("archived thread evicted", "thread_id", t.ID)
	}
}

func (c *Channel) handleThreadDelete(_ *discordgo.Session, t *discordgo.ThreadDelete) {
	if _, ok := c.threadParent.LoadAndDelete(t.ID); ok {
		c.sched.Evict(t.ID)
	}
}

func (c *Channel) handleChannelDelete(_ *discordgo.Session, ch *discordgo.ChannelDelete) {
	if c.allow.Contains(ch.ID) {
		c.sched.Evict(ch.ID)
	}
	c.channelMeta.Delete(ch.ID)
}

// isPing reports whether the message is a bare @mention of the bot.
func (c *Channel) isPing(m *discordgo.Message) bool {
	if c.config.PingResponse == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u.ID == c.botUserID {
			return true
		}
	}
	return false
}

func (c *Channel) replyPing(m *discordgo.Message) {
	_, err := c.session.ChannelMessageSendReply(m.ChannelID, c.config.PingResponse, m.Reference())
	if err != nil {
		slog.Warn("ping reply failed", "channel_id", m.ChannelID, "error", err)
	}
}

// eventFromMessage converts a Discord message to the normalized bus event.
func (c *Channel) eventFromMessage(m *discordgo.Message, fromBot bool) bus.MessageEvent {
	ci := c.info(m.ChannelID)
	ev := bus.MessageEvent{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		ChannelName: ci.Name,
		Topic:       ci.Topic,
		AuthorID:    m.Author.ID,
		AuthorName:  resolveDisplayName(m.Author, m.Member),
		Timestamp:   m.Timestamp,
		Text:        m.Content,
		FromBot:     fromBot,
	}
	if ci.ForumParent != "" {
		ev.Topic = ci.ForumParent + ": " + ci.Topic
	}
	if m.MessageReference != nil {
		ev.ReplyTo = m.MessageReference.MessageID
	}
	return ev
}

// eventsOldestFirst converts a newest-first history page into seed events.
func (c *Channel) eventsOldestFirst(channelID string, msgs []*discordgo.Message) []bus.MessageEvent {
	events := make([]bus.MessageEvent, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Author == nil || m.Content == "" {
			continue
		}
		ev := c.eventFromMessage(m, m.Author.Bot || m.Author.ID == c.botUserID)
		ev.ChannelID = channelID
		events = append(events, ev)
	}
	return events
}
