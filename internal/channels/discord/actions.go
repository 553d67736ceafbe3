package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/critward/internal/channels"
	"github.com/nextlevelbuilder/critward/internal/moderation"
)

// Discord rejects message bodies over 2000 characters.
const maxMessageLen = 2000

var (
	_ moderation.Actions        = (*Channel)(nil)
	_ moderation.HistoryFetcher = (*Channel)(nil)
)

// PostLog sends content to the moderator log channel, chunking long bodies.
func (c *Channel) PostLog(_ context.Context, content string) error {
	for _, chunk := range channels.SplitMessage(content, maxMessageLen) {
		if _, err := c.session.ChannelMessageSend(c.config.LogChannelID, chunk); err != nil {
			return fmt.Errorf("send log message: %w", err)
		}
	}
	return nil
}

// React adds emoji to a message.
func (c *Channel) React(_ context.Context, channelID, messageID, emoji string) error {
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		return fmt.Errorf("add reaction: %w", err)
	}
	return nil
}

// Reply sends content as a reply to a message.
func (c *Channel) Reply(_ context.Context, channelID, messageID, content string) error {
	ref := &discordgo.MessageReference{ChannelID: channelID, MessageID: messageID}
	for _, chunk := range channels.SplitMessage(content, maxMessageLen) {
		if _, err := c.session.ChannelMessageSendReply(channelID, chunk, ref); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
		ref = nil // follow-up chunks are plain messages
	}
	return nil
}

// MessageLink renders a moderator-clickable jump link.
func (c *Channel) MessageLink(channelID, messageID string) string {
	guildID := c.info(channelID).GuildID
	if guildID == "" {
		guildID = "@me"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// History fetches messages strictly before a point in time, oldest first.
// Waiver status is not resolvable from REST history; these messages only
// ever serve as context, so it does not matter.
func (c *Channel) History(_ context.Context, channelID string, before time.Time, limit int) ([]moderation.Message, error) {
	raw, err := c.session.ChannelMessages(channelID, limit, snowflakeBefore(before), "", "")
	if err != nil {
		return nil, fmt.Errorf("fetch channel history: %w", err)
	}

	msgs := make([]moderation.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		m := raw[i]
		if m.Author == nil || m.Content == "" {
			continue
		}
		msgs = append(msgs, moderation.Message{
			ID:         m.ID,
			ChannelID:  channelID,
			AuthorID:   m.Author.ID,
			AuthorName: resolveDisplayName(m.Author, m.Member),
			Timestamp:  m.Timestamp,
			Text:       m.Content,
			FromBot:    m.Author.Bot || m.Author.ID == c.botUserID,
		})
	}
	return msgs, nil
}
