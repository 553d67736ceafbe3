// Package discord connects the moderation pipeline to Discord via the Bot
// API using gateway events.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/critward/internal/channels"
	"github.com/nextlevelbuilder/critward/internal/config"
	"github.com/nextlevelbuilder/critward/internal/evaluation"
	"github.com/nextlevelbuilder/critward/internal/moderation"
)

const defaultBackfillLimit = 50

// Channel connects to Discord and feeds normalized events into the
// moderation scheduler. It also implements the scheduler's outbound
// surfaces: action dispatch and history fetch.
type Channel struct {
	session   *discordgo.Session
	config    config.DiscordConfig
	allow     channels.Allowlist
	botUserID string // populated on start

	sched *moderation.Scheduler
	evals *evaluation.Runner

	threadParent sync.Map // threadID string → parent channel ID string
	channelMeta  sync.Map // channelID string → channelInfo
	evalRunning  sync.Mutex
}

// channelInfo caches resolved channel attributes for transcripts and links.
type channelInfo struct {
	GuildID     string
	Name        string
	Topic       string
	ForumParent string
}

// New creates a Discord channel from config.
func New(cfg config.DiscordConfig) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions

	return &Channel{
		session: session,
		config:  cfg,
		allow:   channels.NewAllowlist(cfg.AllowChannels),
	}, nil
}

// Attach wires the scheduler and the corpus replay runner. Must be called
// before Start; both depend on this channel's outbound surfaces, so they
// are constructed after it.
func (c *Channel) Attach(sched *moderation.Scheduler, evals *evaluation.Runner) {
	c.sched = sched
	c.evals = evals
}

// Start opens the gateway connection, backfills monitored channels, and
// begins receiving events.
func (c *Channel) Start(ctx context.Context) error {
	slog.Info("starting discord gateway")

	c.session.AddHandler(c.handleMessageCreate)
	c.session.AddHandler(c.handleMessageUpdate)
	c.session.AddHandler(c.handleMessageDelete)
	c.session.AddHandler(c.handleMemberUpdate)
	c.session.AddHandler(c.handleThreadCreate)
	c.session.AddHandler(c.handleThreadUpdate)
	c.session.AddHandler(c.handleThreadDelete)
	c.session.AddHandler(c.handleChannelDelete)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = user.ID

	slog.Info("discord gateway connected", "username", user.Username, "id", user.ID)

	c.backfill(ctx)
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord gateway")
	return c.session.Close()
}

// backfill seeds each monitored channel's context ring with recent history,
// so the first evaluation after a restart is not blind. Forum channels hold
// threads rather than messages, so their active threads are seeded instead.
func (c *Channel) backfill(ctx context.Context) {
	limit := c.config.BackfillLimit
	if limit <= 0 {
		limit = defaultBackfillLimit
	}
	for _, channelID := range c.config.AllowChannels {
		if ctx.Err() != nil {
			return
		}
		ch, err := c.session.State.Channel(channelID)
		if err != nil {
			ch, err = c.session.Channel(channelID)
		}
		if err == nil && ch.Type == discordgo.ChannelTypeGuildForum {
			c.backfillForum(ctx, ch, limit)
			continue
		}
		c.backfillChannel(channelID, limit)
	}
}

func (c *Channel) backfillChannel(channelID string, limit int) {
	msgs, err := c.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		slog.Warn("backfill failed", "channel_id", channelID, "error", err)
		return
	}
	events := c.eventsOldestFirst(channelID, msgs)
	c.sched.Seed(channelID, events)
	slog.Debug("backfilled channel", "channel_id", channelID, "messages", len(events))
}

// backfillForum registers and seeds the forum's active threads.
func (c *Channel) backfillForum(ctx context.Context, forum *discordgo.Channel, limit int) {
	list, err := c.session.GuildThreadsActive(forum.GuildID)
	if err != nil {
		slog.Warn("forum thread listing failed", "channel_id", forum.ID, "error", err)
		return
	}
	for _, threadID := range forumThreadIDs(list, forum.ID) {
		if ctx.Err() != nil {
			return
		}
		c.threadParent.Store(threadID, forum.ID)
		c.backfillChannel(threadID, limit)
	}
}

// forumThreadIDs filters a guild-wide active thread listing down to the
// unarchived threads of one forum.
func forumThreadIDs(list *discordgo.ThreadsList, forumID string) []string {
	var out []string
	for _, th := range list.Threads {
		if th.ParentID != forumID {
			continue
		}
		if th.ThreadMetadata != nil && th.ThreadMetadata.Archived {
			continue
		}
		out = append(out, th.ID)
	}
	return out
}

// monitored reports whether events in channelID should be processed: the
// channel is allowlisted, or it is a thread under an allowlisted parent.
// Threads created before startup are resolved lazily on first sight.
func (c *Channel) monitored(channelID string) bool {
	if c.allow.Contains(channelID) {
		return true
	}
	if _, ok := c.threadParent.Load(channelID); ok {
		return true
	}
	ch, err := c.session.State.Channel(channelID)
	if err != nil {
		ch, err = c.session.Channel(channelID)
		if err != nil {
			return false
		}
	}
	if ch.IsThread() && c.allow.Contains(ch.ParentID) {
		c.threadParent.Store(channelID, ch.ParentID)
		return true
	}
	return false
}

// info resolves channel metadata, caching the result.
func (c *Channel) info(channelID string) channelInfo {
	if v, ok := c.channelMeta.Load(channelID); ok {
		return v.(channelInfo)
	}

	ch, err := c.session.State.Channel(channelID)
	if err != nil {
		ch, err = c.session.Channel(channelID)
		if err != nil {
			return channelInfo{}
		}
	}

	ci := channelInfo{GuildID: ch.GuildID, Name: ch.Name, Topic: ch.Topic}
	if ch.IsThread() {
		if parent, perr := c.session.State.Channel(ch.ParentID); perr == nil {
			ci.ForumParent = parent.Name
			if ci.Topic == "" {
				ci.Topic = parent.Topic
			}
		}
	}
	c.channelMeta.Store(channelID, ci)
	return ci
}

// memberHasRole reports whether any of member's role IDs resolves to
// roleName in the guild.
func (c *Channel) memberHasRole(guildID string, roleIDs []string, roleName string) bool {
	if guildID == "" || roleName == "" || len(roleIDs) == 0 {
		return false
	}
	guild, err := c.session.State.Guild(guildID)
	if err != nil {
		return false
	}
	for _, id := range roleIDs {
		for _, role := range guild.Roles {
			if role.ID == id && role.Name == roleName {
				return true
			}
		}
	}
	return false
}

func (c *Channel) isWaived(guildID string, member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	return c.memberHasRole(guildID, member.Roles, c.config.WaiverRole)
}

func (c *Channel) isModerator(guildID string, member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, name := range c.config.ModeratorRoles {
		if c.memberHasRole(guildID, member.Roles, name) {
			return true
		}
	}
	return false
}

func resolveDisplayName(author *discordgo.User, member *discordgo.Member) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if author.GlobalName != "" {
		return author.GlobalName
	}
	return author.Username
}

// Discord snowflakes encode a millisecond timestamp above this epoch.
const discordEpochMs = 1420070400000

// snowflakeBefore synthesizes a snowflake for "strictly before t", usable
// as a beforeID in history queries.
func snowflakeBefore(t time.Time) string {
	ms := t.UnixMilli() - discordEpochMs
	if ms < 0 {
		ms = 0
	}
	return strconv.FormatInt(ms<<22, 10)
}
