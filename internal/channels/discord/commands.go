package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/critward/internal/bus"
)

const commandPrefix = "!mod"

const evalTimeout = 10 * time.Minute

// handleCommand dispatches a moderator command. Non-moderators are ignored
// silently, matching how the allowlist handles everything else.
func (c *Channel) handleCommand(m *discordgo.MessageCreate, cmd string) {
	if !c.isModerator(m.GuildID, m.Member) {
		return
	}

	args := strings.Fields(cmd)
	if len(args) == 0 {
		c.reply(m, "usage: !mod check | confirm <ids> | overturn <ids> | miss <ids> | threshold <0..1> | eval")
		return
	}

	switch args[0] {
	case "check":
		if c.sched.ForceEvaluate(m.ChannelID) {
			c.reply(m, "evaluation queued")
		} else {
			c.reply(m, "nothing pending in this channel")
		}

	case "confirm":
		c.recordFeedback(m, bus.ModeratorConfirm, args[1:])

	case "overturn":
		c.recordFeedback(m, bus.ModeratorOverride, args[1:])

	case "miss":
		c.recordFeedback(m, bus.ModeratorAddMiss, args[1:])

	case "threshold":
		c.setThreshold(m, args[1:])

	case "eval":
		c.runEval(m)

	default:
		c.reply(m, fmt.Sprintf("unknown command %q", args[0]))
	}
}

// recordFeedback appends a moderator verdict to the evaluation corpus.
func (c *Channel) recordFeedback(m *discordgo.MessageCreate, verdict string, rawIDs []string) {
	ids := parseMessageIDs(rawIDs)
	if len(ids) == 0 {
		c.reply(m, "no message ids given (raw ids or message links)")
		return
	}

	action := bus.ModeratorAction{
		MessageIDs:  ids,
		Verdict:     verdict,
		ModeratorID: m.Author.ID,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.sched.Engine().RecordModeratorFeedback(ctx, action); err != nil {
		slog.Error("moderator feedback failed", "verdict", verdict, "error", err)
		c.reply(m, "failed to record feedback: "+err.Error())
		return
	}
	c.reply(m, fmt.Sprintf("recorded %s for %d message(s)", verdict, len(ids)))
}

func (c *Channel) setThreshold(m *discordgo.MessageCreate, args []string) {
	if len(args) != 1 {
		c.reply(m, fmt.Sprintf("current threshold: %.2f", c.sched.Engine().Threshold()))
		return
	}
	t, err := strconv.ParseFloat(args[0], 64)
	if err != nil || t < 0 || t > 1 {
		c.reply(m, "threshold must be a number in [0,1]")
		return
	}
	c.sched.Engine().SetThreshold(t)
	c.reply(m, fmt.Sprintf("threshold set to %.2f", t))
}

// runEval replays the evaluation corpus and posts the report to the log
// channel. Replays hit the completion API, so only one runs at a time.
func (c *Channel) runEval(m *discordgo.MessageCreate) {
	if c.evals == nil {
		c.reply(m, "corpus replay is not configured")
		return
	}
	if !c.evalRunning.TryLock() {
		c.reply(m, "an evaluation run is already in progress")
		return
	}
	c.reply(m, "running eval...")

	go func() {
		defer c.evalRunning.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
		defer cancel()

		report, err := c.evals.Run(ctx)
		if err != nil {
			slog.Error("corpus replay failed", "error", err)
			c.reply(m, "eval failed: "+err.Error())
			return
		}
		if err := c.PostLog(ctx, report.Markdown()); err != nil {
			slog.Error("posting eval report failed", "error", err)
		}
	}()
}

func (c *Channel) reply(m *discordgo.MessageCreate, content string) {
	if _, err := c.session.ChannelMessageSendReply(m.ChannelID, content, m.Reference()); err != nil {
		slog.Warn("command reply failed", "channel_id", m.ChannelID, "error", err)
	}
}

// parseMessageIDs accepts raw snowflakes and message jump links.
func parseMessageIDs(raw []string) []string {
	var ids []string
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if idx := strings.LastIndexByte(r, '/'); idx >= 0 {
			r = r[idx+1:]
		}
		if r == "" {
			continue
		}
		if _, err := strconv.ParseUint(r, 10, 64); err != nil {
			continue
		}
		ids = append(ids, r)
	}
	return ids
}
