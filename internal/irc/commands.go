package irc

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mogad0n/oraserv/internal/ban"
	"github.com/mogad0n/oraserv/internal/identity"
	"github.com/ryanuber/go-glob"
)

const maxListed = 25

// durationPattern recognizes compound durations such as 1y12mo31d10h8m13s.
// The value itself is handed to the server unchecked.
var durationPattern = regexp.MustCompile(`(?i)^(\d+(y|mo|w|d|h|m|s))+$`)

// handleCommand processes a command from a verified IRC operator
func (c *Client) handleCommand(nick, hostmask, message string) {
	c.dispatch(nick, hostmask, message, true)
}

// dispatch runs a command. With lookup set, a command acting on a nickname is
// parked behind a WHOIS so it resolves against the target's current address.
func (c *Client) dispatch(nick, hostmask, message string, lookup bool) {
	message = strings.TrimSpace(message)
	fields := strings.Fields(message)
	if len(fields) == 0 {
		return
	}

	switch strings.ToLower(fields[0]) {
	case "!help":
		c.cmdHelp(nick, hostmask, message)
	case "!version":
		c.cmdVersion(nick, hostmask, message)
	case "!nban":
		c.cmdBan(nick, hostmask, message, lookup)
	case "!nunban":
		c.cmdUnban(nick, hostmask, message)
	case "!nkill":
		c.cmdKill(nick, hostmask, message, lookup)
	case "!bans":
		c.cmdBans(nick, hostmask, message)
	case "!restart":
		c.cmdRestart(nick, hostmask, message)
	case "!shutdown":
		c.cmdShutdown(nick, hostmask, message)
	}
}

func (c *Client) cmdHelp(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	c.out.Privmsg(nick, "Available commands:")
	c.out.Privmsg(nick, "!nban <nick> [duration] [reason] - KLINE and KILL <nick>, or suspend the account if it is logged in")
	c.out.Privmsg(nick, "    <duration> is of the form 1y12mo31d10h8m13s; leaving it out adds a permanent KLINE")
	c.out.Privmsg(nick, "!nunban <nick> - reverse the ban recorded for <nick>")
	c.out.Privmsg(nick, "!nkill <nick> [reason] - disconnect <nick> without banning")
	c.out.Privmsg(nick, "!bans [pattern] - list recorded bans, optionally matching a nick or mask glob")
	c.out.Privmsg(nick, "!version - displays bot version information")
	c.out.Privmsg(nick, "!restart, !shutdown")
}

func (c *Client) cmdVersion(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	c.out.Privmsg(nick, fmt.Sprintf("oraserv version %s", Version))
	c.out.Privmsg(nick, fmt.Sprintf("Built: %s", BuildDate))
	c.out.Privmsg(nick, fmt.Sprintf("Commit: %s", GitCommit))
}

func (c *Client) cmdBan(nick, hostmask, message string, lookup bool) {
	req, ok := parseBanArgs(strings.Fields(message)[1:])
	if !ok {
		c.out.Privmsg(nick, "Usage: !nban <nick> [duration] [reason]")
		return
	}
	req.Operator = nick

	if lookup {
		c.awaitTarget(req.Nickname, nick, hostmask, message)
		return
	}

	c.logCommand(hostmask, message)

	result, err := c.bans.Ban(context.Background(), req)
	if err != nil {
		c.out.Privmsg(nick, errorReply(req.Nickname, err))
		return
	}

	c.out.Privmsg(nick, result.Action.Reply)
}

func (c *Client) cmdUnban(nick, hostmask, message string) {
	fields := strings.Fields(message)
	if len(fields) < 2 {
		c.out.Privmsg(nick, "Usage: !nunban <nick>")
		return
	}

	c.logCommand(hostmask, message)

	result, err := c.bans.Unban(context.Background(), fields[1])
	if err != nil {
		c.out.Privmsg(nick, errorReply(fields[1], err))
		return
	}

	c.out.Privmsg(nick, result.Action.Reply)
}

func (c *Client) cmdKill(nick, hostmask, message string, lookup bool) {
	fields := strings.Fields(message)
	if len(fields) < 2 {
		c.out.Privmsg(nick, "Usage: !nkill <nick> [reason]")
		return
	}

	target := fields[1]
	if lookup {
		c.awaitTarget(target, nick, hostmask, message)
		return
	}

	c.logCommand(hostmask, message)

	result, err := c.bans.Kill(context.Background(), target, strings.Join(fields[2:], " "))
	if err != nil {
		c.out.Privmsg(nick, errorReply(target, err))
		return
	}

	c.out.Privmsg(nick, result.Action.Reply)
}

func (c *Client) cmdBans(nick, hostmask, message string) {
	c.logCommand(hostmask, message)

	pattern := "*"
	if fields := strings.Fields(message); len(fields) > 1 {
		pattern = fields[1]
	}

	for _, line := range formatBans(c.ledger.All(), pattern, time.Now()) {
		c.out.Privmsg(nick, line)
	}
}

func (c *Client) cmdRestart(nick, hostmask, message string) {
	c.logCommand(hostmask, message)
	c.out.Privmsg(nick, "Restarting")

	if c.OnRestart != nil {
		c.OnRestart()
	}
}

func (c *Client) cmdShutdown(nick, hostmask, message string) {
	c.logCommand(hostmask, message)
	c.out.Privmsg(nick, "Shutting down")

	if c.OnShutdown != nil {
		c.OnShutdown()
	}
}

// parseBanArgs splits "<nick> [duration] [reason...]". The token after the
// nick is a duration only if it looks like one.
func parseBanArgs(args []string) (ban.Request, bool) {
	if len(args) == 0 {
		return ban.Request{}, false
	}

	req := ban.Request{Nickname: args[0]}
	rest := args[1:]

	if len(rest) > 0 && durationPattern.MatchString(rest[0]) {
		req.Duration = rest[0]
		rest = rest[1:]
	}

	req.Reason = strings.Join(rest, " ")

	return req, true
}

func errorReply(target string, err error) string {
	switch {
	case errors.Is(err, identity.ErrUnknownNickname):
		return "No such nick"
	case errors.Is(err, ban.ErrNoActiveBan):
		return fmt.Sprintf("No ban is recorded for %s", target)
	case errors.Is(err, ban.ErrTransmit):
		return fmt.Sprintf("Could not send the command for %s, nothing was changed", target)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}

// formatBans lists records whose nick or mask matches pattern, oldest first.
func formatBans(records map[string]ban.Record, pattern string, now time.Time) []string {
	pattern = strings.ToLower(pattern)

	var matched []ban.Record
	for key, rec := range records {
		if glob.Glob(pattern, key) || glob.Glob(pattern, strings.ToLower(rec.Mask)) {
			matched = append(matched, rec)
		}
	}

	if len(matched) == 0 {
		return []string{"No matching bans"}
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].Subject < matched[j].Subject
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	lines := []string{fmt.Sprintf("\x02%d\x02 matching bans:", len(matched))}
	for i, rec := range matched {
		if i == maxListed {
			lines = append(lines, fmt.Sprintf("... and %d more", len(matched)-maxListed))
			break
		}

		line := fmt.Sprintf("%s: %s %s", rec.Subject, rec.Kind, rec.Target())
		if rec.SetBy != "" {
			line += " by " + rec.SetBy
		}
		line += ", " + humanize.RelTime(rec.CreatedAt, now, "ago", "from now")

		lines = append(lines, line)
	}

	return lines
}
