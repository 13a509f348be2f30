package irc

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircevent"
	"github.com/ergochat/irc-go/ircmsg"
	"github.com/google/uuid"
	"github.com/mogad0n/oraserv/internal/ban"
	"github.com/mogad0n/oraserv/internal/config"
	"github.com/mogad0n/oraserv/internal/identity"
	"github.com/mogad0n/oraserv/internal/storage"
)

// Version information (set at build time or here)
var (
	Version   = "1.0.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// session is the outbound side of the connection used by command handling.
type session interface {
	Send(command string, params ...string) error
	SendWithTags(tags map[string]string, command string, params ...string) error
	Privmsg(target, text string) error
}

// Client represents the IRC bot client
type Client struct {
	conn   *ircevent.Connection
	out    session
	cfg    *config.Config
	mu     sync.RWMutex
	ready  bool
	closed bool

	tracker *identity.Tracker
	ledger  *storage.Ledger
	bans    *ban.Service
	audit   []string

	// Oper tracking: hostmask -> is oper
	opers map[string]bool

	// Pending WHOIS checks on the requester: nick -> {hostmask, message}
	pendingWhois map[string]*pendingCheck
	// Commands waiting for a WHOIS on their target: folded target nick -> commands
	pendingTargets map[string][]*pendingCheck

	// Shutdown/restart callbacks
	OnShutdown func()
	OnRestart  func()
}

type pendingCheck struct {
	nick     string
	hostmask string
	message  string
}

// NewClient creates a new IRC client enforcing bans through ledger
func NewClient(cfg *config.Config, ledger *storage.Ledger) (*Client, error) {
	// Create IRC connection
	conn := &ircevent.Connection{
		Server:      fmt.Sprintf("%s:%d", cfg.Server, cfg.Port),
		Nick:        cfg.Nick,
		User:        cfg.Username,
		RealName:    cfg.IRCName,
		Password:    cfg.ServerPass,
		QuitMessage: "Shutting down",
		Debug:       false,
		UseTLS:      cfg.UseTLS,
		TLSConfig:   &tls.Config{ServerName: cfg.Server},
		RequestCaps: []string{"chghost", "batch", "labeled-response"},
		Log:         slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug),
	}

	c := newClient(cfg, ledger, conn)
	c.conn = conn

	// Register handlers
	c.registerHandlers()

	return c, nil
}

func newClient(cfg *config.Config, ledger *storage.Ledger, out session) *Client {
	c := &Client{
		out:            out,
		cfg:            cfg,
		tracker:        identity.NewTracker(),
		ledger:         ledger,
		opers:          make(map[string]bool),
		pendingWhois:   make(map[string]*pendingCheck),
		pendingTargets: make(map[string][]*pendingCheck),
	}

	var err error
	c.audit, err = storage.LoadAudit(cfg.DataDir)
	if err != nil {
		slog.Warn("Could not load audit trail", slog.String("error", err.Error()))
	}

	c.bans = ban.NewService(
		c.tracker,
		ban.NewClassifier(cfg.Enforcement),
		ban.NewBuilder(cfg.Enforcement.ServicesCommand),
		ledger,
		c,
	)

	return c
}

func (c *Client) registerHandlers() {
	// Connected (end of MOTD)
	c.conn.AddCallback("376", c.onConnect)
	c.conn.AddCallback("422", c.onConnect) // MOTD missing is also "connected"

	// Private messages
	c.conn.AddCallback("PRIVMSG", c.onPrivMsg)

	// Identity tracking
	for _, code := range []string{"JOIN", "PART", "KICK", "NICK", "QUIT", "KILL", "CHGHOST", "NOTICE", "311", "352", "401"} {
		c.conn.AddCallback(code, c.tracker.Observe)
	}

	// WHOIS responses
	c.conn.AddCallback("313", c.onWhoisOper) // RPL_WHOISOPERATOR
	c.conn.AddCallback("318", c.onWhoisEnd)  // RPL_ENDOFWHOIS

	// Nick issues
	c.conn.AddCallback("432", c.onNickHeld)  // ERR_ERRONEUSNICKNAME
	c.conn.AddCallback("433", c.onNickInUse) // ERR_NICKNAMEINUSE

	// CTCP VERSION
	c.conn.AddCallback("CTCP_VERSION", c.onCtcpVersion)
}

// Connect initiates the IRC connection
func (c *Client) Connect() error {
	return c.conn.Connect()
}

// Loop runs the IRC event loop (blocking)
func (c *Client) Loop() {
	c.conn.Loop()
}

// Quit disconnects from IRC
func (c *Client) Quit(message string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.conn.QuitMessage = message
	c.conn.Quit()
}

// Emit sends a ban command with a fresh label so the server's reply can be matched to it.
func (c *Client) Emit(msg ircmsg.Message) error {
	label := uuid.NewString()
	slog.Debug("Sending command", slog.String("command", msg.Command),
		slog.Any("params", msg.Params), slog.String("label", label))

	return c.out.SendWithTags(map[string]string{"label": label}, msg.Command, msg.Params...)
}

func (c *Client) onConnect(e ircmsg.Message) {
	slog.Info("Connected to IRC server")

	// Identities from a previous session are stale.
	c.tracker.Reset()

	// Identify to NickServ
	if c.cfg.NickPass != "" {
		c.conn.Privmsg("NickServ", fmt.Sprintf("IDENTIFY %s %s", c.cfg.Nick, c.cfg.NickPass))
	}

	// OPER up
	if c.cfg.OperNick != "" && c.cfg.OperPass != "" {
		c.conn.Send("OPER", c.cfg.OperNick, c.cfg.OperPass)
	}

	// Join channels and populate the tracker from WHO
	for _, channel := range c.cfg.Channels {
		c.conn.Send("JOIN", channel)
		c.conn.Send("WHO", channel)
	}

	c.mu.Lock()
	c.ready = true
	c.mu.Unlock()

	slog.Info("Bot initialization complete", slog.Int("bans", c.ledger.Len()))
}

func (c *Client) onPrivMsg(e ircmsg.Message) {
	c.tracker.Observe(e)

	if len(e.Params) < 2 {
		return
	}

	target := e.Params[0]
	message := e.Params[1]
	nick := e.Nick()
	nuh, err := e.NUH()
	if err != nil {
		return
	}
	hostmask := nuh.Canonical()

	// Only respond to private messages (not channel messages)
	if !strings.EqualFold(target, c.conn.CurrentNick()) {
		return
	}

	c.mu.RLock()
	isOper := c.opers[hostmask]
	c.mu.RUnlock()

	if isOper {
		// Known oper, process command directly
		c.handleCommand(nick, hostmask, message)
	} else {
		// Unknown user, initiate WHOIS check
		c.mu.Lock()
		c.pendingWhois[nick] = &pendingCheck{
			nick:     nick,
			hostmask: hostmask,
			message:  message,
		}
		c.mu.Unlock()
		c.out.Send("WHOIS", nick)
	}
}

func (c *Client) onWhoisOper(e ircmsg.Message) {
	// 313 <me> <nick> :is an IRC operator
	if len(e.Params) < 2 {
		return
	}
	nick := e.Params[1]

	c.mu.Lock()
	pending := c.pendingWhois[nick]
	if pending != nil {
		c.opers[pending.hostmask] = true
	}
	c.mu.Unlock()

	// Process the pending command
	if pending != nil {
		c.handleCommand(nick, pending.hostmask, pending.message)
	}
}

func (c *Client) onWhoisEnd(e ircmsg.Message) {
	// 318 <me> <nick> :End of /WHOIS list
	if len(e.Params) < 2 {
		return
	}
	nick := e.Params[1]

	c.mu.Lock()
	pending := c.pendingWhois[nick]
	delete(c.pendingWhois, nick)

	// Check if we got oper status
	var isOper bool
	if pending != nil {
		isOper = c.opers[pending.hostmask]
	}

	waiting := c.pendingTargets[identity.Fold(nick)]
	delete(c.pendingTargets, identity.Fold(nick))
	c.mu.Unlock()

	// If not an oper, log the attempt
	if pending != nil && !isOper {
		c.logCommand(pending.hostmask, fmt.Sprintf("USER - %s", pending.message))
	}

	// A 311 for the target has refreshed the tracker by now if it is still online.
	for _, cmd := range waiting {
		c.dispatch(cmd.nick, cmd.hostmask, cmd.message, false)
	}
}

// awaitTarget defers a command until a WHOIS on target completes. The tracked
// identity is dropped first so only the WHOIS reply can supply the address.
func (c *Client) awaitTarget(target, nick, hostmask, message string) {
	key := identity.Fold(target)

	c.mu.Lock()
	first := len(c.pendingTargets[key]) == 0
	c.pendingTargets[key] = append(c.pendingTargets[key], &pendingCheck{
		nick:     nick,
		hostmask: hostmask,
		message:  message,
	})
	c.mu.Unlock()

	if first {
		c.tracker.Forget(target)
		c.out.Send("WHOIS", target)
	}
}

func (c *Client) onNickHeld(e ircmsg.Message) {
	if c.conn.CurrentNick() == c.cfg.Alternate {
		return
	}
	slog.Warn("Nick is held, switching to alternate", slog.String("alternate", c.cfg.Alternate))
	c.conn.SetNick(c.cfg.Alternate)

	// Schedule nick recovery
	go func() {
		time.Sleep(15 * time.Second)
		c.conn.Privmsg("NickServ", fmt.Sprintf("RELEASE %s %s", c.cfg.Nick, c.cfg.NickPass))
		time.Sleep(2 * time.Second)
		c.conn.SetNick(c.cfg.Nick)
	}()
}

func (c *Client) onNickInUse(e ircmsg.Message) {
	if c.conn.CurrentNick() == c.cfg.Alternate {
		return
	}
	slog.Warn("Nick in use, switching to alternate", slog.String("alternate", c.cfg.Alternate))
	c.conn.SetNick(c.cfg.Alternate)

	// Schedule nick recovery
	go func() {
		time.Sleep(15 * time.Second)
		c.conn.Privmsg("NickServ", fmt.Sprintf("GHOST %s %s", c.cfg.Nick, c.cfg.NickPass))
		time.Sleep(2 * time.Second)
		c.conn.SetNick(c.cfg.Nick)
	}()
}

func (c *Client) onCtcpVersion(e ircmsg.Message) {
	nick := e.Nick()
	reply := fmt.Sprintf("oraserv %s (built %s, commit %s)", Version, BuildDate, GitCommit)
	c.conn.SendRaw(fmt.Sprintf("NOTICE %s :\x01VERSION %s\x01", nick, reply))
}

func (c *Client) logCommand(hostmask, command string) {
	timestamp := time.Now().UTC().Format("Mon Jan 02, 2006 at 15:04:05 GMT")
	entry := fmt.Sprintf("%s: %s -> %s", timestamp, hostmask, command)

	c.mu.Lock()
	c.audit = storage.AddAudit(c.audit, entry)
	audit := append([]string(nil), c.audit...)
	c.mu.Unlock()

	if err := storage.SaveAudit(c.cfg.DataDir, audit); err != nil {
		slog.Error("Error saving audit trail", slog.String("error", err.Error()))
	}
}
