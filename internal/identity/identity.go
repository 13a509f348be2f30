// Package identity tracks which ident and address each visible nickname is
// currently connected from.
package identity

import (
	"errors"
	"strings"
	"sync"

	"github.com/ergochat/irc-go/ircmsg"
)

var ErrUnknownNickname = errors.New("no such nick")

// Identity is the connection identity behind a nickname at resolution time.
type Identity struct {
	Nickname string
	Ident    string
	Address  string
}

// Fold normalizes a nickname for use as a map key.
func Fold(nick string) string {
	return strings.ToLower(nick)
}

// Tracker keeps the last known identity for every nickname seen on the connection.
type Tracker struct {
	mu    sync.RWMutex
	users map[string]Identity
}

func NewTracker() *Tracker {
	return &Tracker{users: make(map[string]Identity)}
}

// Resolve returns the live identity for nick or ErrUnknownNickname.
func (t *Tracker) Resolve(nick string) (Identity, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.users[Fold(nick)]
	if !ok {
		return Identity{}, ErrUnknownNickname
	}

	return id, nil
}

// Seen records nick as connected from ident@address.
func (t *Tracker) Seen(nick, ident, address string) {
	if nick == "" || ident == "" || address == "" {
		return
	}

	t.mu.Lock()
	t.users[Fold(nick)] = Identity{Nickname: nick, Ident: ident, Address: address}
	t.mu.Unlock()
}

// Forget drops nick from the tracker.
func (t *Tracker) Forget(nick string) {
	t.mu.Lock()
	delete(t.users, Fold(nick))
	t.mu.Unlock()
}

// Reset clears everything, used when the connection is re-established.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.users = make(map[string]Identity)
	t.mu.Unlock()
}

// Len returns the number of tracked nicknames.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.users)
}

// Observe updates the tracker from a single incoming message.
func (t *Tracker) Observe(msg ircmsg.Message) {
	switch msg.Command {
	case "311":
		// RPL_WHOISUSER <me> <nick> <user> <host> * :<realname>
		if len(msg.Params) >= 4 {
			t.Seen(msg.Params[1], msg.Params[2], msg.Params[3])
		}
		return
	case "352":
		// RPL_WHOREPLY <me> <channel> <user> <host> <server> <nick> <flags> :<hops> <realname>
		if len(msg.Params) >= 6 {
			t.Seen(msg.Params[5], msg.Params[2], msg.Params[3])
		}
		return
	case "401":
		// ERR_NOSUCHNICK <me> <nick>
		if len(msg.Params) >= 2 {
			t.Forget(msg.Params[1])
		}
		return
	case "KILL":
		if len(msg.Params) >= 1 {
			t.Forget(msg.Params[0])
		}
		return
	case "KICK":
		// KICK <channel> <nick> [:<reason>]
		if len(msg.Params) >= 2 {
			t.Forget(msg.Params[1])
		}
		return
	}

	nuh, err := msg.NUH()
	if err != nil || nuh.User == "" || nuh.Host == "" {
		return
	}

	switch msg.Command {
	case "QUIT", "PART":
		// Once out of sight nothing keeps the entry current.
		t.Forget(nuh.Name)
	case "NICK":
		if len(msg.Params) < 1 {
			return
		}
		t.mu.Lock()
		delete(t.users, Fold(nuh.Name))
		t.users[Fold(msg.Params[0])] = Identity{Nickname: msg.Params[0], Ident: nuh.User, Address: nuh.Host}
		t.mu.Unlock()
	case "CHGHOST":
		// CHGHOST <new_user> <new_host>
		if len(msg.Params) >= 2 {
			t.Seen(nuh.Name, msg.Params[0], msg.Params[1])
		}
	default:
		t.Seen(nuh.Name, nuh.User, nuh.Host)
	}
}
