package ban

import (
	"fmt"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/mogad0n/oraserv/internal/identity"
)

const (
	cmdKline   = "KLINE"
	cmdUnkline = "UNKLINE"
	cmdKill    = "KILL"
	andKill    = "ANDKILL"
)

// Action is an outbound command plus the record it leaves behind, if any.
type Action struct {
	Message ircmsg.Message
	Record  *Record
	Reply   string
}

// Builder turns classified identities into commands for the services layer.
type Builder struct {
	// Services is the command used to reach NickServ.
	Services string
	Now      func() time.Time
}

func NewBuilder(services string) *Builder {
	return &Builder{Services: services, Now: time.Now}
}

// Build produces the enforcement for id. Duration and reason are passed through
// untouched and omitted entirely when empty.
func (b *Builder) Build(id identity.Identity, class Class, duration, reason string) Action {
	rec := &Record{
		Subject:   id.Nickname,
		CreatedAt: b.Now().UTC(),
	}

	switch class {
	case ServiceAccount:
		rec.Kind = Suspension

		return Action{
			Message: ircmsg.MakeMessage(nil, "", b.Services, "SUSPEND", id.Nickname),
			Record:  rec,
			Reply: fmt.Sprintf("Suspending account for %s. Note: <duration> and <reason> are "+
				"not applicable to account suspensions and have been ignored", id.Nickname),
		}
	case BridgedIdentity:
		rec.Kind = IdentMask
		rec.Mask = fmt.Sprintf("*!%s@%s", id.Ident, id.Address)

		return Action{
			Message: ircmsg.MakeMessage(nil, "", cmdKline, klineArgs(duration, rec.Mask, reason)...),
			Record:  rec,
			Reply:   fmt.Sprintf("Adding a KLINE for bridged user %s: %s", id.Nickname, rec.Mask),
		}
	default:
		rec.Kind = HostMask
		rec.Mask = "*!*@" + id.Address

		return Action{
			Message: ircmsg.MakeMessage(nil, "", cmdKline, klineArgs(duration, rec.Mask, reason)...),
			Record:  rec,
			Reply:   fmt.Sprintf("Adding a KLINE for unregistered user %s: %s", id.Nickname, rec.Mask),
		}
	}
}

// Reverse undoes rec using exactly the mask it was enforced with.
func (b *Builder) Reverse(rec Record) (Action, error) {
	switch rec.Kind {
	case Suspension:
		return Action{
			Message: ircmsg.MakeMessage(nil, "", b.Services, "UNSUSPEND", rec.Subject),
			Reply:   fmt.Sprintf("Unsuspending account for %s", rec.Subject),
		}, nil
	case IdentMask, HostMask:
		return Action{
			Message: ircmsg.MakeMessage(nil, "", cmdUnkline, rec.Mask),
			Reply:   fmt.Sprintf("Removing KLINE %s for %s", rec.Mask, rec.Subject),
		}, nil
	default:
		return Action{}, rec.Kind.Validate()
	}
}

// Disconnect kills nick without recording anything.
func (b *Builder) Disconnect(nick, reason string) Action {
	return Action{
		Message: ircmsg.MakeMessage(nil, "", cmdKill, appendPresent([]string{nick}, reason)...),
		Reply:   fmt.Sprintf("Killing connection for %s", nick),
	}
}

// klineArgs orders KLINE parameters as ANDKILL [duration] <mask> [reason].
func klineArgs(duration, mask, reason string) []string {
	args := appendPresent([]string{andKill}, duration)
	args = append(args, mask)

	return appendPresent(args, reason)
}

func appendPresent(args []string, optional ...string) []string {
	for _, arg := range optional {
		if arg != "" {
			args = append(args, arg)
		}
	}

	return args
}
