package ban_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/mogad0n/oraserv/internal/ban"
	"github.com/mogad0n/oraserv/internal/config"
	"github.com/mogad0n/oraserv/internal/identity"
	"github.com/mogad0n/oraserv/internal/storage"
	"github.com/stretchr/testify/require"
)

const (
	serviceHost = "irc.liberta.casa"
	bridgeHost  = "gfvnhk5qj5qaq.liberta.casa"
)

type recordingEmitter struct {
	sent []ircmsg.Message
	err  error
}

func (e *recordingEmitter) Emit(msg ircmsg.Message) error {
	if e.err != nil {
		return e.err
	}

	e.sent = append(e.sent, msg)

	return nil
}

type fixture struct {
	service *ban.Service
	tracker *identity.Tracker
	ledger  *storage.Ledger
	emitter *recordingEmitter
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()

	ledger, err := storage.OpenLedger(context.Background(), storage.NewYAMLFile(dir))
	require.NoError(t, err)

	var (
		tracker    = identity.NewTracker()
		emitter    = &recordingEmitter{}
		classifier = ban.NewClassifier(config.Enforcement{ServiceHost: serviceHost, BridgeHosts: []string{bridgeHost}})
	)

	tracker.Seen("alice", "alice", serviceHost)
	tracker.Seen("bob", "bob123", bridgeHost)
	tracker.Seen("carol", "~carol", "198.51.100.7")

	return &fixture{
		service: ban.NewService(tracker, classifier, ban.NewBuilder("NS"), ledger, emitter),
		tracker: tracker,
		ledger:  ledger,
		emitter: emitter,
		dir:     dir,
	}
}

func (f *fixture) last(t *testing.T) ircmsg.Message {
	t.Helper()
	require.NotEmpty(t, f.emitter.sent)

	return f.emitter.sent[len(f.emitter.sent)-1]
}

func TestBanServiceAccount(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Ban(context.Background(), ban.Request{Nickname: "alice", Duration: "1d", Reason: "spam", Operator: "oper"})
	require.NoError(t, err)
	require.NoError(t, result.PersistErr)
	require.Equal(t, ban.ServiceAccount, result.Class)
	require.Contains(t, result.Action.Reply, "ignored")

	msg := f.last(t)
	require.Equal(t, "NS", msg.Command)
	require.Equal(t, []string{"SUSPEND", "alice"}, msg.Params)

	rec, ok := f.ledger.Get("alice")
	require.True(t, ok)
	require.Equal(t, ban.Suspension, rec.Kind)
	require.Empty(t, rec.Mask)
	require.Equal(t, "oper", rec.SetBy)
}

func TestBanBridgedIdentity(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ban(context.Background(), ban.Request{Nickname: "bob", Duration: "1d", Reason: "spam"})
	require.NoError(t, err)

	mask := "*!bob123@" + bridgeHost
	require.Equal(t, []string{"ANDKILL", "1d", mask, "spam"}, f.last(t).Params)

	rec, ok := f.ledger.Get("bob")
	require.True(t, ok)
	require.Equal(t, ban.IdentMask, rec.Kind)
	require.Equal(t, mask, rec.Mask)
}

func TestBanGenericHost(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ban(context.Background(), ban.Request{Nickname: "carol"})
	require.NoError(t, err)
	require.Equal(t, []string{"ANDKILL", "*!*@198.51.100.7"}, f.last(t).Params)

	rec, ok := f.ledger.Get("carol")
	require.True(t, ok)
	require.Equal(t, ban.HostMask, rec.Kind)
	require.Equal(t, "*!*@198.51.100.7", rec.Mask)
}

func TestUnbanWithoutRecord(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Ban(context.Background(), ban.Request{Nickname: "carol"})
	require.NoError(t, err)
	before := f.ledger.All()
	sent := len(f.emitter.sent)

	_, err = f.service.Unban(context.Background(), "dave")
	require.ErrorIs(t, err, ban.ErrNoActiveBan)
	require.Equal(t, before, f.ledger.All())
	require.Len(t, f.emitter.sent, sent)
}

func TestBanUnknownNickname(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ban(context.Background(), ban.Request{Nickname: "ghost", Duration: "1d"})
	require.ErrorIs(t, err, identity.ErrUnknownNickname)
	require.Empty(t, f.emitter.sent)
	require.Equal(t, 0, f.ledger.Len())

	_, err = f.service.Kill(context.Background(), "ghost", "bye")
	require.ErrorIs(t, err, identity.ErrUnknownNickname)
	require.Empty(t, f.emitter.sent)
}

func TestBanThenUnbanRestoresLedger(t *testing.T) {
	for _, tc := range []struct {
		nick    string
		command string
		params  []string
	}{
		{"alice", "NS", []string{"UNSUSPEND", "alice"}},
		{"bob", "UNKLINE", []string{"*!bob123@" + bridgeHost}},
		{"carol", "UNKLINE", []string{"*!*@198.51.100.7"}},
	} {
		t.Run(tc.nick, func(t *testing.T) {
			f := newFixture(t)

			banned, err := f.service.Ban(context.Background(), ban.Request{Nickname: tc.nick, Reason: "spam"})
			require.NoError(t, err)

			// The nick may quit between ban and unban; the ledger is all that's needed.
			f.tracker.Forget(tc.nick)

			result, err := f.service.Unban(context.Background(), tc.nick)
			require.NoError(t, err)
			require.NoError(t, result.PersistErr)

			msg := f.last(t)
			require.Equal(t, tc.command, msg.Command)
			require.Equal(t, tc.params, msg.Params)
			require.Equal(t, banned.Action.Record.Target(), msg.Params[len(msg.Params)-1])

			_, ok := f.ledger.Get(tc.nick)
			require.False(t, ok)
		})
	}
}

func TestRebanOverwrites(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ban(context.Background(), ban.Request{Nickname: "carol"})
	require.NoError(t, err)

	f.tracker.Seen("carol", "~carol", "203.0.113.9")
	second, err := f.service.Ban(context.Background(), ban.Request{Nickname: "CAROL", Duration: "2h"})
	require.NoError(t, err)

	require.Equal(t, 1, f.ledger.Len())
	rec, ok := f.ledger.Get("carol")
	require.True(t, ok)
	require.Equal(t, *second.Action.Record, rec)
	require.Equal(t, "*!*@203.0.113.9", rec.Mask)
}

func TestBanSurvivesRestart(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ban(context.Background(), ban.Request{Nickname: "bob", Duration: "1d", Reason: "spam"})
	require.NoError(t, err)

	reopened, err := storage.OpenLedger(context.Background(), storage.NewYAMLFile(f.dir))
	require.NoError(t, err)
	require.Equal(t, f.ledger.All(), reopened.All())

	var (
		emitter    = &recordingEmitter{}
		classifier = ban.NewClassifier(config.Enforcement{ServiceHost: serviceHost})
		service    = ban.NewService(identity.NewTracker(), classifier, ban.NewBuilder("NS"), reopened, emitter)
	)

	_, err = service.Unban(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"*!bob123@" + bridgeHost}, emitter.sent[0].Params)
}

func TestBanEmitFailureRollsBack(t *testing.T) {
	f := newFixture(t)

	first, err := f.service.Ban(context.Background(), ban.Request{Nickname: "carol"})
	require.NoError(t, err)

	f.emitter.err = errors.New("not connected")

	_, err = f.service.Ban(context.Background(), ban.Request{Nickname: "bob"})
	require.ErrorIs(t, err, ban.ErrTransmit)
	_, ok := f.ledger.Get("bob")
	require.False(t, ok)

	f.tracker.Seen("carol", "~carol", "203.0.113.9")
	_, err = f.service.Ban(context.Background(), ban.Request{Nickname: "carol", Duration: "1d"})
	require.ErrorIs(t, err, ban.ErrTransmit)

	rec, ok := f.ledger.Get("carol")
	require.True(t, ok)
	require.Equal(t, *first.Action.Record, rec)
}

func TestUnbanEmitFailureKeepsRecord(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Ban(context.Background(), ban.Request{Nickname: "carol"})
	require.NoError(t, err)

	f.emitter.err = errors.New("not connected")

	_, err = f.service.Unban(context.Background(), "carol")
	require.ErrorIs(t, err, ban.ErrTransmit)

	_, ok := f.ledger.Get("carol")
	require.True(t, ok)
}

type failingPersister struct{}

func (failingPersister) Load(context.Context) (map[string]ban.Record, error) { return nil, nil }

func (failingPersister) Save(context.Context, map[string]ban.Record) error {
	return errors.New("read-only filesystem")
}

func (failingPersister) Close() error { return nil }

func TestPersistenceFailureIsNotFatal(t *testing.T) {
	ledger, err := storage.OpenLedger(context.Background(), failingPersister{})
	require.NoError(t, err)

	var (
		tracker = identity.NewTracker()
		emitter = &recordingEmitter{}
		service = ban.NewService(tracker, ban.NewClassifier(config.Enforcement{ServiceHost: serviceHost}),
			ban.NewBuilder("NS"), ledger, emitter)
	)

	tracker.Seen("carol", "~carol", "198.51.100.7")

	result, err := service.Ban(context.Background(), ban.Request{Nickname: "carol"})
	require.NoError(t, err)
	require.ErrorIs(t, result.PersistErr, storage.ErrPersistence)
	require.Len(t, emitter.sent, 1)

	result, err = service.Unban(context.Background(), "carol")
	require.NoError(t, err)
	require.ErrorIs(t, result.PersistErr, storage.ErrPersistence)
	require.Equal(t, 0, ledger.Len())
}

func TestKill(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Kill(context.Background(), "Carol", "flooding")
	require.NoError(t, err)
	require.Nil(t, result.Action.Record)
	require.Equal(t, "KILL", f.last(t).Command)
	require.Equal(t, []string{"carol", "flooding"}, f.last(t).Params)
	require.Equal(t, 0, f.ledger.Len())
}

func TestRecordTimestampIsUTC(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Ban(context.Background(), ban.Request{Nickname: "carol"})
	require.NoError(t, err)
	require.Equal(t, time.UTC, result.Action.Record.CreatedAt.Location())
}

func TestConcurrentBanUnban(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const rounds = 50

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 2*rounds)
	)
	for i := 0; i < rounds; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			_, err := f.service.Ban(ctx, ban.Request{Nickname: "carol", Duration: "1h", Operator: "oper"})
			errs <- err
		}()

		go func() {
			defer wg.Done()
			_, err := f.service.Unban(ctx, "CAROL")
			if errors.Is(err, ban.ErrNoActiveBan) {
				err = nil
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// Replay what went out: every UNKLINE reverses the KLINE before it.
	var (
		active bool
		mask   string
		klines int
	)
	for _, msg := range f.emitter.sent {
		switch msg.Command {
		case "KLINE":
			active, mask = true, msg.Params[len(msg.Params)-1]
			klines++
		case "UNKLINE":
			require.True(t, active, "UNKLINE without an active KLINE")
			require.Equal(t, mask, msg.Params[0])
			active = false
		default:
			t.Fatalf("unexpected command %s", msg.Command)
		}
	}
	require.Equal(t, rounds, klines)

	rec, found := f.ledger.Get("carol")
	require.Equal(t, active, found)
	if found {
		require.Equal(t, 1, f.ledger.Len())
		require.Equal(t, ban.HostMask, rec.Kind)
		require.Equal(t, "*!*@198.51.100.7", rec.Mask)
		require.Equal(t, mask, rec.Mask)
	} else {
		require.Equal(t, 0, f.ledger.Len())
	}

	reloaded, err := storage.OpenLedger(ctx, storage.NewYAMLFile(f.dir))
	require.NoError(t, err)
	require.Equal(t, f.ledger.All(), reloaded.All())
}
