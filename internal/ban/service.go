package ban

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ergochat/irc-go/ircmsg"
	"github.com/mogad0n/oraserv/internal/identity"
)

var ErrTransmit = errors.New("failed to send command")

// Resolver maps a nickname to its live identity.
type Resolver interface {
	Resolve(nick string) (identity.Identity, error)
}

// Store is the durable ledger. Put and Remove always apply the change in memory;
// a returned error only reports a failed flush.
type Store interface {
	Get(nick string) (Record, bool)
	Put(ctx context.Context, nick string, rec Record) error
	Remove(ctx context.Context, nick string) error
}

// Emitter transmits a command to the network.
type Emitter interface {
	Emit(msg ircmsg.Message) error
}

// Request is a ban as asked for by an operator.
type Request struct {
	Nickname string
	Duration string
	Reason   string
	Operator string
}

// Result describes a completed operation. PersistErr is set when the ledger
// change could not be flushed; the network side still happened.
type Result struct {
	Action     Action
	Class      Class
	PersistErr error
}

type Service struct {
	// mu serializes every operation so a ledger change and its flush commit
	// before the next command starts.
	mu         sync.Mutex
	resolver   Resolver
	classifier *Classifier
	builder    *Builder
	store      Store
	emitter    Emitter
}

func NewService(resolver Resolver, classifier *Classifier, builder *Builder, store Store, emitter Emitter) *Service {
	return &Service{
		resolver:   resolver,
		classifier: classifier,
		builder:    builder,
		store:      store,
		emitter:    emitter,
	}
}

// Ban resolves, classifies and enforces against req.Nickname. The record is
// stored before the command is sent and restored if sending fails.
func (s *Service) Ban(ctx context.Context, req Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, errResolve := s.resolver.Resolve(req.Nickname)
	if errResolve != nil {
		return Result{}, errResolve
	}

	var (
		class  = s.classifier.Classify(id.Address)
		action = s.builder.Build(id, class, req.Duration, req.Reason)
		key    = identity.Fold(req.Nickname)
		result = Result{Action: action, Class: class}
	)

	action.Record.SetBy = req.Operator

	prev, hadPrev := s.store.Get(key)

	if errPut := s.store.Put(ctx, key, *action.Record); errPut != nil {
		result.PersistErr = errPut
		s.logFlush(req.Nickname, errPut)
	}

	if errEmit := s.emitter.Emit(action.Message); errEmit != nil {
		if hadPrev {
			s.logFlush(req.Nickname, s.store.Put(ctx, key, prev))
		} else {
			s.logFlush(req.Nickname, s.store.Remove(ctx, key))
		}

		return Result{}, errors.Join(errEmit, ErrTransmit)
	}

	slog.Info("Ban applied", slog.String("nick", id.Nickname), slog.String("class", class.String()),
		slog.String("kind", string(action.Record.Kind)), slog.String("operator", req.Operator))

	return result, nil
}

// Unban reverses the active record for nick and removes it from the ledger.
func (s *Service) Unban(ctx context.Context, nick string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := identity.Fold(nick)

	rec, found := s.store.Get(key)
	if !found {
		return Result{}, ErrNoActiveBan
	}

	action, errReverse := s.builder.Reverse(rec)
	if errReverse != nil {
		return Result{}, errReverse
	}

	if errEmit := s.emitter.Emit(action.Message); errEmit != nil {
		return Result{}, errors.Join(errEmit, ErrTransmit)
	}

	result := Result{Action: action}

	if errRemove := s.store.Remove(ctx, key); errRemove != nil {
		result.PersistErr = errRemove
		s.logFlush(nick, errRemove)
	}

	slog.Info("Ban reversed", slog.String("nick", rec.Subject), slog.String("kind", string(rec.Kind)))

	return result, nil
}

// Kill disconnects a live nickname without touching the ledger.
func (s *Service) Kill(_ context.Context, nick, reason string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, errResolve := s.resolver.Resolve(nick)
	if errResolve != nil {
		return Result{}, errResolve
	}

	action := s.builder.Disconnect(id.Nickname, reason)
	if errEmit := s.emitter.Emit(action.Message); errEmit != nil {
		return Result{}, errors.Join(errEmit, ErrTransmit)
	}

	return Result{Action: action}, nil
}

func (s *Service) logFlush(nick string, err error) {
	if err != nil {
		slog.Error("Failed to flush ban ledger", slog.String("nick", nick), slog.String("error", err.Error()))
	}
}
