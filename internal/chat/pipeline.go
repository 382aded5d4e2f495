package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Tyrowin/chatgate/internal/hub"
	"github.com/Tyrowin/chatgate/internal/log"
	"github.com/Tyrowin/chatgate/internal/message"
	"github.com/Tyrowin/chatgate/internal/session"
)

// ErrInvalidMessage is returned for malformed publishes.
var ErrInvalidMessage = errors.New("invalid message")

// Admitter re-checks a connection's session before each publish.
type Admitter interface {
	Admit(ctx context.Context, token string) (session.Record, error)
}

// Appender persists messages.
type Appender interface {
	Append(ctx context.Context, m message.Message) (message.Persisted, error)
}

// Broadcaster fans payloads out to connections.
type Broadcaster interface {
	Broadcast(payload []byte) hub.Report
	Send(handle hub.Handle, payload []byte) error
}

// Pipeline runs validate, persist and broadcast for each inbound message.
type Pipeline struct {
	log  Appender
	hub  Broadcaster
	gate Admitter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithGate requires every inbound frame to come from a connection whose
// session the gate still admits.
func WithGate(gate Admitter) Option {
	return func(p *Pipeline) {
		p.gate = gate
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(store Appender, fanout Broadcaster, opts ...Option) *Pipeline {
	p := &Pipeline{log: store, hub: fanout}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish validates in, appends it to the log and broadcasts the persisted
// form to every registered connection, origin included. Nothing is broadcast
// unless the append succeeded. Validation and persistence failures are
// reported to origin only.
func (p *Pipeline) Publish(ctx context.Context, origin hub.Handle, in message.Message) (message.Persisted, error) {
	logger := log.Ctx(ctx)

	if err := validate(in); err != nil {
		p.reject(ctx, origin, CodeInvalidMessage, err.Error())
		return message.Persisted{}, err
	}

	persisted, err := p.log.Append(ctx, in)
	if err != nil {
		logger.Error().Err(err).Msg("message append failed; not broadcasting")
		p.reject(ctx, origin, CodePersistenceUnavailable, "message could not be stored")
		return message.Persisted{}, err
	}

	frame, err := Encode(EventMessage, persisted)
	if err != nil {
		logger.Error().Err(err).Str(log.FieldMessageID, persisted.ID).Msg("encode persisted message")
		return persisted, err
	}

	report := p.hub.Broadcast(frame)
	if len(report.Failed) > 0 {
		logger.Warn().
			Str(log.FieldMessageID, persisted.ID).
			Strs("failed", report.Failed).
			Msg("broadcast partially failed")
	}
	logger.Debug().
		Str(log.FieldMessageID, persisted.ID).
		Int("delivered", report.Delivered).
		Msg("message published")
	return persisted, nil
}

// HandleFrame is the entry point for one raw inbound frame of c. Rate limiting
// and, with a gate, session admission happen before decoding. An
// authenticated connection always publishes under its own username.
func (p *Pipeline) HandleFrame(ctx context.Context, c *hub.Client, frame []byte) {
	ctx = log.WithLogger(ctx, *c.Logger())

	if !c.Allow() {
		burst, per := c.RateLimit()
		logger := log.Ctx(ctx)
		logger.Warn().Int("burst", burst).Dur("per", per).Msg("rate limit exceeded; discarding message")
		p.reject(ctx, c, CodeRateLimited, fmt.Sprintf("at most %d messages per %s", burst, per))
		return
	}

	username := c.Username()
	if p.gate != nil {
		rec, err := p.gate.Admit(ctx, c.Token())
		if err != nil {
			logger := log.Ctx(ctx)
			logger.Info().Err(err).Msg("session no longer admitted; discarding message")
			p.reject(ctx, c, CodeUnauthorized, "session expired or logged out")
			return
		}
		username = rec.Username
	}

	env, err := Decode(frame)
	if err != nil {
		p.reject(ctx, c, CodeInvalidMessage, err.Error())
		return
	}
	data, err := DecodeNewMessage(env)
	if err != nil {
		p.reject(ctx, c, CodeInvalidMessage, err.Error())
		return
	}

	in := message.Message{Author: data.Author, Body: data.Body}
	if username != "" {
		in.Author = username
	}
	_, _ = p.Publish(ctx, c, in)
}

// Handler binds HandleFrame to ctx for use as a hub.MessageHandler.
func (p *Pipeline) Handler(ctx context.Context) hub.MessageHandler {
	return func(c *hub.Client, frame []byte) {
		p.HandleFrame(ctx, c, frame)
	}
}

func (p *Pipeline) reject(ctx context.Context, origin hub.Handle, code ErrorCode, msg string) {
	if origin == nil {
		return
	}
	frame, err := Encode(EventError, ErrorData{Code: code, Message: msg})
	if err != nil {
		return
	}
	if err := p.hub.Send(origin, frame); err != nil {
		logger := log.Ctx(ctx)
		logger.Debug().Err(err).Str("code", string(code)).Msg("could not report error to originator")
	}
}

func validate(m message.Message) error {
	switch {
	case strings.TrimSpace(m.Author) == "":
		return fmt.Errorf("%w: author is required", ErrInvalidMessage)
	case utf8.RuneCountInString(m.Author) > message.MaxAuthorLength:
		return fmt.Errorf("%w: author exceeds %d characters", ErrInvalidMessage, message.MaxAuthorLength)
	case strings.TrimSpace(m.Body) == "":
		return fmt.Errorf("%w: body is required", ErrInvalidMessage)
	}
	return nil
}
