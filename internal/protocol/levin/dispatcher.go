package levin

import (
	"encoding/hex"
	"sync"

	"github.com/danmuck/levin/internal/observability"
	"github.com/rs/zerolog"
)

// Outbound is the send surface handlers use to answer or notify peers.
type Outbound interface {
	Notify(peer PeerHandle, code CommandID, payload []byte)
	NotifyAll(code CommandID, payload []byte)
	Request(peer PeerHandle, code CommandID, payload []byte)
	Reply(peer PeerHandle, code CommandID, payload []byte, success, responseRequired bool)
}

// Handler runs the business logic for one command code.
type Handler interface {
	HandleCommand(out Outbound, s *PeerSession, cmd Command, p Payload)
}

type HandlerFunc func(out Outbound, s *PeerSession, cmd Command, p Payload)

func (f HandlerFunc) HandleCommand(out Outbound, s *PeerSession, cmd Command, p Payload) {
	f(out, s, cmd, p)
}

// Outcome reports what the dispatcher did with a command.
type Outcome uint8

const (
	Routed Outcome = iota
	Ignored
	Untrusted
	Malformed
)

func (o Outcome) String() string {
	switch o {
	case Routed:
		return "routed"
	case Ignored:
		return "ignored"
	case Untrusted:
		return "untrusted"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Dispatcher routes completed commands to handlers.
//
// Handshake is always routed so an unverified session can become verified.
// Every other code is routed only for verified sessions, by exact match.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[CommandID]Handler

	payloads *PayloadTable
	log      zerolog.Logger
}

func NewDispatcher(payloads *PayloadTable, logger zerolog.Logger) *Dispatcher {
	if payloads == nil {
		payloads = NewPayloadTable()
	}
	return &Dispatcher{
		handlers: make(map[CommandID]Handler),
		payloads: payloads,
		log:      logger.With().Str("component", "levin.dispatcher").Logger(),
	}
}

func (d *Dispatcher) Handle(code CommandID, h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[code] = h
}

func (d *Dispatcher) HandleFunc(code CommandID, fn HandlerFunc) {
	d.Handle(code, fn)
}

func (d *Dispatcher) Payloads() *PayloadTable {
	return d.payloads
}

func (d *Dispatcher) Dispatch(out Outbound, s *PeerSession, cmd Command) Outcome {
	outcome := d.dispatch(out, s, cmd)
	observability.RecordDispatch(cmd.Code.MetricLabel(), outcome.String())
	return outcome
}

func (d *Dispatcher) dispatch(out Outbound, s *PeerSession, cmd Command) Outcome {
	if cmd.Code != CmdHandshake && !s.Verified() {
		d.log.Debug().
			Str("peer", s.Handle.String()).
			Uint32("command", uint32(cmd.Code)).
			Bool("notification", cmd.IsNotification).
			Bool("response", cmd.IsResponse).
			Int("bytes", len(cmd.Payload)).
			Str("data", hex.EncodeToString(cmd.Payload)).
			Msg("levin.Dispatcher command from unverified peer")
		return Untrusted
	}

	d.mu.RLock()
	h, ok := d.handlers[cmd.Code]
	d.mu.RUnlock()
	if !ok {
		d.log.Debug().
			Str("peer", s.Handle.String()).
			Uint32("command", uint32(cmd.Code)).
			Msg("levin.Dispatcher no handler")
		return Ignored
	}

	p, err := d.payloads.Decode(cmd)
	if err != nil {
		d.log.Warn().
			Err(err).
			Str("peer", s.Handle.String()).
			Str("command", cmd.Code.String()).
			Msg("levin.Dispatcher payload decode failed")
		return Malformed
	}
	h.HandleCommand(out, s, cmd, p)
	return Routed
}
