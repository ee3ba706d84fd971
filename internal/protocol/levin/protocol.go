package levin

import (
	"github.com/danmuck/levin/internal/observability"
	"github.com/rs/zerolog"
)

// EventKind enumerates transport events the protocol consumes.
type EventKind uint8

const (
	EventPeerConnected EventKind = iota + 1
	EventPeerDisconnected
	EventDataReceived
)

func (k EventKind) String() string {
	switch k {
	case EventPeerConnected:
		return "peer_connected"
	case EventPeerDisconnected:
		return "peer_disconnected"
	case EventDataReceived:
		return "data_received"
	default:
		return "unknown"
	}
}

// Event is one transport occurrence for one connection.
type Event struct {
	Kind       EventKind
	Peer       PeerHandle
	RemoteAddr string
	Outbound   bool
	Chunk      []byte
}

func PeerConnected(peer PeerHandle, remoteAddr string, outbound bool) Event {
	return Event{Kind: EventPeerConnected, Peer: peer, RemoteAddr: remoteAddr, Outbound: outbound}
}

func PeerDisconnected(peer PeerHandle) Event {
	return Event{Kind: EventPeerDisconnected, Peer: peer}
}

func DataReceived(peer PeerHandle, chunk []byte) Event {
	return Event{Kind: EventDataReceived, Peer: peer, Chunk: chunk}
}

// EventSink consumes transport events. Events for one peer must be delivered
// one at a time, in order; different peers may be delivered concurrently.
type EventSink interface {
	HandleEvent(ev Event) []Command
}

// ConnectHook runs after a session is registered.
type ConnectHook func(out Outbound, s *PeerSession)

// DisconnectHook runs after a session is removed from the registry.
type DisconnectHook func(s *PeerSession)

// Protocol ties the registry, reassembler, dispatcher and framer together.
type Protocol struct {
	cfg        Config
	registry   *Registry
	reasm      *Reassembler
	dispatcher *Dispatcher
	framer     *Framer
	payloads   *PayloadTable
	onConnect  ConnectHook
	onClose    DisconnectHook
	log        zerolog.Logger
}

var _ EventSink = (*Protocol)(nil)

type Option func(*Protocol)

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Protocol) {
		p.log = logger
	}
}

func WithPayloadTable(t *PayloadTable) Option {
	return func(p *Protocol) {
		p.payloads = t
	}
}

func WithConnectHook(fn ConnectHook) Option {
	return func(p *Protocol) {
		p.onConnect = fn
	}
}

func WithDisconnectHook(fn DisconnectHook) Option {
	return func(p *Protocol) {
		p.onClose = fn
	}
}

// New builds a Protocol over transport. The zero logger discards output.
func New(cfg Config, transport Transport, opts ...Option) *Protocol {
	cfg = cfg.WithDefaults()
	p := &Protocol{
		cfg:      cfg,
		registry: NewRegistry(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.payloads == nil {
		p.payloads = NewPayloadTable()
	}
	p.reasm = NewReassembler(cfg, p.log)
	p.dispatcher = NewDispatcher(p.payloads, p.log)
	p.framer = NewFramer(cfg, transport, p.log)
	p.log = p.log.With().Str("component", "levin.protocol").Logger()
	return p
}

func (p *Protocol) Config() Config {
	return p.cfg
}

func (p *Protocol) Registry() *Registry {
	return p.registry
}

func (p *Protocol) Dispatcher() *Dispatcher {
	return p.dispatcher
}

func (p *Protocol) Payloads() *PayloadTable {
	return p.payloads
}

func (p *Protocol) Outbound() Outbound {
	return p.framer
}

func (p *Protocol) Handle(code CommandID, h Handler) {
	p.dispatcher.Handle(code, h)
}

// HandleEvent applies one transport event and returns the commands that
// completed, whether or not they were routed to a handler.
func (p *Protocol) HandleEvent(ev Event) []Command {
	switch ev.Kind {
	case EventPeerConnected:
		p.connect(ev)
		return nil
	case EventPeerDisconnected:
		p.disconnect(ev)
		return nil
	case EventDataReceived:
		return p.receive(ev)
	default:
		p.log.Warn().Uint8("kind", uint8(ev.Kind)).Msg("levin.Protocol.HandleEvent unknown event")
		return nil
	}
}

func (p *Protocol) connect(ev Event) {
	s := NewPeerSession(ev.Peer, ev.RemoteAddr, ev.Outbound)
	if _, replaced := p.registry.Add(s); replaced {
		p.log.Warn().Str("peer", ev.Peer.String()).Msg("levin.Protocol stale session replaced")
	}
	observability.SetPeers(p.registry.Len())
	p.log.Debug().
		Str("peer", ev.Peer.String()).
		Str("remote", ev.RemoteAddr).
		Bool("outbound", ev.Outbound).
		Msg("levin.Protocol peer connected")
	if p.onConnect != nil {
		p.onConnect(p.framer, s)
	}
}

func (p *Protocol) disconnect(ev Event) {
	s, ok := p.registry.Remove(ev.Peer)
	observability.SetPeers(p.registry.Len())
	if !ok {
		return
	}
	p.log.Debug().
		Str("peer", ev.Peer.String()).
		Int("dropped", s.Buffered()).
		Msg("levin.Protocol peer disconnected")
	if p.onClose != nil {
		p.onClose(s)
	}
}

func (p *Protocol) receive(ev Event) []Command {
	s, ok := p.registry.Get(ev.Peer)
	if !ok {
		p.log.Debug().
			Str("peer", ev.Peer.String()).
			Int("bytes", len(ev.Chunk)).
			Msg("levin.Protocol data for unknown peer")
		return nil
	}
	frames := p.reasm.Feed(s, ev.Chunk)
	if len(frames) == 0 {
		return nil
	}
	cmds := make([]Command, 0, len(frames))
	for _, f := range frames {
		cmd := f.Command()
		p.dispatcher.Dispatch(p.framer, s, cmd)
		cmds = append(cmds, cmd)
	}
	return cmds
}
