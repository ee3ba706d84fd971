package levin

import (
	"errors"

	"github.com/danmuck/levin/internal/observability"
	"github.com/rs/zerolog"
)

// Transport is the send side of the connection layer.
type Transport interface {
	// SendFrame writes header then payload to one connection with no other
	// write in between. The payload is not written when the header write
	// fails. Errors wrap ErrHeaderWrite or ErrPayloadWrite.
	SendFrame(peer PeerHandle, header, payload []byte) error
	// BroadcastFrame writes header then payload to every live connection.
	BroadcastFrame(header, payload []byte)
}

// Framer builds headers for outbound commands and hands header and payload
// to the transport as one frame. Send failures are logged and counted; they
// never reach the caller.
type Framer struct {
	cfg       Config
	transport Transport
	log       zerolog.Logger
}

var _ Outbound = (*Framer)(nil)

func NewFramer(cfg Config, transport Transport, logger zerolog.Logger) *Framer {
	return &Framer{
		cfg:       cfg.WithDefaults(),
		transport: transport,
		log:       logger.With().Str("component", "levin.framer").Logger(),
	}
}

// Notify sends a one-way command to peer.
func (f *Framer) Notify(peer PeerHandle, code CommandID, payload []byte) {
	f.send(peer, f.header(code, payload, false, FlagRequest, 0), payload)
}

// NotifyAll sends a one-way command to every connected peer.
func (f *Framer) NotifyAll(code CommandID, payload []byte) {
	head := EncodeHeader(f.header(code, payload, false, FlagRequest, 0))
	f.transport.BroadcastFrame(head, payload)
	observability.RecordBytes("out", len(head)+len(payload))
	f.log.Debug().
		Str("command", code.String()).
		Int("bytes", len(payload)).
		Msg("levin.Framer.NotifyAll broadcast")
}

// Request sends a command that expects a response.
func (f *Framer) Request(peer PeerHandle, code CommandID, payload []byte) {
	f.send(peer, f.header(code, payload, true, FlagRequest, 0), payload)
}

// Reply answers a received command with a response frame.
func (f *Framer) Reply(peer PeerHandle, code CommandID, payload []byte, success, responseRequired bool) {
	ret := RetCodeFailure
	if success {
		ret = RetCodeSuccess
	}
	f.send(peer, f.header(code, payload, responseRequired, FlagResponse, ret), payload)
}

func (f *Framer) header(code CommandID, payload []byte, responseRequired bool, flags uint32, ret int32) WireHeader {
	return WireHeader{
		Signature:        f.cfg.Signature,
		PayloadSize:      uint64(len(payload)),
		ResponseRequired: responseRequired,
		CommandCode:      uint32(code),
		ReturnCode:       ret,
		Flags:            flags,
		ProtocolVersion:  f.cfg.ProtocolVersion,
	}
}

func (f *Framer) send(peer PeerHandle, h WireHeader, payload []byte) {
	code := CommandID(h.CommandCode)
	head := EncodeHeader(h)
	err := f.transport.SendFrame(peer, head, payload)
	switch {
	case err == nil:
		observability.RecordBytes("out", len(head)+len(payload))
	case errors.Is(err, ErrPayloadWrite):
		observability.RecordBytes("out", len(head))
		observability.RecordSendFailure(code.MetricLabel(), "payload")
		f.log.Warn().
			Err(err).
			Str("peer", peer.String()).
			Str("command", code.String()).
			Int("bytes", len(payload)).
			Msg("levin.Framer payload send failed")
	default:
		observability.RecordSendFailure(code.MetricLabel(), "header")
		f.log.Warn().
			Err(err).
			Str("peer", peer.String()).
			Str("command", code.String()).
			Msg("levin.Framer header send failed; payload suppressed")
	}
}
