package levin

import (
	"errors"

	"github.com/danmuck/levin/internal/observability"
	"github.com/rs/zerolog"
)

// Reassembler turns per-connection chunks into complete frames. It keeps no
// state of its own; all progress lives in the PeerSession, so one Reassembler
// serves every connection. Calls for the same session must be serialized.
type Reassembler struct {
	cfg Config
	log zerolog.Logger
}

func NewReassembler(cfg Config, logger zerolog.Logger) *Reassembler {
	return &Reassembler{
		cfg: cfg.WithDefaults(),
		log: logger.With().Str("component", "levin.reassembler").Logger(),
	}
}

// Feed appends chunk to the session and returns every frame it completes.
//
// Header bytes are buffered until a full header is present. A header that
// fails validation drops everything buffered for the session. Bytes past the
// end of a completed frame start the next frame.
func (r *Reassembler) Feed(s *PeerSession, chunk []byte) []Frame {
	if len(chunk) == 0 {
		return nil
	}
	observability.RecordBytes("in", len(chunk))
	s.buf = append(s.buf, chunk...)

	var frames []Frame
	for {
		if s.phase == AwaitingHeader {
			h, err := DecodeHeader(s.buf)
			if err != nil {
				// short header, wait for more bytes
				return frames
			}
			if err := h.Validate(r.cfg); err != nil {
				r.reject(s, h, err)
				return frames
			}
			s.pending = h
			s.phase = AwaitingBody
		}

		end := uint64(HeaderSize) + s.pending.PayloadSize
		if uint64(len(s.buf)) < end {
			return frames
		}

		payload := make([]byte, s.pending.PayloadSize)
		copy(payload, s.buf[HeaderSize:end])
		f := Frame{Header: s.pending, Payload: payload}
		frames = append(frames, f)
		observability.RecordFrame(CommandID(f.Header.CommandCode).MetricLabel())

		rest := s.buf[end:]
		s.Reset()
		if len(rest) == 0 {
			return frames
		}
		r.log.Debug().
			Str("peer", s.Handle.String()).
			Int("carried", len(rest)).
			Msg("levin.Reassembler.Feed bytes carried into next frame")
		s.buf = append(make([]byte, 0, len(rest)), rest...)
	}
}

func (r *Reassembler) reject(s *PeerSession, h WireHeader, err error) {
	reason := "invalid"
	switch {
	case errors.Is(err, ErrInvalidSignature):
		reason = "signature"
	case errors.Is(err, ErrPayloadTooLarge):
		reason = "oversize"
	}
	observability.RecordHeaderReject(reason)
	r.log.Debug().
		Err(err).
		Str("peer", s.Handle.String()).
		Uint32("command", h.CommandCode).
		Int("dropped", len(s.buf)).
		Msg("levin.Reassembler.Feed header rejected")
	s.Reset()
}
