package levin

import (
	"encoding/binary"
	"fmt"
)

const (
	// HeaderSize is the fixed on-wire header width.
	HeaderSize = 33

	Signature        uint64 = 0x0101010101012101
	MaxPacketSize    uint64 = 100000000
	ProtocolVersion1 uint32 = 1

	FlagRequest  uint32 = 0x01
	FlagResponse uint32 = 0x02

	RetCodeSuccess int32 = 1
	RetCodeFailure int32 = 0
)

// WireHeader is the fixed Levin frame header.
type WireHeader struct {
	Signature        uint64
	PayloadSize      uint64
	ResponseRequired bool
	CommandCode      uint32
	ReturnCode       int32
	Flags            uint32
	ProtocolVersion  uint32
}

func (h WireHeader) IsResponse() bool {
	return h.Flags&FlagResponse == FlagResponse
}

// Validate checks the header against the signature and size ceiling in cfg.
func (h WireHeader) Validate(cfg Config) error {
	if h.Signature != cfg.Signature {
		return fmt.Errorf("%w: got=%#016x want=%#016x", ErrInvalidSignature, h.Signature, cfg.Signature)
	}
	if h.PayloadSize > cfg.MaxPacketSize {
		return fmt.Errorf("%w: size=%d max=%d", ErrPayloadTooLarge, h.PayloadSize, cfg.MaxPacketSize)
	}
	return nil
}

func EncodeHeader(h WireHeader) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.Signature)
	binary.LittleEndian.PutUint64(buf[8:16], h.PayloadSize)
	if h.ResponseRequired {
		buf[16] = 1
	}
	binary.LittleEndian.PutUint32(buf[17:21], h.CommandCode)
	binary.LittleEndian.PutUint32(buf[21:25], uint32(h.ReturnCode))
	binary.LittleEndian.PutUint32(buf[25:29], h.Flags)
	binary.LittleEndian.PutUint32(buf[29:33], h.ProtocolVersion)
	return buf
}

// DecodeHeader reads the first HeaderSize bytes of b. Any 33 bytes decode;
// validity is checked by the caller.
func DecodeHeader(b []byte) (WireHeader, error) {
	if len(b) < HeaderSize {
		return WireHeader{}, fmt.Errorf("%w: have=%d need=%d", ErrTruncated, len(b), HeaderSize)
	}
	return WireHeader{
		Signature:        binary.LittleEndian.Uint64(b[0:8]),
		PayloadSize:      binary.LittleEndian.Uint64(b[8:16]),
		ResponseRequired: b[16] != 0,
		CommandCode:      binary.LittleEndian.Uint32(b[17:21]),
		ReturnCode:       int32(binary.LittleEndian.Uint32(b[21:25])),
		Flags:            binary.LittleEndian.Uint32(b[25:29]),
		ProtocolVersion:  binary.LittleEndian.Uint32(b[29:33]),
	}, nil
}
