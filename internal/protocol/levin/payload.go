package levin

import (
	"fmt"
	"sync"
)

// Payload is a decoded command body. Each command code resolves to its own
// concrete type; codes with no registered decoder resolve to UnknownPayload.
type Payload interface {
	Command() CommandID
}

// UnknownPayload carries the raw body of a code with no registered decoder.
type UnknownPayload struct {
	Code CommandID
	Raw  []byte
}

func (p UnknownPayload) Command() CommandID {
	return p.Code
}

// DecodeFunc decodes a command body. Requests and responses of the same code
// may use different layouts, so the command is passed whole.
type DecodeFunc func(cmd Command) (Payload, error)

// PayloadTable maps command codes to decoders.
type PayloadTable struct {
	mu       sync.RWMutex
	decoders map[CommandID]DecodeFunc
}

func NewPayloadTable() *PayloadTable {
	return &PayloadTable{decoders: make(map[CommandID]DecodeFunc)}
}

func (t *PayloadTable) Register(code CommandID, fn DecodeFunc) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decoders[code] = fn
}

func (t *PayloadTable) Known(code CommandID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.decoders[code]
	return ok
}

// Decode resolves cmd's body. Errors wrap ErrMalformedPayload.
func (t *PayloadTable) Decode(cmd Command) (Payload, error) {
	t.mu.RLock()
	fn, ok := t.decoders[cmd.Code]
	t.mu.RUnlock()
	if !ok {
		return UnknownPayload{Code: cmd.Code, Raw: cmd.Payload}, nil
	}
	p, err := fn(cmd)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, cmd.Code, err)
	}
	return p, nil
}
