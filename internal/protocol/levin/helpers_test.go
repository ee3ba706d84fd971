package levin

import (
	"sync"

	"github.com/google/uuid"
)

type sentWrite struct {
	Peer      PeerHandle
	Broadcast bool
	Data      []byte
}

// recordingTransport captures writes and can refuse the Nth write. Header and
// payload count as separate writes.
type recordingTransport struct {
	mu     sync.Mutex
	writes []sentWrite
	failAt map[int]bool
	sends  int
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{failAt: make(map[int]bool)}
}

func (r *recordingTransport) SendFrame(peer PeerHandle, header, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.record(peer, header) {
		return ErrHeaderWrite
	}
	if len(payload) == 0 {
		return nil
	}
	if !r.record(peer, payload) {
		return ErrPayloadWrite
	}
	return nil
}

func (r *recordingTransport) record(peer PeerHandle, b []byte) bool {
	r.sends++
	if r.failAt[r.sends] {
		return false
	}
	r.writes = append(r.writes, sentWrite{Peer: peer, Data: append([]byte(nil), b...)})
	return true
}

func (r *recordingTransport) BroadcastFrame(header, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writes = append(r.writes, sentWrite{Broadcast: true, Data: append([]byte(nil), header...)})
	if len(payload) > 0 {
		r.writes = append(r.writes, sentWrite{Broadcast: true, Data: append([]byte(nil), payload...)})
	}
}

func (r *recordingTransport) Writes() []sentWrite {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentWrite(nil), r.writes...)
}

type handlerCall struct {
	Session *PeerSession
	Command Command
	Payload Payload
}

type recordingHandler struct {
	mu    sync.Mutex
	calls []handlerCall
	then  func(out Outbound, s *PeerSession, cmd Command)
}

func (h *recordingHandler) HandleCommand(out Outbound, s *PeerSession, cmd Command, p Payload) {
	h.mu.Lock()
	h.calls = append(h.calls, handlerCall{Session: s, Command: cmd, Payload: p})
	then := h.then
	h.mu.Unlock()
	if then != nil {
		then(out, s, cmd)
	}
}

func (h *recordingHandler) Calls() []handlerCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]handlerCall(nil), h.calls...)
}

func buildFrame(code CommandID, payload []byte, responseRequired bool, flags uint32) []byte {
	h := WireHeader{
		Signature:        Signature,
		PayloadSize:      uint64(len(payload)),
		ResponseRequired: responseRequired,
		CommandCode:      uint32(code),
		Flags:            flags,
		ProtocolVersion:  ProtocolVersion1,
	}
	return append(EncodeHeader(h), payload...)
}

func seqPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i + 1)
	}
	return b
}

func newTestSession() *PeerSession {
	return NewPeerSession(uuid.New(), "127.0.0.1:1", false)
}
