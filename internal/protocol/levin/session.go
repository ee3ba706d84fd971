package levin

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// PeerHandle identifies one transport connection.
type PeerHandle = uuid.UUID

// ReadPhase tracks which part of a frame the session is assembling.
type ReadPhase uint8

const (
	AwaitingHeader ReadPhase = iota
	AwaitingBody
)

func (p ReadPhase) String() string {
	if p == AwaitingBody {
		return "awaiting_body"
	}
	return "awaiting_header"
}

// TrustState gates which commands the dispatcher routes for a session.
type TrustState uint8

const (
	Unverified TrustState = iota
	Verified
)

func (t TrustState) String() string {
	if t == Verified {
		return "verified"
	}
	return "unverified"
}

// PeerInfo is what handlers learn about the remote node.
type PeerInfo struct {
	PeerID uint64
	Height uint32
	Port   uint32
}

// PeerSession is the per-connection parse and trust state.
//
// Phase, pending header and buffer belong to the connection's serialized
// event flow and are not locked. Trust and info are read by other goroutines
// (admin snapshots) and are guarded by mu.
type PeerSession struct {
	Handle      PeerHandle
	RemoteAddr  string
	Outbound    bool
	ConnectedAt time.Time

	phase   ReadPhase
	pending WireHeader
	buf     []byte

	mu    sync.RWMutex
	trust TrustState
	info  PeerInfo
}

func NewPeerSession(handle PeerHandle, remoteAddr string, outbound bool) *PeerSession {
	return &PeerSession{
		Handle:      handle,
		RemoteAddr:  remoteAddr,
		Outbound:    outbound,
		ConnectedAt: time.Now(),
	}
}

// Reset returns the session to AwaitingHeader with an empty buffer.
func (s *PeerSession) Reset() {
	s.phase = AwaitingHeader
	s.pending = WireHeader{}
	s.buf = nil
}

func (s *PeerSession) Phase() ReadPhase {
	return s.phase
}

// PendingHeader returns the accepted header while the body is assembling.
func (s *PeerSession) PendingHeader() (WireHeader, bool) {
	if s.phase != AwaitingBody {
		return WireHeader{}, false
	}
	return s.pending, true
}

func (s *PeerSession) Buffered() int {
	return len(s.buf)
}

func (s *PeerSession) Trust() TrustState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trust
}

func (s *PeerSession) SetTrust(t TrustState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trust = t
}

func (s *PeerSession) Verified() bool {
	return s.Trust() == Verified
}

func (s *PeerSession) Info() PeerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *PeerSession) SetInfo(info PeerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = info
}

// SetHeight records the chain height the peer last reported.
func (s *PeerSession) SetHeight(height uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Height = height
}
