package levin

import (
	"sort"
	"sync"
	"time"
)

// SessionSnapshot is a copy of the externally visible session state.
type SessionSnapshot struct {
	Handle      string    `json:"handle"`
	RemoteAddr  string    `json:"remote_addr"`
	Outbound    bool      `json:"outbound"`
	ConnectedAt time.Time `json:"connected_at"`
	Trust       string    `json:"trust"`
	PeerID      uint64    `json:"peer_id"`
	Height      uint32    `json:"height"`
}

// Registry maps connection handles to sessions. All methods are safe for
// concurrent use; a session pointer returned by Get stays valid after Remove
// but is no longer reachable through the registry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[PeerHandle]*PeerSession
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[PeerHandle]*PeerSession),
	}
}

// Add installs s under its handle and returns the session it replaced, if any.
func (r *Registry) Add(s *PeerSession) (*PeerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.sessions[s.Handle]
	r.sessions[s.Handle] = s
	return prev, ok
}

func (r *Registry) Remove(handle PeerHandle) (*PeerSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[handle]
	if ok {
		delete(r.sessions, handle)
	}
	return s, ok
}

func (r *Registry) Get(handle PeerHandle) (*PeerSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[handle]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns sessions ordered by connect time then handle.
func (r *Registry) Snapshot() []SessionSnapshot {
	r.mu.RLock()
	sessions := make([]*PeerSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		info := s.Info()
		out = append(out, SessionSnapshot{
			Handle:      s.Handle.String(),
			RemoteAddr:  s.RemoteAddr,
			Outbound:    s.Outbound,
			ConnectedAt: s.ConnectedAt,
			Trust:       s.Trust().String(),
			PeerID:      info.PeerID,
			Height:      info.Height,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}
