package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/levin/internal/observability"
	"github.com/danmuck/levin/internal/protocol/levin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoEventSink = errors.New("tcp: no event sink")
	ErrClosed      = errors.New("tcp: server closed")
)

type peerConn struct {
	id       levin.PeerHandle
	nc       net.Conn
	outbound bool

	writeMu sync.Mutex
}

func (c *peerConn) direction() string {
	if c.outbound {
		return "outbound"
	}
	return "inbound"
}

// Server owns every inbound and outbound connection and implements
// levin.Transport over them.
type Server struct {
	cfg  Config
	log  zerolog.Logger
	sink levin.EventSink

	connsMu sync.RWMutex
	conns   map[levin.PeerHandle]*peerConn

	wg     sync.WaitGroup
	closed atomic.Bool
}

var _ levin.Transport = (*Server)(nil)

func NewServer(cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		cfg:   cfg.WithDefaults(),
		log:   logger.With().Str("component", "tcp.server").Logger(),
		conns: make(map[levin.PeerHandle]*peerConn),
	}
}

// SetEventSink must be called before Serve or Dial.
func (s *Server) SetEventSink(sink levin.EventSink) {
	s.sink = sink
}

func (s *Server) Config() Config {
	return s.cfg
}

func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.cfg.ListenAddr)
}

// Serve accepts connections on ln until ctx is canceled or ln fails. On
// return every tracked connection is closed.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.sink == nil {
		return ErrNoEventSink
	}
	defer ln.Close()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
			_ = ln.Close()
		case <-done:
		}
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("tcp.Server.Serve listening")
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if _, err := s.attach(nc, false); err != nil {
			_ = nc.Close()
		}
	}
}

// Dial connects to addr and registers the connection as outbound.
func (s *Server) Dial(ctx context.Context, addr string) (levin.PeerHandle, error) {
	if s.sink == nil {
		return uuid.Nil, ErrNoEventSink
	}
	d := net.Dialer{Timeout: s.cfg.DialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("tcp: dial %s: %w", addr, err)
	}
	id, err := s.attach(nc, true)
	if err != nil {
		_ = nc.Close()
		return uuid.Nil, err
	}
	return id, nil
}

func (s *Server) attach(nc net.Conn, outbound bool) (levin.PeerHandle, error) {
	c := &peerConn{id: uuid.New(), nc: nc, outbound: outbound}
	s.connsMu.Lock()
	if s.closed.Load() {
		s.connsMu.Unlock()
		return uuid.Nil, ErrClosed
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	s.connsMu.Unlock()

	observability.RecordConnection(c.direction(), "open")
	s.log.Debug().
		Str("peer", c.id.String()).
		Str("remote", nc.RemoteAddr().String()).
		Bool("outbound", outbound).
		Msg("tcp.Server connection opened")

	// connected is delivered before the read goroutine starts so it always
	// precedes data for the same handle
	s.sink.HandleEvent(levin.PeerConnected(c.id, nc.RemoteAddr().String(), outbound))
	go s.readLoop(c)
	return c.id, nil
}

func (s *Server) readLoop(c *peerConn) {
	defer s.wg.Done()
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			s.sink.HandleEvent(levin.DataReceived(c.id, buf[:n]))
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Debug().Err(err).Str("peer", c.id.String()).Msg("tcp.Server read ended")
			}
			break
		}
	}
	s.drop(c)
	s.sink.HandleEvent(levin.PeerDisconnected(c.id))
	observability.RecordConnection(c.direction(), "close")
}

func (s *Server) drop(c *peerConn) {
	s.connsMu.Lock()
	if cur, ok := s.conns[c.id]; ok && cur == c {
		delete(s.conns, c.id)
	}
	s.connsMu.Unlock()
	_ = c.nc.Close()
}

func (s *Server) lookup(peer levin.PeerHandle) (*peerConn, bool) {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	c, ok := s.conns[peer]
	return c, ok
}

// Send writes b to peer as a single unit.
func (s *Server) Send(peer levin.PeerHandle, b []byte) bool {
	return s.SendFrame(peer, b, nil) == nil
}

// SendFrame writes header then payload under the connection's write lock so
// frames from concurrent senders never interleave. A failed write closes the
// connection; the read goroutine then reports the disconnect.
func (s *Server) SendFrame(peer levin.PeerHandle, header, payload []byte) error {
	c, ok := s.lookup(peer)
	if !ok {
		return fmt.Errorf("%w: unknown peer %s", levin.ErrHeaderWrite, peer)
	}
	return s.writeFrame(c, header, payload)
}

func (s *Server) writeFrame(c *peerConn, header, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.write(c, header); err != nil {
		return fmt.Errorf("%w: %w", levin.ErrHeaderWrite, err)
	}
	if len(payload) == 0 {
		return nil
	}
	if err := s.write(c, payload); err != nil {
		return fmt.Errorf("%w: %w", levin.ErrPayloadWrite, err)
	}
	return nil
}

// write expects c.writeMu to be held.
func (s *Server) write(c *peerConn, b []byte) error {
	if _, err := c.nc.Write(b); err != nil {
		s.log.Warn().Err(err).Str("peer", c.id.String()).Msg("tcp.Server write failed; closing")
		_ = c.nc.Close()
		return err
	}
	return nil
}

func (s *Server) BroadcastFrame(header, payload []byte) {
	for _, c := range s.snapshot() {
		_ = s.writeFrame(c, header, payload)
	}
}

// Disconnect closes one connection.
func (s *Server) Disconnect(peer levin.PeerHandle) bool {
	c, ok := s.lookup(peer)
	if !ok {
		return false
	}
	_ = c.nc.Close()
	return true
}

func (s *Server) Len() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

func (s *Server) snapshot() []*peerConn {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	out := make([]*peerConn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Close stops new connections, closes every tracked connection and waits for
// their read goroutines to report disconnects.
func (s *Server) Close() {
	s.connsMu.Lock()
	s.closed.Store(true)
	conns := make([]*peerConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.connsMu.Unlock()
	for _, c := range conns {
		_ = c.nc.Close()
	}
	s.wg.Wait()
}
