// Package node assembles a levin peer: TCP transport, protocol state,
// command handlers, peer dialing and the admin HTTP server.
package node

import (
	"context"
	"encoding/binary"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/levin/internal/admin"
	"github.com/danmuck/levin/internal/config"
	"github.com/danmuck/levin/internal/protocol/commands"
	"github.com/danmuck/levin/internal/protocol/levin"
	"github.com/danmuck/levin/internal/transport/tcp"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Version is reported by the admin /health endpoint.
var Version = "0.1.0"

type Node struct {
	cfg     config.NodeConfig
	log     zerolog.Logger
	backoff BackoffConfig

	chain     *commands.MemoryChain
	handlers  *commands.Handlers
	transport *tcp.Server
	proto     *levin.Protocol
	admin     *admin.Server

	watchMu sync.Mutex
	watches map[levin.PeerHandle]chan struct{}

	ready atomic.Bool
}

// New validates cfg and wires every component. A zero PeerID is replaced
// with a random one.
func New(cfg config.NodeConfig, logger zerolog.Logger) (*Node, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.PeerID == 0 {
		id := uuid.New()
		cfg.PeerID = binary.LittleEndian.Uint64(id[:8])
	}

	n := &Node{
		cfg:     cfg,
		log:     logger.With().Str("component", "node").Logger(),
		backoff: DefaultBackoff(),
		watches: make(map[levin.PeerHandle]chan struct{}),
	}
	n.chain = commands.NewMemoryChain(cfg.NetworkID)
	n.handlers = commands.NewHandlers(commands.Identity{
		NetworkID: cfg.NetworkID,
		PeerID:    cfg.PeerID,
		Port:      listenPort(cfg.ListenAddr),
		Version:   uint8(cfg.ProtocolVersion),
	}, n.chain, logger)
	n.transport = tcp.NewServer(cfg.TransportConfig(), logger)
	n.proto = levin.New(cfg.LevinConfig(), n.transport,
		levin.WithLogger(logger),
		levin.WithPayloadTable(commands.NewPayloadTable()),
		levin.WithConnectHook(n.onConnect),
		levin.WithDisconnectHook(n.onDisconnect),
	)
	n.handlers.Install(n.proto)
	n.transport.SetEventSink(n.proto)

	if strings.TrimSpace(cfg.AdminAddr) != "" {
		n.admin = admin.NewServer(admin.Config{
			Addr:        cfg.AdminAddr,
			Token:       cfg.AdminToken,
			CORSOrigins: cfg.AdminCORSOrigins,
			Version:     Version,
		}, n.proto.Registry(), logger)
		n.admin.SetReady(n.ready.Load)
		n.admin.SetDisconnector(n.transport.Disconnect)
	}
	return n, nil
}

func (n *Node) Config() config.NodeConfig {
	return n.cfg
}

func (n *Node) Protocol() *levin.Protocol {
	return n.proto
}

func (n *Node) Transport() *tcp.Server {
	return n.transport
}

func (n *Node) Chain() *commands.MemoryChain {
	return n.chain
}

func (n *Node) Handlers() *commands.Handlers {
	return n.handlers
}

// Admin returns nil when no admin address is configured.
func (n *Node) Admin() *admin.Server {
	return n.admin
}

func (n *Node) SetBackoff(cfg BackoffConfig) {
	n.backoff = cfg
}

func (n *Node) Ready() bool {
	return n.ready.Load()
}

// Run listens on the configured addresses and blocks until ctx is canceled
// or a listener fails.
func (n *Node) Run(ctx context.Context) error {
	ln, err := n.transport.Listen()
	if err != nil {
		return err
	}
	var adminLn net.Listener
	if n.admin != nil {
		adminLn, err = net.Listen("tcp", strings.TrimSpace(n.cfg.AdminAddr))
		if err != nil {
			_ = ln.Close()
			return err
		}
	}
	return n.Serve(ctx, ln, adminLn)
}

// Serve runs the node on existing listeners. adminLn may be nil.
func (n *Node) Serve(ctx context.Context, ln net.Listener, adminLn net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errc <- n.transport.Serve(ctx, ln)
	}()
	if n.admin != nil && adminLn != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errc <- n.admin.Serve(ctx, adminLn)
		}()
	}
	for _, addr := range n.cfg.Peers {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			n.maintainPeer(ctx, addr)
		}(addr)
	}
	if n.cfg.TimedSyncInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.timedSyncLoop(ctx, n.cfg.TimedSyncInterval)
		}()
	}

	n.ready.Store(true)
	n.log.Info().
		Str("listen", ln.Addr().String()).
		Uint64("peer_id", n.cfg.PeerID).
		Int("peers", len(n.cfg.Peers)).
		Msg("node.Serve started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}
	n.ready.Store(false)
	cancel()
	n.transport.Close()
	wg.Wait()
	n.log.Info().Msg("node.Serve stopped")
	return runErr
}

func (n *Node) onConnect(out levin.Outbound, s *levin.PeerSession) {
	if !s.Outbound {
		return
	}
	out.Request(s.Handle, levin.CmdHandshake, n.handlers.LocalHandshake().Encode())
}

func (n *Node) onDisconnect(s *levin.PeerSession) {
	n.watchMu.Lock()
	defer n.watchMu.Unlock()
	if ch, ok := n.watches[s.Handle]; ok {
		close(ch)
		delete(n.watches, s.Handle)
	}
}

// watch returns a channel closed once handle has disconnected.
func (n *Node) watch(handle levin.PeerHandle) <-chan struct{} {
	n.watchMu.Lock()
	defer n.watchMu.Unlock()
	ch := make(chan struct{})
	if _, ok := n.proto.Registry().Get(handle); !ok {
		close(ch)
		return ch
	}
	n.watches[handle] = ch
	return ch
}

// maintainPeer keeps one outbound connection to addr, redialing with
// backoff after failures and disconnects.
func (n *Node) maintainPeer(ctx context.Context, addr string) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	attempt := 0
	for ctx.Err() == nil {
		handle, err := n.transport.Dial(ctx, addr)
		if err != nil {
			attempt++
			delay := NextBackoffDelay(n.backoff, attempt, rng)
			n.log.Debug().Err(err).Str("addr", addr).Dur("retry_in", delay).Msg("node.maintainPeer dial failed")
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}
		attempt = 0
		n.log.Info().Str("addr", addr).Str("peer", handle.String()).Msg("node.maintainPeer connected")
		select {
		case <-ctx.Done():
			return
		case <-n.watch(handle):
		}
		n.log.Info().Str("addr", addr).Str("peer", handle.String()).Msg("node.maintainPeer disconnected")
		if !sleepCtx(ctx, NextBackoffDelay(n.backoff, 1, rng)) {
			return
		}
	}
}

// timedSyncLoop sends our chain tip to every verified peer each interval.
func (n *Node) timedSyncLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.SyncAll()
		}
	}
}

// SyncAll sends a timed sync request to every verified peer and returns how
// many were sent.
func (n *Node) SyncAll() int {
	body := n.handlers.LocalTimedSync().Encode()
	out := n.proto.Outbound()
	peers := n.verifiedPeers()
	for _, id := range peers {
		out.Request(id, levin.CmdTimedSync, body)
	}
	return len(peers)
}

// Relay pools txs locally and announces the new ones to every verified peer.
func (n *Node) Relay(txs [][]byte) int {
	added := n.chain.AddTransactions(txs)
	if added == 0 {
		return 0
	}
	body := commands.NewTransactions{Txs: txs}.Encode()
	out := n.proto.Outbound()
	for _, id := range n.verifiedPeers() {
		out.Notify(id, levin.CmdNewTransactions, body)
	}
	return added
}

func (n *Node) verifiedPeers() []levin.PeerHandle {
	var out []levin.PeerHandle
	for _, snap := range n.proto.Registry().Snapshot() {
		if snap.Trust != levin.Verified.String() {
			continue
		}
		id, err := uuid.Parse(snap.Handle)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func listenPort(addr string) uint32 {
	_, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return 0
	}
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return 0
	}
	return uint32(p)
}
