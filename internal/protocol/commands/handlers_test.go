package commands

import (
	"bytes"
	"sync"
	"testing"

	"github.com/danmuck/levin/internal/protocol/levin"
	"github.com/danmuck/levin/internal/testutil/testlog"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var testNetwork = NetworkID{0x12, 0x30, 0xF1, 0x71}

type captureTransport struct {
	mu  sync.Mutex
	out map[levin.PeerHandle][]byte
}

func newCaptureTransport() *captureTransport {
	return &captureTransport{out: make(map[levin.PeerHandle][]byte)}
}

func (c *captureTransport) SendFrame(peer levin.PeerHandle, header, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out[peer] = append(append(c.out[peer], header...), payload...)
	return nil
}

func (c *captureTransport) BroadcastFrame(header, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for peer := range c.out {
		c.out[peer] = append(append(c.out[peer], header...), payload...)
	}
}

// frames parses and clears everything written to peer.
func (c *captureTransport) frames(t *testing.T, peer levin.PeerHandle) []levin.Frame {
	t.Helper()
	c.mu.Lock()
	raw := c.out[peer]
	delete(c.out, peer)
	c.mu.Unlock()
	r := levin.NewReassembler(levin.DefaultConfig(), zerolog.Nop())
	s := levin.NewPeerSession(peer, "", false)
	frames := r.Feed(s, raw)
	if s.Buffered() != 0 {
		t.Fatalf("trailing bytes in output: %d", s.Buffered())
	}
	return frames
}

type testNode struct {
	proto    *levin.Protocol
	tr       *captureTransport
	chain    *MemoryChain
	handlers *Handlers
}

func newTestNode(t *testing.T, peerID uint64) *testNode {
	t.Helper()
	chain := NewMemoryChain(testNetwork)
	tr := newCaptureTransport()
	logger := testlog.Logger(t)
	h := NewHandlers(Identity{NetworkID: testNetwork, PeerID: peerID, Port: 18080, Version: 1}, chain, logger)
	p := levin.New(levin.DefaultConfig(), tr, levin.WithLogger(logger), levin.WithPayloadTable(NewPayloadTable()))
	h.Install(p)
	return &testNode{proto: p, tr: tr, chain: chain, handlers: h}
}

func wire(code levin.CommandID, payload []byte, responseRequired bool, flags uint32, ret int32) []byte {
	h := levin.WireHeader{
		Signature:        levin.Signature,
		PayloadSize:      uint64(len(payload)),
		ResponseRequired: responseRequired,
		CommandCode:      uint32(code),
		ReturnCode:       ret,
		Flags:            flags,
		ProtocolVersion:  levin.ProtocolVersion1,
	}
	return append(levin.EncodeHeader(h), payload...)
}

func (n *testNode) connect(t *testing.T) levin.PeerHandle {
	t.Helper()
	peer := uuid.New()
	n.proto.HandleEvent(levin.PeerConnected(peer, "192.0.2.1:18080", false))
	return peer
}

func (n *testNode) verify(t *testing.T, peer levin.PeerHandle) {
	t.Helper()
	hs := Handshake{NetworkID: testNetwork, PeerID: 99, Port: 1, Height: 1}
	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdHandshake, hs.Encode(), true, levin.FlagRequest, 0)))
	n.tr.frames(t, peer)
	s, _ := n.proto.Registry().Get(peer)
	if !s.Verified() {
		t.Fatalf("peer not verified after handshake")
	}
}

func TestHandshakeRequestVerifiesAndReplies(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 1)
	n.chain.AppendBlock([]byte("b1"))
	peer := n.connect(t)

	hs := Handshake{NetworkID: testNetwork, PeerID: 7, Port: 28080, Version: 1, Height: 5}
	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdHandshake, hs.Encode(), true, levin.FlagRequest, 0)))

	s, _ := n.proto.Registry().Get(peer)
	if !s.Verified() {
		t.Fatalf("session not verified")
	}
	if info := s.Info(); info.PeerID != 7 || info.Height != 5 || info.Port != 28080 {
		t.Fatalf("peer info not recorded: %+v", info)
	}
	frames := n.tr.frames(t, peer)
	if len(frames) != 1 {
		t.Fatalf("expected one reply, got %d", len(frames))
	}
	reply := frames[0].Command()
	if reply.Code != levin.CmdHandshake || !reply.Succeeded() || !reply.IsNotification {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	got, err := DecodeHandshake(reply.Payload)
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if got.PeerID != 1 || got.Height != 2 || got.TopID != n.chain.TopID() {
		t.Fatalf("reply does not describe local node: %+v", got)
	}
}

func TestHandshakeWrongNetworkFails(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 1)
	peer := n.connect(t)

	hs := Handshake{NetworkID: NetworkID{0xFF}, PeerID: 7}
	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdHandshake, hs.Encode(), true, levin.FlagRequest, 0)))

	s, _ := n.proto.Registry().Get(peer)
	if s.Verified() {
		t.Fatalf("wrong network verified")
	}
	frames := n.tr.frames(t, peer)
	if len(frames) != 1 {
		t.Fatalf("expected failure reply, got %d frames", len(frames))
	}
	if h := frames[0].Header; h.ReturnCode != levin.RetCodeFailure || h.PayloadSize != 0 || h.Flags != levin.FlagResponse {
		t.Fatalf("unexpected failure header: %+v", h)
	}
}

func TestHandshakeSelfConnectionRefused(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 5)
	peer := n.connect(t)
	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdHandshake, n.handlers.LocalHandshake().Encode(), true, levin.FlagRequest, 0)))
	s, _ := n.proto.Registry().Get(peer)
	if s.Verified() {
		t.Fatalf("self connection verified")
	}
}

func TestHandshakeResponseVerifiesOutbound(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 1)
	peer := n.connect(t)
	hs := Handshake{NetworkID: testNetwork, PeerID: 8, Height: 3}

	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdHandshake, hs.Encode(), false, levin.FlagResponse, levin.RetCodeFailure)))
	s, _ := n.proto.Registry().Get(peer)
	if s.Verified() {
		t.Fatalf("failed handshake response verified the session")
	}

	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdHandshake, hs.Encode(), false, levin.FlagResponse, levin.RetCodeSuccess)))
	if !s.Verified() || s.Info().PeerID != 8 {
		t.Fatalf("successful handshake response did not verify")
	}
	frames := n.tr.frames(t, peer)
	if len(frames) != 2 {
		t.Fatalf("expected chain and pool requests, got %d frames", len(frames))
	}
	if frames[0].Command().Code != levin.CmdNotifyRequestChain || frames[1].Command().Code != levin.CmdRequestTxPool {
		t.Fatalf("unexpected sync frames: %s %s", frames[0].Command().Code, frames[1].Command().Code)
	}
	req, err := DecodeRequestChain(frames[0].Payload)
	if err != nil || len(req.IDs) != 1 || req.IDs[0] != n.chain.TopID() {
		t.Fatalf("unexpected chain request: %+v err=%v", req, err)
	}
	for _, f := range frames {
		if f.Header.IsResponse() || f.Header.ResponseRequired {
			t.Fatalf("sync requests must be notifications: %+v", f.Header)
		}
	}
}

func TestRefusedHandshakeResponseIsRouted(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 1)
	peer := n.connect(t)
	s, _ := n.proto.Registry().Get(peer)

	refusal := levin.Command{Code: levin.CmdHandshake, IsResponse: true, ReturnCode: levin.RetCodeFailure}
	if got := n.proto.Dispatcher().Dispatch(n.proto.Outbound(), s, refusal); got != levin.Routed {
		t.Fatalf("refusal outcome=%s", got)
	}
	if s.Verified() {
		t.Fatalf("refusal verified the session")
	}
	if frames := n.tr.frames(t, peer); len(frames) != 0 {
		t.Fatalf("refusal produced %d frames", len(frames))
	}

	p, err := NewPayloadTable().Decode(refusal)
	if err != nil {
		t.Fatalf("decode refusal: %v", err)
	}
	if r, ok := p.(HandshakeRefused); !ok || r.ReturnCode != levin.RetCodeFailure {
		t.Fatalf("unexpected refusal payload: %#v", p)
	}
	success := levin.Command{Code: levin.CmdHandshake, IsResponse: true, ReturnCode: levin.RetCodeSuccess}
	if got := n.proto.Dispatcher().Dispatch(n.proto.Outbound(), s, success); got != levin.Malformed {
		t.Fatalf("empty success response outcome=%s", got)
	}
}

func TestWrongNetworkRefusalReachesInitiator(t *testing.T) {
	testlog.Start(t)
	responder := newTestNode(t, 1)
	initiator := newTestNode(t, 2)
	in := responder.connect(t)
	out := initiator.connect(t)

	hs := Handshake{NetworkID: NetworkID{0xEE}, PeerID: 2}
	responder.proto.HandleEvent(levin.DataReceived(in, wire(levin.CmdHandshake, hs.Encode(), true, levin.FlagRequest, 0)))
	responder.tr.mu.Lock()
	reply := responder.tr.out[in]
	responder.tr.mu.Unlock()

	cmds := initiator.proto.HandleEvent(levin.DataReceived(out, reply))
	if len(cmds) != 1 || cmds[0].Succeeded() {
		t.Fatalf("expected one failed response, got %+v", cmds)
	}
	s, _ := initiator.proto.Registry().Get(out)
	if s.Verified() {
		t.Fatalf("initiator verified after refusal")
	}
}

func TestPingReply(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 3)
	peer := n.connect(t)
	n.verify(t, peer)

	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdPing, nil, true, levin.FlagRequest, 0)))
	frames := n.tr.frames(t, peer)
	if len(frames) != 1 {
		t.Fatalf("expected pong, got %d", len(frames))
	}
	resp, err := DecodePingResponse(frames[0].Payload)
	if err != nil || !resp.OK() || resp.PeerID != 3 {
		t.Fatalf("unexpected pong: %+v err=%v", resp, err)
	}
}

func TestTimedSyncRecordsHeightAndReplies(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 1)
	peer := n.connect(t)
	n.verify(t, peer)

	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdTimedSync, TimedSync{Height: 77}.Encode(), true, levin.FlagRequest, 0)))
	s, _ := n.proto.Registry().Get(peer)
	if s.Info().Height != 77 {
		t.Fatalf("height=%d want 77", s.Info().Height)
	}
	frames := n.tr.frames(t, peer)
	if len(frames) != 1 {
		t.Fatalf("expected timed sync reply, got %d", len(frames))
	}
	ts, err := DecodeTimedSync(frames[0].Payload)
	if err != nil || ts.Height != n.chain.Height() || ts.TopID != n.chain.TopID() {
		t.Fatalf("unexpected reply: %+v err=%v", ts, err)
	}
}

func TestRequestChainAnswersWithEntry(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 1)
	a := n.chain.AppendBlock([]byte("a"))
	n.chain.AppendBlock([]byte("b"))
	peer := n.connect(t)
	n.verify(t, peer)

	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdNotifyRequestChain, RequestChain{IDs: []Hash{a}}.Encode(), false, levin.FlagRequest, 0)))
	frames := n.tr.frames(t, peer)
	if len(frames) != 1 {
		t.Fatalf("expected chain entry, got %d", len(frames))
	}
	if frames[0].Command().Code != levin.CmdResponseChainEntry || !frames[0].Command().IsNotification {
		t.Fatalf("unexpected frame: %+v", frames[0].Header)
	}
	entry, err := DecodeChainEntry(frames[0].Payload)
	if err != nil || entry.Start != 1 || entry.Total != 3 || len(entry.IDs) != 2 {
		t.Fatalf("unexpected entry: %+v err=%v", entry, err)
	}
}

func TestTxPoolExchange(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 1)
	tx := []byte("pooled")
	n.chain.AddTransactions([][]byte{tx})
	peer := n.connect(t)
	n.verify(t, peer)

	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdRequestTxPool, RequestTxPool{IDs: []Hash{HashBytes(tx)}}.Encode(), false, levin.FlagRequest, 0)))
	if frames := n.tr.frames(t, peer); len(frames) != 0 {
		t.Fatalf("known pool should produce no reply, got %d", len(frames))
	}

	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdRequestTxPool, RequestTxPool{}.Encode(), false, levin.FlagRequest, 0)))
	frames := n.tr.frames(t, peer)
	if len(frames) != 1 || frames[0].Command().Code != levin.CmdNewTransactions {
		t.Fatalf("expected new transactions, got %d frames", len(frames))
	}
	nt, err := DecodeNewTransactions(frames[0].Payload)
	if err != nil || len(nt.Txs) != 1 || !bytes.Equal(nt.Txs[0], tx) {
		t.Fatalf("unexpected txs: %q err=%v", nt.Txs, err)
	}

	in := NewTransactions{Txs: [][]byte{[]byte("fresh"), tx}}
	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdNewTransactions, in.Encode(), false, levin.FlagRequest, 0)))
	if ids := n.chain.PoolIDs(); len(ids) != 2 {
		t.Fatalf("pool size=%d want 2", len(ids))
	}
}

func TestUnverifiedPeerCannotPullPool(t *testing.T) {
	testlog.Start(t)
	n := newTestNode(t, 1)
	n.chain.AddTransactions([][]byte{[]byte("secret")})
	peer := n.connect(t)

	n.proto.HandleEvent(levin.DataReceived(peer, wire(levin.CmdRequestTxPool, RequestTxPool{}.Encode(), false, levin.FlagRequest, 0)))
	if frames := n.tr.frames(t, peer); len(frames) != 0 {
		t.Fatalf("unverified peer received %d frames", len(frames))
	}
}
