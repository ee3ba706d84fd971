package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/danmuck/levin/internal/protocol/levin"
	"github.com/rs/zerolog"
)

// Identity is what this node announces in handshakes and pings.
type Identity struct {
	NetworkID NetworkID
	PeerID    uint64
	Port      uint32
	Version   uint8
}

// Router is the handler registration surface of levin.Protocol and
// levin.Dispatcher.
type Router interface {
	Handle(code levin.CommandID, h levin.Handler)
}

// Handlers answers the built-in commands from a Chain.
type Handlers struct {
	id    Identity
	chain Chain
	log   zerolog.Logger
}

func NewHandlers(id Identity, chain Chain, logger zerolog.Logger) *Handlers {
	return &Handlers{
		id:    id,
		chain: chain,
		log:   logger.With().Str("component", "levin.commands").Logger(),
	}
}

// Install registers every handler on r.
func (h *Handlers) Install(r Router) {
	r.Handle(levin.CmdHandshake, levin.HandlerFunc(h.handshake))
	r.Handle(levin.CmdPing, levin.HandlerFunc(h.ping))
	r.Handle(levin.CmdTimedSync, levin.HandlerFunc(h.timedSync))
	r.Handle(levin.CmdNotifyRequestChain, levin.HandlerFunc(h.requestChain))
	r.Handle(levin.CmdResponseChainEntry, levin.HandlerFunc(h.chainEntry))
	r.Handle(levin.CmdRequestTxPool, levin.HandlerFunc(h.requestTxPool))
	r.Handle(levin.CmdNewTransactions, levin.HandlerFunc(h.newTransactions))
}

// LocalHandshake is the handshake body this node sends and replies with.
func (h *Handlers) LocalHandshake() Handshake {
	return Handshake{
		NetworkID: h.id.NetworkID,
		PeerID:    h.id.PeerID,
		Port:      h.id.Port,
		Version:   h.id.Version,
		Height:    h.chain.Height(),
		TopID:     h.chain.TopID(),
	}
}

// LocalTimedSync is the chain tip this node announces.
func (h *Handlers) LocalTimedSync() TimedSync {
	return TimedSync{Height: h.chain.Height(), TopID: h.chain.TopID()}
}

func (h *Handlers) accept(s *levin.PeerSession, hs Handshake) error {
	if hs.NetworkID != h.id.NetworkID {
		return fmt.Errorf("%w: got %s", ErrNetworkMismatch, hex.EncodeToString(hs.NetworkID[:]))
	}
	if hs.PeerID == h.id.PeerID {
		return ErrSelfConnection
	}
	s.SetInfo(levin.PeerInfo{PeerID: hs.PeerID, Height: hs.Height, Port: hs.Port})
	s.SetTrust(levin.Verified)
	return nil
}

func (h *Handlers) handshake(out levin.Outbound, s *levin.PeerSession, cmd levin.Command, p levin.Payload) {
	if _, refused := p.(HandshakeRefused); refused || (cmd.IsResponse && !cmd.Succeeded()) {
		h.log.Warn().
			Str("peer", s.Handle.String()).
			Int32("return_code", cmd.ReturnCode).
			Msg("levin.commands handshake rejected by peer")
		return
	}
	hs, ok := p.(Handshake)
	if !ok {
		return
	}
	if cmd.IsResponse {
		if err := h.accept(s, hs); err != nil {
			h.log.Warn().Err(err).Str("peer", s.Handle.String()).Msg("levin.commands handshake response refused")
			return
		}
		h.log.Info().
			Str("peer", s.Handle.String()).
			Uint64("peer_id", hs.PeerID).
			Uint32("height", hs.Height).
			Msg("levin.commands outbound peer verified")
		h.startSync(out, s)
		return
	}

	if err := h.accept(s, hs); err != nil {
		h.log.Warn().Err(err).Str("peer", s.Handle.String()).Msg("levin.commands handshake refused")
		if !cmd.IsNotification {
			out.Reply(s.Handle, cmd.Code, nil, false, false)
		}
		return
	}
	h.log.Info().
		Str("peer", s.Handle.String()).
		Uint64("peer_id", hs.PeerID).
		Uint32("height", hs.Height).
		Msg("levin.commands inbound peer verified")
	if !cmd.IsNotification {
		out.Reply(s.Handle, cmd.Code, h.LocalHandshake().Encode(), true, false)
	}
}

// startSync asks a newly verified peer for the chain past our tip and for
// pooled transactions we do not hold.
func (h *Handlers) startSync(out levin.Outbound, s *levin.PeerSession) {
	out.Notify(s.Handle, levin.CmdNotifyRequestChain, RequestChain{IDs: []Hash{h.chain.TopID()}}.Encode())
	out.Notify(s.Handle, levin.CmdRequestTxPool, RequestTxPool{IDs: h.chain.PoolIDs()}.Encode())
}

func (h *Handlers) ping(out levin.Outbound, s *levin.PeerSession, cmd levin.Command, p levin.Payload) {
	if resp, ok := p.(PingResponse); ok {
		h.log.Debug().
			Str("peer", s.Handle.String()).
			Bool("ok", resp.OK()).
			Uint64("peer_id", resp.PeerID).
			Msg("levin.commands pong")
		return
	}
	if cmd.IsNotification {
		return
	}
	resp := PingResponse{Status: PingStatusOK, PeerID: h.id.PeerID}
	out.Reply(s.Handle, cmd.Code, resp.Encode(), true, false)
}

func (h *Handlers) timedSync(out levin.Outbound, s *levin.PeerSession, cmd levin.Command, p levin.Payload) {
	ts, ok := p.(TimedSync)
	if !ok {
		return
	}
	s.SetHeight(ts.Height)
	if cmd.IsResponse || cmd.IsNotification {
		return
	}
	out.Reply(s.Handle, cmd.Code, h.LocalTimedSync().Encode(), true, false)
}

func (h *Handlers) requestChain(out levin.Outbound, s *levin.PeerSession, _ levin.Command, p levin.Payload) {
	req, ok := p.(RequestChain)
	if !ok {
		return
	}
	start, ids := h.chain.ChainFrom(req.IDs)
	entry := ChainEntry{Start: start, Total: h.chain.Height(), IDs: ids}
	out.Notify(s.Handle, levin.CmdResponseChainEntry, entry.Encode())
}

func (h *Handlers) chainEntry(_ levin.Outbound, s *levin.PeerSession, _ levin.Command, p levin.Payload) {
	entry, ok := p.(ChainEntry)
	if !ok {
		return
	}
	s.SetHeight(entry.Total)
	h.log.Debug().
		Str("peer", s.Handle.String()).
		Uint32("start", entry.Start).
		Uint32("total", entry.Total).
		Int("ids", len(entry.IDs)).
		Msg("levin.commands chain entry")
}

func (h *Handlers) requestTxPool(out levin.Outbound, s *levin.PeerSession, _ levin.Command, p levin.Payload) {
	req, ok := p.(RequestTxPool)
	if !ok {
		return
	}
	txs := h.chain.PoolTransactions(req.IDs)
	if len(txs) == 0 {
		return
	}
	out.Notify(s.Handle, levin.CmdNewTransactions, NewTransactions{Txs: txs}.Encode())
}

func (h *Handlers) newTransactions(_ levin.Outbound, s *levin.PeerSession, _ levin.Command, p levin.Payload) {
	nt, ok := p.(NewTransactions)
	if !ok {
		return
	}
	added := h.chain.AddTransactions(nt.Txs)
	h.log.Debug().
		Str("peer", s.Handle.String()).
		Int("received", len(nt.Txs)).
		Int("added", added).
		Msg("levin.commands new transactions")
}
