package commands

import (
	"fmt"

	"github.com/danmuck/levin/internal/protocol/levin"
)

// NetworkID distinguishes independent networks sharing the wire format.
type NetworkID [16]byte

// HandshakeSize is the encoded size of a Handshake body.
const HandshakeSize = 16 + 8 + 4 + 1 + 4 + 32

// Handshake is exchanged in both directions of command 1001.
type Handshake struct {
	NetworkID NetworkID
	PeerID    uint64
	Port      uint32
	Version   uint8
	Height    uint32
	TopID     Hash
}

func (Handshake) Command() levin.CommandID { return levin.CmdHandshake }

func (h Handshake) Encode() []byte {
	w := writer{buf: make([]byte, 0, HandshakeSize)}
	w.raw(h.NetworkID[:])
	w.u64(h.PeerID)
	w.u32(h.Port)
	w.u8(h.Version)
	w.u32(h.Height)
	w.raw(h.TopID[:])
	return w.buf
}

func DecodeHandshake(b []byte) (Handshake, error) {
	var h Handshake
	r := reader{buf: b}
	r.fixed(h.NetworkID[:])
	h.PeerID = r.u64()
	h.Port = r.u32()
	h.Version = r.u8()
	h.Height = r.u32()
	r.fixed(h.TopID[:])
	return h, r.done()
}

// HandshakeRefused is the empty body of a failed handshake response.
type HandshakeRefused struct {
	ReturnCode int32
}

func (HandshakeRefused) Command() levin.CommandID { return levin.CmdHandshake }

func decodeHandshake(cmd levin.Command) (levin.Payload, error) {
	if cmd.IsResponse && !cmd.Succeeded() && len(cmd.Payload) == 0 {
		return HandshakeRefused{ReturnCode: cmd.ReturnCode}, nil
	}
	return DecodeHandshake(cmd.Payload)
}

// Ping is the empty request body of command 1002.
type Ping struct{}

func (Ping) Command() levin.CommandID { return levin.CmdPing }

func (Ping) Encode() []byte { return nil }

// PingStatusOK is the status carried by a healthy ping response.
var PingStatusOK = [8]byte{'O', 'K'}

// PingResponse answers a Ping.
type PingResponse struct {
	Status [8]byte
	PeerID uint64
}

func (PingResponse) Command() levin.CommandID { return levin.CmdPing }

func (p PingResponse) OK() bool {
	return p.Status == PingStatusOK
}

func (p PingResponse) Encode() []byte {
	w := writer{buf: make([]byte, 0, 16)}
	w.raw(p.Status[:])
	w.u64(p.PeerID)
	return w.buf
}

func DecodePingResponse(b []byte) (PingResponse, error) {
	var p PingResponse
	r := reader{buf: b}
	r.fixed(p.Status[:])
	p.PeerID = r.u64()
	return p, r.done()
}

// TimedSync carries the sender's chain tip for command 1003.
type TimedSync struct {
	Height uint32
	TopID  Hash
}

func (TimedSync) Command() levin.CommandID { return levin.CmdTimedSync }

func (t TimedSync) Encode() []byte {
	w := writer{buf: make([]byte, 0, 36)}
	w.u32(t.Height)
	w.raw(t.TopID[:])
	return w.buf
}

func DecodeTimedSync(b []byte) (TimedSync, error) {
	var t TimedSync
	r := reader{buf: b}
	t.Height = r.u32()
	r.fixed(t.TopID[:])
	return t, r.done()
}

// RequestChain lists known block ids, newest first, for command 2006.
type RequestChain struct {
	IDs []Hash
}

func (RequestChain) Command() levin.CommandID { return levin.CmdNotifyRequestChain }

func (c RequestChain) Encode() []byte {
	var w writer
	w.hashes(c.IDs)
	return w.buf
}

func DecodeRequestChain(b []byte) (RequestChain, error) {
	r := reader{buf: b}
	ids := r.hashes()
	return RequestChain{IDs: ids}, r.done()
}

// ChainEntry answers a RequestChain with command 2007.
type ChainEntry struct {
	Start uint32
	Total uint32
	IDs   []Hash
}

func (ChainEntry) Command() levin.CommandID { return levin.CmdResponseChainEntry }

func (c ChainEntry) Encode() []byte {
	var w writer
	w.u32(c.Start)
	w.u32(c.Total)
	w.hashes(c.IDs)
	return w.buf
}

func DecodeChainEntry(b []byte) (ChainEntry, error) {
	var c ChainEntry
	r := reader{buf: b}
	c.Start = r.u32()
	c.Total = r.u32()
	c.IDs = r.hashes()
	return c, r.done()
}

// RequestTxPool lists the transaction ids the sender already holds (2008).
type RequestTxPool struct {
	IDs []Hash
}

func (RequestTxPool) Command() levin.CommandID { return levin.CmdRequestTxPool }

func (p RequestTxPool) Encode() []byte {
	var w writer
	w.hashes(p.IDs)
	return w.buf
}

func DecodeRequestTxPool(b []byte) (RequestTxPool, error) {
	r := reader{buf: b}
	ids := r.hashes()
	return RequestTxPool{IDs: ids}, r.done()
}

// NewTransactions relays raw transaction blobs with command 2002.
type NewTransactions struct {
	Txs [][]byte
}

func (NewTransactions) Command() levin.CommandID { return levin.CmdNewTransactions }

func (n NewTransactions) Encode() []byte {
	var w writer
	w.u32(uint32(len(n.Txs)))
	for _, tx := range n.Txs {
		w.blob(tx)
	}
	return w.buf
}

func DecodeNewTransactions(b []byte) (NewTransactions, error) {
	r := reader{buf: b}
	count := r.count()
	var out NewTransactions
	for i := 0; i < count && r.err == nil; i++ {
		out.Txs = append(out.Txs, r.blob())
	}
	return out, r.done()
}

// Register installs decoders for every built-in command code.
func Register(t *levin.PayloadTable) {
	t.Register(levin.CmdHandshake, decodeHandshake)
	t.Register(levin.CmdPing, decodePing)
	t.Register(levin.CmdTimedSync, func(cmd levin.Command) (levin.Payload, error) {
		return DecodeTimedSync(cmd.Payload)
	})
	t.Register(levin.CmdNotifyRequestChain, func(cmd levin.Command) (levin.Payload, error) {
		return DecodeRequestChain(cmd.Payload)
	})
	t.Register(levin.CmdResponseChainEntry, func(cmd levin.Command) (levin.Payload, error) {
		return DecodeChainEntry(cmd.Payload)
	})
	t.Register(levin.CmdRequestTxPool, func(cmd levin.Command) (levin.Payload, error) {
		return DecodeRequestTxPool(cmd.Payload)
	})
	t.Register(levin.CmdNewTransactions, func(cmd levin.Command) (levin.Payload, error) {
		return DecodeNewTransactions(cmd.Payload)
	})
}

// NewPayloadTable returns a table with every built-in decoder registered.
func NewPayloadTable() *levin.PayloadTable {
	t := levin.NewPayloadTable()
	Register(t)
	return t
}

func decodePing(cmd levin.Command) (levin.Payload, error) {
	if cmd.IsResponse {
		return DecodePingResponse(cmd.Payload)
	}
	if len(cmd.Payload) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrTrailingBytes, len(cmd.Payload))
	}
	return Ping{}, nil
}
