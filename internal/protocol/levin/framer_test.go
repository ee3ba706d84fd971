package levin

import (
	"bytes"
	"testing"

	"github.com/danmuck/levin/internal/testutil/testlog"
	"github.com/google/uuid"
)

func decodeWrite(t *testing.T, w sentWrite) WireHeader {
	t.Helper()
	h, err := DecodeHeader(w.Data)
	if err != nil {
		t.Fatalf("decode header write: %v", err)
	}
	return h
}

func TestReplyShape(t *testing.T) {
	testlog.Start(t)
	tr := newRecordingTransport()
	f := NewFramer(DefaultConfig(), tr, testlog.Logger(t))
	peer := uuid.New()
	data := []byte("pong-data")

	f.Reply(peer, CmdPing, data, true, false)
	f.Reply(peer, CmdPing, data, false, false)

	writes := tr.Writes()
	if len(writes) != 4 {
		t.Fatalf("expected 4 writes, got %d", len(writes))
	}
	ok := decodeWrite(t, writes[0])
	if ok.Flags != FlagResponse || ok.ReturnCode != RetCodeSuccess {
		t.Fatalf("success reply header: %+v", ok)
	}
	if ok.PayloadSize != uint64(len(data)) || ok.ResponseRequired {
		t.Fatalf("success reply size/required: %+v", ok)
	}
	if ok.Signature != Signature || ok.ProtocolVersion != ProtocolVersion1 || CommandID(ok.CommandCode) != CmdPing {
		t.Fatalf("reply constants: %+v", ok)
	}
	if !bytes.Equal(writes[1].Data, data) || writes[1].Peer != peer {
		t.Fatalf("reply payload write mismatch")
	}
	failed := decodeWrite(t, writes[2])
	if failed.Flags != FlagResponse || failed.ReturnCode != RetCodeFailure {
		t.Fatalf("failure reply header: %+v", failed)
	}
}

func TestNotifyAndRequestShape(t *testing.T) {
	testlog.Start(t)
	tr := newRecordingTransport()
	f := NewFramer(DefaultConfig(), tr, testlog.Logger(t))
	peer := uuid.New()

	f.Notify(peer, CmdRequestTxPool, []byte{1, 2, 3})
	f.Request(peer, CmdHandshake, []byte{4})

	writes := tr.Writes()
	if len(writes) != 4 {
		t.Fatalf("expected 4 writes, got %d", len(writes))
	}
	n := decodeWrite(t, writes[0])
	if n.ResponseRequired || n.Flags != FlagRequest || n.PayloadSize != 3 {
		t.Fatalf("notify header: %+v", n)
	}
	r := decodeWrite(t, writes[2])
	if !r.ResponseRequired || r.Flags != FlagRequest || r.PayloadSize != 1 {
		t.Fatalf("request header: %+v", r)
	}
}

func TestNotifyAllBroadcastsHeaderThenPayload(t *testing.T) {
	testlog.Start(t)
	tr := newRecordingTransport()
	f := NewFramer(DefaultConfig(), tr, testlog.Logger(t))

	f.NotifyAll(CmdNewTransactions, []byte("txs"))

	writes := tr.Writes()
	if len(writes) != 2 || !writes[0].Broadcast || !writes[1].Broadcast {
		t.Fatalf("expected two broadcast writes, got %+v", writes)
	}
	h := decodeWrite(t, writes[0])
	if h.ResponseRequired || h.Flags != FlagRequest || h.PayloadSize != 3 {
		t.Fatalf("broadcast header: %+v", h)
	}
	if string(writes[1].Data) != "txs" {
		t.Fatalf("broadcast payload: %q", writes[1].Data)
	}
}

func TestHeaderSendFailureSuppressesPayload(t *testing.T) {
	testlog.Start(t)
	tr := newRecordingTransport()
	tr.failAt[1] = true
	f := NewFramer(DefaultConfig(), tr, testlog.Logger(t))

	f.Notify(uuid.New(), CmdPing, []byte("body"))

	if tr.sends != 1 {
		t.Fatalf("payload send attempted after header failure: sends=%d", tr.sends)
	}
	if len(tr.Writes()) != 0 {
		t.Fatalf("no writes expected")
	}
}

func TestEmptyPayloadSendsHeaderOnly(t *testing.T) {
	testlog.Start(t)
	tr := newRecordingTransport()
	f := NewFramer(DefaultConfig(), tr, testlog.Logger(t))

	f.Reply(uuid.New(), CmdPing, nil, true, false)

	writes := tr.Writes()
	if len(writes) != 1 {
		t.Fatalf("expected header-only write, got %d", len(writes))
	}
	if h := decodeWrite(t, writes[0]); h.PayloadSize != 0 {
		t.Fatalf("payload size=%d", h.PayloadSize)
	}
}

func TestPayloadSendFailureKeepsHeader(t *testing.T) {
	testlog.Start(t)
	tr := newRecordingTransport()
	tr.failAt[2] = true
	f := NewFramer(DefaultConfig(), tr, testlog.Logger(t))

	f.Notify(uuid.New(), CmdPing, []byte("body"))

	writes := tr.Writes()
	if tr.sends != 2 || len(writes) != 1 {
		t.Fatalf("expected header write then refused payload: sends=%d writes=%d", tr.sends, len(writes))
	}
	if h := decodeWrite(t, writes[0]); h.PayloadSize != 4 {
		t.Fatalf("header payload size=%d", h.PayloadSize)
	}
}

func TestEveryOperationStampsConfiguredVersion(t *testing.T) {
	testlog.Start(t)
	tr := newRecordingTransport()
	f := NewFramer(Config{ProtocolVersion: 3}, tr, testlog.Logger(t))
	peer := uuid.New()

	f.Notify(peer, CmdPing, nil)
	f.NotifyAll(CmdPing, nil)
	f.Request(peer, CmdPing, nil)
	f.Reply(peer, CmdPing, nil, true, false)

	writes := tr.Writes()
	if len(writes) != 4 {
		t.Fatalf("expected 4 header writes, got %d", len(writes))
	}
	for i, w := range writes {
		if h := decodeWrite(t, w); h.ProtocolVersion != 3 {
			t.Fatalf("write %d version=%d", i, h.ProtocolVersion)
		}
	}
}
