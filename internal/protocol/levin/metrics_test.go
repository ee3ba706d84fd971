package levin

import (
	"strings"
	"testing"

	"github.com/danmuck/levin/internal/testutil/testlog"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func TestMetricLabelCollapsesUnknownCodes(t *testing.T) {
	testlog.Start(t)
	if got := CmdTimedSync.MetricLabel(); got != "timed_sync" {
		t.Fatalf("known label=%q", got)
	}
	for _, code := range []CommandID{0, 3, 50000, ^CommandID(0)} {
		if got := code.MetricLabel(); got != "unknown" {
			t.Fatalf("code=%d label=%q", code, got)
		}
	}
	if got := CommandID(50000).String(); got != "unknown_50000" {
		t.Fatalf("log name=%q", got)
	}
}

func TestUnknownCommandCodesKeepSeriesBounded(t *testing.T) {
	testlog.Start(t)
	p, _ := newTestProtocol(t)
	peer := uuid.New()
	p.HandleEvent(PeerConnected(peer, "10.0.0.9:18080", false))

	var stream []byte
	for code := CommandID(50000); code < 51000; code++ {
		stream = append(stream, buildFrame(code, nil, false, FlagRequest)...)
	}
	if cmds := p.HandleEvent(DataReceived(peer, stream)); len(cmds) != 1000 {
		t.Fatalf("expected 1000 commands, got %d", len(cmds))
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	limits := map[string]int{
		// known codes plus "unknown"
		"levin_wire_frames_received_total": len(commandNames) + 1,
		// every command label times four outcomes
		"levin_dispatch_commands_total": (len(commandNames) + 1) * 4,
	}
	seen := 0
	for _, mf := range families {
		limit, ok := limits[mf.GetName()]
		if !ok {
			continue
		}
		seen++
		if n := len(mf.GetMetric()); n > limit {
			t.Fatalf("%s has %d series, limit %d", mf.GetName(), n, limit)
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "command" && strings.HasPrefix(l.GetValue(), "unknown_") {
					t.Fatalf("%s carries per-code label %q", mf.GetName(), l.GetValue())
				}
			}
		}
	}
	if seen != len(limits) {
		t.Fatalf("expected %d metric families, found %d", len(limits), seen)
	}
}
