package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/levin/internal/logging"
	"github.com/danmuck/levin/internal/protocol/commands"
	"github.com/danmuck/levin/internal/protocol/levin"
	"github.com/danmuck/levin/internal/transport/tcp"
)

// DefaultNetworkID is the network a node joins when none is configured.
var DefaultNetworkID = commands.NetworkID{
	0x12, 0x30, 0xF1, 0x71, 0x61, 0x04, 0x41, 0x61,
	0x17, 0x31, 0x00, 0x82, 0x16, 0xA1, 0xA1, 0x10,
}

// NodeConfig is the resolved configuration of one levind process.
type NodeConfig struct {
	ListenAddr        string
	Peers             []string
	NetworkID         commands.NetworkID
	PeerID            uint64
	MaxPacketSize     uint64
	ProtocolVersion   uint32
	ReadBufferSize    int
	WriteTimeout      time.Duration
	DialTimeout       time.Duration
	TimedSyncInterval time.Duration
	AdminAddr         string
	AdminToken        string
	AdminCORSOrigins  []string
	LogLevel          string
}

func DefaultNodeConfig() NodeConfig {
	tcpDef := tcp.DefaultConfig()
	return NodeConfig{
		ListenAddr:        tcpDef.ListenAddr,
		Peers:             []string{},
		NetworkID:         DefaultNetworkID,
		PeerID:            0,
		MaxPacketSize:     levin.MaxPacketSize,
		ProtocolVersion:   levin.ProtocolVersion1,
		ReadBufferSize:    tcpDef.ReadBufferSize,
		WriteTimeout:      tcpDef.WriteTimeout,
		DialTimeout:       tcpDef.DialTimeout,
		TimedSyncInterval: 60 * time.Second,
		AdminAddr:         "127.0.0.1:18081",
		AdminToken:        "",
		AdminCORSOrigins:  []string{},
		LogLevel:          "info",
	}
}

// LevinConfig projects the wire settings.
func (c NodeConfig) LevinConfig() levin.Config {
	return levin.Config{
		Signature:       levin.Signature,
		MaxPacketSize:   c.MaxPacketSize,
		ProtocolVersion: c.ProtocolVersion,
	}
}

// TransportConfig projects the TCP settings.
func (c NodeConfig) TransportConfig() tcp.Config {
	return tcp.Config{
		ListenAddr:     c.ListenAddr,
		ReadBufferSize: c.ReadBufferSize,
		WriteTimeout:   c.WriteTimeout,
		DialTimeout:    c.DialTimeout,
	}
}

// Validate rejects settings the node cannot run with.
func Validate(cfg NodeConfig) error {
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("node config missing listen_addr")
	}
	if cfg.MaxPacketSize == 0 {
		return fmt.Errorf("max_packet_size must be positive")
	}
	if cfg.MaxPacketSize > levin.MaxPacketSize {
		return fmt.Errorf("max_packet_size %d exceeds limit %d", cfg.MaxPacketSize, levin.MaxPacketSize)
	}
	if cfg.ProtocolVersion == 0 {
		return fmt.Errorf("protocol_version must be positive")
	}
	if cfg.ReadBufferSize <= 0 {
		return fmt.Errorf("read_buffer_size must be positive")
	}
	if cfg.WriteTimeout <= 0 || cfg.DialTimeout <= 0 {
		return fmt.Errorf("write_timeout and dial_timeout must be positive")
	}
	if cfg.TimedSyncInterval < 0 {
		return fmt.Errorf("timed_sync_interval must not be negative")
	}
	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok && strings.TrimSpace(cfg.LogLevel) != "" {
		return fmt.Errorf("unknown log_level %q", cfg.LogLevel)
	}
	for i, peer := range cfg.Peers {
		if strings.TrimSpace(peer) == "" {
			return fmt.Errorf("peers[%d] is empty", i)
		}
	}
	return nil
}

// ParseNetworkID decodes a 32-character hex network id.
func ParseNetworkID(raw string) (commands.NetworkID, error) {
	var id commands.NetworkID
	b, err := hex.DecodeString(strings.TrimSpace(raw))
	if err != nil {
		return id, fmt.Errorf("parse network_id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("parse network_id: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
