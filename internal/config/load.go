package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	ListenAddr        string   `toml:"listen_addr"`
	Peers             []string `toml:"peers"`
	NetworkID         string   `toml:"network_id"`
	PeerID            uint64   `toml:"peer_id"`
	MaxPacketSize     uint64   `toml:"max_packet_size"`
	ProtocolVersion   uint32   `toml:"protocol_version"`
	ReadBufferSize    int      `toml:"read_buffer_size"`
	WriteTimeout      string   `toml:"write_timeout"`
	DialTimeout       string   `toml:"dial_timeout"`
	TimedSyncInterval string   `toml:"timed_sync_interval"`
	AdminAddr         string   `toml:"admin_addr"`
	AdminToken        string   `toml:"admin_token"`
	AdminCORSOrigins  []string `toml:"admin_cors_origins"`
	LogLevel          string   `toml:"log_level"`
}

// Load reads path over DefaultNodeConfig. Only keys present in the file
// override defaults.
func Load(path string) (NodeConfig, error) {
	cfg := DefaultNodeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return NodeConfig{}, fmt.Errorf("load node config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return NodeConfig{}, fmt.Errorf("load node config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("peers") {
		cfg.Peers = normalizeList(raw.Peers)
	}
	if meta.IsDefined("network_id") {
		id, err := ParseNetworkID(raw.NetworkID)
		if err != nil {
			return NodeConfig{}, err
		}
		cfg.NetworkID = id
	}
	if meta.IsDefined("peer_id") {
		cfg.PeerID = raw.PeerID
	}
	if meta.IsDefined("max_packet_size") {
		cfg.MaxPacketSize = raw.MaxPacketSize
	}
	if meta.IsDefined("protocol_version") {
		cfg.ProtocolVersion = raw.ProtocolVersion
	}
	if meta.IsDefined("read_buffer_size") {
		cfg.ReadBufferSize = raw.ReadBufferSize
	}
	if meta.IsDefined("write_timeout") {
		if cfg.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout); err != nil {
			return NodeConfig{}, err
		}
	}
	if meta.IsDefined("dial_timeout") {
		if cfg.DialTimeout, err = parseDuration("dial_timeout", raw.DialTimeout); err != nil {
			return NodeConfig{}, err
		}
	}
	if meta.IsDefined("timed_sync_interval") {
		if cfg.TimedSyncInterval, err = parseDuration("timed_sync_interval", raw.TimedSyncInterval); err != nil {
			return NodeConfig{}, err
		}
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = normalizeList(raw.AdminCORSOrigins)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := Validate(cfg); err != nil {
		return NodeConfig{}, fmt.Errorf("load node config: %w", err)
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
