package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type templateConfig struct {
	ListenAddr        string   `toml:"listen_addr" comment:"levin TCP listener"`
	Peers             []string `toml:"peers" comment:"host:port peers dialed at startup"`
	NetworkID         string   `toml:"network_id" comment:"32 hex characters; peers on other networks fail the handshake"`
	PeerID            uint64   `toml:"peer_id" comment:"0 picks a random id at startup"`
	MaxPacketSize     uint64   `toml:"max_packet_size"`
	ProtocolVersion   uint32   `toml:"protocol_version"`
	ReadBufferSize    int      `toml:"read_buffer_size"`
	WriteTimeout      string   `toml:"write_timeout"`
	DialTimeout       string   `toml:"dial_timeout"`
	TimedSyncInterval string   `toml:"timed_sync_interval" comment:"0s disables periodic timed sync"`
	AdminAddr         string   `toml:"admin_addr" comment:"empty disables the admin HTTP server"`
	AdminToken        string   `toml:"admin_token" comment:"bearer token for /peers; empty leaves it open"`
	AdminCORSOrigins  []string `toml:"admin_cors_origins"`
	LogLevel          string   `toml:"log_level"`
}

// Template renders cfg as a commented TOML file Load accepts.
func Template(cfg NodeConfig) (string, error) {
	out, err := toml.Marshal(templateConfig{
		ListenAddr:        cfg.ListenAddr,
		Peers:             cfg.Peers,
		NetworkID:         hex.EncodeToString(cfg.NetworkID[:]),
		PeerID:            cfg.PeerID,
		MaxPacketSize:     cfg.MaxPacketSize,
		ProtocolVersion:   cfg.ProtocolVersion,
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteTimeout:      cfg.WriteTimeout.String(),
		DialTimeout:       cfg.DialTimeout.String(),
		TimedSyncInterval: cfg.TimedSyncInterval.String(),
		AdminAddr:         cfg.AdminAddr,
		AdminToken:        cfg.AdminToken,
		AdminCORSOrigins:  cfg.AdminCORSOrigins,
		LogLevel:          cfg.LogLevel,
	})
	if err != nil {
		return "", fmt.Errorf("render node config: %w", err)
	}
	return string(out), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template(DefaultNodeConfig())
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
