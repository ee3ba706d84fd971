package levin

// Config defines the wire constants a Protocol enforces and stamps on
// outbound headers.
type Config struct {
	Signature       uint64
	MaxPacketSize   uint64
	ProtocolVersion uint32
}

func DefaultConfig() Config {
	return Config{
		Signature:       Signature,
		MaxPacketSize:   MaxPacketSize,
		ProtocolVersion: ProtocolVersion1,
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Signature == 0 {
		c.Signature = def.Signature
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = def.MaxPacketSize
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = def.ProtocolVersion
	}
	return c
}
