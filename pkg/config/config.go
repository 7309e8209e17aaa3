// Package config loads zentalk-chat settings from a YAML file
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"gopkg.in/yaml.v3"

	"github.com/ZentaChain/zentalk-chat/pkg/chat"
	"github.com/ZentaChain/zentalk-chat/pkg/crypto"
	"github.com/ZentaChain/zentalk-chat/pkg/network"
	"github.com/ZentaChain/zentalk-chat/pkg/protocol"
	"github.com/ZentaChain/zentalk-chat/pkg/registry"
)

// maxFrameCeiling bounds the configurable frame size
const maxFrameCeiling = 16 * 1024 * 1024

var ErrInvalidConfig = errors.New("invalid config")

// Config holds every tunable of a chat node
type Config struct {
	Name       string `yaml:"name"`
	Room       string `yaml:"room"`
	PSK        string `yaml:"psk"` // hex, 32 bytes
	Passphrase string `yaml:"passphrase"`

	ListenAddrs    []string `yaml:"listen_addrs"`
	BootstrapPeers []string `yaml:"bootstrap_peers"`
	EnableMDNS     bool     `yaml:"enable_mdns"`
	EnableDHT      bool     `yaml:"enable_dht"`

	MaxFrameSize      uint32        `yaml:"max_frame_size"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	AnnounceInterval  time.Duration `yaml:"announce_interval"`

	RegistryCapacity int    `yaml:"registry_capacity"`
	APIPort          int    `yaml:"api_port"` // 0 disables the status API
	LogLevel         string `yaml:"log_level"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		ListenAddrs:       network.DefaultListenAddrs,
		EnableMDNS:        true,
		EnableDHT:         true,
		MaxFrameSize:      protocol.MaxFrameSize,
		ReadTimeout:       network.DefaultReadTimeout,
		KeepAliveInterval: network.DefaultKeepAliveInterval,
		HandshakeTimeout:  network.DefaultHandshakeTimeout,
		AnnounceInterval:  chat.DefaultAnnounceInterval,
		RegistryCapacity:  registry.DefaultCapacity,
		LogLevel:          "warn",
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	if err := cfg.decode(f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.PSK != "" && c.Passphrase != "" {
		return fmt.Errorf("%w: psk and passphrase are mutually exclusive", ErrInvalidConfig)
	}
	if c.PSK != "" {
		if _, err := crypto.ParseKey(c.PSK); err != nil {
			return fmt.Errorf("%w: psk: %v", ErrInvalidConfig, err)
		}
	}
	if len(c.Name) > protocol.MaxNameLength {
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidConfig, protocol.MaxNameLength)
	}
	if c.MaxFrameSize <= protocol.MinSealedSize || c.MaxFrameSize > maxFrameCeiling {
		return fmt.Errorf("%w: max_frame_size %d out of range", ErrInvalidConfig, c.MaxFrameSize)
	}

	durations := map[string]time.Duration{
		"read_timeout":       c.ReadTimeout,
		"keepalive_interval": c.KeepAliveInterval,
		"handshake_timeout":  c.HandshakeTimeout,
		"announce_interval":  c.AnnounceInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidConfig, name)
		}
	}
	if c.KeepAliveInterval >= c.ReadTimeout {
		return fmt.Errorf("%w: keepalive_interval must be shorter than read_timeout", ErrInvalidConfig)
	}

	if c.RegistryCapacity < 0 {
		return fmt.Errorf("%w: registry_capacity must not be negative", ErrInvalidConfig)
	}
	if c.APIPort < 0 || c.APIPort > 65535 {
		return fmt.Errorf("%w: api_port %d out of range", ErrInvalidConfig, c.APIPort)
	}
	if _, err := logging.Parse(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}

	return nil
}

// ResolvePSK returns the pre-shared key, or nil when none is configured
func (c *Config) ResolvePSK() (*crypto.Key, error) {
	switch {
	case c.PSK != "":
		key, err := crypto.ParseKey(c.PSK)
		if err != nil {
			return nil, err
		}
		return &key, nil
	case c.Passphrase != "":
		key, err := crypto.DeriveKeyFromPassphrase(c.Passphrase)
		if err != nil {
			return nil, err
		}
		return &key, nil
	default:
		return nil, nil
	}
}

// DirectConfig builds direct-mode settings for identity
func (c *Config) DirectConfig(identity *crypto.KeyPair) (*network.DirectConfig, error) {
	psk, err := c.ResolvePSK()
	if err != nil {
		return nil, err
	}

	dc := network.DefaultDirectConfig(identity)
	dc.PSK = psk
	dc.MaxFrameSize = c.MaxFrameSize
	dc.ReadTimeout = c.ReadTimeout
	dc.KeepAliveInterval = c.KeepAliveInterval
	dc.HandshakeTimeout = c.HandshakeTimeout
	return dc, nil
}

// NodeConfig builds gossip node settings
func (c *Config) NodeConfig() *network.NodeConfig {
	return &network.NodeConfig{
		ListenAddrs:    c.ListenAddrs,
		BootstrapPeers: c.BootstrapPeers,
		EnableMDNS:     c.EnableMDNS,
		EnableDHT:      c.EnableDHT,
	}
}
