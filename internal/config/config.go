// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

// Package config loads runtime configuration for an Aranya client process:
// which cipher suite backs the crypto layer, the default channel label
// space, sync's per-call batch size, and the cap on facts a session
// overlay may accumulate before it is rejected. Layers, lowest to highest
// priority: built-in defaults, an optional YAML file, then ARANYA_*
// environment variables.
package config

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
)

// Error kinds surfaced by config loading/validation.
const (
	KindFileLoad  = "ConfigFileLoad"
	KindUnmarshal = "ConfigUnmarshal"
	KindInvalid   = "ConfigInvalid"
)

const (
	envPrefix        = "ARANYA_"
	defaultDelimiter = "."
)

// Known cipher suite identifiers accepted by the crypto layer (§1/§4.G).
const (
	CipherSuiteX25519ChaCha20Poly1305SHA256 = "X25519-ChaCha20Poly1305-SHA256"
)

// Default values applied before the YAML file and environment are layered
// on top.
const (
	DefaultCipherSuite       = CipherSuiteX25519ChaCha20Poly1305SHA256
	DefaultChannelLabelSpace = "aranya"
	DefaultSyncBatchSize     = 64
	DefaultSessionFactLimit  = 4096
)

// Config is the fully resolved configuration for one Aranya client process.
type Config struct {
	// CipherSuite selects the HPKE-style AEAD/KDF/KEM combination the
	// crypto layer uses for channel derivation and group-key sealing.
	CipherSuite string `koanf:"cipher_suite"`

	// ChannelLabelSpace namespaces the labels channels.Derive mixes into
	// its key schedule, so two deployments sharing a network never derive
	// colliding channel keys.
	ChannelLabelSpace string `koanf:"channel_label_space"`

	// SyncBatchSize bounds how many commands a single Sync call transfers
	// before the caller is expected to invoke it again, keeping one sync
	// round bounded in a long-lived graph.
	SyncBatchSize int `koanf:"sync_batch_size"`

	// SessionFactLimit caps how many facts a session overlay may hold
	// (seed plus writes) before further session writes are rejected,
	// bounding a misbehaving session's memory footprint.
	SessionFactLimit int `koanf:"session_fact_limit"`
}

// Defaults returns a Config holding the package's built-in defaults,
// letting callers that only need a Model/FFIRegistry for a single
// process build one without going through Load.
func Defaults() *Config {
	return &Config{
		CipherSuite:       DefaultCipherSuite,
		ChannelLabelSpace: DefaultChannelLabelSpace,
		SyncBatchSize:     DefaultSyncBatchSize,
		SessionFactLimit:  DefaultSessionFactLimit,
	}
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"cipher_suite":        DefaultCipherSuite,
		"channel_label_space": DefaultChannelLabelSpace,
		"sync_batch_size":     DefaultSyncBatchSize,
		"session_fact_limit":  DefaultSessionFactLimit,
	}
}

// Load resolves a Config from defaults, then yamlPath if non-empty, then
// ARANYA_*-prefixed environment variables (e.g. ARANYA_SYNC_BATCH_SIZE).
// yamlPath is optional only in the sense that passing "" skips the file
// layer entirely; a non-empty path that cannot be read or parsed is an
// error.
func Load(yamlPath string) (*Config, error) {
	k := koanf.New(defaultDelimiter)

	if err := k.Load(confmap.Provider(defaults(), defaultDelimiter), nil); err != nil {
		return nil, oops.Code(KindUnmarshal).Errorf("loading config defaults: %w", err)
	}

	if yamlPath != "" {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			return nil, oops.Code(KindFileLoad).With("path", yamlPath).Errorf("loading config file: %w", err)
		}
	}

	envProvider := env.Provider(envPrefix, defaultDelimiter, func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, oops.Code(KindUnmarshal).Errorf("loading config from environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code(KindUnmarshal).Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports whether cfg holds acceptable values.
func (cfg *Config) Validate() error {
	switch cfg.CipherSuite {
	case CipherSuiteX25519ChaCha20Poly1305SHA256:
	default:
		return oops.Code(KindInvalid).With("cipher_suite", cfg.CipherSuite).
			Errorf("unsupported cipher suite %q", cfg.CipherSuite)
	}
	if cfg.ChannelLabelSpace == "" {
		return oops.Code(KindInvalid).Errorf("channel_label_space must not be empty")
	}
	if cfg.SyncBatchSize <= 0 {
		return oops.Code(KindInvalid).With("sync_batch_size", cfg.SyncBatchSize).
			Errorf("sync_batch_size must be positive")
	}
	if cfg.SessionFactLimit <= 0 {
		return oops.Code(KindInvalid).With("session_fact_limit", cfg.SessionFactLimit).
			Errorf("session_fact_limit must be positive")
	}
	return nil
}
