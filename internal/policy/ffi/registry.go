// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package ffi

import (
	"github.com/aranya-project/aranya/internal/config"
	"github.com/aranya-project/aranya/internal/crypto/groupkey"
	"github.com/aranya-project/aranya/internal/policy/machine"
)

// NewDefaultRegistry returns an FFIRegistry with every well-known module
// (§4.F) registered: envelope, perspective, device, crypto, and idam. The
// crypto module is the only one with process-local state (its key-wrapping
// engine plus the channel label space cfg selects), so it's
// constructed from the caller's engine and config rather than held as a
// package-level singleton. A nil cfg falls back to config's package
// defaults (§A.3); an unsupported cfg.CipherSuite is an error here rather
// than a panic, since a caller building a registry directly (bypassing
// config.Load's own Validate) is the only way to reach it.
func NewDefaultRegistry(cryptoEngine groupkey.Engine, cfg *config.Config) (*machine.FFIRegistry, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}
	cryptoModule, err := NewCryptoModule(cryptoEngine, cfg)
	if err != nil {
		return nil, err
	}
	r := machine.NewFFIRegistry()
	r.Register(EnvelopeModule{})
	r.Register(PerspectiveModule{})
	r.Register(DeviceModule{})
	r.Register(cryptoModule)
	r.Register(IdamModule{})
	return r, nil
}
