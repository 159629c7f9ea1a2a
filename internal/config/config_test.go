// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aranya Contributors

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aranya-project/aranya/pkg/errutil"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultCipherSuite, cfg.CipherSuite)
	assert.Equal(t, DefaultChannelLabelSpace, cfg.ChannelLabelSpace)
	assert.Equal(t, DefaultSyncBatchSize, cfg.SyncBatchSize)
	assert.Equal(t, DefaultSessionFactLimit, cfg.SessionFactLimit)
}

func TestLoad_YAMLFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aranya.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync_batch_size: 128\nchannel_label_space: acme\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.SyncBatchSize)
	assert.Equal(t, "acme", cfg.ChannelLabelSpace)
	assert.Equal(t, DefaultCipherSuite, cfg.CipherSuite, "fields absent from the file keep their default")
}

func TestLoad_EnvOverridesFileAndDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aranya.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sync_batch_size: 128\n"), 0o600))

	t.Setenv("ARANYA_SYNC_BATCH_SIZE", "256")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.SyncBatchSize)
}

func TestLoad_MissingExplicitFileIsAnError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, KindFileLoad)
}

func TestConfig_ValidateRejectsUnknownCipherSuite(t *testing.T) {
	cfg := &Config{
		CipherSuite:       "not-a-real-suite",
		ChannelLabelSpace: "x",
		SyncBatchSize:     1,
		SessionFactLimit:  1,
	}
	err := cfg.Validate()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, KindInvalid)
}

func TestConfig_ValidateRejectsNonPositiveLimits(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero sync batch size", Config{CipherSuite: DefaultCipherSuite, ChannelLabelSpace: "x", SyncBatchSize: 0, SessionFactLimit: 1}},
		{"negative session fact limit", Config{CipherSuite: DefaultCipherSuite, ChannelLabelSpace: "x", SyncBatchSize: 1, SessionFactLimit: -1}},
		{"empty channel label space", Config{CipherSuite: DefaultCipherSuite, ChannelLabelSpace: "", SyncBatchSize: 1, SessionFactLimit: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, KindInvalid)
		})
	}
}
