// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapEnv map[string]string

func (m mapEnv) Get(key string) string { return m[key] }

func TestLoadGatewayDefaults(t *testing.T) {
	cfg, err := LoadGateway(mapEnv{})
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "gateway.sid", cfg.Session.CookieName)
	assert.Equal(t, 30*time.Minute, cfg.Session.MaxAge)
	assert.True(t, cfg.Session.SecretGenerated)
	assert.NotEmpty(t, cfg.Session.Secret)
	assert.True(t, cfg.CSRFProof.Generated)
	assert.Equal(t, 200, cfg.Cache.MaxEntries)
}

func TestLoadGatewayEnvOverrides(t *testing.T) {
	cfg, err := LoadGateway(mapEnv{
		"PORT":                    "9090",
		"SESSION_SECRET":          "explicit",
		"SESSION_MAX_AGE_SECONDS": "60",
		"ALLOW_ORIGINS":           "https://a.example, https://b.example",
		"TRUST_PROXY":             "true",
	})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "explicit", cfg.Session.Secret)
	assert.False(t, cfg.Session.SecretGenerated)
	assert.Equal(t, time.Minute, cfg.Session.MaxAge)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowOrigins)
	assert.True(t, cfg.TrustProxy)
}

func TestLoadRadioDefaults(t *testing.T) {
	cfg, err := LoadRadio(mapEnv{})
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.True(t, cfg.EnforceHTTPSStreams)
	assert.Equal(t, 30, cfg.RefreshLockRetryAttempts)
	assert.NotEmpty(t, cfg.Browser.Hosts)
	assert.True(t, cfg.Validation.Enabled)
}

func TestConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 4000\nrefreshToken: from-file\n"), 0o644))

	cfg, err := LoadRadio(mapEnv{
		"CONFIG_FILE": path,
		"PORT":        "5000",
	})
	require.NoError(t, err)

	// Env wins over file; file wins over defaults.
	assert.Equal(t, 5000, cfg.Port)
	assert.Equal(t, "from-file", cfg.RefreshToken)
}

func TestLoadFetchMDDefaults(t *testing.T) {
	cfg, err := LoadFetchMD(mapEnv{})
	require.NoError(t, err)
	assert.Equal(t, 3002, cfg.Port)
	assert.Equal(t, 2<<20, cfg.MaxHTMLBytes)
}

func TestLoadTerminalDefaults(t *testing.T) {
	cfg, err := LoadTerminal(mapEnv{})
	require.NoError(t, err)
	assert.Equal(t, "/home/demo", cfg.DefaultVirtualHome)
	assert.Contains(t, cfg.LsAllowedFlags, "-la")
	assert.Contains(t, cfg.UnameAllowedFlags, "-a")
}
