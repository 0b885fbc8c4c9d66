// SPDX-License-Identifier: MIT

package terminal

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stasaberg/gitgud-edge/internal/config"
)

func testConfig(t *testing.T) config.Terminal {
	t.Helper()
	cfg, err := config.LoadTerminal(mapEnv{})
	require.NoError(t, err)
	cfg.SandboxRoot = t.TempDir()
	return cfg
}

type mapEnv map[string]string

func (m mapEnv) Get(key string) string { return m[key] }

func TestNormalizeVirtual(t *testing.T) {
	cases := map[string]string{
		"/":                 "/",
		"/home/demo":        "/home/demo",
		"/home/demo/..":     "/home",
		"/home/../../../..": "/",
		"/home/./demo/./x":  "/home/demo/x",
		"/a/b/../c":         "/a/c",
	}
	for input, want := range cases {
		got, err := NormalizeVirtual(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)

		// Normalization is idempotent.
		again, err := NormalizeVirtual(got)
		require.NoError(t, err)
		assert.Equal(t, got, again)
	}

	_, err := NormalizeVirtual("relative/path")
	assert.Error(t, err)
	_, err = NormalizeVirtual("/nul\x00byte")
	assert.Error(t, err)
}

func TestToRealPathStaysInsideSandbox(t *testing.T) {
	cfg := testConfig(t)
	root, err := filepath.Abs(cfg.SandboxRoot)
	require.NoError(t, err)

	for _, virtual := range []string{
		"/", "/home/demo", "/home/demo/../../etc", "/../..", "/a/../../../b",
	} {
		real, err := ToRealPath(virtual, cfg)
		require.NoError(t, err, virtual)
		assert.True(t, real == root || strings.HasPrefix(real, root+string(filepath.Separator)),
			"%s resolved outside sandbox: %s", virtual, real)
	}
}

func TestResolveVirtualPath(t *testing.T) {
	cfg := testConfig(t)

	resolved, err := ResolveVirtualPath("/home/demo", "projects", cfg.DefaultVirtualHome)
	require.NoError(t, err)
	assert.Equal(t, "/home/demo/projects", resolved)

	resolved, err = ResolveVirtualPath("/home/demo/projects", "..", cfg.DefaultVirtualHome)
	require.NoError(t, err)
	assert.Equal(t, "/home/demo", resolved)

	resolved, err = ResolveVirtualPath("/home/demo", "/etc", cfg.DefaultVirtualHome)
	require.NoError(t, err)
	assert.Equal(t, "/etc", resolved)
}

func TestToDisplayPath(t *testing.T) {
	assert.Equal(t, "~", ToDisplayPath("/home/demo", "/home/demo"))
	assert.Equal(t, "~/projects", ToDisplayPath("/home/demo/projects", "/home/demo"))
	assert.Equal(t, "/etc", ToDisplayPath("/etc", "/home/demo"))
}

func TestEnsureSandboxFilesystemSeeds(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, EnsureSandboxFilesystem(cfg))

	readme, err := ToRealPath("/home/demo/README.md", cfg)
	require.NoError(t, err)
	assert.FileExists(t, readme)

	motd, err := ToRealPath(cfg.MotdVirtualPath, cfg)
	require.NoError(t, err)
	assert.FileExists(t, motd)

	// Seeding again never overwrites.
	require.NoError(t, EnsureSandboxFilesystem(cfg))
}
