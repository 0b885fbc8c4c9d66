// SPDX-License-Identifier: MIT

// Package terminal emulates a read-only shell over HTTP inside a
// chroot-like sandbox directory.
package terminal

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"

	"github.com/stasaberg/gitgud-edge/internal/config"
)

var defaultDirectories = []string{
	"/home/demo",
	"/home/demo/projects",
	"/home/demo/secrets",
	"/usr/bin",
	"/etc",
}

var defaultFiles = map[string][]string{
	"/home/demo/README.md": {
		"# Welcome to the sandbox",
		"",
		"You are exploring a read-only environment managed by the gitgud terminal service.",
		"",
		"Try these commands:",
		"- help",
		"- ls",
		"- cat about.txt",
		"- cd projects",
		"- ls -la",
	},
	"/home/demo/about.txt": {
		"User: sandbox-runner",
		"Role: Terminal explorer",
		"Shell: gitgudsh (restricted)",
		"Hint: Use `motd` for the message of the day.",
	},
	"/home/demo/projects/README.md": {
		"# Projects",
		"",
		"- codex-terminal",
		"- potato-launcher",
		"- keyboard-navigator",
	},
	"/home/demo/projects/nebula.log": {
		"== nebula status ==",
		"hyperdrive: ready",
		"shields: nominal",
		"cheese reserves: critical",
	},
	"/home/demo/secrets/classified.txt": {
		"Access denied. This sandbox is read-only.",
	},
}

const defaultMotd = "Welcome to gitgud.zip\nThis sandbox resets between sessions and has no network access."

// NormalizeVirtual resolves "." and ".." segments of an absolute virtual path
// without touching the filesystem. It is idempotent.
func NormalizeVirtual(value string) (string, error) {
	if strings.ContainsRune(value, 0) {
		return "", fmt.Errorf("invalid path character detected")
	}
	if !strings.HasPrefix(value, "/") {
		return "", fmt.Errorf("virtual paths must be absolute")
	}
	normalized := path.Clean(value)
	if normalized == "." || normalized == "" {
		normalized = "/"
	}
	return normalized, nil
}

// SanitizeVirtualPath normalizes input, falling back to defaultCwd when the
// input is empty.
func SanitizeVirtualPath(input, defaultCwd string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return NormalizeVirtual(defaultCwd)
	}
	return NormalizeVirtual(input)
}

// ResolveVirtualPath resolves input relative to the current directory.
func ResolveVirtualPath(current, input, defaultCwd string) (string, error) {
	base, err := SanitizeVirtualPath(current, defaultCwd)
	if err != nil {
		return "", err
	}
	if input == "" || input == "." {
		return base, nil
	}
	if strings.HasPrefix(input, "/") {
		return SanitizeVirtualPath(input, defaultCwd)
	}
	return NormalizeVirtual(path.Join(base, input))
}

// ToRealPath maps a virtual path onto the sandbox root and asserts the
// result stays inside it.
func ToRealPath(virtualPath string, cfg config.Terminal) (string, error) {
	normalized, err := SanitizeVirtualPath(virtualPath, cfg.DefaultVirtualHome)
	if err != nil {
		return "", err
	}
	if strings.Contains(normalized, "\\") {
		return "", fmt.Errorf("path contains backslash: %s", virtualPath)
	}

	root, err := filepath.Abs(cfg.SandboxRoot)
	if err != nil {
		return "", err
	}
	resolved := filepath.Join(root, "."+normalized)
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("resolved path escapes sandbox: %s", virtualPath)
	}
	return resolved, nil
}

// ToDisplayPath renders a virtual path with the home directory abbreviated
// to "~".
func ToDisplayPath(virtualPath, defaultCwd string) string {
	normalized, err := SanitizeVirtualPath(virtualPath, defaultCwd)
	if err != nil {
		return virtualPath
	}
	if normalized == defaultCwd {
		return "~"
	}
	if suffix, found := strings.CutPrefix(normalized, defaultCwd+"/"); found {
		return "~/" + suffix
	}
	return normalized
}

// SplitLines normalizes line endings and splits file content.
func SplitLines(raw string) []string {
	if raw == "" {
		return []string{}
	}
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	return strings.Split(normalized, "\n")
}

// EnsureSandboxFilesystem seeds the fixture tree. Existing files are never
// overwritten; new files land atomically.
func EnsureSandboxFilesystem(cfg config.Terminal) error {
	for _, directory := range defaultDirectories {
		real, err := ToRealPath(directory, cfg)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(real, 0o755); err != nil {
			return err
		}
	}

	for virtualPath, lines := range defaultFiles {
		if err := writeIfMissing(cfg, virtualPath, strings.Join(lines, "\n")); err != nil {
			return err
		}
	}
	return writeIfMissing(cfg, cfg.MotdVirtualPath, defaultMotd)
}

func writeIfMissing(cfg config.Terminal, virtualPath, content string) error {
	real, err := ToRealPath(virtualPath, cfg)
	if err != nil {
		return err
	}
	if _, err := os.Stat(real); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(real), 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(real, []byte(content), 0o644)
}

// FormatTimestamp renders a modification time the way ls does.
func FormatTimestamp(t time.Time) string {
	return t.Format("Jan _2 15:04")
}
