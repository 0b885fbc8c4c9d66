// SPDX-License-Identifier: MIT

package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()
	cfg := testConfig(t)
	require.NoError(t, EnsureSandboxFilesystem(cfg))
	return NewHandlers(cfg)
}

func outputLines(outcome Outcome) []string {
	lines, _ := outcome.Payload["output"].([]string)
	return lines
}

func TestExecuteEmptyCommand(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("", "/home/demo")
	assert.Equal(t, 200, outcome.Status)
	assert.Equal(t, "/home/demo", outcome.Payload["cwd"])
}

func TestExecuteUnknownCommand(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("rm -rf /", "/home/demo")
	assert.Equal(t, 400, outcome.Status)
	assert.Equal(t, true, outcome.Payload["error"])
	lines := outputLines(outcome)
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], `"rm" is not available`)
}

func TestExecuteRejectsOverlongCommand(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute(strings.Repeat("x", maxCommandLength+1), "/home/demo")
	assert.Equal(t, 422, outcome.Status)
}

func TestLsListsHome(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("ls", "/home/demo")
	require.Equal(t, 200, outcome.Status)
	joined := strings.Join(outputLines(outcome), "\n")
	assert.Contains(t, joined, "README.md")
	assert.Contains(t, joined, "projects")
}

func TestLsLongFormat(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("ls -l", "/home/demo")
	require.Equal(t, 200, outcome.Status)
	lines := outputLines(outcome)
	require.NotEmpty(t, lines)
	for _, line := range lines {
		// mode nlink uid gid size mtime name
		assert.Regexp(t, `^[d-][rwx-]{9} `, line)
	}
}

func TestLsRejectsUnknownFlag(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("ls -Z", "/home/demo")
	assert.Equal(t, 422, outcome.Status)
}

func TestCatReadsFile(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("cat about.txt", "/home/demo")
	require.Equal(t, 200, outcome.Status)
	joined := strings.Join(outputLines(outcome), "\n")
	assert.Contains(t, joined, "sandbox-runner")
}

func TestCatMissingFile(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("cat nope.txt", "/home/demo")
	require.Equal(t, 200, outcome.Status)
	assert.Equal(t, true, outcome.Payload["error"])
	assert.Contains(t, outputLines(outcome)[0], "No such file")
}

func TestCdAndPwd(t *testing.T) {
	h := newTestHandlers(t)

	outcome := h.Execute("cd projects", "/home/demo")
	require.Equal(t, 200, outcome.Status)
	assert.Equal(t, "/home/demo/projects", outcome.Payload["cwd"])
	assert.Equal(t, "~/projects", outcome.Payload["displayCwd"])

	outcome = h.Execute("pwd", "/home/demo/projects")
	assert.Equal(t, []string{"~/projects"}, outputLines(outcome))
}

func TestCdRejectsMissingDirectory(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("cd nonexistent", "/home/demo")
	assert.Equal(t, 404, outcome.Status)
}

func TestCdCannotEscapeSandbox(t *testing.T) {
	h := newTestHandlers(t)
	// Walking up past the virtual root lands at "/" inside the sandbox.
	outcome := h.Execute("cd ../../../../..", "/home/demo")
	require.Equal(t, 200, outcome.Status)
	assert.Equal(t, "/", outcome.Payload["cwd"])
}

func TestEchoAndWhoami(t *testing.T) {
	h := newTestHandlers(t)

	outcome := h.Execute("echo hello world", "/home/demo")
	assert.Equal(t, []string{"hello world"}, outputLines(outcome))

	outcome = h.Execute("whoami", "/home/demo")
	assert.Equal(t, []string{"sandbox-runner"}, outputLines(outcome))
}

func TestMotd(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("motd", "/home/demo")
	require.Equal(t, 200, outcome.Status)
	joined := strings.Join(outputLines(outcome), "\n")
	assert.Contains(t, joined, "Welcome to gitgud.zip")
}

func TestUnameFlags(t *testing.T) {
	h := newTestHandlers(t)

	outcome := h.Execute("uname", "/home/demo")
	assert.Equal(t, []string{"Linux"}, outputLines(outcome))

	outcome = h.Execute("uname -m", "/home/demo")
	require.Equal(t, 200, outcome.Status)
	assert.NotEmpty(t, outputLines(outcome)[0])

	outcome = h.Execute("uname -x", "/home/demo")
	assert.Equal(t, 422, outcome.Status)
}

func TestClear(t *testing.T) {
	h := newTestHandlers(t)
	outcome := h.Execute("clear", "/home/demo")
	assert.Equal(t, true, outcome.Payload["clear"])
}

func TestBuildInfo(t *testing.T) {
	h := newTestHandlers(t)
	info := h.BuildInfo()
	assert.Equal(t, "~", info.DisplayCwd)
	assert.Equal(t, "/home/demo", info.VirtualCwd)
	assert.Contains(t, info.SupportedCommands, "ls")
	assert.NotEmpty(t, info.Motd)
}
