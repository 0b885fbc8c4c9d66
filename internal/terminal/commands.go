// SPDX-License-Identifier: MIT

package terminal

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"syscall"

	"github.com/stasaberg/gitgud-edge/internal/config"
)

const (
	maxCommandLength = 256
	maxArgs          = 32
)

// Handlers executes the fixed sandbox command grammar.
type Handlers struct {
	cfg config.Terminal
}

// NewHandlers creates the command handlers.
func NewHandlers(cfg config.Terminal) *Handlers {
	return &Handlers{cfg: cfg}
}

// Result is the outcome of one command.
type Result struct {
	Cwd    string
	Output []string
	Error  bool
	Clear  bool
}

// Outcome is the HTTP-facing command response.
type Outcome struct {
	Status  int
	Payload map[string]any
}

type sandboxError struct {
	message string
	status  int
}

func (e *sandboxError) Error() string { return e.message }

func sandboxErrorf(status int, format string, args ...any) *sandboxError {
	return &sandboxError{message: fmt.Sprintf(format, args...), status: status}
}

// Execute parses and runs one command line against the sandbox.
func (h *Handlers) Execute(input, cwd string) Outcome {
	trimmed := strings.TrimSpace(input)
	defaultCwd := h.cfg.DefaultVirtualHome

	if trimmed == "" {
		sanitized, err := SanitizeVirtualPath(cwd, defaultCwd)
		if err != nil {
			sanitized = defaultCwd
		}
		return h.outcomeFromResult(input, Result{Cwd: sanitized, Output: []string{}}, 200)
	}
	if len(trimmed) > maxCommandLength {
		return validationError(fmt.Sprintf("Command length exceeds limit of %d", maxCommandLength))
	}

	currentCwd, err := SanitizeVirtualPath(cwd, defaultCwd)
	if err != nil {
		return h.outcomeFromSandboxError(input, defaultCwd, sandboxErrorf(422, "Invalid working directory"))
	}

	fields := strings.Fields(trimmed)
	command := strings.ToLower(fields[0])
	args := fields[1:]
	if len(args) > maxArgs {
		return validationError(fmt.Sprintf("Too many arguments; maximum is %d", maxArgs))
	}

	var result Result
	var cmdErr *sandboxError
	switch command {
	case "help":
		result = Result{Cwd: currentCwd, Output: h.cfg.HelpText}
	case "clear":
		result = Result{Cwd: currentCwd, Output: []string{}, Clear: true}
	case "ls":
		result, cmdErr = h.handleLs(currentCwd, args)
	case "pwd":
		result = Result{Cwd: currentCwd, Output: []string{ToDisplayPath(currentCwd, defaultCwd)}}
	case "whoami":
		result = Result{Cwd: currentCwd, Output: []string{"sandbox-runner"}}
	case "cat":
		result = h.handleCat(currentCwd, args)
	case "cd":
		newCwd, err := h.handleCd(currentCwd, args)
		if err != nil {
			cmdErr = err
		} else {
			result = Result{Cwd: newCwd, Output: []string{}}
		}
	case "history":
		result = Result{Cwd: currentCwd, Output: []string{"History is tracked client-side for each session."}}
	case "echo":
		result = Result{Cwd: currentCwd, Output: []string{strings.Join(args, " ")}}
	case "motd":
		output, failed := h.readMotd()
		result = Result{Cwd: currentCwd, Output: output, Error: failed}
	case "uname":
		line, err := h.handleUname(args)
		if err != nil {
			cmdErr = err
		} else {
			result = Result{Cwd: currentCwd, Output: []string{line}}
		}
	default:
		result = Result{
			Cwd: currentCwd,
			Output: []string{
				fmt.Sprintf("Command %q is not available in this sandbox.", command),
				"Type `help` to see supported commands.",
			},
			Error: true,
		}
		return h.outcomeFromResult(input, result, 400)
	}

	if cmdErr != nil {
		return h.outcomeFromSandboxError(input, currentCwd, cmdErr)
	}
	return h.outcomeFromResult(input, result, 200)
}

// SupportedCommands lists the command grammar.
func SupportedCommands() []string {
	return []string{"help", "clear", "ls", "pwd", "whoami", "cat", "cd", "history", "echo", "motd", "uname"}
}

// Info is the GET /info response body.
type Info struct {
	DisplayCwd        string   `json:"displayCwd"`
	VirtualCwd        string   `json:"virtualCwd"`
	SupportedCommands []string `json:"supportedCommands"`
	Motd              []string `json:"motd"`
}

// BuildInfo assembles the initial shell info.
func (h *Handlers) BuildInfo() Info {
	motd, _ := h.readMotd()
	return Info{
		DisplayCwd:        ToDisplayPath(h.cfg.DefaultVirtualHome, h.cfg.DefaultVirtualHome),
		VirtualCwd:        h.cfg.DefaultVirtualHome,
		SupportedCommands: SupportedCommands(),
		Motd:              motd,
	}
}

func (h *Handlers) readMotd() ([]string, bool) {
	if h.cfg.MotdVirtualPath == "" {
		return []string{}, false
	}
	real, err := ToRealPath(h.cfg.MotdVirtualPath, h.cfg)
	if err != nil {
		return []string{"motd: Failed to read message of the day."}, true
	}
	content, err := os.ReadFile(real)
	if err != nil {
		return []string{"motd: Failed to read message of the day."}, true
	}
	var lines []string
	for _, line := range strings.Split(string(content), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, false
}

func (h *Handlers) outcomeFromResult(command string, result Result, status int) Outcome {
	payload := map[string]any{
		"command":    command,
		"displayCwd": ToDisplayPath(result.Cwd, h.cfg.DefaultVirtualHome),
		"cwd":        result.Cwd,
		"output":     result.Output,
		"error":      result.Error,
	}
	if result.Clear {
		payload["clear"] = true
	}
	return Outcome{Status: status, Payload: payload}
}

func (h *Handlers) outcomeFromSandboxError(command, currentCwd string, err *sandboxError) Outcome {
	result := Result{Cwd: currentCwd, Output: []string{err.message}, Error: true}
	return h.outcomeFromResult(command, result, err.status)
}

func validationError(message string) Outcome {
	return Outcome{Status: 422, Payload: map[string]any{"message": message}}
}

// MalformedBody is the outcome for an unreadable request body.
func MalformedBody() Outcome {
	return Outcome{Status: 400, Payload: map[string]any{"message": "Malformed JSON body"}}
}

func (h *Handlers) handleLs(currentCwd string, args []string) (Result, *sandboxError) {
	flags, positional, err := h.parseLsArgs(args)
	if err != nil {
		return Result{}, err
	}
	showAll := flagsContain(flags, 'a')
	longFormat := flagsContain(flags, 'l')
	humanReadable := flagsContain(flags, 'h')

	targetVirtual := currentCwd
	var pathArg string
	if len(positional) == 1 {
		pathArg = positional[0]
		resolved, resolveErr := ResolveVirtualPath(currentCwd, pathArg, h.cfg.DefaultVirtualHome)
		if resolveErr != nil {
			return Result{}, sandboxErrorf(422, "ls: invalid path")
		}
		targetVirtual = resolved
	}

	realTarget, err2 := ToRealPath(targetVirtual, h.cfg)
	if err2 != nil {
		return Result{}, sandboxErrorf(422, "ls: invalid path")
	}
	info, statErr := os.Stat(realTarget)
	if statErr != nil {
		label := pathArg
		if label == "" {
			label = "."
		}
		return Result{}, sandboxErrorf(404, "ls: %s: No such file or directory", label)
	}

	if !info.IsDir() {
		name := pathArg
		if name == "" {
			name = targetVirtual
		}
		output := []string{name}
		if longFormat {
			output = []string{entryLine(name, info, true, humanReadable)}
		}
		return Result{Cwd: currentCwd, Output: output}, nil
	}

	var results []string
	if showAll {
		results = append(results, entryLine(".", info, longFormat, humanReadable))
		parentVirtual, resolveErr := ResolveVirtualPath(targetVirtual, "..", h.cfg.DefaultVirtualHome)
		if resolveErr == nil {
			if parentReal, realErr := ToRealPath(parentVirtual, h.cfg); realErr == nil {
				if parentInfo, parentErr := os.Stat(parentReal); parentErr == nil {
					results = append(results, entryLine("..", parentInfo, longFormat, humanReadable))
				}
			}
		}
	}

	entries, readErr := os.ReadDir(realTarget)
	if readErr != nil {
		return Result{}, sandboxErrorf(500, "ls: failed to read directory")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		name := entry.Name()
		if !showAll && strings.HasPrefix(name, ".") {
			continue
		}
		entryInfo, infoErr := entry.Info()
		if infoErr != nil {
			continue
		}
		results = append(results, entryLine(name, entryInfo, longFormat, humanReadable))
	}
	return Result{Cwd: currentCwd, Output: results}, nil
}

func (h *Handlers) parseLsArgs(args []string) ([]string, []string, *sandboxError) {
	allowed := make(map[string]struct{}, len(h.cfg.LsAllowedFlags))
	for _, flag := range h.cfg.LsAllowedFlags {
		allowed[flag] = struct{}{}
	}

	var flags, positional []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			if _, ok := allowed[arg]; !ok {
				return nil, nil, sandboxErrorf(422, "Flag %q is not allowed", arg)
			}
			flags = append(flags, arg)
		} else {
			positional = append(positional, arg)
		}
	}
	if len(positional) > 1 {
		return nil, nil, sandboxErrorf(422, "ls accepts at most a single path in this sandbox")
	}
	return flags, positional, nil
}

func flagsContain(flags []string, letter rune) bool {
	for _, flag := range flags {
		if strings.ContainsRune(flag, letter) {
			return true
		}
	}
	return false
}

// entryLine renders one ls entry, long format when requested:
// mode nlink uid gid size mtime name.
func entryLine(name string, info os.FileInfo, longFormat, humanReadable bool) string {
	if !longFormat {
		return name
	}

	permissions := formatPermissions(info)
	nlink, uid, gid := statOwnership(info)

	var size string
	if humanReadable {
		size = fmt.Sprintf("%5s", formatHumanSize(uint64(info.Size())))
	} else {
		size = fmt.Sprintf("%8d", info.Size())
	}
	return fmt.Sprintf("%s %2d %-5d %-5d %s %s %s",
		permissions, nlink, uid, gid, size, FormatTimestamp(info.ModTime()), name)
}

func formatPermissions(info os.FileInfo) string {
	mode := info.Mode()
	var builder strings.Builder
	if info.IsDir() {
		builder.WriteByte('d')
	} else {
		builder.WriteByte('-')
	}
	perms := []struct {
		bit  os.FileMode
		char byte
	}{
		{0o400, 'r'}, {0o200, 'w'}, {0o100, 'x'},
		{0o040, 'r'}, {0o020, 'w'}, {0o010, 'x'},
		{0o004, 'r'}, {0o002, 'w'}, {0o001, 'x'},
	}
	for _, perm := range perms {
		if mode&perm.bit != 0 {
			builder.WriteByte(perm.char)
		} else {
			builder.WriteByte('-')
		}
	}
	return builder.String()
}

func statOwnership(info os.FileInfo) (nlink uint64, uid, gid uint32) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(stat.Nlink), stat.Uid, stat.Gid
	}
	return 1, 0, 0
}

func formatHumanSize(bytes uint64) string {
	units := []string{"B", "K", "M", "G", "T"}
	size := float64(bytes)
	index := 0
	for size >= 1024 && index < len(units)-1 {
		size /= 1024
		index++
	}
	if index == 0 {
		return fmt.Sprintf("%d%s", bytes, units[index])
	}
	return fmt.Sprintf("%.1f%s", size, units[index])
}

func (h *Handlers) handleCat(currentCwd string, args []string) Result {
	if len(args) == 0 {
		return Result{Cwd: currentCwd, Output: []string{"cat: missing file operand"}, Error: true}
	}
	if len(args) > 1 {
		return Result{Cwd: currentCwd, Output: []string{"cat: multiple files are not supported in this sandbox"}, Error: true}
	}

	targetVirtual, err := ResolveVirtualPath(currentCwd, args[0], h.cfg.DefaultVirtualHome)
	if err != nil {
		return Result{Cwd: currentCwd, Output: []string{"cat: " + args[0] + ": No such file"}, Error: true}
	}
	real, err := ToRealPath(targetVirtual, h.cfg)
	if err != nil {
		return Result{Cwd: currentCwd, Output: []string{"cat: " + args[0] + ": No such file"}, Error: true}
	}
	content, err := os.ReadFile(real)
	if err != nil {
		message := "Cannot read file"
		if os.IsNotExist(err) {
			message = "No such file"
		}
		return Result{Cwd: currentCwd, Output: []string{fmt.Sprintf("cat: %s: %s", args[0], message)}, Error: true}
	}
	return Result{Cwd: currentCwd, Output: SplitLines(string(content))}
}

func (h *Handlers) handleCd(currentCwd string, args []string) (string, *sandboxError) {
	if len(args) == 0 {
		return h.cfg.DefaultVirtualHome, nil
	}
	if len(args) > 1 {
		return "", sandboxErrorf(422, "cd: too many arguments")
	}

	targetVirtual, err := ResolveVirtualPath(currentCwd, args[0], h.cfg.DefaultVirtualHome)
	if err != nil {
		return "", sandboxErrorf(422, "cd: invalid path")
	}
	real, err := ToRealPath(targetVirtual, h.cfg)
	if err != nil {
		return "", sandboxErrorf(422, "cd: invalid path")
	}
	info, statErr := os.Stat(real)
	if statErr != nil || !info.IsDir() {
		return "", sandboxErrorf(404, "cd: %s: No such directory", args[0])
	}
	return targetVirtual, nil
}

func (h *Handlers) handleUname(args []string) (string, *sandboxError) {
	allowed := make(map[string]struct{}, len(h.cfg.UnameAllowedFlags))
	for _, flag := range h.cfg.UnameAllowedFlags {
		allowed[flag] = struct{}{}
	}
	for _, arg := range args {
		if _, ok := allowed[arg]; !ok {
			return "", sandboxErrorf(422, "Flag %q is not allowed", arg)
		}
	}

	kernelName := "Linux"
	release := kernelRelease()
	machine := runtime.GOARCH
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	switch {
	case contains(args, "-a"):
		return strings.TrimSpace(fmt.Sprintf("%s %s %s %s", kernelName, hostname, release, machine)), nil
	case contains(args, "-r"):
		return release, nil
	case contains(args, "-m"):
		return machine, nil
	default:
		return kernelName, nil
	}
}

// kernelRelease reads the host kernel version. Whether exposing it is a leak
// depends on deployment posture; the sandbox keeps parity with real uname.
func kernelRelease() string {
	out, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

func contains(values []string, needle string) bool {
	for _, value := range values {
		if value == needle {
			return true
		}
	}
	return false
}
