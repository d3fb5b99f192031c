package scripts

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// HookType distinguishes the two hook points of the executor state machine.
type HookType string

const (
	HookPre  HookType = "pre"
	HookPost HookType = "post"
)

// HookOutcome is what a hook run reports back to the executor/report builder.
type HookOutcome struct {
	// Ran is false when no script was found at any precedence level — the
	// step was skipped, which is not an error (spec §4.7).
	Ran      bool
	Path     string
	ExitCode int
	Output   string // combined stdout+stderr, trimmed
	Err      error
	TimedOut bool
}

// HookRunner resolves and executes pre/post scripts (C7).
type HookRunner struct {
	ScriptsDir string
	Timeout    time.Duration
	// killGrace is the wait between SIGTERM and SIGKILL on timeout.
	killGrace time.Duration
}

func NewHookRunner(scriptsDir string, timeout time.Duration) *HookRunner {
	return &HookRunner{ScriptsDir: scriptsDir, Timeout: timeout, killGrace: 5 * time.Second}
}

// Resolve finds the hook script for containerName, trying the
// container-specific name first and falling back to the generic one. Returns
// "" if neither exists.
func (r *HookRunner) Resolve(containerName string, kind HookType) string {
	specific := filepath.Join(r.ScriptsDir, fmt.Sprintf("%s_%s.sh", containerName, kind))
	if isExecutableFile(specific) {
		return specific
	}
	generic := filepath.Join(r.ScriptsDir, fmt.Sprintf("%s.sh", kind))
	if isExecutableFile(generic) {
		return generic
	}
	return ""
}

func isExecutableFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return true
}

// HookEnv carries the values spec §4.7 says are injected, and nothing else.
type HookEnv struct {
	ContainerName string
	ScriptType    HookType
	DryRun        bool
	LogLevel      string
	ConfigDir     string
	ScriptsDir    string
}

func (e HookEnv) toEnviron() []string {
	return []string{
		"CAPTN_CONTAINER_NAME=" + e.ContainerName,
		"CAPTN_SCRIPT_TYPE=" + string(e.ScriptType),
		"CAPTN_DRY_RUN=" + boolStr(e.DryRun),
		"CAPTN_LOG_LEVEL=" + e.LogLevel,
		"CAPTN_CONFIG_DIR=" + e.ConfigDir,
		"CAPTN_SCRIPTS_DIR=" + e.ScriptsDir,
	}
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Run resolves and executes the hook for containerName/kind. A missing
// script is reported as HookOutcome{Ran: false} with no error.
func (r *HookRunner) Run(ctx context.Context, env HookEnv) HookOutcome {
	path := r.Resolve(env.ContainerName, env.ScriptType)
	if path == "" {
		return HookOutcome{Ran: false}
	}

	runCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, path)
	cmd.Dir = r.ScriptsDir
	cmd.Env = env.toEnviron()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	startErr := cmd.Start()
	if startErr != nil {
		return HookOutcome{Ran: true, Path: path, Err: fmt.Errorf("start hook: %w", startErr)}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return outcomeFromWait(path, out.String(), err)
	case <-runCtx.Done():
		r.killProcessGroup(cmd)
		<-done // reap
		return HookOutcome{Ran: true, Path: path, Output: trimOutput(out.String()), TimedOut: true, Err: runCtx.Err()}
	}
}

// killProcessGroup sends SIGTERM to the hook's process group, then SIGKILL
// after a short grace period if it hasn't exited (spec §4.7).
func (r *HookRunner) killProcessGroup(cmd *exec.Cmd) {
	pgid := cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)
	time.AfterFunc(r.killGrace, func() {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	})
}

func outcomeFromWait(path, output string, err error) HookOutcome {
	trimmed := trimOutput(output)
	if err == nil {
		return HookOutcome{Ran: true, Path: path, ExitCode: 0, Output: trimmed}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return HookOutcome{Ran: true, Path: path, ExitCode: exitErr.ExitCode(), Output: trimmed, Err: err}
	}
	return HookOutcome{Ran: true, Path: path, Output: trimmed, Err: err}
}

const maxHookOutput = 16 * 1024

func trimOutput(s string) string {
	if len(s) <= maxHookOutput {
		return s
	}
	return s[:maxHookOutput] + "\n...(truncated)"
}
