// Package provideradapter implements the ProviderAdapter (C6): it invokes a
// provider either as a CLI subprocess or over a WebSocket gateway RPC call,
// and classifies the failure modes InvocationExecutor knows how to recover
// from (stale cwd, session lock contention, missing executable).
// InvalidProviderConfigError is defined here, but failure classification
// does not produce it.
package provideradapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/opengoat/opengoat/internal/apierrors"
)

// ProviderCommandNotFoundError means the configured executable isn't on
// PATH.
type ProviderCommandNotFoundError struct {
	Cmd string
}

func (e *ProviderCommandNotFoundError) Error() string {
	return fmt.Sprintf("provider command %q not found on PATH", e.Cmd)
}

// UvCwdFailure indicates the child process's working directory went stale
// (the classic "uv_cwd ... EPERM" failure from a deleted/moved workspace).
type UvCwdFailure struct {
	Stderr string
}

func (e *UvCwdFailure) Error() string { return "provider reported a stale working directory" }

// SessionLockContention indicates another process holds the session file
// lock; OwnerPID is parsed from stderr when present.
type SessionLockContention struct {
	Stderr    string
	OwnerPID  int
	RetryWait time.Duration
}

func (e *SessionLockContention) Error() string {
	return fmt.Sprintf("session file locked by pid %d", e.OwnerPID)
}

// InvalidProviderConfigError means the stored provider config is
// unparseable or violates its schema version.
type InvalidProviderConfigError struct {
	Reason string
}

func (e *InvalidProviderConfigError) Error() string {
	return fmt.Sprintf("invalid provider config: %s", e.Reason)
}

var (
	uvCwdPattern       = regexp.MustCompile(`(?i)uv_cwd|process\.cwd failed.*EPERM`)
	sessionLockPattern = regexp.MustCompile(`(?i)session file locked(?: by pid (\d+))?`)
)

// classifyFailure inspects a subprocess's exit error and stderr to decide
// whether this is one of the recoverable failure modes spec §4.6 names.
func classifyFailure(cmdName string, err error, stderr string) error {
	if err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return &ProviderCommandNotFoundError{Cmd: cmdName}
		}
		if errors.Is(err, exec.ErrNotFound) {
			return &ProviderCommandNotFoundError{Cmd: cmdName}
		}
	}
	if uvCwdPattern.MatchString(stderr) {
		return &UvCwdFailure{Stderr: stderr}
	}
	if m := sessionLockPattern.FindStringSubmatch(stderr); m != nil {
		pid := 0
		if m[1] != "" {
			pid, _ = strconv.Atoi(m[1])
		}
		return &SessionLockContention{Stderr: stderr, OwnerPID: pid, RetryWait: 10 * time.Second}
	}
	return nil
}

// CLIOptions configures a CLI subprocess invocation.
type CLIOptions struct {
	Cmd          string
	Args         []string
	Cwd          string
	DefaultEnv   map[string]string
	StoredEnv    map[string]string
	CallerEnv    map[string]string
	SystemPrompt string
	Message      string
	Timeout      time.Duration
	UsePTY       bool

	// GraceTimeout is how long InvokeCLI waits after sending SIGTERM (on
	// ctx cancellation) before escalating to SIGKILL (spec §5: "sends
	// SIGTERM, and after a 5s grace window sends SIGKILL").
	GraceTimeout time.Duration

	// OnStdout/OnStderr, if set, are called with each chunk of output as
	// it is written by the child process, so InvocationExecutor can
	// forward it as stdout/stderr progress events instead of waiting for
	// the process to exit.
	OnStdout func(chunk string)
	OnStderr func(chunk string)
}

// CLIResult is the outcome of a CLI subprocess invocation.
type CLIResult struct {
	Code              int
	Stdout            string
	Stderr            string
	ProviderSessionID string
}

// layeredEnv merges default < stored < caller, per spec §4.6.
func layeredEnv(opts CLIOptions) []string {
	merged := make(map[string]string, len(opts.DefaultEnv)+len(opts.StoredEnv)+len(opts.CallerEnv))
	for k, v := range opts.DefaultEnv {
		merged[k] = v
	}
	for k, v := range opts.StoredEnv {
		merged[k] = v
	}
	for k, v := range opts.CallerEnv {
		merged[k] = v
	}
	env := os.Environ()
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

// callbackWriter appends to an underlying buffer and, if notify is set,
// forwards each Write's bytes to it as they arrive so a caller can stream
// output incrementally instead of waiting for process exit.
type callbackWriter struct {
	buf    *bytes.Buffer
	notify func(chunk string)
	mu     sync.Mutex
}

func (w *callbackWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.buf.Write(p)
	if w.notify != nil && n > 0 {
		w.notify(string(p[:n]))
	}
	return n, err
}

// InvokeCLI spawns the provider's CLI subprocess, piping the system prompt
// and message in on stdin (the convention the teacher's agent CLIs use),
// and capturing stdout/stderr. It does not retry; InvocationExecutor owns
// the retry/fallback policy.
func InvokeCLI(ctx context.Context, opts CLIOptions) (CLIResult, error) {
	if opts.Cmd == "" {
		return CLIResult{}, apierrors.Validation("missing_provider_cmd", "OPENCLAW_CMD is not configured")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, opts.Cmd, opts.Args...)
	cmd.Dir = opts.Cwd
	cmd.Env = layeredEnv(opts)

	// Graceful cancellation: on ctx cancellation (e.g. an HTTP disconnect),
	// send SIGTERM and give the child GraceTimeout to exit before os/exec
	// escalates to SIGKILL (spec §5).
	grace := opts.GraceTimeout
	if grace <= 0 {
		grace = 5 * time.Second
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	var stdin bytes.Buffer
	if opts.SystemPrompt != "" {
		stdin.WriteString(opts.SystemPrompt)
		stdin.WriteString("\n---\n")
	}
	stdin.WriteString(opts.Message)
	cmd.Stdin = &stdin

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &callbackWriter{buf: &stdoutBuf, notify: opts.OnStdout}
	cmd.Stderr = &callbackWriter{buf: &stderrBuf, notify: opts.OnStderr}

	if opts.UsePTY {
		return invokeViaPTY(runCtx, cmd, opts)
	}

	runErr := cmd.Run()
	stdout, stderr := stdoutBuf, stderrBuf

	code := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			if classified := classifyFailure(opts.Cmd, runErr, stderr.String()); classified != nil {
				return CLIResult{}, classified
			}
			return CLIResult{}, apierrors.ProviderFailure("provider_exec_failed", "failed to run provider command", runErr)
		}
	}

	if classified := classifyFailure(opts.Cmd, nil, stderr.String()); classified != nil {
		return CLIResult{}, classified
	}

	return CLIResult{Code: code, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// RestartGateway runs `openclaw gateway restart --json` in homeDir. It is
// invoked by the UvCwdFailure recovery policy (spec §4.7 policy 1) before
// the single permitted re-invocation.
func RestartGateway(ctx context.Context, homeDir string) error {
	cmd := exec.CommandContext(ctx, "openclaw", "gateway", "restart", "--json")
	cmd.Dir = homeDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return apierrors.ProviderFailure("gateway_restart_failed", "failed to restart the OpenClaw gateway", fmt.Errorf("%s: %w", stderr.String(), err))
	}
	return nil
}
