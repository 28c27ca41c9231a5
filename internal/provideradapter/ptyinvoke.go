package provideradapter

import (
	"context"
	"os/exec"
	"time"

	"github.com/creack/pty"

	"github.com/opengoat/opengoat/internal/apierrors"
)

// ptyReadBufferSize matches the chunk size the teacher's PTY output reader
// uses (internal/pty.Session.StartOutputReader).
const ptyReadBufferSize = 4096

// invokeViaPTY runs the provider command attached to a pseudo-terminal
// instead of plain pipes. Some provider CLIs change their output buffering
// or formatting when stdout isn't a tty (progress spinners, ANSI color
// auto-detection); this mode works around that, adapted from the teacher's
// internal/pty session management.
func invokeViaPTY(ctx context.Context, cmd *exec.Cmd, opts CLIOptions) (CLIResult, error) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		if classified := classifyFailure(opts.Cmd, err, ""); classified != nil {
			return CLIResult{}, classified
		}
		return CLIResult{}, apierrors.ProviderFailure("provider_pty_start_failed", "failed to start provider under a pty", err)
	}
	defer ptmx.Close()

	output := make(chan []byte, 64)
	done := make(chan error, 1)

	go func() {
		buf := make([]byte, ptyReadBufferSize)
		for {
			n, readErr := ptmx.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				output <- chunk
			}
			if readErr != nil {
				close(output)
				return
			}
		}
	}()

	go func() {
		done <- cmd.Wait()
	}()

	var collected []byte
	draining := true
	for draining {
		select {
		case chunk, ok := <-output:
			if !ok {
				draining = false
				continue
			}
			collected = append(collected, chunk...)
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return CLIResult{}, apierrors.ProviderFailure("provider_cancelled", "provider invocation cancelled", ctx.Err())
		case <-time.After(30 * time.Minute):
			_ = cmd.Process.Kill()
			return CLIResult{}, apierrors.ProviderFailure("provider_pty_stalled", "provider produced no output for 30 minutes", nil)
		}
	}

	waitErr := <-done
	code := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			return CLIResult{}, apierrors.ProviderFailure("provider_exec_failed", "failed to run provider command under a pty", waitErr)
		}
	}

	text := string(collected)
	if classified := classifyFailure(opts.Cmd, nil, text); classified != nil {
		return CLIResult{}, classified
	}

	return CLIResult{Code: code, Stdout: text}, nil
}
