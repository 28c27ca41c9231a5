package provideradapter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyFailure_UvCwd(t *testing.T) {
	err := classifyFailure("agent", nil, "Error: process.cwd failed with EPERM")
	var uvErr *UvCwdFailure
	if !errors.As(err, &uvErr) {
		t.Fatalf("classifyFailure() = %v, want *UvCwdFailure", err)
	}
}

func TestClassifyFailure_SessionLock(t *testing.T) {
	err := classifyFailure("agent", nil, "fatal: session file locked by pid 4242")
	var lockErr *SessionLockContention
	if !errors.As(err, &lockErr) {
		t.Fatalf("classifyFailure() = %v, want *SessionLockContention", err)
	}
	if lockErr.OwnerPID != 4242 {
		t.Errorf("OwnerPID = %d, want 4242", lockErr.OwnerPID)
	}
}

func TestClassifyFailure_CommandNotFound(t *testing.T) {
	_, err := InvokeCLI(context.Background(), CLIOptions{
		Cmd:     "opengoat-definitely-not-a-real-binary",
		Message: "hi",
		Timeout: 5 * time.Second,
	})
	var notFound *ProviderCommandNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("InvokeCLI() error = %v, want *ProviderCommandNotFoundError", err)
	}
}

func TestInvokeCLI_MissingCmdIsValidationError(t *testing.T) {
	if _, err := InvokeCLI(context.Background(), CLIOptions{Message: "hi"}); err == nil {
		t.Error("expected validation error for missing Cmd")
	}
}

func TestInvokeCLI_EchoesStdoutAndExitCode(t *testing.T) {
	result, err := InvokeCLI(context.Background(), CLIOptions{
		Cmd:     "/bin/sh",
		Args:    []string{"-c", "cat >/dev/null; echo hello; exit 3"},
		Message: "ignored",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("InvokeCLI() error = %v", err)
	}
	if result.Code != 3 {
		t.Errorf("Code = %d, want 3", result.Code)
	}
	if result.Stdout != "hello\n" {
		t.Errorf("Stdout = %q, want %q", result.Stdout, "hello\n")
	}
}

func TestInvokeCLI_StreamsStdoutChunks(t *testing.T) {
	var chunks []string
	_, err := InvokeCLI(context.Background(), CLIOptions{
		Cmd:      "/bin/sh",
		Args:     []string{"-c", "cat >/dev/null; echo one; echo two"},
		Message:  "ignored",
		Timeout:  5 * time.Second,
		OnStdout: func(chunk string) { chunks = append(chunks, chunk) },
	})
	if err != nil {
		t.Fatalf("InvokeCLI() error = %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected at least one OnStdout callback")
	}
	var joined string
	for _, c := range chunks {
		joined += c
	}
	if joined != "one\ntwo\n" {
		t.Errorf("joined chunks = %q, want %q", joined, "one\ntwo\n")
	}
}

func TestLayeredEnv_OverridesInOrder(t *testing.T) {
	env := layeredEnv(CLIOptions{
		DefaultEnv: map[string]string{"X": "default"},
		StoredEnv:  map[string]string{"X": "stored"},
		CallerEnv:  map[string]string{"X": "caller"},
	})
	found := false
	for _, kv := range env {
		if kv == "X=caller" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected X=caller to win, env = %v", env)
	}
}
