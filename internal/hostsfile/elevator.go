package hostsfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Elevator copies src over dst with whatever privileges dst requires.
type Elevator interface {
	Copy(ctx context.Context, src, dst string) error
}

// Template placeholders substituted in every argument of a command.
const (
	PlaceholderSrc = "{src}"
	PlaceholderDst = "{dst}"
)

// DefaultCommand returns the escalation command template for goos.
func DefaultCommand(goos string) []string {
	switch goos {
	case "darwin":
		return []string{"osascript", "-e",
			`do shell script "cp '{src}' '{dst}'" with administrator privileges`}
	case "windows":
		return []string{"powershell", "-NoProfile", "-NonInteractive", "-Command",
			"Copy-Item -LiteralPath '{src}' -Destination '{dst}' -Force"}
	default:
		return []string{"pkexec", "cp", PlaceholderSrc, PlaceholderDst}
	}
}

type runFunc func(ctx context.Context, name string, args ...string) (stderr string, exitCode int, err error)

// CommandElevator runs an external escalation command once per copy. The
// grant is never cached.
type CommandElevator struct {
	command []string
	run     runFunc
}

// NewCommandElevator builds an elevator from a template. An empty template
// uses DefaultCommand for the running OS.
func NewCommandElevator(command []string) *CommandElevator {
	if len(command) == 0 {
		command = DefaultCommand(runtime.GOOS)
	}
	return &CommandElevator{command: command, run: runCommand}
}

// Command returns the template in use.
func (e *CommandElevator) Command() []string {
	return append([]string(nil), e.command...)
}

func (e *CommandElevator) Copy(ctx context.Context, src, dst string) error {
	r := strings.NewReplacer(PlaceholderSrc, src, PlaceholderDst, dst)
	args := make([]string, len(e.command))
	for i, a := range e.command {
		args[i] = r.Replace(a)
	}
	// Privileged writes are never interrupted half-way.
	stderr, code, err := e.run(context.WithoutCancel(ctx), args[0], args[1:]...)
	if err == nil {
		return nil
	}
	return classify(dst, stderr, code, err)
}

func runCommand(ctx context.Context, name string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	return stderr.String(), code, err
}

func classify(dst, stderr string, code int, err error) error {
	msg := strings.ToLower(stderr)
	switch {
	case code == 126, strings.Contains(msg, "user canceled"), strings.Contains(msg, "-128"):
		return fmt.Errorf("copy to %s: %w", dst, ErrUserCancelled)
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "access is denied"):
		return fmt.Errorf("copy to %s: %w", dst, ErrPermissionDenied)
	case code == 127:
		// pkexec: the agent was dismissed without a reason on stderr.
		return fmt.Errorf("copy to %s: %w", dst, ErrUserCancelled)
	}
	if s := strings.TrimSpace(stderr); s != "" {
		err = fmt.Errorf("%w: %s", err, s)
	}
	return &IOError{Op: "elevated copy", Path: dst, Err: err}
}

// DirectCopier copies without escalation. It serves processes that already
// own the target (root, tests, custom hosts paths).
type DirectCopier struct{}

func (DirectCopier) Copy(_ context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &IOError{Op: "open temp", Path: src, Err: err}
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("open %s: %w", dst, ErrPermissionDenied)
		}
		return &IOError{Op: "open", Path: dst, Err: err}
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return &IOError{Op: "write", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &IOError{Op: "close", Path: dst, Err: err}
	}
	return nil
}
