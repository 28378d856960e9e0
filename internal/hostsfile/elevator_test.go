package hostsfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCommandPerOS(t *testing.T) {
	assert.Equal(t, []string{"pkexec", "cp", "{src}", "{dst}"}, DefaultCommand("linux"))
	assert.Equal(t, "osascript", DefaultCommand("darwin")[0])
	assert.Equal(t, "powershell", DefaultCommand("windows")[0])
}

func TestCommandElevatorSubstitutesPlaceholders(t *testing.T) {
	var gotName string
	var gotArgs []string
	e := NewCommandElevator([]string{"sudo", "-n", "cp", "{src}", "{dst}"})
	e.run = func(_ context.Context, name string, args ...string) (string, int, error) {
		gotName, gotArgs = name, args
		return "", 0, nil
	}

	require.NoError(t, e.Copy(context.Background(), "/tmp/x", "/etc/hosts"))
	assert.Equal(t, "sudo", gotName)
	assert.Equal(t, []string{"-n", "cp", "/tmp/x", "/etc/hosts"}, gotArgs)
}

func TestCommandElevatorIgnoresCallerCancellation(t *testing.T) {
	e := NewCommandElevator([]string{"cp", "{src}", "{dst}"})
	e.run = func(ctx context.Context, _ string, _ ...string) (string, int, error) {
		return "", 0, ctx.Err()
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, e.Copy(ctx, "a", "b"))
}

func TestClassify(t *testing.T) {
	base := errors.New("exit status 1")
	tests := []struct {
		name   string
		stderr string
		code   int
		want   error
	}{
		{"pkexec dismissed", "", 126, ErrUserCancelled},
		{"pkexec no agent", "", 127, ErrUserCancelled},
		{"osascript cancel", "execution error: User canceled. (-128)", 1, ErrUserCancelled},
		{"sudo denied", "cp: /etc/hosts: Permission denied", 1, ErrPermissionDenied},
		{"polkit", "Error executing command as another user: Not authorized", 127, ErrPermissionDenied},
		{"windows", "Access is denied.", 1, ErrPermissionDenied},
		{"other", "disk full", 1, ErrIOFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("/etc/hosts", tt.stderr, tt.code, base)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var ioErr *IOError
	require.ErrorAs(t, classify("/etc/hosts", "disk full", 1, base), &ioErr)
	assert.ErrorIs(t, ioErr, base)
	assert.Contains(t, ioErr.Error(), "disk full")
}

func TestDirectCopier(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("1.1.1.1 a"), 0o600))
	require.NoError(t, os.WriteFile(dst, []byte("old content that is longer"), 0o644))

	require.NoError(t, DirectCopier{}.Copy(context.Background(), src, dst))
	b, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "1.1.1.1 a", string(b))

	err = DirectCopier{}.Copy(context.Background(), filepath.Join(dir, "missing"), dst)
	assert.ErrorIs(t, err, ErrIOFailure)
}
