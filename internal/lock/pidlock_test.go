package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

func TestAcquirePIDLockWritesPID(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "state.pid")
	l, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	b, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.TrimSpace(string(b)) != strconv.Itoa(os.Getpid()) {
		t.Fatalf("expected our pid in lock file, got %q", b)
	}
}

func TestSecondAcquireFails(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "nested", "state.pid")
	first, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}

	if _, err := AcquirePIDLock(lockPath); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}

	pid, held, err := ReadPID(lockPath)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() || !held {
		t.Fatalf("expected held lock by %d, got pid=%d held=%v", os.Getpid(), pid, held)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, held, _ := ReadPID(lockPath); held {
		t.Fatalf("expected lock to be free after release")
	}

	again, err := AcquirePIDLock(lockPath)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = again.Release()
	_ = again.Release()
}

func TestPathFor(t *testing.T) {
	t.Parallel()

	if got := PathFor("/var/lib/hostsmaster/state.db"); got != "/var/lib/hostsmaster/state.pid" {
		t.Fatalf("unexpected lock path %q", got)
	}
	if got := PathFor("data/state"); got != "data/state.pid" {
		t.Fatalf("unexpected lock path %q", got)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	t.Parallel()

	if _, err := AcquirePIDLock(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
