// Package hostsfile commits merged content to the system hosts file. All
// writes go through one Coordinator whose single writer goroutine coalesces
// bursts of commits into one physical, elevated write.
package hostsfile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/hostsmaster/internal/events"
	"github.com/mattjoyce/hostsmaster/internal/merge"
)

// DefaultDebounce is the quiet period after the last Commit before writing.
const DefaultDebounce = time.Second

// Options configures a Coordinator.
type Options struct {
	Path     string
	TempDir  string
	Debounce time.Duration
	Elevator Elevator
	Events   events.Publisher
	Logger   *slog.Logger
}

// Stats is a point-in-time view of the coordinator.
type Stats struct {
	Writes    int64     `json:"writes"`
	Skipped   int64     `json:"skipped"`
	Failures  int64     `json:"failures"`
	LastWrite time.Time `json:"last_write,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	Pending   bool      `json:"pending"`
}

type pendingWrite struct {
	content  string
	waiters  []chan error
	deadline time.Time
}

// Coordinator serialises writes to one hosts file.
type Coordinator struct {
	path     string
	tempDir  string
	debounce time.Duration
	elevator Elevator
	events   events.Publisher
	logger   *slog.Logger

	mu        sync.Mutex
	pending   *pendingWrite
	stopped   bool
	lastWrite time.Time
	lastErr   error

	writes   atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64

	kick   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Coordinator. Start must be called before commits complete.
func New(opts Options) *Coordinator {
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	if opts.Elevator == nil {
		opts.Elevator = NewCommandElevator(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Coordinator{
		path:     opts.Path,
		tempDir:  opts.TempDir,
		debounce: opts.Debounce,
		elevator: opts.Elevator,
		events:   opts.Events,
		logger:   opts.Logger.With("component", "hostsfile"),
		kick:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Path returns the managed file.
func (c *Coordinator) Path() string { return c.path }

// Start launches the writer goroutine.
func (c *Coordinator) Start() {
	c.logger.Info("Starting write coordinator", "path", c.path, "debounce", c.debounce.String())
	c.wg.Add(1)
	go c.run()
}

// Stop flushes a pending write immediately and waits for the writer to exit.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopCh)
	c.wg.Wait()
	c.logger.Info("Write coordinator stopped")
}

// Commit queues content for the next physical write and waits for its
// outcome. Later commits inside the debounce window replace the content and
// share the result. ctx bounds only the wait.
func (c *Coordinator) Commit(ctx context.Context, content string) error {
	done := make(chan error, 1)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.pending == nil {
		c.pending = &pendingWrite{}
	}
	c.pending.content = content
	c.pending.waiters = append(c.pending.waiters, done)
	c.pending.deadline = time.Now().Add(c.debounce)
	c.mu.Unlock()

	select {
	case c.kick <- struct{}{}:
	default:
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read returns the current content of the hosts file.
func (c *Coordinator) Read() (string, error) {
	b, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return "", fmt.Errorf("read %s: %w", c.path, ErrPermissionDenied)
		}
		return "", &IOError{Op: "read", Path: c.path, Err: err}
	}
	return string(b), nil
}

// Stats reports write counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{
		Writes:    c.writes.Load(),
		Skipped:   c.skipped.Load(),
		Failures:  c.failures.Load(),
		LastWrite: c.lastWrite,
		Pending:   c.pending != nil,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

func (c *Coordinator) run() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		p := c.pending
		wait := time.Duration(-1)
		if p != nil {
			wait = time.Until(p.deadline)
		}
		c.mu.Unlock()

		if p != nil && wait <= 0 {
			c.flush()
			continue
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if p != nil {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-c.kick:
		case <-fire:
		case <-c.stopCh:
			if timer != nil {
				timer.Stop()
			}
			c.flush()
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// flush takes the pending slot and performs its write. New commits arriving
// meanwhile open a fresh slot.
func (c *Coordinator) flush() {
	c.mu.Lock()
	p := c.pending
	c.pending = nil
	c.mu.Unlock()
	if p == nil {
		return
	}

	err := c.write(p.content)

	c.mu.Lock()
	c.lastErr = err
	if err == nil {
		c.lastWrite = time.Now()
	}
	c.mu.Unlock()

	for _, w := range p.waiters {
		w <- err
	}
}

func (c *Coordinator) write(content string) error {
	digest := merge.Digest(content)
	if current, err := os.ReadFile(c.path); err == nil && merge.Digest(string(current)) == digest {
		c.skipped.Add(1)
		c.logger.Debug("Hosts content unchanged, skipping write", "digest", digest)
		c.publish(events.HostsUnchanged, map[string]any{"path": c.path, "digest": digest})
		return nil
	}

	err := c.writeElevated(content)
	if err != nil {
		c.failures.Add(1)
		c.logger.Error("Hosts write failed", "path", c.path, "error", err)
		c.publish(events.HostsWriteFailed, map[string]any{"path": c.path, "error": err.Error()})
		return err
	}

	c.writes.Add(1)
	c.logger.Info("Hosts file written", "path", c.path, "bytes", len(content), "digest", digest)
	c.publish(events.HostsWritten, map[string]any{"path": c.path, "bytes": len(content), "digest": digest})
	return nil
}

func (c *Coordinator) writeElevated(content string) error {
	tmp, err := os.CreateTemp(c.tempDir, "hostsmaster-*.tmp")
	if err != nil {
		return &IOError{Op: "create temp", Path: c.tempDir, Err: err}
	}
	tmpPath := tmp.Name()
	defer func() {
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to remove temp file", "path", tmpPath, "error", err)
		}
	}()

	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "write temp", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return &IOError{Op: "sync temp", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close temp", Path: tmpPath, Err: err}
	}

	return c.elevator.Copy(context.Background(), tmpPath, c.path)
}

func (c *Coordinator) publish(topic string, data any) {
	if c.events != nil {
		c.events.Publish(topic, data)
	}
}
