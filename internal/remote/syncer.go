package remote

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/hostsmaster/internal/hosts"
	"github.com/mattjoyce/hostsmaster/internal/tree"
)

// DefaultSweepInterval is how often the Syncer looks for due schemes.
const DefaultSweepInterval = time.Minute

// Target is the side of hosts.Service the Syncer drives.
type Target interface {
	DueRemotes(now time.Time) []hosts.RemoteRef
	SyncRemote(ctx context.Context, id string) (*tree.Item, error)
}

// Syncer refreshes remote schemes whose sync interval has elapsed. Failures
// are logged and retried on the next sweep that finds them due.
type Syncer struct {
	target   Target
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewSyncer(target Target, interval time.Duration, logger *slog.Logger) *Syncer {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		target:   target,
		interval: interval,
		now:      time.Now,
		logger:   logger.With("component", "remote_sync"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the sweep loop. The first sweep runs immediately.
func (s *Syncer) Start(ctx context.Context) error {
	s.logger.Info("Starting remote syncer", "interval", s.interval)
	s.wg.Add(1)
	go s.sweepLoop(ctx)
	return nil
}

// Stop waits for an in-flight sweep to finish.
func (s *Syncer) Stop() {
	s.logger.Info("Stopping remote syncer")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Remote syncer stopped")
}

func (s *Syncer) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("Remote syncer context cancelled, stopping sweep loop")
			return
		}
	}
}

// Sweep syncs every due remote scheme once and returns how many succeeded.
func (s *Syncer) Sweep(ctx context.Context) int {
	due := s.target.DueRemotes(s.now())
	if len(due) == 0 {
		return 0
	}
	s.logger.Debug("Remote sweep", "due", len(due))

	synced := 0
	for _, ref := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.target.SyncRemote(ctx, ref.ID); err != nil {
			s.logger.Warn("Remote sync failed", "scheme_id", ref.ID, "url", ref.URL, "error", err)
			continue
		}
		synced++
	}
	return synced
}
