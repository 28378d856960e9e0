package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/hostsmaster/internal/events"
)

// entry is one armed fire time. gen guards against stale entries left in
// the heap after a rule is removed or re-armed.
type entry struct {
	at     time.Time
	ruleID string
	gen    uint64
}

type entryHeap []entry

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].ruleID < h[j].ruleID
	}
	return h[i].at.Before(h[j].at)
}
func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any) { *h = append(*h, x.(entry)) }
func (h *entryHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

// Scheduler fires schedule rules. A min-heap of fire times drives a single
// timer; arming a rule is a heap push.
type Scheduler struct {
	store     RuleStore
	activator Activator
	events    events.Publisher
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	mu    sync.Mutex
	rules []Rule
	gens  map[string]uint64
	queue entryHeap
	seq   uint64

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now for fire-time calculations.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithIDGenerator overrides the rule id generator (uuid by default).
func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) { s.newID = fn }
}

// New creates a new Scheduler instance.
func New(store RuleStore, activator Activator, hub events.Publisher, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:     store,
		activator: activator,
		events:    hub,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
		newID:     uuid.NewString,
		gens:      make(map[string]uint64),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads persisted rules, arms them and begins the timer loop. Overdue
// temporary rules fire immediately; expired one-shot rules are dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler")

	if err := s.recoverRules(ctx); err != nil {
		return fmt.Errorf("scheduler recovery failed: %w", err)
	}

	s.wg.Add(1)
	go s.loop(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) recoverRules(ctx context.Context) error {
	loaded, err := s.store.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, r := range loaded {
		if _, ok := r.Next(now); !ok {
			dropped++
			s.logger.Info("Dropping expired one-shot rule", "rule_id", r.ID, "item_id", r.ItemID)
			continue
		}
		s.rules = append(s.rules, r)
		s.armLocked(r, now)
	}
	if dropped > 0 {
		if err := s.persistLocked(ctx); err != nil {
			return err
		}
	}
	s.logger.Info("Schedule rules recovered", "armed", len(s.rules), "dropped", dropped)
	return nil
}

// Add validates spec, persists the new rule and arms it.
func (s *Scheduler) Add(ctx context.Context, spec RuleSpec) (Rule, error) {
	if err := spec.validate(); err != nil {
		return Rule{}, err
	}

	now := s.now()
	r := Rule{
		ID:          s.newID(),
		ItemID:      spec.ItemID,
		Mode:        spec.Mode,
		Duration:    spec.Duration,
		ExecuteTime: spec.ExecuteTime,
		Repeat:      spec.Repeat,
		Action:      spec.Action,
		CreatedAt:   now,
	}
	if r.Mode == ModeTemporary {
		r.ExecuteTime, r.Repeat, r.Action = time.Time{}, "", ActionDeactivate
	} else {
		r.Duration = 0
	}

	s.mu.Lock()
	s.rules = append(s.rules, r)
	if err := s.persistLocked(ctx); err != nil {
		s.rules = s.rules[:len(s.rules)-1]
		s.mu.Unlock()
		return Rule{}, err
	}
	next, armed := s.armLocked(r, now)
	s.mu.Unlock()

	s.kick()
	s.publish(events.ScheduleAdded, map[string]any{"rule": r, "armed": armed, "next": next})
	s.logger.Info("Schedule rule added", "rule_id", r.ID, "item_id", r.ItemID, "mode", r.Mode, "armed", armed, "next", next)
	return r, nil
}

// Remove deletes a rule and cancels its pending fire. Unknown ids are a no-op.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := slices.IndexFunc(s.rules, func(r Rule) bool { return r.ID == id })
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	removed := s.rules[idx]
	s.rules = slices.Delete(s.rules, idx, idx+1)
	if err := s.persistLocked(ctx); err != nil {
		s.rules = slices.Insert(s.rules, idx, removed)
		s.mu.Unlock()
		return err
	}
	delete(s.gens, id)
	s.mu.Unlock()

	s.kick()
	s.publish(events.ScheduleRemoved, map[string]any{"rule_id": id})
	s.logger.Info("Schedule rule removed", "rule_id", id)
	return nil
}

// Get returns one rule.
func (s *Scheduler) Get(id string) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := slices.IndexFunc(s.rules, func(r Rule) bool { return r.ID == id })
	if idx < 0 {
		return Rule{}, fmt.Errorf("rule %q: %w", id, ErrRuleNotFound)
	}
	return s.rules[idx], nil
}

// List returns all rules in creation order.
func (s *Scheduler) List() []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rules)
}

// Active returns the rules that still have work to do at now.
func (s *Scheduler) Active(now time.Time) []Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Rule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.IsActive(now) {
			out = append(out, r)
		}
	}
	return out
}

// NextFire returns the earliest armed fire time.
func (s *Scheduler) NextFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.peekLocked()
	return e.at, ok
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		next, ok := s.peekLocked()
		s.mu.Unlock()

		var timer *time.Timer
		var fire <-chan time.Time
		if ok {
			d := next.at.Sub(s.now())
			if d <= 0 {
				s.fireDue(ctx)
				continue
			}
			timer = time.NewTimer(d)
			fire = timer.C
		}

		select {
		case <-fire:
			s.fireDue(ctx)
		case <-s.wake:
		case <-s.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.logger.Warn("Scheduler context cancelled, stopping timer loop")
			return
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// fireDue pops every entry due at now and applies it.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	var due []Rule
	for {
		e, ok := s.peekLocked()
		if !ok || e.at.After(now) {
			break
		}
		heap.Pop(&s.queue)
		if r, ok := s.ruleLocked(e.ruleID); ok {
			delete(s.gens, e.ruleID)
			due = append(due, r)
		}
	}
	s.mu.Unlock()

	for _, r := range due {
		s.fire(ctx, r, now)
	}
}

func (s *Scheduler) fire(ctx context.Context, r Rule, now time.Time) {
	action := r.Action
	if r.Mode == ModeTemporary {
		action = ActionDeactivate
	}

	var err error
	if action == ActionActivate {
		err = s.activator.Activate(ctx, r.ItemID)
	} else {
		err = s.activator.Deactivate(ctx, r.ItemID)
	}
	if err != nil {
		s.logger.Error("Schedule rule fire failed", "rule_id", r.ID, "item_id", r.ItemID, "action", action, "error", err)
	} else {
		s.logger.Info("Schedule rule fired", "rule_id", r.ID, "item_id", r.ItemID, "action", action)
	}

	fired := map[string]any{"rule_id": r.ID, "item_id": r.ItemID, "action": action}
	if err != nil {
		fired["error"] = err.Error()
	}

	s.mu.Lock()
	if _, still := s.ruleLocked(r.ID); !still {
		// Removed while the activator ran.
		s.mu.Unlock()
		s.publish(events.ScheduleFired, fired)
		return
	}
	recurring := r.Mode == ModeTimed && r.Repeat != RepeatOnce
	if recurring {
		next, _ := s.armLocked(r, now)
		fired["next"] = next
	} else {
		s.rules = slices.DeleteFunc(s.rules, func(x Rule) bool { return x.ID == r.ID })
		if perr := s.persistLocked(ctx); perr != nil {
			s.logger.Error("Failed to persist rules after fire", "rule_id", r.ID, "error", perr)
		}
		fired["removed"] = true
	}
	s.mu.Unlock()

	s.publish(events.ScheduleFired, fired)
}

// armLocked pushes r's next fire time. It returns false when r has none.
func (s *Scheduler) armLocked(r Rule, now time.Time) (time.Time, bool) {
	next, ok := r.Next(now)
	if !ok {
		delete(s.gens, r.ID)
		return time.Time{}, false
	}
	s.seq++
	s.gens[r.ID] = s.seq
	heap.Push(&s.queue, entry{at: next, ruleID: r.ID, gen: s.seq})
	return next, true
}

// peekLocked drops stale entries and returns the earliest live one.
func (s *Scheduler) peekLocked() (entry, bool) {
	for len(s.queue) > 0 {
		e := s.queue[0]
		if gen, ok := s.gens[e.ruleID]; ok && gen == e.gen {
			return e, true
		}
		heap.Pop(&s.queue)
	}
	return entry{}, false
}

func (s *Scheduler) ruleLocked(id string) (Rule, bool) {
	idx := slices.IndexFunc(s.rules, func(r Rule) bool { return r.ID == id })
	if idx < 0 {
		return Rule{}, false
	}
	return s.rules[idx], true
}

func (s *Scheduler) persistLocked(ctx context.Context) error {
	if err := s.store.SaveRules(ctx, slices.Clone(s.rules)); err != nil {
		return fmt.Errorf("save rules: %w", err)
	}
	return nil
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) publish(topic string, data any) {
	if s.events != nil {
		s.events.Publish(topic, data)
	}
}

// IsValidation reports whether err rejected a RuleSpec.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
