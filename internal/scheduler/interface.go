package scheduler

import "context"

//go:generate mockgen -destination=mocks/mock_scheduler.go -package=mocks github.com/mattjoyce/hostsmaster/internal/scheduler Activator,RuleStore

// Activator applies a fired rule to the live workspace. hosts.Service
// implements it, so fires go through the same merge and write path as
// interactive commands.
type Activator interface {
	Activate(ctx context.Context, itemID string) error
	Deactivate(ctx context.Context, itemID string) error
}

// RuleStore persists the full rule list.
type RuleStore interface {
	LoadRules(ctx context.Context) ([]Rule, error)
	SaveRules(ctx context.Context, rules []Rule) error
}
