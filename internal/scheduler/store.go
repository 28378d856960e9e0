package scheduler

import (
	"context"
	"fmt"
)

const rulesKey = "schedules"

// Documents is the subset of state.Store the rule store needs.
type Documents interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Put(ctx context.Context, key string, v any) error
}

// DocumentRuleStore keeps all rules in one document.
type DocumentRuleStore struct {
	docs Documents
}

var _ RuleStore = (*DocumentRuleStore)(nil)

func NewDocumentRuleStore(docs Documents) *DocumentRuleStore {
	return &DocumentRuleStore{docs: docs}
}

func (d *DocumentRuleStore) LoadRules(ctx context.Context) ([]Rule, error) {
	var rules []Rule
	if _, err := d.docs.Get(ctx, rulesKey, &rules); err != nil {
		return nil, fmt.Errorf("load schedule rules: %w", err)
	}
	return rules, nil
}

func (d *DocumentRuleStore) SaveRules(ctx context.Context, rules []Rule) error {
	if rules == nil {
		rules = []Rule{}
	}
	if err := d.docs.Put(ctx, rulesKey, rules); err != nil {
		return fmt.Errorf("save schedule rules: %w", err)
	}
	return nil
}
