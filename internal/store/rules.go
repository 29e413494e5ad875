package store

import (
	"context"
	"sort"

	"github.com/relaymesh/chatcore/internal/store/model"
)

// DefaultRules mirrors the seed table in spec.md §6.4. SeedDefaultRulesIfEmpty
// installs them once at startup if the MessagingRules table is empty.
func DefaultRules() []model.MessagingRuleItem {
	return []model.MessagingRuleItem{
		{
			RuleID:          "team-internal",
			Name:            "Team internal messaging",
			SourceScope:     model.ScopeTenant,
			SourceRoles:     []string{"owner", "admin", "member"},
			TargetScope:     model.ScopeTenant,
			TargetRoles:     []string{"owner", "admin", "member"},
			RequireApproval: false,
			IsActive:        true,
			Priority:        100,
		},
		{
			RuleID:          "support-channel",
			Name:            "Support channel messaging",
			SourceScope:     model.ScopePlatform,
			SourceRoles:     []string{"owner", "admin", "member"},
			TargetScope:     model.ScopePlatform,
			TargetRoles:     []string{"platform_support"},
			RequireApproval: false,
			IsActive:        true,
			Priority:        90,
		},
		{
			RuleID:          "platform-announcements",
			Name:            "Platform announcements",
			SourceScope:     model.ScopePlatform,
			SourceRoles:     []string{"platform_admin"},
			TargetScope:     model.ScopePlatform,
			TargetRoles:     []string{"owner", "admin", "member"},
			RequireApproval: false,
			IsActive:        true,
			Priority:        80,
		},
		{
			RuleID:            "cross-org-managers",
			Name:              "Cross-organization manager contact",
			SourceScope:       model.ScopePlatform,
			SourceRoles:       []string{"owner", "admin"},
			TargetScope:       model.ScopePlatform,
			TargetRoles:       []string{"owner", "admin"},
			RequireApproval:   true,
			MaxMessagesPerDay: 10,
			IsActive:          true,
			Priority:          50,
		},
	}
}

func (g *Gateway) SeedDefaultRulesIfEmpty(ctx context.Context) error {
	existing, err := g.ListRules(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, rule := range DefaultRules() {
		if err := g.CreateRule(ctx, rule); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) CreateRule(ctx context.Context, rule model.MessagingRuleItem) error {
	return g.client.PutItem(ctx, model.MessagingRulesTable, rule)
}

func (g *Gateway) ListRules(ctx context.Context) ([]model.MessagingRuleItem, error) {
	items, err := g.client.ScanItems(ctx, model.MessagingRulesTable, "", nil, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.MessagingRuleItem, 0, len(items))
	for _, item := range items {
		var r model.MessagingRuleItem
		if err := unmarshalItem(item, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ActiveRulesByPriority returns only active rules, highest priority
// first, the order the permission engine (C5) must evaluate them in
// per spec.md §4.5.
func (g *Gateway) ActiveRulesByPriority(ctx context.Context) ([]model.MessagingRuleItem, error) {
	all, err := g.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]model.MessagingRuleItem, 0, len(all))
	for _, r := range all {
		if r.IsActive {
			active = append(active, r)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})
	return active, nil
}
