package store

import "testing"

func TestDefaultRulesSeed(t *testing.T) {
	rules := DefaultRules()
	if len(rules) != 4 {
		t.Fatalf("DefaultRules() returned %d rules, want 4", len(rules))
	}

	byID := make(map[string]int)
	for _, r := range rules {
		byID[r.RuleID] = r.Priority
		if !r.IsActive {
			t.Fatalf("seed rule %q must be active", r.RuleID)
		}
	}

	wantPriority := map[string]int{
		"team-internal":          100,
		"support-channel":        90,
		"platform-announcements": 80,
		"cross-org-managers":     50,
	}
	for id, priority := range wantPriority {
		got, ok := byID[id]
		if !ok {
			t.Fatalf("missing expected seed rule %q", id)
		}
		if got != priority {
			t.Fatalf("rule %q priority = %d, want %d", id, got, priority)
		}
	}

	for _, r := range rules {
		if r.RuleID == "cross-org-managers" {
			if !r.RequireApproval {
				t.Fatal("cross-org-managers must RequireApproval")
			}
			if r.MaxMessagesPerDay != 10 {
				t.Fatalf("cross-org-managers MaxMessagesPerDay = %d, want 10", r.MaxMessagesPerDay)
			}
		} else if r.RequireApproval {
			t.Fatalf("rule %q should not RequireApproval", r.RuleID)
		}
	}
}

func TestDirectPairKeyIsOrderIndependent(t *testing.T) {
	a := directPairKey("user-1", "user-2")
	b := directPairKey("user-2", "user-1")
	if a != b {
		t.Fatalf("directPairKey is not symmetric: %q != %q", a, b)
	}

	if directPairKey("user-1", "user-1") == "" {
		t.Fatal("directPairKey should still produce a key for identical IDs")
	}
}
