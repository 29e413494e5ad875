package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/chatcore/internal/store/model"
)

// memoryStore is an in-memory Store fake, grounded on the teacher's
// memoryRepository test double in internal/service/conversation, so
// CanSendMessage can be exercised against real rule/contact/conversation
// data instead of only its nil-store short-circuits.
type memoryStore struct {
	mu            sync.Mutex
	blocked       map[string]bool
	acceptedPairs map[string]bool
	rules         []model.MessagingRuleItem
	pending       map[string]model.ContactRequestItem
	conversations map[string]model.ConversationItem
	messagesSent  map[string][]time.Time
	users         map[string]model.UserCacheItem
	participants  map[string]model.ParticipantItem
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		blocked:       make(map[string]bool),
		acceptedPairs: make(map[string]bool),
		pending:       make(map[string]model.ContactRequestItem),
		conversations: make(map[string]model.ConversationItem),
		messagesSent:  make(map[string][]time.Time),
		users:         make(map[string]model.UserCacheItem),
		participants:  make(map[string]model.ParticipantItem),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "#" + b
}

func (m *memoryStore) IsBlockedEitherDirection(ctx context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked[pairKey(a, b)], nil
}

func (m *memoryStore) HasAcceptedContactBetween(ctx context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acceptedPairs[pairKey(a, b)], nil
}

func (m *memoryStore) ActiveRulesByPriority(ctx context.Context) ([]model.MessagingRuleItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MessagingRuleItem, len(m.rules))
	copy(out, m.rules)
	return out, nil
}

func (m *memoryStore) PendingRequestBetween(ctx context.Context, fromUserID, toUserID string, now time.Time) (model.ContactRequestItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.pending[pairKey(fromUserID, toUserID)]
	return req, ok, nil
}

func (m *memoryStore) FindDirectConversation(ctx context.Context, a, b string) (model.ConversationItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[pairKey(a, b)]
	return conv, ok, nil
}

func (m *memoryStore) CountMessagesSentToday(ctx context.Context, conversationID, fromUserID string, windowStart time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, ts := range m.messagesSent[conversationID+"#"+fromUserID] {
		if !ts.Before(windowStart) {
			count++
		}
	}
	return count, nil
}

func (m *memoryStore) GetUserCache(ctx context.Context, userID string) (model.UserCacheItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	return u, ok, nil
}

func (m *memoryStore) GetParticipant(ctx context.Context, conversationID, userID string) (model.ParticipantItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[conversationID+"#"+userID]
	return p, ok, nil
}

func (m *memoryStore) recordMessage(conversationID, fromUserID string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := conversationID + "#" + fromUserID
	m.messagesSent[key] = append(m.messagesSent[key], at)
}

func TestCanSendMessageSelfAlwaysAllowed(t *testing.T) {
	// store is left nil: the self-message short-circuit must return
	// before any store access, so a nil gateway must not panic.
	svc := New(nil)
	id := Identity{UserID: "user-1", TenantID: "tenant-1"}

	if err := svc.CanSendMessage(context.Background(), id, id); err != nil {
		t.Fatalf("CanSendMessage(self, self) = %v, want nil", err)
	}
}

func TestSourceTargetMatches(t *testing.T) {
	if !sourceMatches(model.ScopeTenant, []string{"owner"}, Identity{TenantID: "tenant-1", TenantRole: "owner"}) {
		t.Fatal("sourceMatches(tenant scope, owner, identity with tenant+owner) = false, want true")
	}
	if sourceMatches(model.ScopeTenant, []string{"owner"}, Identity{TenantRole: "owner"}) {
		t.Fatal("sourceMatches(tenant scope, identity without tenantId) = true, want false")
	}
	if !sourceMatches(model.ScopePlatform, []string{"platform_admin"}, Identity{PlatformRole: "platform_admin"}) {
		t.Fatal("sourceMatches(platform scope, identity with matching platformRole) = false, want true")
	}
	if !sourceMatches(model.ScopePlatform, []string{"owner"}, Identity{TenantRole: "owner"}) {
		t.Fatal("sourceMatches(platform scope, identity with matching tenantRole) = false, want true")
	}
}

func TestRoleMatchesWildcard(t *testing.T) {
	if !roleMatches([]string{"*"}, "anything") {
		t.Fatal("roleMatches([*], anything) = false, want true")
	}
	if !roleMatches([]string{"owner", "admin"}, "owner") {
		t.Fatal("roleMatches([owner,admin], owner) = false, want true")
	}
	if roleMatches([]string{"owner"}, "member") {
		t.Fatal("roleMatches([owner], member) = true, want false")
	}
}

// TestMatchesRule exercises spec.md §8's concrete cross-org-managers
// scenario: two owners of different tenants, matched purely on their
// platform-scoped tenantRole since neither shares a tenantId.
func TestMatchesRule(t *testing.T) {
	rule := model.MessagingRuleItem{
		RuleID:      "cross-org-managers",
		SourceScope: model.ScopePlatform,
		SourceRoles: []string{"owner", "admin"},
		TargetScope: model.ScopePlatform,
		TargetRoles: []string{"owner", "admin"},
	}

	sender := Identity{UserID: "u1", TenantID: "t1", TenantRole: "owner"}
	recipient := Identity{UserID: "u2", TenantID: "t2", TenantRole: "owner"}
	if !matches(rule, sender, recipient) {
		t.Fatal("matches(cross-org-managers, owner->owner) = false, want true")
	}

	recipient.TenantRole = "member"
	if matches(rule, sender, recipient) {
		t.Fatal("matches(cross-org-managers, owner->member) = true, want false")
	}
}

// TestCanSendMessageAcceptedContactStillRateLimited exercises spec.md
// §8 scenario 6: an accepted cross-org contact may send up to
// maxMessagesPerDay messages, then the 11th in the same rolling window
// is denied with RATE_LIMITED, not silently allowed by the accepted-
// contact short-circuit.
func TestCanSendMessageAcceptedContactStillRateLimited(t *testing.T) {
	fixedNow := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st := newMemoryStore()
	st.rules = DefaultRulesForTest()
	sender := Identity{UserID: "mgr-a", TenantID: "org-a", TenantRole: "owner"}
	recipient := Identity{UserID: "mgr-b", TenantID: "org-b", TenantRole: "owner"}
	st.acceptedPairs[pairKey(sender.UserID, recipient.UserID)] = true

	conv := model.ConversationItem{ConversationID: "conv-1", Type: model.ConversationDirect}
	st.conversations[pairKey(sender.UserID, recipient.UserID)] = conv

	svc := NewWithClock(st, func() time.Time { return fixedNow })

	for i := 0; i < 10; i++ {
		if err := svc.CanSendMessage(context.Background(), sender, recipient); err != nil {
			t.Fatalf("message %d: CanSendMessage = %v, want nil", i+1, err)
		}
		st.recordMessage(conv.ConversationID, sender.UserID, fixedNow)
	}

	err := svc.CanSendMessage(context.Background(), sender, recipient)
	if err == nil {
		t.Fatal("11th message: CanSendMessage = nil, want RATE_LIMITED")
	}
	if code := err.(*Error).Code; code != ErrorCodeRateLimited {
		t.Fatalf("11th message error code = %q, want %q", code, ErrorCodeRateLimited)
	}
}

// TestCanSendMessageSameTenantAlwaysAllowed exercises the fast-path step
// that precedes any rule lookup.
func TestCanSendMessageSameTenantAlwaysAllowed(t *testing.T) {
	st := newMemoryStore()
	svc := New(st)
	sender := Identity{UserID: "u1", TenantID: "t1", TenantRole: "member"}
	recipient := Identity{UserID: "u2", TenantID: "t1", TenantRole: "member"}

	if err := svc.CanSendMessage(context.Background(), sender, recipient); err != nil {
		t.Fatalf("CanSendMessage(same tenant) = %v, want nil", err)
	}
}

// TestCanSendMessageBlockedDenied exercises the block check, which must
// take priority over same-tenant and accepted-contact allowances.
func TestCanSendMessageBlockedDenied(t *testing.T) {
	st := newMemoryStore()
	st.blocked[pairKey("u1", "u2")] = true
	svc := New(st)
	sender := Identity{UserID: "u1", TenantID: "t1"}
	recipient := Identity{UserID: "u2", TenantID: "t1"}

	err := svc.CanSendMessage(context.Background(), sender, recipient)
	if err == nil {
		t.Fatal("CanSendMessage(blocked pair) = nil, want FORBIDDEN")
	}
	if code := err.(*Error).Code; code != ErrorCodeForbidden {
		t.Fatalf("error code = %q, want %q", code, ErrorCodeForbidden)
	}
}

// DefaultRulesForTest mirrors the cross-org-managers rule from
// internal/store/rules.go's DefaultRules without importing the store
// package, avoiding an import cycle in this test-only fixture.
func DefaultRulesForTest() []model.MessagingRuleItem {
	return []model.MessagingRuleItem{
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
