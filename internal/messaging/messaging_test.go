package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/chatcore/internal/bus"
	"github.com/relaymesh/chatcore/internal/permission"
	"github.com/relaymesh/chatcore/internal/presence"
	"github.com/relaymesh/chatcore/internal/store/model"
)

// memoryStore is an in-memory Store/permission.Store fake, grounded on
// the teacher's memoryRepository test double in
// internal/service/conversation/service_test.go, so CreateDirectConversation,
// SendMessage, and MarkAsRead can be exercised against real persistence
// logic instead of only nil-store short-circuits.
type memoryStore struct {
	mu            sync.Mutex
	users         map[string]model.UserCacheItem
	conversations map[string]model.ConversationItem
	directPairs   map[string]string
	participants  map[string]model.ParticipantItem
	byUser        map[string][]string
	byConv        map[string][]string
	messages      map[string]model.MessageItem
	blocked       map[string]bool
	accepted      map[string]bool
	rules         []model.MessagingRuleItem
	pending       map[string]model.ContactRequestItem
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:         make(map[string]model.UserCacheItem),
		conversations: make(map[string]model.ConversationItem),
		directPairs:   make(map[string]string),
		participants:  make(map[string]model.ParticipantItem),
		byUser:        make(map[string][]string),
		byConv:        make(map[string][]string),
		messages:      make(map[string]model.MessageItem),
		blocked:       make(map[string]bool),
		accepted:      make(map[string]bool),
		pending:       make(map[string]model.ContactRequestItem),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "#" + b
}

func (m *memoryStore) GetUserCache(ctx context.Context, userID string) (model.UserCacheItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	return u, ok, nil
}

func (m *memoryStore) CreateDirectConversation(ctx context.Context, a, b string, build func() model.ConversationItem) (model.ConversationItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(a, b)
	if id, ok := m.directPairs[key]; ok {
		return m.conversations[id], false, nil
	}
	conv := build()
	m.directPairs[key] = conv.ConversationID
	m.conversations[conv.ConversationID] = conv
	return conv, true, nil
}

func (m *memoryStore) AddParticipant(ctx context.Context, p model.ParticipantItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.ConversationID + "#" + p.UserID
	m.participants[key] = p
	m.byUser[p.UserID] = append(m.byUser[p.UserID], p.ConversationID)
	m.byConv[p.ConversationID] = append(m.byConv[p.ConversationID], p.UserID)
	return nil
}

func (m *memoryStore) CreateConversation(ctx context.Context, conv model.ConversationItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[conv.ConversationID] = conv
	return nil
}

func (m *memoryStore) ListParticipants(ctx context.Context, conversationID string) ([]model.ParticipantItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ParticipantItem, 0)
	for _, userID := range m.byConv[conversationID] {
		out = append(out, m.participants[conversationID+"#"+userID])
	}
	return out, nil
}

func (m *memoryStore) CreateMessage(ctx context.Context, msg model.MessageItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.MessageID] = msg
	return nil
}

func (m *memoryStore) TouchConversation(ctx context.Context, conversationID, updatedAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv := m.conversations[conversationID]
	conv.UpdatedAt = updatedAt
	m.conversations[conversationID] = conv
	return nil
}

func (m *memoryStore) MarkParticipantRead(ctx context.Context, conversationID, userID, lastReadAt string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := conversationID + "#" + userID
	p := m.participants[key]
	p.LastReadAt = lastReadAt
	m.participants[key] = p
	return nil
}

func (m *memoryStore) ParticipantsForUser(ctx context.Context, userID string) ([]model.ParticipantItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ParticipantItem, 0)
	for _, convID := range m.byUser[userID] {
		out = append(out, m.participants[convID+"#"+userID])
	}
	return out, nil
}

func (m *memoryStore) ConversationsForUser(ctx context.Context, userID string, limit int, cursor string) ([]model.ConversationItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ConversationItem, 0)
	for _, convID := range m.byUser[userID] {
		out = append(out, m.conversations[convID])
	}
	return out, false, nil
}

func (m *memoryStore) GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations[conversationID], nil
}

func (m *memoryStore) CountUnread(ctx context.Context, conversationID, userID, sinceReadAt string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, msg := range m.messages {
		if msg.ConversationID != conversationID || msg.SenderID == userID {
			continue
		}
		if sinceReadAt != "" && msg.CreatedAt <= sinceReadAt {
			continue
		}
		count++
	}
	return count, nil
}

func (m *memoryStore) MessagesIn(ctx context.Context, conversationID string, limit int, cursor string) ([]model.MessageItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.MessageItem, 0)
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	return out, false, nil
}

func (m *memoryStore) GetMessage(ctx context.Context, conversationID, messageID string) (model.MessageItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.ConversationID != conversationID {
		return model.MessageItem{}, false, nil
	}
	return msg, true, nil
}

func (m *memoryStore) GetParticipant(ctx context.Context, conversationID, userID string) (model.ParticipantItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.participants[conversationID+"#"+userID]
	return p, ok, nil
}

func (m *memoryStore) IsBlockedEitherDirection(ctx context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked[pairKey(a, b)], nil
}

func (m *memoryStore) HasAcceptedContactBetween(ctx context.Context, a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted[pairKey(a, b)], nil
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
	for _, conv := range m.conversations {
		if conv.Type != model.ConversationDirect {
			continue
		}
		if id, ok := m.directPairs[pairKey(a, b)]; ok && id == conv.ConversationID {
			return conv, true, nil
		}
	}
	return model.ConversationItem{}, false, nil
}

func (m *memoryStore) CountMessagesSentToday(ctx context.Context, conversationID, fromUserID string, windowStart time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	windowStartStr := windowStart.UTC().Format(time.RFC3339Nano)
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID && msg.SenderID == fromUserID && msg.CreatedAt >= windowStartStr {
			count++
		}
	}
	return count, nil
}

// newTestService wires a messaging.Service and its permission.Service
// dependency to the same underlying memoryStore, so a conversation
// created through one is visible to rate-limit/permission checks run
// through the other, as they are in production against the same
// DynamoDB tables.
func newTestService(st *memoryStore) *Service {
	permSvc := permission.New(st)
	presenceSvc := presence.New(bus.NewLocal())
	return New(st, permSvc, presenceSvc)
}

func TestCreateDirectConversationRejectsSelf(t *testing.T) {
	// store, permission, and presence are left nil: the self-conversation
	// short-circuit must return before any of them is touched.
	svc := New(nil, nil, nil)
	id := permission.Identity{UserID: "user-1"}

	_, err := svc.CreateDirectConversation(context.Background(), id, id)
	if err == nil {
		t.Fatal("CreateDirectConversation(self, self) = nil error, want VALIDATION_ERROR")
	}
	if code := err.(*Error).Code; code != ErrorCodeValidation {
		t.Fatalf("error code = %q, want %q", code, ErrorCodeValidation)
	}
}

func TestCreateGroupConversationRejectsAnnouncement(t *testing.T) {
	svc := New(nil, nil, nil)
	creator := permission.Identity{UserID: "user-1"}

	_, err := svc.CreateGroupConversation(context.Background(), creator, model.ConversationAnnouncement, "broadcast", nil)
	if err == nil {
		t.Fatal("CreateGroupConversation(ANNOUNCEMENT) = nil error, want FORBIDDEN")
	}
	if code := err.(*Error).Code; code != ErrorCodeForbidden {
		t.Fatalf("error code = %q, want %q", code, ErrorCodeForbidden)
	}
}

func TestCreateGroupConversationRequiresName(t *testing.T) {
	svc := New(nil, nil, nil)
	creator := permission.Identity{UserID: "user-1"}

	_, err := svc.CreateGroupConversation(context.Background(), creator, model.ConversationGroup, "", nil)
	if err == nil {
		t.Fatal("CreateGroupConversation(no name) = nil error, want VALIDATION_ERROR")
	}
	if code := err.(*Error).Code; code != ErrorCodeValidation {
		t.Fatalf("error code = %q, want %q", code, ErrorCodeValidation)
	}
}

func TestSendMessageRejectsEmptyTextContent(t *testing.T) {
	svc := New(nil, nil, nil)
	sender := permission.Identity{UserID: "user-1"}

	_, err := svc.SendMessage(context.Background(), sender, "conv-1", SendMessageInput{Type: model.MessageText})
	if err == nil {
		t.Fatal("SendMessage(empty content) = nil error, want VALIDATION_ERROR")
	}
	if code := err.(*Error).Code; code != ErrorCodeValidation {
		t.Fatalf("error code = %q, want %q", code, ErrorCodeValidation)
	}
}

// TestCreateDirectConversationIsIdempotentPerPair exercises P1: a
// second CreateDirectConversation between the same two users returns
// the same conversation instead of creating a duplicate.
func TestCreateDirectConversationIsIdempotentPerPair(t *testing.T) {
	st := newMemoryStore()
	svc := newTestService(st)
	sender := permission.Identity{UserID: "u1", TenantID: "t1", TenantRole: "member"}
	recipient := permission.Identity{UserID: "u2", TenantID: "t1", TenantRole: "member"}

	first, err := svc.CreateDirectConversation(context.Background(), sender, recipient)
	if err != nil {
		t.Fatalf("first CreateDirectConversation = %v, want nil", err)
	}

	second, err := svc.CreateDirectConversation(context.Background(), recipient, sender)
	if err != nil {
		t.Fatalf("second CreateDirectConversation = %v, want nil", err)
	}

	if first.Conversation.ConversationID != second.Conversation.ConversationID {
		t.Fatalf("conversation ids differ: %q vs %q, want the same DIRECT conversation reused",
			first.Conversation.ConversationID, second.Conversation.ConversationID)
	}
}

// TestSendMessageAndMarkAsReadUnreadAccounting exercises P2: a message
// is unread for its recipient until MarkAsRead runs, and MarkAsRead is
// idempotent.
func TestSendMessageAndMarkAsReadUnreadAccounting(t *testing.T) {
	st := newMemoryStore()
	svc := newTestService(st)
	sender := permission.Identity{UserID: "u1", TenantID: "t1", TenantRole: "member"}
	recipient := permission.Identity{UserID: "u2", TenantID: "t1", TenantRole: "member"}

	conv, err := svc.CreateDirectConversation(context.Background(), sender, recipient)
	if err != nil {
		t.Fatalf("CreateDirectConversation = %v, want nil", err)
	}

	if _, err := svc.SendMessage(context.Background(), sender, conv.Conversation.ConversationID, SendMessageInput{
		Content: "hello", Type: model.MessageText,
	}); err != nil {
		t.Fatalf("SendMessage = %v, want nil", err)
	}

	unread, err := svc.GetUnreadCount(context.Background(), conv.Conversation.ConversationID, recipient.UserID)
	if err != nil {
		t.Fatalf("GetUnreadCount = %v, want nil", err)
	}
	if unread != 1 {
		t.Fatalf("unread count = %d, want 1", unread)
	}

	if err := svc.MarkAsRead(context.Background(), conv.Conversation.ConversationID, recipient.UserID); err != nil {
		t.Fatalf("MarkAsRead = %v, want nil", err)
	}
	if err := svc.MarkAsRead(context.Background(), conv.Conversation.ConversationID, recipient.UserID); err != nil {
		t.Fatalf("second MarkAsRead = %v, want nil (idempotent)", err)
	}

	unread, err = svc.GetUnreadCount(context.Background(), conv.Conversation.ConversationID, recipient.UserID)
	if err != nil {
		t.Fatalf("GetUnreadCount after MarkAsRead = %v, want nil", err)
	}
	if unread != 0 {
		t.Fatalf("unread count after MarkAsRead = %d, want 0", unread)
	}
}

// TestSendMessageRejectsOverlongContent exercises the content-length
// bound in spec.md §6.1's {content 1..10000} on POST .../messages.
func TestSendMessageRejectsOverlongContent(t *testing.T) {
	st := newMemoryStore()
	svc := newTestService(st)
	sender := permission.Identity{UserID: "u1", TenantID: "t1", TenantRole: "member"}
	recipient := permission.Identity{UserID: "u2", TenantID: "t1", TenantRole: "member"}

	conv, err := svc.CreateDirectConversation(context.Background(), sender, recipient)
	if err != nil {
		t.Fatalf("CreateDirectConversation = %v, want nil", err)
	}

	overlong := make([]byte, maxContentLength+1)
	for i := range overlong {
		overlong[i] = 'a'
	}

	_, err = svc.SendMessage(context.Background(), sender, conv.Conversation.ConversationID, SendMessageInput{
		Content: string(overlong), Type: model.MessageText,
	})
	if err == nil {
		t.Fatal("SendMessage(overlong content) = nil error, want VALIDATION_ERROR")
	}
	if code := err.(*Error).Code; code != ErrorCodeValidation {
		t.Fatalf("error code = %q, want %q", code, ErrorCodeValidation)
	}
}

func TestFromPermissionErrorMapsContactRequestRequired(t *testing.T) {
	permErr := &permission.Error{Code: permission.ErrorCodeContactRequestNeed, Message: "needs approval"}
	err := fromPermissionError(permErr)
	if err.Code != ErrorCodeContactRequestNeed {
		t.Fatalf("fromPermissionError code = %q, want %q", err.Code, ErrorCodeContactRequestNeed)
	}
}
