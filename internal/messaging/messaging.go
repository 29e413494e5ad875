// Package messaging implements the conversation and message service
// (C6): conversation lifecycle, message persistence, and read-state,
// following the Service/Error shape of the teacher's
// internal/service/conversation/service.go.
package messaging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/relaymesh/chatcore/internal/permission"
	"github.com/relaymesh/chatcore/internal/presence"
	"github.com/relaymesh/chatcore/internal/store"
	"github.com/relaymesh/chatcore/internal/store/model"
)

// maxContentLength caps the size of a single message body, per
// spec.md §6.1's {content 1..10000} bound on POST .../messages.
const maxContentLength = 10000

type ErrorCode string

const (
	ErrorCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrorCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrorCodeContactRequestNeed ErrorCode = "CONTACT_REQUEST_REQUIRED"
	ErrorCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrorCodeConflict           ErrorCode = "CONFLICT"
	ErrorCodeRateLimited        ErrorCode = "RATE_LIMITED"
	ErrorCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrCode exposes the wire error kind, letting transport layers (C7, C8)
// map any service's Error to a response without an import cycle.
func (e *Error) ErrCode() string { return string(e.Code) }

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func fromPermissionError(err error) *Error {
	permErr, ok := err.(*permission.Error)
	if !ok {
		return newError(ErrorCodeInternal, "permission check failed", err)
	}
	return newError(ErrorCode(permErr.Code), permErr.Message, permErr.Err)
}

// ParticipantView embeds the stored participant row with the presence
// and user-cache enrichment spec.md §4.6 requires on every conversation
// view: field access like p.UserID or p.Role keeps working unchanged via
// Go's field promotion.
type ParticipantView struct {
	model.ParticipantItem
	IsOnline    bool
	DisplayName string
}

// MessageView embeds the stored message with the sender's cache
// snapshot spec.md §4.6 requires SendMessage/GetMessages to return.
type MessageView struct {
	model.MessageItem
	SenderDisplayName string
}

type ConversationView struct {
	Conversation model.ConversationItem
	Participants []ParticipantView
	UnreadCount  int
	LastMessage  *MessageView
}

// Store is the persistence surface messaging.Service depends on,
// mirroring the teacher's conversation.Repository interface so tests
// can substitute an in-memory fake instead of talking to DynamoDB.
type Store interface {
	GetUserCache(ctx context.Context, userID string) (model.UserCacheItem, bool, error)
	CreateDirectConversation(ctx context.Context, a, b string, build func() model.ConversationItem) (model.ConversationItem, bool, error)
	AddParticipant(ctx context.Context, p model.ParticipantItem) error
	CreateConversation(ctx context.Context, conv model.ConversationItem) error
	ListParticipants(ctx context.Context, conversationID string) ([]model.ParticipantItem, error)
	CreateMessage(ctx context.Context, msg model.MessageItem) error
	TouchConversation(ctx context.Context, conversationID, updatedAt string) error
	MarkParticipantRead(ctx context.Context, conversationID, userID, lastReadAt string) error
	ParticipantsForUser(ctx context.Context, userID string) ([]model.ParticipantItem, error)
	ConversationsForUser(ctx context.Context, userID string, limit int, cursor string) ([]model.ConversationItem, bool, error)
	GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error)
	CountUnread(ctx context.Context, conversationID, userID, sinceReadAt string) (int, error)
	MessagesIn(ctx context.Context, conversationID string, limit int, cursor string) ([]model.MessageItem, bool, error)
	GetMessage(ctx context.Context, conversationID, messageID string) (model.MessageItem, bool, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (model.ParticipantItem, bool, error)
}

type Service struct {
	store      Store
	permission *permission.Service
	presence   *presence.Service
	now        func() time.Time
}

func New(s Store, p *permission.Service, pr *presence.Service) *Service {
	return &Service{store: s, permission: p, presence: pr, now: time.Now}
}

func NewWithClock(s Store, p *permission.Service, pr *presence.Service, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, permission: p, presence: pr, now: now}
}

// SendMessageInput bundles the fields a message:send/POST .../messages
// call may carry, generalized from the teacher's
// CreateConversationParams struct-argument pattern so SendMessage's
// signature doesn't grow a parameter per optional field.
type SendMessageInput struct {
	Content        string
	Type           model.MessageType
	ReplyToID      string
	AttachmentURL  string
	AttachmentType string
	AttachmentName string
}

// displayName resolves the "Unknown" fallback spec.md §4.6 names for a
// missing user-cache row: a known row prefers the full name, falling
// back to the email when no name is on file.
func displayName(cache model.UserCacheItem, found bool) string {
	if !found {
		return "Unknown"
	}
	if name := strings.TrimSpace(cache.FirstName + " " + cache.LastName); name != "" {
		return name
	}
	if cache.Email != "" {
		return cache.Email
	}
	return "Unknown"
}

func (s *Service) enrichParticipants(ctx context.Context, participants []model.ParticipantItem) ([]ParticipantView, error) {
	views := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		online, err := s.presence.IsOnline(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		cache, found, err := s.store.GetUserCache(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		views = append(views, ParticipantView{
			ParticipantItem: p,
			IsOnline:        online,
			DisplayName:     displayName(cache, found),
		})
	}
	return views, nil
}

func (s *Service) enrichMessage(ctx context.Context, msg model.MessageItem) (MessageView, error) {
	cache, found, err := s.store.GetUserCache(ctx, msg.SenderID)
	if err != nil {
		return MessageView{}, err
	}
	return MessageView{MessageItem: msg, SenderDisplayName: displayName(cache, found)}, nil
}

func (s *Service) nowStamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// resolveParticipant fills in a bare-bones Identity's tenant/role fields
// from the user cache when the caller didn't already supply them, since
// a third party named only by userId has no identity.Claims available.
func (s *Service) resolveParticipant(ctx context.Context, id permission.Identity) (permission.Identity, error) {
	if id.TenantRole != "" || id.PlatformRole != "" {
		return id, nil
	}
	resolved, err := s.permission.ResolveIdentity(ctx, id.UserID)
	if err != nil {
		return permission.Identity{}, fromPermissionError(err)
	}
	if id.TenantID == "" {
		id.TenantID = resolved.TenantID
	}
	id.TenantRole = resolved.TenantRole
	id.PlatformRole = resolved.PlatformRole
	return id, nil
}

// CreateDirectConversation returns the existing DIRECT conversation
// between a and b if one exists, else creates it, per spec.md §4.2/§9's
// find-or-create semantics. The returned view is enriched with
// presence-merged participants and zero unread, per spec.md §4.6.
func (s *Service) CreateDirectConversation(ctx context.Context, sender, recipient permission.Identity) (ConversationView, error) {
	if sender.UserID == recipient.UserID {
		return ConversationView{}, newError(ErrorCodeValidation, "cannot create a direct conversation with yourself", nil)
	}

	recipient, err := s.resolveParticipant(ctx, recipient)
	if err != nil {
		return ConversationView{}, err
	}

	if err := s.permission.CanSendMessage(ctx, sender, recipient); err != nil {
		return ConversationView{}, fromPermissionError(err)
	}

	now := s.nowStamp()
	conv, created, err := s.store.CreateDirectConversation(ctx, sender.UserID, recipient.UserID, func() model.ConversationItem {
		return model.ConversationItem{
			ConversationID: store.NewID(),
			Type:           model.ConversationDirect,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	})
	if err != nil {
		return ConversationView{}, newError(ErrorCodeInternal, "create direct conversation failed", err)
	}

	if created {
		participants := []model.ParticipantItem{
			{ConversationID: conv.ConversationID, UserID: sender.UserID, TenantID: sender.TenantID, Role: model.RoleMember, JoinedAt: now},
			{ConversationID: conv.ConversationID, UserID: recipient.UserID, TenantID: recipient.TenantID, Role: model.RoleMember, JoinedAt: now},
		}
		for _, p := range participants {
			if err := s.store.AddParticipant(ctx, p); err != nil {
				return ConversationView{}, newError(ErrorCodeInternal, "add participant failed", err)
			}
		}
	}

	return s.enrich(ctx, conv, sender.UserID)
}

// CreateGroupConversation creates a GROUP or SUPPORT conversation with
// the given initial members. ANNOUNCEMENT is reserved
// for system/platform use per spec.md §9 and is rejected here. Per
// spec.md §4.5, SUPPORT is always allowed to create; GROUP requires
// CanSendMessage to hold between the creator and every member, the
// first denial aborting the whole call before anything is persisted.
func (s *Service) CreateGroupConversation(ctx context.Context, creator permission.Identity, convType model.ConversationType, name string, memberIDs []string) (ConversationView, error) {
	if convType == model.ConversationAnnouncement {
		return ConversationView{}, newError(ErrorCodeForbidden, "ANNOUNCEMENT conversations are system-managed", nil)
	}
	if name == "" {
		return ConversationView{}, newError(ErrorCodeValidation, "name is required", nil)
	}

	members := make([]permission.Identity, 0, len(memberIDs))
	for _, memberID := range memberIDs {
		if memberID == creator.UserID {
			continue
		}
		resolved, err := s.resolveParticipant(ctx, permission.Identity{UserID: memberID})
		if err != nil {
			return ConversationView{}, err
		}
		members = append(members, resolved)
	}

	if err := s.permission.CanCreateConversation(ctx, creator, members, convType); err != nil {
		return ConversationView{}, fromPermissionError(err)
	}

	now := s.nowStamp()
	conv := model.ConversationItem{
		ConversationID: store.NewID(),
		Type:           convType,
		Name:           name,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return ConversationView{}, newError(ErrorCodeInternal, "create conversation failed", err)
	}

	if err := s.store.AddParticipant(ctx, model.ParticipantItem{
		ConversationID: conv.ConversationID, UserID: creator.UserID, TenantID: creator.TenantID,
		Role: model.RoleOwner, JoinedAt: now,
	}); err != nil {
		return ConversationView{}, newError(ErrorCodeInternal, "add creator participant failed", err)
	}

	for _, member := range members {
		if err := s.store.AddParticipant(ctx, model.ParticipantItem{
			ConversationID: conv.ConversationID, UserID: member.UserID, TenantID: member.TenantID,
			Role: model.RoleMember, JoinedAt: now,
		}); err != nil {
			return ConversationView{}, newError(ErrorCodeInternal, "add member participant failed", err)
		}
	}

	return s.enrich(ctx, conv, creator.UserID)
}

// SendMessage persists a message, advances the conversation's
// updatedAt, and — deliberately, per spec.md §9's design note — sets
// the sender's own lastReadAt to the message timestamp, since a sender
// cannot be unread on their own message.
func (s *Service) SendMessage(ctx context.Context, sender permission.Identity, conversationID string, input SendMessageInput) (MessageView, error) {
	if input.Content == "" && input.Type == model.MessageText {
		return MessageView{}, newError(ErrorCodeValidation, "content is required", nil)
	}
	if utf8.RuneCountInString(input.Content) > maxContentLength {
		return MessageView{}, newError(ErrorCodeValidation, fmt.Sprintf("content exceeds %d characters", maxContentLength), nil)
	}

	isParticipant, err := s.permission.IsParticipant(ctx, conversationID, sender.UserID)
	if err != nil {
		return MessageView{}, newError(ErrorCodeInternal, "participant lookup failed", err)
	}
	if !isParticipant {
		return MessageView{}, newError(ErrorCodeForbidden, "sender is not a participant in this conversation", nil)
	}

	participants, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return MessageView{}, newError(ErrorCodeInternal, "list participants failed", err)
	}
	if len(participants) == 2 {
		var recipient *model.ParticipantItem
		for i := range participants {
			if participants[i].UserID != sender.UserID {
				recipient = &participants[i]
			}
		}
		if recipient != nil {
			if err := s.permission.CanSendMessage(ctx, sender, permission.Identity{
				UserID: recipient.UserID, TenantID: recipient.TenantID,
			}); err != nil {
				return MessageView{}, fromPermissionError(err)
			}
		}
	}

	now := s.nowStamp()
	msg := model.MessageItem{
		MessageID:      store.NewID(),
		ConversationID: conversationID,
		SenderID:       sender.UserID,
		Content:        input.Content,
		Type:           input.Type,
		AttachmentURL:  input.AttachmentURL,
		AttachmentType: input.AttachmentType,
		AttachmentName: input.AttachmentName,
		ReplyToID:      input.ReplyToID,
		CreatedAt:      now,
	}

	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return MessageView{}, newError(ErrorCodeInternal, "create message failed", err)
	}
	if err := s.store.TouchConversation(ctx, conversationID, now); err != nil {
		return MessageView{}, newError(ErrorCodeInternal, "touch conversation failed", err)
	}
	if err := s.store.MarkParticipantRead(ctx, conversationID, sender.UserID, now); err != nil {
		return MessageView{}, newError(ErrorCodeInternal, "mark sender read failed", err)
	}

	return s.enrichMessage(ctx, msg)
}

// ConversationIDsForUser lists every conversation the user participates
// in, used to join the caller's conversation topics eagerly on connect
// per spec.md §4.7.
func (s *Service) ConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	participants, err := s.store.ParticipantsForUser(ctx, userID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "list participants for user failed", err)
	}
	ids := make([]string, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ConversationID)
	}
	return ids, nil
}

// GetConversations lists the caller's conversations newest-activity
// first, enriched with unread count and last message, per spec.md §4.2's
// note that list views must reflect per-user read state correctly.
func (s *Service) GetConversations(ctx context.Context, userID string, limit int, cursor string) ([]ConversationView, bool, error) {
	conversations, hasMore, err := s.store.ConversationsForUser(ctx, userID, limit, cursor)
	if err != nil {
		return nil, false, newError(ErrorCodeInternal, "list conversations failed", err)
	}

	views := make([]ConversationView, 0, len(conversations))
	for _, conv := range conversations {
		view, err := s.enrich(ctx, conv, userID)
		if err != nil {
			return nil, false, err
		}
		views = append(views, view)
	}
	return views, hasMore, nil
}

func (s *Service) GetConversation(ctx context.Context, conversationID, userID string) (ConversationView, error) {
	isParticipant, err := s.permission.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return ConversationView{}, newError(ErrorCodeInternal, "participant lookup failed", err)
	}
	if !isParticipant {
		return ConversationView{}, newError(ErrorCodeForbidden, "not a participant in this conversation", nil)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if err == store.ErrNotFound {
			return ConversationView{}, newError(ErrorCodeNotFound, "conversation not found", nil)
		}
		return ConversationView{}, newError(ErrorCodeInternal, "get conversation failed", err)
	}

	return s.enrich(ctx, conv, userID)
}

// enrich builds the ConversationView spec.md §4.6 requires: participants
// merged with presence/display-name, zero-or-actual unread count, and
// the last message with its sender's cache snapshot.
func (s *Service) enrich(ctx context.Context, conv model.ConversationItem, userID string) (ConversationView, error) {
	participants, err := s.store.ListParticipants(ctx, conv.ConversationID)
	if err != nil {
		return ConversationView{}, newError(ErrorCodeInternal, "list participants failed", err)
	}

	var lastReadAt string
	for _, p := range participants {
		if p.UserID == userID {
			lastReadAt = p.LastReadAt
		}
	}

	unread, err := s.store.CountUnread(ctx, conv.ConversationID, userID, lastReadAt)
	if err != nil {
		return ConversationView{}, newError(ErrorCodeInternal, "count unread failed", err)
	}

	messages, _, err := s.store.MessagesIn(ctx, conv.ConversationID, 1, "")
	if err != nil {
		return ConversationView{}, newError(ErrorCodeInternal, "last message lookup failed", err)
	}

	participantViews, err := s.enrichParticipants(ctx, participants)
	if err != nil {
		return ConversationView{}, newError(ErrorCodeInternal, "enrich participants failed", err)
	}

	view := ConversationView{
		Conversation: conv,
		Participants: participantViews,
		UnreadCount:  unread,
	}
	if len(messages) > 0 {
		lastMsg, err := s.enrichMessage(ctx, messages[0])
		if err != nil {
			return ConversationView{}, newError(ErrorCodeInternal, "enrich last message failed", err)
		}
		view.LastMessage = &lastMsg
	}
	return view, nil
}

// GetMessages lists messages newest-first, excluding tombstones, per
// spec.md §4.2, each enriched with its sender's cache snapshot.
func (s *Service) GetMessages(ctx context.Context, conversationID, userID string, limit int, cursor string) ([]MessageView, bool, error) {
	isParticipant, err := s.permission.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, false, newError(ErrorCodeInternal, "participant lookup failed", err)
	}
	if !isParticipant {
		return nil, false, newError(ErrorCodeForbidden, "not a participant in this conversation", nil)
	}

	messages, hasMore, err := s.store.MessagesIn(ctx, conversationID, limit, cursor)
	if err != nil {
		return nil, false, newError(ErrorCodeInternal, "list messages failed", err)
	}

	views := make([]MessageView, 0, len(messages))
	for _, msg := range messages {
		view, err := s.enrichMessage(ctx, msg)
		if err != nil {
			return nil, false, newError(ErrorCodeInternal, "enrich message failed", err)
		}
		views = append(views, view)
	}
	return views, hasMore, nil
}

// MarkAsRead is idempotent: re-marking an already-read point in time is
// a no-op success, per spec.md §8/P2.
func (s *Service) MarkAsRead(ctx context.Context, conversationID, userID string) error {
	isParticipant, err := s.permission.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return newError(ErrorCodeInternal, "participant lookup failed", err)
	}
	if !isParticipant {
		return newError(ErrorCodeForbidden, "not a participant in this conversation", nil)
	}
	if err := s.store.MarkParticipantRead(ctx, conversationID, userID, s.nowStamp()); err != nil {
		return newError(ErrorCodeInternal, "mark read failed", err)
	}
	return nil
}

func (s *Service) GetUnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	participant, found, err := s.store.GetParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, newError(ErrorCodeInternal, "participant lookup failed", err)
	}
	if !found {
		return 0, newError(ErrorCodeForbidden, "not a participant in this conversation", nil)
	}
	count, err := s.store.CountUnread(ctx, conversationID, userID, participant.LastReadAt)
	if err != nil {
		return 0, newError(ErrorCodeInternal, "count unread failed", err)
	}
	return count, nil
}

// GetMessage fetches a single message by id, scoped to a conversation
// the caller participates in, backing GET .../messages/:mid.
func (s *Service) GetMessage(ctx context.Context, conversationID, messageID, userID string) (MessageView, error) {
	isParticipant, err := s.permission.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return MessageView{}, newError(ErrorCodeInternal, "participant lookup failed", err)
	}
	if !isParticipant {
		return MessageView{}, newError(ErrorCodeForbidden, "not a participant in this conversation", nil)
	}

	msg, found, err := s.store.GetMessage(ctx, conversationID, messageID)
	if err != nil {
		return MessageView{}, newError(ErrorCodeInternal, "get message failed", err)
	}
	if !found || msg.DeletedAt != "" {
		return MessageView{}, newError(ErrorCodeNotFound, "message not found", nil)
	}
	return s.enrichMessage(ctx, msg)
}

// GetTotalUnreadCount sums unread messages across every conversation the
// user participates in, backing GET /messages/unread. Unlike
// GetUnreadCount, which is scoped to one conversation the caller already
// knows about, this walks the user's full participant set.
func (s *Service) GetTotalUnreadCount(ctx context.Context, userID string) (int, error) {
	participants, err := s.store.ParticipantsForUser(ctx, userID)
	if err != nil {
		return 0, newError(ErrorCodeInternal, "list participants for user failed", err)
	}

	total := 0
	for _, p := range participants {
		count, err := s.store.CountUnread(ctx, p.ConversationID, userID, p.LastReadAt)
		if err != nil {
			return 0, newError(ErrorCodeInternal, "count unread failed", err)
		}
		total += count
	}
	return total, nil
}

func (s *Service) GetParticipants(ctx context.Context, conversationID, userID string) ([]ParticipantView, error) {
	isParticipant, err := s.permission.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "participant lookup failed", err)
	}
	if !isParticipant {
		return nil, newError(ErrorCodeForbidden, "not a participant in this conversation", nil)
	}
	participants, err := s.store.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "list participants failed", err)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].JoinedAt < participants[j].JoinedAt })
	views, err := s.enrichParticipants(ctx, participants)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "enrich participants failed", err)
	}
	return views, nil
}

// ConversationsStartedBetween is the usage-accounting feature
// generalized from the teacher's GetConversationUsage, supplemented per
// SPEC_FULL.md §11: counts the conversations userID participates in,
// of any type and whoever created them, whose createdAt falls within
// [start, end).
func (s *Service) ConversationsStartedBetween(ctx context.Context, userID string, start, end time.Time) (int, error) {
	conversations, _, err := s.store.ConversationsForUser(ctx, userID, 10000, "")
	if err != nil {
		return 0, newError(ErrorCodeInternal, "list conversations failed", err)
	}

	startStr := start.UTC().Format(time.RFC3339Nano)
	endStr := end.UTC().Format(time.RFC3339Nano)

	count := 0
	for _, conv := range conversations {
		if conv.CreatedAt >= startStr && conv.CreatedAt < endStr {
			count++
		}
	}
	return count, nil
}
