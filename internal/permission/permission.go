// Package permission implements the messaging permission engine (C5):
// given a sender and recipient, decide whether a message may be sent,
// evaluating the steps spec.md §4.5 lists in order. It is pure with
// respect to the store — no bus access, no retries — following the
// teacher's Error{Code,Message,Err} taxonomy from
// internal/service/conversation/service.go.
package permission

import (
	"context"
	"fmt"
	"time"

	"github.com/relaymesh/chatcore/internal/store/model"
)

type ErrorCode string

const (
	ErrorCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrorCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrorCodeContactRequestNeed ErrorCode = "CONTACT_REQUEST_REQUIRED"
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

func (e *Error) ErrCode() string { return string(e.Code) }

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// Identity is the minimal actor shape the engine needs to evaluate
// scope/role rules; it is filled in from identity.Claims for the
// authenticated caller, or from ResolveIdentity for a third party named
// only by userId (a DIRECT recipient, a GROUP member being added).
type Identity struct {
	UserID       string
	TenantID     string
	TenantRole   string // tenant-scoped role, e.g. "owner", "admin", "member"
	PlatformRole string // platform-scoped role, e.g. "platform_admin", "platform_support"
}

// Store is the persistence surface the permission engine depends on,
// mirroring the teacher's conversation.Repository interface so tests can
// substitute an in-memory fake instead of talking to DynamoDB.
type Store interface {
	IsBlockedEitherDirection(ctx context.Context, a, b string) (bool, error)
	HasAcceptedContactBetween(ctx context.Context, a, b string) (bool, error)
	ActiveRulesByPriority(ctx context.Context) ([]model.MessagingRuleItem, error)
	PendingRequestBetween(ctx context.Context, fromUserID, toUserID string, now time.Time) (model.ContactRequestItem, bool, error)
	FindDirectConversation(ctx context.Context, a, b string) (model.ConversationItem, bool, error)
	CountMessagesSentToday(ctx context.Context, conversationID, fromUserID string, windowStart time.Time) (int, error)
	GetUserCache(ctx context.Context, userID string) (model.UserCacheItem, bool, error)
	GetParticipant(ctx context.Context, conversationID, userID string) (model.ParticipantItem, bool, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func New(s Store) *Service {
	return &Service{store: s, now: time.Now}
}

func NewWithClock(s Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: s, now: now}
}

// CanSendMessage evaluates the six-step order spec.md §4.5 mandates:
// self-message, block check, same tenant, accepted contact request,
// priority-ordered active rules, then deny.
func (s *Service) CanSendMessage(ctx context.Context, sender, recipient Identity) error {
	if sender.UserID == recipient.UserID {
		return nil
	}

	blocked, err := s.store.IsBlockedEitherDirection(ctx, sender.UserID, recipient.UserID)
	if err != nil {
		return newError(ErrorCodeInternal, "block lookup failed", err)
	}
	if blocked {
		return newError(ErrorCodeForbidden, "sender and recipient have blocked each other", nil)
	}

	if sender.TenantID != "" && sender.TenantID == recipient.TenantID {
		return nil
	}

	accepted, err := s.store.HasAcceptedContactBetween(ctx, sender.UserID, recipient.UserID)
	if err != nil {
		return newError(ErrorCodeInternal, "contact lookup failed", err)
	}

	rules, err := s.store.ActiveRulesByPriority(ctx)
	if err != nil {
		return newError(ErrorCodeInternal, "rule lookup failed", err)
	}

	// An accepted contact satisfies the approval step of whichever rule
	// would otherwise govern this pair, but a rule's maxMessagesPerDay
	// still applies - the contact being accepted doesn't lift the rate
	// limit, per spec.md §8 scenario 6.
	if accepted {
		for _, rule := range rules {
			if !matches(rule, sender, recipient) {
				continue
			}
			if rule.MaxMessagesPerDay > 0 {
				withinLimit, limitErr := s.withinDailyLimit(ctx, sender.UserID, recipient.UserID, rule.MaxMessagesPerDay)
				if limitErr != nil {
					return newError(ErrorCodeInternal, "rate limit lookup failed", limitErr)
				}
				if !withinLimit {
					return newError(ErrorCodeRateLimited,
						fmt.Sprintf("rule %q allows at most %d messages per day", rule.RuleID, rule.MaxMessagesPerDay), nil)
				}
			}
			return nil
		}
		return nil
	}

	for _, rule := range rules {
		if !matches(rule, sender, recipient) {
			continue
		}

		if rule.RequireApproval {
			_, pending, reqErr := s.store.PendingRequestBetween(ctx, sender.UserID, recipient.UserID, s.now())
			if reqErr != nil {
				return newError(ErrorCodeInternal, "contact request lookup failed", reqErr)
			}
			if pending {
				return newError(ErrorCodeContactRequestNeed,
					fmt.Sprintf("rule %q is awaiting the recipient's approval", rule.RuleID), nil)
			}
			return newError(ErrorCodeContactRequestNeed,
				fmt.Sprintf("rule %q requires an accepted contact request first", rule.RuleID), nil)
		}

		if rule.MaxMessagesPerDay > 0 {
			withinLimit, limitErr := s.withinDailyLimit(ctx, sender.UserID, recipient.UserID, rule.MaxMessagesPerDay)
			if limitErr != nil {
				return newError(ErrorCodeInternal, "rate limit lookup failed", limitErr)
			}
			if !withinLimit {
				return newError(ErrorCodeRateLimited,
					fmt.Sprintf("rule %q allows at most %d messages per day", rule.RuleID, rule.MaxMessagesPerDay), nil)
			}
		}

		return nil
	}

	return newError(ErrorCodeForbidden, "no messaging rule permits this message", nil)
}

// matches reports whether rule's scope/role predicates admit the given
// sender -> recipient pair, per spec §4.5's source/target matching rules.
func matches(rule model.MessagingRuleItem, sender, recipient Identity) bool {
	return sourceMatches(rule.SourceScope, rule.SourceRoles, sender) &&
		targetMatches(rule, recipient, sender)
}

// sourceMatches evaluates the sender side: a tenant-scoped rule requires
// the sender to carry a tenantId and a matching tenantRole; a
// platform-scoped rule is satisfied by either the tenantRole or the
// platformRole being in the allowed list.
func sourceMatches(scope model.RuleScope, allowed []string, sender Identity) bool {
	switch scope {
	case model.ScopeTenant:
		return sender.TenantID != "" && roleMatches(allowed, sender.TenantRole)
	case model.ScopePlatform:
		return roleMatches(allowed, sender.TenantRole) || roleMatches(allowed, sender.PlatformRole)
	default:
		return false
	}
}

// targetMatches evaluates the recipient side: a tenant-scoped rule
// requires sender and recipient to share a tenantId and the recipient's
// tenantRole to match; a platform-scoped rule is satisfied by either of
// the recipient's roles being in the allowed list.
func targetMatches(rule model.MessagingRuleItem, recipient, sender Identity) bool {
	switch rule.TargetScope {
	case model.ScopeTenant:
		return recipient.TenantID != "" && recipient.TenantID == sender.TenantID &&
			roleMatches(rule.TargetRoles, recipient.TenantRole)
	case model.ScopePlatform:
		return roleMatches(rule.TargetRoles, recipient.TenantRole) || roleMatches(rule.TargetRoles, recipient.PlatformRole)
	default:
		return false
	}
}

func roleMatches(allowed []string, role string) bool {
	if role == "" {
		return false
	}
	for _, r := range allowed {
		if r == "*" || r == role {
			return true
		}
	}
	return false
}

// withinDailyLimit counts messages the sender has already sent to the
// recipient's DIRECT conversation today. Per spec.md §9's open question,
// "today" is a rolling 24h window from now, not a local calendar day;
// implementers needing calendar-day semantics should replace windowStart.
func (s *Service) withinDailyLimit(ctx context.Context, senderID, recipientID string, max int) (bool, error) {
	conv, found, err := s.store.FindDirectConversation(ctx, senderID, recipientID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}

	windowStart := s.now().Add(-24 * time.Hour)
	count, err := s.store.CountMessagesSentToday(ctx, conv.ConversationID, senderID, windowStart)
	if err != nil {
		return false, err
	}
	return count < max, nil
}

// CanCreateConversation authorizes starting a new conversation, per
// spec.md §4.5: SUPPORT is always allowed; DIRECT delegates to
// CanSendMessage against the lone other participant; GROUP requires
// CanSendMessage to hold between the creator and every other member,
// returning the first denial encountered.
func (s *Service) CanCreateConversation(ctx context.Context, creator Identity, participants []Identity, convType model.ConversationType) error {
	switch convType {
	case model.ConversationSupport:
		return nil
	case model.ConversationDirect:
		if len(participants) != 1 {
			return newError(ErrorCodeValidation, "a DIRECT conversation requires exactly one other participant", nil)
		}
		return s.CanSendMessage(ctx, creator, participants[0])
	case model.ConversationGroup:
		for _, p := range participants {
			if err := s.CanSendMessage(ctx, creator, p); err != nil {
				return err
			}
		}
		return nil
	default:
		return newError(ErrorCodeValidation, fmt.Sprintf("unsupported conversation type %q", convType), nil)
	}
}

// ResolveIdentity fills in a participant's tenant/role fields from the
// denormalized user cache, for when the acting party is named only by
// userId (a DIRECT recipient, a GROUP member being added) rather than
// being the authenticated caller, whose roles are already known from
// identity.Claims.
func (s *Service) ResolveIdentity(ctx context.Context, userID string) (Identity, error) {
	cached, found, err := s.store.GetUserCache(ctx, userID)
	if err != nil {
		return Identity{}, newError(ErrorCodeInternal, "user cache lookup failed", err)
	}
	if !found {
		return Identity{UserID: userID}, nil
	}
	return Identity{
		UserID:       userID,
		TenantID:     cached.TenantID,
		TenantRole:   cached.TenantRole,
		PlatformRole: cached.PlatformRole,
	}, nil
}

func (s *Service) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	_, found, err := s.store.GetParticipant(ctx, conversationID, userID)
	return found, err
}

func (s *Service) IsConversationAdmin(ctx context.Context, conversationID, userID string) (bool, error) {
	p, found, err := s.store.GetParticipant(ctx, conversationID, userID)
	if err != nil || !found {
		return false, err
	}
	return p.Role == model.RoleOwner || p.Role == model.RoleAdmin, nil
}
