// Package contacts implements the contact-request and block workflows
// that sit alongside the permission engine (C5): out-of-band consent
// artifacts for cross-tenant messaging, and the bidirectional block
// list that the permission engine checks ahead of every rule.
package contacts

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/relaymesh/chatcore/internal/store"
	"github.com/relaymesh/chatcore/internal/store/model"
)

const DefaultExpiry = 7 * 24 * time.Hour

type ErrorCode string

const (
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrorCodeForbidden  ErrorCode = "FORBIDDEN"
	ErrorCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrorCodeConflict   ErrorCode = "CONFLICT"
	ErrorCodeInternal   ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error   { return e.Err }
func (e *Error) ErrCode() string { return string(e.Code) }

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

type Service struct {
	store *store.Gateway
	now   func() time.Time
}

func New(s *store.Gateway) *Service {
	return NewWithClock(s, time.Now)
}

func NewWithClock(s *store.Gateway, now func() time.Time) *Service {
	return &Service{store: s, now: now}
}

// CreateRequest sends a contact request from fromUserID to toUserID. A
// second PENDING request against the same ordered pair is rejected as
// a conflict per spec §3's at-most-one-pending invariant.
func (s *Service) CreateRequest(ctx context.Context, fromUserID, fromTenantID, toUserID, toTenantID, message string) (model.ContactRequestItem, error) {
	if toUserID == "" || toUserID == fromUserID {
		return model.ContactRequestItem{}, newError(ErrorCodeValidation, "toUserId must reference a different user", nil)
	}
	if utf8.RuneCountInString(message) > 500 {
		return model.ContactRequestItem{}, newError(ErrorCodeValidation, "message must be at most 500 characters", nil)
	}

	existing, found, err := s.store.PendingRequestBetween(ctx, fromUserID, toUserID, s.now())
	if err != nil {
		return model.ContactRequestItem{}, newError(ErrorCodeInternal, "failed to check for an existing request", err)
	}
	if found {
		return existing, newError(ErrorCodeConflict, "a pending contact request already exists", nil)
	}

	now := s.now()
	req := model.ContactRequestItem{
		RequestID:    store.NewID(),
		FromUserID:   fromUserID,
		FromTenantID: fromTenantID,
		ToUserID:     toUserID,
		ToTenantID:   toTenantID,
		Message:      message,
		Status:       model.ContactPending,
		CreatedAt:    now.UTC().Format(time.RFC3339),
		ExpiresAt:    now.Add(DefaultExpiry).UTC().Format(time.RFC3339),
	}

	if err := s.store.CreateContactRequest(ctx, req); err != nil {
		return model.ContactRequestItem{}, newError(ErrorCodeInternal, "failed to create contact request", err)
	}
	return req, nil
}

// Respond accepts or declines a pending request. Only the recipient
// may respond.
func (s *Service) Respond(ctx context.Context, requestID, responderUserID string, accept bool) (model.ContactRequestItem, error) {
	req, found, err := s.store.GetContactRequest(ctx, requestID)
	if err != nil {
		return model.ContactRequestItem{}, newError(ErrorCodeInternal, "failed to load contact request", err)
	}
	if !found {
		return model.ContactRequestItem{}, newError(ErrorCodeNotFound, "contact request not found", nil)
	}
	if req.ToUserID != responderUserID {
		return model.ContactRequestItem{}, newError(ErrorCodeForbidden, "only the recipient may respond to this request", nil)
	}
	if req.Status != model.ContactPending {
		return model.ContactRequestItem{}, newError(ErrorCodeConflict, "request is no longer pending", nil)
	}

	status := model.ContactDeclined
	if accept {
		status = model.ContactAccepted
	}

	respondedAt := s.now().UTC().Format(time.RFC3339)
	if err := s.store.UpdateContactRequestStatus(ctx, requestID, status, respondedAt); err != nil {
		return model.ContactRequestItem{}, newError(ErrorCodeInternal, "failed to update contact request", err)
	}

	req.Status = status
	req.RespondedAt = respondedAt
	return req, nil
}

func (s *Service) ListReceived(ctx context.Context, userID string) ([]model.ContactRequestItem, error) {
	reqs, err := s.store.ListReceivedContactRequests(ctx, userID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list received requests", err)
	}
	return reqs, nil
}

func (s *Service) ListSent(ctx context.Context, userID string) ([]model.ContactRequestItem, error) {
	reqs, err := s.store.ListSentContactRequests(ctx, userID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list sent requests", err)
	}
	return reqs, nil
}

func (s *Service) Block(ctx context.Context, userID, blockedUserID, reason string) (model.BlockedUserItem, error) {
	if blockedUserID == "" || blockedUserID == userID {
		return model.BlockedUserItem{}, newError(ErrorCodeValidation, "userId must reference a different user", nil)
	}
	if utf8.RuneCountInString(reason) > 500 {
		return model.BlockedUserItem{}, newError(ErrorCodeValidation, "reason must be at most 500 characters", nil)
	}

	block := model.BlockedUserItem{
		PK:            model.BlockedUserPK(userID, blockedUserID),
		UserID:        userID,
		BlockedUserID: blockedUserID,
		Reason:        reason,
		CreatedAt:     s.now().UTC().Format(time.RFC3339),
	}
	if err := s.store.CreateBlock(ctx, block); err != nil {
		return model.BlockedUserItem{}, newError(ErrorCodeInternal, "failed to create block", err)
	}
	return block, nil
}

func (s *Service) Unblock(ctx context.Context, userID, blockedUserID string) error {
	if err := s.store.DeleteBlock(ctx, userID, blockedUserID); err != nil {
		return newError(ErrorCodeInternal, "failed to remove block", err)
	}
	return nil
}

func (s *Service) ListBlocked(ctx context.Context, userID string) ([]model.BlockedUserItem, error) {
	blocks, err := s.store.ListBlockedByUser(ctx, userID)
	if err != nil {
		return nil, newError(ErrorCodeInternal, "failed to list blocked users", err)
	}
	return blocks, nil
}
