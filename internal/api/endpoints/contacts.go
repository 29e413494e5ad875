package endpoints

import (
	"encoding/json"
	"net/http"

	"github.com/relaymesh/chatcore/internal/contacts"
	"github.com/relaymesh/chatcore/internal/permission"
	"github.com/relaymesh/chatcore/internal/store/model"
)

type ContactEndpoints struct {
	contacts   *contacts.Service
	permission *permission.Service
}

func NewContactEndpoints(c *contacts.Service, p *permission.Service) *ContactEndpoints {
	return &ContactEndpoints{contacts: c, permission: p}
}

type createContactRequestRequest struct {
	ToUserID string `json:"toUserId"`
	Message  string `json:"message,omitempty"`
}

type respondContactRequestRequest struct {
	Action string `json:"action"`
}

type createBlockRequest struct {
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

type contactRequestResponse struct {
	RequestID   string `json:"requestId"`
	FromUserID  string `json:"fromUserId"`
	ToUserID    string `json:"toUserId"`
	Message     string `json:"message,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"createdAt"`
	RespondedAt string `json:"respondedAt,omitempty"`
	ExpiresAt   string `json:"expiresAt"`
}

type blockedUserResponse struct {
	UserID        string `json:"userId"`
	BlockedUserID string `json:"blockedUserId"`
	Reason        string `json:"reason,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

func toContactRequestResponse(r model.ContactRequestItem) contactRequestResponse {
	return contactRequestResponse{
		RequestID: r.RequestID, FromUserID: r.FromUserID, ToUserID: r.ToUserID,
		Message: r.Message, Status: string(r.Status), CreatedAt: r.CreatedAt,
		RespondedAt: r.RespondedAt, ExpiresAt: r.ExpiresAt,
	}
}

func toBlockedUserResponse(b model.BlockedUserItem) blockedUserResponse {
	return blockedUserResponse{
		UserID: b.UserID, BlockedUserID: b.BlockedUserID, Reason: b.Reason, CreatedAt: b.CreatedAt,
	}
}

func contactServiceError(err error) error {
	if err == nil {
		return nil
	}
	code := "INTERNAL_ERROR"
	if svcErr, ok := err.(interface{ ErrCode() string }); ok {
		code = svcErr.ErrCode()
	}
	status := http.StatusInternalServerError
	switch contacts.ErrorCode(code) {
	case contacts.ErrorCodeValidation:
		status = http.StatusBadRequest
	case contacts.ErrorCodeForbidden:
		status = http.StatusForbidden
	case contacts.ErrorCodeNotFound:
		status = http.StatusNotFound
	case contacts.ErrorCodeConflict:
		status = http.StatusConflict
	}
	return &HTTPError{StatusCode: status, Code: code, Message: err.Error(), ErrorLog: err}
}

func (e *ContactEndpoints) ListReceived(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}
	reqs, svcErr := e.contacts.ListReceived(r.Context(), claims.UserID)
	if svcErr != nil {
		return contactServiceError(svcErr)
	}
	out := make([]contactRequestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toContactRequestResponse(req))
	}
	return WriteJSON(w, http.StatusOK, out)
}

func (e *ContactEndpoints) ListSent(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}
	reqs, svcErr := e.contacts.ListSent(r.Context(), claims.UserID)
	if svcErr != nil {
		return contactServiceError(svcErr)
	}
	out := make([]contactRequestResponse, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, toContactRequestResponse(req))
	}
	return WriteJSON(w, http.StatusOK, out)
}

func (e *ContactEndpoints) Create(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	var req createContactRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "invalid request body"}
	}

	created, svcErr := e.contacts.CreateRequest(r.Context(), claims.UserID, claims.TenantID, req.ToUserID, "", req.Message)
	if svcErr != nil {
		return contactServiceError(svcErr)
	}
	return WriteJSON(w, http.StatusCreated, toContactRequestResponse(created))
}

func (e *ContactEndpoints) Respond(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	requestID := r.PathValue("id")
	var req respondContactRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "invalid request body"}
	}

	var accept bool
	switch req.Action {
	case "accept":
		accept = true
	case "decline":
		accept = false
	default:
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "action must be accept or decline"}
	}

	updated, svcErr := e.contacts.Respond(r.Context(), requestID, claims.UserID, accept)
	if svcErr != nil {
		return contactServiceError(svcErr)
	}
	return WriteJSON(w, http.StatusOK, toContactRequestResponse(updated))
}

func (e *ContactEndpoints) CreateBlock(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	var req createBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "invalid request body"}
	}

	block, svcErr := e.contacts.Block(r.Context(), claims.UserID, req.UserID, req.Reason)
	if svcErr != nil {
		return contactServiceError(svcErr)
	}
	return WriteJSON(w, http.StatusCreated, toBlockedUserResponse(block))
}

func (e *ContactEndpoints) DeleteBlock(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}
	blockedUserID := r.PathValue("userId")
	if svcErr := e.contacts.Unblock(r.Context(), claims.UserID, blockedUserID); svcErr != nil {
		return contactServiceError(svcErr)
	}
	return WriteJSON(w, http.StatusOK, map[string]bool{"unblocked": true})
}

func (e *ContactEndpoints) ListBlocked(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}
	blocks, svcErr := e.contacts.ListBlocked(r.Context(), claims.UserID)
	if svcErr != nil {
		return contactServiceError(svcErr)
	}
	out := make([]blockedUserResponse, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBlockedUserResponse(b))
	}
	return WriteJSON(w, http.StatusOK, out)
}

// CanMessage answers spec.md §6.1's GET /contacts/can-message/:userId
// by re-running the permission engine's own decision and translating
// its error taxonomy into the boolean shape the endpoint promises.
func (e *ContactEndpoints) CanMessage(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	targetUserID := r.PathValue("userId")
	sender := permission.Identity{UserID: claims.UserID, TenantID: claims.TenantID, TenantRole: claims.TenantRole, PlatformRole: claims.PlatformRole}
	recipient, err := e.permission.ResolveIdentity(r.Context(), targetUserID)
	if err != nil {
		return serviceError(err)
	}

	permErr := e.permission.CanSendMessage(r.Context(), sender, recipient)
	if permErr == nil {
		return WriteJSON(w, http.StatusOK, map[string]any{"canMessage": true, "requiresApproval": false})
	}

	code := "INTERNAL_ERROR"
	if svcErr, ok := permErr.(interface{ ErrCode() string }); ok {
		code = svcErr.ErrCode()
	}
	if code == string(permission.ErrorCodeContactRequestNeed) {
		return WriteJSON(w, http.StatusOK, map[string]any{
			"canMessage": false, "requiresApproval": true, "reason": permErr.Error(),
		})
	}
	return WriteJSON(w, http.StatusOK, map[string]any{
		"canMessage": false, "requiresApproval": false, "reason": permErr.Error(),
	})
}
