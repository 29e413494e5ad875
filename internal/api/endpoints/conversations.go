package endpoints

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/relaymesh/chatcore/internal/messaging"
	"github.com/relaymesh/chatcore/internal/permission"
	"github.com/relaymesh/chatcore/internal/store/model"
)

type ConversationEndpoints struct {
	messaging  *messaging.Service
	permission *permission.Service
}

func NewConversationEndpoints(m *messaging.Service, p *permission.Service) *ConversationEndpoints {
	return &ConversationEndpoints{messaging: m, permission: p}
}

type createConversationRequest struct {
	Type            string   `json:"type"`
	RecipientUserID string   `json:"recipientUserId,omitempty"`
	RecipientTenant string   `json:"recipientTenantId,omitempty"`
	Name            string   `json:"name,omitempty"`
	MemberIDs       []string `json:"memberIds,omitempty"`
}

type sendMessageRequest struct {
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	ReplyToID      string `json:"replyToId,omitempty"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
}

type conversationResponse struct {
	ConversationID string                `json:"conversationId"`
	Type           string                `json:"type"`
	Name           string                `json:"name,omitempty"`
	CreatedAt      string                `json:"createdAt"`
	UpdatedAt      string                `json:"updatedAt"`
	UnreadCount    int                   `json:"unreadCount"`
	Participants   []participantResponse `json:"participants,omitempty"`
	LastMessage    *messageResponse      `json:"lastMessage,omitempty"`
}

type participantResponse struct {
	UserID      string `json:"userId"`
	Role        string `json:"role"`
	JoinedAt    string `json:"joinedAt"`
	LastReadAt  string `json:"lastReadAt,omitempty"`
	IsOnline    bool   `json:"isOnline"`
	DisplayName string `json:"displayName"`
}

type messageResponse struct {
	MessageID         string `json:"messageId"`
	ConversationID    string `json:"conversationId"`
	SenderID          string `json:"senderId"`
	SenderDisplayName string `json:"senderDisplayName"`
	Content           string `json:"content"`
	Type              string `json:"type"`
	ReplyToID         string `json:"replyToId,omitempty"`
	AttachmentURL     string `json:"attachmentUrl,omitempty"`
	AttachmentType    string `json:"attachmentType,omitempty"`
	AttachmentName    string `json:"attachmentName,omitempty"`
	CreatedAt         string `json:"createdAt"`
	EditedAt          string `json:"editedAt,omitempty"`
}

func toConversationResponse(view messaging.ConversationView) conversationResponse {
	resp := conversationResponse{
		ConversationID: view.Conversation.ConversationID,
		Type:           string(view.Conversation.Type),
		Name:           view.Conversation.Name,
		CreatedAt:      view.Conversation.CreatedAt,
		UpdatedAt:      view.Conversation.UpdatedAt,
		UnreadCount:    view.UnreadCount,
	}
	for _, p := range view.Participants {
		resp.Participants = append(resp.Participants, toParticipantResponse(p))
	}
	if view.LastMessage != nil {
		m := toMessageResponse(*view.LastMessage)
		resp.LastMessage = &m
	}
	return resp
}

func toParticipantResponse(p messaging.ParticipantView) participantResponse {
	return participantResponse{
		UserID: p.UserID, Role: string(p.Role), JoinedAt: p.JoinedAt, LastReadAt: p.LastReadAt,
		IsOnline: p.IsOnline, DisplayName: p.DisplayName,
	}
}

func toMessageResponse(m messaging.MessageView) messageResponse {
	return messageResponse{
		MessageID: m.MessageID, ConversationID: m.ConversationID, SenderID: m.SenderID,
		SenderDisplayName: m.SenderDisplayName,
		Content:           m.Content, Type: string(m.Type),
		ReplyToID: m.ReplyToID, AttachmentURL: m.AttachmentURL, AttachmentType: m.AttachmentType, AttachmentName: m.AttachmentName,
		CreatedAt: m.CreatedAt, EditedAt: m.EditedAt,
	}
}

func (e *ConversationEndpoints) List(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	limit := parseLimit(r.URL.Query().Get("limit"), 50)
	cursor := r.URL.Query().Get("cursor")

	views, hasMore, svcErr := e.messaging.GetConversations(r.Context(), claims.UserID, limit, cursor)
	if svcErr != nil {
		return serviceError(svcErr)
	}

	out := make([]conversationResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toConversationResponse(v))
	}
	return WriteJSONWithMeta(w, http.StatusOK, out, map[string]any{"hasMore": hasMore})
}

func (e *ConversationEndpoints) Create(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	var req createConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "invalid request body"}
	}

	sender := permission.Identity{UserID: claims.UserID, TenantID: claims.TenantID, TenantRole: claims.TenantRole, PlatformRole: claims.PlatformRole}

	switch model.ConversationType(req.Type) {
	case model.ConversationDirect:
		if req.RecipientUserID == "" {
			return &HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "recipientUserId is required for a DIRECT conversation"}
		}
		recipient := permission.Identity{UserID: req.RecipientUserID, TenantID: req.RecipientTenant}
		view, svcErr := e.messaging.CreateDirectConversation(r.Context(), sender, recipient)
		if svcErr != nil {
			return serviceError(svcErr)
		}
		return WriteJSON(w, http.StatusCreated, toConversationResponse(view))
	case model.ConversationGroup, model.ConversationSupport:
		if len(req.MemberIDs) < 1 || len(req.MemberIDs) > 50 {
			return &HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "memberIds must have between 1 and 50 entries"}
		}
		view, svcErr := e.messaging.CreateGroupConversation(r.Context(), sender, model.ConversationType(req.Type), req.Name, req.MemberIDs)
		if svcErr != nil {
			return serviceError(svcErr)
		}
		return WriteJSON(w, http.StatusCreated, toConversationResponse(view))
	default:
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "unsupported conversation type"}
	}
}

func (e *ConversationEndpoints) Get(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	conversationID := r.PathValue("id")
	view, svcErr := e.messaging.GetConversation(r.Context(), conversationID, claims.UserID)
	if svcErr != nil {
		return serviceError(svcErr)
	}
	return WriteJSON(w, http.StatusOK, toConversationResponse(view))
}

func (e *ConversationEndpoints) ListMessages(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	conversationID := r.PathValue("id")
	limit := parseLimit(r.URL.Query().Get("limit"), 50)
	cursor := r.URL.Query().Get("cursor")

	messages, hasMore, svcErr := e.messaging.GetMessages(r.Context(), conversationID, claims.UserID, limit, cursor)
	if svcErr != nil {
		return serviceError(svcErr)
	}

	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m))
	}
	return WriteJSONWithMeta(w, http.StatusOK, out, map[string]any{"hasMore": hasMore})
}

func (e *ConversationEndpoints) SendMessage(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	conversationID := r.PathValue("id")
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return &HTTPError{StatusCode: http.StatusBadRequest, Code: "VALIDATION_ERROR", Message: "invalid request body"}
	}

	msgType := model.MessageText
	if req.Type != "" {
		msgType = model.MessageType(req.Type)
	}

	sender := permission.Identity{UserID: claims.UserID, TenantID: claims.TenantID, TenantRole: claims.TenantRole, PlatformRole: claims.PlatformRole}
	msg, svcErr := e.messaging.SendMessage(r.Context(), sender, conversationID, messaging.SendMessageInput{
		Content:        req.Content,
		Type:           msgType,
		ReplyToID:      req.ReplyToID,
		AttachmentURL:  req.AttachmentURL,
		AttachmentType: req.AttachmentType,
		AttachmentName: req.AttachmentName,
	})
	if svcErr != nil {
		return serviceError(svcErr)
	}
	return WriteJSON(w, http.StatusCreated, toMessageResponse(msg))
}

func (e *ConversationEndpoints) GetMessage(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}
	conversationID := r.PathValue("id")
	messageID := r.PathValue("mid")
	msg, svcErr := e.messaging.GetMessage(r.Context(), conversationID, messageID, claims.UserID)
	if svcErr != nil {
		return serviceError(svcErr)
	}
	return WriteJSON(w, http.StatusOK, toMessageResponse(msg))
}

// UnreadTotal aggregates unread counts across every conversation the
// caller participates in, per SPEC_FULL.md's GET /messages/unread.
func (e *ConversationEndpoints) UnreadTotal(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}
	total, svcErr := e.messaging.GetTotalUnreadCount(r.Context(), claims.UserID)
	if svcErr != nil {
		return serviceError(svcErr)
	}
	return WriteJSON(w, http.StatusOK, map[string]int{"unreadCount": total})
}

func (e *ConversationEndpoints) MarkRead(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}
	conversationID := r.PathValue("id")
	if svcErr := e.messaging.MarkAsRead(r.Context(), conversationID, claims.UserID); svcErr != nil {
		return serviceError(svcErr)
	}
	return WriteJSON(w, http.StatusOK, map[string]bool{"read": true})
}

func (e *ConversationEndpoints) ListParticipants(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}
	conversationID := r.PathValue("id")
	participants, svcErr := e.messaging.GetParticipants(r.Context(), conversationID, claims.UserID)
	if svcErr != nil {
		return serviceError(svcErr)
	}
	out := make([]participantResponse, 0, len(participants))
	for _, p := range participants {
		out = append(out, toParticipantResponse(p))
	}
	return WriteJSON(w, http.StatusOK, out)
}

// Usage exposes the conversations-started accounting feature
// generalized from the teacher's ConversationUsage endpoint, per
// SPEC_FULL.md §11.
func (e *ConversationEndpoints) Usage(w http.ResponseWriter, r *http.Request) error {
	claims, err := claimsFromRequest(r)
	if err != nil {
		return err
	}

	start, end := parseUsageWindow(r)
	count, svcErr := e.messaging.ConversationsStartedBetween(r.Context(), claims.UserID, start, end)
	if svcErr != nil {
		return serviceError(svcErr)
	}
	return WriteJSON(w, http.StatusOK, map[string]any{
		"periodStart":  start.UTC().Format(time.RFC3339),
		"periodEnd":    end.UTC().Format(time.RFC3339),
		"startedCount": count,
	})
}

func parseUsageWindow(r *http.Request) (time.Time, time.Time) {
	end := time.Now()
	start := end.Add(-30 * 24 * time.Hour)

	if raw := r.URL.Query().Get("start"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			start = parsed
		}
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			end = parsed
		}
	}
	return start, end
}

func parseLimit(raw string, defaultLimit int) int {
	if raw == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > 100 {
		return 100
	}
	return n
}
