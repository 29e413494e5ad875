package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/relaymesh/chatcore/internal/messaging"
	"github.com/relaymesh/chatcore/internal/permission"
	"github.com/relaymesh/chatcore/internal/store/model"
)

var errAuthRequired = errors.New("first frame must be an auth event carrying a bearer token")

// handleEvent dispatches a single client->server frame per spec.md §6.2.
// Frames the closed Server->Client vocabulary has no ack/error shape for
// (an unrecognized event type) are logged and dropped rather than
// answered with a frame type outside that vocabulary.
func (s *Session) handleEvent(ctx context.Context, env Envelope) {
	switch env.Type {
	case "message:send":
		s.handleMessageSend(ctx, env.Data)
	case "typing:start":
		s.handleTyping(ctx, env.Data, true)
	case "typing:stop":
		s.handleTyping(ctx, env.Data, false)
	case "messages:read":
		s.handleMessagesRead(ctx, env.Data)
	case "conversation:join":
		s.handleConversationJoin(ctx, env.Data)
	case "conversation:leave":
		s.handleConversationLeave(ctx, env.Data)
	case "presence:get":
		s.handlePresenceGet(ctx, env.Data)
	default:
		log.Printf("session %s: dropping unknown event type %q", s.id, env.Type)
	}
}

func (s *Session) handleMessageSend(ctx context.Context, raw json.RawMessage) {
	var payload messageSendPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ConversationID == "" {
		s.sendMessageError(payload.ConversationID, errors.New("message:send requires conversationId and content"))
		return
	}

	start := time.Now()
	msgType := model.MessageText
	if payload.Type != "" {
		msgType = model.MessageType(payload.Type)
	}

	sender := permission.Identity{UserID: s.userID, TenantID: s.tenantID, TenantRole: s.role, PlatformRole: s.platformRole}
	msg, err := s.manager.messaging.SendMessage(ctx, sender, payload.ConversationID, messaging.SendMessageInput{
		Content:        payload.Content,
		Type:           msgType,
		ReplyToID:      payload.ReplyToID,
		AttachmentURL:  payload.AttachmentURL,
		AttachmentType: payload.AttachmentType,
		AttachmentName: payload.AttachmentName,
	})
	if err != nil {
		s.sendMessageError(payload.ConversationID, err)
		return
	}

	participants, err := s.manager.messaging.GetParticipants(ctx, payload.ConversationID, s.userID)
	if err != nil {
		log.Printf("session %s: resolve participants for fanout failed: %v", s.id, err)
		s.sendMessageError(payload.ConversationID, err)
		return
	}

	others := make([]string, 0, len(participants))
	for _, p := range participants {
		if p.UserID != s.userID {
			others = append(others, p.UserID)
		}
	}

	if err := s.manager.PublishMessageNew(ctx, payload.ConversationID, messageNewPayload{
		ConversationID: payload.ConversationID,
		MessageID:      msg.MessageID,
		SenderID:       msg.SenderID,
		Content:        msg.Content,
		Type:           string(msg.Type),
		ReplyToID:      msg.ReplyToID,
		AttachmentURL:  msg.AttachmentURL,
		AttachmentType: msg.AttachmentType,
		AttachmentName: msg.AttachmentName,
		CreatedAt:      msg.CreatedAt,
	}, others); err != nil {
		log.Printf("session %s: fan out new message failed: %v", s.id, err)
		s.sendMessageError(payload.ConversationID, err)
		return
	}

	// A successful send implies the sender stopped typing.
	_ = s.manager.presence.ClearTyping(ctx, payload.ConversationID, s.userID)
	_ = s.manager.publishTyping(ctx, payload.ConversationID, s.userID, false)

	observeSendLatency(time.Since(start).Seconds())
	s.sendAck(payload.ConversationID, msg)
}

func (s *Session) sendAck(conversationID string, msg messaging.MessageView) {
	body, err := envelope("message:sent", messageSentPayload{
		ConversationID: conversationID, MessageID: msg.MessageID, CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return
	}
	select {
	case s.send <- body:
	default:
	}
}

// sendMessageError reports a message:send failure on message:error, per
// spec.md §6.2's distinct error-event vocabulary, to the sender only.
func (s *Session) sendMessageError(conversationID string, err error) {
	code := "FORBIDDEN"
	if svcErr, ok := err.(interface{ ErrCode() string }); ok {
		code = svcErr.ErrCode()
	}
	switch code {
	case "FORBIDDEN", "CONTACT_REQUEST_REQUIRED", "RATE_LIMITED":
		incPermissionDenied()
	}
	body, marshalErr := envelope("message:error", messageErrorPayload{ConversationID: conversationID, Error: err.Error()})
	if marshalErr != nil {
		return
	}
	select {
	case s.send <- body:
	default:
	}
}

// sendConversationOrServiceError reports a conversation-scoped failure
// (messages:read, conversation:join/leave) on conversation:error, the
// closest typed event in spec.md §6.2's vocabulary to these actions.
func (s *Session) sendConversationOrServiceError(conversationID string, err error) {
	code := "FORBIDDEN"
	if svcErr, ok := err.(interface{ ErrCode() string }); ok {
		code = svcErr.ErrCode()
	}
	switch code {
	case "FORBIDDEN", "CONTACT_REQUEST_REQUIRED", "RATE_LIMITED":
		incPermissionDenied()
	}
	s.sendConversationError(conversationID, err.Error())
}

func (s *Session) handleTyping(ctx context.Context, raw json.RawMessage, isTyping bool) {
	var payload conversationRefPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ConversationID == "" {
		log.Printf("session %s: dropping malformed typing event", s.id)
		return
	}

	if isTyping {
		_ = s.manager.presence.SetTyping(ctx, payload.ConversationID, s.userID)
	} else {
		_ = s.manager.presence.ClearTyping(ctx, payload.ConversationID, s.userID)
	}
	_ = s.manager.publishTyping(ctx, payload.ConversationID, s.userID, isTyping)
}

func (s *Session) handleMessagesRead(ctx context.Context, raw json.RawMessage) {
	var payload conversationRefPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ConversationID == "" {
		log.Printf("session %s: dropping malformed messages:read event", s.id)
		return
	}

	if err := s.manager.messaging.MarkAsRead(ctx, payload.ConversationID, s.userID); err != nil {
		s.sendConversationOrServiceError(payload.ConversationID, err)
		return
	}

	_ = s.manager.publishMessagesRead(ctx, payload.ConversationID, s.userID, time.Now().UTC().Format(time.RFC3339Nano))
}

func (s *Session) handleConversationJoin(ctx context.Context, raw json.RawMessage) {
	var payload conversationRefPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ConversationID == "" {
		log.Printf("session %s: dropping malformed conversation:join event", s.id)
		return
	}

	isParticipant, err := s.manager.permission.IsParticipant(ctx, payload.ConversationID, s.userID)
	if err != nil || !isParticipant {
		s.sendConversationError(payload.ConversationID, "not a participant in this conversation")
		return
	}

	topic := conversationTopic(payload.ConversationID)
	s.mu.Lock()
	alreadyJoined := containsTopic(s.joinedTopics, topic)
	if !alreadyJoined {
		s.joinedTopics = append(s.joinedTopics, topic)
	}
	s.mu.Unlock()

	if alreadyJoined {
		return
	}

	s.manager.trackRoomJoin(topic)
	s.resubscribe(ctx)

	body, err := envelope("conversation:joined", conversationJoinedPayload{ConversationID: payload.ConversationID})
	if err != nil {
		return
	}
	select {
	case s.send <- body:
	default:
	}
}

func (s *Session) handleConversationLeave(ctx context.Context, raw json.RawMessage) {
	var payload conversationRefPayload
	if err := json.Unmarshal(raw, &payload); err != nil || payload.ConversationID == "" {
		log.Printf("session %s: dropping malformed conversation:leave event", s.id)
		return
	}

	topic := conversationTopic(payload.ConversationID)
	s.mu.Lock()
	s.joinedTopics = removeTopic(s.joinedTopics, topic)
	s.mu.Unlock()

	s.manager.trackRoomLeave(topic)
	s.resubscribe(ctx)

	body, err := envelope("conversation:left", conversationLeftPayload{ConversationID: payload.ConversationID})
	if err != nil {
		return
	}
	select {
	case s.send <- body:
	default:
	}
}

func (s *Session) sendConversationError(conversationID, message string) {
	body, err := envelope("conversation:error", conversationErrorPayload{ConversationID: conversationID, Error: message})
	if err != nil {
		return
	}
	select {
	case s.send <- body:
	default:
	}
}

// handlePresenceGet responds with presence:list, the tenant-scoped
// online-user snapshot per spec.md §6.2, rather than a single user's
// online/offline bit.
func (s *Session) handlePresenceGet(ctx context.Context, raw json.RawMessage) {
	var payload presenceGetPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Printf("session %s: dropping malformed presence:get event", s.id)
			return
		}
	}

	onlineUsers, err := s.manager.presence.OnlineUsers(ctx, payload.TenantID)
	if err != nil {
		log.Printf("session %s: presence lookup failed: %v", s.id, err)
		return
	}

	body, err := envelope("presence:list", presenceListPayload{TenantID: payload.TenantID, OnlineUsers: onlineUsers})
	if err != nil {
		return
	}
	select {
	case s.send <- body:
	default:
	}
}

// resubscribe signals fanoutPump to re-establish its bus subscription
// with the session's current topic set, so a conversation:join/leave
// takes effect without waiting on the next reconnect.
func (s *Session) resubscribe(ctx context.Context) {
	select {
	case s.topicsChanged <- struct{}{}:
	default:
	}
}

func containsTopic(topics []string, target string) bool {
	for _, t := range topics {
		if t == target {
			return true
		}
	}
	return false
}

func removeTopic(topics []string, target string) []string {
	out := topics[:0]
	for _, t := range topics {
		if t != target {
			out = append(out, t)
		}
	}
	return out
}
