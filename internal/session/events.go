package session

import "encoding/json"

// Envelope is the wire shape of every duplex transport frame, both
// client->server and server->client, per spec.md §6.2.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type authPayload struct {
	Token string `json:"token"`
}

type messageSendPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	ReplyToID      string `json:"replyToId,omitempty"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
}

type conversationRefPayload struct {
	ConversationID string `json:"conversationId"`
}

// presenceGetPayload's tenantId is optional: omitted, it asks for the
// global online set; supplied, it scopes to that tenant's set.
type presenceGetPayload struct {
	TenantID string `json:"tenantId,omitempty"`
}

type messageNewPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	SenderID       string `json:"senderId"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	ReplyToID      string `json:"replyToId,omitempty"`
	AttachmentURL  string `json:"attachmentUrl,omitempty"`
	AttachmentType string `json:"attachmentType,omitempty"`
	AttachmentName string `json:"attachmentName,omitempty"`
	CreatedAt      string `json:"createdAt"`
}

type messageSentPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	CreatedAt      string `json:"createdAt"`
}

type messageErrorPayload struct {
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

// typingUpdatePayload also carries userId so pumpSubscription can filter
// the sender's own sessions out on the receive side, since the bus has
// no native per-subscriber publish exclusion.
type typingUpdatePayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

type presenceEventPayload struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId,omitempty"`
}

type presenceListPayload struct {
	TenantID    string   `json:"tenantId,omitempty"`
	OnlineUsers []string `json:"onlineUsers"`
}

type messagesReadPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	ReadAt         string `json:"readAt"`
}

type conversationJoinedPayload struct {
	ConversationID string `json:"conversationId"`
}

type conversationLeftPayload struct {
	ConversationID string `json:"conversationId"`
}

type conversationErrorPayload struct {
	ConversationID string `json:"conversationId"`
	Error          string `json:"error"`
}

func envelope(eventType string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: eventType, Data: raw})
}
