package session

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	raw, err := envelope("message:new", messageNewPayload{
		ConversationID: "conv-1",
		MessageID:      "msg-1",
		SenderID:       "user-1",
		Content:        "hi",
		Type:           "TEXT",
		CreatedAt:      "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("envelope returned error: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to unmarshal envelope: %v", err)
	}
	if env.Type != "message:new" {
		t.Fatalf("env.Type = %q, want message:new", env.Type)
	}

	var payload messageNewPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if payload.ConversationID != "conv-1" || payload.MessageID != "msg-1" || payload.SenderID != "user-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestEnvelopeDecodesIncomingFrame(t *testing.T) {
	raw := []byte(`{"type":"message:send","data":{"conversationId":"conv-1","content":"hello"}}`)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("failed to unmarshal incoming frame: %v", err)
	}
	if env.Type != "message:send" {
		t.Fatalf("env.Type = %q, want message:send", env.Type)
	}

	var payload messageSendPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("failed to unmarshal message:send payload: %v", err)
	}
	if payload.ConversationID != "conv-1" || payload.Content != "hello" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}
