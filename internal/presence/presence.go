// Package presence tracks who is online and who is typing (C4), built
// entirely on the bus's TTL key-value and set primitives the way the
// teacher tracks refresh tokens in internal/jwt/jwt_varriables.go with
// Redis TTLs.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/relaymesh/chatcore/internal/bus"
)

// OnlineTTL is the presence key lifetime; a node that dies without
// publishing offline is forgotten after this, per spec.md §4.4.
const OnlineTTL = 30 * time.Second

// TypingTTL bounds how long a typing:start stays active without a
// repeat signal or an explicit typing:stop, per spec.md §4.4.
const TypingTTL = 5 * time.Second

// OfflineGrace is the length of the reconnect grace window. No code reads
// it: presence applies no time-based debounce, so a reconnect that starts
// after the old connection has fully closed is seen as presence:offline
// followed by presence:online.
const OfflineGrace = 5 * time.Second

const topicPresence = "presence"

// onlineSetKey scopes the online set per tenant, per spec.md §3's
// online:{tenantId}/online:global sets; a caller with no tenantId (a
// platform-only actor) is tracked in the global set instead.
func onlineSetKey(tenantID string) string {
	if tenantID == "" {
		return "presence:online:global"
	}
	return fmt.Sprintf("presence:online:%s", tenantID)
}

func onlineKey(userID string) string   { return fmt.Sprintf("presence:online:user:%s", userID) }
func lastSeenKey(userID string) string { return fmt.Sprintf("presence:lastseen:%s", userID) }
func typingKey(conversationID, userID string) string {
	return fmt.Sprintf("presence:typing:%s:%s", conversationID, userID)
}
func typingSetKey(conversationID string) string {
	return fmt.Sprintf("presence:typing:%s", conversationID)
}

type Event struct {
	Type           string `json:"type"`
	UserID         string `json:"userId"`
	TenantID       string `json:"tenantId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

type Service struct {
	bus bus.Bus
	now func() time.Time
}

func New(b bus.Bus) *Service {
	return &Service{bus: b, now: time.Now}
}

func NewWithClock(b bus.Bus, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{bus: b, now: now}
}

// SetOnline marks userID online within tenantID's scope (or the global
// scope when tenantID is empty), records LastSeen, and publishes
// presence:online to the shared presence topic, per spec.md §4.4/§4.7's
// CONNECTED entry action.
func (s *Service) SetOnline(ctx context.Context, userID, tenantID string) error {
	if _, err := s.bus.Increment(ctx, onlineKey(userID), OnlineTTL); err != nil {
		return err
	}
	if err := s.bus.AddToSet(ctx, onlineSetKey(tenantID), userID); err != nil {
		return err
	}
	if err := s.touchLastSeen(ctx, userID); err != nil {
		return err
	}
	return s.publish(ctx, Event{Type: "presence:online", UserID: userID, TenantID: tenantID})
}

// SetOffline releases one connection's hold on userID's presence. The
// online key counts the user's live connections (SetOnline increments
// it); while another connection still holds it, SetOffline only
// decrements the count and the user stays online, so a reconnect that
// overlaps the old connection's close does not flap. The last release
// clears the online state, records LastSeen and publishes
// presence:offline.
func (s *Service) SetOffline(ctx context.Context, userID, tenantID string) error {
	if raw, ok, _ := s.bus.Get(ctx, onlineKey(userID)); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 1 {
			return s.bus.Set(ctx, onlineKey(userID), strconv.Itoa(n-1), OnlineTTL)
		}
	}

	if err := s.bus.RemoveFromSet(ctx, onlineSetKey(tenantID), userID); err != nil {
		return err
	}
	if err := s.bus.Delete(ctx, onlineKey(userID)); err != nil {
		return err
	}
	if err := s.touchLastSeen(ctx, userID); err != nil {
		return err
	}
	return s.publish(ctx, Event{Type: "presence:offline", UserID: userID, TenantID: tenantID})
}

func (s *Service) IsOnline(ctx context.Context, userID string) (bool, error) {
	_, ok, err := s.bus.Get(ctx, onlineKey(userID))
	return ok, err
}

func (s *Service) OnlineUsers(ctx context.Context, tenantID string) ([]string, error) {
	return s.bus.SetMembers(ctx, onlineSetKey(tenantID))
}

func (s *Service) touchLastSeen(ctx context.Context, userID string) error {
	return s.bus.Set(ctx, lastSeenKey(userID), s.now().UTC().Format(time.RFC3339Nano), 0)
}

// LastSeen reports the last time userID transitioned online or offline,
// per spec.md §4.4. It returns ok=false if the user has never connected.
func (s *Service) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	raw, ok, err := s.bus.Get(ctx, lastSeenKey(userID))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return t, true, nil
}

// SetTyping refreshes the typing indicator for userID in conversationID.
// Callers re-issue typing:start on an interval shorter than TypingTTL to
// keep it alive; if none arrives, it expires on its own.
func (s *Service) SetTyping(ctx context.Context, conversationID, userID string) error {
	if err := s.bus.Set(ctx, typingKey(conversationID, userID), "1", TypingTTL); err != nil {
		return err
	}
	if err := s.bus.AddToSet(ctx, typingSetKey(conversationID), userID); err != nil {
		return err
	}
	return s.publish(ctx, Event{Type: "typing:start", UserID: userID, ConversationID: conversationID})
}

func (s *Service) ClearTyping(ctx context.Context, conversationID, userID string) error {
	if err := s.bus.Delete(ctx, typingKey(conversationID, userID)); err != nil {
		return err
	}
	if err := s.bus.RemoveFromSet(ctx, typingSetKey(conversationID), userID); err != nil {
		return err
	}
	return s.publish(ctx, Event{Type: "typing:stop", UserID: userID, ConversationID: conversationID})
}

// TypingUsers returns who currently has a live typing key in the
// conversation, filtering out set members whose key already expired.
func (s *Service) TypingUsers(ctx context.Context, conversationID string) ([]string, error) {
	members, err := s.bus.SetMembers(ctx, typingSetKey(conversationID))
	if err != nil {
		return nil, err
	}

	live := make([]string, 0, len(members))
	for _, userID := range members {
		_, ok, err := s.bus.Get(ctx, typingKey(conversationID, userID))
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, userID)
		} else {
			_ = s.bus.RemoveFromSet(ctx, typingSetKey(conversationID), userID)
		}
	}
	return live, nil
}

// Subscribe lets the session manager (C7) react to presence/typing
// events for fanout to connected clients.
func (s *Service) Subscribe(ctx context.Context) (bus.Subscription, error) {
	return s.bus.Subscribe(ctx, topicPresence)
}

func (s *Service) publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, topicPresence, payload)
}
