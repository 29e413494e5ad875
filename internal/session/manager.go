// Package session implements the session manager and room fanout (C7):
// the duplex transport state machine, topic subscriptions, and the
// dual conversation+user publish pattern, generalized from the
// teacher's internal/websocket Hub/Client/Handler/Publisher quartet.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relaymesh/chatcore/internal/bus"
	"github.com/relaymesh/chatcore/internal/identity"
	"github.com/relaymesh/chatcore/internal/messaging"
	"github.com/relaymesh/chatcore/internal/permission"
	"github.com/relaymesh/chatcore/internal/presence"
)

func userTopic(userID string) string               { return "user:" + userID }
func tenantTopic(tenantID string) string            { return "tenant:" + tenantID }
func conversationTopic(conversationID string) string { return "conversation:" + conversationID }

// Manager owns the set of locally connected sessions and the
// conversation-room bookkeeping the chatcore_session_conversation_rooms
// gauge reports on.
type Manager struct {
	bus        bus.Bus
	presence   *presence.Service
	messaging  *messaging.Service
	permission *permission.Service
	identity   *identity.Verifier

	mu              sync.Mutex
	sessions        map[string]*Session
	roomSubscribers map[string]int
}

func NewManager(b bus.Bus, p *presence.Service, m *messaging.Service, perm *permission.Service, idv *identity.Verifier) *Manager {
	return &Manager{
		bus:             b,
		presence:        p,
		messaging:       m,
		permission:      perm,
		identity:        idv,
		sessions:        make(map[string]*Session),
		roomSubscribers: make(map[string]int),
	}
}

// HandleConn takes an upgraded websocket connection and runs its
// session to completion, the way the teacher's JoinRoom spawns the
// client goroutines and blocks until the connection dies.
func (m *Manager) HandleConn(ctx context.Context, conn *websocket.Conn) {
	sess := newSession(conn, m)
	m.register(sess)
	defer m.unregister(sess)
	sess.run(ctx)
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	incConnections()
}

func (m *Manager) unregister(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	decConnections()
}

func (m *Manager) trackRoomJoin(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomSubscribers[topic]++
	setConversationRooms(len(m.roomSubscribers))
}

func (m *Manager) trackRoomLeave(topic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomSubscribers[topic]--
	if m.roomSubscribers[topic] <= 0 {
		delete(m.roomSubscribers, topic)
	}
	setConversationRooms(len(m.roomSubscribers))
}

// PublishMessageNew fans a new message out to the conversation topic
// and, per spec.md §9's deliberate duplicate-delivery design, also to
// every other participant's user topic directly — clients dedupe by
// message.id.
func (m *Manager) PublishMessageNew(ctx context.Context, conversationID string, payload messageNewPayload, otherParticipantIDs []string) error {
	body, err := envelope("message:new", payload)
	if err != nil {
		return err
	}

	if err := m.bus.Publish(ctx, conversationTopic(conversationID), body); err != nil {
		return fmt.Errorf("publish to conversation topic: %w", err)
	}
	addDelivered(1)

	for _, userID := range otherParticipantIDs {
		if err := m.bus.Publish(ctx, userTopic(userID), body); err != nil {
			log.Printf("session: publish to user topic %s failed: %v", userID, err)
			continue
		}
		addDelivered(1)
	}
	return nil
}

// publishTyping and publishMessagesRead publish to the full conversation
// topic; excluding the sender's own session happens on the receive side
// in pumpSubscription, since the bus has no per-subscriber exclusion.
func (m *Manager) publishTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	body, err := envelope("typing:update", typingUpdatePayload{
		ConversationID: conversationID, UserID: userID, IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	return m.bus.Publish(ctx, conversationTopic(conversationID), body)
}

func (m *Manager) publishMessagesRead(ctx context.Context, conversationID, userID, readAt string) error {
	body, err := envelope("messages:read", messagesReadPayload{
		ConversationID: conversationID, UserID: userID, ReadAt: readAt,
	})
	if err != nil {
		return err
	}
	return m.bus.Publish(ctx, conversationTopic(conversationID), body)
}

// publishPresence emits the distinct presence:online/presence:offline
// event on the tenant topic (or, for a tenant-less caller, the user's
// own topic, since there is no tenant room to notify), per spec.md §4.7.
func (m *Manager) publishPresence(ctx context.Context, userID, tenantID string, online bool) error {
	eventType := "presence:offline"
	if online {
		eventType = "presence:online"
	}
	body, err := envelope(eventType, presenceEventPayload{UserID: userID, TenantID: tenantID})
	if err != nil {
		return err
	}
	topic := userTopic(userID)
	if tenantID != "" {
		topic = tenantTopic(tenantID)
	}
	return m.bus.Publish(ctx, topic, body)
}

