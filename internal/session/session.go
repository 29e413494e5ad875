package session

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaymesh/chatcore/internal/bus"
	"github.com/relaymesh/chatcore/internal/store"
)

// State is the session lifecycle per spec.md §4.7: DIAL ->
// AUTHENTICATING -> CONNECTED -> (CLOSING) -> CLOSED.
type State int

const (
	StateDial State = iota
	StateAuthenticating
	StateConnected
	StateClosing
	StateClosed
)

const (
	authDeadline  = 10 * time.Second
	pingInterval  = 30 * time.Second
	readLimitByte = 512 * 1024
)

type Session struct {
	id      string
	conn    *websocket.Conn
	manager *Manager

	send chan []byte
	done chan struct{}

	mu       sync.Mutex
	state    State
	isClosed bool

	userID       string
	tenantID     string
	role         string
	platformRole string

	joinedTopics  []string
	topicsChanged chan struct{}
}

func newSession(conn *websocket.Conn, m *Manager) *Session {
	return &Session{
		id:            store.NewID(),
		conn:          conn,
		manager:       m,
		send:          make(chan []byte, 32),
		done:          make(chan struct{}),
		state:         StateDial,
		topicsChanged: make(chan struct{}, 1),
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// run drives the session from DIAL through authentication into
// CONNECTED, then pumps reads/writes until the connection closes.
func (s *Session) run(ctx context.Context) {
	defer s.close(ctx)

	s.setState(StateAuthenticating)
	if err := s.authenticate(); err != nil {
		closeMsg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		return
	}

	s.setState(StateConnected)
	if err := s.onConnected(ctx); err != nil {
		log.Printf("session %s: connected-entry actions failed: %v", s.id, err)
		return
	}

	go s.writePump()
	go s.fanoutPump(ctx)
	s.readPump(ctx)
}

// authenticate reads the first frame, expecting {"type":"auth"}, and
// verifies the bearer token via the identity verifier (C1).
func (s *Session) authenticate() error {
	_ = s.conn.SetReadDeadline(time.Now().Add(authDeadline))
	defer s.conn.SetReadDeadline(time.Time{})

	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return err
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type != "auth" {
		return errAuthRequired
	}

	var payload authPayload
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return errAuthRequired
	}

	claims, err := s.manager.identity.VerifyToken(payload.Token)
	if err != nil {
		return err
	}

	s.userID = claims.UserID
	s.tenantID = claims.TenantID
	s.role = claims.TenantRole
	s.platformRole = claims.PlatformRole
	return nil
}

// onConnected runs the CONNECTED entry actions per spec.md §4.7, in
// order: join the user topic, join the tenant topic if present, mark
// presence online and publish presence:online on the tenant topic, then
// query the caller's Participant rows and join every conversation topic
// eagerly — typing:update and messages:read are published only to the
// conversation topic, not dual-published like message:new, so a
// participant who hadn't rejoined would silently miss them.
func (s *Session) onConnected(ctx context.Context) error {
	topics := []string{userTopic(s.userID)}
	if s.tenantID != "" {
		topics = append(topics, tenantTopic(s.tenantID))
	}

	if err := s.manager.presence.SetOnline(ctx, s.userID, s.tenantID); err != nil {
		return err
	}
	if err := s.manager.publishPresence(ctx, s.userID, s.tenantID, true); err != nil {
		return err
	}

	conversationIDs, err := s.manager.messaging.ConversationIDsForUser(ctx, s.userID)
	if err != nil {
		return err
	}
	for _, id := range conversationIDs {
		topics = append(topics, conversationTopic(id))
	}

	for _, topic := range topics {
		s.manager.trackRoomJoin(topic)
	}
	s.mu.Lock()
	s.joinedTopics = append(s.joinedTopics, topics...)
	s.mu.Unlock()

	return nil
}

func (s *Session) readPump(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("session %s: recovered from panic in readPump: %v", s.id, r)
		}
		close(s.done)
	}()

	s.conn.SetReadLimit(readLimitByte)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if closeErr, ok := err.(*websocket.CloseError); ok {
				switch closeErr.Code {
				case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
					return
				}
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("session %s: dropping malformed frame: %v", s.id, err)
			continue
		}

		s.handleEvent(ctx, env)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.mu.Lock()
		s.isClosed = true
		_ = s.conn.Close()
		s.mu.Unlock()
	}()

	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			s.mu.Lock()
			closed := s.isClosed
			if !closed {
				_ = s.conn.WriteMessage(websocket.TextMessage, msg)
			}
			s.mu.Unlock()
			if closed {
				return
			}
		case <-ticker.C:
			s.mu.Lock()
			closed := s.isClosed
			if !closed {
				_ = s.conn.WriteMessage(websocket.PingMessage, nil)
			}
			s.mu.Unlock()
			if closed {
				return
			}
		}
	}
}

// fanoutPump subscribes to the session's joined topics and forwards bus
// deliveries onto the outbound send channel, re-subscribing whenever
// conversation:join/leave changes the topic set.
func (s *Session) fanoutPump(ctx context.Context) {
	for {
		s.mu.Lock()
		topics := append([]string(nil), s.joinedTopics...)
		s.mu.Unlock()

		sub, err := s.manager.bus.Subscribe(ctx, topics...)
		if err != nil {
			log.Printf("session %s: subscribe failed: %v", s.id, err)
			return
		}

		restart := s.pumpSubscription(sub)
		sub.Close()
		if !restart {
			return
		}
	}
}

// pumpSubscription forwards one subscription's deliveries until the
// session closes or the topic set changes, returning true in the latter
// case so fanoutPump re-subscribes with the updated topics.
func (s *Session) pumpSubscription(sub bus.Subscription) bool {
	for {
		select {
		case <-s.done:
			return false
		case <-s.topicsChanged:
			return true
		case msg, ok := <-sub.Channel():
			if !ok {
				return false
			}
			if s.shouldSuppress(msg.Payload) {
				continue
			}
			select {
			case s.send <- msg.Payload:
			default:
			}
		}
	}
}

// shouldSuppress drops typing:update and messages:read deliveries that
// originated from this session's own user (from any of that user's
// sessions, since the payload carries only a userId), per spec.md §4.7's "excluding the
// sender" requirement. The bus has no per-subscriber publish exclusion,
// so filtering happens here on receive instead.
func (s *Session) shouldSuppress(payload []byte) bool {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false
	}
	if env.Type != "typing:update" && env.Type != "messages:read" {
		return false
	}
	var ref struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(env.Data, &ref); err != nil {
		return false
	}
	return ref.UserID == s.userID
}

func (s *Session) close(ctx context.Context) {
	s.setState(StateClosing)

	for _, topic := range s.joinedTopics {
		s.manager.trackRoomLeave(topic)
	}

	if s.userID != "" {
		_ = s.manager.presence.SetOffline(ctx, s.userID, s.tenantID)
		if online, _ := s.manager.presence.IsOnline(ctx, s.userID); !online {
			_ = s.manager.publishPresence(ctx, s.userID, s.tenantID, false)
		}
	}

	s.mu.Lock()
	s.isClosed = true
	s.mu.Unlock()
	close(s.send)
	_ = s.conn.Close()

	s.setState(StateClosed)
}
