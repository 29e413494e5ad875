// Package store is the typed façade over the durable store (C2). All
// queries implied by spec.md §4.2 and §4.5/§4.6 live here; nothing above
// this package talks to DynamoDB directly, mirroring the teacher's
// internal/service/conversation/repository.go split between Service and
// Repository.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/relaymesh/chatcore/internal/store/dynamo"
	"github.com/relaymesh/chatcore/internal/store/model"
)

// ErrNotFound is returned by single-item lookups when the entity is absent.
var ErrNotFound = errors.New("store: not found")

// DirectPairsTable indexes DIRECT conversations by their canonical
// participant pair so creation can be probed and raced safely, per
// spec.md §9's "find or create within transaction" primitive.
const DirectPairsTable = "DirectConversationPairs"

type directPairItem struct {
	PairKey        string `dynamodbav:"pairKey"`
	ConversationID string `dynamodbav:"conversationId"`
}

type Gateway struct {
	client *dynamo.Client
	now    func() time.Time
}

func New(client *dynamo.Client) *Gateway {
	return &Gateway{client: client, now: time.Now}
}

func NewWithClock(client *dynamo.Client, now func() time.Time) *Gateway {
	if now == nil {
		now = time.Now
	}
	return &Gateway{client: client, now: now}
}

func nowStamp(now func() time.Time) string {
	return now().UTC().Format(time.RFC3339Nano)
}

func directPairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "#" + b
}

// --- Conversations ---------------------------------------------------

func (g *Gateway) GetConversation(ctx context.Context, conversationID string) (model.ConversationItem, error) {
	var conv model.ConversationItem
	err := g.client.GetItem(ctx, model.ConversationsTable,
		map[string]types.AttributeValue{"conversationId": dynamo.AttrString(conversationID)}, &conv)
	if err != nil {
		if dynamo.IsNotFound(err) {
			return model.ConversationItem{}, ErrNotFound
		}
		return model.ConversationItem{}, err
	}
	return conv, nil
}

// FindDirectConversation returns the unique DIRECT conversation whose
// participant set equals {a, b}, if one exists.
func (g *Gateway) FindDirectConversation(ctx context.Context, a, b string) (model.ConversationItem, bool, error) {
	var pair directPairItem
	err := g.client.GetItem(ctx, DirectPairsTable,
		map[string]types.AttributeValue{"pairKey": dynamo.AttrString(directPairKey(a, b))}, &pair)
	if err != nil {
		if dynamo.IsNotFound(err) {
			return model.ConversationItem{}, false, nil
		}
		return model.ConversationItem{}, false, err
	}

	conv, err := g.GetConversation(ctx, pair.ConversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.ConversationItem{}, false, nil
		}
		return model.ConversationItem{}, false, err
	}
	return conv, true, nil
}

// CreateDirectConversation atomically reserves the participant pair and
// creates the conversation; it writes no participant rows, which the
// caller adds when the conversation was newly created. If a concurrent
// caller already won the race, it reads and returns that winner instead
// of surfacing a conflict, per spec.md §5/§9.
func (g *Gateway) CreateDirectConversation(ctx context.Context, a, b string, build func() model.ConversationItem) (model.ConversationItem, bool, error) {
	pairKey := directPairKey(a, b)
	conv := build()

	err := g.client.PutItemIfNotExists(ctx, DirectPairsTable, directPairItem{
		PairKey:        pairKey,
		ConversationID: conv.ConversationID,
	}, "pairKey")

	if err != nil {
		if dynamo.IsConditionFailed(err) {
			existing, found, getErr := g.FindDirectConversation(ctx, a, b)
			if getErr != nil {
				return model.ConversationItem{}, false, getErr
			}
			if found {
				return existing, false, nil
			}
			return model.ConversationItem{}, false, fmt.Errorf("store: direct pair reserved but conversation missing")
		}
		return model.ConversationItem{}, false, err
	}

	if err := g.client.PutItem(ctx, model.ConversationsTable, conv); err != nil {
		return model.ConversationItem{}, false, err
	}
	return conv, true, nil
}

func (g *Gateway) CreateConversation(ctx context.Context, conv model.ConversationItem) error {
	return g.client.PutItem(ctx, model.ConversationsTable, conv)
}

func (g *Gateway) TouchConversation(ctx context.Context, conversationID, updatedAt string) error {
	return g.client.UpdateItem(ctx, model.ConversationsTable,
		map[string]types.AttributeValue{"conversationId": dynamo.AttrString(conversationID)},
		"SET #updatedAt = :updatedAt",
		map[string]types.AttributeValue{":updatedAt": dynamo.AttrString(updatedAt)},
		map[string]string{"#updatedAt": "updatedAt"},
	)
}

// ConversationsForUser lists the conversations a user participates in,
// newest updatedAt first, with limit+1 has-more semantics per spec.md §4.2.
func (g *Gateway) ConversationsForUser(ctx context.Context, userID string, limit int, cursor string) ([]model.ConversationItem, bool, error) {
	participants, err := g.listParticipantRowsForUser(ctx, userID)
	if err != nil {
		return nil, false, err
	}

	conversations := make([]model.ConversationItem, 0, len(participants))
	for _, p := range participants {
		conv, err := g.GetConversation(ctx, p.ConversationID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, false, err
		}
		if cursor != "" && conv.UpdatedAt >= cursor {
			continue
		}
		conversations = append(conversations, conv)
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].UpdatedAt > conversations[j].UpdatedAt
	})

	hasMore := len(conversations) > limit
	if hasMore {
		conversations = conversations[:limit]
	}
	return conversations, hasMore, nil
}

// --- Participants ------------------------------------------------------

func (g *Gateway) AddParticipant(ctx context.Context, p model.ParticipantItem) error {
	p.PK = model.ParticipantPK(p.ConversationID, p.UserID)
	return g.client.PutItem(ctx, model.ParticipantsTable, p)
}

func (g *Gateway) GetParticipant(ctx context.Context, conversationID, userID string) (model.ParticipantItem, bool, error) {
	var p model.ParticipantItem
	err := g.client.GetItem(ctx, model.ParticipantsTable,
		map[string]types.AttributeValue{"pk": dynamo.AttrString(model.ParticipantPK(conversationID, userID))}, &p)
	if err != nil {
		if dynamo.IsNotFound(err) {
			return model.ParticipantItem{}, false, nil
		}
		return model.ParticipantItem{}, false, err
	}
	return p, true, nil
}

func (g *Gateway) ListParticipants(ctx context.Context, conversationID string) ([]model.ParticipantItem, error) {
	items, err := g.client.QueryAll(ctx, model.ParticipantsTable, strPtr("byConversation"),
		"conversationId = :conversationId",
		map[string]types.AttributeValue{":conversationId": dynamo.AttrString(conversationID)})
	if err != nil && !dynamo.IsIndexNotFound(err) {
		return nil, err
	}
	return unmarshalParticipants(items)
}

func (g *Gateway) listParticipantRowsForUser(ctx context.Context, userID string) ([]model.ParticipantItem, error) {
	items, err := g.client.QueryAll(ctx, model.ParticipantsTable, strPtr("byUser"),
		"userId = :userId",
		map[string]types.AttributeValue{":userId": dynamo.AttrString(userID)})
	if err != nil && !dynamo.IsIndexNotFound(err) {
		return nil, err
	}
	return unmarshalParticipants(items)
}

func (g *Gateway) ParticipantsForUser(ctx context.Context, userID string) ([]model.ParticipantItem, error) {
	return g.listParticipantRowsForUser(ctx, userID)
}

func (g *Gateway) MarkParticipantRead(ctx context.Context, conversationID, userID, lastReadAt string) error {
	return g.client.UpdateItem(ctx, model.ParticipantsTable,
		map[string]types.AttributeValue{"pk": dynamo.AttrString(model.ParticipantPK(conversationID, userID))},
		"SET #lastReadAt = :lastReadAt",
		map[string]types.AttributeValue{":lastReadAt": dynamo.AttrString(lastReadAt)},
		map[string]string{"#lastReadAt": "lastReadAt"},
	)
}

// --- Messages ------------------------------------------------------

func (g *Gateway) CreateMessage(ctx context.Context, msg model.MessageItem) error {
	return g.client.PutItem(ctx, model.MessagesTable, msg)
}

func (g *Gateway) GetMessage(ctx context.Context, conversationID, messageID string) (model.MessageItem, bool, error) {
	var msg model.MessageItem
	err := g.client.GetItem(ctx, model.MessagesTable,
		map[string]types.AttributeValue{"messageId": dynamo.AttrString(messageID)}, &msg)
	if err != nil {
		if dynamo.IsNotFound(err) {
			return model.MessageItem{}, false, nil
		}
		return model.MessageItem{}, false, err
	}
	if msg.ConversationID != conversationID {
		return model.MessageItem{}, false, nil
	}
	return msg, true, nil
}

// MessagesIn lists messages newest-first, excluding tombstones, per
// spec.md §4.2.
func (g *Gateway) MessagesIn(ctx context.Context, conversationID string, limit int, cursor string) ([]model.MessageItem, bool, error) {
	items, err := g.client.QueryAll(ctx, model.MessagesTable, strPtr("byConversation"),
		"conversationId = :conversationId",
		map[string]types.AttributeValue{":conversationId": dynamo.AttrString(conversationID)})
	if err != nil && !dynamo.IsIndexNotFound(err) {
		return nil, false, err
	}

	messages, err := unmarshalMessages(items)
	if err != nil {
		return nil, false, err
	}

	filtered := messages[:0:0]
	for _, m := range messages {
		if m.DeletedAt != "" {
			continue
		}
		if cursor != "" && m.CreatedAt >= cursor {
			continue
		}
		filtered = append(filtered, m)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt > filtered[j].CreatedAt
	})

	hasMore := len(filtered) > limit
	if hasMore {
		filtered = filtered[:limit]
	}
	return filtered, hasMore, nil
}

// CountUnread counts messages authored by someone other than userID,
// not soft-deleted, strictly after sinceReadAt (or all such when
// sinceReadAt is empty), per spec.md §4.2/P2.
func (g *Gateway) CountUnread(ctx context.Context, conversationID, userID, sinceReadAt string) (int, error) {
	items, err := g.client.QueryAll(ctx, model.MessagesTable, strPtr("byConversation"),
		"conversationId = :conversationId",
		map[string]types.AttributeValue{":conversationId": dynamo.AttrString(conversationID)})
	if err != nil && !dynamo.IsIndexNotFound(err) {
		return 0, err
	}

	messages, err := unmarshalMessages(items)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, m := range messages {
		if m.DeletedAt != "" || m.SenderID == userID {
			continue
		}
		if sinceReadAt != "" && m.CreatedAt <= sinceReadAt {
			continue
		}
		count++
	}
	return count, nil
}

// CountMessagesSentToday counts messages sent by fromUserID in the given
// DIRECT conversation since windowStart, backing the per-rule
// maxMessagesPerDay check in spec.md §4.5.
func (g *Gateway) CountMessagesSentToday(ctx context.Context, conversationID, fromUserID string, windowStart time.Time) (int, error) {
	items, err := g.client.QueryAll(ctx, model.MessagesTable, strPtr("byConversation"),
		"conversationId = :conversationId",
		map[string]types.AttributeValue{":conversationId": dynamo.AttrString(conversationID)})
	if err != nil && !dynamo.IsIndexNotFound(err) {
		return 0, err
	}

	messages, err := unmarshalMessages(items)
	if err != nil {
		return 0, err
	}

	windowStartStr := windowStart.UTC().Format(time.RFC3339Nano)
	count := 0
	for _, m := range messages {
		if m.SenderID != fromUserID || m.DeletedAt != "" {
			continue
		}
		if m.CreatedAt >= windowStartStr {
			count++
		}
	}
	return count, nil
}

// --- User cache ------------------------------------------------------

func (g *Gateway) GetUserCache(ctx context.Context, userID string) (model.UserCacheItem, bool, error) {
	var user model.UserCacheItem
	err := g.client.GetItem(ctx, model.UsersTable,
		map[string]types.AttributeValue{"userId": dynamo.AttrString(userID)}, &user)
	if err != nil {
		if dynamo.IsNotFound(err) {
			return model.UserCacheItem{}, false, nil
		}
		return model.UserCacheItem{}, false, err
	}
	return user, true, nil
}

func (g *Gateway) PutUserCache(ctx context.Context, user model.UserCacheItem) error {
	return g.client.PutItem(ctx, model.UsersTable, user)
}

// --- helpers ------------------------------------------------------

func strPtr(s string) *string { return &s }

func unmarshalItem(item map[string]types.AttributeValue, out interface{}) error {
	return attributevalue.UnmarshalMap(item, out)
}

func unmarshalParticipants(items []map[string]types.AttributeValue) ([]model.ParticipantItem, error) {
	out := make([]model.ParticipantItem, 0, len(items))
	for _, item := range items {
		var p model.ParticipantItem
		if err := unmarshalItem(item, &p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func unmarshalMessages(items []map[string]types.AttributeValue) ([]model.MessageItem, error) {
	out := make([]model.MessageItem, 0, len(items))
	for _, item := range items {
		var m model.MessageItem
		if err := unmarshalItem(item, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func NewID() string {
	return uuid.NewString()
}

func (g *Gateway) Now() time.Time {
	return g.now()
}

// Ping probes the underlying durable store, backing the /health/detailed
// and /ready dependency checks.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.client.Ping(ctx)
}
