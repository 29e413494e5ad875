package store

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/relaymesh/chatcore/internal/store/dynamo"
	"github.com/relaymesh/chatcore/internal/store/model"
)

func (g *Gateway) CreateContactRequest(ctx context.Context, req model.ContactRequestItem) error {
	return g.client.PutItem(ctx, model.ContactRequestsTable, req)
}

func (g *Gateway) GetContactRequest(ctx context.Context, requestID string) (model.ContactRequestItem, bool, error) {
	var req model.ContactRequestItem
	err := g.client.GetItem(ctx, model.ContactRequestsTable,
		map[string]types.AttributeValue{"requestId": dynamo.AttrString(requestID)}, &req)
	if err != nil {
		if dynamo.IsNotFound(err) {
			return model.ContactRequestItem{}, false, nil
		}
		return model.ContactRequestItem{}, false, err
	}
	return req, true, nil
}

func (g *Gateway) UpdateContactRequestStatus(ctx context.Context, requestID string, status model.ContactRequestStatus, respondedAt string) error {
	return g.client.UpdateItem(ctx, model.ContactRequestsTable,
		map[string]types.AttributeValue{"requestId": dynamo.AttrString(requestID)},
		"SET #status = :status, #respondedAt = :respondedAt",
		map[string]types.AttributeValue{
			":status":      dynamo.AttrString(string(status)),
			":respondedAt": dynamo.AttrString(respondedAt),
		},
		map[string]string{"#status": "status", "#respondedAt": "respondedAt"},
	)
}

// PendingRequestBetween finds an unexpired PENDING request from
// fromUserID to toUserID, expiring it in place (status -> EXPIRED) if its
// expiresAt has passed, per spec.md §4.5's expire-on-read semantics.
func (g *Gateway) PendingRequestBetween(ctx context.Context, fromUserID, toUserID string, now time.Time) (model.ContactRequestItem, bool, error) {
	sent, err := g.ListSentContactRequests(ctx, fromUserID)
	if err != nil {
		return model.ContactRequestItem{}, false, err
	}

	nowStr := now.UTC().Format(time.RFC3339Nano)
	for _, req := range sent {
		if req.ToUserID != toUserID || req.Status != model.ContactPending {
			continue
		}
		if req.ExpiresAt != "" && req.ExpiresAt < nowStr {
			_ = g.UpdateContactRequestStatus(ctx, req.RequestID, model.ContactExpired, nowStr)
			continue
		}
		return req, true, nil
	}
	return model.ContactRequestItem{}, false, nil
}

// HasAcceptedContactBetween reports whether either party has an ACCEPTED
// contact request with the other, satisfying the "accepted contact
// request" permission step in spec.md §4.5.
func (g *Gateway) HasAcceptedContactBetween(ctx context.Context, a, b string) (bool, error) {
	sentByA, err := g.ListSentContactRequests(ctx, a)
	if err != nil {
		return false, err
	}
	for _, req := range sentByA {
		if req.ToUserID == b && req.Status == model.ContactAccepted {
			return true, nil
		}
	}

	sentByB, err := g.ListSentContactRequests(ctx, b)
	if err != nil {
		return false, err
	}
	for _, req := range sentByB {
		if req.ToUserID == a && req.Status == model.ContactAccepted {
			return true, nil
		}
	}
	return false, nil
}

func (g *Gateway) ListSentContactRequests(ctx context.Context, fromUserID string) ([]model.ContactRequestItem, error) {
	items, err := g.client.QueryAll(ctx, model.ContactRequestsTable, strPtr("byFromUser"),
		"fromUserId = :fromUserId",
		map[string]types.AttributeValue{":fromUserId": dynamo.AttrString(fromUserID)})
	if err != nil && !dynamo.IsIndexNotFound(err) {
		return nil, err
	}
	return unmarshalContactRequests(items)
}

func (g *Gateway) ListReceivedContactRequests(ctx context.Context, toUserID string) ([]model.ContactRequestItem, error) {
	items, err := g.client.QueryAll(ctx, model.ContactRequestsTable, strPtr("byToUser"),
		"toUserId = :toUserId",
		map[string]types.AttributeValue{":toUserId": dynamo.AttrString(toUserID)})
	if err != nil && !dynamo.IsIndexNotFound(err) {
		return nil, err
	}
	return unmarshalContactRequests(items)
}

func unmarshalContactRequests(items []map[string]types.AttributeValue) ([]model.ContactRequestItem, error) {
	out := make([]model.ContactRequestItem, 0, len(items))
	for _, item := range items {
		var req model.ContactRequestItem
		if err := unmarshalItem(item, &req); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
