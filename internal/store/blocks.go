package store

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/relaymesh/chatcore/internal/store/dynamo"
	"github.com/relaymesh/chatcore/internal/store/model"
)

func (g *Gateway) CreateBlock(ctx context.Context, block model.BlockedUserItem) error {
	block.PK = model.BlockedUserPK(block.UserID, block.BlockedUserID)
	return g.client.PutItem(ctx, model.BlockedUsersTable, block)
}

func (g *Gateway) DeleteBlock(ctx context.Context, userID, blockedUserID string) error {
	return g.client.DeleteItem(ctx, model.BlockedUsersTable,
		map[string]types.AttributeValue{"pk": dynamo.AttrString(model.BlockedUserPK(userID, blockedUserID))})
}

func (g *Gateway) ListBlockedByUser(ctx context.Context, userID string) ([]model.BlockedUserItem, error) {
	items, err := g.client.QueryAll(ctx, model.BlockedUsersTable, strPtr("byUser"),
		"userId = :userId",
		map[string]types.AttributeValue{":userId": dynamo.AttrString(userID)})
	if err != nil && !dynamo.IsIndexNotFound(err) {
		return nil, err
	}
	out := make([]model.BlockedUserItem, 0, len(items))
	for _, item := range items {
		var b model.BlockedUserItem
		if err := unmarshalItem(item, &b); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// IsBlockedEitherDirection reports whether a has blocked b or b has
// blocked a, the symmetric check spec.md §4.5's block-check step needs.
func (g *Gateway) IsBlockedEitherDirection(ctx context.Context, a, b string) (bool, error) {
	var blockAtoB model.BlockedUserItem
	err := g.client.GetItem(ctx, model.BlockedUsersTable,
		map[string]types.AttributeValue{"pk": dynamo.AttrString(model.BlockedUserPK(a, b))}, &blockAtoB)
	if err == nil {
		return true, nil
	}
	if !dynamo.IsNotFound(err) {
		return false, err
	}

	var blockBtoA model.BlockedUserItem
	err = g.client.GetItem(ctx, model.BlockedUsersTable,
		map[string]types.AttributeValue{"pk": dynamo.AttrString(model.BlockedUserPK(b, a))}, &blockBtoA)
	if err == nil {
		return true, nil
	}
	if !dynamo.IsNotFound(err) {
		return false, err
	}
	return false, nil
}
