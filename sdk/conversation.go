package sdk

import (
	"context"
	"fmt"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/pkg/constant"
)

// GetConversation gets a conversation with its counterpart account.
// Institutions with a malformed CNPJ are rejected.
func (c *Client) GetConversation(ctx context.Context, conversationId int64) (*entity.Conversation, error) {
	var result entity.Conversation
	if err := c.get(ctx, fmt.Sprintf(constant.APIPathConversation, conversationId), &result); err != nil {
		return nil, err
	}
	if result.Counterpart != nil {
		if err := result.Counterpart.Validate(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}
