package sdk

import (
	"context"
	"fmt"

	"github.com/oportunyfam/chatsync/internal/entity"
	"github.com/oportunyfam/chatsync/pkg/constant"
)

// ListMessages lists the messages of a conversation in the order the API returns them
func (c *Client) ListMessages(ctx context.Context, conversationId int64) ([]*entity.Message, error) {
	var result []*entity.Message
	if err := c.get(ctx, fmt.Sprintf(constant.APIPathConversationMessages, conversationId), &result); err != nil {
		return nil, err
	}
	if result == nil {
		result = []*entity.Message{}
	}
	return result, nil
}

// CreateMessage creates a message; the API assigns id and createdAt.
// Blank bodies are rejected by callers before reaching here.
func (c *Client) CreateMessage(ctx context.Context, conversationId, senderId int64, body string) (*entity.Message, error) {
	req := &entity.CreateMessageRequest{
		ConversationId: conversationId,
		SenderId:       senderId,
		Body:           body,
	}

	var result entity.Message
	if err := c.post(ctx, constant.APIPathMessages, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
