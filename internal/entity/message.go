package entity

import (
	"sort"
	"time"
)

// Message represents a chat message as stored by the OportunyFam API
type Message struct {
	Id             int64      `json:"id"`
	ConversationId int64      `json:"conversationId"`
	SenderId       int64      `json:"senderId"`
	Body           string     `json:"body"`
	Seen           bool       `json:"seen"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      *time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the message
func (m *Message) Clone() *Message {
	c := *m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}

// Equal reports whether both messages carry the same content
func (m *Message) Equal(o *Message) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Id != o.Id || m.ConversationId != o.ConversationId || m.SenderId != o.SenderId ||
		m.Body != o.Body || m.Seen != o.Seen || !m.CreatedAt.Equal(o.CreatedAt) {
		return false
	}
	if m.UpdatedAt == nil || o.UpdatedAt == nil {
		return m.UpdatedAt == o.UpdatedAt
	}
	return m.UpdatedAt.Equal(*o.UpdatedAt)
}

// MessageLess orders by creation time, then by id
func MessageLess(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Id < b.Id
}

// SortMessages sorts messages in place in rendering order (createdAt asc, id asc)
func SortMessages(msgs []*Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return MessageLess(msgs[i], msgs[j])
	})
}

// SortedCopy returns a sorted deep copy, leaving the input untouched
func SortedCopy(msgs []*Message) []*Message {
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Clone())
	}
	SortMessages(out)
	return out
}

// CreateMessageRequest is the body of the create message call
type CreateMessageRequest struct {
	ConversationId int64  `json:"conversationId"`
	SenderId       int64  `json:"senderId"`
	Body           string `json:"body"`
}
