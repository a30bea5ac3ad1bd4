package entity

import "github.com/oportunyfam/chatsync/pkg/constant"

// SyncStatus is the lifecycle step of one conversation inside a coordinator
type SyncStatus int

const (
	SyncIdle SyncStatus = iota
	SyncLoading
	SyncLive
	SyncFailed
)

// String returns the wire name of the status
func (s SyncStatus) String() string {
	switch s {
	case SyncLoading:
		return constant.SyncStateLoading
	case SyncLive:
		return constant.SyncStateLive
	case SyncFailed:
		return constant.SyncStateFailed
	default:
		return constant.SyncStateIdle
	}
}

// SyncState is the per-conversation state held by a coordinator.
// Reason is set only when Status is SyncFailed.
type SyncState struct {
	Status SyncStatus
	Reason error
}

// ConversationView is what the presentation surface renders for one conversation
type ConversationView struct {
	ConversationId int64      `json:"conversation_id"`
	State          string     `json:"state"`
	Degraded       bool       `json:"degraded,omitempty"` // live updates unavailable, showing the seeded snapshot
	Reason         string     `json:"reason,omitempty"`
	Messages       []*Message `json:"messages"`
}
