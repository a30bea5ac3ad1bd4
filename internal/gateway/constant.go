package gateway

import "time"

// WebSocket protocol constants
const (
	// Request identifiers
	WSEnterConversation = 1001 // Enter a conversation and start receiving views
	WSExitConversation  = 1002 // Leave a conversation
	WSSendMsg           = 1003 // Send message
	WSGetConversation   = 1004 // Conversation label and counterpart

	// Push identifiers
	WSPushView      = 2001 // Conversation view (state + ordered messages)
	WSKickOnlineMsg = 2002 // Kick user offline
	WSPushAlert     = 2003 // User-facing error
	WSDataError     = 3001 // Data error
)

// OnlineTTL is how long a user stays online in Redis without a refresh
const OnlineTTL = 60 * time.Second

// Query parameter keys
const (
	QueryToken       = "token"
	QuerySendId      = "send_id"
	QueryOperationId = "operation_id"
	QuerySDKType     = "sdk_type"
)

// SDK types
const (
	SDKTypeGo      = "go"
	SDKTypeJS      = "js"
	SDKTypeAndroid = "android"
)
