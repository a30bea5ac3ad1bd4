package gateway

import (
	"encoding/json"

	"github.com/oportunyfam/chatsync/internal/entity"
)

// WSRequest represents a WebSocket request message
type WSRequest struct {
	ReqIdentifier int32           `json:"req_identifier"` // Request type
	MsgIncr       string          `json:"msg_incr"`       // Client message counter/trace Id
	OperationId   string          `json:"operation_id"`   // Operation Id
	SendId        int64           `json:"send_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"` // Business data
}

// WSResponse represents a WebSocket response or push message
type WSResponse struct {
	ReqIdentifier int32           `json:"req_identifier"` // Request type (echo back)
	MsgIncr       string          `json:"msg_incr"`       // Message counter (echo back)
	OperationId   string          `json:"operation_id"`   // Operation Id (echo back)
	ErrCode       int             `json:"err_code"`       // Error code, 0 = success
	ErrMsg        string          `json:"err_msg"`        // Error message
	Data          json.RawMessage `json:"data,omitempty"` // Response data
}

// ConversationReq is the data of enter, exit and conversation info requests
type ConversationReq struct {
	ConversationId int64 `json:"conversation_id"`
}

// SendMsgReq represents send message request data
type SendMsgReq struct {
	ConversationId int64  `json:"conversation_id"`
	Body           string `json:"body"`
}

// SendMsgResp represents send message response data
type SendMsgResp struct {
	Message *entity.Message `json:"message"`
}

// AlertData is pushed when an action failed and the user should be told
type AlertData struct {
	ConversationId int64  `json:"conversation_id"`
	ErrCode        int    `json:"err_code"`
	ErrMsg         string `json:"err_msg"`
}

// Encode encodes data to JSON bytes
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode decodes JSON bytes to struct
func Decode(data []byte, v any) error {
	if len(data) == 0 {
		return ErrInvalidProtocol
	}
	return json.Unmarshal(data, v)
}
