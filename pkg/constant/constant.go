package constant

// Sync states as sent to clients
const (
	SyncStateIdle    = "idle"
	SyncStateLoading = "loading"
	SyncStateLive    = "live"
	SyncStateFailed  = "failed"
)

// Account type discriminants (field "tipo" in API payloads)
const (
	AccountTypeUser        = "usuario"
	AccountTypeInstitution = "instituicao"
)

// Realtime drivers
const (
	RealtimeDriverRedis  = "redis"
	RealtimeDriverMemory = "memory"
)

// REST API paths of the OportunyFam backend
const (
	APIPathMessages             = "/api/messages"
	APIPathConversationMessages = "/api/messages/conversation/%d" // {conversation_id}
	APIPathConversation         = "/api/conversations/%d"         // {conversation_id}
)

// Redis key patterns (without prefix, use RedisKey() to get full key)
const (
	redisKeyOnline            = "online:%d"         // online:{user_id}
	redisKeyRealtimeConv      = "rt:conv:%d"        // rt:conv:{conversation_id}
	redisKeyRealtimeConvEvent = "rt:conv:%d:events" // rt:conv:{conversation_id}:events
)

// redisKeyPrefix is the global prefix for all Redis keys
var redisKeyPrefix = "oportunyfam:"

// InitRedisKeyPrefix initializes the Redis key prefix from config
func InitRedisKeyPrefix(prefix string) {
	if prefix != "" {
		redisKeyPrefix = prefix
	}
}

// GetRedisKeyPrefix returns the current Redis key prefix
func GetRedisKeyPrefix() string {
	return redisKeyPrefix
}

// Redis key getters with prefix
func RedisKeyOnline() string            { return redisKeyPrefix + redisKeyOnline }
func RedisKeyRealtimeConv() string      { return redisKeyPrefix + redisKeyRealtimeConv }
func RedisKeyRealtimeConvEvent() string { return redisKeyPrefix + redisKeyRealtimeConvEvent }
