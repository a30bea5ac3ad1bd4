package entity

// Conversation represents a conversation as returned by the OportunyFam API.
// It only labels the chat screen; no invariants are enforced on it.
type Conversation struct {
	Id          int64    `json:"id"`
	Name        string   `json:"name"`
	Counterpart *Account `json:"counterpart"`
}
