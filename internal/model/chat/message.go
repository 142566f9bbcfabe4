package chat

import "time"

// Sender identifies who produced a turn.
type Sender string

const (
	SenderUser    Sender = "user"
	SenderPersona Sender = "persona"
)

// Message is one turn in a session history.
type Message struct {
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
