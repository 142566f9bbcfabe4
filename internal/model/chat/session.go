package chat

import "time"

// State is the lifecycle stage of a session.
type State string

const (
	StateNew     State = "new"
	StateActive  State = "active"
	StateClosed  State = "closed"
	StateExpired State = "expired"
)

// Session captures a conversation between a user and one persona about one
// product.
type Session struct {
	ID                 string    `json:"session_id"`
	PersonaID          string    `json:"pid"`
	ProductDescription string    `json:"product_description,omitempty"`
	State              State     `json:"state"`
	History            []Message `json:"history"`
	CreatedAt          time.Time `json:"created_at"`
	LastActiveAt       time.Time `json:"last_active_at"`
}
