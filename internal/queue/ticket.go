// Package queue implements the durable dispatch queue that triggers burst
// processing after the debounce window elapses. Tickets are tiny references
// (tenant + conversation, never message content): the worker re-reads the
// buffer at execution time, so the newest messages are always included even
// when they arrived after the ticket was enqueued.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Ticket is the unit of work enqueued by the debounce scheduler. At-least-
// once delivery applies: the burst processor must tolerate duplicates.
type Ticket struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	ConversationID string    `json:"conversation_id"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// NewTicket mints a ticket for one burst of the given conversation.
func NewTicket(tenantID, conversationID string) Ticket {
	return Ticket{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		EnqueuedAt:     time.Now().UTC(),
	}
}

func (t Ticket) encode() (string, error) {
	raw, err := json.Marshal(t)
	return string(raw), err
}

func decodeTicket(raw string) (Ticket, error) {
	var t Ticket
	err := json.Unmarshal([]byte(raw), &t)
	return t, err
}
