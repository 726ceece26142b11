package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/averlon/go-convo-backend/internal/buffer"
	"github.com/averlon/go-convo-backend/internal/delivery"
	"github.com/averlon/go-convo-backend/internal/queue"
)

// Buffer is the burst-accumulation surface the scheduler needs.
// *buffer.Store satisfies it.
type Buffer interface {
	Append(ctx context.Context, tenantID, conversationID, content, userRef string) (buffer.AppendResult, error)
}

// Queue accepts dispatch tickets with deferred visibility. *queue.RedisQueue
// satisfies it.
type Queue interface {
	Schedule(ctx context.Context, t queue.Ticket, delay time.Duration) error
}

// Pusher fans interim notices out to whichever front-end owns the live
// connection. *delivery.Publisher satisfies it.
type Pusher interface {
	Publish(ctx context.Context, tenantID, conversationID string, p delivery.Payload) (bool, error)
}

// Accepted reports the buffer state after an inbound message was taken in.
type Accepted struct {
	ConversationID string    `json:"conversation_id"`
	ProcessAt      time.Time `json:"process_at"`
	MessageCount   int       `json:"message_count"`
}

// Scheduler coalesces inbound messages into bursts. Appending to the buffer
// tells it whether the message opened a new burst; only then does it submit
// a single delayed ticket. Messages 2..N ride along for free: the ticket
// re-reads the buffer at execution time.
type Scheduler struct {
	Buffer Buffer
	Queue  Queue
	Pusher Pusher

	Log zerolog.Logger

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewScheduler wires the debounce scheduler.
func NewScheduler(b Buffer, q Queue, p Pusher, log zerolog.Logger) *Scheduler {
	return &Scheduler{Buffer: b, Queue: q, Pusher: p, Log: log, now: time.Now}
}

// OnUserMessage buffers one inbound message and, when it opened a new burst,
// schedules exactly one processing job delayed until the debounce deadline.
//
// Two near-simultaneous first messages on different processes can both
// observe a fresh burst and each schedule a ticket. That duplicate is
// accepted: the second execution finds the buffer already cleared and
// becomes a no-op, which is cheaper than a distributed lock per conversation.
func (s *Scheduler) OnUserMessage(ctx context.Context, tenantID, conversationID, text, userRef string) (Accepted, error) {
	res, err := s.Buffer.Append(ctx, tenantID, conversationID, text, userRef)
	if err != nil {
		return Accepted{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if res.IsFirst {
		// Interim notice: the client sees activity while the burst settles.
		s.push(ctx, tenantID, conversationID, delivery.Typing(conversationID))
	}
	// Echo every inbound message straight back to the connection.
	s.push(ctx, tenantID, conversationID, delivery.UserEcho(conversationID, text))

	if res.IsFirst {
		delay := res.ProcessAt.Sub(s.now())
		if delay < 0 {
			delay = 0
		}
		ticket := queue.NewTicket(tenantID, conversationID)
		if err := s.Queue.Schedule(ctx, ticket, delay); err != nil {
			return Accepted{}, fmt.Errorf("%w: %v", ErrDispatchFailure, err)
		}
		s.Log.Info().
			Str("tenant_id", tenantID).
			Str("conversation_id", conversationID).
			Str("ticket_id", ticket.ID).
			Dur("delay", delay).
			Msg("burst opened, processing scheduled")
	}

	return Accepted{
		ConversationID: conversationID,
		ProcessAt:      res.ProcessAt,
		MessageCount:   res.Count,
	}, nil
}

// push is best effort: a conversation without a live connection is normal
// (REST-only clients poll the transcript instead).
func (s *Scheduler) push(ctx context.Context, tenantID, conversationID string, p delivery.Payload) {
	if _, err := s.Pusher.Publish(ctx, tenantID, conversationID, p); err != nil {
		s.Log.Warn().Err(err).
			Str("conversation_id", conversationID).
			Str("payload_type", string(p.Type)).
			Msg("interim push failed")
	}
}
