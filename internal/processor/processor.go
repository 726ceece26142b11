// Package processor executes scheduled burst tickets: it drains the
// conversation's buffer, persists the coalesced exchange, generates one
// assistant reply, and pushes the result toward the live connection.
//
// Processing is idempotent by construction. The ticket carries no message
// content, only the conversation address; the buffer is re-read at execution
// time, so a duplicate or stale ticket finds an empty buffer and becomes a
// no-op. On any failure the buffer is cleared before the error propagates,
// so a conversation can never get stuck waiting on a burst that will not
// complete.
package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averlon/go-convo-backend/internal/buffer"
	"github.com/averlon/go-convo-backend/internal/delivery"
	"github.com/averlon/go-convo-backend/internal/domain"
	"github.com/averlon/go-convo-backend/internal/queue"
	"github.com/averlon/go-convo-backend/internal/respond"
)

// failureNotice is pushed to the connection when burst processing fails.
const failureNotice = "Sorry, something went wrong while generating a reply. Please try again."

// Bursts is the buffer surface the processor needs. *buffer.Store satisfies it.
type Bursts interface {
	Read(ctx context.Context, tenantID, conversationID string) []buffer.Message
	Deadline(ctx context.Context, tenantID, conversationID string) (time.Time, bool)
	Clear(ctx context.Context, tenantID, conversationID string) (bool, error)
}

// Rescheduler re-submits a ticket whose burst is not yet due. *queue.RedisQueue
// satisfies it.
type Rescheduler interface {
	Schedule(ctx context.Context, t queue.Ticket, delay time.Duration) error
}

// Transcripts persists burst outcomes. *services.TranscriptService satisfies it.
type Transcripts interface {
	RecordUserBurst(ctx context.Context, tenantID, conversationID string, msgs []buffer.Message) error
	RecordAssistantReply(ctx context.Context, tenantID, conversationID, content string) (*domain.Message, error)
	History(ctx context.Context, conversationID string) ([]domain.Message, error)
}

// Pusher fans results out to whichever front-end owns the live connection.
// *delivery.Publisher satisfies it.
type Pusher interface {
	Publish(ctx context.Context, tenantID, conversationID string, p delivery.Payload) (bool, error)
}

// Processor handles one burst ticket end to end.
type Processor struct {
	Bursts      Bursts
	Queue       Rescheduler
	Transcripts Transcripts
	Replier     respond.Replier
	Pusher      Pusher

	Log zerolog.Logger

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// New wires a Processor.
func New(b Bursts, q Rescheduler, t Transcripts, r respond.Replier, p Pusher, log zerolog.Logger) *Processor {
	return &Processor{Bursts: b, Queue: q, Transcripts: t, Replier: r, Pusher: p, Log: log, now: time.Now}
}

// Process drains and answers the burst addressed by the ticket.
func (p *Processor) Process(ctx context.Context, t queue.Ticket) error {
	tr := otel.Tracer("processor")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("tenant.id", t.TenantID),
			attribute.String("conversation.id", t.ConversationID),
		),
	)
	defer span.End()

	// Each message pushes the stored deadline forward, but the ticket was
	// scored when the burst opened. If the conversation stayed active the
	// deadline is still ahead: hand the ticket back for the remainder so the
	// whole burst coalesces into one reply.
	if deadline, ok := p.Bursts.Deadline(ctx, t.TenantID, t.ConversationID); ok {
		if remaining := deadline.Sub(p.clock()); remaining > 0 {
			if err := p.Queue.Schedule(ctx, t, remaining); err != nil {
				// The ticket gets acked either way, so a burst that cannot be
				// deferred is processed early rather than dropped.
				p.Log.Warn().Err(err).
					Str("conversation_id", t.ConversationID).
					Str("ticket_id", t.ID).
					Msg("ticket deferral failed, processing burst early")
			} else {
				burstsProcessed.WithLabelValues("deferred").Inc()
				p.Log.Debug().
					Str("conversation_id", t.ConversationID).
					Str("ticket_id", t.ID).
					Dur("remaining", remaining).
					Msg("burst still accumulating, ticket deferred")
				return nil
			}
		}
	}

	msgs := p.Bursts.Read(ctx, t.TenantID, t.ConversationID)
	if len(msgs) == 0 {
		// Already handled by another worker, or expired. Nothing to do.
		burstsProcessed.WithLabelValues("empty").Inc()
		p.Log.Debug().
			Str("conversation_id", t.ConversationID).
			Str("ticket_id", t.ID).
			Msg("burst already drained")
		return nil
	}

	combined := buffer.Combine(msgs)
	if strings.TrimSpace(combined) == "" {
		// Whitespace-only burst: drop it without calling the replier.
		burstsProcessed.WithLabelValues("empty").Inc()
		_, err := p.Bursts.Clear(ctx, t.TenantID, t.ConversationID)
		return err
	}

	// History is fetched before the burst is persisted so the prompt does not
	// appear twice in the replier's context. A read failure only degrades the
	// reply; it must not fail the burst.
	history, err := p.Transcripts.History(ctx, t.ConversationID)
	if err != nil {
		p.Log.Warn().Err(err).
			Str("conversation_id", t.ConversationID).
			Msg("history unavailable, replying without context")
		history = nil
	}

	if err := p.Transcripts.RecordUserBurst(ctx, t.TenantID, t.ConversationID, msgs); err != nil {
		return p.fail(ctx, t, fmt.Errorf("record burst: %w", err))
	}

	reply, err := p.Replier.Reply(ctx, t.TenantID, t.ConversationID, combined, history)
	if err != nil {
		return p.fail(ctx, t, fmt.Errorf("generate reply: %w", err))
	}

	if _, err := p.Transcripts.RecordAssistantReply(ctx, t.TenantID, t.ConversationID, reply); err != nil {
		return p.fail(ctx, t, fmt.Errorf("record reply: %w", err))
	}

	if _, err := p.Bursts.Clear(ctx, t.TenantID, t.ConversationID); err != nil {
		// The reply is durable; the stale buffer will expire on its own.
		p.Log.Warn().Err(err).
			Str("conversation_id", t.ConversationID).
			Msg("burst clear failed after successful reply")
	}

	if _, err := p.Pusher.Publish(ctx, t.TenantID, t.ConversationID, delivery.AssistantReply(t.ConversationID, reply)); err != nil {
		// A delivery miss is normal; the transcript already holds the reply.
		p.Log.Warn().Err(err).
			Str("conversation_id", t.ConversationID).
			Msg("reply push failed")
	}

	burstsProcessed.WithLabelValues("ok").Inc()
	messagesCoalesced.Observe(float64(len(msgs)))
	p.Log.Info().
		Str("tenant_id", t.TenantID).
		Str("conversation_id", t.ConversationID).
		Int("burst_size", len(msgs)).
		Msg("burst processed")
	return nil
}

func (p *Processor) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

// fail unsticks the conversation before surfacing the error: the buffer is
// cleared so the next inbound message starts a fresh burst, and the client is
// told the exchange failed. Cleanup runs detached from the job deadline so a
// timeout cannot leave the conversation wedged.
func (p *Processor) fail(ctx context.Context, t queue.Ticket, cause error) error {
	cleanup := context.WithoutCancel(ctx)

	if _, err := p.Bursts.Clear(cleanup, t.TenantID, t.ConversationID); err != nil {
		p.Log.Error().Err(err).
			Str("conversation_id", t.ConversationID).
			Msg("burst clear failed during failure handling")
	}
	if _, err := p.Pusher.Publish(cleanup, t.TenantID, t.ConversationID, delivery.Failure(t.ConversationID, failureNotice)); err != nil {
		p.Log.Warn().Err(err).
			Str("conversation_id", t.ConversationID).
			Msg("failure notice push failed")
	}

	burstsProcessed.WithLabelValues("error").Inc()
	p.Log.Error().Err(cause).
		Str("tenant_id", t.TenantID).
		Str("conversation_id", t.ConversationID).
		Str("ticket_id", t.ID).
		Msg("burst processing failed")
	return cause
}
