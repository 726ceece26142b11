// Package buffer implements the per-conversation message buffer that
// coalesces rapid consecutive messages into a single burst before the
// expensive reply generation runs.
//
// Layout in the expiring store, per (tenant, conversation):
//
//	burst:msgs:{tenant}:{conversation}     JSON array of Message, append order
//	burst:deadline:{tenant}:{conversation} RFC3339 processing deadline
//
// Both keys carry a TTL slightly longer than the debounce window so that a
// crashed worker can never leave a conversation stuck: the burst simply
// expires and the next inbound message starts a fresh one.
package buffer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	msgsKeyPrefix     = "burst:msgs:"
	deadlineKeyPrefix = "burst:deadline:"
)

// Message is one inbound message captured while a burst accumulates.
// Immutable once created; it lives only inside a burst.
type Message struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	ReceivedAt time.Time `json:"received_at"`
	UserRef    string    `json:"user_ref,omitempty"`
}

// AppendResult reports the state of the burst after an append.
type AppendResult struct {
	// IsFirst is true when this append created the burst; the caller must
	// then schedule exactly one processing job.
	IsFirst bool
	// ProcessAt is the recomputed deadline (now + debounce window).
	ProcessAt time.Time
	// Count is the number of messages in the burst after the append.
	Count int
}

// KV is the slice of the expiring store the buffer needs. *kv.Client
// satisfies it; tests substitute an in-memory fake.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
}

// Store accumulates bursts in the shared expiring store. It holds no
// per-conversation state of its own, so any process may call any method;
// Redis single-key atomicity is the only coordination primitive.
type Store struct {
	KV       KV
	Window   time.Duration // debounce window
	TTLSlack time.Duration // key TTL beyond the window

	Log zerolog.Logger

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewStore constructs a Store with the given window and TTL slack.
func NewStore(kv KV, window, ttlSlack time.Duration, log zerolog.Logger) *Store {
	return &Store{
		KV:       kv,
		Window:   window,
		TTLSlack: ttlSlack,
		Log:      log,
		now:      time.Now,
	}
}

// Append records a message in the conversation's burst, creating the burst
// when none is active, and pushes the processing deadline forward to
// now + window. Store errors propagate: an inbound message must never be
// silently dropped.
func (s *Store) Append(ctx context.Context, tenantID, conversationID, content, userRef string) (AppendResult, error) {
	var res AppendResult

	msgs := s.read(ctx, tenantID, conversationID)
	now := s.now().UTC()
	msgs = append(msgs, Message{
		ID:         uuid.NewString(),
		Content:    content,
		ReceivedAt: now,
		UserRef:    userRef,
	})

	raw, err := json.Marshal(msgs)
	if err != nil {
		return res, fmt.Errorf("marshal burst: %w", err)
	}

	processAt := now.Add(s.Window)
	ttl := s.Window + s.TTLSlack
	if err := s.KV.Set(ctx, msgsKey(tenantID, conversationID), string(raw), ttl); err != nil {
		return res, fmt.Errorf("store burst: %w", err)
	}
	if err := s.KV.Set(ctx, deadlineKey(tenantID, conversationID), processAt.Format(time.RFC3339Nano), ttl); err != nil {
		return res, fmt.Errorf("store deadline: %w", err)
	}

	res = AppendResult{
		IsFirst:   len(msgs) == 1,
		ProcessAt: processAt,
		Count:     len(msgs),
	}
	s.Log.Debug().
		Str("tenant_id", tenantID).
		Str("conversation_id", conversationID).
		Int("count", res.Count).
		Time("process_at", processAt).
		Msg("message buffered")
	return res, nil
}

// Read returns the accumulated burst in append order. A missing burst, a
// store read error, or a corrupt value all yield an empty result: a burst
// that cannot be read is treated as nothing to process.
func (s *Store) Read(ctx context.Context, tenantID, conversationID string) []Message {
	return s.read(ctx, tenantID, conversationID)
}

// Deadline returns the burst's current processing deadline. Every Append
// pushes it forward, so a ticket scheduled at the first message may find the
// deadline still ahead of it. Missing, unreadable, or corrupt values report
// no deadline; the caller then processes whatever the buffer holds.
func (s *Store) Deadline(ctx context.Context, tenantID, conversationID string) (time.Time, bool) {
	raw, ok, err := s.KV.Get(ctx, deadlineKey(tenantID, conversationID))
	if err != nil {
		s.Log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("conversation_id", conversationID).
			Msg("deadline read failed; treating as elapsed")
		return time.Time{}, false
	}
	if !ok {
		return time.Time{}, false
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		s.Log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("conversation_id", conversationID).
			Msg("deadline value corrupt; treating as elapsed")
		return time.Time{}, false
	}
	return at, true
}

// Clear deletes the burst and its deadline, reporting whether anything was
// deleted. As a write, store errors propagate to the caller.
func (s *Store) Clear(ctx context.Context, tenantID, conversationID string) (bool, error) {
	n, err := s.KV.Del(ctx, msgsKey(tenantID, conversationID), deadlineKey(tenantID, conversationID))
	if err != nil {
		return false, fmt.Errorf("clear burst: %w", err)
	}
	return n > 0, nil
}

func (s *Store) read(ctx context.Context, tenantID, conversationID string) []Message {
	raw, ok, err := s.KV.Get(ctx, msgsKey(tenantID, conversationID))
	if err != nil {
		s.Log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("conversation_id", conversationID).
			Msg("burst read failed; treating as empty")
		return nil
	}
	if !ok {
		return nil
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		s.Log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("conversation_id", conversationID).
			Msg("burst payload corrupt; treating as empty")
		return nil
	}
	return msgs
}

// Combine merges buffered messages into one logical message: a single
// message is returned verbatim; multiple messages are trimmed, empties are
// dropped, and the remainder joined by a blank line in arrival order.
func Combine(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	if len(msgs) == 1 {
		return msgs[0].Content
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if c := strings.TrimSpace(m.Content); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

func msgsKey(tenantID, conversationID string) string {
	return msgsKeyPrefix + tenantID + ":" + conversationID
}

func deadlineKey(tenantID, conversationID string) string {
	return deadlineKeyPrefix + tenantID + ":" + conversationID
}
