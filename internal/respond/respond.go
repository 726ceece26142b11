// Package respond produces the assistant reply for a coalesced burst. Two
// implementations are provided: an OpenAI-backed replier for deployments with
// an API key, and a retrieval-only replier over a local Markdown corpus used
// as the keyless fallback.
package respond

import (
	"context"

	"github.com/averlon/go-convo-backend/internal/domain"
)

// Replier turns the combined burst content into one assistant reply. The
// history slice is the recent transcript in chronological order and excludes
// the burst itself.
type Replier interface {
	Reply(ctx context.Context, tenantID, conversationID, prompt string, history []domain.Message) (string, error)
}
