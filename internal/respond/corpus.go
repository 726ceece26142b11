package respond

import (
	"context"
	"strings"

	"github.com/averlon/go-convo-backend/internal/domain"
	"github.com/averlon/go-convo-backend/internal/search"
)

// declineAnswer is returned when retrieval finds nothing above threshold.
const declineAnswer = "I can't answer that from the provided data."

// CorpusReplier answers from a local search index instead of a generation
// backend. It never errors: a miss is a polite decline, which keeps the
// keyless development path fully offline.
type CorpusReplier struct {
	Index     search.Index
	Threshold float64
}

// NewCorpusReplier builds a retrieval-only replier over the given index.
func NewCorpusReplier(ix search.Index, threshold float64) *CorpusReplier {
	if threshold <= 0 {
		threshold = 0.2
	}
	return &CorpusReplier{Index: ix, Threshold: threshold}
}

// Reply returns the best-matching snippet, joining the runner-up when its
// score is within 10% of the top hit.
func (r *CorpusReplier) Reply(_ context.Context, _, _ string, prompt string, _ []domain.Message) (string, error) {
	if r.Index == nil {
		return declineAnswer, nil
	}
	hits := r.Index.TopK(prompt, 3)
	if len(hits) == 0 || hits[0].Score < r.Threshold {
		return declineAnswer, nil
	}
	out := hits[0].Text
	if len(hits) > 1 && hits[1].Score >= hits[0].Score*0.9 {
		out += "\n" + hits[1].Text
	}
	return strings.TrimSpace(out), nil
}
