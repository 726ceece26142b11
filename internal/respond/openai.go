package respond

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/averlon/go-convo-backend/internal/domain"
	"github.com/averlon/go-convo-backend/internal/search"
)

const systemPrompt = "You are a concise, helpful assistant. The user may have " +
	"sent several short messages in quick succession; treat the prompt as one " +
	"coherent request and answer it once."

// completionAPI is the slice of the OpenAI client the replier uses. Tests
// substitute a fake; production passes *openai.Client.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIReplier generates replies through the chat completion API, carrying a
// bounded window of transcript history and, when an index is attached,
// retrieved corpus snippets for grounding.
type OpenAIReplier struct {
	api         completionAPI
	model       string
	historySize int
	index       search.Index
}

// NewOpenAIReplier builds a replier on the given API key. historySize bounds
// how many transcript entries are sent as context; zero disables history.
func NewOpenAIReplier(apiKey, model string, historySize int) *OpenAIReplier {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIReplier{
		api:         openai.NewClient(apiKey),
		model:       model,
		historySize: historySize,
	}
}

// WithGrounding attaches a search index whose top snippets are appended to
// the system prompt per request. A nil index leaves grounding off.
func (r *OpenAIReplier) WithGrounding(ix search.Index) *OpenAIReplier {
	r.index = ix
	return r
}

// Reply sends system prompt, grounding snippets, recent history, and the
// combined burst as one completion request and returns the first choice.
func (r *OpenAIReplier) Reply(ctx context.Context, tenantID, conversationID, prompt string, history []domain.Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: r.systemContent(prompt),
	})

	hist := history
	if r.historySize > 0 && len(hist) > r.historySize {
		hist = hist[len(hist)-r.historySize:]
	}
	for _, m := range hist {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := r.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: msgs,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("chat completion returned empty content")
	}
	return out, nil
}

// systemContent builds the system message, folding in up to three retrieved
// snippets when an index is attached and the query hits anything.
func (r *OpenAIReplier) systemContent(prompt string) string {
	if r.index == nil {
		return systemPrompt
	}
	hits := r.index.TopK(prompt, 3)
	if len(hits) == 0 {
		return systemPrompt
	}
	var b strings.Builder
	b.WriteString(systemPrompt)
	b.WriteString("\n\nReference material that may be relevant:")
	for _, h := range hits {
		b.WriteString("\n- ")
		b.WriteString(strings.TrimSpace(h.Text))
	}
	return b.String()
}
