// Package services – TranscriptService
//
// This file implements TranscriptService, the worker-facing component that
// persists processed bursts into the durable transcript. It writes the user
// entries with their original receipt timestamps, records the assistant
// reply, assembles the recent-history window for reply generation, and
// auto-generates a conversation title from the first user content when the
// title is still a placeholder.
package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/averlon/go-convo-backend/internal/buffer"
	"github.com/averlon/go-convo-backend/internal/domain"
	"github.com/averlon/go-convo-backend/internal/repo"
)

// TranscriptService persists burst outcomes and serves transcript reads.
type TranscriptService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// HistorySize bounds the recent-history window handed to the replier.
	HistorySize int

	// TitleLocale selects the casing rules for generated titles.
	TitleLocale language.Tag
	// TitleMaxLen caps generated titles by rune length.
	TitleMaxLen int
}

// NewTranscriptService constructs a TranscriptService with sane defaults.
func NewTranscriptService(db *gorm.DB, historySize int) *TranscriptService {
	if historySize <= 0 {
		historySize = 20
	}
	return &TranscriptService{
		DB:          db,
		HistorySize: historySize,
		TitleLocale: language.English,
		TitleMaxLen: 60,
	}
}

// RecordUserBurst writes the buffered user messages into the transcript in
// receipt order, creating the conversation on first contact. All rows land
// in one transaction so a crash mid-burst never leaves a partial exchange.
// When the conversation still carries a placeholder title, one is generated
// from the first message of the burst.
func (s *TranscriptService) RecordUserBurst(ctx context.Context, tenantID, conversationID string, msgs []buffer.Message) error {
	tr := otel.Tracer("services/TranscriptService")
	ctx, span := tr.Start(ctx, "RecordUserBurst",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("burst.size", len(msgs)),
		),
	)
	defer span.End()

	if len(msgs) == 0 {
		return nil
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		convo, err := repo.EnsureConversation(ctx, tx, conversationID, tenantID, defaultTitle)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if _, err := repo.CreateMessage(tx, conversationID, tenantID, domain.RoleUser, m.Content, m.ReceivedAt); err != nil {
				return err
			}
		}
		if isPlaceholderTitle(convo.Title) {
			if gen := s.generateTitle(msgs[0].Content); gen != "" {
				if err := repo.UpdateConversationTitle(ctx, tx, conversationID, tenantID, gen); err != nil {
					return err
				}
			}
		}
		return repo.TouchConversation(ctx, tx, conversationID, time.Now().UTC())
	})
}

// RecordAssistantReply appends the generated reply to the transcript.
func (s *TranscriptService) RecordAssistantReply(ctx context.Context, tenantID, conversationID, content string) (*domain.Message, error) {
	var out *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateMessage(tx, conversationID, tenantID, domain.RoleAssistant, content, time.Now().UTC())
		if err != nil {
			return err
		}
		out = m
		return repo.TouchConversation(ctx, tx, conversationID, time.Now().UTC())
	})
	return out, err
}

// History returns the newest HistorySize transcript entries in chronological
// order.
func (s *TranscriptService) History(ctx context.Context, conversationID string) ([]domain.Message, error) {
	return repo.ListRecentMessages(s.DB.WithContext(ctx), conversationID, s.HistorySize)
}

// ListPage returns paginated transcript entries for a conversation after
// verifying it belongs to the tenant.
func (s *TranscriptService) ListPage(ctx context.Context, tenantID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/TranscriptService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetConversation(ctx, s.DB, conversationID, tenantID); err != nil {
		return nil, 0, ErrConversationNotFound
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), conversationID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), conversationID, offset, pageSize)
	return items, total, err
}

// isPlaceholderTitle reports whether the title is still eligible for
// auto-generation.
func isPlaceholderTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(defaultTitle) || t == "untitled"
}

// generateTitle derives a concise title from the first user content: up to
// eight non-stopword tokens, title-cased, clipped to TitleMaxLen runes.
func (s *TranscriptService) generateTitle(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}
	toks := titleWordRE.FindAllString(strings.ToLower(content), -1)
	if len(toks) == 0 {
		return ""
	}

	locale := s.TitleLocale
	if locale == language.Und {
		locale = language.English
	}
	caser := cases.Title(locale)

	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	title := strings.Join(out, " ")

	max := s.TitleMaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		title = string([]rune(title)[:max])
	}
	return title
}
