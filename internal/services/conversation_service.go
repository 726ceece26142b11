// Package services – ConversationService
//
// This file implements ConversationService, which manages the lifecycle of
// conversations: creation, tenant-scoped lookup, paginated listing, and
// title updates. Title handling is intentionally minimal here because
// automatic title generation happens in TranscriptService when the first
// burst is recorded.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// tenant/conversation identifiers and pagination parameters.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/averlon/go-convo-backend/internal/domain"
	"github.com/averlon/go-convo-backend/internal/repo"
)

// defaultTitle is the placeholder assigned until auto-titling replaces it.
const defaultTitle = "New conversation"

// ConversationService provides conversation-level operations. It enforces
// title rules and tenant ownership constraints.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewConversationService constructs a ConversationService with sane defaults.
func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{DB: db, TitleMaxLen: 60}
}

// Create inserts a new conversation owned by tenantID with the provided
// title. Titles are normalized, clipped, and defaulted when blank.
func (s *ConversationService) Create(ctx context.Context, tenantID, title string) (*domain.Conversation, error) {
	title = normalizeTitle(title)
	if title == "" {
		title = defaultTitle
	}
	return repo.CreateConversation(ctx, s.DB, tenantID, s.clip(title))
}

// Get fetches a conversation by ID, scoped to the tenant.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*domain.Conversation, error) {
	c, err := repo.GetConversation(ctx, s.DB, conversationID, tenantID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	return c, err
}

// ListPage returns a page of the tenant's conversations, most recently
// updated first, applying defaults for invalid page/pageSize.
func (s *ConversationService) ListPage(ctx context.Context, tenantID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
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

	total, err := repo.CountConversations(ctx, s.DB, tenantID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}

	items, err := repo.ListConversationsPage(ctx, s.DB, tenantID, offset, pageSize)
	return items, total, err
}

// UpdateTitle renames a conversation after verifying tenant ownership.
// Falls back to "Untitled" when the new title is blank.
func (s *ConversationService) UpdateTitle(ctx context.Context, tenantID, conversationID, title string) error {
	title = normalizeTitle(title)
	if title == "" {
		title = "Untitled"
	}
	if _, err := s.Get(ctx, tenantID, conversationID); err != nil {
		return err
	}
	return repo.UpdateConversationTitle(ctx, s.DB, conversationID, tenantID, s.clip(title))
}

// clip truncates a title to the configured maximum rune length.
func (s *ConversationService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return string([]rune(title)[:s.TitleMaxLen])
	}
	return title
}

// normalizeTitle trims whitespace and collapses runs to a single space.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

var whitespaceRE = regexp.MustCompile(`\s+`)
