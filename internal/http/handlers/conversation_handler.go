// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - POST /conversations              (create)
//   - GET  /conversations              (list, paginated)
//   - GET  /conversations/{id}         (fetch one)
//   - PUT  /conversations/{id}/title   (rename)
//
// Handlers are transport-thin: they validate input, call application
// services, and translate results into HTTP responses. The tenant scope
// comes from middleware (X-Tenant-ID header) on every endpoint.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/averlon/go-convo-backend/internal/delivery"
	"github.com/averlon/go-convo-backend/internal/dispatch"
	"github.com/averlon/go-convo-backend/internal/domain"
	"github.com/averlon/go-convo-backend/internal/http/middleware"
	"github.com/averlon/go-convo-backend/internal/services"
	"github.com/averlon/go-convo-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConversationService defines the conversation lifecycle operations consumed
// by HTTP handlers. Implementations must be safe for concurrent use and honor
// the provided context.
type ConversationService interface {
	// Create starts a new conversation for the tenant with an optional title.
	Create(ctx context.Context, tenantID, title string) (*domain.Conversation, error)
	// Get fetches one conversation scoped to the tenant.
	Get(ctx context.Context, tenantID, conversationID string) (*domain.Conversation, error)
	// ListPage returns a page of the tenant's conversations and the total count.
	ListPage(ctx context.Context, tenantID string, page, pageSize int) ([]domain.Conversation, int64, error)
	// UpdateTitle renames a conversation that belongs to the tenant.
	UpdateTitle(ctx context.Context, tenantID, conversationID, title string) error
}

// TranscriptService defines transcript reads consumed by HTTP handlers.
type TranscriptService interface {
	// ListPage returns a page of transcript entries for a conversation owned
	// by the tenant and the total count.
	ListPage(ctx context.Context, tenantID, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
}

// Dispatcher accepts an inbound user message into the burst pipeline.
// *dispatch.Scheduler satisfies it.
type Dispatcher interface {
	OnUserMessage(ctx context.Context, tenantID, conversationID, text, userRef string) (dispatch.Accepted, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for conversations, messages, and live
// connections. It depends on abstract contracts so transport stays separate
// from the buffering and persistence machinery behind them.
type Handlers struct {
	convSvc    ConversationService
	transcript TranscriptService
	dispatcher Dispatcher
	hub        *delivery.Hub
}

// New constructs a Handlers instance bound to the given collaborators.
func New(convSvc ConversationService, transcript TranscriptService, dispatcher Dispatcher, hub *delivery.Hub) *Handlers {
	return &Handlers{convSvc: convSvc, transcript: transcript, dispatcher: dispatcher, hub: hub}
}

//
// DTOs
//

// CreateConversationRequest is the JSON payload for creating a conversation.
type CreateConversationRequest struct {
	// Title optionally names the conversation; a default is used when empty
	// and replaced by an auto-generated title after the first burst.
	Title string `json:"title" example:"Store hours question"`
}

// UpdateConversationTitleRequest is the JSON payload for renaming.
type UpdateConversationTitleRequest struct {
	// Title is the new name (1-255 chars).
	Title string `json:"title" binding:"required,min=1,max=255" example:"Opening hours"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params,
// returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// paginate computes the metadata block for a page of total items.
func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create a new conversation
// @Description Creates a conversation for the current tenant and returns the resource.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-Tenant-ID  header  string  false "Tenant ID"  example(acme)
// @Param       body         body    handlers.CreateConversationRequest  true  "Create conversation payload"
//
// @Success     201  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	convo, err := h.convSvc.Create(c.Request.Context(), middleware.TenantFrom(c), strings.TrimSpace(req.Title))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, convo)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns a page of the tenant's conversations, most recently active first.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-Tenant-ID  header  string  false "Tenant ID"      example(acme)
// @Param       page         query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size    query   int     false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.convSvc.ListPage(c.Request.Context(), middleware.TenantFrom(c), page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    paginate(page, pageSize, total),
	})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Fetch a conversation
// @Description Returns one conversation owned by the current tenant.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-Tenant-ID  header  string  false "Tenant ID"             example(acme)
// @Param       id           path    string  true  "Conversation ID (UUID)" format(uuid)
//
// @Success     200  {object} domain.Conversation
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	convo, err := h.convSvc.Get(c.Request.Context(), middleware.TenantFrom(c), conversationID)
	if err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, convo)
}

// UpdateConversationTitle godoc
// @ID          updateConversationTitle
// @Summary     Rename a conversation
// @Description Updates the title of a conversation owned by the current tenant.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-Tenant-ID  header  string  false "Tenant ID"              example(acme)
// @Param       id           path    string  true  "Conversation ID (UUID)" format(uuid)
// @Param       body         body    handlers.UpdateConversationTitleRequest  true  "New title"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Router      /conversations/{id}/title [put]
func (h *Handlers) UpdateConversationTitle(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req UpdateConversationTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1-255 chars)")
		return
	}

	if err := h.convSvc.UpdateTitle(c.Request.Context(), middleware.TenantFrom(c), conversationID, req.Title); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		return
	}
	noContent(c)
}
