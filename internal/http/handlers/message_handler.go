// Message HTTP handlers.
//
// This file exposes REST endpoints for conversation messages:
//   - POST /conversations/{id}/messages   (accept a user message into the burst buffer)
//   - GET  /conversations/{id}/messages   (list paginated transcript entries)
//
// Accepting a message is asynchronous: the handler buffers it, the debounce
// window settles the burst, and a worker produces the reply later. The
// response therefore reports acceptance (202), not the reply itself; clients
// receive the reply over the live connection or by polling the transcript.
//
// Idempotency:
// When the client supplies an Idempotency-Key already seen for this tenant,
// the middleware flags the request as a replay. The handler then acknowledges
// without buffering the message again and sets `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/averlon/go-convo-backend/internal/dispatch"
	"github.com/averlon/go-convo-backend/internal/domain"
	"github.com/averlon/go-convo-backend/internal/http/middleware"
	"github.com/averlon/go-convo-backend/internal/services"
)

// maxContentRunes caps inbound message length at the edge.
const maxContentRunes = 4000

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a user message.
//
// Content is normalized by the handler (line endings, excessive blank lines)
// before entering the burst buffer.
type PostMessageRequest struct {
	// Content is the user message text. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"do you deliver to Leiden?"`
	// UserRef optionally identifies the end user within the tenant.
	UserRef string `json:"user_ref,omitempty" example:"visitor-81"`
}

// PostMessageResponse acknowledges an accepted message. ProcessAt is the
// debounce deadline at acceptance time; MessageCount is the burst size so
// far, including this message.
type PostMessageResponse struct {
	Accepted       bool      `json:"accepted"`
	ConversationID string    `json:"conversation_id"`
	ProcessAt      time.Time `json:"process_at,omitempty"`
	MessageCount   int       `json:"message_count,omitempty"`
}

// ListMessagesResponse contains a page of transcript entries.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// CRLF/CR to LF, runs of 3+ LFs down to two, surrounding whitespace trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message into a conversation
// @Description Buffers a user message for debounced processing. Rapid follow-ups
// @Description within the debounce window join the same burst and receive one
// @Description combined assistant reply. The reply arrives asynchronously over
// @Description the live connection or via the transcript endpoint.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-Tenant-ID      header  string  false "Tenant ID"  example(acme)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       id               path    string  true  "Conversation ID (UUID)"  format(uuid)
// @Param       body             body    handlers.PostMessageRequest  true  "User message payload"
//
// @Success     202  {object}  handlers.PostMessageResponse  "Message accepted"
// @Failure     400  {object}  handlers.ErrorResponse        "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse        "Internal error"
// @Failure     503  {object}  handlers.ErrorResponse        "Buffer store unavailable"
// @Router      /conversations/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	content := sanitizeContent(req.Content)
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}
	if utf8.RuneCountInString(content) > maxContentRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxContentRunes))
		return
	}

	// A replayed Idempotency-Key is acknowledged without touching the buffer;
	// the original request already joined a burst.
	if middleware.IsReplay(c) {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusAccepted, PostMessageResponse{
			Accepted:       true,
			ConversationID: conversationID,
		})
		return
	}

	acc, err := h.dispatcher.OnUserMessage(c.Request.Context(), middleware.TenantFrom(c), conversationID, content, strings.TrimSpace(req.UserRef))
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrStoreUnavailable):
			fail(c, http.StatusServiceUnavailable, ErrCodeStoreUnavailable, "message buffer unavailable, retry shortly")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeAcceptFailed, err.Error())
		}
		return
	}

	ok(c, http.StatusAccepted, PostMessageResponse{
		Accepted:       true,
		ConversationID: acc.ConversationID,
		ProcessAt:      acc.ProcessAt,
		MessageCount:   acc.MessageCount,
	})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List transcript entries
// @Description Returns a paginated chronological transcript for the conversation.
// @Tags        Messages
// @Produce     json
//
// @Param       X-Tenant-ID  header  string  false "Tenant ID"              example(acme)
// @Param       id           path    string  true  "Conversation ID (UUID)" format(uuid)
// @Param       page         query   int     false "Page number"            minimum(1) default(1)
// @Param       page_size    query   int     false "Items per page"         minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.transcript.ListPage(c.Request.Context(), middleware.TenantFrom(c), conversationID, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrConversationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginate(page, pageSize, total),
	})
}
