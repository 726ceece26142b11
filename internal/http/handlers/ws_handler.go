// WebSocket handler.
//
// This file exposes the live connection endpoint:
//   - GET /conversations/{id}/ws   (upgrade to WebSocket)
//
// The connection is registered in the process-local delivery hub so the
// relay can push frames produced by any worker process. Inbound frames feed
// the same burst pipeline as the REST message endpoint; outbound frames are
// the typed payloads defined in the delivery package (typing notices, user
// echoes, assistant replies, errors).
package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/averlon/go-convo-backend/internal/delivery"
	"github.com/averlon/go-convo-backend/internal/http/middleware"
)

const (
	// wsReadLimit caps a single inbound frame.
	wsReadLimit = 64 << 10
	// wsPongWait is how long a connection may stay silent before the read
	// loop gives up on it.
	wsPongWait = 60 * time.Second
	// wsPingPeriod must be shorter than wsPongWait so pings keep an idle
	// connection alive.
	wsPingPeriod = 54 * time.Second
	// wsWriteWait bounds control-frame writes.
	wsWriteWait = 10 * time.Second
)

// upgrader performs the HTTP to WebSocket handshake. Origin checking is
// delegated to the CORS layer; chat widgets connect from arbitrary sites.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// safeConn serializes WriteJSON calls. The relay goroutine and the read loop
// can both write to the same connection; gorilla's writer is single-flight.
type safeConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (s *safeConn) WriteJSON(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ws.WriteJSON(v)
}

func (s *safeConn) Close() error { return s.ws.Close() }

// inboundFrame is the JSON shape clients send over the socket. Type is
// accepted for forward compatibility; anything other than "message" (or
// empty) is ignored.
type inboundFrame struct {
	Type    string `json:"type,omitempty"`
	Content string `json:"content"`
	UserRef string `json:"user_ref,omitempty"`
}

// AttachConversation godoc
// @ID          attachConversation
// @Summary     Open a live connection for a conversation
// @Description Upgrades to WebSocket. Inbound frames ({"content": "..."}) enter
// @Description the same debounced pipeline as the REST endpoint; outbound frames
// @Description carry typing notices, user echoes, assistant replies, and errors.
// @Description One live connection per conversation; a newer connection replaces
// @Description the previous one.
// @Tags        Live
//
// @Param       X-Tenant-ID  header  string  false "Tenant ID"              example(acme)
// @Param       id           path    string  true  "Conversation ID (UUID)" format(uuid)
//
// @Success     101  {string} string "Switching Protocols"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /conversations/{id}/ws [get]
func (h *Handlers) AttachConversation(c *gin.Context) {
	conversationID := c.Param("id")
	if _, err := uuid.Parse(conversationID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}
	// Browsers cannot set custom headers on WebSocket dials, so a tenant_id
	// query parameter overrides the header-derived scope.
	tenantID := middleware.TenantFrom(c)
	if q := strings.TrimSpace(c.Query("tenant_id")); q != "" {
		tenantID = q
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := &safeConn{ws: ws}

	h.hub.Register(tenantID, conversationID, conn)
	defer func() {
		h.hub.Unregister(tenantID, conversationID, conn)
		_ = conn.Close()
	}()

	ws.SetReadLimit(wsReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go pingLoop(ws, stop)

	ctx := c.Request.Context()
	for {
		var frame inboundFrame
		if err := ws.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				middleware.LoggerFrom(c).Debug().Err(err).
					Str("conversation_id", conversationID).
					Msg("websocket read ended")
			}
			return
		}

		if frame.Type != "" && frame.Type != "message" {
			continue
		}
		content := sanitizeContent(frame.Content)
		if content == "" {
			continue
		}
		if utf8.RuneCountInString(content) > maxContentRunes {
			_ = conn.WriteJSON(delivery.Failure(conversationID,
				fmt.Sprintf("message too long: max %d characters", maxContentRunes)))
			continue
		}

		if _, err := h.dispatcher.OnUserMessage(ctx, tenantID, conversationID, content, frame.UserRef); err != nil {
			middleware.LoggerFrom(c).Error().Err(err).
				Str("conversation_id", conversationID).
				Msg("inbound frame rejected")
			_ = conn.WriteJSON(delivery.Failure(conversationID, "message could not be accepted, please retry"))
		}
	}
}

// pingLoop keeps idle connections alive until stop closes or a ping write
// fails. WriteControl is safe to call concurrently with WriteJSON.
func pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(wsPingPeriod)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
