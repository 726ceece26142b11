package delivery

import (
	"sync"

	"github.com/rs/zerolog"
)

// Conn is the slice of a live connection the hub needs. *websocket.Conn
// (gorilla) satisfies it; tests substitute a recording fake.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

type connKey struct {
	tenantID       string
	conversationID string
}

// Hub is the process-local connection registry: at most one live connection
// per (tenant, conversation), last-connect-wins. Pushes are best effort; a
// failed write unregisters and closes the dead connection so it is never
// retried.
type Hub struct {
	mu    sync.RWMutex
	conns map[connKey]Conn

	Log zerolog.Logger
}

// NewHub constructs an empty registry.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{conns: make(map[connKey]Conn), Log: log}
}

// Register stores conn for the conversation, replacing and closing any prior
// connection for the same key.
func (h *Hub) Register(tenantID, conversationID string, conn Conn) {
	key := connKey{tenantID, conversationID}

	h.mu.Lock()
	prev := h.conns[key]
	h.conns[key] = conn
	h.mu.Unlock()

	if prev != nil && prev != conn {
		_ = prev.Close()
	}
	h.Log.Info().
		Str("tenant_id", tenantID).
		Str("conversation_id", conversationID).
		Msg("connection registered")
}

// Unregister removes the conversation's connection if it is still the given
// one (a replacement must not be torn down by the replaced connection's
// deferred cleanup). A nil conn removes unconditionally.
func (h *Hub) Unregister(tenantID, conversationID string, conn Conn) {
	key := connKey{tenantID, conversationID}

	h.mu.Lock()
	current, ok := h.conns[key]
	if ok && (conn == nil || current == conn) {
		delete(h.conns, key)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		h.Log.Info().
			Str("tenant_id", tenantID).
			Str("conversation_id", conversationID).
			Msg("connection unregistered")
	}
}

// Push writes the payload to the conversation's connection. It reports false
// when no connection is registered or the write fails; a failed write also
// evicts the connection.
func (h *Hub) Push(tenantID, conversationID string, p Payload) bool {
	key := connKey{tenantID, conversationID}

	h.mu.RLock()
	conn, ok := h.conns[key]
	h.mu.RUnlock()

	if !ok {
		pushes.WithLabelValues("miss").Inc()
		return false
	}

	if err := conn.WriteJSON(p); err != nil {
		h.Log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("conversation_id", conversationID).
			Msg("push failed; dropping connection")
		h.Unregister(tenantID, conversationID, conn)
		_ = conn.Close()
		pushes.WithLabelValues("failed").Inc()
		return false
	}
	pushes.WithLabelValues("delivered").Inc()
	return true
}

// Len reports the number of registered connections (health/diagnostics).
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
