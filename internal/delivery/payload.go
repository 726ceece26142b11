// Package delivery maintains live client connections and pushes results to
// them, regardless of which process produced the result. The worker that
// finishes a burst publishes through Redis pub/sub; every API front-end runs
// a relay that forwards payloads for conversations whose connection it owns.
package delivery

import "encoding/json"

// PayloadType tags the outbound frame variants. Modeling the wire messages
// as a closed set keeps the channel contract statically checkable instead of
// an untyped map.
type PayloadType string

const (
	// TypeTyping is the interim notice sent when a burst starts.
	TypeTyping PayloadType = "typing"
	// TypeMessage carries transcript content (user echo or assistant reply).
	TypeMessage PayloadType = "message"
	// TypeError reports a failure surfaced to the connection.
	TypeError PayloadType = "error"
)

// Payload is one outbound frame.
type Payload struct {
	Type           PayloadType `json:"type"`
	Role           string      `json:"role,omitempty"`
	Content        string      `json:"content"`
	ConversationID string      `json:"conversation_id,omitempty"`
}

// Typing builds the interim notice for a newly started burst.
func Typing(conversationID string) Payload {
	return Payload{Type: TypeTyping, ConversationID: conversationID}
}

// UserEcho builds the immediate echo of an inbound user message.
func UserEcho(conversationID, content string) Payload {
	return Payload{Type: TypeMessage, Role: "user", Content: content, ConversationID: conversationID}
}

// AssistantReply builds the result frame for a completed burst.
func AssistantReply(conversationID, content string) Payload {
	return Payload{Type: TypeMessage, Role: "assistant", Content: content, ConversationID: conversationID}
}

// Failure builds the error frame pushed when processing fails.
func Failure(conversationID, content string) Payload {
	return Payload{Type: TypeError, Content: content, ConversationID: conversationID}
}

// envelope is the pub/sub wire format: the addressing lives in the body so
// the relay never has to parse channel names.
type envelope struct {
	TenantID       string  `json:"tenant_id"`
	ConversationID string  `json:"conversation_id"`
	Payload        Payload `json:"payload"`
}

func (e envelope) encode() ([]byte, error) { return json.Marshal(e) }

func decodeEnvelope(raw []byte) (envelope, error) {
	var e envelope
	err := json.Unmarshal(raw, &e)
	return e, err
}
