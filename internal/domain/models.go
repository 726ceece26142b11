// Package domain defines the persistence models for conversations and their
// transcript messages. These types are mapped with GORM and form the durable
// record of every exchange, independent of the ephemeral burst buffer.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Roles recorded in the transcript.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Conversation represents one end-user conversation within a tenant. It is
// created on first contact (REST or WebSocket) and collects the transcript
// messages exchanged between the end user and the assistant.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - TenantID: owning tenant; indexed together with UpdatedAt for listing.
//   - Title: human-readable title, auto-generated from the first user message.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (retains row for audit/history).
type Conversation struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	TenantID  string         `json:"tenant_id"  gorm:"type:varchar(64);not null;index:idx_tenant_convos"`
	Title     string         `json:"title"      gorm:"type:varchar(255);not null;default:'New conversation'"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Message represents a single transcript entry within a conversation. User
// entries keep the timestamp at which the message was originally received,
// which may predate the row insert because entries are written in bulk when a
// burst is processed.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: foreign key to the owning conversation (indexed).
//   - TenantID: denormalized tenant for cheap tenant-scoped queries.
//   - Role: "user" or "assistant" (enforced by DB constraint).
//   - Content: full text content of the entry.
//   - CreatedAt: receipt time for user entries, generation time for replies.
type Message struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id" gorm:"type:char(36);not null;index:idx_convo_msgs,priority:1"`
	TenantID       string         `json:"tenant_id"       gorm:"type:varchar(64);not null;index"`
	Role           string         `json:"role"            gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content        string         `json:"content"         gorm:"type:text;not null"`
	CreatedAt      time.Time      `json:"created_at"      gorm:"index:idx_convo_msgs,priority:2"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`

	// Conversation is the parent; messages are cascade-deleted with it.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
