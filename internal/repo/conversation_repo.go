// Package repo implements the data persistence layer for transcript
// entities, backed by GORM. This file provides repository functions for the
// Conversation model.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/averlon/go-convo-backend/internal/domain"
)

// CreateConversation inserts a new conversation row for the given tenant.
func CreateConversation(ctx context.Context, db *gorm.DB, tenantID, title string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return c, db.WithContext(ctx).Create(c).Error
}

// GetConversation fetches a conversation by ID ensuring it belongs to the tenant.
func GetConversation(ctx context.Context, db *gorm.DB, id, tenantID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// EnsureConversation returns the conversation with the given ID, creating it
// for the tenant when it does not exist yet. A caller-supplied ID is kept so
// that clients may mint conversation IDs up front (WebSocket connect path).
func EnsureConversation(ctx context.Context, db *gorm.DB, id, tenantID, title string) (*domain.Conversation, error) {
	c, err := GetConversation(ctx, db, id, tenantID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	now := time.Now().UTC()
	c = &domain.Conversation{
		ID:        id,
		TenantID:  tenantID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return c, db.WithContext(ctx).Create(c).Error
}

// TouchConversation bumps UpdatedAt so tenant listings sort by recency.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", at).Error
}

// UpdateConversationTitle updates a conversation's title (tenant-scoped).
func UpdateConversationTitle(ctx context.Context, db *gorm.DB, id, tenantID, title string) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Update("title", title).Error
}

// CountConversations returns the total number of conversations for pagination.
func CountConversations(ctx context.Context, db *gorm.DB, tenantID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("tenant_id = ?", tenantID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of conversations for the tenant,
// most recently updated first.
func ListConversationsPage(ctx context.Context, db *gorm.DB, tenantID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("updated_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
