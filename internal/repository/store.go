package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/axellelanca/trailtrack/internal/models"
)

// Store est une interface qui définit l'accès au "local storage" d'un visiteur.
// Every operation is scoped by namespace, one namespace per visitor.
type Store interface {
	GetItem(ctx context.Context, namespace, key string) (string, bool, error)
	SetItem(ctx context.Context, namespace, key, value string) error
	RemoveItem(ctx context.Context, namespace, key string) error
}

// GormStore is the Store implementation backed by a GORM database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates and returns a new instance of GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the storage table.
func (s *GormStore) Migrate() error {
	if err := s.db.AutoMigrate(&models.StorageItem{}); err != nil {
		return fmt.Errorf("failed to migrate storage items: %w", err)
	}
	return nil
}

// GetItem returns the stored value and whether it exists.
func (s *GormStore) GetItem(ctx context.Context, namespace, key string) (string, bool, error) {
	var item models.StorageItem
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND item_key = ?", namespace, key).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get item %s/%s: %w", namespace, key, err)
	}
	return item.Value, true, nil
}

// SetItem inserts or replaces the value stored under key.
func (s *GormStore) SetItem(ctx context.Context, namespace, key, value string) error {
	item := models.StorageItem{Namespace: namespace, Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace"}, {Name: "item_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&item).Error
	if err != nil {
		return fmt.Errorf("failed to set item %s/%s: %w", namespace, key, err)
	}
	return nil
}

// RemoveItem deletes the value stored under key, if any.
func (s *GormStore) RemoveItem(ctx context.Context, namespace, key string) error {
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND item_key = ?", namespace, key).
		Delete(&models.StorageItem{}).Error
	if err != nil {
		return fmt.Errorf("failed to remove item %s/%s: %w", namespace, key, err)
	}
	return nil
}
