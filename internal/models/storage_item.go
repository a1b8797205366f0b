package models

import "time"

// StorageItem is one key/value entry of a visitor's local storage,
// persisted by GORM. Namespace plus Key form the primary key.
type StorageItem struct {
	Namespace string    `gorm:"primaryKey;size:64"`
	Key       string    `gorm:"column:item_key;primaryKey;size:128"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
