package models

import (
	"time"
)

// CacheEntry is one row of the database-backed cache (identity contexts, sessions, rate limit counters).
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte    `gorm:"type:blob"`
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
