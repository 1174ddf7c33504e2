// Package analytics records who asked what, for usage stats and the
// daily quota report. It mirrors the original bot's users and queries
// tables on MySQL via GORM.
package analytics

import "time"

// User is a person interacting with the assistant.
type User struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"uniqueIndex;size:64"`
	Username  string    `gorm:"size:128"`
	FirstSeen time.Time `gorm:"autoCreateTime"`
	LastSeen  time.Time `gorm:"autoUpdateTime"`
}

// QueryRecord is one answered question.
type QueryRecord struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     string    `gorm:"index;size:64"`
	Question   string    `gorm:"type:text"`
	Grounded   bool      // false when the no-context fallback was returned
	ChunksUsed int
	LatencyMs  int64
	CreatedAt  time.Time `gorm:"index"`
}

func (User) TableName() string        { return "users" }
func (QueryRecord) TableName() string { return "queries" }
