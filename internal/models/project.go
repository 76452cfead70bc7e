package models

import (
	"database/sql"
	"time"
)

// Project pairs one uploaded board image with its optional analysis and its
// chat transcript.
type Project struct {
	ID               int64          `gorm:"primaryKey;autoIncrement"`
	Name             string         `gorm:"not null;index"`
	ImagePath        string         `gorm:"not null"`
	ImageBase64      string         `gorm:"type:text;not null"`
	ImageStoragePath sql.NullString `gorm:"type:text"`
	Analysis         sql.NullString `gorm:"type:text"`
	CreatedAt        time.Time
	UpdatedAt        time.Time

	ChatMessages []ChatMessage `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

// ChatMessage is one turn of a project's transcript. Messages are append-only
// and ordered by (CreatedAt, ID).
type ChatMessage struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	ProjectID int64     `gorm:"not null;index:idx_chat_messages_order,priority:1"`
	Sender    Sender    `gorm:"type:text;not null"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_chat_messages_order,priority:2"`
}

// Assessment is a generated hardware report for a project. It is returned to
// the caller and not stored.
type Assessment struct {
	ProjectID        int64
	Components       string
	Microcontroller  string
	SecurityAnalysis string
	Report           string
	GeneratedAt      time.Time
}
