// Package database persists projects and their chat transcripts.
package database

import (
	"context"

	"pcbrecon-backend/internal/models"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 100
)

// ListOptions pages through projects ordered newest first.
type ListOptions struct {
	Offset int
	Limit  int
}

// Normalize clamps the options to the accepted range.
func (o ListOptions) Normalize() ListOptions {
	if o.Offset < 0 {
		o.Offset = 0
	}
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		o.Limit = DefaultListLimit
	}
	return o
}

// Store is implemented by the SQLite (gorm) and PostgreSQL (lib/pq) backends.
// Lookups of a missing project return an error matching apperr.ErrNotFound.
type Store interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ListProjects(ctx context.Context, opts ListOptions) ([]models.Project, error)
	// SetAnalysis overwrites the analysis, bumps updated_at and returns the
	// row as stored.
	SetAnalysis(ctx context.Context, id int64, analysis string) (*models.Project, error)
	SetImageStoragePath(ctx context.Context, id int64, path string) error
	// DeleteProject removes the project and every message in one transaction.
	DeleteProject(ctx context.Context, id int64) error

	// AppendMessage inserts m, fills its ID and CreatedAt, and bumps the
	// project's updated_at.
	AppendMessage(ctx context.Context, m *models.ChatMessage) error
	// ListMessages returns the transcript ordered by (created_at, id).
	ListMessages(ctx context.Context, projectID int64) ([]models.ChatMessage, error)

	Ping(ctx context.Context) error
	Close() error
}
