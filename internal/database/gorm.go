package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/models"
)

// GormStore is the SQLite backend.
type GormStore struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGormStore(ctx context.Context, path string, log *logger.Logger) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(withForeignKeys(path)), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sqlite handle: %w", err)
	}
	// SQLite serializes writers; a single connection also keeps the
	// foreign_keys pragma in force for every statement.
	sqlDB.SetMaxOpenConns(1)

	if err := db.WithContext(ctx).Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&models.Project{}, &models.ChatMessage{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	log.With("repo", "GormStore").Info("sqlite store ready", "path", path)
	return &GormStore{db: db, log: log.With("repo", "GormStore")}, nil
}

func withForeignKeys(path string) string {
	if strings.Contains(path, "_foreign_keys") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on"
}

func (s *GormStore) CreateProject(ctx context.Context, p *models.Project) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *GormStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (s *GormStore) ListProjects(ctx context.Context, opts ListOptions) ([]models.Project, error) {
	opts = opts.Normalize()
	var projects []models.Project
	err := s.db.WithContext(ctx).
		Order("created_at DESC").Order("id DESC").
		Offset(opts.Offset).Limit(opts.Limit).
		Find(&projects).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

func (s *GormStore) SetAnalysis(ctx context.Context, id int64, analysis string) (*models.Project, error) {
	res := s.db.WithContext(ctx).Model(&models.Project{ID: id}).Updates(map[string]interface{}{
		"analysis":   sql.NullString{String: analysis, Valid: true},
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to store analysis: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound("project", id)
	}
	return s.GetProject(ctx, id)
}

func (s *GormStore) SetImageStoragePath(ctx context.Context, id int64, path string) error {
	res := s.db.WithContext(ctx).Model(&models.Project{ID: id}).
		Update("image_storage_path", sql.NullString{String: path, Valid: true})
	if res.Error != nil {
		return fmt.Errorf("failed to store image path: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("project", id)
	}
	return nil
}

func (s *GormStore) DeleteProject(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&models.ChatMessage{}).Error; err != nil {
			return fmt.Errorf("failed to delete chat messages: %w", err)
		}
		res := tx.Delete(&models.Project{}, id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete project: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("project", id)
		}
		return nil
	})
}

func (s *GormStore) AppendMessage(ctx context.Context, m *models.ChatMessage) error {
	if !m.Sender.Valid() {
		return fmt.Errorf("invalid sender %d", m.Sender)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Project{ID: m.ProjectID}).Update("updated_at", time.Now())
		if res.Error != nil {
			return fmt.Errorf("failed to touch project: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("project", m.ProjectID)
		}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("failed to append chat message: %w", err)
		}
		return nil
	})
}

func (s *GormStore) ListMessages(ctx context.Context, projectID int64) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC").Order("id ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	return msgs, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("SELECT 1").Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
