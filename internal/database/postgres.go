package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"pcbrecon-backend/internal/apperr"
	"pcbrecon-backend/internal/logger"
	"pcbrecon-backend/internal/models"
)

const projectColumns = `id, name, image_path, image_base64, image_storage_path, analysis, created_at, updated_at`

// PostgresStore is the PostgreSQL backend. The schema is owned by the
// embedded migrations.
type PostgresStore struct {
	db  *sql.DB
	log *logger.Logger
}

func NewPostgresStore(ctx context.Context, connectionString string, log *logger.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := NewMigrator(db, log).Run(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.With("repo", "PostgresStore").Info("postgres store ready")
	return &PostgresStore{db: db, log: log.With("repo", "PostgresStore")}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner, p *models.Project) error {
	return row.Scan(
		&p.ID, &p.Name, &p.ImagePath, &p.ImageBase64,
		&p.ImageStoragePath, &p.Analysis, &p.CreatedAt, &p.UpdatedAt,
	)
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (name, image_path, image_base64, image_storage_path, analysis)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, p.Name, p.ImagePath, p.ImageBase64, p.ImageStoragePath, p.Analysis).Scan(
		&p.ID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	var p models.Project
	err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, opts ListOptions) ([]models.Project, error) {
	opts = opts.Normalize()
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var p models.Project
		if err := scanProject(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) SetAnalysis(ctx context.Context, id int64, analysis string) (*models.Project, error) {
	var p models.Project
	err := scanProject(s.db.QueryRowContext(ctx, `
		UPDATE projects SET analysis = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+projectColumns, id, analysis), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store analysis: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) SetImageStoragePath(ctx context.Context, id int64, path string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET image_storage_path = $2 WHERE id = $1`, id, path)
	if err != nil {
		return fmt.Errorf("failed to store image path: %w", err)
	}
	return requireRow(res, id)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE project_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete chat messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if err := requireRow(res, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, m *models.ChatMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = NOW() WHERE id = $1`, m.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to touch project: %w", err)
	}
	if err := requireRow(res, m.ProjectID); err != nil {
		return err
	}

	// clock_timestamp() rather than NOW(): NOW() is fixed for the transaction.
	err = tx.QueryRowContext(ctx, `
		INSERT INTO chat_messages (project_id, sender, message, created_at)
		VALUES ($1, $2, $3, clock_timestamp())
		RETURNING id, created_at
	`, m.ProjectID, m.Sender, m.Message).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chat message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, projectID int64) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, sender, message, created_at
		FROM chat_messages
		WHERE project_id = $1
		ORDER BY created_at ASC, id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.ChatMessage{}
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Sender, &m.Message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("project", id)
	}
	return nil
}
