package supabase

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	storage "github.com/supabase-community/storage-go"

	"pcbrecon-backend/internal/logger"
)

// StorageClient archives uploaded board images in a Supabase Storage bucket.
type StorageClient struct {
	client   *storage.Client
	uploader *storage.Client
	bucket   string
	baseURL  string
	backoffs []time.Duration
	log      *logger.Logger

	// storage-go keeps upload headers on the client's transport, so uploads
	// get their own client and are serialized.
	mu sync.Mutex
}

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string, log *logger.Logger) *StorageClient {
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	return &StorageClient{
		client:   storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil),
		uploader: storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil),
		bucket:   bucket,
		baseURL:  baseURL,
		backoffs: []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second},
		log:      log.With("component", "StorageClient"),
	}
}

// WithBackoffs replaces the retry schedule used by UploadImage.
func (s *StorageClient) WithBackoffs(backoffs ...time.Duration) *StorageClient {
	s.backoffs = backoffs
	return s
}

// ProjectPrefix is the folder holding every archived object of a project.
func ProjectPrefix(projectID int64) string {
	return fmt.Sprintf("projects/%d/", projectID)
}

// UploadImage stores data under projects/<id>/<uuid><ext> and returns the
// object path.
func (s *StorageClient) UploadImage(ctx context.Context, projectID int64, ext, contentType string, data []byte) (string, error) {
	storagePath := ProjectPrefix(projectID) + uuid.NewString() + ext

	err := s.RetryWithBackoff(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		upsert := false
		_, err := s.uploader.UploadFile(s.bucket, storagePath, bytes.NewReader(data), storage.FileOptions{
			ContentType: &contentType,
			Upsert:      &upsert,
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}

	s.log.Debug("archived image", "project_id", projectID, "path", storagePath, "bytes", len(data))
	return storagePath, nil
}

func (s *StorageClient) GetPublicURL(storagePath string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, storagePath)
}

// DeleteProjectImages removes every object under the project's prefix.
func (s *StorageClient) DeleteProjectImages(ctx context.Context, projectID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prefix := ProjectPrefix(projectID)
	files, err := s.client.ListFiles(s.bucket, prefix, storage.FileSearchOptions{Limit: 1000})
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	paths := make([]string, len(files))
	for i, file := range files {
		paths[i] = prefix + file.Name
	}
	if _, err := s.client.RemoveFile(s.bucket, paths); err != nil {
		return fmt.Errorf("failed to delete files: %w", err)
	}
	return nil
}

// RetryWithBackoff runs fn once, then once more after each backoff, stopping
// at the first success or when ctx is done.
func (s *StorageClient) RetryWithBackoff(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i <= len(s.backoffs); i++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if i == len(s.backoffs) {
			break
		}
		s.log.Warn("storage call failed, retrying", "attempt", i+1, "error", lastErr)
		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up after %d attempts: %w", i+1, ctx.Err())
		case <-time.After(s.backoffs[i]):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", len(s.backoffs)+1, lastErr)
}
