// Package blob stores externalized notification content by name.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const locatorScheme = "blob://"

var ErrInvalidName = errors.New("invalid blob name")

type Store interface {
	// Upload stores base64 content under name, replacing any previous content, and
	// returns the blob locator.
	Upload(ctx context.Context, name string, base64Content string) (string, error)
	// Download returns nil when no blob exists under name.
	Download(ctx context.Context, name string) (*string, error)
	// Delete reports whether a blob was removed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Locator returns the address an uploaded blob is reachable at.
func Locator(name string) string {
	return locatorScheme + name
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// BlobModel is the persistence model for the blobs table.
type BlobModel struct {
	Name      string `gorm:"type:varchar(512);primaryKey"`
	Content   string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (BlobModel) TableName() string {
	return "blobs"
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Upload(ctx context.Context, name string, base64Content string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	model := BlobModel{Name: name, Content: base64Content}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return "", fmt.Errorf("failed to upload blob %q: %w", name, err)
	}
	return Locator(name), nil
}

func (s *GormStore) Download(ctx context.Context, name string) (*string, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var model BlobModel
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to download blob %q: %w", name, err)
	}
	return &model.Content, nil
}

func (s *GormStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	result := s.db.WithContext(ctx).Where("name = ?", name).Delete(&BlobModel{})
	if result.Error != nil {
		return false, fmt.Errorf("failed to delete blob %q: %w", name, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// MemoryStore keeps blobs in process.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string]string)}
}

func (s *MemoryStore) Upload(_ context.Context, name string, base64Content string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.blobs[name] = base64Content
	s.mu.Unlock()
	return Locator(name), nil
}

func (s *MemoryStore) Download(_ context.Context, name string) (*string, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.blobs[name]
	if !ok {
		return nil, nil
	}
	return &content, nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[name]
	delete(s.blobs, name)
	return ok, nil
}
