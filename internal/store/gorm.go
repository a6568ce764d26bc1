package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Hollayemi/shp-sub005/pkg/models"

	"gorm.io/gorm"
)

// GormStore implements Store on a gorm database handle.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetProject(ctx context.Context, id uint) (*models.Project, error) {
	var p models.Project
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *GormStore) CreateProject(ctx context.Context, p *models.Project) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *GormStore) SetSandboxIdentity(ctx context.Context, projectID uint, sandboxID, sandboxURL string, createdAt, expiresAt time.Time) error {
	if sandboxID == "" || sandboxURL == "" {
		return fmt.Errorf("sandbox id and url must be set together")
	}
	return s.updateProject(ctx, projectID, map[string]interface{}{
		"sandbox_id":         sandboxID,
		"sandbox_url":        sandboxURL,
		"sandbox_created_at": createdAt,
		"sandbox_expires_at": expiresAt,
	})
}

func (s *GormStore) ClearSandboxIdentity(ctx context.Context, projectID uint) error {
	return s.updateProject(ctx, projectID, map[string]interface{}{
		"sandbox_id":         "",
		"sandbox_url":        "",
		"sandbox_created_at": nil,
		"sandbox_expires_at": nil,
	})
}

func (s *GormStore) SetSandboxURL(ctx context.Context, projectID uint, sandboxID, sandboxURL string) error {
	if sandboxID == "" || sandboxURL == "" {
		return fmt.Errorf("sandbox id and url must be set together")
	}
	return s.updateProject(ctx, projectID, map[string]interface{}{
		"sandbox_id":  sandboxID,
		"sandbox_url": sandboxURL,
	})
}

func (s *GormStore) SetBuildStatus(ctx context.Context, projectID uint, status models.BuildStatus) error {
	return s.updateProject(ctx, projectID, map[string]interface{}{"build_status": status})
}

func (s *GormStore) SetActiveFragment(ctx context.Context, projectID, fragmentID uint) error {
	return s.updateProject(ctx, projectID, map[string]interface{}{"active_fragment_id": fragmentID})
}

func (s *GormStore) SetDeployment(ctx context.Context, projectID uint, url, ref string, at time.Time) error {
	return s.updateProject(ctx, projectID, map[string]interface{}{
		"deployed_url": url,
		"deployed_ref": ref,
		"deployed_at":  at,
	})
}

func (s *GormStore) GetFragment(ctx context.Context, id uint) (*models.Fragment, error) {
	var f models.Fragment
	if err := s.db.WithContext(ctx).First(&f, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *GormStore) CreateFragment(ctx context.Context, f *models.Fragment) error {
	return s.db.WithContext(ctx).Create(f).Error
}

func (s *GormStore) UpdateWorkingFiles(ctx context.Context, fragmentID uint, files map[string]string) error {
	// Struct-based Updates so the files column goes through the json
	// serializer; a column-value Update would hand the raw map to the
	// driver.
	res := s.db.WithContext(ctx).
		Model(&models.Fragment{ID: fragmentID}).
		Select("files").
		Updates(models.Fragment{Files: files})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) FinalizeFragment(ctx context.Context, fragmentID uint, title, commitHash string) error {
	updates := map[string]interface{}{"title": title}
	if commitHash != "" {
		updates["git_commit_hash"] = commitHash
	}
	return s.updateFragment(ctx, fragmentID, updates)
}

func (s *GormStore) SetSnapshot(ctx context.Context, fragmentID uint, imageID, tag string, at time.Time) error {
	return s.updateFragment(ctx, fragmentID, map[string]interface{}{
		"snapshot_image_id":   imageID,
		"snapshot_tag":        tag,
		"snapshot_created_at": at,
	})
}

func (s *GormStore) ClearSnapshot(ctx context.Context, fragmentID uint) error {
	return s.updateFragment(ctx, fragmentID, map[string]interface{}{
		"snapshot_image_id":   "",
		"snapshot_tag":        "",
		"snapshot_created_at": nil,
	})
}

func (s *GormStore) ListSnapshotFragments(ctx context.Context, projectID uint) ([]models.Fragment, error) {
	var frags []models.Fragment
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND snapshot_image_id <> ''", projectID).
		Order("snapshot_created_at DESC").
		Find(&frags).Error
	if err != nil {
		return nil, err
	}
	return frags, nil
}

func (s *GormStore) updateProject(ctx context.Context, id uint, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) updateFragment(ctx context.Context, id uint, updates map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Fragment{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
