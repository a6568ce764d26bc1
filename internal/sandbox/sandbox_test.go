package sandbox

import (
	"testing"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/store"
	"github.com/Hollayemi/shp-sub005/pkg/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Project{}, &models.Fragment{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.NewGormStore(db)
}

func createTestProject(t *testing.T, st *store.GormStore, template string) *models.Project {
	t.Helper()

	p := &models.Project{Name: "test-app", Template: template}
	if err := st.CreateProject(t.Context(), p); err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func createTestFragment(t *testing.T, st *store.GormStore, projectID uint, files map[string]string) *models.Fragment {
	t.Helper()

	f := &models.Fragment{ProjectID: projectID, Files: files}
	if err := st.CreateFragment(t.Context(), f); err != nil {
		t.Fatalf("create fragment: %v", err)
	}
	return f
}

func attachSnapshot(t *testing.T, st *store.GormStore, fragmentID uint, imageID string, at time.Time) {
	t.Helper()

	if err := st.SetSnapshot(t.Context(), fragmentID, imageID, "tag-"+imageID, at); err != nil {
		t.Fatalf("set snapshot: %v", err)
	}
}
