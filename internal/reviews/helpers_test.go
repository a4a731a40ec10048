package reviews

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%04d", p.next), nil
}

type recordingAssets struct {
	mu      sync.Mutex
	removed []string
	err     error
}

func (r *recordingAssets) RemoveByURL(_ context.Context, rawURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.removed = append(r.removed, rawURL)
	return nil
}

func (r *recordingAssets) removedURLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

type testEnv struct {
	service *Service
	db      *gorm.DB
	assets  *recordingAssets
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "reviews.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return newTestEnvOn(t, db, &sequenceIDProvider{})
}

// newTestEnvOn builds another service over db, the way a second API replica
// shares one database.
func newTestEnvOn(t *testing.T, db *gorm.DB, ids IDProvider) testEnv {
	t.Helper()
	assets := &recordingAssets{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return testNow },
		IDProvider: ids,
		Assets:     assets,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return testEnv{service: service, db: db, assets: assets}
}

func (env testEnv) user(t *testing.T, email string) User {
	t.Helper()
	user, err := env.service.EnsureUser(context.Background(), UserIdentity{Email: email})
	if err != nil {
		t.Fatalf("ensure user %s: %v", email, err)
	}
	return user
}

func (env testEnv) unit(t *testing.T, code string) Unit {
	t.Helper()
	unit, err := env.service.CreateUnit(context.Background(), UnitInput{Code: code, Name: "Unit " + code})
	if err != nil {
		t.Fatalf("create unit %s: %v", code, err)
	}
	return unit
}

func (env testEnv) review(t *testing.T, author User, unitCode string, overall float64) Review {
	t.Helper()
	review, err := env.service.CreateReview(context.Background(), author.ID, unitCode, reviewInput(overall))
	if err != nil {
		t.Fatalf("create review on %s: %v", unitCode, err)
	}
	return review
}

func (env testEnv) reloadUnit(t *testing.T, code string) Unit {
	t.Helper()
	unit, err := env.service.GetUnit(context.Background(), code)
	if err != nil {
		t.Fatalf("reload unit %s: %v", code, err)
	}
	return unit
}

func (env testEnv) reloadReview(t *testing.T, id string) Review {
	t.Helper()
	review, err := env.service.GetReview(context.Background(), id)
	if err != nil {
		t.Fatalf("reload review %s: %v", id, err)
	}
	return review
}

func (env testEnv) count(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var total int64
	if err := env.db.Model(model).Where(query, args...).Count(&total).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return total
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if !apperr.Is(err, kind) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

func reviewInput(overall float64) ReviewInput {
	return ReviewInput{
		Title:           "Solid unit",
		Semester:        1,
		Year:            2024,
		Grade:           "HD",
		OverallRating:   overall,
		RelevancyRating: overall,
		FacultyRating:   overall,
		ContentRating:   overall,
		Description:     "Weekly labs were useful.",
	}
}
