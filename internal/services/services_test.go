package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/foodio/go-meal-backend/internal/domain"
	"github.com/foodio/go-meal-backend/internal/nutrition"
	"github.com/foodio/go-meal-backend/internal/repo"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestUser(t *testing.T, db *gorm.DB) *domain.User {
	t.Helper()
	u, err := repo.GetOrCreateUserBySubject(context.Background(), db, "subject-"+uuid.NewString(), "u@example.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// makeReceipt builds a decodable client receipt around the transaction id.
func makeReceipt(id string) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf(`{"original_transaction_id":%q}`, id)))
}

// stubEstimator returns canned answers and records calls.
type stubEstimator struct {
	estimate nutrition.Estimate
	plan     nutrition.GoalPlan
	analysis []string

	estimateCalls int
	lastImageURL  string
	lastContext   nutrition.UserContext
	estimateErr   error
	planErr       error
}

func (s *stubEstimator) EstimateMeal(ctx context.Context, imageURL string, uc nutrition.UserContext) (nutrition.Estimate, string, error) {
	s.estimateCalls++
	s.lastImageURL = imageURL
	s.lastContext = uc
	if s.estimateErr != nil {
		return nutrition.Estimate{}, "", s.estimateErr
	}
	return s.estimate, "raw", nil
}

func (s *stubEstimator) AnalyzeProduct(ctx context.Context, name, ingredients string, uc nutrition.UserContext) ([]string, error) {
	s.lastContext = uc
	return s.analysis, nil
}

func (s *stubEstimator) PlanGoal(ctx context.Context, req nutrition.GoalRequest) (nutrition.GoalPlan, error) {
	if s.planErr != nil {
		return nutrition.GoalPlan{}, s.planErr
	}
	return s.plan, nil
}

// stubProducts answers barcode lookups from a fixed map.
type stubProducts struct {
	products map[string]nutrition.Product
}

func (s *stubProducts) Lookup(ctx context.Context, barcode string) (nutrition.Product, error) {
	p, ok := s.products[barcode]
	if !ok {
		return nutrition.Product{}, nutrition.ErrProductNotFound
	}
	return p, nil
}

// memStore keeps uploads in memory and presigns deterministic URLs.
type memStore struct {
	objects map[string][]byte
}

func newMemStore() *memStore { return &memStore{objects: map[string][]byte{}} }

func (m *memStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *memStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://store.test/" + key, nil
}

// stubVerifier answers subscription checks from a fixed set.
type stubVerifier struct {
	active map[string]bool
}

func (s *stubVerifier) Active(ctx context.Context, id string) bool { return s.active[id] }
