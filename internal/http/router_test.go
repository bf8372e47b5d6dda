package httpapi

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/foodio/go-meal-backend/internal/auth"
	"github.com/foodio/go-meal-backend/internal/config"
	"github.com/foodio/go-meal-backend/internal/domain"
	"github.com/foodio/go-meal-backend/internal/http/middleware"
	"github.com/foodio/go-meal-backend/internal/nutrition"
	"github.com/foodio/go-meal-backend/internal/repo"
)

// --- stub collaborators; routes outside the happy path never touch them ---

type stubTokens struct {
	claims auth.Claims
	err    error
}

func (s stubTokens) Verify(ctx context.Context, token string) (auth.Claims, error) {
	return s.claims, s.err
}

type stubReceipts struct{ active bool }

func (s stubReceipts) Active(ctx context.Context, receiptID string) bool { return s.active }

type stubEstimator struct{}

func (stubEstimator) EstimateMeal(ctx context.Context, imageURL string, uc nutrition.UserContext) (nutrition.Estimate, string, error) {
	return nutrition.Estimate{Name: "salad", Kcal: 200, Proteins: 5, Carbs: 10, Fats: 8}, "", nil
}

func (stubEstimator) AnalyzeProduct(ctx context.Context, name, ingredients string, uc nutrition.UserContext) ([]string, error) {
	return nil, nil
}

func (stubEstimator) PlanGoal(ctx context.Context, req nutrition.GoalRequest) (nutrition.GoalPlan, error) {
	return nutrition.GoalPlan{Kcal: 2000, Protein: 120, Fats: 60, Carbs: 220}, nil
}

type stubProducts struct{}

func (stubProducts) Lookup(ctx context.Context, barcode string) (nutrition.Product, error) {
	return nutrition.Product{}, nutrition.ErrProductNotFound
}

type stubStore struct{}

func (stubStore) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	return nil
}

func (stubStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://store.test/" + key, nil
}

func testDeps(tokens middleware.TokenVerifier) Dependencies {
	return Dependencies{
		Tokens:    tokens,
		Receipts:  stubReceipts{},
		Estimator: stubEstimator{},
		Products:  stubProducts{},
		Store:     stubStore{},
	}
}

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func baseConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		CORS:        config.CORSConfig{},
		Security:    config.SecurityConfig{EnableHSTS: false},
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	db := newTestDB(t, "routerdb")

	RegisterRoutes(r, db, testDeps(stubTokens{err: auth.ErrUnauthorized}), cfg)

	// /health works
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	// CORS (AllowAllOrigins) → header "*"
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}

	// /metrics is wired
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || len(w.Body.Bytes()) == 0 {
		t.Fatalf("GET /metrics bad: code=%d len=%d", w.Code, w.Body.Len())
	}

	// NoRoute → 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}

	// NoMethod → 405 (POST /health)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/health", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	cfg.APIBasePath = "/api/v2"
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	db := newTestDB(t, "routerdb_cors")

	RegisterRoutes(r, db, testDeps(stubTokens{err: auth.ErrUnauthorized}), cfg)

	// Any request runs through CORS middleware; header should reflect origin.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_AuthGate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	db := newTestDB(t, "routerdb_auth")

	RegisterRoutes(r, db, testDeps(stubTokens{claims: auth.Claims{Subject: "sub-router-1", Email: "gate@example.com"}}), cfg)

	// No token → 401 before any handler runs.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated GET /api/v1/profile = %d", w.Code)
	}

	// Valid token → user auto-created from subject, profile returned.
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/profile", nil)
	req.Header.Set("Authorization", "Bearer token")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated GET /api/v1/profile = %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "gate@example.com") {
		t.Fatalf("profile body = %s", w.Body.String())
	}
}

func TestRegisterRoutes_GoalRoundTrip(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	db := newTestDB(t, "routerdb_goal")

	RegisterRoutes(r, db, testDeps(stubTokens{claims: auth.Claims{Subject: "sub-goal-1"}}), cfg)

	body := `{"desired_weight":72.5,"lifestyle":"active","diet":"none","start_date":"2025-01-01","end_date":"2025-06-01"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/goal", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer token")
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /api/v1/goal = %d body=%s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/v1/goal", nil)
	req.Header.Set("Authorization", "Bearer token")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/v1/goal = %d body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "2000") {
		t.Fatalf("expected planned kcal in body, got %s", w.Body.String())
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// tiny cap to trigger MaxBytesReader
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")) // 12 bytes
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// "/" and "" should mount at root
	root1 := groupWithPrefix(r, "/")
	root1.GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	root2 := groupWithPrefix(r, "")
	root2.GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })

	// non-root prefix
	api := groupWithPrefix(r, "/api")
	api.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	// Hit all three
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/one", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "one" {
		t.Fatalf("GET /one got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/two", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "two" {
		t.Fatalf("GET /two got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("GET /api/ping got %d %q", rec.Code, rec.Body.String())
	}
}

// Smoke test that a request traverses idempotency + ratelimit + otel + security headers pipeline.
func TestPipeline_Smoke(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour} // only set on https
	db := newTestDB(t, "routerdb_smoke")
	RegisterRoutes(r, db, testDeps(stubTokens{err: auth.ErrUnauthorized}), cfg)

	// Any request goes through the middleware stack
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	// simulate https so HSTS could be eligible if middleware checks scheme
	req.URL.Scheme = "https"
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("pipeline GET /health = %d", w.Code)
	}
	// RequestID header should be present (from RequestID middleware)
	if rid := w.Header().Get("X-Request-ID"); rid == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRegisterRoutes_MealSubmission_IdempotentReplay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	db := newTestDB(t, "routerdb_idem")
	RegisterRoutes(r, db, testDeps(stubTokens{claims: auth.Claims{Subject: "sub-idem-1"}}), cfg)

	const key = "submit-once-123"

	post := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("image", "lunch.jpg")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		if _, err := part.Write([]byte("jpeg-bytes")); err != nil {
			t.Fatalf("write part: %v", err)
		}
		_ = mw.Close()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/meals", &buf)
		req.Header.Set("Authorization", "Bearer token")
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set(middleware.HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)
		return w
	}

	first := post()
	if first.Code != http.StatusCreated {
		t.Fatalf("first POST /api/v1/meals = %d body=%s", first.Code, first.Body.String())
	}
	if first.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("first submission must not be a replay")
	}

	second := post()
	if second.Code != http.StatusCreated {
		t.Fatalf("second POST /api/v1/meals = %d body=%s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected replay marker on the retry, headers=%v", second.Header())
	}

	var meals int64
	if err := db.Model(&domain.Meal{}).Count(&meals).Error; err != nil {
		t.Fatalf("count meals: %v", err)
	}
	if meals != 1 {
		t.Fatalf("retry must not create a second meal, got %d", meals)
	}
	var records int64
	if err := db.Model(&domain.Idempotency{}).Count(&records).Error; err != nil {
		t.Fatalf("count idempotency records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected exactly 1 idempotency record, got %d", records)
	}
}

func TestRegisterRoutes_MealSubmission_DistinctKeysAreDistinctMeals(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	cfg := baseConfig()
	db := newTestDB(t, "routerdb_idem_keys")
	RegisterRoutes(r, db, testDeps(stubTokens{claims: auth.Claims{Subject: "sub-idem-2"}}), cfg)

	for _, key := range []string{"key-a", "key-b"} {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, _ := mw.CreateFormFile("image", "dinner.jpg")
		_, _ = part.Write([]byte("jpeg-bytes"))
		_ = mw.Close()

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/meals", &buf)
		req.Header.Set("Authorization", "Bearer token")
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set(middleware.HeaderIdempotencyKey, key)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("POST with key %q = %d body=%s", key, w.Code, w.Body.String())
		}
	}

	var meals int64
	if err := db.Model(&domain.Meal{}).Count(&meals).Error; err != nil {
		t.Fatalf("count meals: %v", err)
	}
	if meals != 2 {
		t.Fatalf("distinct keys must create distinct meals, got %d", meals)
	}
}
