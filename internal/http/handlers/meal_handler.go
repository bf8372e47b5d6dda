// Meal HTTP handlers.
//
// This file exposes REST endpoints for meal resources:
//   - POST   /meals            (photo submission)
//   - POST   /meals/barcode    (product-scan submission)
//   - GET    /meals            (list, paginated, ETag support)
//   - GET    /meals/day        (one day's meals with macro totals)
//   - GET    /meals/{id}       (single meal with warnings)
//   - PATCH  /meals/{id}/added (journal flag)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Submission endpoints forward the
// optional purchase receipt so admission can reconcile subscription state.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/foodio/go-meal-backend/internal/domain"
	"github.com/foodio/go-meal-backend/internal/http/middleware"
	"github.com/foodio/go-meal-backend/internal/repo"
	"github.com/foodio/go-meal-backend/internal/services"
	"github.com/foodio/go-meal-backend/internal/subscription"
	"github.com/foodio/go-meal-backend/internal/utils"
)

// maxUploadBytes caps a single meal photo.
const maxUploadBytes = 10 << 20

//
// Service contracts (context-aware)
//

// MealService defines meal operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MealService interface {
	// AddMeal runs the admitted photo pipeline and returns the stored meal.
	AddMeal(ctx context.Context, userID int64, in services.MealInput) (*domain.Meal, error)
	// AddMealFromBarcode resolves a product scan into a stored meal.
	AddMealFromBarcode(ctx context.Context, userID int64, in services.BarcodeInput) (*domain.Meal, error)
	// Get fetches one meal with its warnings.
	Get(ctx context.Context, userID, mealID int64) (*domain.Meal, error)
	// ListPage returns a page of meals for a user and the total count.
	ListPage(ctx context.Context, userID int64, page, pageSize int) ([]domain.Meal, int64, error)
	// ByDay returns one UTC day's meals with macro totals.
	ByDay(ctx context.Context, userID int64, t time.Time) ([]domain.Meal, services.DayTotals, error)
	// SetAdded flips the journal flag on a meal.
	SetAdded(ctx context.Context, userID, mealID int64, added bool) error
}

// GoalService defines goal, problem, and weight operations consumed by HTTP
// handlers.
type GoalService interface {
	Create(ctx context.Context, userID int64, in services.GoalInput) (*domain.Goal, error)
	Latest(ctx context.Context, userID int64) (*domain.Goal, error)
	UpdateField(ctx context.Context, userID int64, field string, value int) error
	AddProblem(ctx context.Context, userID int64, description string) (*domain.Problem, error)
	ListProblems(ctx context.Context, userID int64, limit int) ([]domain.Problem, error)
	UpdateProblem(ctx context.Context, userID, id int64, description string) error
	DeleteProblem(ctx context.Context, userID, id int64) error
	AddWeight(ctx context.Context, userID int64, weight float64, date time.Time) (*domain.WeightEntry, error)
}

// ProfileService defines user-profile operations consumed by HTTP handlers.
type ProfileService interface {
	Get(ctx context.Context, userID int64) (*domain.User, error)
	UpdateField(ctx context.Context, userID int64, field string, value any) error
	Delete(ctx context.Context, userID int64) error
}

// SubscriptionService defines purchase-registration operations consumed by
// HTTP handlers.
type SubscriptionService interface {
	Register(ctx context.Context, userID int64, rawReceipt string, subscriptionType int) (*domain.Subscription, error)
	Status(ctx context.Context, userID int64) (*domain.Subscription, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for meals, goals, profiles, and
// subscriptions. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	mealSvc    MealService
	goalSvc    GoalService
	profileSvc ProfileService
	subSvc     SubscriptionService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(mealSvc MealService, goalSvc GoalService, profileSvc ProfileService, subSvc SubscriptionService) *Handlers {
	return &Handlers{mealSvc: mealSvc, goalSvc: goalSvc, profileSvc: profileSvc, subSvc: subSvc}
}

// userID extracts the authenticated user id from Gin context (set by the auth
// middleware). If absent, it falls back to the "X-User-ID" header (tests use
// it). The second return is false when no identity is present.
func userID(c *gin.Context) (int64, bool) {
	if v, ok := c.Get("userID"); ok {
		if id, ok := v.(int64); ok && id > 0 {
			return id, true
		}
	}
	if c != nil && c.Request != nil {
		if h := c.GetHeader("X-User-ID"); h != "" {
			if id, err := strconv.ParseInt(h, 10, 64); err == nil && id > 0 {
				return id, true
			}
		}
	}
	return 0, false
}

// mustUserID resolves the user id or aborts with 401.
func mustUserID(c *gin.Context) (int64, bool) {
	id, ok := userID(c)
	if !ok {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
	}
	return id, ok
}

// requestLanguage picks the first Accept-Language tag, defaulting to und.
func requestLanguage(c *gin.Context) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(c.GetHeader("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.Und
	}
	return tags[0]
}

// failService translates service-layer errors into HTTP responses. It covers
// the error values shared by submission endpoints (admission denials and
// malformed receipts); callers handle their endpoint-specific errors first.
func failService(c *gin.Context, err error) {
	var denied *subscription.DeniedError
	switch {
	case errors.As(err, &denied):
		d := denied.Decision
		if d.Reason == subscription.DenyQuotaExceeded && !d.RetryAfter.IsZero() {
			c.Header("Retry-After", d.RetryAfter.UTC().Format(http.TimeFormat))
			fail(c, d.HTTPStatus(), ErrCodeQuotaExceeded, "daily request limit reached")
			return
		}
		fail(c, d.HTTPStatus(), ErrCodeSubscriptionExpired, "subscription is not active")
	case errors.Is(err, subscription.ErrMalformedReceipt):
		fail(c, http.StatusBadRequest, ErrCodeMalformedReceipt, "receipt could not be decoded")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// DTOs
//

// BarcodeRequest is the JSON payload for a product-scan submission.
type BarcodeRequest struct {
	// Barcode is the scanned EAN/UPC.
	Barcode string `json:"bar_code" binding:"required" example:"5201360500017"`
	// Receipt optionally carries the purchase receipt for admission.
	Receipt string `json:"receipt"`
}

// SetAddedRequest is the JSON payload for the journal flag.
type SetAddedRequest struct {
	Added *bool `json:"added" binding:"required"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListMealsResponse wraps a page of meals and pagination information.
type ListMealsResponse struct {
	Meals      []domain.Meal `json:"meals"`
	Pagination Pagination    `json:"pagination"`
}

// DayResponse wraps one day's meals with their macro totals.
type DayResponse struct {
	Meals  []domain.Meal      `json:"meals"`
	Totals services.DayTotals `json:"totals"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// idempotencyStore exposes the DB handle and replay TTL for keyed submission
// endpoints. It returns false when the meal service is not the concrete
// implementation (stub services in tests), in which case keys are accepted
// but not persisted.
func (h *Handlers) idempotencyStore() (*gorm.DB, time.Duration, bool) {
	svc, isConcrete := h.mealSvc.(*services.MealService)
	if !isConcrete || svc.DB == nil {
		return nil, 0, false
	}
	ttl := svc.IdempotencyTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return svc.DB, ttl, true
}

// replayIdempotent serves the previously stored meal for (uid, key) when one
// exists and has not expired. It reports whether a replay was written.
func (h *Handlers) replayIdempotent(c *gin.Context, uid int64, key string) bool {
	db, _, okStore := h.idempotencyStore()
	if !okStore {
		return false
	}
	ctx := c.Request.Context()
	rec, err := repo.GetIdempotency(ctx, db, uid, key, time.Now().UTC())
	if err != nil || rec == nil {
		return false
	}
	prev, err := repo.GetMeal(ctx, db, rec.MealID, uid)
	if err != nil {
		return false
	}
	c.Header("Idempotency-Replayed", "true")
	ok(c, rec.Status, prev)
	return true
}

// recordIdempotent persists the submission result for (uid, key). Best
// effort: a lost record only costs a retry its dedupe.
func (h *Handlers) recordIdempotent(c *gin.Context, uid int64, key string, mealID int64, status int) {
	db, ttl, okStore := h.idempotencyStore()
	if !okStore {
		return
	}
	_, _ = repo.CreateIdempotency(c.Request.Context(), db, uid, key, mealID, status, ttl)
}

// pathID parses the :id path param as a positive integer.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

//
// Handlers
//

// PostMeal godoc
// @ID          postMeal
// @Summary     Submit a meal photo
// @Description Uploads a meal photo, runs admission and nutrition inference, and returns the stored meal with warnings.
// @Tags        Meals
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       image     formData  file    true  "Meal photo"
// @Param       receipt   formData  string  false "Purchase receipt (base64 envelope)"
// @Param       latitude  formData  number  false "Capture latitude"
// @Param       longitude formData  number  false "Capture longitude"
//
// @Success     201  {object}  domain.Meal
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request / malformed receipt"
// @Failure     403  {object}  handlers.ErrorResponse  "Subscription expired"
// @Failure     429  {object}  handlers.ErrorResponse  "Daily quota exceeded"
// @Router      /meals [post]
func (h *Handlers) PostMeal(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	// Idempotency (replay path): a stored result for this key short-circuits
	// the pipeline so retries never re-run billable work.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.replayIdempotent(c, uid, idemKey) {
		return
	}

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image file required")
		return
	}
	defer file.Close()
	if header.Size > maxUploadBytes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image too large")
		return
	}

	in := services.MealInput{
		Image:       file,
		ContentType: header.Header.Get("Content-Type"),
		Receipt:     c.PostForm("receipt"),
		Language:    requestLanguage(c),
	}
	if v, err := strconv.ParseFloat(c.PostForm("latitude"), 64); err == nil {
		in.Latitude = &v
	}
	if v, err := strconv.ParseFloat(c.PostForm("longitude"), 64); err == nil {
		in.Longitude = &v
	}

	meal, err := h.mealSvc.AddMeal(c.Request.Context(), uid, in)
	if err != nil {
		if errors.Is(err, services.ErrEmptyImage) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "image is empty")
			return
		}
		failService(c, err)
		return
	}

	// Idempotency (store path): best effort.
	if idemKey != "" {
		h.recordIdempotent(c, uid, idemKey, meal.ID, http.StatusCreated)
	}
	ok(c, http.StatusCreated, meal)
}

// PostMealBarcode godoc
// @ID          postMealBarcode
// @Summary     Submit a product scan
// @Description Resolves a barcode against the product database and logs the meal with vendor macros.
// @Tags        Meals
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.BarcodeRequest  true  "Barcode payload"
//
// @Success     201  {object}  domain.Meal
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request / malformed receipt"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown barcode"
// @Failure     429  {object}  handlers.ErrorResponse  "Daily quota exceeded"
// @Router      /meals/barcode [post]
func (h *Handlers) PostMealBarcode(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" && h.replayIdempotent(c, uid, idemKey) {
		return
	}

	var req BarcodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "bar_code required")
		return
	}

	meal, err := h.mealSvc.AddMealFromBarcode(c.Request.Context(), uid, services.BarcodeInput{
		Barcode:  req.Barcode,
		Receipt:  req.Receipt,
		Language: requestLanguage(c),
	})
	if err != nil {
		if errors.Is(err, services.ErrProductNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "product not found")
			return
		}
		failService(c, err)
		return
	}

	if idemKey != "" {
		h.recordIdempotent(c, uid, idemKey, meal.ID, http.StatusCreated)
	}
	ok(c, http.StatusCreated, meal)
}

// ListMeals godoc
// @ID          listMeals
// @Summary     List meals (paginated)
// @Description Returns a page of the user's meals, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Meals
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMealsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Router      /meals [get]
func (h *Handlers) ListMeals(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, isConcrete := h.mealSvc.(*services.MealService); isConcrete {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.MealsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"meals:%d:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.mealSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMealsResponse{
		Meals: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// MealsByDay godoc
// @ID          mealsByDay
// @Summary     One day's meals with totals
// @Description Returns the meals eaten on the given UTC day (default today) plus macro totals.
// @Tags        Meals
// @Produce     json
//
// @Param       date  query  string  false  "Day (YYYY-MM-DD, UTC)"  example(2025-06-15)
//
// @Success     200  {object} handlers.DayResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad date"
// @Router      /meals/day [get]
func (h *Handlers) MealsByDay(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	day := time.Now().UTC()
	if q := c.Query("date"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "date must be YYYY-MM-DD")
			return
		}
		day = parsed
	}

	meals, totals, err := h.mealSvc.ByDay(c.Request.Context(), uid, day)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, DayResponse{Meals: meals, Totals: totals})
}

// GetMeal godoc
// @ID          getMeal
// @Summary     Fetch one meal
// @Tags        Meals
// @Produce     json
//
// @Param       id  path  int  true  "Meal ID"
//
// @Success     200  {object} domain.Meal
// @Failure     404  {object} handlers.ErrorResponse "Meal not found"
// @Router      /meals/{id} [get]
func (h *Handlers) GetMeal(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}

	meal, err := h.mealSvc.Get(c.Request.Context(), uid, id)
	if err != nil {
		if errors.Is(err, services.ErrMealNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "meal not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, meal)
}

// SetMealAdded godoc
// @ID          setMealAdded
// @Summary     Flip the journal flag on a meal
// @Tags        Meals
// @Accept      json
//
// @Param       id    path  int                        true  "Meal ID"
// @Param       body  body  handlers.SetAddedRequest   true  "Flag payload"
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Meal not found"
// @Router      /meals/{id}/added [patch]
func (h *Handlers) SetMealAdded(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}

	var req SetAddedRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Added == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "added flag required")
		return
	}

	if err := h.mealSvc.SetAdded(c.Request.Context(), uid, id, *req.Added); err != nil {
		if errors.Is(err, services.ErrMealNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "meal not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
