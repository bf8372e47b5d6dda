package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/foodio/go-meal-backend/internal/domain"
	"github.com/foodio/go-meal-backend/internal/services"
)

func TestGetProfile_NotFound_And_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)

	profile := stubProfileSvc{
		get: func(ctx context.Context, uid int64) (*domain.User, error) {
			if uid == 404 {
				return nil, services.ErrUserNotFound
			}
			return &domain.User{ID: uid, Email: "p@example.com", Diet: "vegan"}, nil
		},
	}
	h := newTestHandlers(nil, nil, profile, nil)
	r := gin.New()
	r.GET("/profile", h.GetProfile)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("X-User-ID", "404")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("deleted user -> %d", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("X-User-ID", "6")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("profile -> %d", w.Code)
	}
	var out domain.User
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if out.Email != "p@example.com" || out.Diet != "vegan" {
		t.Fatalf("unexpected profile: %+v", out)
	}
}

func TestPatchProfile_ValueCoercion(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotField string
	var gotValue any
	profile := stubProfileSvc{
		updateField: func(ctx context.Context, uid int64, field string, value any) error {
			gotField, gotValue = field, value
			if field == "subject" {
				return services.ErrInvalidField
			}
			return nil
		},
	}
	h := newTestHandlers(nil, nil, profile, nil)
	r := gin.New()
	r.PATCH("/profile", h.PatchProfile)

	patch := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/profile", bytes.NewBufferString(body))
		req.Header.Set("X-User-ID", "1")
		r.ServeHTTP(w, req)
		return w
	}

	// string field passes through
	if w := patch(`{"field":"diet","value":"keto"}`); w.Code != http.StatusNoContent {
		t.Fatalf("diet -> %d", w.Code)
	}
	if gotField != "diet" || gotValue != "keto" {
		t.Fatalf("forwarded (%q, %v)", gotField, gotValue)
	}

	// height_cm coerced to int
	if w := patch(`{"field":"height_cm","value":"182"}`); w.Code != http.StatusNoContent {
		t.Fatalf("height -> %d", w.Code)
	}
	if gotValue != 182 {
		t.Fatalf("height value = %v (%T)", gotValue, gotValue)
	}

	// birth_date coerced to time.Time
	if w := patch(`{"field":"birth_date","value":"1990-04-01"}`); w.Code != http.StatusNoContent {
		t.Fatalf("birth_date -> %d", w.Code)
	}
	if ts, isTime := gotValue.(time.Time); !isTime || ts.Year() != 1990 {
		t.Fatalf("birth_date value = %v (%T)", gotValue, gotValue)
	}

	// invalid coercions -> 400 before the service runs
	if w := patch(`{"field":"height_cm","value":"tall"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad height -> %d", w.Code)
	}
	if w := patch(`{"field":"birth_date","value":"01/04/1990"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad birth_date -> %d", w.Code)
	}

	// non-editable column -> 400
	if w := patch(`{"field":"subject","value":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("subject -> %d", w.Code)
	}
}

func TestDeleteProfile(t *testing.T) {
	gin.SetMode(gin.TestMode)

	deleted := map[int64]bool{}
	profile := stubProfileSvc{
		delete: func(ctx context.Context, uid int64) error {
			if deleted[uid] {
				return services.ErrUserNotFound
			}
			deleted[uid] = true
			return nil
		},
	}
	h := newTestHandlers(nil, nil, profile, nil)
	r := gin.New()
	r.DELETE("/profile", h.DeleteProfile)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, "/profile", nil)
	req.Header.Set("X-User-ID", "9")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete -> %d", w.Code)
	}

	// second delete of the same account -> 404
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodDelete, "/profile", nil)
	req.Header.Set("X-User-ID", "9")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("double delete -> %d", w.Code)
	}
}
