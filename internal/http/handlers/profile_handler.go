// Profile HTTP handlers.
//
// Endpoints:
//   - GET    /profile   (current user)
//   - PATCH  /profile   (single-field update over a whitelist)
//   - DELETE /profile   (account deletion, soft)
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/foodio/go-meal-backend/internal/services"
)

// UpdateProfileRequest sets one whitelisted profile column. Value is typed by
// the field: strings for email/sex/diet, YYYY-MM-DD for birth_date, integer
// centimetres for height_cm.
type UpdateProfileRequest struct {
	Field string `json:"field" binding:"required" example:"diet"`
	Value string `json:"value" binding:"required" example:"vegan"`
}

// GetProfile godoc
// @ID          getProfile
// @Summary     Fetch the current user's profile
// @Tags        Profile
// @Produce     json
//
// @Success     200  {object} domain.User
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /profile [get]
func (h *Handlers) GetProfile(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	user, err := h.profileSvc.Get(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, user)
}

// PatchProfile godoc
// @ID          patchProfile
// @Summary     Update one profile field
// @Tags        Profile
// @Accept      json
//
// @Param       body  body  handlers.UpdateProfileRequest  true  "Field and value"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Field not editable"
// @Router      /profile [patch]
func (h *Handlers) PatchProfile(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "field and value required")
		return
	}

	value, err := profileValue(req.Field, req.Value)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	if err := h.profileSvc.UpdateField(c.Request.Context(), uid, req.Field, value); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidField):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "field is not editable")
		case errors.Is(err, services.ErrUserNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// DeleteProfile godoc
// @ID          deleteProfile
// @Summary     Delete the current account
// @Description Soft-deletes the account; the same identity may sign up again later as a fresh user.
// @Tags        Profile
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "User not found"
// @Router      /profile [delete]
func (h *Handlers) DeleteProfile(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	if err := h.profileSvc.Delete(c.Request.Context(), uid); err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// profileValue coerces the string payload into the column's native type.
func profileValue(field, raw string) (any, error) {
	switch field {
	case "birth_date":
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, errors.New("birth_date must be YYYY-MM-DD")
		}
		return t, nil
	case "height_cm":
		cm, err := strconv.Atoi(raw)
		if err != nil || cm < 1 {
			return nil, errors.New("height_cm must be a positive integer")
		}
		return cm, nil
	default:
		return raw, nil
	}
}
