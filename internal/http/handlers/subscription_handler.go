// Subscription HTTP handlers.
//
// Endpoints:
//   - POST /subscription  (register a purchase)
//   - GET  /subscription  (current state)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foodio/go-meal-backend/internal/services"
	"github.com/foodio/go-meal-backend/internal/subscription"
)

// SubscriptionRequest is the JSON payload for purchase registration.
type SubscriptionRequest struct {
	// Receipt is the base64 purchase receipt envelope.
	Receipt string `json:"receipt" binding:"required"`
	// Type is the purchased tier identifier, opaque to the server.
	Type int `json:"type"`
}

// SubscriptionResponse reports the stored subscription state.
type SubscriptionResponse struct {
	Active bool `json:"active"`
	Type   int  `json:"type,omitempty"`
}

// PostSubscription godoc
// @ID          postSubscription
// @Summary     Register a purchase
// @Description Decodes and verifies the receipt with the store; an unverifiable receipt fails with 422.
// @Tags        Subscription
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.SubscriptionRequest  true  "Receipt payload"
//
// @Success     201  {object} handlers.SubscriptionResponse
// @Failure     400  {object} handlers.ErrorResponse "Malformed receipt"
// @Failure     422  {object} handlers.ErrorResponse "Receipt not verified"
// @Router      /subscription [post]
func (h *Handlers) PostSubscription(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	var req SubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "receipt required")
		return
	}

	sub, err := h.subSvc.Register(c.Request.Context(), uid, req.Receipt, req.Type)
	if err != nil {
		switch {
		case errors.Is(err, subscription.ErrMalformedReceipt):
			fail(c, http.StatusBadRequest, ErrCodeMalformedReceipt, "receipt could not be decoded")
		case errors.Is(err, services.ErrReceiptNotVerified):
			fail(c, http.StatusUnprocessableEntity, ErrCodeReceiptNotVerified, "receipt could not be verified")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, SubscriptionResponse{Active: sub.IsActive, Type: sub.SubscriptionType})
}

// GetSubscription godoc
// @ID          getSubscription
// @Summary     Current subscription state
// @Tags        Subscription
// @Produce     json
//
// @Success     200  {object} handlers.SubscriptionResponse
// @Router      /subscription [get]
func (h *Handlers) GetSubscription(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	sub, err := h.subSvc.Status(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	resp := SubscriptionResponse{}
	if sub != nil {
		resp.Active = sub.IsActive
		resp.Type = sub.SubscriptionType
	}
	ok(c, http.StatusOK, resp)
}
