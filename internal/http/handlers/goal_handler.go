// Goal, problem, and weight HTTP handlers.
//
// Endpoints:
//   - POST   /goal            (compute and store a macro goal)
//   - GET    /goal            (latest goal)
//   - PATCH  /goal            (adjust one macro column)
//   - POST   /problems        (declare a problem)
//   - GET    /problems        (list)
//   - PUT    /problems/{id}   (rewrite)
//   - DELETE /problems/{id}   (remove)
//   - POST   /weights         (record a measurement)
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/foodio/go-meal-backend/internal/services"
	"github.com/foodio/go-meal-backend/internal/utils"
)

// GoalRequest is the JSON payload for goal creation.
type GoalRequest struct {
	DesiredWeight float64 `json:"desired_weight" binding:"required,gt=0" example:"78.5"`
	Lifestyle     string  `json:"lifestyle" example:"active"`
	Diet          string  `json:"diet" example:"mediterranean"`
	StartDate     string  `json:"start_date" binding:"required" example:"2025-07-01"`
	EndDate       string  `json:"end_date" binding:"required" example:"2025-10-01"`
	Receipt       string  `json:"receipt"`
}

// UpdateGoalRequest adjusts one macro column of the latest goal.
type UpdateGoalRequest struct {
	Field string `json:"field" binding:"required" example:"kcal"`
	Value int    `json:"value" binding:"required" example:"1800"`
}

// ProblemRequest is the JSON payload for declaring or rewriting a problem.
type ProblemRequest struct {
	Description string `json:"description" binding:"required,min=1" example:"lactose intolerance"`
}

// WeightRequest records a body-weight measurement.
type WeightRequest struct {
	Weight float64 `json:"weight" binding:"required,gt=0" example:"81.2"`
	Date   string  `json:"date" example:"2025-06-15"`
}

// PostGoal godoc
// @ID          postGoal
// @Summary     Compute and store a macro goal
// @Description Admission-gated: consumes one inference request. The model computes daily targets from the profile and desired weight.
// @Tags        Goals
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.GoalRequest  true  "Goal payload"
//
// @Success     201  {object}  domain.Goal
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request / malformed receipt"
// @Failure     429  {object}  handlers.ErrorResponse  "Daily quota exceeded"
// @Router      /goal [post]
func (h *Handlers) PostGoal(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	var req GoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "desired_weight, start_date, end_date required")
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "start_date must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil || !end.After(start) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "end_date must be YYYY-MM-DD after start_date")
		return
	}

	goal, err := h.goalSvc.Create(c.Request.Context(), uid, services.GoalInput{
		DesiredWeight: req.DesiredWeight,
		Lifestyle:     req.Lifestyle,
		Diet:          req.Diet,
		StartDate:     start,
		EndDate:       end,
		Receipt:       req.Receipt,
	})
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
			return
		}
		failService(c, err)
		return
	}
	ok(c, http.StatusCreated, goal)
}

// GetGoal godoc
// @ID          getGoal
// @Summary     Fetch the latest goal
// @Tags        Goals
// @Produce     json
//
// @Success     200  {object} domain.Goal
// @Failure     404  {object} handlers.ErrorResponse "No goal yet"
// @Router      /goal [get]
func (h *Handlers) GetGoal(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	goal, err := h.goalSvc.Latest(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, services.ErrGoalNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no goal yet")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, goal)
}

// PatchGoal godoc
// @ID          patchGoal
// @Summary     Adjust one macro column of the latest goal
// @Tags        Goals
// @Accept      json
//
// @Param       body  body  handlers.UpdateGoalRequest  true  "Field and value"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Field not editable"
// @Failure     404  {object} handlers.ErrorResponse "No goal yet"
// @Router      /goal [patch]
func (h *Handlers) PatchGoal(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	var req UpdateGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "field and value required")
		return
	}

	if err := h.goalSvc.UpdateField(c.Request.Context(), uid, req.Field, req.Value); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidField):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "field is not editable")
		case errors.Is(err, services.ErrGoalNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no goal yet")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// PostProblem godoc
// @ID          postProblem
// @Summary     Declare a dietary problem
// @Tags        Problems
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.ProblemRequest  true  "Problem payload"
//
// @Success     201  {object} domain.Problem
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /problems [post]
func (h *Handlers) PostProblem(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	var req ProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "description required")
		return
	}

	p, err := h.goalSvc.AddProblem(c.Request.Context(), uid, req.Description)
	if err != nil {
		if errors.Is(err, services.ErrProblemTooLong) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "description too long")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, p)
}

// ListProblems godoc
// @ID          listProblems
// @Summary     List declared problems
// @Tags        Problems
// @Produce     json
//
// @Param       limit  query  int  false  "Maximum rows"  default(10)
//
// @Success     200  {array} domain.Problem
// @Router      /problems [get]
func (h *Handlers) ListProblems(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	limit := utils.AtoiDefault(c.Query("limit"), 0)
	list, err := h.goalSvc.ListProblems(c.Request.Context(), uid, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, list)
}

// PutProblem godoc
// @ID          putProblem
// @Summary     Rewrite a declared problem
// @Tags        Problems
// @Accept      json
//
// @Param       id    path  int                      true  "Problem ID"
// @Param       body  body  handlers.ProblemRequest  true  "New description"
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Problem not found"
// @Router      /problems/{id} [put]
func (h *Handlers) PutProblem(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}

	var req ProblemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "description required")
		return
	}

	if err := h.goalSvc.UpdateProblem(c.Request.Context(), uid, id, req.Description); err != nil {
		switch {
		case errors.Is(err, services.ErrProblemTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "description too long")
		case errors.Is(err, services.ErrProblemNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "problem not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// DeleteProblem godoc
// @ID          deleteProblem
// @Summary     Remove a declared problem
// @Tags        Problems
//
// @Param       id  path  int  true  "Problem ID"
//
// @Success     204  {string} string "No Content"
// @Failure     404  {object} handlers.ErrorResponse "Problem not found"
// @Router      /problems/{id} [delete]
func (h *Handlers) DeleteProblem(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}
	id, valid := pathID(c)
	if !valid {
		return
	}

	if err := h.goalSvc.DeleteProblem(c.Request.Context(), uid, id); err != nil {
		if errors.Is(err, services.ErrProblemNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "problem not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// PostWeight godoc
// @ID          postWeight
// @Summary     Record a body-weight measurement
// @Tags        Weights
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.WeightRequest  true  "Weight payload"
//
// @Success     201  {object} domain.WeightEntry
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Router      /weights [post]
func (h *Handlers) PostWeight(c *gin.Context) {
	uid, authed := mustUserID(c)
	if !authed {
		return
	}

	var req WeightRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "weight must be positive")
		return
	}
	var date time.Time
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	entry, err := h.goalSvc.AddWeight(c.Request.Context(), uid, req.Weight, date)
	if err != nil {
		if errors.Is(err, services.ErrInvalidWeight) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "weight must be positive")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, entry)
}
