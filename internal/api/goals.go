package api

import (
	"errors"
	"net/http"
	"time"

	"GoalSentinel/internal/guard"
	"GoalSentinel/internal/model"
	"GoalSentinel/internal/riskprofile"
	"GoalSentinel/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	CodeInvalidGoal     = "INVALID_GOAL"
	CodeInvalidProfile  = "INVALID_PROFILE"
	CodeVersionConflict = "VERSION_CONFLICT"
)

type goalRequest struct {
	Name                string           `json:"name"`
	TargetAmount        decimal.Decimal  `json:"target_amount"`
	CurrentAmount       decimal.Decimal  `json:"current_amount"`
	MonthlyContribution decimal.Decimal  `json:"monthly_contribution"`
	TargetDate          time.Time        `json:"target_date"`
	Status              model.GoalStatus `json:"status"`
}

type goalResponse struct {
	ID                  string           `json:"id"`
	UserID              string           `json:"user_id"`
	Name                string           `json:"name"`
	TargetAmount        decimal.Decimal  `json:"target_amount"`
	CurrentAmount       decimal.Decimal  `json:"current_amount"`
	MonthlyContribution decimal.Decimal  `json:"monthly_contribution"`
	TargetDate          time.Time        `json:"target_date"`
	Status              model.GoalStatus `json:"status"`
}

// profileRequest is a partial edit. Version is the version the client read.
type profileRequest struct {
	Version               *int64   `json:"version"`
	Tier                  *string  `json:"tier"`
	AutoRebalance         *bool    `json:"auto_rebalance"`
	MinSuccessProbability *float64 `json:"min_success_probability"`
}

type profileResponse struct {
	GoalID                string         `json:"goal_id"`
	Tier                  model.RiskTier `json:"tier"`
	AutoRebalance         bool           `json:"auto_rebalance"`
	MinSuccessProbability float64        `json:"min_success_probability"`
	LastSimulationAt      *time.Time     `json:"last_simulation_at,omitempty"`
	Version               int64          `json:"version"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

func toGoalResponse(g model.Goal) goalResponse {
	return goalResponse{
		ID:                  g.ID,
		UserID:              g.UserID,
		Name:                g.Name,
		TargetAmount:        g.TargetAmount,
		CurrentAmount:       g.CurrentAmount,
		MonthlyContribution: g.MonthlyContribution,
		TargetDate:          g.TargetDate,
		Status:              g.Status,
	}
}

func toProfileResponse(p model.RiskProfile) profileResponse {
	return profileResponse{
		GoalID:                p.GoalID,
		Tier:                  p.Tier,
		AutoRebalance:         p.AutoRebalance,
		MinSuccessProbability: p.MinSuccessProbability,
		LastSimulationAt:      p.LastSimulationAt,
		Version:               p.Version,
		UpdatedAt:             p.UpdatedAt,
	}
}

// handlePutGoal creates or replaces a goal owned by the caller. A goal id
// held by another user is reported as missing.
func (s *Server) handlePutGoal(c *gin.Context) {
	var req goalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_BODY", Error: err.Error()})
		return
	}

	goalID := c.Param("goalID")
	userID := c.GetString("userID")
	existing, err := s.store.GetGoal(c.Request.Context(), goalID)
	created := errors.Is(err, store.ErrNotFound)
	switch {
	case created:
	case err != nil:
		s.writeError(c, err)
		return
	case existing.UserID != userID:
		s.writeError(c, &guard.RejectionError{Code: guard.CodeGoalNotFound, Message: "goal " + goalID + " not found"})
		return
	}

	goal := model.Goal{
		ID:                  goalID,
		UserID:              userID,
		Name:                req.Name,
		TargetAmount:        req.TargetAmount,
		CurrentAmount:       req.CurrentAmount,
		MonthlyContribution: req.MonthlyContribution,
		TargetDate:          req.TargetDate,
		Status:              req.Status,
	}
	if goal.Status == "" {
		goal.Status = model.GoalActive
	}
	if err := validateGoal(goal, s.now()); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: CodeInvalidGoal, Error: err.Error()})
		return
	}
	if err := s.store.PutGoal(c.Request.Context(), goal); err != nil {
		s.writeError(c, err)
		return
	}
	s.logger.Info("goal saved",
		zap.String("goal_id", goalID), zap.String("user_id", userID), zap.Bool("created", created))

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, toGoalResponse(goal))
}

func validateGoal(g model.Goal, now time.Time) error {
	switch g.Status {
	case model.GoalActive, model.GoalPaused, model.GoalCompleted:
	default:
		return errors.New("status must be one of active, paused, completed")
	}
	return g.Validate(now)
}

func (s *Server) handleGetProfile(c *gin.Context) {
	goalID, ok := s.ownedGoal(c)
	if !ok {
		return
	}
	p, err := s.profiles.GetOrCreate(c.Request.Context(), goalID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(p))
}

// handlePutProfile applies a user edit to the goal's risk profile. The edit
// only lands if the profile is still at the version the client sent.
func (s *Server) handlePutProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_BODY", Error: err.Error()})
		return
	}
	if req.Version == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: CodeInvalidProfile, Error: "version is required"})
		return
	}
	goalID, ok := s.ownedGoal(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	p, err := s.profiles.GetOrCreate(ctx, goalID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	p.Version = *req.Version
	if req.Tier != nil {
		p.Tier = model.RiskTier(*req.Tier)
	}
	if req.AutoRebalance != nil {
		p.AutoRebalance = *req.AutoRebalance
	}
	if req.MinSuccessProbability != nil {
		p.MinSuccessProbability = *req.MinSuccessProbability
	}

	updated, err := s.profiles.Update(ctx, p)
	switch {
	case errors.Is(err, riskprofile.ErrInvalidProfile):
		c.JSON(http.StatusBadRequest, errorResponse{Code: CodeInvalidProfile, Error: err.Error()})
		return
	case errors.Is(err, store.ErrVersionConflict):
		c.JSON(http.StatusConflict, errorResponse{Code: CodeVersionConflict, Error: "risk profile was modified, reload and retry"})
		return
	case err != nil:
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toProfileResponse(updated))
}
