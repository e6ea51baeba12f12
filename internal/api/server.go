// Package api exposes user-triggered simulations and goal history over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"GoalSentinel/internal/guard"
	"GoalSentinel/internal/model"
	"GoalSentinel/internal/store"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserHeader identifies the caller. Authentication happens upstream.
const UserHeader = "X-User-ID"

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// Simulations runs guarded, user-triggered simulations.
type Simulations interface {
	Simulate(ctx context.Context, req guard.Request) (*model.SimulationResult, error)
}

// Profiles reads and edits risk profiles.
type Profiles interface {
	GetOrCreate(ctx context.Context, goalID string) (model.RiskProfile, error)
	Update(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error)
}

// Store is the persistence the API needs.
type Store interface {
	GetGoal(ctx context.Context, id string) (model.Goal, error)
	PutGoal(ctx context.Context, g model.Goal) error
	ListResults(ctx context.Context, goalID string, limit int) ([]model.SimulationResult, error)
	ListRebalanceEvents(ctx context.Context, goalID string) ([]model.RebalanceEvent, error)
}

// Server represents the HTTP server.
type Server struct {
	logger   *zap.Logger
	sims     Simulations
	store    Store
	profiles Profiles
	gatherer prometheus.Gatherer
	now      func() time.Time
}

// NewServer creates a new HTTP server. gatherer may be nil to disable /metrics.
func NewServer(logger *zap.Logger, sims Simulations, st Store, profiles Profiles, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{logger: logger, sims: sims, store: st, profiles: profiles, gatherer: gatherer, now: time.Now}
}

// WithClock overrides the clock used to validate goal target dates.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

type simulateRequest struct {
	Iterations *int `json:"iterations"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Router creates the HTTP router.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/api/v1")
	{
		goals := v1.Group("/goals/:goalID", s.userMiddleware())
		goals.PUT("", s.handlePutGoal)
		goals.GET("/risk-profile", s.handleGetProfile)
		goals.PUT("/risk-profile", s.handlePutProfile)
		goals.POST("/simulations", s.handleSimulate)
		goals.GET("/simulations", s.handleListSimulations)
		goals.GET("/rebalances", s.handleListRebalances)
	}
	return router
}

func (s *Server) userMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(UserHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Code: "UNAUTHORIZED", Error: "missing " + UserHeader + " header",
			})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func (s *Server) handleSimulate(c *gin.Context) {
	var req simulateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Code: "INVALID_BODY", Error: err.Error()})
			return
		}
	}
	res, err := s.sims.Simulate(c.Request.Context(), guard.Request{
		UserID:     c.GetString("userID"),
		GoalID:     c.Param("goalID"),
		Iterations: req.Iterations,
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (s *Server) handleListSimulations(c *gin.Context) {
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, errorResponse{
				Code: "INVALID_LIMIT", Error: "limit must be between 1 and " + strconv.Itoa(maxHistoryLimit),
			})
			return
		}
		limit = n
	}
	goalID, ok := s.ownedGoal(c)
	if !ok {
		return
	}
	results, err := s.store.ListResults(c.Request.Context(), goalID, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if results == nil {
		results = []model.SimulationResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleListRebalances(c *gin.Context) {
	goalID, ok := s.ownedGoal(c)
	if !ok {
		return
	}
	events, err := s.store.ListRebalanceEvents(c.Request.Context(), goalID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if events == nil {
		events = []model.RebalanceEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ownedGoal resolves the path goal and hides goals owned by other users.
func (s *Server) ownedGoal(c *gin.Context) (string, bool) {
	goalID := c.Param("goalID")
	goal, err := s.store.GetGoal(c.Request.Context(), goalID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && goal.UserID != c.GetString("userID")) {
		s.writeError(c, &guard.RejectionError{Code: guard.CodeGoalNotFound, Message: "goal " + goalID + " not found"})
		return "", false
	}
	if err != nil {
		s.writeError(c, err)
		return "", false
	}
	return goalID, true
}

// writeError writes a JSON error response with mapped status.
func (s *Server) writeError(c *gin.Context, err error) {
	if rej, ok := guard.AsRejection(err); ok {
		c.JSON(statusFor(rej.Code), errorResponse{Code: rej.Code, Error: rej.Message})
		return
	}
	s.logger.Error("request failed",
		zap.String("path", c.FullPath()), zap.String("goal_id", c.Param("goalID")), zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorResponse{Code: "INTERNAL", Error: "internal error"})
}

func statusFor(code string) int {
	switch code {
	case guard.CodeIterationsTooHigh, guard.CodeInvalidIterations:
		return http.StatusBadRequest
	case guard.CodeGoalNotFound:
		return http.StatusNotFound
	case guard.CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
