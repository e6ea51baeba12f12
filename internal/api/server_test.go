package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"GoalSentinel/internal/guard"
	"GoalSentinel/internal/metrics"
	"GoalSentinel/internal/model"
	"GoalSentinel/internal/riskprofile"
	"GoalSentinel/internal/simulation"
	"GoalSentinel/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var now = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

type testServer struct {
	router *gin.Engine
	store  *store.MemoryStore
	clock  time.Time
}

func newTestServer(t *testing.T) *testServer {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)
	ts := &testServer{store: store.NewMemoryStore(), clock: now}
	clock := func() time.Time { return ts.clock }

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	engine := simulation.NewEngine(ts.store, ts.store, simulation.Options{
		Sources: simulation.SeededSources(11), Workers: 2, Now: clock, Logger: logger, Metrics: m,
	})
	profiles := riskprofile.NewRegistry(ts.store, clock, logger)
	g := guard.New(engine, ts.store, profiles, ts.store, guard.Config{
		MaxIterations:     10000,
		DefaultIterations: 500,
		Cooldown:          60 * time.Second,
		FailOpen:          true,
	}, logger, m).WithClock(clock)

	require.NoError(t, ts.store.PutGoal(context.Background(), model.Goal{
		ID: "g1", UserID: "u1", Name: "House",
		TargetAmount:        decimal.NewFromInt(50000),
		CurrentAmount:       decimal.Zero,
		MonthlyContribution: decimal.NewFromInt(500),
		TargetDate:          now.AddDate(5, 0, 0),
		Status:              model.GoalActive,
	}))
	ts.router = NewServer(logger, g, ts.store, profiles, reg).WithClock(clock).Router()
	return ts
}

func (ts *testServer) do(method, path, user, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestSimulateCreatesResult(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/v1/goals/g1/simulations", "u1", `{"iterations":1000}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res model.SimulationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "g1", res.GoalID)
	assert.Equal(t, 1000, res.Iterations)
	assert.Equal(t, model.TriggerManual, res.Trigger)
	assert.Equal(t, model.TierModerate, res.RiskTier)
	assert.LessOrEqual(t, res.P10, res.P50)
	assert.LessOrEqual(t, res.P50, res.P90)
}

func TestSimulateDefaultsIterationsWithoutBody(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/v1/goals/g1/simulations", "u1", "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res model.SimulationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, 500, res.Iterations)
}

func TestSimulateErrors(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		goal     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"too many iterations", "u1", "g1", `{"iterations":50000}`, http.StatusBadRequest, guard.CodeIterationsTooHigh},
		{"negative iterations", "u1", "g1", `{"iterations":-5}`, http.StatusBadRequest, guard.CodeInvalidIterations},
		{"explicit zero iterations", "u1", "g1", `{"iterations":0}`, http.StatusBadRequest, guard.CodeInvalidIterations},
		{"unknown goal", "u1", "nope", `{"iterations":100}`, http.StatusNotFound, guard.CodeGoalNotFound},
		{"foreign goal", "u2", "g1", `{"iterations":100}`, http.StatusNotFound, guard.CodeGoalNotFound},
		{"bad body", "u1", "g1", `{"iterations":"many"}`, http.StatusBadRequest, "INVALID_BODY"},
		{"missing user", "", "g1", `{"iterations":100}`, http.StatusUnauthorized, "UNAUTHORIZED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(http.MethodPost, "/api/v1/goals/"+tt.goal+"/simulations", tt.user, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, w).Code)
		})
	}
}

func TestSimulateCooldown(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodPost, "/api/v1/goals/g1/simulations", "u1", `{"iterations":200}`)
	require.Equal(t, http.StatusCreated, w.Code)

	ts.clock = now.Add(30 * time.Second)
	w = ts.do(http.MethodPost, "/api/v1/goals/g1/simulations", "u1", `{"iterations":200}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, guard.CodeRateLimited, decodeError(t, w).Code)

	ts.clock = now.Add(61 * time.Second)
	w = ts.do(http.MethodPost, "/api/v1/goals/g1/simulations", "u1", `{"iterations":200}`)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestListSimulations(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/api/v1/goals/g1/simulations", "u1", "").Code)

	w := ts.do(http.MethodGet, "/api/v1/goals/g1/simulations?limit=5", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Results []model.SimulationResult `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Results, 1)

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/api/v1/goals/g1/simulations?limit=0", "u1", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/v1/goals/g1/simulations", "u2", "").Code)
}

func TestListRebalances(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/v1/goals/g1/rebalances", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"events":[]}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(http.MethodPost, "/api/v1/goals/g1/simulations", "u1", `{"iterations":50000}`)

	w := ts.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ITERATIONS_TOO_HIGH")
}

func TestPutGoalCreatesThenReplaces(t *testing.T) {
	ts := newTestServer(t)
	body := `{"name":"Car","target_amount":"20000","current_amount":"1500.50","monthly_contribution":300,"target_date":"2029-10-18T00:00:00Z"}`
	w := ts.do(http.MethodPut, "/api/v1/goals/g2", "u1", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	g, err := ts.store.GetGoal(context.Background(), "g2")
	require.NoError(t, err)
	assert.Equal(t, "u1", g.UserID)
	assert.Equal(t, model.GoalActive, g.Status)
	assert.True(t, g.CurrentAmount.Equal(decimal.RequireFromString("1500.50")))

	body = `{"name":"Car","target_amount":"20000","current_amount":"2000","monthly_contribution":"300","target_date":"2029-10-18T00:00:00Z","status":"paused"}`
	w = ts.do(http.MethodPut, "/api/v1/goals/g2", "u1", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	g, err = ts.store.GetGoal(context.Background(), "g2")
	require.NoError(t, err)
	assert.Equal(t, model.GoalPaused, g.Status)
	assert.True(t, g.CurrentAmount.Equal(decimal.NewFromInt(2000)))

	w = ts.do(http.MethodPost, "/api/v1/goals/g2/simulations", "u1", "")
	assert.Equal(t, http.StatusCreated, w.Code, "a stored goal can be simulated")
}

func TestPutGoalErrors(t *testing.T) {
	valid := `{"target_amount":"1000","target_date":"2030-01-01T00:00:00Z"}`
	tests := []struct {
		name     string
		user     string
		goal     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"goal of another user", "u2", "g1", valid, http.StatusNotFound, guard.CodeGoalNotFound},
		{"target date in the past", "u1", "g3", `{"target_amount":"1000","target_date":"2020-01-01T00:00:00Z"}`, http.StatusBadRequest, CodeInvalidGoal},
		{"negative contribution", "u1", "g3", `{"target_amount":"1000","monthly_contribution":"-5","target_date":"2030-01-01T00:00:00Z"}`, http.StatusBadRequest, CodeInvalidGoal},
		{"unknown status", "u1", "g3", `{"target_amount":"1000","target_date":"2030-01-01T00:00:00Z","status":"archived"}`, http.StatusBadRequest, CodeInvalidGoal},
		{"bad body", "u1", "g3", `{"target_amount":"lots"}`, http.StatusBadRequest, "INVALID_BODY"},
		{"missing user", "", "g3", valid, http.StatusUnauthorized, "UNAUTHORIZED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(http.MethodPut, "/api/v1/goals/"+tt.goal, tt.user, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, w).Code)
		})
	}

	ts := newTestServer(t)
	ts.do(http.MethodPut, "/api/v1/goals/g1", "u2", valid)
	g, err := ts.store.GetGoal(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "u1", g.UserID, "the owner is never reassigned")
}

type profileBody struct {
	Tier                  model.RiskTier `json:"tier"`
	AutoRebalance         bool           `json:"auto_rebalance"`
	MinSuccessProbability float64        `json:"min_success_probability"`
	Version               int64          `json:"version"`
}

func decodeProfile(t *testing.T, w *httptest.ResponseRecorder) profileBody {
	t.Helper()
	var p profileBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestRiskProfileEditUsesVersion(t *testing.T) {
	ts := newTestServer(t)
	w := ts.do(http.MethodGet, "/api/v1/goals/g1/risk-profile", "u1", "")
	require.Equal(t, http.StatusOK, w.Code)
	p := decodeProfile(t, w)
	assert.Equal(t, model.TierModerate, p.Tier)
	assert.Equal(t, int64(1), p.Version)

	w = ts.do(http.MethodPut, "/api/v1/goals/g1/risk-profile", "u1",
		`{"version":1,"tier":"aggressive","auto_rebalance":true}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	p = decodeProfile(t, w)
	assert.Equal(t, model.TierAggressive, p.Tier)
	assert.True(t, p.AutoRebalance)
	assert.Equal(t, 0.70, p.MinSuccessProbability, "omitted fields are kept")
	assert.Equal(t, int64(2), p.Version)

	w = ts.do(http.MethodPut, "/api/v1/goals/g1/risk-profile", "u1", `{"version":1,"tier":"conservative"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, CodeVersionConflict, decodeError(t, w).Code)

	stored, err := ts.store.GetProfile(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, model.TierAggressive, stored.Tier, "the stale edit is not applied")

	w = ts.do(http.MethodPost, "/api/v1/goals/g1/simulations", "u1", `{"iterations":200}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var res model.SimulationResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, model.TierAggressive, res.RiskTier)
}

func TestRiskProfileEditErrors(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"goal of another user", "u2", `{"version":1,"tier":"aggressive"}`, http.StatusNotFound, guard.CodeGoalNotFound},
		{"missing version", "u1", `{"tier":"aggressive"}`, http.StatusBadRequest, CodeInvalidProfile},
		{"unknown tier", "u1", `{"version":1,"tier":"reckless"}`, http.StatusBadRequest, CodeInvalidProfile},
		{"threshold above one", "u1", `{"version":1,"min_success_probability":1.2}`, http.StatusBadRequest, CodeInvalidProfile},
		{"bad body", "u1", `{"version":"one"}`, http.StatusBadRequest, "INVALID_BODY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			w := ts.do(http.MethodPut, "/api/v1/goals/g1/risk-profile", tt.user, tt.body)
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantErr, decodeError(t, w).Code)

			_, err := ts.store.GetProfile(context.Background(), "g1")
			if tt.wantCode == http.StatusNotFound {
				assert.ErrorIs(t, err, store.ErrNotFound, "no profile is created for a foreign goal")
			}
		})
	}
}
