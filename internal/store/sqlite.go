package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"GoalSentinel/internal/model"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists everything to a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Pragmas go in the DSN so every pooled connection gets them. WAL lets the
	// HTTP API read history while the sweep writes.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", dbPath))
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS goals (
			id                   TEXT PRIMARY KEY,
			user_id              TEXT NOT NULL,
			name                 TEXT NOT NULL DEFAULT '',
			target_amount        TEXT NOT NULL,
			current_amount       TEXT NOT NULL,
			monthly_contribution TEXT NOT NULL,
			target_date          INTEGER NOT NULL,
			status               TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status)`,

		`CREATE TABLE IF NOT EXISTS risk_profiles (
			goal_id                 TEXT PRIMARY KEY,
			tier                    TEXT NOT NULL,
			auto_rebalance          INTEGER NOT NULL,
			min_success_probability REAL NOT NULL,
			last_simulation_at      INTEGER,
			version                 INTEGER NOT NULL,
			created_at              INTEGER NOT NULL,
			updated_at              INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS simulation_results (
			id                  TEXT PRIMARY KEY,
			goal_id             TEXT NOT NULL,
			user_id             TEXT NOT NULL,
			iterations          INTEGER NOT NULL,
			p1                  REAL,
			p10                 REAL,
			p50                 REAL,
			p90                 REAL,
			success_probability REAL,
			expected_shortfall  REAL,
			risk_tier           TEXT,
			horizon_months      INTEGER,
			trigger_type        TEXT,
			created_at          INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_goal_ts ON simulation_results(goal_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_results_user_ts ON simulation_results(user_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS rebalance_events (
			id                  TEXT PRIMARY KEY,
			goal_id             TEXT NOT NULL,
			user_id             TEXT NOT NULL,
			from_tier           TEXT NOT NULL,
			to_tier             TEXT NOT NULL,
			success_probability REAL,
			schedule_window     TEXT NOT NULL,
			created_at          INTEGER NOT NULL,
			UNIQUE(goal_id, schedule_window)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

const goalColumns = `id, user_id, name, target_amount, current_amount, monthly_contribution, target_date, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (model.Goal, error) {
	var (
		g      model.Goal
		target int64
		status string
	)
	if err := row.Scan(&g.ID, &g.UserID, &g.Name, &g.TargetAmount, &g.CurrentAmount,
		&g.MonthlyContribution, &target, &status); err != nil {
		return model.Goal{}, err
	}
	g.TargetDate = time.Unix(0, target).UTC()
	g.Status = model.GoalStatus(status)
	return g, nil
}

func (s *SQLiteStore) ListActiveGoals(ctx context.Context) ([]model.Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE status = ? ORDER BY id`, string(model.GoalActive))
	if err != nil {
		return nil, fmt.Errorf("query active goals: %w", err)
	}
	defer rows.Close()

	var out []model.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetGoal(ctx context.Context, id string) (model.Goal, error) {
	g, err := scanGoal(s.db.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Goal{}, fmt.Errorf("goal %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Goal{}, fmt.Errorf("get goal %s: %w", id, err)
	}
	return g, nil
}

func (s *SQLiteStore) PutGoal(ctx context.Context, g model.Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO goals (`+goalColumns+`)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			name = excluded.name,
			target_amount = excluded.target_amount,
			current_amount = excluded.current_amount,
			monthly_contribution = excluded.monthly_contribution,
			target_date = excluded.target_date,
			status = excluded.status`,
		g.ID, g.UserID, g.Name, g.TargetAmount.String(), g.CurrentAmount.String(),
		g.MonthlyContribution.String(), g.TargetDate.UnixNano(), string(g.Status),
	)
	return err
}

const profileColumns = `goal_id, tier, auto_rebalance, min_success_probability, last_simulation_at, version, created_at, updated_at`

func scanProfile(row rowScanner) (model.RiskProfile, error) {
	var (
		p                model.RiskProfile
		tier             string
		lastSim          sql.NullInt64
		created, updated int64
	)
	if err := row.Scan(&p.GoalID, &tier, &p.AutoRebalance, &p.MinSuccessProbability,
		&lastSim, &p.Version, &created, &updated); err != nil {
		return model.RiskProfile{}, err
	}
	p.Tier = model.RiskTier(tier)
	if lastSim.Valid {
		t := time.Unix(0, lastSim.Int64).UTC()
		p.LastSimulationAt = &t
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return p, nil
}

func (s *SQLiteStore) getProfile(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, goalID string) (model.RiskProfile, error) {
	p, err := scanProfile(q.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM risk_profiles WHERE goal_id = ?`, goalID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.RiskProfile{}, fmt.Errorf("risk profile %s: %w", goalID, ErrNotFound)
	}
	if err != nil {
		return model.RiskProfile{}, fmt.Errorf("get risk profile %s: %w", goalID, err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, goalID string) (model.RiskProfile, error) {
	return s.getProfile(ctx, s.db, goalID)
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Version == 0 {
		p.Version = 1
	}
	var lastSim sql.NullInt64
	if p.LastSimulationAt != nil {
		lastSim = sql.NullInt64{Int64: p.LastSimulationAt.UnixNano(), Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO risk_profiles (`+profileColumns+`)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(goal_id) DO NOTHING`,
		p.GoalID, string(p.Tier), p.AutoRebalance, p.MinSuccessProbability, lastSim,
		p.Version, p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(),
	); err != nil {
		return model.RiskProfile{}, fmt.Errorf("insert risk profile %s: %w", p.GoalID, err)
	}
	return s.getProfile(ctx, s.db, p.GoalID)
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RiskProfile{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE risk_profiles
		SET tier = ?, auto_rebalance = ?, min_success_probability = ?, updated_at = ?, version = version + 1
		WHERE goal_id = ? AND version = ?`,
		string(p.Tier), p.AutoRebalance, p.MinSuccessProbability, p.UpdatedAt.UnixNano(),
		p.GoalID, p.Version,
	)
	if err != nil {
		return model.RiskProfile{}, fmt.Errorf("update risk profile %s: %w", p.GoalID, err)
	}
	if err := s.checkSwapped(ctx, tx, res, p.GoalID); err != nil {
		return model.RiskProfile{}, err
	}
	updated, err := s.getProfile(ctx, tx, p.GoalID)
	if err != nil {
		return model.RiskProfile{}, err
	}
	return updated, tx.Commit()
}

func (s *SQLiteStore) DowngradeTier(ctx context.Context, d Downgrade) (model.RiskProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.RiskProfile{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE risk_profiles
		SET tier = ?, updated_at = ?, version = version + 1
		WHERE goal_id = ? AND version = ? AND tier = ?`,
		string(d.To), d.At.UnixNano(), d.GoalID, d.ExpectedVersion, string(d.From),
	)
	if err != nil {
		return model.RiskProfile{}, fmt.Errorf("downgrade risk profile %s: %w", d.GoalID, err)
	}
	if err := s.checkSwapped(ctx, tx, res, d.GoalID); err != nil {
		return model.RiskProfile{}, err
	}

	if e := d.Event; e != nil {
		var n int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM rebalance_events WHERE goal_id = ? AND schedule_window = ?`,
			e.GoalID, e.Window).Scan(&n); err != nil {
			return model.RiskProfile{}, fmt.Errorf("check rebalance event: %w", err)
		}
		if n > 0 {
			return model.RiskProfile{}, fmt.Errorf("rebalance %s/%s: %w", e.GoalID, e.Window, ErrDuplicate)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO rebalance_events
			(id, goal_id, user_id, from_tier, to_tier, success_probability, schedule_window, created_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			e.ID, e.GoalID, e.UserID, string(e.FromTier), string(e.ToTier),
			e.SuccessProbability, e.Window, e.CreatedAt.UnixNano(),
		); err != nil {
			return model.RiskProfile{}, fmt.Errorf("insert rebalance event: %w", err)
		}
	}

	updated, err := s.getProfile(ctx, tx, d.GoalID)
	if err != nil {
		return model.RiskProfile{}, err
	}
	return updated, tx.Commit()
}

// checkSwapped turns a compare-and-swap that touched no row into
// ErrNotFound or ErrVersionConflict.
func (s *SQLiteStore) checkSwapped(ctx context.Context, tx *sql.Tx, res sql.Result, goalID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.getProfile(ctx, tx, goalID); err != nil {
		return err
	}
	return fmt.Errorf("risk profile %s: %w", goalID, ErrVersionConflict)
}

func (s *SQLiteStore) TouchLastSimulation(ctx context.Context, goalID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE risk_profiles SET last_simulation_at = ? WHERE goal_id = ?`,
		at.UnixNano(), goalID)
	return err
}

func (s *SQLiteStore) SaveResult(ctx context.Context, r *model.SimulationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO simulation_results
		(id, goal_id, user_id, iterations, p1, p10, p50, p90,
		 success_probability, expected_shortfall, risk_tier, horizon_months, trigger_type, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.GoalID, r.UserID, r.Iterations, r.P1, r.P10, r.P50, r.P90,
		r.SuccessProbability, r.ExpectedShortfall, string(r.RiskTier), r.HorizonMonths,
		string(r.Trigger), r.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) HasResultSince(ctx context.Context, userID string, since time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM simulation_results WHERE user_id = ? AND created_at >= ?)`,
		userID, since.UnixNano()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query recent results: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, goalID string, limit int) ([]model.SimulationResult, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, goal_id, user_id, iterations, p1, p10, p50, p90,
		success_probability, expected_shortfall, risk_tier, horizon_months, trigger_type, created_at
		FROM simulation_results WHERE goal_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, goalID, limit)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []model.SimulationResult
	for rows.Next() {
		var (
			r             model.SimulationResult
			tier, trigger string
			created       int64
		)
		if err := rows.Scan(&r.ID, &r.GoalID, &r.UserID, &r.Iterations, &r.P1, &r.P10, &r.P50, &r.P90,
			&r.SuccessProbability, &r.ExpectedShortfall, &tier, &r.HorizonMonths, &trigger, &created); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.RiskTier = model.RiskTier(tier)
		r.Trigger = model.Trigger(trigger)
		r.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) HasRebalanceEvent(ctx context.Context, goalID, window string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM rebalance_events WHERE goal_id = ? AND schedule_window = ?)`,
		goalID, window).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query rebalance events: %w", err)
	}
	return exists, nil
}

func (s *SQLiteStore) ListRebalanceEvents(ctx context.Context, goalID string) ([]model.RebalanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, goal_id, user_id, from_tier, to_tier, success_probability, schedule_window, created_at
		FROM rebalance_events WHERE goal_id = ? ORDER BY created_at, rowid`, goalID)
	if err != nil {
		return nil, fmt.Errorf("query rebalance events: %w", err)
	}
	defer rows.Close()

	var out []model.RebalanceEvent
	for rows.Next() {
		var (
			e        model.RebalanceEvent
			from, to string
			created  int64
		)
		if err := rows.Scan(&e.ID, &e.GoalID, &e.UserID, &from, &to,
			&e.SuccessProbability, &e.Window, &created); err != nil {
			return nil, fmt.Errorf("scan rebalance event: %w", err)
		}
		e.FromTier = model.RiskTier(from)
		e.ToTier = model.RiskTier(to)
		e.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("closing sqlite store")
	return s.db.Close()
}
