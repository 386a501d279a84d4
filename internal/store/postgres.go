package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fundscout/internal/db"
	"github.com/sells-group/fundscout/internal/fund"
	"github.com/sells-group/fundscout/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgUpdateFundStatus   = `UPDATE funds SET status = $1, updated_at = now() WHERE user_id = $2 AND fund_key = $3`
	pgSaveFundAnalysis   = `UPDATE funds SET analysis = $1, updated_at = now() WHERE user_id = $2 AND fund_key = $3`
	pgGetProfile         = `SELECT data FROM profiles WHERE user_id = $1`
	pgListProfilesByTier = `SELECT user_id, company_name, tier FROM profiles WHERE tier = $1 ORDER BY company_name, user_id`

	pgLoadFunds = `SELECT fund_key, name, manager, ticker, source_url, scraped_at, alignment, evidence, analysis, status
		FROM funds WHERE user_id = $1 ORDER BY position, created_at`

	pgUpsertProfile = `INSERT INTO profiles (user_id, company_name, tier, data, updated_at) VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET company_name = EXCLUDED.company_name, tier = EXCLUDED.tier, data = EXCLUDED.data, updated_at = now()`

	pgInsertJob = `INSERT INTO jobs (id, user_id, status, progress, current_phase, error, funds_found, funds_analyzed,
		auto_analyze, webhook_url, profile, summary, started_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	pgJobColumns = `id, user_id, status, progress, current_phase, error, funds_found, funds_analyzed,
		auto_analyze, webhook_url, profile, summary, started_at, completed_at, created_at, updated_at`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"load_funds":            pgLoadFunds,
	"update_fund_status":    pgUpdateFundStatus,
	"save_fund_analysis":    pgSaveFundAnalysis,
	"get_profile":           pgGetProfile,
	"upsert_profile":        pgUpsertProfile,
	"list_profiles_by_tier": pgListProfilesByTier,
	"insert_job":            pgInsertJob,
	"get_job":               `SELECT ` + pgJobColumns + ` FROM jobs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables may not exist before the first migrate.
				var pgErr interface{ SQLState() string }
				if errors.As(err, &pgErr) && pgErr.SQLState() == "42P01" {
					return nil
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS funds (
	user_id    TEXT NOT NULL,
	fund_key   TEXT NOT NULL,
	position   INTEGER NOT NULL DEFAULT 0,
	name       TEXT NOT NULL,
	manager    TEXT NOT NULL DEFAULT '',
	ticker     TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	scraped_at TEXT NOT NULL DEFAULT '',
	alignment  JSONB,
	evidence   TEXT NOT NULL DEFAULT '',
	analysis   JSONB,
	status     TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, fund_key)
);

CREATE INDEX IF NOT EXISTS idx_funds_user_position ON funds(user_id, position);

CREATE TABLE IF NOT EXISTS profiles (
	user_id      TEXT PRIMARY KEY,
	company_name TEXT NOT NULL DEFAULT '',
	tier         TEXT NOT NULL DEFAULT 'demo',
	data         JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_profiles_tier ON profiles(tier);

CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	progress       INTEGER NOT NULL DEFAULT 0,
	current_phase  TEXT NOT NULL DEFAULT '',
	error          TEXT NOT NULL DEFAULT '',
	funds_found    INTEGER NOT NULL DEFAULT 0,
	funds_analyzed INTEGER NOT NULL DEFAULT 0,
	auto_analyze   BOOLEAN NOT NULL DEFAULT false,
	webhook_url    TEXT NOT NULL DEFAULT '',
	profile        JSONB,
	summary        JSONB,
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var fundColumns = []string{
	"user_id", "fund_key", "position", "name", "manager", "ticker", "source_url",
	"scraped_at", "alignment", "evidence", "analysis", "status", "updated_at",
}

var fundsMerge = db.Merge{
	Table:   "funds",
	Columns: fundColumns,
	Key:     []string{"user_id", "fund_key"},
	Keep: map[string]string{
		"analysis": `COALESCE(EXCLUDED."analysis", t."analysis")`,
		"status":   `COALESCE(EXCLUDED."status", t."status")`,
	},
}

// SaveFunds upserts the full collection. An incoming NULL status or
// analysis keeps the stored value.
func (s *PostgresStore) SaveFunds(ctx context.Context, userID string, funds []model.Fund) error {
	recs, err := fundRows(funds)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(recs))
	for i, r := range recs {
		var analysis any
		if r.analysis != nil {
			analysis = r.analysis
		}
		rows[i] = []any{
			userID, r.key, i, r.name, r.manager, r.ticker, r.sourceURL,
			r.scrapedAt, r.alignment, r.evidence, analysis, r.status, now,
		}
	}

	_, err = fundsMerge.Exec(ctx, s.pool, rows)
	return eris.Wrapf(err, "postgres: save funds for %s", userID)
}

// LoadFunds returns the stored collection in first-seen order.
func (s *PostgresStore) LoadFunds(ctx context.Context, userID string) ([]model.Fund, error) {
	rows, err := s.pool.Query(ctx, pgLoadFunds, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load funds for %s", userID)
	}
	defer rows.Close()

	var funds []model.Fund
	for rows.Next() {
		var r fundRow
		if err := rows.Scan(&r.key, &r.name, &r.manager, &r.ticker, &r.sourceURL, &r.scrapedAt,
			&r.alignment, &r.evidence, &r.analysis, &r.status); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fund")
		}
		f, err := r.toFund()
		if err != nil {
			return nil, err
		}
		funds = append(funds, f)
	}
	return funds, eris.Wrap(rows.Err(), "postgres: load funds iterate")
}

// UpdateFundStatus sets the status of one stored fund.
func (s *PostgresStore) UpdateFundStatus(ctx context.Context, userID, name, status string) error {
	_, err := s.pool.Exec(ctx, pgUpdateFundStatus, status, userID, fund.Key(name))
	return eris.Wrapf(err, "postgres: update status of %s", name)
}

// SaveFundAnalysis stores the application analysis of one fund.
func (s *PostgresStore) SaveFundAnalysis(ctx context.Context, userID, name string, a *model.ApplicationAnalysis) error {
	if a == nil {
		return nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal analysis")
	}
	_, err = s.pool.Exec(ctx, pgSaveFundAnalysis, b, userID, fund.Key(name))
	return eris.Wrapf(err, "postgres: save analysis of %s", name)
}

// SaveProfile upserts a user's profile.
func (s *PostgresStore) SaveProfile(ctx context.Context, userID string, p *model.Profile) error {
	if p == nil {
		return eris.New("postgres: save profile: nil profile")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal profile")
	}
	_, err = s.pool.Exec(ctx, pgUpsertProfile, userID, p.CompanyName, string(p.EffectiveTier()), b)
	return eris.Wrapf(err, "postgres: save profile %s", userID)
}

// LoadProfile returns the stored profile, or nil when the user has none.
func (s *PostgresStore) LoadProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, pgGetProfile, userID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: load profile %s", userID)
	}
	var p model.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal profile")
	}
	return &p, nil
}

// ListProfilesByTier lists users on the given tier.
func (s *PostgresStore) ListProfilesByTier(ctx context.Context, tier model.Tier) ([]model.ProfileSummary, error) {
	rows, err := s.pool.Query(ctx, pgListProfilesByTier, string(tier))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list profiles")
	}
	defer rows.Close()

	var out []model.ProfileSummary
	for rows.Next() {
		var ps model.ProfileSummary
		var t string
		if err := rows.Scan(&ps.UserID, &ps.CompanyName, &t); err != nil {
			return nil, eris.Wrap(err, "postgres: scan profile")
		}
		ps.Tier = model.Tier(t)
		out = append(out, ps)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list profiles iterate")
}

// CreateJob inserts a new job row.
func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	profile, summary, err := marshalJobDocs(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, pgInsertJob,
		job.ID, job.UserID, string(job.Status), job.Progress, job.CurrentPhase, job.Error,
		job.FundsFound, job.FundsAnalyzed, job.AutoAnalyze, job.WebhookURL,
		profile, summary, job.StartedAt, job.CompletedAt, job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

// UpdateJob applies a partial update.
func (s *PostgresStore) UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error {
	sets, err := jobUpdateSets(upd)
	if err != nil {
		return err
	}

	clauses := make([]string, 0, len(sets)+1)
	args := make([]any, 0, len(sets)+2)
	for i, set := range sets {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", set.col, i+1))
		args = append(args, set.val)
	}
	clauses = append(clauses, fmt.Sprintf("updated_at = $%d", len(args)+1))
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = $%d`, strings.Join(clauses, ", "), len(args))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: update job %s", id)
	}
	return nil
}

// GetJob returns a job by ID; ErrNotFound when missing.
func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

// ListJobs lists jobs newest first.
func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + pgJobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(` AND user_id = $%d`, argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var status string
	var profile, summary []byte
	if err := row.Scan(&j.ID, &j.UserID, &status, &j.Progress, &j.CurrentPhase, &j.Error,
		&j.FundsFound, &j.FundsAnalyzed, &j.AutoAnalyze, &j.WebhookURL,
		&profile, &summary, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if err := unmarshalJobDocs(&j, profile, summary); err != nil {
		return nil, err
	}
	return &j, nil
}
