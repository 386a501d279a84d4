package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fundscout/internal/fund"
	"github.com/sells-group/fundscout/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS funds (
	user_id    TEXT NOT NULL,
	fund_key   TEXT NOT NULL,
	position   INTEGER NOT NULL DEFAULT 0,
	name       TEXT NOT NULL,
	manager    TEXT NOT NULL DEFAULT '',
	ticker     TEXT NOT NULL DEFAULT '',
	source_url TEXT NOT NULL DEFAULT '',
	scraped_at TEXT NOT NULL DEFAULT '',
	alignment  TEXT,
	evidence   TEXT NOT NULL DEFAULT '',
	analysis   TEXT,
	status     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (user_id, fund_key)
);

CREATE INDEX IF NOT EXISTS idx_funds_user_position ON funds(user_id, position);

CREATE TABLE IF NOT EXISTS profiles (
	user_id      TEXT PRIMARY KEY,
	company_name TEXT NOT NULL DEFAULT '',
	tier         TEXT NOT NULL DEFAULT 'demo',
	data         TEXT NOT NULL,
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
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
	auto_analyze   BOOLEAN NOT NULL DEFAULT 0,
	webhook_url    TEXT NOT NULL DEFAULT '',
	profile        TEXT,
	summary        TEXT,
	started_at     DATETIME,
	completed_at   DATETIME,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
`

const sqliteJobColumns = `id, user_id, status, progress, current_phase, error, funds_found, funds_analyzed,
	auto_analyze, webhook_url, profile, summary, started_at, completed_at, created_at, updated_at`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveFunds upserts the full collection in one transaction. A missing
// status or analysis keeps the stored value.
func (s *SQLiteStore) SaveFunds(ctx context.Context, userID string, funds []model.Fund) error {
	recs, err := fundRows(funds)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save funds")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO funds
		(user_id, fund_key, position, name, manager, ticker, source_url, scraped_at, alignment, evidence, analysis, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, fund_key) DO UPDATE SET
			position = excluded.position,
			name = excluded.name,
			manager = excluded.manager,
			ticker = excluded.ticker,
			source_url = excluded.source_url,
			scraped_at = excluded.scraped_at,
			alignment = excluded.alignment,
			evidence = excluded.evidence,
			analysis = COALESCE(excluded.analysis, funds.analysis),
			status = COALESCE(excluded.status, funds.status),
			updated_at = excluded.updated_at`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare save funds")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i, r := range recs {
		if _, err := stmt.ExecContext(ctx,
			userID, r.key, i, r.name, r.manager, r.ticker, r.sourceURL, r.scrapedAt,
			string(r.alignment), r.evidence, nullableJSON(r.analysis), r.status, now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save fund %s", r.name)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save funds")
}

// LoadFunds returns the stored collection in first-seen order.
func (s *SQLiteStore) LoadFunds(ctx context.Context, userID string) ([]model.Fund, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fund_key, name, manager, ticker, source_url, scraped_at, alignment, evidence, analysis, status
		 FROM funds WHERE user_id = ? ORDER BY position, created_at`,
		userID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load funds for %s", userID)
	}
	defer rows.Close() //nolint:errcheck

	var funds []model.Fund
	for rows.Next() {
		var r fundRow
		var alignment, analysis, status sql.NullString
		if err := rows.Scan(&r.key, &r.name, &r.manager, &r.ticker, &r.sourceURL, &r.scrapedAt,
			&alignment, &r.evidence, &analysis, &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fund")
		}
		if alignment.Valid {
			r.alignment = []byte(alignment.String)
		}
		if analysis.Valid {
			r.analysis = []byte(analysis.String)
		}
		if status.Valid {
			r.status = &status.String
		}
		f, err := r.toFund()
		if err != nil {
			return nil, err
		}
		funds = append(funds, f)
	}
	return funds, eris.Wrap(rows.Err(), "sqlite: load funds iterate")
}

// UpdateFundStatus sets the status of one stored fund.
func (s *SQLiteStore) UpdateFundStatus(ctx context.Context, userID, name, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE funds SET status = ?, updated_at = ? WHERE user_id = ? AND fund_key = ?`,
		status, time.Now().UTC(), userID, fund.Key(name),
	)
	return eris.Wrapf(err, "sqlite: update status of %s", name)
}

// SaveFundAnalysis stores the application analysis of one fund.
func (s *SQLiteStore) SaveFundAnalysis(ctx context.Context, userID, name string, a *model.ApplicationAnalysis) error {
	if a == nil {
		return nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal analysis")
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE funds SET analysis = ?, updated_at = ? WHERE user_id = ? AND fund_key = ?`,
		string(b), time.Now().UTC(), userID, fund.Key(name),
	)
	return eris.Wrapf(err, "sqlite: save analysis of %s", name)
}

// SaveProfile upserts a user's profile.
func (s *SQLiteStore) SaveProfile(ctx context.Context, userID string, p *model.Profile) error {
	if p == nil {
		return eris.New("sqlite: save profile: nil profile")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal profile")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, company_name, tier, data, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET company_name = excluded.company_name, tier = excluded.tier,
		 data = excluded.data, updated_at = excluded.updated_at`,
		userID, p.CompanyName, string(p.EffectiveTier()), string(b), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save profile %s", userID)
}

// LoadProfile returns the stored profile, or nil when the user has none.
func (s *SQLiteStore) LoadProfile(ctx context.Context, userID string) (*model.Profile, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE user_id = ?`, userID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load profile %s", userID)
	}
	var p model.Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal profile")
	}
	return &p, nil
}

// ListProfilesByTier lists users on the given tier.
func (s *SQLiteStore) ListProfilesByTier(ctx context.Context, tier model.Tier) ([]model.ProfileSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, company_name, tier FROM profiles WHERE tier = ? ORDER BY company_name, user_id`,
		string(tier),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list profiles")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProfileSummary
	for rows.Next() {
		var ps model.ProfileSummary
		var t string
		if err := rows.Scan(&ps.UserID, &ps.CompanyName, &t); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan profile")
		}
		ps.Tier = model.Tier(t)
		out = append(out, ps)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list profiles iterate")
}

// CreateJob inserts a new job row.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
	profile, summary, err := marshalJobDocs(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+sqliteJobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, string(job.Status), job.Progress, job.CurrentPhase, job.Error,
		job.FundsFound, job.FundsAnalyzed, job.AutoAnalyze, job.WebhookURL,
		nullableJSON(profile), nullableJSON(summary), nullableTime(job.StartedAt), nullableTime(job.CompletedAt),
		job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

// UpdateJob applies a partial update.
func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error {
	sets, err := jobUpdateSets(upd)
	if err != nil {
		return err
	}

	clauses := make([]string, 0, len(sets)+1)
	args := make([]any, 0, len(sets)+2)
	for _, set := range sets {
		clauses = append(clauses, set.col+" = ?")
		if b, ok := set.val.([]byte); ok {
			args = append(args, string(b))
			continue
		}
		args = append(args, set.val)
	}
	clauses = append(clauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET `+strings.Join(clauses, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

// GetJob returns a job by ID; ErrNotFound when missing.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteJobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanSQLiteJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return job, nil
}

// ListJobs lists jobs newest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + sqliteJobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.UserID != "" {
		query += ` AND user_id = ?`
		args = append(args, filter.UserID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func scanSQLiteJob(row scannable) (*model.Job, error) {
	var j model.Job
	var status string
	var profile, summary sql.NullString
	var startedAt, completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.UserID, &status, &j.Progress, &j.CurrentPhase, &j.Error,
		&j.FundsFound, &j.FundsAnalyzed, &j.AutoAnalyze, &j.WebhookURL,
		&profile, &summary, &startedAt, &completedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if err := unmarshalJobDocs(&j, []byte(profile.String), []byte(summary.String)); err != nil {
		return nil, err
	}
	return &j, nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
