// Package store persists funds, profiles and background jobs.
package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fundscout/internal/fund"
	"github.com/sells-group/fundscout/internal/model"
)

// ErrNotFound is returned when a job lookup finds no row.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	UserID string          `json:"user_id,omitempty"`
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for fund discovery.
type Store interface {
	// Funds. Status and analysis writes against a fund that has not been
	// saved yet are ignored; the next SaveFunds carries them.
	SaveFunds(ctx context.Context, userID string, funds []model.Fund) error
	LoadFunds(ctx context.Context, userID string) ([]model.Fund, error)
	UpdateFundStatus(ctx context.Context, userID, name, status string) error
	SaveFundAnalysis(ctx context.Context, userID, name string, a *model.ApplicationAnalysis) error

	// Profiles
	SaveProfile(ctx context.Context, userID string, p *model.Profile) error
	LoadProfile(ctx context.Context, userID string) (*model.Profile, error)
	ListProfilesByTier(ctx context.Context, tier model.Tier) ([]model.ProfileSummary, error)

	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// fundRow is the column form of a fund shared by both backends.
type fundRow struct {
	key       string
	name      string
	manager   string
	ticker    string
	sourceURL string
	scrapedAt string
	alignment []byte
	evidence  string
	analysis  []byte // nil when absent
	status    *string
}

func toFundRow(f model.Fund) (fundRow, error) {
	alignment, err := json.Marshal(f.Alignment)
	if err != nil {
		return fundRow{}, eris.Wrapf(err, "store: marshal alignment for %s", f.Name)
	}
	r := fundRow{
		key:       fund.Key(f.Name),
		name:      f.Name,
		manager:   f.Manager,
		ticker:    f.Ticker,
		sourceURL: f.SourceURL,
		scrapedAt: f.ScrapedAt,
		alignment: alignment,
		evidence:  f.Evidence,
	}
	if f.Analysis != nil {
		if r.analysis, err = json.Marshal(f.Analysis); err != nil {
			return fundRow{}, eris.Wrapf(err, "store: marshal analysis for %s", f.Name)
		}
	}
	if f.Status != "" {
		s := f.Status
		r.status = &s
	}
	return r, nil
}

func (r fundRow) toFund() (model.Fund, error) {
	f := model.Fund{
		Name:      r.name,
		Manager:   r.manager,
		Ticker:    r.ticker,
		SourceURL: r.sourceURL,
		ScrapedAt: r.scrapedAt,
		Evidence:  r.evidence,
	}
	if len(r.alignment) > 0 {
		if err := json.Unmarshal(r.alignment, &f.Alignment); err != nil {
			return f, eris.Wrapf(err, "store: unmarshal alignment for %s", r.name)
		}
	}
	if len(r.analysis) > 0 {
		f.Analysis = &model.ApplicationAnalysis{}
		if err := json.Unmarshal(r.analysis, f.Analysis); err != nil {
			return f, eris.Wrapf(err, "store: unmarshal analysis for %s", r.name)
		}
	}
	if r.status != nil {
		f.Status = *r.status
	}
	return f, nil
}

// jobSet is one column assignment of a partial job update.
type jobSet struct {
	col string
	val any
}

// jobUpdateSets lists the columns a JobUpdate touches, in a stable order.
func jobUpdateSets(upd model.JobUpdate) ([]jobSet, error) {
	var sets []jobSet
	if upd.Status != nil {
		sets = append(sets, jobSet{"status", string(*upd.Status)})
	}
	if upd.Progress != nil {
		sets = append(sets, jobSet{"progress", *upd.Progress})
	}
	if upd.CurrentPhase != nil {
		sets = append(sets, jobSet{"current_phase", *upd.CurrentPhase})
	}
	if upd.Error != nil {
		sets = append(sets, jobSet{"error", *upd.Error})
	}
	if upd.FundsFound != nil {
		sets = append(sets, jobSet{"funds_found", *upd.FundsFound})
	}
	if upd.FundsAnalyzed != nil {
		sets = append(sets, jobSet{"funds_analyzed", *upd.FundsAnalyzed})
	}
	if upd.Summary != nil {
		b, err := json.Marshal(upd.Summary)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal job summary")
		}
		sets = append(sets, jobSet{"summary", b})
	}
	if upd.StartedAt != nil {
		sets = append(sets, jobSet{"started_at", upd.StartedAt.UTC()})
	}
	if upd.CompletedAt != nil {
		sets = append(sets, jobSet{"completed_at", upd.CompletedAt.UTC()})
	}
	return sets, nil
}

// fundRows converts funds to rows, collapsing duplicate keys to the last
// occurrence at the first position so one upsert never hits a key twice.
func fundRows(funds []model.Fund) ([]fundRow, error) {
	rows := make([]fundRow, 0, len(funds))
	index := make(map[string]int, len(funds))
	for _, f := range funds {
		r, err := toFundRow(f)
		if err != nil {
			return nil, err
		}
		if r.key == "" {
			continue
		}
		if i, ok := index[r.key]; ok {
			rows[i] = r
			continue
		}
		index[r.key] = len(rows)
		rows = append(rows, r)
	}
	return rows, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func marshalJobDocs(job *model.Job) (profile, summary []byte, err error) {
	if job.Profile != nil {
		if profile, err = json.Marshal(job.Profile); err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal job profile")
		}
	}
	if job.Summary != nil {
		if summary, err = json.Marshal(job.Summary); err != nil {
			return nil, nil, eris.Wrap(err, "store: marshal job summary")
		}
	}
	return profile, summary, nil
}

func unmarshalJobDocs(job *model.Job, profile, summary []byte) error {
	if len(profile) > 0 {
		job.Profile = &model.Profile{}
		if err := json.Unmarshal(profile, job.Profile); err != nil {
			return eris.Wrap(err, "store: unmarshal job profile")
		}
	}
	if len(summary) > 0 {
		job.Summary = &model.JobSummary{}
		if err := json.Unmarshal(summary, job.Summary); err != nil {
			return eris.Wrap(err, "store: unmarshal job summary")
		}
	}
	return nil
}
