// Package jobs runs discovery searches as background jobs that callers
// create, execute, poll and cancel through the API. Progress is mirrored into
// the job row and terminal states are announced to an optional webhook.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/notify"
	"github.com/sells-group/fundscout/internal/pipeline"
	"github.com/sells-group/fundscout/internal/session"
	"github.com/sells-group/fundscout/internal/store"
)

// ErrNotRunnable is returned when a job is asked to run but is not pending.
var ErrNotRunnable = eris.New("jobs: job is not pending")

// ErrFinished is returned when canceling a job that already ended.
var ErrFinished = eris.New("jobs: job already finished")

const notifyTimeout = 30 * time.Second

// Store is the job persistence used by the service. store.Store satisfies it.
type Store interface {
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, id string, upd model.JobUpdate) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
	LoadProfile(ctx context.Context, userID string) (*model.Profile, error)
}

// Sessions hands out user sessions. session.Manager satisfies it.
type Sessions interface {
	Get(ctx context.Context, userID string) (*session.Session, error)
}

// Service creates and runs background jobs.
type Service struct {
	store    Store
	sessions Sessions
	notifier notify.Notifier

	base   context.Context
	stop   context.CancelFunc
	mu     sync.Mutex
	active map[string]context.CancelCauseFunc
	wg     sync.WaitGroup
}

// New creates a job service. notifier may be nil to disable webhooks.
func New(st Store, sessions Sessions, notifier notify.Notifier) *Service {
	base, stop := context.WithCancel(context.Background())
	return &Service{
		store:    st,
		sessions: sessions,
		notifier: notifier,
		base:     base,
		stop:     stop,
		active:   make(map[string]context.CancelCauseFunc),
	}
}

// Create stores a pending job for userID with a snapshot of the user's
// current profile.
func (s *Service) Create(ctx context.Context, userID, webhookURL string, autoAnalyze bool) (*model.Job, error) {
	if userID == "" {
		return nil, eris.New("jobs: user id is required")
	}
	profile, err := s.store.LoadProfile(ctx, userID)
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: load profile for %s", userID)
	}

	now := time.Now().UTC()
	job := &model.Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		Status:      model.JobStatusPending,
		AutoAnalyze: autoAnalyze,
		WebhookURL:  webhookURL,
		Profile:     profile,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, eris.Wrap(err, "jobs: create")
	}
	zap.L().Info("jobs: created", zap.String("job_id", job.ID), zap.String("user", userID), zap.Bool("auto_analyze", autoAnalyze))
	return job, nil
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, id string) (*model.Job, error) {
	return s.store.GetJob(ctx, id)
}

// List returns the user's jobs, newest first.
func (s *Service) List(ctx context.Context, userID string, limit int) ([]model.Job, error) {
	return s.store.ListJobs(ctx, store.JobFilter{UserID: userID, Limit: limit})
}

// Launch checks that the job can run and executes it in the background.
func (s *Service) Launch(ctx context.Context, id string) error {
	job, err := s.runnable(ctx, id)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(s.base, job); err != nil {
			zap.L().Error("jobs: execute failed", zap.String("job_id", id), zap.Error(err))
		}
	}()
	return nil
}

// Execute runs the job and blocks until it ends. A failed search is
// recorded on the job and is not an error; errors are reserved for jobs that
// cannot run and for storage failures.
func (s *Service) Execute(ctx context.Context, id string) error {
	job, err := s.runnable(ctx, id)
	if err != nil {
		return err
	}
	return s.run(ctx, job)
}

// Cancel stops a running job or marks a pending one cancelled.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	cancel, running := s.active[id]
	s.mu.Unlock()
	if running {
		cancel(pipeline.ErrStopped)
		return nil
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return eris.Wrapf(ErrFinished, "jobs: job %s is %s", id, job.Status)
	}
	now := time.Now().UTC()
	status := model.JobStatusCancelled
	return s.store.UpdateJob(ctx, id, model.JobUpdate{Status: &status, CompletedAt: &now})
}

// Shutdown cancels every running job and waits for them to record their
// final state or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) runnable(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	_, running := s.active[id]
	s.mu.Unlock()
	if running || job.Status != model.JobStatusPending {
		return nil, eris.Wrapf(ErrNotRunnable, "jobs: job %s is %s", id, job.Status)
	}
	return job, nil
}

func (s *Service) run(ctx context.Context, job *model.Job) error {
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("user", job.UserID))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.mu.Lock()
	if _, dup := s.active[job.ID]; dup {
		s.mu.Unlock()
		return eris.Wrapf(ErrNotRunnable, "jobs: job %s is already running", job.ID)
	}
	s.active[job.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, job.ID)
		s.mu.Unlock()
	}()

	sess, err := s.sessions.Get(ctx, job.UserID)
	if err != nil {
		s.fail(job, err.Error())
		return eris.Wrap(err, "jobs: open session")
	}

	started := time.Now().UTC()
	running := model.JobStatusRunning
	zero := 0
	phase := "Starting"
	if err := s.store.UpdateJob(ctx, job.ID, model.JobUpdate{
		Status: &running, StartedAt: &started, Progress: &zero, CurrentPhase: &phase,
	}); err != nil {
		return eris.Wrap(err, "jobs: mark running")
	}
	log.Info("jobs: running")

	m := newMirror(s.store, job.ID)
	unsubscribe := sess.Subscribe(m.observe)
	out := sess.Run(runCtx, job.Profile, session.RunOptions{Analyze: job.AutoAnalyze, OnStart: m.bind})
	unsubscribe()
	m.close()

	funds := sess.Funds()
	job.FundsFound = len(funds)
	job.FundsAnalyzed = 0
	for _, f := range funds {
		if f.HasAnalysis() {
			job.FundsAnalyzed++
		}
	}
	summary := &model.JobSummary{
		TotalFunds:    job.FundsFound,
		AnalyzedFunds: job.FundsAnalyzed,
	}
	for _, pr := range out.Phases {
		if pr.Status == model.PhaseStatusComplete {
			summary.PhasesCompleted++
		}
	}

	done := time.Now().UTC()
	upd := model.JobUpdate{
		FundsFound:    &job.FundsFound,
		FundsAnalyzed: &job.FundsAnalyzed,
		Summary:       summary,
		CompletedAt:   &done,
	}
	switch out.Status {
	case model.RunStatusCompleted:
		job.Status = model.JobStatusCompleted
		hundred := 100
		label := "Completed"
		upd.Progress = &hundred
		upd.CurrentPhase = &label
	case model.RunStatusCanceled:
		job.Status = model.JobStatusCancelled
		summary.Note = out.Message
	default:
		job.Status = model.JobStatusFailed
		job.Error = out.Message
		upd.Error = &job.Error
	}
	upd.Status = &job.Status

	// The run context may already be canceled; the final state must still
	// be written.
	finalCtx, finalCancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer finalCancel()
	if err := s.store.UpdateJob(finalCtx, job.ID, upd); err != nil {
		return eris.Wrap(err, "jobs: record outcome")
	}
	log.Info("jobs: finished",
		zap.String("status", string(job.Status)),
		zap.Int("funds", job.FundsFound),
		zap.Int("analyzed", job.FundsAnalyzed),
	)

	s.announce(finalCtx, job)
	return nil
}

// fail records a job that could not start.
func (s *Service) fail(job *model.Job, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	status := model.JobStatusFailed
	now := time.Now().UTC()
	if err := s.store.UpdateJob(ctx, job.ID, model.JobUpdate{Status: &status, Error: &msg, CompletedAt: &now}); err != nil {
		zap.L().Warn("jobs: record failure", zap.String("job_id", job.ID), zap.Error(err))
	}
	job.Status, job.Error = status, msg
	s.announce(ctx, job)
}

func (s *Service) announce(ctx context.Context, job *model.Job) {
	if s.notifier == nil || job.WebhookURL == "" {
		return
	}
	err := s.notifier.Notify(ctx, job.WebhookURL, notify.Event{
		JobID:         job.ID,
		UserID:        job.UserID,
		Status:        string(job.Status),
		FundsFound:    job.FundsFound,
		FundsAnalyzed: job.FundsAnalyzed,
		Error:         job.Error,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		zap.L().Warn("jobs: webhook failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
