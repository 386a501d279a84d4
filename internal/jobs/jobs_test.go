package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sells-group/fundscout/internal/discovery"
	"github.com/sells-group/fundscout/internal/discovery/mocks"
	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/notify"
	"github.com/sells-group/fundscout/internal/pipeline"
	"github.com/sells-group/fundscout/internal/session"
	"github.com/sells-group/fundscout/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memStore struct {
	mu       sync.Mutex
	jobs     map[string]model.Job
	profiles map[string]*model.Profile
	phases   []string
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]model.Job), profiles: make(map[string]*model.Profile)}
}

func (s *memStore) CreateJob(_ context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *memStore) UpdateJob(_ context.Context, id string, upd model.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Status != nil {
		j.Status = *upd.Status
	}
	if upd.Progress != nil {
		j.Progress = *upd.Progress
	}
	if upd.CurrentPhase != nil {
		j.CurrentPhase = *upd.CurrentPhase
		s.phases = append(s.phases, *upd.CurrentPhase)
	}
	if upd.Error != nil {
		j.Error = *upd.Error
	}
	if upd.FundsFound != nil {
		j.FundsFound = *upd.FundsFound
	}
	if upd.FundsAnalyzed != nil {
		j.FundsAnalyzed = *upd.FundsAnalyzed
	}
	if upd.Summary != nil {
		j.Summary = upd.Summary
	}
	if upd.StartedAt != nil {
		j.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		j.CompletedAt = upd.CompletedAt
	}
	s.jobs[id] = j
	return nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &j, nil
}

func (s *memStore) ListJobs(_ context.Context, f store.JobFilter) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	for _, j := range s.jobs {
		if f.UserID == "" || j.UserID == f.UserID {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *memStore) LoadProfile(_ context.Context, userID string) (*model.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profiles[userID], nil
}

func (s *memStore) job(id string) model.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	urls   []string
}

func (n *recordingNotifier) Notify(_ context.Context, url string, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) snapshot() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

func returns(names ...string) pipeline.PhaseFunc {
	return func(context.Context, pipeline.PhaseInput) ([]model.Fund, error) {
		out := make([]model.Fund, len(names))
		for i, n := range names {
			out[i] = model.Fund{Name: n, SourceURL: "https://example.org/" + n}
		}
		return out, nil
	}
}

func newService(t *testing.T, svc discovery.Service, phases ...pipeline.Phase) (*Service, *memStore, *recordingNotifier) {
	t.Helper()
	st := newMemStore()
	st.profiles["u1"] = &model.Profile{CompanyName: "Acme", Tier: model.TierBasic}
	n := &recordingNotifier{}
	mgr := session.NewManager(pipeline.NewSequencer(phases, svc), nil, nil)
	s := New(st, mgr, n)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, s.Shutdown(ctx))
		require.NoError(t, mgr.Shutdown(ctx))
	})
	return s, st, n
}

func TestCreate(t *testing.T) {
	s, st, _ := newService(t, nil)

	job, err := s.Create(context.Background(), "u1", "https://hooks.example/n8n", true)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, model.JobStatusPending, job.Status)
	require.NotNil(t, job.Profile)
	assert.Equal(t, "Acme", job.Profile.CompanyName)
	assert.True(t, job.AutoAnalyze)

	stored := st.job(job.ID)
	assert.Equal(t, "https://hooks.example/n8n", stored.WebhookURL)

	_, err = s.Create(context.Background(), "", "", false)
	assert.Error(t, err)
}

func TestExecute_Completes(t *testing.T) {
	s, st, n := newService(t, nil,
		pipeline.Phase{Name: "one", Label: "Phase 1/2: Global discovery", Call: returns("Alpha", "Beta")},
		pipeline.Phase{Name: "two", Label: "Phase 2/2: Local discovery", Call: returns("Gamma")},
	)
	job, err := s.Create(context.Background(), "u1", "https://hooks.example/n8n", false)
	require.NoError(t, err)

	require.NoError(t, s.Execute(context.Background(), job.ID))

	got := st.job(job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, "Completed", got.CurrentPhase)
	assert.Equal(t, 3, got.FundsFound)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 3, got.Summary.TotalFunds)
	assert.Equal(t, 2, got.Summary.PhasesCompleted)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	st.mu.Lock()
	assert.Contains(t, st.phases, "Starting")
	assert.Contains(t, st.phases, "Phase 1/2: Global discovery")
	st.mu.Unlock()

	events := n.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "completed", events[0].Status)
	assert.Equal(t, 3, events[0].FundsFound)
	assert.Equal(t, job.ID, events[0].JobID)

	err = s.Execute(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrNotRunnable)
}

func TestExecute_FailureRecorded(t *testing.T) {
	s, st, n := newService(t, nil,
		pipeline.Phase{Name: "one", Label: "one", Call: returns("Alpha")},
		pipeline.Phase{Name: "two", Label: "two", Call: func(context.Context, pipeline.PhaseInput) ([]model.Fund, error) {
			return nil, errors.New("resource exhausted")
		}},
	)
	job, err := s.Create(context.Background(), "u1", "https://hooks.example/n8n", false)
	require.NoError(t, err)

	require.NoError(t, s.Execute(context.Background(), job.ID))

	got := st.job(job.ID)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, pipeline.FailureMessagePrefix+"resource exhausted", got.Error)
	assert.Equal(t, 1, got.FundsFound)

	events := n.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "failed", events[0].Status)
	assert.Contains(t, events[0].Error, "resource exhausted")
}

func TestExecute_AutoAnalyze(t *testing.T) {
	svc := mocks.NewMockService(t)
	svc.On("Analyze", mock.Anything, "Alpha", "https://example.org/Alpha").
		Return(&model.ApplicationAnalysis{Eligibility: "Sí"}, nil).Once()

	s, st, _ := newService(t, svc, pipeline.Phase{Name: "one", Label: "one", Call: returns("Alpha")})
	job, err := s.Create(context.Background(), "u1", "", true)
	require.NoError(t, err)

	require.NoError(t, s.Execute(context.Background(), job.ID))

	got := st.job(job.ID)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 1, got.FundsAnalyzed)
	assert.Equal(t, 2, got.Summary.PhasesCompleted)
	assert.Equal(t, 1, got.Summary.AnalyzedFunds)
}

func TestCancel_RunningJob(t *testing.T) {
	entered := make(chan struct{})
	s, st, n := newService(t, nil, pipeline.Phase{Name: "slow", Label: "slow", Call: func(ctx context.Context, _ pipeline.PhaseInput) ([]model.Fund, error) {
		close(entered)
		<-ctx.Done()
		return nil, context.Cause(ctx)
	}})
	job, err := s.Create(context.Background(), "u1", "https://hooks.example/n8n", false)
	require.NoError(t, err)

	require.NoError(t, s.Launch(context.Background(), job.ID))
	<-entered
	require.NoError(t, s.Cancel(context.Background(), job.ID))

	require.Eventually(t, func() bool {
		return st.job(job.ID).Status == model.JobStatusCancelled
	}, 2*time.Second, 5*time.Millisecond)

	got := st.job(job.ID)
	require.NotNil(t, got.Summary)
	assert.Equal(t, session.StopMessage, got.Summary.Note)
	require.Eventually(t, func() bool { return len(n.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "cancelled", n.snapshot()[0].Status)
}

func TestCancel_PendingAndFinished(t *testing.T) {
	s, st, _ := newService(t, nil)
	job, err := s.Create(context.Background(), "u1", "", false)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), job.ID))
	assert.Equal(t, model.JobStatusCancelled, st.job(job.ID).Status)

	err = s.Cancel(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrFinished)

	err = s.Execute(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrNotRunnable)
}

func TestGetAndList(t *testing.T) {
	s, st, _ := newService(t, nil)
	st.profiles["u2"] = nil

	a, err := s.Create(context.Background(), "u1", "", false)
	require.NoError(t, err)
	_, err = s.Create(context.Background(), "u2", "", false)
	require.NoError(t, err)

	got, err := s.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	list, err := s.List(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)
}

func TestMirror_OnlyBoundRun(t *testing.T) {
	st := newMemStore()
	st.jobs["job-1"] = model.Job{ID: "job-1", Status: model.JobStatusRunning}
	m := newMirror(st, "job-1")

	active := func(runID string, step int, phase string) session.Event {
		return session.Event{State: model.RunState{
			RunID: runID, Active: true, Step: step, Total: 4, Phase: phase, FundsFound: step,
		}}
	}

	// Before binding nothing is attributed to the job.
	m.observe(active("run-job", 2, "early"))
	m.bind("run-job")
	m.observe(active("run-job", 3, "Ecuador"))
	m.observe(active("run-other", 4, "interactive"))
	m.close()

	got := st.job("job-1")
	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, "Ecuador", got.CurrentPhase)
	assert.Equal(t, 3, got.FundsFound)
	assert.Equal(t, []string{"Ecuador"}, st.phases)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(model.RunState{}))
	assert.Equal(t, 0, percent(model.RunState{Step: 1, Total: 4}))
	assert.Equal(t, 50, percent(model.RunState{Step: 3, Total: 4}))
	assert.Equal(t, 99, percent(model.RunState{Step: 9, Total: 4}))
}
