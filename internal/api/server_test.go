package api

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fundscout/internal/jobs"
	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/pipeline"
	"github.com/sells-group/fundscout/internal/report"
	"github.com/sells-group/fundscout/internal/session"
	"github.com/sells-group/fundscout/internal/store"
)

type memProfiles struct {
	mu       sync.Mutex
	profiles map[string]*model.Profile
}

func (m *memProfiles) SaveProfile(_ context.Context, userID string, p *model.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.profiles[userID] = &cp
	return nil
}

func (m *memProfiles) LoadProfile(_ context.Context, userID string) (*model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[userID], nil
}

func (m *memProfiles) ListProfilesByTier(_ context.Context, tier model.Tier) ([]model.ProfileSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ProfileSummary
	for id, p := range m.profiles {
		if p.Tier == tier {
			out = append(out, model.ProfileSummary{UserID: id, CompanyName: p.CompanyName, Tier: p.Tier})
		}
	}
	return out, nil
}

type mockJobs struct {
	mock.Mock
}

func (m *mockJobs) Create(ctx context.Context, userID, webhookURL string, autoAnalyze bool) (*model.Job, error) {
	args := m.Called(ctx, userID, webhookURL, autoAnalyze)
	job, _ := args.Get(0).(*model.Job)
	return job, args.Error(1)
}

func (m *mockJobs) Get(ctx context.Context, id string) (*model.Job, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*model.Job)
	return job, args.Error(1)
}

func (m *mockJobs) List(ctx context.Context, userID string, limit int) ([]model.Job, error) {
	args := m.Called(ctx, userID, limit)
	list, _ := args.Get(0).([]model.Job)
	return list, args.Error(1)
}

func (m *mockJobs) Launch(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockJobs) Cancel(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type fixture struct {
	srv      *Server
	handler  http.Handler
	profiles *memProfiles
	jobs     *mockJobs
}

func returns(names ...string) pipeline.PhaseFunc {
	return func(context.Context, pipeline.PhaseInput) ([]model.Fund, error) {
		out := make([]model.Fund, len(names))
		for i, n := range names {
			out[i] = model.Fund{Name: n, SourceURL: "https://example.org/" + n, Alignment: model.Alignment{SDGs: []string{"ODS 13"}}}
		}
		return out, nil
	}
}

func newFixture(t *testing.T, phases ...pipeline.Phase) *fixture {
	t.Helper()
	if len(phases) == 0 {
		phases = []pipeline.Phase{{Name: "global", Label: "Global", Call: returns("Fondo Verde", "Acumen")}}
	}
	mgr := session.NewManager(pipeline.NewSequencer(phases, nil), nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, mgr.Shutdown(ctx))
	})
	f := &fixture{
		profiles: &memProfiles{profiles: map[string]*model.Profile{
			"u1": {CompanyName: "Acme", Tier: model.TierBasic},
		}},
		jobs: &mockJobs{},
	}
	t.Cleanup(func() { f.jobs.AssertExpectations(t) })
	f.srv = New(f.profiles, mgr, f.jobs, Config{Heartbeat: time.Hour})
	f.srv.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) searchAndWait(t *testing.T, user string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/users/"+user+"/search", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Eventually(t, func() bool {
		var st model.RunState
		rec := f.do(t, http.MethodGet, "/api/users/"+user+"/search", "")
		return json.Unmarshal(rec.Body.Bytes(), &st) == nil && !st.Active && st.FinishedAt != nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestProfile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/users/u2/profile", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/users/u2/profile", `{"company_name":"  ","tier":"basic"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/users/u2/profile", `{"company_name":"Verde","tier":"gold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/users/u2/profile", `{"company_name":"Verde","sdgs":["ODS 7"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/users/u2/profile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p model.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, "Verde", p.CompanyName)
	assert.Equal(t, model.TierDemo, p.Tier)
	assert.Equal(t, []string{"ODS 7"}, p.SDGs)
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)
	f.profiles.profiles["p1"] = &model.Profile{CompanyName: "Solar SA", Tier: model.TierPremium}

	rec := f.do(t, http.MethodGet, "/api/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var users []model.ProfileSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "p1", users[0].UserID)

	rec = f.do(t, http.MethodGet, "/api/users?tier=basic", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/users?tier=gold", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_RequiresProfile(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/users/nobody/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_FundsAndStatus(t *testing.T) {
	f := newFixture(t)
	f.searchAndWait(t, "u1")

	rec := f.do(t, http.MethodGet, "/api/users/u1/funds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body fundsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Funds, 2)
	assert.Equal(t, 2, body.Summary.Total)
	assert.Equal(t, []report.Count{{Label: "ODS 13", Count: 2}}, body.Summary.BySDG)

	rec = f.do(t, http.MethodPut, "/api/users/u1/funds/Fondo%20Verde/status", `{"status":"CONTACTADO"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got model.Fund
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "CONTACTADO", got.Status)

	rec = f.do(t, http.MethodPut, "/api/users/u1/funds/Missing/status", `{"status":"CONTACTADO"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/users/u1/funds/Acumen/status", `{"status":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_Stop(t *testing.T) {
	entered := make(chan struct{})
	f := newFixture(t, pipeline.Phase{Name: "slow", Label: "Slow", Call: func(ctx context.Context, _ pipeline.PhaseInput) ([]model.Fund, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}})

	rec := f.do(t, http.MethodPost, "/api/users/u1/search", `{"analyze":false}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var started searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.NotEmpty(t, started.RunID)
	<-entered

	rec = f.do(t, http.MethodPost, "/api/users/u1/search/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st model.RunState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.False(t, st.Active)
	assert.True(t, st.Canceled)
	assert.Equal(t, session.StopMessage, st.Message)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	f.searchAndWait(t, "u1")

	rec := f.do(t, http.MethodGet, "/api/users/u1/report?format=csv", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="2026-03-02_fondos.csv"`, rec.Header().Get("Content-Disposition"))
	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, "nombre_fondo", records[0][0])

	rec = f.do(t, http.MethodGet, "/api/users/u1/report?format=xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, report.FormatXLSX.ContentType(), rec.Header().Get("Content-Type"))
	assert.NotZero(t, rec.Body.Len())

	rec = f.do(t, http.MethodGet, "/api/users/u1/report?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.searchAndWait(t, "u1")

	rec := f.do(t, http.MethodDelete, "/api/users/u1/session", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/users/u1/funds", "")
	var body fundsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Funds)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)
	f.searchAndWait(t, "u1")

	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/users/u1/events", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() session.Event {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var ev session.Event
				require.NoError(t, json.Unmarshal([]byte(data), &ev))
				return ev
			}
		}
	}

	first := next()
	assert.Equal(t, "u1", first.UserID)
	assert.Len(t, first.Funds, 2)

	rec := f.do(t, http.MethodPut, "/api/users/u1/funds/Acumen/status", `{"status":"DESCARTADO"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	ev := next()
	var status string
	for _, fd := range ev.Funds {
		if fd.Name == "Acumen" {
			status = fd.Status
		}
	}
	assert.Equal(t, "DESCARTADO", status)
}

func TestJobs_Create(t *testing.T) {
	f := newFixture(t)
	job := &model.Job{ID: "j1", UserID: "u1", Status: model.JobStatusPending}
	f.jobs.On("Create", mock.Anything, "u1", "https://hooks.example/n8n", true).Return(job, nil).Once()

	rec := f.do(t, http.MethodPost, "/api/jobs", `{"user_id":"u1","webhook_url":"https://hooks.example/n8n","auto_analyze":true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var got model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "j1", got.ID)

	rec = f.do(t, http.MethodPost, "/api/jobs", `{"user_id":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/jobs", `{"user_id":"u1","webhook_url":"ftp://x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobs_CreateAndExecute(t *testing.T) {
	f := newFixture(t)
	f.jobs.On("Create", mock.Anything, "u1", "", false).Return(&model.Job{ID: "j2"}, nil).Once()
	f.jobs.On("Launch", mock.Anything, "j2").Return(nil).Once()

	rec := f.do(t, http.MethodPost, "/api/jobs", `{"user_id":"u1","execute":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"id":"j2","status":"running"}`, rec.Body.String())
}

func TestJobs_ExecuteGetCancel(t *testing.T) {
	f := newFixture(t)
	f.jobs.On("Launch", mock.Anything, "done").Return(jobs.ErrNotRunnable).Once()
	f.jobs.On("Launch", mock.Anything, "j1").Return(nil).Once()
	f.jobs.On("Get", mock.Anything, "missing").Return(nil, store.ErrNotFound).Once()
	f.jobs.On("Cancel", mock.Anything, "j1").Return(nil).Once()
	f.jobs.On("Get", mock.Anything, "j1").Return(&model.Job{ID: "j1", Status: model.JobStatusCancelled}, nil).Once()
	f.jobs.On("Cancel", mock.Anything, "old").Return(jobs.ErrFinished).Once()

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/jobs/done/execute", "").Code)
	assert.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/api/jobs/j1/execute", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/jobs/missing", "").Code)

	rec := f.do(t, http.MethodPost, "/api/jobs/j1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancelled"`)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/api/jobs/old/cancel", "").Code)
}

func TestJobs_ListForUser(t *testing.T) {
	f := newFixture(t)
	f.jobs.On("List", mock.Anything, "u1", 5).Return([]model.Job{{ID: "j1"}}, nil).Once()
	f.jobs.On("List", mock.Anything, "u2", jobLimit).Return(nil, nil).Once()

	rec := f.do(t, http.MethodGet, "/api/users/u1/jobs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []model.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	rec = f.do(t, http.MethodGet, "/api/users/u2/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/users/u1/jobs?limit=x", "").Code)
}
