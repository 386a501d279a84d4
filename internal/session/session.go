// Package session owns one user's fund collection and discovery runs. It is
// the pipeline's commit target: batches merge into memory under the session
// lock and are handed to the background writer for persistence.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/fund"
	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/pipeline"
)

// StopMessage is the notice shown after the user stops a run.
const StopMessage = "search stopped by user"

// Loader reads a user's saved funds. store.Store satisfies it.
type Loader interface {
	LoadFunds(ctx context.Context, userID string) ([]model.Fund, error)
}

// Writer persists changes in the background. persist.Writer satisfies it.
type Writer interface {
	Schedule(userID string, snapshot []model.Fund)
	WriteStatus(userID, name, status string)
	WriteAnalysis(userID, name string, a *model.ApplicationAnalysis)
}

// Event is delivered to observers after every change.
type Event struct {
	UserID string         `json:"user_id"`
	State  model.RunState `json:"state"`
	Funds  []model.Fund   `json:"funds"`
}

// Observer receives session events. It runs on the goroutine that made the
// change and must not block.
type Observer func(Event)

// RunOptions tunes one run.
type RunOptions struct {
	// Analyze forces the analysis phase regardless of the profile tier.
	Analyze bool
	// OnStart receives the run ID before the run's first event.
	OnStart func(runID string)
}

// Session is one user's discovery state.
type Session struct {
	userID string
	seq    *pipeline.Sequencer
	loader Loader
	writer Writer
	ctrl   pipeline.Controller

	mu        sync.Mutex
	funds     *fund.Collection
	state     model.RunState
	profile   *model.Profile
	loaded    bool
	observers map[int]Observer
	nextObs   int

	wg sync.WaitGroup
}

// New creates a session for userID. loader and writer may be nil for an
// in-memory session.
func New(userID string, seq *pipeline.Sequencer, loader Loader, writer Writer) *Session {
	return &Session{
		userID:    userID,
		seq:       seq,
		loader:    loader,
		writer:    writer,
		funds:     fund.NewCollection(),
		observers: make(map[int]Observer),
	}
}

// UserID returns the owner of the session.
func (s *Session) UserID() string { return s.userID }

// Load seeds the collection from storage. Only the first successful call
// reads; later calls are no-ops until Reset.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if loaded || s.loader == nil {
		return nil
	}

	saved, err := s.loader.LoadFunds(ctx, s.userID)
	if err != nil {
		return eris.Wrapf(err, "session: load funds for %s", s.userID)
	}

	s.mu.Lock()
	if !s.loaded {
		s.funds.Replace(saved)
		s.loaded = true
	}
	s.mu.Unlock()

	zap.L().Debug("session: loaded funds", zap.String("user", s.userID), zap.Int("funds", len(saved)))
	s.emit()
	return nil
}

// Start cancels any active run and starts a new one in the background. It
// returns the run ID.
func (s *Session) Start(profile *model.Profile, opts RunOptions) string {
	tok := s.begin(context.Background(), profile, opts)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(tok, profile, opts)
	}()
	return tok.ID()
}

// Run starts a run and blocks until it ends. Canceling ctx stops the run.
func (s *Session) Run(ctx context.Context, profile *model.Profile, opts RunOptions) pipeline.Outcome {
	tok := s.begin(ctx, profile, opts)
	return s.execute(tok, profile, opts)
}

func (s *Session) begin(ctx context.Context, profile *model.Profile, opts RunOptions) *pipeline.Token {
	s.mu.Lock()
	tok := s.ctrl.Start(ctx)
	now := time.Now().UTC()
	s.profile = profile
	s.state = model.RunState{
		RunID:      tok.ID(),
		Active:     true,
		FundsFound: s.funds.Len(),
		StartedAt:  &now,
	}
	s.mu.Unlock()

	zap.L().Info("session: run started",
		zap.String("user", s.userID),
		zap.String("run_id", tok.ID()),
		zap.String("tier", string(profile.EffectiveTier())),
	)
	if opts.OnStart != nil {
		opts.OnStart(tok.ID())
	}
	s.emit()
	return tok
}

func (s *Session) execute(tok *pipeline.Token, profile *model.Profile, opts RunOptions) pipeline.Outcome {
	analyze := opts.Analyze || profile.EffectiveTier() == model.TierPremium
	out := s.seq.Run(tok, profile, s, pipeline.RunOptions{Analyze: analyze})
	s.finish(tok, out)
	return out
}

// finish records the outcome unless a newer run owns the state.
func (s *Session) finish(tok *pipeline.Token, out pipeline.Outcome) {
	s.mu.Lock()
	if s.state.RunID != tok.ID() {
		s.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	st := &s.state
	st.FundsFound = s.funds.Len()
	st.Analyzed = out.Analyzed
	if st.Active {
		st.Active = false
		st.FinishedAt = &now
	}
	switch out.Status {
	case model.RunStatusCanceled:
		st.Canceled = true
		if errors.Is(out.Err, pipeline.ErrStopped) {
			st.Message = StopMessage
		} else if st.Message == "" {
			st.Message = out.Message
		}
	case model.RunStatusFailed:
		st.Error = out.Message
	}
	s.mu.Unlock()

	zap.L().Info("session: run finished",
		zap.String("user", s.userID),
		zap.String("run_id", tok.ID()),
		zap.String("status", string(out.Status)),
		zap.Int("phases", out.PhasesRun),
		zap.Int("analyzed", out.Analyzed),
	)
	s.emit()
}

// Stop cancels the active run. The state turns inactive at once with a
// neutral notice; the pipeline exits at its next checkpoint.
func (s *Session) Stop() {
	s.mu.Lock()
	tok := s.ctrl.Current()
	s.ctrl.Cancel(tok)
	changed := false
	if s.state.Active {
		now := time.Now().UTC()
		s.state.Active = false
		s.state.Canceled = true
		s.state.Message = StopMessage
		s.state.FinishedAt = &now
		changed = true
	}
	s.mu.Unlock()

	if changed {
		zap.L().Info("session: run stopped", zap.String("user", s.userID))
		s.emit()
	}
}

// Wait blocks until every background run has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Reset stops any run and clears the collection and state.
func (s *Session) Reset() {
	s.Stop()
	s.mu.Lock()
	s.funds.Reset()
	s.state = model.RunState{}
	s.profile = nil
	s.loaded = false
	s.mu.Unlock()
	s.emit()
}

// Funds returns a snapshot of the collection.
func (s *Session) Funds() []model.Fund {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.funds.Snapshot()
}

// Fund returns one fund by name.
func (s *Session) Fund(name string) (model.Fund, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.funds.Get(name)
}

// State returns the current run state.
func (s *Session) State() model.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Profile returns the profile of the latest run.
func (s *Session) Profile() *model.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Status returns the lifecycle status of a fund.
func (s *Session) Status(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.funds.Status(name)
}

// SetStatus changes a fund's status in memory and writes it through. The
// full snapshot is rescheduled too, so a pending debounced save cannot write
// the old status back. It reports false when the fund is unknown.
func (s *Session) SetStatus(name, status string) bool {
	s.mu.Lock()
	if !s.funds.SetStatus(name, status) {
		s.mu.Unlock()
		return false
	}
	// Hand off under the lock so snapshots reach the writer in change order.
	if s.writer != nil {
		s.writer.WriteStatus(s.userID, name, status)
		s.writer.Schedule(s.userID, s.funds.Snapshot())
	}
	s.mu.Unlock()
	s.emit()
	return true
}

// Subscribe registers fn and returns a function that removes it.
func (s *Session) Subscribe(fn Observer) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Commit implements pipeline.Target.
func (s *Session) Commit(tok *pipeline.Token, batch []model.Fund) (int, error) {
	s.mu.Lock()
	if !s.ctrl.IsCurrent(tok) {
		s.mu.Unlock()
		return 0, pipeline.ErrSuperseded
	}
	s.funds.Merge(batch)
	snap := s.funds.Snapshot()
	s.state.FundsFound = len(snap)
	if s.writer != nil {
		s.writer.Schedule(s.userID, snap)
	}
	s.mu.Unlock()
	s.emit()
	return len(snap), nil
}

// Annotate implements pipeline.Target.
func (s *Session) Annotate(tok *pipeline.Token, name string, a *model.ApplicationAnalysis) error {
	s.mu.Lock()
	if !s.ctrl.IsCurrent(tok) {
		s.mu.Unlock()
		return pipeline.ErrSuperseded
	}
	ok := s.funds.AttachAnalysis(name, a)
	if ok {
		s.state.Analyzed++
	}
	s.mu.Unlock()

	if ok && s.writer != nil {
		s.writer.WriteAnalysis(s.userID, name, a)
	}
	s.emit()
	return nil
}

// Snapshot implements pipeline.Target.
func (s *Session) Snapshot() []model.Fund {
	return s.Funds()
}

// Report implements pipeline.Target.
func (s *Session) Report(tok *pipeline.Token, p pipeline.Progress) {
	s.mu.Lock()
	if s.state.RunID != tok.ID() || !s.state.Active {
		s.mu.Unlock()
		return
	}
	s.state.Phase = p.Phase
	s.state.Step = p.Step
	s.state.Total = p.Total
	s.state.FundsFound = p.FundsFound
	s.state.Analyzed = p.Analyzed
	s.mu.Unlock()
	s.emit()
}

func (s *Session) emit() {
	s.mu.Lock()
	if len(s.observers) == 0 {
		s.mu.Unlock()
		return
	}
	ev := Event{UserID: s.userID, State: s.state, Funds: s.funds.Snapshot()}
	obs := make([]Observer, 0, len(s.observers))
	for _, fn := range s.observers {
		obs = append(obs, fn)
	}
	s.mu.Unlock()

	for _, fn := range obs {
		fn(ev)
	}
}
