package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/model"
	"github.com/sells-group/fundscout/internal/session"
)

const mirrorWriteTimeout = 10 * time.Second

// progress is the slice of run state copied into the job row.
type progress struct {
	percent  int
	phase    string
	found    int
	analyzed int
}

// mirror copies session progress into the job row. Observers must not
// block, so events only record the latest progress and a single goroutine
// writes it. Only events of the bound run are mirrored; other runs on the
// same session are ignored.
type mirror struct {
	store Store
	jobID string

	mu      sync.Mutex
	runID   string
	pending *progress
	last    progress
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
}

func newMirror(st Store, jobID string) *mirror {
	m := &mirror{
		store:   st,
		jobID:   jobID,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go m.loop()
	return m
}

// bind sets the run whose progress belongs to the job.
func (m *mirror) bind(runID string) {
	m.mu.Lock()
	m.runID = runID
	m.mu.Unlock()
}

func (m *mirror) observe(ev session.Event) {
	if !ev.State.Active {
		return
	}
	p := progress{
		percent:  percent(ev.State),
		phase:    ev.State.Phase,
		found:    ev.State.FundsFound,
		analyzed: ev.State.Analyzed,
	}
	m.mu.Lock()
	if m.runID == "" || ev.State.RunID != m.runID || p == m.last {
		m.mu.Unlock()
		return
	}
	m.last = p
	m.pending = &p
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// close writes any pending progress and stops the loop.
func (m *mirror) close() {
	close(m.done)
	<-m.stopped
}

func (m *mirror) loop() {
	defer close(m.stopped)
	for {
		select {
		case <-m.wake:
			m.flush()
		case <-m.done:
			m.flush()
			return
		}
	}
}

func (m *mirror) flush() {
	m.mu.Lock()
	p := m.pending
	m.pending = nil
	m.mu.Unlock()
	if p == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
	defer cancel()
	upd := model.JobUpdate{
		Progress:      &p.percent,
		FundsFound:    &p.found,
		FundsAnalyzed: &p.analyzed,
	}
	if p.phase != "" {
		upd.CurrentPhase = &p.phase
	}
	if err := m.store.UpdateJob(ctx, m.jobID, upd); err != nil {
		zap.L().Warn("jobs: progress update failed", zap.String("job_id", m.jobID), zap.Error(err))
	}
}

// percent maps the step counter to 0-99; 100 is reserved for completion.
func percent(st model.RunState) int {
	if st.Total <= 0 || st.Step <= 0 {
		return 0
	}
	return min((st.Step-1)*100/st.Total, 99)
}
