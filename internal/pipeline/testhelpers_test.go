package pipeline

import (
	"context"
	"sync"

	"github.com/sells-group/fundscout/internal/fund"
	"github.com/sells-group/fundscout/internal/model"
)

// memTarget is an in-memory Target that rejects stale tokens the same way
// the session does.
type memTarget struct {
	mu        sync.Mutex
	ctrl      *Controller
	funds     *fund.Collection
	progress  []Progress
	commits   int
	annotated []string
}

func newMemTarget(ctrl *Controller, seed ...model.Fund) *memTarget {
	return &memTarget{ctrl: ctrl, funds: fund.NewCollection(seed...)}
}

func (m *memTarget) Commit(tok *Token, batch []model.Fund) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ctrl.IsCurrent(tok) {
		return 0, ErrSuperseded
	}
	m.funds.Merge(batch)
	m.commits++
	return m.funds.Len(), nil
}

func (m *memTarget) Annotate(tok *Token, name string, a *model.ApplicationAnalysis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ctrl.IsCurrent(tok) {
		return ErrSuperseded
	}
	m.funds.AttachAnalysis(name, a)
	m.annotated = append(m.annotated, name)
	return nil
}

func (m *memTarget) Snapshot() []model.Fund {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.funds.Snapshot()
}

func (m *memTarget) Report(_ *Token, p Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress = append(m.progress, p)
}

func (m *memTarget) labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.progress))
	for i, p := range m.progress {
		out[i] = p.Phase
	}
	return out
}

func fundNames(funds []model.Fund) []string {
	out := make([]string, len(funds))
	for i, f := range funds {
		out[i] = f.Name
	}
	return out
}

// staticPhase returns a phase that yields the named funds and counts calls.
func staticPhase(name string, calls *int, funds ...string) Phase {
	return Phase{
		Name:  name,
		Label: "label " + name,
		Kind:  KindInitial,
		Call: func(_ context.Context, _ PhaseInput) ([]model.Fund, error) {
			*calls++
			out := make([]model.Fund, len(funds))
			for i, n := range funds {
				out[i] = model.Fund{Name: n}
			}
			return out, nil
		},
	}
}
