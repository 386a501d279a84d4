package pipeline

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/fundscout/internal/discovery"
	"github.com/sells-group/fundscout/internal/model"
)

// FailureMessagePrefix starts the message of a run that failed after
// keeping its partial results.
const FailureMessagePrefix = "search interrupted, partial results were kept: "

// Progress is reported before each step of a run.
type Progress struct {
	Phase      string
	Step       int
	Total      int
	FundsFound int
	Analyzed   int
}

// Target receives the effects of a run. Commit and Annotate must reject a
// token that is no longer live so late results are never merged.
type Target interface {
	Commit(tok *Token, batch []model.Fund) (int, error)
	Annotate(tok *Token, name string, a *model.ApplicationAnalysis) error
	Snapshot() []model.Fund
	Report(tok *Token, p Progress)
}

// Outcome is the result of a run.
type Outcome struct {
	Status    model.RunStatus
	Err       error
	Message   string
	PhasesRun int
	Analyzed  int
	Phases    []model.PhaseResult
}

// RunOptions toggles optional steps of a run.
type RunOptions struct {
	// Analyze researches every fund that lacks an application analysis
	// after discovery.
	Analyze bool
}

// Sequencer runs phases in order against a target.
type Sequencer struct {
	phases  []Phase
	svc     discovery.Service
	limiter *rate.Limiter
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithAnalysisRate limits analysis calls to r per second with the given burst.
func WithAnalysisRate(r float64, burst int) Option {
	return func(s *Sequencer) {
		if r > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(r), max(burst, 1))
		}
	}
}

// NewSequencer creates a sequencer over phases. svc answers analysis calls.
func NewSequencer(phases []Phase, svc discovery.Service, opts ...Option) *Sequencer {
	s := &Sequencer{
		phases:  phases,
		svc:     svc,
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Phases returns the configured phase list.
func (s *Sequencer) Phases() []Phase {
	return s.phases
}

// Run executes every phase for profile, committing each batch to target.
// A canceled token stops the run before the next phase and discards any
// result that arrives after the cancellation. A failing phase stops the run
// and keeps everything merged so far.
func (s *Sequencer) Run(tok *Token, profile *model.Profile, target Target, opts RunOptions) Outcome {
	log := zap.L().With(zap.String("run_id", tok.ID()))
	out := Outcome{Status: model.RunStatusCompleted}

	total := len(s.phases)
	if opts.Analyze {
		total++
	}
	outputs := make(map[string][]model.Fund, len(s.phases))
	found := len(target.Snapshot())

	trackPhase := func(name string, start time.Time, n int, err error, status model.PhaseStatus) {
		pr := model.PhaseResult{
			Name:     name,
			Status:   status,
			Duration: time.Since(start).Milliseconds(),
			Found:    n,
		}
		if err != nil {
			pr.Error = err.Error()
		}
		out.Phases = append(out.Phases, pr)
		fields := []zap.Field{zap.String("phase", name), zap.Int64("duration_ms", pr.Duration), zap.Int("found", n)}
		switch status {
		case model.PhaseStatusFailed:
			log.Error("pipeline: phase failed", append(fields, zap.Error(err))...)
		case model.PhaseStatusCanceled:
			log.Info("pipeline: phase canceled", fields...)
		default:
			log.Info("pipeline: phase complete", fields...)
		}
	}

	for i, ph := range s.phases {
		if tok.Canceled() {
			return s.canceled(tok, out)
		}
		target.Report(tok, Progress{Phase: ph.Label, Step: i + 1, Total: total, FundsFound: found})

		start := time.Now()
		batch, err := ph.Call(tok.Context(), PhaseInput{Profile: profile, Prior: outputs[ph.ExpandsFrom]})
		if tok.Canceled() || (err != nil && IsCancellation(err)) {
			trackPhase(ph.Name, start, 0, nil, model.PhaseStatusCanceled)
			return s.canceled(tok, out)
		}
		if err != nil {
			trackPhase(ph.Name, start, 0, err, model.PhaseStatusFailed)
			out.Status = model.RunStatusFailed
			out.Err = err
			out.Message = FailureMessagePrefix + err.Error()
			return out
		}

		n, err := target.Commit(tok, batch)
		if err != nil {
			trackPhase(ph.Name, start, len(batch), nil, model.PhaseStatusCanceled)
			return s.canceled(tok, out)
		}
		found = n
		outputs[ph.Name] = batch
		out.PhasesRun++
		trackPhase(ph.Name, start, len(batch), nil, model.PhaseStatusComplete)
	}

	if opts.Analyze {
		return s.analyze(tok, target, out, total, found)
	}
	return out
}

func (s *Sequencer) canceled(tok *Token, out Outcome) Outcome {
	out.Status = model.RunStatusCanceled
	out.Err = tok.Cause()
	if out.Err == nil {
		out.Err = ErrStopped
	}
	out.Message = out.Err.Error()
	return out
}
