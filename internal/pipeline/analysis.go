package pipeline

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/fundscout/internal/model"
)

// analyze researches each fund without an analysis, one at a time, and
// attaches the results in place. Per-fund failures are logged and skipped.
func (s *Sequencer) analyze(tok *Token, target Target, out Outcome, total, found int) Outcome {
	log := zap.L().With(zap.String("run_id", tok.ID()), zap.String("phase", "analysis"))
	start := time.Now()

	var pending []model.Fund
	for _, f := range target.Snapshot() {
		if !f.HasAnalysis() {
			pending = append(pending, f)
		}
	}
	log.Info("pipeline: analyzing funds", zap.Int("pending", len(pending)))

	ctx := tok.Context()
	for i, f := range pending {
		if tok.Canceled() {
			return s.canceled(tok, out)
		}
		if err := s.limiter.Wait(ctx); err != nil {
			if tok.Canceled() {
				return s.canceled(tok, out)
			}
			log.Warn("pipeline: analysis rate limiter", zap.Error(err))
		}

		target.Report(tok, Progress{
			Phase:      fmt.Sprintf("Analyzing %d/%d: %s", i+1, len(pending), f.Name),
			Step:       total,
			Total:      total,
			FundsFound: found,
			Analyzed:   out.Analyzed,
		})

		a, err := s.svc.Analyze(ctx, f.Name, f.SourceURL)
		if tok.Canceled() || (err != nil && IsCancellation(err)) {
			return s.canceled(tok, out)
		}
		if err != nil {
			log.Warn("pipeline: analysis failed, skipping fund", zap.String("fund", f.Name), zap.Error(err))
			continue
		}
		if a == nil {
			log.Debug("pipeline: no usable analysis", zap.String("fund", f.Name))
			continue
		}
		if a.AnalyzedAt == nil {
			now := time.Now().UTC()
			a.AnalyzedAt = &now
		}
		if err := target.Annotate(tok, f.Name, a); err != nil {
			return s.canceled(tok, out)
		}
		out.Analyzed++
	}

	out.Phases = append(out.Phases, model.PhaseResult{
		Name:     "analysis",
		Status:   model.PhaseStatusComplete,
		Duration: time.Since(start).Milliseconds(),
		Found:    out.Analyzed,
	})
	log.Info("pipeline: analysis complete", zap.Int("analyzed", out.Analyzed), zap.Int("pending", len(pending)))
	return out
}
