// Package pipeline runs the ordered discovery phases of a search, merges each
// batch as it arrives and supports cancellation mid-flight.
package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/fundscout/internal/discovery"
	"github.com/sells-group/fundscout/internal/model"
)

// Kind is what a phase does.
type Kind string

const (
	KindSeed      Kind = "seed"
	KindInitial   Kind = "initial"
	KindExpansion Kind = "expansion"
)

// PhaseInput is what a phase receives.
type PhaseInput struct {
	Profile *model.Profile
	// Prior is the output of the phase named in ExpandsFrom.
	Prior []model.Fund
}

// PhaseFunc performs one discovery phase.
type PhaseFunc func(ctx context.Context, in PhaseInput) ([]model.Fund, error)

// Phase is one step of a discovery run.
type Phase struct {
	Name        string
	Label       string
	Kind        Kind
	Scope       discovery.Scope
	ExpandsFrom string
	Call        PhaseFunc
}

// Defaults tunes the built-in phase list.
type Defaults struct {
	SeedDemo bool
	Region   string
}

// DefaultPhases returns the standard run: optional demo seed, global
// discovery, global expansion, local discovery, local expansion.
func DefaultPhases(svc discovery.Service, d Defaults) []Phase {
	region := d.Region
	if region == "" {
		region = "local"
	}
	specs := []PhaseSpec{
		{Name: "global_initial", Label: "Phase 1/4: Global discovery", Kind: KindInitial, Scope: discovery.ScopeGlobal},
		{Name: "global_expansion", Label: "Phase 2/4: Global expansion", Kind: KindExpansion, Scope: discovery.ScopeGlobal, ExpandsFrom: "global_initial"},
		{Name: "local_initial", Label: fmt.Sprintf("Phase 3/4: %s discovery", region), Kind: KindInitial, Scope: discovery.ScopeLocal},
		{Name: "local_expansion", Label: fmt.Sprintf("Phase 4/4: %s expansion", region), Kind: KindExpansion, Scope: discovery.ScopeLocal, ExpandsFrom: "local_initial"},
	}
	if d.SeedDemo {
		specs = append([]PhaseSpec{{Name: "seed", Label: "Loading verified sample funds", Kind: KindSeed}}, specs...)
	}
	phases, err := BuildPhases(specs, svc)
	if err != nil {
		// The built-in list is static and always valid.
		panic(err)
	}
	return phases
}

// PhaseSpec is the file form of a phase.
type PhaseSpec struct {
	Name        string          `yaml:"name"`
	Label       string          `yaml:"label"`
	Kind        Kind            `yaml:"kind"`
	Scope       discovery.Scope `yaml:"scope"`
	ExpandsFrom string          `yaml:"expands_from"`
	Queries     []string        `yaml:"queries"`
}

type phaseFile struct {
	Phases []PhaseSpec `yaml:"phases"`
}

// LoadPhases reads a YAML phase list from path and binds it to svc.
func LoadPhases(path string, svc discovery.Service) ([]Phase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read phases file %s", path)
	}
	return ParsePhases(data, svc)
}

// ParsePhases parses a YAML phase list and binds it to svc.
func ParsePhases(data []byte, svc discovery.Service) ([]Phase, error) {
	var f phaseFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "pipeline: parse phases")
	}
	if len(f.Phases) == 0 {
		return nil, eris.New("pipeline: phases file lists no phases")
	}
	return BuildPhases(f.Phases, svc)
}

// BuildPhases validates specs and turns them into callable phases.
func BuildPhases(specs []PhaseSpec, svc discovery.Service) ([]Phase, error) {
	seen := make(map[string]bool, len(specs))
	out := make([]Phase, 0, len(specs))
	for i, s := range specs {
		if s.Name == "" {
			return nil, eris.Errorf("pipeline: phase %d has no name", i+1)
		}
		if seen[s.Name] {
			return nil, eris.Errorf("pipeline: duplicate phase %q", s.Name)
		}

		switch s.Kind {
		case KindSeed:
		case KindInitial, KindExpansion:
			if !s.Scope.Valid() {
				return nil, eris.Errorf("pipeline: phase %q has unknown scope %q", s.Name, s.Scope)
			}
		default:
			return nil, eris.Errorf("pipeline: phase %q has unknown kind %q", s.Name, s.Kind)
		}

		if s.Kind == KindExpansion && s.ExpandsFrom == "" {
			return nil, eris.Errorf("pipeline: expansion phase %q needs expands_from", s.Name)
		}
		if s.ExpandsFrom != "" && !seen[s.ExpandsFrom] {
			return nil, eris.Errorf("pipeline: phase %q expands from unknown or later phase %q", s.Name, s.ExpandsFrom)
		}
		seen[s.Name] = true

		label := s.Label
		if label == "" {
			label = s.Name
		}
		out = append(out, Phase{
			Name:        s.Name,
			Label:       label,
			Kind:        s.Kind,
			Scope:       s.Scope,
			ExpandsFrom: s.ExpandsFrom,
			Call:        bind(s, svc),
		})
	}
	return out, nil
}

func bind(s PhaseSpec, svc discovery.Service) PhaseFunc {
	if s.Kind == KindSeed {
		return func(_ context.Context, _ PhaseInput) ([]model.Fund, error) {
			return svc.Demo(), nil
		}
	}
	queries := append([]string(nil), s.Queries...)
	return func(ctx context.Context, in PhaseInput) ([]model.Fund, error) {
		return svc.Discover(ctx, discovery.Request{
			Profile: in.Profile,
			Scope:   s.Scope,
			Expand:  s.Kind == KindExpansion,
			Known:   in.Prior,
			Queries: queries,
		})
	}
}
