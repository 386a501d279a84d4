// Package discovery finds funding sources for a company profile by running
// web searches and asking a language model to extract structured funds from
// the results.
package discovery

import (
	"context"

	"github.com/sells-group/fundscout/internal/model"
)

// Scope selects the geographic focus of a discovery request.
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeLocal  Scope = "local"
)

// Valid reports whether s is a known scope.
func (s Scope) Valid() bool {
	return s == ScopeGlobal || s == ScopeLocal
}

// Request describes one discovery call.
type Request struct {
	Profile *model.Profile
	Scope   Scope
	// Expand asks for funds other than Known.
	Expand bool
	Known  []model.Fund
	// Queries overrides the generated search queries when non-empty.
	Queries []string
}

// Service is the discovery collaborator used by the pipeline.
type Service interface {
	// Discover returns funds matching the request. An empty result is not an
	// error.
	Discover(ctx context.Context, req Request) ([]model.Fund, error)
	// Analyze researches how to apply to a fund. A nil analysis with a nil
	// error means nothing usable was found.
	Analyze(ctx context.Context, name, url string) (*model.ApplicationAnalysis, error)
	// Demo returns the verified sample funds.
	Demo() []model.Fund
}
