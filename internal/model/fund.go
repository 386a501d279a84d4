package model

import "time"

// StatusPending is the lifecycle label given to a fund the first time it is
// merged into a collection.
const StatusPending = "PENDIENTE"

// Fund is a discovered funding source (investment fund, donor-advised fund,
// foundation, development bank program).
type Fund struct {
	Name      string               `json:"name"`
	Manager   string               `json:"manager"`
	Ticker    string               `json:"ticker"`
	SourceURL string               `json:"source_url"`
	ScrapedAt string               `json:"scraped_at"`
	Alignment Alignment            `json:"alignment"`
	Evidence  string               `json:"evidence"`
	Analysis  *ApplicationAnalysis `json:"analysis,omitempty"`
	Status    string               `json:"status,omitempty"`
}

// Alignment describes how a fund matches the profile's sustainability goals.
type Alignment struct {
	SDGs     []string `json:"sdgs"`
	Keywords []string `json:"keywords"`
	Impact   string   `json:"impact"`
}

// ApplicationAnalysis holds the result of researching how to apply to a fund.
type ApplicationAnalysis struct {
	Eligibility   string     `json:"eligibility"`
	Requirements  []string   `json:"requirements"`
	Steps         []string   `json:"steps"`
	KeyDates      string     `json:"key_dates"`
	ApplyURL      string     `json:"apply_url"`
	ContactEmails []string   `json:"contact_emails"`
	AnalyzedAt    *time.Time `json:"analyzed_at,omitempty"`
}

// HasAnalysis reports whether an application analysis is attached.
func (f Fund) HasAnalysis() bool {
	return f.Analysis != nil
}

// Clone returns a deep copy so callers can hand out snapshots without
// sharing slices with the owning collection.
func (f Fund) Clone() Fund {
	out := f
	out.Alignment.SDGs = cloneStrings(f.Alignment.SDGs)
	out.Alignment.Keywords = cloneStrings(f.Alignment.Keywords)
	if f.Analysis != nil {
		a := *f.Analysis
		a.Requirements = cloneStrings(f.Analysis.Requirements)
		a.Steps = cloneStrings(f.Analysis.Steps)
		a.ContactEmails = cloneStrings(f.Analysis.ContactEmails)
		if f.Analysis.AnalyzedAt != nil {
			t := *f.Analysis.AnalyzedAt
			a.AnalyzedAt = &t
		}
		out.Analysis = &a
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
