package model

// Tier controls feature access for a profile.
type Tier string

const (
	TierDemo    Tier = "demo"
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierDemo || t == TierBasic || t == TierPremium
}

// Profile is the company profile used to steer discovery.
type Profile struct {
	CompanyName       string   `json:"company_name"`
	Address           string   `json:"address"`
	CompanyType       string   `json:"company_type"`
	Stage             string   `json:"stage"`
	FinancingTypes    []string `json:"financing_types"`
	IncorporationDate string   `json:"incorporation_date"`
	AmountRequired    string   `json:"amount_required"`
	SDGs              []string `json:"sdgs"`
	Summary           string   `json:"summary,omitempty"`
	Tier              Tier     `json:"tier"`
}

// EffectiveTier returns the profile tier, defaulting to demo.
func (p *Profile) EffectiveTier() Tier {
	if p == nil || p.Tier == "" {
		return TierDemo
	}
	return p.Tier
}

// ProfileSummary is the short listing form returned by tier queries.
type ProfileSummary struct {
	UserID      string `json:"user_id"`
	CompanyName string `json:"company_name"`
	Tier        Tier   `json:"tier"`
}
