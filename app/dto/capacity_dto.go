package dto

// CapacityFeaturesDTO mirrors the feature flags derived from the capacity level
type CapacityFeaturesDTO struct {
	StatsEnabled       bool `json:"statsEnabled"`
	SubmissionsEnabled bool `json:"submissionsEnabled"`
	ChartEnabled       bool `json:"chartEnabled"`
	CacheExtended      bool `json:"cacheExtended"`
	SubmissionsQueued  bool `json:"submissionsQueued"`
}

// CapacityResponse represents the admission-control state served to the frontend.
// The level is authoritative; the feature block is a convenience derivation.
type CapacityResponse struct {
	Level             string              `json:"level" example:"normal"`
	Features          CapacityFeaturesDTO `json:"features"`
	Notice            string              `json:"notice,omitempty"`
	RetryAfterSeconds *int64              `json:"retryAfterSeconds,omitempty" example:"43200"`
}
