package overview

import (
	"time"

	"gorm.io/datatypes"
)

const (
	DefaultFreshnessWindow  = 120 * 24 * time.Hour
	DefaultMaxReviews       = 40
	DefaultMaxSeasons       = 4
	DefaultReviewCharBudget = 600
)

// Overview is the stored AI summary of one unit.
type Overview struct {
	UnitID                 string                      `gorm:"column:unit_id;primaryKey;size:36"`
	UnitCode               string                      `gorm:"column:unit_code;size:32;not null;index"`
	Summary                string                      `gorm:"column:summary;type:text"`
	GeneratedAt            time.Time                   `gorm:"column:generated_at"`
	Model                  string                      `gorm:"column:model;size:128"`
	TotalReviewsConsidered int64                       `gorm:"column:total_reviews_considered;not null;default:0"`
	ReviewSampleSize       int                         `gorm:"column:review_sample_size;not null;default:0"`
	SeasonsConsidered      datatypes.JSONSlice[string] `gorm:"column:seasons_considered"`
}

func (Overview) TableName() string {
	return "unit_overviews"
}

// Policy bounds what goes into a prompt and how long a summary stays fresh.
type Policy struct {
	FreshnessWindow  time.Duration
	MaxReviews       int
	MaxSeasons       int
	ReviewCharBudget int
}

// DefaultPolicy returns the production limits.
func DefaultPolicy() Policy {
	return Policy{
		FreshnessWindow:  DefaultFreshnessWindow,
		MaxReviews:       DefaultMaxReviews,
		MaxSeasons:       DefaultMaxSeasons,
		ReviewCharBudget: DefaultReviewCharBudget,
	}
}

func (p Policy) withDefaults() Policy {
	defaults := DefaultPolicy()
	if p.FreshnessWindow <= 0 {
		p.FreshnessWindow = defaults.FreshnessWindow
	}
	if p.MaxReviews <= 0 {
		p.MaxReviews = defaults.MaxReviews
	}
	if p.MaxSeasons <= 0 {
		p.MaxSeasons = defaults.MaxSeasons
	}
	if p.ReviewCharBudget <= 0 {
		p.ReviewCharBudget = defaults.ReviewCharBudget
	}
	return p
}

// ShouldRegenerate reports whether a unit's summary must be rebuilt: when
// forced, when none exists, when the review count moved since generation, or
// when the summary is older than window.
func ShouldRegenerate(existing *Overview, reviewCount int64, force bool, now time.Time, window time.Duration) bool {
	if force {
		return true
	}
	if existing == nil || existing.Summary == "" || existing.GeneratedAt.IsZero() {
		return true
	}
	if existing.TotalReviewsConsidered != reviewCount {
		return true
	}
	return now.Sub(existing.GeneratedAt) > window
}
