package setu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ItemCount is the number of scored questions in a SETU survey.
const ItemCount = 13

var (
	ErrInvalidEntry = errors.New("setu: invalid entry")
	errMissingStore = errors.New("setu: store is required")
)

// ScorePair is the mean and median of one survey item on a 1-5 scale.
type ScorePair struct {
	Mean   float64 `json:"mean" bson:"mean"`
	Median float64 `json:"median" bson:"median"`
}

// Entry is the evaluation of one unit in one teaching period.
type Entry struct {
	UnitCode  string                         `gorm:"column:unit_code;primaryKey;size:32" json:"unit_code" bson:"unit_code"`
	Year      int                            `gorm:"column:year;primaryKey" json:"year" bson:"year"`
	Period    string                         `gorm:"column:period;primaryKey;size:16" json:"period" bson:"period"`
	Responses int                            `gorm:"column:responses;not null;default:0" json:"responses" bson:"responses"`
	Invited   int                            `gorm:"column:invited;not null;default:0" json:"invited" bson:"invited"`
	Items     datatypes.JSONSlice[ScorePair] `gorm:"column:items" json:"items" bson:"items"`
	Aggregate ScorePair                      `gorm:"embedded;embeddedPrefix:aggregate_" json:"aggregate" bson:"aggregate"`
	UpdatedAt time.Time                      `gorm:"column:updated_at;autoUpdateTime" json:"updated_at" bson:"updated_at"`
}

func (Entry) TableName() string {
	return "setu_entries"
}

// Season renders the teaching period, e.g. "2024 S1".
func (e Entry) Season() string {
	return fmt.Sprintf("%d %s", e.Year, e.Period)
}

// ResponseRate is Responses/Invited, or 0 when nobody was invited.
func (e Entry) ResponseRate() float64 {
	if e.Invited <= 0 {
		return 0
	}
	return float64(e.Responses) / float64(e.Invited)
}

// Normalize lowercases the unit code and upper-cases the period, then validates the entry.
func (e Entry) Normalize() (Entry, error) {
	e.UnitCode = strings.ToLower(strings.TrimSpace(e.UnitCode))
	e.Period = strings.ToUpper(strings.TrimSpace(e.Period))
	if e.UnitCode == "" {
		return Entry{}, fmt.Errorf("%w: unit code required", ErrInvalidEntry)
	}
	if e.Period == "" {
		return Entry{}, fmt.Errorf("%w: period required", ErrInvalidEntry)
	}
	if e.Year <= 0 {
		return Entry{}, fmt.Errorf("%w: year %d", ErrInvalidEntry, e.Year)
	}
	if e.Responses < 0 || e.Invited < 0 || (e.Invited > 0 && e.Responses > e.Invited) {
		return Entry{}, fmt.Errorf("%w: %d responses of %d invited", ErrInvalidEntry, e.Responses, e.Invited)
	}
	if len(e.Items) > ItemCount {
		return Entry{}, fmt.Errorf("%w: %d items, at most %d", ErrInvalidEntry, len(e.Items), ItemCount)
	}
	return e, nil
}

// Store persists SETU entries. ListByUnit returns newest periods first;
// limit <= 0 returns everything.
type Store interface {
	Upsert(ctx context.Context, entry Entry) error
	ListByUnit(ctx context.Context, unitCode string, limit int) ([]Entry, error)
}
