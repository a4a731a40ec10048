package setu

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps SETU entries in the relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingStore
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Upsert(ctx context.Context, entry Entry) error {
	normalized, err := entry.Normalize()
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "unit_code"}, {Name: "year"}, {Name: "period"}},
			UpdateAll: true,
		}).
		Create(&normalized).Error
}

func (s *GormStore) ListByUnit(ctx context.Context, unitCode string, limit int) ([]Entry, error) {
	query := s.db.WithContext(ctx).
		Where("unit_code = ?", strings.ToLower(strings.TrimSpace(unitCode))).
		Order("year DESC").
		Order("period DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []Entry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
