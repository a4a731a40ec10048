package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCreateUnit      = "reviews.create_unit"
	opGetUnit         = "reviews.get_unit"
	opListUnits       = "reviews.list_units"
	opSetUnitTags     = "reviews.set_unit_tags"
	opListReviewedIDs = "reviews.list_reviewed_units"
	maxUnitCodeLength = 32
)

// UnitInput carries the editable fields of a unit.
type UnitInput struct {
	Code        string
	Name        string
	Description string
}

// CreateUnit stores a new unit. Codes are stored lowercased and are unique.
func (s *Service) CreateUnit(ctx context.Context, input UnitInput) (Unit, error) {
	code := normalizeCode(input.Code)
	if code == "" {
		return Unit{}, apperr.Validation(opCreateUnit, "missing_code", nil)
	}
	if len(code) > maxUnitCodeLength {
		return Unit{}, apperr.Validation(opCreateUnit, "code_too_long", fmt.Errorf("exceeds %d characters", maxUnitCodeLength))
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Unit{}, apperr.Validation(opCreateUnit, "missing_name", nil)
	}

	id, err := s.newID(opCreateUnit)
	if err != nil {
		return Unit{}, err
	}
	unit := Unit{
		ID:          id,
		Code:        code,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
	}
	if err := s.db.WithContext(ctx).Create(&unit).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return Unit{}, apperr.Conflict(opCreateUnit, "duplicate_code", err)
		}
		s.logError(opCreateUnit, "insert_failed", err, zap.String("unit_code", code))
		return Unit{}, apperr.MapStore(opCreateUnit, "insert_failed", err)
	}
	return unit, nil
}

// GetUnit loads a unit and its tags by code.
func (s *Service) GetUnit(ctx context.Context, code string) (Unit, error) {
	normalized := normalizeCode(code)
	if normalized == "" {
		return Unit{}, apperr.Validation(opGetUnit, "missing_code", nil)
	}
	var unit Unit
	err := s.db.WithContext(ctx).Preload("Tags").Where("code = ?", normalized).Take(&unit).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Unit{}, apperr.NotFound(opGetUnit, "unit_missing", err)
	}
	if err != nil {
		s.logError(opGetUnit, "query_failed", err, zap.String("unit_code", normalized))
		return Unit{}, apperr.MapStore(opGetUnit, "query_failed", err)
	}
	return unit, nil
}

// ListUnits returns every unit with its tags, ordered by code.
func (s *Service) ListUnits(ctx context.Context) ([]Unit, error) {
	var units []Unit
	if err := s.db.WithContext(ctx).Preload("Tags").Order("code ASC").Find(&units).Error; err != nil {
		s.logError(opListUnits, "query_failed", err)
		return nil, apperr.MapStore(opListUnits, "query_failed", err)
	}
	return units, nil
}

// ListReviewedUnitCodes returns the codes of units with at least one review, ordered by code.
func (s *Service) ListReviewedUnitCodes(ctx context.Context) ([]string, error) {
	var codes []string
	err := s.db.WithContext(ctx).
		Model(&Unit{}).
		Where("review_count > 0").
		Order("code ASC").
		Pluck("code", &codes).Error
	if err != nil {
		s.logError(opListReviewedIDs, "query_failed", err)
		return nil, apperr.MapStore(opListReviewedIDs, "query_failed", err)
	}
	return codes, nil
}

// SetUnitTags replaces the editorial tags of a unit. most-reviews is owned by
// RefreshMostReviewsTag: it cannot be set here and is kept when present.
func (s *Service) SetUnitTags(ctx context.Context, code string, tags []Tag) (Unit, error) {
	normalized := normalizeCode(code)
	if normalized == "" {
		return Unit{}, apperr.Validation(opSetUnitTags, "missing_code", nil)
	}
	requested := make([]Tag, 0, len(tags))
	seen := make(map[Tag]struct{}, len(tags))
	for _, raw := range tags {
		tag, ok := ParseTag(string(raw))
		if !ok {
			return Unit{}, apperr.Validation(opSetUnitTags, "unknown_tag", fmt.Errorf("tag %q", raw))
		}
		if tag == TagMostReviews {
			return Unit{}, apperr.Validation(opSetUnitTags, "reserved_tag", fmt.Errorf("tag %q is assigned automatically", tag))
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		requested = append(requested, tag)
	}

	var unitID string
	err := s.inTx(ctx, opSetUnitTags, func(tx *gorm.DB) error {
		var unit Unit
		if err := takeOrNotFound(tx.Select("id"), opSetUnitTags, "unit_missing", &unit, "code = ?", normalized); err != nil {
			return err
		}
		unitID = unit.ID

		var keepsMostReviews int64
		if err := tx.Model(&UnitTag{}).
			Where("unit_id = ? AND tag = ?", unit.ID, TagMostReviews).
			Count(&keepsMostReviews).Error; err != nil {
			return apperr.Aborted(opSetUnitTags, "tag_count_failed", err)
		}
		if int(keepsMostReviews)+len(requested) > maxTagsPerUnit {
			return apperr.Validation(opSetUnitTags, "too_many_tags", fmt.Errorf("a unit holds at most %d tags", maxTagsPerUnit))
		}

		if err := tx.Where("unit_id = ? AND tag <> ?", unit.ID, TagMostReviews).Delete(&UnitTag{}).Error; err != nil {
			return apperr.Aborted(opSetUnitTags, "tag_delete_failed", err)
		}
		for _, tag := range requested {
			if err := tx.Create(&UnitTag{UnitID: unit.ID, Tag: tag}).Error; err != nil {
				return apperr.Aborted(opSetUnitTags, "tag_insert_failed", err)
			}
		}
		return nil
	})
	if err != nil {
		return Unit{}, err
	}

	var unit Unit
	if err := s.db.WithContext(ctx).Preload("Tags").Where("id = ?", unitID).Take(&unit).Error; err != nil {
		return Unit{}, apperr.MapStore(opSetUnitTags, "reload_failed", err)
	}
	return unit, nil
}

func findUnitByCode(tx *gorm.DB, operation, code string) (Unit, error) {
	normalized := normalizeCode(code)
	if normalized == "" {
		return Unit{}, apperr.Validation(operation, "missing_unit_code", nil)
	}
	var unit Unit
	if err := takeOrNotFound(tx, operation, "unit_missing", &unit, "code = ?", normalized); err != nil {
		return Unit{}, err
	}
	return unit, nil
}
