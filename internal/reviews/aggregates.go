package reviews

import (
	"context"
	"strings"

	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opRecomputeAggregates = "reviews.recompute_aggregates"

// Aggregates are the per-unit rating means. Every mean is 0 when the unit has no reviews.
type Aggregates struct {
	AvgOverall   float64
	AvgRelevancy float64
	AvgFaculty   float64
	AvgContent   float64
	ReviewCount  int64
}

type aggregateRow struct {
	AvgOverall   float64
	AvgRelevancy float64
	AvgFaculty   float64
	AvgContent   float64
	ReviewCount  int64
}

// RecomputeUnitAggregates recalculates and stores the averages of one unit.
func (s *Service) RecomputeUnitAggregates(ctx context.Context, unitID string) (Aggregates, error) {
	if strings.TrimSpace(unitID) == "" {
		return Aggregates{}, apperr.Validation(opRecomputeAggregates, "missing_unit_id", nil)
	}
	var result Aggregates
	err := s.inTx(ctx, opRecomputeAggregates, func(tx *gorm.DB) error {
		aggregates, err := recomputeUnitAggregates(tx, unitID)
		if err != nil {
			return err
		}
		result = aggregates
		return nil
	})
	if err != nil {
		s.logError(opRecomputeAggregates, "recompute_failed", err, zap.String("unit_id", unitID))
		return Aggregates{}, err
	}
	return result, nil
}

// recomputeUnitAggregates runs inside the caller's transaction so the stored
// means always match the review set the transaction commits.
func recomputeUnitAggregates(tx *gorm.DB, unitID string) (Aggregates, error) {
	var unit Unit
	if err := takeOrNotFound(tx.Select("id"), opRecomputeAggregates, "unit_missing", &unit, "id = ?", unitID); err != nil {
		return Aggregates{}, err
	}

	var row aggregateRow
	err := tx.Model(&Review{}).
		Select(
			"COALESCE(AVG(overall_rating), 0) AS avg_overall, "+
				"COALESCE(AVG(relevancy_rating), 0) AS avg_relevancy, "+
				"COALESCE(AVG(faculty_rating), 0) AS avg_faculty, "+
				"COALESCE(AVG(content_rating), 0) AS avg_content, "+
				"COUNT(*) AS review_count").
		Where("unit_id = ?", unitID).
		Scan(&row).Error
	if err != nil {
		return Aggregates{}, apperr.Aborted(opRecomputeAggregates, "aggregate_query_failed", err)
	}

	err = tx.Model(&Unit{}).
		Where("id = ?", unitID).
		Updates(map[string]interface{}{
			"avg_overall_rating":   row.AvgOverall,
			"avg_relevancy_rating": row.AvgRelevancy,
			"avg_faculty_rating":   row.AvgFaculty,
			"avg_content_rating":   row.AvgContent,
			"review_count":         row.ReviewCount,
		}).Error
	if err != nil {
		return Aggregates{}, apperr.Aborted(opRecomputeAggregates, "unit_update_failed", err)
	}

	return Aggregates(row), nil
}
