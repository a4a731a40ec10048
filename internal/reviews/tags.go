package reviews

import (
	"context"
	"fmt"

	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opRefreshMostReviews = "reviews.refresh_most_reviews_tag"

	// DefaultMostReviewsThreshold is the minimum review count for the most-reviews tag.
	DefaultMostReviewsThreshold = 10
)

// TagRefreshResult reports the outcome of a most-reviews refresh.
type TagRefreshResult struct {
	UnitID      string
	UnitCode    string
	ReviewCount int64
	Assigned    bool
	// Skipped is set when the winner already carries the maximum number of tags.
	Skipped bool
	Cleared int64
}

type reviewCountRow struct {
	UnitID      string
	UnitCode    string
	ReviewCount int64
}

// RefreshMostReviewsTag moves the most-reviews tag to the unit with the most
// reviews, provided it has at least threshold reviews. Ties go to the lowest
// unit code. Stale tags are always removed.
func (s *Service) RefreshMostReviewsTag(ctx context.Context, threshold int64) (TagRefreshResult, error) {
	if threshold < 1 {
		return TagRefreshResult{}, apperr.Validation(opRefreshMostReviews, "invalid_threshold", fmt.Errorf("threshold %d", threshold))
	}

	var result TagRefreshResult
	err := s.inTx(ctx, opRefreshMostReviews, func(tx *gorm.DB) error {
		var rows []reviewCountRow
		err := tx.Model(&Unit{}).
			Select("units.id AS unit_id, units.code AS unit_code, COUNT(reviews.id) AS review_count").
			Joins("JOIN reviews ON reviews.unit_id = units.id").
			Group("units.id, units.code").
			Having("COUNT(reviews.id) >= ?", threshold).
			Order("review_count DESC").
			Order("units.code ASC").
			Limit(1).
			Scan(&rows).Error
		if err != nil {
			return apperr.Aborted(opRefreshMostReviews, "count_query_failed", err)
		}

		cleared := tx.Where("tag = ?", TagMostReviews).Delete(&UnitTag{})
		if cleared.Error != nil {
			return apperr.Aborted(opRefreshMostReviews, "tag_clear_failed", cleared.Error)
		}
		result.Cleared = cleared.RowsAffected

		if len(rows) == 0 {
			return nil
		}
		winner := rows[0]
		result.UnitID = winner.UnitID
		result.UnitCode = winner.UnitCode
		result.ReviewCount = winner.ReviewCount

		var tagCount int64
		if err := tx.Model(&UnitTag{}).Where("unit_id = ?", winner.UnitID).Count(&tagCount).Error; err != nil {
			return apperr.Aborted(opRefreshMostReviews, "tag_count_failed", err)
		}
		if tagCount >= maxTagsPerUnit {
			result.Skipped = true
			s.loggerOrDefault().Warn("most-reviews tag not assigned, unit has no free tag slot",
				zap.String("unit_code", winner.UnitCode),
				zap.Int64("tag_count", tagCount))
			return nil
		}
		if err := tx.Create(&UnitTag{UnitID: winner.UnitID, Tag: TagMostReviews}).Error; err != nil {
			return apperr.Aborted(opRefreshMostReviews, "tag_insert_failed", err)
		}
		result.Assigned = true
		return nil
	})
	if err != nil {
		return TagRefreshResult{}, err
	}

	s.loggerOrDefault().Info("most-reviews tag refreshed",
		zap.String("unit_code", result.UnitCode),
		zap.Int64("review_count", result.ReviewCount),
		zap.Bool("assigned", result.Assigned),
		zap.Int64("cleared", result.Cleared))
	return result, nil
}
