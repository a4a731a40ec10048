package reviews

import (
	"context"
	"sort"
	"strings"

	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const opDeleteUser = "reviews.delete_user"

// DeleteUserResult summarizes what a user deletion touched.
type DeleteUserResult struct {
	UserID          string
	DeletedReviews  int
	AffectedUnitIDs []string
	AssetRemoved    bool
}

// DeleteUser removes a user together with everything that references them:
// their reviews (with the reactions and notifications on those reviews), the
// notifications they received or triggered, and their reactions to other
// reviews (decrementing those counters). Every affected unit gets fresh
// averages. The profile image is removed after commit on a best-effort basis.
func (s *Service) DeleteUser(ctx context.Context, userID string) (DeleteUserResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return DeleteUserResult{}, apperr.Validation(opDeleteUser, "missing_user_id", nil)
	}

	var deleted User
	result := DeleteUserResult{UserID: userID}
	err := s.inTx(ctx, opDeleteUser, func(tx *gorm.DB) error {
		if err := takeOrNotFound(tx.Clauses(lockForUpdate), opDeleteUser, "user_missing", &deleted, "id = ?", userID); err != nil {
			return err
		}

		// Locking the authored reviews makes in-flight toggles on them finish
		// before their reactions and notifications are collected.
		var authored []Review
		err := tx.Clauses(lockForUpdate).
			Select("id", "unit_id").
			Where("author_id = ?", userID).
			Order("id ASC").
			Find(&authored).Error
		if err != nil {
			return apperr.Aborted(opDeleteUser, "review_select_failed", err)
		}
		reviewIDs := make([]string, 0, len(authored))
		unitSet := make(map[string]struct{}, len(authored))
		for _, review := range authored {
			reviewIDs = append(reviewIDs, review.ID)
			unitSet[review.UnitID] = struct{}{}
		}
		if err := deleteReviewsCascade(tx, opDeleteUser, reviewIDs); err != nil {
			return err
		}

		if err := tx.Where("recipient_id = ? OR actor_id = ?", userID, userID).Delete(&Notification{}).Error; err != nil {
			return apperr.Aborted(opDeleteUser, "notification_delete_failed", err)
		}

		if err := retractReactions(tx, userID); err != nil {
			return err
		}

		unitIDs := make([]string, 0, len(unitSet))
		for unitID := range unitSet {
			unitIDs = append(unitIDs, unitID)
		}
		sort.Strings(unitIDs)
		for _, unitID := range unitIDs {
			if _, err := recomputeUnitAggregates(tx, unitID); err != nil {
				return err
			}
		}

		if err := tx.Where("id = ?", userID).Delete(&User{}).Error; err != nil {
			return apperr.Aborted(opDeleteUser, "user_delete_failed", err)
		}

		result.DeletedReviews = len(reviewIDs)
		result.AffectedUnitIDs = unitIDs
		return nil
	})
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			s.logError(opDeleteUser, "cascade_failed", err, zap.String("user_id", userID))
		}
		return DeleteUserResult{}, err
	}

	s.evictUser(deleted.Email)

	if deleted.ProfileImageURL != "" && s.assets != nil {
		if err := s.assets.RemoveByURL(ctx, deleted.ProfileImageURL); err != nil {
			s.loggerOrDefault().Warn("profile image cleanup failed",
				zap.String("user_id", userID),
				zap.String("profile_image_url", deleted.ProfileImageURL),
				zap.Error(err))
		} else {
			result.AssetRemoved = true
		}
	}

	s.loggerOrDefault().Info("user deleted",
		zap.String("user_id", userID),
		zap.Int("deleted_reviews", result.DeletedReviews),
		zap.Int("affected_units", len(result.AffectedUnitIDs)))
	return result, nil
}

// retractReactions undoes every reaction userID still holds, keeping the
// counters of the reacted-to reviews at or above zero.
func retractReactions(tx *gorm.DB, userID string) error {
	var reactions []Reaction
	if err := tx.Where("user_id = ?", userID).Order("review_id ASC").Find(&reactions).Error; err != nil {
		return apperr.Aborted(opDeleteUser, "reaction_select_failed", err)
	}
	for _, reaction := range reactions {
		column := "likes"
		if reaction.Kind == ReactionDislike {
			column = "dislikes"
		}
		err := tx.Model(&Review{}).
			Where("id = ?", reaction.ReviewID).
			UpdateColumn(column, gorm.Expr("CASE WHEN "+column+" > 0 THEN "+column+" - 1 ELSE 0 END")).Error
		if err != nil {
			return apperr.Aborted(opDeleteUser, "counter_update_failed", err)
		}
	}
	if err := tx.Where("user_id = ?", userID).Delete(&Reaction{}).Error; err != nil {
		return apperr.Aborted(opDeleteUser, "reaction_delete_failed", err)
	}
	return nil
}
