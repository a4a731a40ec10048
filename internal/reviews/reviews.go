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
	opCreateReview    = "reviews.create_review"
	opUpdateReview    = "reviews.update_review"
	opDeleteReview    = "reviews.delete_review"
	opListUnitReviews = "reviews.list_unit_reviews"
	opGetReview       = "reviews.get_review"

	minRating       = 0.0
	maxRating       = 5.0
	minReviewYear   = 1990
	maxTitleLength  = 200
	maxDescription  = 10000
	firstSemester   = 1
	secondSemester  = 2
	futureYearSlack = 1
)

var allowedGrades = map[string]struct{}{
	"HD": {},
	"D":  {},
	"C":  {},
	"P":  {},
	"N":  {},
}

// ReviewInput carries the author-editable fields of a review.
type ReviewInput struct {
	Title           string
	Semester        int
	Year            int
	Grade           string
	OverallRating   float64
	RelevancyRating float64
	FacultyRating   float64
	ContentRating   float64
	Description     string
}

func (s *Service) validateReviewInput(operation string, input ReviewInput) (ReviewInput, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Grade = strings.ToUpper(strings.TrimSpace(input.Grade))

	if input.Title == "" {
		return ReviewInput{}, apperr.Validation(operation, "missing_title", nil)
	}
	if len(input.Title) > maxTitleLength {
		return ReviewInput{}, apperr.Validation(operation, "title_too_long", nil)
	}
	if len(input.Description) > maxDescription {
		return ReviewInput{}, apperr.Validation(operation, "description_too_long", nil)
	}
	if input.Semester != firstSemester && input.Semester != secondSemester {
		return ReviewInput{}, apperr.Validation(operation, "invalid_semester", fmt.Errorf("semester %d", input.Semester))
	}
	if input.Year < minReviewYear || input.Year > s.now().Year()+futureYearSlack {
		return ReviewInput{}, apperr.Validation(operation, "invalid_year", fmt.Errorf("year %d", input.Year))
	}
	if input.Grade != "" {
		if _, ok := allowedGrades[input.Grade]; !ok {
			return ReviewInput{}, apperr.Validation(operation, "invalid_grade", fmt.Errorf("grade %q", input.Grade))
		}
	}
	ratings := []struct {
		name  string
		value float64
	}{
		{"overall", input.OverallRating},
		{"relevancy", input.RelevancyRating},
		{"faculty", input.FacultyRating},
		{"content", input.ContentRating},
	}
	for _, rating := range ratings {
		if rating.value < minRating || rating.value > maxRating {
			return ReviewInput{}, apperr.Validation(operation, "invalid_rating", fmt.Errorf("%s rating %.2f", rating.name, rating.value))
		}
	}
	return input, nil
}

// CreateReview stores a review of unitCode by authorID and refreshes the unit's averages.
func (s *Service) CreateReview(ctx context.Context, authorID, unitCode string, input ReviewInput) (Review, error) {
	if strings.TrimSpace(authorID) == "" {
		return Review{}, apperr.Validation(opCreateReview, "missing_author_id", nil)
	}
	input, err := s.validateReviewInput(opCreateReview, input)
	if err != nil {
		return Review{}, err
	}
	id, err := s.newID(opCreateReview)
	if err != nil {
		return Review{}, err
	}

	var review Review
	err = s.inTx(ctx, opCreateReview, func(tx *gorm.DB) error {
		unit, err := findUnitByCode(tx, opCreateReview, unitCode)
		if err != nil {
			return err
		}
		var author User
		if err := takeOrNotFound(tx.Select("id"), opCreateReview, "author_missing", &author, "id = ?", authorID); err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&Review{}).
			Where("author_id = ? AND unit_id = ?", authorID, unit.ID).
			Count(&existing).Error; err != nil {
			return apperr.Aborted(opCreateReview, "duplicate_check_failed", err)
		}
		if existing > 0 {
			return apperr.Validation(opCreateReview, "duplicate_review", errors.New("author already reviewed this unit"))
		}

		now := s.now()
		review = Review{
			ID:              id,
			UnitID:          unit.ID,
			AuthorID:        authorID,
			Title:           input.Title,
			Semester:        input.Semester,
			Year:            input.Year,
			Grade:           input.Grade,
			OverallRating:   input.OverallRating,
			RelevancyRating: input.RelevancyRating,
			FacultyRating:   input.FacultyRating,
			ContentRating:   input.ContentRating,
			Description:     input.Description,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.Create(&review).Error; err != nil {
			if apperr.IsUniqueViolation(err) {
				return apperr.Validation(opCreateReview, "duplicate_review", err)
			}
			return apperr.Aborted(opCreateReview, "insert_failed", err)
		}
		_, err = recomputeUnitAggregates(tx, unit.ID)
		return err
	})
	if err != nil {
		return Review{}, err
	}
	return review, nil
}

// UpdateReview replaces the editable fields of a review. Only the author or an admin may edit.
func (s *Service) UpdateReview(ctx context.Context, actor Actor, reviewID string, input ReviewInput) (Review, error) {
	if strings.TrimSpace(reviewID) == "" {
		return Review{}, apperr.Validation(opUpdateReview, "missing_review_id", nil)
	}
	input, err := s.validateReviewInput(opUpdateReview, input)
	if err != nil {
		return Review{}, err
	}

	var review Review
	err = s.inTx(ctx, opUpdateReview, func(tx *gorm.DB) error {
		if err := takeOrNotFound(tx.Clauses(lockForUpdate), opUpdateReview, "review_missing", &review, "id = ?", reviewID); err != nil {
			return err
		}
		if !actor.canModify(review.AuthorID) {
			return apperr.Forbidden(opUpdateReview, "not_author", nil)
		}
		review.Title = input.Title
		review.Semester = input.Semester
		review.Year = input.Year
		review.Grade = input.Grade
		review.OverallRating = input.OverallRating
		review.RelevancyRating = input.RelevancyRating
		review.FacultyRating = input.FacultyRating
		review.ContentRating = input.ContentRating
		review.Description = input.Description
		review.UpdatedAt = s.now()

		if err := tx.Model(&Review{}).Where("id = ?", review.ID).Updates(map[string]interface{}{
			"title":            review.Title,
			"semester":         review.Semester,
			"year":             review.Year,
			"grade":            review.Grade,
			"overall_rating":   review.OverallRating,
			"relevancy_rating": review.RelevancyRating,
			"faculty_rating":   review.FacultyRating,
			"content_rating":   review.ContentRating,
			"description":      review.Description,
			"updated_at":       review.UpdatedAt,
		}).Error; err != nil {
			return apperr.Aborted(opUpdateReview, "update_failed", err)
		}
		_, err := recomputeUnitAggregates(tx, review.UnitID)
		return err
	})
	if err != nil {
		return Review{}, err
	}
	return review, nil
}

// DeleteReview removes a review with its reactions and notifications and
// refreshes the unit's averages. Only the author or an admin may delete.
func (s *Service) DeleteReview(ctx context.Context, actor Actor, reviewID string) error {
	if strings.TrimSpace(reviewID) == "" {
		return apperr.Validation(opDeleteReview, "missing_review_id", nil)
	}
	err := s.inTx(ctx, opDeleteReview, func(tx *gorm.DB) error {
		var review Review
		if err := takeOrNotFound(tx.Clauses(lockForUpdate), opDeleteReview, "review_missing", &review, "id = ?", reviewID); err != nil {
			return err
		}
		if !actor.canModify(review.AuthorID) {
			return apperr.Forbidden(opDeleteReview, "not_author", nil)
		}
		if err := deleteReviewsCascade(tx, opDeleteReview, []string{review.ID}); err != nil {
			return err
		}
		_, err := recomputeUnitAggregates(tx, review.UnitID)
		return err
	})
	if err != nil && !apperr.Is(err, apperr.KindNotFound) && !apperr.Is(err, apperr.KindAuthorization) {
		s.logError(opDeleteReview, "delete_failed", err, zap.String("review_id", reviewID))
	}
	return err
}

// deleteReviewsCascade removes the reviews together with every reaction and
// notification that references them.
func deleteReviewsCascade(tx *gorm.DB, operation string, reviewIDs []string) error {
	if len(reviewIDs) == 0 {
		return nil
	}
	if err := tx.Where("review_id IN ?", reviewIDs).Delete(&Reaction{}).Error; err != nil {
		return apperr.Aborted(operation, "reaction_delete_failed", err)
	}
	if err := tx.Where("review_id IN ?", reviewIDs).Delete(&Notification{}).Error; err != nil {
		return apperr.Aborted(operation, "notification_delete_failed", err)
	}
	if err := tx.Where("id IN ?", reviewIDs).Delete(&Review{}).Error; err != nil {
		return apperr.Aborted(operation, "review_delete_failed", err)
	}
	return nil
}

// GetReview loads one review.
func (s *Service) GetReview(ctx context.Context, reviewID string) (Review, error) {
	var review Review
	if err := takeOrNotFound(s.db.WithContext(ctx), opGetReview, "review_missing", &review, "id = ?", reviewID); err != nil {
		return Review{}, err
	}
	return review, nil
}

// ListUnitReviews returns a unit's reviews, newest first. limit <= 0 returns all.
func (s *Service) ListUnitReviews(ctx context.Context, unitCode string, limit int) ([]Review, error) {
	unit, err := findUnitByCode(s.db.WithContext(ctx), opListUnitReviews, unitCode)
	if err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).
		Where("unit_id = ?", unit.ID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var reviews []Review
	if err := query.Find(&reviews).Error; err != nil {
		s.logError(opListUnitReviews, "query_failed", err, zap.String("unit_code", unit.Code))
		return nil, apperr.MapStore(opListUnitReviews, "query_failed", err)
	}
	return reviews, nil
}
