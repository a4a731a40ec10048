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

const opToggleReaction = "reviews.toggle_reaction"

// ReactionState is a user's current relation to a review.
type ReactionState string

const (
	ReactionStateNone     ReactionState = "none"
	ReactionStateLiked    ReactionState = "liked"
	ReactionStateDisliked ReactionState = "disliked"
)

// ReactionTransition is the outcome of applying a requested reaction to a state.
type ReactionTransition struct {
	Next         ReactionState
	LikeDelta    int64
	DislikeDelta int64
}

// NextReaction applies the toggle rules: asking for the reaction you already
// hold clears it, asking for the opposite one switches over.
func NextReaction(current ReactionState, requested ReactionKind) (ReactionTransition, error) {
	switch requested {
	case ReactionLike:
		switch current {
		case ReactionStateLiked:
			return ReactionTransition{Next: ReactionStateNone, LikeDelta: -1}, nil
		case ReactionStateDisliked:
			return ReactionTransition{Next: ReactionStateLiked, LikeDelta: 1, DislikeDelta: -1}, nil
		default:
			return ReactionTransition{Next: ReactionStateLiked, LikeDelta: 1}, nil
		}
	case ReactionDislike:
		switch current {
		case ReactionStateDisliked:
			return ReactionTransition{Next: ReactionStateNone, DislikeDelta: -1}, nil
		case ReactionStateLiked:
			return ReactionTransition{Next: ReactionStateDisliked, LikeDelta: -1, DislikeDelta: 1}, nil
		default:
			return ReactionTransition{Next: ReactionStateDisliked, DislikeDelta: 1}, nil
		}
	default:
		return ReactionTransition{}, fmt.Errorf("unknown reaction kind %q", requested)
	}
}

func stateFromKind(kind ReactionKind) ReactionState {
	switch kind {
	case ReactionLike:
		return ReactionStateLiked
	case ReactionDislike:
		return ReactionStateDisliked
	default:
		return ReactionStateNone
	}
}

func kindFromState(state ReactionState) ReactionKind {
	if state == ReactionStateLiked {
		return ReactionLike
	}
	return ReactionDislike
}

func clampCounter(value int64) int64 {
	if value < 0 {
		return 0
	}
	return value
}

// ReactionResult reports the review counters and the caller's membership after a toggle.
type ReactionResult struct {
	Review   Review
	Liked    bool
	Disliked bool
}

// ToggleReaction applies a like or dislike from userID to reviewID. Counter
// updates, the reaction row and the like-notification commit together under a
// row lock on the review.
func (s *Service) ToggleReaction(ctx context.Context, reviewID, userID string, kind ReactionKind) (ReactionResult, error) {
	requested, ok := ParseReactionKind(string(kind))
	if !ok {
		return ReactionResult{}, apperr.Validation(opToggleReaction, "invalid_kind", fmt.Errorf("kind %q", kind))
	}
	reviewID = strings.TrimSpace(reviewID)
	userID = strings.TrimSpace(userID)
	if reviewID == "" {
		return ReactionResult{}, apperr.Validation(opToggleReaction, "missing_review_id", nil)
	}
	if userID == "" {
		return ReactionResult{}, apperr.Validation(opToggleReaction, "missing_user_id", nil)
	}

	var result ReactionResult
	err := s.inTx(ctx, opToggleReaction, func(tx *gorm.DB) error {
		// The liker is share-locked before the review so a concurrent
		// DeleteUser of the liker cannot miss this reaction.
		var liker User
		if err := takeOrNotFound(tx.Clauses(lockForShare), opToggleReaction, "user_missing", &liker, "id = ?", userID); err != nil {
			return err
		}
		var review Review
		if err := takeOrNotFound(tx.Clauses(lockForUpdate), opToggleReaction, "review_missing", &review, "id = ?", reviewID); err != nil {
			return err
		}
		var unit Unit
		if err := takeOrNotFound(tx.Select("id", "code"), opToggleReaction, "unit_missing", &unit, "id = ?", review.UnitID); err != nil {
			return err
		}
		var author User
		if err := takeOrNotFound(tx, opToggleReaction, "author_missing", &author, "id = ?", review.AuthorID); err != nil {
			return err
		}

		current, err := currentReactionState(tx, userID, reviewID)
		if err != nil {
			return err
		}
		transition, err := NextReaction(current, requested)
		if err != nil {
			return apperr.Validation(opToggleReaction, "invalid_kind", err)
		}

		review.Likes = clampCounter(review.Likes + transition.LikeDelta)
		review.Dislikes = clampCounter(review.Dislikes + transition.DislikeDelta)
		if err := tx.Model(&Review{}).
			Where("id = ?", review.ID).
			UpdateColumns(map[string]interface{}{"likes": review.Likes, "dislikes": review.Dislikes}).Error; err != nil {
			return apperr.Aborted(opToggleReaction, "review_update_failed", err)
		}

		if err := s.applyReactionRow(tx, userID, reviewID, current, transition.Next); err != nil {
			return err
		}

		if current == ReactionStateLiked && transition.Next != ReactionStateLiked {
			if err := removeLikeNotification(tx, author.ID, review.ID, liker.ID); err != nil {
				return err
			}
		}
		if transition.Next == ReactionStateLiked && current != ReactionStateLiked && author.ID != liker.ID {
			if err := s.createLikeNotification(tx, author, review, unit.Code, liker); err != nil {
				return err
			}
		}

		result = ReactionResult{
			Review:   review,
			Liked:    transition.Next == ReactionStateLiked,
			Disliked: transition.Next == ReactionStateDisliked,
		}
		return nil
	})
	if err != nil {
		if !apperr.Is(err, apperr.KindNotFound) {
			s.logError(opToggleReaction, "toggle_failed", err,
				zap.String("review_id", reviewID),
				zap.String("user_id", userID))
		}
		return ReactionResult{}, err
	}
	return result, nil
}

// ReactionStateOf reports userID's current reaction to reviewID.
func (s *Service) ReactionStateOf(ctx context.Context, userID, reviewID string) (ReactionState, error) {
	return currentReactionState(s.db.WithContext(ctx), userID, reviewID)
}

func currentReactionState(tx *gorm.DB, userID, reviewID string) (ReactionState, error) {
	var reaction Reaction
	err := tx.Where("user_id = ? AND review_id = ?", userID, reviewID).Take(&reaction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReactionStateNone, nil
	}
	if err != nil {
		return "", apperr.Aborted(opToggleReaction, "reaction_select_failed", err)
	}
	return stateFromKind(reaction.Kind), nil
}

func (s *Service) applyReactionRow(tx *gorm.DB, userID, reviewID string, current, next ReactionState) error {
	switch {
	case next == ReactionStateNone:
		err := tx.Where("user_id = ? AND review_id = ?", userID, reviewID).Delete(&Reaction{}).Error
		if err != nil {
			return apperr.Aborted(opToggleReaction, "reaction_delete_failed", err)
		}
	case current == ReactionStateNone:
		reaction := Reaction{UserID: userID, ReviewID: reviewID, Kind: kindFromState(next)}
		if err := tx.Create(&reaction).Error; err != nil {
			return apperr.Aborted(opToggleReaction, "reaction_insert_failed", err)
		}
	default:
		err := tx.Model(&Reaction{}).
			Where("user_id = ? AND review_id = ?", userID, reviewID).
			Update("kind", kindFromState(next)).Error
		if err != nil {
			return apperr.Aborted(opToggleReaction, "reaction_update_failed", err)
		}
	}
	return nil
}
