package reviews

import (
	"context"
	"fmt"
	"strings"

	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opListNotifications  = "reviews.list_notifications"
	opMarkNotification   = "reviews.mark_notification_read"
	opDeleteNotification = "reviews.delete_notification"
	opCreateNotification = "reviews.create_like_notification"
	opRemoveNotification = "reviews.remove_like_notification"
)

// UnitOverviewPath is where a notification about a review of unitCode navigates to.
func UnitOverviewPath(unitCode string) string {
	return "/unit-overview/" + normalizeCode(unitCode)
}

// createLikeNotification records that liker liked author's review. A repeated
// call for the same (recipient, review, actor) is a no-op.
func (s *Service) createLikeNotification(tx *gorm.DB, author User, review Review, unitCode string, liker User) error {
	id, err := s.newID(opCreateNotification)
	if err != nil {
		return err
	}
	notification := Notification{
		ID:          id,
		RecipientID: author.ID,
		ReviewID:    review.ID,
		ActorID:     liker.ID,
		Kind:        NotificationKindLike,
		Payload: datatypes.NewJSONType(NotificationPayload{
			ActorUsername:  liker.Username,
			ActorAvatarURL: liker.ProfileImageURL,
			Message:        fmt.Sprintf("%s liked your review of %s", liker.Username, strings.ToUpper(unitCode)),
		}),
		NavigationPath: UnitOverviewPath(unitCode),
		CreatedAt:      s.now(),
	}
	err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&notification).Error
	if err != nil {
		return apperr.Aborted(opCreateNotification, "insert_failed", err)
	}
	return nil
}

// removeLikeNotification deletes the like-notification liker produced on review.
// It is a no-op when none exists.
func removeLikeNotification(tx *gorm.DB, authorID, reviewID, likerID string) error {
	err := tx.
		Where("recipient_id = ? AND review_id = ? AND actor_id = ? AND kind = ?", authorID, reviewID, likerID, NotificationKindLike).
		Delete(&Notification{}).Error
	if err != nil {
		return apperr.Aborted(opRemoveNotification, "delete_failed", err)
	}
	return nil
}

// ListNotifications returns the recipient's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, recipientID string) ([]Notification, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, apperr.Validation(opListNotifications, "missing_recipient_id", nil)
	}
	var notifications []Notification
	if err := s.db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&notifications).Error; err != nil {
		s.logError(opListNotifications, "query_failed", err, zap.String("recipient_id", recipientID))
		return nil, apperr.MapStore(opListNotifications, "query_failed", err)
	}
	return notifications, nil
}

// MarkNotificationRead flags one of the recipient's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, recipientID, notificationID string) (Notification, error) {
	var notification Notification
	err := s.inTx(ctx, opMarkNotification, func(tx *gorm.DB) error {
		loaded, err := loadOwnedNotification(tx, opMarkNotification, recipientID, notificationID)
		if err != nil {
			return err
		}
		if err := tx.Model(&Notification{}).Where("id = ?", loaded.ID).Update("is_read", true).Error; err != nil {
			return apperr.Aborted(opMarkNotification, "update_failed", err)
		}
		loaded.Read = true
		notification = loaded
		return nil
	})
	if err != nil {
		return Notification{}, err
	}
	return notification, nil
}

// DeleteNotification removes one of the recipient's notifications.
func (s *Service) DeleteNotification(ctx context.Context, recipientID, notificationID string) error {
	return s.inTx(ctx, opDeleteNotification, func(tx *gorm.DB) error {
		loaded, err := loadOwnedNotification(tx, opDeleteNotification, recipientID, notificationID)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ?", loaded.ID).Delete(&Notification{}).Error; err != nil {
			return apperr.Aborted(opDeleteNotification, "delete_failed", err)
		}
		return nil
	})
}

func loadOwnedNotification(tx *gorm.DB, operation, recipientID, notificationID string) (Notification, error) {
	if strings.TrimSpace(recipientID) == "" {
		return Notification{}, apperr.Validation(operation, "missing_recipient_id", nil)
	}
	if strings.TrimSpace(notificationID) == "" {
		return Notification{}, apperr.Validation(operation, "missing_notification_id", nil)
	}
	var notification Notification
	if err := takeOrNotFound(tx, operation, "notification_missing", &notification, "id = ?", notificationID); err != nil {
		return Notification{}, err
	}
	if notification.RecipientID != recipientID {
		return Notification{}, apperr.Forbidden(operation, "not_recipient", nil)
	}
	return notification, nil
}
