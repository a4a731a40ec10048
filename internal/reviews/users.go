package reviews

import (
	"context"
	"errors"
	"strings"

	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	opEnsureUser      = "reviews.ensure_user"
	opCreateUser      = "reviews.create_user"
	opGetUser         = "reviews.get_user"
	minPasswordLength = 8
)

// UserIdentity is what the session issuer tells us about the caller.
type UserIdentity struct {
	Email     string
	AvatarURL string
	GoogleID  string
	Admin     bool
}

func (identity UserIdentity) differsFrom(user User) bool {
	if identity.AvatarURL != "" && identity.AvatarURL != user.ProfileImageURL {
		return true
	}
	if identity.GoogleID != "" && identity.GoogleID != user.GoogleID {
		return true
	}
	return identity.Admin && !user.IsAdmin
}

// EnsureUser returns the account for identity, creating it on first sight.
// Admin status is only ever granted here, never revoked.
func (s *Service) EnsureUser(ctx context.Context, identity UserIdentity) (User, error) {
	identity.Email = strings.ToLower(strings.TrimSpace(identity.Email))
	identity.AvatarURL = strings.TrimSpace(identity.AvatarURL)
	identity.GoogleID = strings.TrimSpace(identity.GoogleID)
	if identity.Email == "" {
		return User{}, apperr.Validation(opEnsureUser, "missing_email", nil)
	}

	db := s.db.WithContext(ctx)
	if cached, ok := s.userCache.Load(identity.Email); ok {
		if user, ok := cached.(User); ok && !identity.differsFrom(user) {
			// Another replica may have deleted the account since it was cached.
			exists, err := userExists(db, user.ID)
			if err != nil {
				return User{}, apperr.MapStore(opEnsureUser, "query_failed", err)
			}
			if exists {
				return user, nil
			}
			s.userCache.CompareAndDelete(identity.Email, cached)
		}
	}

	var user User
	err := db.Where("email = ?", identity.Email).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		id, idErr := s.newID(opEnsureUser)
		if idErr != nil {
			return User{}, idErr
		}
		user = User{
			ID:              id,
			Email:           identity.Email,
			GoogleID:        identity.GoogleID,
			IsGoogleUser:    identity.GoogleID != "",
			ProfileImageURL: identity.AvatarURL,
			IsAdmin:         identity.Admin,
			Verified:        true,
		}
		if err := db.Create(&user).Error; err != nil {
			if !apperr.IsUniqueViolation(err) {
				s.logError(opEnsureUser, "insert_failed", err, zap.String("email", identity.Email))
				return User{}, apperr.MapStore(opEnsureUser, "insert_failed", err)
			}
			// Lost a race with a concurrent first request for the same email.
			if err := db.Where("email = ?", identity.Email).Take(&user).Error; err != nil {
				return User{}, apperr.MapStore(opEnsureUser, "reload_failed", err)
			}
		}
	case err != nil:
		s.logError(opEnsureUser, "query_failed", err, zap.String("email", identity.Email))
		return User{}, apperr.MapStore(opEnsureUser, "query_failed", err)
	default:
		if identity.differsFrom(user) {
			updates := map[string]interface{}{}
			if identity.AvatarURL != "" && identity.AvatarURL != user.ProfileImageURL {
				updates["profile_image_url"] = identity.AvatarURL
				user.ProfileImageURL = identity.AvatarURL
			}
			if identity.GoogleID != "" && identity.GoogleID != user.GoogleID {
				updates["google_id"] = identity.GoogleID
				updates["is_google_user"] = true
				user.GoogleID = identity.GoogleID
				user.IsGoogleUser = true
			}
			if identity.Admin && !user.IsAdmin {
				updates["is_admin"] = true
				user.IsAdmin = true
			}
			if err := db.Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
				s.logError(opEnsureUser, "update_failed", err, zap.String("user_id", user.ID))
				return User{}, apperr.MapStore(opEnsureUser, "update_failed", err)
			}
		}
	}

	s.userCache.Store(identity.Email, user)
	return user, nil
}

// NewUser describes an account created outside of the session flow.
type NewUser struct {
	Email    string
	Username string
	Password string
	IsAdmin  bool
}

// CreateUser stores a new account, hashing the password with bcrypt when one is given.
func (s *Service) CreateUser(ctx context.Context, input NewUser) (User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || !strings.Contains(email, "@") {
		return User{}, apperr.Validation(opCreateUser, "invalid_email", nil)
	}
	var passwordHash string
	if input.Password != "" {
		if len(input.Password) < minPasswordLength {
			return User{}, apperr.Validation(opCreateUser, "password_too_short", nil)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, apperr.Validation(opCreateUser, "password_hash_failed", err)
		}
		passwordHash = string(hash)
	}
	id, err := s.newID(opCreateUser)
	if err != nil {
		return User{}, err
	}
	user := User{
		ID:           id,
		Email:        email,
		Username:     strings.TrimSpace(input.Username),
		PasswordHash: passwordHash,
		IsAdmin:      input.IsAdmin,
		Verified:     true,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return User{}, apperr.Conflict(opCreateUser, "duplicate_email", err)
		}
		s.logError(opCreateUser, "insert_failed", err, zap.String("email", email))
		return User{}, apperr.MapStore(opCreateUser, "insert_failed", err)
	}
	return user, nil
}

// GetUser loads one account.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	if strings.TrimSpace(userID) == "" {
		return User{}, apperr.Validation(opGetUser, "missing_user_id", nil)
	}
	var user User
	if err := takeOrNotFound(s.db.WithContext(ctx), opGetUser, "user_missing", &user, "id = ?", userID); err != nil {
		return User{}, err
	}
	return user, nil
}

func userExists(db *gorm.DB, userID string) (bool, error) {
	var ids []string
	if err := db.Model(&User{}).Where("id = ?", userID).Limit(1).Pluck("id", &ids).Error; err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

func (s *Service) evictUser(email string) {
	s.userCache.Delete(strings.ToLower(strings.TrimSpace(email)))
}
