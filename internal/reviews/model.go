package reviews

import (
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Tag labels a unit. At most maxTagsPerUnit tags may be attached to one unit.
type Tag string

const (
	TagMostReviews   Tag = "most-reviews"
	TagControversial Tag = "controversial"
	TagWAMBooster    Tag = "wam-booster"
)

const maxTagsPerUnit = 2

// ParseTag validates a raw tag label.
func ParseTag(raw string) (Tag, bool) {
	switch Tag(strings.ToLower(strings.TrimSpace(raw))) {
	case TagMostReviews:
		return TagMostReviews, true
	case TagControversial:
		return TagControversial, true
	case TagWAMBooster:
		return TagWAMBooster, true
	default:
		return "", false
	}
}

// Unit is a university unit. Average fields are derived from the unit's reviews.
type Unit struct {
	ID                 string    `gorm:"column:id;primaryKey;size:36"`
	Code               string    `gorm:"column:code;size:32;not null;uniqueIndex"`
	Name               string    `gorm:"column:name;size:255;not null"`
	Description        string    `gorm:"column:description;type:text"`
	AvgOverallRating   float64   `gorm:"column:avg_overall_rating;not null;default:0"`
	AvgRelevancyRating float64   `gorm:"column:avg_relevancy_rating;not null;default:0"`
	AvgFacultyRating   float64   `gorm:"column:avg_faculty_rating;not null;default:0"`
	AvgContentRating   float64   `gorm:"column:avg_content_rating;not null;default:0"`
	ReviewCount        int64     `gorm:"column:review_count;not null;default:0"`
	Tags               []UnitTag `gorm:"foreignKey:UnitID;references:ID"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Unit) TableName() string {
	return "units"
}

// TagList returns the unit's tags in storage order.
func (u Unit) TagList() []Tag {
	tags := make([]Tag, 0, len(u.Tags))
	for _, tag := range u.Tags {
		tags = append(tags, tag.Tag)
	}
	return tags
}

// UnitTag is one tag on one unit.
type UnitTag struct {
	UnitID    string    `gorm:"column:unit_id;primaryKey;size:36"`
	Tag       Tag       `gorm:"column:tag;primaryKey;size:32;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (UnitTag) TableName() string {
	return "unit_tags"
}

// Review is one student's review of one unit. An author may review a unit once.
type Review struct {
	ID              string    `gorm:"column:id;primaryKey;size:36"`
	UnitID          string    `gorm:"column:unit_id;size:36;not null;index;uniqueIndex:idx_reviews_author_unit,priority:2"`
	AuthorID        string    `gorm:"column:author_id;size:36;not null;uniqueIndex:idx_reviews_author_unit,priority:1"`
	Title           string    `gorm:"column:title;size:200;not null"`
	Semester        int       `gorm:"column:semester;not null"`
	Year            int       `gorm:"column:year;not null"`
	Grade           string    `gorm:"column:grade;size:4"`
	OverallRating   float64   `gorm:"column:overall_rating;not null"`
	RelevancyRating float64   `gorm:"column:relevancy_rating;not null"`
	FacultyRating   float64   `gorm:"column:faculty_rating;not null"`
	ContentRating   float64   `gorm:"column:content_rating;not null"`
	Description     string    `gorm:"column:description;type:text"`
	Likes           int64     `gorm:"column:likes;not null;default:0"`
	Dislikes        int64     `gorm:"column:dislikes;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;index"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (Review) TableName() string {
	return "reviews"
}

// ReactionKind is what a user asks for when reacting to a review.
type ReactionKind string

const (
	ReactionLike    ReactionKind = "like"
	ReactionDislike ReactionKind = "dislike"
)

// ParseReactionKind validates a raw reaction kind.
func ParseReactionKind(raw string) (ReactionKind, bool) {
	switch ReactionKind(strings.ToLower(strings.TrimSpace(raw))) {
	case ReactionLike:
		return ReactionLike, true
	case ReactionDislike:
		return ReactionDislike, true
	default:
		return "", false
	}
}

// Reaction records that a user liked or disliked a review. The composite key
// keeps at most one reaction per user and review.
type Reaction struct {
	UserID    string       `gorm:"column:user_id;primaryKey;size:36"`
	ReviewID  string       `gorm:"column:review_id;primaryKey;size:36;index"`
	Kind      ReactionKind `gorm:"column:kind;size:16;not null"`
	CreatedAt time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (Reaction) TableName() string {
	return "review_reactions"
}

// NotificationKind enumerates notification types.
type NotificationKind string

const NotificationKindLike NotificationKind = "like"

// NotificationPayload is a snapshot of the actor taken when the notification is created.
type NotificationPayload struct {
	ActorUsername  string `json:"actor_username"`
	ActorAvatarURL string `json:"actor_avatar_url,omitempty"`
	Message        string `json:"message"`
}

// Notification tells a recipient that an actor did something to one of their reviews.
type Notification struct {
	ID             string                                  `gorm:"column:id;primaryKey;size:36"`
	RecipientID    string                                  `gorm:"column:recipient_id;size:36;not null;index;uniqueIndex:idx_notifications_dedupe,priority:1"`
	ReviewID       string                                  `gorm:"column:review_id;size:36;not null;index;uniqueIndex:idx_notifications_dedupe,priority:2"`
	ActorID        string                                  `gorm:"column:actor_id;size:36;not null;index;uniqueIndex:idx_notifications_dedupe,priority:3"`
	Kind           NotificationKind                        `gorm:"column:kind;size:16;not null;uniqueIndex:idx_notifications_dedupe,priority:4"`
	Payload        datatypes.JSONType[NotificationPayload] `gorm:"column:payload"`
	NavigationPath string                                  `gorm:"column:navigation_path;size:255"`
	Read           bool                                    `gorm:"column:is_read;not null;default:false"`
	CreatedAt      time.Time                               `gorm:"column:created_at;index"`
}

func (Notification) TableName() string {
	return "notifications"
}

// User is a platform account.
type User struct {
	ID                         string     `gorm:"column:id;primaryKey;size:36"`
	Email                      string     `gorm:"column:email;size:320;not null;uniqueIndex"`
	Username                   string     `gorm:"column:username;size:64;not null;index"`
	PasswordHash               string     `gorm:"column:password_hash;size:100"`
	GoogleID                   string     `gorm:"column:google_id;size:190;index"`
	IsGoogleUser               bool       `gorm:"column:is_google_user;not null;default:false"`
	ProfileImageURL            string     `gorm:"column:profile_image_url;size:512"`
	IsAdmin                    bool       `gorm:"column:is_admin;not null;default:false"`
	Verified                   bool       `gorm:"column:verified;not null;default:false"`
	VerificationToken          string     `gorm:"column:verification_token;size:128"`
	VerificationTokenExpiresAt *time.Time `gorm:"column:verification_token_expires_at"`
	ResetPasswordToken         string     `gorm:"column:reset_password_token;size:128"`
	ResetPasswordExpiresAt     *time.Time `gorm:"column:reset_password_expires_at"`
	ResetAttempts              int        `gorm:"column:reset_attempts;not null;default:0"`
	LastResetAttemptAt         *time.Time `gorm:"column:last_reset_attempt_at"`
	CreatedAt                  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate derives the username from the email prefix when none was given.
// It only runs on the first save, so later email changes keep the username.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if strings.TrimSpace(u.Username) == "" {
		u.Username = usernameFromEmail(u.Email)
	}
	return nil
}

func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	return strings.ToLower(local)
}

// Models lists every table owned by this package, in migration order.
func Models() []interface{} {
	return []interface{}{
		&User{},
		&Unit{},
		&UnitTag{},
		&Review{},
		&Reaction{},
		&Notification{},
	}
}

func normalizeCode(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
