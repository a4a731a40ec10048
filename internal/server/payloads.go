package server

import (
	"time"

	"github.com/unitreviews/backend/internal/overview"
	"github.com/unitreviews/backend/internal/reviews"
	"github.com/unitreviews/backend/internal/setu"
)

type unitRequestPayload struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type unitTagsRequestPayload struct {
	Tags []string `json:"tags"`
}

type unitResponsePayload struct {
	ID                 string                   `json:"id"`
	Code               string                   `json:"code"`
	Name               string                   `json:"name"`
	Description        string                   `json:"description,omitempty"`
	AvgOverallRating   float64                  `json:"avg_overall_rating"`
	AvgRelevancyRating float64                  `json:"avg_relevancy_rating"`
	AvgFacultyRating   float64                  `json:"avg_faculty_rating"`
	AvgContentRating   float64                  `json:"avg_content_rating"`
	ReviewCount        int64                    `json:"review_count"`
	Tags               []string                 `json:"tags"`
	Overview           *overviewResponsePayload `json:"ai_overview,omitempty"`
}

type overviewResponsePayload struct {
	Summary                string    `json:"summary"`
	GeneratedAt            time.Time `json:"generated_at"`
	Model                  string    `json:"model"`
	TotalReviewsConsidered int64     `json:"total_reviews_considered"`
	ReviewSampleSize       int       `json:"review_sample_size"`
	SeasonsConsidered      []string  `json:"seasons_considered"`
}

type reviewRequestPayload struct {
	Title           string  `json:"title"`
	Semester        int     `json:"semester"`
	Year            int     `json:"year"`
	Grade           string  `json:"grade"`
	OverallRating   float64 `json:"overall_rating"`
	RelevancyRating float64 `json:"relevancy_rating"`
	FacultyRating   float64 `json:"faculty_rating"`
	ContentRating   float64 `json:"content_rating"`
	Description     string  `json:"description"`
}

type reviewResponsePayload struct {
	ID              string    `json:"id"`
	UnitID          string    `json:"unit_id"`
	AuthorID        string    `json:"author_id"`
	Title           string    `json:"title"`
	Semester        int       `json:"semester"`
	Year            int       `json:"year"`
	Grade           string    `json:"grade,omitempty"`
	OverallRating   float64   `json:"overall_rating"`
	RelevancyRating float64   `json:"relevancy_rating"`
	FacultyRating   float64   `json:"faculty_rating"`
	ContentRating   float64   `json:"content_rating"`
	Description     string    `json:"description"`
	Likes           int64     `json:"likes"`
	Dislikes        int64     `json:"dislikes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type reactionRequestPayload struct {
	Kind string `json:"kind"`
}

type reactionResponsePayload struct {
	ReviewID string `json:"review_id"`
	Likes    int64  `json:"likes"`
	Dislikes int64  `json:"dislikes"`
	Liked    bool   `json:"liked"`
	Disliked bool   `json:"disliked"`
}

type notificationResponsePayload struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	ReviewID       string    `json:"review_id"`
	ActorID        string    `json:"actor_id"`
	ActorUsername  string    `json:"actor_username"`
	ActorAvatarURL string    `json:"actor_avatar_url,omitempty"`
	Message        string    `json:"message"`
	NavigationPath string    `json:"navigation_path"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

type userResponsePayload struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
	IsAdmin         bool   `json:"is_admin"`
}

type deleteUserResponsePayload struct {
	UserID          string   `json:"user_id"`
	DeletedReviews  int      `json:"deleted_reviews"`
	AffectedUnitIDs []string `json:"affected_unit_ids"`
	AssetRemoved    bool     `json:"asset_removed"`
}

type setuRequestPayload struct {
	Year      int              `json:"year"`
	Period    string           `json:"period"`
	Responses int              `json:"responses"`
	Invited   int              `json:"invited"`
	Items     []setu.ScorePair `json:"items"`
	Aggregate setu.ScorePair   `json:"aggregate"`
}

type setuResponsePayload struct {
	Season       string           `json:"season"`
	Year         int              `json:"year"`
	Period       string           `json:"period"`
	Responses    int              `json:"responses"`
	Invited      int              `json:"invited"`
	ResponseRate float64          `json:"response_rate"`
	Items        []setu.ScorePair `json:"items"`
	Aggregate    setu.ScorePair   `json:"aggregate"`
}

func (p reviewRequestPayload) toInput() reviews.ReviewInput {
	return reviews.ReviewInput{
		Title:           p.Title,
		Semester:        p.Semester,
		Year:            p.Year,
		Grade:           p.Grade,
		OverallRating:   p.OverallRating,
		RelevancyRating: p.RelevancyRating,
		FacultyRating:   p.FacultyRating,
		ContentRating:   p.ContentRating,
		Description:     p.Description,
	}
}

func newUnitResponse(unit reviews.Unit) unitResponsePayload {
	tags := make([]string, 0, len(unit.Tags))
	for _, tag := range unit.TagList() {
		tags = append(tags, string(tag))
	}
	return unitResponsePayload{
		ID:                 unit.ID,
		Code:               unit.Code,
		Name:               unit.Name,
		Description:        unit.Description,
		AvgOverallRating:   unit.AvgOverallRating,
		AvgRelevancyRating: unit.AvgRelevancyRating,
		AvgFacultyRating:   unit.AvgFacultyRating,
		AvgContentRating:   unit.AvgContentRating,
		ReviewCount:        unit.ReviewCount,
		Tags:               tags,
	}
}

func newOverviewResponse(stored overview.Overview) *overviewResponsePayload {
	seasons := []string(stored.SeasonsConsidered)
	if seasons == nil {
		seasons = []string{}
	}
	return &overviewResponsePayload{
		Summary:                stored.Summary,
		GeneratedAt:            stored.GeneratedAt,
		Model:                  stored.Model,
		TotalReviewsConsidered: stored.TotalReviewsConsidered,
		ReviewSampleSize:       stored.ReviewSampleSize,
		SeasonsConsidered:      seasons,
	}
}

func newReviewResponse(review reviews.Review) reviewResponsePayload {
	return reviewResponsePayload{
		ID:              review.ID,
		UnitID:          review.UnitID,
		AuthorID:        review.AuthorID,
		Title:           review.Title,
		Semester:        review.Semester,
		Year:            review.Year,
		Grade:           review.Grade,
		OverallRating:   review.OverallRating,
		RelevancyRating: review.RelevancyRating,
		FacultyRating:   review.FacultyRating,
		ContentRating:   review.ContentRating,
		Description:     review.Description,
		Likes:           review.Likes,
		Dislikes:        review.Dislikes,
		CreatedAt:       review.CreatedAt,
		UpdatedAt:       review.UpdatedAt,
	}
}

func newNotificationResponse(notification reviews.Notification) notificationResponsePayload {
	payload := notification.Payload.Data()
	return notificationResponsePayload{
		ID:             notification.ID,
		Kind:           string(notification.Kind),
		ReviewID:       notification.ReviewID,
		ActorID:        notification.ActorID,
		ActorUsername:  payload.ActorUsername,
		ActorAvatarURL: payload.ActorAvatarURL,
		Message:        payload.Message,
		NavigationPath: notification.NavigationPath,
		Read:           notification.Read,
		CreatedAt:      notification.CreatedAt,
	}
}

func newUserResponse(user reviews.User) userResponsePayload {
	return userResponsePayload{
		ID:              user.ID,
		Email:           user.Email,
		Username:        user.Username,
		ProfileImageURL: user.ProfileImageURL,
		IsAdmin:         user.IsAdmin,
	}
}

func newSetuResponse(entry setu.Entry) setuResponsePayload {
	items := []setu.ScorePair(entry.Items)
	if items == nil {
		items = []setu.ScorePair{}
	}
	return setuResponsePayload{
		Season:       entry.Season(),
		Year:         entry.Year,
		Period:       entry.Period,
		Responses:    entry.Responses,
		Invited:      entry.Invited,
		ResponseRate: entry.ResponseRate(),
		Items:        items,
		Aggregate:    entry.Aggregate,
	}
}
