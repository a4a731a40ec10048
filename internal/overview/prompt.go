package overview

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/unitreviews/backend/internal/reviews"
	"github.com/unitreviews/backend/internal/setu"
)

type promptUnit struct {
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	ReviewCount     int64   `json:"review_count"`
	AvgOverall      float64 `json:"avg_overall"`
	AvgRelevancy    float64 `json:"avg_relevancy"`
	AvgFaculty      float64 `json:"avg_faculty"`
	AvgContent      float64 `json:"avg_content"`
	ReviewsIncluded int     `json:"reviews_included"`
}

type promptReview struct {
	Title     string  `json:"title"`
	Taken     string  `json:"taken"`
	Grade     string  `json:"grade,omitempty"`
	Overall   float64 `json:"overall"`
	Relevancy float64 `json:"relevancy"`
	Faculty   float64 `json:"faculty"`
	Content   float64 `json:"content"`
	Text      string  `json:"text"`
}

type promptSeason struct {
	Season          string  `json:"season"`
	Responses       int     `json:"responses"`
	Invited         int     `json:"invited"`
	AggregateMean   float64 `json:"aggregate_mean"`
	AggregateMedian float64 `json:"aggregate_median"`
}

type promptData struct {
	Unit    promptUnit     `json:"unit"`
	Reviews []promptReview `json:"reviews"`
	SETU    []promptSeason `json:"setu,omitempty"`
}

const promptInstructions = `Write an overview of the university unit %s for prospective students.
Use only the JSON data below. Cover workload, assessment, teaching quality and what past students recommend.
Mention the SETU results when present. Keep it under 200 words in two short paragraphs. Do not quote reviewers by name.

DATA:
%s`

// BuildPrompt renders the summarizer prompt. Reviews and seasons are capped by
// policy, and each review body is cut to policy.ReviewCharBudget characters.
// Review text is JSON-encoded so user content cannot break the prompt layout.
func BuildPrompt(unit reviews.Unit, unitReviews []reviews.Review, seasons []setu.Entry, policy Policy) (string, error) {
	policy = policy.withDefaults()
	if len(unitReviews) > policy.MaxReviews {
		unitReviews = unitReviews[:policy.MaxReviews]
	}
	if len(seasons) > policy.MaxSeasons {
		seasons = seasons[:policy.MaxSeasons]
	}

	data := promptData{
		Unit: promptUnit{
			Code:            strings.ToUpper(unit.Code),
			Name:            unit.Name,
			Description:     truncateRunes(unit.Description, policy.ReviewCharBudget),
			ReviewCount:     unit.ReviewCount,
			AvgOverall:      unit.AvgOverallRating,
			AvgRelevancy:    unit.AvgRelevancyRating,
			AvgFaculty:      unit.AvgFacultyRating,
			AvgContent:      unit.AvgContentRating,
			ReviewsIncluded: len(unitReviews),
		},
		Reviews: make([]promptReview, 0, len(unitReviews)),
		SETU:    make([]promptSeason, 0, len(seasons)),
	}
	for _, review := range unitReviews {
		data.Reviews = append(data.Reviews, promptReview{
			Title:     review.Title,
			Taken:     fmt.Sprintf("%d S%d", review.Year, review.Semester),
			Grade:     review.Grade,
			Overall:   review.OverallRating,
			Relevancy: review.RelevancyRating,
			Faculty:   review.FacultyRating,
			Content:   review.ContentRating,
			Text:      truncateRunes(review.Description, policy.ReviewCharBudget),
		})
	}
	for _, season := range seasons {
		data.SETU = append(data.SETU, promptSeason{
			Season:          season.Season(),
			Responses:       season.Responses,
			Invited:         season.Invited,
			AggregateMean:   season.Aggregate.Mean,
			AggregateMedian: season.Aggregate.Median,
		})
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(promptInstructions, strings.ToUpper(unit.Code), encoded), nil
}

func truncateRunes(value string, limit int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit])) + "…"
}
