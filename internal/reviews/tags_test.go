package reviews

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/unitreviews/backend/internal/apperr"
)

func seedReviews(t *testing.T, env testEnv, unitCode string, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		author := env.user(t, fmt.Sprintf("%s-reviewer-%02d@student.edu", unitCode, i))
		env.review(t, author, unitCode, 4)
	}
}

func mostReviewsHolders(t *testing.T, env testEnv) []string {
	t.Helper()
	var codes []string
	err := env.db.Model(&Unit{}).
		Joins("JOIN unit_tags ON unit_tags.unit_id = units.id").
		Where("unit_tags.tag = ?", TagMostReviews).
		Order("units.code ASC").
		Pluck("units.code", &codes).Error
	if err != nil {
		t.Fatalf("load most-reviews holders: %v", err)
	}
	return codes
}

func TestRefreshMostReviewsTagPicksLargestUnit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.unit(t, "unitx")
	env.unit(t, "unity")
	env.unit(t, "unitw")
	seedReviews(t, env, "unitx", 12)
	seedReviews(t, env, "unity", 15)
	seedReviews(t, env, "unitw", 3)

	// A stale holder from a previous run must lose the tag.
	stale := env.reloadUnit(t, "unitw")
	if err := env.db.Create(&UnitTag{UnitID: stale.ID, Tag: TagMostReviews}).Error; err != nil {
		t.Fatalf("seed stale tag: %v", err)
	}

	result, err := env.service.RefreshMostReviewsTag(ctx, 10)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !result.Assigned || result.UnitCode != "unity" || result.ReviewCount != 15 || result.Cleared != 1 {
		t.Fatalf("unexpected refresh result %+v", result)
	}
	if holders := mostReviewsHolders(t, env); !reflect.DeepEqual(holders, []string{"unity"}) {
		t.Fatalf("unexpected holders %v", holders)
	}
}

func TestRefreshMostReviewsTagTieBreaksOnCode(t *testing.T) {
	env := newTestEnv(t)
	env.unit(t, "fit3000")
	env.unit(t, "fit2000")
	seedReviews(t, env, "fit3000", 2)
	seedReviews(t, env, "fit2000", 2)

	result, err := env.service.RefreshMostReviewsTag(context.Background(), 2)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if result.UnitCode != "fit2000" {
		t.Fatalf("expected tie to go to fit2000, got %q", result.UnitCode)
	}
	if holders := mostReviewsHolders(t, env); !reflect.DeepEqual(holders, []string{"fit2000"}) {
		t.Fatalf("unexpected holders %v", holders)
	}
}

func TestRefreshMostReviewsTagBelowThresholdClearsTag(t *testing.T) {
	env := newTestEnv(t)
	unit := env.unit(t, "fit1001")
	seedReviews(t, env, "fit1001", 3)
	if err := env.db.Create(&UnitTag{UnitID: unit.ID, Tag: TagMostReviews}).Error; err != nil {
		t.Fatalf("seed tag: %v", err)
	}

	result, err := env.service.RefreshMostReviewsTag(context.Background(), 10)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if result.Assigned || result.UnitCode != "" {
		t.Fatalf("expected no assignment, got %+v", result)
	}
	if holders := mostReviewsHolders(t, env); len(holders) != 0 {
		t.Fatalf("expected tag to be cleared, holders %v", holders)
	}
}

func TestRefreshMostReviewsTagRespectsTagCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.unit(t, "fit2081")
	seedReviews(t, env, "fit2081", 2)
	if _, err := env.service.SetUnitTags(ctx, "fit2081", []Tag{TagControversial, TagWAMBooster}); err != nil {
		t.Fatalf("set tags: %v", err)
	}

	result, err := env.service.RefreshMostReviewsTag(ctx, 1)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !result.Skipped || result.Assigned {
		t.Fatalf("expected full unit to be skipped, got %+v", result)
	}
	if holders := mostReviewsHolders(t, env); len(holders) != 0 {
		t.Fatalf("expected no holders, got %v", holders)
	}
	if tags := env.reloadUnit(t, "fit2081").Tags; len(tags) != 2 {
		t.Fatalf("expected existing tags to stay, got %d", len(tags))
	}
}

func TestRefreshMostReviewsTagRejectsBadThreshold(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.service.RefreshMostReviewsTag(context.Background(), 0)
	expectKind(t, err, apperr.KindValidation)
}
