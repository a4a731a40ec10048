package reviews

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/unitreviews/backend/internal/apperr"
	"gorm.io/gorm"
)

func TestDeleteUserCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.unit(t, "unitx")
	env.unit(t, "unity")

	bob, err := env.service.EnsureUser(ctx, UserIdentity{
		Email:     "bob@student.edu",
		AvatarURL: "https://storage.googleapis.com/avatars/bob.png",
	})
	if err != nil {
		t.Fatalf("ensure bob: %v", err)
	}
	other := env.user(t, "other@student.edu")
	fan := env.user(t, "fan@student.edu")

	bobX1 := env.review(t, bob, "unitx", 5)
	bobY := env.review(t, bob, "unity", 1)
	otherX := env.review(t, other, "unitx", 3)
	otherY := env.review(t, other, "unity", 4)

	// One review per author per unit, so bob's third review lands on a third unit.
	env.unit(t, "unitz")
	bobZ := env.review(t, bob, "unitz", 2)

	toggles := []struct {
		reviewID string
		userID   string
		kind     ReactionKind
	}{
		{otherX.ID, bob.ID, ReactionLike},
		{otherY.ID, bob.ID, ReactionDislike},
		{bobX1.ID, fan.ID, ReactionLike},
		{bobY.ID, other.ID, ReactionDislike},
	}
	for _, toggle := range toggles {
		if _, err := env.service.ToggleReaction(ctx, toggle.reviewID, toggle.userID, toggle.kind); err != nil {
			t.Fatalf("toggle %s on %s: %v", toggle.kind, toggle.reviewID, err)
		}
	}

	if got := env.count(t, &Notification{}, "actor_id = ?", bob.ID); got != 1 {
		t.Fatalf("expected one notification triggered by bob, got %d", got)
	}
	if got := env.count(t, &Notification{}, "recipient_id = ?", bob.ID); got != 1 {
		t.Fatalf("expected one notification for bob, got %d", got)
	}

	result, err := env.service.DeleteUser(ctx, bob.ID)
	if err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if result.DeletedReviews != 3 || len(result.AffectedUnitIDs) != 3 || !result.AssetRemoved {
		t.Fatalf("unexpected cascade result %+v", result)
	}
	if removed := env.assets.removedURLs(); !reflect.DeepEqual(removed, []string{"https://storage.googleapis.com/avatars/bob.png"}) {
		t.Fatalf("unexpected asset removals %v", removed)
	}

	for _, id := range []string{bobX1.ID, bobY.ID, bobZ.ID} {
		_, err := env.service.GetReview(ctx, id)
		if !apperr.Is(err, apperr.KindNotFound) {
			t.Fatalf("review %s should be gone, got %v", id, err)
		}
	}
	leftovers := []struct {
		name  string
		model interface{}
		query string
		args  []interface{}
	}{
		{"bob's reactions", &Reaction{}, "user_id = ?", []interface{}{bob.ID}},
		{"reactions on bob's reviews", &Reaction{}, "review_id IN ?", []interface{}{[]string{bobX1.ID, bobY.ID, bobZ.ID}}},
		{"bob's notifications", &Notification{}, "recipient_id = ? OR actor_id = ?", []interface{}{bob.ID, bob.ID}},
		{"bob", &User{}, "id = ?", []interface{}{bob.ID}},
	}
	for _, leftover := range leftovers {
		if got := env.count(t, leftover.model, leftover.query, leftover.args...); got != 0 {
			t.Fatalf("expected %s to be removed, %d remain", leftover.name, got)
		}
	}

	if likes := env.reloadReview(t, otherX.ID).Likes; likes != 0 {
		t.Fatalf("expected bob's like to be retracted, likes=%d", likes)
	}
	if dislikes := env.reloadReview(t, otherY.ID).Dislikes; dislikes != 0 {
		t.Fatalf("expected bob's dislike to be retracted, dislikes=%d", dislikes)
	}

	if unitX := env.reloadUnit(t, "unitx"); unitX.AvgOverallRating != 3.0 || unitX.ReviewCount != 1 {
		t.Fatalf("unitx aggregates not refreshed: %+v", unitX)
	}
	if unitY := env.reloadUnit(t, "unity"); unitY.AvgOverallRating != 4.0 {
		t.Fatalf("unity aggregates not refreshed: %+v", unitY)
	}
	if unitZ := env.reloadUnit(t, "unitz"); unitZ.AvgOverallRating != 0 || unitZ.ReviewCount != 0 {
		t.Fatalf("unitz aggregates not reset: %+v", unitZ)
	}

	_, err = env.service.GetUser(ctx, bob.ID)
	expectKind(t, err, apperr.KindNotFound)
}

func TestDeleteUserMissingHasNoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	env.unit(t, "fit1111")
	author := env.user(t, "author@student.edu")
	env.review(t, author, "fit1111", 4)

	_, err := env.service.DeleteUser(context.Background(), "ghost")
	expectKind(t, err, apperr.KindNotFound)
	if got := env.count(t, &Review{}, "author_id = ?", author.ID); got != 1 {
		t.Fatalf("expected the review to survive, found %d", got)
	}
	if removed := env.assets.removedURLs(); len(removed) != 0 {
		t.Fatalf("expected no asset removals, got %v", removed)
	}
}

type storedState struct {
	units         []Unit
	reviews       []Review
	reactions     []Reaction
	notifications []Notification
	users         []User
}

func snapshotState(t *testing.T, db *gorm.DB) storedState {
	t.Helper()
	var state storedState
	for _, load := range []struct {
		dest  interface{}
		order string
	}{
		{&state.units, "id"},
		{&state.reviews, "id"},
		{&state.reactions, "user_id, review_id"},
		{&state.notifications, "id"},
		{&state.users, "id"},
	} {
		if err := db.Order(load.order).Find(load.dest).Error; err != nil {
			t.Fatalf("snapshot: %v", err)
		}
	}
	return state
}

func TestDeleteUserFailureRollsBackEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.unit(t, "fit2004")
	env.unit(t, "fit2014")

	leaving, err := env.service.EnsureUser(ctx, UserIdentity{
		Email:     "leaving@student.edu",
		AvatarURL: "https://storage.googleapis.com/avatars/leaving.png",
	})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	other := env.user(t, "other@student.edu")
	own := env.review(t, leaving, "fit2004", 5)
	theirs := env.review(t, other, "fit2014", 2)
	env.review(t, other, "fit2004", 3)
	if _, err := env.service.ToggleReaction(ctx, theirs.ID, leaving.ID, ReactionLike); err != nil {
		t.Fatalf("like: %v", err)
	}
	if _, err := env.service.ToggleReaction(ctx, own.ID, other.ID, ReactionDislike); err != nil {
		t.Fatalf("dislike: %v", err)
	}

	before := snapshotState(t, env.db)

	// Fail the last step of the cascade, after every other row was touched.
	err = env.db.Callback().Delete().Before("gorm:delete").Register("test:fail_user_delete", func(tx *gorm.DB) {
		if tx.Statement.Table == "users" {
			_ = tx.AddError(errors.New("disk full"))
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err = env.service.DeleteUser(ctx, leaving.ID)
	expectKind(t, err, apperr.KindTransactionAborted)

	after := snapshotState(t, env.db)
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("failed cascade changed stored rows\nbefore: %+v\nafter:  %+v", before, after)
	}
	if removed := env.assets.removedURLs(); len(removed) != 0 {
		t.Fatalf("asset removal attempted for a rolled back delete: %v", removed)
	}
}

func TestDeleteUserSurvivesAssetFailure(t *testing.T) {
	env := newTestEnv(t)
	env.assets.err = errors.New("bucket unavailable")
	user, err := env.service.EnsureUser(context.Background(), UserIdentity{
		Email:     "gone@student.edu",
		AvatarURL: "https://cdn.example.com/avatars/gone.png",
	})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	result, err := env.service.DeleteUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("asset failure must not fail the delete: %v", err)
	}
	if result.AssetRemoved {
		t.Fatalf("asset reported removed despite failure")
	}
	if got := env.count(t, &User{}, "id = ?", user.ID); got != 0 {
		t.Fatalf("expected user to be deleted")
	}
}

func TestDeleteUserEvictsIdentityCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	first := env.user(t, "again@student.edu")
	if _, err := env.service.DeleteUser(ctx, first.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	second := env.user(t, "again@student.edu")
	if second.ID == first.ID {
		t.Fatalf("expected a fresh account after deletion")
	}
	if got := env.count(t, &User{}, "email = ?", "again@student.edu"); got != 1 {
		t.Fatalf("expected one account, found %d", got)
	}
}

func TestEnsureUserDropsAccountDeletedByAnotherReplica(t *testing.T) {
	replicaA := newTestEnv(t)
	replicaB := newTestEnvOn(t, replicaA.db, &sequenceIDProvider{next: 1000})
	ctx := context.Background()
	replicaA.unit(t, "fit2099")

	cached := replicaB.user(t, "ghost@student.edu")
	if _, err := replicaA.service.DeleteUser(ctx, cached.ID); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	resolved, err := replicaB.service.EnsureUser(ctx, UserIdentity{Email: "ghost@student.edu"})
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if resolved.ID == cached.ID {
		t.Fatalf("replica resolved the session to the deleted account %s", cached.ID)
	}
	if _, err := replicaB.service.CreateReview(ctx, resolved.ID, "fit2099", reviewInput(4)); err != nil {
		t.Fatalf("writes with the resolved account must succeed: %v", err)
	}
}
