package setu

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
	"gorm.io/gorm"
)

func newGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "setu.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Entry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func entry(year int, period string, aggregate float64) Entry {
	return Entry{
		UnitCode:  "FIT2099",
		Year:      year,
		Period:    period,
		Responses: 40,
		Invited:   160,
		Items:     []ScorePair{{Mean: 4.1, Median: 4}, {Mean: 3.8, Median: 4}},
		Aggregate: ScorePair{Mean: aggregate, Median: aggregate},
	}
}

func TestGormStoreUpsertAndListNewestFirst(t *testing.T) {
	store := newGormStore(t)
	ctx := context.Background()

	for _, candidate := range []Entry{
		entry(2023, "s1", 3.9),
		entry(2024, "S1", 4.0),
		entry(2024, "S2", 4.2),
		entry(2024, "S2", 4.4),
	} {
		if err := store.Upsert(ctx, candidate); err != nil {
			t.Fatalf("upsert %s: %v", candidate.Season(), err)
		}
	}

	entries, err := store.ListByUnit(ctx, "fit2099", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 seasons, got %d", len(entries))
	}
	for index, season := range []string{"2024 S2", "2024 S1", "2023 S1"} {
		if entries[index].Season() != season {
			t.Fatalf("entry %d: expected %s, got %s", index, season, entries[index].Season())
		}
	}
	latest := entries[0]
	if latest.Aggregate.Mean != 4.4 || len(latest.Items) != 2 || latest.ResponseRate() != 0.25 {
		t.Fatalf("upsert did not replace the season: %+v", latest)
	}

	limited, err := store.ListByUnit(ctx, "FIT2099", 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestEntryNormalizeRejectsInvalid(t *testing.T) {
	testCases := map[string]Entry{
		"missing code":   {Year: 2024, Period: "S1"},
		"missing period": {UnitCode: "fit1008", Year: 2024},
		"bad year":       {UnitCode: "fit1008", Period: "S1"},
		"responses":      {UnitCode: "fit1008", Year: 2024, Period: "S1", Responses: 10, Invited: 5},
		"items":          {UnitCode: "fit1008", Year: 2024, Period: "S1", Items: make([]ScorePair, ItemCount+1)},
	}
	for name, candidate := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := candidate.Normalize(); !errors.Is(err, ErrInvalidEntry) {
				t.Fatalf("expected ErrInvalidEntry, got %v", err)
			}
		})
	}
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("list decodes entries", func(mt *mtest.T) {
		store, err := NewMongoStore(mt.Coll)
		if err != nil {
			mt.Fatalf("new store: %v", err)
		}

		namespace := mt.Coll.Database().Name() + "." + mt.Coll.Name()
		first := mtest.CreateCursorResponse(1, namespace, mtest.FirstBatch, bson.D{
			{Key: "unit_code", Value: "fit2099"},
			{Key: "year", Value: 2024},
			{Key: "period", Value: "S2"},
			{Key: "responses", Value: 12},
			{Key: "invited", Value: 48},
			{Key: "items", Value: bson.A{bson.D{{Key: "mean", Value: 4.5}, {Key: "median", Value: 5.0}}}},
			{Key: "aggregate", Value: bson.D{{Key: "mean", Value: 4.3}, {Key: "median", Value: 4.0}}},
		})
		done := mtest.CreateCursorResponse(0, namespace, mtest.NextBatch)
		mt.AddMockResponses(first, done)

		entries, err := store.ListByUnit(context.Background(), "FIT2099", 4)
		if err != nil {
			mt.Fatalf("list: %v", err)
		}
		if len(entries) != 1 {
			mt.Fatalf("expected one entry, got %d", len(entries))
		}
		decoded := entries[0]
		if decoded.Season() != "2024 S2" || decoded.Aggregate.Mean != 4.3 || decoded.Items[0].Mean != 4.5 || decoded.ResponseRate() != 0.25 {
			mt.Fatalf("unexpected decoded entry %+v", decoded)
		}
	})

	mt.Run("upsert sends update", func(mt *mtest.T) {
		store, err := NewMongoStore(mt.Coll)
		if err != nil {
			mt.Fatalf("new store: %v", err)
		}
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}))

		if err := store.Upsert(context.Background(), entry(2024, "S1", 4.0)); err != nil {
			mt.Fatalf("upsert: %v", err)
		}

		started := mt.GetStartedEvent()
		if started == nil || started.CommandName != "update" {
			mt.Fatalf("expected an update command, got %+v", started)
		}
	})

	mt.Run("upsert validates before writing", func(mt *mtest.T) {
		store, err := NewMongoStore(mt.Coll)
		if err != nil {
			mt.Fatalf("new store: %v", err)
		}
		if err := store.Upsert(context.Background(), Entry{UnitCode: "fit2099"}); !errors.Is(err, ErrInvalidEntry) {
			mt.Fatalf("expected ErrInvalidEntry, got %v", err)
		}
	})
}
