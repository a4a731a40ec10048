package main

import (
	"context"
	"time"

	"github.com/unitreviews/backend/internal/assets"
	"github.com/unitreviews/backend/internal/auth"
	"github.com/unitreviews/backend/internal/config"
	"github.com/unitreviews/backend/internal/database"
	"github.com/unitreviews/backend/internal/jobs"
	"github.com/unitreviews/backend/internal/logging"
	"github.com/unitreviews/backend/internal/overview"
	"github.com/unitreviews/backend/internal/reviews"
	"github.com/unitreviews/backend/internal/server"
	"github.com/unitreviews/backend/internal/setu"
	"github.com/unitreviews/backend/internal/summarizer"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const closeTimeout = 5 * time.Second

// application holds the wired services shared by the server and job commands.
type application struct {
	logger    *zap.Logger
	db        *gorm.DB
	validator *auth.SessionValidator
	reviews   *reviews.Service
	overviews *overview.Service
	setu      setu.Store
	runner    *jobs.Runner
	closers   []func(context.Context) error
}

func newApplication(ctx context.Context, cfg config.AppConfig) (*application, error) {
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	app := &application{logger: logger}
	ready := false
	defer func() {
		if !ready {
			app.Close()
		}
	}()

	app.db, err = database.Open(database.Options{
		Driver: cfg.DatabaseDriver,
		Path:   cfg.DatabasePath,
		DSN:    cfg.DatabaseDSN,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, func(context.Context) error { return database.Close(app.db) })

	app.validator, err = auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(cfg.AuthSigningSecret),
		Issuer:        cfg.AuthIssuer,
		CookieName:    cfg.AuthCookieName,
	})
	if err != nil {
		return nil, err
	}

	var assetRemover reviews.AssetRemover = assets.NoopStore{}
	if cfg.AssetsBucket != "" {
		gcsStore, err := assets.NewGCSStore(ctx, assets.GCSConfig{
			Bucket:          cfg.AssetsBucket,
			CredentialsFile: cfg.AssetsCredentialsFile,
			PublicBaseURL:   cfg.AssetsPublicBaseURL,
		}, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return gcsStore.Close() })
		assetRemover = gcsStore
	}

	app.reviews, err = reviews.NewService(reviews.ServiceConfig{
		Database:   app.db,
		Clock:      time.Now,
		IDProvider: reviews.NewUUIDProvider(),
		Assets:     assetRemover,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	if cfg.SetuMongoURI != "" {
		mongoStore, err := setu.ConnectMongo(ctx, cfg.SetuMongoURI, cfg.SetuMongoDatabase)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, mongoStore.Close)
		app.setu = mongoStore
	} else {
		gormStore, err := setu.NewGormStore(app.db)
		if err != nil {
			return nil, err
		}
		app.setu = gormStore
	}

	var client overview.Summarizer
	if cfg.AI.Enabled() {
		summarizerClient, err := summarizer.New(summarizer.Config{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
		})
		if err != nil {
			return nil, err
		}
		client = summarizerClient
	} else {
		logger.Info("ai overviews disabled, no api key configured")
	}
	app.overviews, err = overview.NewService(overview.Config{
		Database:   app.db,
		Reviews:    app.reviews,
		Seasons:    app.setu,
		Summarizer: client,
		Policy: overview.Policy{
			FreshnessWindow:  cfg.AI.FreshnessWindow,
			MaxReviews:       cfg.AI.MaxReviews,
			MaxSeasons:       cfg.AI.MaxSeasons,
			ReviewCharBudget: cfg.AI.ReviewCharBudget,
		},
		RequestDelay: cfg.AI.RequestDelay,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	var locker jobs.Locker = jobs.NewLocalLocker()
	if cfg.RedisURL != "" {
		redisClient, err := jobs.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func(context.Context) error { return redisClient.Close() })
		locker = jobs.NewRedisLocker(redisClient)
	}
	app.runner, err = jobs.NewRunner(locker, cfg.JobLockTTL, logger,
		jobs.Job{
			Name:     server.JobRefreshTags,
			Interval: cfg.TagRefreshInterval,
			Run: func(ctx context.Context) error {
				_, err := app.reviews.RefreshMostReviewsTag(ctx, cfg.MostReviewsThreshold)
				return err
			},
		},
		jobs.Job{
			Name:     server.JobRefreshOverviews,
			Interval: cfg.OverviewSweepInterval,
			Run: func(ctx context.Context) error {
				_, err := app.overviews.Sweep(ctx)
				return err
			},
		},
	)
	if err != nil {
		return nil, err
	}
	ready = true
	return app, nil
}

// Close releases clients in reverse order of acquisition.
func (app *application) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](ctx); err != nil {
			app.logger.Warn("shutdown step failed", zap.Error(err))
		}
	}
	_ = app.logger.Sync()
}
