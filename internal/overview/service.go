package overview

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/unitreviews/backend/internal/apperr"
	"github.com/unitreviews/backend/internal/reviews"
	"github.com/unitreviews/backend/internal/setu"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew = "overview.service.new"
	opGet        = "overview.get"
	opRefresh    = "overview.refresh"
	opSweep      = "overview.sweep"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingReviews  = errors.New("review source is required")
)

// Summarizer produces a summary for a prompt.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
	Model() string
}

// ReviewSource exposes the unit and review data a summary is built from.
type ReviewSource interface {
	GetUnit(ctx context.Context, code string) (reviews.Unit, error)
	ListUnitReviews(ctx context.Context, unitCode string, limit int) ([]reviews.Review, error)
	ListReviewedUnitCodes(ctx context.Context) ([]string, error)
}

// Outcome describes what a refresh did.
type Outcome string

const (
	OutcomeGenerated         Outcome = "generated"
	OutcomeFresh             Outcome = "fresh"
	OutcomeSkippedNoReviews  Outcome = "skipped_no_reviews"
	OutcomeSkippedNoProvider Outcome = "skipped_no_summarizer"
)

// RefreshResult is the outcome of one unit refresh.
type RefreshResult struct {
	Outcome  Outcome
	Overview Overview
}

// SweepResult counts what a sweep did.
type SweepResult struct {
	Units     int
	Generated int
	Fresh     int
	Skipped   int
	Failed    int
}

// Config describes the dependencies of the overview service.
type Config struct {
	Database *gorm.DB
	Reviews  ReviewSource
	Seasons  setu.Store
	// Summarizer may be nil, in which case every refresh is skipped.
	Summarizer Summarizer
	Policy     Policy
	// RequestDelay spaces consecutive summarizer calls.
	RequestDelay time.Duration
	Clock        func() time.Time
	Logger       *zap.Logger
}

// Service keeps unit overviews up to date.
type Service struct {
	db         *gorm.DB
	reviews    ReviewSource
	seasons    setu.Store
	summarizer Summarizer
	policy     Policy
	limiter    *rate.Limiter
	clock      func() time.Time
	logger     *zap.Logger
	inflight   singleflight.Group
}

// NewService constructs the overview service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Reviews == nil {
		return nil, apperr.Internal(opServiceNew, "missing_reviews", errMissingReviews)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	}
	return &Service{
		db:         cfg.Database,
		reviews:    cfg.Reviews,
		seasons:    cfg.Seasons,
		summarizer: cfg.Summarizer,
		policy:     cfg.Policy.withDefaults(),
		limiter:    limiter,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Get returns the stored overview of a unit, if any.
func (s *Service) Get(ctx context.Context, unitID string) (Overview, bool, error) {
	existing, err := s.load(ctx, unitID)
	if err != nil {
		return Overview{}, false, err
	}
	if existing == nil {
		return Overview{}, false, nil
	}
	return *existing, true, nil
}

func (s *Service) load(ctx context.Context, unitID string) (*Overview, error) {
	var existing Overview
	err := s.db.WithContext(ctx).Where("unit_id = ?", unitID).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.MapStore(opGet, "query_failed", err)
	}
	return &existing, nil
}

// Refresh regenerates the summary of unitCode when ShouldRegenerate says so.
// Concurrent refreshes of the same unit share one summarizer call.
func (s *Service) Refresh(ctx context.Context, unitCode string, force bool) (RefreshResult, error) {
	key := unitCode + ":" + strconv.FormatBool(force)
	value, err, _ := s.inflight.Do(key, func() (interface{}, error) {
		return s.refresh(ctx, unitCode, force)
	})
	if err != nil {
		return RefreshResult{}, err
	}
	return value.(RefreshResult), nil
}

func (s *Service) refresh(ctx context.Context, unitCode string, force bool) (RefreshResult, error) {
	unit, err := s.reviews.GetUnit(ctx, unitCode)
	if err != nil {
		return RefreshResult{}, err
	}
	if unit.ReviewCount == 0 {
		return RefreshResult{Outcome: OutcomeSkippedNoReviews}, nil
	}
	if s.summarizer == nil {
		return RefreshResult{Outcome: OutcomeSkippedNoProvider}, nil
	}

	existing, err := s.load(ctx, unit.ID)
	if err != nil {
		return RefreshResult{}, err
	}
	now := s.clock().UTC()
	if !ShouldRegenerate(existing, unit.ReviewCount, force, now, s.policy.FreshnessWindow) {
		return RefreshResult{Outcome: OutcomeFresh, Overview: *existing}, nil
	}

	unitReviews, err := s.reviews.ListUnitReviews(ctx, unit.Code, s.policy.MaxReviews)
	if err != nil {
		return RefreshResult{}, err
	}
	var seasons []setu.Entry
	if s.seasons != nil {
		seasons, err = s.seasons.ListByUnit(ctx, unit.Code, s.policy.MaxSeasons)
		if err != nil {
			s.logger.Warn("setu lookup failed, summarising without it",
				zap.String("unit_code", unit.Code),
				zap.Error(err))
			seasons = nil
		}
	}

	prompt, err := BuildPrompt(unit, unitReviews, seasons, s.policy)
	if err != nil {
		return RefreshResult{}, apperr.Internal(opRefresh, "prompt_failed", err)
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return RefreshResult{}, apperr.Internal(opRefresh, "cancelled", err)
		}
	}
	summary, err := s.summarizer.Summarize(ctx, prompt)
	if err != nil {
		s.logger.Error("summarizer call failed",
			zap.String("operation", opRefresh),
			zap.String("unit_code", unit.Code),
			zap.Error(err))
		return RefreshResult{}, apperr.External(opRefresh, "summarizer_failed", err)
	}

	seasonLabels := make([]string, 0, len(seasons))
	for _, season := range seasons {
		seasonLabels = append(seasonLabels, season.Season())
	}
	overview := Overview{
		UnitID:                 unit.ID,
		UnitCode:               unit.Code,
		Summary:                summary,
		GeneratedAt:            now,
		Model:                  s.summarizer.Model(),
		TotalReviewsConsidered: unit.ReviewCount,
		ReviewSampleSize:       len(unitReviews),
		SeasonsConsidered:      seasonLabels,
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "unit_id"}}, UpdateAll: true}).
		Create(&overview).Error
	if err != nil {
		return RefreshResult{}, apperr.MapStore(opRefresh, "upsert_failed", err)
	}

	s.logger.Info("unit overview generated",
		zap.String("unit_code", unit.Code),
		zap.Int64("review_count", unit.ReviewCount),
		zap.Int("review_sample", len(unitReviews)),
		zap.Int("seasons", len(seasons)))
	return RefreshResult{Outcome: OutcomeGenerated, Overview: overview}, nil
}

// Sweep refreshes every reviewed unit in code order. A failing unit is
// logged and the sweep moves on.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	codes, err := s.reviews.ListReviewedUnitCodes(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	result := SweepResult{Units: len(codes)}
	for _, code := range codes {
		if err := ctx.Err(); err != nil {
			return result, apperr.Internal(opSweep, "cancelled", err)
		}
		refreshed, err := s.Refresh(ctx, code, false)
		if err != nil {
			result.Failed++
			s.logger.Error("overview sweep unit failed",
				zap.String("operation", opSweep),
				zap.String("unit_code", code),
				zap.Error(err))
			continue
		}
		switch refreshed.Outcome {
		case OutcomeGenerated:
			result.Generated++
		case OutcomeFresh:
			result.Fresh++
		default:
			result.Skipped++
		}
	}
	s.logger.Info("overview sweep finished",
		zap.Int("units", result.Units),
		zap.Int("generated", result.Generated),
		zap.Int("fresh", result.Fresh),
		zap.Int("failed", result.Failed))
	return result, nil
}

// Models lists the tables owned by this package.
func Models() []interface{} {
	return []interface{}{&Overview{}}
}
