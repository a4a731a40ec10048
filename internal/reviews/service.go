package reviews

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/unitreviews/backend/internal/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
	lockForUpdate        = clause.Locking{Strength: "UPDATE"}
	lockForShare         = clause.Locking{Strength: "SHARE"}
)

const opServiceNew = "reviews.service.new"

// AssetRemover deletes a stored asset referenced by its public URL.
type AssetRemover interface {
	RemoveByURL(ctx context.Context, rawURL string) error
}

// ServiceConfig describes the dependencies of the review platform core.
type ServiceConfig struct {
	Database   *gorm.DB
	UnitOfWork UnitOfWork
	Clock      func() time.Time
	IDProvider IDProvider
	Assets     AssetRemover
	Logger     *zap.Logger
}

// Service owns units, reviews, reactions, notifications and users.
type Service struct {
	db         *gorm.DB
	uow        UnitOfWork
	clock      func() time.Time
	idProvider IDProvider
	assets     AssetRemover
	logger     *zap.Logger
	userCache  sync.Map
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperr.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperr.Internal(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	uow := cfg.UnitOfWork
	if uow == nil {
		uow = NewGormUnitOfWork(cfg.Database)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		uow:        uow,
		clock:      clock,
		idProvider: cfg.IDProvider,
		assets:     cfg.Assets,
		logger:     logger,
	}, nil
}

// Actor is the authenticated caller of a mutating operation.
type Actor struct {
	UserID  string
	IsAdmin bool
}

func (a Actor) canModify(ownerID string) bool {
	return a.IsAdmin || (a.UserID != "" && a.UserID == ownerID)
}

// inTx runs fn in a transaction. Errors already classified by fn pass through;
// anything else (commit failures, driver errors) becomes transaction_aborted.
func (s *Service) inTx(ctx context.Context, operation string, fn func(tx *gorm.DB) error) error {
	err := s.uow.InTx(ctx, fn)
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	s.logError(operation, "transaction_failed", err)
	return apperr.Aborted(operation, "transaction_failed", err)
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, "id_generation_failed", err)
		return "", apperr.Internal(operation, "id_generation_failed", err)
	}
	return id, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// takeOrNotFound loads one row and classifies a missing row as not_found.
func takeOrNotFound(tx *gorm.DB, operation, missingReason string, dest interface{}, query string, args ...interface{}) error {
	err := tx.Where(query, args...).Take(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(operation, missingReason, err)
	}
	if err != nil {
		return apperr.Aborted(operation, "select_failed", err)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("reviews service error", attrs...)
}
