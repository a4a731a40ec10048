package reviews

import (
	"context"

	"gorm.io/gorm"
)

// UnitOfWork runs fn inside one database transaction. fn must only use the
// handle it is given; returning an error rolls everything back.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gormUnitOfWork struct {
	db *gorm.DB
}

// NewGormUnitOfWork returns a UnitOfWork backed by gorm transactions.
func NewGormUnitOfWork(db *gorm.DB) UnitOfWork {
	return &gormUnitOfWork{db: db}
}

func (u *gormUnitOfWork) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return u.db.WithContext(ctx).Transaction(fn)
}
