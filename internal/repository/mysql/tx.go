package mysql

import (
	"context"

	"github.com/Guyuepp/videohub/domain"
	"gorm.io/gorm"
)

type txKey struct{}

type transactor struct {
	DB *gorm.DB
}

var _ domain.Transactor = (*transactor)(nil)

// NewTransactor starts transactions the repositories in this package join.
func NewTransactor(db *gorm.DB) *transactor {
	return &transactor{DB: db}
}

func (t *transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTransaction(ctx) {
		return fn(ctx)
	}
	return t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func inTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*gorm.DB)
	return ok
}

// conn returns the caller's transaction when there is one.
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
