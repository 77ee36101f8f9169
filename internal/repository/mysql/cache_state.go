package mysql

import (
	"context"
	"errors"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type cacheStateRepository struct {
	DB *gorm.DB
}

var _ domain.CacheStateRepository = (*cacheStateRepository)(nil)

func NewCacheStateRepository(db *gorm.DB) *cacheStateRepository {
	return &cacheStateRepository{DB: db}
}

func (r *cacheStateRepository) Get(ctx context.Context, key string) (domain.CacheState, error) {
	var row model.CacheState
	if err := conn(ctx, r.DB).First(&row, "cache_key = ?", key).Error; err != nil {
		return domain.CacheState{}, translate("cache_state.get", err)
	}
	return row.ToDomain(), nil
}

// Mutate is a compare-and-swap under a row lock. Two claimers racing on a
// missing row both try to insert; the loser re-reads the winner's row.
func (r *cacheStateRepository) Mutate(ctx context.Context, key string, init domain.CacheState, fn func(domain.CacheState) (domain.CacheState, error)) (domain.CacheState, error) {
	if _, err := r.ensure(ctx, key, init); err != nil {
		return domain.CacheState{}, err
	}

	var out domain.CacheState
	err := NewTransactor(r.DB).WithinTransaction(ctx, func(ctx context.Context) error {
		var row model.CacheState
		err := conn(ctx, r.DB).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "cache_key = ?", key).Error
		if err != nil {
			return translate("cache_state.lock", err)
		}

		cur := row.ToDomain()
		next, err := fn(cur)
		if err != nil {
			return err
		}
		if err := domain.CheckTransition(cur.Status, next.Status); err != nil {
			return err
		}
		next.Key = key

		updated := model.NewCacheStateFromDomain(next)
		// Save writes zero values too, so a cleared claim is persisted
		if err := conn(ctx, r.DB).Save(updated).Error; err != nil {
			return translate("cache_state.update", err)
		}
		out = updated.ToDomain()
		return nil
	})
	return out, err
}

func (r *cacheStateRepository) ensure(ctx context.Context, key string, init domain.CacheState) (bool, error) {
	init.Key = key
	if init.Status == "" {
		init.Status = domain.CacheNotInitialized
	}
	result := conn(ctx, r.DB).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(model.NewCacheStateFromDomain(init))
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrDuplicatedKey) {
		return false, translate("cache_state.ensure", result.Error)
	}
	return result.RowsAffected > 0, nil
}
