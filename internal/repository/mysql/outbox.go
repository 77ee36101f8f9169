package mysql

import (
	"context"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxLastErrorLen = 1024

type outboxRepository struct {
	DB *gorm.DB
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)

func NewOutboxRepository(db *gorm.DB) *outboxRepository {
	return &outboxRepository{DB: db}
}

// Insert refuses to run outside a transaction: an outbox row written on its
// own could announce a change that later rolls back.
func (r *outboxRepository) Insert(ctx context.Context, ev *domain.OutboxEvent) error {
	if !inTransaction(ctx) {
		return domain.ErrNoTransaction
	}
	row := model.NewOutboxEventFromDomain(ev)
	if err := conn(ctx, r.DB).Create(row).Error; err != nil {
		return translate("outbox.insert", err)
	}
	ev.CreatedAt = row.CreatedAt
	return nil
}

func (r *outboxRepository) ClaimPending(ctx context.Context, owner string, limit int, now time.Time, lease time.Duration) ([]domain.OutboxEvent, error) {
	var claimed []domain.OutboxEvent
	err := NewTransactor(r.DB).WithinTransaction(ctx, func(ctx context.Context) error {
		var rows []model.OutboxEvent
		err := conn(ctx, r.DB).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND (locked_until IS NULL OR locked_until < ?)", string(domain.OutboxPending), now).
			Order("created_at").
			Order("id").
			Limit(limit).
			Find(&rows).Error
		if err != nil {
			return translate("outbox.claim_select", err)
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(rows))
		for i := range rows {
			ids[i] = rows[i].ID
		}
		until := now.Add(lease)
		err = conn(ctx, r.DB).Model(&model.OutboxEvent{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"locked_by": owner, "locked_until": until}).Error
		if err != nil {
			return translate("outbox.claim_lease", err)
		}

		claimed = make([]domain.OutboxEvent, len(rows))
		for i := range rows {
			rows[i].LockedBy = owner
			rows[i].LockedUntil = &until
			claimed[i] = rows[i].ToDomain()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id uuid.UUID, owner string, at time.Time) error {
	result := conn(ctx, r.DB).Model(&model.OutboxEvent{}).
		Where("id = ? AND locked_by = ?", id, owner).
		Updates(map[string]any{
			"status":       string(domain.OutboxPublished),
			"published_at": at,
			"locked_by":    "",
			"locked_until": nil,
		})
	if result.Error != nil {
		return translate("outbox.mark_published", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}

// MarkFailed computes the next attempt from the claimed row. The lease makes
// this relay the only writer until it lets go.
func (r *outboxRepository) MarkFailed(ctx context.Context, ev domain.OutboxEvent, owner string, cause error, maxAttempts int) (domain.OutboxStatus, error) {
	attempts := ev.AttemptCount + 1
	status := domain.OutboxPending
	if maxAttempts > 0 && attempts >= maxAttempts {
		status = domain.OutboxFailed
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
		if len(msg) > maxLastErrorLen {
			msg = msg[:maxLastErrorLen]
		}
	}

	result := conn(ctx, r.DB).Model(&model.OutboxEvent{}).
		Where("id = ? AND locked_by = ?", ev.ID, owner).
		Updates(map[string]any{
			"status":        string(status),
			"attempt_count": attempts,
			"last_error":    msg,
			"locked_by":     "",
			"locked_until":  nil,
		})
	if result.Error != nil {
		return ev.Status, translate("outbox.mark_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ev.Status, domain.ErrLeaseLost
	}
	return status, nil
}

func (r *outboxRepository) Release(ctx context.Context, id uuid.UUID, owner string) error {
	err := conn(ctx, r.DB).Model(&model.OutboxEvent{}).
		Where("id = ? AND locked_by = ?", id, owner).
		Updates(map[string]any{"locked_by": "", "locked_until": nil}).Error
	return translate("outbox.release", err)
}

func (r *outboxRepository) RequeueFailed(ctx context.Context, limit int) (int64, error) {
	var ids []uuid.UUID
	err := conn(ctx, r.DB).Model(&model.OutboxEvent{}).
		Where("status = ?", string(domain.OutboxFailed)).
		Order("created_at").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, translate("outbox.requeue_select", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := conn(ctx, r.DB).Model(&model.OutboxEvent{}).
		Where("id IN ? AND status = ?", ids, string(domain.OutboxFailed)).
		Updates(map[string]any{
			"status":        string(domain.OutboxPending),
			"attempt_count": 0,
			"last_error":    "",
		})
	if result.Error != nil {
		return 0, translate("outbox.requeue", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *outboxRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.OutboxEvent, error) {
	var row model.OutboxEvent
	if err := conn(ctx, r.DB).First(&row, "id = ?", id).Error; err != nil {
		return domain.OutboxEvent{}, translate("outbox.get", err)
	}
	return row.ToDomain(), nil
}
