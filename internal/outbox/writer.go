// Package outbox writes integration events next to the business rows they
// describe and relays them to the broker afterwards.
package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

type Writer struct {
	repo domain.OutboxRepository
	now  func() time.Time
}

var _ domain.OutboxWriter = (*Writer)(nil)

func NewWriter(repo domain.OutboxRepository) *Writer {
	return &Writer{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Append stores draft as a PENDING event. It must run inside
// Transactor.WithinTransaction; the event commits or rolls back with the caller.
func (w *Writer) Append(ctx context.Context, draft domain.OutboxDraft) (domain.OutboxEvent, error) {
	if draft.EventType == "" || draft.AggregateType == "" {
		return domain.OutboxEvent{}, fmt.Errorf("outbox draft needs an event and aggregate type: %w", domain.ErrBadParamInput)
	}
	payload, err := json.Marshal(draft.Payload)
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("marshal %s payload: %w", draft.EventType, err)
	}
	// v7 ids sort by creation time, matching the relay's order
	id, err := uuid.NewV7()
	if err != nil {
		return domain.OutboxEvent{}, err
	}

	ev := domain.OutboxEvent{
		ID:            id,
		AggregateType: draft.AggregateType,
		AggregateID:   draft.AggregateID,
		EventType:     draft.EventType,
		Payload:       payload,
		Status:        domain.OutboxPending,
		CreatedAt:     w.now(),
	}
	if err := w.repo.Insert(ctx, &ev); err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("append %s event: %w", draft.EventType, err)
	}
	return ev, nil
}
