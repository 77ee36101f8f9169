// Package consumer applies broker events at most once per consumer group.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/metrics"
	"github.com/sirupsen/logrus"
)

// Ledger records which messages a consumer group has applied.
type Ledger struct {
	tx       domain.Transactor
	repo     domain.ProcessedMessageRepository
	group    string
	recorder *metrics.Recorder
	now      func() time.Time
}

func NewLedger(tx domain.Transactor, repo domain.ProcessedMessageRepository, group string, recorder *metrics.Recorder) *Ledger {
	return &Ledger{
		tx:       tx,
		repo:     repo,
		group:    group,
		recorder: recorder,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) Group() string {
	return l.group
}

func (l *Ledger) entry(messageID, topic string) domain.ProcessedMessage {
	return domain.ProcessedMessage{
		MessageID:     messageID,
		ConsumerGroup: l.group,
		Topic:         topic,
		ProcessedAt:   l.now(),
	}
}

// Process runs a local effect in the same transaction as the ledger insert.
// A duplicate delivery is acknowledged without running effect; applied
// reports whether effect ran.
func (l *Ledger) Process(ctx context.Context, messageID, topic string, effect func(ctx context.Context) error) (applied bool, err error) {
	if messageID == "" {
		return false, domain.Permanent(fmt.Errorf("message on %s has no id", topic))
	}
	err = l.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := l.repo.Insert(ctx, l.entry(messageID, topic)); err != nil {
			if domain.IsConflict(err) {
				return nil
			}
			return err
		}
		applied = true
		return effect(ctx)
	})
	if err != nil {
		return false, err
	}
	l.result(messageID, applied)
	return applied, nil
}

// ProcessRemote is for effects that cannot join the transaction. The ledger
// row is committed first; if effect fails the row is deleted again so the
// redelivery retries it. A crash between the commit and the effect loses the
// effect.
func (l *Ledger) ProcessRemote(ctx context.Context, messageID, topic string, effect func(ctx context.Context) error) (applied bool, err error) {
	if messageID == "" {
		return false, domain.Permanent(fmt.Errorf("message on %s has no id", topic))
	}
	if err := l.repo.Insert(ctx, l.entry(messageID, topic)); err != nil {
		if domain.IsConflict(err) {
			l.result(messageID, false)
			return false, nil
		}
		return false, err
	}

	if err := effect(ctx); err != nil {
		if delErr := l.repo.Delete(context.WithoutCancel(ctx), messageID, l.group); delErr != nil {
			logrus.WithError(delErr).WithFields(logrus.Fields{
				"message_id": messageID,
				"group":      l.group,
			}).Error("ledger compensation failed, message will be treated as applied")
		}
		l.recorder.LedgerResult(l.group, "compensated")
		return false, err
	}
	l.result(messageID, true)
	return true, nil
}

func (l *Ledger) result(messageID string, applied bool) {
	if applied {
		l.recorder.LedgerResult(l.group, "applied")
		return
	}
	l.recorder.LedgerResult(l.group, "duplicate")
	logrus.WithFields(logrus.Fields{"message_id": messageID, "group": l.group}).Info("duplicate delivery skipped")
}
