package user

import (
	"context"
	"strconv"
	"strings"

	"github.com/Guyuepp/videohub/domain"
	"github.com/sirupsen/logrus"
)

type Service struct {
	tx       domain.Transactor
	userRepo domain.UserRepository
	gate     domain.MembershipGate
	outbox   domain.OutboxWriter
}

var _ domain.UserUsecase = (*Service)(nil)

func NewService(tx domain.Transactor, u domain.UserRepository, gate domain.MembershipGate, outbox domain.OutboxWriter) *Service {
	return &Service{
		tx:       tx,
		userRepo: u,
		gate:     gate,
		outbox:   outbox,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register 先用过滤器做预检, 真正的唯一性由数据库唯一索引保证
func (s *Service) Register(ctx context.Context, name, email string) (domain.User, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || !strings.Contains(email, "@") {
		return domain.User{}, domain.ErrBadParamInput
	}

	available, err := s.available(ctx, email)
	if err != nil {
		logrus.WithError(err).Warn("signup pre-check failed, relying on the unique index")
	} else if !available {
		return domain.User{}, domain.ErrEmailTaken
	}

	u := domain.User{Name: name, Email: email}
	err = s.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.userRepo.Insert(ctx, &u); err != nil {
			return err
		}
		_, err := s.outbox.Append(ctx, domain.OutboxDraft{
			AggregateType: "user",
			AggregateID:   strconv.FormatInt(u.ID, 10),
			EventType:     domain.TopicUserRegistered,
			Payload:       domain.UserRegisteredEvent{UserID: u.ID, Email: u.Email},
		})
		return err
	})
	if domain.IsConflict(err) {
		// 并发注册同一邮箱, 唯一索引拦下了后到的那个
		return domain.User{}, domain.ErrEmailTaken
	}
	if err != nil {
		return domain.User{}, err
	}

	if err := s.gate.Add(ctx, domain.MembershipUserEmails, u.Email); err != nil {
		logrus.WithError(err).WithField("user_id", u.ID).Warn("add email to membership filter failed")
	}
	return u, nil
}

func (s *Service) EmailAvailable(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return false, domain.ErrBadParamInput
	}
	return s.available(ctx, email)
}

func (s *Service) available(ctx context.Context, email string) (bool, error) {
	ans, err := s.gate.Check(ctx, domain.MembershipUserEmails, email)
	if err != nil {
		return false, err
	}
	switch ans {
	case domain.Absent:
		return true, nil
	case domain.Present:
		return false, nil
	}
	exists, err := s.userRepo.ExistsByEmail(ctx, email)
	if err != nil {
		return false, err
	}
	return !exists, nil
}
