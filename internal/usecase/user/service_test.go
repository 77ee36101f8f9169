package user

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/bloom"
	"github.com/Guyuepp/videohub/internal/outbox"
	"github.com/Guyuepp/videohub/internal/repository/mysql"
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"github.com/Guyuepp/videohub/internal/repository/mysql/mysqltest"
	"github.com/Guyuepp/videohub/internal/usecase/membership"
	"github.com/go-faker/faker/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func newService(t *testing.T) (*Service, *gorm.DB, domain.MembershipUsecase) {
	t.Helper()
	db := mysqltest.Open(t)
	users := mysql.NewUserRepository(db)
	gate, err := membership.NewService(mysql.NewCacheStateRepository(db), bloom.NewMemory(), membership.Config{}, nil,
		membership.Instance{Name: domain.MembershipUserEmails, Capacity: 1000, ErrorRate: 0.01, Source: membership.UserEmailSource(users)})
	require.NoError(t, err)
	return NewService(mysql.NewTransactor(db), users, gate, outbox.NewWriter(mysql.NewOutboxRepository(db))), db, gate
}

func TestRegister(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	email := strings.ToLower(faker.Email())

	u, err := svc.Register(ctx, faker.Name(), "  "+strings.ToUpper(email)+" ")
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, email, u.Email)

	var n int64
	require.NoError(t, db.Model(&model.OutboxEvent{}).Where("event_type = ?", domain.TopicUserRegistered).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	ok, err := svc.EmailAvailable(ctx, email)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Register(ctx, faker.Name(), email)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)

	_, err = svc.Register(ctx, "", "not-an-email")
	assert.ErrorIs(t, err, domain.ErrBadParamInput)
}

func TestConcurrentSignupsOneWinner(t *testing.T) {
	svc, db, _ := newService(t)
	email := strings.ToLower(faker.Email())

	var won, taken atomic.Int32
	var g errgroup.Group
	for i := 0; i < 12; i++ {
		g.Go(func() error {
			_, err := svc.Register(context.Background(), faker.Name(), email)
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, domain.ErrEmailTaken):
				taken.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(11), taken.Load())

	var n int64
	require.NoError(t, db.Model(&model.OutboxEvent{}).Where("event_type = ?", domain.TopicUserRegistered).Count(&n).Error)
	assert.Equal(t, int64(1), n, "losers roll back their outbox row")
}

func TestEmailAvailableUsesPopulatedFilter(t *testing.T) {
	svc, _, gate := newService(t)
	ctx := context.Background()

	taken := strings.ToLower(faker.Email())
	_, err := svc.Register(ctx, faker.Name(), taken)
	require.NoError(t, err)

	stats, err := gate.Populate(ctx, domain.MembershipUserEmails, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Keys)

	ok, err := svc.EmailAvailable(ctx, "nobody-"+taken)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.EmailAvailable(ctx, taken)
	require.NoError(t, err)
	assert.False(t, ok)
}
