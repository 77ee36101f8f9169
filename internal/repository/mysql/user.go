package mysql

import (
	"context"

	"github.com/Guyuepp/videohub/domain"
	"github.com/Guyuepp/videohub/internal/repository/mysql/model"
	"gorm.io/gorm"
)

type userRepository struct {
	DB *gorm.DB
}

var _ domain.UserRepository = (*userRepository)(nil)

// NewUserRepository will create an implementation of domain.UserRepository
func NewUserRepository(db *gorm.DB) *userRepository {
	return &userRepository{
		DB: db,
	}
}

func (m *userRepository) GetByID(ctx context.Context, id int64) (domain.User, error) {
	var user model.User
	if err := conn(ctx, m.DB).First(&user, "id = ?", id).Error; err != nil {
		return domain.User{}, translate("user.get", err)
	}

	return user.ToDomain(), nil
}

func (m *userRepository) Insert(ctx context.Context, u *domain.User) error {
	userModel := model.NewUserFromDomain(u)

	result := conn(ctx, m.DB).Create(userModel)
	if result.Error != nil {
		return translate("user.insert", result.Error)
	}

	u.ID = userModel.ID
	u.CreatedAt = userModel.CreatedAt
	u.UpdatedAt = userModel.UpdatedAt
	return nil
}

func (m *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var n int64
	err := conn(ctx, m.DB).Model(&model.User{}).Where("email = ?", email).Limit(1).Count(&n).Error
	if err != nil {
		return false, translate("user.exists_by_email", err)
	}
	return n > 0, nil
}

// FetchEmails only sees active users; soft-deleted rows are filtered by gorm.
func (m *userRepository) FetchEmails(ctx context.Context, after string, limit int) ([]string, error) {
	var emails []string
	err := conn(ctx, m.DB).
		Model(&model.User{}).
		Where("email > ?", after).
		Order("email").
		Limit(limit).
		Pluck("email", &emails).Error
	if err != nil {
		return nil, translate("user.fetch_emails", err)
	}
	return emails, nil
}
