package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/backstage/services/audit/internal/models"
)

// ErrNotFound is returned when no matching record exists
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when a unique constraint is violated
var ErrDuplicate = errors.New("record already exists")

// UserRepository provides data access for user accounts
type UserRepository interface {
	Create(ctx context.Context, user *models.UserAccount) error
	FindByID(ctx context.Context, id uint) (*models.UserAccount, error)
	FindByUsername(ctx context.Context, username string) (*models.UserAccount, error)
	FindByEmail(ctx context.Context, email string) (*models.UserAccount, error)
	FindByAccessKey(ctx context.Context, accessKey string) (*models.UserAccount, error)
	FindAdmin(ctx context.Context) (*models.UserAccount, error)
	Activate(ctx context.Context, id uint) (*models.UserAccount, error)
	UpdatePassword(ctx context.Context, id uint, hashedPassword string) error
	RotateAccessKey(ctx context.Context, id uint, accessKey string) (*models.UserAccount, error)
}

// userRepo is an implementation of the UserRepository interface
type userRepo struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository instance
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, user *models.UserAccount) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return errors.Wrap(err, "failed to create user account")
	}
	return nil
}

func (r *userRepo) FindByID(ctx context.Context, id uint) (*models.UserAccount, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *userRepo) FindByUsername(ctx context.Context, username string) (*models.UserAccount, error) {
	return r.findOne(ctx, "username = ?", username)
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*models.UserAccount, error) {
	return r.findOne(ctx, "email = ?", email)
}

func (r *userRepo) FindByAccessKey(ctx context.Context, accessKey string) (*models.UserAccount, error) {
	return r.findOne(ctx, "access_key = ?", accessKey)
}

// FindAdmin returns the superuser account holding the time-series store
// credential.
func (r *userRepo) FindAdmin(ctx context.Context) (*models.UserAccount, error) {
	return r.findOne(ctx, "is_superuser = ?", true)
}

func (r *userRepo) Activate(ctx context.Context, id uint) (*models.UserAccount, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	user.IsActive = true
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, errors.Wrap(err, "failed to activate user account")
	}
	return user, nil
}

func (r *userRepo) UpdatePassword(ctx context.Context, id uint, hashedPassword string) error {
	result := r.db.WithContext(ctx).
		Model(&models.UserAccount{}).
		Where("id = ?", id).
		Update("hashed_password", hashedPassword)
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update password")
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) RotateAccessKey(ctx context.Context, id uint, accessKey string) (*models.UserAccount, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	user.AccessKey = accessKey
	if err := r.db.WithContext(ctx).Save(user).Error; err != nil {
		return nil, errors.Wrap(err, "failed to rotate access key")
	}
	return user, nil
}

func (r *userRepo) findOne(ctx context.Context, query string, args ...interface{}) (*models.UserAccount, error) {
	var user models.UserAccount
	err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to query user account")
	}
	return &user, nil
}
