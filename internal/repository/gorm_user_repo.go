package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

// GormUserRepository implements UserRepository and RefreshTokenStore using
// GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based user repository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Create creates a new user. Users always start active; deactivate them
// with SetActive.
func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.IsActive = true

	model := domain.UserToModel(user)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}

	user.CreatedAt = model.CreatedAt
	user.UpdatedAt = model.UpdatedAt
	return nil
}

// GetByID retrieves a user by ID.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	model, err := r.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.ToDomain(), nil
}

// SetActive flips the active flag of a user.
func (r *GormUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.update(ctx, id, map[string]interface{}{"is_active": active})
}

// UpdateDeviceToken stores the push token of the user's device.
func (r *GormUserRepository) UpdateDeviceToken(ctx context.Context, id, token string) error {
	return r.update(ctx, id, map[string]interface{}{"device_token": token})
}

// GetRefreshTokenHash returns the stored refresh token hash, empty when the
// user holds none.
func (r *GormUserRepository) GetRefreshTokenHash(ctx context.Context, userID string) (string, error) {
	model, err := r.get(ctx, userID)
	if err != nil {
		return "", err
	}
	return model.RefreshTokenHash, nil
}

// SetRefreshTokenHash replaces the stored refresh token hash.
func (r *GormUserRepository) SetRefreshTokenHash(ctx context.Context, userID, hash string) error {
	return r.update(ctx, userID, map[string]interface{}{"refresh_token_hash": hash})
}

func (r *GormUserRepository) get(ctx context.Context, id string) (*domain.UserModel, error) {
	var model domain.UserModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, result.Error
	}
	return &model, nil
}

func (r *GormUserRepository) update(ctx context.Context, id string, fields map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&domain.UserModel{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
