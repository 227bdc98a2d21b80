package cache

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
	"github.com/weiawesome/wes-io-live/messenger-service/internal/repository"
	"github.com/weiawesome/wes-io-live/messenger-service/pkg/log"
)

// CachedUserRepository serves GetByID from the cache and invalidates on
// writes. Cache failures fall through to the wrapped repository.
type CachedUserRepository struct {
	repository.UserRepository
	cache UserCache
	ttl   time.Duration
}

// NewCachedUserRepository wraps repo with cache.
func NewCachedUserRepository(repo repository.UserRepository, cache UserCache, ttl time.Duration) *CachedUserRepository {
	return &CachedUserRepository{UserRepository: repo, cache: cache, ttl: ttl}
}

func (r *CachedUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	l := log.Ctx(ctx)
	key := r.cache.BuildKeyByID(id)

	cached, err := r.cache.Get(ctx, key)
	if err == nil {
		user := cached.User
		user.DeviceToken = cached.DeviceToken
		return &user, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		l.Warn().Err(err).Str(log.FieldUserID, id).Msg("user cache read failed")
	}

	user, err := r.UserRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &UserCacheResult{User: *user, DeviceToken: user.DeviceToken}
	if err := r.cache.Set(ctx, key, result, r.ttl); err != nil {
		l.Warn().Err(err).Str(log.FieldUserID, id).Msg("user cache write failed")
	}
	return user, nil
}

func (r *CachedUserRepository) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.UserRepository.SetActive(ctx, id, active); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

func (r *CachedUserRepository) UpdateDeviceToken(ctx context.Context, id, token string) error {
	if err := r.UserRepository.UpdateDeviceToken(ctx, id, token); err != nil {
		return err
	}
	r.invalidate(ctx, id)
	return nil
}

// Invalidate drops the cached profile of id.
func (r *CachedUserRepository) Invalidate(ctx context.Context, id string) {
	r.invalidate(ctx, id)
}

func (r *CachedUserRepository) invalidate(ctx context.Context, id string) {
	if err := r.cache.Delete(ctx, r.cache.BuildKeyByID(id)); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, id).Msg("user cache invalidation failed")
	}
}

var _ repository.UserRepository = (*CachedUserRepository)(nil)
