package cache

import (
	"context"
	"time"

	"github.com/weiawesome/wes-io-live/messenger-service/internal/domain"
)

type UserCacheResult struct {
	User domain.User `json:"user"`
	// DeviceToken is not serialized on domain.User.
	DeviceToken string `json:"deviceToken,omitempty"`
}

type UserCache interface {
	Get(ctx context.Context, key string) (*UserCacheResult, error)
	Set(ctx context.Context, key string, result *UserCacheResult, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	BuildKeyByID(userID string) string
}
