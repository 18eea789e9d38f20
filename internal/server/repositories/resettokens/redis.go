// Package resettokens keeps one-time password reset tokens in Redis.
// Tokens expire on their own and are consumed with GETDEL, so each can be
// redeemed at most once.
package resettokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/metta/internal/common"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "metta:reset:"

type Repository interface {
	// Save maps token to userID for ttl.
	Save(ctx context.Context, token, userID string, ttl time.Duration) error
	// Consume returns the user id stored under token and removes it.
	// An unknown or expired token yields common.ErrorNotFound.
	Consume(ctx context.Context, token string) (string, error)
}

type RedisRepository struct {
	client redis.Cmdable
}

func NewRedisRepository(client redis.Cmdable) *RedisRepository {
	return &RedisRepository{client: client}
}

func (r *RedisRepository) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := r.client.Set(ctx, keyPrefix+token, userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store reset token: %w", err)
	}
	return nil
}

func (r *RedisRepository) Consume(ctx context.Context, token string) (string, error) {
	val, err := r.client.GetDel(ctx, keyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", common.ErrorNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get reset token: %w", err)
	}
	return val, nil
}
