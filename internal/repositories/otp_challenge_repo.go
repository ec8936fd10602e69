package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/el7lm/smartlogin/internal/config"
	"github.com/el7lm/smartlogin/internal/models"
	"github.com/redis/go-redis/v9"
)

// OTPChallengeRepository keeps outstanding OTP challenges in Redis. The
// challenge lives at otp:<phone> and its failed-attempt counter at
// otp:<phone>:attempts; both expire with the challenge.
type OTPChallengeRepository struct {
	client redis.Cmdable
}

func NewOTPChallengeRepository(client redis.Cmdable) *OTPChallengeRepository {
	return &OTPChallengeRepository{client: client}
}

// NewRedisClient connects to cfg.Addr and verifies the connection.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}
	return client, nil
}

func challengeKey(phone string) string {
	return "otp:" + phone
}

func attemptsKey(phone string) string {
	return "otp:" + phone + ":attempts"
}

// Save stores challenge, replacing any outstanding one and resetting its
// attempt counter.
func (r *OTPChallengeRepository) Save(ctx context.Context, challenge *models.OTPChallenge, ttl time.Duration) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to marshal otp challenge: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, challengeKey(challenge.Phone), data, ttl)
		pipe.Del(ctx, attemptsKey(challenge.Phone))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store otp challenge: %w", err)
	}
	return nil
}

func (r *OTPChallengeRepository) Get(ctx context.Context, phone string) (*models.OTPChallenge, error) {
	values, err := r.client.MGet(ctx, challengeKey(phone), attemptsKey(phone)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get otp challenge: %w", err)
	}

	raw, ok := values[0].(string)
	if !ok {
		return nil, models.ErrNotFound
	}

	var challenge models.OTPChallenge
	if err := json.Unmarshal([]byte(raw), &challenge); err != nil {
		return nil, fmt.Errorf("failed to unmarshal otp challenge: %w", err)
	}

	if s, ok := values[1].(string); ok {
		attempts, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid otp attempt counter: %w", err)
		}
		challenge.Attempts = attempts
	}

	return &challenge, nil
}

// IncrementAttempts bumps the failed-attempt counter and returns the new
// value. The counter expires together with the challenge.
func (r *OTPChallengeRepository) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	ttl, err := r.client.PTTL(ctx, challengeKey(phone)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read otp challenge ttl: %w", err)
	}
	if ttl <= 0 {
		return 0, models.ErrNotFound
	}

	var incr *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, attemptsKey(phone))
		pipe.PExpire(ctx, attemptsKey(phone), ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment otp attempts: %w", err)
	}

	return int(incr.Val()), nil
}

func (r *OTPChallengeRepository) Delete(ctx context.Context, phone string) error {
	err := r.client.Del(ctx, challengeKey(phone), attemptsKey(phone)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to delete otp challenge: %w", err)
	}
	return nil
}
