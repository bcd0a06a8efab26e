package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	client *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

const lastSessionTTL = 30 * 24 * time.Hour

func lastSessionKey(userID uint64) string {
	return fmt.Sprintf("bootstrap:last_session:%d", userID)
}

// LastSession returns the cached last-active session id, or "" when
// none is cached.
func (s *Store) LastSession(ctx context.Context, userID uint64) (string, error) {
	v, err := s.client.Get(ctx, lastSessionKey(userID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	return v, err
}

func (s *Store) SetLastSession(ctx context.Context, userID uint64, sessionID string) error {
	return s.client.Set(ctx, lastSessionKey(userID), sessionID, lastSessionTTL).Err()
}

func (s *Store) ClearLastSession(ctx context.Context, userID uint64) error {
	return s.client.Del(ctx, lastSessionKey(userID)).Err()
}

// Analytics counters maintained by the chat path and the audit worker.

const (
	messagesTotalKey     = "analytics:messages_total"
	moderationTotalKey   = "analytics:moderation_actions_total"
	messagesByDayKeyFmt  = "analytics:messages:%s" // yyyy-mm-dd
	analyticsByDayExpiry = 90 * 24 * time.Hour
)

func (s *Store) IncrMessages(ctx context.Context, n int64) error {
	day := time.Now().UTC().Format("2006-01-02")
	pipe := s.client.Pipeline()
	pipe.IncrBy(ctx, messagesTotalKey, n)
	dayKey := fmt.Sprintf(messagesByDayKeyFmt, day)
	pipe.IncrBy(ctx, dayKey, n)
	pipe.Expire(ctx, dayKey, analyticsByDayExpiry)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) IncrModerationActions(ctx context.Context, n int64) error {
	return s.client.IncrBy(ctx, moderationTotalKey, n).Err()
}

func (s *Store) MessagesTotal(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, messagesTotalKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

func (s *Store) ModerationActionsTotal(ctx context.Context) (int64, error) {
	v, err := s.client.Get(ctx, moderationTotalKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}
