package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultLedgerTTL covers Stripe's automatic redelivery window for a
// single event with margin.
const DefaultLedgerTTL = 72 * time.Hour

const ledgerKeyPrefix = "aptix:stripe_event:"

// EventLedger records Stripe event IDs that were applied successfully, so a
// redelivery can be answered without touching the profile store again.
type EventLedger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// RedisLedger is an EventLedger backed by Redis keys with a TTL.
type RedisLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLedger creates a RedisLedger. A non-positive ttl uses DefaultLedgerTTL.
func NewRedisLedger(client redis.UniversalClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultLedgerTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func ledgerKey(eventID string) string {
	return ledgerKeyPrefix + eventID
}

func (l *RedisLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := l.client.Exists(ctx, ledgerKey(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("ledger lookup %s: %w", eventID, err)
	}
	return n > 0, nil
}

func (l *RedisLedger) Mark(ctx context.Context, eventID string) error {
	if err := l.client.SetNX(ctx, ledgerKey(eventID), time.Now().Unix(), l.ttl).Err(); err != nil {
		return fmt.Errorf("ledger mark %s: %w", eventID, err)
	}
	return nil
}

// NopLedger never reports an event as seen.
type NopLedger struct{}

func (NopLedger) Seen(context.Context, string) (bool, error) { return false, nil }
func (NopLedger) Mark(context.Context, string) error         { return nil }

// ErrRedisNotReady is returned when Redis does not answer PING in time.
var ErrRedisNotReady = errors.New("redis is not ready")

// ConnectRedis parses a redis:// URL and pings the server, retrying until
// attempts are exhausted or ctx is done.
func ConnectRedis(ctx context.Context, url string, attempts int, interval time.Duration) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if attempts < 1 {
		attempts = 1
	}

	for range attempts {
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		_ = client.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(interval):
		}
	}
	return nil, ErrRedisNotReady
}
