package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/game-shelf/internal/core/domain"
	"github.com/rl1809/game-shelf/internal/port"
)

var _ port.JournalRepository = (*RedisJournal)(nil)

const (
	journalIndexKey    = "journal:ops"
	journalOpPrefix    = "journal:op:"
	journalClaimPrefix = "journal:claim:"
	claimTTL           = 24 * time.Hour
)

var recordScript = redis.NewScript(`
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
return 1
`)

var clearScript = redis.NewScript(`
redis.call('DEL', KEYS[1])
return redis.call('SREM', KEYS[2], ARGV[1])
`)

type journalEntry struct {
	Key           string    `json:"key"`
	Kind          string    `json:"kind"`
	StartedAt     time.Time `json:"started_at"`
	CorrelationID string    `json:"correlation_id"`
}

// RedisJournal keeps in-flight operations in Redis so a restart knows which
// games to reconcile first.
type RedisJournal struct {
	client *redis.Client
	prefix string
}

func NewRedisJournal(client *redis.Client, namespace string) *RedisJournal {
	prefix := ""
	if namespace != "" {
		prefix = namespace + ":"
	}
	return &RedisJournal{client: client, prefix: prefix}
}

func (r *RedisJournal) Record(ctx context.Context, op domain.Operation) error {
	if op.CorrelationID == "" {
		return domain.Invalid("correlation_id", "operation has no correlation id")
	}
	payload, err := json.Marshal(journalEntry{
		Key:           op.Key.String(),
		Kind:          string(op.Kind),
		StartedAt:     op.StartedAt,
		CorrelationID: op.CorrelationID,
	})
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	keys := []string{r.opKey(op.CorrelationID), r.prefix + journalIndexKey}
	if err := recordScript.Run(ctx, r.client, keys, payload, op.CorrelationID).Err(); err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	return nil
}

func (r *RedisJournal) Clear(ctx context.Context, correlationID string) error {
	keys := []string{r.opKey(correlationID), r.prefix + journalIndexKey}
	if err := clearScript.Run(ctx, r.client, keys, correlationID).Err(); err != nil {
		return fmt.Errorf("clear operation: %w", err)
	}
	return nil
}

func (r *RedisJournal) Pending(ctx context.Context) ([]domain.Operation, error) {
	ids, err := r.client.SMembers(ctx, r.prefix+journalIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.opKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	ops := make([]domain.Operation, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		ops = append(ops, domain.Operation{
			Key:           domain.Key(entry.Key),
			Kind:          domain.OperationKind(entry.Kind),
			StartedAt:     entry.StartedAt,
			CorrelationID: entry.CorrelationID,
		})
	}
	return ops, nil
}

func (r *RedisJournal) Claim(ctx context.Context, correlationID string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+journalClaimPrefix+correlationID, 1, claimTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisJournal) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("redis ping: %w", domain.ErrTimeout)
		}
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *RedisJournal) opKey(correlationID string) string {
	return r.prefix + journalOpPrefix + correlationID
}
