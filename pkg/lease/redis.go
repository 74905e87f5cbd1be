package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "lease-leader:"

// RedisConfig holds connection settings for RedisStore.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// redisRecord is the JSON document stored under each lease key.
type redisRecord struct {
	Holder          string    `json:"holder"`
	LeaseDurationMS int64     `json:"lease_duration_ms"`
	AcquiredAt      time.Time `json:"acquired_at"`
	RenewedAt       time.Time `json:"renewed_at"`
	Transitions     int64     `json:"transitions"`
	Version         int64     `json:"version"`
}

// redisGetter is satisfied by both *redis.Client and *redis.Tx.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore stores leases in Redis/Valkey and uses WATCH/MULTI/EXEC as the
// compare-and-swap primitive.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient creates a store with an existing client (for testing).
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.keyPrefix + key.Namespace + ":" + key.Name
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key Key) (*Lease, error) {
	rec, err := readRedisRecord(ctx, s.client, s.redisKey(key))
	if err != nil {
		return nil, err
	}
	return rec.toLease(), nil
}

// CreateOrUpdate implements Store.CreateOrUpdate.
func (s *RedisStore) CreateOrUpdate(ctx context.Context, key Key, observed *Lease, next Lease) (*Lease, error) {
	k := s.redisKey(key)
	var stored *Lease

	txf := func(tx *redis.Tx) error {
		current, err := readRedisRecord(ctx, tx, k)
		missing := errors.Is(err, ErrNotFound)
		if err != nil && !missing {
			return err
		}

		var version int64
		switch {
		case observed == nil && !missing:
			return ErrConflict
		case observed != nil && missing:
			return ErrNotFound
		case observed != nil:
			if strconv.FormatInt(current.Version, 10) != observed.Version {
				return ErrConflict
			}
			version = current.Version
		}

		rec := redisRecord{
			Holder:          next.HolderIdentity,
			LeaseDurationMS: next.LeaseDuration.Milliseconds(),
			AcquiredAt:      next.AcquireTime,
			RenewedAt:       next.RenewTime,
			Transitions:     next.LeaderTransitions,
			Version:         version + 1,
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal lease record: %w", err)
		}

		// TxPipelined wraps in MULTI/EXEC; EXEC aborts if the watched key changed.
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		stored = rec.toLease()
		return nil
	}

	err := s.client.Watch(ctx, txf, k)
	switch {
	case err == nil:
		return stored, nil
	case errors.Is(err, redis.TxFailedErr):
		return nil, ErrConflict
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound), errors.Is(err, ErrUnavailable):
		return nil, err
	default:
		return nil, unavailable("write", err)
	}
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func readRedisRecord(ctx context.Context, c redisGetter, k string) (*redisRecord, error) {
	data, err := c.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", err)
	}

	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease record: %w", err)
	}
	return &rec, nil
}

func (r *redisRecord) toLease() *Lease {
	return &Lease{
		HolderIdentity:    r.Holder,
		LeaseDuration:     time.Duration(r.LeaseDurationMS) * time.Millisecond,
		AcquireTime:       r.AcquiredAt,
		RenewTime:         r.RenewedAt,
		LeaderTransitions: r.Transitions,
		Version:           strconv.FormatInt(r.Version, 10),
	}
}
