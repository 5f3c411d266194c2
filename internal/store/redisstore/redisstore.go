// Package redisstore implements store.Store on Redis. The native key TTL
// enforces session expiration; optimistic concurrency uses WATCH/MULTI over
// the version token carried inside the serialized record.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/faultmaven/session-service/internal/model"
	"github.com/faultmaven/session-service/internal/sessionkey"
	"github.com/faultmaven/session-service/internal/store"
)

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store is a Redis-backed session store.
type Store struct {
	client *redis.Client
}

var _ store.Store = (*Store)(nil)

// Open connects to Redis and verifies connectivity.
func Open(ctx context.Context, opts Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", model.ErrStoreUnavailable, err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client. The caller owns the client.
func NewWithClient(client *redis.Client) *Store { return &Store{client: client} }

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }

// expiration converts a deadline into a SET expiration argument. Zero
// deadline means the key must not expire.
func expiration(deadline time.Time) (time.Duration, bool) {
	if deadline.IsZero() {
		return 0, true
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0, false
	}
	return d, true
}

func (s *Store) Create(ctx context.Context, sess *model.Session, deadline time.Time) error {
	data, err := sessionkey.Encode(sess)
	if err != nil {
		return err
	}
	ttl, ok := expiration(deadline)
	if !ok {
		return fmt.Errorf("%w: deadline already passed", model.ErrValidation)
	}
	key := sessionkey.Primary(sess.UserID, sess.SessionID)
	set, err := s.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return storeErr("setnx", err)
	}
	if !set {
		return fmt.Errorf("%w: session %s already exists", model.ErrConflict, sess.SessionID)
	}
	if err := s.client.SAdd(ctx, sessionkey.UserIndex(sess.UserID), sess.SessionID).Err(); err != nil {
		return storeErr("sadd", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, userID, sessionID string) (*model.Session, error) {
	val, err := s.client.Get(ctx, sessionkey.Primary(userID, sessionID)).Bytes()
	if err == redis.Nil {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, storeErr("get", err)
	}
	sess, err := sessionkey.Decode(val)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID || sess.SessionID != sessionID {
		return nil, fmt.Errorf("%w: record identity does not match key", model.ErrDecode)
	}
	return sess, nil
}

func (s *Store) Update(ctx context.Context, sess *model.Session, expectedVersion int64, deadline time.Time) error {
	key := sessionkey.Primary(sess.UserID, sess.SessionID)

	txn := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return model.ErrNotFound
		}
		if err != nil {
			return storeErr("get", err)
		}
		current, err := sessionkey.Decode(val)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("%w: version %d, expected %d", model.ErrConflict, current.Version, expectedVersion)
		}

		next := *sess
		next.Version = expectedVersion + 1
		data, err := sessionkey.Encode(&next)
		if err != nil {
			return err
		}
		ttl, ok := expiration(deadline)
		if !ok {
			// Deadline already in the past: the session is due for
			// eviction, so drop it instead of extending its life.
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			return storeErr("del", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		return storeErr("set", err)
	}

	err := s.client.Watch(ctx, txn, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: key modified concurrently", model.ErrConflict)
	}
	return err
}

func (s *Store) Delete(ctx context.Context, userID, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionkey.Primary(userID, sessionID))
	pipe.SRem(ctx, sessionkey.UserIndex(userID), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("delete", err)
	}
	return nil
}

func (s *Store) ListIDs(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, sessionkey.UserIndex(userID)).Result()
	if err != nil {
		return nil, storeErr("smembers", err)
	}
	return ids, nil
}

func (s *Store) PruneIndex(ctx context.Context, userID, sessionID string) error {
	if err := s.client.SRem(ctx, sessionkey.UserIndex(userID), sessionID).Err(); err != nil {
		return storeErr("srem", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return storeErr("ping", err)
	}
	return nil
}

// storeErr maps transport-level failures to model.ErrStoreUnavailable so the
// lifecycle layer can surface a retryable fault. Domain errors pass through.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrConflict) || errors.Is(err, model.ErrDecode) {
		return err
	}
	if errors.Is(err, redis.TxFailedErr) {
		// Surface to Watch's caller, which maps it to model.ErrConflict.
		return err
	}
	return fmt.Errorf("%w: redis %s: %v", model.ErrStoreUnavailable, op, err)
}
