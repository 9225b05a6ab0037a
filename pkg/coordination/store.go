// Package coordination keeps recorder liveness records in a shared redis hash.
// Every mutation runs as an optimistic transaction: WATCH the hash, re-read the
// field, compute, then MULTI/EXEC. A lost race is reported, never retried forever.
package coordination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"recording-orchestrator/constant"
	"recording-orchestrator/entities"
)

// ErrConflict is returned when a concurrent writer touched the hash during the transaction.
var ErrConflict = errors.New("optimistic lock lost")

// ErrMissing is returned when the recorder has no liveness record.
var ErrMissing = errors.New("liveness record missing")

type Config struct {
	Addr     string
	Password string
	DB       int
}

type Store struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

func NewStore(client *redis.Client) *Store {
	return &Store{
		client: client,
		key:    constant.RecorderLivenessKey,
		now:    time.Now,
	}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get returns the liveness record for recorderId.
func (s *Store) Get(ctx context.Context, recorderId string) (*entities.RecorderLiveness, error) {
	raw, err := s.client.HGet(ctx, s.key, recorderId).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMissing
	}
	if err != nil {
		return nil, fmt.Errorf("hget %s: %w", recorderId, err)
	}
	return decode(raw)
}

// All returns every liveness record keyed by recorder id.
func (s *Store) All(ctx context.Context) (map[string]*entities.RecorderLiveness, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	out := make(map[string]*entities.RecorderLiveness, len(fields))
	for id, raw := range fields {
		rec, err := decode(raw)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("recorder_id", id).Msg("skipping unreadable liveness record")
			continue
		}
		out[id] = rec
	}
	return out, nil
}

// Seed writes a fresh available record {maxLimit:1, currentProgress:0}.
func (s *Store) Seed(ctx context.Context, recorderId string) error {
	now := s.now().UnixMilli()
	return s.Update(ctx, recorderId, func(cur *entities.RecorderLiveness) (*entities.RecorderLiveness, error) {
		rec := &entities.RecorderLiveness{MaxLimit: 1, CurrentProgress: 0, LastPing: now, Created: now}
		if cur != nil && cur.Created != 0 {
			rec.Created = cur.Created
		}
		return rec, nil
	})
}

// Ping refreshes lastPing. ErrConflict means another writer won this tick.
func (s *Store) Ping(ctx context.Context, recorderId string) error {
	now := s.now().UnixMilli()
	return s.Update(ctx, recorderId, func(cur *entities.RecorderLiveness) (*entities.RecorderLiveness, error) {
		if cur == nil {
			return nil, ErrMissing
		}
		cur.LastPing = now
		return cur, nil
	})
}

// SetProgress records how much work the recorder currently carries.
func (s *Store) SetProgress(ctx context.Context, recorderId string, progress int) error {
	return s.Update(ctx, recorderId, func(cur *entities.RecorderLiveness) (*entities.RecorderLiveness, error) {
		if cur == nil {
			return nil, ErrMissing
		}
		cur.CurrentProgress = progress
		return cur, nil
	})
}

func (s *Store) Remove(ctx context.Context, recorderId string) error {
	return s.client.HDel(ctx, s.key, recorderId).Err()
}

// Update applies fn to the current record inside a WATCH/MULTI transaction.
// fn receives nil when the field does not exist yet.
func (s *Store) Update(ctx context.Context, recorderId string, fn func(cur *entities.RecorderLiveness) (*entities.RecorderLiveness, error)) error {
	txf := func(tx *redis.Tx) error {
		var cur *entities.RecorderLiveness
		raw, err := tx.HGet(ctx, s.key, recorderId).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, err = decode(raw); err != nil {
				return err
			}
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, recorderId, data)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, s.key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func decode(raw string) (*entities.RecorderLiveness, error) {
	rec := &entities.RecorderLiveness{}
	if err := json.Unmarshal([]byte(raw), rec); err != nil {
		return nil, fmt.Errorf("decode liveness record: %w", err)
	}
	return rec, nil
}
