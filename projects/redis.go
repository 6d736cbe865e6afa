package projects

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig is the connection used by RedisStore.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps each project as a JSON string, an index sorted set per
// user scored by creation time, and a pub/sub channel per user that is
// notified after every write.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewRedisClient connects and pings the server.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

func NewRedisStore(rdb *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "webforge"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rdb: rdb, prefix: prefix, logger: logger.Named("redis"), now: time.Now}
}

func (s *RedisStore) indexKey(uid string) string {
	return fmt.Sprintf("%s:users:%s:projects", s.prefix, uid)
}

func (s *RedisStore) docKey(uid, id string) string {
	return fmt.Sprintf("%s:users:%s:project:%s", s.prefix, uid, id)
}

func (s *RedisStore) channel(uid string) string {
	return fmt.Sprintf("%s:users:%s:projects:changed", s.prefix, uid)
}

func (s *RedisStore) Create(ctx context.Context, uid string, p Project) (Project, error) {
	p.ID = uuid.NewString()
	p.CreatedAt = s.now().UTC()
	p.UpdatedAt = time.Time{}
	data, err := json.Marshal(p)
	if err != nil {
		return Project{}, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(uid, p.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(uid), redis.Z{Score: float64(p.CreatedAt.UnixNano()), Member: p.ID})
		pipe.Publish(ctx, s.channel(uid), p.ID)
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *RedisStore) Update(ctx context.Context, uid string, p Project) (Project, error) {
	raw, err := s.rdb.Get(ctx, s.docKey(uid, p.ID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Project{}, ErrNotFound
		}
		return Project{}, err
	}
	var old Project
	if err := json.Unmarshal(raw, &old); err != nil {
		return Project{}, fmt.Errorf("decode project %s: %w", p.ID, err)
	}
	p.CreatedAt = old.CreatedAt
	p.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return Project{}, err
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.docKey(uid, p.ID), data, 0)
		pipe.Publish(ctx, s.channel(uid), p.ID)
		return nil
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

func (s *RedisStore) Delete(ctx context.Context, uid, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.docKey(uid, id))
		pipe.ZRem(ctx, s.indexKey(uid), id)
		pipe.Publish(ctx, s.channel(uid), id)
		return nil
	})
	return err
}

// SubscribeAll listens on the user's change channel and reloads the full
// list after every notification.
func (s *RedisStore) SubscribeAll(ctx context.Context, uid string) (<-chan Snapshot, error) {
	pubsub := s.rdb.Subscribe(ctx, s.channel(uid))
	// Wait for the subscription so no write after this call is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe projects: %w", err)
	}
	first, err := s.list(ctx, uid)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Snapshot, 1)
	out <- Snapshot{Projects: first}
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				list, err := s.list(ctx, uid)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					s.logger.Error("reload projects failed", zap.String("uid", uid), zap.Error(err))
					sendLatest(ctx, out, Snapshot{Err: err})
					return
				}
				sendLatest(ctx, out, Snapshot{Projects: list})
			}
		}
	}()
	return out, nil
}

func (s *RedisStore) list(ctx context.Context, uid string) ([]Project, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.indexKey(uid), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Project{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.docKey(uid, id)
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	list := make([]Project, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var p Project
		if err := json.Unmarshal([]byte(str), &p); err != nil {
			s.logger.Warn("skip undecodable project", zap.String("project_id", ids[i]), zap.Error(err))
			continue
		}
		list = append(list, p)
	}
	return list, nil
}
