package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nao1215/linkscout/internal/model"
)

// DefaultRedisPrefix namespaces every key the Redis store writes.
const DefaultRedisPrefix = "linkscout:"

// maxRedisSessions bounds the history list kept per site.
const maxRedisSessions = 100

// redisClient is the subset of *redis.Client the store uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Close() error
}

// RedisStore keeps checkpoints and history as JSON values in Redis.
type RedisStore struct {
	client redisClient
	prefix string
	ttl    time.Duration
}

// OpenRedis connects to the Redis server at url (redis://host:port/db).
func OpenRedis(ctx context.Context, url string, ttl time.Duration) (Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedisStore(client, DefaultRedisPrefix, ttl), nil
}

func newRedisStore(client redisClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) checkpointKey(site string) string {
	return s.prefix + "checkpoint:" + SiteKey(site)
}

func (s *RedisStore) sessionsKey(siteKey string) string {
	return s.prefix + "sessions:" + siteKey
}

func (s *RedisStore) sitesKey() string {
	return s.prefix + "sites"
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SaveCheckpoint writes the checkpoint as one JSON value.
func (s *RedisStore) SaveCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	if cp.Site == "" {
		return ErrEmptySite
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.checkpointKey(cp.Site), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint of site.
func (s *RedisStore) LoadCheckpoint(ctx context.Context, site string) (*model.Checkpoint, error) {
	val, err := s.client.Get(ctx, s.checkpointKey(site)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var cp model.Checkpoint
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	return &cp, nil
}

// DeleteCheckpoint removes the checkpoint of site.
func (s *RedisStore) DeleteCheckpoint(ctx context.Context, site string) error {
	if err := s.client.Del(ctx, s.checkpointKey(site)).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// SaveSession prepends the summary to the site's history list.
func (s *RedisStore) SaveSession(ctx context.Context, summary *model.CrawlSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	siteKey := SiteKey(summary.Site)
	key := s.sessionsKey(siteKey)

	if err := s.client.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.client.LTrim(ctx, key, 0, maxRedisSessions-1).Err(); err != nil {
		return fmt.Errorf("failed to trim history: %w", err)
	}
	if err := s.client.SAdd(ctx, s.sitesKey(), siteKey).Err(); err != nil {
		return fmt.Errorf("failed to index site: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("failed to set history ttl: %w", err)
		}
	}
	return nil
}

// ListSessions reads the history lists, newest first. Entries with a
// repeated session id keep only the newest copy.
func (s *RedisStore) ListSessions(ctx context.Context, site string, limit int) ([]model.CrawlSummary, error) {
	var siteKeys []string
	if site != "" {
		siteKeys = []string{SiteKey(site)}
	} else {
		members, err := s.client.SMembers(ctx, s.sitesKey()).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list sites: %w", err)
		}
		siteKeys = members
	}

	seen := make(map[string]bool)
	var results []model.CrawlSummary
	for _, siteKey := range siteKeys {
		vals, err := s.client.LRange(ctx, s.sessionsKey(siteKey), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		for _, val := range vals {
			var sum model.CrawlSummary
			if err := json.Unmarshal([]byte(val), &sum); err != nil {
				return nil, fmt.Errorf("failed to deserialize session: %w", err)
			}
			if seen[sum.SessionID] {
				continue
			}
			seen[sum.SessionID] = true
			results = append(results, sum)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].StartedAt.After(results[j].StartedAt)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
