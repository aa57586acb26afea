package lease

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// Redis expires keys on its own, so "expired" is simply "absent".
var acquireScript = redis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder == false or holder == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps leases as keys with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	clock  func() time.Time
}

// NewRedisStore creates a RedisStore. Keys are prefix + lease name.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, clock: time.Now}
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

func (s *RedisStore) AcquireLease(ctx context.Context, name, token string, now, until time.Time) (bool, error) {
	ttl := until.Sub(now).Milliseconds()
	if ttl <= 0 {
		return false, errors.Newf("lease %s: non-positive ttl", name)
	}
	n, err := acquireScript.Run(ctx, s.client, []string{s.key(name)}, token, ttl).Int()
	if err != nil {
		return false, errors.Wrap(err, "redis: acquire lease")
	}
	return n == 1, nil
}

func (s *RedisStore) ReleaseLease(ctx context.Context, name, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{s.key(name)}, token).Int()
	if err != nil {
		return false, errors.Wrap(err, "redis: release lease")
	}
	return n == 1, nil
}

func (s *RedisStore) GetLease(ctx context.Context, name string) (domain.SchedulerLock, bool, error) {
	pipe := s.client.Pipeline()
	get := pipe.Get(ctx, s.key(name))
	ttl := pipe.PTTL(ctx, s.key(name))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return domain.SchedulerLock{}, false, errors.Wrap(err, "redis: get lease")
	}
	token, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return domain.SchedulerLock{}, false, nil
	}
	if err != nil {
		return domain.SchedulerLock{}, false, errors.Wrap(err, "redis: get lease")
	}
	now := s.clock().UTC()
	lock := domain.SchedulerLock{Name: name, OwnerToken: token, UpdatedAt: now}
	if d := ttl.Val(); d > 0 {
		lock.LockedUntil = domain.TimePtr(now.Add(d))
	}
	return lock, true, nil
}
