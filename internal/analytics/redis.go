// Package analytics keeps per-project run counters in Redis, bucketed by
// minute and hour, fed from the run-event bus.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

const (
	DefaultPrefix    = "automation:runs:"
	DefaultRetention = 7 * 24 * time.Hour
)

// Windows are the bucket widths every event is counted into.
var Windows = []time.Duration{time.Minute, time.Hour}

type RedisSink struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewRedisSink(client redis.UniversalClient) *RedisSink {
	return &RedisSink{client: client, prefix: DefaultPrefix, retention: DefaultRetention}
}

func (s *RedisSink) WithPrefix(prefix string) *RedisSink {
	s.prefix = prefix
	return s
}

func (s *RedisSink) WithRetention(d time.Duration) *RedisSink {
	if d > 0 {
		s.retention = d
	}
	return s
}

// Record counts one finished run in every window, for the project and for
// the job, and tracks dead-lettering separately.
func (s *RedisSink) Record(ctx context.Context, event domain.RunEvent) error {
	status := string(event.Status)
	pipe := s.client.Pipeline()
	for _, w := range Windows {
		for _, key := range []string{
			s.projectKey(event.ProjectID, status, event.FinishedAt, w),
			s.jobKey(event.ProjectID, event.JobID, status, event.FinishedAt, w),
		} {
			pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, s.retention)
		}
		if event.DeadLettered {
			key := s.projectKey(event.ProjectID, "DEAD_LETTERED", event.FinishedAt, w)
			pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, s.retention)
		}
	}
	durKey := s.prefix + "p:" + event.ProjectID.String() + ":duration_ms:" + truncateToBucket(event.FinishedAt, time.Hour)
	pipe.IncrBy(ctx, durKey, event.Duration.Milliseconds())
	pipe.Expire(ctx, durKey, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "redis pipeline")
	}
	return nil
}

// Bucket is one counter value.
type Bucket struct {
	Start time.Time
	Count int64
}

// ProjectSeries returns counts for status in window-wide buckets covering
// [from, to). Missing buckets count zero.
func (s *RedisSink) ProjectSeries(ctx context.Context, projectID uuid.UUID, status string, window time.Duration, from, to time.Time) ([]Bucket, error) {
	if !validWindow(window) {
		return nil, errors.Newf("unsupported window %s", window)
	}
	var (
		starts []time.Time
		keys   []string
	)
	for t := from.UTC().Truncate(window); t.Before(to); t = t.Add(window) {
		starts = append(starts, t)
		keys = append(keys, s.projectKey(projectID, status, t, window))
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis mget")
	}
	out := make([]Bucket, len(starts))
	for i, v := range vals {
		out[i].Start = starts[i]
		if str, ok := v.(string); ok {
			n, err := strconv.ParseInt(str, 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "parse counter %s", keys[i])
			}
			out[i].Count = n
		}
	}
	return out, nil
}

func (s *RedisSink) projectKey(projectID uuid.UUID, status string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("%sp:%s:%s:%s", s.prefix, projectID, status, truncateToBucket(t, window))
}

func (s *RedisSink) jobKey(projectID, jobID uuid.UUID, status string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("%sp:%s:j:%s:%s:%s", s.prefix, projectID, jobID, status, truncateToBucket(t, window))
}

func validWindow(w time.Duration) bool {
	for _, v := range Windows {
		if v == w {
			return true
		}
	}
	return false
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
