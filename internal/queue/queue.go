// Package queue implements a small Redis-backed job queue with delayed
// delivery and singleton jobs. Delayed jobs sit in a sorted set keyed by due
// time and are promoted into a ready list by a periodic Lua sweep; singleton
// jobs take a NX guard key so a second enqueue under the same unique id is a
// no-op until the first completes. Delivery is at-least-once, so every
// handler must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Job names used across the service.
const (
	JobPersistSnapshot = "persist-snapshot"
	JobSettleHand      = "settle-hand"
	JobArchiveHand     = "archive-hand"
	JobNextHand        = "next-hand"
	JobPlayerTimeout   = "player-timeout"
)

// Job is a dequeued unit of work.
type Job struct {
	ID       string
	Name     string
	Payload  json.RawMessage
	Attempts int
	UniqueID string
	Repeat   time.Duration
}

// Options tune a single enqueue.
type Options struct {
	// Delay defers delivery. Zero means deliver as soon as a worker is free.
	Delay time.Duration
	// UniqueID makes the job a singleton: while a job with this id is
	// pending, delayed or running, further enqueues are dropped.
	UniqueID string
	// RepeatEvery re-enqueues the job with this delay after each successful
	// run.
	RepeatEvery time.Duration
}

type Queue struct {
	rdb  redis.UniversalClient
	name string
	log  *zap.Logger
}

func New(rdb redis.UniversalClient, name string, log *zap.Logger) *Queue {
	return &Queue{rdb: rdb, name: name, log: log}
}

func (q *Queue) readyKey() string   { return "q:" + q.name + ":ready" }
func (q *Queue) delayedKey() string { return "q:" + q.name + ":delayed" }
func (q *Queue) activeKey() string  { return "q:" + q.name + ":active" }

func (q *Queue) jobKey(id string) string     { return "q:" + q.name + ":job:" + id }
func (q *Queue) uniqueKey(uid string) string { return "q:" + q.name + ":unique:" + uid }
func (q *Queue) leaseKey(id string) string   { return "q:" + q.name + ":lease:" + id }

// uniqueGuardTTL bounds how long a crashed job can suppress re-enqueues.
const uniqueGuardTTL = 24 * time.Hour

// activeLeaseTTL is how long a dequeued job may run before the reclaimer
// treats its consumer as dead and redelivers. Handlers are idempotent, so an
// occasional double delivery is safe.
const activeLeaseTTL = time.Minute

// Enqueue schedules one job. Returns the job id, or "" when a singleton
// enqueue was dropped because the unique id is already held.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any, opts Options) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode %s payload: %w", name, err)
	}
	id := uuid.NewString()

	if opts.UniqueID != "" {
		ok, err := q.rdb.SetNX(ctx, q.uniqueKey(opts.UniqueID), id, uniqueGuardTTL).Result()
		if err != nil {
			return "", fmt.Errorf("enqueue %s unique guard: %w", name, err)
		}
		if !ok {
			return "", nil
		}
	}

	fields := map[string]any{
		"name":     name,
		"payload":  string(raw),
		"attempts": 0,
		"uniqueId": opts.UniqueID,
		"repeatMs": opts.RepeatEvery.Milliseconds(),
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.jobKey(id), fields)
	pipe.Expire(ctx, q.jobKey(id), uniqueGuardTTL+opts.Delay)
	if opts.Delay > 0 {
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{
			Score:  float64(time.Now().Add(opts.Delay).UnixMilli()),
			Member: id,
		})
	} else {
		pipe.LPush(ctx, q.readyKey(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		// Release the guard so the failed enqueue does not suppress the next
		// attempt for a day.
		if opts.UniqueID != "" {
			q.rdb.Del(ctx, q.uniqueKey(opts.UniqueID))
		}
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}
	return id, nil
}

// promoteScript moves every due member of the delayed set into the ready
// list. Bounded per sweep to keep the script short.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 128)
for i = 1, #due do
  redis.call('ZREM', KEYS[1], due[i])
  redis.call('LPUSH', KEYS[2], due[i])
end
return #due
`)

func (q *Queue) promote(ctx context.Context) (int64, error) {
	return promoteScript.Run(ctx, q.rdb,
		[]string{q.delayedKey(), q.readyKey()},
		time.Now().UnixMilli(),
	).Int64()
}

// dequeue blocks up to timeout for the next ready job, moving it into the
// active list until finish is called. The job holds a lease while active;
// when the lease is gone without a finish, the reclaimer redelivers it.
func (q *Queue) dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	id, err := q.rdb.BLMove(ctx, q.readyKey(), q.activeKey(), "RIGHT", "LEFT", timeout).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if err := q.rdb.Set(ctx, q.leaseKey(id), "1", activeLeaseTTL).Err(); err != nil {
		q.log.Warn("job lease set failed", zap.String("job", id), zap.Error(err))
	}
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}
	if len(fields) == 0 {
		// Job body expired out from under its id; drop the orphan.
		q.rdb.LRem(ctx, q.activeKey(), 1, id)
		return nil, nil
	}
	job := &Job{
		ID:       id,
		Name:     fields["name"],
		Payload:  json.RawMessage(fields["payload"]),
		UniqueID: fields["uniqueId"],
	}
	fmt.Sscanf(fields["attempts"], "%d", &job.Attempts)
	var repeatMs int64
	fmt.Sscanf(fields["repeatMs"], "%d", &repeatMs)
	job.Repeat = time.Duration(repeatMs) * time.Millisecond
	return job, nil
}

// finish removes the job from the active list and releases its body, lease
// and singleton guard.
func (q *Queue) finish(ctx context.Context, job *Job) {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, job.ID)
	pipe.Del(ctx, q.jobKey(job.ID))
	pipe.Del(ctx, q.leaseKey(job.ID))
	if job.UniqueID != "" {
		pipe.Del(ctx, q.uniqueKey(job.UniqueID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Warn("job cleanup failed", zap.String("job", job.ID), zap.Error(err))
	}
}

// retry reschedules a failed job with the given delay, keeping the singleton
// guard held.
func (q *Queue) retry(ctx context.Context, job *Job, delay time.Duration) {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.activeKey(), 1, job.ID)
	pipe.Del(ctx, q.leaseKey(job.ID))
	pipe.HSet(ctx, q.jobKey(job.ID), "attempts", job.Attempts+1)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: job.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Warn("job retry reschedule failed", zap.String("job", job.ID), zap.Error(err))
	}
}

// reclaimScript moves one leaseless active job back to the ready list; jobs
// whose body is gone are dropped outright.
var reclaimScript = redis.NewScript(`
if redis.call('LREM', KEYS[1], 1, ARGV[1]) == 0 then
  return 0
end
if redis.call('EXISTS', KEYS[3]) == 0 then
  return 0
end
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// reclaim redelivers active jobs whose lease has expired. A missing lease
// means the consumer died between dequeue and finish; without this the job
// is lost and its singleton guard blocks a replacement for a day.
func (q *Queue) reclaim(ctx context.Context) (int, error) {
	ids, err := q.rdb.LRange(ctx, q.activeKey(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan active jobs: %w", err)
	}
	moved := 0
	for _, id := range ids {
		held, err := q.rdb.Exists(ctx, q.leaseKey(id)).Result()
		if err != nil {
			return moved, fmt.Errorf("check lease %s: %w", id, err)
		}
		if held > 0 {
			continue
		}
		n, err := reclaimScript.Run(ctx, q.rdb,
			[]string{q.activeKey(), q.readyKey(), q.jobKey(id)}, id).Int64()
		if err != nil {
			return moved, fmt.Errorf("reclaim %s: %w", id, err)
		}
		if n > 0 {
			moved++
		}
	}
	return moved, nil
}
