package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKey = "dispatch:pending"
	leasedKey  = "dispatch:leased"
)

// claimScript atomically moves the earliest due ticket from the pending set
// to the lease set. Deferred visibility lives in the pending score (the
// ready time); a ticket scheduled with a delay simply is not "due" yet.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #due == 0 then return false end
redis.call('ZREM', KEYS[1], due[1])
redis.call('ZADD', KEYS[2], ARGV[2], due[1])
return due[1]
`)

// reapScript moves expired leases back to the pending set so that tickets
// held by a crashed worker become eligible again (at-least-once delivery).
var reapScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, m in ipairs(expired) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('ZADD', KEYS[2], ARGV[1], m)
end
return #expired
`)

// Lease is a claimed ticket plus the raw queue member needed to acknowledge
// it. Leases are created by Claim and consumed by Ack.
type Lease struct {
	Ticket Ticket
	raw    string
}

// RedisQueue is a delayed-visibility work queue on two Redis sorted sets:
// pending (scored by ready time) and leased (scored by lease expiry). All
// mutations are single Lua calls, so concurrent workers never double-claim.
type RedisQueue struct {
	rdb      *redis.Client
	leaseTTL time.Duration

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewRedisQueue builds a queue on the given client. leaseTTL bounds how long
// a claimed ticket stays invisible before the reaper requeues it; it must
// exceed the per-job execution timeout.
func NewRedisQueue(rdb *redis.Client, leaseTTL time.Duration) *RedisQueue {
	return &RedisQueue{rdb: rdb, leaseTTL: leaseTTL, now: time.Now}
}

// Schedule enqueues a ticket that becomes visible to workers after delay.
// A non-positive delay makes it immediately claimable.
func (q *RedisQueue) Schedule(ctx context.Context, t Ticket, delay time.Duration) error {
	member, err := t.encode()
	if err != nil {
		return fmt.Errorf("encode ticket: %w", err)
	}
	readyAt := q.now().Add(delay)
	err = q.rdb.ZAdd(ctx, pendingKey, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule ticket: %w", err)
	}
	ticketsScheduled.Inc()
	return nil
}

// Claim atomically takes one due ticket, if any. The returned lease expires
// after the configured lease TTL unless acknowledged first.
func (q *RedisQueue) Claim(ctx context.Context) (*Lease, error) {
	now := q.now()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{pendingKey, leasedKey},
		now.UnixMilli(),
		now.Add(q.leaseTTL).UnixMilli(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim ticket: %w", err)
	}
	raw, ok := res.(string)
	if !ok {
		return nil, nil
	}
	t, err := decodeTicket(raw)
	if err != nil {
		// Poison member: drop it so it cannot wedge the queue.
		_ = q.rdb.ZRem(ctx, leasedKey, raw).Err()
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	ticketsClaimed.Inc()
	return &Lease{Ticket: t, raw: raw}, nil
}

// Ack removes a completed lease. Acking an already-reaped lease is harmless;
// the re-run it allows is a no-op at the processor.
func (q *RedisQueue) Ack(ctx context.Context, l *Lease) error {
	return q.rdb.ZRem(ctx, leasedKey, l.raw).Err()
}

// Reap requeues expired leases and returns how many were recovered.
func (q *RedisQueue) Reap(ctx context.Context) (int, error) {
	n, err := reapScript.Run(ctx, q.rdb, []string{leasedKey, pendingKey}, q.now().UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("reap leases: %w", err)
	}
	if n > 0 {
		ticketsRequeued.Add(float64(n))
	}
	return n, nil
}

// Depth reports the number of pending (not yet claimed) tickets.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.ZCard(ctx, pendingKey).Result()
}
