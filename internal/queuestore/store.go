// Package queuestore implements the priority queue, callback schedule, and
// supplier-exclusion interlock on top of Redis sorted sets and sets. All
// cross-structure moves are single Lua scripts so they are atomic against
// concurrent dispatcher/callback-scheduler workers, in the style of
// internal/common/leader's check-and-extend/check-and-delete scripts.
package queuestore

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"go.poresolve.tech/internal/common/metrics"
)

// Key families, all under a common prefix so the store can share a Redis
// instance with other uses without collision.
const (
	KeyPrimary    = "poresolve:queue:primary"
	KeyCallbacks  = "poresolve:queue:callbacks"
	KeyProcessing = "poresolve:queue:processing"
	KeySuppliers  = "poresolve:suppliers:inflight"
)

// Store wraps a Redis client with the queue operations required by the
// dispatcher, callback scheduler, and batch builder.
type Store struct {
	client *redis.Client
}

// New creates a queue store over the given Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Enqueue adds a batch to the primary queue at the given score. Per spec
// §4.2, score is -totalValue so ZPOPMIN yields the highest-value batch.
func (s *Store) Enqueue(ctx context.Context, batchID string, score float64) error {
	if err := s.client.ZAdd(ctx, KeyPrimary, redis.Z{Score: score, Member: batchID}).Err(); err != nil {
		return err
	}
	metrics.QueueStoreEnqueued.WithLabelValues("primary").Inc()
	return nil
}

// popMinScript atomically pops the lowest-score member of the primary
// queue and moves it into the processing set, scored by acquisition time.
var popMinScript = redis.NewScript(`
	local popped = redis.call("ZPOPMIN", KEYS[1])
	if #popped == 0 then
		return false
	end
	local member = popped[1]
	redis.call("ZADD", KEYS[2], ARGV[1], member)
	return member
`)

// PopMin pops the highest-priority batch from the primary queue and moves
// it to the processing set. Returns ("", false, nil) when the queue is empty.
func (s *Store) PopMin(ctx context.Context) (string, bool, error) {
	res, err := popMinScript.Run(ctx, s.client, []string{KeyPrimary, KeyProcessing}, nowMillis()).Result()
	if err != nil {
		return "", false, err
	}
	member, ok := res.(string)
	if !ok {
		return "", false, nil
	}
	metrics.QueueStoreEnqueued.WithLabelValues("processing").Inc()
	return member, true, nil
}

// Peek returns up to n members of the primary queue in priority order
// without removing them.
func (s *Store) Peek(ctx context.Context, n int64) ([]string, error) {
	return s.client.ZRange(ctx, KeyPrimary, 0, n-1).Result()
}

// ScheduleCallback adds a batch to the callback structure scored by its
// scheduled time as a millisecond epoch.
func (s *Store) ScheduleCallback(ctx context.Context, batchID string, at time.Time) error {
	if err := s.client.ZAdd(ctx, KeyCallbacks, redis.Z{Score: float64(at.UnixMilli()), Member: batchID}).Err(); err != nil {
		return err
	}
	metrics.QueueStoreEnqueued.WithLabelValues("callback").Inc()
	return nil
}

// DueCallbacks returns callback-structure members with score <= now, up to
// limit, without removing them. The callback scheduler atomically migrates
// each via MigrateCallback after validating the batch is still QUEUED.
func (s *Store) DueCallbacks(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	return s.client.ZRangeByScore(ctx, KeyCallbacks, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   floatString(float64(now.UnixMilli())),
		Count: limit,
	}).Result()
}

// migrateCallbackScript atomically removes a member from the callback
// structure and, if requeue is truthy, re-adds it to the primary queue at
// the given score.
var migrateCallbackScript = redis.NewScript(`
	local removed = redis.call("ZREM", KEYS[1], ARGV[1])
	if removed == 0 then
		return 0
	end
	if ARGV[2] == "1" then
		redis.call("ZADD", KEYS[2], ARGV[3], ARGV[1])
	end
	return 1
`)

// MigrateCallback removes batchID from the callback structure. If requeue
// is true it is re-added to the primary queue with score. Used by the
// callback scheduler: requeue=true when the batch is still QUEUED,
// requeue=false to drop a stale callback without re-queuing (spec §4.8).
func (s *Store) MigrateCallback(ctx context.Context, batchID string, requeue bool, score float64) (bool, error) {
	flag := "0"
	if requeue {
		flag = "1"
	}
	res, err := migrateCallbackScript.Run(ctx, s.client, []string{KeyCallbacks, KeyPrimary}, batchID, flag, score).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

// Complete removes a batch from the processing set.
func (s *Store) Complete(ctx context.Context, batchID string) error {
	return s.client.ZRem(ctx, KeyProcessing, batchID).Err()
}

// requeueScript atomically removes a batch from processing and re-adds it
// to the primary queue at the given score.
var requeueScript = redis.NewScript(`
	redis.call("ZREM", KEYS[1], ARGV[1])
	redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
	return 1
`)

// Requeue moves a batch from the processing set back to the primary queue
// at the given score (e.g. after a failed dispatch trigger or a stale
// recovery; supplier contention goes through ScheduleCallback instead).
func (s *Store) Requeue(ctx context.Context, batchID string, score float64) error {
	_, err := requeueScript.Run(ctx, s.client, []string{KeyProcessing, KeyPrimary}, batchID, score).Result()
	return err
}

// claimSupplierScript is an atomic add-if-absent against the
// supplier-exclusion set.
var claimSupplierScript = redis.NewScript(`
	local added = redis.call("SADD", KEYS[1], ARGV[1])
	return added
`)

// ClaimSupplier returns true iff the supplier was not already in an
// in-flight call and is now claimed by the caller.
func (s *Store) ClaimSupplier(ctx context.Context, supplierID string) (bool, error) {
	res, err := claimSupplierScript.Run(ctx, s.client, []string{KeySuppliers}, supplierID).Int()
	if err != nil {
		return false, err
	}
	claimed := res == 1
	if claimed {
		metrics.QueueStoreSupplierExclusions.Inc()
	}
	return claimed, nil
}

// ReleaseSupplier removes a supplier from the in-flight set. Must be
// called exactly once per terminal transition or callback (spec §5).
func (s *Store) ReleaseSupplier(ctx context.Context, supplierID string) error {
	removed, err := s.client.SRem(ctx, KeySuppliers, supplierID).Result()
	if err != nil {
		return err
	}
	if removed > 0 {
		metrics.QueueStoreSupplierExclusions.Dec()
	}
	return nil
}

// IsSupplierClaimed reports whether a supplier currently has an in-flight
// call, for diagnostics and stats.
func (s *Store) IsSupplierClaimed(ctx context.Context, supplierID string) (bool, error) {
	return s.client.SIsMember(ctx, KeySuppliers, supplierID).Result()
}

// Reset clears all four queue structures. Used by the operator /reset
// endpoint (spec §6).
func (s *Store) Reset(ctx context.Context) error {
	return s.client.Del(ctx, KeyPrimary, KeyCallbacks, KeyProcessing, KeySuppliers).Err()
}

// RefreshDepthMetrics samples the size of each sorted-set structure into
// QueueStoreDepth. Intended to be called periodically by the dispatcher
// poll loop rather than on every operation.
func (s *Store) RefreshDepthMetrics(ctx context.Context) error {
	primary, err := s.client.ZCard(ctx, KeyPrimary).Result()
	if err != nil {
		return err
	}
	callbacks, err := s.client.ZCard(ctx, KeyCallbacks).Result()
	if err != nil {
		return err
	}
	processing, err := s.client.ZCard(ctx, KeyProcessing).Result()
	if err != nil {
		return err
	}
	metrics.QueueStoreDepth.WithLabelValues("primary").Set(float64(primary))
	metrics.QueueStoreDepth.WithLabelValues("callback").Set(float64(callbacks))
	metrics.QueueStoreDepth.WithLabelValues("processing").Set(float64(processing))
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

func floatString(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
