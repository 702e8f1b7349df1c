package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// ConsumerHeartbeatInterval is how often a running pool refreshes its
	// liveness key and sweeps claims of dead consumers.
	ConsumerHeartbeatInterval = 10 * time.Second
	// ConsumerTTL: a consumer silent for this long is treated as dead.
	ConsumerTTL = 3 * ConsumerHeartbeatInterval
)

// Queue carries job ids from SubmitJob to the dispatch pool.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error)
	Ack(ctx context.Context, jobID string) error
	// Heartbeat registers the consumer as alive for ConsumerTTL.
	Heartbeat(ctx context.Context) error
	// Leave drops the liveness mark so peers may requeue what is left unacked.
	Leave(ctx context.Context) error
	RequeueStale(ctx context.Context, max int64) (int64, error)
}

// redisQueue is a reliable queue on Redis lists, one processing list per consumer.
// Claim: BRPOPLPUSH queue -> processing:<consumer>
// Ack:   LREM from processing:<consumer>
// A consumer whose alive key has expired (crash) or was deleted (Leave) is
// dead; RequeueStale moves its processing list back to the queue. Lists of
// live consumers are never touched.
type redisQueue struct {
	rdb          redis.UniversalClient
	queueKey     string
	baseKey      string
	consumerID   string
	consumersKey string
}

// NewRedisQueue returns a queue consuming as consumerID. An empty consumerID
// gets a random one; ids must be unique among processes sharing the keys.
func NewRedisQueue(rdb redis.UniversalClient, queueKey, processingKey, consumerID string) Queue {
	if consumerID == "" {
		consumerID = uuid.NewString()
	}
	return &redisQueue{
		rdb:          rdb,
		queueKey:     queueKey,
		baseKey:      processingKey,
		consumerID:   consumerID,
		consumersKey: processingKey + ":consumers",
	}
}

func (q *redisQueue) processingKey(consumer string) string { return q.baseKey + ":" + consumer }

func (q *redisQueue) aliveKey(consumer string) string { return q.baseKey + ":alive:" + consumer }

func (q *redisQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.queueKey, jobID).Err()
}

// ClaimBlocking waits up to timeout for an id; timeout <= 0 waits until ctx is done.
func (q *redisQueue) ClaimBlocking(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout < 0 {
		timeout = 0
	}
	id, err := q.rdb.BRPopLPush(ctx, q.queueKey, q.processingKey(q.consumerID), timeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrQueueEmpty
		}
		return "", err
	}
	return id, nil
}

func (q *redisQueue) Ack(ctx context.Context, jobID string) error {
	return q.rdb.LRem(ctx, q.processingKey(q.consumerID), 1, jobID).Err()
}

func (q *redisQueue) Heartbeat(ctx context.Context) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, q.consumersKey, q.consumerID)
		pipe.Set(ctx, q.aliveKey(q.consumerID), time.Now().UTC().Format(time.RFC3339), ConsumerTTL)
		return nil
	})
	return err
}

func (q *redisQueue) Leave(ctx context.Context) error {
	return q.rdb.Del(ctx, q.aliveKey(q.consumerID)).Err()
}

// RequeueStale moves up to max ids from the processing lists of dead
// consumers back to the queue. A drained dead consumer is forgotten.
func (q *redisQueue) RequeueStale(ctx context.Context, max int64) (int64, error) {
	consumers, err := q.rdb.SMembers(ctx, q.consumersKey).Result()
	if err != nil {
		return 0, err
	}

	var moved int64
	for _, c := range consumers {
		if c == q.consumerID || moved >= max {
			continue
		}
		alive, err := q.rdb.Exists(ctx, q.aliveKey(c)).Result()
		if err != nil {
			return moved, err
		}
		if alive > 0 {
			continue
		}

		drained := false
		for moved < max {
			id, err := q.rdb.RPopLPush(ctx, q.processingKey(c), q.queueKey).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					drained = true
					break
				}
				return moved, err
			}
			if id != "" {
				moved++
			}
		}
		if drained {
			if err := q.rdb.SRem(ctx, q.consumersKey, c).Err(); err != nil {
				return moved, err
			}
		}
	}
	return moved, nil
}
