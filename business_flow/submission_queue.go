package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/amirphl/Pythia/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	queueIndexKey         = "submission:queue"
	queuePayloadKeyPrefix = "submission:queue:payload:"
)

// QueuedSubmission is the overflow record buffered when admission is denied
// but the submission is not rejected outright.
type QueuedSubmission struct {
	Token             string    `json:"token"`
	IdentityKey       string    `json:"identity_key"`
	OriginFingerprint string    `json:"origin_fingerprint"`
	ClientToken       string    `json:"client_token"`
	PredictedDate     string    `json:"predicted_date"`
	RequestID         string    `json:"request_id,omitempty"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
	TTLDeadline       time.Time `json:"ttl_deadline"`
}

// SubmissionQueue is the durable FIFO overflow buffer. Delivery into the
// coordinator is at-least-once: consumers process first and Ack after, and the
// coordinator's idempotence absorbs redelivery.
type SubmissionQueue interface {
	// Enqueue buffers a submission and returns its queue token.
	Enqueue(ctx context.Context, payload QueuedSubmission) (string, error)
	// Drain returns up to maxBatch unexpired submissions, oldest first,
	// without removing them.
	Drain(ctx context.Context, maxBatch int64) ([]QueuedSubmission, error)
	// Ack removes a processed submission so a retried drain cannot
	// redeliver it.
	Ack(ctx context.Context, token string) error
	// Depth reports the number of buffered submissions, expired included.
	Depth(ctx context.Context) (int64, error)
}

// RedisSubmissionQueue stores the FIFO order in a sorted set scored by enqueue
// time and each payload under its own key with a native 24h expiry, so TTL
// enforcement needs no sweep job. Tokens combine the enqueue timestamp with a
// random component, giving a monotonically increasing key without a sequence.
type RedisSubmissionQueue struct {
	rc  redis.Cmdable
	now func() time.Time
}

// NewRedisSubmissionQueue creates a redis-backed submission queue
func NewRedisSubmissionQueue(rc redis.Cmdable) *RedisSubmissionQueue {
	return &RedisSubmissionQueue{
		rc:  rc,
		now: utils.UTCNow,
	}
}

// Enqueue buffers a submission and returns the assigned queue token
func (q *RedisSubmissionQueue) Enqueue(ctx context.Context, payload QueuedSubmission) (string, error) {
	enqueuedAt := q.now()
	payload.Token = fmt.Sprintf("%d-%s", enqueuedAt.UnixNano(), uuid.New().String())
	payload.EnqueuedAt = enqueuedAt
	payload.TTLDeadline = enqueuedAt.Add(utils.QueueTTL)

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode queued submission: %w", err)
	}

	if err := q.rc.Set(ctx, queuePayloadKeyPrefix+payload.Token, raw, utils.QueueTTL).Err(); err != nil {
		return "", fmt.Errorf("failed to store queued submission payload: %w", err)
	}

	err = q.rc.ZAdd(ctx, queueIndexKey, redis.Z{
		Score:  float64(enqueuedAt.UnixNano()),
		Member: payload.Token,
	}).Err()
	if err != nil {
		// Roll the payload back so a failed enqueue leaves nothing behind.
		q.rc.Del(ctx, queuePayloadKeyPrefix+payload.Token)
		return "", fmt.Errorf("failed to index queued submission: %w", err)
	}

	return payload.Token, nil
}

// Drain returns up to maxBatch unexpired submissions in enqueue order
func (q *RedisSubmissionQueue) Drain(ctx context.Context, maxBatch int64) ([]QueuedSubmission, error) {
	cutoff := q.now().Add(-utils.QueueTTL)

	// Drop index entries past their deadline before reading. Their payload
	// keys have already expired on their own.
	err := q.rc.ZRemRangeByScore(ctx, queueIndexKey, "-inf", fmt.Sprintf("%d", cutoff.UnixNano())).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to expire queued submissions: %w", err)
	}

	tokens, err := q.rc.ZRangeByScore(ctx, queueIndexKey, &redis.ZRangeBy{
		Min:   fmt.Sprintf("(%d", cutoff.UnixNano()),
		Max:   "+inf",
		Count: maxBatch,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue index: %w", err)
	}

	batch := make([]QueuedSubmission, 0, len(tokens))
	for _, token := range tokens {
		raw, err := q.rc.Get(ctx, queuePayloadKeyPrefix+token).Result()
		if err != nil {
			if err == redis.Nil {
				// Payload expired between index read and fetch; drop the
				// orphaned index entry.
				q.rc.ZRem(ctx, queueIndexKey, token)
				continue
			}
			return nil, fmt.Errorf("failed to read queued submission %s: %w", token, err)
		}

		var payload QueuedSubmission
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			q.rc.ZRem(ctx, queueIndexKey, token)
			q.rc.Del(ctx, queuePayloadKeyPrefix+token)
			continue
		}
		batch = append(batch, payload)
	}

	return batch, nil
}

// Ack deletes a processed submission from the queue
func (q *RedisSubmissionQueue) Ack(ctx context.Context, token string) error {
	if err := q.rc.ZRem(ctx, queueIndexKey, token).Err(); err != nil {
		return fmt.Errorf("failed to remove queue index entry: %w", err)
	}
	if err := q.rc.Del(ctx, queuePayloadKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to remove queued submission payload: %w", err)
	}
	return nil
}

// Depth returns the current number of index entries
func (q *RedisSubmissionQueue) Depth(ctx context.Context) (int64, error) {
	depth, err := q.rc.ZCard(ctx, queueIndexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue depth: %w", err)
	}
	return depth, nil
}
