// Package worker defines the contract between the sync core and the
// external background task runner. The core only enqueues named jobs;
// the runner processes them out of process and reports back over the KV
// pub/sub channels.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Job names dispatched to the runner.
const (
	JobPersistChat     = "persist_chat"
	JobDeleteChat      = "delete_chat"
	JobPersistMessage  = "persist_message"
	JobPersistDraft    = "persist_draft"
	JobDeleteDraft     = "delete_draft"
	JobAskSkill        = "ask_skill"
	JobRevokeTask      = "revoke_task"
	JobPostProcessing  = "post_processing"
	JobUpdateReadState = "update_read_state"
)

// Queue names.
const (
	QueuePersistence = "persistence"
	QueueAI          = "ai"
)

// Job is the envelope pushed onto a runner queue.
type Job struct {
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueued_at"`
}

// Runner dispatches named background jobs to queues.
type Runner interface {
	Enqueue(ctx context.Context, queue, name string, payload any) error
}

// QueueKey returns the KV list a queue's jobs are pushed onto.
func QueueKey(queue string) string {
	return "worker_queue:" + queue
}

// RedisRunner enqueues jobs onto KV lists consumed by the external
// runner processes.
type RedisRunner struct {
	rdb redis.UniversalClient
}

// NewRedisRunner creates a runner backed by the shared KV client.
func NewRedisRunner(rdb redis.UniversalClient) *RedisRunner {
	return &RedisRunner{rdb: rdb}
}

func (r *RedisRunner) Enqueue(ctx context.Context, queue, name string, payload any) error {
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "marshal payload for job %s", name)
	}
	job := Job{Name: name, Payload: rawPayload, EnqueuedAt: time.Now().Unix()}
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "marshal job %s", name)
	}
	return errors.Wrapf(
		r.rdb.LPush(ctx, QueueKey(queue), raw).Err(),
		"enqueue job %s on %s", name, queue)
}
