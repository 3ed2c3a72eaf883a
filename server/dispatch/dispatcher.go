// Package dispatch owns the AI task lifecycle: the per-chat
// single-flight guard, the deferred-request queue, revocation, and the
// permission-gated continuation of tasks that asked for app settings or
// memories.
package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/glowingkitty/openmates-core/crypto"
	"github.com/glowingkitty/openmates-core/server/metrics"
	"github.com/glowingkitty/openmates-core/store/kv"
	"github.com/glowingkitty/openmates-core/worker"
)

// EventPermissionRequest is published on the user cache-events channel
// when a task pauses for user approval; the cache-events listener routes
// it to the device viewing the chat.
const EventPermissionRequest = "send_app_settings_memories_request"

// Dispatcher coordinates AI task starts, cancellation and continuation.
type Dispatcher struct {
	kv     *kv.Engine
	runner worker.Runner
	vault  *crypto.Vault
}

func New(engine *kv.Engine, runner worker.Runner, vault *crypto.Vault) *Dispatcher {
	return &Dispatcher{kv: engine, runner: runner, vault: vault}
}

// StartTask attempts to start an AI task for the chat. When another
// task is already active the request is queued instead and (false, nil)
// is returned; the queued request is replayed when the active task
// finishes.
func (d *Dispatcher) StartTask(ctx context.Context, req *worker.AskSkillRequest) (bool, error) {
	if req.TaskID == "" {
		req.TaskID = uuid.NewString()
	}

	claimed, err := d.kv.SetActiveTask(ctx, req.ChatID, req.TaskID)
	if err != nil {
		return false, err
	}
	if !claimed {
		raw, err := json.Marshal(req)
		if err != nil {
			return false, errors.Wrap(err, "marshal queued request")
		}
		if err := d.kv.EnqueueRequest(ctx, req.ChatID, raw); err != nil {
			return false, err
		}
		metrics.QueuedAIRequests.Inc()
		slog.Info("ai request queued behind active task",
			slog.String("chat_id", req.ChatID),
			slog.String("task_id", req.TaskID))
		return false, nil
	}

	if err := d.runner.Enqueue(ctx, worker.QueueAI, worker.JobAskSkill, req); err != nil {
		// Release the claim so the chat is not wedged on a task that
		// never reached the runner.
		d.releaseTask(ctx, req.ChatID, req.TaskID)
		return false, err
	}
	metrics.ActiveAITasks.Inc()
	slog.Info("ai task started",
		slog.String("chat_id", req.ChatID),
		slog.String("task_id", req.TaskID))
	return true, nil
}

// Cancel revokes a running task by id. Unknown task ids are a no-op:
// the task may have finished between the user's click and this call.
func (d *Dispatcher) Cancel(ctx context.Context, taskID string) error {
	chatID, err := d.kv.ChatForTask(ctx, taskID)
	if err != nil {
		return err
	}
	if chatID == "" {
		slog.Info("cancel for unknown task ignored", slog.String("task_id", taskID))
		return nil
	}
	return d.runner.Enqueue(ctx, worker.QueueAI, worker.JobRevokeTask,
		&worker.RevokeTaskRequest{TaskID: taskID, ChatID: chatID})
}

// FinishTask releases the chat's single-flight claim once the task's
// final stream chunk has been observed, then replays any deferred
// requests. The first deferred request claims the slot; the rest queue
// again behind it, preserving order.
func (d *Dispatcher) FinishTask(ctx context.Context, chatID, taskID string) {
	d.releaseTask(ctx, chatID, taskID)

	queued, err := d.kv.DrainQueue(ctx, chatID)
	if err != nil {
		slog.Error("drain deferred ai requests",
			slog.String("chat_id", chatID), slog.Any("error", err))
		return
	}
	for _, raw := range queued {
		var req worker.AskSkillRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			slog.Error("skip malformed deferred ai request",
				slog.String("chat_id", chatID), slog.Any("error", err))
			continue
		}
		if _, err := d.StartTask(ctx, &req); err != nil {
			slog.Error("replay deferred ai request",
				slog.String("chat_id", chatID),
				slog.String("task_id", req.TaskID),
				slog.Any("error", err))
		}
	}
}

func (d *Dispatcher) releaseTask(ctx context.Context, chatID, taskID string) {
	if err := d.kv.ClearActiveTask(ctx, chatID, taskID); err != nil {
		slog.Error("clear active task",
			slog.String("chat_id", chatID),
			slog.String("task_id", taskID),
			slog.Any("error", err))
		return
	}
	metrics.ActiveAITasks.Dec()
}

// PausePendingPermission stores the continuation context for a task
// waiting on user approval and notifies the user's devices.
func (d *Dispatcher) PausePendingPermission(ctx context.Context, req *worker.PendingPermissionRequest) error {
	if req.RequestID == "" {
		req.RequestID = shortuuid.New()
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "marshal pending permission")
	}
	if err := d.kv.StorePendingPermission(ctx, req.ChatID, raw); err != nil {
		return err
	}
	return d.kv.PublishEvent(ctx, kv.UserCacheEventsChannel(req.UserID),
		EventPermissionRequest, map[string]any{
			"chat_id":        req.ChatID,
			"request_id":     req.RequestID,
			"requested_keys": req.RequestedKeys,
		})
}

// ConfirmedEntry is one user-released settings/memories item, still in
// plaintext at this point.
type ConfirmedEntry struct {
	AppID     string
	ItemKey   string
	Plaintext string
}

// ContinuePendingPermission resumes a paused task after the user
// released (or rejected) the requested settings and memories. Released
// plaintext is vault-encrypted and staged in the cache before the
// continuation job is enqueued; plaintext never reaches the runner
// queue.
func (d *Dispatcher) ContinuePendingPermission(ctx context.Context, chatID string, rejected bool, entries []ConfirmedEntry) error {
	blob, err := d.kv.PendingPermission(ctx, chatID)
	if err != nil {
		return err
	}
	if blob == nil {
		return errors.Errorf("no pending permission request for chat %s", chatID)
	}
	var pending worker.PendingPermissionRequest
	if err := json.Unmarshal(blob, &pending); err != nil {
		return errors.Wrap(err, "decode pending permission")
	}

	if rejected {
		if err := d.kv.DeletePendingPermission(ctx, chatID); err != nil {
			slog.Warn("delete pending permission",
				slog.String("chat_id", chatID), slog.Any("error", err))
		}
		d.releaseTask(ctx, chatID, pending.TaskID)
		slog.Info("pending permission rejected",
			slog.String("chat_id", chatID),
			slog.String("task_id", pending.TaskID))
		return nil
	}

	for _, entry := range entries {
		sealed, err := d.vault.Wrap(pending.UserIDHash, []byte(entry.Plaintext))
		if err != nil {
			return errors.Wrapf(err, "seal %s/%s", entry.AppID, entry.ItemKey)
		}
		if err := d.kv.CacheAppSetting(ctx, chatID, entry.AppID, entry.ItemKey, []byte(sealed)); err != nil {
			return err
		}
	}
	if err := d.kv.DeletePendingPermission(ctx, chatID); err != nil {
		slog.Warn("delete pending permission",
			slog.String("chat_id", chatID), slog.Any("error", err))
	}

	// The paused task still holds the chat's single-flight claim, so the
	// continuation reuses its task id and goes straight to the runner.
	cont := &worker.AskSkillRequest{
		ChatID:                            pending.ChatID,
		MessageID:                         pending.MessageID,
		UserID:                            pending.UserID,
		UserIDHash:                        pending.UserIDHash,
		MateID:                            pending.MateID,
		TaskID:                            pending.TaskID,
		ActiveFocusID:                     pending.ActiveFocusID,
		ChatHasTitle:                      pending.ChatHasTitle,
		IsIncognito:                       pending.IsIncognito,
		IsAppSettingsMemoriesContinuation: true,
		RequestedKeys:                     pending.RequestedKeys,
	}
	return d.runner.Enqueue(ctx, worker.QueueAI, worker.JobAskSkill, cont)
}
