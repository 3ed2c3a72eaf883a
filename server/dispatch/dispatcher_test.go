package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowingkitty/openmates-core/crypto"
	"github.com/glowingkitty/openmates-core/store/kv"
	"github.com/glowingkitty/openmates-core/worker"
)

const testMasterKey = "0000000000000000000000000000000000000000000000000000000000000000"

// recordingRunner captures enqueued jobs instead of pushing them to a
// queue.
type recordingRunner struct {
	jobs []recordedJob
	err  error
}

type recordedJob struct {
	queue   string
	name    string
	payload any
}

func (r *recordingRunner) Enqueue(_ context.Context, queue, name string, payload any) error {
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, recordedJob{queue: queue, name: name, payload: payload})
	return nil
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *kv.Engine, *recordingRunner) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine := kv.NewEngine(rdb, kv.DefaultConfig(), nil)
	vault, err := crypto.NewVault(testMasterKey)
	require.NoError(t, err)
	runner := &recordingRunner{}
	return New(engine, runner, vault), engine, runner
}

func TestStartTaskClaimsAndDispatches(t *testing.T) {
	dispatcher, engine, runner := newTestDispatcher(t)
	ctx := context.Background()

	started, err := dispatcher.StartTask(ctx, &worker.AskSkillRequest{ChatID: "c1", UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, started)
	require.Len(t, runner.jobs, 1)
	assert.Equal(t, worker.QueueAI, runner.jobs[0].queue)
	assert.Equal(t, worker.JobAskSkill, runner.jobs[0].name)

	req := runner.jobs[0].payload.(*worker.AskSkillRequest)
	assert.NotEmpty(t, req.TaskID)

	taskID, err := engine.ActiveTask(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, req.TaskID, taskID)
}

func TestStartTaskQueuesBehindActive(t *testing.T) {
	dispatcher, engine, runner := newTestDispatcher(t)
	ctx := context.Background()

	started, err := dispatcher.StartTask(ctx, &worker.AskSkillRequest{ChatID: "c1", TaskID: "t1"})
	require.NoError(t, err)
	require.True(t, started)

	// The second turn must queue, not run in parallel.
	started, err = dispatcher.StartTask(ctx, &worker.AskSkillRequest{ChatID: "c1", TaskID: "t2", MessageID: "m2"})
	require.NoError(t, err)
	assert.False(t, started)
	assert.Len(t, runner.jobs, 1)

	n, err := engine.QueueLength(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestFinishTaskReplaysQueue(t *testing.T) {
	dispatcher, engine, runner := newTestDispatcher(t)
	ctx := context.Background()

	started, err := dispatcher.StartTask(ctx, &worker.AskSkillRequest{ChatID: "c1", TaskID: "t1"})
	require.NoError(t, err)
	require.True(t, started)
	_, err = dispatcher.StartTask(ctx, &worker.AskSkillRequest{ChatID: "c1", TaskID: "t2"})
	require.NoError(t, err)

	dispatcher.FinishTask(ctx, "c1", "t1")

	// The deferred request claimed the slot and reached the runner.
	require.Len(t, runner.jobs, 2)
	replayed := runner.jobs[1].payload.(*worker.AskSkillRequest)
	assert.Equal(t, "t2", replayed.TaskID)

	taskID, err := engine.ActiveTask(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "t2", taskID)

	n, err := engine.QueueLength(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStartTaskReleasesClaimOnEnqueueFailure(t *testing.T) {
	dispatcher, engine, runner := newTestDispatcher(t)
	runner.err = assert.AnError
	ctx := context.Background()

	_, err := dispatcher.StartTask(ctx, &worker.AskSkillRequest{ChatID: "c1", TaskID: "t1"})
	require.Error(t, err)

	taskID, err := engine.ActiveTask(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, taskID)
}

func TestCancelLooksUpReverseMapping(t *testing.T) {
	dispatcher, _, runner := newTestDispatcher(t)
	ctx := context.Background()

	started, err := dispatcher.StartTask(ctx, &worker.AskSkillRequest{ChatID: "c1", TaskID: "t1"})
	require.NoError(t, err)
	require.True(t, started)

	require.NoError(t, dispatcher.Cancel(ctx, "t1"))
	require.Len(t, runner.jobs, 2)
	assert.Equal(t, worker.JobRevokeTask, runner.jobs[1].name)
	revoke := runner.jobs[1].payload.(*worker.RevokeTaskRequest)
	assert.Equal(t, "c1", revoke.ChatID)

	// Cancelling a finished task is a no-op, not an error.
	require.NoError(t, dispatcher.Cancel(ctx, "unknown"))
	assert.Len(t, runner.jobs, 2)
}

func TestContinuePendingPermissionSealsAndResumes(t *testing.T) {
	dispatcher, engine, runner := newTestDispatcher(t)
	ctx := context.Background()

	pending := &worker.PendingPermissionRequest{
		RequestID:     "r1",
		ChatID:        "c1",
		MessageID:     "m1",
		UserID:        "u1",
		UserIDHash:    "hash-u1",
		TaskID:        "t1",
		RequestedKeys: []string{"calendar/timezone"},
	}
	require.NoError(t, dispatcher.PausePendingPermission(ctx, pending))

	err := dispatcher.ContinuePendingPermission(ctx, "c1", false, []ConfirmedEntry{
		{AppID: "calendar", ItemKey: "timezone", Plaintext: "Europe/Berlin"},
	})
	require.NoError(t, err)

	// The released plaintext is vault-sealed in the cache.
	sealed, err := engine.AppSetting(ctx, "c1", "calendar", "timezone")
	require.NoError(t, err)
	require.NotNil(t, sealed)
	assert.NotContains(t, string(sealed), "Europe/Berlin")

	vault, err := crypto.NewVault(testMasterKey)
	require.NoError(t, err)
	plaintext, err := vault.Unwrap("hash-u1", string(sealed))
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", string(plaintext))

	// The continuation reuses the paused task's id and flags itself.
	require.Len(t, runner.jobs, 1)
	cont := runner.jobs[0].payload.(*worker.AskSkillRequest)
	assert.Equal(t, "t1", cont.TaskID)
	assert.True(t, cont.IsAppSettingsMemoriesContinuation)
	assert.Equal(t, []string{"calendar/timezone"}, cont.RequestedKeys)

	// The pending blob is consumed.
	blob, err := engine.PendingPermission(ctx, "c1")
	require.NoError(t, err)
	assert.Nil(t, blob)
}

func TestContinuePendingPermissionRejected(t *testing.T) {
	dispatcher, engine, runner := newTestDispatcher(t)
	ctx := context.Background()

	claimed, err := engine.SetActiveTask(ctx, "c1", "t1")
	require.NoError(t, err)
	require.True(t, claimed)

	raw, err := json.Marshal(&worker.PendingPermissionRequest{ChatID: "c1", TaskID: "t1", UserIDHash: "hash-u1"})
	require.NoError(t, err)
	require.NoError(t, engine.StorePendingPermission(ctx, "c1", raw))

	require.NoError(t, dispatcher.ContinuePendingPermission(ctx, "c1", true, nil))

	// Rejection releases the claim and enqueues nothing.
	assert.Empty(t, runner.jobs)
	taskID, err := engine.ActiveTask(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, taskID)
}
