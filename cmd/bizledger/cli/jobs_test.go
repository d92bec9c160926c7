package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/bizledger/jobs"
	_ "github.com/odyssey-erp/bizledger/testing"
)

type recordingClient struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
}

func (r *recordingClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	r.opts = append(r.opts, opts)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (r *recordingClient) Close() error { return nil }

type stubInspector struct{}

func (stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, nil
}

func (stubInspector) ListScheduledTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return nil, nil
}

func (stubInspector) Close() error { return nil }

func run(t *testing.T, client *recordingClient, args ...string) (string, error) {
	t.Helper()
	cmd := newJobsCmd(func() (*JobsCLI, error) {
		return &JobsCLI{client: client, inspector: stubInspector{}}, nil
	})
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTriggerReconcileForCompany(t *testing.T) {
	client := &recordingClient{}
	out, err := run(t, client, "trigger", jobs.TaskLedgerReconcile, "--company", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued ledger:reconcile")

	require.Len(t, client.tasks, 1)
	var payload jobs.CompanyPayload
	require.NoError(t, json.Unmarshal(client.tasks[0].Payload(), &payload))
	assert.Equal(t, "3", payload.CompanyID)
}

func TestTriggerRolloverIsUnique(t *testing.T) {
	client := &recordingClient{}
	_, err := run(t, client, "trigger", jobs.TaskPayrollRollover)
	require.NoError(t, err)
	require.Len(t, client.opts, 1)
	assert.Len(t, client.opts[0], 2)
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	client := &recordingClient{}
	_, err := run(t, client, "trigger", "mail:send")
	assert.ErrorContains(t, err, "unsupported job")
	assert.Empty(t, client.tasks)
}

func TestStatsJSON(t *testing.T) {
	out, err := run(t, &recordingClient{}, "stats", "--json")
	require.NoError(t, err)
	var s QueueStats
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 2, Retry: 1}, s)
}
