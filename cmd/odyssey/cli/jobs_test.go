package cli

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-learn/odyssey-learn/jobs"
)

type stubEnqueuer struct {
	tasks  []*asynq.Task
	closed bool
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) Close() error {
	s.closed = true
	return nil
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func (s stubInspector) ListRetryTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return []*asynq.TaskInfo{{ID: "r1", Type: jobs.TaskCourseCompleted}}, nil
}

func (s stubInspector) Close() error { return nil }

func TestTriggerBuildsTasks(t *testing.T) {
	enqueuer := &stubEnqueuer{}
	c := NewJobsCLIWith(enqueuer, stubInspector{})

	info, err := c.Trigger(context.Background(), jobs.TaskCourseCompleted, "12")
	require.NoError(t, err)
	require.Equal(t, jobs.TaskCourseCompleted, info.Type)
	var payload jobs.CourseCompletedPayload
	require.NoError(t, json.Unmarshal(enqueuer.tasks[0].Payload(), &payload))
	require.Equal(t, int64(12), payload.EnrollmentID)

	_, err = c.Trigger(context.Background(), jobs.TaskCompletionSweep, "48")
	require.NoError(t, err)
	var sweep jobs.CompletionSweepPayload
	require.NoError(t, json.Unmarshal(enqueuer.tasks[1].Payload(), &sweep))
	require.Equal(t, 48, sweep.WindowHours)

	_, err = c.Trigger(context.Background(), jobs.TaskCourseCompleted, "abc")
	require.Error(t, err)
	_, err = c.Trigger(context.Background(), "unknown", "")
	require.Error(t, err)
	require.Len(t, enqueuer.tasks, 2)

	require.NoError(t, c.Close())
	require.True(t, enqueuer.closed)
}

func TestInspectQueue(t *testing.T) {
	c := NewJobsCLIWith(&stubEnqueuer{}, stubInspector{info: &asynq.QueueInfo{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}})
	stats, err := c.InspectQueue(context.Background())
	require.NoError(t, err)
	require.Equal(t, QueueStats{Queue: jobs.QueueDefault, Pending: 3, Retry: 1}, stats)

	retries, err := c.ListRetries(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, retries, 1)

	c = NewJobsCLIWith(&stubEnqueuer{}, stubInspector{err: errors.New("redis down")})
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)
}
