package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoloimp/ecoloimp/internal/inventory"
)

type memoryStore struct {
	inbox   []Notification
	byRole  map[string][]int64
	askedBy []string
}

func (m *memoryStore) Insert(_ context.Context, n Notification) error {
	m.inbox = append(m.inbox, n)
	return nil
}

func (m *memoryStore) Recipients(_ context.Context, roles []string) ([]int64, error) {
	m.askedBy = roles
	var ids []int64
	for _, r := range roles {
		ids = append(ids, m.byRole[r]...)
	}
	return ids, nil
}

type fakeCleaner struct{ olderThan time.Duration }

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 3, nil
}

type countingRecorder map[string]int

func (c countingRecorder) RecordJob(task string, err error) {
	if err != nil {
		task += ":error"
	}
	c[task]++
}

type fakeEnqueuer struct{ tasks []*asynq.Task }

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Queue: QueueDefault, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

func TestClientBuildsTasksHandlersConsume(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq, nil)
	ctx := context.Background()
	require.NoError(t, client.NotifyOrderDecided(ctx, 7, 2, "aprobado"))
	require.NoError(t, client.NotifyLowStock(ctx, inventory.Part{ID: 4, Code: "TON-01", Name: "Tóner", Stock: 1, MinStock: 2}))
	require.Len(t, enq.tasks, 2)

	store := &memoryStore{byRole: map[string][]int64{"admin": {1, 5}, "superadmin": {9}}}
	metrics := countingRecorder{}
	h := Handlers{Store: store, Metrics: metrics, StockRoles: []string{"admin", "superadmin"}}
	handlers := map[string]asynq.HandlerFunc{}
	for _, th := range h.Register() {
		handlers[th.Type] = th.Handler
	}
	for _, task := range enq.tasks {
		require.NoError(t, handlers[task.Type()](ctx, task))
	}

	require.Len(t, store.inbox, 4)
	assert.Equal(t, int64(2), store.inbox[0].UserID)
	assert.Equal(t, "Pedido aprobado", store.inbox[0].Title)
	assert.Equal(t, "/orders/7", store.inbox[0].URL)
	for _, n := range store.inbox[1:] {
		assert.Equal(t, "Stock bajo", n.Title)
		assert.Contains(t, n.Message, "quedan 1 unidades")
	}
	assert.Equal(t, []string{"admin", "superadmin"}, store.askedBy)
	assert.Equal(t, 1, metrics[TaskOrderDecided])
	assert.Equal(t, 1, metrics[TaskLowStock])
}

func TestRejectedOrderNotification(t *testing.T) {
	store := &memoryStore{}
	task, err := NewOrderDecidedTask(OrderDecidedPayload{OrderID: 3, RequesterID: 2, Status: "rechazado"})
	require.NoError(t, err)
	require.NoError(t, Handlers{Store: store}.HandleOrderDecided(context.Background(), task))
	require.Len(t, store.inbox, 1)
	assert.Equal(t, "warning", store.inbox[0].Kind)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	metrics := countingRecorder{}
	h := Handlers{Store: &memoryStore{}, Metrics: metrics}
	for _, th := range h.Register() {
		err := th.Handler(context.Background(), asynq.NewTask(th.Type, []byte("{")))
		assert.True(t, errors.Is(err, asynq.SkipRetry), th.Type)
	}
	assert.Equal(t, 1, metrics[TaskLowStock+":error"])
}

func TestIdempotencyCleanup(t *testing.T) {
	cleaner := &fakeCleaner{}
	task, err := NewIdempotencyCleanupTask(0)
	require.NoError(t, err)
	require.NoError(t, Handlers{Cleaner: cleaner}.HandleIdempotencyCleanup(context.Background(), task))
	assert.Equal(t, 7*24*time.Hour, cleaner.olderThan)
}

func TestHealthWithoutInspector(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(nil, nil).health(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Healthy)
	require.Len(t, got.Queues, 2)
	assert.Equal(t, QueueCritical, got.Queues[0].Queue)
	assert.Equal(t, QueueDefault, got.Queues[1].Queue)
}

type fakeInspector struct {
	queues map[string]*asynq.QueueInfo
	err    error
}

func (f fakeInspector) Queues() ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	var names []string
	for name := range f.queues {
		names = append(names, name)
	}
	return names, nil
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return f.queues[queue], nil
}

func TestHealthReportsQueues(t *testing.T) {
	inspector := fakeInspector{queues: map[string]*asynq.QueueInfo{
		QueueCritical: {Queue: QueueCritical, Pending: 3, Retry: 1, Archived: 2, Paused: true},
	}}
	rec := httptest.NewRecorder()
	NewHandler(inspector, nil).health(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Healthy, "a paused queue is unhealthy")
	require.Len(t, got.Queues, 2)
	assert.Equal(t, 3, got.Queues[0].Pending)
	assert.Equal(t, 2, got.Queues[0].Failed)
	assert.Zero(t, got.Queues[1].Pending, "a queue never written to is empty")

	rec = httptest.NewRecorder()
	NewHandler(fakeInspector{err: errors.New("redis down")}, nil).health(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTaskQueues(t *testing.T) {
	decided, err := NewOrderDecidedTask(OrderDecidedPayload{OrderID: 1})
	require.NoError(t, err)
	cleanup, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)

	enq := &fakeEnqueuer{}
	client := NewClientWith(enq, nil)
	require.NoError(t, client.enqueue(context.Background(), decided))
	require.NoError(t, client.enqueue(context.Background(), cleanup))
	assert.Len(t, enq.tasks, 2)
	assert.Contains(t, queueWeights, QueueCritical)
	assert.Greater(t, queueWeights[QueueCritical], queueWeights[QueueDefault])
}
