package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/dagflow/pkg/core/task"
)

// waitEvent 等待事件送达，超时则测试失败
func waitEvent(t *testing.T, received chan *Event) *Event {
	select {
	case e := <-received:
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("等待事件超时")
		return nil
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus, err := NewBus(false)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	received := make(chan *Event, 4)
	_, err = bus.Subscribe(EventNodeTransition, func(e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	bus.Start()
	<-bus.Running()

	payload := &NodeTransitionPayload{
		NodeID:   "b3",
		NodeName: "订单同步",
		GroupID:  "group_b",
		OldState: task.StateRunning,
		NewState: task.StateRetrying,
		Attempt:  1,
		Reason:   "连接超时",
	}
	require.NoError(t, bus.Publish(NewEvent(EventNodeTransition, "p-1", "run-1", payload)))

	e := waitEvent(t, received)
	assert.Equal(t, EventNodeTransition, e.Type)
	assert.Equal(t, "p-1", e.PipelineID)
	assert.Equal(t, "run-1", e.RunID)

	// 负载跨总线传输后通过DecodePayload恢复类型
	var decoded NodeTransitionPayload
	require.NoError(t, e.DecodePayload(&decoded))
	assert.Equal(t, "b3", decoded.NodeID)
	assert.Equal(t, task.StateRunning, decoded.OldState)
	assert.Equal(t, task.StateRetrying, decoded.NewState)
	assert.Equal(t, 1, decoded.Attempt)

	// 其他类型的事件不会送达本订阅
	require.NoError(t, bus.Publish(NewEvent(EventGateEvaluated, "p-1", "run-1", nil)))
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, received)
}

func TestBus_DynamicSubscribe(t *testing.T) {
	bus, err := NewBus(false)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	bus.Start()
	<-bus.Running()

	// 总线运行后新增的订阅也能接收事件
	received := make(chan *Event, 1)
	_, err = bus.Subscribe(EventRunFinished, func(e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)

	payload := &RunFinishedPayload{State: task.RunStateFailed, FailureNodeID: "b3", Total: 13}
	require.NoError(t, bus.Publish(NewEvent(EventRunFinished, "p-1", "run-2", payload)))

	e := waitEvent(t, received)
	var decoded RunFinishedPayload
	require.NoError(t, e.DecodePayload(&decoded))
	assert.Equal(t, task.RunStateFailed, decoded.State)
	assert.Equal(t, "b3", decoded.FailureNodeID)
	assert.Equal(t, 13, decoded.Total)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus, err := NewBus(false)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	received := make(chan *Event, 1)
	id, err := bus.Subscribe(EventRunStarted, func(e *Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	bus.Start()
	<-bus.Running()

	bus.Unsubscribe(id)
	require.NoError(t, bus.Publish(NewEvent(EventRunStarted, "p-1", "run-1", nil)))

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, received)
}

func TestBus_PublishValidation(t *testing.T) {
	bus, err := NewBus(false)
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	assert.Error(t, bus.Publish(nil))

	_, err = bus.Subscribe(EventRunStarted, nil)
	assert.Error(t, err)
}

func TestEvent_Metadata(t *testing.T) {
	e := NewEvent(EventRunStarted, "p-1", "run-1", nil).
		WithMetadata("trigger", "cron")

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, "cron", e.Metadata["trigger"])
	assert.False(t, e.Timestamp.IsZero())
}
