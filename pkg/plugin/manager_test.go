package plugin

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlugin 测试用插件，记录初始化参数和收到的数据
type fakePlugin struct {
	name     string
	initErr  error
	execErr  error
	mu       sync.Mutex
	initWith map[string]string
	received []PluginData
}

func (f *fakePlugin) Name() string { return f.name }

func (f *fakePlugin) Init(params map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initWith = params
	return f.initErr
}

func (f *fakePlugin) Execute(data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pluginData, ok := data.(PluginData); ok {
		f.received = append(f.received, pluginData)
	}
	return f.execErr
}

func (f *fakePlugin) receivedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.received)
}

func TestPluginManager_Register(t *testing.T) {
	pm := NewPluginManager()

	require.NoError(t, pm.Register(&fakePlugin{name: "webhook"}))
	// 重复注册同名插件报错
	assert.Error(t, pm.Register(&fakePlugin{name: "webhook"}))
	assert.Error(t, pm.Register(nil))
	assert.Error(t, pm.Register(&fakePlugin{name: ""}))

	found, exists := pm.GetPlugin("webhook")
	require.True(t, exists)
	assert.Equal(t, "webhook", found.Name())
	assert.Equal(t, []string{"webhook"}, pm.ListPlugins())
}

func TestPluginManager_RegisterWithInit(t *testing.T) {
	pm := NewPluginManager()

	good := &fakePlugin{name: "good"}
	require.NoError(t, pm.RegisterWithInit(good, map[string]string{"url": "http://example.com"}))
	assert.Equal(t, "http://example.com", good.initWith["url"])

	// 初始化失败时回滚注册
	bad := &fakePlugin{name: "bad", initErr: fmt.Errorf("配置缺失")}
	assert.Error(t, pm.RegisterWithInit(bad, nil))
	_, exists := pm.GetPlugin("bad")
	assert.False(t, exists)
}

func TestPluginManager_Bind(t *testing.T) {
	pm := NewPluginManager()
	require.NoError(t, pm.Register(&fakePlugin{name: "webhook"}))

	require.NoError(t, pm.Bind(PluginBinding{PluginName: "webhook", Event: EventRunFailed}))
	assert.Error(t, pm.Bind(PluginBinding{PluginName: "", Event: EventRunFailed}))
	assert.Error(t, pm.Bind(PluginBinding{PluginName: "webhook", Event: ""}))
	// 未注册的插件不能绑定
	assert.Error(t, pm.Bind(PluginBinding{PluginName: "missing", Event: EventRunFailed}))
}

func TestPluginManager_Trigger(t *testing.T) {
	pm := NewPluginManager()
	notifier := &fakePlugin{name: "notifier"}
	require.NoError(t, pm.Register(notifier))
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "notifier", Event: EventRunFailed}))

	data := PluginData{
		Event:        EventRunFailed,
		PipelineID:   "warehouse_sync",
		PipelineName: "数仓同步",
		RunID:        "run-1",
		Reason:       "节点b3失败",
	}
	require.NoError(t, pm.Trigger(context.Background(), EventRunFailed, data))
	require.Equal(t, 1, notifier.receivedCount())
	assert.Equal(t, "run-1", notifier.received[0].RunID)
	assert.Equal(t, "节点b3失败", notifier.received[0].Reason)

	// 未绑定的事件不触发
	require.NoError(t, pm.Trigger(context.Background(), EventRunSucceeded, data))
	assert.Equal(t, 1, notifier.receivedCount())

	// 插件执行失败时Trigger返回错误
	notifier.execErr = fmt.Errorf("网络不可达")
	assert.Error(t, pm.Trigger(context.Background(), EventRunFailed, data))
}

func TestPluginManager_TriggerCondition(t *testing.T) {
	pm := NewPluginManager()
	notifier := &fakePlugin{name: "notifier"}
	require.NoError(t, pm.Register(notifier))

	// 条件函数过滤：只有特定Pipeline才触发
	require.NoError(t, pm.Bind(PluginBinding{
		PluginName: "notifier",
		Event:      EventRunFailed,
		Condition: func(data any) bool {
			pluginData, ok := data.(PluginData)
			return ok && pluginData.PipelineID == "critical"
		},
	}))

	require.NoError(t, pm.Trigger(context.Background(), EventRunFailed, PluginData{
		Event:      EventRunFailed,
		PipelineID: "ordinary",
	}))
	assert.Equal(t, 0, notifier.receivedCount())

	require.NoError(t, pm.Trigger(context.Background(), EventRunFailed, PluginData{
		Event:      EventRunFailed,
		PipelineID: "critical",
	}))
	assert.Equal(t, 1, notifier.receivedCount())
}

func TestPluginManager_Unregister(t *testing.T) {
	pm := NewPluginManager()
	notifier := &fakePlugin{name: "notifier"}
	require.NoError(t, pm.Register(notifier))
	require.NoError(t, pm.Bind(PluginBinding{PluginName: "notifier", Event: EventRunFailed}))

	require.NoError(t, pm.Unregister("notifier"))
	assert.Error(t, pm.Unregister("notifier"))
	_, exists := pm.GetPlugin("notifier")
	assert.False(t, exists)

	// 注销后绑定一并失效，触发不再送达
	require.NoError(t, pm.Trigger(context.Background(), EventRunFailed, PluginData{Event: EventRunFailed}))
	assert.Equal(t, 0, notifier.receivedCount())
}
