package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// subscription 一条事件订阅（内部结构）
type subscription struct {
	id        SubscriptionID
	eventType EventType
	handler   Handler
	active    bool
}

// Bus 事件总线（对外导出）
// 基于Watermill的进程内Pub/Sub，按事件类型分topic路由，
// 引擎发布运行事件，API推流、告警插件等消费方订阅
type Bus struct {
	mu             sync.Mutex
	pubsub         *gochannel.GoChannel
	router         *message.Router
	logger         watermill.LoggerAdapter
	subscriptions  sync.Map // SubscriptionID -> *subscription
	subscriptionID int64
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	running        bool
}

// NewBus 创建事件总线（对外导出）
func NewBus(debug bool) (*Bus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	logger := watermill.NewStdLogger(debug, false)

	pubsub := gochannel.NewGoChannel(
		gochannel.Config{
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("创建消息路由器失败: %w", err)
	}

	return &Bus{
		pubsub: pubsub,
		router: router,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start 启动事件总线（对外导出）
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.router.Run(b.ctx); err != nil {
			log.Printf("消息路由器退出: %v", err)
		}
	}()
}

// Running 返回路由器就绪信号（对外导出）
// 订阅在路由器运行后才开始接收消息，测试和启动序列用它同步
func (b *Bus) Running() <-chan struct{} {
	return b.router.Running()
}

// Publish 发布事件（对外导出）
func (b *Bus) Publish(event *Event) error {
	if event == nil {
		return fmt.Errorf("事件不能为空")
	}
	if event.ID == "" {
		event.ID = watermill.NewUUID()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.Metadata.Set("event_type", string(event.Type))
	msg.Metadata.Set("pipeline_id", event.PipelineID)
	msg.Metadata.Set("run_id", event.RunID)
	msg.Metadata.Set("timestamp", event.Timestamp.Format(time.RFC3339Nano))

	if err := b.pubsub.Publish(string(event.Type), msg); err != nil {
		return fmt.Errorf("发布事件失败: %w", err)
	}
	return nil
}

// Subscribe 订阅指定类型的事件（对外导出）
// 总线已启动时新增的订阅会被动态拉起
func (b *Bus) Subscribe(eventType EventType, handler Handler) (SubscriptionID, error) {
	if handler == nil {
		return "", fmt.Errorf("事件处理器不能为空")
	}

	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddInt64(&b.subscriptionID, 1)))
	sub := &subscription{
		id:        id,
		eventType: eventType,
		handler:   handler,
		active:    true,
	}
	b.subscriptions.Store(id, sub)

	handlerName := fmt.Sprintf("handler_%s_%s", eventType, id)
	b.router.AddNoPublisherHandler(
		handlerName,
		string(eventType),
		b.pubsub,
		func(msg *message.Message) error {
			subValue, ok := b.subscriptions.Load(id)
			if !ok {
				return nil
			}
			if !subValue.(*subscription).active {
				return nil
			}

			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				return err
			}
			return handler(&event)
		},
	)

	// 路由器已运行时动态拉起新handler
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()
	if running {
		if err := b.router.RunHandlers(b.ctx); err != nil {
			return "", fmt.Errorf("启动事件处理器失败: %w", err)
		}
	}

	return id, nil
}

// Unsubscribe 取消订阅（对外导出）
func (b *Bus) Unsubscribe(id SubscriptionID) {
	if subValue, ok := b.subscriptions.Load(id); ok {
		subValue.(*subscription).active = false
	}
	b.subscriptions.Delete(id)
}

// Close 关闭事件总线（对外导出）
func (b *Bus) Close() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	if err := b.router.Close(); err != nil {
		log.Printf("关闭路由器失败: %v", err)
	}
	if err := b.pubsub.Close(); err != nil {
		log.Printf("关闭 Pub/Sub 失败: %v", err)
	}

	b.cancel()
	b.wg.Wait()
	return nil
}
