package handler

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LENAX/dagflow/pkg/core/engine"
	"github.com/LENAX/dagflow/pkg/event"
)

// 推送给客户端的事件类型
var streamEventTypes = []event.EventType{
	event.EventNodeTransition,
	event.EventGateEvaluated,
	event.EventGroupStateChanged,
	event.EventRunFinished,
}

// StreamHandler Run事件实时推送处理器
// 将事件总线上指定Run的事件透传给websocket客户端
type StreamHandler struct {
	engine   *engine.Engine
	upgrader websocket.Upgrader
}

// NewStreamHandler 创建StreamHandler
func NewStreamHandler(eng *engine.Engine) *StreamHandler {
	return &StreamHandler{
		engine: eng,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Stream 订阅某Run的事件流
// GET /ws/runs/:id/events
func (h *StreamHandler) Stream(c *gin.Context) {
	runID := c.Param("id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("⚠️ [Stream] websocket升级失败: %v", err)
		return
	}
	defer conn.Close()

	bus := h.engine.GetEventBus()
	if bus == nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "事件总线未启动"),
			time.Now().Add(time.Second))
		return
	}

	// 事件先入缓冲通道，由写协程串行写出；慢客户端丢弃事件而不阻塞总线
	events := make(chan *event.Event, 64)
	done := make(chan struct{})

	subIDs := make([]event.SubscriptionID, 0, len(streamEventTypes))
	for _, eventType := range streamEventTypes {
		subID, err := bus.Subscribe(eventType, func(e *event.Event) error {
			if e.RunID != runID {
				return nil
			}
			select {
			case events <- e:
			case <-done:
			default:
				log.Printf("⚠️ [Stream] Run %s 事件缓冲已满，丢弃事件 %s", runID, e.Type)
			}
			return nil
		})
		if err != nil {
			log.Printf("⚠️ [Stream] 订阅事件失败: %v", err)
			return
		}
		subIDs = append(subIDs, subID)
	}
	defer func() {
		for _, subID := range subIDs {
			bus.Unsubscribe(subID)
		}
	}()

	// 读协程：只消费控制帧，感知客户端断开
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Printf("📡 [Stream] 客户端已订阅Run %s 的事件流", runID)
	for {
		select {
		case <-done:
			return
		case e := <-events:
			if err := conn.WriteJSON(e); err != nil {
				log.Printf("⚠️ [Stream] 写出事件失败: %v", err)
				return
			}
			// Run结束后推完最后一条事件即关闭
			if e.Type == event.EventRunFinished {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}
