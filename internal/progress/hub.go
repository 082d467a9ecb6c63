package progress

import (
	"context"

	"spica/internal/model"
	"spica/internal/pipeline"
)

// Hub 按 topic（运行ID）分发 RunEvent。
//
// 订阅、取消订阅和发布都经由内部通道在 Run 的单个 goroutine 中串行处理，
// topics 不需要加锁。订阅者读得慢时普通事件直接丢弃，但终态事件会挤掉最旧的一条。
type Hub struct {
	topics map[string]map[chan model.RunEvent]struct{}

	subscribe   chan subscription
	unsubscribe chan subscription
	publish     chan topicEvent
	done        chan struct{}
}

type subscription struct {
	ch    chan model.RunEvent
	topic string
}

type topicEvent struct {
	topic string
	ev    model.RunEvent
}

// NewHub publish 通道带100的缓冲，吸收短时突发
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]map[chan model.RunEvent]struct{}),
		subscribe:   make(chan subscription),
		unsubscribe: make(chan subscription),
		publish:     make(chan topicEvent, 100),
		done:        make(chan struct{}),
	}
}

// Run 事件循环，ctx 结束后返回，之后的发布与订阅都变成空操作
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-h.subscribe:
			subs, ok := h.topics[s.topic]
			if !ok {
				subs = make(map[chan model.RunEvent]struct{})
				h.topics[s.topic] = subs
			}
			subs[s.ch] = struct{}{}
		case s := <-h.unsubscribe:
			if subs, ok := h.topics[s.topic]; ok {
				delete(subs, s.ch)
				if len(subs) == 0 {
					delete(h.topics, s.topic)
				}
			}
		case te := <-h.publish:
			for ch := range h.topics[te.topic] {
				deliver(ch, te.ev)
			}
		}
	}
}

func deliver(ch chan model.RunEvent, ev model.RunEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
	if !ev.Done {
		return
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Publish 发布事件到 topic 的所有订阅者
func (h *Hub) Publish(topic string, ev model.RunEvent) {
	select {
	case h.publish <- topicEvent{topic: topic, ev: ev}:
	case <-h.done:
	}
}

// Subscribe 订阅 topic，返回只读通道和取消函数。通道由调用方持有，Hub 不会关闭它
func (h *Hub) Subscribe(topic string, buffer int) (<-chan model.RunEvent, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan model.RunEvent, buffer)
	select {
	case h.subscribe <- subscription{ch: ch, topic: topic}:
	case <-h.done:
		return ch, func() {}
	}
	return ch, func() {
		select {
		case h.unsubscribe <- subscription{ch: ch, topic: topic}:
		case <-h.done:
		}
	}
}

// Observer 把 Hub 适配为流水线的进度观察者
func (h *Hub) Observer(topic string) pipeline.Observer {
	return pipeline.ObserverFunc(func(ev model.RunEvent) {
		h.Publish(topic, ev)
	})
}
