// Package events carries typed mixer notifications to registered observers.
package events

import (
	"sync"

	"github.com/google/uuid"
)

// EventHandler 事件处理器
type EventHandler func(event Event)

// Publisher 只需要发布能力的组件依赖此接口
type Publisher interface {
	Publish(event Event)
}

// Bus 事件总线
type Bus interface {
	Publisher
	Subscribe(eventType EventType, handler EventHandler) uuid.UUID
	Unsubscribe(id uuid.UUID) bool
}

type subscription struct {
	id      uuid.UUID
	handler EventHandler
}

// eventBus 事件总线实现。处理器在发布者的 goroutine 上按订阅顺序同步执行，
// 因此发布方不得在持锁期间调用 Publish。
type eventBus struct {
	subscribers map[EventType][]subscription
	mu          sync.RWMutex
}

func NewBus() Bus {
	return &eventBus{
		subscribers: make(map[EventType][]subscription),
	}
}

// Publish 发布事件
func (eb *eventBus) Publish(event Event) {
	if event == nil {
		return
	}
	eb.mu.RLock()
	subs := eb.subscribers[event.Type()]
	handlers := make([]EventHandler, len(subs))
	for i, s := range subs {
		handlers[i] = s.handler
	}
	eb.mu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe 订阅事件，返回的 id 用于取消订阅
func (eb *eventBus) Subscribe(eventType EventType, handler EventHandler) uuid.UUID {
	id := uuid.New()
	if handler == nil {
		return id
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscription{id: id, handler: handler})
	return id
}

// Unsubscribe 取消订阅
func (eb *eventBus) Unsubscribe(id uuid.UUID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for eventType, subs := range eb.subscribers {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			eb.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

// Nop 丢弃所有事件
func Nop() Publisher {
	return nopPublisher{}
}
