package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Bus 议会运行生命周期事件的进程内总线。
// 运行完成、发言人答复、标题生成等事件在这里广播给订阅方，
// 用量统计等副作用与运行主流程解耦。
type Bus struct {
	mutex       sync.RWMutex
	subscribers map[RunEventType]map[uint64]RunEventHandler
	counter     uint64
}

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[RunEventType]map[uint64]RunEventHandler),
	}
}

func (b *Bus) Subscribe(eventType RunEventType, handler RunEventHandler) func() {
	if handler == nil {
		return func() {}
	}
	id := atomic.AddUint64(&b.counter, 1)
	b.mutex.Lock()
	if b.subscribers[eventType] == nil {
		b.subscribers[eventType] = make(map[uint64]RunEventHandler)
	}
	b.subscribers[eventType][id] = handler
	b.mutex.Unlock()
	return func() {
		b.mutex.Lock()
		handlers, ok := b.subscribers[eventType]
		if ok {
			delete(handlers, id)
			if len(handlers) == 0 {
				delete(b.subscribers, eventType)
			}
		}
		b.mutex.Unlock()
	}
}

func (b *Bus) Publish(ctx context.Context, event RunEvent) error {
	b.mutex.RLock()
	handlersMap := b.subscribers[event.Type]
	handlers := make([]RunEventHandler, 0, len(handlersMap))
	for _, handler := range handlersMap {
		handlers = append(handlers, handler)
	}
	b.mutex.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
