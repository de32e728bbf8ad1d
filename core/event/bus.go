package event

import (
	"sync"
	"time"

	"sunoman/logger"
	"sunoman/model"
)

// subscriberBuffer 每个订阅者的事件缓冲大小，写满后丢弃最旧的事件
const subscriberBuffer = 64

// Subscriber 一个事件订阅方，C 上收事件，慢消费者不会阻塞发布方
type Subscriber struct {
	C  chan model.Event
	id uint64
}

// Bus 进程内事件总线。下载进度、状态变更都从这里广播出去，
// websocket 层只是把它桥接到网络上。
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*Subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscriber)}
}

// Subscribe 注册一个订阅者，用完必须 Unsubscribe
func (b *Bus) Subscribe() *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscriber{
		C:  make(chan model.Event, subscriberBuffer),
		id: b.nextID,
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe 注销订阅者并关闭其通道
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.C)
	}
}

// Publish 向所有订阅者广播事件。订阅者缓冲满时丢最旧的一条，
// 保证发布路径永不阻塞。
func (b *Bus) Publish(ev model.Event) {
	if ev.Timestamp == 0 {
		ev.Timestamp = time.Now().UnixMilli()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		select {
		case sub.C <- ev:
		default:
			select {
			case <-sub.C:
			default:
			}
			select {
			case sub.C <- ev:
			default:
				logger.Debug("事件订阅者缓冲已满，丢弃事件",
					logger.String("type", string(ev.Type)))
			}
		}
	}
}

// PublishProgress 下载进度事件的便捷封装
func (b *Bus) PublishProgress(p model.DownloadProgress) {
	b.Publish(model.Event{
		Type:     model.EventProgress,
		SunoID:   p.SunoID,
		Phase:    string(p.Phase),
		Progress: p.Progress,
		Message:  p.Message,
	})
}

// SubscriberCount 当前订阅者数量
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
