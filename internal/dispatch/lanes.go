package dispatch

import (
	"context"
	"sync"

	"github.com/example/taxi-dispatch/internal/chat"
)

// Lanes fans events out to one goroutine per busy channel. A channel's events
// are delivered in submission order; idle channels hold no goroutine.
type Lanes struct {
	h      chat.Handler
	mu     sync.Mutex
	queues map[string][]chat.Event
	wg     sync.WaitGroup
}

func NewLanes(h chat.Handler) *Lanes {
	return &Lanes{h: h, queues: make(map[string][]chat.Event)}
}

func (l *Lanes) Submit(ctx context.Context, ev chat.Event) {
	l.mu.Lock()
	q, running := l.queues[ev.ChannelID]
	l.queues[ev.ChannelID] = append(q, ev)
	l.mu.Unlock()
	if running {
		return
	}
	l.wg.Add(1)
	go l.drain(ctx, ev.ChannelID)
}

func (l *Lanes) drain(ctx context.Context, ch string) {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		q := l.queues[ch]
		if len(q) == 0 {
			delete(l.queues, ch)
			l.mu.Unlock()
			return
		}
		ev := q[0]
		l.queues[ch] = q[1:]
		l.mu.Unlock()

		l.h.Handle(ctx, ev)
	}
}

// Wait blocks until every submitted event has been handled.
func (l *Lanes) Wait() { l.wg.Wait() }
