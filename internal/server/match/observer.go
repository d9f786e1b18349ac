package match

import (
	"sync"

	"arena/internal/server/core"
)

// Observer receives every published snapshot, in order, on a single goroutine
type Observer interface {
	OnState(state core.MatchState)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(state core.MatchState)

func (f ObserverFunc) OnState(state core.MatchState) {
	f(state)
}

// publisher is an ordered, unbounded snapshot stream drained by one goroutine,
// so the orchestrator never waits on its observer
type publisher struct {
	mu       sync.Mutex
	queue    []core.MatchState
	observer Observer
	wake     chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newPublisher() *publisher {
	p := &publisher{
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *publisher) setObserver(o Observer) {
	p.mu.Lock()
	p.observer = o
	p.mu.Unlock()
}

// publish enqueues a snapshot; the caller hands over ownership of s
func (p *publisher) publish(s core.MatchState) {
	p.mu.Lock()
	p.queue = append(p.queue, s)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *publisher) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *publisher) drain() {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		batch := p.queue
		p.queue = nil
		o := p.observer
		p.mu.Unlock()

		if o == nil {
			continue
		}
		for _, s := range batch {
			o.OnState(s)
		}
	}
}

// close delivers what is queued and stops the dispatcher
func (p *publisher) close() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.stopped
}
