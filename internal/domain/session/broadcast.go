package session

import (
	"context"
	"sync"

	"github.com/GriffinCanCode/sessiond/internal/infrastructure/monitoring"
)

// Broadcaster fans a session's output out to any number of subscribers.
//
// Each subscriber owns a bounded queue. Publish never blocks: when a queue
// is full its oldest chunk is discarded and the subscriber's missed
// counter grows. Publishing is serialized, so all subscribers observe the
// same order.
type Broadcaster struct {
	mu        sync.Mutex
	subs      map[*Subscriber]struct{}
	history   *History
	queueSize int
	closed    bool
	metrics   *monitoring.Metrics
}

// NewBroadcaster creates a broadcaster. historySize of zero disables replay.
func NewBroadcaster(queueSize, historySize int, metrics *monitoring.Metrics) *Broadcaster {
	if queueSize < 1 {
		queueSize = 1
	}
	b := &Broadcaster{
		subs:      make(map[*Subscriber]struct{}),
		queueSize: queueSize,
		metrics:   metrics,
	}
	if historySize > 0 {
		b.history = NewHistory(historySize)
	}
	return b
}

// Publish delivers a copy of data to every subscriber
func (b *Broadcaster) Publish(data []byte) {
	if len(data) == 0 {
		return
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	if b.history != nil {
		b.history.Write(chunk)
	}
	for sub := range b.subs {
		sub.push(chunk)
	}
}

// Subscribe registers a new subscriber. With replay the retained history
// is queued first, under the same lock as registration, so the subscriber
// sees neither a gap nor a duplicate between history and live output.
func (b *Broadcaster) Subscribe(replay bool) (*Subscriber, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrSessionStopped
	}

	sub := newSubscriber(b, b.queueSize)
	if replay && b.history != nil && b.history.Len() > 0 {
		sub.push(b.history.Bytes())
	}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Subscribers returns the number of live subscribers
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription. Queued chunks remain readable.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		sub.finish()
	}
	b.subs = nil
}

func (b *Broadcaster) remove(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs != nil {
		delete(b.subs, sub)
	}
}

// Subscriber receives a session's output in order
type Subscriber struct {
	owner *Broadcaster

	mu     sync.Mutex
	queue  [][]byte
	limit  int
	missed uint64
	closed bool
	notify chan struct{}
}

func newSubscriber(owner *Broadcaster, limit int) *Subscriber {
	return &Subscriber{
		owner:  owner,
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

func (s *Subscriber) push(data []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) == s.limit {
		dropped := len(s.queue[0])
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.missed += uint64(dropped)
		s.owner.metrics.OutputDropped(dropped)
	}
	s.queue = append(s.queue, data)
	s.mu.Unlock()

	s.signal()
}

func (s *Subscriber) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// finish marks the end of the stream without discarding queued chunks
func (s *Subscriber) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

// Next blocks until a chunk is available. After the session stops, queued
// chunks are still delivered and then ErrClosed is returned.
func (s *Subscriber) Next(ctx context.Context) (Chunk, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			chunk := Chunk{Data: s.queue[0], Missed: s.missed}
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.missed = 0
			s.mu.Unlock()
			if chunk.Missed > 0 {
				s.owner.metrics.FrameLagged()
			}
			return chunk, nil
		}
		if s.closed {
			s.mu.Unlock()
			return Chunk{}, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Chunk{}, ctx.Err()
		}
	}
}

// Drain returns everything queued as one chunk without blocking. closed
// reports that the stream has ended and nothing remains.
func (s *Subscriber) Drain() (chunk Chunk, closed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := 0
	for _, data := range s.queue {
		size += len(data)
	}
	if size > 0 {
		chunk.Data = make([]byte, 0, size)
		for _, data := range s.queue {
			chunk.Data = append(chunk.Data, data...)
		}
	}
	chunk.Missed = s.missed
	s.queue = nil
	s.missed = 0

	return chunk, s.closed
}

// Wait blocks until output is queued, the stream ends or ctx is done
func (s *Subscriber) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		ready := len(s.queue) > 0 || s.closed
		s.mu.Unlock()
		if ready {
			return nil
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close unsubscribes. Safe to call more than once and after the session stops.
func (s *Subscriber) Close() {
	s.owner.remove(s)
	s.finish()
}
