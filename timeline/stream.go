// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import "sync"

// Stream fans values out to subscribers. Each subscriber has an
// unbounded FIFO queue drained by its own pump goroutine, so a slow
// consumer delays only itself and never loses a value. Publish never
// blocks.
type Stream[T any] struct {
	mu          sync.Mutex
	subscribers map[*subscriber[T]]struct{}
	closed      bool
}

type subscriber[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	closed  bool
	channel chan T
	done    chan struct{}
}

// NewStream returns an empty stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{subscribers: make(map[*subscriber[T]]struct{})}
}

// Subscribe registers a new subscriber and returns its delivery
// channel plus a cancel function. Values published after Subscribe
// returns are delivered in order; initial values, if any, are queued
// ahead of them. The channel is closed after cancel or Close once the
// queue drains.
func (s *Stream[T]) Subscribe(initial ...T) (<-chan T, func()) {
	sub := &subscriber[T]{channel: make(chan T), done: make(chan struct{})}
	sub.cond = sync.NewCond(&sub.mu)
	sub.queue = append(sub.queue, initial...)

	s.mu.Lock()
	if s.closed {
		sub.closed = true
	} else {
		s.subscribers[sub] = struct{}{}
	}
	s.mu.Unlock()

	go sub.pump()

	cancel := func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
		sub.close(false)
	}
	return sub.channel, cancel
}

// Publish queues value on every current subscriber.
func (s *Stream[T]) Publish(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		sub.push(value)
	}
}

// Close detaches all subscribers. Each subscriber's channel closes
// after its queued values are delivered. Publish after Close is a
// no-op.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	subs := make([]*subscriber[T], 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subscribers = make(map[*subscriber[T]]struct{})
	s.mu.Unlock()

	for _, sub := range subs {
		sub.close(true)
	}
}

func (sub *subscriber[T]) push(value T) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.queue = append(sub.queue, value)
	sub.cond.Signal()
}

// close shuts the subscriber down. With flush the pump drains the
// remaining queue before closing the channel; without, delivery stops
// immediately. Cancellation does not flush — a cancelled subscriber
// has stopped receiving and is owed nothing further.
func (sub *subscriber[T]) close(flush bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	if !flush {
		close(sub.done)
	}
	sub.cond.Signal()
}

// pump delivers queued values to the channel in order, then closes
// the channel once the subscriber is closed and drained.
func (sub *subscriber[T]) pump() {
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.closed {
			sub.cond.Wait()
		}
		if len(sub.queue) == 0 && sub.closed {
			sub.mu.Unlock()
			close(sub.channel)
			return
		}
		value := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()
		select {
		case sub.channel <- value:
		case <-sub.done:
			close(sub.channel)
			return
		}
	}
}
