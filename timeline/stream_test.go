// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"testing"
	"time"

	"github.com/bureau-foundation/timeline/lib/testutil"
)

const streamTimeout = 5 * time.Second

func TestStreamDeliversInOrder(t *testing.T) {
	s := NewStream[int]()
	defer s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()

	for i := range 100 {
		s.Publish(i)
	}
	for i := range 100 {
		got := testutil.RequireReceive(t, ch, streamTimeout, "value %d", i)
		if got != i {
			t.Fatalf("received %d, want %d", got, i)
		}
	}
}

func TestStreamNeverDropsForSlowConsumer(t *testing.T) {
	s := NewStream[int]()

	ch, cancel := s.Subscribe()
	defer cancel()

	// Publish far more than any channel buffer before reading a
	// single value. The per-subscriber queue is unbounded, so every
	// value must arrive.
	const count = 10_000
	for i := range count {
		s.Publish(i)
	}
	for i := range count {
		got := testutil.RequireReceive(t, ch, streamTimeout, "value %d", i)
		if got != i {
			t.Fatalf("received %d, want %d", got, i)
		}
	}
}

func TestStreamInitialValues(t *testing.T) {
	s := NewStream[string]()
	defer s.Close()

	ch, cancel := s.Subscribe("first", "second")
	defer cancel()
	s.Publish("third")

	for _, want := range []string{"first", "second", "third"} {
		if got := testutil.RequireReceive(t, ch, streamTimeout); got != want {
			t.Fatalf("received %q, want %q", got, want)
		}
	}
}

func TestStreamCloseFlushesQueue(t *testing.T) {
	s := NewStream[int]()
	ch, cancel := s.Subscribe()
	defer cancel()

	s.Publish(1)
	s.Publish(2)
	s.Close()

	if got := testutil.RequireReceive(t, ch, streamTimeout); got != 1 {
		t.Fatalf("received %d, want 1", got)
	}
	if got := testutil.RequireReceive(t, ch, streamTimeout); got != 2 {
		t.Fatalf("received %d, want 2", got)
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel open after close and drain")
	}
}

func TestStreamCancelStopsDelivery(t *testing.T) {
	s := NewStream[int]()
	defer s.Close()

	ch, cancel := s.Subscribe()
	cancel()

	// Publishing after cancel must not reach the subscriber; the
	// channel closes instead.
	s.Publish(42)
	deadline := time.After(streamTimeout)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}

func TestStreamIndependentSubscribers(t *testing.T) {
	s := NewStream[int]()
	defer s.Close()

	fast, cancelFast := s.Subscribe()
	defer cancelFast()
	_, cancelSlow := s.Subscribe()
	defer cancelSlow()

	// The slow subscriber never reads; the fast one must still
	// receive everything promptly.
	for i := range 50 {
		s.Publish(i)
	}
	for i := range 50 {
		if got := testutil.RequireReceive(t, fast, streamTimeout); got != i {
			t.Fatalf("received %d, want %d", got, i)
		}
	}
}

func TestStreamSubscribeAfterClose(t *testing.T) {
	s := NewStream[int]()
	s.Close()

	ch, cancel := s.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Fatal("subscription on closed stream delivered a value")
	}
}
