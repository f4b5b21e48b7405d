// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"errors"
	"fmt"
	"sync"
)

// Direction selects which edge of the timeline to extend.
type Direction int

const (
	// DirectionBackward loads older history.
	DirectionBackward Direction = iota
	// DirectionForward loads newer events; meaningful only for
	// timelines focused on a past event, since a live timeline's
	// forward edge is fed by sync.
	DirectionForward
)

func (d Direction) String() string {
	switch d {
	case DirectionBackward:
		return "backward"
	case DirectionForward:
		return "forward"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ErrCannotPaginate is returned by Paginate when the requested
// direction is exhausted or a pagination in that direction is already
// in flight. Callers gate on PaginationStatus and treat this error as
// a cheap no-op, not a failure.
var ErrCannotPaginate = errors.New("timeline: cannot paginate")

// PaginationStatus describes one direction of the timeline.
type PaginationStatus struct {
	// IsPaginating is true while a fetch in this direction is in
	// flight.
	IsPaginating bool
	// HasMoreToLoad is false once the direction is exhausted.
	HasMoreToLoad bool
}

// CanPaginate reports whether a Paginate call in this direction would
// start a fetch.
func (s PaginationStatus) CanPaginate() bool {
	return !s.IsPaginating && s.HasMoreToLoad
}

// paginationController serializes pagination per direction and owns
// the status streams. begin/finish bracket one fetch; begin fails
// fast instead of queueing, so concurrent callers collapse into a
// single underlying request.
type paginationController struct {
	mu      sync.Mutex
	status  map[Direction]PaginationStatus
	streams map[Direction]*Stream[PaginationStatus]
}

func newPaginationController(backwardHasMore, forwardHasMore bool) *paginationController {
	c := &paginationController{
		status: map[Direction]PaginationStatus{
			DirectionBackward: {HasMoreToLoad: backwardHasMore},
			DirectionForward:  {HasMoreToLoad: forwardHasMore},
		},
		streams: map[Direction]*Stream[PaginationStatus]{
			DirectionBackward: NewStream[PaginationStatus](),
			DirectionForward:  NewStream[PaginationStatus](),
		},
	}
	return c
}

// Status returns the current status for a direction.
func (c *paginationController) Status(direction Direction) PaginationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status[direction]
}

// Observe subscribes to status changes for a direction. The current
// status is delivered first.
func (c *paginationController) Observe(direction Direction) (<-chan PaginationStatus, func()) {
	c.mu.Lock()
	current := c.status[direction]
	stream := c.streams[direction]
	c.mu.Unlock()
	return stream.Subscribe(current)
}

// begin transitions the direction into the paginating state. It
// returns ErrCannotPaginate when the direction is exhausted or a
// fetch is already in flight.
func (c *paginationController) begin(direction Direction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	status := c.status[direction]
	if !status.CanPaginate() {
		return fmt.Errorf("%w: %s (paginating=%t, more=%t)",
			ErrCannotPaginate, direction, status.IsPaginating, status.HasMoreToLoad)
	}
	c.set(direction, PaginationStatus{IsPaginating: true, HasMoreToLoad: true})
	return nil
}

// finish leaves the paginating state. reachedEnd marks the direction
// exhausted; a failed or cancelled fetch passes reachedEnd=false,
// restoring the pre-begin status so the caller can retry.
func (c *paginationController) finish(direction Direction, reachedEnd bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(direction, PaginationStatus{HasMoreToLoad: !reachedEnd})
}

// set updates status under c.mu and publishes the change.
func (c *paginationController) set(direction Direction, status PaginationStatus) {
	if c.status[direction] == status {
		return
	}
	c.status[direction] = status
	c.streams[direction].Publish(status)
}

// close shuts down the status streams.
func (c *paginationController) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, stream := range c.streams {
		stream.Close()
	}
}
