// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"fmt"
	"time"
)

// Mode selects how a timeline tracks the room.
type Mode int

const (
	// ModeLive follows the room's forward edge via sync.
	ModeLive Mode = iota
	// ModeFocused is anchored on a past event and extends in both
	// directions by pagination only.
	ModeFocused
)

func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeFocused:
		return "focused"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// postContext carries the room state the post-processing pipeline
// decorates the item list with.
type postContext struct {
	Backward PaginationStatus
	Forward  PaginationStatus
	// Encrypted marks the room as end-to-end encrypted.
	Encrypted bool
	// KeyBackupEnabled suppresses the encrypted-history banner: with
	// backup, history before this login is recoverable.
	KeyBackupEnabled bool
	// LastLogin is when this session was created. Encrypted events
	// older than it are undecryptable without key backup.
	LastLogin time.Time
	// Direct selects the 1:1 wording of the room-beginning marker.
	Direct bool
	Mode   Mode
}

// postProcess derives the published list from the canonical one:
// hidden items are dropped and the edge markers (room beginning,
// encrypted history, loading indicators) are recomputed from the
// context. The pipeline is a pure function of (items, ctx) — stale
// markers from a previous pass are stripped before recomputation, so
// running it twice yields the same list.
func postProcess(items []Item, ctx postContext) []Item {
	out := make([]Item, 0, len(items)+3)
	for _, item := range items {
		if item.Kind == KindEvent && item.Event.Hidden {
			continue
		}
		if item.IsVirtual(VirtualRoomBeginning) ||
			item.IsVirtual(VirtualEncryptedHistory) ||
			item.IsVirtual(VirtualLoadingIndicator) {
			continue
		}
		out = append(out, item)
	}

	out = trimDanglingSeparators(out, ctx)

	if ctx.Encrypted && !ctx.KeyBackupEnabled && hasHistoryBefore(out, ctx.LastLogin) {
		out = prepend(out, NewVirtualItem(&VirtualItem{Kind: VirtualEncryptedHistory}))
	}

	switch {
	case ctx.Backward.IsPaginating:
		out = prepend(out, NewVirtualItem(&VirtualItem{
			Kind:      VirtualLoadingIndicator,
			Direction: DirectionBackward,
		}))
	case !ctx.Backward.HasMoreToLoad:
		out = prepend(out, NewVirtualItem(&VirtualItem{
			Kind:   VirtualRoomBeginning,
			Direct: ctx.Direct,
		}))
	}

	if ctx.Forward.IsPaginating {
		out = append(out, NewVirtualItem(&VirtualItem{
			Kind:      VirtualLoadingIndicator,
			Direction: DirectionForward,
		}))
	}

	return out
}

// trimDanglingSeparators removes decoration that lost its anchor once
// hidden items were dropped: a day separator with no event after it
// before the next separator, and, on a live timeline, a read marker
// with nothing unread after it.
func trimDanglingSeparators(items []Item, ctx postContext) []Item {
	out := items[:0]
	for index, item := range items {
		if item.IsVirtual(VirtualDaySeparator) && !eventFollows(items, index) {
			continue
		}
		if ctx.Mode == ModeLive && item.IsVirtual(VirtualReadMarker) && !anyEventFollows(items, index) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// eventFollows reports whether an event item appears after index,
// before the next day separator.
func eventFollows(items []Item, index int) bool {
	for _, item := range items[index+1:] {
		if item.IsVirtual(VirtualDaySeparator) {
			return false
		}
		if item.Kind == KindEvent {
			return true
		}
	}
	return false
}

// anyEventFollows reports whether any event item appears after index.
func anyEventFollows(items []Item, index int) bool {
	for _, item := range items[index+1:] {
		if item.Kind == KindEvent {
			return true
		}
	}
	return false
}

// hasHistoryBefore reports whether the oldest event predates the
// session login.
func hasHistoryBefore(items []Item, login time.Time) bool {
	for _, item := range items {
		if item.Kind == KindEvent {
			return item.Event.Timestamp.Before(login)
		}
	}
	return false
}

func prepend(items []Item, item Item) []Item {
	return append([]Item{item}, items...)
}
