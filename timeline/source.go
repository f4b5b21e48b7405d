// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"context"

	"github.com/bureau-foundation/timeline/lib/ref"
	"github.com/bureau-foundation/timeline/messaging"
)

// Source feeds a timeline with raw entries. LiveSource implements it
// against a homeserver; tests implement it in memory.
type Source interface {
	// Batches starts the source and returns its batch stream. The
	// first batch is the initial snapshot (a reset). The channel
	// closes when ctx is cancelled or the source fails permanently.
	Batches(ctx context.Context) (<-chan Batch, error)

	// Paginate fetches up to limit older (DirectionBackward) or newer
	// (DirectionForward) events and emits them as a batch on the
	// Batches channel. It returns true when the direction is
	// exhausted. The timeline serializes Paginate per direction; the
	// source never sees concurrent calls for the same direction.
	Paginate(ctx context.Context, direction Direction, limit int) (reachedEnd bool, err error)
}

// MemberLister fetches the room membership used for sender display
// names. Satisfied by messaging.Session.
type MemberLister interface {
	GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]messaging.RoomMember, error)
}

// ReceiptSender posts read receipts. Satisfied by messaging.Session.
type ReceiptSender interface {
	SendReceipt(ctx context.Context, roomID ref.RoomID, receiptType string, eventID ref.EventID) error
}

// EventFetcher resolves single events, used for reply details.
// Satisfied by messaging.Session.
type EventFetcher interface {
	GetEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*messaging.Event, error)
}
