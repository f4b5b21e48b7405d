// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"

	"github.com/bureau-foundation/timeline/lib/ref"
)

// Session is the interface for the authenticated Matrix operations the
// timeline engine performs. *DirectSession is the production
// implementation; tests substitute fakes.
type Session interface {
	// UserID returns the fully-qualified Matrix user ID of the
	// session's account (e.g., "@alice:example.com").
	UserID() ref.UserID

	// WhoAmI validates the session and returns the user ID.
	WhoAmI(ctx context.Context) (ref.UserID, error)

	// ResolveAlias resolves a room alias to a room ID.
	ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error)

	// GetStateEvent fetches a specific state event's content from a
	// room. Returns the raw JSON content for the caller to unmarshal.
	// Missing state is a *MatrixError with code M_NOT_FOUND.
	GetStateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (json.RawMessage, error)

	// GetEvent fetches a single event by ID. Used to resolve reply
	// targets that arrive without inline content.
	GetEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*Event, error)

	// GetRoomMembers returns the members of a room.
	GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]RoomMember, error)

	// SendMessage sends a message to a room. Returns the event ID.
	SendMessage(ctx context.Context, roomID ref.RoomID, content MessageContent) (ref.EventID, error)

	// SendReceipt acknowledges an event with the given receipt type
	// (ReceiptRead, ReceiptReadPrivate, or ReceiptFullyRead).
	SendReceipt(ctx context.Context, roomID ref.RoomID, receiptType string, eventID ref.EventID) error

	// RoomMessages fetches paginated messages from a room.
	RoomMessages(ctx context.Context, roomID ref.RoomID, options RoomMessagesOptions) (*RoomMessagesResponse, error)

	// Sync performs an incremental sync with the homeserver.
	Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error)
}

// Compile-time check: *DirectSession implements Session.
var _ Session = (*DirectSession)(nil)
