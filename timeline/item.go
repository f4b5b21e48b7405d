// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/timeline/lib/ref"
)

// Origin classifies why an event item entered the timeline.
type Origin int

const (
	// OriginUnknown is the zero value, used when the upstream source
	// did not tag the entry.
	OriginUnknown Origin = iota
	// OriginSync marks a live event delivered by incremental /sync.
	OriginSync
	// OriginCache marks an event restored from the initial snapshot.
	OriginCache
	// OriginPagination marks an event backfilled by a pagination
	// request.
	OriginPagination
)

// String returns a short label for logging.
func (o Origin) String() string {
	switch o {
	case OriginSync:
		return "sync"
	case OriginCache:
		return "cache"
	case OriginPagination:
		return "pagination"
	default:
		return "unknown"
	}
}

// Kind discriminates the two item variants.
type Kind int

const (
	// KindEvent is a rendered protocol event (message, state change,
	// redaction).
	KindEvent Kind = iota
	// KindVirtual is a synthetic marker with no protocol counterpart.
	KindVirtual
)

// VirtualKind discriminates synthetic markers.
type VirtualKind int

const (
	// VirtualNone is the zero value: the entry is not virtual.
	VirtualNone VirtualKind = iota
	// VirtualDaySeparator renders a date boundary between events.
	VirtualDaySeparator
	// VirtualLoadingIndicator renders a spinner while pagination is
	// in flight at one end of the timeline.
	VirtualLoadingIndicator
	// VirtualRoomBeginning marks the start of the conversation once
	// backward history is exhausted.
	VirtualRoomBeginning
	// VirtualEncryptedHistory notes that messages before the last
	// login cannot be decrypted without key backup.
	VirtualEncryptedHistory
	// VirtualReadMarker marks the user's last fully-read position.
	VirtualReadMarker
)

// String returns a short label for logging and item identity.
func (k VirtualKind) String() string {
	switch k {
	case VirtualDaySeparator:
		return "day-separator"
	case VirtualLoadingIndicator:
		return "loading"
	case VirtualRoomBeginning:
		return "beginning"
	case VirtualEncryptedHistory:
		return "encrypted-history"
	case VirtualReadMarker:
		return "read-marker"
	default:
		return "none"
	}
}

// ContentKind discriminates mapped event content.
type ContentKind int

const (
	// ContentMessage is a renderable m.room.message body.
	ContentMessage ContentKind = iota
	// ContentState summarizes a state change (membership, name,
	// topic).
	ContentState
	// ContentRedacted is a message removed by redaction.
	ContentRedacted
	// ContentUnknown is the placeholder for unrecognized or malformed
	// entries. Mapping never fails; it degrades to this.
	ContentUnknown
)

// Item is one display entry in the timeline: either a protocol event
// or a virtual marker. Exactly one of Event and Virtual is non-nil,
// matching Kind. Pipeline stages and renderers switch over Kind; the
// variant set is closed.
type Item struct {
	Kind    Kind
	Event   *EventItem
	Virtual *VirtualItem
}

// ID returns the stable identity of the item. Event items keep their
// identity across in-place updates (edits, redactions, detail
// enrichment) so renderers can preserve scroll position and diff
// state. Virtual items derive identity from their kind (plus the date
// for day separators and the direction for loading indicators). This
// makes repeated pipeline runs produce identically keyed output.
func (i Item) ID() string {
	switch i.Kind {
	case KindEvent:
		return i.Event.ItemID
	case KindVirtual:
		v := i.Virtual
		switch v.Kind {
		case VirtualDaySeparator:
			return "virtual:day:" + v.Date.Format("2006-01-02")
		case VirtualLoadingIndicator:
			return "virtual:loading:" + v.Direction.String()
		default:
			return "virtual:" + v.Kind.String()
		}
	}
	return ""
}

// IsEvent reports whether the item is a protocol event.
func (i Item) IsEvent() bool { return i.Kind == KindEvent }

// IsVirtual reports whether the item is the given virtual marker kind.
func (i Item) IsVirtual(kind VirtualKind) bool {
	return i.Kind == KindVirtual && i.Virtual.Kind == kind
}

// EventItem is a rendered protocol event.
type EventItem struct {
	// ItemID is the stable timeline identity: the event ID string.
	ItemID string
	// EventID is the server-assigned event identifier.
	EventID ref.EventID
	// Sender is the event author.
	Sender ref.UserID
	// SenderName is the resolved display name, disambiguated when two
	// members share one. Falls back to the user ID until membership
	// details arrive.
	SenderName string
	// Timestamp is the origin server timestamp.
	Timestamp time.Time
	// Origin records how the event entered the timeline.
	Origin Origin
	// Content is the mapped, render-ready content.
	Content Content
	// Hidden marks events the user opted not to see. The invisible
	// filter drops them before publication.
	Hidden bool
}

// Content is the mapped content of an event item.
type Content struct {
	Kind ContentKind

	// Message fields (ContentMessage).
	MsgType       string
	Body          string
	FormattedBody string
	Edited        bool

	// Reply context. ReplyTo is set when the message replies to
	// another event; ReplyBody and ReplySender are filled in by the
	// asynchronous detail fetch and empty until it completes.
	ReplyTo     ref.EventID
	ReplySender string
	ReplyBody   string

	// State fields (ContentState): the event type, state key, and a
	// one-line human-readable summary ("alice joined the room").
	StateType ref.EventType
	StateKey  string
	Summary   string
}

// VirtualItem is a synthetic, non-protocol display entry.
type VirtualItem struct {
	Kind VirtualKind
	// Date is set for day separators (midnight, UTC).
	Date time.Time
	// Direction is set for loading indicators.
	Direction Direction
	// Direct selects the 1:1-conversation wording of the
	// room-beginning marker.
	Direct bool
}

// NewEventItem wraps an EventItem in an Item.
func NewEventItem(event *EventItem) Item {
	return Item{Kind: KindEvent, Event: event}
}

// NewVirtualItem wraps a VirtualItem in an Item.
func NewVirtualItem(virtual *VirtualItem) Item {
	return Item{Kind: KindVirtual, Virtual: virtual}
}

// String renders a compact debug form ("event $abc" / "virtual
// day-separator"). Used in log output and test failure messages.
func (i Item) String() string {
	switch i.Kind {
	case KindEvent:
		return fmt.Sprintf("event %s", i.Event.ItemID)
	case KindVirtual:
		return fmt.Sprintf("virtual %s", i.Virtual.Kind)
	}
	return "invalid item"
}
