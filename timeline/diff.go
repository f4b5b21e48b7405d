// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"fmt"
	"time"

	"github.com/bureau-foundation/timeline/messaging"
)

// Entry is a raw timeline entry as delivered by the upstream source:
// either a protocol event or a virtual marker, tagged with its origin.
// Entries are mapped into Items at application time, never earlier, so
// the mapper always runs with current membership knowledge.
type Entry struct {
	// Event is the protocol event. Nil for virtual entries.
	Event *messaging.Event
	// Virtual is the marker kind for virtual entries. VirtualNone for
	// protocol events.
	Virtual VirtualKind
	// Date accompanies VirtualDaySeparator entries.
	Date time.Time
	// Origin classifies how the entry entered the timeline.
	Origin Origin
}

// Op is a primitive list mutation.
type Op int

const (
	// OpInsertAt inserts Entry at Index.
	OpInsertAt Op = iota
	// OpUpdateAt replaces the item at Index with the mapped Entry.
	OpUpdateAt
	// OpRemoveAt removes the item at Index.
	OpRemoveAt
	// OpMove moves the item at From to To.
	OpMove
	// OpPushFront inserts Entry at the front (oldest position).
	OpPushFront
	// OpPushBack appends Entry at the back (newest position).
	OpPushBack
	// OpPopFront removes the front item.
	OpPopFront
	// OpPopBack removes the back item.
	OpPopBack
	// OpClear removes all items.
	OpClear
	// OpReset replaces the whole list with Entries. The upstream
	// source sends this on initial load and after a sync gap.
	OpReset
	// OpUpdateByID replaces the event item with identity ItemID by
	// Item, leaving position untouched. Internal: carries the result
	// of an asynchronous detail fetch back into the single-writer
	// pipeline. No-op if the identity is no longer present.
	OpUpdateByID
)

// String returns the operation name for logs and errors.
func (op Op) String() string {
	switch op {
	case OpInsertAt:
		return "insert-at"
	case OpUpdateAt:
		return "update-at"
	case OpRemoveAt:
		return "remove-at"
	case OpMove:
		return "move"
	case OpPushFront:
		return "push-front"
	case OpPushBack:
		return "push-back"
	case OpPopFront:
		return "pop-front"
	case OpPopBack:
		return "pop-back"
	case OpClear:
		return "clear"
	case OpReset:
		return "reset"
	case OpUpdateByID:
		return "update-by-id"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Diff is one primitive mutation. Which fields are meaningful depends
// on Op.
type Diff struct {
	Op      Op
	Index   int
	From    int
	To      int
	Entry   *Entry
	Entries []Entry
	ItemID  string
	Item    *Item
}

// Batch is an ordered set of primitive mutations delivered atomically
// by the upstream source. The whole batch is applied before the new
// list is published; observers never see a partially-applied state.
type Batch []Diff

// Snapshot builds the batch form of a full initial item list: a single
// reset carrying the entries.
func Snapshot(entries []Entry) Batch {
	return Batch{{Op: OpReset, Entries: entries}}
}

// applyResult summarizes one batch application.
type applyResult struct {
	// newSyncedEvent is true when the batch carried at least one
	// event item with OriginSync — a live incoming event rather than
	// cache or backfill.
	newSyncedEvent bool
	// detailRequests lists reply targets that need asynchronous
	// resolution.
	detailRequests []detailRequest
}

// processor owns the canonical item list. All mutation goes through
// seed and apply, which the façade calls from its single owner
// goroutine; the processor itself holds no lock.
type processor struct {
	mapper *Mapper
	items  []Item
}

func newProcessor(mapper *Mapper) *processor {
	return &processor{mapper: mapper}
}

// snapshot returns a copy of the canonical list for publication.
// Observers treat the copy as immutable.
func (p *processor) snapshot() []Item {
	out := make([]Item, len(p.items))
	copy(out, p.items)
	return out
}

// len returns the canonical list length.
func (p *processor) len() int { return len(p.items) }

// seed populates the canonical list from the full initial snapshot,
// in chunks, calling publish after each chunk so a long history
// becomes visible incrementally. The final list is identical to
// appending all entries in one step.
func (p *processor) seed(entries []Entry, chunkSize int, publish func()) applyResult {
	var result applyResult
	for start := 0; start < len(entries); start += chunkSize {
		end := min(start+chunkSize, len(entries))
		for _, entry := range entries[start:end] {
			item, detail := p.mapper.Map(entry)
			if detail != nil {
				result.detailRequests = append(result.detailRequests, *detail)
			}
			p.items = append(p.items, item)
		}
		publish()
	}
	if len(entries) == 0 {
		// An empty room still publishes once so observers receive the
		// initial (empty) state.
		publish()
	}
	return result
}

// apply applies one batch atomically. The batch is validated against
// the running list length before any primitive executes; a batch that
// would reference an invalid index is rejected whole, leaving the
// canonical list untouched. Upstream guarantees validity — rejection
// indicates a corrupt or reordered stream, not a recoverable state.
func (p *processor) apply(batch Batch) (applyResult, error) {
	if err := validateBatch(batch, len(p.items)); err != nil {
		return applyResult{}, err
	}

	var result applyResult
	mapEntry := func(entry *Entry) Item {
		item, detail := p.mapper.Map(*entry)
		if detail != nil {
			result.detailRequests = append(result.detailRequests, *detail)
		}
		if entry.Event != nil && entry.Origin == OriginSync {
			result.newSyncedEvent = true
		}
		return item
	}

	for _, diff := range batch {
		switch diff.Op {
		case OpInsertAt:
			p.insert(diff.Index, mapEntry(diff.Entry))
		case OpUpdateAt:
			p.items[diff.Index] = mapEntry(diff.Entry)
		case OpRemoveAt:
			p.items = append(p.items[:diff.Index], p.items[diff.Index+1:]...)
		case OpMove:
			moved := p.items[diff.From]
			p.items = append(p.items[:diff.From], p.items[diff.From+1:]...)
			p.insert(diff.To, moved)
		case OpPushFront:
			p.insert(0, mapEntry(diff.Entry))
		case OpPushBack:
			p.items = append(p.items, mapEntry(diff.Entry))
		case OpPopFront:
			p.items = p.items[1:]
		case OpPopBack:
			p.items = p.items[:len(p.items)-1]
		case OpClear:
			p.items = nil
		case OpReset:
			p.items = nil
			for _, entry := range diff.Entries {
				entry := entry
				p.items = append(p.items, mapEntry(&entry))
			}
		case OpUpdateByID:
			for index, item := range p.items {
				if item.Kind == KindEvent && item.Event.ItemID == diff.ItemID {
					p.items[index] = *diff.Item
					break
				}
			}
		}
	}
	return result, nil
}

// refreshSenderNames re-resolves sender display names across the
// canonical list. Called after membership details arrive.
func (p *processor) refreshSenderNames(resolve func(item *EventItem) string) {
	for index, item := range p.items {
		if item.Kind != KindEvent {
			continue
		}
		event := *item.Event
		event.SenderName = resolve(&event)
		p.items[index] = NewEventItem(&event)
	}
}

func (p *processor) insert(index int, item Item) {
	p.items = append(p.items, Item{})
	copy(p.items[index+1:], p.items[index:])
	p.items[index] = item
}

// validateBatch checks every primitive against the list length it
// would observe at its position in the batch, simulating length
// changes without touching the list.
func validateBatch(batch Batch, length int) error {
	for position, diff := range batch {
		fail := func(format string, args ...any) error {
			return fmt.Errorf("timeline: batch[%d] %s: %s (list length %d)",
				position, diff.Op, fmt.Sprintf(format, args...), length)
		}
		switch diff.Op {
		case OpInsertAt:
			if diff.Entry == nil {
				return fail("missing entry")
			}
			if diff.Index < 0 || diff.Index > length {
				return fail("index %d out of range", diff.Index)
			}
			length++
		case OpUpdateAt:
			if diff.Entry == nil {
				return fail("missing entry")
			}
			if diff.Index < 0 || diff.Index >= length {
				return fail("index %d out of range", diff.Index)
			}
		case OpRemoveAt:
			if diff.Index < 0 || diff.Index >= length {
				return fail("index %d out of range", diff.Index)
			}
			length--
		case OpMove:
			if diff.From < 0 || diff.From >= length {
				return fail("from %d out of range", diff.From)
			}
			if diff.To < 0 || diff.To >= length {
				return fail("to %d out of range", diff.To)
			}
		case OpPushFront, OpPushBack:
			if diff.Entry == nil {
				return fail("missing entry")
			}
			length++
		case OpPopFront, OpPopBack:
			if length == 0 {
				return fail("pop on empty list")
			}
			length--
		case OpClear:
			length = 0
		case OpReset:
			length = len(diff.Entries)
		case OpUpdateByID:
			if diff.Item == nil || diff.ItemID == "" {
				return fail("missing item")
			}
		default:
			return fail("unknown operation")
		}
	}
	return nil
}
