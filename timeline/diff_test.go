// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bureau-foundation/timeline/lib/ref"
	"github.com/bureau-foundation/timeline/messaging"
)

// testEvent builds a plain text message event. The numeric ID keeps
// expectations readable.
func testEvent(id int, ts int64) *messaging.Event {
	return &messaging.Event{
		EventID:        ref.MustParseEventID(fmt.Sprintf("$ev%d", id)),
		Type:           "m.room.message",
		Sender:         ref.MustParseUserID("@alice:example.com"),
		OriginServerTS: ts,
		Content:        json.RawMessage(`{"msgtype":"m.text","body":"hello"}`),
	}
}

func eventEntry(id int, origin Origin) Entry {
	return Entry{Event: testEvent(id, time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC).UnixMilli()), Origin: origin}
}

// itemIDs flattens the processor's list to item identities.
func itemIDs(p *processor) []string {
	items := p.snapshot()
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID()
	}
	return ids
}

func requireIDs(t *testing.T, p *processor, want ...string) {
	t.Helper()
	got := itemIDs(p)
	if len(got) != len(want) {
		t.Fatalf("list = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("list[%d] = %q, want %q (full list %v)", i, got[i], want[i], got)
		}
	}
}

func TestProcessorPrimitives(t *testing.T) {
	p := newProcessor(NewMapper())

	apply := func(batch Batch) applyResult {
		t.Helper()
		result, err := p.apply(batch)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		return result
	}

	apply(Batch{{Op: OpReset, Entries: []Entry{
		eventEntry(1, OriginCache),
		eventEntry(2, OriginCache),
		eventEntry(3, OriginCache),
	}}})
	requireIDs(t, p, "$ev1", "$ev2", "$ev3")

	entry4 := eventEntry(4, OriginSync)
	apply(Batch{{Op: OpPushBack, Entry: &entry4}})
	requireIDs(t, p, "$ev1", "$ev2", "$ev3", "$ev4")

	entry0 := eventEntry(0, OriginPagination)
	apply(Batch{{Op: OpPushFront, Entry: &entry0}})
	requireIDs(t, p, "$ev0", "$ev1", "$ev2", "$ev3", "$ev4")

	entry5 := eventEntry(5, OriginSync)
	apply(Batch{{Op: OpInsertAt, Index: 2, Entry: &entry5}})
	requireIDs(t, p, "$ev0", "$ev1", "$ev5", "$ev2", "$ev3", "$ev4")

	apply(Batch{{Op: OpMove, From: 2, To: 4}})
	requireIDs(t, p, "$ev0", "$ev1", "$ev2", "$ev3", "$ev5", "$ev4")

	apply(Batch{{Op: OpRemoveAt, Index: 4}})
	requireIDs(t, p, "$ev0", "$ev1", "$ev2", "$ev3", "$ev4")

	entry6 := eventEntry(6, OriginSync)
	apply(Batch{{Op: OpUpdateAt, Index: 0, Entry: &entry6}})
	requireIDs(t, p, "$ev6", "$ev1", "$ev2", "$ev3", "$ev4")

	apply(Batch{{Op: OpPopFront}, {Op: OpPopBack}})
	requireIDs(t, p, "$ev1", "$ev2", "$ev3")

	apply(Batch{{Op: OpClear}})
	requireIDs(t, p)
}

func TestProcessorBatchIsAtomic(t *testing.T) {
	p := newProcessor(NewMapper())
	if _, err := p.apply(Snapshot([]Entry{
		eventEntry(1, OriginCache),
		eventEntry(2, OriginCache),
	})); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// The first primitive is valid on its own; the second references
	// an index that never exists. Nothing may be applied.
	entry := eventEntry(3, OriginSync)
	_, err := p.apply(Batch{
		{Op: OpPushBack, Entry: &entry},
		{Op: OpRemoveAt, Index: 10},
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
	requireIDs(t, p, "$ev1", "$ev2")
}

func TestValidateBatchTracksRunningLength(t *testing.T) {
	entry := eventEntry(1, OriginSync)

	// Insert at index 2 is invalid on an empty list, but valid after
	// two pushes in the same batch.
	invalid := Batch{{Op: OpInsertAt, Index: 2, Entry: &entry}}
	if err := validateBatch(invalid, 0); err == nil {
		t.Fatal("expected error for insert past end")
	}

	valid := Batch{
		{Op: OpPushBack, Entry: &entry},
		{Op: OpPushBack, Entry: &entry},
		{Op: OpInsertAt, Index: 2, Entry: &entry},
	}
	if err := validateBatch(valid, 0); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// A pop on a list the batch itself emptied is invalid.
	overdrawn := Batch{
		{Op: OpClear},
		{Op: OpPopBack},
	}
	if err := validateBatch(overdrawn, 5); err == nil {
		t.Fatal("expected error for pop on emptied list")
	}
}

func TestProcessorSeedChunks(t *testing.T) {
	p := newProcessor(NewMapper())
	entries := make([]Entry, 120)
	for i := range entries {
		entries[i] = eventEntry(i, OriginCache)
	}

	var lengths []int
	p.seed(entries, 50, func() {
		lengths = append(lengths, p.len())
	})

	want := []int{50, 100, 120}
	if len(lengths) != len(want) {
		t.Fatalf("published %d intermediate states (%v), want %v", len(lengths), lengths, want)
	}
	for i := range want {
		if lengths[i] != want[i] {
			t.Fatalf("publish %d saw length %d, want %d", i, lengths[i], want[i])
		}
	}
	if p.len() != 120 {
		t.Fatalf("final length = %d, want 120", p.len())
	}
}

func TestProcessorSeedEmptyPublishesOnce(t *testing.T) {
	p := newProcessor(NewMapper())
	publishes := 0
	p.seed(nil, 50, func() { publishes++ })
	if publishes != 1 {
		t.Fatalf("publishes = %d, want 1", publishes)
	}
}

func TestApplyReportsNewSyncedEvents(t *testing.T) {
	p := newProcessor(NewMapper())

	cached := eventEntry(1, OriginCache)
	result, err := p.apply(Batch{{Op: OpPushBack, Entry: &cached}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.newSyncedEvent {
		t.Fatal("cache-origin entry reported as synced")
	}

	// One flag per batch regardless of how many live events it holds.
	live1 := eventEntry(2, OriginSync)
	live2 := eventEntry(3, OriginSync)
	separator := Entry{Virtual: VirtualDaySeparator, Date: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)}
	result, err = p.apply(Batch{
		{Op: OpPushBack, Entry: &separator},
		{Op: OpPushBack, Entry: &live1},
		{Op: OpPushBack, Entry: &live2},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !result.newSyncedEvent {
		t.Fatal("sync-origin batch not reported")
	}

	// Virtual-only batches never count as live events.
	marker := Entry{Virtual: VirtualReadMarker}
	result, err = p.apply(Batch{{Op: OpPushBack, Entry: &marker}})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if result.newSyncedEvent {
		t.Fatal("virtual entry reported as synced")
	}
}

func TestUpdateByIDReplacesInPlace(t *testing.T) {
	p := newProcessor(NewMapper())
	if _, err := p.apply(Snapshot([]Entry{
		eventEntry(1, OriginCache),
		eventEntry(2, OriginCache),
	})); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	updated := p.snapshot()[1]
	event := *updated.Event
	event.Content.Body = "edited"
	replaced := NewEventItem(&event)
	if _, err := p.apply(Batch{{Op: OpUpdateByID, ItemID: "$ev2", Item: &replaced}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	items := p.snapshot()
	if items[1].Event.Content.Body != "edited" {
		t.Fatalf("body = %q, want %q", items[1].Event.Content.Body, "edited")
	}

	// Unknown identity is a silent no-op: the target may have been
	// removed while the detail fetch was in flight.
	if _, err := p.apply(Batch{{Op: OpUpdateByID, ItemID: "$gone", Item: &replaced}}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	requireIDs(t, p, "$ev1", "$ev2")
}
