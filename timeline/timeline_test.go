// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/timeline/lib/ref"
	"github.com/bureau-foundation/timeline/lib/testutil"
	"github.com/bureau-foundation/timeline/messaging"
)

const testTimeout = 5 * time.Second

var testRoom = ref.MustParseRoomID("!room:example.com")

// fakeSource drives a timeline from the test body.
type fakeSource struct {
	batches  chan Batch
	mu       sync.Mutex
	calls    int
	paginate func(ctx context.Context, direction Direction, limit int) (bool, error)
}

func newFakeSource() *fakeSource {
	return &fakeSource{batches: make(chan Batch)}
}

func (f *fakeSource) Batches(ctx context.Context) (<-chan Batch, error) {
	return f.batches, nil
}

func (f *fakeSource) Paginate(ctx context.Context, direction Direction, limit int) (bool, error) {
	f.mu.Lock()
	f.calls++
	fn := f.paginate
	f.mu.Unlock()
	if fn == nil {
		return true, nil
	}
	return fn(ctx, direction, limit)
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestTimeline(t *testing.T, source Source, configure func(*Config)) *Timeline {
	t.Helper()
	config := Config{RoomID: testRoom, Source: source}
	if configure != nil {
		configure(&config)
	}
	tl, err := New(context.Background(), config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(tl.Close)
	return tl
}

// waitForSnapshot reads published snapshots until one satisfies the
// predicate, failing the test on timeout.
func waitForSnapshot(t *testing.T, ch <-chan []Item, describe string, want func([]Item) bool) []Item {
	t.Helper()
	deadline := time.After(testTimeout)
	for {
		select {
		case snapshot := <-ch:
			if want(snapshot) {
				return snapshot
			}
		case <-deadline:
			t.Fatalf("no snapshot matching %q", describe)
		}
	}
}

func TestTimelineSeedsInChunks(t *testing.T) {
	source := newFakeSource()
	tl := newTestTimeline(t, source, func(c *Config) { c.ChunkSize = 50 })

	items, cancel := tl.Items()
	defer cancel()

	entries := make([]Entry, 120)
	for i := range entries {
		entries[i] = eventEntry(i, OriginCache)
	}
	source.batches <- Snapshot(entries)
	testutil.RequireClosed(t, tl.Ready(), testTimeout, "timeline never became ready")

	// The subscriber existed before seeding, so it sees the empty
	// initial state and then every chunk.
	var lengths []int
	for {
		snapshot := testutil.RequireReceive(t, items, testTimeout, "seed snapshot")
		lengths = append(lengths, len(snapshot))
		if len(snapshot) == 120 {
			break
		}
	}
	want := []int{0, 50, 100, 120}
	if len(lengths) != len(want) {
		t.Fatalf("snapshot lengths = %v, want %v", lengths, want)
	}
	for i := range want {
		if lengths[i] != want[i] {
			t.Fatalf("snapshot lengths = %v, want %v", lengths, want)
		}
	}
}

func TestPaginateSingleFlight(t *testing.T) {
	source := newFakeSource()
	inFlight := make(chan struct{})
	release := make(chan struct{})
	source.paginate = func(ctx context.Context, direction Direction, limit int) (bool, error) {
		close(inFlight)
		<-release
		return false, nil
	}
	tl := newTestTimeline(t, source, nil)
	source.batches <- Snapshot(nil)
	testutil.RequireClosed(t, tl.Ready(), testTimeout)

	firstDone := make(chan error, 1)
	go func() {
		_, err := tl.Paginate(context.Background(), DirectionBackward)
		firstDone <- err
	}()
	testutil.RequireClosed(t, inFlight, testTimeout, "pagination never started")

	if !tl.PaginationStatus(DirectionBackward).IsPaginating {
		t.Fatal("status not paginating during fetch")
	}
	// A second caller fails fast instead of queueing a second fetch.
	if _, err := tl.Paginate(context.Background(), DirectionBackward); !errors.Is(err, ErrCannotPaginate) {
		t.Fatalf("concurrent paginate error = %v, want ErrCannotPaginate", err)
	}

	close(release)
	if err := testutil.RequireReceive(t, firstDone, testTimeout); err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if got := source.callCount(); got != 1 {
		t.Fatalf("source saw %d fetches, want 1", got)
	}
	if !tl.PaginationStatus(DirectionBackward).CanPaginate() {
		t.Fatal("direction not paginate-able after fetch")
	}
}

func TestPaginateExhaustionShowsBeginning(t *testing.T) {
	source := newFakeSource()
	source.paginate = func(ctx context.Context, direction Direction, limit int) (bool, error) {
		return true, nil
	}
	tl := newTestTimeline(t, source, nil)

	items, cancel := tl.Items()
	defer cancel()
	source.batches <- Snapshot([]Entry{eventEntry(1, OriginCache)})
	testutil.RequireClosed(t, tl.Ready(), testTimeout)

	more, err := tl.Paginate(context.Background(), DirectionBackward)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if more {
		t.Fatal("exhausted direction reported more to load")
	}

	snapshot := waitForSnapshot(t, items, "beginning marker", func(items []Item) bool {
		return len(items) > 0 && items[0].IsVirtual(VirtualRoomBeginning)
	})
	if snapshot[0].ID() != "virtual:beginning" {
		t.Fatalf("head item = %q", snapshot[0].ID())
	}

	// The exhausted direction fails fast without touching the source.
	calls := source.callCount()
	if _, err := tl.Paginate(context.Background(), DirectionBackward); !errors.Is(err, ErrCannotPaginate) {
		t.Fatalf("paginate after exhaustion = %v, want ErrCannotPaginate", err)
	}
	if source.callCount() != calls {
		t.Fatal("exhausted paginate reached the source")
	}
}

func TestPaginateCancellationRestoresStatus(t *testing.T) {
	source := newFakeSource()
	started := make(chan struct{})
	source.paginate = func(ctx context.Context, direction Direction, limit int) (bool, error) {
		close(started)
		<-ctx.Done()
		return false, ctx.Err()
	}
	tl := newTestTimeline(t, source, nil)
	source.batches <- Snapshot(nil)
	testutil.RequireClosed(t, tl.Ready(), testTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := tl.Paginate(ctx, DirectionBackward)
		done <- err
	}()
	testutil.RequireClosed(t, started, testTimeout)
	cancel()

	if err := testutil.RequireReceive(t, done, testTimeout); !errors.Is(err, context.Canceled) {
		t.Fatalf("paginate error = %v, want context.Canceled", err)
	}
	// Rollback: the direction is retryable.
	status := tl.PaginationStatus(DirectionBackward)
	if !status.CanPaginate() {
		t.Fatalf("status after cancellation = %+v, want retryable", status)
	}
}

func TestSyncedEventsSignalsOncePerBatch(t *testing.T) {
	source := newFakeSource()
	tl := newTestTimeline(t, source, nil)
	source.batches <- Snapshot([]Entry{eventEntry(1, OriginCache)})
	testutil.RequireClosed(t, tl.Ready(), testTimeout)

	// The cache-origin snapshot fires nothing.
	testutil.RequireNoReceive(t, tl.SyncedEvents(), 50*time.Millisecond, "snapshot fired sync signal")

	live1 := eventEntry(2, OriginSync)
	live2 := eventEntry(3, OriginSync)
	source.batches <- Batch{
		{Op: OpPushBack, Entry: &live1},
		{Op: OpPushBack, Entry: &live2},
	}
	testutil.RequireReceive(t, tl.SyncedEvents(), testTimeout, "no sync signal")
	testutil.RequireNoReceive(t, tl.SyncedEvents(), 50*time.Millisecond, "batch fired more than one signal")

	paged := eventEntry(0, OriginPagination)
	source.batches <- Batch{{Op: OpPushFront, Entry: &paged}}
	testutil.RequireNoReceive(t, tl.SyncedEvents(), 50*time.Millisecond, "backfill fired sync signal")
}

func TestResetClearsStaleState(t *testing.T) {
	source := newFakeSource()
	tl := newTestTimeline(t, source, nil)

	items, cancel := tl.Items()
	defer cancel()
	source.batches <- Snapshot([]Entry{
		eventEntry(1, OriginCache),
		{Virtual: VirtualReadMarker},
		eventEntry(2, OriginCache),
	})
	testutil.RequireClosed(t, tl.Ready(), testTimeout)
	waitForSnapshot(t, items, "initial marker", func(items []Item) bool {
		for _, item := range items {
			if item.IsVirtual(VirtualReadMarker) {
				return true
			}
		}
		return false
	})

	// A gap reset replaces the window; the stale marker must not
	// survive it.
	source.batches <- Snapshot([]Entry{
		eventEntry(10, OriginSync),
		eventEntry(11, OriginSync),
	})
	snapshot := waitForSnapshot(t, items, "reset window", func(items []Item) bool {
		for _, item := range items {
			if item.ID() == "$ev10" {
				return true
			}
		}
		return false
	})
	for _, item := range snapshot {
		if item.IsVirtual(VirtualReadMarker) {
			t.Fatal("stale read marker survived reset")
		}
		if item.ID() == "$ev1" || item.ID() == "$ev2" {
			t.Fatalf("stale event %s survived reset", item.ID())
		}
	}
}

type fakeReceipts struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeReceipts) SendReceipt(ctx context.Context, roomID ref.RoomID, receiptType string, eventID ref.EventID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, receiptType+" "+eventID.String())
	return nil
}

func TestSendReadReceiptMovesMarker(t *testing.T) {
	source := newFakeSource()
	receipts := &fakeReceipts{}
	tl := newTestTimeline(t, source, func(c *Config) { c.Receipts = receipts })

	items, cancel := tl.Items()
	defer cancel()
	source.batches <- Snapshot([]Entry{
		eventEntry(1, OriginCache),
		{Virtual: VirtualReadMarker},
		eventEntry(2, OriginCache),
		eventEntry(3, OriginCache),
	})
	testutil.RequireClosed(t, tl.Ready(), testTimeout)

	if err := tl.SendReadReceipt(context.Background(), "$ev3", messaging.ReceiptFullyRead); err != nil {
		t.Fatalf("SendReadReceipt: %v", err)
	}

	// The marker lands after $ev3; trailing markers are trimmed from
	// the published list, so observe the move in focused rendering
	// via the receipt call plus the marker's canonical position.
	waitForSnapshot(t, items, "marker moved", func(items []Item) bool {
		for _, item := range items {
			if item.IsVirtual(VirtualReadMarker) {
				return false
			}
		}
		return len(items) == 3
	})

	receipts.mu.Lock()
	defer receipts.mu.Unlock()
	if len(receipts.calls) != 1 || receipts.calls[0] != "m.fully_read $ev3" {
		t.Fatalf("receipt calls = %v", receipts.calls)
	}
}

func TestSendReadReceiptRejectsVirtualItems(t *testing.T) {
	source := newFakeSource()
	tl := newTestTimeline(t, source, func(c *Config) { c.Receipts = &fakeReceipts{} })
	source.batches <- Snapshot(nil)
	testutil.RequireClosed(t, tl.Ready(), testTimeout)

	if err := tl.SendReadReceipt(context.Background(), "virtual:read-marker", messaging.ReceiptRead); err == nil {
		t.Fatal("expected error for virtual item ID")
	}
}

type fakeMembers struct {
	members []messaging.RoomMember
}

func (f *fakeMembers) GetRoomMembers(ctx context.Context, roomID ref.RoomID) ([]messaging.RoomMember, error) {
	return f.members, nil
}

func TestMemberNamesRefreshAfterLoad(t *testing.T) {
	source := newFakeSource()
	members := &fakeMembers{members: []messaging.RoomMember{
		{UserID: ref.MustParseUserID("@alice:example.com"), DisplayName: "Alice"},
	}}
	tl := newTestTimeline(t, source, func(c *Config) { c.Members = members })

	items, cancel := tl.Items()
	defer cancel()
	source.batches <- Snapshot([]Entry{eventEntry(1, OriginCache)})

	// The first snapshots render the raw user ID; once membership
	// loads, the display name replaces it.
	waitForSnapshot(t, items, "resolved sender name", func(items []Item) bool {
		for _, item := range items {
			if item.IsEvent() && item.Event.SenderName == "Alice" {
				return true
			}
		}
		return false
	})
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(context.Background(), Config{Source: newFakeSource()}); err == nil {
		t.Fatal("expected error for missing room ID")
	}
	if _, err := New(context.Background(), Config{RoomID: testRoom}); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	source := newFakeSource()
	tl := newTestTimeline(t, source, nil)
	source.batches <- Snapshot(nil)
	testutil.RequireClosed(t, tl.Ready(), testTimeout)
	tl.Close()
	tl.Close()
}
