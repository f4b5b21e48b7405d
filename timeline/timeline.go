// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/timeline/lib/clock"
	"github.com/bureau-foundation/timeline/lib/ref"
	"github.com/bureau-foundation/timeline/messaging"
)

const (
	defaultPageSize  = 20
	defaultChunkSize = 50
)

// EncryptionInfo describes the room's encryption state as it affects
// timeline decoration.
type EncryptionInfo struct {
	// Encrypted marks the room end-to-end encrypted.
	Encrypted bool
	// KeyBackupEnabled means history predating this login is
	// recoverable; the encrypted-history banner is suppressed.
	KeyBackupEnabled bool
	// LastLogin is when this session was created.
	LastLogin time.Time
}

// Config configures a Timeline.
type Config struct {
	// RoomID is the room the timeline tracks.
	RoomID ref.RoomID
	// Source feeds the timeline with entries.
	Source Source
	// Members resolves room membership for sender display names.
	// Optional; without it senders render as user IDs.
	Members MemberLister
	// Receipts posts read receipts. Optional; SendReadReceipt fails
	// without it.
	Receipts ReceiptSender
	// Events resolves reply targets. Optional; without it replies
	// render without the quoted original.
	Events EventFetcher
	// Mode selects live or focused tracking. Defaults to ModeLive.
	Mode Mode
	// Direct selects the 1:1 wording of the room-beginning marker.
	Direct bool
	// HideMembershipChanges drops join/leave items from the display,
	// not just profile-only changes.
	HideMembershipChanges bool
	// Encryption describes the room's encryption state.
	Encryption EncryptionInfo
	// PageSize is the event count requested per pagination. Defaults
	// to 20.
	PageSize int
	// ChunkSize bounds how many initial items are mapped between
	// intermediate publishes while seeding. Defaults to 50.
	ChunkSize int
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Clock defaults to the real clock.
	Clock clock.Clock
}

// Timeline is the façade over one room's event list. It owns a single
// goroutine through which every mutation flows; observers receive
// immutable snapshots and never touch shared state.
type Timeline struct {
	config     Config
	logger     *slog.Logger
	processor  *processor
	mapper     *Mapper
	pagination *paginationController
	items      *Stream[[]Item]

	// ready closes once the initial snapshot is fully seeded.
	ready chan struct{}
	// syncedEvents coalesces the once-per-batch live event signal.
	syncedEvents chan struct{}
	// tasks carries closures into the owner goroutine.
	tasks chan func()

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	current []Item

	closeOnce sync.Once
}

// New starts a timeline. The returned Timeline is live immediately;
// Ready reports when the initial snapshot has been published.
func New(ctx context.Context, config Config) (*Timeline, error) {
	if config.RoomID.IsZero() {
		return nil, fmt.Errorf("timeline: config missing room ID")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("timeline: config missing source")
	}
	if config.PageSize <= 0 {
		config.PageSize = defaultPageSize
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	ctx, cancel := context.WithCancel(ctx)
	mapper := NewMapper()
	mapper.hideMembership = config.HideMembershipChanges
	t := &Timeline{
		config:    config,
		logger:    config.Logger.With("room", config.RoomID),
		processor: newProcessor(mapper),
		mapper:    mapper,
		// Forward pagination only applies to focused timelines; a
		// live timeline's forward edge is fed by sync.
		pagination:   newPaginationController(true, config.Mode == ModeFocused),
		items:        NewStream[[]Item](),
		ready:        make(chan struct{}),
		syncedEvents: make(chan struct{}, 1),
		tasks:        make(chan func()),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	batches, err := config.Source.Batches(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("timeline: starting source: %w", err)
	}
	go t.run(batches)
	return t, nil
}

// Ready is closed once the initial snapshot has been seeded and
// published. Paginate blocks until then.
func (t *Timeline) Ready() <-chan struct{} { return t.ready }

// Items subscribes to published snapshots. The current snapshot is
// delivered first; afterwards one snapshot arrives per applied batch.
// Snapshots are immutable. cancel releases the subscription.
func (t *Timeline) Items() (<-chan []Item, func()) {
	t.mu.Lock()
	current := t.current
	t.mu.Unlock()
	return t.items.Subscribe(current)
}

// SyncedEvents signals batches that carried at least one live event
// from sync. The channel coalesces: a slow reader sees at least one
// signal, not one per batch. Used for unread tracking and notifier
// wakeups.
func (t *Timeline) SyncedEvents() <-chan struct{} { return t.syncedEvents }

// PaginationStatus returns the current status for a direction.
func (t *Timeline) PaginationStatus(direction Direction) PaginationStatus {
	return t.pagination.Status(direction)
}

// ObservePagination subscribes to status changes for a direction,
// current status first.
func (t *Timeline) ObservePagination(direction Direction) (<-chan PaginationStatus, func()) {
	return t.pagination.Observe(direction)
}

// Paginate extends the timeline in the given direction by one page
// and reports whether further pagination is possible afterwards. It
// blocks until the fetch lands or fails. ErrCannotPaginate is
// returned without a fetch when the direction is exhausted or already
// paginating; concurrent callers collapse into one request. A
// cancelled fetch restores the pre-call status so a retry is
// possible.
func (t *Timeline) Paginate(ctx context.Context, direction Direction) (bool, error) {
	select {
	case <-t.ready:
	case <-ctx.Done():
		return false, ctx.Err()
	case <-t.ctx.Done():
		return false, fmt.Errorf("timeline: closed")
	}

	if err := t.pagination.begin(direction); err != nil {
		return t.pagination.Status(direction).HasMoreToLoad, err
	}
	t.republish()

	reachedEnd, err := t.config.Source.Paginate(ctx, direction, t.config.PageSize)
	if err != nil {
		t.pagination.finish(direction, false)
		t.republish()
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		return true, fmt.Errorf("timeline: paginating %s: %w", direction, err)
	}
	t.pagination.finish(direction, reachedEnd)
	t.republish()
	return !reachedEnd, nil
}

// SendReadReceipt posts a receipt for the given event item and, for
// fully-read receipts, moves the local read marker below the event.
// itemID must identify an event item.
func (t *Timeline) SendReadReceipt(ctx context.Context, itemID string, receiptType string) error {
	if t.config.Receipts == nil {
		return fmt.Errorf("timeline: no receipt sender configured")
	}
	eventID, err := ref.ParseEventID(itemID)
	if err != nil {
		return fmt.Errorf("timeline: receipt target %q is not an event item: %w", itemID, err)
	}
	if err := t.config.Receipts.SendReceipt(ctx, t.config.RoomID, receiptType, eventID); err != nil {
		return fmt.Errorf("timeline: sending %s receipt: %w", receiptType, err)
	}
	if receiptType == messaging.ReceiptFullyRead {
		t.enqueue(func() {
			t.moveReadMarker(eventID)
			t.publish()
		})
	}
	return nil
}

// Close stops the owner goroutine and shuts down all streams. Safe to
// call more than once.
func (t *Timeline) Close() {
	t.closeOnce.Do(func() {
		t.cancel()
		<-t.done
		t.items.Close()
		t.pagination.close()
	})
}

// run is the owner goroutine: the only writer of the processor and
// the mapper. The first batch from the source is the initial
// snapshot; everything after is applied incrementally.
func (t *Timeline) run(batches <-chan Batch) {
	defer close(t.done)

	seeded := false
	for {
		select {
		case <-t.ctx.Done():
			return
		case task := <-t.tasks:
			task()
		case batch, ok := <-batches:
			if !ok {
				t.logger.Debug("source batch stream closed")
				return
			}
			if !seeded {
				t.seed(batch)
				seeded = true
				continue
			}
			t.applyBatch(batch)
		}
	}
}

// seed applies the initial snapshot in chunks, publishing after each
// so a long history becomes visible incrementally, then releases
// Ready and kicks off the member fetch.
func (t *Timeline) seed(batch Batch) {
	var entries []Entry
	if len(batch) == 1 && batch[0].Op == OpReset {
		entries = batch[0].Entries
	} else {
		t.logger.Warn("initial batch is not a snapshot", "ops", len(batch))
	}

	result := t.processor.seed(entries, t.config.ChunkSize, t.publish)
	t.logger.Debug("timeline seeded", "items", t.processor.len())
	close(t.ready)

	t.requestDetails(result.detailRequests)
	if t.config.Members != nil {
		go t.fetchMembers()
	}
}

func (t *Timeline) applyBatch(batch Batch) {
	result, err := t.processor.apply(batch)
	if err != nil {
		// A batch that fails validation indicates a corrupt source
		// stream. Dropping it whole keeps the published list
		// consistent; the next reset resynchronizes.
		t.logger.Error("dropping invalid batch", "error", err)
		return
	}
	t.publish()
	if result.newSyncedEvent {
		select {
		case t.syncedEvents <- struct{}{}:
		default:
		}
	}
	t.requestDetails(result.detailRequests)
}

// publish runs the post-processing pipeline over the canonical list
// and hands the result to subscribers. Owner goroutine only.
func (t *Timeline) publish() {
	snapshot := postProcess(t.processor.snapshot(), postContext{
		Backward:         t.pagination.Status(DirectionBackward),
		Forward:          t.pagination.Status(DirectionForward),
		Encrypted:        t.config.Encryption.Encrypted,
		KeyBackupEnabled: t.config.Encryption.KeyBackupEnabled,
		LastLogin:        t.config.Encryption.LastLogin,
		Direct:           t.config.Direct,
		Mode:             t.config.Mode,
	})
	t.mu.Lock()
	t.current = snapshot
	t.mu.Unlock()
	t.items.Publish(snapshot)
}

// republish schedules a publish on the owner goroutine. Used by
// methods running on caller goroutines after a status change.
func (t *Timeline) republish() {
	t.enqueue(t.publish)
}

// enqueue hands a closure to the owner goroutine, dropping it if the
// timeline is closed.
func (t *Timeline) enqueue(task func()) {
	select {
	case t.tasks <- task:
	case <-t.ctx.Done():
	}
}

// fetchMembers loads room membership once and refreshes sender names
// across the list. Failure is logged, not fatal: senders keep
// rendering as user IDs.
func (t *Timeline) fetchMembers() {
	members, err := t.config.Members.GetRoomMembers(t.ctx, t.config.RoomID)
	if err != nil {
		t.logger.Warn("fetching room members", "error", err)
		return
	}
	t.enqueue(func() {
		t.mapper.SetMembers(members)
		t.processor.refreshSenderNames(func(item *EventItem) string {
			return t.mapper.SenderName(item.Sender)
		})
		t.publish()
	})
}

// requestDetails resolves reply targets asynchronously. Each result
// re-enters the pipeline as an in-place item update.
func (t *Timeline) requestDetails(requests []detailRequest) {
	if t.config.Events == nil {
		return
	}
	for _, request := range requests {
		go t.fetchDetail(request)
	}
}

func (t *Timeline) fetchDetail(request detailRequest) {
	event, err := t.config.Events.GetEvent(t.ctx, t.config.RoomID, request.EventID)
	if err != nil {
		t.logger.Debug("fetching reply target", "event", request.EventID, "error", err)
		return
	}
	t.enqueue(func() {
		t.attachReplyDetail(request.ItemID, event)
		t.publish()
	})
}

// attachReplyDetail fills in the quoted original on the item that
// replied to event. Owner goroutine only.
func (t *Timeline) attachReplyDetail(itemID string, event *messaging.Event) {
	for _, item := range t.processor.snapshot() {
		if item.Kind != KindEvent || item.Event.ItemID != itemID {
			continue
		}
		updated := *item.Event
		updated.Content.ReplySender = t.mapper.SenderName(event.Sender)
		updated.Content.ReplyBody = replyBody(event)
		replaced := NewEventItem(&updated)
		if _, err := t.processor.apply(Batch{{
			Op:     OpUpdateByID,
			ItemID: itemID,
			Item:   &replaced,
		}}); err != nil {
			t.logger.Error("attaching reply detail", "error", err)
		}
		return
	}
}

// replyBody extracts a plain-text body for quoting.
func replyBody(event *messaging.Event) string {
	var message messaging.MessageContent
	if err := json.Unmarshal(event.Content, &message); err != nil || message.Body == "" {
		return "(unavailable)"
	}
	return message.Body
}

// moveReadMarker relocates the read marker to immediately after the
// given event. No-op if the event is not in the timeline. Owner
// goroutine only.
func (t *Timeline) moveReadMarker(eventID ref.EventID) {
	items := t.processor.snapshot()
	markerIndex := -1
	eventIndex := -1
	for index, item := range items {
		if item.IsVirtual(VirtualReadMarker) {
			markerIndex = index
		}
		if item.Kind == KindEvent && item.Event.EventID == eventID {
			eventIndex = index
		}
	}
	if eventIndex < 0 {
		return
	}

	var batch Batch
	target := eventIndex + 1
	if markerIndex >= 0 {
		if markerIndex == target {
			return
		}
		batch = append(batch, Diff{Op: OpRemoveAt, Index: markerIndex})
		if markerIndex < target {
			target--
		}
	}
	batch = append(batch, Diff{
		Op:    OpInsertAt,
		Index: target,
		Entry: &Entry{Virtual: VirtualReadMarker},
	})
	if _, err := t.processor.apply(batch); err != nil {
		t.logger.Error("moving read marker", "error", err)
	}
}
