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
	// longPollTimeout is the /sync long-poll timeout.
	longPollTimeout = 30_000
	// retryTimeout is the pause before retrying a failed sync.
	retryTimeout = time.Second
	// maxSyncRetries bounds consecutive sync failures before the
	// source gives up and closes its batch stream.
	maxSyncRetries = 5
)

// SyncSession is the slice of messaging.Session a LiveSource needs.
type SyncSession interface {
	Sync(ctx context.Context, options messaging.SyncOptions) (*messaging.SyncResponse, error)
	RoomMessages(ctx context.Context, roomID ref.RoomID, options messaging.RoomMessagesOptions) (*messaging.RoomMessagesResponse, error)
	// CloseIdleConnections drops pooled connections. Called after a
	// sync failure so the retry dials fresh.
	CloseIdleConnections()
}

// LiveSourceConfig configures a LiveSource.
type LiveSourceConfig struct {
	Session SyncSession
	RoomID  ref.RoomID
	// Filter restricts what the sync stream carries. Optional.
	Filter *messaging.SyncFilter
	// InitialLimit caps the initial snapshot size. Defaults to 50.
	InitialLimit int
	// FocusToken anchors the source on a past position instead of
	// the live edge. When set the source does not run a sync loop:
	// the snapshot is backfilled from the token and both directions
	// extend by pagination.
	FocusToken string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Clock defaults to the real clock.
	Clock clock.Clock
}

// LiveSource feeds a timeline from a homeserver: an initial /sync
// snapshot, then a long-poll loop pushing live events, with backward
// pagination over /messages. With FocusToken set it becomes an
// anchored source paginating in both directions.
//
// The source owns the day-separator placement: a separator precedes
// the first event of each calendar day (UTC). It also places the read
// marker from the room's m.fully_read account data in the snapshot.
type LiveSource struct {
	config LiveSourceConfig
	logger *slog.Logger
	clock  clock.Clock

	batches chan Batch

	// mu guards the window state below: the sync loop goroutine and
	// Paginate (which runs on the façade caller's goroutine) both
	// touch it.
	mu            sync.Mutex
	backwardToken string
	forwardToken  string
	headDate      time.Time
	tailDate      time.Time
	hasEvents     bool
	// generation counts window rebuilds. A gap reset bumps it;
	// pagination results fetched against an older generation are
	// discarded instead of landing on the rebuilt window.
	generation int

	started bool
}

// NewLiveSource returns an unstarted source. Batches starts it.
func NewLiveSource(config LiveSourceConfig) (*LiveSource, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("timeline: live source missing session")
	}
	if config.RoomID.IsZero() {
		return nil, fmt.Errorf("timeline: live source missing room ID")
	}
	if config.InitialLimit <= 0 {
		config.InitialLimit = 50
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	return &LiveSource{
		config:  config,
		logger:  config.Logger.With("room", config.RoomID),
		clock:   config.Clock,
		batches: make(chan Batch),
	}, nil
}

// Batches performs the initial load and starts the live loop. The
// first batch on the returned channel is the snapshot.
func (s *LiveSource) Batches(ctx context.Context) (<-chan Batch, error) {
	if s.started {
		return nil, fmt.Errorf("timeline: live source already started")
	}
	s.started = true
	go s.run(ctx)
	return s.batches, nil
}

func (s *LiveSource) run(ctx context.Context) {
	defer close(s.batches)

	var since string
	var err error
	if s.config.FocusToken != "" {
		err = s.loadFocusedSnapshot(ctx)
	} else {
		since, err = s.loadLiveSnapshot(ctx)
	}
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("loading initial snapshot", "error", err)
		}
		return
	}
	if s.config.FocusToken != "" {
		// Anchored sources have no live edge; block until cancelled
		// so pagination batches keep a live channel to land on.
		<-ctx.Done()
		return
	}
	s.syncLoop(ctx, since)
}

// loadLiveSnapshot fetches the current timeline window with an
// immediate (timeout 0) filtered sync and emits it as the snapshot.
// It returns the next_batch token for the long-poll loop.
func (s *LiveSource) loadLiveSnapshot(ctx context.Context) (string, error) {
	filter := s.config.Filter
	if filter == nil {
		filter = &messaging.SyncFilter{}
	}
	if filter.TimelineLimit == 0 {
		filter.TimelineLimit = s.config.InitialLimit
	}
	response, err := s.config.Session.Sync(ctx, messaging.SyncOptions{
		Timeout:    0,
		SetTimeout: true,
		Filter:     messaging.InlineSyncFilter(s.config.RoomID, filter),
	})
	if err != nil {
		return "", fmt.Errorf("initial sync: %w", err)
	}

	room := response.Rooms.Join[s.config.RoomID]
	s.mu.Lock()
	s.backwardToken = room.Timeline.PrevBatch
	entries := s.snapshotEntries(room.Timeline.Events, fullyReadEvent(room.AccountData))
	s.mu.Unlock()
	if !s.emit(ctx, Snapshot(entries)) {
		return "", ctx.Err()
	}
	return response.NextBatch, nil
}

// loadFocusedSnapshot backfills from the focus token and emits the
// result as the snapshot. Forward pagination resumes from the token.
func (s *LiveSource) loadFocusedSnapshot(ctx context.Context) error {
	response, err := s.config.Session.RoomMessages(ctx, s.config.RoomID, messaging.RoomMessagesOptions{
		From:      s.config.FocusToken,
		Direction: "b",
		Limit:     s.config.InitialLimit,
	})
	if err != nil {
		return fmt.Errorf("focused backfill: %w", err)
	}
	// The chunk arrives newest-first; the snapshot wants oldest-first.
	events := make([]messaging.Event, len(response.Chunk))
	for index, event := range response.Chunk {
		events[len(events)-1-index] = event
	}
	s.mu.Lock()
	s.backwardToken = response.End
	s.forwardToken = s.config.FocusToken
	entries := s.snapshotEntries(events, ref.EventID{})
	s.mu.Unlock()
	if !s.emit(ctx, Snapshot(entries)) {
		return ctx.Err()
	}
	return nil
}

// syncLoop long-polls /sync and pushes live events. A limited
// timeline means the server skipped events; the source resets the
// window rather than leave a silent gap.
func (s *LiveSource) syncLoop(ctx context.Context, since string) {
	filter := messaging.InlineSyncFilter(s.config.RoomID, s.config.Filter)
	retries := 0
	for {
		if ctx.Err() != nil {
			return
		}
		response, err := s.config.Session.Sync(ctx, messaging.SyncOptions{
			Since:      since,
			Timeout:    longPollTimeout,
			SetTimeout: true,
			Filter:     filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			retries++
			if retries > maxSyncRetries {
				s.logger.Error("sync failing persistently, stopping", "error", err)
				return
			}
			s.logger.Warn("sync failed, retrying", "error", err, "attempt", retries)
			s.config.Session.CloseIdleConnections()
			s.clock.Sleep(retryTimeout)
			continue
		}
		retries = 0
		since = response.NextBatch

		room, ok := response.Rooms.Join[s.config.RoomID]
		if !ok {
			continue
		}
		if room.Timeline.Limited {
			// Gap: rebuild the window from this response. Bumping the
			// generation invalidates any pagination fetch still in
			// flight against the old window.
			s.mu.Lock()
			s.generation++
			s.backwardToken = room.Timeline.PrevBatch
			s.headDate = time.Time{}
			s.tailDate = time.Time{}
			s.hasEvents = false
			entries := s.snapshotEntries(room.Timeline.Events, ref.EventID{})
			s.mu.Unlock()
			s.markSynced(entries)
			if !s.emit(ctx, Snapshot(entries)) {
				return
			}
			continue
		}
		s.mu.Lock()
		batch := s.appendBatch(room.Timeline.Events)
		s.mu.Unlock()
		if len(batch) > 0 {
			if !s.emit(ctx, batch) {
				return
			}
		}
	}
}

// Paginate extends the timeline via /messages and emits the result as
// one batch. The timeline serializes calls per direction; the window
// mutex covers the remaining overlap with the sync loop.
func (s *LiveSource) Paginate(ctx context.Context, direction Direction, limit int) (bool, error) {
	s.mu.Lock()
	generation := s.generation
	token := s.backwardToken
	wire := "b"
	if direction == DirectionForward {
		if s.config.FocusToken == "" {
			s.mu.Unlock()
			return true, nil
		}
		token = s.forwardToken
		wire = "f"
	}
	s.mu.Unlock()
	if token == "" {
		return true, nil
	}

	response, err := s.config.Session.RoomMessages(ctx, s.config.RoomID, messaging.RoomMessagesOptions{
		From:      token,
		Direction: wire,
		Limit:     limit,
	})
	if err != nil {
		return false, fmt.Errorf("fetching %s page: %w", direction, err)
	}

	s.mu.Lock()
	if s.generation != generation {
		// A gap reset rebuilt the window while the fetch was in
		// flight; the page belongs to the discarded window. Dropping
		// it leaves the token at the rebuilt window's edge, so a
		// retry fetches the right history.
		s.mu.Unlock()
		s.logger.Debug("discarding pagination result from before a gap reset", "direction", direction)
		return false, nil
	}
	var batch Batch
	if direction == DirectionBackward {
		batch = s.prependBatch(response.Chunk)
	} else {
		batch = s.appendPaginated(response.Chunk)
	}
	s.mu.Unlock()

	if len(batch) > 0 && !s.emit(ctx, batch) {
		return false, ctx.Err()
	}
	// Advance the token only once the batch landed; a cancelled
	// delivery leaves the page refetchable.
	s.mu.Lock()
	if s.generation == generation {
		if direction == DirectionBackward {
			s.backwardToken = response.End
		} else {
			s.forwardToken = response.End
		}
	}
	s.mu.Unlock()
	reachedEnd := response.End == "" || len(response.Chunk) == 0
	return reachedEnd, nil
}

// snapshotEntries builds the oldest-first entry list for a snapshot:
// day separators before each new day, the read marker after the
// fully-read event, everything tagged OriginCache. Callers hold mu.
func (s *LiveSource) snapshotEntries(events []messaging.Event, fullyRead ref.EventID) []Entry {
	var entries []Entry
	var date time.Time
	for _, event := range events {
		event := event
		day := dayOf(event.OriginServerTS)
		if !day.Equal(date) {
			entries = append(entries, Entry{Virtual: VirtualDaySeparator, Date: day})
			date = day
		}
		entries = append(entries, Entry{Event: &event, Origin: OriginCache})
		if !fullyRead.IsZero() && event.EventID == fullyRead {
			entries = append(entries, Entry{Virtual: VirtualReadMarker})
		}
	}
	if len(events) > 0 {
		s.headDate = dayOf(events[0].OriginServerTS)
		s.tailDate = date
		s.hasEvents = true
	}
	return entries
}

// appendBatch turns new live events into push-backs with separators.
// Callers hold mu.
func (s *LiveSource) appendBatch(events []messaging.Event) Batch {
	var batch Batch
	for _, event := range events {
		event := event
		day := dayOf(event.OriginServerTS)
		if !day.Equal(s.tailDate) {
			batch = append(batch, Diff{
				Op:    OpPushBack,
				Entry: &Entry{Virtual: VirtualDaySeparator, Date: day},
			})
			s.tailDate = day
		}
		batch = append(batch, Diff{
			Op:    OpPushBack,
			Entry: &Entry{Event: &event, Origin: OriginSync},
		})
		if !s.hasEvents {
			s.headDate = day
			s.hasEvents = true
		}
	}
	return batch
}

// appendPaginated is appendBatch with pagination origin, used by
// forward pagination on anchored sources.
func (s *LiveSource) appendPaginated(events []messaging.Event) Batch {
	batch := s.appendBatch(events)
	for index := range batch {
		if batch[index].Entry.Event != nil {
			batch[index].Entry.Origin = OriginPagination
		}
	}
	return batch
}

// prependBatch turns a newest-first backfill chunk into front inserts
// with separators, removing the old head separator when the chunk
// ends on the same day it started. Callers hold mu.
func (s *LiveSource) prependBatch(chunk []messaging.Event) Batch {
	var batch Batch
	position := 0
	var date time.Time
	insert := func(entry Entry) {
		batch = append(batch, Diff{Op: OpInsertAt, Index: position, Entry: &entry})
		position++
	}
	// Walk oldest-first.
	for index := len(chunk) - 1; index >= 0; index-- {
		event := chunk[index]
		day := dayOf(event.OriginServerTS)
		if !day.Equal(date) {
			insert(Entry{Virtual: VirtualDaySeparator, Date: day})
			date = day
		}
		insert(Entry{Event: &event, Origin: OriginPagination})
	}
	if len(batch) == 0 {
		return nil
	}
	// The existing list head was a separator for headDate. If the
	// backfill ends on that same day the separator is now a
	// duplicate, sitting just after the inserted run.
	if s.hasEvents && date.Equal(s.headDate) {
		batch = append(batch, Diff{Op: OpRemoveAt, Index: position})
	}
	s.headDate = dayOf(chunk[len(chunk)-1].OriginServerTS)
	if !s.hasEvents {
		s.hasEvents = true
		s.tailDate = dayOf(chunk[0].OriginServerTS)
	}
	return batch
}

// emit delivers a batch, honoring cancellation.
func (s *LiveSource) emit(ctx context.Context, batch Batch) bool {
	select {
	case s.batches <- batch:
		return true
	case <-ctx.Done():
		return false
	}
}

// markSynced retags event entries as live. Used when a gap reset
// carries fresh events that should still fire the sync signal.
func (s *LiveSource) markSynced(entries []Entry) {
	for index := range entries {
		if entries[index].Event != nil {
			entries[index].Origin = OriginSync
		}
	}
}

// fullyReadEvent extracts the m.fully_read marker position.
func fullyReadEvent(section messaging.AccountDataSection) ref.EventID {
	for _, event := range section.Events {
		if event.Type != "m.fully_read" {
			continue
		}
		var content messaging.FullyReadContent
		if err := json.Unmarshal(event.Content, &content); err == nil {
			return content.EventID
		}
	}
	return ref.EventID{}
}

// dayOf truncates a millisecond timestamp to its UTC calendar day.
func dayOf(ms int64) time.Time {
	t := time.UnixMilli(ms).UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
