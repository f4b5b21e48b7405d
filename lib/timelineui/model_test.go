// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timelineui

import (
	"context"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"

	"github.com/bureau-foundation/timeline/lib/ref"
	"github.com/bureau-foundation/timeline/lib/testutil"
	"github.com/bureau-foundation/timeline/timeline"
)

// stubSource feeds a viewer-backed timeline from the test body.
type stubSource struct {
	batches chan timeline.Batch
}

func (s *stubSource) Batches(ctx context.Context) (<-chan timeline.Batch, error) {
	return s.batches, nil
}

func (s *stubSource) Paginate(ctx context.Context, direction timeline.Direction, limit int) (bool, error) {
	return true, nil
}

func newViewerFixture(t *testing.T) (Model, *stubSource) {
	t.Helper()
	source := &stubSource{batches: make(chan timeline.Batch)}
	tl, err := timeline.New(context.Background(), timeline.Config{
		RoomID: ref.MustParseRoomID("!room:example.com"),
		Source: source,
	})
	if err != nil {
		t.Fatalf("timeline.New: %v", err)
	}
	t.Cleanup(tl.Close)
	return NewModel(tl, "#general"), source
}

// update drives one message through the model.
func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	model, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return model, cmd
}

func messageItem(id, sender, body string, ts time.Time) timeline.Item {
	return timeline.NewEventItem(&timeline.EventItem{
		ItemID:     id,
		EventID:    ref.MustParseEventID(id),
		Sender:     ref.MustParseUserID(sender),
		SenderName: sender,
		Timestamp:  ts,
		Content:    timeline.Content{Kind: timeline.ContentMessage, MsgType: "m.text", Body: body},
	})
}

func TestModelRendersSnapshot(t *testing.T) {
	m, _ := newViewerFixture(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})

	ts := time.Date(2026, 3, 14, 12, 30, 0, 0, time.UTC)
	m, cmd := update(t, m, snapshotMsg{
		timeline.NewVirtualItem(&timeline.VirtualItem{Kind: timeline.VirtualDaySeparator, Date: ts}),
		messageItem("$a", "@alice:example.com", "hello there", ts),
	})
	if cmd == nil {
		t.Fatal("snapshot did not re-arm the subscription")
	}

	view := ansi.Strip(m.View())
	if !strings.Contains(view, "#general") {
		t.Fatalf("header missing room name: %q", view)
	}
	if !strings.Contains(view, "hello there") {
		t.Fatalf("message body missing: %q", view)
	}
	if !strings.Contains(view, "Saturday, 14 March 2026") {
		t.Fatalf("day separator missing: %q", view)
	}
}

func TestModelRendersVirtualMarkers(t *testing.T) {
	m, _ := newViewerFixture(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = update(t, m, snapshotMsg{
		timeline.NewVirtualItem(&timeline.VirtualItem{Kind: timeline.VirtualRoomBeginning, Direct: true}),
		timeline.NewVirtualItem(&timeline.VirtualItem{Kind: timeline.VirtualReadMarker}),
	})
	view := ansi.Strip(m.View())
	if !strings.Contains(view, "beginning of this conversation") {
		t.Fatalf("beginning marker missing: %q", view)
	}
	if !strings.Contains(view, "new messages") {
		t.Fatalf("read marker missing: %q", view)
	}
}

func TestModelQuitCancelsSubscription(t *testing.T) {
	m, _ := newViewerFixture(t)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 24})
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if cmd == nil {
		t.Fatal("quit produced no command")
	}
	if msg := cmd(); msg != tea.Quit() {
		t.Fatalf("quit command returned %v", msg)
	}
}

func TestModelSubscriptionDeliversPublishedSnapshots(t *testing.T) {
	m, source := newViewerFixture(t)

	// Seed the timeline; the model's Init command must observe the
	// published snapshot.
	wait := m.Init()
	results := make(chan tea.Msg, 1)
	go func() { results <- wait() }()

	source.batches <- timeline.Snapshot(nil)
	msg := testutil.RequireReceive(t, results, 5*time.Second, "no snapshot from Init")
	if batch, ok := msg.(tea.BatchMsg); ok {
		// Init batches the subscription read with the spinner tick;
		// resolve the batch members.
		found := false
		inner := make(chan tea.Msg, len(batch))
		for _, c := range batch {
			c := c
			go func() { inner <- c() }()
		}
		for range batch {
			if _, ok := testutil.RequireReceive(t, inner, 5*time.Second).(snapshotMsg); ok {
				found = true
			}
		}
		if !found {
			t.Fatal("no snapshotMsg among Init results")
		}
		return
	}
	if _, ok := msg.(snapshotMsg); !ok {
		t.Fatalf("Init result = %T, want snapshotMsg", msg)
	}
}
