// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timelineui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/timeline/messaging"
	"github.com/bureau-foundation/timeline/timeline"
)

const paginateRequestTimeout = 30 * time.Second

// snapshotMsg carries a freshly published item list.
type snapshotMsg []timeline.Item

// itemsClosedMsg reports that the timeline's item stream ended.
type itemsClosedMsg struct{}

// paginateDoneMsg reports the outcome of a history request.
type paginateDoneMsg struct{ err error }

// receiptDoneMsg reports the outcome of a mark-read request.
type receiptDoneMsg struct{ err error }

// Model is the bubbletea model for the timeline viewer. It renders
// the published snapshots of one Timeline in a scrollback viewport,
// follows the live edge until the user scrolls away, and requests
// history when scrolling hits the top.
type Model struct {
	timeline    *timeline.Timeline
	items       <-chan []timeline.Item
	cancelItems func()

	viewport viewport.Model
	spinner  spinner.Model
	keys     KeyMap
	theme    Theme

	roomName string
	snapshot []timeline.Item

	width  int
	height int
	sized  bool

	// follow keeps the viewport pinned to the newest message. Cleared
	// when the user scrolls up, restored when they return to the
	// bottom.
	follow bool

	paginating bool
	status     string
}

// NewModel subscribes to the timeline and returns the viewer model.
// The caller owns the Timeline; quitting the model only cancels the
// subscription.
func NewModel(tl *timeline.Timeline, roomName string) Model {
	items, cancel := tl.Items()
	sp := spinner.New(spinner.WithSpinner(spinner.MiniDot))
	return Model{
		timeline:    tl,
		items:       items,
		cancelItems: cancel,
		spinner:     sp,
		keys:        DefaultKeyMap,
		theme:       DefaultTheme,
		roomName:    roomName,
		follow:      true,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForSnapshot(), m.spinner.Tick)
}

// waitForSnapshot blocks on the subscription until the next published
// list arrives.
func (m Model) waitForSnapshot() tea.Cmd {
	items := m.items
	return func() tea.Msg {
		snapshot, ok := <-items
		if !ok {
			return itemsClosedMsg{}
		}
		return snapshotMsg(snapshot)
	}
}

func (m Model) paginate() tea.Cmd {
	tl := m.timeline
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), paginateRequestTimeout)
		defer cancel()
		_, err := tl.Paginate(ctx, timeline.DirectionBackward)
		return paginateDoneMsg{err: err}
	}
}

func (m Model) markRead() tea.Cmd {
	var newest string
	for i := len(m.snapshot) - 1; i >= 0; i-- {
		if m.snapshot[i].IsEvent() {
			newest = m.snapshot[i].ID()
			break
		}
	}
	if newest == "" {
		return nil
	}
	tl := m.timeline
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), paginateRequestTimeout)
		defer cancel()
		return receiptDoneMsg{err: tl.SendReadReceipt(ctx, newest, messaging.ReceiptFullyRead)}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		contentHeight := max(msg.Height-3, 1)
		if !m.sized {
			m.viewport = viewport.New(msg.Width, contentHeight)
			m.sized = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = contentHeight
		}
		m.refreshContent()
		return m, nil

	case snapshotMsg:
		m.snapshot = msg
		if m.sized {
			m.refreshContent()
		}
		return m, m.waitForSnapshot()

	case itemsClosedMsg:
		m.status = "timeline closed"
		return m, nil

	case paginateDoneMsg:
		m.paginating = false
		if msg.err != nil && !errors.Is(msg.err, timeline.ErrCannotPaginate) {
			m.status = fmt.Sprintf("history: %v", msg.err)
		}
		return m, nil

	case receiptDoneMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("mark read: %v", msg.err)
		} else {
			m.status = ""
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.paginating && m.sized {
			m.refreshContent()
		}
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancelItems()
			return m, tea.Quit
		case key.Matches(msg, m.keys.LoadOlder):
			return m.startPagination()
		case key.Matches(msg, m.keys.MarkRead):
			return m, m.markRead()
		case key.Matches(msg, m.keys.Bottom):
			m.viewport.GotoBottom()
			m.follow = true
			return m, nil
		case key.Matches(msg, m.keys.Top):
			m.viewport.GotoTop()
			m.follow = false
			return m.startPagination()
		}

		wasAtTop := m.viewport.AtTop()
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		m.follow = m.viewport.AtBottom()

		// Scrolling against the top edge asks for more history.
		scrollingUp := key.Matches(msg, m.keys.Up) || key.Matches(msg, m.keys.PageUp)
		if scrollingUp && wasAtTop {
			model, paginateCmd := m.startPagination()
			return model, tea.Batch(cmd, paginateCmd)
		}
		return m, cmd
	}

	return m, nil
}

// startPagination kicks off one backward page unless the engine would
// refuse it anyway.
func (m Model) startPagination() (tea.Model, tea.Cmd) {
	if m.paginating || !m.timeline.PaginationStatus(timeline.DirectionBackward).CanPaginate() {
		return m, nil
	}
	m.paginating = true
	return m, m.paginate()
}

// refreshContent re-renders the item list into the viewport,
// preserving follow behavior.
func (m *Model) refreshContent() {
	var lines []string
	for _, item := range m.snapshot {
		lines = append(lines, m.renderItem(item))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.sized {
		return "loading…"
	}
	return m.headerView() + "\n" + m.viewport.View() + "\n" + m.footerView()
}

func (m Model) headerView() string {
	title := m.lip().Foreground(m.theme.HeaderForeground).Bold(true).Render(m.roomName)
	line := m.lip().Foreground(m.theme.BorderColor).
		Render(strings.Repeat("─", max(m.width-lipgloss.Width(title)-1, 0)))
	return title + " " + line
}

func (m Model) footerView() string {
	help := m.lip().Foreground(m.theme.HelpText).
		Render("↑/↓ scroll · o older · m mark read · q quit")
	if m.status != "" {
		return m.lip().Foreground(m.theme.ErrorText).Render(m.status)
	}
	if m.paginating {
		return m.spinner.View() + " loading history…"
	}
	return help
}

// renderItem renders one display item to a (possibly multi-line)
// string at the current width.
func (m Model) renderItem(item timeline.Item) string {
	if item.Kind == timeline.KindVirtual {
		return m.renderVirtual(item.Virtual)
	}
	return m.renderEvent(item.Event)
}

func (m Model) renderVirtual(virtual *timeline.VirtualItem) string {
	switch virtual.Kind {
	case timeline.VirtualDaySeparator:
		return m.centeredRule(virtual.Date.Format("Monday, 2 January 2006"), m.theme.DateSeparator)
	case timeline.VirtualReadMarker:
		return m.centeredRule("new messages", m.theme.ReadMarker)
	case timeline.VirtualRoomBeginning:
		label := "beginning of the room"
		if virtual.Direct {
			label = "beginning of this conversation"
		}
		return m.lip().Foreground(m.theme.BeginningMarker).Italic(true).Render("· " + label + " ·")
	case timeline.VirtualEncryptedHistory:
		return m.lip().Foreground(m.theme.EncryptedWarning).
			Render("⚠ messages before your last login cannot be decrypted")
	case timeline.VirtualLoadingIndicator:
		return m.spinner.View() + " " + m.lip().Foreground(m.theme.FaintText).Render("loading…")
	default:
		return ""
	}
}

func (m Model) renderEvent(event *timeline.EventItem) string {
	timestamp := m.lip().Foreground(m.theme.FaintText).Render(event.Timestamp.Local().Format("15:04"))
	sender := m.lip().Foreground(m.theme.SenderColor(event.Sender.String())).Bold(true).
		Render(event.SenderName)
	prefix := timestamp + " " + sender + "  "
	bodyWidth := max(m.width-8, 16)

	content := event.Content
	switch content.Kind {
	case timeline.ContentMessage:
		var parts []string
		if !content.ReplyTo.IsZero() {
			parts = append(parts, m.renderReplyQuote(content))
		}
		body := renderMessageBody(content.Body, m.theme, bodyWidth)
		if content.MsgType == "m.emote" {
			body = m.lip().Italic(true).Render("* " + event.SenderName + " " + content.Body)
		}
		if content.Edited {
			body += m.lip().Foreground(m.theme.FaintText).Render(" (edited)")
		}
		parts = append(parts, body)
		return prefix + indentContinuation(strings.Join(parts, "\n"), 8)
	case timeline.ContentRedacted:
		return prefix + m.lip().Foreground(m.theme.FaintText).Italic(true).Render("message deleted")
	case timeline.ContentState:
		return timestamp + " " + m.lip().Foreground(m.theme.FaintText).Italic(true).Render(content.Summary)
	default:
		summary := content.Summary
		if summary == "" {
			summary = "unsupported event"
		}
		return prefix + m.lip().Foreground(m.theme.FaintText).Render("["+summary+"]")
	}
}

// renderReplyQuote renders the quoted original above a reply body.
// Until the detail fetch completes the target renders as a stub.
func (m Model) renderReplyQuote(content timeline.Content) string {
	quote := m.lip().Foreground(m.theme.QuoteForeground)
	if content.ReplyBody == "" {
		return quote.Render("│ …")
	}
	body := content.ReplyBody
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[:idx] + "…"
	}
	return quote.Render(fmt.Sprintf("│ %s: %s", content.ReplySender, body))
}

// centeredRule renders "── label ──" stretched to the view width.
func (m Model) centeredRule(label string, color lipgloss.Color) string {
	style := m.lip().Foreground(color)
	pad := max((m.width-lipgloss.Width(label)-4)/2, 2)
	rule := strings.Repeat("─", pad)
	return style.Render(fmt.Sprintf("%s %s %s", rule, label, rule))
}

// indentContinuation indents every line after the first, so multi-line
// bodies hang under the sender column.
func indentContinuation(body string, indent int) string {
	lines := strings.Split(body, "\n")
	if len(lines) <= 1 {
		return body
	}
	pad := strings.Repeat(" ", indent)
	for i := 1; i < len(lines); i++ {
		lines[i] = pad + lines[i]
	}
	return strings.Join(lines, "\n")
}

func (m Model) lip() lipgloss.Style {
	return lipgloss.NewStyle()
}
