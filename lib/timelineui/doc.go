// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package timelineui renders a timeline.Timeline as an interactive
// terminal UI.
//
// The bubbletea [Model] subscribes to the timeline's published
// snapshots and redraws on every batch: live messages append at the
// bottom, backfilled history prepends at the top, and the virtual
// markers (day separators, read marker, room beginning, encrypted
// history, loading indicators) render as styled rules. Scrolling past
// the top of the viewport requests another page of history from the
// engine.
//
// Message bodies are rendered as markdown with syntax-highlighted
// code blocks; see renderMessageBody.
package timelineui
