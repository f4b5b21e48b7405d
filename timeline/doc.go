// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package timeline turns a room's raw event stream into an ordered,
// decorated list of display items.
//
// A Timeline is fed by a Source: an initial snapshot followed by
// batches of primitive list mutations (insert, remove, push, reset).
// Each batch is applied atomically by a single owner goroutine, run
// through a post-processing pipeline that drops hidden events and
// places edge markers (room beginning, encrypted history, loading
// indicators), and published to subscribers as an immutable snapshot.
// Items are ordered oldest-first; index 0 is the oldest.
//
// LiveSource implements Source against a Matrix homeserver: a
// filtered /sync snapshot, a long-poll loop for live events, and
// /messages pagination for history. Any Source implementation works;
// tests drive timelines from in-memory sources.
package timeline
