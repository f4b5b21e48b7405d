// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the Matrix client-server API endpoints the
// timeline engine consumes.
//
// [Client] holds the homeserver URL and HTTP transport; it performs
// login and mints authenticated [Session] values. [DirectSession] is
// the concrete Session talking straight to the homeserver: incremental
// /sync with long-polling, room message pagination (/messages), room
// membership, single-event fetch (for reply detail resolution), read
// receipts, room state, and message sending.
//
// Sessions are lightweight (a pointer to the parent Client plus an
// access token) and safe for concurrent use; each API call is an
// independent HTTP request carrying the token. Sync is stateless on
// the client side — the since token travels as a query parameter, so
// multiple independent sync loops can share one Session.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_NOT_FOUND, etc.) and HTTP status
// code. [IsMatrixError] tests for a specific error code. Request URLs
// are built by string concatenation rather than url.URL to avoid
// double-encoding of path segments that contain URL-encoded characters
// (such as room IDs with slashes in the opaque part).
package messaging
