// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable Matrix identifier
// values: room IDs, room aliases, event IDs, user IDs, and event types.
//
// Identifiers arrive as strings from the homeserver (/sync responses,
// pagination chunks, room state) and from configuration. They are
// parsed into these types at the boundary and passed through as
// validated values; code past the boundary never re-checks sigils or
// server suffixes.
//
// All constructors validate their inputs and return errors for invalid
// identifiers. Once constructed, a ref is immutable. JSON marshaling
// uses the canonical Matrix string form via encoding.TextMarshaler, so
// refs can appear directly in request and response structs.
package ref
