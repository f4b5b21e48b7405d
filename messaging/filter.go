// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"

	"github.com/bureau-foundation/timeline/lib/ref"
)

// SyncFilter configures what a room-scoped /sync delivers. The watched
// room is always included automatically — callers never need to put
// the room ID in the filter themselves.
//
// A nil *SyncFilter means "all events from the room" (state, timeline,
// and per-room account data). Presence and global account data are
// always suppressed: the timeline engine has no use for them and they
// inflate long-poll responses in busy deployments.
type SyncFilter struct {
	// TimelineTypes restricts timeline events to these Matrix event
	// types (e.g., "m.room.message"). An empty slice means all
	// timeline types.
	TimelineTypes []string `json:"timeline_types,omitempty"`

	// TimelineLimit caps the number of timeline events per /sync
	// response. Zero means no explicit limit (server default).
	TimelineLimit int `json:"timeline_limit,omitempty"`

	// ExcludeState suppresses state events from the /sync response.
	// When true, only timeline events matching TimelineTypes are
	// returned.
	ExcludeState bool `json:"exclude_state,omitempty"`
}

// InlineSyncFilter constructs the inline JSON filter string for /sync,
// scoped to the given room. Additional restrictions from the
// SyncFilter (event types, limits, state suppression) are merged in.
func InlineSyncFilter(roomID ref.RoomID, filter *SyncFilter) string {
	roomFilter := map[string]any{
		"rooms": []string{roomID.String()},
	}

	if filter != nil {
		if len(filter.TimelineTypes) > 0 {
			timeline := map[string]any{"types": filter.TimelineTypes}
			if filter.TimelineLimit > 0 {
				timeline["limit"] = filter.TimelineLimit
			}
			roomFilter["timeline"] = timeline
		} else if filter.TimelineLimit > 0 {
			roomFilter["timeline"] = map[string]any{"limit": filter.TimelineLimit}
		}

		if filter.ExcludeState {
			roomFilter["state"] = map[string]any{"types": []string{}}
		}
	}

	top := map[string]any{
		"room":         roomFilter,
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}

	data, _ := json.Marshal(top)
	return string(data)
}
