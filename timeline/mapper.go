// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bureau-foundation/timeline/lib/ref"
	"github.com/bureau-foundation/timeline/messaging"
)

// Event types the mapper understands beyond plain messages.
const (
	typeMessage    = "m.room.message"
	typeMember     = "m.room.member"
	typeName       = "m.room.name"
	typeTopic      = "m.room.topic"
	typeEncryption = "m.room.encryption"
	typeReaction   = "m.reaction"
	typeCandidates = "m.call.candidates"
	typeRedaction  = "m.room.redaction"

	relReplace = "m.replace"
)

// detailRequest asks the façade to resolve a referenced event
// asynchronously. The item identified by ItemID is republished with
// the resolved detail once the fetch completes.
type detailRequest struct {
	// ItemID identifies the item awaiting detail.
	ItemID string
	// EventID is the referenced event to fetch (a reply target).
	EventID ref.EventID
}

// Mapper turns raw entries into display items. Mapping is total: an
// event the mapper does not understand becomes an unknown-content
// item rather than an error, so one exotic event can never wedge the
// timeline.
//
// The mapper carries room membership for sender display names. It is
// owned by the façade's single writer goroutine and is not safe for
// concurrent use.
type Mapper struct {
	// displayNames maps user ID to display name.
	displayNames map[ref.UserID]string
	// ambiguous marks display names shared by more than one member.
	// Ambiguous names are disambiguated with the user ID.
	ambiguous map[string]bool
	// hideMembership hides every membership transition, not just
	// profile-only changes.
	hideMembership bool
}

// NewMapper returns a mapper with no membership knowledge. Senders
// render as their user IDs until SetMembers is called.
func NewMapper() *Mapper {
	return &Mapper{
		displayNames: make(map[ref.UserID]string),
		ambiguous:    make(map[string]bool),
	}
}

// SetMembers replaces the mapper's membership knowledge. Display
// names shared by more than one member are marked ambiguous.
func (m *Mapper) SetMembers(members []messaging.RoomMember) {
	m.displayNames = make(map[ref.UserID]string, len(members))
	seen := make(map[string]bool, len(members))
	m.ambiguous = make(map[string]bool)
	for _, member := range members {
		if member.DisplayName == "" {
			continue
		}
		m.displayNames[member.UserID] = member.DisplayName
		if seen[member.DisplayName] {
			m.ambiguous[member.DisplayName] = true
		}
		seen[member.DisplayName] = true
	}
}

// SenderName resolves the display name for a sender, appending the
// user ID when the bare name is ambiguous within the room.
func (m *Mapper) SenderName(sender ref.UserID) string {
	name, ok := m.displayNames[sender]
	if !ok {
		return sender.String()
	}
	if m.ambiguous[name] {
		return fmt.Sprintf("%s (%s)", name, sender)
	}
	return name
}

// Map converts one entry into a display item. For event entries that
// reply to another event it additionally returns a detail request for
// the reply target.
func (m *Mapper) Map(entry Entry) (Item, *detailRequest) {
	if entry.Event == nil {
		return NewVirtualItem(&VirtualItem{
			Kind: entry.Virtual,
			Date: entry.Date,
		}), nil
	}
	event := m.mapEvent(entry.Event, entry.Origin)
	item := NewEventItem(event)
	if event.Content.ReplyTo.IsZero() || event.Content.ReplyBody != "" {
		return item, nil
	}
	return item, &detailRequest{ItemID: event.ItemID, EventID: event.Content.ReplyTo}
}

func (m *Mapper) mapEvent(event *messaging.Event, origin Origin) *EventItem {
	item := &EventItem{
		ItemID:    event.EventID.String(),
		EventID:   event.EventID,
		Sender:    event.Sender,
		Timestamp: time.UnixMilli(event.OriginServerTS),
		Origin:    origin,
	}
	item.SenderName = m.SenderName(event.Sender)

	if event.Unsigned != nil && event.Unsigned.RedactedBecause != nil {
		item.Content = Content{Kind: ContentRedacted}
		return item
	}

	switch event.Type {
	case typeMessage:
		item.Content = m.mapMessage(event)
	case typeMember:
		item.Content, item.Hidden = m.mapMembership(event)
		if m.hideMembership {
			item.Hidden = true
		}
	case typeName:
		item.Content = m.mapStateSummary(event, "set the room name to %q", "name")
	case typeTopic:
		item.Content = m.mapStateSummary(event, "set the topic to %q", "topic")
	case typeEncryption:
		item.Content = Content{
			Kind:      ContentState,
			StateType: typeEncryption,
			Summary:   fmt.Sprintf("%s enabled encryption", item.SenderName),
		}
	case typeReaction, typeCandidates, typeRedaction:
		// Aggregated onto their targets (or pure signalling); never
		// rendered as standalone items.
		item.Content = Content{Kind: ContentUnknown, Summary: event.Type.String()}
		item.Hidden = true
	default:
		item.Content = Content{
			Kind:    ContentUnknown,
			Summary: fmt.Sprintf("unsupported event (%s)", event.Type),
		}
	}
	return item
}

func (m *Mapper) mapMessage(event *messaging.Event) Content {
	var message messaging.MessageContent
	if err := json.Unmarshal(event.Content, &message); err != nil {
		return Content{Kind: ContentUnknown, Summary: "malformed message"}
	}

	content := Content{
		Kind:          ContentMessage,
		MsgType:       message.MsgType,
		Body:          message.Body,
		FormattedBody: message.FormattedBody,
	}
	if message.Format != "org.matrix.custom.html" {
		content.FormattedBody = ""
	}
	if message.RelatesTo != nil {
		if message.RelatesTo.RelType == relReplace {
			content.Edited = true
			if message.NewContent != nil {
				content.Body = message.NewContent.Body
				content.FormattedBody = message.NewContent.FormattedBody
				if message.NewContent.Format != "org.matrix.custom.html" {
					content.FormattedBody = ""
				}
			}
		}
		if message.RelatesTo.InReplyTo != nil {
			content.ReplyTo = message.RelatesTo.InReplyTo.EventID
		}
	}
	return content
}

// mapMembership summarizes a membership transition. Joins and leaves
// in large rooms are noise, so profile-only changes (display name or
// avatar updates) are mapped but hidden.
func (m *Mapper) mapMembership(event *messaging.Event) (Content, bool) {
	var membership messaging.RoomMemberContent
	if err := json.Unmarshal(event.Content, &membership); err != nil {
		return Content{Kind: ContentUnknown, Summary: "malformed membership"}, true
	}

	target := event.Sender.String()
	if event.StateKey != nil && *event.StateKey != "" {
		target = *event.StateKey
	}
	sender := m.SenderName(event.Sender)

	content := Content{
		Kind:      ContentState,
		StateType: typeMember,
		StateKey:  target,
	}
	hidden := false
	switch membership.Membership {
	case "join":
		content.Summary = fmt.Sprintf("%s joined the room", sender)
		// A join replacing an existing join is a profile change.
		if previousMembership(event) == "join" {
			content.Summary = fmt.Sprintf("%s updated their profile", sender)
			hidden = true
		}
	case "leave":
		if target == event.Sender.String() {
			content.Summary = fmt.Sprintf("%s left the room", sender)
		} else {
			content.Summary = fmt.Sprintf("%s removed %s", sender, target)
		}
	case "invite":
		content.Summary = fmt.Sprintf("%s invited %s", sender, target)
	case "ban":
		content.Summary = fmt.Sprintf("%s banned %s", sender, target)
	default:
		content.Summary = fmt.Sprintf("%s changed membership of %s", sender, target)
	}
	return content, hidden
}

func previousMembership(event *messaging.Event) string {
	if event.Unsigned == nil || len(event.Unsigned.PrevContent) == 0 {
		return ""
	}
	var previous messaging.RoomMemberContent
	if err := json.Unmarshal(event.Unsigned.PrevContent, &previous); err != nil {
		return ""
	}
	return previous.Membership
}

func (m *Mapper) mapStateSummary(event *messaging.Event, format, field string) Content {
	var content map[string]any
	summary := fmt.Sprintf("%s changed the room "+field, m.SenderName(event.Sender))
	if err := json.Unmarshal(event.Content, &content); err == nil {
		if value, ok := content[field].(string); ok {
			summary = fmt.Sprintf("%s "+format, m.SenderName(event.Sender), value)
		}
	}
	return Content{
		Kind:      ContentState,
		StateType: event.Type,
		Summary:   summary,
	}
}
