// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package timelineui

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color palette for the timeline viewer. All colors
// use lipgloss ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// SenderColors is the rotation of display-name colors. A sender
	// keeps the same color across the conversation (picked by hashing
	// the user ID).
	SenderColors []lipgloss.Color

	// Virtual markers.
	DateSeparator    lipgloss.Color
	ReadMarker       lipgloss.Color
	BeginningMarker  lipgloss.Color
	EncryptedWarning lipgloss.Color

	// UI chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color
	ErrorText        lipgloss.Color

	// Markdown rendering.
	CodeForeground  lipgloss.Color
	QuoteForeground lipgloss.Color
	LinkForeground  lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("243"),
	SenderColors: []lipgloss.Color{
		lipgloss.Color("81"),  // cyan
		lipgloss.Color("150"), // green
		lipgloss.Color("216"), // peach
		lipgloss.Color("141"), // violet
		lipgloss.Color("222"), // gold
		lipgloss.Color("210"), // salmon
	},
	DateSeparator:    lipgloss.Color("243"),
	ReadMarker:       lipgloss.Color("167"),
	BeginningMarker:  lipgloss.Color("108"),
	EncryptedWarning: lipgloss.Color("179"),
	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("238"),
	HelpText:         lipgloss.Color("243"),
	ErrorText:        lipgloss.Color("203"),
	CodeForeground:   lipgloss.Color("222"),
	QuoteForeground:  lipgloss.Color("109"),
	LinkForeground:   lipgloss.Color("75"),
}

// SenderColor picks a stable color for a user ID.
func (theme Theme) SenderColor(userID string) lipgloss.Color {
	if len(theme.SenderColors) == 0 {
		return theme.NormalText
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	return theme.SenderColors[h.Sum32()%uint32(len(theme.SenderColors))]
}
