// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// timeline-viewer is a terminal UI for reading a single Matrix room.
// It connects with an existing access token, opens the room's timeline
// at the live edge (or anchored at a pagination token with --focus),
// and renders it with scrollback pagination, read-marker placement,
// and markdown message bodies.
//
// Configuration comes from a YAML file named by the TIMELINE_CONFIG
// environment variable or the --config flag; see lib/config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/timeline/lib/config"
	"github.com/bureau-foundation/timeline/lib/ref"
	"github.com/bureau-foundation/timeline/lib/timelineui"
	"github.com/bureau-foundation/timeline/lib/version"
	"github.com/bureau-foundation/timeline/messaging"
	"github.com/bureau-foundation/timeline/timeline"
	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var roomFlag string
	var focusToken string
	var direct bool
	var logOutput string

	flagSet := pflag.NewFlagSet("timeline-viewer", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to timeline.yaml (default: $TIMELINE_CONFIG)")
	flagSet.StringVar(&roomFlag, "room", "", "room alias or ID (overrides the config file)")
	flagSet.StringVar(&focusToken, "focus", "", "open anchored at this pagination token instead of the live edge")
	flagSet.BoolVar(&direct, "direct", false, "use 1:1-conversation wording for the room-beginning marker")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file")
	flagSet.BoolP("help", "h", false, "show help")

	// Handle --version before flag parsing to match other binaries.
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("timeline-viewer")
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	configuration, err := loadConfiguration(configPath)
	if err != nil {
		return err
	}
	if roomFlag != "" {
		configuration.Room = roomFlag
	}

	// The TUI owns the terminal; background log records go to a file
	// or nowhere. Writing to stderr would corrupt the alt screen.
	logger, closeLog, err := openLogger(logOutput)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	return runViewer(ctx, logger, configuration, focusToken, direct)
}

// loadConfiguration resolves the config file: the --config flag wins,
// otherwise the TIMELINE_CONFIG environment variable names it.
func loadConfiguration(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func runViewer(ctx context.Context, logger *slog.Logger, configuration *config.Config, focusToken string, direct bool) error {
	token, err := configuration.AccessToken()
	if err != nil {
		return err
	}
	userID, err := ref.ParseUserID(configuration.UserID)
	if err != nil {
		return fmt.Errorf("config user_id: %w", err)
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: configuration.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	session, err := client.SessionFromToken(userID, token)
	if err != nil {
		return err
	}

	roomID, roomName, err := resolveRoom(ctx, session, configuration.Room)
	if err != nil {
		return err
	}

	source, err := timeline.NewLiveSource(timeline.LiveSourceConfig{
		Session:      session,
		RoomID:       roomID,
		InitialLimit: configuration.Timeline.InitialLimit,
		FocusToken:   focusToken,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	mode := timeline.ModeLive
	if focusToken != "" {
		mode = timeline.ModeFocused
	}
	tl, err := timeline.New(ctx, timeline.Config{
		RoomID:                roomID,
		Source:                source,
		Members:               session,
		Receipts:              session,
		Events:                session,
		Mode:                  mode,
		Direct:                direct,
		HideMembershipChanges: configuration.Timeline.HideMembershipChanges,
		Encryption:            roomEncryption(ctx, session, roomID),
		PageSize:              configuration.Timeline.PageSize,
		Logger:                logger,
	})
	if err != nil {
		return err
	}
	defer tl.Close()

	model := timelineui.NewModel(tl, roomName)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

// resolveRoom turns the configured room (ID or alias) into a room ID
// and picks a display name for the header: the room's m.room.name
// state if set, otherwise the alias or ID the user configured.
func resolveRoom(ctx context.Context, session *messaging.DirectSession, room string) (ref.RoomID, string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var roomID ref.RoomID
	if room[0] == '#' {
		alias, err := ref.ParseRoomAlias(room)
		if err != nil {
			return ref.RoomID{}, "", fmt.Errorf("config room: %w", err)
		}
		roomID, err = session.ResolveAlias(ctx, alias)
		if err != nil {
			return ref.RoomID{}, "", fmt.Errorf("resolving %s: %w", room, err)
		}
	} else {
		parsed, err := ref.ParseRoomID(room)
		if err != nil {
			return ref.RoomID{}, "", fmt.Errorf("config room: %w", err)
		}
		roomID = parsed
	}

	name := room
	if raw, err := session.GetStateEvent(ctx, roomID, "m.room.name", ""); err == nil {
		var content struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(raw, &content) == nil && content.Name != "" {
			name = content.Name
		}
	}
	return roomID, name, nil
}

// roomEncryption probes the room's m.room.encryption state. A missing
// state event (the common case) means the room is unencrypted.
func roomEncryption(ctx context.Context, session *messaging.DirectSession, roomID ref.RoomID) timeline.EncryptionInfo {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := session.GetStateEvent(ctx, roomID, "m.room.encryption", ""); err != nil {
		return timeline.EncryptionInfo{}
	}
	return timeline.EncryptionInfo{Encrypted: true}
}

// openLogger builds the background logger: a JSON file handler when
// --log-output is set, otherwise a discard handler.
func openLogger(path string) (*slog.Logger, func(), error) {
	if path == "" {
		return slog.New(slog.DiscardHandler), func() {}, nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open log file %s: %w", path, err)
	}
	handler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(handler), func() { file.Close() }, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Matrix timeline viewer — interactive terminal UI for one room.

Reads its configuration (homeserver, room, access token file) from the
YAML file named by the TIMELINE_CONFIG environment variable, or from
--config. The access token lives in a separate file so the config can
be committed or shared.

Usage:
  timeline-viewer [flags]

Examples:
  # Open the configured room at the live edge
  TIMELINE_CONFIG=~/.config/timeline.yaml timeline-viewer

  # Open a different room with the same account
  timeline-viewer --config timeline.yaml --room '#general:example.com'

  # Open anchored at a pagination token (e.g. from a permalink)
  timeline-viewer --config timeline.yaml --focus t42-1234_5678

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
