// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the timeline
// viewer.
//
// Configuration is loaded from a single file specified by either the
// TIMELINE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config
// discovery, and no automatic file search. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The access token lives in its own file referenced by
// access_token_file, so the config itself carries no secrets.
// Variable expansion (${HOME}, ${VAR:-default}) is performed on the
// token path only.
package config
