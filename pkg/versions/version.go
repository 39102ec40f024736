// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package versions holds build information injected with -ldflags.
package versions

import (
	"fmt"
	"runtime"
	"time"
)

const unknownStr = "unknown"

// Build information, set via -ldflags "-X github.com/tecrolabs/otus-mcp/pkg/versions.Version=...".
var (
	Version   = "dev"
	Commit    = unknownStr
	BuildDate = unknownStr
)

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildDate string `json:"buildDate" yaml:"buildDate"`
	GoVersion string `json:"goVersion" yaml:"goVersion"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetVersionInfo returns the build information. Development builds report
// "build-<short commit>" as their version.
func GetVersionInfo() VersionInfo {
	ver := Version
	if ver == "dev" {
		short := Commit
		if len(short) > 8 {
			short = short[:8]
		}
		ver = "build-" + short
	}

	buildDate := BuildDate
	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		buildDate = t.UTC().Format("2006-01-02 15:04:05 MST")
	}

	return VersionInfo{
		Version:   ver,
		Commit:    Commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
