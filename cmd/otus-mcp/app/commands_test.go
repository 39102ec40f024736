// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tecrolabs/otus-mcp/pkg/config"
	"github.com/tecrolabs/otus-mcp/pkg/versions"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

//nolint:paralleltest // NewRootCmd binds flags on the global viper instance
func TestValidateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otus-mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  url: https://mcp.example.com\n"), 0o600))

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "https://mcp.example.com", cfg.Server.URL)
	assert.Equal(t, 8000, cfg.Server.Port)
}

//nolint:paralleltest // NewRootCmd binds flags on the global viper instance
func TestValidateCommand_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otus-mcp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 70000\n"), 0o600))

	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server: port")

	_, err = execute(t, "validate", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

//nolint:paralleltest // NewRootCmd binds flags on the global viper instance
func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var info versions.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, versions.GetVersionInfo(), info)

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "otus-mcp "+versions.GetVersionInfo().Version)
}
