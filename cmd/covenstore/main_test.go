package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-storage/internal/config"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("COVEN_STORAGE_CONFIG", "/etc/coven/storage.toml")
	assert.Equal(t, "/etc/coven/storage.toml", getConfigPath())

	t.Setenv("COVEN_STORAGE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "coven", "storage.yaml"), getConfigPath())
}

func TestGetDataPath(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	assert.Equal(t, filepath.Join("/data", "coven"), getDataPath())
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("persist failed", "key", "layout")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"persist failed"`)
	assert.Contains(t, out, `"key":"layout"`)
}

func TestColorHandler(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = prev }()

	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "debug"}, &buf)

	logger.With("component", "storage").WithGroup("write").Debug("persisted", "tier", "local")

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "DBG persisted")
	assert.Contains(t, line, "component=storage")
	assert.Contains(t, line, "write.tier=local")
}

func TestDash(t *testing.T) {
	assert.Equal(t, "-", dash(""))
	assert.Equal(t, "2", dash("2"))
}
