package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"news_enricher/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestStatusCommand_MemoryDriver(t *testing.T) {
	path := writeConfig(t, "log_level: error\ndatabase:\n  driver: memory\n")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", path, "status", "--tasks", "5"})

	require.NoError(t, root.Execute())

	var got struct {
		Counts domain.StatusCounts `json:"counts"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, domain.StatusCounts{}, got.Counts)
}

func TestMigrateCommand_RequiresPostgres(t *testing.T) {
	path := writeConfig(t, "log_level: error\ndatabase:\n  driver: memory\n")

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"-c", path, "migrate"})

	assert.ErrorContains(t, root.Execute(), "requires database.driver postgres")
}

func TestRootCommand_MissingConfig(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"-c", filepath.Join(t.TempDir(), "missing.yaml"), "status"})

	assert.Error(t, root.Execute())
}
