package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/driverlink/core/journal"
)

func TestJournalLs(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.jsonl")
	store, err := journal.NewJSONLStore(journalPath)
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, store.Append(context.Background(), journal.Record{Timestamp: now, Kind: journal.KindOffer, AgentID: "a1", RideID: "r1", Outcome: "accepted"}))
	require.NoError(t, store.Append(context.Background(), journal.Record{Timestamp: now, Kind: journal.KindEmergency, AgentID: "a1", IncidentID: "inc-9", Outcome: "submitted"}))

	cfgFile := filepath.Join(dir, "config.yaml")
	data := "agent:\n  id: a1\nmqtt:\n  broker: tcp://localhost:1883\nhttp:\n  base_url: http://localhost:9000\njournal:\n  path: " + journalPath + "\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(data), 0o644))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"journal", "ls", "-c", cfgFile, "--kind", "emergency"})
	defer rootCmd.SetArgs(nil)
	require.NoError(t, rootCmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "INCIDENT")
	assert.Contains(t, lines[1], "inc-9")
	assert.NotContains(t, out.String(), "accepted")
}

func TestLogLevelOverrideRejectsUnknownLevel(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	data := "agent:\n  id: a1\nmqtt:\n  broker: tcp://localhost:1883\nhttp:\n  base_url: http://localhost:9000\njournal:\n  path: " + filepath.Join(dir, "j.jsonl") + "\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(data), 0o644))

	rootCmd.SetArgs([]string{"journal", "ls", "-c", cfgFile, "--log-level", "chatty"})
	defer func() {
		rootCmd.SetArgs(nil)
		logLevel = ""
	}()
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatty")
}
