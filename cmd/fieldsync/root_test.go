package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"fieldsync/internal/app"
	"fieldsync/internal/config"
	"fieldsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigYAML = `
storage:
  backend: sqlite
  path: ${TEST_DIR}/queue.db
remote:
  base_url: http://127.0.0.1:1
sync:
  dead_letter:
    enabled: true
    backend: sqlite
logging:
  output: stderr
  level: error
exports:
  path: ${TEST_DIR}/exports
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TEST_DIR", dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))
	return path
}

func seed(t *testing.T, configPath string) {
	t.Helper()
	cfg, err := config.Load(configPath)
	require.NoError(t, err)

	logger := zerolog.Nop()
	a, err := app.New(context.Background(), cfg, &logger)
	require.NoError(t, err)
	defer a.Close()

	ctx := context.Background()
	_, err = a.Queue.Enqueue(ctx, models.StartTaskPayload{TaskID: "t-1"})
	require.NoError(t, err)
	_, err = a.Queue.Enqueue(ctx, models.CompleteTaskPayload{TaskID: "t-1"})
	require.NoError(t, err)
	require.NoError(t, a.DeadLetters.Push(ctx, models.DeadLetter{
		Action: models.QueuedAction{ID: "dead-1", Kind: models.KindStart, Payload: json.RawMessage(`{"taskId":"t-0"}`)},
		Reason: models.DropReasonRetriesExhausted,
	}))
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestQueueListAndClear(t *testing.T) {
	path := writeTestConfig(t)
	seed(t, path)

	var actions []models.QueuedAction
	require.NoError(t, json.Unmarshal([]byte(execute(t, "--config", path, "queue", "list", "--json")), &actions))
	require.Len(t, actions, 2)
	assert.Equal(t, models.KindStart, actions[0].Kind)
	assert.Equal(t, models.KindComplete, actions[1].Kind)

	table := execute(t, "--config", path, "queue", "list")
	assert.Contains(t, table, "KIND")
	assert.Contains(t, table, "complete")

	assert.Contains(t, execute(t, "--config", path, "queue", "clear"), "cleared 2 actions")
	assert.Equal(t, "[]\n", execute(t, "--config", path, "queue", "list", "--json"))
}

func TestDeadLettersCommands(t *testing.T) {
	path := writeTestConfig(t)
	seed(t, path)

	var entries []models.DeadLetter
	require.NoError(t, json.Unmarshal([]byte(execute(t, "-c", path, "deadletters", "list")), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "dead-1", entries[0].Action.ID)

	dir := t.TempDir()
	assert.Contains(t, execute(t, "-c", path, "deadletters", "export", "--dir", dir), "exported 1 dead letters")

	files, err := filepath.Glob(filepath.Join(dir, "deadletters_*.xlsx"))
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestMissingConfig(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml"), "queue", "list"})
	cmd.SetOut(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
