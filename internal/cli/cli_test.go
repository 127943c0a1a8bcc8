package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig points every path into dir so tests never touch the
// working directory.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`
database_path: %s
key_path: %s
keyring_path: %s
`,
		filepath.Join(dir, "events.db"),
		filepath.Join(dir, "device.key"),
		filepath.Join(dir, "keyring.json"),
	)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// dataOf parses a JSON CLIResponse and returns its data payload.
func dataOf(t *testing.T, output string) map[string]any {
	t.Helper()
	var resp struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestInvalidFormatRejected(t *testing.T) {
	_, err := runCLI(t, "--format", "xml", "keys", "show")
	require.Error(t, err)
}

func TestKeysNewAndShow(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCLI(t, "--config", cfg, "--format", "json", "keys", "new")
	require.NoError(t, err)
	created := dataOf(t, out)
	author, _ := created["author"].(string)
	require.Len(t, author, 64)

	// A second `keys new` without --force must refuse to overwrite.
	_, err = runCLI(t, "--config", cfg, "keys", "new")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err = runCLI(t, "--config", cfg, "--format", "json", "keys", "show")
	require.NoError(t, err)
	shown := dataOf(t, out)
	assert.Equal(t, author, shown["author"])
}

func TestKeysShowWithoutKey(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "keys", "show")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSessionLifecycle(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "keys", "new")
	require.NoError(t, err)

	_, err = runCLI(t, "--config", cfg, "order", "record",
		"--id", "ord-1", "--item", "Beer Lao:2:15000")
	require.NoError(t, err)
	_, err = runCLI(t, "--config", cfg, "order", "record",
		"--id", "ord-2", "--item", "Grilled Fish:1:58000")
	require.NoError(t, err)

	out, err := runCLI(t, "--config", cfg, "--format", "json", "session", "open", "T5")
	require.NoError(t, err)
	sessionID, _ := dataOf(t, out)["session_id"].(string)
	require.NotEmpty(t, sessionID)

	_, err = runCLI(t, "--config", cfg, "session", "attach", sessionID, "ord-1", "30000")
	require.NoError(t, err)
	_, err = runCLI(t, "--config", cfg, "session", "attach", sessionID, "ord-2", "58000")
	require.NoError(t, err)

	out, err = runCLI(t, "--config", cfg, "session", "show", sessionID)
	require.NoError(t, err)
	assert.Contains(t, out, "total 88000")

	_, err = runCLI(t, "--config", cfg, "session", "bill", sessionID)
	require.NoError(t, err)

	// Attaching after the bill was requested is a rejected
	// transition with a failure exit.
	_, err = runCLI(t, "--config", cfg, "session", "attach", sessionID, "ord-3", "1000")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err = runCLI(t, "--config", cfg, "session", "settle", sessionID, "--payment", "card")
	require.NoError(t, err)
	assert.Contains(t, out, "CONSOLIDATED RECEIPT")
	assert.Contains(t, out, "88000")
	assert.Contains(t, out, "paid via card")
}

func TestOrderVoidFlowsIntoSettlement(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "keys", "new")
	require.NoError(t, err)

	_, err = runCLI(t, "--config", cfg, "order", "record",
		"--id", "ord-1", "--item", "Beer Lao:2:15000")
	require.NoError(t, err)

	out, err := runCLI(t, "--config", cfg, "--format", "json", "session", "open", "T2")
	require.NoError(t, err)
	sessionID, _ := dataOf(t, out)["session_id"].(string)

	_, err = runCLI(t, "--config", cfg, "session", "attach", sessionID, "ord-1", "30000")
	require.NoError(t, err)
	_, err = runCLI(t, "--config", cfg, "order", "void", "ord-1")
	require.NoError(t, err)
	_, err = runCLI(t, "--config", cfg, "session", "bill", sessionID)
	require.NoError(t, err)

	out, err = runCLI(t, "--config", cfg, "--format", "json", "session", "settle", sessionID)
	require.NoError(t, err)
	receipt := dataOf(t, out)
	assert.Equal(t, float64(0), receipt["total"])
}

func TestQueueListShowsPendingWrites(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "keys", "new")
	require.NoError(t, err)

	out, err := runCLI(t, "--config", cfg, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "queue is empty")

	_, err = runCLI(t, "--config", cfg, "order", "record",
		"--id", "ord-1", "--item", "Beer Lao:1:15000")
	require.NoError(t, err)

	out, err = runCLI(t, "--config", cfg, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")

	out, err = runCLI(t, "--config", cfg, "queue", "dead")
	require.NoError(t, err)
	assert.Contains(t, out, "no dead items")
}

func TestQueueRequeueUnknownItem(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "keys", "new")
	require.NoError(t, err)

	_, err = runCLI(t, "--config", cfg, "queue", "requeue", "no-such-item")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSyncPullWithoutSinks(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "keys", "new")
	require.NoError(t, err)

	_, err = runCLI(t, "--config", cfg, "sync", "pull")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSyncPushNoSinksConfirmsLocally(t *testing.T) {
	cfg := writeTestConfig(t)
	_, err := runCLI(t, "--config", cfg, "keys", "new")
	require.NoError(t, err)

	_, err = runCLI(t, "--config", cfg, "order", "record",
		"--id", "ord-1", "--item", "Beer Lao:1:15000")
	require.NoError(t, err)

	// With zero sinks every item is vacuously acked by all of them.
	out, err := runCLI(t, "--config", cfg, "--format", "json", "sync", "push")
	require.NoError(t, err)
	pushed := dataOf(t, out)
	assert.Equal(t, float64(1), pushed["confirmed"])
}
