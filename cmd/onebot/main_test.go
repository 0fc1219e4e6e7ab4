package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/onebot/internal/channel/adapters/onebot"
	"github.com/memohai/onebot/internal/config"
	"github.com/memohai/onebot/internal/store"
)

func writeConfig(t *testing.T, body string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data", "onebot.db")
	path := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf("[store]\npath = %q\n\n%s", dbPath, body)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPairingCommands(t *testing.T) {
	path, dbPath := writeConfig(t, "")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	req, _, err := st.UpsertPairingRequest(context.Background(), store.PairingInput{
		Channel:     onebot.Type.String(),
		AccountID:   onebot.DefaultAccountID,
		SenderID:    "10001",
		DisplayName: "alice",
	})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "--config", path, "pairing", "list")
	require.NoError(t, err)
	assert.Contains(t, out, req.Code)
	assert.Contains(t, out, "alice")

	out, err = execute(t, "--config", path, "pairing", "approve", req.Code)
	require.NoError(t, err)
	assert.Contains(t, out, "approved 10001")

	_, err = execute(t, "--config", path, "pairing", "approve", req.Code)
	assert.ErrorContains(t, err, "no pending request")

	out, err = execute(t, "--config", path, "pairing", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no pending requests")
}

func TestAccountsCommand(t *testing.T) {
	path, _ := writeConfig(t, `[onebot]
ws_url = "ws://127.0.0.1:6700"
dm_policy = "allowlist"

[onebot.accounts.alt]
http_url = "http://127.0.0.1:5700"
`)

	out, err := execute(t, "--config", path, "accounts")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "alt"))
	assert.Contains(t, lines[1], "allowlist")
	assert.Contains(t, lines[1], "http://127.0.0.1:5700")
}

func TestTokenCommand(t *testing.T) {
	path, _ := writeConfig(t, "[server]\njwt_secret = \"s3cret\"\n")

	out, err := execute(t, "--config", path, "token", "--ttl", "1m")
	require.NoError(t, err)
	token := strings.SplitN(out, "\n", 2)[0]
	assert.Equal(t, 2, strings.Count(token, "."))

	missing, _ := writeConfig(t, "")
	_, err = execute(t, "--config", missing, "token")
	assert.ErrorContains(t, err, "jwt secret is required")
}

func TestTokenTTL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 24*time.Hour, tokenTTL(config.ServerConfig{}))
	assert.Equal(t, 2*time.Hour, tokenTTL(config.ServerConfig{TokenTTLHours: 2}))
}
