package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grievd/internal/domain"
	"grievd/internal/identity"
	"grievd/internal/storage"
	logx "grievd/pkg/logx"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fileConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "log.db")
	cfgPath = filepath.Join(dir, "grievd.yaml")
	body := "http:\n  jwt_secret: s3cret\nstore:\n  driver: sqlite\n  path: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dbPath
}

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "grievd", cmd.Use)
	for _, name := range []string{"serve", "logs", "config", "token"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}

func TestConfigCheck(t *testing.T) {
	cfgPath, _ := fileConfig(t)
	out, err := run(t, "config", "check", "-c", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "store: sqlite")
	assert.Contains(t, out, "email: disabled")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"http":{"jwt_secret":"x"},"store":{"driver":"mongo"}}`), 0o600))
	_, err = run(t, "config", "check", "-c", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}

func TestLogsReadsStore(t *testing.T) {
	cfgPath, dbPath := fileConfig(t)
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: dbPath}, logx.Nop())
	require.NoError(t, err)
	ctx := context.Background()
	id, err := st.Append(ctx, domain.Attempt{Channel: domain.ChannelSMS, Recipient: "+15551234567", Body: "b", RelatedID: "C1"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateStatus(ctx, id, domain.AttemptFailed, "twilio: HTTP 400", nil))
	_, err = st.Append(ctx, domain.Attempt{Channel: domain.ChannelEmail, Recipient: "a@example.edu", Body: "b"})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := run(t, "logs", "-c", cfgPath, "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "twilio: HTTP 400")
	assert.NotContains(t, out, "a@example.edu")

	out, err = run(t, "logs", "-c", cfgPath, "--stats", "-o", "json")
	require.NoError(t, err)
	var stats storage.Stats
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Failed)

	_, err = run(t, "logs", "-c", cfgPath, "--channel", "fax")
	require.Error(t, err)
}

func TestTokenIsVerifiable(t *testing.T) {
	cfgPath, _ := fileConfig(t)
	out, err := run(t, "token", "-c", cfgPath, "--sub", "a7", "--role", "admin")
	require.NoError(t, err)

	actor, err := identity.NewVerifier("s3cret", "").Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "a7", actor.ID)
	assert.Equal(t, domain.RoleAdmin, actor.Role)

	_, err = run(t, "token", "-c", cfgPath, "--sub", "a7", "--role", "root")
	require.Error(t, err)
}
