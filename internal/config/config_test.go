package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 0, cfg.HistoryLimit)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.MinioEndpoint)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classverify.yaml")
	body := []byte("addr: \":9000\"\nhistory_limit: 25\nminio_endpoint: minio:9000\nlog_level: debug\n")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("VERIFY_HISTORY_LIMIT", "50")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, 50, cfg.HistoryLimit)
	assert.Equal(t, "minio:9000", cfg.MinioEndpoint)
	assert.Equal(t, "content-files", cfg.MinioBucket)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  string
		val  string
	}{
		{name: "negative history", env: "VERIFY_HISTORY_LIMIT", val: "-1"},
		{name: "zero ttl", env: "VERIFY_SESSION_TTL_SECONDS", val: "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.env, tc.val)
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
