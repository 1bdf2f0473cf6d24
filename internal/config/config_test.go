// ABOUTME: Tests for configuration loading
// ABOUTME: Covers YAML parsing, env var expansion, durations and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/palaver-im/palaver/internal/entity"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfig(t, `
user:
  id: "user:mindy"
database:
  path: "/var/lib/palaver/engine.db"
cache:
  ttl: "2m"
  refresh: "15s"
burn:
  max_age: "720h"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, entity.UserID("mindy"), cfg.User.ID)
	assert.Equal(t, "/var/lib/palaver/engine.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 15*time.Second, cfg.Cache.Refresh)
	assert.Equal(t, 720*time.Hour, cfg.Burn.MaxAge)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_DefaultsAndBareUserID(t *testing.T) {
	path := writeConfig(t, `
user:
  id: "mindy"
database:
  path: "engine.db"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	// A bare name is a user id.
	assert.Equal(t, entity.UserID("mindy"), cfg.User.ID)
	// Cache TTL falls back to a sane default.
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Zero(t, cfg.Burn.MaxAge)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("PALAVER_DB", "/tmp/expanded.db")
	path := writeConfig(t, `
user:
  id: "mindy"
database:
  path: "${PALAVER_DB}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/expanded.db", cfg.Database.Path)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing user id",
			content: "database:\n  path: engine.db\n",
			wantErr: "user.id is required",
		},
		{
			name:    "missing database path",
			content: "user:\n  id: mindy\n",
			wantErr: "database.path is required",
		},
		{
			name:    "bad duration",
			content: "user:\n  id: mindy\ndatabase:\n  path: engine.db\ncache:\n  ttl: soon\n",
			wantErr: "cache.ttl",
		},
		{
			name:    "bad user kind",
			content: "user:\n  id: \"station:relay7\"\ndatabase:\n  path: engine.db\n",
			wantErr: "user.id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
