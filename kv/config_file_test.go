package kv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "kvcoord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigFileParsesBasicFields(t *testing.T) {
	path := writeTempConfig(t, `
hosts:
  - http://a:2379
  - http://b:2379
namespace: myapp/
dial_timeout: 5s
auth:
  username: root
  password: secret
`)
	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a:2379", "http://b:2379"}, cfg.Hosts)
	assert.Equal(t, "myapp/", cfg.Namespace)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, "root", cfg.Auth.Username)
	assert.Equal(t, "secret", cfg.Auth.Password)
}

func TestLoadConfigFileEnvOverridesTakePrecedence(t *testing.T) {
	path := writeTempConfig(t, `
hosts:
  - http://a:2379
auth:
  username: root
  password: secret
`)
	t.Setenv("KVCOORD_HOSTS", "http://c:2379,http://d:2379")
	t.Setenv("KVCOORD_USERNAME", "override-user")
	t.Setenv("KVCOORD_PASSWORD", "override-pass")

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://c:2379", "http://d:2379"}, cfg.Hosts)
	assert.Equal(t, "override-user", cfg.Auth.Username)
	assert.Equal(t, "override-pass", cfg.Auth.Password)
}

func TestLoadConfigFileMissingFileErrors(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}
