package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindClientFlags_DefaultsApplyWithoutArgs(t *testing.T) {
	fs := pflag.NewFlagSet("driftfs-mount", pflag.ContinueOnError)
	v, err := BindClientFlags(fs)
	require.NoError(t, err)

	cfg, err := DecodeClient(v)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.ServerURL)
	assert.Equal(t, "ttl", cfg.CacheStrategy)
	assert.EqualValues(t, 2, cfg.CacheTTLSeconds)
	assert.EqualValues(t, 1024, cfg.CacheLRUCapacity)
}

func TestBindClientFlags_ExplicitFlagOverridesDefault(t *testing.T) {
	fs := pflag.NewFlagSet("driftfs-mount", pflag.ContinueOnError)
	v, err := BindClientFlags(fs)
	require.NoError(t, err)
	require.NoError(t, fs.Parse([]string{"--cache-strategy=lru", "--cache-lru-capacity=42"}))

	cfg, err := DecodeClient(v)
	require.NoError(t, err)
	assert.Equal(t, "lru", cfg.CacheStrategy)
	assert.EqualValues(t, 42, cfg.CacheLRUCapacity)
}

func TestLoadConfigFile_MergesYAMLValues(t *testing.T) {
	fs := pflag.NewFlagSet("driftfs-mount", pflag.ContinueOnError)
	v, err := BindClientFlags(fs)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "driftfs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server-url: http://example.test:9000\n"), 0o644))
	require.NoError(t, LoadConfigFile(v, path))

	cfg, err := DecodeClient(v)
	require.NoError(t, err)
	assert.Equal(t, "http://example.test:9000", cfg.ServerURL)
}

func TestClientConfig_ValidateRejectsUnknownCacheStrategy(t *testing.T) {
	c := ClientConfig{MountPoint: "/mnt", CacheStrategy: "bogus"}
	assert.Error(t, c.Validate())
}

func TestClientConfig_ValidateRejectsMissingMountPoint(t *testing.T) {
	c := ClientConfig{CacheStrategy: "ttl"}
	assert.Error(t, c.Validate())
}

func TestServerConfig_ValidateRejectsMissingRoot(t *testing.T) {
	c := ServerConfig{Listen: "127.0.0.1:8080"}
	assert.Error(t, c.Validate())
}

func TestBindServerFlags_DefaultsApplyWithoutArgs(t *testing.T) {
	fs := pflag.NewFlagSet("driftfs-serve", pflag.ContinueOnError)
	v, err := BindServerFlags(fs)
	require.NoError(t, err)

	cfg, err := DecodeServer(v)
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.Root)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
}
