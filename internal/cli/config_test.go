package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMorphServer(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"localhost:8000", "http://localhost:8000"},
		{"localhost:8000/", "http://localhost:8000"},
		{"http://relay.local:8000", "http://relay.local:8000"},
		{"https://relay.example.com:443/", "https://relay.example.com:443"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MorphServer(tt.in), tt.in)
	}
}

func TestConfigWriteAndLoad(t *testing.T) {
	t.Cleanup(func() { config = nil })
	file := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := &Config{
		Version:   configVersion,
		ServerURL: "localhost:8000",
		OllamaURL: "gpu-box:11434",
		Model:     "llama3",
	}
	require.NoError(t, cfg.WriteConfig(file))

	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, LoadConfig(file))
	loaded := GetConfig()
	require.NotNil(t, loaded)
	assert.Equal(t, "http://localhost:8000", loaded.ServerURL)
	assert.Equal(t, "http://gpu-box:11434", loaded.OllamaURL)
	assert.Equal(t, "llama3", loaded.Model)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Cleanup(func() { config = nil })
	dir := t.TempDir()

	err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server_url: [unclosed"), 0600))
	err = LoadConfig(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to parse config file")

	noPort := filepath.Join(dir, "noport.yaml")
	require.NoError(t, os.WriteFile(noPort, []byte("version: 0.1.0\nserver_url: localhost\n"), 0600))
	err = LoadConfig(noPort)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must include port number")

	assert.Error(t, (&Config{}).WriteConfig(""))
}

func TestValidateConfig(t *testing.T) {
	assert.EqualError(t, (&Config{}).ValidateConfig(), "server:port is required")
	assert.NoError(t, (&Config{ServerURL: "localhost:8000"}).ValidateConfig())
	assert.Error(t, (&Config{ServerURL: "localhost:8000", OllamaURL: "http://bad host:1"}).ValidateConfig())
}

func TestSetServerConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	var out bytes.Buffer

	require.NoError(t, setServerConfig(&out, file, "relay.local:8000/", "", "phi3"))
	assert.Contains(t, out.String(), "Server configured: http://relay.local:8000")
	assert.Contains(t, out.String(), file)

	raw, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "server_url: http://relay.local:8000")
	assert.Contains(t, string(raw), "model: phi3")
	assert.NotContains(t, string(raw), "ollama_url")

	out.Reset()
	err = setServerConfig(&out, file, "relay.local", "", "")
	require.Error(t, err)
	assert.Empty(t, out.String())
}
