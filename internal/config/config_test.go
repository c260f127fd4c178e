package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
name: c1
servers:
  - name: srv
    type: stdio
    server_parameters:
      command: my-server
inputs:
  - id: token
    type: promptString
    description: api token
socket:
  url: ws://hub.example:7650/smcp
  office: office-1
  auth: Bearer t-123
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "computer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "c1", cfg.Name)
	require.Len(t, cfg.Servers, 1)
	assert.Equal(t, "srv", cfg.Servers[0]["name"])
	require.Len(t, cfg.Inputs, 1)
	assert.Equal(t, "token", cfg.Inputs[0].ID)
	assert.Equal(t, "ws://hub.example:7650/smcp", cfg.Socket.URL)
	assert.Equal(t, "office-1", cfg.Socket.Office)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "servers: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "computer name")

	_, err = Load(writeConfig(t, "name: c1\nservers:\n  - type: stdio\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name")

	_, err = Load(writeConfig(t, "name: c1\ninputs:\n  - id: x\n    type: bogus\n"))
	require.Error(t, err)
}

func TestWatchReload(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	var mu sync.Mutex
	var seen []*Config

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(cfg *Config) {
			mu.Lock()
			seen = append(seen, cfg)
			mu.Unlock()
		})
	}()

	// Give the watcher a moment to install before the first write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("name: c2\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0].Name == "c2"
	}, 5*time.Second, 20*time.Millisecond)

	// A broken save must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte(":::not yaml"), 0o600))
	time.Sleep(2 * debounceDelay)
	mu.Lock()
	assert.Len(t, seen, 1)
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
