package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vscopilot.yaml")
	doc := `
vscode:
  executable: code-insiders
chat:
  poll_interval_ms: 250
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "code-insiders", cfg.VSCode.Executable)
	require.Equal(t, 250, cfg.Chat.PollIntervalMs)
	require.Equal(t, "debug", cfg.Logging.Level)

	// Everything not mentioned keeps its default.
	require.Equal(t, Default().VSCode.PortStart, cfg.VSCode.PortStart)
	require.Equal(t, Default().Chat.SafetyTimeoutMs, cfg.Chat.SafetyTimeoutMs)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vscode: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
