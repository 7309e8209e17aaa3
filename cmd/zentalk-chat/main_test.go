package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/zentalk-chat/pkg/config"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()

	root := rootCmd()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.Execute()
}

func TestInvalidArguments(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"listen bad port", []string{"listen", "eighty"}},
		{"listen port out of range", []string{"listen", "70000"}},
		{"connect without address", []string{"connect"}},
		{"connect bad address", []string{"connect", "localhost"}},
		{"gossip extra args", []string{"gossip", "lobby"}},
		{"bad psk", []string{"--psk", "zz", "listen", "0"}},
		{"psk and passphrase", []string{"--psk", "00", "--passphrase", "x", "connect", "127.0.0.1:1"}},
		{"bad log level", []string{"--log-level", "chatty", "connect", "127.0.0.1:1"}},
		{"missing config", []string{"--config", "/nonexistent/zentalk.yaml", "gossip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, execute(t, tt.args...))
		})
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: from-file\napi_port: 9000\nlog_level: info\n"), 0o600))

	root := rootCmd()
	require.NoError(t, root.ParseFlags([]string{"--config", path, "--name", "from-flag"}))
	require.NoError(t, loadConfig(root, nil))

	assert.Equal(t, "from-flag", cfg.Name)
	assert.Equal(t, 9000, cfg.APIPort)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestDefaultsWithoutConfig(t *testing.T) {
	root := rootCmd()
	configPath = ""
	require.NoError(t, root.ParseFlags(nil))
	require.NoError(t, loadConfig(root, nil))

	assert.Equal(t, config.DefaultConfig(), cfg)
}
