package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	metrics "github.com/aixgo-dev/duet/pkg/observability"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, metrics.Version+"\n", out.String())
}

func TestRunCmd_RejectsInvalidConfig(t *testing.T) {
	t.Setenv("DUET_PASSWORD", "")
	t.Setenv("DUET_ROOM", "")
	t.Setenv("DUET_AGENTS", "")
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "duet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("room: testroom\n"), 0600))

	var errOut bytes.Buffer
	root := newRootCmd()
	root.SetErr(&errOut)
	root.SetArgs([]string{"run", "--config", path, "--http-port", "0"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "password is required")
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")

	path := filepath.Join(t.TempDir(), "duet.yaml")
	content := `
room: testroom
password: pw
agents:
  - name: rahul
  - name: priya
llm:
  api_key: gsk-test
http:
  port: 9090
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--http-port", "0", "--log-level", "debug"}))

	cfg, err := loadConfig(cmd, runOptions{configFile: path, httpPort: 0, logLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.HTTP.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}
