package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig drops a yaml file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "iris.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "iris", cfg.Agent.ID)
	assert.Equal(t, "xml", cfg.Agent.ParserMode)
	assert.False(t, cfg.Agent.AutoExecuteTools)
	assert.Equal(t, 24, cfg.Agent.MaxTurns)
	assert.Equal(t, ":8420", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
agent:
  id: worker-1
  parser_mode: json
  auto_execute_tools: true
llm:
  model: test-model
server:
  addr: ":9999"
`))
	require.NoError(t, err)

	assert.Equal(t, "worker-1", cfg.Agent.ID)
	assert.Equal(t, "json", cfg.Agent.ParserMode)
	assert.True(t, cfg.Agent.AutoExecuteTools)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("IRIS_LLM_API_KEY", "secret")
	t.Setenv("IRIS_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.LLM.APIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInvalidParserModeRejected(t *testing.T) {
	_, err := Load(writeConfig(t, "agent:\n  parser_mode: bogus\n"))
	assert.Error(t, err)
}

func TestQueueCapacities(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
agent:
  queue_capacities:
    user_message: 8
    tool_result: 128
`))
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Agent.QueueCapacities["user_message"])
	assert.Equal(t, 128, cfg.Agent.QueueCapacities["tool_result"])
}
