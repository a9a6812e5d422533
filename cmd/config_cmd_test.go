package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunConfigShow_MasksKeys(t *testing.T) {
	setupCmdTest(t, "{}")
	viper.Set("llm.provider", "anthropic")
	viper.Set("llm.apiKeys.anthropic", "sk-ant-0123456789wxyz")

	var out bytes.Buffer
	require.NoError(t, runConfigShow(&out, false))
	assert.Contains(t, out.String(), "provider: anthropic")
	assert.Contains(t, out.String(), "****wxyz")
	assert.NotContains(t, out.String(), "sk-ant-0123456789wxyz")

	out.Reset()
	require.NoError(t, runConfigShow(&out, true))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Contains(t, decoded, "validation")
}

func TestRunConfigInit(t *testing.T) {
	mem, _ := setupCmdTest(t, "{}")
	viper.Set("llm.apiKeys.openai", "sk-secret-value-1234")
	path := "/project/.triagewing/.triagewing.yaml"

	var out bytes.Buffer
	require.NoError(t, runConfigInit(&out, path, false))
	assert.Contains(t, out.String(), "Wrote "+path)

	data, err := afero.ReadFile(mem, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "concurrency: 3")
	assert.NotContains(t, string(data), "sk-secret")
	assert.NotContains(t, string(data), "apiKeys")

	assert.Error(t, runConfigInit(&out, path, false), "refuses to overwrite")
	assert.NoError(t, runConfigInit(&out, path, true))
}
