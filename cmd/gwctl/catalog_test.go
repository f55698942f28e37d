package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeedFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

const validCatalogSeed = `{
	"providers": [{"id": "p1", "name": "openai", "priority": 0, "active": true}],
	"endpoints": [{"id": "e1", "provider_id": "p1", "base_url": "https://api.openai.com", "format": "openai_chat", "timeout_ms": 30000, "max_retries": 2, "active": true}],
	"credentials": [{"id": "c1", "endpoint_id": "e1", "secret": "sk-test", "active": true}],
	"global_models": [{"id": "gpt-4o-mini", "name": "gpt-4o-mini", "active": true}],
	"models": [{"id": "m1", "provider_id": "p1", "global_model_id": "gpt-4o-mini", "provider_name": "gpt-4o-mini", "active": true}]
}`

func TestCatalogLint_Valid(t *testing.T) {
	path := writeSeedFile(t, validCatalogSeed)

	cmd := newCatalogLintCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "catalog is valid")
}

func TestCatalogLint_BrokenReference(t *testing.T) {
	path := writeSeedFile(t, `{"endpoints": [{"id": "e1", "provider_id": "missing", "base_url": "https://x", "format": "openai_chat"}]}`)

	cmd := newCatalogLintCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{path})

	err := cmd.Execute()
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "unknown provider_id")
}

func TestCatalogLint_RequiresArg(t *testing.T) {
	cmd := newCatalogLintCmd()
	cmd.SetArgs(nil)
	assert.Error(t, cmd.Execute())
}
