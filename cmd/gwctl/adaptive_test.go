package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptiveCmd_PrintsLearnedState(t *testing.T) {
	path := writeSeedFile(t, validCatalogSeed)

	cmd := newAdaptiveCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--seed", path, "--credential", "c1"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "credential: c1")
	assert.Contains(t, out, "adjustment history: empty")
	assert.Contains(t, out, "last rate limit: none observed")
}

func TestAdaptiveCmd_UnknownCredential(t *testing.T) {
	path := writeSeedFile(t, validCatalogSeed)

	cmd := newAdaptiveCmd()
	cmd.SetArgs([]string{"--seed", path, "--credential", "does-not-exist"})
	assert.Error(t, cmd.Execute())
}

func TestAdaptiveCmd_RequiresCredential(t *testing.T) {
	path := writeSeedFile(t, validCatalogSeed)

	cmd := newAdaptiveCmd()
	cmd.SetArgs([]string{"--seed", path})
	assert.Error(t, cmd.Execute())
}
