package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidatesCmd_ResolvesAgainstSeed(t *testing.T) {
	path := writeSeedFile(t, validCatalogSeed)

	cmd := newCandidatesCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"--seed", path, "--model", "gpt-4o-mini"})

	require.NoError(t, cmd.Execute())
	out := buf.String()
	assert.Contains(t, out, "canonical model: gpt-4o-mini")
	assert.Contains(t, out, "provider=openai")
}

func TestCandidatesCmd_RequiresModel(t *testing.T) {
	path := writeSeedFile(t, validCatalogSeed)

	cmd := newCandidatesCmd()
	cmd.SetArgs([]string{"--seed", path})
	assert.Error(t, cmd.Execute())
}

func TestCandidatesCmd_RequiresSeed(t *testing.T) {
	cmd := newCandidatesCmd()
	cmd.SetArgs([]string{"--model", "gpt-4o-mini"})
	assert.Error(t, cmd.Execute())
}
