package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscoverCmd_RequiresAPIKey(t *testing.T) {
	os.Unsetenv("OPENAI_API_KEY")

	cmd := newDiscoverCmd()
	cmd.SetArgs(nil)
	err := cmd.Execute()
	assert.ErrorContains(t, err, "api-key")
}
