package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AshkanYarmoradi/go-stoat/cli/commands"
)

func TestVersionVariables(t *testing.T) {
	assert.Equal(t, "dev", version)
	assert.Equal(t, "none", commit)
	assert.Equal(t, "unknown", buildDate)
}

func TestRootCommandUsesBuildInfo(t *testing.T) {
	orig := commands.Version
	t.Cleanup(func() { commands.Version = orig })

	commands.Version = "1.0.0"
	cmd, _, err := commands.NewRootCommand().Find([]string{"version"})
	assert.NoError(t, err)
	assert.Equal(t, "version", cmd.Name())
}
