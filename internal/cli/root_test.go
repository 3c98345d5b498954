package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRootCmd(t *testing.T) {
	cmd := GetRootCmd()
	require.NotNil(t, cmd)
	assert.Equal(t, "orbit", cmd.Use)
}

func TestGetVersion(t *testing.T) {
	assert.Equal(t, version, GetVersion())
	assert.NotEmpty(t, GetVersion())
}

func TestSubcommandsRegistered(t *testing.T) {
	cmd := GetRootCmd()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	assert.True(t, names["start"])
	assert.True(t, names["status"])
	assert.True(t, names["validate"])
}

func TestGlobalFlags(t *testing.T) {
	cmd := GetRootCmd()

	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}
