package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "wellbot-loader", cmd.Name())

	flag := cmd.Flags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)

	assert.Error(t, cmd.Args(cmd, []string{"unexpected"}))
}
