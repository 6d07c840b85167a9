package main

import (
	"bytes"
	"testing"

	"github.com/aretw0/onesided"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"demo", "--log-level", "error", "--size", "2", "fence", "ring"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "fence rank-1: [0 7 8 0]")
	assert.Contains(t, out.String(), "ring rank-0: read 1 from rank-1")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	require.NoError(t, rootCmd.Execute())
	assert.Equal(t, "onesided version "+onesided.Version+"\n", out.String())
}
