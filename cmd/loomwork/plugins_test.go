package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestRunPluginsListReturnsThreeOnMissingDirectory(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	var errOut bytes.Buffer
	cmd.SetErr(&errOut)

	code := runPluginsList(cmd, filepath.Join(t.TempDir(), "absent"))
	require.Equal(t, 3, code)
	require.NotEmpty(t, errOut.String())
}

func TestRunPluginsListReturnsZeroForEmptyDirectory(t *testing.T) {
	t.Parallel()

	cmd := &cobra.Command{}
	var out bytes.Buffer
	cmd.SetOut(&out)

	code := runPluginsList(cmd, t.TempDir())
	require.Equal(t, 0, code)
	require.Empty(t, out.String())
}
