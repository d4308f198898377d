package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/afs/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "afs", "config.yaml")

	out, err := execute(t, "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = os.Stat(path)
	require.NoError(t, err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sharded", cfg.Storage.Layout)

	_, err = execute(t, "init", "--config", path)
	assert.Error(t, err)

	_, err = execute(t, "init", "--config", path, "--force")
	assert.NoError(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "afs "+version)
}

func TestUnknownCommand(t *testing.T) {
	_, err := execute(t, "mount")
	assert.Error(t, err)
}
