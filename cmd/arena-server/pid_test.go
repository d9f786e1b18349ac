package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.pid")

	cleanup, err := managePIDFile(path, true)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(data)))

	// Our own PID is alive
	_, err = managePIDFile(path, true)
	assert.Error(t, err)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFileTakesOverCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arena.pid")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0644))

	cleanup, err := managePIDFile(path, true)
	require.NoError(t, err)
	defer cleanup()
}
