package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRun_StartupError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pipelinePath := writeFile(t, dir, "main.hcl", `
		pipeline "broken" {
			node "entry" "request" {
		// Missing closing brace here
	`)
	requestPath := writeFile(t, dir, "request.hcl", "")

	runErr := run(context.Background(), &bytes.Buffer{}, []string{"-request", requestPath, pipelinePath})

	require.Error(t, runErr)
	require.ErrorContains(t, runErr, "application startup failed")
	require.ErrorContains(t, runErr, "failed to load configuration")
}

func TestRun_ShouldExit(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-h"})

	require.NoError(t, err, "run() should return a nil error when shouldExit is true")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	err := run(context.Background(), &bytes.Buffer{}, []string{"--this-is-not-a-valid-flag"})

	require.Error(t, err, "run() should return an error when argument parsing fails")
	require.Contains(t, err.Error(), "flag provided but not defined: -this-is-not-a-valid-flag")
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	pipelinePath := writeFile(t, dir, "main.hcl", `
pipeline "echo" {
  node "entry" "request" {}

  node "model" "copy" {
    model = "identity"

    input "request" {
      x = "x"
    }
  }

  node "exit" "response" {
    input "copy" {
      x = "echoed"
    }
  }
}
`)
	requestPath := writeFile(t, dir, "request.hcl", `
tensor "x" {
  shape     = [3]
  precision = "I32"
  data      = [7, -1, 4]
}
`)

	out := &bytes.Buffer{}
	err := run(context.Background(), out, []string{"-request", requestPath, "-log-level", "error", pipelinePath})

	require.NoError(t, err)
	require.Contains(t, out.String(), "echoed I32 (3) [7 -1 4]")
}
