package testutil

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/gridflow/internal/app"
	"github.com/vk/gridflow/internal/hcl"
	"github.com/vk/gridflow/internal/registry"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	Output string
	Err    error
	App    *app.App
}

// Files is the layout of an integration test: a pipelines directory and a
// request document, both given as HCL source.
type Files struct {
	Pipelines map[string]string // file name under pipelines/ -> content
	Request   string
}

// RunIntegrationTest writes files to a temporary directory, builds an App
// over them and runs it once with a background context.
func RunIntegrationTest(t *testing.T, files Files, modules ...registry.Module) *HarnessResult {
	t.Helper()
	return RunIntegrationTestWithContext(context.Background(), t, files, "", modules...)
}

// RunIntegrationTestWithContext is RunIntegrationTest with a caller context
// and an explicit pipeline name.
func RunIntegrationTestWithContext(ctx context.Context, t *testing.T, files Files, pipelineName string, modules ...registry.Module) *HarnessResult {
	t.Helper()

	tmpDir := t.TempDir()
	pipelineDir := filepath.Join(tmpDir, "pipelines")
	require.NoError(t, os.Mkdir(pipelineDir, 0o755))
	for name, content := range files.Pipelines {
		require.NoError(t, os.WriteFile(filepath.Join(pipelineDir, name), []byte(content), 0o600))
	}
	requestPath := filepath.Join(tmpDir, "request.hcl")
	require.NoError(t, os.WriteFile(requestPath, []byte(files.Request), 0o600))

	cfg, err := app.NewConfig(app.Config{
		PipelinePath: pipelineDir,
		PipelineName: pipelineName,
		RequestPath:  requestPath,
		LogLevel:     "debug",
		LogFormat:    "text",
		WorkerCount:  4,
	})
	require.NoError(t, err)

	out := &SafeBuffer{}
	defer func() {
		if os.Getenv("GRIDFLOW_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), out.String())
		}
	}()

	testApp, err := app.NewApp(out, cfg, hcl.NewLoader(), modules...)
	if err != nil {
		return &HarnessResult{Output: out.String(), Err: err}
	}
	err = testApp.Run(ctx)
	return &HarnessResult{Output: out.String(), Err: err, App: testApp}
}
