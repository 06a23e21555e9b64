package system

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbootdotdev/reposnap/testutil"
)

func TestFixedClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, at, FixedClock(at).Now())
}

func TestRunCommandSilent_Success(t *testing.T) {
	output, err := RunCommandSilent(context.Background(), "echo", "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", output)
}

func TestRunCommandSilent_TrimSpace(t *testing.T) {
	output, err := RunCommandSilent(context.Background(), "echo", "  test  ")
	require.NoError(t, err)
	assert.Equal(t, "test", output)
}

func TestRunCommandSilent_CommandNotFound(t *testing.T) {
	_, err := RunCommandSilent(context.Background(), "nonexistentcommand12345")
	assert.Error(t, err)
}

func TestRunCommandSilent_CombinesOutput(t *testing.T) {
	output, err := RunCommandSilent(context.Background(), "sh", "-c", "echo stdout; echo stderr >&2")
	require.NoError(t, err)

	assert.Contains(t, output, "stdout")
	assert.Contains(t, output, "stderr")
}

func TestRunCommandSilent_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RunCommandSilent(ctx, "sleep", "5")
	assert.Error(t, err)
}

func TestHasTTY(t *testing.T) {
	assert.IsType(t, true, HasTTY())
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name     string
		toolName string
		output   string
		expected string
	}{
		{name: "node", toolName: "node", output: "v20.11.0", expected: "20.11.0"},
		{name: "pnpm", toolName: "pnpm", output: "9.1.0", expected: "9.1.0"},
		{name: "npm multiline", toolName: "npm", output: "10.2.4\nnotice", expected: "10.2.4"},
		{name: "unknown tool", toolName: "other", output: "some output", expected: "some output"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseVersion(tt.toolName, tt.output))
		})
	}
}

func setupFakeTools(t *testing.T, scripts map[string]string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	tmpDir := t.TempDir()
	for name, body := range scripts {
		testutil.WriteScript(t, tmpDir, name, body)
	}
	t.Setenv("PATH", tmpDir)
}

func TestProbe_WithFakeTools(t *testing.T) {
	setupFakeTools(t, map[string]string{
		"node": "echo v22.1.0",
		"pnpm": "echo 9.4.0",
	})

	p := NewProber(MapEnv{Vars: map[string]string{"USER": "dev"}, Host: "workstation"})
	id := p.Probe(context.Background())

	assert.Equal(t, runtime.GOOS, id.OS)
	assert.Equal(t, "22.1.0", id.RuntimeVersion)
	assert.Equal(t, "9.4.0", id.PackageManagerVersion)
	assert.Equal(t, "dev", id.Username)
	assert.Equal(t, "workstation", id.Hostname)
	assert.Equal(t, strings.TrimPrefix(runtime.Version(), "go"), id.GoVersion)
}

func TestProbe_FallsBackToNpm(t *testing.T) {
	setupFakeTools(t, map[string]string{
		"npm": "echo 10.5.0",
	})

	p := NewProber(MapEnv{Vars: map[string]string{"USERNAME": "win-dev"}})
	id := p.Probe(context.Background())

	assert.Equal(t, "unknown", id.RuntimeVersion)
	assert.Equal(t, "10.5.0", id.PackageManagerVersion)
	assert.Equal(t, "win-dev", id.Username)
	assert.Equal(t, "unknown", id.Hostname)
}

func TestProbe_ToolErrorsDegrade(t *testing.T) {
	setupFakeTools(t, map[string]string{
		"node": "exit 1",
	})

	p := NewProber(MapEnv{})
	p.Run = func(ctx context.Context, name string, args ...string) (string, error) {
		return "", errors.New("boom")
	}
	id := p.Probe(context.Background())

	assert.Equal(t, "unknown", id.RuntimeVersion)
	assert.Equal(t, "unknown", id.PackageManagerVersion)
	assert.Equal(t, "unknown", id.Username)
}
