package system

import (
	"context"
	"os/exec"
	"runtime"
	"strings"

	"github.com/openbootdotdev/reposnap/internal/snapshot"
)

const unknown = "unknown"

// CommandRunner runs an external tool and returns its trimmed output.
type CommandRunner func(ctx context.Context, name string, args ...string) (string, error)

// Prober captures the identity of the host a snapshot is created on.
type Prober struct {
	Env EnvReader
	Run CommandRunner
}

func NewProber(env EnvReader) *Prober {
	return &Prober{Env: env, Run: RunCommandSilent}
}

// Probe never fails; tools that are missing or error out are recorded as "unknown".
func (p *Prober) Probe(ctx context.Context) snapshot.EnvironmentIdentity {
	hostname, err := p.Env.Hostname()
	if err != nil || hostname == "" {
		hostname = unknown
	}

	return snapshot.EnvironmentIdentity{
		OS:                    runtime.GOOS,
		RuntimeVersion:        p.toolVersion(ctx, "node"),
		PackageManagerVersion: p.packageManagerVersion(ctx),
		GoVersion:             strings.TrimPrefix(runtime.Version(), "go"),
		Username:              p.username(),
		Hostname:              hostname,
	}
}

func (p *Prober) username() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if v := p.Env.Getenv(key); v != "" {
			return v
		}
	}
	return unknown
}

func (p *Prober) packageManagerVersion(ctx context.Context) string {
	for _, pm := range []string{"pnpm", "npm"} {
		if v := p.toolVersion(ctx, pm); v != unknown {
			return v
		}
	}
	return unknown
}

func (p *Prober) toolVersion(ctx context.Context, tool string) string {
	if _, err := exec.LookPath(tool); err != nil {
		return unknown
	}
	output, err := p.Run(ctx, tool, "--version")
	if err != nil || output == "" {
		return unknown
	}
	return parseVersion(tool, output)
}

func parseVersion(toolName, output string) string {
	firstLine := strings.TrimSpace(strings.Split(output, "\n")[0])
	if toolName == "node" {
		// "v20.11.0" -> "20.11.0"
		return strings.TrimPrefix(firstLine, "v")
	}
	return firstLine
}
