package system

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/term"
)

// Clock abstracts the process clock so ids and timestamps are reproducible in tests.
type Clock interface {
	Now() time.Time
}

type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}

// EnvReader abstracts the ambient process environment.
type EnvReader interface {
	Getenv(key string) string
	Hostname() (string, error)
	Getwd() (string, error)
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }
func (osEnv) Hostname() (string, error) { return os.Hostname() }
func (osEnv) Getwd() (string, error) { return os.Getwd() }

// OSEnv reads the real process environment.
var OSEnv EnvReader = osEnv{}

// MapEnv is an EnvReader backed by fixed values.
type MapEnv struct {
	Vars map[string]string
	Host string
	Wd   string
}

func (m MapEnv) Getenv(key string) string { return m.Vars[key] }
func (m MapEnv) Hostname() (string, error) { return m.Host, nil }
func (m MapEnv) Getwd() (string, error) { return m.Wd, nil }

// RunCommandSilent runs name with args and returns trimmed combined output.
func RunCommandSilent(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(output)), err
}

func HasTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
