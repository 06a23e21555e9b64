package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/openbootdotdev/reposnap/internal/engine"
	"github.com/openbootdotdev/reposnap/internal/system"
)

var (
	stageCheckStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22c55e"))

	stageErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ef4444"))

	stageActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#06b6d4"))

	stageCountStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// stepUnits names what a step's count measures.
var stepUnits = map[string]string{
	"Inspecting repositories": "repository",
	"Building archive":        "file",
	"Uploading snapshot":      "part",
	"Comparing repositories":  "repository",
}

type stepState struct {
	name    string
	status  string
	count   int
	started time.Time
	elapsed time.Duration
	printed bool
}

// StageProgress renders engine steps on Out as they are reported. On a TTY
// the block is redrawn in place with a spinner; otherwise each finished step
// is printed once.
type StageProgress struct {
	title       string
	out         io.Writer
	steps       []stepState
	spinnerIdx  int
	spinnerStop chan struct{}
	closeOnce   sync.Once
	mu          sync.Mutex
	isTTY       bool
	lines       int
	titled      bool
}

func NewStageProgress(title string) *StageProgress {
	sp := &StageProgress{
		title:       title,
		out:         Out,
		spinnerStop: make(chan struct{}),
		isTTY:       system.HasTTY(),
	}

	if sp.isTTY {
		go sp.spin()
	}

	return sp
}

func (sp *StageProgress) spin() {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sp.spinnerStop:
			return
		case <-ticker.C:
			sp.mu.Lock()
			sp.spinnerIdx = (sp.spinnerIdx + 1) % len(spinnerFrames)
			for _, s := range sp.steps {
				if s.status == engine.StatusRunning {
					sp.render()
					break
				}
			}
			sp.mu.Unlock()
		}
	}
}

// Update records a step event. It is safe to pass as engine.Options.OnStep.
func (sp *StageProgress) Update(step engine.Step) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if step.Index < 0 {
		return
	}
	for len(sp.steps) <= step.Index {
		sp.steps = append(sp.steps, stepState{})
	}

	s := &sp.steps[step.Index]
	if step.Status == engine.StatusRunning && s.status != engine.StatusRunning {
		s.started = time.Now()
	}
	if (step.Status == engine.StatusDone || step.Status == engine.StatusError) && s.status == engine.StatusRunning {
		s.elapsed = time.Since(s.started)
	}
	s.name = step.Name
	s.status = step.Status
	s.count = step.Count

	sp.render()
}

func (sp *StageProgress) Finish() {
	sp.closeOnce.Do(func() { close(sp.spinnerStop) })

	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.render()
	if sp.titled {
		fmt.Fprintf(sp.out, "\n")
	}
}

func (sp *StageProgress) completed() int {
	n := 0
	for _, s := range sp.steps {
		if s.status == engine.StatusDone || s.status == engine.StatusError {
			n++
		}
	}
	return n
}

func (sp *StageProgress) render() {
	if sp.isTTY {
		sp.renderTTY()
	} else {
		sp.renderPlain()
	}
}

func (sp *StageProgress) renderTTY() {
	if sp.lines > 0 {
		fmt.Fprintf(sp.out, "\033[%dA", sp.lines)
	}
	sp.titled = true
	fmt.Fprintf(sp.out, "\033[K  %s [%d/%d]\n", sp.title, sp.completed(), len(sp.steps))

	for _, s := range sp.steps {
		fmt.Fprintf(sp.out, "\033[K")

		switch s.status {
		case engine.StatusDone:
			fmt.Fprintf(sp.out, "  %s %s\n",
				stageCheckStyle.Render("✓ "+s.name),
				stageCountStyle.Render(stepDetail(s)))
		case engine.StatusError:
			fmt.Fprintf(sp.out, "  %s %s\n",
				stageErrorStyle.Render("✗ "+s.name),
				stageCountStyle.Render(fmt.Sprintf("failed, %s", formatStepDuration(s.elapsed))))
		case engine.StatusRunning:
			fmt.Fprintf(sp.out, "  %s %s\n",
				stageActiveStyle.Render(spinnerFrames[sp.spinnerIdx]+" "+s.name),
				stageCountStyle.Render(formatStepDuration(time.Since(s.started))+"..."))
		default:
			fmt.Fprintf(sp.out, "\n")
		}
	}
	sp.lines = len(sp.steps) + 1
}

func (sp *StageProgress) renderPlain() {
	for i := range sp.steps {
		s := &sp.steps[i]
		if s.printed {
			continue
		}
		switch s.status {
		case engine.StatusDone:
			sp.plainTitle()
			fmt.Fprintf(sp.out, "  ✓ %s (%s)\n", s.name, stepDetail(*s))
			s.printed = true
		case engine.StatusError:
			sp.plainTitle()
			fmt.Fprintf(sp.out, "  ✗ %s (failed, %s)\n", s.name, formatStepDuration(s.elapsed))
			s.printed = true
		}
	}
}

func (sp *StageProgress) plainTitle() {
	if !sp.titled {
		fmt.Fprintf(sp.out, "  %s\n", sp.title)
		sp.titled = true
	}
}

func stepDetail(s stepState) string {
	elapsed := formatStepDuration(s.elapsed)
	unit, ok := stepUnits[s.name]
	if !ok {
		return elapsed
	}
	return fmt.Sprintf("%s, %s", formatStepCount(s.count, unit), elapsed)
}

func formatStepDuration(d time.Duration) string {
	if d < time.Second {
		return "< 1s"
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func formatStepCount(count int, unit string) string {
	if count == 1 {
		return "1 " + unit
	}
	return humanize.Comma(int64(count)) + " " + plural(unit)
}

func plural(unit string) string {
	if n := len(unit); n > 1 && unit[n-1] == 'y' {
		return unit[:n-1] + "ies"
	}
	return unit + "s"
}
