package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sahilm/fuzzy"
)

var (
	itemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#fff"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#22c55e"))

	descStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666"))

	matchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#60a5fa")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#444")).
			MarginTop(1)

	countStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888"))
)

// PickerItem is one repository offered for selection.
type PickerItem struct {
	Path   string
	Name   string
	Detail string
}

// PickerModel lets the user choose which repositories to snapshot.
type PickerModel struct {
	items        []PickerItem
	selected     map[string]bool
	cursor       int
	scrollOffset int
	height       int
	width        int
	confirmed    bool

	searchMode  bool
	searchQuery string
	// fuzzyMatches is nil when no query is active.
	fuzzyMatches fuzzy.Matches
}

// NewPicker starts with every item selected.
func NewPicker(items []PickerItem) PickerModel {
	selected := make(map[string]bool, len(items))
	for _, it := range items {
		selected[it.Path] = true
	}
	return PickerModel{items: items, selected: selected}
}

func (m PickerModel) Init() tea.Cmd {
	return nil
}

// visible returns the indexes of items shown in the list.
func (m PickerModel) visible() []int {
	if m.fuzzyMatches == nil {
		idx := make([]int, len(m.items))
		for i := range m.items {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, len(m.fuzzyMatches))
	for i, match := range m.fuzzyMatches {
		idx[i] = match.Index
	}
	return idx
}

func (m *PickerModel) updateFilter() {
	if m.searchQuery == "" {
		m.fuzzyMatches = nil
		return
	}
	names := make([]string, len(m.items))
	for i, it := range m.items {
		names[i] = it.Name
	}
	m.fuzzyMatches = fuzzy.Find(m.searchQuery, names)
	if m.fuzzyMatches == nil {
		m.fuzzyMatches = fuzzy.Matches{}
	}
	m.cursor = 0
	m.scrollOffset = 0
}

func (m PickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if m.searchMode {
			return m.updateSearch(msg)
		}
		visible := m.visible()

		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Search):
			m.searchMode = true
			m.searchQuery = ""

		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.scrollOffset {
					m.scrollOffset = m.cursor
				}
			}

		case key.Matches(msg, keys.Down):
			if m.cursor < len(visible)-1 {
				m.cursor++
				visibleItems := m.getVisibleItems()
				if m.cursor >= m.scrollOffset+visibleItems {
					m.scrollOffset = m.cursor - visibleItems + 1
				}
			}

		case key.Matches(msg, keys.Space):
			if m.cursor < len(visible) {
				p := m.items[visible[m.cursor]].Path
				m.selected[p] = !m.selected[p]
			}

		case key.Matches(msg, keys.Enter):
			m.confirmed = true
			return m, tea.Quit

		case key.Matches(msg, keys.SelectAll):
			allSelected := true
			for _, i := range visible {
				if !m.selected[m.items[i].Path] {
					allSelected = false
					break
				}
			}
			for _, i := range visible {
				m.selected[m.items[i].Path] = !allSelected
			}
		}
	}

	return m, nil
}

func (m PickerModel) updateSearch(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.searchMode = false
		m.searchQuery = ""
		m.updateFilter()
	case tea.KeyEnter:
		m.searchMode = false
	case tea.KeyBackspace:
		if m.searchQuery != "" {
			runes := []rune(m.searchQuery)
			m.searchQuery = string(runes[:len(runes)-1])
			m.updateFilter()
		}
	case tea.KeyCtrlC:
		return m, tea.Quit
	case tea.KeyRunes, tea.KeySpace:
		m.searchQuery += string(msg.Runes)
		m.updateFilter()
	}
	return m, nil
}

func (m PickerModel) getVisibleItems() int {
	if m.height == 0 {
		return 15
	}
	available := m.height - 8
	if available < 5 {
		available = 5
	}
	if available > 20 {
		available = 20
	}
	return available
}

func (m PickerModel) matchedIndexes(item int) []int {
	for _, match := range m.fuzzyMatches {
		if match.Index == item {
			return match.MatchedIndexes
		}
	}
	return nil
}

func (m PickerModel) View() string {
	var lines []string

	if m.searchMode || m.searchQuery != "" {
		lines = append(lines, fmt.Sprintf("Filter: %s", m.searchQuery))
	} else {
		lines = append(lines, "Repositories to snapshot")
	}
	lines = append(lines, "")

	visible := m.visible()
	visibleItems := m.getVisibleItems()

	if m.scrollOffset > len(visible)-visibleItems {
		m.scrollOffset = len(visible) - visibleItems
	}
	if m.scrollOffset < 0 {
		m.scrollOffset = 0
	}

	endIdx := m.scrollOffset + visibleItems
	if endIdx > len(visible) {
		endIdx = len(visible)
	}

	for i := m.scrollOffset; i < endIdx; i++ {
		item := m.items[visible[i]]
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}

		checkbox := "[ ]"
		style := itemStyle
		if m.selected[item.Path] {
			checkbox = "[✓]"
			style = selectedStyle
		}

		name := style.Render(item.Name)
		if idx := m.matchedIndexes(visible[i]); len(idx) > 0 {
			name = highlightMatches(item.Name, idx)
		}
		line := fmt.Sprintf("%s%s %s %s", cursor, checkbox, name, descStyle.Render(item.Detail))
		lines = append(lines, truncateLine(line, m.width))
	}

	if len(visible) == 0 {
		lines = append(lines, descStyle.Render("  no repositories match"))
	}

	lines = append(lines, "")
	lines = append(lines, countStyle.Render(fmt.Sprintf("Selected: %d of %d repositories", len(m.Selected()), len(m.items))))
	lines = append(lines, "")
	lines = append(lines, helpStyle.Render("↑↓: navigate • Space: toggle • a: toggle all • /: filter • Enter: confirm • q: quit"))

	return strings.Join(lines, "\n")
}

// Selected returns the chosen paths in item order.
func (m PickerModel) Selected() []string {
	var out []string
	for _, it := range m.items {
		if m.selected[it.Path] {
			out = append(out, it.Path)
		}
	}
	return out
}

func (m PickerModel) Confirmed() bool {
	return m.confirmed
}

func highlightMatches(s string, indexes []int) string {
	if len(indexes) == 0 {
		return s
	}
	hit := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		hit[i] = true
	}
	var b strings.Builder
	for i, r := range []rune(s) {
		if hit[i] {
			b.WriteString(matchStyle.Render(string(r)))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncateLine(s string, maxWidth int) string {
	if maxWidth <= 0 || lipgloss.Width(s) <= maxWidth {
		return s
	}
	runes := []rune(s)
	if maxWidth < 10 {
		if len(runes) > maxWidth {
			return string(runes[:maxWidth])
		}
		return s
	}
	if len(runes) > maxWidth-3 {
		return string(runes[:maxWidth-3]) + "..."
	}
	return s
}

type keyMap struct {
	Up        key.Binding
	Down      key.Binding
	Space     key.Binding
	Enter     key.Binding
	SelectAll key.Binding
	Search    key.Binding
	Quit      key.Binding
}

var keys = keyMap{
	Up:        key.NewBinding(key.WithKeys("up", "k")),
	Down:      key.NewBinding(key.WithKeys("down", "j")),
	Space:     key.NewBinding(key.WithKeys(" ")),
	Enter:     key.NewBinding(key.WithKeys("enter")),
	SelectAll: key.NewBinding(key.WithKeys("a")),
	Search:    key.NewBinding(key.WithKeys("/")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c")),
}

// RunPicker shows the picker and returns the chosen paths. It returns
// ErrUserCancelled when the user quits without confirming.
func RunPicker(items []PickerItem) ([]string, error) {
	model := NewPicker(items)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithOutput(Out))

	finalModel, err := p.Run()
	if err != nil {
		return nil, err
	}

	m := finalModel.(PickerModel)
	if !m.Confirmed() {
		return nil, ErrUserCancelled
	}
	return m.Selected(), nil
}
