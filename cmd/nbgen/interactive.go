package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/nativebind/typemap"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	kindStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	skippedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFB86C"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type browserState int

const (
	stateBrowse browserState = iota
	stateFilter
	stateSource
)

// entry is one row of the browser.
type entry struct {
	name    string
	kind    string
	file    string
	skipped string
	notes   []string
}

type browserModel struct {
	err      error
	res      *result
	opts     options
	entries  []entry
	visible  []int
	filter   textinput.Model
	source   viewport.Model
	selected int
	width    int
	height   int
	state    browserState
}

type generatedMsg struct {
	err error
	res *result
}

func newBrowserModel(o options) *browserModel {
	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "filter"
	ti.Width = 40
	return &browserModel{
		opts:   o,
		filter: ti,
		source: viewport.New(80, 20),
		width:  80,
		height: 24,
	}
}

func (m *browserModel) Init() tea.Cmd {
	return m.generate
}

func (m *browserModel) generate() tea.Msg {
	res, err := generate(m.opts)
	return generatedMsg{res: res, err: err}
}

// entriesOf lists every entity of the namespace with its file and the
// members that were left out of it.
func entriesOf(res *result) []entry {
	notes := make(map[string][]string)
	for _, x := range res.out.Excluded {
		notes[x.Entity] = append(notes[x.Entity], x.Method+": "+x.Reason)
	}
	reasons := make(map[string]string)
	for _, s := range res.out.Skipped {
		reasons[s.Entity] = s.Reason
	}

	var entries []entry
	for _, e := range res.ns.Entities() {
		name := e.EntityName()
		entries = append(entries, entry{
			name:    name,
			kind:    e.Category().String(),
			file:    typemap.FileName(name),
			skipped: reasons[name],
			notes:   notes[name],
		})
	}
	for _, file := range []string{"callbacks.go", "enums.go", "constants.go", "functions.go", "index.go"} {
		if _, ok := res.out.File(file); ok {
			entries = append(entries, entry{name: file, kind: "file", file: file, notes: notes[strings.TrimSuffix(file, ".go")]})
		}
	}
	return entries
}

func (m *browserModel) applyFilter() {
	q := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for i, e := range m.entries {
		if q == "" || strings.Contains(strings.ToLower(e.name), q) {
			m.visible = append(m.visible, i)
		}
	}
	if m.selected >= len(m.visible) {
		m.selected = max(len(m.visible)-1, 0)
	}
}

func (m *browserModel) current() (entry, bool) {
	if m.selected < len(m.visible) {
		return m.entries[m.visible[m.selected]], true
	}
	return entry{}, false
}

// showSource loads the selected entity's file and notes into the viewport.
func (m *browserModel) showSource() {
	e, ok := m.current()
	if !ok {
		return
	}
	var b strings.Builder
	if e.skipped != "" {
		b.WriteString(skippedStyle.Render("skipped: " + e.skipped))
		b.WriteString("\n\n")
	}
	for _, n := range e.notes {
		b.WriteString(skippedStyle.Render("excluded " + n))
		b.WriteString("\n")
	}
	if len(e.notes) > 0 {
		b.WriteString("\n")
	}
	if f, ok := m.res.out.File(e.file); ok {
		b.Write(f.Content)
	} else if e.skipped == "" {
		b.WriteString(helpStyle.Render("(emitted in a shared file)"))
	}
	m.source.SetContent(b.String())
	m.source.GotoTop()
	m.state = stateSource
}

func (m *browserModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.source.Width = msg.Width
		m.source.Height = max(msg.Height-4, 1)
		return m, nil

	case generatedMsg:
		m.err = msg.err
		if msg.err == nil {
			m.res = msg.res
			m.entries = entriesOf(msg.res)
			m.applyFilter()
		}
		return m, nil

	case tea.KeyMsg:
		switch m.state {
		case stateFilter:
			switch msg.String() {
			case "enter", "esc":
				m.filter.Blur()
				m.state = stateBrowse
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.applyFilter()
			return m, cmd

		case stateSource:
			switch msg.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			case "esc", "enter":
				m.state = stateBrowse
				return m, nil
			}
			var cmd tea.Cmd
			m.source, cmd = m.source.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
		case "down", "j":
			if m.selected < len(m.visible)-1 {
				m.selected++
			}
		case "/":
			m.state = stateFilter
			return m, m.filter.Focus()
		case "r":
			return m, m.generate
		case "enter":
			if m.res != nil {
				m.showSource()
			}
		}
	}
	return m, nil
}

func (m *browserModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress r to retry or q to quit.", m.err))
	}
	if m.res == nil {
		return "Generating bindings..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("nbgen"))
	b.WriteString(" ")
	b.WriteString(fmt.Sprintf("%s → package %s", m.res.ns.Name, m.res.out.Package))
	b.WriteString("\n\n")

	switch m.state {
	case stateSource:
		e, _ := m.current()
		b.Reset()
		b.WriteString(titleStyle.Render(e.file))
		b.WriteString("\n")
		b.WriteString(m.source.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ scroll • esc back • q quit"))
		return b.String()

	case stateFilter:
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
	}

	rows := max(m.height-8, 5)
	start := 0
	if m.selected >= rows {
		start = m.selected - rows + 1
	}
	for i := start; i < len(m.visible) && i < start+rows; i++ {
		line := m.formatEntry(m.entries[m.visible[i]])
		if i == m.selected {
			b.WriteString(selectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("%d skipped • %d excluded • ↑/↓ select • enter source • / filter • r regenerate • q quit",
		len(m.res.out.Skipped), len(m.res.out.Excluded))))
	return b.String()
}

func (m *browserModel) formatEntry(e entry) string {
	line := kindStyle.Render(fmt.Sprintf("%-10s", e.kind)) + " " + nameStyle.Render(e.name)
	if e.skipped != "" {
		line += " " + skippedStyle.Render("(skipped)")
	} else if len(e.notes) > 0 {
		line += " " + skippedStyle.Render(fmt.Sprintf("(%d excluded)", len(e.notes)))
	}
	return line
}

func runInteractive(o options) error {
	p := tea.NewProgram(newBrowserModel(o), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
