package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-trace/trace"
	"github.com/wippyai/wasm-trace/wasm"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB")).
			Padding(0, 1)

	activeTabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// tableView is one browsable trace table.
type tableView struct {
	name    string
	columns []table.Column
	rows    []table.Row
}

type interactiveModel struct {
	filename  string
	results   []uint64
	views     []tableView
	table     table.Model
	filter    textinput.Model
	current   int
	filtering bool
}

func newInteractiveModel(filename string, t *trace.Tables, results []uint64) *interactiveModel {
	filter := textinput.New()
	filter.Prompt = "/"
	filter.Placeholder = "filter rows"
	filter.Width = 40

	tbl := table.New(table.WithFocused(true), table.WithHeight(20))
	styles := table.DefaultStyles()
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
	tbl.SetStyles(styles)

	m := &interactiveModel{
		filename: filename,
		results:  results,
		views:    buildViews(t),
		table:    tbl,
		filter:   filter,
	}
	m.show()
	return m
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

// show loads the current view into the table, applying the filter.
func (m *interactiveModel) show() {
	v := m.views[m.current]
	needle := strings.ToLower(strings.TrimSpace(m.filter.Value()))

	var rows []table.Row
	for _, r := range v.rows {
		if needle == "" || strings.Contains(strings.ToLower(strings.Join(r, " ")), needle) {
			rows = append(rows, r)
		}
	}
	m.table.SetRows(nil)
	m.table.SetColumns(v.columns)
	m.table.SetRows(rows)
	if len(rows) > 0 {
		m.table.SetCursor(0)
	}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if h := msg.Height - 8; h > 3 {
			m.table.SetHeight(h)
		}
		m.table.SetWidth(msg.Width)
		return m, nil

	case tea.KeyMsg:
		if m.filtering {
			switch msg.String() {
			case "ctrl+c":
				return m, tea.Quit
			case "enter":
				m.filtering = false
				m.filter.Blur()
				m.table.Focus()
				return m, nil
			case "esc":
				m.filtering = false
				m.filter.Reset()
				m.filter.Blur()
				m.table.Focus()
				m.show()
				return m, nil
			}
			var cmd tea.Cmd
			m.filter, cmd = m.filter.Update(msg)
			m.show()
			return m, cmd
		}

		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab", "right", "l":
			m.current = (m.current + 1) % len(m.views)
			m.show()
			return m, nil
		case "shift+tab", "left", "h":
			m.current = (m.current + len(m.views) - 1) % len(m.views)
			m.show()
			return m, nil
		case "/":
			m.filtering = true
			m.table.Blur()
			return m, m.filter.Focus()
		case "esc":
			m.filter.Reset()
			m.show()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("WASM Trace"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n")
	b.WriteString(resultStyle.Render(fmt.Sprintf("Result: %v", m.results)))
	b.WriteString("\n\n")

	tabs := make([]string, len(m.views))
	for i, v := range m.views {
		label := fmt.Sprintf("%s (%d)", v.name, len(v.rows))
		if i == m.current {
			tabs[i] = activeTabStyle.Render(label)
		} else {
			tabs[i] = tabStyle.Render(label)
		}
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, tabs...))
	b.WriteString("\n\n")

	b.WriteString(m.table.View())
	b.WriteString("\n")
	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View())
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("tab/shift+tab switch table • ↑/↓ scroll • / filter • esc clear • q quit"))
	return b.String()
}

func buildViews(t *trace.Tables) []tableView {
	return []tableView{
		funcsView(t),
		instructionsView(t),
		imageView(t),
		eventsView(t),
		jumpsView(t),
		elemsView(t),
	}
}

func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func funcsView(t *trace.Tables) tableView {
	natives := make([]uint32, 0, len(t.Funcs))
	for n := range t.Funcs {
		natives = append(natives, n)
	}
	sort.Slice(natives, func(i, j int) bool { return natives[i] < natives[j] })

	v := tableView{
		name: "Funcs",
		columns: []table.Column{
			{Title: "Native", Width: 8},
			{Title: "Stable", Width: 8},
			{Title: "Type", Width: 6},
			{Title: "Kind", Width: 40},
			{Title: "Signature", Width: 30},
		},
	}
	for _, n := range natives {
		d := t.Funcs[n]
		sig := ""
		if d.Sig != nil {
			sig = d.Sig.String()
		}
		v.rows = append(v.rows, table.Row{u32(n), u32(d.Index), u32(d.TypeIdx), d.Type.String(), sig})
	}
	return v
}

func instructionsView(t *trace.Tables) tableView {
	v := tableView{
		name: "Instructions",
		columns: []table.Column{
			{Title: "FID", Width: 6},
			{Title: "IID", Width: 6},
			{Title: "Instruction", Width: 48},
		},
	}
	for _, r := range t.Instructions.Rows() {
		v.rows = append(v.rows, table.Row{u32(r.FID), u32(r.IID), r.Op.String()})
	}
	return v
}

func imageView(t *trace.Tables) tableView {
	v := tableView{
		name: "Image",
		columns: []table.Column{
			{Title: "Kind", Width: 7},
			{Title: "Start", Width: 10},
			{Title: "End", Width: 10},
			{Title: "Type", Width: 5},
			{Title: "Value", Width: 20},
		},
	}
	for _, r := range t.Image.Rows() {
		kind := "memory"
		if r.IsGlobal {
			kind = "global"
		}
		v.rows = append(v.rows, table.Row{
			kind,
			u32(r.Start),
			u32(r.End),
			r.VType.String(),
			fmt.Sprintf("%#x", r.Value),
		})
	}
	return v
}

func eventsView(t *trace.Tables) tableView {
	v := tableView{
		name: "Events",
		columns: []table.Column{
			{Title: "EID", Width: 8},
			{Title: "Kind", Width: 10},
			{Title: "FID", Width: 6},
			{Title: "IID", Width: 6},
			{Title: "Frame", Width: 8},
			{Title: "Opcode", Width: 16},
		},
	}
	for _, r := range t.Events.Rows() {
		v.rows = append(v.rows, table.Row{
			u32(r.EID), r.Kind.String(), u32(r.FID), u32(r.IID), u32(r.LastJumpEID), wasm.OpcodeName(r.Opcode),
		})
	}
	return v
}

func jumpsView(t *trace.Tables) tableView {
	v := tableView{
		name: "Jumps",
		columns: []table.Column{
			{Title: "EID", Width: 8},
			{Title: "Frame", Width: 8},
			{Title: "Callee", Width: 8},
			{Title: "FID", Width: 6},
			{Title: "IID", Width: 6},
		},
	}
	for _, f := range t.Jumps.Static() {
		if !f.Enable {
			continue
		}
		v.rows = append(v.rows, table.Row{"static", u32(f.FrameID), u32(f.CalleeFID), u32(f.FID), u32(f.IID)})
	}
	for _, r := range t.Jumps.Rows() {
		v.rows = append(v.rows, table.Row{u32(r.EID), u32(r.LastJumpEID), u32(r.CalleeFID), u32(r.FID), u32(r.IID)})
	}
	return v
}

func elemsView(t *trace.Tables) tableView {
	v := tableView{
		name: "Elems",
		columns: []table.Column{
			{Title: "Table", Width: 6},
			{Title: "Offset", Width: 8},
			{Title: "Func", Width: 6},
			{Title: "Type", Width: 6},
		},
	}
	for _, r := range t.Elems.Rows() {
		v.rows = append(v.rows, table.Row{u32(r.TableIdx), u32(r.Offset), u32(r.FuncIdx), u32(r.TypeIdx)})
	}
	return v
}

func runInteractive(filename string, t *trace.Tables, results []uint64) error {
	p := tea.NewProgram(newInteractiveModel(filename, t, results), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
