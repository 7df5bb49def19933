package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/songzhibin97/workflow-canvas/events"
	"github.com/songzhibin97/workflow-canvas/graph"
	"github.com/songzhibin97/workflow-canvas/interact"
	"github.com/songzhibin97/workflow-canvas/render"
	"github.com/songzhibin97/workflow-canvas/workflow"
)

// exportFile is where "e" writes the PNG snapshot.
const exportFile = "workflow.png"

var (
	toolbarStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")).Background(lipgloss.Color("#2c3e50"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#95a5a6"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e74c3c"))
)

const helpLine = "drag: move  shift/alt+drag: move alone  wheel/+/-: zoom  0: reset  s: save  y: copy  p: paste  e: png  q: quit"

// editorMsg carries an editor event into the program loop.
type editorMsg events.Event

type model struct {
	ctx    context.Context
	ed     *workflow.Editor
	layout graph.Layout

	width, height int
	status        string
	failed        bool
}

func newModel(ctx context.Context, ed *workflow.Editor, layout graph.Layout) *model {
	return &model{ctx: ctx, ed: ed, layout: layout, width: 80, height: 24, status: helpLine}
}

func (m *model) Init() tea.Cmd { return nil }

// canvasRows is the number of rows between the toolbar and the status line.
func (m *model) canvasRows() int {
	if m.height < 3 {
		return 1
	}
	return m.height - 2
}

func (m *model) canvasSize() (float64, float64) {
	return float64(m.width) * cellW, float64(m.canvasRows()) * cellH
}

func (m *model) setStatus(s string, failed bool) {
	m.status, m.failed = s, failed
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case editorMsg:
		m.onEvent(events.Event(msg))
	case tea.KeyMsg:
		return m, m.onKey(msg)
	case tea.MouseMsg:
		m.onMouse(msg)
	}
	return m, nil
}

func (m *model) onEvent(ev events.Event) {
	switch ev.Type {
	case workflow.EventSaveFailed, workflow.EventSourceFailed:
		m.setStatus(fmt.Sprintf("%s: %v", ev.Type, ev.Data["error"]), true)
	case workflow.EventStateSaved:
		m.setStatus("saved", false)
	case workflow.EventNodeCreated, workflow.EventNodeMoved, workflow.EventNodeClicked:
		label := ""
		if n, ok := m.ed.Node(ev.NodeID); ok {
			label = n.Label
		}
		m.setStatus(fmt.Sprintf("%s %q", strings.ReplaceAll(ev.Type, "_", " "), label), false)
	}
}

func (m *model) onKey(msg tea.KeyMsg) tea.Cmd {
	w, h := m.canvasSize()
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		return tea.Quit
	case "+", "=":
		m.ed.ZoomIn(w, h)
	case "-", "_":
		m.ed.ZoomOut(w, h)
	case "0":
		m.ed.ResetView()
	case "s":
		if err := m.ed.Save(m.ctx); err != nil {
			m.setStatus("save failed: "+err.Error(), true)
		}
	case "y":
		data, err := m.ed.ExportBackup()
		if err == nil {
			err = clipboard.WriteAll(string(data))
		}
		if err != nil {
			m.setStatus("copy failed: "+err.Error(), true)
			break
		}
		m.setStatus("backup copied to clipboard", false)
	case "p":
		text, err := clipboard.ReadAll()
		if err == nil {
			err = m.ed.ImportBackup(m.ctx, []byte(text))
		}
		if err != nil {
			m.setStatus("paste failed: "+err.Error(), true)
			break
		}
		m.setStatus("backup restored", false)
	case "e":
		if err := m.exportPNG(int(w), int(h)); err != nil {
			m.setStatus("export failed: "+err.Error(), true)
			break
		}
		m.setStatus("wrote "+exportFile, false)
	}
	return nil
}

func (m *model) exportPNG(w, h int) error {
	r, err := render.NewRaster(w, h)
	if err != nil {
		return err
	}
	m.ed.Render(r)
	return r.SavePNG(exportFile)
}

func (m *model) onMouse(msg tea.MouseMsg) {
	p := cellToScreen(msg.X, msg.Y)
	switch msg.Action {
	case tea.MouseActionPress:
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			m.ed.Wheel(p, -1)
		case tea.MouseButtonWheelDown:
			m.ed.Wheel(p, 1)
		case tea.MouseButtonLeft:
			if msg.Y == 0 {
				if kind, ok := toolbarHit(msg.X); ok {
					if _, err := m.ed.ToolbarDown(kind, p); err != nil {
						m.setStatus(err.Error(), true)
					}
				}
				return
			}
			m.ed.PointerDown(p, workflow.Modifiers{Alone: msg.Shift || msg.Alt})
		}
	case tea.MouseActionMotion:
		if m.ed.State() != interact.StateIdle {
			m.ed.PointerMove(p)
		}
	case tea.MouseActionRelease:
		if m.ed.State() == interact.StateIdle {
			return
		}
		over := msg.Y > 0 && msg.Y <= m.canvasRows()
		if _, err := m.ed.PointerUp(p, over); err != nil {
			m.setStatus(err.Error(), true)
		}
	}
}

func (m *model) View() string {
	bar := toolbarStyle.Width(m.width).Render(toolbarLine())

	g := newGrid(m.width, m.canvasRows())
	var selected uint64
	if n, ok := m.ed.Selected(); ok {
		selected = n.ID
	}
	drawCanvas(g, m.ed.Nodes(), m.ed.Edges(), m.layout, m.ed.Viewport(), selected)

	style := statusStyle
	if m.failed {
		style = errorStyle
	}
	vp := m.ed.Viewport()
	status := fmt.Sprintf("%3.0f%%  %s", vp.Scale*100, m.status)
	if m.ed.SavePending() {
		status += "  (unsaved)"
	}
	return lipgloss.JoinVertical(lipgloss.Left, bar, g.String(), style.MaxWidth(m.width).Render(status))
}
