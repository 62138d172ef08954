package views

import tea "github.com/charmbracelet/bubbletea"

// Page is one tab of the console
type Page interface {
	tea.Model
	Title() string
	// Refresh reloads everything the page shows
	Refresh() tea.Cmd
	// Tick runs on the fast timer while the page is active, nil if nothing
	// needs live updates
	Tick() tea.Cmd
	Resize(w, h int) Page
}

func (d Dashboard) Title() string        { return "Dashboard" }
func (d Dashboard) Tick() tea.Cmd        { return d.RefreshLog() }
func (d Dashboard) Resize(w, h int) Page { return d.SetSize(w, h) }
func (d Data) Title() string             { return "Data" }
func (d Data) Tick() tea.Cmd             { return nil }
func (d Data) Resize(w, h int) Page      { return d.SetSize(w, h) }
func (l Logs) Title() string             { return "Logs" }
func (l Logs) Tick() tea.Cmd             { return l.Refresh() }
func (l Logs) Resize(w, h int) Page      { return l.SetSize(w, h) }
