package main

import (
	"fmt"
	"time"

	"tui/db"
	"tui/styles"
	"tui/views"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// rows taken by the tab strip and the status bar
const chromeHeight = 5

type tickMsg time.Time

// sentMsg reports a queued daemon command
type sentMsg struct {
	binding commandBinding
	err     error
}

type flash struct {
	text  string
	until time.Time
}

func newFlash(text string, d time.Duration) flash {
	return flash{text: text, until: time.Now().Add(d)}
}

func (f flash) visible(now time.Time) bool {
	return f.text != "" && now.Before(f.until)
}

type urlSelector interface {
	SelectedURL() string
}

type console struct {
	cfg         consoleConfig
	db          *db.Client
	pages       []views.Page
	active      int
	width       int
	lastRefresh time.Time
	flash       flash
}

func newConsole(cfg consoleConfig, client *db.Client) console {
	return console{
		cfg: cfg,
		db:  client,
		pages: []views.Page{
			views.NewDashboard(client, cfg.LogPath, cfg.ServiceName),
			views.NewData(client),
			views.NewLogs(client),
		},
		lastRefresh: time.Now(),
	}
}

func (c console) Init() tea.Cmd {
	cmds := []tea.Cmd{c.tick()}
	for _, p := range c.pages {
		cmds = append(cmds, p.Init())
	}
	return tea.Batch(cmds...)
}

func (c console) tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (c console) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return c.handleKey(msg)

	case tea.WindowSizeMsg:
		c.width = msg.Width
		for i, p := range c.pages {
			c.pages[i] = p.Resize(msg.Width, msg.Height-chromeHeight)
		}
		return c, nil

	case tickMsg:
		return c.onTick(time.Time(msg))

	case sentMsg:
		if msg.err != nil {
			c.flash = newFlash("Command failed: "+msg.err.Error(), 5*time.Second)
		} else {
			c.flash = newFlash(msg.binding.done, 3*time.Second)
		}
		return c, nil
	}

	// page data messages are typed per view, so every page gets a look
	var cmds []tea.Cmd
	for i := range c.pages {
		cmds = append(cmds, c.updatePage(i, msg))
	}
	return c, tea.Batch(cmds...)
}

func (c console) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		return c, tea.Quit
	case "tab":
		return c.switchTo((c.active + 1) % len(c.pages))
	case "shift+tab":
		return c.switchTo((c.active + len(c.pages) - 1) % len(c.pages))
	case "r":
		c.lastRefresh = time.Now()
		c.flash = newFlash("Refreshed", 2*time.Second)
		return c, c.pages[c.active].Refresh()
	case "o":
		if s, ok := c.pages[c.active].(urlSelector); ok && s.SelectedURL() != "" {
			c.flash = newFlash(s.SelectedURL(), 5*time.Second)
		}
		return c, nil
	}

	if i, ok := pageForKey(key); ok {
		return c.switchTo(i)
	}
	if b, ok := lookupCommand(key); ok {
		return c, c.dispatch(b)
	}
	return c, c.updatePage(c.active, msg)
}

// dispatch writes the command row off the UI goroutine
func (c console) dispatch(b commandBinding) tea.Cmd {
	client := c.db
	return func() tea.Msg {
		return sentMsg{binding: b, err: b.send(client)}
	}
}

func (c console) switchTo(i int) (tea.Model, tea.Cmd) {
	if i == c.active {
		return c, nil
	}
	c.active = i
	c.lastRefresh = time.Now()
	return c, c.pages[i].Refresh()
}

func (c console) onTick(now time.Time) (tea.Model, tea.Cmd) {
	page := c.pages[c.active]
	cmds := []tea.Cmd{c.tick(), page.Tick()}
	if now.Sub(c.lastRefresh) >= c.cfg.RefreshInterval {
		c.lastRefresh = now
		cmds = append(cmds, page.Refresh())
	}
	return c, tea.Batch(cmds...)
}

func (c *console) updatePage(i int, msg tea.Msg) tea.Cmd {
	updated, cmd := c.pages[i].Update(msg)
	c.pages[i] = updated.(views.Page)
	return cmd
}

func (c console) titles() []string {
	titles := make([]string, len(c.pages))
	for i, p := range c.pages {
		titles[i] = p.Title()
	}
	return titles
}

func (c console) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		c.renderTabs(),
		c.pages[c.active].View(),
		c.renderStatus(time.Now()),
	)
}

func (c console) renderTabs() string {
	var rendered []string
	for i, title := range c.titles() {
		label := fmt.Sprintf("%s %s", pageKeys[i], title)
		if i == c.active {
			rendered = append(rendered, styles.TabActive.Render(label))
		} else {
			rendered = append(rendered, styles.TabInactive.Render(label))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...) + "\n"
}

// renderStatus is two lines: page state with any flash message, then the key help
func (c console) renderStatus(now time.Time) string {
	state := fmt.Sprintf("%s · updated %s ago · auto %s",
		c.pages[c.active].Title(), now.Sub(c.lastRefresh).Truncate(time.Second), c.cfg.RefreshInterval)
	line := styles.StatValue.Render(state)
	if c.flash.visible(now) {
		msg := styles.Notification.Render(c.flash.text)
		gap := max(c.width-lipgloss.Width(line)-lipgloss.Width(msg), 1)
		line += lipgloss.NewStyle().Width(gap).Render("") + msg
	}
	return line + "\n" + styles.StatusBar.Render(helpLine(c.titles()))
}
