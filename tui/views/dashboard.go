package views

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type dashboardDataMsg struct {
	totals    db.Totals
	providers []db.ProviderStats
	runs      []db.Run
}

type logTailMsg struct {
	lines        []string
	modTime      time.Time
	daemonActive bool
}

type Dashboard struct {
	db            *db.Client
	width, height int
	totals        db.Totals
	providers     []db.ProviderStats
	runs          []db.Run
	logLines      []string
	logPath       string
	serviceName   string
	logScroll     int // 0 = newest
	logViewport   int
	logBuffer     int
	logModTime    time.Time
	daemonActive  bool
}

func NewDashboard(dbClient *db.Client, logPath, serviceName string) Dashboard {
	if logPath == "" {
		logPath = "ingest.log"
	}
	return Dashboard{
		db:          dbClient,
		logPath:     logPath,
		serviceName: serviceName,
		logViewport: 20,
		logBuffer:   200,
	}
}

func (d Dashboard) Init() tea.Cmd {
	return tea.Batch(d.Refresh(), d.RefreshLog())
}

func (d Dashboard) Refresh() tea.Cmd {
	return func() tea.Msg {
		totals, _ := d.db.GetTotals()
		providers, _ := d.db.GetProviderStats()
		runs, _ := d.db.GetRecentRuns(10)
		return dashboardDataMsg{totals, providers, runs}
	}
}

func (d Dashboard) RefreshLog() tea.Cmd {
	return func() tea.Msg {
		lines, modTime := readLastLines(d.logPath, d.logBuffer)
		return logTailMsg{lines, modTime, isDaemonActive(d.serviceName, modTime)}
	}
}

// isDaemonActive asks systemd when a unit name is configured, otherwise treats a
// log written in the last few minutes as a sign of life
func isDaemonActive(serviceName string, logModTime time.Time) bool {
	if serviceName == "" {
		return !logModTime.IsZero() && time.Since(logModTime) < 5*time.Minute
	}
	out, err := exec.Command("systemctl", "is-active", serviceName).Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "active"
}

func readLastLines(path string, n int) ([]string, time.Time) {
	info, err := os.Stat(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	modTime := info.ModTime()

	f, err := os.Open(path)
	if err != nil {
		return []string{"(no log file)"}, time.Time{}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}

	if len(lines) == 0 {
		return []string{"(empty log)"}, modTime
	}
	return lines, modTime
}

func (d Dashboard) SetSize(w, h int) Dashboard {
	d.width = w
	d.height = h
	if h > 30 {
		d.logViewport = h - 26
	}
	return d
}

func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashboardDataMsg:
		d.totals = msg.totals
		d.providers = msg.providers
		d.runs = msg.runs
	case logTailMsg:
		d.logLines = msg.lines
		d.logModTime = msg.modTime
		d.daemonActive = msg.daemonActive
	case tea.KeyMsg:
		maxScroll := len(d.logLines) - d.logViewport
		if maxScroll < 0 {
			maxScroll = 0
		}
		switch msg.String() {
		case "up", "k":
			d.logScroll = min(d.logScroll+1, maxScroll)
		case "down", "j":
			d.logScroll = max(d.logScroll-1, 0)
		case "pgup":
			d.logScroll = min(d.logScroll+10, maxScroll)
		case "pgdown":
			d.logScroll = max(d.logScroll-10, 0)
		case "home":
			d.logScroll = maxScroll
		case "end":
			d.logScroll = 0
		}
	}
	return d, nil
}

func (d Dashboard) View() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		styles.Title.Render("Dashboard"),
		d.renderStatCards(),
		"",
		d.renderProviderCards(),
		"",
		styles.Title.Render("Recent Runs"),
		d.renderRunsTable(),
		"",
		d.renderLogTail(),
	)
}

func (d Dashboard) renderLogTail() string {
	width := d.width - 4
	if width < 20 {
		width = 80
	}
	if len(d.logLines) == 0 {
		return styles.LogBox.Width(width).Render(styles.Muted.Render("(waiting for logs...)"))
	}

	total := len(d.logLines)
	endIdx := total - d.logScroll
	startIdx := max(endIdx-d.logViewport, 0)

	var lines []string
	for _, line := range d.logLines[startIdx:endIdx] {
		lines = append(lines, styleLogLine(line, width-4))
	}

	var state string
	switch {
	case !d.daemonActive:
		state = styles.StatusError.Render(" ● STOPPED ")
	case d.logScroll > 0:
		state = styles.StatusPending.Render(fmt.Sprintf(" ↑%d ", d.logScroll))
	default:
		state = styles.StatusSuccess.Render(" ● LIVE ")
	}

	header := styles.Title.Render("Importer Log") + state +
		styles.Muted.Render(fmt.Sprintf("[%d-%d/%d]", startIdx+1, endIdx, total))
	return styles.LogBox.Width(width).Render(header + "\n" + strings.Join(lines, "\n"))
}

// styleLogLine colours a line written by the standard logger ("2006/01/02 15:04:05 msg")
func styleLogLine(line string, maxWidth int) string {
	line = truncate(line, maxWidth)

	prefix, rest := "", line
	if len(line) > 19 && line[4] == '/' && line[10] == ' ' {
		prefix, rest = styles.LogTimestamp.Render(line[:19]), line[19:]
	}

	lower := strings.ToLower(rest)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return prefix + styles.StatusError.Render(rest)
	case strings.Contains(lower, "warn"):
		return prefix + styles.StatusPending.Render(rest)
	}
	return prefix + styles.LogInfo.Render(rest)
}

func (d Dashboard) renderStatCards() string {
	cards := []string{
		renderStatCard("Properties", fmt.Sprintf("%d", d.totals.Properties)),
		renderStatCard("Images", fmt.Sprintf("%d", d.totals.Images)),
		renderStatCard("Imageless", fmt.Sprintf("%d", d.totals.Imageless)),
		renderStatCard("Coverage", coverage(d.totals)),
		renderStatCard("Queued Cmds", fmt.Sprintf("%d", d.totals.Pending)),
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func coverage(t db.Totals) string {
	if t.Properties == 0 {
		return "-"
	}
	withImages := t.Properties - t.Imageless
	return fmt.Sprintf("%.0f%%", float64(withImages)*100/float64(t.Properties))
}

func renderStatCard(label, value string) string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		styles.StatValue.Render(value),
		styles.StatLabel.Render(label),
	)
	return styles.CardBorder.Width(16).Render(content)
}

func (d Dashboard) renderProviderCards() string {
	if len(d.providers) == 0 {
		return styles.Muted.Render("No providers imported yet")
	}

	var cards []string
	for _, p := range d.providers {
		cards = append(cards, renderProviderCard(p))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cards...)
}

func renderProviderCard(p db.ProviderStats) string {
	status, statusStyle := runStatus(p.LastRunStatus)

	lastRun := "never"
	if p.LastRunAt != nil {
		lastRun = relativeTime(*p.LastRunAt)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		styles.StatValue.Render(truncate(p.Provider, 20)),
		statusStyle.Render(status),
		styles.StatLabel.Render(fmt.Sprintf("Last: %s", lastRun)),
		styles.StatLabel.Render(fmt.Sprintf("Props: %d", p.Properties)),
		styles.StatLabel.Render(fmt.Sprintf("Imported: %d", p.LastImported)),
		styles.StatLabel.Render(fmt.Sprintf("Failed: %d", p.LastFailed)),
	)
	return styles.ProviderCardBorder.Width(24).Render(content)
}

func runStatus(s *string) (string, lipgloss.Style) {
	if s == nil {
		return "○ never run", styles.StatusPending
	}
	switch *s {
	case "completed":
		return "✓ completed", styles.StatusSuccess
	case "failed":
		return "✗ failed", styles.StatusError
	case "running":
		return "◐ running", styles.StatusPending
	}
	return *s, styles.Muted
}

func (d Dashboard) renderRunsTable() string {
	if len(d.runs) == 0 {
		return styles.Muted.Render("No runs yet")
	}

	header := fmt.Sprintf("%-8s %-12s %-10s %-9s %9s %8s %7s %6s",
		"Kind", "Provider", "Status", "Started", "Processed", "Imported", "Skipped", "Failed")
	rows := styles.TableHeader.Render(header) + "\n"

	for _, r := range d.runs {
		status := r.Status
		_, statusStyle := runStatus(&status)

		provider := r.Provider
		if provider == "" {
			provider = "all"
		}

		row := fmt.Sprintf("%-8s %-12s %s %-9s %9d %8d %7d %6d",
			truncate(r.Kind, 8),
			truncate(provider, 12),
			statusStyle.Render(fmt.Sprintf("%-10s", status)),
			r.StartedAt.Local().Format("15:04:05"),
			r.Processed,
			r.Imported,
			r.Skipped,
			r.Failed,
		)
		rows += row + "\n"
	}
	return rows
}

func relativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	return s[:max-1] + "…"
}
