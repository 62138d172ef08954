package views

import (
	"fmt"
	"strings"

	"tui/db"
	"tui/styles"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type dataMsg struct {
	properties []db.Property
	total      int
}

type imagesMsg struct {
	propertyID string
	images     []db.Image
}

type Data struct {
	db            *db.Client
	width, height int
	properties    []db.Property
	images        []db.Image
	selectedRow   int
	imagelessOnly bool
	dbPage        int
	dbPageSize    int
	totalProps    int
}

func NewData(dbClient *db.Client) Data {
	return Data{db: dbClient, dbPageSize: 100}
}

func (d Data) Init() tea.Cmd {
	return d.Refresh()
}

func (d Data) Refresh() tea.Cmd {
	return func() tea.Msg {
		props, _ := d.db.GetProperties(d.dbPageSize, d.dbPage*d.dbPageSize, d.imagelessOnly)
		total, _ := d.db.GetPropertyCount(d.imagelessOnly)
		return dataMsg{props, total}
	}
}

func (d Data) SetSize(w, h int) Data {
	d.width = w
	d.height = h
	return d
}

// SelectedURL is the source listing URL of the highlighted property
func (d Data) SelectedURL() string {
	if p, ok := d.selected(); ok {
		return p.SourceURL
	}
	return ""
}

func (d Data) selected() (db.Property, bool) {
	if d.selectedRow < 0 || d.selectedRow >= len(d.properties) {
		return db.Property{}, false
	}
	return d.properties[d.selectedRow], true
}

func (d Data) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dataMsg:
		d.properties = msg.properties
		d.totalProps = msg.total
		if d.selectedRow >= len(d.properties) {
			d.selectedRow = 0
		}
		return d, d.loadImages()

	case imagesMsg:
		if p, ok := d.selected(); ok && p.ID == msg.propertyID {
			d.images = msg.images
		}

	case tea.KeyMsg:
		if len(d.properties) == 0 {
			break
		}
		last := len(d.properties) - 1
		prev := d.selectedRow
		switch msg.String() {
		case "up", "k":
			d.selectedRow = max(d.selectedRow-1, 0)
		case "down", "j":
			d.selectedRow = min(d.selectedRow+1, last)
		case "pgdown", "ctrl+d":
			d.selectedRow = min(d.selectedRow+10, last)
		case "pgup", "ctrl+u":
			d.selectedRow = max(d.selectedRow-10, 0)
		case "home", "g":
			d.selectedRow = 0
		case "end", "G":
			d.selectedRow = last
		case "a":
			d.imagelessOnly = !d.imagelessOnly
			d.selectedRow = 0
			d.dbPage = 0
			return d, d.Refresh()
		case "[":
			if d.dbPage > 0 {
				d.dbPage--
				d.selectedRow = 0
				return d, d.Refresh()
			}
		case "]":
			if d.dbPage < d.totalPages()-1 {
				d.dbPage++
				d.selectedRow = 0
				return d, d.Refresh()
			}
		}
		if d.selectedRow != prev {
			d.images = nil
			return d, d.loadImages()
		}
	}
	return d, nil
}

func (d Data) loadImages() tea.Cmd {
	p, ok := d.selected()
	if !ok {
		return nil
	}
	return func() tea.Msg {
		images, _ := d.db.GetImagesForProperty(p.ID)
		return imagesMsg{p.ID, images}
	}
}

func (d Data) visibleRows() int {
	if d.height <= 0 {
		return 25
	}
	return max(d.height*55/100, 10)
}

func (d Data) totalPages() int {
	if d.dbPageSize == 0 || d.totalProps == 0 {
		return 1
	}
	return (d.totalProps + d.dbPageSize - 1) / d.dbPageSize
}

func (d Data) View() string {
	filter := "All"
	if d.imagelessOnly {
		filter = "Imageless only"
	}

	position := fmt.Sprintf("  %d/%d", d.dbPage*d.dbPageSize+d.selectedRow+1, d.totalProps)
	pageInfo := fmt.Sprintf("  Page %d/%d", d.dbPage+1, d.totalPages())

	header := styles.Title.Render("Properties") +
		styles.StatValue.Render(position) +
		styles.StatLabel.Render(pageInfo) +
		"  " + styles.Muted.Render(fmt.Sprintf("[a] Filter: %s  [[ ]] Prev/Next", filter))

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		d.renderPropertiesTable(),
		"",
		d.renderBottomPanel(),
	)
}

func (d Data) renderPropertiesTable() string {
	header := fmt.Sprintf("%-32s %-14s %12s %4s %4s %-10s %-12s %4s",
		"Title", "Location", "Price", "Bed", "Bath", "Type", "Source", "Img")
	rows := styles.TableHeader.Render(header) + "\n"

	visible := d.visibleRows()
	offset := 0
	if d.selectedRow >= visible {
		offset = d.selectedRow - visible + 1
	}
	end := min(offset+visible, len(d.properties))

	for i := offset; i < end; i++ {
		p := d.properties[i]
		row := fmt.Sprintf("%-32s %-14s %12s %4d %4d %-10s %-12s %4d",
			truncate(p.Title, 32),
			truncate(p.Location, 14),
			formatPrice(p.Price, p.PriceType),
			p.Bedrooms,
			p.Bathrooms,
			truncate(p.PropertyType, 10),
			truncate(p.Source, 12),
			p.ImageCount,
		)
		switch {
		case i == d.selectedRow:
			rows += styles.TableSelected.Render(row) + "\n"
		case p.ImageCount == 0:
			rows += styles.StatusError.Render(row) + "\n"
		default:
			rows += row + "\n"
		}
	}

	if len(d.properties) > visible {
		rows += styles.Muted.Render(fmt.Sprintf("  [%d-%d of %d]", offset+1, end, len(d.properties)))
	}
	return rows
}

func (d Data) renderBottomPanel() string {
	half := max(d.width/2-2, 30)
	imagesBox := styles.CardBorder.Width(half).Render(
		styles.Title.Render("Images") + "\n" + d.renderImages(half-4),
	)
	detailsBox := styles.ProviderCardBorder.Width(half).Render(
		styles.Title.Render("Details") + "\n" + d.renderDetails(half-4),
	)
	return lipgloss.JoinHorizontal(lipgloss.Top, imagesBox, detailsBox)
}

func (d Data) renderImages(width int) string {
	if _, ok := d.selected(); !ok {
		return styles.Muted.Render("Select a property")
	}
	if len(d.images) == 0 {
		return styles.StatusError.Render("No images")
	}

	var lines []string
	for i, img := range d.images {
		if i == 8 {
			lines = append(lines, styles.Muted.Render(fmt.Sprintf("… %d more", len(d.images)-i)))
			break
		}
		marker := "  "
		if img.IsPrimary {
			marker = styles.StatusSuccess.Render("★ ")
		}
		lines = append(lines, fmt.Sprintf("%s%2d %s", marker, img.Order, truncate(img.URL, width-6)))
	}
	return strings.Join(lines, "\n")
}

func (d Data) renderDetails(width int) string {
	p, ok := d.selected()
	if !ok {
		return styles.Muted.Render("Select a property")
	}

	lines := []string{
		styles.StatValue.Render(truncate(p.Title, width)),
		styles.StatLabel.Render("Updated: ") + p.UpdatedAt.Local().Format("2006-01-02 15:04"),
	}
	if p.Landlord != "" {
		lines = append(lines, styles.StatLabel.Render("Landlord: ")+truncate(p.Landlord, width-10))
	}
	if len(p.Features) > 0 {
		lines = append(lines, styles.StatLabel.Render("Features: ")+truncate(strings.Join(p.Features, ", "), width-10))
	}
	if p.Description != "" {
		desc := p.Description
		if len(desc) > 200 {
			desc = desc[:200] + "..."
		}
		lines = append(lines, "")
		lines = append(lines, wrapText(desc, width)...)
	}
	lines = append(lines, "", styles.Muted.Render(truncate(p.SourceURL, width)))
	return strings.Join(lines, "\n")
}

func formatPrice(amount float64, priceType string) string {
	if amount <= 0 {
		return "—"
	}
	suffix := map[string]string{"weekly": "pw", "monthly": "pcm", "yearly": "pa"}[priceType]
	return fmt.Sprintf("£%.0f %s", amount, suffix)
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		width = 40
	}
	var lines []string
	var line string
	for _, word := range strings.Fields(text) {
		if line != "" && len(line)+len(word)+1 > width {
			lines = append(lines, line)
			line = word
			continue
		}
		if line != "" {
			line += " "
		}
		line += word
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}
