package report

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/rcourtman/rosterwatch/internal/analytics"
)

var (
	colorPrimary     = [3]int{30, 58, 95}
	colorTextDark    = [3]int{44, 62, 80}
	colorTextMuted   = [3]int{127, 140, 141}
	colorBackground  = [3]int{248, 249, 250}
	colorTableHeader = [3]int{30, 58, 95}
	colorTableAlt    = [3]int{241, 245, 249}
	colorGridLine    = [3]int{220, 220, 220}
	colorUp          = [3]int{46, 204, 113}
	colorDown        = [3]int{231, 76, 60}
)

// maxHistoryRows caps the history table so the report stays a few pages.
const maxHistoryRows = 60

// Summary is the content of the PDF report.
type Summary struct {
	Title       string
	GeneratedAt time.Time
	Overview    analytics.Overview
	History     []analytics.HistoryRow
}

type kpi struct {
	label string
	value string
}

// SummaryPDF renders the overview KPIs and the upload history table.
func SummaryPDF(s Summary) ([]byte, error) {
	if s.Title == "" {
		s.Title = "Community Report"
	}
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	addPageHeader(pdf, tr(s.Title), s.GeneratedAt)
	writeKPIs(pdf, s.Overview)
	writeHistory(pdf, tr, s.History)
	addPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func addPageHeader(pdf *fpdf.Fpdf, title string, generated time.Time) {
	pageWidth, _ := pdf.GetPageSize()

	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 6, "F")

	pdf.SetY(14)
	pdf.SetFont("Arial", "B", 20)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 5, "Generated "+generated.Format("Jan 2, 2006 15:04 MST"), "", 1, "L", false, 0, "")
	pdf.Ln(6)
}

func writeKPIs(pdf *fpdf.Fpdf, o analytics.Overview) {
	cards := []kpi{
		{"Active members", fmt.Sprintf("%d", o.TotalMembers)},
		{"Total ever", fmt.Sprintf("%d", o.TotalEver)},
		{"Churned", fmt.Sprintf("%d", o.Churned)},
		{"New this month", fmt.Sprintf("%d", o.ThisMonthNew)},
		{"New last month", fmt.Sprintf("%d", o.LastMonthNew)},
		{"Growth", fmt.Sprintf("%+.1f%%", o.GrowthPct)},
		{"MRR", fmt.Sprintf("%.2f", o.MRR)},
		{"Average LTV", fmt.Sprintf("%.2f", o.AvgLTV)},
		{"Total LTV", fmt.Sprintf("%.2f", o.TotalLTV)},
		{"Referred", fmt.Sprintf("%d (%.1f%%)", o.ReferralCount, o.ReferralPct)},
	}

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	const perRow, height, gap = 5, 18.0, 3.0
	width := (pageWidth - left - right - gap*(perRow-1)) / perRow

	startY := pdf.GetY()
	for i, c := range cards {
		x := left + float64(i%perRow)*(width+gap)
		y := startY + float64(i/perRow)*(height+gap)

		pdf.SetFillColor(colorBackground[0], colorBackground[1], colorBackground[2])
		pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
		pdf.RoundedRect(x, y, width, height, 2, "1234", "FD")

		pdf.SetXY(x, y+2)
		pdf.SetFont("Arial", "", 7)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(width, 5, c.label, "", 0, "C", false, 0, "")

		pdf.SetXY(x, y+8)
		pdf.SetFont("Arial", "B", 12)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(width, 7, c.value, "", 0, "C", false, 0, "")
	}

	rows := (len(cards) + perRow - 1) / perRow
	pdf.SetXY(left, startY+float64(rows)*(height+gap)+4)
}

func writeHistory(pdf *fpdf.Fpdf, tr func(string) string, history []analytics.HistoryRow) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, "Upload history", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(history) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 8, "No uploads recorded yet.", "", 1, "L", false, 0, "")
		return
	}

	headers := []string{"Uploaded", "Active", "New", "Churned", "Paid", "MRR", "Delta MRR", "Delta members"}
	widths := []float64{36, 18, 16, 18, 16, 22, 22, 22}

	writeHeader := func() {
		pdf.SetFont("Arial", "B", 8)
		pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
		pdf.SetTextColor(255, 255, 255)
		for i, h := range headers {
			pdf.CellFormat(widths[i], 7, h, "", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
	}
	writeHeader()

	_, pageHeight := pdf.GetPageSize()
	for i, h := range history {
		if i >= maxHistoryRows {
			break
		}
		if pdf.GetY() > pageHeight-35 {
			pdf.AddPage()
			writeHeader()
		}

		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

		cells := []string{
			tr(h.UploadedAt),
			fmt.Sprintf("%d", h.ActiveMembers),
			fmt.Sprintf("%d", h.NewMembers),
			fmt.Sprintf("%d", h.ChurnedMembers),
			fmt.Sprintf("%d", h.PaidMembers),
			fmt.Sprintf("%.2f", h.MRR),
		}
		for j, c := range cells {
			pdf.CellFormat(widths[j], 6, c, "", 0, "C", fill, 0, "")
		}
		deltaCell(pdf, widths[6], fmt.Sprintf("%+.2f", h.DeltaMRR), h.DeltaMRR, fill)
		deltaCell(pdf, widths[7], fmt.Sprintf("%+d", h.DeltaMembers), float64(h.DeltaMembers), fill)
		pdf.Ln(-1)
	}
}

func deltaCell(pdf *fpdf.Fpdf, width float64, text string, v float64, fill bool) {
	switch {
	case v > 0:
		pdf.SetTextColor(colorUp[0], colorUp[1], colorUp[2])
	case v < 0:
		pdf.SetTextColor(colorDown[0], colorDown[1], colorDown[2])
	default:
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	}
	pdf.CellFormat(width, 6, text, "", 0, "C", fill, 0, "")
}

func addPageNumbers(pdf *fpdf.Fpdf) {
	pdf.SetAutoPageBreak(false, 0)

	total := pdf.PageCount()
	for i := 1; i <= total; i++ {
		pdf.SetPage(i)
		_, pageHeight := pdf.GetPageSize()

		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i, total), "", 0, "C", false, 0, "")
	}
}
