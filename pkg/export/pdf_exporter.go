package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth   = 277.0
	firstColumn = 28.0
	lineHeight  = 4.5
)

// PDFExporter renders datasets as landscape grids, one page per dataset.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with a titled table for every dataset. Cell values may contain
// newlines; each row grows to fit its tallest cell.
func (e *PDFExporter) Render(datasets ...Dataset) ([]byte, error) {
	if len(datasets) == 0 {
		return nil, fmt.Errorf("pdf requires at least one dataset")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)

	for _, data := range datasets {
		if len(data.Headers) == 0 {
			return nil, fmt.Errorf("pdf requires at least one header")
		}
		pdf.AddPage()
		if data.Title != "" {
			pdf.SetFont("Arial", "B", 13)
			pdf.CellFormat(0, 9, data.Title, "", 1, "C", false, 0, "")
			pdf.Ln(3)
		}

		widths := columnWidths(len(data.Headers))
		pdf.SetFont("Arial", "B", 8)
		for i, header := range data.Headers {
			pdf.CellFormat(widths[i], 8, header, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 7)
		for _, row := range data.Rows {
			lines := 1
			for _, header := range data.Headers {
				if n := strings.Count(row[header], "\n") + 1; n > lines {
					lines = n
				}
			}
			height := float64(lines)*lineHeight + 2
			x, y := pdf.GetXY()
			for i, header := range data.Headers {
				pdf.Rect(x, y, widths[i], height, "D")
				pdf.SetXY(x, y+1)
				pdf.MultiCell(widths[i], lineHeight, row[header], "", "C", false)
				x += widths[i]
				pdf.SetXY(x, y)
			}
			pdf.SetXY(10, y+height)
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

// columnWidths keeps the first column narrow and splits the rest evenly.
func columnWidths(n int) []float64 {
	widths := make([]float64, n)
	if n == 1 {
		widths[0] = pageWidth
		return widths
	}
	widths[0] = firstColumn
	rest := (pageWidth - firstColumn) / float64(n-1)
	for i := 1; i < n; i++ {
		widths[i] = rest
	}
	return widths
}
