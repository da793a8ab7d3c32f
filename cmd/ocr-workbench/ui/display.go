package ui

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// Section prints an underlined header.
func Section(w io.Writer, title string) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "\n%s\n", title)
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("=", len(title)))
}

// Record prints an extraction with its QAC result and detected images.
func Record(w io.Writer, rec domain.ExtractionRecord) {
	Section(w, fmt.Sprintf("%s, page %d", rec.FileName, rec.PageNumber))
	fmt.Fprintf(w, "Confidence: %s\n\n", confidence(rec.Confidence))
	fmt.Fprintln(w, rec.Text)

	if rec.IsQACProcessed {
		Section(w, "Corrected text")
		fmt.Fprintln(w, rec.QACText)
		Fixes(w, rec.QACFixes)
	}

	if len(rec.DetectedImages) > 0 {
		Images(w, rec.DetectedImages)
	}
}

// Fixes prints the QAC fix list as a table.
func Fixes(w io.Writer, fixes []domain.Fix) {
	if len(fixes) == 0 {
		fmt.Fprintln(w, "\nNo corrections were needed.")
		return
	}

	fmt.Fprintf(w, "\n%d correction(s):\n\n", len(fixes))
	rows := make([][]string, 0, len(fixes))
	for _, f := range fixes {
		rows = append(rows, []string{f.Type, f.Original, f.Corrected, f.Description})
	}
	Table(w, []string{"TYPE", "ORIGINAL", "CORRECTED", "DESCRIPTION"}, rows)
}

// Images prints the detected images as a table.
func Images(w io.Writer, images []domain.DetectedImage) {
	Section(w, "Detected images")
	rows := make([][]string, 0, len(images))
	for _, img := range images {
		enhanced := "-"
		if img.EnhancedDataURL != "" {
			enhanced = "yes"
		}
		rows = append(rows, []string{
			img.ID[:min(8, len(img.ID))],
			fmt.Sprintf("%.1f,%.1f %.1fx%.1f%%", img.X, img.Y, img.Width, img.Height),
			enhanced,
			img.Description,
		})
	}
	Table(w, []string{"ID", "REGION", "ENHANCED", "DESCRIPTION"}, rows)
}

// Table prints rows aligned under headers.
func Table(w io.Writer, headers []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, strings.Join(headers, "\t"))
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = strings.Repeat("-", len(headers[i]))
	}
	fmt.Fprintln(tw, strings.Join(sep, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	_ = tw.Flush()
}

func confidence(c int) string {
	s := fmt.Sprintf("%d%%", c)
	switch {
	case c >= 90:
		return color.GreenString(s)
	case c >= 70:
		return color.YellowString(s)
	default:
		return color.RedString(s)
	}
}
