// Package pdf opens uploaded sources and renders their pages to rasters.
// PDFs are decoded once with MuPDF and the handle is reused for every page
// turn; images are single-page documents resampled for zoom.
package pdf

import (
	"context"
	"fmt"
	"image"
	"mime"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// baseDPI is the render resolution at 100% zoom.
const baseDPI = 72.0

// Open decodes data according to mediaType. Unsupported types are rejected
// before any rendering is attempted.
func Open(name, mediaType string, data []byte) (domain.Document, domain.FileType, error) {
	if len(data) == 0 {
		return nil, "", domain.RenderError(fmt.Sprintf("file %q is empty", name), nil)
	}

	mt := normalizeMediaType(mediaType)
	switch {
	case mt == "application/pdf":
		doc, err := OpenPDF(data)
		if err != nil {
			return nil, "", err
		}
		return doc, domain.FileTypePDF, nil
	case strings.HasPrefix(mt, "image/"):
		doc, err := OpenImage(data)
		if err != nil {
			return nil, "", err
		}
		return doc, domain.FileTypeImage, nil
	default:
		return nil, "", domain.RenderError(fmt.Sprintf("unsupported file type %q", mediaType), nil)
	}
}

// Document is a PDF opened from memory.
type Document struct {
	mu    sync.Mutex
	doc   *fitz.Document
	pages int
}

// OpenPDF decodes a PDF held in memory.
func OpenPDF(data []byte) (*Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.RenderError("Failed to open PDF", err)
	}

	pages := doc.NumPage()
	if pages == 0 {
		doc.Close()
		return nil, domain.RenderError("PDF has no pages", nil)
	}

	return &Document{doc: doc, pages: pages}, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return d.pages
}

// RenderPage renders a 1-based page at zoom percent.
func (d *Document) RenderPage(ctx context.Context, page, zoom int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if page < 1 || page > d.pages {
		return nil, domain.RenderError(fmt.Sprintf("page %d out of range 1-%d", page, d.pages), nil)
	}
	if zoom <= 0 {
		return nil, domain.RenderError(fmt.Sprintf("invalid zoom %d", zoom), nil)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return nil, domain.RenderError("document is closed", nil)
	}

	img, err := d.doc.ImageDPI(page-1, baseDPI*float64(zoom)/100)
	if err != nil {
		return nil, domain.RenderError(fmt.Sprintf("Failed to render page %d", page), err)
	}
	return img, nil
}

// Close releases the decoded document.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}

func normalizeMediaType(mediaType string) string {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return mt
}
