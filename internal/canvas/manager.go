// Package canvas owns the rendered raster of the current page and every
// coordinate transform applied to it.
//
// A surface always keeps two buffers: the original render at the current
// zoom and the displayed buffer, which crops replace. Restoring copies the
// original back, so crop and restore can be repeated without loss.
package canvas

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"math"
	"sync"

	"golang.org/x/image/draw"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// Options configures a Manager.
type Options struct {
	MinSelection int
	Zoom         ZoomLimits
}

// DefaultOptions returns the workbench defaults.
func DefaultOptions() Options {
	return Options{
		MinSelection: 10,
		Zoom:         DefaultZoomLimits(),
	}
}

// Manager holds the single raster surface of a session.
type Manager struct {
	mu        sync.Mutex
	opts      Options
	original  *image.RGBA
	displayed *image.RGBA
	fileName  string
	page      int
	zoom      int
	sel       *selection
}

// NewManager creates an empty manager.
func NewManager(opts Options) *Manager {
	if opts.MinSelection <= 0 {
		opts.MinSelection = DefaultOptions().MinSelection
	}
	if opts.Zoom.Step <= 0 {
		opts.Zoom = DefaultZoomLimits()
	}
	return &Manager{opts: opts, zoom: opts.Zoom.Baseline()}
}

// Render replaces the surface with a freshly decoded page. The original
// snapshot is taken before anything else touches the buffer and any
// selection in progress is discarded.
func (m *Manager) Render(fileName string, page, zoom int, img image.Image) (domain.SurfaceInfo, error) {
	if img == nil || img.Bounds().Empty() {
		return domain.SurfaceInfo{}, domain.RenderError("rendered page is empty", nil)
	}

	original := toRGBA(img)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.original = original
	m.displayed = cloneRGBA(original)
	m.fileName = fileName
	m.page = page
	m.zoom = zoom
	m.sel = nil

	return m.infoLocked(), nil
}

// Reset drops the surface entirely.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.original = nil
	m.displayed = nil
	m.fileName = ""
	m.page = 0
	m.zoom = m.opts.Zoom.Baseline()
	m.sel = nil
}

// HasSurface reports whether a page has been rendered.
func (m *Manager) HasSurface() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayed != nil
}

// Info describes the current surface.
func (m *Manager) Info() domain.SurfaceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.infoLocked()
}

// Source returns the file name and 1-based page of the current render.
func (m *Manager) Source() (string, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fileName, m.page
}

// Zoom returns the zoom percentage of the current render.
func (m *Manager) Zoom() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

// Limits returns the zoom bounds the manager was configured with.
func (m *Manager) Limits() ZoomLimits {
	return m.opts.Zoom
}

// ApplyCrop replaces the displayed buffer with the region described by rect,
// taken from the current displayed buffer and clamped to its bounds.
// A rect with zero width or height restores the original instead.
func (m *Manager) ApplyCrop(rect domain.CropRect) (domain.SurfaceInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.displayed == nil {
		return domain.SurfaceInfo{}, domain.PreconditionError("no page is rendered")
	}

	if rect.IsReset() {
		m.displayed = cloneRGBA(m.original)
		return m.infoLocked(), nil
	}

	r := image.Rect(rect.X, rect.Y, rect.X+rect.Width, rect.Y+rect.Height).
		Intersect(m.displayed.Bounds())
	if r.Empty() {
		return domain.SurfaceInfo{}, domain.ValidationError("crop rectangle lies outside the page", nil)
	}

	m.displayed = subImage(m.displayed, r)
	return m.infoLocked(), nil
}

// RestoreOriginal resets the displayed buffer to the original snapshot.
func (m *Manager) RestoreOriginal() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.original != nil {
		m.displayed = cloneRGBA(m.original)
	}
}

// Displayed returns a copy of the displayed buffer.
func (m *Manager) Displayed() (*image.RGBA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.displayed == nil {
		return nil, domain.PreconditionError("no page is rendered")
	}
	return cloneRGBA(m.displayed), nil
}

// Original returns a copy of the original snapshot.
func (m *Manager) Original() (*image.RGBA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.original == nil {
		return nil, domain.PreconditionError("no page is rendered")
	}
	return cloneRGBA(m.original), nil
}

// Encode serializes the displayed buffer as base64 PNG.
func (m *Manager) Encode() (string, error) {
	img, err := m.Displayed()
	if err != nil {
		return "", err
	}
	return EncodeBase64(img)
}

// EncodeOriginal serializes the original snapshot as base64 PNG.
func (m *Manager) EncodeOriginal() (string, error) {
	img, err := m.Original()
	if err != nil {
		return "", err
	}
	return EncodeBase64(img)
}

// DisplayedPNG returns the displayed buffer as raw PNG bytes.
func (m *Manager) DisplayedPNG() ([]byte, error) {
	img, err := m.Displayed()
	if err != nil {
		return nil, err
	}
	return encodePNG(img)
}

// PercentToPixels resolves a percentage box against the given dimensions.
func PercentToPixels(box domain.Box, width, height int) domain.CropRect {
	return domain.CropRect{
		X:      int(math.Round(box.X * float64(width) / 100)),
		Y:      int(math.Round(box.Y * float64(height) / 100)),
		Width:  int(math.Round(box.Width * float64(width) / 100)),
		Height: int(math.Round(box.Height * float64(height) / 100)),
	}
}

// CropOriginalPercent resolves box against the original snapshot dimensions,
// independent of zoom changes applied to the displayed buffer or any crop,
// and returns the region as its own image.
func (m *Manager) CropOriginalPercent(box domain.Box) (domain.CropRect, *image.RGBA, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.original == nil {
		return domain.CropRect{}, nil, domain.PreconditionError("no page is rendered")
	}
	return CropPercent(m.original, box)
}

// CropPercent cuts the region described by a percentage box out of img.
func CropPercent(img *image.RGBA, box domain.Box) (domain.CropRect, *image.RGBA, error) {
	b := img.Bounds()
	rect := PercentToPixels(box, b.Dx(), b.Dy())
	r := image.Rect(rect.X, rect.Y, rect.X+rect.Width, rect.Y+rect.Height).
		Add(b.Min).
		Intersect(b)
	if r.Empty() {
		return rect, nil, domain.ValidationError("region lies outside the page", nil)
	}
	return rect, subImage(img, r), nil
}

// EncodeBase64 serializes img as base64 PNG.
func EncodeBase64(img image.Image) (string, error) {
	data, err := encodePNG(img)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, domain.RenderError("encode raster", err)
	}
	return buf.Bytes(), nil
}

func (m *Manager) infoLocked() domain.SurfaceInfo {
	info := domain.SurfaceInfo{Zoom: m.zoom}
	if m.displayed != nil {
		info.Width = m.displayed.Bounds().Dx()
		info.Height = m.displayed.Bounds().Dy()
	}
	if m.original != nil {
		info.OriginalWidth = m.original.Bounds().Dx()
		info.OriginalHeight = m.original.Bounds().Dy()
	}
	return info
}

// toRGBA copies img into a fresh RGBA buffer anchored at the origin.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

func cloneRGBA(img *image.RGBA) *image.RGBA {
	if img == nil {
		return nil
	}
	return toRGBA(img)
}

func subImage(img *image.RGBA, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}
