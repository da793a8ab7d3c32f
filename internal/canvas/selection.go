package canvas

import (
	"math"

	"github.com/spherical/ocr-workbench/internal/domain"
)

// Point is a pointer position in view (on-screen) coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ViewSize is the on-screen size the raster is drawn at. A zero size means
// the view is drawn at raster resolution.
type ViewSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type selection struct {
	start, end Point // raster space
}

// BeginSelection starts a drag gesture at p. It is ignored when no page is rendered.
func (m *Manager) BeginSelection(p Point, view ViewSize) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.displayed == nil {
		return
	}
	rp := m.toRasterLocked(p, view)
	m.sel = &selection{start: rp, end: rp}
}

// UpdateSelection moves the free corner of the gesture.
func (m *Manager) UpdateSelection(p Point, view ViewSize) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sel == nil || m.displayed == nil {
		return
	}
	m.sel.end = m.toRasterLocked(p, view)
}

// EndSelection finishes the gesture and returns the normalized rectangle,
// or nil when it is not larger than the minimum selection in both dimensions.
func (m *Manager) EndSelection() *domain.CropRect {
	m.mu.Lock()
	defer m.mu.Unlock()

	sel := m.sel
	m.sel = nil
	if sel == nil {
		return nil
	}

	rect := normalize(sel.start, sel.end)
	if rect.Width <= m.opts.MinSelection || rect.Height <= m.opts.MinSelection {
		return nil
	}
	return &rect
}

// Selecting reports whether a gesture is in progress.
func (m *Manager) Selecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sel != nil
}

// toRasterLocked scales a view point by the raster to view ratio.
func (m *Manager) toRasterLocked(p Point, view ViewSize) Point {
	b := m.displayed.Bounds()
	sx, sy := 1.0, 1.0
	if view.Width > 0 {
		sx = float64(b.Dx()) / view.Width
	}
	if view.Height > 0 {
		sy = float64(b.Dy()) / view.Height
	}
	return Point{X: p.X * sx, Y: p.Y * sy}
}

func normalize(a, b Point) domain.CropRect {
	return domain.CropRect{
		X:      int(math.Round(math.Min(a.X, b.X))),
		Y:      int(math.Round(math.Min(a.Y, b.Y))),
		Width:  int(math.Round(math.Abs(b.X - a.X))),
		Height: int(math.Round(math.Abs(b.Y - a.Y))),
	}
}
