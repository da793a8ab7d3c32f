package canvas

// ZoomLimits bounds the zoom percentage and the step it moves by.
type ZoomLimits struct {
	Min  int
	Max  int
	Step int
}

// DefaultZoomLimits returns 25-200% in 25% steps.
func DefaultZoomLimits() ZoomLimits {
	return ZoomLimits{Min: 25, Max: 200, Step: 25}
}

// Baseline is the 100% zoom, clamped into the limits.
func (z ZoomLimits) Baseline() int {
	return z.Clamp(100)
}

// Clamp snaps zoom to the nearest step and bounds it.
func (z ZoomLimits) Clamp(zoom int) int {
	if z.Step > 0 {
		zoom = ((zoom + z.Step/2) / z.Step) * z.Step
	}
	if zoom < z.Min {
		return z.Min
	}
	if zoom > z.Max {
		return z.Max
	}
	return zoom
}

// In returns the next zoom step up.
func (z ZoomLimits) In(zoom int) int {
	return z.Clamp(zoom + z.Step)
}

// Out returns the next zoom step down.
func (z ZoomLimits) Out(zoom int) int {
	return z.Clamp(zoom - z.Step)
}
