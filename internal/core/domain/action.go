package domain

// ActionKind discriminates the variants of an exploration action.
type ActionKind string

const (
	ActionPan  ActionKind = "pan"
	ActionZoom ActionKind = "zoom"
	ActionStop ActionKind = "stop"
)

// Action is what the selector proposes for the next turn: pan the camera,
// zoom toward a region, or stop exploring and guess with what we have.
type Action struct {
	Kind       ActionKind `json:"kind"`
	PanDegrees float64    `json:"pan_degrees,omitempty"`
	ZoomLevel  float64    `json:"zoom_level,omitempty"`
}

// Pan proposes rotating the camera by degrees (positive is clockwise).
func Pan(degrees float64) Action {
	return Action{Kind: ActionPan, PanDegrees: degrees}
}

// Zoom proposes panning by degrees and then zooming in to level.
func Zoom(degrees, level float64) Action {
	return Action{Kind: ActionZoom, PanDegrees: degrees, ZoomLevel: level}
}

// Stop declares that no further exploration is useful.
func Stop() Action {
	return Action{Kind: ActionStop}
}
