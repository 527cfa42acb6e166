// Package domain provides domain models for Muse Hub.
//
// All adapter methods return domain types, never DAW-native structures
// (Anti-Corruption Layer).
package domain

// Note is a single MIDI-like note inside a region.
// Beats are quarter-note units relative to the region start.
type Note struct {
	ID            string  `json:"id"`
	Pitch         int     `json:"pitch"`    // MIDI note number 0-127
	Velocity      int     `json:"velocity"` // 1-127
	StartBeat     float64 `json:"startBeat"`
	DurationBeats float64 `json:"durationBeats"`
}

// ControllerEvent is a MIDI CC value at a point in time.
type ControllerEvent struct {
	Controller int     `json:"controller"` // CC number 0-127
	Beat       float64 `json:"beat"`
	Value      int     `json:"value"` // 0-127
}

// RegionGeometry locates a region on its track timeline.
type RegionGeometry struct {
	Name          string  `json:"name"`
	StartBeat     float64 `json:"startBeat"`
	DurationBeats float64 `json:"durationBeats"`
}

// TrackLevels holds the mixer state of a track.
type TrackLevels struct {
	Volume float64 `json:"volume"` // 0.0-1.0
	Pan    float64 `json:"pan"`    // -1.0 left .. 1.0 right
	Muted  bool    `json:"muted"`
}

// ClampVelocity bounds a velocity into the MIDI-legal 1-127 range.
func ClampVelocity(v int) int {
	if v < 1 {
		return 1
	}
	if v > 127 {
		return 127
	}
	return v
}

// ValidPitch reports whether p is a legal MIDI note number.
func ValidPitch(p int) bool {
	return p >= 0 && p <= 127
}
