package domain

import "time"

// EntityKind classifies addressable project entities.
type EntityKind string

const (
	EntityProject EntityKind = "project"
	EntityTrack   EntityKind = "track"
	EntityRegion  EntityKind = "region"
	EntityBus     EntityKind = "bus"
)

// Entity is an addressable object inside a conversation's project.
// IDs are server-issued; names come from the client and are not unique.
type Entity struct {
	ID        string            `json:"id"`
	Kind      EntityKind        `json:"kind"`
	Name      string            `json:"name"`
	ParentID  string            `json:"parent_id,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ValidKind reports whether k is a known entity kind.
func ValidKind(k EntityKind) bool {
	switch k {
	case EntityProject, EntityTrack, EntityRegion, EntityBus:
		return true
	}
	return false
}

// CanParent reports whether a child of kind `child` may attach to a
// parent of kind `parent`. Regions attach to tracks; tracks and buses
// attach to the project or float free.
func CanParent(child, parent EntityKind) bool {
	switch child {
	case EntityRegion:
		return parent == EntityTrack
	case EntityTrack, EntityBus:
		return parent == EntityProject
	}
	return false
}
