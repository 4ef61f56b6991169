package session

import (
	"time"

	"github.com/google/uuid"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Bounds struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// PresenceData is one participant's ephemeral presence, keyed by participant id
// in the presence channel. It is never persisted.
type PresenceData struct {
	ParticipantID  uuid.UUID  `json:"participant_id"`
	UserID         string     `json:"user_id,omitempty"`
	Name           string     `json:"name"`
	Cursor         *Point     `json:"cursor,omitempty"`
	IsTyping       bool       `json:"is_typing"`
	ViewportBounds *Bounds    `json:"viewport_bounds,omitempty"`
	LastActivity   time.Time  `json:"last_activity"`
	IsFollowing    *uuid.UUID `json:"is_following,omitempty"`
}

// PresencePatch is a partial presence update merged into the local entry.
type PresencePatch struct {
	Name           *string             `json:"name,omitempty"`
	Cursor         Optional[Point]     `json:"cursor,omitzero"`
	IsTyping       *bool               `json:"is_typing,omitempty"`
	ViewportBounds Optional[Bounds]    `json:"viewport_bounds,omitzero"`
	IsFollowing    Optional[uuid.UUID] `json:"is_following,omitzero"`
}

// Merge applies p onto d. LastActivity is left to the caller.
func (d *PresenceData) Merge(p PresencePatch) {
	if p.Name != nil {
		d.Name = *p.Name
	}
	if p.Cursor.Set {
		d.Cursor = p.Cursor.Value
	}
	if p.IsTyping != nil {
		d.IsTyping = *p.IsTyping
	}
	if p.ViewportBounds.Set {
		d.ViewportBounds = p.ViewportBounds.Value
	}
	if p.IsFollowing.Set {
		d.IsFollowing = p.IsFollowing.Value
	}
}

// ViewState is a participant's canvas pan and zoom.
type ViewState struct {
	PanOffset Point   `json:"pan_offset"`
	ZoomLevel float64 `json:"zoom_level"`
	ZoomFocus *Point  `json:"zoom_focus,omitempty"`
}

// DefaultViewState is the view before anything was loaded or panned.
func DefaultViewState() ViewState {
	return ViewState{ZoomLevel: 1}
}

// ViewPatch is a partial view change queued for a debounced flush.
type ViewPatch struct {
	PanOffset *Point          `json:"pan_offset,omitempty"`
	ZoomLevel *float64        `json:"zoom_level,omitempty"`
	ZoomFocus Optional[Point] `json:"zoom_focus,omitzero"`
}

func (p ViewPatch) Empty() bool {
	return p.PanOffset == nil && p.ZoomLevel == nil && !p.ZoomFocus.Set
}

// Merge folds a later patch into p; later values win.
func (p ViewPatch) Merge(later ViewPatch) ViewPatch {
	if later.PanOffset != nil {
		p.PanOffset = later.PanOffset
	}
	if later.ZoomLevel != nil {
		p.ZoomLevel = later.ZoomLevel
	}
	if later.ZoomFocus.Set {
		p.ZoomFocus = later.ZoomFocus
	}
	return p
}

func (v ViewState) Apply(p ViewPatch) ViewState {
	if p.PanOffset != nil {
		v.PanOffset = *p.PanOffset
	}
	if p.ZoomLevel != nil {
		v.ZoomLevel = *p.ZoomLevel
	}
	if p.ZoomFocus.Set {
		v.ZoomFocus = p.ZoomFocus.Value
	}
	return v
}
