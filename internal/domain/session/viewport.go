package session

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantViewport is the last flushed view of one participant, kept so a
// follower joining late can mirror it immediately.
type ParticipantViewport struct {
	SessionID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"session_id"`
	ParticipantID uuid.UUID `gorm:"type:uuid;primaryKey" json:"participant_id"`
	PanX          float64   `gorm:"column:pan_x;not null" json:"pan_x"`
	PanY          float64   `gorm:"column:pan_y;not null" json:"pan_y"`
	ZoomLevel     float64   `gorm:"column:zoom_level;not null" json:"zoom_level"`
	FocusX        *float64  `gorm:"column:focus_x" json:"focus_x,omitempty"`
	FocusY        *float64  `gorm:"column:focus_y" json:"focus_y,omitempty"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

func (ParticipantViewport) TableName() string { return "participant_viewport" }

func (v *ParticipantViewport) View() ViewState {
	out := ViewState{PanOffset: Point{X: v.PanX, Y: v.PanY}, ZoomLevel: v.ZoomLevel}
	if v.FocusX != nil && v.FocusY != nil {
		out.ZoomFocus = &Point{X: *v.FocusX, Y: *v.FocusY}
	}
	return out
}

func NewParticipantViewport(sessionID, participantID uuid.UUID, view ViewState, at time.Time) *ParticipantViewport {
	row := &ParticipantViewport{
		SessionID:     sessionID,
		ParticipantID: participantID,
		PanX:          view.PanOffset.X,
		PanY:          view.PanOffset.Y,
		ZoomLevel:     view.ZoomLevel,
		UpdatedAt:     at,
	}
	if view.ZoomFocus != nil {
		fx, fy := view.ZoomFocus.X, view.ZoomFocus.Y
		row.FocusX, row.FocusY = &fx, &fy
	}
	return row
}
