package session

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
	RoleReader      Role = "reader"
)

func (r Role) Valid() bool {
	switch r {
	case RoleHost, RoleParticipant, RoleReader:
		return true
	}
	return false
}

// Participant is one person's membership in a reading session.
// Exactly one of UserID and AnonymousID is set. (session_id, user_id) and
// (session_id, anonymous_id) are unique so rejoining reactivates the same row.
type Participant struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_participant_session_user;uniqueIndex:idx_participant_session_anon" json:"session_id"`
	UserID      *string    `gorm:"column:user_id;type:text;uniqueIndex:idx_participant_session_user" json:"user_id,omitempty"`
	AnonymousID *string    `gorm:"column:anonymous_id;type:text;uniqueIndex:idx_participant_session_anon" json:"anonymous_id,omitempty"`
	Name        string     `gorm:"column:name;type:text;not null" json:"name"`
	Role        Role       `gorm:"column:role;type:text;not null" json:"role"`
	IsActive    bool       `gorm:"column:is_active;not null;index" json:"is_active"`
	JoinedAt    time.Time  `gorm:"column:joined_at;not null" json:"joined_at"`
	LeftAt      *time.Time `gorm:"column:left_at" json:"left_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (Participant) TableName() string { return "session_participant" }

func (p *Participant) Identity() Identity {
	if p == nil {
		return Identity{}
	}
	var id Identity
	if p.UserID != nil {
		id.UserID = *p.UserID
	}
	if p.AnonymousID != nil {
		id.AnonymousID = *p.AnonymousID
	}
	return id
}

// Identity is a resolved caller: an authenticated user id or an anonymous id.
type Identity struct {
	UserID      string `json:"user_id,omitempty"`
	AnonymousID string `json:"anonymous_id,omitempty"`
}

func (i Identity) IsAnonymous() bool { return i.UserID == "" }

func (i Identity) IsZero() bool { return i.UserID == "" && i.AnonymousID == "" }

// Key is the identity's stable string form, prefixed so user and anonymous ids never collide.
func (i Identity) Key() string {
	if i.UserID != "" {
		return "user:" + i.UserID
	}
	return "anon:" + i.AnonymousID
}
