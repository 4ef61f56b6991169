package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ReadingSession is the single durable shared record of one collaborative reading.
// Version is bumped on every write and guards host changes with compare-and-set.
type ReadingSession struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`

	HostUserID          *string        `gorm:"column:host_user_id;type:text;index" json:"host_user_id"`
	OriginalHostUserID  *string        `gorm:"column:original_host_user_id;type:text" json:"original_host_user_id"`
	HostTransferHistory datatypes.JSON `gorm:"column:host_transfer_history" json:"host_transfer_history"`
	PendingHostTransfer datatypes.JSON `gorm:"column:pending_host_transfer" json:"pending_host_transfer"`

	DeckID          *string        `gorm:"column:deck_id;type:text" json:"deck_id"`
	SelectedLayout  datatypes.JSON `gorm:"column:selected_layout" json:"selected_layout"`
	Question        *string        `gorm:"column:question;type:text" json:"question"`
	ReadingStep     ReadingStep    `gorm:"column:reading_step;type:text;not null" json:"reading_step"`
	SelectedCards   datatypes.JSON `gorm:"column:selected_cards" json:"selected_cards"`
	ShuffledDeck    datatypes.JSON `gorm:"column:shuffled_deck" json:"shuffled_deck"`
	Interpretation  *string        `gorm:"column:interpretation;type:text" json:"interpretation"`
	ActiveCardIndex *int           `gorm:"column:active_card_index" json:"active_card_index"`

	// UI coordination blobs. Each is a CoordinationBlob; the core never interprets Payload.
	SharedModalState   datatypes.JSON `gorm:"column:shared_modal_state" json:"shared_modal_state"`
	VideoCallState     datatypes.JSON `gorm:"column:video_call_state" json:"video_call_state"`
	LoadingStates      datatypes.JSON `gorm:"column:loading_states" json:"loading_states"`
	DeckSelectionState datatypes.JSON `gorm:"column:deck_selection_state" json:"deck_selection_state"`

	IsActive bool `gorm:"column:is_active;not null;index" json:"is_active"`
	Version  int  `gorm:"column:version;not null" json:"version"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ReadingSession) TableName() string { return "reading_session" }

// HostTransfer is one entry of the append-only host transfer history.
type HostTransfer struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Reason    string    `json:"reason,omitempty"`
}

// PendingHostTransfer is an outstanding host offer awaiting the target's answer.
type PendingHostTransfer struct {
	ToUserID   string    `json:"to_user_id"`
	FromUserID string    `json:"from_user_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func (p *PendingHostTransfer) Expired(now time.Time) bool {
	return p == nil || !now.Before(p.ExpiresAt)
}

func (s *ReadingSession) Host() string {
	if s == nil || s.HostUserID == nil {
		return ""
	}
	return *s.HostUserID
}

func (s *ReadingSession) OriginalHost() string {
	if s == nil || s.OriginalHostUserID == nil {
		return ""
	}
	return *s.OriginalHostUserID
}

// History decodes host_transfer_history. A missing column decodes as empty.
func (s *ReadingSession) History() ([]HostTransfer, error) {
	if s == nil || len(s.HostTransferHistory) == 0 || string(s.HostTransferHistory) == "null" {
		return []HostTransfer{}, nil
	}
	var out []HostTransfer
	if err := json.Unmarshal(s.HostTransferHistory, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// LastTransfer returns the most recent history entry, or nil.
func (s *ReadingSession) LastTransfer() *HostTransfer {
	hist, err := s.History()
	if err != nil || len(hist) == 0 {
		return nil
	}
	last := hist[len(hist)-1]
	return &last
}

// Pending decodes pending_host_transfer, returning nil when absent.
func (s *ReadingSession) Pending() (*PendingHostTransfer, error) {
	if s == nil || len(s.PendingHostTransfer) == 0 || string(s.PendingHostTransfer) == "null" {
		return nil, nil
	}
	var p PendingHostTransfer
	if err := json.Unmarshal(s.PendingHostTransfer, &p); err != nil {
		return nil, err
	}
	if p.ToUserID == "" {
		return nil, nil
	}
	return &p, nil
}

// Clone deep-copies the record so mirrors never alias each other's buffers.
func (s *ReadingSession) Clone() *ReadingSession {
	if s == nil {
		return nil
	}
	out := *s
	out.HostUserID = cloneString(s.HostUserID)
	out.OriginalHostUserID = cloneString(s.OriginalHostUserID)
	out.DeckID = cloneString(s.DeckID)
	out.Question = cloneString(s.Question)
	out.Interpretation = cloneString(s.Interpretation)
	if s.ActiveCardIndex != nil {
		v := *s.ActiveCardIndex
		out.ActiveCardIndex = &v
	}
	out.HostTransferHistory = cloneJSON(s.HostTransferHistory)
	out.PendingHostTransfer = cloneJSON(s.PendingHostTransfer)
	out.SelectedLayout = cloneJSON(s.SelectedLayout)
	out.SelectedCards = cloneJSON(s.SelectedCards)
	out.ShuffledDeck = cloneJSON(s.ShuffledDeck)
	out.SharedModalState = cloneJSON(s.SharedModalState)
	out.VideoCallState = cloneJSON(s.VideoCallState)
	out.LoadingStates = cloneJSON(s.LoadingStates)
	out.DeckSelectionState = cloneJSON(s.DeckSelectionState)
	return &out
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneJSON(j datatypes.JSON) datatypes.JSON {
	if j == nil {
		return nil
	}
	out := make(datatypes.JSON, len(j))
	copy(out, j)
	return out
}

// BulkFields are the large reading fields deferred to the full load stage.
type BulkFields struct {
	ID             uuid.UUID      `json:"id"`
	Version        int            `json:"version"`
	ShuffledDeck   datatypes.JSON `json:"shuffled_deck"`
	Interpretation *string        `json:"interpretation"`
}

// BulkColumns lists the columns excluded from the critical first-paint read.
var BulkColumns = []string{"shuffled_deck", "interpretation"}
