package session

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Field names a writable reading_session column.
type Field string

const (
	FieldDeckID             Field = "deck_id"
	FieldSelectedLayout     Field = "selected_layout"
	FieldQuestion           Field = "question"
	FieldReadingStep        Field = "reading_step"
	FieldSelectedCards      Field = "selected_cards"
	FieldShuffledDeck       Field = "shuffled_deck"
	FieldInterpretation     Field = "interpretation"
	FieldActiveCardIndex    Field = "active_card_index"
	FieldSharedModalState   Field = "shared_modal_state"
	FieldVideoCallState     Field = "video_call_state"
	FieldLoadingStates      Field = "loading_states"
	FieldDeckSelectionState Field = "deck_selection_state"
)

// CoordinationBlob is an opaque UI coordination payload with attribution.
// Payload is passed through untouched.
type CoordinationBlob struct {
	TriggeredBy string          `json:"triggered_by,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Update is a partial write to the reading fields of a session.
// Host identity, history and pending offers are never part of an Update;
// they only change through the host aggregate.
type Update struct {
	DeckID             Optional[string]           `json:"deck_id,omitzero"`
	SelectedLayout     Optional[json.RawMessage]  `json:"selected_layout,omitzero"`
	Question           Optional[string]           `json:"question,omitzero"`
	ReadingStep        Optional[ReadingStep]      `json:"reading_step,omitzero"`
	SelectedCards      Optional[json.RawMessage]  `json:"selected_cards,omitzero"`
	ShuffledDeck       Optional[json.RawMessage]  `json:"shuffled_deck,omitzero"`
	Interpretation     Optional[string]           `json:"interpretation,omitzero"`
	ActiveCardIndex    Optional[int]              `json:"active_card_index,omitzero"`
	SharedModalState   Optional[CoordinationBlob] `json:"shared_modal_state,omitzero"`
	VideoCallState     Optional[CoordinationBlob] `json:"video_call_state,omitzero"`
	LoadingStates      Optional[CoordinationBlob] `json:"loading_states,omitzero"`
	DeckSelectionState Optional[CoordinationBlob] `json:"deck_selection_state,omitzero"`
}

type fieldAccess struct {
	field  Field
	isSet  func(u *Update) bool
	copyTo func(src, dst *Update)
	column func(u *Update) (any, error)
	apply  func(u *Update, s *ReadingSession) error
}

var fieldTable = []fieldAccess{
	{
		field:  FieldDeckID,
		isSet:  func(u *Update) bool { return u.DeckID.Set },
		copyTo: func(src, dst *Update) { dst.DeckID = src.DeckID },
		column: func(u *Update) (any, error) { return u.DeckID.Value, nil },
		apply:  func(u *Update, s *ReadingSession) error { s.DeckID = cloneString(u.DeckID.Value); return nil },
	},
	{
		field:  FieldSelectedLayout,
		isSet:  func(u *Update) bool { return u.SelectedLayout.Set },
		copyTo: func(src, dst *Update) { dst.SelectedLayout = src.SelectedLayout },
		column: func(u *Update) (any, error) { return rawColumn(u.SelectedLayout) },
		apply: func(u *Update, s *ReadingSession) error {
			s.SelectedLayout = rawValue(u.SelectedLayout)
			return nil
		},
	},
	{
		field:  FieldQuestion,
		isSet:  func(u *Update) bool { return u.Question.Set },
		copyTo: func(src, dst *Update) { dst.Question = src.Question },
		column: func(u *Update) (any, error) { return u.Question.Value, nil },
		apply:  func(u *Update, s *ReadingSession) error { s.Question = cloneString(u.Question.Value); return nil },
	},
	{
		field:  FieldReadingStep,
		isSet:  func(u *Update) bool { return u.ReadingStep.Set },
		copyTo: func(src, dst *Update) { dst.ReadingStep = src.ReadingStep },
		column: func(u *Update) (any, error) {
			if u.ReadingStep.Value == nil {
				return nil, fmt.Errorf("reading_step cannot be null")
			}
			return string(*u.ReadingStep.Value), nil
		},
		apply: func(u *Update, s *ReadingSession) error {
			if u.ReadingStep.Value == nil {
				return fmt.Errorf("reading_step cannot be null")
			}
			s.ReadingStep = *u.ReadingStep.Value
			return nil
		},
	},
	{
		field:  FieldSelectedCards,
		isSet:  func(u *Update) bool { return u.SelectedCards.Set },
		copyTo: func(src, dst *Update) { dst.SelectedCards = src.SelectedCards },
		column: func(u *Update) (any, error) { return rawColumn(u.SelectedCards) },
		apply: func(u *Update, s *ReadingSession) error {
			s.SelectedCards = rawValue(u.SelectedCards)
			return nil
		},
	},
	{
		field:  FieldShuffledDeck,
		isSet:  func(u *Update) bool { return u.ShuffledDeck.Set },
		copyTo: func(src, dst *Update) { dst.ShuffledDeck = src.ShuffledDeck },
		column: func(u *Update) (any, error) { return rawColumn(u.ShuffledDeck) },
		apply: func(u *Update, s *ReadingSession) error {
			s.ShuffledDeck = rawValue(u.ShuffledDeck)
			return nil
		},
	},
	{
		field:  FieldInterpretation,
		isSet:  func(u *Update) bool { return u.Interpretation.Set },
		copyTo: func(src, dst *Update) { dst.Interpretation = src.Interpretation },
		column: func(u *Update) (any, error) { return u.Interpretation.Value, nil },
		apply: func(u *Update, s *ReadingSession) error {
			s.Interpretation = cloneString(u.Interpretation.Value)
			return nil
		},
	},
	{
		field:  FieldActiveCardIndex,
		isSet:  func(u *Update) bool { return u.ActiveCardIndex.Set },
		copyTo: func(src, dst *Update) { dst.ActiveCardIndex = src.ActiveCardIndex },
		column: func(u *Update) (any, error) { return u.ActiveCardIndex.Value, nil },
		apply: func(u *Update, s *ReadingSession) error {
			if u.ActiveCardIndex.Value == nil {
				s.ActiveCardIndex = nil
				return nil
			}
			v := *u.ActiveCardIndex.Value
			s.ActiveCardIndex = &v
			return nil
		},
	},
	blobField(FieldSharedModalState,
		func(u *Update) *Optional[CoordinationBlob] { return &u.SharedModalState },
		func(s *ReadingSession) *datatypes.JSON { return &s.SharedModalState }),
	blobField(FieldVideoCallState,
		func(u *Update) *Optional[CoordinationBlob] { return &u.VideoCallState },
		func(s *ReadingSession) *datatypes.JSON { return &s.VideoCallState }),
	blobField(FieldLoadingStates,
		func(u *Update) *Optional[CoordinationBlob] { return &u.LoadingStates },
		func(s *ReadingSession) *datatypes.JSON { return &s.LoadingStates }),
	blobField(FieldDeckSelectionState,
		func(u *Update) *Optional[CoordinationBlob] { return &u.DeckSelectionState },
		func(s *ReadingSession) *datatypes.JSON { return &s.DeckSelectionState }),
}

func blobField(f Field, get func(*Update) *Optional[CoordinationBlob], target func(*ReadingSession) *datatypes.JSON) fieldAccess {
	return fieldAccess{
		field:  f,
		isSet:  func(u *Update) bool { return get(u).Set },
		copyTo: func(src, dst *Update) { *get(dst) = *get(src) },
		column: func(u *Update) (any, error) { return blobColumn(*get(u)) },
		apply: func(u *Update, s *ReadingSession) error {
			col, err := blobColumn(*get(u))
			if err != nil {
				return err
			}
			if col == nil {
				*target(s) = nil
				return nil
			}
			*target(s) = col.(datatypes.JSON)
			return nil
		},
	}
}

func rawColumn(o Optional[json.RawMessage]) (any, error) {
	if o.Value == nil {
		return nil, nil
	}
	if !json.Valid(*o.Value) {
		return nil, fmt.Errorf("invalid json payload")
	}
	return datatypes.JSON(cloneJSON(datatypes.JSON(*o.Value))), nil
}

func rawValue(o Optional[json.RawMessage]) datatypes.JSON {
	if o.Value == nil {
		return nil
	}
	return cloneJSON(datatypes.JSON(*o.Value))
}

func blobColumn(o Optional[CoordinationBlob]) (any, error) {
	if o.Value == nil {
		return nil, nil
	}
	if len(o.Value.Payload) > 0 && !json.Valid(o.Value.Payload) {
		return nil, fmt.Errorf("invalid coordination payload")
	}
	b, err := json.Marshal(o.Value)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// Fields lists the fields present in u, in column order.
func (u Update) Fields() []Field {
	out := make([]Field, 0, len(fieldTable))
	for _, fa := range fieldTable {
		if fa.isSet(&u) {
			out = append(out, fa.field)
		}
	}
	return out
}

func (u Update) Empty() bool {
	for _, fa := range fieldTable {
		if fa.isSet(&u) {
			return false
		}
	}
	return true
}

// Only returns a copy of u restricted to allowed fields, plus the fields it dropped.
func (u Update) Only(allowed ...Field) (Update, []Field) {
	keep := make(map[Field]bool, len(allowed))
	for _, f := range allowed {
		keep[f] = true
	}
	var out Update
	var dropped []Field
	for _, fa := range fieldTable {
		if !fa.isSet(&u) {
			continue
		}
		if keep[fa.field] {
			fa.copyTo(&u, &out)
			continue
		}
		dropped = append(dropped, fa.field)
	}
	return out, dropped
}

// Validate checks value shapes. Step transitions are checked against the stored
// row by the writer, not here.
func (u Update) Validate() error {
	if u.ReadingStep.Set {
		if u.ReadingStep.Value == nil {
			return fmt.Errorf("reading_step cannot be null")
		}
		if !u.ReadingStep.Value.Valid() {
			return fmt.Errorf("unknown reading_step %q", *u.ReadingStep.Value)
		}
	}
	if u.ActiveCardIndex.Value != nil && *u.ActiveCardIndex.Value < 0 {
		return fmt.Errorf("active_card_index must be >= 0")
	}
	_, err := u.Columns()
	return err
}

// Columns renders u as a gorm Updates map keyed by column name.
func (u Update) Columns() (map[string]any, error) {
	out := make(map[string]any)
	for _, fa := range fieldTable {
		if !fa.isSet(&u) {
			continue
		}
		v, err := fa.column(&u)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", fa.field, err)
		}
		out[string(fa.field)] = v
	}
	return out, nil
}

// ApplyTo merges u into s and stamps UpdatedAt. Version is left alone; only the
// durable writer bumps it.
func (u Update) ApplyTo(s *ReadingSession, at time.Time) error {
	if s == nil {
		return nil
	}
	for _, fa := range fieldTable {
		if !fa.isSet(&u) {
			continue
		}
		if err := fa.apply(&u, s); err != nil {
			return fmt.Errorf("%s: %w", fa.field, err)
		}
	}
	if !at.IsZero() {
		s.UpdatedAt = at
	}
	return nil
}
