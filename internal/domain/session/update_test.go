package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUpdateOnlyDropsUnlistedFields(t *testing.T) {
	u := Update{
		Question:      Some("will it rain?"),
		SelectedCards: Some(json.RawMessage(`[1,2]`)),
		ReadingStep:   Some(StepDrawing),
	}
	kept, dropped := u.Only(FieldSelectedCards)
	if got := kept.Fields(); len(got) != 1 || got[0] != FieldSelectedCards {
		t.Fatalf("kept fields: want=[selected_cards] got=%v", got)
	}
	if len(dropped) != 2 || dropped[0] != FieldQuestion || dropped[1] != FieldReadingStep {
		t.Fatalf("dropped: want=[question reading_step] got=%v", dropped)
	}
}

func TestUpdateColumnsDistinguishesNullFromAbsent(t *testing.T) {
	u := Update{Interpretation: Null[string](), ActiveCardIndex: Some(2)}
	cols, err := u.Columns()
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if len(cols) != 2 {
		t.Fatalf("columns: want=2 got=%d (%v)", len(cols), cols)
	}
	if v, ok := cols["interpretation"]; !ok || v.(*string) != nil {
		t.Fatalf("interpretation: want explicit nil got=%v ok=%v", v, ok)
	}
	if _, ok := cols["question"]; ok {
		t.Fatalf("question should be absent")
	}
}

func TestUpdateValidate(t *testing.T) {
	if err := (Update{ReadingStep: Null[ReadingStep]()}).Validate(); err == nil {
		t.Fatalf("null reading_step: want error")
	}
	if err := (Update{ReadingStep: Some(ReadingStep("scrying"))}).Validate(); err == nil {
		t.Fatalf("unknown step: want error")
	}
	if err := (Update{ActiveCardIndex: Some(-1)}).Validate(); err == nil {
		t.Fatalf("negative index: want error")
	}
	if err := (Update{SelectedCards: Some(json.RawMessage(`{nope`))}).Validate(); err == nil {
		t.Fatalf("invalid json: want error")
	}
	if err := (Update{LoadingStates: Some(CoordinationBlob{TriggeredBy: "p1", Payload: json.RawMessage(`{"shuffling":true}`)})}).Validate(); err != nil {
		t.Fatalf("blob: unexpected error %v", err)
	}
}

func TestUpdateApplyTo(t *testing.T) {
	q := "old"
	s := &ReadingSession{ReadingStep: StepSetup, Question: &q}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	u := Update{
		ReadingStep:    Some(StepAskQuestion),
		Question:       Null[string](),
		LoadingStates:  Some(CoordinationBlob{TriggeredBy: "p1"}),
		SelectedLayout: Some(json.RawMessage(`{"name":"celtic-cross"}`)),
	}
	if err := u.ApplyTo(s, at); err != nil {
		t.Fatalf("ApplyTo: %v", err)
	}
	if s.ReadingStep != StepAskQuestion {
		t.Fatalf("step: want=%s got=%s", StepAskQuestion, s.ReadingStep)
	}
	if s.Question != nil {
		t.Fatalf("question: want nil got=%q", *s.Question)
	}
	var blob CoordinationBlob
	if err := json.Unmarshal(s.LoadingStates, &blob); err != nil || blob.TriggeredBy != "p1" {
		t.Fatalf("loading_states: want triggered_by=p1 got=%s err=%v", s.LoadingStates, err)
	}
	if !s.UpdatedAt.Equal(at) {
		t.Fatalf("updated_at: want=%v got=%v", at, s.UpdatedAt)
	}
}

func TestRelayedUpdateKeepsOnlySetFieldsOnTheWire(t *testing.T) {
	msg := RelayedUpdate{
		Updates:       Update{SelectedCards: Some(json.RawMessage(`[3]`)), VideoCallState: Null[CoordinationBlob]()},
		ParticipantID: uuid.New(),
	}
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw struct {
		Updates map[string]json.RawMessage `json:"updates"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if len(raw.Updates) != 2 {
		t.Fatalf("wire fields: want=2 got=%d (%s)", len(raw.Updates), b)
	}
	var back RelayedUpdate
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Updates.VideoCallState.Set || back.Updates.VideoCallState.Value != nil {
		t.Fatalf("video_call_state: want explicit null got=%+v", back.Updates.VideoCallState)
	}
	if back.Updates.Question.Set {
		t.Fatalf("question: want absent")
	}
}

func TestPendingExpiry(t *testing.T) {
	now := time.Now()
	p := &PendingHostTransfer{ToUserID: "u2", ExpiresAt: now.Add(time.Second)}
	if p.Expired(now) {
		t.Fatalf("want not expired")
	}
	if !p.Expired(now.Add(time.Second)) {
		t.Fatalf("want expired at deadline")
	}
}
