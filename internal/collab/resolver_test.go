package collab

import (
	"encoding/json"
	"reflect"
	"testing"

	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
)

func TestResolveHostKeepsEveryField(t *testing.T) {
	u := types.Update{
		Question:      types.Some("love?"),
		ReadingStep:   types.Some(types.StepDrawing),
		SelectedCards: types.Some(json.RawMessage(`[1]`)),
	}
	res := Resolve(u, true)
	if res.Partial() {
		t.Fatalf("host resolution dropped fields: %v", res.Dropped)
	}
	want := []types.Field{types.FieldQuestion, types.FieldReadingStep, types.FieldSelectedCards}
	if !reflect.DeepEqual(res.Applied, want) {
		t.Fatalf("applied: want=%v got=%v", want, res.Applied)
	}
	if !res.Update.Question.Set || *res.Update.Question.Value != "love?" {
		t.Fatalf("question lost: %+v", res.Update.Question)
	}
}

func TestResolveGuestKeepsOnlyGuestFields(t *testing.T) {
	u := types.Update{
		Question:         types.Some("career?"),
		SelectedCards:    types.Some(json.RawMessage(`[4,5]`)),
		Interpretation:   types.Some("the tower"),
		SharedModalState: types.Some(types.CoordinationBlob{TriggeredBy: "guest", Payload: json.RawMessage(`{"open":true}`)}),
	}
	res := Resolve(u, false)
	wantApplied := []types.Field{types.FieldSelectedCards, types.FieldSharedModalState}
	wantDropped := []types.Field{types.FieldQuestion, types.FieldInterpretation}
	if !reflect.DeepEqual(res.Applied, wantApplied) {
		t.Fatalf("applied: want=%v got=%v", wantApplied, res.Applied)
	}
	if !reflect.DeepEqual(res.Dropped, wantDropped) {
		t.Fatalf("dropped: want=%v got=%v", wantDropped, res.Dropped)
	}
	if res.Update.Question.Set || res.Update.Interpretation.Set {
		t.Fatalf("host-only fields survived: %+v", res.Update)
	}
	if !res.Partial() {
		t.Fatalf("partial: want=true")
	}
}

func TestResolveGuestOnlyHostFieldsIsEmpty(t *testing.T) {
	res := Resolve(types.Update{DeckID: types.Some("rider-waite")}, false)
	if !res.Update.Empty() || len(res.Applied) != 0 {
		t.Fatalf("want empty resolution, got applied=%v", res.Applied)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != types.FieldDeckID {
		t.Fatalf("dropped: want=[deck_id] got=%v", res.Dropped)
	}
}

func TestGuestFieldsAreTheCollaborativeSet(t *testing.T) {
	want := map[types.Field]bool{
		types.FieldSelectedCards:    true,
		types.FieldShuffledDeck:     true,
		types.FieldLoadingStates:    true,
		types.FieldSharedModalState: true,
		types.FieldVideoCallState:   true,
	}
	if len(GuestFields) != len(want) {
		t.Fatalf("guest fields: want=%d got=%d", len(want), len(GuestFields))
	}
	for _, f := range GuestFields {
		if !want[f] {
			t.Fatalf("unexpected guest field %s", f)
		}
	}
}
