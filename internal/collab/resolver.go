package collab

import (
	types "github.com/yungbote/tarotroom-backend/internal/domain/session"
)

// GuestFields are the only fields a non-host may write.
var GuestFields = []types.Field{
	types.FieldSelectedCards,
	types.FieldShuffledDeck,
	types.FieldLoadingStates,
	types.FieldSharedModalState,
	types.FieldVideoCallState,
}

// Resolution is the outcome of resolving one update against the writer's authority.
type Resolution struct {
	Update  types.Update
	Applied []types.Field
	Dropped []types.Field
}

// Resolve filters u by authority. The host keeps every field; anyone else keeps
// GuestFields and the rest are dropped without error.
func Resolve(u types.Update, isHost bool) Resolution {
	if isHost {
		return Resolution{Update: u, Applied: u.Fields()}
	}
	kept, dropped := u.Only(GuestFields...)
	return Resolution{Update: kept, Applied: kept.Fields(), Dropped: dropped}
}

// Partial reports whether any requested field was dropped.
func (r Resolution) Partial() bool { return len(r.Dropped) > 0 }

func fieldNames(fs []types.Field) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = string(f)
	}
	return out
}
