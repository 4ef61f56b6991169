package session

// ReadingStep is the forward-biased state machine of a reading.
type ReadingStep string

const (
	StepSetup          ReadingStep = "setup"
	StepAskQuestion    ReadingStep = "ask-question"
	StepDrawing        ReadingStep = "drawing"
	StepInterpretation ReadingStep = "interpretation"
)

var stepOrder = map[ReadingStep]int{
	StepSetup:          0,
	StepAskQuestion:    1,
	StepDrawing:        2,
	StepInterpretation: 3,
}

func (s ReadingStep) Valid() bool {
	_, ok := stepOrder[s]
	return ok
}

// CanAdvanceTo allows staying put, moving forward, or resetting to setup for a new reading.
func (s ReadingStep) CanAdvanceTo(next ReadingStep) bool {
	if !next.Valid() {
		return false
	}
	if !s.Valid() || next == StepSetup {
		return true
	}
	return stepOrder[next] >= stepOrder[s]
}
