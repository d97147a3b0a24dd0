package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Phase is where the pipeline sits in its Idle -> Sending -> Idle cycle.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseSending Phase = "sending"
)

var (
	// ErrInFlight is returned while a request is outstanding.
	ErrInFlight = errors.New("a message is already being sent")
	// ErrEmptySubmission is returned when there is neither text nor an attachment.
	ErrEmptySubmission = errors.New("nothing to send: type a message or attach a file")

	errStaleCycle = errors.New("resolution does not match the cycle in flight")
)

// State is the complete observable pipeline state. It only changes through
// reduce; Seq grows by one with every committed transition.
type State struct {
	Phase   Phase  `json:"phase"`
	Input   string `json:"input"`
	CycleID string `json:"cycle_id,omitempty"`
	Seq     uint64 `json:"seq"`
}

func (s State) Sending() bool { return s.Phase == PhaseSending }

type event interface{ isEvent() }

type inputEvent struct{ text string }

type submitEvent struct {
	cycleID string
	text    string
	files   int
}

type resolveEvent struct{ cycleID string }

func (inputEvent) isEvent()   {}
func (submitEvent) isEvent()  {}
func (resolveEvent) isEvent() {}

// reduce is the only place State transitions are decided. On error the input
// state is returned unchanged.
func reduce(s State, ev event) (State, error) {
	switch e := ev.(type) {
	case inputEvent:
		if s.Sending() {
			return s, ErrInFlight
		}
		s.Input = e.text
		return s, nil
	case submitEvent:
		if s.Sending() {
			return s, ErrInFlight
		}
		if strings.TrimSpace(e.text) == "" && e.files == 0 {
			return s, ErrEmptySubmission
		}
		s.Phase = PhaseSending
		s.CycleID = e.cycleID
		return s, nil
	case resolveEvent:
		if !s.Sending() || s.CycleID != e.cycleID {
			return s, errStaleCycle
		}
		return State{Phase: PhaseIdle}, nil
	default:
		return s, fmt.Errorf("unknown pipeline event %T", ev)
	}
}
