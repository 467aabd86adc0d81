package importer

import "fmt"

// State is a pipeline driver state.
type State int

const (
	Idle State = iota
	Detecting
	Downloading
	Staging
	BuildingDerivedView
	CuttingOver
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Detecting:
		return "Detecting"
	case Downloading:
		return "Downloading"
	case Staging:
		return "Staging"
	case BuildingDerivedView:
		return "BuildingDerivedView"
	case CuttingOver:
		return "CuttingOver"
	case Failed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome summarises a finished run.
type Outcome string

const (
	OutcomeRunning   Outcome = "running"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// StageError reports the state a run failed in.
type StageError struct {
	Carrier string
	State   State
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("import %s failed while %s: %v", e.Carrier, e.State, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
