package pipeline

import (
	"errors"
	"fmt"
)

// Analysis stages, used to label where a request died.
const (
	StageProbe      = 1
	StageKeyframes  = 2
	StageVision     = 3
	StageEvaluation = 4
)

var stageNames = map[int]string{
	StageProbe:      "Probe",
	StageKeyframes:  "KeyframeExtraction",
	StageVision:     "VisionAnalysis",
	StageEvaluation: "Evaluation",
}

var ErrNoKeyframes = errors.New("change detector produced no keyframes")

// StageError wraps a pipeline failure with the stage it occurred in. The
// rendered form is what clients see in the error envelope.
type StageError struct {
	Stage int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("[Stage %d:%s] %v", e.Stage, stageNames[e.Stage], e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage int, err error) error {
	return &StageError{Stage: stage, Err: err}
}
