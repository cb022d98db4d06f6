package service

import (
	"errors"
	"fmt"

	"inquiry-relay-go/internal/notifier"
	"inquiry-relay-go/internal/portal"
)

var (
	// ErrNoInquiry is returned when the portal reports success without an inquiry
	ErrNoInquiry = errors.New("portal returned no inquiry")
	// ErrPanic wraps a panic raised while an inquiry was processed
	ErrPanic = errors.New("processing panicked")
)

// Stage names a step of inquiry processing
type Stage string

const (
	StageExtract  Stage = "extract"
	StageGenerate Stage = "generate"
	StageDeliver  Stage = "deliver"
	StageStore    Stage = "store"
)

// StageError is a failure of one processing stage
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// ErrorKind maps a processing error to the notification kind operators see.
// An expired portal login wins over the stage it surfaced in.
func ErrorKind(err error) notifier.Kind {
	if errors.Is(err, portal.ErrAuthExpired) {
		return notifier.KindAuthExpired
	}

	var se *StageError
	if errors.As(err, &se) {
		switch se.Stage {
		case StageExtract:
			return notifier.KindExtraction
		case StageGenerate:
			return notifier.KindGeneration
		case StageDeliver:
			return notifier.KindDelivery
		}
	}
	return notifier.KindStore
}
