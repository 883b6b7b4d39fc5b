package engine

import (
	"errors"
	"fmt"

	"github.com/moleinfer/moleinfer/model"
)

var (
	// ErrNotLoaded wird zurueckgegeben, solange kein Modell geladen ist
	ErrNotLoaded = errors.New("no model loaded")

	// ErrExecutionFailure meldet einen Fehler waehrend des Forward-Pass
	ErrExecutionFailure = errors.New("execution failure")

	// ErrInvalidInput meldet einen Eingabepuffer, der nicht zum Modell passt
	ErrInvalidInput = errors.New("invalid input")
)

// ExecutionError beschreibt den Layer, an dem ein Forward-Pass abgebrochen ist
type ExecutionError struct {
	Image int
	Layer int
	Op    model.OpKind
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%v: image %d layer %d (%s): %v", ErrExecutionFailure, e.Image, e.Layer, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() []error {
	return []error{ErrExecutionFailure, e.Err}
}
