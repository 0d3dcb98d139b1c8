package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned (wrapped) by repositories and providers for unknown ids.
var ErrNotFound = errors.New("not found")

// ReferenceKind names what an unresolved id was supposed to point at.
type ReferenceKind string

const (
	ReferenceSource  ReferenceKind = "source"
	ReferenceForm    ReferenceKind = "form"
	ReferenceDatalab ReferenceKind = "datalab"
)

// UnresolvedReferenceError reports a step naming a source or form that does not exist.
type UnresolvedReferenceError struct {
	Kind ReferenceKind
	ID   string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved %s reference %q", e.Kind, e.ID)
}

func (e *UnresolvedReferenceError) Unwrap() error { return ErrNotFound }

// CyclicPipelineError reports a datalab that embeds itself through its sources.
type CyclicPipelineError struct {
	Path []string
}

func (e *CyclicPipelineError) Error() string {
	return fmt.Sprintf("cyclic pipeline: %s", strings.Join(e.Path, " -> "))
}

// UnknownColumnError reports a display-order entry that matches no step field.
type UnknownColumnError struct {
	StepIndex int
	Field     string
}

func (e *UnknownColumnError) Error() string {
	return fmt.Sprintf("unknown column %q at step %d", e.Field, e.StepIndex)
}

// FormulaEvaluationError reports a computed field that failed for one row.
type FormulaEvaluationError struct {
	Field string
	Row   int
	Err   error
}

func (e *FormulaEvaluationError) Error() string {
	return fmt.Sprintf("evaluate %q for row %d: %v", e.Field, e.Row, e.Err)
}

func (e *FormulaEvaluationError) Unwrap() error { return e.Err }

// MalformedQuerySpecError reports a query spec missing required shape.
type MalformedQuerySpecError struct {
	Reason string
}

func (e *MalformedQuerySpecError) Error() string {
	return "malformed query spec: " + e.Reason
}
