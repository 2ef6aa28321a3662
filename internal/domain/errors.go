package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the coordinator and run APIs.
var (
	// ErrAlreadyRunning is returned when a start request arrives while
	// another run holds the single active-run slot.
	ErrAlreadyRunning = errors.New("a workflow run is already in progress")

	// ErrRunNotFound is returned for unknown run identifiers.
	ErrRunNotFound = errors.New("run not found")

	// ErrCancelled is returned inside the pipeline when the run's cancel
	// flag has been observed.
	ErrCancelled = errors.New("workflow cancelled")
)

// FailureClass classifies an invocation or node failure for the failure
// policy.
type FailureClass string

const (
	// FailureTransient failures (timeouts, 429/5xx responses) are retried
	// once at the node level.
	FailureTransient FailureClass = "transient"

	// FailureMalformed marks structured-output parsing failures. At pair
	// scope these fail only the pair; at node scope they are not retried.
	FailureMalformed FailureClass = "malformed"

	// FailureCritical failures abort the run.
	FailureCritical FailureClass = "critical"
)

// InvocationError is a classified failure from a reasoning or tool call.
type InvocationError struct {
	Class FailureClass
	Node  NodeName
	Agent string
	Err   error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s failure in %s (%s): %v", e.Class, e.Node, e.Agent, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// NewTransientError wraps err as a retryable invocation failure.
func NewTransientError(node NodeName, agent string, err error) *InvocationError {
	return &InvocationError{Class: FailureTransient, Node: node, Agent: agent, Err: err}
}

// NewMalformedError wraps err as a structured-output parsing failure.
func NewMalformedError(node NodeName, agent string, err error) *InvocationError {
	return &InvocationError{Class: FailureMalformed, Node: node, Agent: agent, Err: err}
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var ie *InvocationError
	return errors.As(err, &ie) && ie.Class == FailureTransient
}

// IsMalformed reports whether err is a structured-output parsing failure.
func IsMalformed(err error) bool {
	var ie *InvocationError
	return errors.As(err, &ie) && ie.Class == FailureMalformed
}
