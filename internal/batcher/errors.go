package batcher

import (
	"errors"
	"fmt"
)

// ErrBatchContractViolation indicates that a fetch function returned a result
// slice whose length differs from the key slice it was given.
var ErrBatchContractViolation = errors.New("batcher: fetch result count does not match key count")

// ErrFetchPanic indicates that a fetch function panicked.
var ErrFetchPanic = errors.New("batcher: fetch panicked")

// ContractViolationError is delivered to every pending caller of a window whose
// fetch broke the one-result-per-key contract.
type ContractViolationError struct {
	Name    string
	Keys    int
	Results int
}

func (e *ContractViolationError) Error() string {
	name := e.Name
	if name == "" {
		name = "batch"
	}
	return fmt.Sprintf("batcher: %s fetch returned %d results for %d keys", name, e.Results, e.Keys)
}

// Is allows errors.Is(err, ErrBatchContractViolation).
func (e *ContractViolationError) Is(target error) bool {
	return target == ErrBatchContractViolation
}

// PanicError wraps a value recovered from a panicking fetch.
type PanicError struct {
	Name  string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("batcher: %s fetch panicked: %v", e.Name, e.Value)
}

// Is allows errors.Is(err, ErrFetchPanic).
func (e *PanicError) Is(target error) bool {
	return target == ErrFetchPanic
}
