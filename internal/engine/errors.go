package engine

import "fmt"

// DimensionError reports an embedding whose length disagrees with the
// provider's declared dimension. It is always raised before any write.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("engine: embedding has %d dimensions, provider declares %d", e.Actual, e.Expected)
}

// UnrecoverableError means repair itself failed and the store needs
// operator attention. It is the only condition that halts ingestion
// entirely; every other inconsistency self-heals on the next
// operation.
type UnrecoverableError struct {
	Err error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("engine: unrecoverable store state: %v", e.Err)
}

func (e *UnrecoverableError) Unwrap() error {
	return e.Err
}

// Error wraps errors with operation context.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine.%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
