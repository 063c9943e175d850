package queue

import (
	"errors"
	"fmt"
	"strings"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. The stage fails the job on the first attempt.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string { return fmt.Sprintf("handler panic: %v", e.value) }

// errorTrace renders the wrap chain of err, or the goroutine stack for a recovered panic.
func errorTrace(err error) string {
	var p *panicError
	if errors.As(err, &p) {
		return p.stack
	}

	var b strings.Builder
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%d: %T: %v\n", depth, err, err)
		err = errors.Unwrap(err)
	}
	return b.String()
}
