package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidSituation = errors.New("invalid situation")
	ErrNotExecutable    = errors.New("decision is not executable")
	ErrNotFound         = errors.New("not found")
)

// InputError: некорректная ситуация на входе. Ошибка программиста, а не рантайма.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid situation: %s: %s", e.Field, e.Message)
}

func (e *InputError) Unwrap() error { return ErrInvalidSituation }
