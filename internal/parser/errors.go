package parser

import (
	"errors"
	"fmt"

	"github.com/zsiec/nalrelay/internal/nal"
)

// ErrUnitTooLarge marks a unit dropped for exceeding Config.MaxUnitSize.
var ErrUnitTooLarge = errors.New("unit exceeds maximum size")

// MalformedUnitError describes a unit that was skipped. It matches
// nal.ErrMalformedUnit under errors.Is.
type MalformedUnitError struct {
	Offset int64 // stream offset of the first payload byte
	Size   int
	Limit  int
	Err    error
}

func (e *MalformedUnitError) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("malformed unit at offset %d: %d bytes exceeds limit %d: %v",
			e.Offset, e.Size, e.Limit, e.Err)
	}
	return fmt.Sprintf("malformed unit at offset %d (%d bytes): %v", e.Offset, e.Size, e.Err)
}

func (e *MalformedUnitError) Unwrap() error {
	return e.Err
}

// Is makes every MalformedUnitError match nal.ErrMalformedUnit.
func (e *MalformedUnitError) Is(target error) bool {
	return target == nal.ErrMalformedUnit
}
