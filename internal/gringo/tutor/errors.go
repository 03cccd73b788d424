package tutor

import (
	"errors"
	"fmt"
)

// ErrUnknownLanguage is returned by SetLanguage for keys the catalogue does
// not define.
var ErrUnknownLanguage = errors.New("tutor: unknown language")

// ErrUnknownDifficulty is returned by SetDifficulty for keys the catalogue
// does not define.
var ErrUnknownDifficulty = errors.New("tutor: unknown difficulty")

// StorageError reports that the message log or profile store failed. Records
// appended before the failure stay committed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("tutor: storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// GenerationError reports that the generation service failed. No bot reply
// is written to the log when this is returned.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("tutor: generation: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsStorageError reports whether err wraps a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsGenerationError reports whether err wraps a GenerationError.
func IsGenerationError(err error) bool {
	var ge *GenerationError
	return errors.As(err, &ge)
}
