package answer

import (
	"errors"
	"fmt"
)

// ErrAnswerGenerationFailed matches any *GenerationError via errors.Is.
var ErrAnswerGenerationFailed = errors.New("answer generation failed")

// GenerationError reports a failed completion call for a question.
type GenerationError struct {
	Question string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%v: %v", ErrAnswerGenerationFailed, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

func (e *GenerationError) Is(target error) bool {
	return target == ErrAnswerGenerationFailed
}
