package domain

import (
	"fmt"
	"math"
	"strings"
)

const (
	maxTextBytes   = 128
	maxUnitBytes   = 32
	maxUserIDBytes = 64
)

// ValidateUserID checks the self-declared participant label: 1 to 63 UTF-8
// bytes, no leading or trailing whitespace.
func ValidateUserID(id string) error {
	if id == "" || len(id) >= maxUserIDBytes {
		return ErrInvalidUserID
	}
	if id != strings.TrimSpace(id) {
		return ErrInvalidUserID
	}
	return nil
}

// Validate checks a question against the authoring schema.
func (q Question) Validate() error {
	if q.Text == "" || q.Text != strings.TrimSpace(q.Text) {
		return fmt.Errorf("%w: text must be non-empty and trimmed", ErrInvalidQuestion)
	}
	if len(q.Text) >= maxTextBytes {
		return fmt.Errorf("%w: text exceeds %d bytes", ErrInvalidQuestion, maxTextBytes)
	}
	if q.Seconds <= 0 {
		return fmt.Errorf("%w: seconds must be positive", ErrInvalidQuestion)
	}
	if q.Unit != strings.TrimSpace(q.Unit) {
		return fmt.Errorf("%w: unit must be trimmed", ErrInvalidQuestion)
	}
	if len(q.Unit) >= maxUnitBytes {
		return fmt.Errorf("%w: unit exceeds %d bytes", ErrInvalidQuestion, maxUnitBytes)
	}
	if q.Step <= 0 {
		return fmt.Errorf("%w: step must be positive", ErrInvalidQuestion)
	}
	if q.Max < q.Min {
		return fmt.Errorf("%w: max below min", ErrInvalidQuestion)
	}
	return nil
}

// Validate checks the metadata carried by a Countdown record. Read-back
// records failing this are malformed and must not reach consumers.
func (m QuestionMeta) Validate() error {
	if m.Seconds <= 0 || m.Step <= 0 || m.Max < m.Min {
		return fmt.Errorf("%w: countdown question metadata", ErrMalformedRecord)
	}
	return nil
}

// CheckValue validates an answer value against the question: within
// [min, max] and a multiple of step. Runs before any store write.
func (m QuestionMeta) CheckValue(v float64) error {
	if v < m.Min || v > m.Max {
		return ErrAnswerOutOfRange
	}
	if !multipleOf(v, m.Step) {
		return ErrAnswerNotOnStep
	}
	return nil
}

// multipleOf tolerates float rounding so that e.g. 0.3 is a multiple of 0.1.
func multipleOf(v, step float64) bool {
	rem := math.Abs(math.Mod(v, step))
	eps := 1e-9 * math.Max(1, math.Abs(v))
	return rem < eps || step-rem < eps
}
