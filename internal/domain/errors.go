package domain

import "errors"

var (
	// ErrInvalidUserID is returned for empty, padded, or oversized user IDs.
	ErrInvalidUserID = errors.New("invalid user id")
	// ErrInvalidQuestion is returned when a question fails schema validation.
	ErrInvalidQuestion = errors.New("invalid question")
	// ErrAnswerOutOfRange is returned when an answer falls outside [min, max].
	ErrAnswerOutOfRange = errors.New("answer out of range")
	// ErrAnswerNotOnStep is returned when an answer is not a multiple of step.
	ErrAnswerNotOnStep = errors.New("answer is not a multiple of step")
	// ErrMalformedRecord marks a record read back from the store that fails
	// schema validation; processing of that record is aborted.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrQuestionSetNotFound indicates the named question set does not exist.
	ErrQuestionSetNotFound = errors.New("question set not found")
	// ErrAnswersClosed is returned when a submission arrives for a question
	// that is no longer (or not yet) accepting answers.
	ErrAnswersClosed = errors.New("not accepting answers")
)
