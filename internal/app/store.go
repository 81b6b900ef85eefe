package app

import (
	"context"
	"time"

	"liveguess-service/internal/domain"
)

// The realtime store ports. Watch methods follow onValue semantics: the
// channel receives the current value immediately after subscribing, then a
// fresh snapshot on every remote change. The returned cancel func releases
// the subscription and must be called on every exit path of the consumer's
// lifetime; it is safe to call more than once.

// QuestionStore holds the admin-authored question list, ordered by ID.
type QuestionStore interface {
	// ReplaceQuestions deletes the whole list and re-inserts in order.
	ReplaceQuestions(ctx context.Context, questions []domain.Question) error
	Questions(ctx context.Context) ([]domain.Question, error)
	WatchQuestions(ctx context.Context) (<-chan []domain.Question, func(), error)
}

// CountdownStore holds the shared singleton countdown record. PublishCountdown
// assigns StartAt from the store server's clock at write time, never from the
// caller's clock. A nil value on the watch channel means the record is absent.
type CountdownStore interface {
	PublishCountdown(ctx context.Context, question domain.QuestionMeta) error
	ClearCountdown(ctx context.Context) error
	WatchCountdown(ctx context.Context) (<-chan *domain.Countdown, func(), error)
}

// AnswerStore holds per-user, per-question answer records. Records are
// appended with store-generated keys; updates touch only the answer field.
type AnswerStore interface {
	CreateAnswer(ctx context.Context, answer domain.Answer) (string, error)
	UpdateAnswerValue(ctx context.Context, key string, value float64) error
	AnswersByQuestion(ctx context.Context, questionID int) ([]domain.Answer, error)
	AnswersByUser(ctx context.Context, userID string) ([]domain.Answer, error)
	WatchUserAnswers(ctx context.Context, userID string) (<-chan []domain.Answer, func(), error)
	ClearAnswers(ctx context.Context) error
}

// RatingStore exposes the externally computed per-user ratings.
type RatingStore interface {
	WatchRatings(ctx context.Context, userID string) (<-chan []domain.Rating, func(), error)
	ClearRatings(ctx context.Context) error
}

// ClockSource feeds the server-minus-local clock offset, sampled continuously.
// Consumers add the offset to their local clock before comparing against
// server-assigned timestamps.
type ClockSource interface {
	WatchClockOffset(ctx context.Context) (<-chan time.Duration, func(), error)
}

// RealtimeStore is the full realtime collaborator surface.
type RealtimeStore interface {
	QuestionStore
	CountdownStore
	AnswerStore
	RatingStore
	ClockSource
}
