package app

import (
	"context"
	"fmt"
	"sort"

	"liveguess-service/internal/domain"
)

// QuestionSetRepository loads named question sets (from cache/backing store).
type QuestionSetRepository interface {
	GetQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// AdminService covers the authoring side: bulk question replacement and the
// whole-subtree resets between quiz runs. All of it writes through the same
// single-writer ownership the live side relies on.
type AdminService struct {
	store RealtimeStore
	sets  QuestionSetRepository
}

func NewAdminService(store RealtimeStore, sets QuestionSetRepository) *AdminService {
	return &AdminService{store: store, sets: sets}
}

// ReplaceQuestions validates the full list, then replaces the live questions
// wholesale (delete subtree, re-insert in ID order). A single invalid question
// rejects the whole batch before anything is written.
func (s *AdminService) ReplaceQuestions(ctx context.Context, questions []domain.Question) error {
	seen := make(map[int]struct{}, len(questions))
	for _, q := range questions {
		if err := q.Validate(); err != nil {
			return err
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate id %d", domain.ErrInvalidQuestion, q.ID)
		}
		seen[q.ID] = struct{}{}
	}
	ordered := make([]domain.Question, len(questions))
	copy(ordered, questions)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	return s.store.ReplaceQuestions(ctx, ordered)
}

// PublishQuestionSet loads a durably stored set and replaces the live
// questions with it.
func (s *AdminService) PublishQuestionSet(ctx context.Context, setID string) ([]domain.Question, error) {
	set, err := s.sets.GetQuestionSet(ctx, setID)
	if err != nil {
		return nil, err
	}
	if err := s.ReplaceQuestions(ctx, set.Questions); err != nil {
		return nil, err
	}
	return set.Questions, nil
}

// ResetQuestions deletes the whole live question list.
func (s *AdminService) ResetQuestions(ctx context.Context) error {
	return s.store.ReplaceQuestions(ctx, nil)
}

// ResetAnswers deletes every submitted answer.
func (s *AdminService) ResetAnswers(ctx context.Context) error {
	return s.store.ClearAnswers(ctx)
}

// ResetRatings deletes every rating.
func (s *AdminService) ResetRatings(ctx context.Context) error {
	return s.store.ClearRatings(ctx)
}

// ResetCountdown removes the countdown record; every subscribed participant
// view falls back to "not accepting answers" on the next push.
func (s *AdminService) ResetCountdown(ctx context.Context) error {
	return s.store.ClearCountdown(ctx)
}
