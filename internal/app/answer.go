package app

import (
	"context"
	"fmt"
	"sync"

	"liveguess-service/internal/domain"
)

// AnswerService enforces the one-answer-per-user-per-question discipline.
// The store itself has no uniqueness constraint; the service looks up the
// existing record before deciding between create and in-place update.
type AnswerService struct {
	store AnswerStore
}

func NewAnswerService(store AnswerStore) *AnswerService {
	return &AnswerService{store: store}
}

// Submit validates and upserts a participant's answer for a question.
// Validation failures reject locally; nothing invalid ever reaches the store.
// A resubmission updates only the answer field of the existing record, so its
// identity (key) is preserved rather than delete-and-recreate.
func (s *AnswerService) Submit(ctx context.Context, userID string, question domain.QuestionMeta, value float64) (domain.Answer, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return domain.Answer{}, err
	}
	if err := question.CheckValue(value); err != nil {
		return domain.Answer{}, err
	}

	existing, err := s.lookup(ctx, userID, question.ID)
	if err != nil {
		return domain.Answer{}, err
	}
	if existing == nil {
		answer := domain.Answer{UserID: userID, QuestionID: question.ID, Value: value}
		key, err := s.store.CreateAnswer(ctx, answer)
		if err != nil {
			return domain.Answer{}, fmt.Errorf("create answer: %w", err)
		}
		answer.Key = key
		return answer, nil
	}

	if err := s.store.UpdateAnswerValue(ctx, existing.Key, value); err != nil {
		return domain.Answer{}, fmt.Errorf("update answer: %w", err)
	}
	existing.Value = value
	return *existing, nil
}

// Current returns the user's stored answer for a question, nil when absent.
func (s *AnswerService) Current(ctx context.Context, userID string, questionID int) (*domain.Answer, error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, err
	}
	return s.lookup(ctx, userID, questionID)
}

// lookup finds the user's answer for the question, nil when absent.
func (s *AnswerService) lookup(ctx context.Context, userID string, questionID int) (*domain.Answer, error) {
	answers, err := s.store.AnswersByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup answer: %w", err)
	}
	for i := range answers {
		if answers[i].QuestionID == questionID {
			return &answers[i], nil
		}
	}
	return nil, nil
}

// Watch streams the user's answer for one question: nil until one exists,
// then the current record after every remote change. Cancel releases the
// underlying store subscription.
func (s *AnswerService) Watch(ctx context.Context, userID string, questionID int) (<-chan *domain.Answer, func(), error) {
	if err := domain.ValidateUserID(userID); err != nil {
		return nil, nil, err
	}
	in, inCancel, err := s.store.WatchUserAnswers(ctx, userID)
	if err != nil {
		return nil, nil, err
	}

	out := make(chan *domain.Answer, 8)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(stop) })
		inCancel()
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case answers, ok := <-in:
				if !ok {
					return
				}
				var match *domain.Answer
				for i := range answers {
					if answers[i].QuestionID == questionID {
						match = &answers[i]
						break
					}
				}
				select {
				case out <- match:
				case <-stop:
					return
				}
			}
		}
	}()
	return out, cancel, nil
}
