package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"liveguess-service/internal/domain"
)

// Store is an in-memory implementation of app.RealtimeStore with push
// semantics: every watch channel receives the current value on subscribe and
// a fresh snapshot after each mutation. It backs tests and the single-node
// demo mode; the Redis store is the distributed twin.
type Store struct {
	clock clockwork.Clock

	mu        sync.RWMutex
	skew      time.Duration
	questions []domain.Question
	countdown *domain.Countdown
	answers   []domain.Answer
	ratings   []domain.Rating

	questionSubs  map[chan []domain.Question]struct{}
	countdownSubs map[chan *domain.Countdown]struct{}
	answerSubs    map[chan []domain.Answer]string
	ratingSubs    map[chan []domain.Rating]string
	offsetSubs    map[chan time.Duration]struct{}
}

func NewStore() *Store {
	return NewStoreWithClock(clockwork.NewRealClock())
}

// NewStoreWithClock allows deterministic timestamps in tests.
func NewStoreWithClock(clock clockwork.Clock) *Store {
	return &Store{
		clock:         clock,
		questionSubs:  make(map[chan []domain.Question]struct{}),
		countdownSubs: make(map[chan *domain.Countdown]struct{}),
		answerSubs:    make(map[chan []domain.Answer]string),
		ratingSubs:    make(map[chan []domain.Rating]string),
		offsetSubs:    make(map[chan time.Duration]struct{}),
	}
}

// SetClockSkew sets the simulated server-minus-local offset and pushes it to
// every offset subscriber. Server timestamps are stamped with the skew applied.
func (s *Store) SetClockSkew(skew time.Duration) {
	s.mu.Lock()
	s.skew = skew
	for ch := range s.offsetSubs {
		sendLatest(ch, skew)
	}
	s.mu.Unlock()
}

func (s *Store) serverNowLocked() time.Time {
	return s.clock.Now().Add(s.skew)
}

// ReplaceQuestions deletes the list wholesale and re-inserts in the given
// order, assigning a generated key per record.
func (s *Store) ReplaceQuestions(_ context.Context, questions []domain.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.questions = make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		q.Key = uuid.NewString()
		s.questions = append(s.questions, q)
	}
	for ch := range s.questionSubs {
		sendLatest(ch, s.questionsLocked())
	}
	return nil
}

func (s *Store) Questions(_ context.Context) ([]domain.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questionsLocked(), nil
}

func (s *Store) questionsLocked() []domain.Question {
	out := make([]domain.Question, len(s.questions))
	copy(out, s.questions)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) WatchQuestions(_ context.Context) (<-chan []domain.Question, func(), error) {
	ch := make(chan []domain.Question, 8)
	s.mu.Lock()
	s.questionSubs[ch] = struct{}{}
	initial := s.questionsLocked()
	s.mu.Unlock()
	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.questionSubs[ch]; ok {
			delete(s.questionSubs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

// PublishCountdown replaces the singleton record, stamping StartAt with the
// simulated server clock at write time.
func (s *Store) PublishCountdown(_ context.Context, question domain.QuestionMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countdown = &domain.Countdown{
		Question: question,
		StartAt:  s.serverNowLocked().UnixMilli(),
	}
	s.broadcastCountdownLocked()
	return nil
}

func (s *Store) ClearCountdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countdown = nil
	s.broadcastCountdownLocked()
	return nil
}

func (s *Store) broadcastCountdownLocked() {
	for ch := range s.countdownSubs {
		sendLatest(ch, s.countdownCopyLocked())
	}
}

func (s *Store) countdownCopyLocked() *domain.Countdown {
	if s.countdown == nil {
		return nil
	}
	cd := *s.countdown
	return &cd
}

func (s *Store) WatchCountdown(_ context.Context) (<-chan *domain.Countdown, func(), error) {
	ch := make(chan *domain.Countdown, 8)
	s.mu.Lock()
	s.countdownSubs[ch] = struct{}{}
	initial := s.countdownCopyLocked()
	s.mu.Unlock()
	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.countdownSubs[ch]; ok {
			delete(s.countdownSubs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

func (s *Store) CreateAnswer(_ context.Context, answer domain.Answer) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	answer.Key = uuid.NewString()
	s.answers = append(s.answers, answer)
	s.broadcastAnswersLocked()
	return answer.Key, nil
}

// UpdateAnswerValue is a partial-field update: only the answer value changes,
// the record keeps its key and identity.
func (s *Store) UpdateAnswerValue(_ context.Context, key string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.answers {
		if s.answers[i].Key == key {
			s.answers[i].Value = value
			s.broadcastAnswersLocked()
			return nil
		}
	}
	return fmt.Errorf("answer %q not found", key)
}

func (s *Store) AnswersByQuestion(_ context.Context, questionID int) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Answer, 0)
	for _, a := range s.answers {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) AnswersByUser(_ context.Context, userID string) ([]domain.Answer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answersByUserLocked(userID), nil
}

func (s *Store) answersByUserLocked(userID string) []domain.Answer {
	out := make([]domain.Answer, 0)
	for _, a := range s.answers {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

func (s *Store) WatchUserAnswers(_ context.Context, userID string) (<-chan []domain.Answer, func(), error) {
	ch := make(chan []domain.Answer, 8)
	s.mu.Lock()
	s.answerSubs[ch] = userID
	initial := s.answersByUserLocked(userID)
	s.mu.Unlock()
	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.answerSubs[ch]; ok {
			delete(s.answerSubs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

func (s *Store) ClearAnswers(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = nil
	s.broadcastAnswersLocked()
	return nil
}

func (s *Store) broadcastAnswersLocked() {
	for ch, userID := range s.answerSubs {
		sendLatest(ch, s.answersByUserLocked(userID))
	}
}

// PutRating is the external scorer's door: upsert one rating per user.
func (s *Store) PutRating(_ context.Context, rating domain.Rating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	replaced := false
	for i := range s.ratings {
		if s.ratings[i].Key != "" && s.ratings[i].Key == rating.Key {
			s.ratings[i] = rating
			replaced = true
			break
		}
	}
	if !replaced {
		rating.Key = uuid.NewString()
		s.ratings = append(s.ratings, rating)
	}
	s.broadcastRatingsLocked()
	return nil
}

func (s *Store) WatchRatings(_ context.Context, userID string) (<-chan []domain.Rating, func(), error) {
	ch := make(chan []domain.Rating, 8)
	s.mu.Lock()
	s.ratingSubs[ch] = userID
	initial := s.ratingsByUserLocked(userID)
	s.mu.Unlock()
	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.ratingSubs[ch]; ok {
			delete(s.ratingSubs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

func (s *Store) ClearRatings(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings = nil
	s.broadcastRatingsLocked()
	return nil
}

func (s *Store) ratingsByUserLocked(userID string) []domain.Rating {
	out := make([]domain.Rating, 0)
	for _, r := range s.ratings {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) broadcastRatingsLocked() {
	for ch, userID := range s.ratingSubs {
		sendLatest(ch, s.ratingsByUserLocked(userID))
	}
}

// WatchClockOffset emits the current simulated offset immediately and again
// whenever SetClockSkew changes it.
func (s *Store) WatchClockOffset(_ context.Context) (<-chan time.Duration, func(), error) {
	ch := make(chan time.Duration, 8)
	s.mu.Lock()
	s.offsetSubs[ch] = struct{}{}
	initial := s.skew
	s.mu.Unlock()
	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.offsetSubs[ch]; ok {
			delete(s.offsetSubs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel, nil
}

// sendLatest delivers without blocking: a full buffer drops the oldest
// snapshot so slow consumers always converge on the newest value.
func sendLatest[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}
