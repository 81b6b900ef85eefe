package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"liveguess-service/internal/domain"
)

const (
	questionsKey = "quiz:questions"
	answersKey   = "quiz:answers"
	ratingsKey   = "quiz:ratings"
	countdownKey = "quiz:countdown"

	questionsChannel = "quiz:changed:questions"
	answersChannel   = "quiz:changed:answers"
	ratingsChannel   = "quiz:changed:ratings"
	countdownChannel = "quiz:changed:countdown"
)

// DefaultOffsetSampleInterval is how often the server-minus-local clock
// offset is re-sampled for each offset subscriber.
const DefaultOffsetSampleInterval = 10 * time.Second

// Store implements app.RealtimeStore on Redis. Records live in hashes keyed
// by generated IDs (the countdown is a single string key); change fan-out
// rides pub/sub channels, one per collection; timestamps come from the Redis
// server clock via TIME so client clock skew never reaches stored data.
type Store struct {
	client         *redis.Client
	clock          clockwork.Clock
	sampleInterval time.Duration
}

func NewStore(client *redis.Client) *Store {
	return NewStoreWithClock(client, clockwork.NewRealClock(), DefaultOffsetSampleInterval)
}

// NewStoreWithClock allows a fake local clock and sampling interval in tests.
func NewStoreWithClock(client *redis.Client, clock clockwork.Clock, sampleInterval time.Duration) *Store {
	return &Store{client: client, clock: clock, sampleInterval: sampleInterval}
}

// ReplaceQuestions swaps the whole list in one MULTI/EXEC so readers never
// observe the empty window between delete and re-insert.
func (s *Store) ReplaceQuestions(ctx context.Context, questions []domain.Question) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, questionsKey)
	for _, q := range questions {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("marshal question %d: %w", q.ID, err)
		}
		pipe.HSet(ctx, questionsKey, uuid.NewString(), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("replace questions: %w", err)
	}
	return s.notify(ctx, questionsChannel)
}

func (s *Store) Questions(ctx context.Context) ([]domain.Question, error) {
	raw, err := s.client.HGetAll(ctx, questionsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	questions := make([]domain.Question, 0, len(raw))
	for key, data := range raw {
		var q domain.Question
		if err := json.Unmarshal([]byte(data), &q); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping malformed question record")
			continue
		}
		if err := q.Validate(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping malformed question record")
			continue
		}
		q.Key = key
		questions = append(questions, q)
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })
	return questions, nil
}

func (s *Store) WatchQuestions(ctx context.Context) (<-chan []domain.Question, func(), error) {
	return watch(ctx, s.client, questionsChannel, s.Questions)
}

// PublishCountdown stamps StartAt with the Redis server clock, then replaces
// the singleton record wholesale.
func (s *Store) PublishCountdown(ctx context.Context, question domain.QuestionMeta) error {
	serverNow, err := s.client.Time(ctx).Result()
	if err != nil {
		return fmt.Errorf("server time: %w", err)
	}
	cd := domain.Countdown{Question: question, StartAt: serverNow.UnixMilli()}
	data, err := json.Marshal(cd)
	if err != nil {
		return fmt.Errorf("marshal countdown: %w", err)
	}
	if err := s.client.Set(ctx, countdownKey, data, 0).Err(); err != nil {
		return fmt.Errorf("publish countdown: %w", err)
	}
	return s.notify(ctx, countdownChannel)
}

func (s *Store) ClearCountdown(ctx context.Context) error {
	if err := s.client.Del(ctx, countdownKey).Err(); err != nil {
		return fmt.Errorf("clear countdown: %w", err)
	}
	return s.notify(ctx, countdownChannel)
}

func (s *Store) countdown(ctx context.Context) (*domain.Countdown, error) {
	data, err := s.client.Get(ctx, countdownKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load countdown: %w", err)
	}
	var cd domain.Countdown
	if err := json.Unmarshal([]byte(data), &cd); err != nil {
		return nil, fmt.Errorf("%w: countdown: %v", domain.ErrMalformedRecord, err)
	}
	return &cd, nil
}

func (s *Store) WatchCountdown(ctx context.Context) (<-chan *domain.Countdown, func(), error) {
	return watch(ctx, s.client, countdownChannel, s.countdown)
}

func (s *Store) CreateAnswer(ctx context.Context, answer domain.Answer) (string, error) {
	data, err := json.Marshal(answer)
	if err != nil {
		return "", fmt.Errorf("marshal answer: %w", err)
	}
	key := uuid.NewString()
	if err := s.client.HSet(ctx, answersKey, key, data).Err(); err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	return key, s.notify(ctx, answersChannel)
}

// UpdateAnswerValue rewrites only the answer field of an existing record.
func (s *Store) UpdateAnswerValue(ctx context.Context, key string, value float64) error {
	data, err := s.client.HGet(ctx, answersKey, key).Result()
	if err == redis.Nil {
		return fmt.Errorf("answer %q not found", key)
	}
	if err != nil {
		return fmt.Errorf("load answer: %w", err)
	}
	var answer domain.Answer
	if err := json.Unmarshal([]byte(data), &answer); err != nil {
		return fmt.Errorf("%w: answer %q: %v", domain.ErrMalformedRecord, key, err)
	}
	answer.Value = value
	updated, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	if err := s.client.HSet(ctx, answersKey, key, updated).Err(); err != nil {
		return fmt.Errorf("update answer: %w", err)
	}
	return s.notify(ctx, answersChannel)
}

func (s *Store) AnswersByQuestion(ctx context.Context, questionID int) ([]domain.Answer, error) {
	all, err := s.answers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Answer, 0)
	for _, a := range all {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) AnswersByUser(ctx context.Context, userID string) ([]domain.Answer, error) {
	all, err := s.answers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Answer, 0)
	for _, a := range all {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (s *Store) answers(ctx context.Context) ([]domain.Answer, error) {
	raw, err := s.client.HGetAll(ctx, answersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	answers := make([]domain.Answer, 0, len(raw))
	for key, data := range raw {
		var a domain.Answer
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping malformed answer record")
			continue
		}
		a.Key = key
		answers = append(answers, a)
	}
	return answers, nil
}

func (s *Store) WatchUserAnswers(ctx context.Context, userID string) (<-chan []domain.Answer, func(), error) {
	return watch(ctx, s.client, answersChannel, func(ctx context.Context) ([]domain.Answer, error) {
		return s.AnswersByUser(ctx, userID)
	})
}

func (s *Store) ClearAnswers(ctx context.Context) error {
	if err := s.client.Del(ctx, answersKey).Err(); err != nil {
		return fmt.Errorf("clear answers: %w", err)
	}
	return s.notify(ctx, answersChannel)
}

// PutRating is the external scorer's write path: one rating per user,
// replaced by key when it already exists.
func (s *Store) PutRating(ctx context.Context, rating domain.Rating) error {
	key := rating.Key
	if key == "" {
		key = uuid.NewString()
	}
	data, err := json.Marshal(rating)
	if err != nil {
		return fmt.Errorf("marshal rating: %w", err)
	}
	if err := s.client.HSet(ctx, ratingsKey, key, data).Err(); err != nil {
		return fmt.Errorf("put rating: %w", err)
	}
	return s.notify(ctx, ratingsChannel)
}

func (s *Store) WatchRatings(ctx context.Context, userID string) (<-chan []domain.Rating, func(), error) {
	return watch(ctx, s.client, ratingsChannel, func(ctx context.Context) ([]domain.Rating, error) {
		return s.ratingsByUser(ctx, userID)
	})
}

func (s *Store) ClearRatings(ctx context.Context) error {
	if err := s.client.Del(ctx, ratingsKey).Err(); err != nil {
		return fmt.Errorf("clear ratings: %w", err)
	}
	return s.notify(ctx, ratingsChannel)
}

func (s *Store) ratingsByUser(ctx context.Context, userID string) ([]domain.Rating, error) {
	raw, err := s.client.HGetAll(ctx, ratingsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load ratings: %w", err)
	}
	ratings := make([]domain.Rating, 0)
	for key, data := range raw {
		var r domain.Rating
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping malformed rating record")
			continue
		}
		if r.UserID != userID {
			continue
		}
		r.Key = key
		ratings = append(ratings, r)
	}
	sort.Slice(ratings, func(i, j int) bool { return ratings[i].Key < ratings[j].Key })
	return ratings, nil
}

// WatchClockOffset samples server-minus-local continuously on its own ticker;
// each subscriber gets an immediate sample, then a fresh one per interval.
func (s *Store) WatchClockOffset(ctx context.Context) (<-chan time.Duration, func(), error) {
	ch := make(chan time.Duration, 8)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	go func() {
		defer close(ch)
		sample := func() {
			serverNow, err := s.client.Time(ctx).Result()
			if err != nil {
				log.Warn().Err(err).Msg("clock offset sample failed")
				return
			}
			sendLatest(ch, serverNow.Sub(s.clock.Now()))
		}
		sample()
		ticker := s.clock.NewTicker(s.sampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				sample()
			}
		}
	}()
	return ch, cancel, nil
}

// notify signals a collection change; subscribers re-read on receipt.
func (s *Store) notify(ctx context.Context, channel string) error {
	if err := s.client.Publish(ctx, channel, "1").Err(); err != nil {
		return fmt.Errorf("notify %s: %w", channel, err)
	}
	return nil
}

// watch subscribes to a change channel and re-loads a snapshot per
// notification, pushing the current value first. Cancel closes the pub/sub
// connection and is safe to call repeatedly.
func watch[T any](ctx context.Context, client *redis.Client, channel string, load func(context.Context) (T, error)) (<-chan T, func(), error) {
	pubsub := client.Subscribe(ctx, channel)
	// Wait for the subscription ack so no change between the initial load
	// and the first notification is lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := make(chan T, 8)
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(ch)
		if v, err := load(ctx); err == nil {
			sendLatest(ch, v)
		} else {
			log.Warn().Err(err).Str("channel", channel).Msg("initial snapshot load failed")
		}
		msgs := pubsub.Channel()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				v, err := load(ctx)
				if err != nil {
					log.Warn().Err(err).Str("channel", channel).Msg("snapshot reload failed")
					continue
				}
				sendLatest(ch, v)
			}
		}
	}()
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
