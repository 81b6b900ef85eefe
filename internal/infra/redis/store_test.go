package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"liveguess-service/internal/domain"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewStore(client), mr
}

func TestReplaceQuestionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := testStore(t)

	in := []domain.Question{
		{ID: 2, Text: "b", Seconds: 45, Min: 0, Max: 100, Step: 5, Unit: "km"},
		{ID: 1, Text: "a", Seconds: 30, Min: 0, Max: 10, Step: 1},
	}
	if err := store.ReplaceQuestions(ctx, in); err != nil {
		t.Fatalf("replace: %v", err)
	}

	questions, err := store.Questions(ctx)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(questions) != 2 || questions[0].ID != 1 || questions[1].ID != 2 {
		t.Fatalf("expected both questions in id order, got %+v", questions)
	}
	if questions[0].Key == "" {
		t.Fatalf("expected generated record keys, got %+v", questions[0])
	}

	// Replace again with a shorter list; the old records are gone.
	if err := store.ReplaceQuestions(ctx, in[:1]); err != nil {
		t.Fatalf("second replace: %v", err)
	}
	questions, _ = store.Questions(ctx)
	if len(questions) != 1 || questions[0].ID != 2 {
		t.Fatalf("expected single remaining question, got %+v", questions)
	}
}

func TestQuestionsSkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	store, mr := testStore(t)

	if err := store.ReplaceQuestions(ctx, []domain.Question{
		{ID: 1, Text: "a", Seconds: 30, Min: 0, Max: 10, Step: 1},
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	mr.HSet(questionsKey, "bad-record", "{not json")
	mr.HSet(questionsKey, "bad-schema", `{"id":2,"text":"","seconds":30,"min":0,"max":10,"step":1}`)

	questions, err := store.Questions(ctx)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(questions) != 1 || questions[0].ID != 1 {
		t.Fatalf("expected malformed records skipped, got %+v", questions)
	}
}

func TestPublishCountdownStampsRedisServerTime(t *testing.T) {
	ctx := context.Background()
	store, mr := testStore(t)

	serverNow := time.Date(2024, 11, 22, 20, 0, 0, 0, time.UTC)
	mr.SetTime(serverNow)

	if err := store.PublishCountdown(ctx, domain.QuestionMeta{ID: 1, Seconds: 30, Min: 0, Max: 10, Step: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	cd, err := store.countdown(ctx)
	if err != nil {
		t.Fatalf("countdown: %v", err)
	}
	if cd == nil || cd.StartAt != serverNow.UnixMilli() {
		t.Fatalf("expected server-stamped start %d, got %+v", serverNow.UnixMilli(), cd)
	}
}

func TestWatchCountdownFollowsPublishAndClear(t *testing.T) {
	ctx := context.Background()
	store, _ := testStore(t)

	cdCh, cancel, err := store.WatchCountdown(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if got := nextValue(t, cdCh); got != nil {
		t.Fatalf("expected nil before publish, got %+v", got)
	}

	if err := store.PublishCountdown(ctx, domain.QuestionMeta{ID: 1, Seconds: 30, Min: 0, Max: 10, Step: 1}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got := nextValue(t, cdCh)
	if got == nil || got.Question.ID != 1 {
		t.Fatalf("expected published record, got %+v", got)
	}

	if err := store.ClearCountdown(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := nextValue(t, cdCh); got != nil {
		t.Fatalf("expected nil after clear, got %+v", got)
	}
}

func TestAnswerUpdateKeepsRecordIdentity(t *testing.T) {
	ctx := context.Background()
	store, _ := testStore(t)

	key, err := store.CreateAnswer(ctx, domain.Answer{UserID: "alice", QuestionID: 1, Value: 4})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpdateAnswerValue(ctx, key, 8); err != nil {
		t.Fatalf("update: %v", err)
	}

	answers, err := store.AnswersByUser(ctx, "alice")
	if err != nil {
		t.Fatalf("by user: %v", err)
	}
	if len(answers) != 1 || answers[0].Key != key || answers[0].Value != 8 {
		t.Fatalf("expected same record with value 8, got %+v", answers)
	}

	if err := store.UpdateAnswerValue(ctx, "no-such-key", 1); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestAnswerQueriesFilter(t *testing.T) {
	ctx := context.Background()
	store, _ := testStore(t)

	for _, a := range []domain.Answer{
		{UserID: "alice", QuestionID: 1, Value: 4},
		{UserID: "alice", QuestionID: 2, Value: 8},
		{UserID: "bob", QuestionID: 1, Value: 6},
	} {
		if _, err := store.CreateAnswer(ctx, a); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	byQuestion, err := store.AnswersByQuestion(ctx, 1)
	if err != nil {
		t.Fatalf("by question: %v", err)
	}
	if len(byQuestion) != 2 || byQuestion[0].UserID != "alice" || byQuestion[1].UserID != "bob" {
		t.Fatalf("expected question 1 answers by user, got %+v", byQuestion)
	}

	byUser, err := store.AnswersByUser(ctx, "bob")
	if err != nil {
		t.Fatalf("by user: %v", err)
	}
	if len(byUser) != 1 || byUser[0].QuestionID != 1 {
		t.Fatalf("expected bob's single answer, got %+v", byUser)
	}
}

func TestWatchUserAnswersScopedToUser(t *testing.T) {
	ctx := context.Background()
	store, _ := testStore(t)

	answers, cancel, err := store.WatchUserAnswers(ctx, "alice")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if got := nextValue(t, answers); len(got) != 0 {
		t.Fatalf("expected empty initial list, got %+v", got)
	}

	if _, err := store.CreateAnswer(ctx, domain.Answer{UserID: "bob", QuestionID: 1, Value: 6}); err != nil {
		t.Fatalf("create bob: %v", err)
	}
	if got := nextValue(t, answers); len(got) != 0 {
		t.Fatalf("bob's answer leaked onto alice's watch: %+v", got)
	}

	if _, err := store.CreateAnswer(ctx, domain.Answer{UserID: "alice", QuestionID: 1, Value: 4}); err != nil {
		t.Fatalf("create alice: %v", err)
	}
	got := nextValue(t, answers)
	if len(got) != 1 || got[0].UserID != "alice" {
		t.Fatalf("expected alice's answer, got %+v", got)
	}
}

func TestRatingsScopedAndClearable(t *testing.T) {
	ctx := context.Background()
	store, _ := testStore(t)

	if err := store.PutRating(ctx, domain.Rating{UserID: "alice", Score: 90, Rank: 1}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.PutRating(ctx, domain.Rating{UserID: "bob", Score: 80, Rank: 2}); err != nil {
		t.Fatalf("put: %v", err)
	}

	ratings, cancel, err := store.WatchRatings(ctx, "alice")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()
	got := nextValue(t, ratings)
	if len(got) != 1 || got[0].Rank != 1 {
		t.Fatalf("expected alice's rating only, got %+v", got)
	}

	if err := store.ClearRatings(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if got := nextValue(t, ratings); len(got) != 0 {
		t.Fatalf("expected empty after clear, got %+v", got)
	}
}

func TestWatchClockOffsetSamplesServerMinusLocal(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	serverNow := time.Date(2024, 11, 22, 20, 0, 0, 0, time.UTC)
	mr.SetTime(serverNow)
	// Local clock runs 5s behind the server.
	fc := clockwork.NewFakeClockAt(serverNow.Add(-5 * time.Second))
	store := NewStoreWithClock(client, fc, time.Minute)

	offsets, cancel, err := store.WatchClockOffset(ctx)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	got := nextValue(t, offsets)
	if got != 5*time.Second {
		t.Fatalf("expected 5s offset, got %v", got)
	}
}

func nextValue[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for value")
		var zero T
		return zero
	}
}
