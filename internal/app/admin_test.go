package app_test

import (
	"context"
	"errors"
	"testing"

	"liveguess-service/internal/app"
	"liveguess-service/internal/domain"
	"liveguess-service/internal/infra/memory"
)

type fixedSets map[string]domain.QuestionSet

func (f fixedSets) GetQuestionSet(_ context.Context, setID string) (domain.QuestionSet, error) {
	set, ok := f[setID]
	if !ok {
		return domain.QuestionSet{}, domain.ErrQuestionSetNotFound
	}
	return set, nil
}

func TestReplaceQuestionsSortsAndRejectsAtomically(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	admin := app.NewAdminService(store, fixedSets{})

	unordered := []domain.Question{
		{ID: 3, Text: "c", Seconds: 30, Min: 0, Max: 10, Step: 1},
		{ID: 1, Text: "a", Seconds: 30, Min: 0, Max: 10, Step: 1},
		{ID: 2, Text: "b", Seconds: 30, Min: 0, Max: 10, Step: 1},
	}
	if err := admin.ReplaceQuestions(ctx, unordered); err != nil {
		t.Fatalf("replace: %v", err)
	}
	questions, err := store.Questions(ctx)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	for i, q := range questions {
		if q.ID != i+1 {
			t.Fatalf("expected ascending ids, got %+v", questions)
		}
	}

	// One bad question rejects the whole batch; the live list is untouched.
	bad := []domain.Question{
		{ID: 4, Text: "d", Seconds: 30, Min: 0, Max: 10, Step: 1},
		{ID: 5, Text: "", Seconds: 30, Min: 0, Max: 10, Step: 1},
	}
	if err := admin.ReplaceQuestions(ctx, bad); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected invalid question, got %v", err)
	}
	questions, _ = store.Questions(ctx)
	if len(questions) != 3 {
		t.Fatalf("failed batch must not touch live questions, got %+v", questions)
	}

	dup := []domain.Question{
		{ID: 4, Text: "d", Seconds: 30, Min: 0, Max: 10, Step: 1},
		{ID: 4, Text: "d again", Seconds: 30, Min: 0, Max: 10, Step: 1},
	}
	if err := admin.ReplaceQuestions(ctx, dup); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("expected duplicate id rejection, got %v", err)
	}
}

func TestPublishQuestionSet(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	sets := fixedSets{
		"1": {ID: "1", Questions: []domain.Question{
			{ID: 1, Text: "a", Seconds: 30, Min: 0, Max: 10, Step: 1},
			{ID: 2, Text: "b", Seconds: 45, Min: 0, Max: 10, Step: 1},
		}},
	}
	admin := app.NewAdminService(store, sets)

	published, err := admin.PublishQuestionSet(ctx, "1")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(published) != 2 {
		t.Fatalf("expected 2 published questions, got %+v", published)
	}
	questions, _ := store.Questions(ctx)
	if len(questions) != 2 {
		t.Fatalf("expected live questions replaced, got %+v", questions)
	}

	if _, err := admin.PublishQuestionSet(ctx, "missing"); !errors.Is(err, domain.ErrQuestionSetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResetsClearEachSubtree(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	admin := app.NewAdminService(store, fixedSets{})

	seedQuestions(t, store)
	if _, err := store.CreateAnswer(ctx, domain.Answer{UserID: "alice", QuestionID: 1, Value: 4}); err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err := store.PutRating(ctx, domain.Rating{UserID: "alice", Score: 90, Rank: 1}); err != nil {
		t.Fatalf("put rating: %v", err)
	}
	if err := store.PublishCountdown(ctx, domain.QuestionMeta{ID: 1, Seconds: 30, Min: 0, Max: 10, Step: 1}); err != nil {
		t.Fatalf("publish countdown: %v", err)
	}

	if err := admin.ResetAnswers(ctx); err != nil {
		t.Fatalf("reset answers: %v", err)
	}
	if answers, _ := store.AnswersByQuestion(ctx, 1); len(answers) != 0 {
		t.Fatalf("expected answers cleared, got %+v", answers)
	}

	if err := admin.ResetRatings(ctx); err != nil {
		t.Fatalf("reset ratings: %v", err)
	}
	ratings, cancel, err := store.WatchRatings(ctx, "alice")
	if err != nil {
		t.Fatalf("watch ratings: %v", err)
	}
	if got := <-ratings; len(got) != 0 {
		t.Fatalf("expected ratings cleared, got %+v", got)
	}
	cancel()

	if err := admin.ResetCountdown(ctx); err != nil {
		t.Fatalf("reset countdown: %v", err)
	}
	cdCh, cancelCd, err := store.WatchCountdown(ctx)
	if err != nil {
		t.Fatalf("watch countdown: %v", err)
	}
	if got := <-cdCh; got != nil {
		t.Fatalf("expected countdown cleared, got %+v", got)
	}
	cancelCd()

	if err := admin.ResetQuestions(ctx); err != nil {
		t.Fatalf("reset questions: %v", err)
	}
	if questions, _ := store.Questions(ctx); len(questions) != 0 {
		t.Fatalf("expected questions cleared, got %+v", questions)
	}
}
