package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"liveguess-service/internal/app"
	"liveguess-service/internal/domain"
	pgloader "liveguess-service/internal/infra/postgres"
	pgmigrations "liveguess-service/internal/infra/postgres/migrations"
	infraredis "liveguess-service/internal/infra/redis"
)

func TestQuizRoundEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestionSet(t, ctx, pgURL, sampleQuestionSet())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()
	loader := pgloader.NewQuestionSetLoader(pool)

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := infraredis.NewStore(redisClient)
	sets := infraredis.NewQuestionSetRepository(redisClient, loader, 5*time.Minute)
	admin := app.NewAdminService(store, sets)
	answers := app.NewAnswerService(store)

	published, err := admin.PublishQuestionSet(ctx, "friday")
	if err != nil {
		t.Fatalf("publish question set: %v", err)
	}
	if len(published) != 2 {
		t.Fatalf("expected 2 questions published, got %+v", published)
	}
	live, err := store.Questions(ctx)
	if err != nil {
		t.Fatalf("questions: %v", err)
	}
	if len(live) != 2 || live[0].ID != 1 {
		t.Fatalf("expected live questions in order, got %+v", live)
	}

	// Open the first question; the countdown start comes from the Redis
	// server clock.
	cdCh, cancelCd, err := store.WatchCountdown(ctx)
	if err != nil {
		t.Fatalf("watch countdown: %v", err)
	}
	defer cancelCd()
	if got := nextValue(t, cdCh); got != nil {
		t.Fatalf("expected no countdown yet, got %+v", got)
	}
	if err := store.PublishCountdown(ctx, live[0].Meta()); err != nil {
		t.Fatalf("publish countdown: %v", err)
	}
	cd := nextValue(t, cdCh)
	if cd == nil || cd.Question.ID != 1 || cd.StartAt == 0 {
		t.Fatalf("expected stamped countdown, got %+v", cd)
	}

	// Two participants answer; one resubmits.
	if _, err := answers.Submit(ctx, "alice", live[0].Meta(), 300); err != nil {
		t.Fatalf("alice submit: %v", err)
	}
	if _, err := answers.Submit(ctx, "bob", live[0].Meta(), 320); err != nil {
		t.Fatalf("bob submit: %v", err)
	}
	if _, err := answers.Submit(ctx, "alice", live[0].Meta(), 324); err != nil {
		t.Fatalf("alice resubmit: %v", err)
	}
	byQuestion, err := store.AnswersByQuestion(ctx, 1)
	if err != nil {
		t.Fatalf("answers: %v", err)
	}
	if len(byQuestion) != 2 {
		t.Fatalf("expected one record per user, got %+v", byQuestion)
	}
	for _, a := range byQuestion {
		if a.UserID == "alice" && a.Value != 324 {
			t.Fatalf("expected alice's resubmission to win, got %+v", a)
		}
	}

	// The external scorer writes ratings; alice sees hers pushed.
	ratingCh, cancelRatings, err := store.WatchRatings(ctx, "alice")
	if err != nil {
		t.Fatalf("watch ratings: %v", err)
	}
	defer cancelRatings()
	if got := nextValue(t, ratingCh); len(got) != 0 {
		t.Fatalf("expected no rating yet, got %+v", got)
	}
	if err := store.PutRating(ctx, domain.Rating{UserID: "alice", Score: 95, Rank: 1}); err != nil {
		t.Fatalf("put rating: %v", err)
	}
	ratings := nextValue(t, ratingCh)
	if len(ratings) != 1 || ratings[0].Rank != 1 {
		t.Fatalf("expected alice ranked first, got %+v", ratings)
	}

	// Reset between runs clears every subtree.
	if err := admin.ResetAnswers(ctx); err != nil {
		t.Fatalf("reset answers: %v", err)
	}
	if err := admin.ResetCountdown(ctx); err != nil {
		t.Fatalf("reset countdown: %v", err)
	}
	if left, _ := store.AnswersByQuestion(ctx, 1); len(left) != 0 {
		t.Fatalf("expected answers cleared, got %+v", left)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuestionSet(t *testing.T, ctx context.Context, dsn string, set domain.QuestionSet) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal question set: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO question_sets (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, set.ID, string(data)); err != nil {
		t.Fatalf("insert question set: %v", err)
	}
}

func sampleQuestionSet() domain.QuestionSet {
	return domain.QuestionSet{
		ID: "friday",
		Questions: []domain.Question{
			{ID: 1, Text: "How tall is the Eiffel Tower?", Seconds: 30, Min: 0, Max: 1000, Step: 1, Unit: "m"},
			{ID: 2, Text: "How long is the Danube?", Seconds: 30, Min: 0, Max: 5000, Step: 10, Unit: "km"},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
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
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for value")
		var zero T
		return zero
	}
}
