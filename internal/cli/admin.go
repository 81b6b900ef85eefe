package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"liveguess-service/internal/app"
	"liveguess-service/internal/config"
	"liveguess-service/internal/infra/memory"
	pgloader "liveguess-service/internal/infra/postgres"
	redisstore "liveguess-service/internal/infra/redis"
)

// NewQuestionsCmd publishes a stored question set into the live store,
// replacing the current list wholesale.
func NewQuestionsCmd(configPath *string) *cobra.Command {
	var setID string
	cmd := &cobra.Command{
		Use:   "publish-questions",
		Short: "Replace the live question list with a stored set",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, cleanup, err := adminFromConfig(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			questions, err := admin.PublishQuestionSet(cmd.Context(), setID)
			if err != nil {
				return err
			}
			log.Info().Str("set", setID).Int("questions", len(questions)).Msg("question set published")
			return nil
		},
	}
	cmd.Flags().StringVar(&setID, "set", "demo", "question set id to publish")
	return cmd
}

// NewResetCmd wipes a whole collection between quiz runs.
func NewResetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:       "reset [questions|answers|ratings|countdown]",
		Short:     "Delete a whole collection from the live store",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"questions", "answers", "ratings", "countdown"},
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, cleanup, err := adminFromConfig(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer cleanup()
			switch args[0] {
			case "questions":
				err = admin.ResetQuestions(cmd.Context())
			case "answers":
				err = admin.ResetAnswers(cmd.Context())
			case "ratings":
				err = admin.ResetRatings(cmd.Context())
			case "countdown":
				err = admin.ResetCountdown(cmd.Context())
			}
			if err != nil {
				return err
			}
			log.Info().Str("collection", args[0]).Msg("collection reset")
			return nil
		},
	}
}

// adminFromConfig builds an AdminService against the shared Redis store.
// Admin commands act on live data other clients are watching, so there is no
// in-memory fallback here.
func adminFromConfig(ctx context.Context, configPath string) (*app.AdminService, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Redis.Addr == "" {
		return nil, nil, fmt.Errorf("redis addr not configured")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	store := redisstore.NewStore(redisClient)

	cleanup := func() { _ = redisClient.Close() }

	var loader memory.QuestionSetLoader = memory.NewStaticQuestionSetLoader(sampleQuestionSets())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		loader = pgloader.NewQuestionSetLoader(pool)
		cleanup = func() {
			pool.Close()
			_ = redisClient.Close()
		}
	}

	setTTL := config.Duration(cfg.Quiz.SetTTL, 0)
	sets := redisstore.NewQuestionSetRepository(redisClient, loader, setTTL)
	return app.NewAdminService(store, sets), cleanup, nil
}
