package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"liveguess-service/internal/app"
	"liveguess-service/internal/config"
	"liveguess-service/internal/domain"
	"liveguess-service/internal/infra/memory"
	pgloader "liveguess-service/internal/infra/postgres"
	redisstore "liveguess-service/internal/infra/redis"
	transport "liveguess-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var store app.RealtimeStore
	if redisClient != nil {
		store = redisstore.NewStoreWithClock(redisClient, clockwork.NewRealClock(), config.Duration(cfg.Quiz.OffsetSampleInterval, redisstore.DefaultOffsetSampleInterval))
	} else {
		store = memory.NewStore()
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionSetLoader = memory.NewStaticQuestionSetLoader(sampleQuestionSets())
	if pool != nil {
		loader = pgloader.NewQuestionSetLoader(pool)
	}

	setTTL := config.Duration(cfg.Quiz.SetTTL, 10*time.Minute)
	var sets app.QuestionSetRepository
	if redisClient != nil {
		sets = redisstore.NewQuestionSetRepository(redisClient, loader, setTTL)
	} else {
		sets = memory.NewQuestionSetRepository(loader, setTTL)
	}

	admin := app.NewAdminService(store, sets)
	if cfg.Quiz.QuestionSet != "" {
		if _, err := admin.PublishQuestionSet(ctx, cfg.Quiz.QuestionSet); err != nil {
			log.Warn().Err(err).Str("set", cfg.Quiz.QuestionSet).Msg("question set not published at startup")
		}
	}

	tracker := app.NewCountdownTracker(store)
	projector := app.NewProjector(store)
	answers := app.NewAnswerService(store)
	ratings := app.NewRatingService(store)

	wsHandler := transport.NewWSHandler(tracker, answers, ratings)
	projectorHandler := transport.NewProjectorHandler(projector, tracker)
	qrHandler := transport.NewQRHandler(cfg.Server.PublicURL)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/ws/projector", projectorHandler.ServeWS)
	mux.Handle("/checkin/qr", qrHandler)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", finalPort).Msg("starting quiz server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-stop:
			log.Info().Msg("shutting down server")
		case <-gctx.Done():
			log.Info().Msg("context canceled, shutting down server")
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sampleQuestionSets is the demo question bank used when Postgres is not
// configured.
func sampleQuestionSets() map[string]domain.QuestionSet {
	return map[string]domain.QuestionSet{
		"demo": {
			ID: "demo",
			Questions: []domain.Question{
				{ID: -1, Text: "How many legs does a spider have?", Seconds: 20, Min: 0, Max: 20, Step: 1, Unit: "legs"},
				{ID: 1, Text: "How tall is Mount Fuji?", Seconds: 30, Min: 0, Max: 5000, Step: 10, Unit: "m"},
				{ID: 2, Text: "How long is the Shinkansen route from Tokyo to Osaka?", Seconds: 30, Min: 0, Max: 1000, Step: 5, Unit: "km"},
			},
		},
	}
}
