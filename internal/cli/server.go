package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"trivia-session-service/internal/app"
	"trivia-session-service/internal/config"
	"trivia-session-service/internal/domain"
	"trivia-session-service/internal/infra/memory"
	"trivia-session-service/internal/infra/postgres"
	redisstore "trivia-session-service/internal/infra/redis"
	transport "trivia-session-service/internal/transport/http"
)

// newStartCmd builds the CLI subcommand to start the server.
func newStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the trivia session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, opts.port, logger)
		},
	}
}

func runServer(ctx context.Context, cfg config.Config, portFlag string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, logger); err != nil {
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
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var loader memory.QuestionLoader
	var recorder app.ResultRecorder = memory.NewResultsStore()
	if cfg.Postgres.URL != "" {
		pool, err := postgres.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewQuestionLoader(pool)

		db := postgres.OpenDB(cfg.Postgres.URL)
		defer db.Close()
		recorder = postgres.NewResultsStore(db)
	} else {
		bank, err := questionBank(cfg.Questions.BankFile)
		if err != nil {
			return err
		}
		loader = memory.NewStaticQuestionLoader(bank)
	}

	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionSource
	var registry app.SessionRegistry
	if redisClient != nil {
		questions = redisstore.NewQuestionRepository(redisClient, loader, questionTTL)
		registry = redisstore.NewSessionStore(redisClient, redisTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
		registry = memory.NewSessionStore()
	}

	hub := transport.NewHub(logger)
	ctrl := app.NewController(registry, questions, hub, recorder, app.ControllerConfig{
		Settings: cfg.Settings(),
		DefaultFilter: domain.QuestionFilter{
			Difficulty: cfg.Questions.Difficulty,
			Category:   cfg.Questions.Category,
		},
		QuestionCount: cfg.QuestionCount(),
		FinishedTTL:   config.TTLDuration(cfg.Session.FinishedTTL, 10*time.Minute),
		Logger:        logger,
	})
	defer ctrl.Close()

	server := &http.Server{
		Addr: ":" + finalPort,
		Handler: transport.NewRouter(ctrl, hub, transport.RouterConfig{
			PublicURL: cfg.Server.PublicURL,
			Logger:    logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting trivia session service", "addr", server.Addr, "redis", redisClient != nil, "postgres", cfg.Postgres.URL != "")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ctrl.RunReaper(gctx, config.TTLDuration(cfg.Session.ReapInterval, time.Minute))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// questionBank reads the YAML bank at path, or returns the built-in bank when path is empty.
func questionBank(path string) ([]domain.Question, error) {
	if path == "" {
		return memory.DefaultBank(), nil
	}
	return memory.LoadQuestionBankFile(path)
}
