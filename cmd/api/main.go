package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/ahsann455/recap-render-ai/internal/artifact"
	"github.com/ahsann455/recap-render-ai/internal/auth"
	"github.com/ahsann455/recap-render-ai/internal/avatar"
	"github.com/ahsann455/recap-render-ai/internal/config"
	"github.com/ahsann455/recap-render-ai/internal/execution"
	"github.com/ahsann455/recap-render-ai/internal/generation"
	"github.com/ahsann455/recap-render-ai/internal/httpx"
	"github.com/ahsann455/recap-render-ai/internal/ledger"
	"github.com/ahsann455/recap-render-ai/internal/llm"
	"github.com/ahsann455/recap-render-ai/internal/metrics"
	"github.com/ahsann455/recap-render-ai/internal/models"
	"github.com/ahsann455/recap-render-ai/internal/notify"
	"github.com/ahsann455/recap-render-ai/internal/payments"
	"github.com/ahsann455/recap-render-ai/internal/router"
	"github.com/ahsann455/recap-render-ai/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

// startFunc starts the generation workers and returns the matching stop.
type startFunc func(ctx context.Context, r execution.Runner) (func(context.Context), error)

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var (
		st           store.Store
		enqueuer     generation.Enqueuer
		startWorkers startFunc
	)

	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
			return err
		}
		slog.Info("Connected to PostgreSQL database successfully!")

		pg := store.NewPostgres(pool)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			return err
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			return err
		}
		slog.Info("Migrations applied")

		// The insert func is set once the River client exists; the client's
		// workers need the generation service, which needs the enqueuer.
		var insertMu sync.Mutex
		var insertFn execution.InsertTxFunc
		enqueuer = execution.NewRiverEnqueuer(func(ctx context.Context, tx pgx.Tx, args execution.GenerateVideoArgs) error {
			insertMu.Lock()
			fn := insertFn
			insertMu.Unlock()
			if fn == nil {
				return errors.New("river insert not wired")
			}
			return fn(ctx, tx, args)
		})
		st = pg

		startWorkers = func(ctx context.Context, r execution.Runner) (func(context.Context), error) {
			workers := river.NewWorkers()
			river.AddWorker(workers, execution.NewGenerateVideoWorker(r))

			riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
				Logger: logger,
				Queues: map[string]river.QueueConfig{
					river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
				},
				Workers: workers,
			})
			if err != nil {
				return nil, err
			}

			insertMu.Lock()
			insertFn = func(ctx context.Context, tx pgx.Tx, args execution.GenerateVideoArgs) error {
				_, err := riverClient.InsertTx(ctx, tx, args, nil)
				return err
			}
			insertMu.Unlock()

			if err := riverClient.Start(ctx); err != nil {
				return nil, err
			}
			return func(ctx context.Context) {
				if err := riverClient.Stop(ctx); err != nil {
					slog.Warn("River client stop", "error", err)
				}
			}, nil
		}

	default:
		slog.Warn("Using in-memory store; data is lost on restart")
		queue := execution.NewLocalQueue(logger)
		st = store.NewMemory()
		enqueuer = queue
		startWorkers = func(ctx context.Context, r execution.Runner) (func(context.Context), error) {
			queue.Start(ctx, r, cfg.RiverMaxWorkers)
			return func(context.Context) { queue.Stop() }, nil
		}
	}

	if err := st.SeedPackages(ctx, models.DefaultPackages()); err != nil {
		return err
	}

	m := metrics.Default()
	validate := httpx.NewValidator()
	ledgerSvc := ledger.NewService(st, m, logger)

	var notifier notify.Notifier = notify.NewLog(logger)
	if cfg.ResendAPIKey != "" {
		notifier = notify.NewResend(cfg.ResendAPIKey, cfg.EmailFrom, cfg.EmailFromName, logger)
	}

	var provider payments.Provider
	if cfg.StripeSecretKey != "" {
		provider = payments.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	} else {
		slog.Warn("STRIPE_SECRET_KEY not set; payment routes will answer 503")
	}

	var avatarClient avatar.Client = avatar.NewStub()
	if cfg.AvatarDriver == config.AvatarDID {
		did, err := avatar.NewDID(cfg.DIDBaseURL, cfg.DIDAPIKey, m)
		if err != nil {
			return err
		}
		avatarClient = did
	}

	var artifacts artifact.Store
	if cfg.Artifacts.Bucket != "" {
		s3Store, err := artifact.NewS3(ctx, artifact.S3Config{
			Bucket:          cfg.Artifacts.Bucket,
			Region:          cfg.Artifacts.Region,
			Endpoint:        cfg.Artifacts.Endpoint,
			AccessKeyID:     cfg.Artifacts.AccessKeyID,
			SecretAccessKey: cfg.Artifacts.SecretAccessKey,
			PublicURL:       cfg.Artifacts.PublicURL,
		})
		if err != nil {
			return err
		}
		artifacts = s3Store
	} else {
		local, err := artifact.NewLocal(cfg.Artifacts.Dir, cfg.Artifacts.PublicURL)
		if err != nil {
			return err
		}
		artifacts = local
	}

	scripts := llm.NewScriptWriter(llm.NewClient(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.GroqAPIKey,
		Models:  cfg.LLMModels,
	}, logger))

	genSvc := generation.NewService(generation.Deps{
		Store:     st,
		Ledger:    ledgerSvc,
		Enqueuer:  enqueuer,
		Scripts:   scripts,
		Avatar:    avatarClient,
		Artifacts: artifacts,
		Notifier:  notifier,
		Metrics:   m,
		Log:       logger,
	}, generation.Config{
		PollTimeout:  cfg.AvatarPollTimeout,
		PollInterval: cfg.AvatarPollInterval,
	})

	authSvc := auth.NewService(st, ledgerSvc, auth.Config{
		Secret:      cfg.JWTSecret,
		TokenTTL:    cfg.TokenTTL,
		SignupGrant: cfg.SignupGrant,
	}, logger)
	paymentSvc := payments.NewService(st, ledgerSvc, provider, notifier, m, logger)

	apiV1Router := router.New(router.Handlers{
		Auth:        auth.NewHandler(authSvc, validate, logger),
		Credits:     ledger.NewHandler(ledgerSvc, logger),
		Payments:    payments.NewHandler(paymentSvc, validate, logger),
		Generations: generation.NewHandler(genSvc, ledgerSvc, validate, logger),
	}, authSvc)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiV1Router)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
	}).Handler(mux)

	stopWorkers, err := startWorkers(ctx, genSvc)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr, "store", cfg.StoreDriver, "avatar", cfg.AvatarDriver)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		stopWorkers(context.Background())
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	stopWorkers(shutdownCtx)
	return nil
}
