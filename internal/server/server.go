package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ecosort/apiserver/config"
	"github.com/ecosort/apiserver/internal/classifier"
	"github.com/ecosort/apiserver/internal/db"
	"github.com/ecosort/apiserver/internal/handlers"
	"github.com/ecosort/apiserver/internal/logging"
	"github.com/ecosort/apiserver/internal/mq"
	"github.com/ecosort/apiserver/internal/predictor"
	"github.com/ecosort/apiserver/internal/services"
	"github.com/ecosort/apiserver/internal/storage"
	"github.com/ecosort/apiserver/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// requestSlack is added to the predictor timeout to bound a whole request.
const requestSlack = 30 * time.Second

// Server wraps the HTTP server, router and the backends it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	logger     *zap.Logger
	closers    []func(context.Context) error
}

// New wires the configured store, predictor, storage and queue backends into
// a chi router.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{logger: logger}

	userRepo, analysisRepo, err := s.openRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	model, err := newModel(ctx, cfg.Predictor)
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	opts, err := s.openAttachments(ctx, cfg)
	if err != nil {
		s.close(ctx)
		return nil, err
	}

	predictTimeout := cfg.Predictor.Timeout
	if predictTimeout <= 0 {
		predictTimeout = predictor.DefaultTimeout
	}
	requestTimeout := predictTimeout + requestSlack

	cls := classifier.NewStubClassifier(classifier.WithDelay(cfg.Classifier.Delay))
	pred := predictor.NewLifespanPredictor(model, logger.Named("predictor"), cfg.Predictor.MaxTokens, predictTimeout)

	userService := services.NewUserService(userRepo)
	analysisService := services.NewAnalysisService(analysisRepo, cls, pred, logger.Named("analysis"), opts...)

	authHandler := handlers.NewAuthHandler(userService, cfg.Auth, logger.Named("auth"))
	analysisHandler := handlers.NewAnalysisHandler(analysisService, logger.Named("analysis"))

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.RequestLogger(logger.Named("http")),
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api", func(r chi.Router) {
		handlers.AuthRouter(r, authHandler)
		handlers.AnalysisRouter(r, analysisHandler, authHandler.RequireAuth)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	s.router = router
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server configured",
		zap.String("store", cfg.StoreDriver),
		zap.String("predictor", model.Name()),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("mq", cfg.MQ.Driver))
	return s, nil
}

func (s *Server) openRepositories(ctx context.Context, cfg config.Config) (services.UserRepository, services.AnalysisRepository, error) {
	switch cfg.StoreDriver {
	case "", config.StoreMemory:
		return store.NewMemoryUserRepository(), store.NewMemoryAnalysisRepository(), nil
	case config.StorePostgres:
		conn, err := db.Open(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, closeSQL(conn))
		return store.NewUserRepository(conn), store.NewAnalysisRepository(conn), nil
	case config.StoreMongo:
		database, err := store.OpenMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		s.closers = append(s.closers, database.Client().Disconnect)
		return store.NewMongoUserRepository(database), store.NewMongoAnalysisRepository(database), nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openAttachments connects the optional image storage and event queue.
// Disabled backends add no option.
func (s *Server) openAttachments(ctx context.Context, cfg config.Config) ([]services.AnalysisOption, error) {
	var opts []services.AnalysisOption

	images, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if images != nil {
		s.closers = append(s.closers, func(context.Context) error { return images.Close() })
		s.logger.Info("image storage enabled", zap.String("bucket", images.Bucket()))
		opts = append(opts, services.WithImageStore(images))
	}

	queue, err := mq.Open(ctx, cfg.MQ)
	if err != nil {
		return nil, fmt.Errorf("open mq: %w", err)
	}
	if queue != nil {
		s.closers = append(s.closers, func(context.Context) error { return queue.Close() })
		opts = append(opts, services.WithEventPublisher(mq.NewAnalysisPublisher(queue, cfg.MQ.AnalysisChannel)))
	}
	return opts, nil
}

func newModel(ctx context.Context, cfg config.PredictorConfig) (predictor.Model, error) {
	switch cfg.Provider {
	case "", config.ProviderOpenAI:
		return predictor.NewOpenAIModel(predictor.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.Timeout,
		}), nil
	case config.ProviderGemini:
		model, err := predictor.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini: %w", err)
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unknown predictor provider %q", cfg.Provider)
	}
}

func closeSQL(conn *sql.DB) func(context.Context) error {
	return func(context.Context) error { return conn.Close() }
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and then closes the backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	return errors.Join(err, s.close(ctx))
}

func (s *Server) close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
