// Package server initializes and runs the application: the cache database,
// the HTTP frontend, and the change-stream ingester, with graceful shutdown
// on OS signals.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flashstacks/flashstacks/internal/atproto"
	"github.com/flashstacks/flashstacks/internal/lang"
	"github.com/flashstacks/flashstacks/internal/logging"
	"github.com/flashstacks/flashstacks/internal/server/auth"
	"github.com/flashstacks/flashstacks/internal/server/config"
	"github.com/flashstacks/flashstacks/internal/server/ingester"
	"github.com/flashstacks/flashstacks/internal/server/repositories/repomanager"
	"github.com/flashstacks/flashstacks/internal/server/services"
	"github.com/flashstacks/flashstacks/internal/server/web"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	repos    repomanager.RepositoryManager
	handler  *web.Handler
	ingester *ingester.Ingester
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	repos, err := repomanager.NewPostgresRepositoryManager(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := repos.Conn().PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	table := lang.NewTable()
	tokens := auth.NewSessionTokens(repos.AuthSessions())
	records := atproto.NewXRPCClient(cfg.PDSBaseURL, tokens, nil)

	stackService := services.NewStackService(records, repos.Stacks(), table, logger)
	cardService := services.NewCardService(records, repos.Cards(), repos.Stacks(), table, logger)
	cloneService := services.NewCloneService(records, repos.Stacks(), repos.Cards(), services.CloneOptions{
		MaxRetries:  cfg.CloneMaxRetries,
		BaseBackoff: cfg.CloneBackoff,
	}, logger)

	authorizer := auth.NewOAuthAuthorizer(auth.OAuthConfig{
		ClientID:     cfg.OAuthClientID,
		RedirectURI:  cfg.OAuthRedirectURI,
		AuthorizeURL: cfg.OAuthAuthorizeURL,
		TokenURL:     cfg.OAuthTokenURL,
	}, repos.AuthState(), repos.AuthSessions(), nil)
	jwtManager := auth.NewJWTManager(cfg.SecretKey, cfg.SessionTTL)

	handler, err := web.NewHandler(stackService, cardService, cloneService, authorizer, jwtManager, table, logger)
	if err != nil {
		return nil, fmt.Errorf("web init error: %w", err)
	}

	ing := ingester.New(cfg.JetstreamURL, repos, logger)

	return &App{config: cfg, logger: logger, repos: repos, handler: handler, ingester: ing}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	srv := &http.Server{
		Addr:    app.config.EndpointAddr,
		Handler: app.handler.Routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown error", "error", err)
		}
	}()

	app.logger.Info(ctx, "http server listening", "addr", app.config.EndpointAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startIngester(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.ingester.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startIngester(ctx, cancelFunc)
	}()

	wg.Wait()

	if err := app.repos.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}
}
