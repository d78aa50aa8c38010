package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/example/oauthd/internal/auth"
	"github.com/example/oauthd/internal/config"
	"github.com/example/oauthd/internal/origins"
	"github.com/example/oauthd/internal/store"
)

// App wires the core service, the store, and the origin allow-list cache
// into the HTTP boundary.
type App struct {
	svc     *auth.Service
	store   store.Store
	origins *origins.Cache
	limiter *RateLimiter
	log     zerolog.Logger
}

func (a *App) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(RequestLogging(a.log))
	r.Use(a.RateLimit)

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := a.store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ready": true})
	}).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/client/register", a.HandleRegisterClient).Methods("POST")
	v1.HandleFunc("/register", a.HandleRegister).Methods("POST")
	v1.HandleFunc("/login", a.HandleLogin).Methods("POST")
	v1.HandleFunc("/authorization/{session}", a.HandleAuthorize).Methods("POST")
	v1.HandleFunc("/token", a.HandleToken).Methods("POST")
	v1.HandleFunc("/refresh", a.HandleRefresh).Methods("POST")
	v1.HandleFunc("/user", a.HandleGetUser).Methods("GET")

	v1.HandleFunc("/origins", a.HandleListOrigins).Methods("GET")
	v1.HandleFunc("/origins", a.HandleAddOrigin).Methods("POST")
	v1.HandleFunc("/origins/{id}", a.HandleDeleteOrigin).Methods("DELETE")

	// CORS wraps the router: routes register a single method each, so an
	// OPTIONS preflight matches no route and must be answered out here.
	return a.CORS(r)
}

func openStore(c *config.Config) (store.Store, error) {
	switch c.DBAdapter {
	case "sqlite":
		return store.NewSQLite(c.SQLiteFile)
	case "postgres":
		if err := ApplyMigrations(c.MigrationsDir, c.PostgresDSN); err != nil {
			return nil, err
		}
		return store.NewPostgres(c.PostgresDSN)
	default:
		log.Warn().Msg("using in-memory store (not for production)")
		return store.NewMemory(), nil
	}
}

func main() {
	c, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	st, err := openStore(c)
	if err != nil {
		log.Fatal().Err(err).Str("adapter", c.DBAdapter).Msg("store init")
	}

	svc := auth.New(st, auth.Config{
		JWTSecret: []byte(c.JWTSecret),
		Issuer:    c.Issuer,
	}, logger.With().Str("component", "auth").Logger())

	cache := origins.New(st, logger.With().Str("component", "origins").Logger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := cache.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("origin allow-list load")
	}
	go cache.Run(ctx, c.OriginRefreshInterval)

	app := &App{
		svc:     svc,
		store:   st,
		origins: cache,
		limiter: NewRateLimiter(c.RateLimitPerMinute),
		log:     logger,
	}

	srv := &http.Server{
		Handler:      app.routes(),
		Addr:         ":" + c.Port,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", c.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("shutdown failed")
	}
	if err := st.Close(); err != nil {
		logger.Error().Err(err).Msg("store close")
	}
	logger.Info().Msg("server exited")
}
