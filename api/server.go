package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/visionsuite/backend/config"
	"github.com/visionsuite/backend/database"
	"github.com/visionsuite/backend/services"
	"github.com/visionsuite/backend/storage"
	"github.com/visionsuite/backend/training"
)

type Server struct {
	*http.Server
	startupTime time.Time
}

func NewServer(database database.Database, blobs storage.BlobStore, engine services.Engine, scheduler *training.Scheduler) (Server, error) {
	c := config.New()

	port := config.GetString(c, "PORT", "8080")
	address := fmt.Sprintf("0.0.0.0:%s", port) // Bind to 0.0.0.0 for external access

	startupTime := time.Now()

	router := newRouter(database, blobs, engine, scheduler, withConfig(c), withStartupTime(startupTime))

	readTimeout := config.GetSeconds(c, "READ_TIMEOUT_SECONDS", 180)
	writeTimeout := config.GetSeconds(c, "WRITE_TIMEOUT_SECONDS", 180)
	idleTimeout := config.GetSeconds(c, "IDLE_TIMEOUT_SECONDS", 180)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return Server{server, startupTime}, nil
}

type router struct {
	config      map[string]string
	startupTime time.Time
}

func withConfig(c map[string]string) func(*router) {
	return func(r *router) {
		r.config = c
	}
}

func withStartupTime(startupTime time.Time) func(*router) {
	return func(r *router) {
		r.startupTime = startupTime
	}
}

func newRouter(database database.Database, blobs storage.BlobStore, engine services.Engine, scheduler *training.Scheduler, opts ...func(*router)) *chi.Mux {
	var router router
	for _, opt := range opts {
		opt(&router)
	}

	chiRouter := chi.NewRouter()
	chiRouter.Use(LogInternalServerErrors)

	acceptedOrigins := config.GetStrings(router.config, "ACCEPTED_ORIGINS")
	if len(acceptedOrigins) == 0 {
		acceptedOrigins = []string{"*"}
	}
	chiRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   acceptedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "API-Key"},
		AllowCredentials: true,
	}))

	jwtSecret := config.GetString(router.config, "JWT_SECRET", "")
	baselineArtifact := config.GetString(router.config, "BASELINE_ARTIFACT", "baseline")

	handlers := initializeHandlers(database, blobs, engine, scheduler, jwtSecret, baselineArtifact)
	authMiddleware := newAuthMiddleware(jwtSecret)

	setupRoutes(chiRouter, handlers, authMiddleware)

	return chiRouter
}

func (s Server) Start(errChannel chan<- error) {
	log.Info().Msgf("Server started on: %s", s.Addr)
	errChannel <- s.ListenAndServe()
}

func (s Server) ShutdownGracefully(timeout time.Duration) {
	log.Info().Msg("Gracefully shutting down...")

	gracefullCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.Shutdown(gracefullCtx); err != nil {
		log.Error().Msgf("Error shutting down the server: %v", err)
	} else {
		log.Info().Msg("HttpServer gracefully shut down")
	}
}
