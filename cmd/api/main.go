// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/supportiq/assist/internal/config"
	"github.com/supportiq/assist/internal/engine"
	"github.com/supportiq/assist/internal/events"
	"github.com/supportiq/assist/internal/handler"
	"github.com/supportiq/assist/internal/knowledge"
	"github.com/supportiq/assist/internal/llm"
	"github.com/supportiq/assist/internal/middleware"
	"github.com/supportiq/assist/internal/session"
	"github.com/supportiq/assist/internal/store"
	"github.com/supportiq/assist/internal/ticket"
	"github.com/supportiq/assist/pkg/logger"
	"github.com/supportiq/assist/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "supportiq-assist", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Connect to Redis (conversation store)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", zap.Error(err))
		os.Exit(1)
	}
	defer redisClient.Close()
	convStore := store.NewRedisStore(redisClient)

	// Connect to Elasticsearch (ticket index, knowledge base)
	esClient, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.ESAddress},
		Username:  cfg.ESUsername,
		Password:  cfg.ESPassword,
	})
	if err != nil {
		log.Error("failed to create Elasticsearch client", zap.Error(err))
		os.Exit(1)
	}
	ticketIndex, err := ticket.NewElasticIndex(ctx, esClient, cfg.TicketIndex)
	if err != nil {
		log.Error("failed to initialize ticket index", zap.Error(err))
		os.Exit(1)
	}

	var retriever knowledge.Retriever
	if cfg.KnowledgeEnabled {
		retriever = knowledge.NewElasticRetriever(esClient, cfg.KnowledgeIndex)
	}

	// Connect to NATS (analytics event stream, optional)
	var eventsClient *events.Client
	var publisher *events.Publisher
	if cfg.NATSEnabled {
		eventsClient, err = events.Connect(ctx, events.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer eventsClient.Close()

		publisher, err = events.NewPublisher(ctx, eventsClient, log)
		if err != nil {
			log.Error("failed to ensure event stream", zap.Error(err))
			os.Exit(1)
		}
	}

	// Initialize LLM client
	var llmClient llm.Client
	hasCredential := false
	switch {
	case cfg.DefaultLLM == string(llm.ProviderAnthropic) && cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	case cfg.OpenAIAPIKey != "":
		llmClient, err = llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	case cfg.AnthropicAPIKey != "":
		llmClient, err = llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	}
	if err != nil {
		log.Warn("failed to create LLM client, submissions disabled", zap.Error(err))
		llmClient = nil
	}
	if llmClient != nil && err == nil {
		hasCredential = true
		log.Info("LLM client ready", zap.String("provider", llmClient.Name()))
	}

	// Initialize engine and session layer
	eng := engine.NewService(llmClient, convStore, ticketIndex, retriever, publisher, cfg.HistoryWindow, log)
	sessions := session.NewManager(
		eng,
		convStore,
		ticketIndex,
		ticketIndex,
		cfg.HydrateLimit,
		cfg.MentionLimit,
		cfg.MentionDebounce,
		hasCredential,
		log,
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(convStore, eventsClient)
	chatHandler := handler.NewChatHandler(sessions, log)
	conversationHandler := handler.NewConversationHandler(convStore, eng, sessions, publisher, log)
	ticketHandler := handler.NewTicketHandler(ticketIndex, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		// Session surface
		r.Route("/chat", func(r chi.Router) {
			r.Get("/", chatHandler.Session)
			r.Post("/", chatHandler.Submit)
			r.Post("/new", chatHandler.NewChat)
			r.Post("/select", chatHandler.Select)

			r.Get("/attachments", chatHandler.ListAttachments)
			r.Delete("/attachments/{ticketID}", chatHandler.Detach)

			r.Route("/mention", func(r chi.Router) {
				r.Get("/", chatHandler.MentionState)
				r.Post("/", chatHandler.OpenMention)
				r.Put("/", chatHandler.QueryMention)
				r.Delete("/", chatHandler.CloseMention)
				r.Post("/move", chatHandler.MoveMention)
				r.Post("/select", chatHandler.SelectMention)
			})
		})

		// Conversation history
		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", conversationHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", conversationHandler.Get)
				r.Delete("/", conversationHandler.Delete)
				r.Patch("/tickets", conversationHandler.PatchTickets)
				r.Post("/generate-title", conversationHandler.GenerateTitle)
			})
		})

		// Ticket lookups
		r.Route("/tickets", func(r chi.Router) {
			r.Get("/search", ticketHandler.Search)
			r.Get("/recent", ticketHandler.Recent)
			r.Get("/{id}", ticketHandler.Get)
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
