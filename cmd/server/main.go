package main

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/purpose-labs/coach-gateway/internal/admin"
	"github.com/purpose-labs/coach-gateway/internal/auth"
	"github.com/purpose-labs/coach-gateway/internal/chat"
	"github.com/purpose-labs/coach-gateway/internal/config"
	"github.com/purpose-labs/coach-gateway/internal/db"
	"github.com/purpose-labs/coach-gateway/internal/flags"
	"github.com/purpose-labs/coach-gateway/internal/insight"
	"github.com/purpose-labs/coach-gateway/internal/ledger"
	"github.com/purpose-labs/coach-gateway/internal/llm"
	"github.com/purpose-labs/coach-gateway/internal/models"
	"github.com/purpose-labs/coach-gateway/internal/ratelimit"
	"github.com/purpose-labs/coach-gateway/internal/spend"
	"github.com/purpose-labs/coach-gateway/internal/transcribe"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to build logger:", err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	database, err := db.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal("invalid redis url", zap.Error(err))
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()

	limiter := ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow, cfg.SweepInterval)
	defer limiter.Close()

	governor := spend.NewGovernor(database, redisClient, cfg.DailySpendLimit, cfg.MonthlySpendLimit, logger)
	kill := flags.NewKillSwitch(redisClient, cfg.ChatDisabled, logger)
	led := ledger.New(database)

	completions := llm.NewAnthropicClient(cfg.AnthropicURL, cfg.AnthropicAPIKey, cfg.Model)
	analyzer := insight.NewBreakthroughAnalyzer(completions, database, logger)
	insights := insight.NewDispatcher(led, analyzer, cfg.InsightCadence, logger)

	router := mux.NewRouter()

	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)

	// Public routes
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/auth/token", tokenHandler(cfg, logger)).Methods("POST")

	// Ops routes
	adminHandler := admin.NewAdminHandler(database, kill, governor, cfg.AdminToken, logger)
	adminHandler.RegisterRoutes(router)

	// Protected routes
	chatHandler := chat.NewHandler(led, limiter, governor, kill, completions, insights, chat.Options{
		MaxInputChars:  cfg.MaxInputChars,
		ContextTurns:   cfg.ContextTurns,
		MaxTokens:      cfg.MaxTokens,
		CostPerMessage: cfg.CostPerMessage,
		TierQuotas: map[models.Tier]int{
			models.TierAuthenticated: cfg.DailyTurnLimit,
			models.TierAnonymous:     cfg.AnonDailyTurnLimit,
		},
	}, logger)
	router.Handle("/api/chat", authMiddleware.Authenticate(chatHandler)).Methods("POST")

	transcribeHandler := transcribe.NewHandler(cfg.TranscribeURL, cfg.TranscribeAPIKey, cfg.TranscribeModel, logger)
	router.Handle("/api/transcribe", authMiddleware.Authenticate(transcribeHandler)).Methods("POST")

	logger.Info("server starting", zap.String("port", cfg.ServerPort))
	if err := http.ListenAndServe(":"+cfg.ServerPort, router); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

// tokenHandler exchanges the shared client secret for a short-lived
// bearer token carrying the caller id and tier.
func tokenHandler(cfg *config.Config, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UID          string `json:"uid"`
			ClientSecret string `json:"client_secret"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}

		if req.UID == "" {
			http.Error(w, "No user identifier", http.StatusUnauthorized)
			return
		}

		if cfg.AuthClientSecret == "" ||
			subtle.ConstantTimeCompare([]byte(req.ClientSecret), []byte(cfg.AuthClientSecret)) != 1 {
			http.Error(w, "Invalid client secret", http.StatusUnauthorized)
			return
		}

		token, err := auth.GenerateToken(req.UID, models.TierAuthenticated, cfg.JWTSecret)
		if err != nil {
			logger.Error("token generation failed", zap.Error(err))
			http.Error(w, "Failed to generate token", http.StatusInternalServerError)
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"token": token,
		})
	}
}
