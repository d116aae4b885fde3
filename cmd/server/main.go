// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradepilot/internal/config"
	connectionrepository "tradepilot/internal/connection/repository"
	connectionservice "tradepilot/internal/connection/service"
	connectionhttp "tradepilot/internal/connection/transport/http"
	decisionrepository "tradepilot/internal/decision/repository"
	decisionservice "tradepilot/internal/decision/service"
	decisionhttp "tradepilot/internal/decision/transport/http"
	"tradepilot/internal/exchange"
	"tradepilot/internal/exchange/binance"
	"tradepilot/internal/exchange/bybit"
	executionservice "tradepilot/internal/execution/service"
	journalrepository "tradepilot/internal/journal/repository"
	"tradepilot/internal/metrics"
	patternrepository "tradepilot/internal/pattern/repository"
	patternservice "tradepilot/internal/pattern/service"
	patternhttp "tradepilot/internal/pattern/transport/http"
	riskrepository "tradepilot/internal/risk/repository"
	riskservice "tradepilot/internal/risk/service"
	riskhttp "tradepilot/internal/risk/transport/http"
	tokenrepository "tradepilot/internal/token/repository"
	userrepository "tradepilot/internal/user/repository"
	userservice "tradepilot/internal/user/service"
	userhttp "tradepilot/internal/user/transport/http"
	"tradepilot/internal/vault"
	"tradepilot/pkg/db"
	"tradepilot/pkg/middleware"
)

var server *http.Server

func main() {
	fmt.Println("TradePilot API starting...")
	cfg := config.Load()
	fmt.Println("Config loaded")

	if cfg.EncryptionSecret == "" {
		log.Fatal("ENCRYPTION_SECRET is required")
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Database connection failed: %v", err)
	}
	log.Println("Database connected")

	metrics.InitMetrics()

	// --- ИНИЦИАЛИЗАЦИЯ СЛОЁВ ---
	keyVault := vault.New(cfg.EncryptionSecret)

	registry := exchange.NewRegistry()
	registry.Register("binance", func(creds exchange.Credentials) exchange.Adapter {
		return binance.New(creds)
	})
	registry.Register("bybit", func(creds exchange.Credentials) exchange.Adapter {
		return bybit.New(creds)
	})

	userRepo := userrepository.NewPostgresUserRepository(database)
	userService := userservice.NewUserService(userRepo)
	refreshTokenRepo := tokenrepository.NewRefreshTokenRepository(database)
	authHandler := userhttp.NewHandler(userService, refreshTokenRepo, cfg.JWTSecret)

	connectionRepo := connectionrepository.NewPostgresConnectionRepo(database)
	connectionService := connectionservice.NewService(connectionRepo, keyVault, registry)
	connectionHandler := connectionhttp.NewConnectionHandler(connectionService)

	journalRepo := journalrepository.NewPostgresJournalRepo(database)
	decisionRepo := decisionrepository.NewPostgresDecisionRepo(database)

	policyRepo := riskrepository.NewPostgresPolicyRepo(database)
	killSwitchRepo := riskrepository.NewPostgresKillSwitchRepo(database)
	riskService := riskservice.NewService(policyRepo, killSwitchRepo, userRepo, decisionRepo, journalRepo)
	riskHandler := riskhttp.NewRiskHandler(riskService)

	patternRepo := patternrepository.NewPostgresPatternRepo(database)
	patternEngine := patternservice.NewEngine(journalRepo, patternRepo, riskService)
	patternHandler := patternhttp.NewPatternHandler(patternEngine)

	decisionService := decisionservice.NewService(decisionRepo, patternRepo, riskService)
	executionEngine := executionservice.NewEngine(decisionRepo, riskService, connectionService, journalRepo)
	decisionHandler := decisionhttp.NewDecisionHandler(decisionService, executionEngine)

	// --- РОУТЕР ---
	r := chi.NewRouter()

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://localhost:3000", "http://localhost:3000", "http://localhost:5173"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.GlobalRateLimiter.Middleware)
	r.Use(middleware.ValidateRequest)

	// Публичные роуты
	r.Post("/auth/register", authHandler.Register)
	r.Post("/auth/login", authHandler.Login)
	r.Post("/auth/refresh", authHandler.Refresh)

	// 🔐 Защищённая группа маршрутов
	r.Group(func(pr chi.Router) {
		pr.Use(middleware.JWTAuth(cfg.JWTSecret))

		// Подключения к биржам
		pr.Post("/api/connections", connectionHandler.SaveKeys)
		pr.Delete("/api/connections/{exchange}", connectionHandler.Delete)
		pr.Post("/api/connections/{exchange}/test", connectionHandler.Test)

		// Паттерны
		pr.Post("/api/patterns/train", patternHandler.Train)
		pr.Get("/api/patterns", patternHandler.List)

		// Решения
		pr.Post("/api/decisions/generate", decisionHandler.Generate)
		pr.Get("/api/decisions", decisionHandler.List)
		pr.Post("/api/decisions/{id}/respond", decisionHandler.Respond)
		pr.Post("/api/decisions/{id}/execute", decisionHandler.Execute)

		// Риск-контур
		pr.Get("/api/risk/policy", riskHandler.GetPolicy)
		pr.Put("/api/risk/policy", riskHandler.UpdatePolicy)
		pr.Post("/api/risk/killswitch", riskHandler.KillSwitch)
		pr.Get("/api/risk/status", riskHandler.Status)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	// Метрики за базовой аутентификацией
	r.Group(func(mr chi.Router) {
		mr.Use(middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPassword))
		mr.Handle("/metrics", promhttp.Handler())
	})

	server = &http.Server{
		Addr:    cfg.Addr,
		Handler: r,
	}

	log.Printf("Server running on %s", cfg.Addr)

	// Graceful shutdown на сигналы ОС
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		log.Println("Shutdown signal received, starting graceful shutdown")
		shutdownServer()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

func shutdownServer() {
	log.Println("Starting server shutdown process")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}

	log.Println("Server stopped")
}
