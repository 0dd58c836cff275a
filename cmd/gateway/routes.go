package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"realty-network/config"
	"realty-network/internal/gateway/handlers"
	"realty-network/internal/gateway/middleware"
	"realty-network/internal/services/compensation"
	"realty-network/internal/services/compensation/metrics"
	"realty-network/internal/utils"
)

func main() {
	cfg := config.LoadConfig()
	logger := config.NewLogger(cfg.Log)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	svc, err := compensation.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to start compensation service: %v", err)
	}
	defer svc.Close()

	rateLimit, err := middleware.RateLimit(cfg.Server.RateLimit)
	if err != nil {
		logger.Fatalf("Invalid RATE_LIMIT: %v", err)
	}

	r := gin.New()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(rateLimit)

	compensationHandler := handlers.NewCompensationHTTPHandler(svc.Handler)

	r.GET("/health", healthCheckHandler(svc))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// --- Protected API Group ---
	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth([]byte(cfg.Auth.JWTSecret)))
	{
		protected.POST("/transactions/:id/commissions", compensationHandler.ProcessTransaction)
		protected.GET("/ledger", compensationHandler.ListLedgerEntries)
		protected.POST("/projections", compensationHandler.ProjectEarnings)

		participants := protected.Group("/participants/:id")
		{
			participants.GET("/summary", compensationHandler.GetEarningsSummary)
			participants.GET("/wallet", compensationHandler.GetWallet)
			participants.POST("/rank/evaluate", compensationHandler.EvaluateRank)
			participants.GET("/rank/progress", compensationHandler.GetRankProgress)
		}

		admin := protected.Group("/admin")
		admin.Use(middleware.RequireRole(utils.RoleAdmin))
		{
			admin.GET("/commission-rules", compensationHandler.ListCommissionRules)
			admin.PUT("/commission-rules", compensationHandler.ReplaceCommissionRules)
			admin.POST("/ranks/sweep", compensationHandler.SweepRanks)
			admin.PUT("/participants/:id/sponsor", compensationHandler.AssignSponsor)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "Route not found",
		})
	})

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: r,
	}

	go func() {
		logger.Infof("Starting server on %s", cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
}

func healthCheckHandler(svc *compensation.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		status := "healthy"
		httpStatus := http.StatusOK
		message := "Server is running"

		if err := svc.Ping(ctx); err != nil {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			message = err.Error()
		}

		c.JSON(httpStatus, gin.H{
			"status":    status,
			"message":   message,
			"timestamp": time.Now(),
		})
	}
}
