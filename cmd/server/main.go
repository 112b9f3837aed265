package main

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"medistock-system/config"
	"medistock-system/internal/database"
	"medistock-system/internal/gateway/handlers"
	"medistock-system/internal/gateway/middleware"
	"medistock-system/internal/services/ledger"
	"medistock-system/internal/services/requisition"
	"medistock-system/internal/utils"
)

func main() {
	cfg := config.LoadConfig()
	utils.SetJWTSecret(cfg.Auth.JWTSecret)

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.NewConnection(cfg.DB.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	rdb := config.NewRedisClient(cfg.Redis)

	ledgerSvc := ledger.NewService(db, rdb, logger)
	requisitionSvc := requisition.NewService(db, rdb, ledgerSvc, logger)

	stockHandler := handlers.NewStockHandler(ledgerSvc)
	requisitionHandler := handlers.NewRequisitionHandler(requisitionSvc)

	r := gin.Default()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit())

	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth())
	{
		requisitions := protected.Group("/requisitions")
		{
			requisitions.POST("", requisitionHandler.Create)
			requisitions.GET("", requisitionHandler.List)
			requisitions.GET("/pending", requisitionHandler.ListPending)
			requisitions.GET("/:id", requisitionHandler.Get)
			requisitions.POST("/:id/submit", requisitionHandler.Submit)
			requisitions.POST("/:id/approve", requisitionHandler.Approve)
			requisitions.POST("/:id/reject", requisitionHandler.Reject)
			requisitions.POST("/:id/cancel", requisitionHandler.Cancel)
			requisitions.POST("/:id/fulfill", requisitionHandler.Fulfill)
		}

		stock := protected.Group("/stock")
		{
			stock.GET("/cards/:id", stockHandler.GetCard)
			stock.PUT("/cards/:id/adjust", stockHandler.Adjust)
			stock.GET("/cards/low", stockHandler.ListLowStock)
			stock.POST("/receive", stockHandler.Receive)
			stock.POST("/transfers", stockHandler.Transfer)
			stock.GET("/transactions", stockHandler.ListTransactions)
			stock.POST("/batches/expire-sweep", stockHandler.ExpireBatches)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"message":   "Server is running",
			"timestamp": time.Now(),
		})
	})

	port := ":" + cfg.HTTP.Port
	logger.Info("starting server", zap.String("port", port))
	if err := r.Run(port); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
