package main

import (
	"log"
	"net/http"
	"strings"

	"payflexi-gateway/config"
	"payflexi-gateway/controllers"
	"payflexi-gateway/database"
	"payflexi-gateway/kafka"
	"payflexi-gateway/middleware"
	"payflexi-gateway/repository"
	"payflexi-gateway/routes"
	"payflexi-gateway/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[PayFlexiGateway] Failed to load config: ", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("[PayFlexiGateway] Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	if err := database.Connect(cfg, logger); err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	orderRepo := repository.NewGormOrderRepo(database.DB)

	producer := kafka.NewPaymentEventProducer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic, logger)
	defer producer.Close()

	client := services.NewPayFlexiClient(cfg.PayFlexiAPIBaseURL, cfg.SecretKey(), logger)
	gateway := services.NewPayFlexiGateway(cfg, client, producer, logger)
	enrollment := services.NewEnrollmentClient(cfg.EnrollmentServiceURL, logger)
	reconciler := services.NewReconciler(orderRepo, enrollment, gateway, producer, logger)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.Metrics())

	pc := &controllers.PaymentController{
		Gateway:    gateway,
		Reconciler: reconciler,
		Repo:       orderRepo,
		Config:     cfg,
		Logger:     logger,
	}
	routes.RegisterPaymentRoutes(r, pc)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("PayFlexi gateway running", zap.String("port", cfg.Port))
	if err := r.Run(":" + cfg.Port); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
