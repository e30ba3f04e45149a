package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/phatse/BE-ISC/config"
	"github.com/phatse/BE-ISC/controllers"
	"github.com/phatse/BE-ISC/database"
	"github.com/phatse/BE-ISC/kafka"
	"github.com/phatse/BE-ISC/models"
	"github.com/phatse/BE-ISC/providers"
	"github.com/phatse/BE-ISC/repository"
	"github.com/phatse/BE-ISC/routes"
	"github.com/phatse/BE-ISC/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := database.ConnectPostgres(logger, &models.Order{}, &models.OrderItem{})
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer database.ClosePostgres(db)

	mongoClient, mongoDB, err := database.ConnectMongo(logger, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer database.CloseMongo(mongoClient)

	redisClient, err := database.ConnectRedis(logger, cfg.RedisURL)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	producer := kafka.NewPaymentEventProducer(strings.Split(cfg.KafkaBrokers, ","), cfg.PaymentEventsTopic, logger)
	defer producer.Close()

	orderRepo := repository.NewGormOrderRepository(db)
	productRepo := repository.NewProductRepository(mongoDB)
	cartRepo := repository.NewCartRepository(redisClient, cfg.CartTTL)

	if err := productRepo.EnsureIndexes(context.Background()); err != nil {
		logger.Warn("Failed to ensure product indexes", zap.Error(err))
	}

	provider := providers.NewPayOSProvider(cfg.PayOSClientID, cfg.PayOSAPIKey, cfg.PayOSChecksumKey, cfg.PayOSBaseURL)

	paymentService := services.NewPaymentService(orderRepo, provider, producer, cfg.ClientURL, logger)
	orderService := services.NewOrderService(orderRepo, cartRepo, producer, logger)
	productService := services.NewProductService(productRepo, logger)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	routes.Register(router, routes.Controllers{
		Payments: controllers.NewPaymentController(paymentService, logger),
		Orders:   controllers.NewOrderController(orderService, logger),
		Products: controllers.NewProductController(productService, logger),
		Carts:    controllers.NewCartController(cartRepo, productRepo, logger),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Storefront backend is running", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Shutdown error", zap.Error(err))
	}
	logger.Info("Server shutdown complete")
}
