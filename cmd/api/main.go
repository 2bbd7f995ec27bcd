package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"workbridge/config"
	"workbridge/internal/api"
	"workbridge/internal/escrow"
	"workbridge/internal/repository"
	"workbridge/internal/service"
	"workbridge/pkg/db"
	"workbridge/pkg/logger"
	"workbridge/pkg/mq"
	"workbridge/pkg/outbox"
	redisclient "workbridge/pkg/redis"
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// Init RabbitMQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Outbox: 业务事务里写事件，dispatcher 异步投递
	outboxRepo := outbox.NewRepository(dbConn)
	dispatcher := outbox.NewDispatcher(outboxRepo, publisher, log)
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	go dispatcher.Start(dispatcherCtx)

	// Init Repositories
	userRepo := repository.NewUserRepository(dbConn)
	projectRepo := repository.NewProjectRepository(dbConn)
	bidRepo := repository.NewBidRepository(dbConn, outboxRepo, log)
	contractRepo := repository.NewContractRepository(dbConn, outboxRepo, log)
	milestoneRepo := repository.NewMilestoneRepository(dbConn, outboxRepo, log)
	paymentRepo := repository.NewPaymentRepository(dbConn, outboxRepo, log)
	progressRepo := repository.NewProgressRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Escrow gateway client
	gateway := escrow.NewClient(
		cfg.Escrow.BaseURL,
		cfg.Escrow.APIKey,
		time.Duration(cfg.Escrow.TimeoutMS)*time.Millisecond,
		cfg.Escrow.MaxRetries,
		log,
	)

	// Init Services
	authService := service.NewAuthService(userRepo, cfg.JWT.Secret, log)
	projectService := service.NewProjectService(projectRepo, log)
	bidService := service.NewBidService(bidRepo, projectRepo, log)
	contractService := service.NewContractService(contractRepo, milestoneRepo, paymentRepo, bidRepo, projectRepo, log)
	milestoneService := service.NewMilestoneService(contractRepo, milestoneRepo, paymentRepo, progressRepo, log)
	escrowService := service.NewEscrowService(contractRepo, milestoneRepo, paymentRepo, userRepo, gateway, cfg.Escrow.Currency, log)

	// Init Handlers
	authHandler := api.NewAuthHandler(authService)
	projectHandler := api.NewProjectHandler(projectService, bidService)
	bidHandler := api.NewBidHandler(bidService)
	contractHandler := api.NewContractHandler(contractService)
	milestoneHandler := api.NewMilestoneHandler(milestoneService)
	escrowHandler := api.NewEscrowHandler(escrowService)
	notificationHandler := api.NewNotificationHandler(notificationRepo)
	webhookHandler := api.NewWebhookHandler(publisher, cfg.Escrow.WebhookSecret, log)
	adminHandler := api.NewAdminHandler(outbox.NewReplayService(outboxRepo, publisher))

	// Router
	router := api.NewRouter(
		authHandler,
		projectHandler,
		bidHandler,
		contractHandler,
		milestoneHandler,
		escrowHandler,
		notificationHandler,
		webhookHandler,
		adminHandler,
		cfg.JWT.Secret,
	)

	log.Info("Starting API server", zap.String("port", cfg.Server.Port))
	if err := router.Run(cfg.Server.Port); err != nil {
		log.Fatal("server start failed", zap.Error(err))
	}
}
