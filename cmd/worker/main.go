package main

import (
	"time"

	"go.uber.org/zap"

	"workbridge/config"
	mqcontracts "workbridge/contracts/mq"
	"workbridge/internal/escrow"
	"workbridge/internal/mqhandler"
	"workbridge/internal/repository"
	"workbridge/internal/service"
	"workbridge/pkg/db"
	"workbridge/pkg/logger"
	"workbridge/pkg/mq"
	"workbridge/pkg/outbox"
	redisclient "workbridge/pkg/redis"
	"workbridge/pkg/util"
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting worker service...")

	// Init Redis
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	deduper := util.NewDeduperWithLogger(rdb, time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	log.Info("Database connection established")

	// DLQ publisher（坏消息和超限重试的归宿）
	dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init DLQ publisher", zap.Error(err))
	}
	defer dlqPublisher.Close()

	// Init Repositories
	outboxRepo := outbox.NewRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)
	contractRepo := repository.NewContractRepository(dbConn, outboxRepo, log)
	milestoneRepo := repository.NewMilestoneRepository(dbConn, outboxRepo, log)
	paymentRepo := repository.NewPaymentRepository(dbConn, outboxRepo, log)
	notificationRepo := repository.NewNotificationRepository(dbConn)

	// Escrow gateway client（对账时校验 hold 状态用）
	gateway := escrow.NewClient(
		cfg.Escrow.BaseURL,
		cfg.Escrow.APIKey,
		time.Duration(cfg.Escrow.TimeoutMS)*time.Millisecond,
		cfg.Escrow.MaxRetries,
		log,
	)

	escrowService := service.NewEscrowService(contractRepo, milestoneRepo, paymentRepo, userRepo, gateway, cfg.Escrow.Currency, log)

	// Init Handlers
	holdHandler := mqhandler.NewEscrowHoldEventHandler(escrowService, deduper, retryCounter, dlqPublisher, log)
	notificationHandler := mqhandler.NewNotificationCreatedHandler(notificationRepo, log)

	// (1) Consumer for escrow hold confirmations
	log.Info("Initializing escrow hold consumer", zap.String("queue", "escrow.hold.event.q"))
	holdConsumer, err := mq.NewConsumer(cfg.MQ.URL, "escrow.hold.event.q", mqcontracts.RoutingKeyEscrowHoldEvent, log)
	if err != nil {
		log.Fatal("failed to init escrow hold consumer", zap.Error(err))
	}
	holdConsumer.SetHandler(holdHandler.Handle)
	go func() {
		log.Info("Starting escrow hold consumer")
		if err := holdConsumer.StartConsuming(); err != nil {
			log.Fatal("escrow hold consumer failed", zap.Error(err))
		}
	}()
	defer holdConsumer.Close()

	// (2) Consumer for notification fan-out
	log.Info("Initializing notification consumer", zap.String("queue", "notification.created.q"))
	notifConsumer, err := mq.NewConsumer(cfg.MQ.URL, "notification.created.q", mqcontracts.RoutingKeyNotificationCreated, log)
	if err != nil {
		log.Fatal("failed to init notification consumer", zap.Error(err))
	}
	notifConsumer.SetHandler(notificationHandler.Handle)
	go func() {
		log.Info("Starting notification consumer")
		if err := notifConsumer.StartConsuming(); err != nil {
			log.Fatal("notification consumer failed", zap.Error(err))
		}
	}()
	defer notifConsumer.Close()

	log.Info("All consumers started, worker is ready to process messages")

	// Keep worker running
	select {}
}
