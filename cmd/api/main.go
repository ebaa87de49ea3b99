package main

import (
	"context"
	"log"

	"spacechat/internal/auth"
	"spacechat/internal/cache"
	"spacechat/internal/chat"
	"spacechat/internal/config"
	"spacechat/internal/domain/conversation"
	"spacechat/internal/domain/message"
	"spacechat/internal/domain/user"
	"spacechat/internal/events"
	"spacechat/internal/gateway"
	"spacechat/internal/handler"
	appredis "spacechat/internal/redis"
	"spacechat/internal/repository"
	"spacechat/internal/server"
	"spacechat/internal/storage"
	"spacechat/pkg/database"
	"spacechat/pkg/logger"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	mode := logger.DevelopmentMode
	if cfg.Server.Environment == server.ReleaseMode {
		mode = logger.ProductionMode
	}
	l := logger.New(mode)
	logger.SetGlobalLogger(l)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		l.Errorf("Failed to connect to database: %v", err)
		log.Fatal(err)
	}
	if err := db.AutoMigrate(
		&user.User{},
		&conversation.Conversation{},
		&conversation.Participant{},
		&message.Message{},
		&message.Reaction{},
		&message.Delivery{},
	); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	redisClient := appredis.NewClient(appredis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	users := repository.NewUserRepository(db)
	convs := repository.NewConversationRepository(db)
	msgs := repository.NewMessageRepository(db)
	tx := repository.NewTransactor(db)

	reader := cache.NewReader(appredis.NewStore(redisClient), cfg.Cache, users, convs, msgs, l)

	// One bus per instance; the relay mirrors cross-instance traffic and
	// drops echoes of our own origin.
	origin := uuid.NewString()
	local := events.NewLocalBus()
	bus := events.NewFanoutBus(local, appredis.NewPublisher(redisClient), origin, l)
	relay := events.NewRelay(appredis.NewSubscriber(redisClient), local, origin, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
			l.Errorf("event relay stopped: %v", err)
		}
	}()

	limiter := appredis.NewSendLimiter(redisClient, cfg.Chat.SendRateWindow)

	var uploads *storage.Client
	if cfg.Storage.Bucket != "" {
		uploads, err = storage.NewClient(ctx, cfg.Storage)
		if err != nil {
			l.Warnf("uploads disabled: %v", err)
		}
	}

	presence := appredis.NewPresenceStore(redisClient)

	messageService := chat.NewMessageService(reader, msgs, convs, tx, bus, limiter, nil, nil, presence, cfg.Chat, l)
	conversationService := chat.NewConversationService(reader, convs, bus, l)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.VerifyTTL)

	typing := gateway.NewTypingTracker(cfg.Chat.TypingQuietPeriod, bus)
	hub := gateway.NewHub(presence, typing, bus, l)
	go hub.Run(ctx)
	gateway.NewBridge(hub, local, l)

	srv := server.New(cfg, l, messageService.Drain)
	srv.SetupRoutes(&server.Handlers{
		Messages:      handler.NewMessageHandler(messageService),
		Conversations: handler.NewConversationHandler(conversationService, uploads),
		Gateway:       gateway.NewHandler(verifier, hub, typing, messageService, conversationService, l),
	}, verifier)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
