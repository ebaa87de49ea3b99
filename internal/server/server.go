package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spacechat/internal/auth"
	"spacechat/internal/config"
	"spacechat/internal/gateway"
	"spacechat/internal/handler"
	"spacechat/internal/middleware"
	"spacechat/internal/transport/httpdto"
	"spacechat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger

	// drain runs after the listener stops accepting, before exit.
	drain func()
}

var (
	ReleaseMode = "release"
	TestMode    = "test"
)

type Handlers struct {
	Messages      *handler.MessageHandler
	Conversations *handler.ConversationHandler
	Gateway       *gateway.Handler
}

func New(cfg *config.Config, l *logger.Logger, drain func()) *Server {
	if cfg.Server.Environment == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.Server.Environment == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
			Handler: engine,
		},
		engine: engine,
		config: cfg,
		logger: l,
		drain:  drain,
	}
}

func (s *Server) SetupRoutes(handlers *Handlers, verifier *auth.Verifier) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/ws", handlers.Gateway.Connect)

	authed := s.engine.Group("/v1", middleware.AuthMiddleware(verifier))
	{
		conversations := authed.Group("/conversations")
		{
			conversations.GET("", handlers.Conversations.List)
			conversations.POST("", handlers.Conversations.Create)
			conversations.GET("/:ref", handlers.Conversations.Get)
			conversations.GET("/:ref/messages", handlers.Messages.List)
			conversations.POST("/:ref/messages/read", handlers.Messages.MarkRead)
		}

		managed := authed.Group("/conversations-admin")
		{
			managed.PATCH("/:id", handlers.Conversations.Update)
			managed.GET("/:id/participants", handlers.Conversations.Participants)
			managed.POST("/:id/participants", handlers.Conversations.AddParticipant)
			managed.DELETE("/:id/participants/:userId", handlers.Conversations.RemoveParticipant)
			managed.POST("/:id/leave", handlers.Conversations.Leave)
		}

		messages := authed.Group("/messages")
		{
			messages.POST("", handlers.Messages.Send)
			messages.GET("/search", handlers.Messages.Search)
			messages.GET("/resolve", handlers.Messages.Resolve)
			messages.GET("/:id", handlers.Messages.Get)
			messages.PATCH("/:id", handlers.Messages.Edit)
			messages.DELETE("/:id", handlers.Messages.Delete)
			messages.POST("/:id/forward", handlers.Messages.Forward)
			messages.POST("/:id/reactions", handlers.Messages.React)
			messages.GET("/:id/reactions", handlers.Messages.Reactions)
			messages.DELETE("/:id/reactions", handlers.Messages.Unreact)
		}

		authed.POST("/uploads/presign", handlers.Conversations.PresignUpload)
	}
}

func (s *Server) Start() error {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("Error in starting the server: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	s.logger.Infof("Server is running on :%s", s.config.Server.Port)

	<-quit

	s.logger.Infof("Quitting signal received.. Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		return err
	}

	// Already-accepted sends finish persisting before exit.
	if s.drain != nil {
		s.drain()
	}

	s.logger.Infof("Server stopped gracefully")
	return nil
}
