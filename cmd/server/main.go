package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-server/internal/auth"
	"chat-server/internal/chat"
	"chat-server/internal/config"
	"chat-server/internal/database"
	"chat-server/internal/handlers"
	ws "chat-server/internal/websocket"
	"chat-server/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize services
	authService := auth.NewService(db, cfg)

	// Initialize the connection hub and delivery pipeline, then wire the
	// hub's callbacks into the pipeline.
	hub := ws.NewHub(
		ws.WithSendQueueSize(cfg.WebSocket.SendQueueSize),
		ws.WithCloseTimeout(cfg.WebSocket.CloseTimeout),
		ws.WithTypingTimeout(cfg.WebSocket.TypingTimeout),
	)
	chatService := chat.NewService(db, hub, logger.GlobalLogger)
	hub.SetHandler(chatService)
	hub.OnPresenceChange(chatService.PresenceChanged)
	hub.OnConnect(chatService.ConnectionOpened)
	hub.Typing().OnTransition(chatService.TypingChanged)

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService)
	chatHandlers := handlers.NewChatHandlers(authService, db)
	wsHandlers := handlers.NewWebSocketHandlers(authService, hub)

	// Setup routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}))

	r.Post("/login", authHandlers.Login)
	r.Post("/register", authHandlers.Register)
	r.Get("/api/rooms/{roomID}/messages", chatHandlers.GetRoomMessages)
	r.Get("/ws", wsHandlers.HandleWebSocket)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown: %v", err)
	}
	hub.Close()
}
