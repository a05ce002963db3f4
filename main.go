package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"community-chat-service/internal/auth"
	"community-chat-service/internal/db"
	"community-chat-service/internal/handlers"
	"community-chat-service/internal/middleware"
	"community-chat-service/internal/observability"
	"community-chat-service/internal/rabbitmq"
	"community-chat-service/internal/repositories"
	"community-chat-service/internal/telemetry"
	"community-chat-service/internal/ws"
)

const serviceName = "community-chat-service"

func main() {
	shutdownTracing, err := telemetry.InitTracing(context.Background(), serviceName)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	publisher := rabbitmq.NewPublisher(os.Getenv("AMQP_URL"), getEnv("AMQP_EXCHANGE", "chat_events"))
	defer publisher.Close()
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)

	audit := telemetry.NewAuditEmitter(publisher, "audit_log.chat", serviceName, getEnv("ENVIRONMENT", "development"))

	verifier := auth.NewVerifier(getEnv("JWT_SECRET", "dev-secret"))

	messageRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	hub := ws.NewHub()

	chatHandler := handlers.NewChatHandler(messageRepo, userRepo, hub, audit)
	chatWS := ws.NewChatWebSocketHandler(hub, messageRepo, userRepo, verifier)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/conversations", authMiddleware, chatHandler.ListConversations)
	router.GET("/messages/:counterpart_id", authMiddleware, chatHandler.GetMessages)
	router.POST("/send", authMiddleware, chatHandler.SendMessage)

	router.GET("/ws/chat", chatWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	handlers.RegisterDebugRoutes(router, audit, os.Getenv("DEBUG_ROUTES") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
