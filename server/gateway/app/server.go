package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	commonauth "chat_server/server/common/auth"
	"chat_server/server/common/infra/cache"
	"chat_server/server/common/infra/db"
	"chat_server/server/common/infra/mq"
	"chat_server/server/common/infra/object"
	commonlog "chat_server/server/common/log"
	"chat_server/server/gateway/api"
	gatewayservice "chat_server/server/gateway/service"
	mediaservice "chat_server/server/media/service"
	"chat_server/server/storage/repository"
)

type Server struct {
	HTTPServer *http.Server
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	MQConn     *amqp.Connection
	Events     *gatewayservice.EventPublisher
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("initialize postgres: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = cache.NewClient(cfg.RedisAddr)
		if err := cache.Ping(ctx, redisClient); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	var (
		mqConn *amqp.Connection
		events *gatewayservice.EventPublisher
	)
	if cfg.UseMQ {
		mqConn, err = mq.NewConnection(cfg.LavinMQURL)
		if err != nil {
			return nil, fmt.Errorf("initialize lavinmq: %w", err)
		}
		events, err = gatewayservice.NewEventPublisher(mqConn)
		if err != nil {
			return nil, fmt.Errorf("initialize event publisher: %w", err)
		}
	}

	objectClient, err := object.NewClient(cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOUseSSL)
	if err != nil {
		return nil, fmt.Errorf("initialize object storage: %w", err)
	}
	if err := object.EnsureBucket(ctx, objectClient, cfg.MinIOBucket); err != nil {
		commonlog.Warnf("event=object_storage action=ensure_bucket status=failed bucket=%s error=%v", cfg.MinIOBucket, err)
	}

	messages := repository.NewMessageRepository(pool)
	users := repository.NewUserRepository(pool)
	fileRepo := repository.NewFileRepository(pool)

	sideCache := gatewayservice.NewCache(redisClient)
	presence := gatewayservice.NewPresenceRegistry()
	rooms := gatewayservice.NewRoomIndex(messages)
	relay := gatewayservice.NewSignalRelay(presence, rooms)
	delivery := gatewayservice.NewDeliveryService(messages, presence, rooms, events, sideCache)
	auth := commonauth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	sessions := gatewayservice.NewSessionManager(auth, messages, presence, rooms, sideCache, cfg.LoadTimeout)
	files := mediaservice.NewFileService(fileRepo, objectClient, cfg.MinIOBucket)

	h := api.NewHandler(sessions, delivery, relay, rooms, users, files, auth, cfg.SendBufferSize)
	r := gin.Default()
	h.RegisterRoutes(r)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer: httpServer,
		Pool:       pool,
		Redis:      redisClient,
		MQConn:     mqConn,
		Events:     events,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.Events != nil {
		s.Events.Close()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}
