package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/yoockh/talkspace/config"
	"github.com/yoockh/talkspace/internal/api/handlers"
	"github.com/yoockh/talkspace/internal/api/middleware"
	"github.com/yoockh/talkspace/internal/api/routes"
	"github.com/yoockh/talkspace/internal/cache"
	"github.com/yoockh/talkspace/internal/events"
	"github.com/yoockh/talkspace/internal/locks"
	"github.com/yoockh/talkspace/internal/logger"
	"github.com/yoockh/talkspace/internal/models"
	mongorepo "github.com/yoockh/talkspace/internal/repositories/mongo"
	pgrepo "github.com/yoockh/talkspace/internal/repositories/postgres"
	"github.com/yoockh/talkspace/internal/services"
	"github.com/yoockh/talkspace/internal/workers"
)

func main() {
	_ = godotenv.Load()

	l := logger.New()

	if err := config.InitMongo(); err != nil {
		log.Fatalf("MongoDB init error: %v", err)
	}
	l.Info("MongoDB connected")

	if err := config.EnsureMongoIndexes(); err != nil {
		log.Fatalf("MongoDB index error: %v", err)
	}

	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	l.Info("PostgreSQL connected")

	if err := config.PostgresDB.AutoMigrate(&models.Profile{}); err != nil {
		log.Fatalf("PostgreSQL migrate error: %v", err)
	}

	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	l.Info("Redis connected")

	// repositories
	sessionRepo := mongorepo.NewSessionRepo(config.MongoDatabase())
	profileRepo := pgrepo.NewProfileRepo(config.PostgresDB)

	// core
	km := locks.NewKeyedMutex()
	pub := events.NewRedisPublisher(config.RedisClient, l)
	redisCache := cache.NewRedisCache(config.RedisClient)

	sessionSvc := services.NewSessionService(sessionRepo, km, pub, l)
	chatSvc := services.NewChatService(sessionRepo, km, pub)
	gameSvc := services.NewGameService(sessionRepo, km, pub)
	lectureSvc := services.NewLectureService(sessionRepo, km, pub)
	matchSvc := services.NewMatchService(profileRepo, sessionRepo, sessionSvc, redisCache, l)
	profileSvc := services.NewProfileService(profileRepo)

	reaper := &workers.Reaper{
		Sessions: sessionRepo,
		Engine:   sessionSvc,
		Logger:   l,
		Interval: 5 * time.Minute,
		MaxAge:   time.Hour,
	}
	if err := reaper.Start(context.Background()); err != nil {
		log.Fatalf("reaper start error: %v", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(l))

	routes.RegisterRoutes(r, routes.Deps{
		Session: handlers.NewSessionHandler(sessionSvc),
		Chat:    handlers.NewChatHandler(chatSvc),
		Game:    handlers.NewGameHandler(gameSvc),
		Lecture: handlers.NewLectureHandler(lectureSvc),
		Match:   handlers.NewMatchHandler(matchSvc),
		Profile: handlers.NewProfileHandler(profileSvc),
		WS:      handlers.NewWSHandler(sessionSvc, config.RedisClient),
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
