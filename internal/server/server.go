package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"whiteboard-backend/internal/auth"
	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/handler"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/room"
	"whiteboard-backend/internal/store"
)

// Server Fiber 서버 래퍼
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	manager       *room.Manager
	boardHandler  *handler.BoardHandler
	pollHandler   *handler.PollHandler
	wsHandler     *handler.WSHandler
	healthHandler *handler.HealthHandler
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB, boardStore store.BoardStore, pm *presence.Manager) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Whiteboard Sync Backend",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // WebSocket과 호환성 문제로 비활성화
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		BodyLimit:       2 * 1024 * 1024,
	})

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	manager := room.NewManager(boardStore, cfg.Room)

	return &Server{
		app:           app,
		cfg:           cfg,
		manager:       manager,
		boardHandler:  handler.NewBoardHandler(boardStore, manager, tokens, pm),
		pollHandler:   handler.NewPollHandler(manager, tokens),
		wsHandler:     handler.NewWSHandler(manager, tokens, pm, cfg.WebSocket),
		healthHandler: handler.NewHealthHandler(db),
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORS.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.healthHandler.Check)

	// REST Rate Limiter (웹소켓 경로는 룸의 op 리미터가 담당)
	apiLimiter := limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	api := s.app.Group("/api", apiLimiter)
	api.Post("/boards", s.boardHandler.CreateBoard)
	api.Get("/boards", s.boardHandler.ListBoards)
	api.Post("/boards/:boardId/tokens", s.boardHandler.IssueToken)
	api.Get("/boards/:boardId/checkpoints", s.boardHandler.ListCheckpoints)
	api.Get("/boards/:boardId/replay", s.boardHandler.Replay)
	api.Get("/boards/:boardId/snapshot", s.boardHandler.Snapshot)
	api.Get("/boards/:boardId/presence", s.boardHandler.Presence)
	api.Get("/boards/:boardId/ops", s.pollHandler.PollOps)
	api.Post("/boards/:boardId/ops", s.pollHandler.SubmitOps)
	api.Get("/stats", s.boardHandler.Stats)

	// WebSocket 엔드포인트
	s.app.Use("/ws", handler.UpgradeRequired)
	s.app.Get("/ws/boards/:boardId", websocket.New(s.wsHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Whiteboard sync backend starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/boards/:boardId", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
