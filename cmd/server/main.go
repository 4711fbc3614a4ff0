package main

import (
	"context"
	"log"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/database"
	"whiteboard-backend/internal/presence"
	"whiteboard-backend/internal/server"
	"whiteboard-backend/internal/store"
)

func main() {
	// 설정 로드
	cfg := config.Load()

	// 데이터베이스 연결
	db, err := database.ConnectDB()
	if err != nil {
		log.Fatalf("❌ Database connection failed: %v", err)
	}
	defer database.Close()

	// Ping 테스트
	if err := database.Ping(); err != nil {
		log.Fatalf("❌ Database ping failed: %v", err)
	}
	log.Printf("✅ Database connected successfully")

	// Presence 미러 (선택적)
	var pm *presence.Manager
	if cfg.Redis.Enabled {
		pm, err = presence.NewManager(context.Background(), cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("⚠️ Presence mirror disabled: %v", err)
			pm = nil
		} else {
			defer pm.Close()
		}
	} else {
		log.Println("ℹ️ Presence mirror not configured (REDIS_ENABLED=false)")
	}

	boardStore := store.NewGormStore(db)

	// 서버 생성 및 설정
	srv := server.New(cfg, db, boardStore, pm)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	// 서버 시작
	if err := srv.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
