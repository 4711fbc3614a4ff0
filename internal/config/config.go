package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 애플리케이션 전체 설정
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Room      RoomConfig
	CORS      CORSConfig
	Redis     RedisConfig
}

// ServerConfig HTTP 서버 설정
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WebSocketConfig WebSocket 관련 설정
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
}

// AuthConfig 인증 설정
type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// RoomConfig 보드 룸 동작 설정
type RoomConfig struct {
	SnapshotInterval int
	GracePeriod      time.Duration
	RecentOpsCap     int
	RecentOpsTrim    int
}

// CORSConfig CORS 설정
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// RedisConfig Redis 설정 (presence mirror, 비활성화 가능)
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// Load 환경 변수에서 설정 로드
func Load() *Config {
	// .env 파일 로드 (없어도 에러 무시)
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	// 필수 환경 변수 검증
	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("🚨 CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
			PingInterval:     getDuration("WS_PING_INTERVAL", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:   jwtSecret,
			TokenExpiry: getDuration("TOKEN_EXPIRY", 24*time.Hour),
		},
		Room: RoomConfig{
			SnapshotInterval: getInt("SNAPSHOT_INTERVAL", 50),
			GracePeriod:      getDuration("ROOM_GRACE_PERIOD", 30*time.Second),
			RecentOpsCap:     getInt("RECENT_OPS_CAP", 500),
			RecentOpsTrim:    getInt("RECENT_OPS_TRIM", 250),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept"),
		},
		Redis: RedisConfig{
			Enabled:  getBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
		},
	}
}

// getRequiredEnv 필수 환경 변수 조회 (없으면 Fatal)
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("🚨 CRITICAL: Required environment variable %s is not set!", key)
	}
	return value
}

// getEnv 환경 변수 조회 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getInt 정수형 환경 변수 조회
func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getBool 불리언 환경 변수 조회
func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration 시간 환경 변수 조회
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// 숫자만 있으면 초로 간주
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
