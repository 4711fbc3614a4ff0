package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HealthHandler 헬스체크 핸들러
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// ComponentCheck 컴포넌트 상태
type ComponentCheck struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Check reports overall health. The process is degraded, not down, when the
// database is unreachable: live rooms keep serving from memory.
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	checks := map[string]ComponentCheck{}
	status := "healthy"

	start := time.Now()
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		checks["database"] = ComponentCheck{Status: "down", Error: err.Error()}
		status = "degraded"
	} else {
		checks["database"] = ComponentCheck{Status: "up", Latency: time.Since(start).String()}
	}

	code := fiber.StatusOK
	if status != "healthy" {
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}
