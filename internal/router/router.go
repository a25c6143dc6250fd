package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stemsi/exstem-agent/internal/config"
	"github.com/stemsi/exstem-agent/internal/handler"
	"github.com/stemsi/exstem-agent/internal/middleware"
	"github.com/stemsi/exstem-agent/internal/response"
	"github.com/stemsi/exstem-agent/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Exam   *handler.ExamHandler
	WS     *handler.WSHandler
	System *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// limiter guards the per-answer routes; nil disables it.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	limiter *middleware.RateLimiter,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// ─── 0. System (No Auth) ───────────────────────────────────────────
	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ─── 1. Student API (JWT) ──────────────────────────────────────────
	api := router.Group("/api/v1")
	api.Use(middleware.RequireStudentJWT(authService), middleware.NoStore())
	{
		api.GET("/topics", handlers.Exam.ListTopics)
		api.GET("/stats", handlers.Exam.GetStats)

		api.GET("/recovery", handlers.Exam.ListRecovery)
		api.DELETE("/recovery/:exam_id", handlers.Exam.DiscardRecovery)

		api.POST("/exams", handlers.Exam.EnterExam)
		api.GET("/exams/:exam_id", handlers.Exam.GetExam)
		api.POST("/exams/:exam_id/recovery", handlers.Exam.ResolveRecovery)
		api.POST("/exams/:exam_id/save", handlers.Exam.SaveNow)
		api.POST("/exams/:exam_id/leave", handlers.Exam.LeaveExam)
		api.POST("/exams/:exam_id/submit", handlers.Exam.SubmitExam)

		// Answer and navigation calls fire on every click.
		interactive := api.Group("/exams/:exam_id")
		if limiter != nil {
			interactive.Use(limiter.Middleware())
		}
		interactive.PUT("/answers/:question_id", handlers.Exam.SelectAnswer)
		interactive.POST("/navigate", handlers.Exam.Navigate)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/exams/:exam_id/stream", handlers.WS.ExamStream)
	}

	return router
}
