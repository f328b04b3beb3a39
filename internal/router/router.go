package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/sebgate/internal/config"
	"github.com/stemsi/sebgate/internal/handler"
	"github.com/stemsi/sebgate/internal/middleware"
	"github.com/stemsi/sebgate/internal/model"
	"github.com/stemsi/sebgate/internal/response"
	"github.com/stemsi/sebgate/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Quiz        *handler.QuizHandler
	SebSettings *handler.SebSettingsHandler
	Template    *handler.TemplateHandler
	WS          *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	sebGate *middleware.SebGate,
	handlers *Handlers,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group (Public) ────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/admin/login", handlers.Auth.AdminLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/admin/me", middleware.RequireAdminJWT(authService), handlers.Auth.GetAdminProfile)
	}

	// ─── 2. Student Group (JWT + Single Device) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		// The config download is deliberately outside the SEB gate: students
		// fetch the .seb file from a normal browser to launch SEB with it.
		studentAPI.GET("/quizzes/:id/seb-config", handlers.SebSettings.DownloadConfig)

		// Everything that exposes quiz content sits behind the gate.
		studentAPI.GET("/quizzes/:id", sebGate.Guard("id"), handlers.Quiz.GetPaper)
		studentAPI.POST("/quizzes/:id/finish", sebGate.Guard("id"), handlers.Quiz.Finish)
	}

	// ─── 3. WebSocket Group (Admin WS Auth) ────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireAdminWSAuth(authService))
	{
		ws.GET("/admin/quizzes/:id/seb-denials",
			middleware.RequirePermission(string(model.PermissionSebMonitor)),
			handlers.WS.SebDenialStream,
		)
	}

	// ─── 4. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		// Quiz management
		adminAPI.GET("/quizzes",
			middleware.RequirePermission(string(model.PermissionQuizzesRead)),
			handlers.Quiz.List,
		)
		adminAPI.POST("/quizzes",
			middleware.RequirePermission(string(model.PermissionQuizzesWrite)),
			handlers.Quiz.Create,
		)
		adminAPI.DELETE("/quizzes/:id",
			middleware.RequirePermission(string(model.PermissionQuizzesWrite)),
			handlers.Quiz.Delete,
		)

		// Per-quiz SEB settings
		adminAPI.GET("/quizzes/:id/seb-settings",
			middleware.RequirePermission(string(model.PermissionSebSettingsRead)),
			handlers.SebSettings.GetSettings,
		)
		adminAPI.PUT("/quizzes/:id/seb-settings",
			middleware.RequirePermission(string(model.PermissionSebSettingsWrite)),
			handlers.SebSettings.SaveSettings,
		)
		adminAPI.DELETE("/quizzes/:id/seb-settings",
			middleware.RequirePermission(string(model.PermissionSebSettingsWrite)),
			handlers.SebSettings.DeleteSettings,
		)

		// Uploaded .seb configuration files
		adminAPI.POST("/quizzes/:id/seb-config",
			middleware.RequirePermission(string(model.PermissionSebSettingsWrite)),
			handlers.SebSettings.UploadConfig,
		)
		adminAPI.DELETE("/quizzes/:id/seb-config",
			middleware.RequirePermission(string(model.PermissionSebSettingsWrite)),
			handlers.SebSettings.DeleteConfig,
		)

		// SEB templates
		templatesGroup := adminAPI.Group("/seb-templates")
		{
			templatesGroup.GET("", middleware.RequirePermission(string(model.PermissionSebTemplatesRead)), handlers.Template.List)
			templatesGroup.GET("/:template_id", middleware.RequirePermission(string(model.PermissionSebTemplatesRead)), handlers.Template.Get)
			templatesGroup.POST("", middleware.RequirePermission(string(model.PermissionSebTemplatesWrite)), handlers.Template.Create)
			templatesGroup.PUT("/:template_id", middleware.RequirePermission(string(model.PermissionSebTemplatesWrite)), handlers.Template.Update)
			templatesGroup.DELETE("/:template_id", middleware.RequirePermission(string(model.PermissionSebTemplatesWrite)), handlers.Template.Delete)
		}
	}

	return router
}
