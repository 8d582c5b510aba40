package httpapi

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/smartward/backend/internal/config"
	"github.com/smartward/backend/internal/http/handlers"
	"github.com/smartward/backend/internal/http/middleware"
	"github.com/smartward/backend/internal/models"

	_ "github.com/smartward/backend/docs"
)

func Router(cfg config.Config, issues handlers.Issues, store handlers.Pinger, events handlers.EventStream, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-Id"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = splitOrigins(cfg.CORSAllowed)
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Issues:    issues,
		Store:     store,
		Events:    events,
		Validator: validator.New(),
		Logger:    logger,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	api.Use(middleware.Auth(cfg.JWTSecret))
	{
		api.POST("/issues", h.CreateIssue)
		api.GET("/issues", h.ListIssues)
		api.GET("/issues/:id", h.GetIssue)
		api.GET("/issues/:id/history", h.IssueHistory)
		api.GET("/issues/:id/duplicates", h.IssueDuplicates)
		api.GET("/events", h.StreamEvents)
	}

	workers := api.Group("")
	workers.Use(middleware.RequireRole(models.UserRoleManagement, models.UserRoleAdmin, models.UserRoleStaff))
	{
		workers.PATCH("/issues/:id/status", h.UpdateStatus)
	}

	management := api.Group("")
	management.Use(middleware.RequireRole(models.UserRoleManagement, models.UserRoleAdmin))
	{
		management.POST("/issues/:id/assign", h.AssignIssue)
		management.POST("/issues/:id/merge", h.MergeIssue)
		management.GET("/issues/:id/recommendations", h.Recommendations)
		management.DELETE("/issues/:id", h.DeleteIssue)
		management.GET("/staff", h.ListStaff)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
