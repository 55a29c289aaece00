package main

import (
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/agenda-lina-api/internal/handler"
	"github.com/noah-isme/agenda-lina-api/internal/middleware"
	"github.com/noah-isme/agenda-lina-api/internal/models"
	"github.com/noah-isme/agenda-lina-api/pkg/config"
	"github.com/noah-isme/agenda-lina-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/agenda-lina-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/agenda-lina-api/pkg/middleware/requestid"
)

type routeDeps struct {
	auth        *handler.AuthHandler
	grades      *handler.GradeHandler
	reportCards *handler.ReportCardHandler
	metrics     *handler.MetricsHandler
	tokens      middleware.TokenValidator
	observer    middleware.RequestObserver
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.observer))

	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Ready)
	r.GET("/metrics", deps.metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	prefix := "/" + strings.Trim(cfg.APIPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	api := r.Group(prefix)
	api.Use(middleware.WithResponseMeta())
	api.POST("/auth/login", deps.auth.Login)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.tokens))
	secured.GET("/auth/me", deps.auth.Me)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	grades := secured.Group("/grades")
	grades.POST("/entries", staff, deps.grades.RecordGrade)
	grades.POST("/bimester-averages", staff, deps.grades.ComputeBimesterAverage)
	grades.POST("/final-situations", staff, deps.grades.ComputeFinalSituation)
	grades.POST("/recalculate", staff, deps.grades.Recalculate)
	grades.POST("/recovery/simulate", deps.grades.SimulateRecovery)

	ownCard := middleware.RBAC(string(models.RoleAdmin), string(models.RoleTeacher), middleware.Self)
	secured.GET("/report-cards/:"+middleware.StudentParam, ownCard, deps.reportCards.ReportCard)
	secured.GET("/report-cards/:"+middleware.StudentParam+"/export", ownCard, deps.reportCards.Export)
	secured.GET("/classes/:classId/stats", staff, deps.reportCards.ClassStats)

	secured.GET("/metrics/summary", middleware.RequireRoles(models.RoleAdmin), deps.metrics.Summary)

	return r
}
