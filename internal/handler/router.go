package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragpipe/internal/middleware"
	"github.com/xxxsen/ragpipe/internal/pkg/response"
)

const serviceName = "rag-api"

type RouterDeps struct {
	Tasks          *TaskHandler
	Query          *QueryHandler
	AdminSecret    []byte
	ServiceToken   string
	QueryRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", Health)

	tasks := api.Group("/embedding-tasks")
	tasks.Use(middleware.OptionalAdmin(deps.AdminSecret, deps.ServiceToken))
	tasks.POST("", deps.Tasks.Create)
	tasks.POST("/upload", deps.Tasks.Upload)
	tasks.GET("", deps.Tasks.List)
	tasks.GET("/:id", deps.Tasks.Get)
	tasks.PUT("/:id", deps.Tasks.Update)
	tasks.POST("/:id/retry", deps.Tasks.Retry)
	tasks.DELETE("/:id", middleware.RequireAdmin(deps.AdminSecret), deps.Tasks.Delete)

	limiter := middleware.RateLimit(deps.QueryRateLimit)
	api.POST("/search", limiter, deps.Query.Search)
	api.POST("/query", limiter, deps.Query.Query)
}

func Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok", "service": serviceName})
}
