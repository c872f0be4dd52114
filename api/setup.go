package api

import (
	_ "knowledgehub/api/docs"
	"knowledgehub/internal/metrics"
	middlewarepkg "knowledgehub/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// SetupRouter 创建路由并挂载全局中间件
func SetupRouter(container *AppContainer) *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middlewarepkg.RequestIDMiddleware())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())
	if container.GlobalLimiter != nil {
		router.Use(middlewarepkg.RateLimitMiddleware(container.GlobalLimiter))
	}

	// 上传表单内存缓冲上限，超出部分写临时文件
	router.MaxMultipartMemory = 32 << 20

	router.GET("/", Welcome)
	router.GET("/health", HealthCheck())
	router.GET("/ready", ReadinessCheck(container.DB, container.RedisClient))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger 文档
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	RegisterRoutes(router, container, container.InitHandlers())
	return router
}
