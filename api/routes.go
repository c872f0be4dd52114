package api

import (
	"knowledgehub/internal/auth"
	middlewarepkg "knowledgehub/internal/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, container *AppContainer, handlers *Handlers) {
	requireAuth := auth.AuthMiddleware(container.JWTService)

	registerAuthRoutes(router, handlers, requireAuth)

	api := router.Group("/api")
	registerKnowledgeRoutes(api, container, handlers, requireAuth)
}

// registerAuthRoutes 注册认证相关路由
func registerAuthRoutes(router *gin.Engine, h *Handlers, requireAuth gin.HandlerFunc) {
	authGroup := router.Group("/api/auth")
	{
		authGroup.POST("/register", h.Auth.Register)
		authGroup.POST("/token", h.Auth.Token)
		authGroup.POST("/logout", requireAuth, h.Auth.Logout)
		authGroup.GET("/me", requireAuth, h.Auth.Me)
	}
}

// registerKnowledgeRoutes 知识库路由，读接口公开，写接口需要登录
func registerKnowledgeRoutes(apiGroup *gin.RouterGroup, c *AppContainer, h *Handlers, requireAuth gin.HandlerFunc) {
	kb := apiGroup.Group("/knowledgebases")
	{
		kb.GET("", h.Knowledge.List)
		kb.GET("/:kb_id", h.Knowledge.Get)
		kb.GET("/:kb_id/files", h.Knowledge.ListFiles)
	}

	// 抓取与同步耗时长，按用户与路由额外限流
	limit := func(ctx *gin.Context) { ctx.Next() }
	if c.RateLimiter != nil {
		limit = middlewarepkg.RateLimitByEndpoint(c.RateLimiter)
	}

	authed := kb.Group("", requireAuth)
	{
		authed.POST("", h.Knowledge.Create)
		authed.DELETE("/:kb_id", h.Knowledge.Delete)
		authed.POST("/:kb_id/upload", h.Knowledge.Upload)
		authed.DELETE("/:kb_id/files/:file_id", h.Knowledge.DeleteFile)
	}
	kb.POST("/:kb_id/url", requireAuth, limit, h.Knowledge.IngestURL)
	kb.POST("/:kb_id/sync", requireAuth, limit, h.Knowledge.Sync)
}
