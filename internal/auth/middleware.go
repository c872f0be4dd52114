package auth

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKey 上下文键类型
type ContextKey string

// PrincipalContextKey 当前用户上下文键
const PrincipalContextKey ContextKey = "principal"

// Principal 已认证的调用方
type Principal struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Role 角色名
func (p *Principal) Role() string {
	if p.IsAdmin {
		return "admin"
	}
	return "user"
}

func abortUnauthorized(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"code":    "unauthorized",
		"message": message,
	})
}

// AuthMiddleware JWT 认证中间件
func AuthMiddleware(jwtService *JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "缺少认证令牌")
			return
		}

		token := ExtractTokenFromBearer(authHeader)
		if token == "" {
			abortUnauthorized(c, "无效的令牌格式")
			return
		}

		claims, err := jwtService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			abortUnauthorized(c, "令牌验证失败: "+err.Error())
			return
		}

		principal := &Principal{
			UserID:   claims.UserID,
			Username: claims.Username,
			IsAdmin:  claims.IsAdmin,
		}
		c.Set(string(PrincipalContextKey), principal)
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), principal))

		c.Next()
	}
}

// RequireAdmin 要求管理员身份，需放在 AuthMiddleware 之后
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			abortUnauthorized(c, "未认证")
			return
		}
		if !p.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"code":    "forbidden",
				"message": "需要管理员权限",
			})
			return
		}
		c.Next()
	}
}

// GetPrincipal 从 Gin Context 获取当前用户
func GetPrincipal(c *gin.Context) (*Principal, bool) {
	v, exists := c.Get(string(PrincipalContextKey))
	if !exists {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}

// WithPrincipal 在标准 context.Context 中设置当前用户
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalContextKey, p)
}

// PrincipalFromContext 从标准 context.Context 获取当前用户
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok
}
