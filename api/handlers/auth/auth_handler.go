package auth

import (
	"errors"
	"net/http"

	response "knowledgehub/api/handlers/common"
	"knowledgehub/internal/auth"
	"knowledgehub/internal/logger"
	"knowledgehub/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	authService *auth.Service
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *auth.Service) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=1,max=100"`
	Email    string `json:"email" binding:"required"`
	FullName string `json:"full_name"`
	Password string `json:"password" binding:"required"`
}

// TokenRequest 登录请求，兼容表单与 JSON
type TokenRequest struct {
	Username string `form:"username" json:"username" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// UserInfo 用户信息
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsAdmin  bool   `json:"is_admin"`
}

// TokenResponse 登录响应
type TokenResponse struct {
	*auth.Token
	User UserInfo `json:"user"`
}

func toUserInfo(u *models.User) UserInfo {
	return UserInfo{ID: u.ID, Username: u.Username, Email: u.Email, FullName: u.FullName, IsAdmin: u.IsAdmin}
}

// Register 用户注册
// @Summary 用户注册
// @Tags Auth
// @Accept json
// @Produce json
// @Router /api/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.CodeBadRequest, "参数错误: "+err.Error())
		return
	}

	user, err := h.authService.Register(c.Request.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		FullName: req.FullName,
		Password: req.Password,
	})
	if err != nil {
		var validation *auth.ValidationError
		switch {
		case errors.As(err, &validation):
			response.Fail(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		case errors.Is(err, models.ErrUserExists):
			response.Fail(c, http.StatusConflict, response.CodeConflict, err.Error())
		default:
			logger.WithContext(c.Request.Context()).Error("注册失败", zap.Error(err))
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "注册失败")
		}
		return
	}

	response.OK(c, http.StatusCreated, "", toUserInfo(user))
}

// Token 用户名密码换取访问令牌
// @Summary 获取访问令牌
// @Tags Auth
// @Accept x-www-form-urlencoded
// @Produce json
// @Router /api/auth/token [post]
func (h *AuthHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		response.Fail(c, http.StatusBadRequest, response.CodeBadRequest, "参数错误: "+err.Error())
		return
	}

	token, user, err := h.authService.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			c.Header("WWW-Authenticate", "Bearer")
			response.Fail(c, http.StatusUnauthorized, response.CodeUnauthorized, err.Error())
		case errors.Is(err, auth.ErrInactiveUser):
			response.Fail(c, http.StatusForbidden, response.CodeForbidden, err.Error())
		default:
			logger.WithContext(c.Request.Context()).Error("登录失败", zap.Error(err))
			response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "登录失败")
		}
		return
	}

	response.OK(c, http.StatusOK, "", TokenResponse{Token: token, User: toUserInfo(user)})
}

// Logout 将当前访问令牌加入黑名单
// @Summary 用户登出
// @Tags Auth
// @Security BearerAuth
// @Router /api/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenString := auth.ExtractTokenFromBearer(c.GetHeader("Authorization"))
	if tokenString != "" {
		if err := h.authService.JWT().InvalidateToken(c.Request.Context(), tokenString); err != nil {
			// 记录错误但不中断登出流程
			logger.WithContext(c.Request.Context()).Warn("令牌加入黑名单失败", zap.Error(err))
		}
	}
	response.OK(c, http.StatusOK, "登出成功", nil)
}

// Me 当前用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	p, ok := auth.GetPrincipal(c)
	if !ok {
		response.Fail(c, http.StatusUnauthorized, response.CodeUnauthorized, "未认证")
		return
	}

	user, err := h.authService.GetUser(c.Request.Context(), p.UserID)
	if err != nil {
		logger.WithContext(c.Request.Context()).Error("查询用户失败", zap.Error(err))
		response.Fail(c, http.StatusInternalServerError, response.CodeInternalError, "查询用户失败")
		return
	}
	if user == nil {
		response.Fail(c, http.StatusNotFound, response.CodeNotFound, "用户不存在")
		return
	}
	response.OK(c, http.StatusOK, "", toUserInfo(user))
}
