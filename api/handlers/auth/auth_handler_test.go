package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"knowledgehub/internal/auth"
	"knowledgehub/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type envelope struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:authhandler_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	jwtService := auth.NewJWTService("test-secret", "knowledgehub", time.Minute, nil)
	h := NewAuthHandler(auth.NewService(models.NewUserService(db), jwtService))

	r := gin.New()
	g := r.Group("/api/auth")
	g.POST("/register", h.Register)
	g.POST("/token", h.Token)
	g.POST("/logout", auth.AuthMiddleware(jwtService), h.Logout)
	g.GET("/me", auth.AuthMiddleware(jwtService), h.Me)
	return r
}

func serve(t *testing.T, r *gin.Engine, req *http.Request) (int, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func register(t *testing.T, r *gin.Engine, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return serve(t, r, req)
}

func TestRegisterAndToken(t *testing.T) {
	r := setupRouter(t)

	code, env := register(t, r, `{"username":"alice","email":"alice@example.com","password":"secret123"}`)
	require.Equal(t, http.StatusCreated, code, env.Message)
	var user UserInfo
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "alice", user.Username)
	assert.NotContains(t, string(env.Data), "password")

	code, env = register(t, r, `{"username":"alice","email":"alice2@example.com","password":"secret123"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", env.Code)

	form := url.Values{"username": {"alice"}, "password": {"secret123"}}
	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	code, env = serve(t, r, req)
	require.Equal(t, http.StatusOK, code, env.Message)

	var token TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &token))
	require.NotNil(t, token.Token)
	assert.Equal(t, "bearer", token.TokenType)
	assert.Equal(t, user.ID, token.User.ID)

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	code, env = serve(t, r, req)
	require.Equal(t, http.StatusOK, code)
	var me UserInfo
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "alice@example.com", me.Email)

	req = httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	code, _ = serve(t, r, req)
	assert.Equal(t, http.StatusOK, code)
}

func TestRegisterValidation(t *testing.T) {
	r := setupRouter(t)

	code, env := register(t, r, `{"username":"bob","email":"not-an-email","password":"secret123"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "bad_request", env.Code)

	code, _ = register(t, r, `{"username":"bob"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTokenRejectsBadCredentials(t *testing.T) {
	r := setupRouter(t)
	code, _ := register(t, r, `{"username":"alice","email":"alice@example.com","password":"secret123"}`)
	require.Equal(t, http.StatusCreated, code)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/token", bytes.NewBufferString(`{"username":"alice","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	code, env := serve(t, r, req)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "unauthorized", env.Code)

	code, _ = serve(t, r, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, code)
}
