package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"knowledgehub/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func setupAuthService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:auth_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	svc := NewService(models.NewUserService(db), NewJWTService("test-secret", "knowledgehub", time.Minute, nil))
	svc.bcryptCost = bcrypt.MinCost
	return svc
}

func TestJWTRoundTrip(t *testing.T) {
	svc := NewJWTService("secret", "knowledgehub", 0, nil)
	token, err := svc.GenerateAccessToken(Principal{UserID: "u1", Username: "alice", IsAdmin: true})
	require.NoError(t, err)
	assert.Equal(t, "bearer", token.TokenType)
	assert.EqualValues(t, 30*60, token.ExpiresIn)

	claims, err := svc.ValidateToken(context.Background(), token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.IsAdmin)
}

func TestJWTRejectsForeignTokens(t *testing.T) {
	issuer := NewJWTService("secret", "knowledgehub", time.Minute, nil)
	token, err := issuer.GenerateAccessToken(Principal{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = NewJWTService("other-secret", "knowledgehub", time.Minute, nil).ValidateToken(context.Background(), token.AccessToken)
	assert.Error(t, err)

	_, err = NewJWTService("secret", "someone-else", time.Minute, nil).ValidateToken(context.Background(), token.AccessToken)
	assert.Error(t, err)
}

func TestJWTRejectsExpiredTokens(t *testing.T) {
	svc := &JWTService{secretKey: []byte("secret"), issuer: "knowledgehub", accessExpiry: -time.Minute}
	token, err := svc.GenerateAccessToken(Principal{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = svc.ValidateToken(context.Background(), token.AccessToken)
	assert.Error(t, err)
}

func TestExtractTokenFromBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractTokenFromBearer("bearer abc"))
	assert.Empty(t, ExtractTokenFromBearer("Basic abc"))
	assert.Empty(t, ExtractTokenFromBearer("abc"))
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	svc := setupAuthService(t)

	user, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "Alice@Example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "secret123", user.HashedPassword)
	assert.True(t, user.IsActive)

	_, err = svc.Register(ctx, RegisterInput{Username: "alice", Email: "other@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, models.ErrUserExists)

	token, loggedIn, err := svc.Login(ctx, "alice", "secret123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	claims, err := svc.JWT().ValidateToken(ctx, token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)

	_, _, err = svc.Login(ctx, "alice", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterValidation(t *testing.T) {
	svc := setupAuthService(t)

	cases := []RegisterInput{
		{Username: "", Email: "a@example.com", Password: "secret123"},
		{Username: "bob", Email: "not-an-email", Password: "secret123"},
		{Username: "bob", Email: "bob@example.com", Password: "123"},
	}
	for _, in := range cases {
		_, err := svc.Register(context.Background(), in)
		var validation *ValidationError
		assert.ErrorAs(t, err, &validation, "%+v", in)
	}
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	jwtService := NewJWTService("secret", "knowledgehub", time.Minute, nil)

	r := gin.New()
	r.GET("/me", AuthMiddleware(jwtService), func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		require.True(t, ok)
		fromCtx, ok := PrincipalFromContext(c.Request.Context())
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user": p.Username, "ctx_user": fromCtx.UserID, "role": p.Role()})
	})
	r.GET("/admin", AuthMiddleware(jwtService), RequireAdmin(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	token, err := jwtService.GenerateAccessToken(Principal{UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"unauthorized"`)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"alice","ctx_user":"u1","role":"user"}`, w.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
