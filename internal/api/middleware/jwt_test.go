package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWTCfg = JWTConfig{
	SigningKey: []byte("test-signing-key-1234567890123456"),
	Issuer:     "musehub",
	ExpiresIn:  time.Hour,
}

func jwtTestRouter(signingKey []byte) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(JWTAuth(signingKey))
	router.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"user_id":  GetUserID(c.Request.Context()),
			"username": GetUsername(c.Request.Context()),
			"roles":    GetRoles(c.Request.Context()),
		})
	})
	return router
}

func TestGenerateToken_RoundTrip(t *testing.T) {
	token, expiresAt, err := GenerateToken(testJWTCfg, "u-1", "ada", []string{"user"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	router := jwtTestRouter(testJWTCfg.SigningKey)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"user_id":"u-1"`)
	assert.Contains(t, w.Body.String(), `"username":"ada"`)
	assert.Contains(t, w.Body.String(), `"user"`)
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	router := jwtTestRouter(testJWTCfg.SigningKey)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing authorization header")
}

func TestJWTAuth_MalformedHeader(t *testing.T) {
	router := jwtTestRouter(testJWTCfg.SigningKey)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token abcdef")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid authorization header format")
}

func TestJWTAuth_WrongKey(t *testing.T) {
	token, _, err := GenerateToken(testJWTCfg, "u-1", "ada", nil)
	require.NoError(t, err)

	router := jwtTestRouter([]byte("a-different-signing-key-987654321"))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid token")
}

func TestJWTAuth_ExpiredToken(t *testing.T) {
	expiredCfg := JWTConfig{
		SigningKey: testJWTCfg.SigningKey,
		Issuer:     "musehub",
		ExpiresIn:  -time.Minute,
	}
	token, _, err := GenerateToken(expiredCfg, "u-1", "ada", nil)
	require.NoError(t, err)

	router := jwtTestRouter(testJWTCfg.SigningKey)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token expired")
}

func TestJWTAuth_RejectsNoneSigningMethod(t *testing.T) {
	now := time.Now()
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, JWTClaims{
		UserID: "u-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "musehub",
			Subject:   "u-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	router := jwtTestRouter(testJWTCfg.SigningKey)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
