package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newProtectedEcho(secret string) *echo.Echo {
	e := echo.New()
	e.Use(JWTMiddleware(secret, func(c echo.Context) bool {
		return c.Request().URL.Path == "/ping"
	}))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	e.GET("/whoami", func(c echo.Context) error {
		subject, err := SubjectFromContext(c)
		if err != nil {
			return err
		}
		return c.String(http.StatusOK, subject)
	})
	return e
}

func TestJWTMiddleware(t *testing.T) {
	t.Parallel()

	e := newProtectedEcho(testSecret)
	token, _, err := GenerateToken("admin", testSecret, time.Hour)
	require.NoError(t, err)
	forged, _, err := GenerateToken("admin", "other-secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target string
		header string
		status int
		body   string
	}{
		{name: "skipped path", target: "/ping", status: http.StatusOK},
		{name: "missing token", target: "/whoami", status: http.StatusUnauthorized},
		{name: "bearer header", target: "/whoami", header: "Bearer " + token, status: http.StatusOK, body: "admin"},
		{name: "query token", target: "/whoami?token=" + token, status: http.StatusOK, body: "admin"},
		{name: "wrong secret", target: "/whoami", header: "Bearer " + forged, status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestJWTMiddlewareDisabledWithoutSecret(t *testing.T) {
	t.Parallel()

	e := newProtectedEcho("")
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Handlers that need a subject still refuse.
	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateTokenValidation(t *testing.T) {
	t.Parallel()

	_, _, err := GenerateToken(" ", testSecret, time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("admin", "", time.Hour)
	assert.Error(t, err)
	_, _, err = GenerateToken("admin", testSecret, 0)
	assert.Error(t, err)
}

func TestRefreshTokenFromContext(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	initial, _, err := GenerateToken("admin", testSecret, 5*time.Minute)
	require.NoError(t, err)
	token, err := jwt.Parse(initial, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	c.Set("user", token)

	// Let the clock move so iat differs.
	time.Sleep(time.Second)

	refreshed, expiresAt, err := RefreshTokenFromContext(c, testSecret, time.Hour)
	require.NoError(t, err)

	parsed, err := jwt.Parse(refreshed, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "admin", claims[claimSubject])

	origClaims := token.Claims.(jwt.MapClaims)
	origIat := int64(origClaims[claimIssuedAt].(float64))
	newIat := int64(claims[claimIssuedAt].(float64))
	newExp := int64(claims[claimExpiresAt].(float64))
	assert.Greater(t, newIat, origIat)
	assert.Equal(t, int64(5*60), newExp-newIat)
	assert.Equal(t, expiresAt.Unix(), newExp)
}

func TestRefreshTokenFromContextMissingUser(t *testing.T) {
	t.Parallel()

	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())

	_, _, err := RefreshTokenFromContext(c, testSecret, time.Hour)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	assert.Equal(t, "invalid token", httpErr.Message)
}
